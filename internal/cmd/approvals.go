package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Decide file writes held for approval",
	Long: `Writes outside the allowed paths are held until a human approves or
denies them. A session will not start while any are pending. Requests can be
named by a unique prefix of their id.`,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list <iteration>",
	Short: "List approval requests",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprovalsList,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <iteration> <request>",
	Short: "Apply a held write",
	Args:  cobra.ExactArgs(2),
	RunE:  runApprovalsResolve(true),
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny <iteration> <request>",
	Short: "Reject a held write",
	Args:  cobra.ExactArgs(2),
	RunE:  runApprovalsResolve(false),
}

var (
	approveNote string
	denyNote    string
)

func init() {
	rootCmd.AddCommand(approvalsCmd)
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsDenyCmd)

	approvalsApproveCmd.Flags().StringVar(&approveNote, "note", "", "note recorded with the decision")
	approvalsDenyCmd.Flags().StringVar(&denyNote, "note", "", "note recorded with the decision")
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	reqs, err := a.orch.Approvals(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(reqs) == 0 {
		fmt.Fprintln(out, "No approval requests.")
		return nil
	}
	for _, r := range reqs {
		fmt.Fprintf(out, "%-8s  %-8s  %-10s %s\n", shortRequestID(r.ID), r.Status, r.Agent, r.Path)
		if r.Note != "" {
			fmt.Fprintf(out, "          note: %s\n", r.Note)
		}
	}
	return nil
}

func runApprovalsResolve(approve bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.close()

		if approve {
			_, err = a.orch.Approve(cmd.Context(), args[0], args[1], approveNote)
		} else {
			_, err = a.orch.Deny(cmd.Context(), args[0], args[1], denyNote)
		}
		return err
	}
}

func shortRequestID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
