package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roundtable/internal/orchestrator"
	"github.com/Iron-Ham/roundtable/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status [iteration]",
	Short: "Show iteration status",
	Long: `Status prints the phase, turn count, sandboxes and pending work of an
iteration. Without an argument every iteration is listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		report, err := a.orch.Status(args[0])
		if err != nil {
			return err
		}
		printStatus(out, report)
		return nil
	}

	ids, err := a.orch.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No iterations. Create one with 'roundtable init <iteration>'.")
		return nil
	}
	for _, id := range ids {
		report, err := a.orch.Status(id)
		if err != nil {
			a.logger.Warn("skipping unreadable iteration", "iteration", id, "error", err)
			fmt.Fprintf(out, "%s [unreadable] %v\n", id, err)
			continue
		}
		fmt.Fprintln(out, report.String())
	}
	return nil
}

func printStatus(out io.Writer, r *orchestrator.StatusReport) {
	st := r.State
	fmt.Fprintln(out, r.String())
	if st.Description != "" {
		fmt.Fprintf(out, "  %s\n", st.Description)
	}
	fmt.Fprintf(out, "  messages: %d  checkpoints: %d  pending approvals: %d\n", r.Messages, r.Checkpoints, r.PendingApprovals)
	if r.Question != "" {
		fmt.Fprintf(out, "  waiting for your reply: %s\n", r.Question)
		fmt.Fprintf(out, "  answer with: roundtable continue %s --reply \"...\"\n", st.ID)
	}
	if len(st.Tasks) > 0 {
		fmt.Fprintf(out, "\nTasks:\n")
		for _, t := range st.Tasks {
			layer := "-"
			if t.Layer != nil {
				layer = fmt.Sprint(*t.Layer)
			}
			fmt.Fprintf(out, "  %-10s %-10s layer %-3s %s\n", t.ID, t.Assignee, layer, tui.Truncate(t.Description, 60))
		}
	}
	if len(st.Sandboxes) > 0 {
		fmt.Fprintf(out, "\nSandboxes:\n")
		for _, sb := range st.Sandboxes {
			fmt.Fprintf(out, "  %-10s %-11s %s\n", sb.Agent, sb.Status, sb.Branch)
			for _, f := range sb.ConflictFiles {
				fmt.Fprintf(out, "    conflict: %s\n", f)
			}
		}
	}
}
