package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roundtable/internal/tui"
)

var checkpointCmd = &cobra.Command{
	Use:     "checkpoint",
	Aliases: []string{"cp"},
	Short:   "Create, list and restore checkpoints",
	Long: `Checkpoints are numbered snapshots of an iteration's state directory:
its state, conversation log and approvals. Run, continue and advance take one
automatically before they change anything.`,
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create <iteration> [description...]",
	Short: "Snapshot the iteration now",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheckpointCreate,
}

var checkpointListCmd = &cobra.Command{
	Use:   "list <iteration>",
	Short: "List checkpoints, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointList,
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <iteration> <number>",
	Short: "Return the iteration to a checkpoint",
	Long: `Restore replaces the iteration's state, conversation log and approvals
with those of the checkpoint. Git branches and sandbox worktrees are not
touched. Checkpoint numbers keep counting up after a restore.`,
	Args: cobra.ExactArgs(2),
	RunE: runCheckpointRestore,
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointRestoreCmd)
}

func runCheckpointCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	description := strings.Join(args[1:], " ")
	if description == "" {
		description = "manual checkpoint"
	}
	_, err = a.orch.Checkpoint(cmd.Context(), args[0], description)
	return err
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	metas, err := a.orch.Checkpoints(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(metas) == 0 {
		fmt.Fprintln(out, "No checkpoints.")
		return nil
	}
	for _, m := range metas {
		fmt.Fprintf(out, "%4d  %-16s %-7s turns %d/%d  %s  %s\n",
			m.Number, m.Phase, m.Trigger, m.TurnCount, m.MaxTurns,
			m.CreatedAt.Local().Format("2006-01-02 15:04:05"), tui.Truncate(m.Description, 50))
	}
	return nil
}

func runCheckpointRestore(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return fmt.Errorf("invalid checkpoint number %q", args[1])
	}

	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	_, err = a.orch.Restore(cmd.Context(), args[0], n)
	return err
}
