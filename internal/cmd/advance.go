package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var advanceCmd = &cobra.Command{
	Use:   "advance <iteration>",
	Short: "Move to the next phase or implementation layer",
	Long: `Advance moves the iteration one step forward. Leaving planning layers
the recorded tasks; entering implementation creates a sandbox worktree per
assignee of the first layer. A layer is only left once every sandbox branch
is merged or abandoned.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdvance,
}

func init() {
	rootCmd.AddCommand(advanceCmd)
}

func runAdvance(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.orch.Advance(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	// The boundary and the new sandboxes print as events
	if res.Done {
		fmt.Fprintf(cmd.OutOrStdout(), "Iteration %s is done\n", args[0])
	}
	return nil
}
