package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <iteration> [agent]",
	Short: "Merge sandbox branches of the current layer",
	Long: `Merge commits outstanding work in the current layer's sandboxes and
merges their branches into the repository, one agent or all of them. A
conflicted merge is aborted and the branch left for you to resolve or
abandon.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runMerge,
}

var abandonCmd = &cobra.Command{
	Use:   "abandon <iteration> <agent>",
	Short: "Give up an agent's sandbox branch of the current layer",
	Long: `Abandon removes the agent's sandbox worktree without merging it so the
layer can be advanced. The branch itself is kept.`,
	Args: cobra.ExactArgs(2),
	RunE: runAbandon,
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(abandonCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	agent := ""
	if len(args) == 2 {
		agent = args[1]
	}
	// Merge and conflict events print as they happen
	_, err = a.orch.Merge(cmd.Context(), args[0], agent)
	return err
}

func runAbandon(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	b, err := a.orch.Abandon(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Abandoned %s (branch kept)\n", b.Branch)
	return nil
}
