package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init <iteration> [description...]",
	Short: "Create a new iteration",
	Long: `Init creates an iteration in the refinement phase and keeps the
.roundtable state directory out of the repository's commits.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInit,
}

var initMaxTurns int

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().IntVar(&initMaxTurns, "max-turns", 0, "agent turn budget of the iteration (default from session.max_turns)")
}

func runInit(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.orch.Init(cmd.Context(), args[0], strings.Join(args[1:], " "), initMaxTurns)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created iteration %s (phase %s, %d turns)\n", st.ID, st.Phase, st.MaxTurns)
	return nil
}
