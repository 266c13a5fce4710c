package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roundtable/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run <iteration>",
	Short: "Run a session of the current phase",
	Long: `Run drives the round-robin conversation of the iteration's current
phase until the coach asks a question, the phase completes, the turn budget
runs out, approvals are pending or a model call fails. An automatic
checkpoint is taken first.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var continueCmd = &cobra.Command{
	Use:   "continue <iteration>",
	Short: "Resume a paused session",
	Long: `Continue resumes the current phase. With --reply the answer to the
coach's pending question is recorded before the first turn.`,
	Args: cobra.ExactArgs(1),
	RunE: runContinue,
}

var (
	runReply         string
	runParallel      bool
	continueReply    string
	continueParallel bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(continueCmd)

	runCmd.Flags().StringVar(&runReply, "reply", "", "human reply recorded before the first turn")
	runCmd.Flags().BoolVar(&runParallel, "parallel", false, "run each implementation assignee in its own lane")
	continueCmd.Flags().StringVarP(&continueReply, "reply", "r", "", "answer to the coach's pending question")
	continueCmd.Flags().BoolVar(&continueParallel, "parallel", false, "run each implementation assignee in its own lane")
}

func runRun(cmd *cobra.Command, args []string) error {
	return runSession(cmd, args[0], orchestrator.RunOptions{Reply: runReply, Parallel: runParallel})
}

func runContinue(cmd *cobra.Command, args []string) error {
	return runSession(cmd, args[0], orchestrator.RunOptions{Reply: continueReply, Parallel: continueParallel, Continue: true})
}

func runSession(cmd *cobra.Command, id string, opts orchestrator.RunOptions) error {
	a, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	if !cmd.Flags().Changed("parallel") {
		opts.Parallel = a.cfg.Session.Parallel
	}
	res, err := a.orch.Run(cmd.Context(), id, opts)
	if err != nil {
		return err
	}
	return sessionError(res)
}
