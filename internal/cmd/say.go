package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var sayCmd = &cobra.Command{
	Use:   "say <iteration> <message...>",
	Short: "Add a human message to the conversation",
	Long: `Say appends a message from the human without running a session. The
agents read it on their next turn.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSay,
}

func init() {
	rootCmd.AddCommand(sayCmd)
}

func runSay(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	_, err = a.orch.Say(cmd.Context(), args[0], strings.Join(args[1:], " "))
	return err
}
