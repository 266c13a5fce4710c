package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roundtable/internal/conversation"
	"github.com/Iron-Ham/roundtable/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <iteration>",
	Short: "Follow an iteration's conversation",
	Long: `Watch shows the conversation log and keeps following it as sessions
append to it, from another terminal or another process. On a terminal it
opens a scrollable viewer; otherwise it prints messages as lines.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	id := args[0]
	if _, err := a.orch.Status(id); err != nil {
		return err
	}
	path := a.orch.LogPath(id)

	if cmd.OutOrStdout() == os.Stdout && tui.IsTerminal(os.Stdout) {
		return tui.Watch(cmd.Context(), path, id, a.styles)
	}

	out := cmd.OutOrStdout()
	err = conversation.Follow(cmd.Context(), path, func(m conversation.Message) {
		fmt.Fprintln(out, tui.FormatMessage(a.styles, m))
	})
	if err != nil && cmd.Context().Err() != nil {
		return nil
	}
	return err
}
