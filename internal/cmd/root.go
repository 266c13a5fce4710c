package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/roundtable/internal/config"
	"github.com/Iron-Ham/roundtable/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "roundtable",
	Short: "Phase-driven multi-agent development sessions",
	Long: `Roundtable runs a round-robin conversation between AI agents and a coach
on a single repository. An iteration moves through refinement, planning,
review, layered implementation in git worktrees and code review, with a
human able to answer, steer, checkpoint and restore between sessions.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		reportError(rootCmd.ErrOrStderr(), err)
	}
	return err
}

// reportError prints err with a hint matching how it was classified.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	switch {
	case errors.IsStructural(err):
		fmt.Fprintln(w, "This needs your action; 'roundtable status <iteration>' shows what is blocking.")
	case errors.IsRetryable(err):
		fmt.Fprintln(w, "This may be transient; running the command again can succeed.")
	case !errors.IsUserFacing(err) && errors.GetSeverity(err) >= errors.SeverityError:
		fmt.Fprintln(w, "Details are in .roundtable/debug.log.")
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./.roundtable/config.yaml, then $HOME/.config/roundtable/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "print turn and checkpoint bookkeeping")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Defaults first so they apply without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".roundtable")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ROUNDTABLE")
	// ROUNDTABLE_SESSION_MAX_TURNS for session.max_turns
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is fine
	_ = viper.ReadInConfig()
}
