package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/roundtable/internal/config"
	"github.com/Iron-Ham/roundtable/internal/worktree"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or create roundtable configuration",
	Long: `View or create roundtable configuration.

Without arguments, displays the effective configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with the defaults",
	Long: `Create .roundtable/config.yaml in the repository, or with --global the
user config file, filled with every option at its default.`,
	RunE: runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configInitGlobal bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)

	configInitCmd.Flags().BoolVar(&configInitGlobal, "global", false, "write the user config file instead of the repository one")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}
	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.ConfigFile()
	if !configInitGlobal {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		root, err := worktree.FindGitRoot(cwd)
		if err != nil {
			return fmt.Errorf("not in a git repository (use --global for the user config): %w", err)
		}
		path = filepath.Join(root, ".roundtable", "config.yaml")
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(defaultSettings())
	if err != nil {
		return fmt.Errorf("failed to render defaults: %w", err)
	}
	content := append([]byte("# Roundtable configuration\n# Environment variables override these: ROUNDTABLE_SESSION_MAX_TURNS=60\n\n"), data...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", path)
	return nil
}

// defaultSettings returns the registered defaults as nested maps.
func defaultSettings() map[string]any {
	v := viper.New()
	config.SetDefaultsOn(v)
	return v.AllSettings()
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintln(out, "  1. ./.roundtable/config.yaml (repository)")
	fmt.Fprintf(out, "  2. %s\n", config.ConfigFile())
	fmt.Fprintln(out, "  3. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: ROUNDTABLE_* (e.g., ROUNDTABLE_SESSION_MAX_TURNS)")
	return nil
}
