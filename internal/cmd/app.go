package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roundtable/internal/ai"
	"github.com/Iron-Ham/roundtable/internal/config"
	"github.com/Iron-Ham/roundtable/internal/engine"
	"github.com/Iron-Ham/roundtable/internal/logging"
	"github.com/Iron-Ham/roundtable/internal/metrics"
	"github.com/Iron-Ham/roundtable/internal/orchestrator"
	"github.com/Iron-Ham/roundtable/internal/tui"
	"github.com/Iron-Ham/roundtable/internal/worktree"
)

// app is what one command invocation works with.
type app struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	logger  *logging.Logger
	styles  tui.Styles
	cleanup []func()
}

// openApp loads the configuration of the repository containing the working
// directory and builds an orchestrator for it. withModel also builds the AI
// backend and, when configured, the metrics endpoint. The console is attached
// so orchestrator events print as they happen.
func openApp(cmd *cobra.Command, withModel bool) (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	repo, err := worktree.Open(cwd)
	if err != nil {
		return nil, fmt.Errorf("roundtable must run inside a git repository: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLoggerWithRotation(cfg.Paths.ResolveStateDir(repo.Root()), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.cleanup = append(a.cleanup, func() { _ = logger.Close() })

	templates, err := config.LoadTemplates(cfg.Templates.Path)
	if err != nil {
		a.close()
		return nil, err
	}

	deps := orchestrator.Deps{Repo: repo, Templates: templates, Logger: logger}
	if withModel {
		model, err := ai.NewFromConfig(cfg, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("no model backend: %w (set ai.command)", err)
		}
		deps.Model = model
		if cfg.Metrics.Addr != "" {
			deps.Metrics = a.serveMetrics(cmd.Context(), cfg.Metrics.Addr)
		}
	}

	orch, err := orchestrator.New(cfg, deps)
	if err != nil {
		a.close()
		return nil, err
	}
	a.orch = orch

	a.styles = tui.NewStyles(colorEnabled(cmd), cfg.Participants.Coach)
	verbose, _ := cmd.Flags().GetBool("verbose")
	sub := tui.NewConsole(cmd.OutOrStdout(), a.styles, verbose).Attach(orch.Bus())
	a.cleanup = append(a.cleanup, func() { orch.Bus().Unsubscribe(sub) })
	return a, nil
}

func (a *app) serveMetrics(ctx context.Context, addr string) *metrics.Recorder {
	rec := metrics.New()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := rec.Serve(ctx, addr, a.logger); err != nil {
			a.logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	a.cleanup = append(a.cleanup, func() {
		cancel()
		<-done
	})
	return rec
}

// close releases what openApp acquired, newest first.
func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

func colorEnabled(cmd *cobra.Command) bool {
	if off, _ := cmd.Flags().GetBool("no-color"); off {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return cmd.OutOrStdout() == os.Stdout && tui.IsTerminal(os.Stdout)
}

// sessionError turns a session that ended in error into a command failure.
// Paused and complete sessions succeed.
func sessionError(res *orchestrator.Result) error {
	if res.Outcome != engine.OutcomeError {
		return nil
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("session failed: %w", err)
	}
	for _, s := range res.Stops {
		if s.Outcome == engine.OutcomeError {
			return fmt.Errorf("session failed: %s: %s", s.Reason, s.Detail)
		}
	}
	return fmt.Errorf("session failed")
}
