// Package ai adapts external model programs to the engine's Model
// interface.
//
// A backend is any executable that reads one JSON encoded engine.Request on
// stdin and writes one JSON encoded engine.Response on stdout. Output that is
// not a JSON object is taken as the plain text of the turn, so a program with
// no tool support works unchanged.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/roundtable/internal/config"
	"github.com/Iron-Ham/roundtable/internal/engine"
	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/logging"
)

// ErrNoCommand is returned when no backend command is configured.
var ErrNoCommand = errors.New("no ai.command configured")

// Environment variables set for every backend invocation.
const (
	EnvParticipant = "ROUNDTABLE_PARTICIPANT"
	EnvRole        = "ROUNDTABLE_ROLE"
	EnvPhase       = "ROUNDTABLE_PHASE"
	EnvIteration   = "ROUNDTABLE_ITERATION"
)

// stderrTail bounds how much stderr is quoted in errors.
const stderrTail = 2048

// CommandBackend runs one process per turn.
type CommandBackend struct {
	command string
	args    []string
	env     []string
	logger  *logging.Logger
}

// NewCommandBackend creates a backend from config. A nil logger discards
// output.
func NewCommandBackend(cfg config.AIConfig, logger *logging.Logger) (*CommandBackend, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, ErrNoCommand
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CommandBackend{
		command: cfg.Command,
		args:    cfg.Args,
		env:     cfg.Env,
		logger:  logger.With("backend", cfg.Command),
	}, nil
}

// NewFromConfig builds the configured model backend.
func NewFromConfig(cfg *config.Config, logger *logging.Logger) (engine.Model, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing config")
	}
	return NewCommandBackend(cfg.AI, logger)
}

// Command returns the executable this backend runs.
func (b *CommandBackend) Command() string { return b.command }

// Complete implements engine.Model.
func (b *CommandBackend) Complete(ctx context.Context, req engine.Request) (engine.Response, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return engine.Response{}, fmt.Errorf("encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, b.command, b.args...)
	cmd.Env = append(os.Environ(), b.env...)
	cmd.Env = append(cmd.Env,
		EnvParticipant+"="+req.Participant,
		EnvRole+"="+string(req.Role),
		EnvPhase+"="+req.Phase,
		EnvIteration+"="+req.Iteration,
	)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err = cmd.Run()
	log := b.logger.With("participant", req.Participant, "duration_ms", time.Since(start).Milliseconds())
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Warn("model call interrupted", "error", ctxErr)
		return engine.Response{}, ctxErr
	}
	if err != nil {
		log.Error("model command failed", "error", err, "stderr", tail(stderr.String()))
		return engine.Response{}, fmt.Errorf("%s: %w: %s", b.command, err, tail(stderr.String()))
	}

	resp, err := DecodeResponse(stdout.Bytes())
	if err != nil {
		log.Error("model output unreadable", "error", err)
		return engine.Response{}, err
	}
	log.Debug("model call finished", "tool_calls", len(resp.ToolCalls), "text_bytes", len(resp.Text))
	return resp, nil
}

// DecodeResponse parses backend output. A JSON object is a Response; any
// other output is the turn's text.
func DecodeResponse(out []byte) (engine.Response, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return engine.Response{Text: string(trimmed)}, nil
	}
	var resp engine.Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return engine.Response{}, fmt.Errorf("decode response: %w", err)
	}
	resp.Text = strings.TrimSpace(resp.Text)
	return resp, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		return "..." + s[len(s)-stderrTail:]
	}
	return s
}

var _ engine.Model = (*CommandBackend)(nil)
