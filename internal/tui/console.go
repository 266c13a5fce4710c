// Package tui renders iterations for a human: a line-oriented console that
// prints orchestrator events as they happen, and a full-screen viewer that
// follows a conversation log.
package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/Iron-Ham/roundtable/internal/conversation"
	"github.com/Iron-Ham/roundtable/internal/event"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Console prints bus events as lines. Events may arrive from more than one
// goroutine; writes are serialized.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	styles  Styles
	verbose bool
}

// NewConsole creates a Console writing to w. Verbose also prints turn and
// checkpoint bookkeeping.
func NewConsole(w io.Writer, styles Styles, verbose bool) *Console {
	return &Console{w: w, styles: styles, verbose: verbose}
}

// Attach subscribes the console to every event on bus and returns the
// subscription id.
func (c *Console) Attach(bus *event.Bus) string {
	return bus.SubscribeAll(c.Handle)
}

// Handle prints e. Events without a rendering are ignored.
func (c *Console) Handle(e event.Event) {
	line := c.render(e)
	if line == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, line)
}

func (c *Console) render(e event.Event) string {
	s := c.styles
	switch ev := e.(type) {
	case event.MessageAppendedEvent:
		return FormatMessage(s, ev.Message)
	case event.TurnCompletedEvent:
		if !c.verbose {
			return ""
		}
		return s.Muted.Render(fmt.Sprintf("  turn %d (%s)", ev.TurnCount, ev.Agent))
	case event.SessionStoppedEvent:
		return c.stopped(ev)
	case event.TasksRecordedEvent:
		return s.Success.Render(fmt.Sprintf("* %d task(s) recorded by %s", ev.Count, ev.By))
	case event.SandboxCreatedEvent:
		return s.Muted.Render(fmt.Sprintf("* sandbox for %s: %s (%s)", ev.Agent, ev.Branch, ev.Path))
	case event.SandboxMergedEvent:
		return s.Success.Render(fmt.Sprintf("* merged %s", ev.Branch))
	case event.MergeConflictEvent:
		return s.Error.Render(fmt.Sprintf("! merge conflict on %s (%s): %s", ev.Branch, ev.Agent, strings.Join(ev.Files, ", ")))
	case event.OverlapDetectedEvent:
		return s.Warning.Render(fmt.Sprintf("! %s touched by %s", ev.Path, strings.Join(ev.Agents, ", ")))
	case event.FileWrittenEvent:
		return s.Muted.Render(fmt.Sprintf("  %s wrote %s", ev.Agent, ev.Path))
	case event.FileDeniedEvent:
		return s.Warning.Render(fmt.Sprintf("  %s may not write %s: %s", ev.Agent, ev.Path, ev.Reason))
	case event.ApprovalRequestedEvent:
		return s.Warning.Render(fmt.Sprintf("? %s wants to write %s (approval %s)", ev.Agent, ev.Path, shortID(ev.ID)))
	case event.ApprovalResolvedEvent:
		verdict := "denied"
		if ev.Approved {
			verdict = "approved"
		}
		return s.Muted.Render(fmt.Sprintf("* %s %s", ev.Path, verdict))
	case event.CheckpointCreatedEvent:
		if !c.verbose && ev.Trigger != "manual" {
			return ""
		}
		return s.Muted.Render(fmt.Sprintf("* checkpoint %d: %s", ev.Number, ev.Description))
	case event.CheckpointRestoredEvent:
		return s.Success.Render(fmt.Sprintf("* restored checkpoint %d (%s)", ev.Number, ev.Phase))
	}
	return ""
}

func (c *Console) stopped(ev event.SessionStoppedEvent) string {
	s := c.styles
	text := fmt.Sprintf("session %s: %s", ev.Outcome, strings.TrimPrefix(ev.Reason, "stop."))
	if ev.Detail != "" {
		text += ": " + ev.Detail
	}
	switch ev.Outcome {
	case "error":
		return s.Error.Render(text)
	case "paused":
		return s.Warning.Render(text)
	}
	return s.Success.Render(text)
}

// FormatMessage renders one log message.
func FormatMessage(s Styles, m conversation.Message) string {
	switch {
	case m.PhaseBoundary:
		label := fmt.Sprintf("== %s -> %s", m.FromPhase, m.ToPhase)
		if m.Layer != nil {
			label += fmt.Sprintf(" (layer %d)", *m.Layer)
		}
		return s.Boundary.Render(label + " ==")
	case m.Pass:
		return s.Muted.Render(m.Content)
	case m.Kickoff:
		return s.Muted.Render(m.Content)
	}
	prefix := s.Sender(m.Sender).Render(m.Sender + ":")
	content := m.Content
	if m.AwaitingPM {
		content = s.Warning.Render(content)
	}
	return prefix + " " + content
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
