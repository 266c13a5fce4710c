package orchestrator

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/Iron-Ham/roundtable/internal/approval"
	"github.com/Iron-Ham/roundtable/internal/conflict"
	"github.com/Iron-Ham/roundtable/internal/conversation"
	"github.com/Iron-Ham/roundtable/internal/engine"
	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/event"
	"github.com/Iron-Ham/roundtable/internal/iteration"
	"github.com/Iron-Ham/roundtable/internal/logging"
	"github.com/Iron-Ham/roundtable/internal/worktree"
)

// handler applies engine events for one session. It is only ever called from
// the goroutine consuming the event sequence.
type handler struct {
	o         *Orchestrator
	st        *iteration.State
	log       *conversation.Store
	approvals *approval.Store
	detector  *conflict.Detector
	logger    *logging.Logger

	// counting is set for fan-out sessions, whose lanes each report their
	// own turn count.
	counting bool
}

// apply persists ev. An error is fatal to the session; conditions the
// participants caused are recorded instead.
func (h *handler) apply(agentHint string, ev engine.Event) error {
	switch e := ev.(type) {
	case engine.MessageEvent:
		return h.message(e.Message)

	case engine.TurnEvent:
		if h.counting {
			h.st.TurnCount++
		} else {
			h.st.TurnCount = e.TurnCount
		}
		if err := h.o.store.Save(h.st); err != nil {
			return err
		}
		h.logger.WithParticipant(e.Agent).Debug("turn completed", "turn_count", h.st.TurnCount, "passed", e.Passed)
		h.o.bus.Publish(event.NewTurnCompletedEvent(h.st.ID, e.Agent, h.st.TurnCount, e.Passed))

	case engine.DebugEvent:
		if err := h.log.AppendDebug(e.Record); err != nil {
			return err
		}
		if e.Record.Kind != conversation.DebugPromptBuilt {
			h.logger.WithParticipant(e.Record.Participant).Debug("session diagnostic",
				"kind", e.Record.Kind, "tool", e.Record.Tool, "detail", e.Record.Detail)
		}

	case engine.FileWriteEvent:
		return h.write(e.Agent, e.Path, e.Content)

	case engine.FileWriteDeniedEvent:
		rule := h.o.guard.Rule(e.Path)
		h.logger.WithParticipant(e.Agent).Warn("write denied", "path", e.Path, "rule", rule)
		h.o.bus.Publish(event.NewFileDeniedEvent(h.st.ID, e.Agent, e.Path, "denied by "+ruleName(rule)))

	case engine.ApprovalRequestedEvent:
		return h.hold(e.Agent, e.Path, e.Content)

	case engine.TasksProposedEvent:
		return h.tasks(e.Agent, e.Tasks)

	default:
		if ev.Outcome() == engine.OutcomeNone {
			h.logger.Warn("unhandled engine event", "type", ev.EventType(), "lane", agentHint)
		}
	}
	return nil
}

func ruleName(rule string) string {
	if rule == "" {
		return "invalid path"
	}
	return rule
}

func (h *handler) message(msg conversation.Message) error {
	saved, err := h.log.Append(msg)
	if err != nil {
		return errors.Wrap(err, "append message")
	}
	h.o.bus.Publish(event.NewMessageAppendedEvent(saved))
	return nil
}

// root returns where agent's writes land: its sandbox during implementation,
// the repository root otherwise.
func (h *handler) root(agent string) (string, error) {
	if h.st.Phase != iteration.PhaseImplementation {
		return h.o.repo.Root(), nil
	}
	root, ok := worktree.ResolveRoot(h.st.Sandboxes, h.st.Layer, agent)
	if !ok {
		return "", errors.NewNotFoundError("sandbox", agent).WithCause(errors.ErrSandboxNotFound)
	}
	return root, nil
}

func (h *handler) write(agent, rel, content string) error {
	root, err := h.root(agent)
	if err != nil {
		// A participant without a sandbox cannot write; the session goes on.
		h.logger.WithParticipant(agent).Warn("write without sandbox", "path", rel, "error", err)
		h.o.bus.Publish(event.NewFileDeniedEvent(h.st.ID, agent, rel, "no sandbox"))
		return nil
	}
	if err := writeFile(root, rel, content); err != nil {
		return err
	}
	if h.detector != nil {
		h.detector.Record(agent, rel)
	}
	h.logger.WithParticipant(agent).Info("file written", "path", rel, "root", root)
	h.o.bus.Publish(event.NewFileWrittenEvent(h.st.ID, agent, rel, root))
	return nil
}

// writeFile writes content to the slash separated path rel under root.
func writeFile(root, rel, content string) error {
	full := filepath.Join(root, filepath.FromSlash(rel))
	if !strings.HasPrefix(full, filepath.Clean(root)+string(filepath.Separator)) {
		return errors.NewValidationError("path escapes workspace").WithField("path").WithValue(rel)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", rel)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", rel)
	}
	return nil
}

func (h *handler) hold(agent, rel, content string) error {
	root, err := h.root(agent)
	if err != nil {
		h.logger.WithParticipant(agent).Warn("approval without sandbox", "path", rel, "error", err)
		h.o.bus.Publish(event.NewFileDeniedEvent(h.st.ID, agent, rel, "no sandbox"))
		return nil
	}
	req, err := h.approvals.Add(approval.Request{
		Iteration: h.st.ID,
		Agent:     agent,
		Path:      rel,
		Root:      root,
		Content:   content,
	})
	if err != nil {
		return errors.Wrap(err, "store approval request")
	}
	h.logger.WithParticipant(agent).Info("write held for approval", "path", rel, "id", req.ID)
	h.o.bus.Publish(event.NewApprovalRequestedEvent(h.st.ID, req.ID, agent, rel))
	return nil
}

// tasks replaces the iteration's task list. Layers are assigned when the
// iteration leaves planning.
func (h *handler) tasks(agent string, proposed []engine.TaskProposal) error {
	tasks := make([]iteration.Task, 0, len(proposed))
	for _, p := range proposed {
		tasks = append(tasks, iteration.Task{
			ID:          p.ID,
			Description: p.Description,
			Assignee:    p.Assignee,
			DependsOn:   slices.Clone(p.DependsOn),
			Done:        p.Done,
			Notes:       p.Notes,
		})
	}
	h.st.Tasks = tasks
	if err := h.o.store.Save(h.st); err != nil {
		return err
	}
	h.logger.WithParticipant(agent).Info("tasks recorded", "count", len(tasks))
	h.o.bus.Publish(event.NewTasksRecordedEvent(h.st.ID, agent, len(tasks)))
	return nil
}

// watch starts an overlap detector over the open sandboxes of the current
// layer. It returns nil outside implementation.
func (h *handler) watch() *conflict.Detector {
	if h.st.Phase != iteration.PhaseImplementation {
		return nil
	}
	d, err := conflict.New()
	if err != nil {
		h.logger.Warn("overlap detection unavailable", "error", err)
		return nil
	}
	var mu sync.Mutex
	reported := make(map[string]bool)
	id := h.st.ID
	// Called from the watcher goroutine and from Record.
	d.OnOverlap(func(overlaps []conflict.FileOverlap) {
		mu.Lock()
		defer mu.Unlock()
		for _, ov := range overlaps {
			key := ov.Path + "\x00" + strings.Join(ov.Agents, ",")
			if reported[key] {
				continue
			}
			reported[key] = true
			h.logger.Warn("file touched by several agents", "path", ov.Path, "agents", ov.Agents)
			h.o.bus.Publish(event.NewOverlapDetectedEvent(id, ov.Path, ov.Agents))
		}
	})
	for _, b := range h.st.LayerSandboxes(h.st.Layer) {
		if b.Status.Resolved() {
			continue
		}
		if err := d.Watch(b.Agent, b.Path); err != nil {
			h.logger.WithParticipant(b.Agent).Warn("cannot watch sandbox", "path", b.Path, "error", err)
		}
	}
	d.Start()
	return d
}
