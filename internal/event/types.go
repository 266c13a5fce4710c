package event

import (
	"time"

	"github.com/Iron-Ham/roundtable/internal/conversation"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier, e.g. "turn.completed".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event types.
const (
	TypeMessageAppended    = "message.appended"
	TypeTurnCompleted      = "turn.completed"
	TypeSessionStopped     = "session.stopped"
	TypePhaseAdvanced      = "phase.advanced"
	TypeTasksRecorded      = "tasks.recorded"
	TypeSandboxCreated     = "sandbox.created"
	TypeSandboxMerged      = "sandbox.merged"
	TypeMergeConflict      = "sandbox.conflict"
	TypeFileWritten        = "file.written"
	TypeFileDenied         = "file.denied"
	TypeApprovalRequested  = "approval.requested"
	TypeApprovalResolved   = "approval.resolved"
	TypeCheckpointCreated  = "checkpoint.created"
	TypeCheckpointRestored = "checkpoint.restored"
	TypeOverlapDetected    = "overlap.detected"
)

// -----------------------------------------------------------------------------
// Conversation Events
// -----------------------------------------------------------------------------

// MessageAppendedEvent is emitted after a message is persisted to the log.
type MessageAppendedEvent struct {
	baseEvent
	Message conversation.Message
}

// NewMessageAppendedEvent creates a MessageAppendedEvent.
func NewMessageAppendedEvent(msg conversation.Message) MessageAppendedEvent {
	return MessageAppendedEvent{baseEvent: newBaseEvent(TypeMessageAppended), Message: msg}
}

// TurnCompletedEvent is emitted after an agent turn is counted.
type TurnCompletedEvent struct {
	baseEvent
	Iteration string
	Agent     string
	TurnCount int
	Passed    bool
}

// NewTurnCompletedEvent creates a TurnCompletedEvent.
func NewTurnCompletedEvent(iteration, agent string, turns int, passed bool) TurnCompletedEvent {
	return TurnCompletedEvent{
		baseEvent: newBaseEvent(TypeTurnCompleted),
		Iteration: iteration,
		Agent:     agent,
		TurnCount: turns,
		Passed:    passed,
	}
}

// SessionStoppedEvent is emitted once when a session ends.
type SessionStoppedEvent struct {
	baseEvent
	Iteration string
	Phase     string
	Outcome   string // "complete", "paused" or "error"
	Reason    string // the engine stop event type
	Detail    string // question, summary or error text for the human
}

// NewSessionStoppedEvent creates a SessionStoppedEvent.
func NewSessionStoppedEvent(iteration, phase, outcome, reason, detail string) SessionStoppedEvent {
	return SessionStoppedEvent{
		baseEvent: newBaseEvent(TypeSessionStopped),
		Iteration: iteration,
		Phase:     phase,
		Outcome:   outcome,
		Reason:    reason,
		Detail:    detail,
	}
}

// -----------------------------------------------------------------------------
// Lifecycle Events
// -----------------------------------------------------------------------------

// PhaseAdvancedEvent is emitted when an iteration moves to a new phase or
// implementation layer.
type PhaseAdvancedEvent struct {
	baseEvent
	Iteration string
	From      string
	To        string
	Layer     *int
}

// NewPhaseAdvancedEvent creates a PhaseAdvancedEvent.
func NewPhaseAdvancedEvent(iteration, from, to string, layer *int) PhaseAdvancedEvent {
	return PhaseAdvancedEvent{
		baseEvent: newBaseEvent(TypePhaseAdvanced),
		Iteration: iteration,
		From:      from,
		To:        to,
		Layer:     layer,
	}
}

// TasksRecordedEvent is emitted when a task breakdown replaces the
// iteration's tasks.
type TasksRecordedEvent struct {
	baseEvent
	Iteration string
	By        string
	Count     int
}

// NewTasksRecordedEvent creates a TasksRecordedEvent.
func NewTasksRecordedEvent(iteration, by string, count int) TasksRecordedEvent {
	return TasksRecordedEvent{
		baseEvent: newBaseEvent(TypeTasksRecorded),
		Iteration: iteration,
		By:        by,
		Count:     count,
	}
}

// -----------------------------------------------------------------------------
// Sandbox Events
// -----------------------------------------------------------------------------

// SandboxCreatedEvent is emitted when an agent's sandbox for a layer exists.
type SandboxCreatedEvent struct {
	baseEvent
	Iteration string
	Agent     string
	Layer     int
	Branch    string
	Path      string
}

// NewSandboxCreatedEvent creates a SandboxCreatedEvent.
func NewSandboxCreatedEvent(iteration, agent string, layer int, branch, path string) SandboxCreatedEvent {
	return SandboxCreatedEvent{
		baseEvent: newBaseEvent(TypeSandboxCreated),
		Iteration: iteration,
		Agent:     agent,
		Layer:     layer,
		Branch:    branch,
		Path:      path,
	}
}

// SandboxMergedEvent is emitted when a sandbox branch reached the
// integration branch.
type SandboxMergedEvent struct {
	baseEvent
	Iteration string
	Agent     string
	Branch    string
}

// NewSandboxMergedEvent creates a SandboxMergedEvent.
func NewSandboxMergedEvent(iteration, agent, branch string) SandboxMergedEvent {
	return SandboxMergedEvent{
		baseEvent: newBaseEvent(TypeSandboxMerged),
		Iteration: iteration,
		Agent:     agent,
		Branch:    branch,
	}
}

// MergeConflictEvent is emitted when merging a sandbox branch conflicted.
type MergeConflictEvent struct {
	baseEvent
	Iteration    string
	Agent        string
	Branch       string
	Files        []string
	Participants []string
}

// NewMergeConflictEvent creates a MergeConflictEvent.
func NewMergeConflictEvent(iteration, agent, branch string, files, participants []string) MergeConflictEvent {
	return MergeConflictEvent{
		baseEvent:    newBaseEvent(TypeMergeConflict),
		Iteration:    iteration,
		Agent:        agent,
		Branch:       branch,
		Files:        files,
		Participants: participants,
	}
}

// OverlapDetectedEvent is emitted when more than one agent touched the same
// relative path in its sandbox. It is advisory.
type OverlapDetectedEvent struct {
	baseEvent
	Iteration string
	Path      string
	Agents    []string
}

// NewOverlapDetectedEvent creates an OverlapDetectedEvent.
func NewOverlapDetectedEvent(iteration, path string, agents []string) OverlapDetectedEvent {
	return OverlapDetectedEvent{
		baseEvent: newBaseEvent(TypeOverlapDetected),
		Iteration: iteration,
		Path:      path,
		Agents:    agents,
	}
}

// -----------------------------------------------------------------------------
// File and Approval Events
// -----------------------------------------------------------------------------

// FileWrittenEvent is emitted after an agent's file landed on disk.
type FileWrittenEvent struct {
	baseEvent
	Iteration string
	Agent     string
	Path      string // relative to Root
	Root      string
}

// NewFileWrittenEvent creates a FileWrittenEvent.
func NewFileWrittenEvent(iteration, agent, path, root string) FileWrittenEvent {
	return FileWrittenEvent{
		baseEvent: newBaseEvent(TypeFileWritten),
		Iteration: iteration,
		Agent:     agent,
		Path:      path,
		Root:      root,
	}
}

// FileDeniedEvent is emitted when a write was refused.
type FileDeniedEvent struct {
	baseEvent
	Iteration string
	Agent     string
	Path      string
	Reason    string
}

// NewFileDeniedEvent creates a FileDeniedEvent.
func NewFileDeniedEvent(iteration, agent, path, reason string) FileDeniedEvent {
	return FileDeniedEvent{
		baseEvent: newBaseEvent(TypeFileDenied),
		Iteration: iteration,
		Agent:     agent,
		Path:      path,
		Reason:    reason,
	}
}

// ApprovalRequestedEvent is emitted when a write is held for a human.
type ApprovalRequestedEvent struct {
	baseEvent
	Iteration string
	ID        string
	Agent     string
	Path      string
}

// NewApprovalRequestedEvent creates an ApprovalRequestedEvent.
func NewApprovalRequestedEvent(iteration, id, agent, path string) ApprovalRequestedEvent {
	return ApprovalRequestedEvent{
		baseEvent: newBaseEvent(TypeApprovalRequested),
		Iteration: iteration,
		ID:        id,
		Agent:     agent,
		Path:      path,
	}
}

// ApprovalResolvedEvent is emitted when a human approved or denied a write.
type ApprovalResolvedEvent struct {
	baseEvent
	Iteration string
	ID        string
	Path      string
	Approved  bool
}

// NewApprovalResolvedEvent creates an ApprovalResolvedEvent.
func NewApprovalResolvedEvent(iteration, id, path string, approved bool) ApprovalResolvedEvent {
	return ApprovalResolvedEvent{
		baseEvent: newBaseEvent(TypeApprovalResolved),
		Iteration: iteration,
		ID:        id,
		Path:      path,
		Approved:  approved,
	}
}

// -----------------------------------------------------------------------------
// Checkpoint Events
// -----------------------------------------------------------------------------

// CheckpointCreatedEvent is emitted after a snapshot was written.
type CheckpointCreatedEvent struct {
	baseEvent
	Iteration   string
	Number      int
	Trigger     string
	Description string
}

// NewCheckpointCreatedEvent creates a CheckpointCreatedEvent.
func NewCheckpointCreatedEvent(iteration string, number int, trigger, description string) CheckpointCreatedEvent {
	return CheckpointCreatedEvent{
		baseEvent:   newBaseEvent(TypeCheckpointCreated),
		Iteration:   iteration,
		Number:      number,
		Trigger:     trigger,
		Description: description,
	}
}

// CheckpointRestoredEvent is emitted after a snapshot was restored.
type CheckpointRestoredEvent struct {
	baseEvent
	Iteration string
	Number    int
	Phase     string
}

// NewCheckpointRestoredEvent creates a CheckpointRestoredEvent.
func NewCheckpointRestoredEvent(iteration string, number int, phase string) CheckpointRestoredEvent {
	return CheckpointRestoredEvent{
		baseEvent: newBaseEvent(TypeCheckpointRestored),
		Iteration: iteration,
		Number:    number,
		Phase:     phase,
	}
}
