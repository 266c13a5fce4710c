package engine

import (
	"github.com/Iron-Ham/roundtable/internal/conversation"
)

// Outcome classifies how an event affects the session.
type Outcome string

const (
	// OutcomeNone is an ordinary event; the session continues.
	OutcomeNone Outcome = ""
	// OutcomeComplete ends the session normally.
	OutcomeComplete Outcome = "complete"
	// OutcomePaused ends the session until it is resumed.
	OutcomePaused Outcome = "paused"
	// OutcomeError ends the session on a failure.
	OutcomeError Outcome = "error"
)

// Event type names.
const (
	TypeMessage          = "message"
	TypeTurn             = "turn"
	TypeDebug            = "debug"
	TypeFileWrite        = "file.write"
	TypeFileWriteDenied  = "file.write_denied"
	TypeApprovalRequest  = "approval.requested"
	TypeTasksProposed    = "tasks.proposed"
	TypePhaseComplete    = "stop.phase_complete"
	TypeCoachAskedPM     = "stop.coach_asked_pm"
	TypeAwaitingHuman    = "stop.awaiting_human"
	TypeApprovalsPending = "stop.approvals_pending"
	TypeMaxTurns         = "stop.max_turns"
	TypeModelFailure     = "stop.model_failure"
	TypeCancelled        = "stop.cancelled"
	TypeInvalidState     = "stop.invalid_state"
)

// Event is what a session yields. The last event of every session has a
// non-empty Outcome; no other event does.
type Event interface {
	EventType() string
	Outcome() Outcome
}

type effect struct{}

func (effect) Outcome() Outcome { return OutcomeNone }

// MessageEvent asks the handler to append Message to the log.
type MessageEvent struct {
	effect
	Message conversation.Message
}

func (MessageEvent) EventType() string { return TypeMessage }

// TurnEvent reports a finished agent turn. TurnCount is the iteration's new
// cumulative count and should be persisted.
type TurnEvent struct {
	effect
	Agent     string
	TurnCount int
	Passed    bool
}

func (TurnEvent) EventType() string { return TypeTurn }

// DebugEvent asks the handler to append a diagnostic record.
type DebugEvent struct {
	effect
	Record conversation.DebugRecord
}

func (DebugEvent) EventType() string { return TypeDebug }

// FileWriteEvent asks the handler to write an allowed file.
type FileWriteEvent struct {
	effect
	Agent   string
	Path    string
	Content string
}

func (FileWriteEvent) EventType() string { return TypeFileWrite }

// FileWriteDeniedEvent reports a write the guard refused.
type FileWriteDeniedEvent struct {
	effect
	Agent string
	Path  string
}

func (FileWriteDeniedEvent) EventType() string { return TypeFileWriteDenied }

// ApprovalRequestedEvent asks the handler to hold a write for a human.
type ApprovalRequestedEvent struct {
	effect
	Agent   string
	Path    string
	Content string
}

func (ApprovalRequestedEvent) EventType() string { return TypeApprovalRequest }

// TaskProposal is one task from a propose_tasks call.
type TaskProposal struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Assignee    string   `json:"assignee"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Done        string   `json:"done,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// TasksProposedEvent carries a task breakdown to record on the iteration.
type TasksProposedEvent struct {
	effect
	Agent string
	Tasks []TaskProposal
}

func (TasksProposedEvent) EventType() string { return TypeTasksProposed }

type stop struct{ outcome Outcome }

func (s stop) Outcome() Outcome { return s.outcome }

// PhaseCompleteEvent: the coach ended the phase.
type PhaseCompleteEvent struct {
	stop
	Coach   string
	Summary string
}

func (PhaseCompleteEvent) EventType() string { return TypePhaseComplete }

// CoachAskedPMEvent: the coach needs the human to answer Question.
type CoachAskedPMEvent struct {
	stop
	Coach    string
	Question string
}

func (CoachAskedPMEvent) EventType() string { return TypeCoachAskedPM }

// AwaitingHumanEvent: a session was resumed without the reply a pending
// coach question needs.
type AwaitingHumanEvent struct {
	stop
	Question string
}

func (AwaitingHumanEvent) EventType() string { return TypeAwaitingHuman }

// ApprovalsPendingEvent: writes are waiting for a human decision.
type ApprovalsPendingEvent struct {
	stop
	Pending int
}

func (ApprovalsPendingEvent) EventType() string { return TypeApprovalsPending }

// MaxTurnsEvent: the turn ceiling was reached.
type MaxTurnsEvent struct {
	stop
	TurnCount int
	MaxTurns  int
}

func (MaxTurnsEvent) EventType() string { return TypeMaxTurns }

// NewMaxTurnsEvent returns the stop for a session that has no turns left.
func NewMaxTurnsEvent(turnCount, maxTurns int) MaxTurnsEvent {
	return MaxTurnsEvent{stop: finished(), TurnCount: turnCount, MaxTurns: maxTurns}
}

// ModelFailureEvent: the model call failed. The turn was not recorded and the
// session can be resumed.
type ModelFailureEvent struct {
	stop
	Participant string
	Err         error
	Timeout     bool
}

func (ModelFailureEvent) EventType() string { return TypeModelFailure }

// CancelledEvent: ctx was cancelled between turns.
type CancelledEvent struct {
	stop
	Err error
}

func (CancelledEvent) EventType() string { return TypeCancelled }

// InvalidStateEvent: the session could not start.
type InvalidStateEvent struct {
	stop
	Err error
}

func (InvalidStateEvent) EventType() string { return TypeInvalidState }

func paused() stop { return stop{OutcomePaused} }
func failed() stop { return stop{OutcomeError} }
func finished() stop { return stop{OutcomeComplete} }
