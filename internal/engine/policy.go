package engine

import (
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/roundtable/internal/conversation"
	"github.com/Iron-Ham/roundtable/internal/errors"
)

// HistoryScope selects how much of the log a prompt sees.
type HistoryScope string

const (
	// ScopePhase is everything since the most recent boundary marker.
	ScopePhase HistoryScope = "phase"
	// ScopeWindow is the last Window messages of the phase.
	ScopeWindow HistoryScope = "window"
	// ScopeFull is the whole log.
	ScopeFull HistoryScope = "full"
)

// HistoryPolicy configures history scoping.
type HistoryPolicy struct {
	Scope  HistoryScope
	Window int
}

// Apply returns the view of log the policy exposes.
func (h HistoryPolicy) Apply(log []conversation.Message) []conversation.Message {
	switch h.Scope {
	case ScopeFull:
		return log
	case ScopeWindow:
		return conversation.Window(conversation.Scoped(log), h.Window)
	default:
		return conversation.Scoped(log)
	}
}

// Policy is what a phase allows. The engine reads it uniformly and never
// branches on the phase name.
type Policy struct {
	Phase       string
	Description string
	// Layered is set during implementation; Layer is then meaningful.
	Layered bool
	Layer   int

	// Agents take turns round-robin in this order
	Agents []string
	// Coach is the facilitator; empty disables coach turns
	Coach string
	// CoachCadence is the number of agent turns between coach turns.
	// 0 means one full round (len(Agents)); negative disables the coach.
	CoachCadence int

	History HistoryPolicy
	// Kickoff synthesizes an opening message when the scoped history is empty
	Kickoff bool

	// MaxTurns is the ceiling on the iteration's cumulative agent turns
	MaxTurns int
	// MentionLookback is how many recent messages are scanned for @mentions
	MentionLookback int
	// ModelTimeout bounds a single model call; 0 means no bound
	ModelTimeout time.Duration

	AgentTools []string
	CoachTools []string

	// Tasks maps an agent to the task list shown in its system text
	Tasks map[string]string
}

// Cadence returns the effective coach cadence, or 0 when the coach is off.
func (p Policy) Cadence() int {
	if p.Coach == "" || p.CoachCadence < 0 {
		return 0
	}
	if p.CoachCadence == 0 {
		return len(p.Agents)
	}
	return p.CoachCadence
}

func (p Policy) offers(role Role, tool string) bool {
	if role == RoleCoach {
		return slices.Contains(p.CoachTools, tool)
	}
	return slices.Contains(p.AgentTools, tool)
}

// Validate checks that the policy can drive a session.
func (p Policy) Validate() error {
	if p.Phase == "" {
		return errors.NewValidationError("phase is required").WithField("phase")
	}
	if len(p.Agents) == 0 {
		return errors.NewValidationError("at least one agent is required").WithField("agents")
	}
	seen := make(map[string]bool)
	for _, a := range p.Agents {
		key := strings.ToLower(a)
		if a == "" || seen[key] {
			return errors.NewValidationError("agent names must be unique and non-empty").
				WithField("agents").WithValue(a)
		}
		seen[key] = true
	}
	if p.Coach != "" && seen[strings.ToLower(p.Coach)] {
		return errors.NewValidationError("coach cannot also be an agent").
			WithField("coach").WithValue(p.Coach)
	}
	if p.MaxTurns <= 0 {
		return errors.NewValidationError("max turns must be positive").
			WithField("max_turns").WithValue(p.MaxTurns)
	}
	switch p.History.Scope {
	case ScopePhase, ScopeFull, "":
	case ScopeWindow:
		if p.History.Window <= 0 {
			return errors.NewValidationError("window scope needs a positive window").
				WithField("history.window").WithValue(p.History.Window)
		}
	default:
		return errors.NewValidationError("unknown history scope").
			WithField("history.scope").WithValue(p.History.Scope)
	}
	for _, tool := range p.AgentTools {
		if !slices.Contains(agentTools, tool) {
			return errors.NewValidationError("unknown agent tool").WithField("agent_tools").WithValue(tool)
		}
	}
	for _, tool := range p.CoachTools {
		if !slices.Contains(coachTools, tool) {
			return errors.NewValidationError("unknown coach tool").WithField("coach_tools").WithValue(tool)
		}
	}
	return nil
}
