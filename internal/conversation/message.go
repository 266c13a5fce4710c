// Package conversation stores the append-only conversation log of an
// iteration and provides the scoped views that prompts are built from.
//
// The log is a JSONL file with one Message per line. Messages are never
// rewritten. Control records (pass notes and phase boundary markers) live in
// the same log as conversational messages but are flagged so that readers
// can skip them.
package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Iron-Ham/roundtable/internal/record"
)

// Well-known senders besides participant names.
const (
	SenderHuman  = "human"
	SenderSystem = "system"
)

// Message is one record of the conversation log. Keys not declared here are
// kept in Extra and written back unchanged.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Iteration string    `json:"iteration"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Pass marks an audit note written in place of a passed turn.
	Pass     bool   `json:"pass,omitempty"`
	PassedBy string `json:"passed_by,omitempty"`

	// PhaseBoundary marks a phase (or layer) transition.
	PhaseBoundary bool   `json:"phase_boundary,omitempty"`
	FromPhase     string `json:"from_phase,omitempty"`
	ToPhase       string `json:"to_phase,omitempty"`
	Layer         *int   `json:"layer,omitempty"`

	// Kickoff marks the synthesized opening message of a phase.
	Kickoff bool `json:"kickoff,omitempty"`
	// AwaitingPM marks a coach question that needs a human reply.
	AwaitingPM bool `json:"awaiting_pm,omitempty"`

	Extra record.Extra `json:"-"`
}

type messageAlias Message

// MarshalJSON implements json.Marshaler, including Extra keys.
func (m Message) MarshalJSON() ([]byte, error) {
	return record.Marshal(messageAlias(m), m.Extra)
}

// UnmarshalJSON implements json.Unmarshaler, retaining unknown keys.
func (m *Message) UnmarshalJSON(data []byte) error {
	var a messageAlias
	extra, err := record.Unmarshal(data, &a)
	if err != nil {
		return err
	}
	*m = Message(a)
	m.Extra = extra
	return nil
}

// IsControl reports whether m is a pass note or a boundary marker, neither of
// which is conversational content.
func (m Message) IsControl() bool {
	return m.Pass || m.PhaseBoundary
}

// NewBoundary builds the sentinel written once at a phase or layer advance.
func NewBoundary(iteration, from, to string, layer *int) Message {
	content := fmt.Sprintf("phase %s -> %s", from, to)
	if layer != nil {
		content = fmt.Sprintf("%s (layer %d)", content, *layer)
	}
	return Message{
		Sender:        SenderSystem,
		Iteration:     iteration,
		Content:       content,
		PhaseBoundary: true,
		FromPhase:     from,
		ToPhase:       to,
		Layer:         layer,
	}
}

// DebugRecord is one diagnostic entry. Debug records are never shown to
// participants and are excluded from checkpoints.
type DebugRecord struct {
	Timestamp   time.Time       `json:"timestamp"`
	Iteration   string          `json:"iteration"`
	Participant string          `json:"participant,omitempty"`
	Kind        string          `json:"kind"`
	Detail      string          `json:"detail,omitempty"`
	Tool        string          `json:"tool,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Debug record kinds.
const (
	DebugMalformedToolCall = "malformed_tool_call"
	DebugUnofferedTool     = "unoffered_tool"
	DebugIgnoredTool       = "ignored_tool"
	DebugWriteDenied       = "write_denied"
	DebugModelFailure      = "model_failure"
	DebugPromptBuilt       = "prompt_built"
)
