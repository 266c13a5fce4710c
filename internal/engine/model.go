package engine

import (
	"context"
	"encoding/json"
)

// Role is the part a participant plays in a session.
type Role string

const (
	RoleAgent Role = "agent"
	RoleCoach Role = "coach"
)

// PromptRole is a history entry's role from the prompted participant's
// point of view.
type PromptRole string

const (
	// RoleSelf marks the participant's own earlier messages.
	RoleSelf PromptRole = "self"
	// RoleOther marks everyone else's messages, the human's and system
	// messages included.
	RoleOther PromptRole = "other"
)

// PromptMessage is one history entry offered to the model.
type PromptMessage struct {
	Role    PromptRole `json:"role"`
	Sender  string     `json:"sender"`
	Content string     `json:"content"`
}

// ToolSpec declares a tool the model may call.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is everything the model needs for one turn.
type Request struct {
	Iteration   string          `json:"iteration"`
	Participant string          `json:"participant"`
	Role        Role            `json:"role"`
	Phase       string          `json:"phase"`
	System      string          `json:"system"`
	Messages    []PromptMessage `json:"messages"`
	Tools       []ToolSpec      `json:"tools,omitempty"`
}

// ToolCall is one structured invocation returned by the model.
type ToolCall struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Response is the model's output for one turn. Zero tool calls is valid
// and means plain text.
type Response struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Model produces one turn. Implementations must honor ctx cancellation.
type Model interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, req Request) (Response, error)

// Complete calls f.
func (f ModelFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
