package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tool names.
const (
	ToolPass          = "pass"
	ToolWriteFile     = "write_file"
	ToolProposeTasks  = "propose_tasks"
	ToolPhaseComplete = "signal_phase_complete"
	ToolAskPM         = "ask_pm"
)

var (
	agentTools = []string{ToolPass, ToolWriteFile, ToolProposeTasks}
	coachTools = []string{ToolPhaseComplete, ToolAskPM}
)

var toolSchemas = map[string]string{
	ToolPass: `{"type":"object","properties":{"reason":{"type":"string"}},"required":["reason"]}`,
	ToolWriteFile: `{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},` +
		`"required":["path","content"]}`,
	ToolProposeTasks: `{"type":"object","properties":{"tasks":{"type":"array","items":{"type":"object",` +
		`"properties":{"id":{"type":"string"},"description":{"type":"string"},"assignee":{"type":"string"},` +
		`"depends_on":{"type":"array","items":{"type":"string"}},"done":{"type":"string"},"notes":{"type":"string"}},` +
		`"required":["id","description","assignee"]}}},"required":["tasks"]}`,
	ToolPhaseComplete: `{"type":"object","properties":{"summary":{"type":"string"}},"required":["summary"]}`,
	ToolAskPM:         `{"type":"object","properties":{"question":{"type":"string"}},"required":["question"]}`,
}

type passInput struct {
	Reason string `json:"reason"`
}

type writeFileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type proposeTasksInput struct {
	Tasks []TaskProposal `json:"tasks"`
}

type phaseCompleteInput struct {
	Summary string `json:"summary"`
}

type askPMInput struct {
	Question string `json:"question"`
}

// decode parses a tool input into v. Missing required fields count as
// malformed.
func decode(call ToolCall, v any) error {
	if len(call.Input) == 0 {
		return fmt.Errorf("%s: empty input", call.Name)
	}
	if err := json.Unmarshal(call.Input, v); err != nil {
		return fmt.Errorf("%s: %w", call.Name, err)
	}
	switch in := v.(type) {
	case *writeFileInput:
		if strings.TrimSpace(in.Path) == "" {
			return fmt.Errorf("%s: path is required", call.Name)
		}
	case *proposeTasksInput:
		if len(in.Tasks) == 0 {
			return fmt.Errorf("%s: no tasks", call.Name)
		}
		for i, t := range in.Tasks {
			if t.ID == "" || t.Assignee == "" {
				return fmt.Errorf("%s: task %d needs id and assignee", call.Name, i)
			}
		}
	case *askPMInput:
		if strings.TrimSpace(in.Question) == "" {
			return fmt.Errorf("%s: question is required", call.Name)
		}
	}
	return nil
}
