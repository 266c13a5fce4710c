package config

import (
	"fmt"
	"maps"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Templates holds every piece of prompt text the session engine renders.
// Values are text/template sources. A Templates value is immutable once
// loaded and is passed explicitly to the engine, so sessions with different
// templates can run side by side.
type Templates struct {
	// PhaseGoals maps a phase name to the goal announced for it
	PhaseGoals map[string]string `yaml:"phase_goals"`
	// AgentSystem is the system text for agent turns
	AgentSystem string `yaml:"agent_system"`
	// CoachSystem is the system text for coach turns
	CoachSystem string `yaml:"coach_system"`
	// Kickoff is the synthesized opening message of a phase
	Kickoff string `yaml:"kickoff"`
	// PassNote is the audit note written in place of a passed turn
	PassNote string `yaml:"pass_note"`
	// MentionHint is appended to the system text of an addressed agent
	MentionHint string `yaml:"mention_hint"`
	// Tools maps a tool name to the description offered to the model
	Tools map[string]string `yaml:"tools"`
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() *Templates {
	return &Templates{
		PhaseGoals: map[string]string{
			"refinement":      "Clarify the request until everyone agrees on what is being built and what is out of scope.",
			"planning":        "Break the work into tasks with owners and dependencies, then record them with propose_tasks.",
			"pre-code-review": "Review the plan for gaps, risky assumptions and missing tests before any code is written.",
			"implementation":  "Implement the tasks assigned to you in this layer. Write files with write_file.",
			"code-review":     "Review the merged result against the plan and call out defects.",
		},
		AgentSystem: `You are {{.Participant}}, one of {{len .Agents}} agents ({{join .Agents ", "}}) working on: {{.Description}}
Current phase: {{.Phase}}.{{if .Layered}} Layer {{.Layer}}.{{end}}
Goal: {{.Goal}}
{{- if .Tasks}}
Your tasks:
{{.Tasks}}
{{- end}}
Messages from others are prefixed with their name. If you have nothing new to add, call pass instead of agreeing.`,
		CoachSystem: `You are {{.Participant}}, the coach facilitating {{join .Agents ", "}} on: {{.Description}}
Current phase: {{.Phase}}. Goal: {{.Goal}}
Keep the discussion on track. Call signal_phase_complete with a summary when the goal is met, or ask_pm when a decision needs the human.`,
		Kickoff:     `Phase {{.Phase}} begins. Goal: {{.Goal}} {{first .Agents}} speaks first{{with rest .Agents}}, then {{join . ", "}}{{end}}.`,
		PassNote:    `{{.Participant}} passed: {{.Reason}}`,
		MentionHint: `{{.By}} addressed you directly. Respond if you have something to add, or pass.`,
		Tools: map[string]string{
			"pass":                  "Decline to contribute this turn. Give a short reason.",
			"write_file":            "Write a file relative to your workspace root.",
			"propose_tasks":         "Record the task breakdown: id, description, assignee, depends_on, done criteria.",
			"signal_phase_complete": "End the phase. Include a summary of what was decided.",
			"ask_pm":                "Pause and ask the human a question.",
		},
	}
}

// LoadTemplates reads a YAML file and overlays it on the built-in templates.
// Empty fields in the file keep their defaults. An empty path returns the
// defaults.
func LoadTemplates(path string) (*Templates, error) {
	t := DefaultTemplates()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var override Templates
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	t.merge(&override)
	if err := t.Check(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Templates) merge(o *Templates) {
	maps.Copy(t.PhaseGoals, o.PhaseGoals)
	maps.Copy(t.Tools, o.Tools)
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&t.AgentSystem, o.AgentSystem},
		{&t.CoachSystem, o.CoachSystem},
		{&t.Kickoff, o.Kickoff},
		{&t.PassNote, o.PassNote},
		{&t.MentionHint, o.MentionHint},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}
}

// Check parses every template and reports the first syntax error.
func (t *Templates) Check() error {
	for name, src := range map[string]string{
		"agent_system": t.AgentSystem,
		"coach_system": t.CoachSystem,
		"kickoff":      t.Kickoff,
		"pass_note":    t.PassNote,
		"mention_hint": t.MentionHint,
	} {
		if _, err := parse(name, src); err != nil {
			return err
		}
	}
	return nil
}

// Goal returns the goal text for a phase.
func (t *Templates) Goal(phase string) string {
	return t.PhaseGoals[phase]
}

// ToolDescription returns the description offered for a tool.
func (t *Templates) ToolDescription(name string) string {
	return t.Tools[name]
}

// Render executes the named template with data.
func (t *Templates) Render(name string, data any) (string, error) {
	var src string
	switch name {
	case "agent_system":
		src = t.AgentSystem
	case "coach_system":
		src = t.CoachSystem
	case "kickoff":
		src = t.Kickoff
	case "pass_note":
		src = t.PassNote
	case "mention_hint":
		src = t.MentionHint
	default:
		return "", fmt.Errorf("unknown template %q", name)
	}
	tmpl, err := parse(name, src)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"first": func(s []string) string {
		if len(s) == 0 {
			return ""
		}
		return s[0]
	},
	"rest": func(s []string) []string {
		if len(s) < 2 {
			return nil
		}
		return s[1:]
	},
}

func parse(name, src string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return tmpl, nil
}
