package engine

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/Iron-Ham/roundtable/internal/config"
	"github.com/Iron-Ham/roundtable/internal/conversation"
)

// promptData is the value every template renders against.
type promptData struct {
	Participant string
	Agents      []string
	Description string
	Phase       string
	Goal        string
	Layered     bool
	Layer       int
	Tasks       string
	Reason      string
	By          string
}

func newPromptData(tpl *config.Templates, p Policy, participant string) promptData {
	return promptData{
		Participant: participant,
		Agents:      p.Agents,
		Description: p.Description,
		Phase:       p.Phase,
		Goal:        tpl.Goal(p.Phase),
		Layered:     p.Layered,
		Layer:       p.Layer,
		Tasks:       p.Tasks[participant],
	}
}

// promptMessages maps the conversational part of history onto the
// participant's two-sided view.
func promptMessages(history []conversation.Message, participant string) []PromptMessage {
	conv := conversation.Conversational(history)
	out := make([]PromptMessage, 0, len(conv))
	for _, m := range conv {
		role := RoleOther
		if m.Sender == participant {
			role = RoleSelf
		}
		out = append(out, PromptMessage{Role: role, Sender: m.Sender, Content: m.Content})
	}
	return out
}

func toolSpecs(tpl *config.Templates, names []string) []ToolSpec {
	if len(names) == 0 {
		return nil
	}
	specs := make([]ToolSpec, 0, len(names))
	for _, n := range names {
		specs = append(specs, ToolSpec{
			Name:        n,
			Description: tpl.ToolDescription(n),
			InputSchema: json.RawMessage(toolSchemas[n]),
		})
	}
	return specs
}

// mentionedBy returns who most recently addressed agent with @agent among the
// last lookback conversational messages, or "".
func mentionedBy(history []conversation.Message, agent string, re *regexp.Regexp, lookback int) string {
	if lookback <= 0 {
		return ""
	}
	conv := conversation.Window(conversation.Conversational(history), lookback)
	for i := len(conv) - 1; i >= 0; i-- {
		m := conv[i]
		if m.Sender == agent {
			continue
		}
		if re.MatchString(m.Content) {
			return m.Sender
		}
	}
	return ""
}

// mentionPattern matches @agent as a whole name. Agent names may end in a
// non-word character, so the end is not a \b.
func mentionPattern(agent string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\w@])@` + regexp.QuoteMeta(agent) + `(?:$|[^\w])`)
}

func appendLine(text, line string) string {
	if line == "" {
		return text
	}
	if text == "" {
		return line
	}
	return strings.TrimRight(text, "\n") + "\n\n" + line
}
