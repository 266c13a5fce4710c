package orchestrator

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/roundtable/internal/config"
	"github.com/Iron-Ham/roundtable/internal/engine"
	"github.com/Iron-Ham/roundtable/internal/iteration"
)

// PolicyFor returns what the current phase of st allows. Every phase offers
// pass to agents and both control tools to the coach. Planning adds
// propose_tasks. Implementation adds write_file and restricts the agents to
// the assignees of the current layer.
func PolicyFor(st *iteration.State, cfg *config.Config) engine.Policy {
	s := cfg.Session
	p := engine.Policy{
		Phase:        string(st.Phase),
		Description:  st.Description,
		Agents:       slices.Clone(cfg.Participants.Agents),
		Coach:        cfg.Participants.Coach,
		CoachCadence: s.CoachCadence,
		History: engine.HistoryPolicy{
			Scope:  engine.HistoryScope(s.HistoryScope),
			Window: s.HistoryWindow,
		},
		Kickoff:         s.Kickoff,
		MaxTurns:        st.MaxTurns,
		MentionLookback: s.MentionLookback,
		ModelTimeout:    s.ModelTimeout(),
		AgentTools:      []string{engine.ToolPass},
		CoachTools:      []string{engine.ToolPhaseComplete, engine.ToolAskPM},
	}

	switch st.Phase {
	case iteration.PhasePlanning:
		p.AgentTools = append(p.AgentTools, engine.ToolProposeTasks)
	case iteration.PhaseImplementation:
		order, assigned := st.Assignments(st.Layer, cfg.Participants.Agents)
		p.Agents = order
		p.Layered = true
		p.Layer = st.Layer
		p.AgentTools = append(p.AgentTools, engine.ToolWriteFile)
		p.Tasks = make(map[string]string, len(order))
		for _, agent := range order {
			p.Tasks[agent] = taskList(st, assigned[agent])
		}
	}
	return p
}

// taskList renders the tasks shown in an agent's system text.
func taskList(st *iteration.State, ids []string) string {
	var b strings.Builder
	for _, id := range ids {
		t, ok := st.Task(id)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", t.ID, t.Description)
		if t.Done != "" {
			fmt.Fprintf(&b, " (done when: %s)", t.Done)
		}
		if t.Notes != "" {
			fmt.Fprintf(&b, "\n  notes: %s", t.Notes)
		}
	}
	return b.String()
}

// lanePolicies splits an implementation policy into one single-agent policy
// per assignee. Lanes have no coach; only the first may kick off the layer.
// The remaining turn budget is dealt out in order, so the lane budgets sum
// to what is left. Lanes that would get no turn are left out.
func lanePolicies(p engine.Policy, turnCount int) []engine.Policy {
	left := p.MaxTurns - turnCount
	if len(p.Agents) == 0 || left <= 0 {
		return nil
	}
	share, extra := left/len(p.Agents), left%len(p.Agents)
	out := make([]engine.Policy, 0, len(p.Agents))
	for i, agent := range p.Agents {
		budget := share
		if i < extra {
			budget++
		}
		if budget == 0 {
			break
		}
		lp := p
		lp.Agents = []string{agent}
		lp.Coach = ""
		lp.Kickoff = p.Kickoff && i == 0
		lp.MaxTurns = turnCount + budget
		lp.Tasks = map[string]string{agent: p.Tasks[agent]}
		out = append(out, lp)
	}
	return out
}
