package iteration

import (
	"slices"
	"time"

	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/record"
)

// State is the persisted state of one iteration. Unknown keys are kept in
// Extra and written back unchanged.
type State struct {
	ID          string           `json:"id"`
	Description string           `json:"description"`
	Status      Status           `json:"status"`
	Phase       Phase            `json:"phase"`
	Layer       int              `json:"layer"`
	MaxTurns    int              `json:"max_turns"`
	TurnCount   int              `json:"turn_count"`
	Tasks       []Task           `json:"tasks,omitempty"`
	Sandboxes   []SandboxBinding `json:"sandboxes,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`

	Extra record.Extra `json:"-"`
}

type stateAlias State

// MarshalJSON implements json.Marshaler, including Extra keys.
func (s State) MarshalJSON() ([]byte, error) {
	return record.Marshal(stateAlias(s), s.Extra)
}

// UnmarshalJSON implements json.Unmarshaler, retaining unknown keys.
func (s *State) UnmarshalJSON(data []byte) error {
	var a stateAlias
	extra, err := record.Unmarshal(data, &a)
	if err != nil {
		return err
	}
	*s = State(a)
	s.Extra = extra
	return nil
}

// Task is one unit of implementation work.
type Task struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Assignee    string   `json:"assignee"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Layer       *int     `json:"layer,omitempty"`
	Done        string   `json:"done,omitempty"`
	Notes       string   `json:"notes,omitempty"`

	Extra record.Extra `json:"-"`
}

type taskAlias Task

// MarshalJSON implements json.Marshaler, including Extra keys.
func (t Task) MarshalJSON() ([]byte, error) {
	return record.Marshal(taskAlias(t), t.Extra)
}

// UnmarshalJSON implements json.Unmarshaler, retaining unknown keys.
func (t *Task) UnmarshalJSON(data []byte) error {
	var a taskAlias
	extra, err := record.Unmarshal(data, &a)
	if err != nil {
		return err
	}
	*t = Task(a)
	t.Extra = extra
	return nil
}

// SandboxStatus is the lifecycle of a sandbox binding.
type SandboxStatus string

const (
	SandboxActive     SandboxStatus = "active"
	SandboxCommitted  SandboxStatus = "committed"
	SandboxConflicted SandboxStatus = "conflicted"
	SandboxMerged     SandboxStatus = "merged"
	SandboxAbandoned  SandboxStatus = "abandoned"
)

// Resolved reports whether the binding no longer blocks the next layer.
func (s SandboxStatus) Resolved() bool {
	return s == SandboxMerged || s == SandboxAbandoned
}

// SandboxBinding ties one agent to one worktree and branch for one layer.
type SandboxBinding struct {
	Agent         string        `json:"agent"`
	Layer         int           `json:"layer"`
	Tasks         []string      `json:"tasks"`
	Path          string        `json:"path"`
	Branch        string        `json:"branch"`
	Status        SandboxStatus `json:"status"`
	ConflictFiles []string      `json:"conflict_files,omitempty"`

	Extra record.Extra `json:"-"`
}

type sandboxAlias SandboxBinding

// MarshalJSON implements json.Marshaler, including Extra keys.
func (b SandboxBinding) MarshalJSON() ([]byte, error) {
	return record.Marshal(sandboxAlias(b), b.Extra)
}

// UnmarshalJSON implements json.Unmarshaler, retaining unknown keys.
func (b *SandboxBinding) UnmarshalJSON(data []byte) error {
	var a sandboxAlias
	extra, err := record.Unmarshal(data, &a)
	if err != nil {
		return err
	}
	*b = SandboxBinding(a)
	b.Extra = extra
	return nil
}

// AdvancePhase moves the iteration to the phase after the current one.
// Any other transition is an ErrPhaseOrder. Going back is only possible by
// restoring a checkpoint.
func (s *State) AdvancePhase(to Phase) error {
	next, ok := s.Phase.Next()
	if !ok || next != to {
		return errors.NewIterationError("cannot move from "+string(s.Phase)+" to "+string(to), errors.ErrPhaseOrder).
			WithIterationID(s.ID).WithPhase(string(s.Phase))
	}
	s.Phase = to
	if to != PhaseImplementation {
		s.Layer = 0
	}
	return nil
}

// TurnsLeft returns the number of agent turns before the ceiling.
func (s *State) TurnsLeft() int {
	if left := s.MaxTurns - s.TurnCount; left > 0 {
		return left
	}
	return 0
}

// Task returns the task with the given id.
func (s *State) Task(id string) (*Task, bool) {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i], true
		}
	}
	return nil, false
}

// LayerCount returns one more than the highest assigned task layer, or 0
// when tasks have not been layered.
func (s *State) LayerCount() int {
	n := 0
	for _, t := range s.Tasks {
		if t.Layer != nil && *t.Layer+1 > n {
			n = *t.Layer + 1
		}
	}
	return n
}

// TasksInLayer returns the tasks assigned to layer, in stored order.
func (s *State) TasksInLayer(layer int) []Task {
	var out []Task
	for _, t := range s.Tasks {
		if t.Layer != nil && *t.Layer == layer {
			out = append(out, t)
		}
	}
	return out
}

// Assignments maps each agent with work in layer to its task ids. Agents are
// returned in the order given so that dispatch order follows configuration.
func (s *State) Assignments(layer int, agents []string) (order []string, tasks map[string][]string) {
	tasks = make(map[string][]string)
	for _, t := range s.TasksInLayer(layer) {
		tasks[t.Assignee] = append(tasks[t.Assignee], t.ID)
	}
	for _, a := range agents {
		if _, ok := tasks[a]; ok {
			order = append(order, a)
		}
	}
	// Assignees that are not configured agents still get a lane, after the
	// configured ones, sorted for determinism.
	var extra []string
	for a := range tasks {
		if !slices.Contains(order, a) {
			extra = append(extra, a)
		}
	}
	slices.Sort(extra)
	return append(order, extra...), tasks
}

// LayerSandboxes returns the bindings created for layer.
func (s *State) LayerSandboxes(layer int) []SandboxBinding {
	var out []SandboxBinding
	for _, b := range s.Sandboxes {
		if b.Layer == layer {
			out = append(out, b)
		}
	}
	return out
}

// Sandbox returns the binding of agent in the current layer.
func (s *State) Sandbox(agent string) (*SandboxBinding, bool) {
	for i := range s.Sandboxes {
		if s.Sandboxes[i].Agent == agent && s.Sandboxes[i].Layer == s.Layer {
			return &s.Sandboxes[i], true
		}
	}
	return nil, false
}

// PutSandbox inserts or replaces the binding for (agent, layer).
func (s *State) PutSandbox(b SandboxBinding) {
	for i := range s.Sandboxes {
		if s.Sandboxes[i].Agent == b.Agent && s.Sandboxes[i].Layer == b.Layer {
			s.Sandboxes[i] = b
			return
		}
	}
	s.Sandboxes = append(s.Sandboxes, b)
}

// ApplyCheckpoint resets the fields a checkpoint records. It is the only way
// an iteration moves back to an earlier phase. Unknown phases and statuses
// are rejected and leave s unchanged.
func (s *State) ApplyCheckpoint(phase Phase, status Status, maxTurns, turnCount int) error {
	if !phase.Valid() {
		return errors.NewValidationError("unknown phase in checkpoint").WithField("phase").WithValue(string(phase))
	}
	if !status.Valid() {
		return errors.NewValidationError("unknown status in checkpoint").WithField("status").WithValue(string(status))
	}
	s.Phase = phase
	s.Status = status
	s.MaxTurns = maxTurns
	s.TurnCount = turnCount
	if phase != PhaseImplementation {
		s.Layer = 0
	}
	return nil
}
