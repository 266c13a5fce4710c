package iteration

import (
	"fmt"
	"slices"
)

// Phase is one stage of the fixed iteration lifecycle.
type Phase string

const (
	PhaseRefinement     Phase = "refinement"
	PhasePlanning       Phase = "planning"
	PhasePreCodeReview  Phase = "pre-code-review"
	PhaseImplementation Phase = "implementation"
	PhaseCodeReview     Phase = "code-review"
)

var phaseOrder = []Phase{
	PhaseRefinement,
	PhasePlanning,
	PhasePreCodeReview,
	PhaseImplementation,
	PhaseCodeReview,
}

// Phases returns the lifecycle in order.
func Phases() []Phase {
	return slices.Clone(phaseOrder)
}

// Index returns the position of p in the lifecycle, or -1.
func (p Phase) Index() int {
	return slices.Index(phaseOrder, p)
}

// Valid reports whether p is a lifecycle phase.
func (p Phase) Valid() bool { return p.Index() >= 0 }

// Next returns the phase after p. ok is false for the last phase.
func (p Phase) Next() (next Phase, ok bool) {
	i := p.Index()
	if i < 0 || i == len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[i+1], true
}

// String returns the phase name.
func (p Phase) String() string { return string(p) }

// ParsePhase converts a name into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Status is the overall progress of an iteration.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone:
		return true
	}
	return false
}
