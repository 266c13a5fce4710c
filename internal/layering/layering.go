// Package layering partitions a task dependency graph into execution layers.
//
// layer(t) is 0 for a task without dependencies and 1 + max(layer(d)) over
// its dependencies otherwise. Tasks that share a layer have no ordering
// relation and may run concurrently. The assignment depends only on the
// graph: input order does not matter and ties are broken by task id.
package layering

import (
	"fmt"
	"slices"

	"github.com/Iron-Ham/roundtable/internal/errors"
)

// Node is one task and the ids it depends on.
type Node struct {
	ID        string
	DependsOn []string
}

// Result is a complete layer assignment.
type Result struct {
	// Layers maps each task id to its layer.
	Layers map[string]int
	// Order lists the task ids of each layer, sorted.
	Order [][]string
}

// Depth returns the number of layers.
func (r *Result) Depth() int { return len(r.Order) }

// Assign computes the layer of every node. It fails without a partial result
// on an empty or duplicate id, a dependency on an unknown task, or a cycle.
// A cycle is reported as *errors.DependencyCycleError naming every task on it.
func Assign(nodes []Node) (*Result, error) {
	deps := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return nil, errors.NewValidationError("task id cannot be empty").WithField("id")
		}
		if _, dup := deps[n.ID]; dup {
			return nil, errors.NewValidationError(fmt.Sprintf("duplicate task id %q", n.ID)).WithField("id").WithValue(n.ID)
		}
		d := slices.Clone(n.DependsOn)
		slices.Sort(d)
		deps[n.ID] = slices.Compact(d)
	}

	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		for _, d := range deps[id] {
			if _, ok := deps[d]; !ok {
				return nil, errors.NewValidationError(fmt.Sprintf("task %q depends on unknown task %q", id, d)).
					WithField("depends_on").WithValue(d).WithCause(errors.ErrUnknownDependency)
			}
		}
	}

	if cycle := findCycle(ids, deps); cycle != nil {
		return nil, errors.NewDependencyCycleError(cycle)
	}

	layers := make(map[string]int, len(ids))
	var layerOf func(id string) int
	layerOf = func(id string) int {
		if l, ok := layers[id]; ok {
			return l
		}
		l := 0
		for _, d := range deps[id] {
			l = max(l, layerOf(d)+1)
		}
		layers[id] = l
		return l
	}

	res := &Result{Layers: layers}
	for _, id := range ids {
		l := layerOf(id)
		for len(res.Order) <= l {
			res.Order = append(res.Order, nil)
		}
		res.Order[l] = append(res.Order[l], id)
	}
	return res, nil
}

// findCycle returns the first cycle found by a depth-first walk in id order,
// rotated to start at its smallest id, or nil.
func findCycle(ids []string, deps map[string][]string) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(ids))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = visiting
		stack = append(stack, id)
		for _, d := range deps[id] {
			switch state[d] {
			case visiting:
				start := slices.Index(stack, d)
				return rotate(slices.Clone(stack[start:]))
			case unvisited:
				if c := visit(d); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range ids {
		if state[id] == unvisited {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

func rotate(cycle []string) []string {
	minAt := 0
	for i, id := range cycle {
		if id < cycle[minAt] {
			minAt = i
		}
	}
	return append(cycle[minAt:], cycle[:minAt]...)
}
