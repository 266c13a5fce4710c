package orchestrator

import (
	"context"
	"fmt"
	"slices"

	"github.com/Iron-Ham/roundtable/internal/conversation"
	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/event"
	"github.com/Iron-Ham/roundtable/internal/iteration"
	"github.com/Iron-Ham/roundtable/internal/layering"
	"github.com/Iron-Ham/roundtable/internal/logging"
	"github.com/Iron-Ham/roundtable/internal/worktree"
)

// AdvanceResult describes one transition.
type AdvanceResult struct {
	From iteration.Phase
	To   iteration.Phase
	// Layer is set when the transition enters an implementation layer
	Layer *int
	// Sandboxes are the bindings created for the new layer
	Sandboxes []iteration.SandboxBinding
	// Done is set when code review finished the iteration
	Done       bool
	Checkpoint int
}

// Advance moves iteration id one step forward: to the next phase, or to the
// next layer while implementation layers remain. An automatic checkpoint is
// taken first. A failed precondition leaves the state as it was, except that
// uncommitted sandbox work of the current layer is committed.
func (o *Orchestrator) Advance(ctx context.Context, id string) (*AdvanceResult, error) {
	release, err := o.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := o.load(id)
	if err != nil {
		return nil, err
	}
	logger := o.logger.WithIteration(id).WithPhase(string(st.Phase))

	meta, err := o.autoCheckpoint(st, "advance")
	if err != nil {
		return nil, err
	}
	res := &AdvanceResult{From: st.Phase, Checkpoint: meta.Number}

	switch st.Phase {
	case iteration.PhasePlanning:
		err = o.leavePlanning(st)
	case iteration.PhasePreCodeReview:
		err = o.enterImplementation(ctx, st, res)
	case iteration.PhaseImplementation:
		err = o.nextLayer(ctx, st, res)
	case iteration.PhaseCodeReview:
		st.Status = iteration.StatusDone
		res.To, res.Done = st.Phase, true
		if err := o.store.Save(st); err != nil {
			return nil, err
		}
		logger.Info("iteration done")
		return res, nil
	default:
		next, _ := st.Phase.Next()
		err = st.AdvancePhase(next)
	}
	if err != nil {
		logger.Warn("advance refused", "error", err)
		return nil, err
	}
	if res.To == "" {
		res.To = st.Phase
	}
	if err := o.commitTransition(st, res, logger); err != nil {
		return nil, err
	}
	return res, nil
}

// commitTransition saves st and writes the single boundary marker of the
// transition.
func (o *Orchestrator) commitTransition(st *iteration.State, res *AdvanceResult, logger *logging.Logger) error {
	if err := o.store.Save(st); err != nil {
		return err
	}
	msg, err := o.conversation(st.ID).Append(conversation.NewBoundary(st.ID, string(res.From), string(res.To), res.Layer))
	if err != nil {
		return errors.Wrap(err, "append boundary marker")
	}
	o.bus.Publish(event.NewMessageAppendedEvent(msg))
	o.bus.Publish(event.NewPhaseAdvancedEvent(st.ID, string(res.From), string(res.To), res.Layer))
	logger.Info("phase advanced", "from", string(res.From), "to", string(res.To), "layer", res.Layer)
	return nil
}

// leavePlanning assigns a layer to every task. A cycle or unknown
// dependency fails before st is touched.
func (o *Orchestrator) leavePlanning(st *iteration.State) error {
	layers, err := assignLayers(st.Tasks)
	if err != nil {
		return err
	}
	next := *st
	if err := next.AdvancePhase(iteration.PhasePreCodeReview); err != nil {
		return err
	}
	next.Tasks = slices.Clone(st.Tasks)
	for i := range next.Tasks {
		l := layers.Layers[next.Tasks[i].ID]
		next.Tasks[i].Layer = &l
	}
	*st = next
	return nil
}

func assignLayers(tasks []iteration.Task) (*layering.Result, error) {
	if len(tasks) == 0 {
		return nil, errors.NewValidationError("no tasks to layer").WithField("tasks").WithCause(errors.ErrNoTasks)
	}
	nodes := make([]layering.Node, 0, len(tasks))
	for _, t := range tasks {
		nodes = append(nodes, layering.Node{ID: t.ID, DependsOn: t.DependsOn})
	}
	return layering.Assign(nodes)
}

func (o *Orchestrator) enterImplementation(ctx context.Context, st *iteration.State, res *AdvanceResult) error {
	if st.LayerCount() == 0 {
		return errors.NewValidationError("tasks have no layers").WithField("tasks").WithCause(errors.ErrNoTasks)
	}
	created, err := o.openLayer(ctx, st, 0)
	if err != nil {
		return err
	}
	if err := st.AdvancePhase(iteration.PhaseImplementation); err != nil {
		return err
	}
	o.bindLayer(st, 0, created, res)
	return nil
}

// nextLayer commits the current layer and opens the next one, or moves to
// code review after the last layer. Every sandbox must be merged or
// abandoned first.
func (o *Orchestrator) nextLayer(ctx context.Context, st *iteration.State, res *AdvanceResult) error {
	current := st.LayerSandboxes(st.Layer)
	committed, err := o.sandboxes.CommitAll(ctx, current, fmt.Sprintf("roundtable: %s layer %d", st.ID, st.Layer))
	for _, b := range committed {
		st.PutSandbox(b)
	}
	if saveErr := o.store.Save(st); saveErr != nil {
		return saveErr
	}
	if err != nil {
		return err
	}

	next := st.Layer + 1
	if next >= st.LayerCount() {
		if err := worktree.CheckResolved(st.Sandboxes, next); err != nil {
			return err
		}
		return st.AdvancePhase(iteration.PhaseCodeReview)
	}

	created, err := o.openLayer(ctx, st, next)
	if err != nil {
		return err
	}
	o.bindLayer(st, next, created, res)
	res.To = iteration.PhaseImplementation
	return nil
}

// openLayer creates the sandboxes of layer. On failure the sandboxes created
// so far are torn down again so st needs no change.
func (o *Orchestrator) openLayer(ctx context.Context, st *iteration.State, layer int) ([]iteration.SandboxBinding, error) {
	order, tasks := st.Assignments(layer, o.cfg.Participants.Agents)
	created, err := o.sandboxes.CreateLayer(ctx, st.ID, layer, order, tasks, st.Sandboxes)
	if err != nil {
		for _, b := range created {
			if tdErr := o.sandboxes.Teardown(context.WithoutCancel(ctx), b); tdErr != nil {
				o.logger.WithIteration(st.ID).Warn("teardown after failed layer setup", "path", b.Path, "error", tdErr)
			}
		}
		return nil, err
	}
	return created, nil
}

func (o *Orchestrator) bindLayer(st *iteration.State, layer int, created []iteration.SandboxBinding, res *AdvanceResult) {
	st.Layer = layer
	for _, b := range created {
		st.PutSandbox(b)
		o.bus.Publish(event.NewSandboxCreatedEvent(st.ID, b.Agent, b.Layer, b.Branch, b.Path))
	}
	res.Layer = &layer
	res.Sandboxes = created
}
