package orchestrator

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/event"
	"github.com/Iron-Ham/roundtable/internal/iteration"
)

// Merge integrates the current layer's sandboxes of iteration id. With an
// agent only that agent's sandbox is merged; otherwise all are merged in
// order, stopping at the first conflict. Outstanding work is committed
// first. A conflict comes back as a *errors.MergeConflictError; the binding
// is left conflicted until it is resolved by hand and merged again, or
// abandoned.
func (o *Orchestrator) Merge(ctx context.Context, id, agent string) ([]iteration.SandboxBinding, error) {
	release, err := o.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := o.implementing(id)
	if err != nil {
		return nil, err
	}
	logger := o.logger.WithIteration(id).WithPhase(string(st.Phase))

	bindings := st.LayerSandboxes(st.Layer)
	if agent != "" {
		b, ok := st.Sandbox(agent)
		if !ok {
			return nil, errors.NewNotFoundError("sandbox", agent).WithCause(errors.ErrSandboxNotFound)
		}
		bindings = []iteration.SandboxBinding{*b}
	}

	bindings, err = o.sandboxes.CommitAll(ctx, bindings, fmt.Sprintf("roundtable: %s layer %d", id, st.Layer))
	if err != nil {
		return nil, err
	}

	var merged []iteration.SandboxBinding
	var mergeErr error
	if agent != "" {
		var b iteration.SandboxBinding
		b, mergeErr = o.sandboxes.Merge(ctx, id, bindings[0])
		merged = []iteration.SandboxBinding{b}
	} else {
		merged, mergeErr = o.sandboxes.MergeAll(ctx, id, bindings)
	}

	for i, b := range merged {
		before := bindings[i].Status
		st.PutSandbox(b)
		if b.Status == iteration.SandboxMerged && before != iteration.SandboxMerged {
			logger.WithParticipant(b.Agent).Info("sandbox merged", "branch", b.Branch)
			o.bus.Publish(event.NewSandboxMergedEvent(id, b.Agent, b.Branch))
		}
	}
	if err := o.store.Save(st); err != nil {
		return nil, err
	}

	var conflict *errors.MergeConflictError
	if errors.As(mergeErr, &conflict) {
		participants := conflict.Participants
		if len(participants) == 0 {
			participants = []string{conflict.Agent}
		}
		logger.Warn("merge conflict", "branch", conflict.Branch, "agent", conflict.Agent, "files", conflict.Files)
		o.bus.Publish(event.NewMergeConflictEvent(id, conflict.Agent, conflict.Branch, conflict.Files, participants))
	}
	return merged, mergeErr
}

// Abandon tears down agent's sandbox in the current layer without merging,
// which unblocks the next layer. The branch is kept.
func (o *Orchestrator) Abandon(ctx context.Context, id, agent string) (iteration.SandboxBinding, error) {
	release, err := o.lock(ctx, id)
	if err != nil {
		return iteration.SandboxBinding{}, err
	}
	defer release()

	st, err := o.implementing(id)
	if err != nil {
		return iteration.SandboxBinding{}, err
	}
	b, ok := st.Sandbox(agent)
	if !ok {
		return iteration.SandboxBinding{}, errors.NewNotFoundError("sandbox", agent).WithCause(errors.ErrSandboxNotFound)
	}
	out, err := o.sandboxes.Abandon(ctx, *b)
	if err != nil {
		return iteration.SandboxBinding{}, err
	}
	st.PutSandbox(out)
	if err := o.store.Save(st); err != nil {
		return iteration.SandboxBinding{}, err
	}
	o.logger.WithIteration(id).WithParticipant(agent).Info("sandbox abandoned", "branch", out.Branch)
	return out, nil
}

func (o *Orchestrator) implementing(id string) (*iteration.State, error) {
	st, err := o.load(id)
	if err != nil {
		return nil, err
	}
	if st.Phase != iteration.PhaseImplementation {
		return nil, errors.NewIterationError("sandboxes exist only during implementation", errors.ErrPhaseOrder).
			WithIterationID(id).WithPhase(string(st.Phase))
	}
	return st, nil
}
