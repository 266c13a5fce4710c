package orchestrator

import (
	"context"
	"os"

	"github.com/Iron-Ham/roundtable/internal/approval"
	"github.com/Iron-Ham/roundtable/internal/checkpoint"
	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/event"
	"github.com/Iron-Ham/roundtable/internal/iteration"
)

// Checkpoint takes a manual checkpoint of iteration id.
func (o *Orchestrator) Checkpoint(ctx context.Context, id, description string) (*checkpoint.Meta, error) {
	release, err := o.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := o.store.Load(id)
	if err != nil {
		return nil, err
	}
	return o.snapshot(st, description, checkpoint.TriggerManual)
}

// Checkpoints lists the checkpoints of iteration id by number.
func (o *Orchestrator) Checkpoints(id string) ([]checkpoint.Meta, error) {
	if _, err := o.store.Load(id); err != nil {
		return nil, err
	}
	mgr, err := o.checkpoints(id)
	if err != nil {
		return nil, err
	}
	return mgr.List()
}

// Restore replaces the iteration directory of id with checkpoint n and
// re-applies the checkpoint's phase and counters to the state. No
// checkpoint of the current state is taken; callers that want one take it
// first. Sandboxes and branches are git state and are left as they are.
func (o *Orchestrator) Restore(ctx context.Context, id string, n int) (*checkpoint.Meta, error) {
	release, err := o.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := o.store.Load(id); err != nil {
		return nil, err
	}
	mgr, err := o.checkpoints(id)
	if err != nil {
		return nil, err
	}
	meta, err := mgr.Restore(n)
	if err != nil {
		return nil, err
	}

	st, err := o.store.Load(id)
	if err != nil {
		return nil, errors.Wrapf(err, "load state restored from checkpoint %d", n)
	}
	if err := st.ApplyCheckpoint(iteration.Phase(meta.Phase), iteration.Status(meta.Status), meta.MaxTurns, meta.TurnCount); err != nil {
		return nil, err
	}
	if err := o.store.Save(st); err != nil {
		return nil, err
	}
	o.logger.WithIteration(id).Info("checkpoint restored", "number", n, "phase", meta.Phase)
	o.bus.Publish(event.NewCheckpointRestoredEvent(id, n, meta.Phase))
	return meta, nil
}

// Approvals lists the approval requests of iteration id.
func (o *Orchestrator) Approvals(id string) ([]approval.Request, error) {
	if _, err := o.store.Load(id); err != nil {
		return nil, err
	}
	return o.approvals(id).List()
}

// Approve accepts a held write and applies its content to the root it was
// requested for.
func (o *Orchestrator) Approve(ctx context.Context, id, requestID, note string) (approval.Request, error) {
	return o.resolve(ctx, id, requestID, true, note)
}

// Deny rejects a held write. Nothing is written.
func (o *Orchestrator) Deny(ctx context.Context, id, requestID, note string) (approval.Request, error) {
	return o.resolve(ctx, id, requestID, false, note)
}

func (o *Orchestrator) resolve(ctx context.Context, id, requestID string, approve bool, note string) (approval.Request, error) {
	release, err := o.lock(ctx, id)
	if err != nil {
		return approval.Request{}, err
	}
	defer release()

	store := o.approvals(id)
	req, err := store.Get(requestID)
	if err != nil {
		return approval.Request{}, err
	}
	if approve && req.Status == approval.StatusPending {
		if _, err := os.Stat(req.Root); err != nil {
			return approval.Request{}, errors.NewNotFoundError("write root", req.Root).WithCause(err)
		}
	}
	req, err = store.Resolve(req.ID, approve, note)
	if err != nil {
		return approval.Request{}, err
	}
	logger := o.logger.WithIteration(id).WithParticipant(req.Agent)
	o.bus.Publish(event.NewApprovalResolvedEvent(id, req.ID, req.Path, approve))
	if !approve {
		logger.Info("write denied by human", "path", req.Path, "id", req.ID)
		return req, nil
	}
	if err := writeFile(req.Root, req.Path, req.Content); err != nil {
		return req, err
	}
	logger.Info("approved write applied", "path", req.Path, "root", req.Root, "id", req.ID)
	o.bus.Publish(event.NewFileWrittenEvent(id, req.Agent, req.Path, req.Root))
	return req, nil
}
