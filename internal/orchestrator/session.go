package orchestrator

import (
	"context"
	"fmt"
	"iter"

	"github.com/Iron-Ham/roundtable/internal/conversation"
	"github.com/Iron-Ham/roundtable/internal/engine"
	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/event"
	"github.com/Iron-Ham/roundtable/internal/iteration"
)

// RunOptions configures one session.
type RunOptions struct {
	// Reply answers a pending coach question before any turn
	Reply string
	// Parallel runs each implementation assignee in its own lane
	Parallel bool
	// Continue labels the session as a resumption in its checkpoint
	Continue bool
}

// Stop is how one lane of a session ended.
type Stop struct {
	Lane    string
	Outcome engine.Outcome
	// Reason is the engine stop event type
	Reason string
	// Detail is what the human needs to act: a question, a summary or an error
	Detail string
	Err    error
}

// Result reports a finished session.
type Result struct {
	Iteration  string
	Phase      iteration.Phase
	Outcome    engine.Outcome
	Stops      []Stop
	TurnCount  int
	Checkpoint int
}

// Err returns the first lane error, if any.
func (r *Result) Err() error {
	for _, s := range r.Stops {
		if s.Err != nil {
			return s.Err
		}
	}
	return nil
}

// Run drives one session of iteration id's current phase until it pauses,
// completes or fails. An automatic checkpoint is taken first. The returned
// error covers persistence and setup; how the session itself ended is in the
// Result.
func (o *Orchestrator) Run(ctx context.Context, id string, opts RunOptions) (*Result, error) {
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

	what := "run"
	if opts.Continue {
		what = "continue"
	}
	meta, err := o.autoCheckpoint(st, what)
	if err != nil {
		return nil, err
	}

	if st.Status == iteration.StatusPending {
		st.Status = iteration.StatusInProgress
		if err := o.store.Save(st); err != nil {
			return nil, err
		}
	}

	h := &handler{
		o:         o,
		st:        st,
		log:       o.conversation(id),
		approvals: o.approvals(id),
		logger:    logger,
	}
	if d := h.watch(); d != nil {
		h.detector = d
		defer d.Stop()
	}

	eng := engine.New(o.model,
		engine.WithTemplates(o.templates),
		engine.WithGuard(o.guard),
		engine.WithApprovals(h.approvals),
		engine.WithClock(o.now),
	)
	policy := PolicyFor(st, o.cfg)

	res := &Result{Iteration: id, Phase: st.Phase, Checkpoint: meta.Number}
	logger.Info("session started", "turn_count", st.TurnCount, "max_turns", st.MaxTurns,
		"agents", policy.Agents, "parallel", opts.Parallel)

	if opts.Parallel && policy.Layered && len(policy.Agents) > 1 {
		err = o.runLanes(ctx, eng, h, policy, opts.Reply, res)
	} else {
		err = o.runSingle(ctx, eng, h, policy, opts.Reply, res)
	}
	if err != nil {
		logger.Error("session aborted", "error", err)
		return nil, err
	}

	res.TurnCount = st.TurnCount
	res.Outcome = combine(res.Stops)
	for _, s := range res.Stops {
		o.bus.Publish(event.NewSessionStoppedEvent(id, string(st.Phase), string(s.Outcome), s.Reason, s.Detail))
	}
	logger.Info("session stopped", "outcome", string(res.Outcome), "turn_count", st.TurnCount)
	return res, nil
}

func (o *Orchestrator) runSingle(ctx context.Context, eng *engine.Engine, h *handler, p engine.Policy, reply string, res *Result) error {
	history, err := h.log.ReadAll()
	if err != nil {
		return err
	}
	events := eng.Run(ctx, engine.Session{
		Iteration:  h.st.ID,
		Policy:     p,
		History:    history,
		TurnCount:  h.st.TurnCount,
		HumanReply: reply,
	})
	stop, err := drain(events, func(ev engine.Event) error { return h.apply("", ev) })
	if err != nil {
		return err
	}
	res.Stops = append(res.Stops, describe("", stop))
	return nil
}

// runLanes fans the layer out to one lane per assignee. A reply is persisted
// before the lanes start so that every lane sees it.
func (o *Orchestrator) runLanes(ctx context.Context, eng *engine.Engine, h *handler, p engine.Policy, reply string, res *Result) error {
	if reply != "" {
		if err := h.message(conversation.Message{
			Sender:    conversation.SenderHuman,
			Iteration: h.st.ID,
			Content:   reply,
			Timestamp: o.now().UTC(),
		}); err != nil {
			return err
		}
	}
	history, err := h.log.ReadAll()
	if err != nil {
		return err
	}

	var lanes []engine.Lane
	for _, lp := range lanePolicies(p, h.st.TurnCount) {
		lanes = append(lanes, engine.Lane{
			Name: lp.Agents[0],
			Session: engine.Session{
				Iteration: h.st.ID,
				Policy:    lp,
				History:   history,
				TurnCount: h.st.TurnCount,
			},
		})
	}

	if len(lanes) == 0 {
		res.Stops = append(res.Stops, describe("", engine.NewMaxTurnsEvent(h.st.TurnCount, p.MaxTurns)))
		return nil
	}

	h.counting = true
	for le := range eng.FanOut(ctx, lanes) {
		if le.Event.Outcome() != engine.OutcomeNone {
			res.Stops = append(res.Stops, describe(le.Lane, le.Event))
			continue
		}
		if err := h.apply(le.Lane, le.Event); err != nil {
			return err
		}
	}
	return nil
}

// drain applies every event of seq and returns the stop event.
func drain(seq iter.Seq[engine.Event], apply func(engine.Event) error) (engine.Event, error) {
	for ev := range seq {
		if ev.Outcome() != engine.OutcomeNone {
			return ev, nil
		}
		if err := apply(ev); err != nil {
			return nil, err
		}
	}
	return nil, errors.NewValidationError("session ended without a stop event")
}

// describe turns a stop event into something a human can act on.
func describe(lane string, ev engine.Event) Stop {
	s := Stop{Lane: lane, Outcome: ev.Outcome(), Reason: ev.EventType()}
	switch e := ev.(type) {
	case engine.PhaseCompleteEvent:
		s.Detail = e.Summary
	case engine.CoachAskedPMEvent:
		s.Detail = e.Question
	case engine.AwaitingHumanEvent:
		s.Detail = e.Question
	case engine.ApprovalsPendingEvent:
		s.Detail = fmt.Sprintf("%d approval request(s) pending", e.Pending)
	case engine.MaxTurnsEvent:
		s.Detail = fmt.Sprintf("turn ceiling reached (%d/%d)", e.TurnCount, e.MaxTurns)
	case engine.ModelFailureEvent:
		s.Err = e.Err
		s.Detail = fmt.Sprintf("model call for %s failed: %v", e.Participant, e.Err)
	case engine.CancelledEvent:
		s.Detail = "cancelled"
	case engine.InvalidStateEvent:
		s.Err = e.Err
		s.Detail = e.Err.Error()
	}
	return s
}

// combine returns the most severe outcome of stops: error over paused over
// complete.
func combine(stops []Stop) engine.Outcome {
	out := engine.OutcomeComplete
	for _, s := range stops {
		switch s.Outcome {
		case engine.OutcomeError:
			return engine.OutcomeError
		case engine.OutcomePaused:
			out = engine.OutcomePaused
		}
	}
	return out
}
