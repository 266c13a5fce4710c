package engine

import (
	"context"
	"testing"
	"time"
)

func laneSessions() []Lane {
	lane := func(agent string) Lane {
		p := testPolicy()
		p.Phase = "implementation"
		p.Layered = true
		p.Agents = []string{agent}
		p.MaxTurns = 2
		return Lane{Name: agent, Session: Session{Iteration: "it", Policy: p}}
	}
	return []Lane{lane("alice"), lane("bob")}
}

func TestFanOut(t *testing.T) {
	model := newScripted()
	eng := New(model)

	turns := make(map[string]int)
	final := make(map[string]Event)
	for le := range eng.FanOut(context.Background(), laneSessions()) {
		if _, done := final[le.Lane]; done {
			t.Fatalf("lane %s yielded %s after its final event", le.Lane, le.Event.EventType())
		}
		if te, ok := le.Event.(TurnEvent); ok {
			if te.Agent != le.Lane {
				t.Errorf("lane %s reported a turn by %s", le.Lane, te.Agent)
			}
			turns[le.Lane]++
		}
		if le.Event.Outcome() != OutcomeNone {
			final[le.Lane] = le.Event
		}
	}

	for _, name := range []string{"alice", "bob"} {
		if turns[name] != 2 {
			t.Errorf("lane %s took %d turns, want 2", name, turns[name])
		}
		if _, ok := final[name].(MaxTurnsEvent); !ok {
			t.Errorf("lane %s ended with %#v", name, final[name])
		}
	}
}

func TestFanOut_EarlyBreak(t *testing.T) {
	eng := New(ModelFunc(func(ctx context.Context, req Request) (Response, error) {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
			return Response{Text: req.Participant}, nil
		}
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range eng.FanOut(context.Background(), laneSessions()) {
			break
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("FanOut did not return after the consumer stopped")
	}
}

func TestFanOut_NoLanes(t *testing.T) {
	for le := range New(newScripted()).FanOut(context.Background(), nil) {
		t.Fatalf("unexpected event %#v", le)
	}
}
