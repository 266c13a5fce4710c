package engine

import (
	"context"
	"iter"

	"github.com/sourcegraph/conc"
)

// Lane is one session dispatched alongside others, typically one agent
// working in its own sandbox during a layer.
type Lane struct {
	Name    string
	Session Session
}

// LaneEvent is an event tagged with the lane that produced it.
type LaneEvent struct {
	Lane  string
	Event Event
}

type laneItem struct {
	ev  LaneEvent
	ack chan struct{}
}

// FanOut runs every lane's session concurrently and merges their events into
// one sequence for a single consumer. A lane does not continue past an event
// until the consumer has pulled the next one, so per-lane ordering and
// persist-before-continue hold. Breaking out cancels all lanes.
func (e *Engine) FanOut(ctx context.Context, lanes []Lane) iter.Seq[LaneEvent] {
	return func(yield func(LaneEvent) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		out := make(chan laneItem)
		stop := make(chan struct{})
		var wg conc.WaitGroup
		for _, l := range lanes {
			wg.Go(func() {
				for ev := range e.Run(ctx, l.Session) {
					ack := make(chan struct{})
					select {
					case out <- laneItem{ev: LaneEvent{Lane: l.Name, Event: ev}, ack: ack}:
					case <-stop:
						return
					}
					select {
					case <-ack:
					case <-stop:
						return
					}
				}
			})
		}
		go func() {
			wg.Wait()
			close(out)
		}()

		for it := range out {
			if !yield(it.ev) {
				close(stop)
				cancel()
				for range out {
				}
				return
			}
			close(it.ack)
		}
	}
}
