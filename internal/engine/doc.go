// Package engine is the turn dispatch state machine of a phase.
//
// A session is driven by a Policy describing what the phase allows: which
// agents take turns, how often the coach speaks, which tools are offered and
// how much history prompts see. The engine calls an injected Model once per
// turn and interprets the returned tool calls as control signals. It
// performs no I/O of its own. Every observable action (appending a message,
// recording a diagnostic, writing a file) is yielded as an Event for the
// caller to apply, and the final event of a session carries its Outcome.
//
//	eng := engine.New(model, engine.WithGuard(guard), engine.WithApprovals(store))
//	for ev := range eng.Run(ctx, session) {
//		if err := apply(ev); err != nil {
//			break
//		}
//	}
//
// Dispatch is sequential: exactly one model call is in flight per session.
// FanOut runs several sessions side by side and merges their events for a
// single consumer.
package engine
