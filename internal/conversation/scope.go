package conversation

// Scoped returns the messages after the most recent boundary marker, i.e.
// the current phase's history. With no marker it returns msgs unchanged.
// The marker itself is not included.
func Scoped(msgs []Message) []Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].PhaseBoundary {
			return msgs[i+1:]
		}
	}
	return msgs
}

// Window returns the last n messages of msgs. n <= 0 returns msgs.
func Window(msgs []Message, n int) []Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// Conversational drops control records (pass notes and boundary markers).
func Conversational(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.IsControl() {
			out = append(out, m)
		}
	}
	return out
}

// LastBoundary returns the most recent boundary marker.
func LastBoundary(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].PhaseBoundary {
			return msgs[i], true
		}
	}
	return Message{}, false
}
