package conversation

import (
	"context"
	"testing"
	"time"
)

func TestFollow_DeliversExistingAndAppended(t *testing.T) {
	store := NewStore(t.TempDir())
	store.Append(Message{Sender: "alice", Content: "before"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, store.Path(), func(m Message) { got <- m })
	}()

	wait := func() Message {
		t.Helper()
		select {
		case m := <-got:
			return m
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a followed message")
			return Message{}
		}
	}

	if m := wait(); m.Content != "before" {
		t.Errorf("first message = %q, want before", m.Content)
	}

	// Give the watcher a moment; the first drain already happened.
	time.Sleep(50 * time.Millisecond)
	store.Append(Message{Sender: "bob", Content: "after"})
	if m := wait(); m.Content != "after" {
		t.Errorf("second message = %q, want after", m.Content)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Follow() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Follow() did not return after cancel")
	}
}
