package conversation

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

func TestStore_AppendAndReadAll(t *testing.T) {
	store := NewStore(t.TempDir())

	first, err := store.Append(Message{Sender: "alice", Iteration: "it", Content: "hello"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if first.ID == "" {
		t.Error("Append() did not assign an ID")
	}
	if first.Timestamp.IsZero() {
		t.Error("Append() did not assign a timestamp")
	}
	if _, err := store.Append(Message{Sender: "bob", Iteration: "it", Content: "hi"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	msgs, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("ReadAll() returned %d messages, want 2", len(msgs))
	}
	if msgs[0].Sender != "alice" || msgs[1].Sender != "bob" {
		t.Errorf("order = %s, %s", msgs[0].Sender, msgs[1].Sender)
	}
	if msgs[0].ID != first.ID {
		t.Errorf("ID = %q, want %q", msgs[0].ID, first.ID)
	}
}

func TestStore_AppendRequiresSender(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Append(Message{Content: "x"}); err == nil {
		t.Error("Append() without sender succeeded")
	}
}

func TestStore_ReadAllMissingLog(t *testing.T) {
	msgs, err := NewStore(t.TempDir()).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("ReadAll() = %v, want empty", msgs)
	}
}

func TestStore_SkipsMalformedLines(t *testing.T) {
	store := NewStore(t.TempDir())
	store.Append(Message{Sender: "alice", Content: "one"})

	f, err := os.OpenFile(store.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n\n")
	f.Close()

	store.Append(Message{Sender: "bob", Content: "two"})

	msgs, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("ReadAll() returned %d messages, want 2", len(msgs))
	}
}

func TestMessage_UnknownFieldsRoundTrip(t *testing.T) {
	line := `{"id":"m1","sender":"alice","iteration":"it","content":"c","timestamp":"2026-01-02T03:04:05Z","pass":true,"passed_by":"alice","reactions":{"bob":"+1"},"schema":3}`

	var m Message
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !m.Pass || m.PassedBy != "alice" {
		t.Errorf("flags not decoded: %+v", m)
	}
	if len(m.Extra) != 2 {
		t.Fatalf("Extra = %v, want reactions and schema", m.Extra)
	}

	store := NewStore(t.TempDir())
	if _, err := store.Append(m); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	var want, got map[string]any
	json.Unmarshal([]byte(line), &want)
	json.Unmarshal([]byte(strings.TrimSpace(string(data))), &got)
	for k, v := range want {
		gv, _ := json.Marshal(got[k])
		wv, _ := json.Marshal(v)
		if string(gv) != string(wv) {
			t.Errorf("key %q = %s, want %s", k, gv, wv)
		}
	}
}

func TestMessage_OptionalFlagsOmitted(t *testing.T) {
	data, err := json.Marshal(Message{ID: "x", Sender: "bob", Timestamp: time.Unix(0, 0).UTC()})
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"pass", "phase_boundary", "layer", "kickoff", "awaiting_pm"} {
		if strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("marshalled message contains %q: %s", key, data)
		}
	}
}

func TestStore_Debug(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.AppendDebug(DebugRecord{Iteration: "it", Participant: "alice", Kind: DebugMalformedToolCall, Raw: json.RawMessage(`"{bad"`)}); err != nil {
		t.Fatalf("AppendDebug() error = %v", err)
	}
	recs, err := store.ReadDebug()
	if err != nil {
		t.Fatalf("ReadDebug() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Kind != DebugMalformedToolCall {
		t.Errorf("ReadDebug() = %+v", recs)
	}
	msgs, _ := store.ReadAll()
	if len(msgs) != 0 {
		t.Error("debug record leaked into the conversation log")
	}
}

func TestNewBoundary(t *testing.T) {
	layer := 2
	b := NewBoundary("it", "implementation", "implementation", &layer)
	if !b.PhaseBoundary || !b.IsControl() {
		t.Error("boundary is not a control record")
	}
	if b.Content != "phase implementation -> implementation (layer 2)" {
		t.Errorf("Content = %q", b.Content)
	}
	if b.Sender != SenderSystem {
		t.Errorf("Sender = %q", b.Sender)
	}
}
