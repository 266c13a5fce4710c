package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/roundtable/internal/conversation"
	"github.com/Iron-Ham/roundtable/internal/engine"
	"github.com/Iron-Ham/roundtable/internal/event"
)

func TestRecorder_Observe(t *testing.T) {
	r := New()
	bus := event.NewBus(nil)
	r.Subscribe(bus)

	bus.Publish(event.NewTurnCompletedEvent("it", "alice", 1, false))
	bus.Publish(event.NewTurnCompletedEvent("it", "bob", 2, true))
	bus.Publish(event.NewTurnCompletedEvent("it", "alice", 3, true))
	bus.Publish(event.NewMessageAppendedEvent(conversation.Message{Sender: "alice", Content: "hi"}))
	bus.Publish(event.NewMessageAppendedEvent(conversation.Message{Sender: "system", Pass: true}))
	bus.Publish(event.NewSessionStoppedEvent("it", "planning", "paused", engine.TypeCoachAskedPM, "?"))
	bus.Publish(event.NewCheckpointCreatedEvent("it", 1, "auto", ""))
	bus.Publish(event.NewCheckpointCreatedEvent("it", 2, "manual", ""))
	bus.Publish(event.NewMergeConflictEvent("it", "bob", "b", []string{"x"}, nil))
	bus.Publish(event.NewApprovalResolvedEvent("it", "id", "Makefile", true))
	bus.Publish(event.NewFileDeniedEvent("it", "bob", ".env", "deny"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.turns.WithLabelValues("false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.turns.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.messages.WithLabelValues("pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.messages.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stops.WithLabelValues("paused", engine.TypeCoachAskedPM)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.checkpoints.WithLabelValues("manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.conflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.approvals.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fileWrites.WithLabelValues("denied")))
}

func TestRecorder_InstrumentModel(t *testing.T) {
	r := New()
	m := r.InstrumentModel(engine.ModelFunc(func(ctx context.Context, req engine.Request) (engine.Response, error) {
		if req.Participant == "slow" {
			return engine.Response{}, context.DeadlineExceeded
		}
		return engine.Response{Text: "ok"}, nil
	}))

	resp, err := m.Complete(context.Background(), engine.Request{Participant: "alice", Role: engine.RoleAgent})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	_, err = m.Complete(context.Background(), engine.Request{Participant: "slow", Role: engine.RoleCoach})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, 2, testutil.CollectAndCount(r.modelCalls))
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.Observe(event.NewCheckpointCreatedEvent("it", 1, "auto", ""))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `roundtable_checkpoints_total{trigger="auto"} 1`))
}

func TestRecorder_Independent(t *testing.T) {
	a, b := New(), New()
	a.Observe(event.NewTurnCompletedEvent("it", "alice", 1, false))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.turns.WithLabelValues("false")))
}
