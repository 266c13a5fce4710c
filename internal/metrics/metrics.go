// Package metrics exposes prometheus counters for iteration progress. A
// Recorder subscribes to the event bus, wraps the model backend to time
// calls, and can serve its registry over HTTP.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/roundtable/internal/conversation"
	"github.com/Iron-Ham/roundtable/internal/engine"
	"github.com/Iron-Ham/roundtable/internal/event"
	"github.com/Iron-Ham/roundtable/internal/logging"
)

const namespace = "roundtable"

// Recorder owns a private registry so several recorders can coexist in tests.
type Recorder struct {
	registry *prometheus.Registry

	turns        *prometheus.CounterVec
	messages     *prometheus.CounterVec
	stops        *prometheus.CounterVec
	modelCalls   *prometheus.HistogramVec
	checkpoints  *prometheus.CounterVec
	conflicts    prometheus.Counter
	overlaps     prometheus.Counter
	approvals    *prometheus.CounterVec
	fileWrites   *prometheus.CounterVec
	phaseChanges *prometheus.CounterVec
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_turns_total",
			Help:      "Agent turns taken, by whether the agent passed.",
		}, []string{"passed"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages appended to conversation logs, by kind.",
		}, []string{"kind"}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_stops_total",
			Help:      "Sessions ended, by outcome and reason.",
		}, []string{"outcome", "reason"}),
		modelCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Duration of model backend calls.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"role", "result"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Checkpoints created, by trigger.",
		}, []string{"trigger"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_conflicts_total",
			Help:      "Sandbox merges that conflicted.",
		}),
		overlaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_overlaps_total",
			Help:      "Paths touched by more than one sandbox.",
		}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Approval requests, by status.",
		}, []string{"status"}),
		fileWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_writes_total",
			Help:      "Agent file writes, by result.",
		}, []string{"result"}),
		phaseChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Phase and layer transitions, by target phase.",
		}, []string{"to"}),
	}
	r.registry.MustRegister(
		r.turns, r.messages, r.stops, r.modelCalls, r.checkpoints,
		r.conflicts, r.overlaps, r.approvals, r.fileWrites, r.phaseChanges,
	)
	return r
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Subscribe records every bus event and returns the subscription id.
func (r *Recorder) Subscribe(bus *event.Bus) string {
	return bus.SubscribeAll(r.Observe)
}

// Observe records one event.
func (r *Recorder) Observe(e event.Event) {
	switch ev := e.(type) {
	case event.TurnCompletedEvent:
		r.turns.WithLabelValues(strconv.FormatBool(ev.Passed)).Inc()
	case event.MessageAppendedEvent:
		r.messages.WithLabelValues(messageKind(ev)).Inc()
	case event.SessionStoppedEvent:
		r.stops.WithLabelValues(ev.Outcome, ev.Reason).Inc()
	case event.CheckpointCreatedEvent:
		r.checkpoints.WithLabelValues(ev.Trigger).Inc()
	case event.MergeConflictEvent:
		r.conflicts.Inc()
	case event.OverlapDetectedEvent:
		r.overlaps.Inc()
	case event.ApprovalRequestedEvent:
		r.approvals.WithLabelValues("pending").Inc()
	case event.ApprovalResolvedEvent:
		status := "denied"
		if ev.Approved {
			status = "approved"
		}
		r.approvals.WithLabelValues(status).Inc()
	case event.FileWrittenEvent:
		r.fileWrites.WithLabelValues("written").Inc()
	case event.FileDeniedEvent:
		r.fileWrites.WithLabelValues("denied").Inc()
	case event.PhaseAdvancedEvent:
		r.phaseChanges.WithLabelValues(ev.To).Inc()
	}
}

func messageKind(ev event.MessageAppendedEvent) string {
	m := ev.Message
	switch {
	case m.Pass:
		return "pass"
	case m.PhaseBoundary:
		return "boundary"
	case m.Kickoff:
		return "kickoff"
	case m.Sender == conversation.SenderHuman:
		return "human"
	}
	return "message"
}

// InstrumentModel wraps m so every call is timed.
func (r *Recorder) InstrumentModel(m engine.Model) engine.Model {
	return engine.ModelFunc(func(ctx context.Context, req engine.Request) (engine.Response, error) {
		start := time.Now()
		resp, err := m.Complete(ctx, req)
		result := "ok"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			result = "timeout"
		case errors.Is(err, context.Canceled):
			result = "cancelled"
		case err != nil:
			result = "error"
		}
		r.modelCalls.WithLabelValues(string(req.Role), result).Observe(time.Since(start).Seconds())
		return resp, err
	})
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("metrics server started", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
