package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/roundtable/internal/checkpoint"
	"github.com/Iron-Ham/roundtable/internal/config"
	"github.com/Iron-Ham/roundtable/internal/conversation"
	"github.com/Iron-Ham/roundtable/internal/engine"
	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/event"
	"github.com/Iron-Ham/roundtable/internal/iteration"
	"github.com/Iron-Ham/roundtable/internal/testutil"
	"github.com/Iron-Ham/roundtable/internal/worktree"
)

func toolCall(name string, input map[string]any) engine.ToolCall {
	data, _ := json.Marshal(input)
	return engine.ToolCall{Name: name, Input: data}
}

func passCall(reason string) engine.ToolCall {
	return toolCall(engine.ToolPass, map[string]any{"reason": reason})
}

func writeCall(path, content string) engine.ToolCall {
	return toolCall(engine.ToolWriteFile, map[string]any{"path": path, "content": content})
}

// recorder collects bus events. Overlap events may arrive from the
// detector's goroutine.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) add(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.EventType())
	}
	return out
}

func (r *recorder) count(eventType string) int {
	n := 0
	for _, t := range r.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	o    *Orchestrator
	repo string
	rec  *recorder
}

func newFixture(t *testing.T, model engine.Model, tweak func(*config.Config)) *fixture {
	t.Helper()
	testutil.SkipIfNoGit(t)

	repo := testutil.SetupTestRepo(t)
	cfg := config.Default()
	cfg.Participants.Agents = []string{"alice", "bob"}
	cfg.Participants.Coach = "coach"
	cfg.Session.CoachCadence = -1
	if tweak != nil {
		tweak(cfg)
	}
	o, err := New(cfg, Deps{Repo: worktree.NewGit(repo), Model: model})
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	o.Bus().SubscribeAll(rec.add)
	return &fixture{o: o, repo: repo, rec: rec}
}

func (f *fixture) init(t *testing.T, id string, maxTurns int) {
	t.Helper()
	if _, err := f.o.Init(context.Background(), id, "a url shortener", maxTurns); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) run(t *testing.T, id string, opts RunOptions) *Result {
	t.Helper()
	res, err := f.o.Run(context.Background(), id, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func (f *fixture) log(t *testing.T, id string) []conversation.Message {
	t.Helper()
	msgs, err := f.o.conversation(id).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return msgs
}

func (f *fixture) state(t *testing.T, id string) *iteration.State {
	t.Helper()
	st, err := f.o.Store().Load(id)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func passing() engine.Model {
	return engine.ModelFunc(func(context.Context, engine.Request) (engine.Response, error) {
		return engine.Response{Text: "agreed", ToolCalls: []engine.ToolCall{passCall("nothing to add")}}, nil
	})
}

func TestNew_RequiresRepo(t *testing.T) {
	if _, err := New(config.Default(), Deps{}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewLocker(t *testing.T) {
	store := iteration.NewFileStore(t.TempDir())
	tests := []struct {
		backend string
		wantErr bool
	}{
		{"", false},
		{"file", false},
		{"redis", false},
		{"etcd", true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			l, err := NewLocker(config.LockConfig{Backend: tt.backend, RedisAddr: "localhost:0", TTLSeconds: 5}, store)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if !tt.wantErr && l == nil {
				t.Fatal("nil locker")
			}
		})
	}
}

func TestInit_ExcludesStateDir(t *testing.T) {
	f := newFixture(t, passing(), nil)
	f.init(t, "it-1", 0)

	st := f.state(t, "it-1")
	if st.Phase != iteration.PhaseRefinement || st.Status != iteration.StatusPending {
		t.Errorf("new iteration = %s/%s", st.Phase, st.Status)
	}
	if st.MaxTurns != config.Default().Session.MaxTurns {
		t.Errorf("MaxTurns = %d, want configured default", st.MaxTurns)
	}
	if out := testutil.Git(t, f.repo, "status", "--porcelain"); strings.Contains(out, ".roundtable") {
		t.Errorf("state directory is not excluded:\n%s", out)
	}
	if _, err := f.o.Init(context.Background(), "it-1", "again", 5); !errors.Is(err, errors.ErrIterationExists) {
		t.Errorf("second init: err = %v", err)
	}
}

func TestRun_PassRound(t *testing.T) {
	f := newFixture(t, passing(), nil)
	f.init(t, "it-1", 2)

	res := f.run(t, "it-1", RunOptions{})
	if res.Outcome != engine.OutcomeComplete || res.Stops[0].Reason != engine.TypeMaxTurns {
		t.Fatalf("result = %+v", res)
	}
	if res.TurnCount != 2 || res.Checkpoint != 1 {
		t.Errorf("TurnCount = %d, Checkpoint = %d", res.TurnCount, res.Checkpoint)
	}

	log := f.log(t, "it-1")
	var notes, conversational int
	for _, m := range log {
		switch {
		case m.Pass:
			notes++
		case m.Kickoff:
		default:
			conversational++
		}
	}
	if notes != 2 || conversational != 0 {
		t.Errorf("pass notes = %d, conversational = %d", notes, conversational)
	}

	st := f.state(t, "it-1")
	if st.TurnCount != 2 || st.Status != iteration.StatusInProgress {
		t.Errorf("state = %d turns, %s", st.TurnCount, st.Status)
	}
	if got := f.rec.count(event.TypeTurnCompleted); got != 2 {
		t.Errorf("turn events = %d", got)
	}
	if got := f.rec.count(event.TypeSessionStopped); got != 1 {
		t.Errorf("stop events = %d", got)
	}

	cps, err := f.o.Checkpoints("it-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 1 || cps[0].Trigger != checkpoint.TriggerAuto || cps[0].Description != "before run" {
		t.Errorf("checkpoints = %+v", cps)
	}
}

func TestRun_AskPMAndContinue(t *testing.T) {
	var mu sync.Mutex
	coachCalls := 0
	model := engine.ModelFunc(func(_ context.Context, req engine.Request) (engine.Response, error) {
		if req.Role != engine.RoleCoach {
			return engine.Response{Text: "idea from " + req.Participant}, nil
		}
		mu.Lock()
		defer mu.Unlock()
		coachCalls++
		if coachCalls == 1 {
			return engine.Response{ToolCalls: []engine.ToolCall{
				toolCall(engine.ToolAskPM, map[string]any{"question": "Ship on Friday?"}),
			}}, nil
		}
		return engine.Response{ToolCalls: []engine.ToolCall{
			toolCall(engine.ToolPhaseComplete, map[string]any{"summary": "agreed on scope"}),
		}}, nil
	})
	f := newFixture(t, model, func(c *config.Config) { c.Session.CoachCadence = 0 })
	f.init(t, "it-1", 10)

	res := f.run(t, "it-1", RunOptions{})
	if res.Outcome != engine.OutcomePaused || res.Stops[0].Reason != engine.TypeCoachAskedPM {
		t.Fatalf("first run = %+v", res.Stops)
	}
	if res.Stops[0].Detail != "Ship on Friday?" || res.TurnCount != 2 {
		t.Errorf("detail = %q, turns = %d", res.Stops[0].Detail, res.TurnCount)
	}
	status, err := f.o.Status("it-1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(status.Question, "Ship on Friday?") {
		t.Errorf("status question = %q", status.Question)
	}

	res = f.run(t, "it-1", RunOptions{Continue: true})
	if res.Stops[0].Reason != engine.TypeAwaitingHuman || !strings.Contains(res.Stops[0].Detail, "Ship on Friday?") {
		t.Fatalf("continue without reply = %+v", res.Stops)
	}

	res = f.run(t, "it-1", RunOptions{Continue: true, Reply: "yes"})
	if res.Stops[0].Reason != engine.TypePhaseComplete || res.Stops[0].Detail != "agreed on scope" {
		t.Fatalf("continue with reply = %+v", res.Stops)
	}
	if res.TurnCount != 4 {
		t.Errorf("TurnCount = %d, want 4", res.TurnCount)
	}

	var senders []string
	for _, m := range f.log(t, "it-1") {
		if !m.Kickoff {
			senders = append(senders, m.Sender)
		}
	}
	want := "alice,bob,coach,human,alice,bob,coach"
	if got := strings.Join(senders, ","); got != want {
		t.Errorf("senders = %s, want %s", got, want)
	}

	cps, err := f.o.Checkpoints("it-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 3 || cps[2].Description != "before continue" {
		t.Errorf("checkpoints = %+v", cps)
	}
}

func TestRun_ModelFailure(t *testing.T) {
	model := engine.ModelFunc(func(context.Context, engine.Request) (engine.Response, error) {
		return engine.Response{}, fmt.Errorf("backend exited 1")
	})
	f := newFixture(t, model, nil)
	f.init(t, "it-1", 4)

	res := f.run(t, "it-1", RunOptions{})
	if res.Outcome != engine.OutcomeError || res.Err() == nil {
		t.Fatalf("result = %+v", res)
	}
	if res.TurnCount != 0 {
		t.Errorf("failed turn was counted: %d", res.TurnCount)
	}
	recs, err := f.o.conversation("it-1").ReadDebug()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, r := range recs {
		if r.Kind == conversation.DebugModelFailure {
			found = true
		}
	}
	if !found {
		t.Error("no model_failure debug record")
	}
}

func TestRun_NoModel(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.init(t, "it-1", 4)

	res := f.run(t, "it-1", RunOptions{})
	if res.Outcome != engine.OutcomeError || res.Stops[0].Reason != engine.TypeInvalidState {
		t.Fatalf("result = %+v", res.Stops)
	}
}

func TestRun_Locked(t *testing.T) {
	f := newFixture(t, passing(), nil)
	f.init(t, "it-1", 2)

	release, err := f.o.locker.Acquire(context.Background(), "it-1")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = release(context.Background()) }()

	if _, err := f.o.Run(context.Background(), "it-1", RunOptions{}); !errors.Is(err, errors.ErrIterationLocked) {
		t.Fatalf("err = %v", err)
	}
}

func TestRun_UnknownIteration(t *testing.T) {
	f := newFixture(t, passing(), nil)
	if _, err := f.o.Run(context.Background(), "nope", RunOptions{}); !errors.Is(err, errors.ErrIterationNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSay(t *testing.T) {
	f := newFixture(t, passing(), nil)
	f.init(t, "it-1", 2)

	msg, err := f.o.Say(context.Background(), "it-1", "please keep it small")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID == "" || msg.Sender != conversation.SenderHuman {
		t.Errorf("message = %+v", msg)
	}
	if _, err := f.o.Say(context.Background(), "it-1", ""); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("empty say: err = %v", err)
	}
	if log := f.log(t, "it-1"); len(log) != 1 || log[0].Content != "please keep it small" {
		t.Errorf("log = %+v", log)
	}
}

func TestApprovals(t *testing.T) {
	model := engine.ModelFunc(func(_ context.Context, req engine.Request) (engine.Response, error) {
		return engine.Response{Text: "adding build files", ToolCalls: []engine.ToolCall{
			writeCall("Makefile", "all:\n\tgo build ./...\n"),
		}}, nil
	})
	f := newFixture(t, model, nil)
	f.init(t, "it-1", 6)

	res := f.run(t, "it-1", RunOptions{})
	if res.Stops[0].Reason != engine.TypeApprovalsPending {
		t.Fatalf("stop = %+v", res.Stops)
	}
	if res.TurnCount != 1 {
		t.Errorf("TurnCount = %d, want 1", res.TurnCount)
	}
	reqs, err := f.o.Approvals("it-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].Agent != "alice" || reqs[0].Root != f.repo {
		t.Fatalf("requests = %+v", reqs)
	}
	if _, err := os.Stat(filepath.Join(f.repo, "Makefile")); !os.IsNotExist(err) {
		t.Fatal("held write reached disk")
	}

	// Still pending: the next session pauses before any turn.
	res = f.run(t, "it-1", RunOptions{Continue: true})
	if res.Stops[0].Reason != engine.TypeApprovalsPending || res.TurnCount != 1 {
		t.Fatalf("second run = %+v", res)
	}

	req, err := f.o.Approve(context.Background(), "it-1", reqs[0].ID[:8], "fine")
	if err != nil {
		t.Fatal(err)
	}
	if req.Note != "fine" {
		t.Errorf("note = %q", req.Note)
	}
	data, err := os.ReadFile(filepath.Join(f.repo, "Makefile"))
	if err != nil || !strings.Contains(string(data), "go build") {
		t.Fatalf("approved write: %q, %v", data, err)
	}
	if _, err := f.o.Deny(context.Background(), "it-1", reqs[0].ID, ""); !errors.Is(err, errors.ErrApprovalResolved) {
		t.Errorf("deny after approve: err = %v", err)
	}
	if f.rec.count(event.TypeApprovalResolved) != 1 || f.rec.count(event.TypeFileWritten) != 1 {
		t.Errorf("events = %v", f.rec.types())
	}
}

func TestApprovals_Deny(t *testing.T) {
	model := engine.ModelFunc(func(context.Context, engine.Request) (engine.Response, error) {
		return engine.Response{ToolCalls: []engine.ToolCall{writeCall("Dockerfile", "FROM scratch\n")}}, nil
	})
	f := newFixture(t, model, nil)
	f.init(t, "it-1", 6)
	f.run(t, "it-1", RunOptions{})

	reqs, err := f.o.Approvals("it-1")
	if err != nil || len(reqs) != 1 {
		t.Fatalf("requests = %+v, %v", reqs, err)
	}
	if _, err := f.o.Deny(context.Background(), "it-1", reqs[0].ID, "not now"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(f.repo, "Dockerfile")); !os.IsNotExist(err) {
		t.Error("denied write reached disk")
	}
	status, err := f.o.Status("it-1")
	if err != nil {
		t.Fatal(err)
	}
	if status.PendingApprovals != 0 {
		t.Errorf("pending = %d", status.PendingApprovals)
	}
}

func TestRun_DeniedWrite(t *testing.T) {
	model := engine.ModelFunc(func(context.Context, engine.Request) (engine.Response, error) {
		return engine.Response{Text: "storing secrets", ToolCalls: []engine.ToolCall{writeCall("config/.env", "TOKEN=1\n")}}, nil
	})
	f := newFixture(t, model, nil)
	f.init(t, "it-1", 2)

	res := f.run(t, "it-1", RunOptions{})
	if res.Stops[0].Reason != engine.TypeMaxTurns {
		t.Fatalf("stop = %+v", res.Stops)
	}
	if _, err := os.Stat(filepath.Join(f.repo, "config", ".env")); !os.IsNotExist(err) {
		t.Error("denied write reached disk")
	}
	if got := f.rec.count(event.TypeFileDenied); got != 2 {
		t.Errorf("denied events = %d", got)
	}
}

func TestRestore(t *testing.T) {
	f := newFixture(t, passing(), nil)
	f.init(t, "it-1", 2)
	ctx := context.Background()

	f.run(t, "it-1", RunOptions{})
	if _, err := f.o.Advance(ctx, "it-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.o.Checkpoint(ctx, "it-1", "planning started"); err != nil {
		t.Fatal(err)
	}
	before := f.state(t, "it-1")
	logBefore := len(f.log(t, "it-1"))

	if _, err := f.o.Restore(ctx, "it-1", 999); !errors.Is(err, errors.ErrCheckpointNotFound) {
		t.Fatalf("restore 999: err = %v", err)
	}
	if st := f.state(t, "it-1"); st.Phase != before.Phase || st.TurnCount != before.TurnCount {
		t.Errorf("state changed by failed restore: %+v", st)
	}
	if got := len(f.log(t, "it-1")); got != logBefore {
		t.Errorf("log changed by failed restore: %d -> %d", logBefore, got)
	}

	// Checkpoint 2 was taken before the advance.
	meta, err := f.o.Restore(ctx, "it-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	st := f.state(t, "it-1")
	if meta.Phase != string(iteration.PhaseRefinement) || st.Phase != iteration.PhaseRefinement || st.TurnCount != 2 {
		t.Errorf("after restore: meta %s, state %s/%d", meta.Phase, st.Phase, st.TurnCount)
	}
	for _, m := range f.log(t, "it-1") {
		if m.PhaseBoundary {
			t.Error("boundary marker survived restore")
		}
	}

	// Numbering continues past the restored checkpoint.
	cp, err := f.o.Checkpoint(ctx, "it-1", "after restore")
	if err != nil {
		t.Fatal(err)
	}
	if cp.Number != 4 {
		t.Errorf("next checkpoint = %d, want 4", cp.Number)
	}
	if f.rec.count(event.TypeCheckpointRestored) != 1 {
		t.Errorf("events = %v", f.rec.types())
	}
}
