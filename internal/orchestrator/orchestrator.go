// Package orchestrator drives iterations through their phases. It builds the
// session policy for the current phase, runs the engine, persists every event
// the engine yields before pulling the next one, and owns the operations a
// human triggers between sessions: advancing, merging, checkpointing,
// restoring and deciding approvals.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/roundtable/internal/approval"
	"github.com/Iron-Ham/roundtable/internal/checkpoint"
	"github.com/Iron-Ham/roundtable/internal/config"
	"github.com/Iron-Ham/roundtable/internal/conversation"
	"github.com/Iron-Ham/roundtable/internal/engine"
	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/event"
	"github.com/Iron-Ham/roundtable/internal/fileguard"
	"github.com/Iron-Ham/roundtable/internal/iteration"
	"github.com/Iron-Ham/roundtable/internal/logging"
	"github.com/Iron-Ham/roundtable/internal/metrics"
	"github.com/Iron-Ham/roundtable/internal/worktree"
)

// ExcludePattern keeps the state directory out of the repository's commits.
const ExcludePattern = "/.roundtable/"

// Deps are the collaborators of an Orchestrator. Only Repo is required; the
// rest default from the configuration.
type Deps struct {
	Repo      *worktree.Git
	Store     *iteration.FileStore
	Locker    iteration.Locker
	Model     engine.Model
	Templates *config.Templates
	Guard     *fileguard.Guard
	Bus       *event.Bus
	Metrics   *metrics.Recorder
	Logger    *logging.Logger
}

// Orchestrator coordinates the stores, the sandboxes and the engine for the
// iterations of one repository.
type Orchestrator struct {
	cfg       *config.Config
	repo      *worktree.Git
	store     *iteration.FileStore
	locker    iteration.Locker
	sandboxes *worktree.SandboxManager
	model     engine.Model
	templates *config.Templates
	guard     *fileguard.Guard
	bus       *event.Bus
	metrics   *metrics.Recorder
	logger    *logging.Logger
	now       func() time.Time
}

// New creates an Orchestrator. A nil Model is allowed for commands that never
// run a session; sessions then stop with an invalid state.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if deps.Repo == nil {
		return nil, errors.NewValidationError("repository is required").WithField("repo")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	o := &Orchestrator{
		cfg:       cfg,
		repo:      deps.Repo,
		store:     deps.Store,
		locker:    deps.Locker,
		model:     deps.Model,
		templates: deps.Templates,
		guard:     deps.Guard,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	if o.bus == nil {
		o.bus = event.NewBus(o.logger)
	}
	if o.templates == nil {
		o.templates = config.DefaultTemplates()
	}

	root := deps.Repo.Root()
	if o.store == nil {
		o.store = iteration.NewFileStore(cfg.Paths.ResolveStateDir(root))
	}
	if o.locker == nil {
		locker, err := NewLocker(cfg.Lock, o.store)
		if err != nil {
			return nil, err
		}
		o.locker = locker
	}
	if o.guard == nil {
		g, err := fileguard.New(cfg.FileGuard.Allow, cfg.FileGuard.Deny)
		if err != nil {
			return nil, err
		}
		o.guard = g
	}
	if o.metrics != nil {
		o.metrics.Subscribe(o.bus)
		if o.model != nil {
			o.model = o.metrics.InstrumentModel(o.model)
		}
	}
	o.sandboxes = worktree.NewSandboxManager(deps.Repo, cfg.Paths.ResolveWorktreeDir(root), cfg.Branch.Prefix, cfg.Branch.Integration)
	return o, nil
}

// NewLocker returns the session locker selected by cfg.
func NewLocker(cfg config.LockConfig, store *iteration.FileStore) (iteration.Locker, error) {
	switch cfg.Backend {
	case "", "file":
		return iteration.NewFileLocker(store), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		var opts []iteration.RedisOption
		if ttl := cfg.TTL(); ttl > 0 {
			opts = append(opts, iteration.WithTTL(ttl))
		}
		return iteration.NewRedisLocker(client, opts...), nil
	}
	return nil, errors.NewValidationError("unknown lock backend").WithField("lock.backend").WithValue(cfg.Backend)
}

// Bus returns the bus the orchestrator publishes on.
func (o *Orchestrator) Bus() *event.Bus { return o.bus }

// Store returns the iteration state store.
func (o *Orchestrator) Store() *iteration.FileStore { return o.store }

// LogPath returns the conversation log file of iteration id.
func (o *Orchestrator) LogPath(id string) string {
	return o.conversation(id).Path()
}

func (o *Orchestrator) conversation(id string) *conversation.Store {
	return conversation.NewStore(o.store.Dir(id))
}

func (o *Orchestrator) approvals(id string) *approval.Store {
	return approval.NewStore(o.store.Dir(id))
}

func (o *Orchestrator) checkpoints(id string) (*checkpoint.Manager, error) {
	return checkpoint.New(o.store.Dir(id), o.cfg.Checkpoint.Exclude...)
}

// lock acquires the session lock of id. The returned release logs instead of
// failing so it can be deferred.
func (o *Orchestrator) lock(ctx context.Context, id string) (func(), error) {
	release, err := o.locker.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			o.logger.WithIteration(id).Warn("failed to release session lock", "error", err)
		}
	}, nil
}

// load reads the state of id and refuses finished iterations.
func (o *Orchestrator) load(id string) (*iteration.State, error) {
	st, err := o.store.Load(id)
	if err != nil {
		return nil, err
	}
	if st.Status == iteration.StatusDone {
		return nil, errors.NewIterationError("no further work", errors.ErrIterationDone).
			WithIterationID(id).WithPhase(string(st.Phase))
	}
	return st, nil
}

// autoCheckpoint snapshots the iteration before an operation changes it.
func (o *Orchestrator) autoCheckpoint(st *iteration.State, what string) (*checkpoint.Meta, error) {
	return o.snapshot(st, "before "+what, checkpoint.TriggerAuto)
}

func (o *Orchestrator) snapshot(st *iteration.State, description string, trigger checkpoint.Trigger) (*checkpoint.Meta, error) {
	mgr, err := o.checkpoints(st.ID)
	if err != nil {
		return nil, err
	}
	meta, err := mgr.Create(checkpoint.Fields{
		Phase:     string(st.Phase),
		Status:    string(st.Status),
		MaxTurns:  st.MaxTurns,
		TurnCount: st.TurnCount,
	}, description, trigger)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint %s", st.ID)
	}
	o.logger.WithIteration(st.ID).Info("checkpoint created",
		"number", meta.Number, "trigger", string(trigger), "description", description)
	o.bus.Publish(event.NewCheckpointCreatedEvent(st.ID, meta.Number, string(trigger), description))
	return meta, nil
}

// Init prepares the repository and creates a new iteration in refinement.
// A maxTurns of zero takes the configured default.
func (o *Orchestrator) Init(ctx context.Context, id, description string, maxTurns int) (*iteration.State, error) {
	if err := o.repo.ExcludePath(ctx, ExcludePattern); err != nil {
		return nil, err
	}
	if maxTurns == 0 {
		maxTurns = o.cfg.Session.MaxTurns
	}
	st, err := o.store.Create(id, description, maxTurns)
	if err != nil {
		return nil, err
	}
	o.logger.WithIteration(id).Info("iteration created", "max_turns", maxTurns)
	return st, nil
}

// List returns the ids of all iterations.
func (o *Orchestrator) List() ([]string, error) {
	return o.store.List()
}

// Say appends a human message without running a session.
func (o *Orchestrator) Say(ctx context.Context, id, text string) (conversation.Message, error) {
	if text == "" {
		return conversation.Message{}, errors.NewValidationError("message is empty").WithField("text")
	}
	release, err := o.lock(ctx, id)
	if err != nil {
		return conversation.Message{}, err
	}
	defer release()

	if _, err := o.load(id); err != nil {
		return conversation.Message{}, err
	}
	msg, err := o.conversation(id).Append(conversation.Message{
		Sender:    conversation.SenderHuman,
		Iteration: id,
		Content:   text,
		Timestamp: o.now().UTC(),
	})
	if err != nil {
		return conversation.Message{}, err
	}
	o.bus.Publish(event.NewMessageAppendedEvent(msg))
	return msg, nil
}

// StatusReport summarizes an iteration for a human.
type StatusReport struct {
	State            *iteration.State
	Messages         int
	PendingApprovals int
	Checkpoints      int
	// Question is set while a coach question waits for a reply
	Question string
}

// Status reports the state of iteration id without locking it.
func (o *Orchestrator) Status(id string) (*StatusReport, error) {
	st, err := o.store.Load(id)
	if err != nil {
		return nil, err
	}
	msgs, err := o.conversation(id).ReadAll()
	if err != nil {
		return nil, err
	}
	pending, err := o.approvals(id).PendingCount()
	if err != nil {
		return nil, err
	}
	mgr, err := o.checkpoints(id)
	if err != nil {
		return nil, err
	}
	cps, err := mgr.List()
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		State:            st,
		Messages:         len(msgs),
		PendingApprovals: pending,
		Checkpoints:      len(cps),
		Question:         pendingQuestion(msgs),
	}, nil
}

// pendingQuestion returns the open coach question of the current phase.
func pendingQuestion(log []conversation.Message) string {
	conv := conversation.Conversational(conversation.Scoped(log))
	if len(conv) == 0 {
		return ""
	}
	if last := conv[len(conv)-1]; last.AwaitingPM {
		return last.Content
	}
	return ""
}

func (r *StatusReport) String() string {
	st := r.State
	s := fmt.Sprintf("%s [%s] phase=%s turns=%d/%d", st.ID, st.Status, st.Phase, st.TurnCount, st.MaxTurns)
	if st.Phase == iteration.PhaseImplementation {
		s += fmt.Sprintf(" layer=%d/%d", st.Layer+1, st.LayerCount())
	}
	return s
}
