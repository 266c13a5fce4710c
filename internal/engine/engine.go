package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"regexp"
	"slices"
	"time"

	"github.com/Iron-Ham/roundtable/internal/config"
	"github.com/Iron-Ham/roundtable/internal/conversation"
	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/fileguard"
)

// ApprovalCounter reports how many approval requests are waiting.
type ApprovalCounter interface {
	PendingCount() (int, error)
}

// Engine dispatches turns. It holds no per-session state and may run any
// number of sessions concurrently.
type Engine struct {
	model     Model
	templates *config.Templates
	guard     fileguard.Checker
	approvals ApprovalCounter
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithTemplates sets the prompt templates. The built-in templates are used
// otherwise.
func WithTemplates(t *config.Templates) Option {
	return func(e *Engine) { e.templates = t }
}

// WithGuard sets the write classifier. Without one every write needs
// approval.
func WithGuard(g fileguard.Checker) Option {
	return func(e *Engine) { e.guard = g }
}

// WithApprovals sets the pending approval counter. Without one the engine
// only counts the requests it raised itself.
func WithApprovals(c ApprovalCounter) Option {
	return func(e *Engine) { e.approvals = c }
}

// WithClock overrides the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine calling model for every turn.
func New(model Model, opts ...Option) *Engine {
	e := &Engine{model: model, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	if e.templates == nil {
		e.templates = config.DefaultTemplates()
	}
	return e
}

// Session is one resumable run of a phase.
type Session struct {
	Iteration string
	Policy    Policy
	// History is the full conversation log as persisted
	History []conversation.Message
	// TurnCount is the iteration's cumulative agent turn count
	TurnCount int
	// HumanReply, when set, is emitted as a human message before any turn
	HumanReply string
}

// Run returns the session's events. Nothing happens until the sequence is
// iterated; each event must be applied before the next is pulled. Breaking
// out of the loop ends the session after the current event and no further
// model call is made.
func (e *Engine) Run(ctx context.Context, s Session) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		r := &run{
			e:       e,
			s:       s,
			yield:   yield,
			history: slices.Clone(s.History),
			turns:   s.TurnCount,
		}
		r.loop(ctx)
	}
}

type run struct {
	e     *Engine
	s     Session
	yield func(Event) bool

	history []conversation.Message
	turns   int
	// raised counts approval requests emitted by this run
	raised int
	// mentions caches each agent's compiled mention pattern
	mentions map[string]*regexp.Regexp
}

// emit yields ev and reports whether the consumer wants more. Message
// events are folded into the local history so later prompts see them.
func (r *run) emit(ev Event) bool {
	if m, ok := ev.(MessageEvent); ok {
		r.history = append(r.history, m.Message)
	}
	return r.yield(ev)
}

func (r *run) debug(participant, kind, tool, detail string, raw json.RawMessage) bool {
	return r.emit(DebugEvent{Record: conversation.DebugRecord{
		Timestamp:   r.e.now().UTC(),
		Iteration:   r.s.Iteration,
		Participant: participant,
		Kind:        kind,
		Tool:        tool,
		Detail:      detail,
		Raw:         raw,
	}})
}

func (r *run) message(sender, content string) conversation.Message {
	return conversation.Message{
		Sender:    sender,
		Iteration: r.s.Iteration,
		Content:   content,
		Timestamp: r.e.now().UTC(),
	}
}

func (r *run) scoped() []conversation.Message {
	return r.s.Policy.History.Apply(r.history)
}

func (r *run) mentionOf(agent string) *regexp.Regexp {
	if re, ok := r.mentions[agent]; ok {
		return re
	}
	if r.mentions == nil {
		r.mentions = make(map[string]*regexp.Regexp)
	}
	re := mentionPattern(agent)
	r.mentions[agent] = re
	return re
}

// phase is the history of the current phase, whatever the prompt scope.
func (r *run) phase() []conversation.Message {
	return conversation.Scoped(r.history)
}

func (r *run) render(name string, data promptData) (string, bool) {
	text, err := r.e.templates.Render(name, data)
	if err != nil {
		r.emit(InvalidStateEvent{stop: failed(), Err: err})
		return "", false
	}
	return text, true
}

func (r *run) loop(ctx context.Context) {
	p := r.s.Policy
	if err := p.Validate(); err != nil {
		r.emit(InvalidStateEvent{stop: failed(), Err: err})
		return
	}
	if r.e.model == nil {
		r.emit(InvalidStateEvent{stop: failed(), Err: errors.NewValidationError("no model configured")})
		return
	}

	if r.s.HumanReply != "" {
		if !r.emit(MessageEvent{Message: r.message(conversation.SenderHuman, r.s.HumanReply)}) {
			return
		}
	} else if q, ok := r.pendingQuestion(); ok {
		r.emit(AwaitingHumanEvent{stop: paused(), Question: q})
		return
	}

	if p.Kickoff && len(r.phase()) == 0 {
		text, ok := r.render("kickoff", newPromptData(r.e.templates, p, conversation.SenderSystem))
		if !ok {
			return
		}
		msg := r.message(conversation.SenderSystem, text)
		msg.Kickoff = true
		if !r.emit(MessageEvent{Message: msg}) {
			return
		}
	}

	sinceCoach, next := r.position()
	cadence := p.Cadence()
	for {
		if r.turns >= p.MaxTurns {
			r.emit(NewMaxTurnsEvent(r.turns, p.MaxTurns))
			return
		}
		if err := ctx.Err(); err != nil {
			r.emit(CancelledEvent{stop: paused(), Err: err})
			return
		}
		n, ok := r.pending()
		if !ok {
			return
		}
		if n > 0 {
			r.emit(ApprovalsPendingEvent{stop: paused(), Pending: n})
			return
		}

		if cadence > 0 && sinceCoach >= cadence {
			sinceCoach = 0
			if !r.coachTurn(ctx) {
				return
			}
			continue
		}

		agent := p.Agents[next%len(p.Agents)]
		next++
		if !r.agentTurn(ctx, agent) {
			return
		}
		sinceCoach++
	}
}

// pendingQuestion reports an unanswered coach question: the latest
// conversational message of the phase is flagged AwaitingPM.
func (r *run) pendingQuestion() (string, bool) {
	conv := conversation.Conversational(r.phase())
	if len(conv) == 0 {
		return "", false
	}
	last := conv[len(conv)-1]
	return last.Content, last.AwaitingPM
}

// position derives the dispatch cursor from the phase history: agent turns
// since the coach last spoke, and the index of the next agent.
func (r *run) position() (sinceCoach, next int) {
	p := r.s.Policy
	for _, m := range r.phase() {
		if p.Coach != "" && m.Sender == p.Coach && !m.IsControl() {
			sinceCoach = 0
			continue
		}
		agent := m.Sender
		if m.Pass {
			agent = m.PassedBy
		} else if m.IsControl() {
			continue
		}
		if i := slices.Index(p.Agents, agent); i >= 0 {
			sinceCoach++
			next = i + 1
		}
	}
	return sinceCoach, next
}

func (r *run) pending() (int, bool) {
	if r.e.approvals == nil {
		return r.raised, true
	}
	n, err := r.e.approvals.PendingCount()
	if err != nil {
		if !r.debug("", "approval_count_failed", "", err.Error(), nil) {
			return 0, false
		}
		return r.raised, true
	}
	return n, true
}

// call invokes the model. On failure it emits the stop event and reports
// false; the turn is then not recorded.
func (r *run) call(ctx context.Context, req Request) (Response, bool) {
	if raw, err := json.Marshal(req); err == nil {
		if !r.debug(req.Participant, conversation.DebugPromptBuilt, "", fmt.Sprintf("%d messages", len(req.Messages)), raw) {
			return Response{}, false
		}
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if t := r.s.Policy.ModelTimeout; t > 0 {
		callCtx, cancel = context.WithTimeout(ctx, t)
	}
	resp, err := r.e.model.Complete(callCtx, req)
	timedOut := ctx.Err() == nil && callCtx.Err() == context.DeadlineExceeded
	cancel()
	if err == nil {
		return resp, true
	}

	if ctx.Err() != nil {
		r.emit(CancelledEvent{stop: paused(), Err: ctx.Err()})
		return Response{}, false
	}
	if timedOut {
		err = errors.NewTimeoutError("model call", r.s.Policy.ModelTimeout).WithCause(err)
	}
	if !r.debug(req.Participant, conversation.DebugModelFailure, "", err.Error(), nil) {
		return Response{}, false
	}
	r.emit(ModelFailureEvent{stop: failed(), Participant: req.Participant, Err: err, Timeout: timedOut})
	return Response{}, false
}

func (r *run) agentTurn(ctx context.Context, agent string) bool {
	p := r.s.Policy
	tpl := r.e.templates
	data := newPromptData(tpl, p, agent)
	system, ok := r.render("agent_system", data)
	if !ok {
		return false
	}
	if by := mentionedBy(r.scoped(), agent, r.mentionOf(agent), p.MentionLookback); by != "" {
		data.By = by
		hint, ok := r.render("mention_hint", data)
		if !ok {
			return false
		}
		system = appendLine(system, hint)
	}

	resp, ok := r.call(ctx, Request{
		Iteration:   r.s.Iteration,
		Participant: agent,
		Role:        RoleAgent,
		Phase:       p.Phase,
		System:      system,
		Messages:    promptMessages(r.scoped(), agent),
		Tools:       toolSpecs(tpl, p.AgentTools),
	})
	if !ok {
		return false
	}

	passed, ok := r.applyAgent(agent, resp)
	if !ok {
		return false
	}
	r.turns++
	return r.emit(TurnEvent{Agent: agent, TurnCount: r.turns, Passed: passed})
}

// accepted is a tool call that was offered and parsed.
type accepted struct {
	call  ToolCall
	input any
}

// accept filters calls down to offered, well formed ones. Everything else is
// recorded for diagnostics only.
func (r *run) accept(participant string, role Role, calls []ToolCall) ([]accepted, bool) {
	var out []accepted
	for _, c := range calls {
		if !r.s.Policy.offers(role, c.Name) {
			if !r.debug(participant, conversation.DebugUnofferedTool, c.Name, "tool not offered in this phase", c.Input) {
				return nil, false
			}
			continue
		}
		var in any
		switch c.Name {
		case ToolPass:
			in = &passInput{}
		case ToolWriteFile:
			in = &writeFileInput{}
		case ToolProposeTasks:
			in = &proposeTasksInput{}
		case ToolPhaseComplete:
			in = &phaseCompleteInput{}
		case ToolAskPM:
			in = &askPMInput{}
		}
		if err := decode(c, in); err != nil {
			if !r.debug(participant, conversation.DebugMalformedToolCall, c.Name, err.Error(), c.Input) {
				return nil, false
			}
			continue
		}
		out = append(out, accepted{call: c, input: in})
	}
	return out, true
}

func (r *run) ignore(participant string, calls []accepted, winner string) bool {
	for _, c := range calls {
		if c.call.Name == winner {
			continue
		}
		if !r.debug(participant, conversation.DebugIgnoredTool, c.call.Name, "superseded by "+winner, c.call.Input) {
			return false
		}
	}
	return true
}

func (r *run) applyAgent(agent string, resp Response) (passed, ok bool) {
	calls, ok := r.accept(agent, RoleAgent, resp.ToolCalls)
	if !ok {
		return false, false
	}

	for _, c := range calls {
		in, isPass := c.input.(*passInput)
		if !isPass {
			continue
		}
		if !r.ignore(agent, calls, ToolPass) {
			return true, false
		}
		data := newPromptData(r.e.templates, r.s.Policy, agent)
		data.Reason = in.Reason
		if data.Reason == "" {
			data.Reason = "no reason given"
		}
		note, ok := r.render("pass_note", data)
		if !ok {
			return true, false
		}
		msg := r.message(conversation.SenderSystem, note)
		msg.Pass = true
		msg.PassedBy = agent
		return true, r.emit(MessageEvent{Message: msg})
	}

	if resp.Text != "" {
		if !r.emit(MessageEvent{Message: r.message(agent, resp.Text)}) {
			return false, false
		}
	}
	for _, c := range calls {
		if !r.effect(agent, c.input) {
			return false, false
		}
	}
	return false, true
}

func (r *run) effect(agent string, input any) bool {
	switch in := input.(type) {
	case *writeFileInput:
		path := in.Path
		if clean, ok := fileguard.Clean(path); ok {
			path = clean
		}
		decision := fileguard.RequiresApproval
		if r.e.guard != nil {
			decision = r.e.guard.Check(path, fileguard.OpWrite)
		}
		switch decision {
		case fileguard.Allow:
			return r.emit(FileWriteEvent{Agent: agent, Path: path, Content: in.Content})
		case fileguard.Deny:
			if !r.debug(agent, conversation.DebugWriteDenied, ToolWriteFile, path, nil) {
				return false
			}
			return r.emit(FileWriteDeniedEvent{Agent: agent, Path: path})
		default:
			r.raised++
			return r.emit(ApprovalRequestedEvent{Agent: agent, Path: path, Content: in.Content})
		}
	case *proposeTasksInput:
		return r.emit(TasksProposedEvent{Agent: agent, Tasks: in.Tasks})
	}
	return true
}

func (r *run) coachTurn(ctx context.Context) bool {
	p := r.s.Policy
	tpl := r.e.templates
	system, ok := r.render("coach_system", newPromptData(tpl, p, p.Coach))
	if !ok {
		return false
	}
	resp, ok := r.call(ctx, Request{
		Iteration:   r.s.Iteration,
		Participant: p.Coach,
		Role:        RoleCoach,
		Phase:       p.Phase,
		System:      system,
		Messages:    promptMessages(r.scoped(), p.Coach),
		Tools:       toolSpecs(tpl, p.CoachTools),
	})
	if !ok {
		return false
	}

	calls, ok := r.accept(p.Coach, RoleCoach, resp.ToolCalls)
	if !ok {
		return false
	}
	var ask *askPMInput
	var done *phaseCompleteInput
	for _, c := range calls {
		switch in := c.input.(type) {
		case *askPMInput:
			if ask == nil {
				ask = in
			}
		case *phaseCompleteInput:
			if done == nil {
				done = in
			}
		}
	}

	switch {
	case ask != nil:
		if !r.ignore(p.Coach, calls, ToolAskPM) {
			return false
		}
		msg := r.message(p.Coach, appendLine(resp.Text, ask.Question))
		msg.AwaitingPM = true
		if !r.emit(MessageEvent{Message: msg}) {
			return false
		}
		r.emit(CoachAskedPMEvent{stop: paused(), Coach: p.Coach, Question: ask.Question})
		return false
	case done != nil:
		if !r.ignore(p.Coach, calls, ToolPhaseComplete) {
			return false
		}
		text := resp.Text
		if text == "" {
			text = done.Summary
		}
		if text != "" && !r.emit(MessageEvent{Message: r.message(p.Coach, text)}) {
			return false
		}
		r.emit(PhaseCompleteEvent{stop: paused(), Coach: p.Coach, Summary: done.Summary})
		return false
	}

	if resp.Text != "" {
		return r.emit(MessageEvent{Message: r.message(p.Coach, resp.Text)})
	}
	return true
}
