package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tatianab/jianghu/internal/gameerr"
	"github.com/tatianab/jianghu/internal/models"
	"github.com/tatianab/jianghu/internal/prompt"
	"github.com/tatianab/jianghu/internal/reducer"
	"github.com/tatianab/jianghu/internal/response"
)

// Phase is where the current turn is in its lifecycle.
type Phase int

const (
	Idle Phase = iota
	Submitting
	AwaitingResponse
	Applying
	Failed
)

func (p Phase) String() string {
	switch p {
	case Submitting:
		return "submitting"
	case AwaitingResponse:
		return "awaiting_response"
	case Applying:
		return "applying"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Options tune the turn cadence and timeouts. Zero values fall back to
// the defaults.
type Options struct {
	TurnTimeout       time.Duration
	BackgroundTimeout time.Duration
	SaveTimeout       time.Duration
	// SummaryEvery schedules a summary compaction whenever the narrative
	// log length crosses a multiple of it.
	SummaryEvery int
	// QuestEvery schedules a quest-arc replenishment every this many
	// assistant entries.
	QuestEvery int
	// RepairOnDefect re-prompts once when a response has too few options.
	RepairOnDefect bool
}

const (
	defaultTurnTimeout       = 60 * time.Second
	defaultBackgroundTimeout = 90 * time.Second
	defaultSaveTimeout       = 10 * time.Second
	defaultSummaryEvery      = 20
	defaultQuestEvery        = 15
)

func (o Options) withDefaults() Options {
	if o.TurnTimeout <= 0 {
		o.TurnTimeout = defaultTurnTimeout
	}
	if o.BackgroundTimeout <= 0 {
		o.BackgroundTimeout = defaultBackgroundTimeout
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = defaultSaveTimeout
	}
	if o.SummaryEvery <= 0 {
		o.SummaryEvery = defaultSummaryEvery
	}
	if o.QuestEvery <= 0 {
		o.QuestEvery = defaultQuestEvery
	}
	return o
}

// Engine orchestrates turns for one game session. Only one turn may be in
// flight at a time; background tasks run concurrently and write back only
// the fields they own.
type Engine struct {
	transport Transport
	builder   *prompt.Builder
	reducer   *reducer.Reducer
	saver     Saver
	notifier  Notifier
	logger    *log.Logger
	opts      Options
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	bg     errgroup.Group

	onPhase func(Phase)

	mu         sync.Mutex
	session    *models.GameSession
	phase      Phase
	processing bool
	epoch      uint64
	lastTick   time.Time
	lastFailed string
	lastErr    error
	// checkedLen is the log length at the last compaction check.
	checkedLen int

	pendingSave *models.GameSession
	saving      bool
}

// Option configures an Engine.
type Option func(*Engine)

func WithSaver(s Saver) Option { return func(e *Engine) { e.saver = s } }
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }
func WithLogger(l *log.Logger) Option { return func(e *Engine) { e.logger = l } }
func WithBuilder(b *prompt.Builder) Option { return func(e *Engine) { e.builder = b } }
func WithReducer(r *reducer.Reducer) Option { return func(e *Engine) { e.reducer = r } }
func WithOptions(o Options) Option { return func(e *Engine) { e.opts = o } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithPhaseHook observes every phase transition. The hook runs with the
// engine lock held and must not call back into the engine.
func WithPhaseHook(fn func(Phase)) Option { return func(e *Engine) { e.onPhase = fn } }

func NewEngine(t Transport, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		transport: t,
		builder:   &prompt.Builder{},
		reducer:   reducer.New(),
		saver:     nopSaver{},
		notifier:  nopNotifier{},
		logger:    log.New(io.Discard, "", 0),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, o := range opts {
		o(e)
	}
	e.opts = e.opts.withDefaults()
	return e
}

// Close cancels background work and waits for it to finish.
func (e *Engine) Close() {
	e.cancel()
	e.bg.Wait()
}

// Wait blocks until all background tasks and saves scheduled so far have
// finished.
func (e *Engine) Wait() {
	e.bg.Wait()
}

// Outcome is what a completed turn hands back to the UI.
type Outcome struct {
	Narrative     string
	Options       []models.Option
	Notifications []models.Notification
	Report        response.Report
	// GameOver is set when the player's HP reached 0 this turn.
	GameOver bool
}

// LastError returns the error of the most recent failed turn, or nil once
// a turn has succeeded since.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Phase returns the current turn phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Processing reports whether a turn is in flight.
func (e *Engine) Processing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processing
}

// Snapshot returns a deep copy of the live session, or nil before a game
// has started.
func (e *Engine) Snapshot() *models.GameSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	return e.session.Clone()
}

// Load resumes a saved session. Any in-flight turn or background task
// from the previous session is discarded when it completes.
func (e *Engine) Load(s *models.GameSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.epoch++
	e.session = s.Clone()
	e.processing = false
	e.enter(Idle)
	e.lastFailed = ""
	e.lastErr = nil
	e.checkedLen = len(s.Narrative)
	e.lastTick = e.now()
}

// Restart drops the current session. Late responses for it are ignored.
func (e *Engine) Restart() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.epoch++
	e.session = nil
	e.processing = false
	e.enter(Idle)
	e.lastFailed = ""
	e.lastErr = nil
	e.checkedLen = 0
}

// Start creates a new session for the character and asks the model for
// the opening scene.
func (e *Engine) Start(ctx context.Context, sheet models.CharacterSheet) (*Outcome, error) {
	e.mu.Lock()
	if e.processing {
		e.mu.Unlock()
		return nil, gameerr.ErrBusy
	}
	e.processing = true
	e.enter(AwaitingResponse)
	epoch := e.epoch
	e.mu.Unlock()
	defer e.settle()

	player := models.NewPlayer(sheet)
	tr, err := e.startTurn(ctx, player)
	if err != nil {
		e.mu.Lock()
		if epoch == e.epoch {
			e.processing = false
			e.lastErr = err
			e.enter(Failed)
		}
		e.mu.Unlock()
		return nil, err
	}

	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return nil, gameerr.ErrStale
	}
	now := e.now()
	state := models.GameState{Player: player}
	var delta models.Delta
	if tr.Delta != nil {
		delta = *tr.Delta
	}
	state, notes := e.reducer.ApplyInitial(state, delta)
	if state.World.Location != "" && len(state.World.UnlockedLocations) == 0 {
		state.World.UnlockedLocations = []string{state.World.Location}
	}
	e.epoch++
	e.session = &models.GameSession{
		Version:   models.CurrentVersion,
		ID:        uuid.NewString(),
		State:     state,
		Narrative: []models.NarrativeEntry{{Role: models.RoleAssistant, Text: tr.Narrative, CreatedAt: now}},
		Options:   tr.Options,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.appendNotes(notes, now)
	e.checkedLen = len(e.session.Narrative)
	e.lastTick = now
	e.lastFailed = ""
	e.lastErr = nil
	e.processing = false
	e.enter(Idle)
	snapshot := e.session.Clone()
	e.mu.Unlock()

	e.publish(notes)
	e.autosave(snapshot)
	return &Outcome{Narrative: tr.Narrative, Options: tr.Options, Notifications: notes, Report: tr.Report}, nil
}

func (e *Engine) startTurn(ctx context.Context, player models.PlayerState) (*response.TurnResult, error) {
	p, err := e.builder.Initial(player)
	if err != nil {
		return nil, err
	}
	c, err := e.complete(ctx, e.opts.TurnTimeout, p)
	if err != nil {
		return nil, err
	}
	tr, err := response.ParseTurnResult(c.Text)
	if err != nil {
		return nil, err
	}
	e.logDefects("opening", tr.Report)
	return tr, nil
}

// SelectOption submits the action of the option at index. Out-of-range
// indexes are clamped to the last available option.
func (e *Engine) SelectOption(ctx context.Context, index int) (*Outcome, error) {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, gameerr.ErrNoSession
	}
	opt, ok := response.SelectOption(e.session.Options, index)
	e.mu.Unlock()
	if !ok {
		return nil, errors.New("no options to choose from")
	}
	return e.Submit(ctx, opt.Action)
}

// Retry re-submits the action of the last failed turn as a fresh turn.
func (e *Engine) Retry(ctx context.Context) (*Outcome, error) {
	e.mu.Lock()
	action := e.lastFailed
	e.mu.Unlock()
	if action == "" {
		return nil, errors.New("no failed turn to retry")
	}
	return e.Submit(ctx, action)
}

// Submit plays one turn. While another turn is in flight it returns
// gameerr.ErrBusy without doing anything. On transport or parse failure
// the error is returned, the optimistic player entry is withdrawn and
// world state is untouched. A parse failure leaves a system note.
func (e *Engine) Submit(ctx context.Context, action string) (*Outcome, error) {
	out, err := e.submit(ctx, action)
	e.settle()
	return out, err
}

func (e *Engine) submit(ctx context.Context, action string) (*Outcome, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, errors.New("action is empty")
	}

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, gameerr.ErrNoSession
	}
	if e.processing {
		e.mu.Unlock()
		return nil, gameerr.ErrBusy
	}
	e.processing = true
	e.enter(Submitting)
	epoch := e.epoch
	// The action goes to the model in the user prompt, so history stops
	// before it.
	pctx := e.promptContext()
	before := len(e.session.Narrative)
	e.session.Narrative = append(e.session.Narrative, models.NarrativeEntry{Role: models.RoleUser, Text: action, CreatedAt: e.now()})
	e.session.Options = nil
	e.mu.Unlock()

	p, err := e.builder.Turn(pctx, action)
	if err != nil {
		return nil, e.fail(epoch, before, action, err)
	}

	e.setPhase(epoch, AwaitingResponse)
	c, err := e.complete(ctx, e.opts.TurnTimeout, p)
	if err != nil {
		return nil, e.fail(epoch, before, action, err)
	}
	tr, err := response.ParseTurnResult(c.Text)
	if err != nil {
		e.failNote(epoch, fmt.Sprintf("說書人的回應無法解讀（%v），請重試。", gameerr.KindOf(err)))
		return nil, e.fail(epoch, before, action, err)
	}
	e.logDefects("turn", tr.Report)

	if e.opts.RepairOnDefect && len(tr.Options) < response.RequiredOptions {
		tr = e.repair(ctx, pctx, action, tr)
	}

	return e.apply(epoch, action, tr)
}

// repair asks the model once to fix a response with too few options and
// keeps whichever response has more usable options.
func (e *Engine) repair(ctx context.Context, pctx prompt.Context, action string, tr *response.TurnResult) *response.TurnResult {
	p, err := e.builder.Repair(pctx, action, tr.Report)
	if err != nil {
		e.logger.Printf("repair prompt: %v", err)
		return tr
	}
	c, err := e.complete(ctx, e.opts.TurnTimeout, p)
	if err != nil {
		e.logger.Printf("repair request failed: %v", err)
		return tr
	}
	fixed, err := response.ParseTurnResult(c.Text)
	if err != nil {
		e.logger.Printf("repair response unusable: %v", err)
		return tr
	}
	if len(fixed.Options) > len(tr.Options) {
		e.logDefects("repaired turn", fixed.Report)
		return fixed
	}
	return tr
}

func (e *Engine) apply(epoch uint64, action string, tr *response.TurnResult) (*Outcome, error) {
	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return nil, gameerr.ErrStale
	}
	e.enter(Applying)
	now := e.now()
	s := e.session

	s.Narrative = append(s.Narrative, models.NarrativeEntry{Role: models.RoleAssistant, Text: tr.Narrative, CreatedAt: now})

	var delta models.Delta
	if tr.Delta != nil {
		delta = *tr.Delta
	}
	prevQuest := s.State.Quest.MainQuest
	next, notes := e.reducer.Apply(s.State, delta, action)
	if q := &next.Quest; q.MainQuest != prevQuest {
		archiveQuest(q, prevQuest, "", next.Turn)
		if q.ArcIndex < len(q.Arc) {
			q.ArcIndex++
		}
	}
	s.State = next
	e.appendNotes(notes, now)
	s.Options = tr.Options
	s.PlayTime += now.Sub(e.lastTick)
	s.UpdatedAt = now
	e.lastTick = now
	e.lastFailed = ""
	e.lastErr = nil

	// Growth from failure notes since the last check counts too.
	after := len(s.Narrative)
	compact := crossed(e.checkedLen, after, e.opts.SummaryEvery)
	e.checkedLen = after
	replenish := countRole(s.Narrative, models.RoleAssistant)%e.opts.QuestEvery == 0
	gameOver := next.Player.HP <= 0
	snapshot := s.Clone()

	e.processing = false
	e.enter(Idle)
	e.mu.Unlock()

	e.publish(notes)
	if compact {
		e.scheduleSummary(epoch, snapshot)
	}
	if replenish {
		e.scheduleQuest(epoch, snapshot)
	}
	e.autosave(snapshot)

	return &Outcome{
		Narrative:     tr.Narrative,
		Options:       tr.Options,
		Notifications: notes,
		Report:        tr.Report,
		GameOver:      gameOver,
	}, nil
}

// archiveQuest moves the previous objective into history with its
// index-aligned stage summary.
func archiveQuest(q *models.QuestState, prev, summary string, turn int) {
	if prev == "" {
		return
	}
	q.QuestHistory = append(q.QuestHistory, prev)
	q.QuestStageSummaries = append(q.QuestStageSummaries, summary)
	q.QuestStartTurn = turn
}

// crossed reports whether growing a log from before to after entries
// passed a multiple of every.
func crossed(before, after, every int) bool {
	return after/every > before/every
}

func countRole(log []models.NarrativeEntry, role models.Role) int {
	n := 0
	for _, entry := range log {
		if entry.Role == role {
			n++
		}
	}
	return n
}

// fail ends the turn without touching world state. The optimistic player
// entry at index at is withdrawn so that a retry records the action once.
func (e *Engine) fail(epoch uint64, at int, action string, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch {
		return gameerr.ErrStale
	}
	if entries := e.session.Narrative; at < len(entries) && entries[at].Role == models.RoleUser && entries[at].Text == action {
		e.session.Narrative = slices.Delete(entries, at, at+1)
	}
	e.processing = false
	e.lastFailed = action
	e.lastErr = err
	e.enter(Failed)
	e.logger.Printf("turn failed: %v", err)
	return err
}

// settle moves a failed turn back to Idle once its error has been handed
// to the caller.
func (e *Engine) settle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == Failed {
		e.enter(Idle)
	}
}

// enter records a phase transition. Callers hold e.mu.
func (e *Engine) enter(p Phase) {
	if e.phase == p {
		return
	}
	e.phase = p
	if e.onPhase != nil {
		e.onPhase(p)
	}
}

// failNote records a system annotation explaining a failed turn.
func (e *Engine) failNote(epoch uint64, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch || e.session == nil {
		return
	}
	e.session.Narrative = append(e.session.Narrative, models.NarrativeEntry{Role: models.RoleSystem, Text: text, CreatedAt: e.now()})
}

func (e *Engine) setPhase(epoch uint64, p Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch == e.epoch {
		e.enter(p)
	}
}

// promptContext copies what the prompt builder needs. Callers hold e.mu.
func (e *Engine) promptContext() prompt.Context {
	s := e.session.Clone()
	return prompt.Context{State: s.State, Narrative: s.Narrative, Summary: s.Summary}
}

// appendNotes records pickups as system entries. Callers hold e.mu.
func (e *Engine) appendNotes(notes []models.Notification, at time.Time) {
	for _, n := range notes {
		text := n.Title
		if n.Description != "" {
			text += "：" + n.Description
		}
		e.session.Narrative = append(e.session.Narrative, models.NarrativeEntry{Role: models.RoleSystem, Text: text, CreatedAt: at})
	}
}

func (e *Engine) publish(notes []models.Notification) {
	for _, n := range notes {
		e.notifier.Notify(n)
	}
}

func (e *Engine) complete(ctx context.Context, timeout time.Duration, p prompt.Prompt) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := e.transport.Complete(ctx, p.System, p.User)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, gameerr.Wrap(gameerr.CodeTransportTimeout, fmt.Sprintf("model did not answer within %s", timeout), err)
		}
		return nil, gameerr.Wrap(gameerr.CodeTransportFailed, "calling model", err)
	}
	if c == nil {
		return nil, gameerr.New(gameerr.CodeTransportFailed, "model returned no completion")
	}
	if c.Usage != nil {
		e.logger.Printf("model usage: prompt=%d completion=%d", c.Usage.PromptTokens, c.Usage.CompletionTokens)
	}
	return c, nil
}

func (e *Engine) logDefects(what string, rep response.Report) {
	if len(rep) > 0 {
		e.logger.Printf("%s quality defects: %s", what, rep)
	}
}

// autosave persists a snapshot in the background. Saves run one at a
// time in order; snapshots queued behind a slow save collapse into the
// newest one.
func (e *Engine) autosave(s *models.GameSession) {
	e.mu.Lock()
	e.pendingSave = s
	if e.saving {
		e.mu.Unlock()
		return
	}
	e.saving = true
	e.mu.Unlock()

	e.bg.Go(func() error {
		for {
			e.mu.Lock()
			next := e.pendingSave
			e.pendingSave = nil
			if next == nil {
				e.saving = false
				e.mu.Unlock()
				return nil
			}
			e.mu.Unlock()

			ctx, cancel := context.WithTimeout(e.ctx, e.opts.SaveTimeout)
			if err := e.saver.Save(ctx, next); err != nil {
				e.logger.Printf("autosave %s failed: %v", next.ID, err)
			}
			cancel()
		}
	})
}

// EquipTitle equips an unlocked title between turns. It reports whether
// the state changed.
func (e *Engine) EquipTitle(title string) (bool, error) {
	return e.edit(func(s models.GameState) models.GameState {
		return reducer.EquipTitle(s, title)
	})
}

// EquipItem puts a held item into slot, or clears it when name is empty.
func (e *Engine) EquipItem(slot models.Slot, name string) (bool, error) {
	return e.edit(func(s models.GameState) models.GameState {
		return reducer.EquipItem(s, slot, name)
	})
}

// edit applies a local state change that needs no model call.
func (e *Engine) edit(fn func(models.GameState) models.GameState) (bool, error) {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return false, gameerr.ErrNoSession
	}
	if e.processing {
		e.mu.Unlock()
		return false, gameerr.ErrBusy
	}
	before := e.session.State.Player
	e.session.State = fn(e.session.State)
	after := e.session.State.Player
	changed := before.EquippedTitle != after.EquippedTitle || before.Equipment != after.Equipment
	var snapshot *models.GameSession
	if changed {
		e.session.UpdatedAt = e.now()
		snapshot = e.session.Clone()
	}
	e.mu.Unlock()

	if snapshot != nil {
		e.autosave(snapshot)
	}
	return changed, nil
}
