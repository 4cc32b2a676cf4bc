package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tatianab/jianghu/internal/gameerr"
	"github.com/tatianab/jianghu/internal/models"
)

var narrative = strings.Repeat("雪", 150)

func turnJSON(update string, options ...string) string {
	if len(options) == 0 {
		options = []string{"向東走去", "拔劍出鞘", "詢問掌櫃", "打坐調息"}
	}
	var opts []string
	for i, o := range options {
		opts = append(opts, fmt.Sprintf(`{"label": "選項%d", "action": %q}`, i+1, o))
	}
	s := fmt.Sprintf(`{"narrative": %q, "options": [%s]`, narrative, strings.Join(opts, ","))
	if update != "" {
		s += `, "stateUpdate": ` + update
	}
	return s + "}"
}

type fakeTransport struct {
	mu     sync.Mutex
	turns  []string
	errs   []error
	calls  map[string]int
	users   []string
	systems []string
	quest   string
	sumTxt string

	// block, when set, holds the named call kind until it is closed.
	block   map[string]chan struct{}
	started chan string
}

func newFake() *fakeTransport {
	return &fakeTransport{
		calls:   map[string]int{},
		block:   map[string]chan struct{}{},
		started: make(chan string, 16),
		sumTxt:  "新的摘要",
		quest:   `{"mainQuest": "前往嵩山", "stageSummary": "在華山得了劍譜", "arc": ["嵩山論劍", "黑木崖"]}`,
	}
}

func kindOf(system, user string) string {
	switch {
	case strings.Contains(system, "編修"):
		return "summary"
	case strings.Contains(system, "劇情策劃"):
		return "quest"
	case strings.Contains(user, "你上一次的輸出有以下問題"):
		return "repair"
	case strings.Contains(system, "剛踏入江湖"):
		return "init"
	default:
		return "turn"
	}
}

func (f *fakeTransport) Complete(ctx context.Context, system, user string) (*Completion, error) {
	kind := kindOf(system, user)
	f.mu.Lock()
	f.calls[kind]++
	if kind == "turn" {
		f.users = append(f.users, user)
		f.systems = append(f.systems, system)
	}
	block := f.block[kind]
	f.mu.Unlock()

	f.started <- kind
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch kind {
	case "summary":
		return &Completion{Text: f.sumTxt}, nil
	case "quest":
		return &Completion{Text: f.quest}, nil
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.turns) == 0 {
		return &Completion{Text: turnJSON("")}, nil
	}
	text := f.turns[0]
	f.turns = f.turns[1:]
	return &Completion{Text: text, Usage: &Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
}

func (f *fakeTransport) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func (f *fakeTransport) drainStarted() {
	for {
		select {
		case <-f.started:
		default:
			return
		}
	}
}

type recordingSaver struct {
	mu    sync.Mutex
	saves []*models.GameSession
	err   error
}

func (r *recordingSaver) Save(_ context.Context, s *models.GameSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, s)
	return r.err
}

func (r *recordingSaver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func testSession(entries int) *models.GameSession {
	p := models.NewPlayer(models.CharacterSheet{Name: "郭靖", Attributes: map[models.Attribute]int{models.Constitution: 5}})
	s := &models.GameSession{
		Version: models.CurrentVersion,
		ID:      "s-1",
		State: models.GameState{
			Player: p,
			World:  models.WorldState{Location: "襄陽", UnlockedLocations: []string{"襄陽"}},
			Quest:  models.QuestState{MainQuest: "守住襄陽", Arc: []string{"夜襲敵營"}},
		},
		Options: []models.Option{{Label: "一", Action: "巡城"}, {Label: "二", Action: "練掌"}},
	}
	for i := range entries {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		s.Narrative = append(s.Narrative, models.NarrativeEntry{Role: role, Text: fmt.Sprintf("第%d條", i)})
	}
	return s
}

func newTestEngine(f *fakeTransport, opts Options, extra ...Option) *Engine {
	return NewEngine(f, append([]Option{WithOptions(opts)}, extra...)...)
}

func TestStartCreatesSession(t *testing.T) {
	f := newFake()
	f.turns = []string{turnJSON(`{"location": "牛家村", "weather": "小雪", "mainQuest": "找到楊鐵心", "attributeChanges": {"strength": 40}, "reputationChanges": {"court": 5}, "newItems": [{"name": "短劍", "count": 1, "type": "weapon", "description": "刻著楊康二字"}]}`)}
	saver := &recordingSaver{}
	notes := NewChanNotifier(8)
	e := newTestEngine(f, Options{}, WithSaver(saver), WithNotifier(notes))
	defer e.Close()

	out, err := e.Start(context.Background(), models.CharacterSheet{Name: "郭靖", Gender: "男", Attributes: map[models.Attribute]int{models.Strength: 12}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Wait()

	if f.count("init") != 1 {
		t.Fatalf("expected one init call, got %d", f.count("init"))
	}
	s := e.Snapshot()
	if s == nil || s.ID == "" {
		t.Fatalf("expected a session with an id")
	}
	if s.State.World.Location != "牛家村" || s.State.Quest.MainQuest != "找到楊鐵心" {
		t.Errorf("opening not applied: %+v %+v", s.State.World, s.State.Quest)
	}
	if s.State.Player.Attributes[models.Strength] != 12 || s.State.Player.Reputation[models.Court] != 0 {
		t.Errorf("opening must not change attributes or reputation")
	}
	if len(out.Options) != 4 || len(s.Options) != 4 {
		t.Errorf("expected 4 options, got %d", len(s.Options))
	}
	if len(s.Narrative) != 2 || s.Narrative[0].Role != models.RoleAssistant || s.Narrative[1].Role != models.RoleSystem {
		t.Errorf("expected opening narrative plus pickup note, got %+v", s.Narrative)
	}
	if saver.count() != 1 {
		t.Errorf("expected one autosave, got %d", saver.count())
	}
	select {
	case n := <-notes.C:
		if n.Type != models.NotifyItem {
			t.Errorf("expected item notification, got %+v", n)
		}
	default:
		t.Errorf("expected a notification")
	}
}

func TestSubmitAppliesTurn(t *testing.T) {
	f := newFake()
	f.turns = []string{turnJSON(`{"hpChange": -20, "moneyChange": 15, "newTags": ["城頭"]}`)}
	e := newTestEngine(f, Options{})
	defer e.Close()
	e.Load(testSession(2))

	out, err := e.Submit(context.Background(), "  登上城頭  ")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	s := e.Snapshot()
	if s.State.Player.HP != 80 || s.State.Player.Money != models.StartingMoney+15 {
		t.Errorf("delta not applied: hp %d money %d", s.State.Player.HP, s.State.Player.Money)
	}
	if len(s.Narrative) != 4 || s.Narrative[2].Text != "登上城頭" || s.Narrative[3].Role != models.RoleAssistant {
		t.Errorf("unexpected narrative %+v", s.Narrative)
	}
	if len(out.Options) != 4 || s.Options[1].Action != "拔劍出鞘" {
		t.Errorf("options not replaced: %+v", s.Options)
	}
	if s.State.Turn != 1 || e.Phase() != Idle || e.Processing() {
		t.Errorf("expected idle after turn %d, phase %s", s.State.Turn, e.Phase())
	}
}

func TestSubmitWhileProcessingIsNoop(t *testing.T) {
	f := newFake()
	f.block["turn"] = make(chan struct{})
	e := newTestEngine(f, Options{})
	defer e.Close()
	e.Load(testSession(2))

	done := make(chan error, 1)
	go func() {
		_, err := e.Submit(context.Background(), "巡城")
		done <- err
	}()
	<-f.started

	if !e.Processing() || e.Phase() != AwaitingResponse {
		t.Fatalf("expected turn in flight, phase %s", e.Phase())
	}
	if _, err := e.Submit(context.Background(), "偷跑"); !errors.Is(err, gameerr.ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	if s := e.Snapshot(); len(s.Narrative) != 3 || len(s.Options) != 0 {
		t.Fatalf("concurrent submit must not mutate: %d entries, %d options", len(s.Narrative), len(s.Options))
	}

	close(f.block["turn"])
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if f.count("turn") != 1 {
		t.Fatalf("expected exactly one model call, got %d", f.count("turn"))
	}
}

func TestSubmitMalformedResponseDoesNotMutate(t *testing.T) {
	f := newFake()
	f.turns = []string{"not json"}
	e := newTestEngine(f, Options{})
	defer e.Close()
	start := testSession(2)
	e.Load(start)

	_, err := e.Submit(context.Background(), "巡城")
	if !errors.Is(err, gameerr.ErrMalformedJSON) {
		t.Fatalf("expected malformed JSON, got %v", err)
	}
	s := e.Snapshot()
	if s.State.Player.HP != start.State.Player.HP || s.State.Turn != 0 {
		t.Errorf("state must be untouched")
	}
	if len(s.Narrative) != 3 || s.Narrative[2].Role != models.RoleSystem {
		t.Errorf("expected the player entry withdrawn and a failure note, got %+v", s.Narrative)
	}
	if len(s.Options) != 0 {
		t.Errorf("options must stay cleared after failure")
	}
	if e.Phase() != Idle || e.Processing() {
		t.Errorf("expected idle, not processing; got %s", e.Phase())
	}
	if !errors.Is(e.LastError(), gameerr.ErrMalformedJSON) {
		t.Errorf("expected the failure to be kept, got %v", e.LastError())
	}

	if _, err := e.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	s = e.Snapshot()
	if s.Narrative[len(s.Narrative)-2].Text != "巡城" || len(s.Options) != 4 {
		t.Errorf("retry did not replay the failed action")
	}
	if e.LastError() != nil {
		t.Errorf("a successful turn must clear the last failure")
	}
}

func TestSubmitTransportErrorDoesNotMutate(t *testing.T) {
	f := newFake()
	f.errs = []error{errors.New("503 service unavailable")}
	e := newTestEngine(f, Options{})
	defer e.Close()
	e.Load(testSession(2))

	_, err := e.Submit(context.Background(), "巡城")
	if !gameerr.IsKind(err, gameerr.KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	s := e.Snapshot()
	if len(s.Narrative) != 2 {
		t.Errorf("expected the optimistic user entry withdrawn, got %d entries", len(s.Narrative))
	}
	if s.State.Turn != 0 {
		t.Errorf("state must be untouched")
	}
}

func TestSubmitTimeout(t *testing.T) {
	f := newFake()
	f.block["turn"] = make(chan struct{})
	e := newTestEngine(f, Options{TurnTimeout: 20 * time.Millisecond})
	defer e.Close()
	e.Load(testSession(2))

	_, err := e.Submit(context.Background(), "巡城")
	var ge *gameerr.Error
	if !errors.As(err, &ge) || ge.Code != gameerr.CodeTransportTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if e.Phase() != Idle || e.Processing() {
		t.Fatalf("expected idle phase after timeout, got %s", e.Phase())
	}
	if !gameerr.IsKind(e.LastError(), gameerr.KindTransport) {
		t.Fatalf("expected timeout kept as last failure, got %v", e.LastError())
	}
}

func TestFailedTurnPassesThroughFailed(t *testing.T) {
	f := newFake()
	f.errs = []error{errors.New("503 service unavailable")}
	var phases []Phase
	e := newTestEngine(f, Options{}, WithPhaseHook(func(p Phase) { phases = append(phases, p) }))
	defer e.Close()
	e.Load(testSession(2))

	if _, err := e.Submit(context.Background(), "巡城"); err == nil {
		t.Fatal("expected an error")
	}
	want := []Phase{Submitting, AwaitingResponse, Failed, Idle}
	if !slices.Equal(phases, want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
}

func TestRetryRecordsActionOnce(t *testing.T) {
	f := newFake()
	f.errs = []error{errors.New("connection reset")}
	e := newTestEngine(f, Options{})
	defer e.Close()
	e.Load(testSession(2))

	if _, err := e.Submit(context.Background(), "夜探敵營"); err == nil {
		t.Fatal("expected an error")
	}
	if _, err := e.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	n := 0
	for _, entry := range e.Snapshot().Narrative {
		if entry.Role == models.RoleUser && entry.Text == "夜探敵營" {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected the action recorded once, got %d", n)
	}
}

func TestFailedTurnCountsTowardCompaction(t *testing.T) {
	f := newFake()
	f.turns = []string{"not json"}
	e := newTestEngine(f, Options{SummaryEvery: 20, QuestEvery: 1000})
	defer e.Close()
	e.Load(testSession(19))

	// The failure note takes the log to 20 entries.
	if _, err := e.Submit(context.Background(), "巡城"); err == nil {
		t.Fatal("expected an error")
	}
	if n := len(e.Snapshot().Narrative); n != 20 {
		t.Fatalf("expected 20 entries after the failure note, got %d", n)
	}
	if _, err := e.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	e.Wait()
	if f.count("summary") != 1 {
		t.Fatalf("expected one compaction across the boundary, got %d", f.count("summary"))
	}
}

func TestTurnPromptKeepsActionOutOfHistory(t *testing.T) {
	f := newFake()
	e := newTestEngine(f, Options{})
	defer e.Close()
	e.Load(testSession(2))

	if _, err := e.Submit(context.Background(), "夜探敵營"); err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	system, user := f.systems[0], f.users[0]
	f.mu.Unlock()
	if strings.Contains(system, "夜探敵營") {
		t.Errorf("system prompt repeats the current action")
	}
	if !strings.Contains(system, "第1條") {
		t.Errorf("system prompt lost earlier history")
	}
	if !strings.Contains(user, "夜探敵營") {
		t.Errorf("user prompt is missing the action")
	}
}

func TestRestartDiscardsLateResponse(t *testing.T) {
	f := newFake()
	f.block["turn"] = make(chan struct{})
	e := newTestEngine(f, Options{})
	defer e.Close()
	e.Load(testSession(2))

	done := make(chan error, 1)
	go func() {
		_, err := e.Submit(context.Background(), "巡城")
		done <- err
	}()
	<-f.started

	e.Restart()
	fresh := testSession(0)
	fresh.ID = "s-2"
	e.Load(fresh)
	close(f.block["turn"])

	if err := <-done; !errors.Is(err, gameerr.ErrStale) {
		t.Fatalf("expected stale, got %v", err)
	}
	s := e.Snapshot()
	if s.ID != "s-2" || len(s.Narrative) != 0 || s.State.Turn != 0 {
		t.Fatalf("late response leaked into the new session: %+v", s)
	}
}

func TestSelectOptionClampsIndex(t *testing.T) {
	f := newFake()
	e := newTestEngine(f, Options{})
	defer e.Close()
	e.Load(testSession(2))

	if _, err := e.SelectOption(context.Background(), 3); err != nil {
		t.Fatalf("SelectOption: %v", err)
	}
	s := e.Snapshot()
	if s.Narrative[2].Text != "練掌" {
		t.Fatalf("expected last option to be chosen, got %q", s.Narrative[2].Text)
	}
}

func TestSummaryScheduledOnceWhenCrossing(t *testing.T) {
	f := newFake()
	e := newTestEngine(f, Options{SummaryEvery: 20, QuestEvery: 1000})
	defer e.Close()
	e.Load(testSession(19))

	if _, err := e.Submit(context.Background(), "巡城"); err != nil {
		t.Fatal(err)
	}
	e.Wait()
	if f.count("summary") != 1 {
		t.Fatalf("expected one compaction after crossing 20, got %d", f.count("summary"))
	}
	if s := e.Snapshot(); s.Summary != "新的摘要" {
		t.Fatalf("summary not updated: %q", s.Summary)
	}

	if _, err := e.Submit(context.Background(), "練掌"); err != nil {
		t.Fatal(err)
	}
	e.Wait()
	if f.count("summary") != 1 {
		t.Fatalf("expected no compaction on the next turn, got %d", f.count("summary"))
	}
}

func TestLateSummaryAppliesToLiveState(t *testing.T) {
	f := newFake()
	f.block["summary"] = make(chan struct{})
	e := newTestEngine(f, Options{SummaryEvery: 4, QuestEvery: 1000})
	defer e.Close()
	e.Load(testSession(2))

	if _, err := e.Submit(context.Background(), "巡城"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(context.Background(), "練掌"); err != nil {
		t.Fatal(err)
	}
	close(f.block["summary"])
	e.Wait()

	s := e.Snapshot()
	if s.Summary != "新的摘要" {
		t.Fatalf("expected late summary applied, got %q", s.Summary)
	}
	if len(s.Narrative) != 6 || s.State.Turn != 2 {
		t.Fatalf("late summary must not roll back newer turns: %d entries, turn %d", len(s.Narrative), s.State.Turn)
	}
}

func TestSummaryFailureIsSwallowed(t *testing.T) {
	f := newFake()
	f.sumTxt = "   "
	e := newTestEngine(f, Options{SummaryEvery: 4, QuestEvery: 1000})
	defer e.Close()
	s := testSession(2)
	s.Summary = "舊摘要"
	e.Load(s)

	if _, err := e.Submit(context.Background(), "巡城"); err != nil {
		t.Fatalf("background failure must not fail the turn: %v", err)
	}
	e.Wait()
	if got := e.Snapshot().Summary; got != "舊摘要" {
		t.Fatalf("expected summary unchanged, got %q", got)
	}
}

func TestQuestReplenishmentArchivesObjective(t *testing.T) {
	f := newFake()
	e := newTestEngine(f, Options{SummaryEvery: 1000, QuestEvery: 2})
	defer e.Close()
	e.Load(testSession(2))

	if _, err := e.Submit(context.Background(), "巡城"); err != nil {
		t.Fatal(err)
	}
	e.Wait()
	if f.count("quest") != 1 {
		t.Fatalf("expected one quest call, got %d", f.count("quest"))
	}
	q := e.Snapshot().State.Quest
	if q.MainQuest != "前往嵩山" {
		t.Fatalf("expected new objective, got %q", q.MainQuest)
	}
	if len(q.QuestHistory) != 1 || q.QuestHistory[0] != "守住襄陽" || q.QuestStageSummaries[0] != "在華山得了劍譜" {
		t.Fatalf("previous objective not archived: %+v", q)
	}
	if len(q.Arc) != 2 || q.ArcIndex != 0 || q.QuestStartTurn != 1 {
		t.Fatalf("arc not replaced: %+v", q)
	}
}

func TestQuestReplacedByTurnIsArchived(t *testing.T) {
	f := newFake()
	f.turns = []string{turnJSON(`{"mainQuest": "夜襲敵營", "plotProgress": 30}`)}
	e := newTestEngine(f, Options{QuestEvery: 1000})
	defer e.Close()
	e.Load(testSession(2))

	if _, err := e.Submit(context.Background(), "召集丐幫弟子"); err != nil {
		t.Fatal(err)
	}
	q := e.Snapshot().State.Quest
	if q.MainQuest != "夜襲敵營" || q.PlotProgress != 30 {
		t.Fatalf("unexpected quest %+v", q)
	}
	if len(q.QuestHistory) != 1 || len(q.QuestStageSummaries) != 1 || q.QuestHistory[0] != "守住襄陽" {
		t.Fatalf("expected archived objective with aligned summary slot, got %+v", q)
	}
	if q.ArcIndex != 1 || q.QuestStartTurn != 1 {
		t.Fatalf("expected arc cursor advanced, got %+v", q)
	}
}

func TestRepairOnTooFewOptions(t *testing.T) {
	f := newFake()
	f.turns = []string{
		turnJSON("", "向東走去", "拔劍出鞘"),
		turnJSON(""),
	}
	e := newTestEngine(f, Options{RepairOnDefect: true})
	defer e.Close()
	e.Load(testSession(2))

	out, err := e.Submit(context.Background(), "巡城")
	if err != nil {
		t.Fatal(err)
	}
	if f.count("repair") != 1 || len(out.Options) != 4 {
		t.Fatalf("expected one repair yielding 4 options, got %d calls, %d options", f.count("repair"), len(out.Options))
	}
}

func TestTooFewOptionsWithoutRepair(t *testing.T) {
	f := newFake()
	f.turns = []string{turnJSON("", "向東走去", "拔劍出鞘")}
	e := newTestEngine(f, Options{})
	defer e.Close()
	e.Load(testSession(2))

	if _, err := e.Submit(context.Background(), "巡城"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SelectOption(context.Background(), 3); err != nil {
		t.Fatalf("selecting past the end must clamp, got %v", err)
	}
	s := e.Snapshot()
	if s.Narrative[4].Text != "拔劍出鞘" {
		t.Fatalf("expected clamped option, got %q", s.Narrative[4].Text)
	}
}

func TestAutosaveFailureDoesNotAffectGame(t *testing.T) {
	f := newFake()
	saver := &recordingSaver{err: errors.New("disk full")}
	e := newTestEngine(f, Options{}, WithSaver(saver))
	defer e.Close()
	e.Load(testSession(2))

	if _, err := e.Submit(context.Background(), "巡城"); err != nil {
		t.Fatal(err)
	}
	e.Wait()
	if saver.count() != 1 {
		t.Fatalf("expected an autosave attempt")
	}
	if e.Snapshot().State.Turn != 1 {
		t.Fatalf("save failure must not roll back the turn")
	}
}

// gateSaver holds the first save until release is closed.
type gateSaver struct {
	recordingSaver
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gateSaver) Save(ctx context.Context, s *models.GameSession) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.recordingSaver.Save(ctx, s)
}

func TestAutosaveKeepsNewestSnapshot(t *testing.T) {
	f := newFake()
	saver := &gateSaver{entered: make(chan struct{}), release: make(chan struct{})}
	e := newTestEngine(f, Options{SummaryEvery: 1000, QuestEvery: 1000}, WithSaver(saver))
	defer e.Close()
	e.Load(testSession(2))

	if _, err := e.Submit(context.Background(), "巡城"); err != nil {
		t.Fatal(err)
	}
	<-saver.entered
	for _, action := range []string{"練掌", "登城"} {
		if _, err := e.Submit(context.Background(), action); err != nil {
			t.Fatal(err)
		}
	}
	close(saver.release)
	e.Wait()

	saver.mu.Lock()
	defer saver.mu.Unlock()
	var turns []int
	for _, s := range saver.saves {
		turns = append(turns, s.State.Turn)
	}
	if !slices.Equal(turns, []int{1, 3}) {
		t.Fatalf("saved turns = %v, want [1 3]", turns)
	}
}

func TestGameOverOnlyWhenSeekingDeath(t *testing.T) {
	f := newFake()
	f.turns = []string{
		turnJSON(`{"hpChange": -999}`),
		turnJSON(`{"hpChange": -999}`),
	}
	e := newTestEngine(f, Options{})
	defer e.Close()
	e.Load(testSession(2))

	out, err := e.Submit(context.Background(), "硬接金輪")
	if err != nil {
		t.Fatal(err)
	}
	if out.GameOver || e.Snapshot().State.Player.HP != 1 {
		t.Fatalf("plot armor should keep the player alive")
	}
	out, err = e.Submit(context.Background(), "與城同殉，從容赴死")
	if err != nil {
		t.Fatal(err)
	}
	if !out.GameOver {
		t.Fatalf("expected game over when seeking death")
	}
}

func TestNoSession(t *testing.T) {
	e := newTestEngine(newFake(), Options{})
	defer e.Close()
	if _, err := e.Submit(context.Background(), "巡城"); !errors.Is(err, gameerr.ErrNoSession) {
		t.Fatalf("expected no session, got %v", err)
	}
	if _, err := e.Retry(context.Background()); err == nil {
		t.Fatalf("expected error with nothing to retry")
	}
}

func TestCrossed(t *testing.T) {
	tests := []struct {
		before, after int
		want          bool
	}{
		{19, 21, true},
		{18, 20, true},
		{20, 22, false},
		{21, 23, false},
		{39, 41, true},
	}
	for _, tt := range tests {
		if got := crossed(tt.before, tt.after, 20); got != tt.want {
			t.Errorf("crossed(%d, %d) = %v, want %v", tt.before, tt.after, got, tt.want)
		}
	}
}

func TestEquipBetweenTurns(t *testing.T) {
	f := newFake()
	saver := &recordingSaver{}
	e := newTestEngine(f, Options{}, WithSaver(saver))
	defer e.Close()
	s := testSession(2)
	s.State.Player.UnlockedTitles = append(s.State.Player.UnlockedTitles, "北俠")
	s.State.Player.Inventory = []models.Item{{ID: "item-1", Name: "玄鐵重劍", Count: 1}}
	e.Load(s)

	if changed, err := e.EquipTitle("南帝"); err != nil || changed {
		t.Fatalf("locked title must be ignored: changed=%v err=%v", changed, err)
	}
	if changed, err := e.EquipTitle("北俠"); err != nil || !changed {
		t.Fatalf("EquipTitle: changed=%v err=%v", changed, err)
	}
	if changed, err := e.EquipItem(models.SlotWeapon, "玄鐵重劍"); err != nil || !changed {
		t.Fatalf("EquipItem: changed=%v err=%v", changed, err)
	}
	e.Wait()

	p := e.Snapshot().State.Player
	if p.Title != "北俠" || p.Equipment.Weapon != "玄鐵重劍" {
		t.Fatalf("equip not applied: %+v %+v", p.Title, p.Equipment)
	}
	if saver.count() != 2 {
		t.Fatalf("expected a save per change, got %d", saver.count())
	}
}
