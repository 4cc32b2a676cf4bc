// Package prompt renders game state into model prompts.
//
// Every builder is a pure function of its inputs: the same state, log and
// action always produce the same system and user prompt.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/template"

	"github.com/tatianab/jianghu/internal/models"
	"github.com/tatianab/jianghu/internal/response"
)

//go:embed templates/*.txt
var templateFS embed.FS

var templates = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"join": strings.Join,
}).ParseFS(templateFS, "templates/*.txt"))

// Defaults for the history window.
const (
	DefaultHistoryWindow   = 8
	DefaultAssistantBudget = 120
	// PacingNudge is the pacing counter value from which the rules push
	// the scene toward conflict or plot progress.
	PacingNudge = 5
	// LongCombat is the combat length from which the rules ask for a
	// decisive outcome.
	LongCombat = 3
)

// Prompt is a system/user prompt pair.
type Prompt struct {
	System string
	User   string
}

// Context is the slice of session state a prompt is built from.
type Context struct {
	State     models.GameState
	Narrative []models.NarrativeEntry
	Summary   string
}

// Builder renders prompts. The zero value uses the defaults.
type Builder struct {
	// HistoryWindow is how many recent user/assistant entries are quoted
	// verbatim.
	HistoryWindow int
	// AssistantBudget truncates quoted assistant entries, in characters.
	AssistantBudget int
}

func (b *Builder) window() int {
	if b == nil || b.HistoryWindow <= 0 {
		return DefaultHistoryWindow
	}
	return b.HistoryWindow
}

func (b *Builder) budget() int {
	if b == nil || b.AssistantBudget <= 0 {
		return DefaultAssistantBudget
	}
	return b.AssistantBudget
}

// view is the data every template sees.
type view struct {
	Player models.PlayerState
	World  models.WorldState
	Quest  models.QuestState

	Alignment  string
	Attributes string
	Reputation string
	Inventory  string
	Equipment  string
	Skills     string
	Meridians  string
	Relations  string
	Time       string
	NextStage  string

	Summary  string
	History  []string
	Action   string
	MaxChars int
	Problems string

	VagueWords     []string
	InertOptions   []string
	AttributeTable []string
	AttributeKeys  []string
	ReputationKeys []string
	SkillLevels    []string
	SkillRanks     []string
	Pacing         string
	// Opening drops the progression keys from the output contract.
	Opening bool
}

func (b *Builder) newView(c Context) view {
	s := c.State
	v := view{
		Player:         s.Player,
		World:          s.World,
		Quest:          s.Quest,
		Alignment:      alignmentLabel(s.Player.Alignment),
		Attributes:     renderAttributes(s.Player.Attributes),
		Reputation:     renderReputation(s.Player.Reputation),
		Inventory:      renderInventory(s.Player.Inventory),
		Equipment:      renderEquipment(s.Player.Equipment),
		Skills:         renderSkills(s.Player.Skills),
		Meridians:      renderMeridians(s.Player.Meridians),
		Relations:      renderRelations(s.Player.Relations),
		Time:           renderTime(s.World.Time),
		Summary:        strings.TrimSpace(c.Summary),
		History:        b.renderHistory(c.Narrative),
		VagueWords:     response.VagueWords,
		InertOptions:   response.InertOptions,
		AttributeTable: attributeTable,
		SkillLevels:    models.SkillLevels,
		SkillRanks:     models.SkillRanks,
		Pacing:         pacingGuidance(s.Quest),
		MaxChars:       response.MaxSummaryChars,
	}
	v.NextStage, _ = s.Quest.NextArcStage()
	for _, a := range models.Attributes {
		v.AttributeKeys = append(v.AttributeKeys, string(a))
	}
	for _, r := range models.Reputations {
		v.ReputationKeys = append(v.ReputationKeys, string(r))
	}
	return v
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func renderPair(systemName, userName string, data any) (Prompt, error) {
	system, err := render(systemName, data)
	if err != nil {
		return Prompt{}, err
	}
	user, err := render(userName, data)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{System: system, User: user}, nil
}

// Turn builds the prompt for a player action.
func (b *Builder) Turn(c Context, action string) (Prompt, error) {
	v := b.newView(c)
	v.Action = strings.TrimSpace(action)
	return renderPair("turn_system.txt", "turn_user.txt", v)
}

// Initial builds the opening prompt for a freshly created character. It
// carries no history or summary.
func (b *Builder) Initial(player models.PlayerState) (Prompt, error) {
	v := b.newView(Context{State: models.GameState{Player: player}})
	v.Pacing = "開場回合，直接引出第一個衝突或線索。"
	v.Opening = true
	return renderPair("init_system.txt", "init_user.txt", v)
}

// Summary builds the compaction prompt that merges the old summary with
// the recent window into a new summary.
func (b *Builder) Summary(oldSummary string, window []models.NarrativeEntry) (Prompt, error) {
	v := view{
		Summary:  strings.TrimSpace(oldSummary),
		History:  renderEntries(window, 0),
		MaxChars: response.MaxSummaryChars,
	}
	return renderPair("summary_system.txt", "summary_user.txt", v)
}

// Quest builds the quest-arc replenishment prompt.
func (b *Builder) Quest(c Context) (Prompt, error) {
	return renderPair("quest_system.txt", "quest_user.txt", b.newView(c))
}

// Repair builds a single re-prompt asking the model to fix a defective
// turn response. The system prompt is the original turn's.
func (b *Builder) Repair(c Context, action string, rep response.Report) (Prompt, error) {
	p, err := b.Turn(c, action)
	if err != nil {
		return Prompt{}, err
	}
	v := view{Action: strings.TrimSpace(action), Problems: rep.String()}
	user, err := render("repair_user.txt", v)
	if err != nil {
		return Prompt{}, err
	}
	p.User = user
	return p, nil
}

// renderHistory quotes the last window user/assistant entries. System
// entries never reach the model.
func (b *Builder) renderHistory(log []models.NarrativeEntry) []string {
	var turns []models.NarrativeEntry
	for _, e := range log {
		if e.Role == models.RoleUser || e.Role == models.RoleAssistant {
			turns = append(turns, e)
		}
	}
	if n := b.window(); len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return renderEntries(turns, b.budget())
}

func renderEntries(entries []models.NarrativeEntry, budget int) []string {
	var out []string
	for _, e := range entries {
		switch e.Role {
		case models.RoleUser:
			out = append(out, "【玩家行動】"+e.Text)
		case models.RoleAssistant:
			text := e.Text
			if budget > 0 {
				text = truncateRunes(text, budget)
			}
			out = append(out, "【說書人】"+text)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "……"
}

var attributeTable = []string{
	"臂力 strength：兵刃與拳腳傷害",
	"身法 agility：閃避、先手與輕功",
	"根骨 constitution：氣血上限（根骨×20）與抗傷",
	"悟性 intelligence：武學領悟速度",
	"精神 spirit：內力上限（精神×10）與抗迷惑",
	"魅力 charisma：交涉、結交與門派好感",
	"福緣 luck：奇遇與掉寶機率",
}

func pacingGuidance(q models.QuestState) string {
	switch {
	case q.CurrentCombatTurns >= LongCombat:
		return fmt.Sprintf("戰鬥已持續 %d 回合，本回合必須分出勝負或讓一方撤離。", q.CurrentCombatTurns)
	case q.PacingCounter >= PacingNudge:
		return fmt.Sprintf("已連續 %d 回合沒有衝突，本回合必須推進主線、引入新人物或製造危機。", q.PacingCounter)
	default:
		return "保持節奏，讓每個回合都有新的資訊或變化。"
	}
}

func alignmentLabel(a models.Alignment) string {
	switch a {
	case models.Righteous:
		return "正派"
	case models.Demonic:
		return "魔道"
	default:
		return "中立"
	}
}

func renderAttributes(attrs map[models.Attribute]int) string {
	parts := make([]string, 0, len(models.Attributes))
	for _, a := range models.Attributes {
		parts = append(parts, fmt.Sprintf("%s %d", models.AttributeNames[a], attrs[a]))
	}
	return strings.Join(parts, "，")
}

func renderReputation(rep map[models.Reputation]int) string {
	parts := make([]string, 0, len(models.Reputations))
	for _, r := range models.Reputations {
		parts = append(parts, fmt.Sprintf("%s %d", models.ReputationNames[r], rep[r]))
	}
	return strings.Join(parts, "，")
}

func renderInventory(items []models.Item) string {
	if len(items) == 0 {
		return "空"
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s×%d", it.Name, it.Count))
	}
	return strings.Join(parts, "、")
}

func renderEquipment(e models.Equipment) string {
	or := func(s string) string {
		if s == "" {
			return "無"
		}
		return s
	}
	return fmt.Sprintf("兵器 %s，護甲 %s，飾品 %s", or(e.Weapon), or(e.Armor), or(e.Accessory))
}

func renderSkills(s models.Skills) string {
	var parts []string
	for _, group := range []struct {
		label  string
		skills []models.Skill
	}{{"外功", s.External}, {"內功", s.Internal}, {"輕功", s.Light}} {
		for _, sk := range group.skills {
			parts = append(parts, fmt.Sprintf("%s「%s」%s（威力%.1f）", group.label, sk.Name, sk.Level, sk.Power))
		}
	}
	if len(parts) == 0 {
		return "無"
	}
	return strings.Join(parts, "、")
}

func renderMeridians(m map[string]bool) string {
	var open []string
	for _, name := range models.Meridians {
		if m[name] {
			open = append(open, name)
		}
	}
	if len(open) == 0 {
		return "未打通任何經脈"
	}
	return "已打通 " + strings.Join(open, "、")
}

func renderRelations(r models.Relations) string {
	var parts []string
	if r.Master != "" {
		parts = append(parts, "師父 "+r.Master)
	}
	if r.Sect != "" {
		parts = append(parts, "門派 "+r.Sect)
	}
	for _, sect := range slices.Sorted(maps.Keys(r.SectAffinity)) {
		parts = append(parts, fmt.Sprintf("%s好感 %d", sect, r.SectAffinity[sect]))
	}
	if len(parts) == 0 {
		return "無門無派"
	}
	return strings.Join(parts, "，")
}

func renderTime(t models.GameTime) string {
	if t.Year == 0 && t.Month == 0 && t.Day == 0 && t.Period == "" {
		return "未定"
	}
	return fmt.Sprintf("第%d年%d月%d日 %s", t.Year, t.Month, t.Day, t.Period)
}
