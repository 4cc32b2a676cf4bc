// Package reducer applies validated turn deltas to game state.
//
// Every function here is pure apart from item identifiers: the input
// state is never modified, and out-of-range values are clamped rather than
// rejected.
package reducer

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/tatianab/jianghu/internal/models"
)

// DeathWords mark an action in which the player deliberately seeks death.
// Only such actions may bring HP to 0.
var DeathWords = []string{"赴死", "自盡", "殉道", "自刎", "跳崖"}

// CombatWords classify an action as a combat turn.
var CombatWords = []string{
	"攻擊", "出手", "拔劍", "出劍", "出刀", "迎戰", "交手", "比武", "決鬥", "戰鬥",
	"殺", "砍", "刺", "劈", "斬", "揮拳", "出掌", "格擋", "反擊", "偷襲",
	"attack", "fight", "strike",
}

var fold = cases.Fold()

// Reducer applies deltas. NewID generates inventory stack identifiers.
type Reducer struct {
	NewID func() string
}

// New returns a Reducer that identifies new item stacks with UUIDs.
func New() *Reducer {
	return &Reducer{NewID: uuid.NewString}
}

// Apply reduces a player turn: the delta produced in response to action is
// applied to a copy of state, and the turn counter advances. It returns
// the new state and the notifications the turn earned.
func (r *Reducer) Apply(state models.GameState, delta models.Delta, action string) (models.GameState, []models.Notification) {
	next := state.Clone()
	next.Turn++
	notes := r.apply(&next, delta, action)
	trackCombat(&next.Quest, action, delta.HPChange)
	return next, notes
}

// ApplyInitial reduces the initialization response. Attribute and
// reputation changes are discarded even if the model sent them, and no
// combat or pacing bookkeeping happens.
func (r *Reducer) ApplyInitial(state models.GameState, delta models.Delta) (models.GameState, []models.Notification) {
	next := state.Clone()
	notes := r.apply(&next, delta.WithoutProgression(), "")
	return next, notes
}

func (r *Reducer) apply(s *models.GameState, d models.Delta, action string) []models.Notification {
	var notes []models.Notification
	p := &s.Player

	applyAttributes(p, d.AttributeChanges)

	floor := 1
	if IsDeathSeeking(action) {
		floor = 0
	}
	p.HP = clamp(p.HP+d.HPChange, floor, p.MaxHP)
	p.Qi = clamp(p.Qi+d.QiChange, 0, p.MaxQi)
	p.Hunger = clamp(p.Hunger+d.HungerChange, 0, p.MaxHunger)
	p.Exp += d.ExpChange
	p.Money = max(p.Money+d.MoneyChange, 0)

	for rep, n := range d.ReputationChanges {
		if p.Reputation == nil {
			p.Reputation = map[models.Reputation]int{}
		}
		p.Reputation[rep] += n
	}

	s.World.Tags = mergeTags(s.World.Tags, d.NewTags, d.RemovedTags)
	if d.Location != "" {
		s.World.Location = d.Location
		if !slices.Contains(s.World.UnlockedLocations, d.Location) {
			s.World.UnlockedLocations = append(s.World.UnlockedLocations, d.Location)
		}
	}
	if d.Weather != "" {
		s.World.Weather = d.Weather
		s.World.WeatherEffect = d.WeatherEffect
	} else if d.WeatherEffect != "" {
		s.World.WeatherEffect = d.WeatherEffect
	}
	if d.Time != nil {
		s.World.Time = *d.Time
	}

	for _, it := range d.NewItems {
		p.Inventory = r.addItem(p.Inventory, it)
		notes = append(notes, models.Notification{
			Type:        models.NotifyItem,
			Title:       fmt.Sprintf("獲得 %s ×%d", it.Name, it.Count),
			Description: it.Description,
			Icon:        "🎁",
		})
	}
	for _, sk := range d.NewSkills {
		learned := learnSkill(&p.Skills, sk)
		notes = append(notes, models.Notification{
			Type:        models.NotifySkill,
			Title:       fmt.Sprintf("習得 %s", sk.Name),
			Description: fmt.Sprintf("%s・%s（威力 %.1f）", learned.Level, rankOrDefault(learned.Rank), learned.Power),
			Icon:        "📜",
		})
	}
	for _, t := range d.NewTitles {
		if slices.Contains(p.UnlockedTitles, t) {
			continue
		}
		p.UnlockedTitles = append(p.UnlockedTitles, t)
		notes = append(notes, models.Notification{
			Type:  models.NotifyTitle,
			Title: fmt.Sprintf("獲得稱號「%s」", t),
			Icon:  "🏅",
		})
	}

	for _, m := range d.OpenMeridians {
		if !models.IsMeridian(m) {
			continue
		}
		if p.Meridians == nil {
			p.Meridians = map[string]bool{}
		}
		p.Meridians[m] = true
	}
	for sect, n := range d.SectAffinityChanges {
		if p.Relations.SectAffinity == nil {
			p.Relations.SectAffinity = map[string]int{}
		}
		p.Relations.SectAffinity[sect] += n
	}
	if d.Master != "" {
		p.Relations.Master = d.Master
	}
	if d.Sect != "" {
		p.Relations.Sect = d.Sect
	}

	q := &s.Quest
	if d.PlotProgress != 0 {
		before := q.PlotProgress
		q.PlotProgress = clamp(q.PlotProgress+d.PlotProgress, 0, models.MaxPlotProgress)
		if before < models.MaxPlotProgress && q.PlotProgress == models.MaxPlotProgress {
			notes = append(notes, models.Notification{
				Type:        models.NotifyAchievement,
				Title:       "篇章圓滿",
				Description: q.MainQuest,
				Icon:        "🏆",
			})
		}
	}
	if d.MainQuest != "" {
		q.MainQuest = d.MainQuest
	}
	return notes
}

// applyAttributes adds attribute changes, clamps them, and recomputes the
// derived maxima with compensating healing when they grow.
func applyAttributes(p *models.PlayerState, changes map[models.Attribute]int) {
	if len(changes) == 0 {
		return
	}
	if p.Attributes == nil {
		p.Attributes = map[models.Attribute]int{}
	}
	for attr, n := range changes {
		p.Attributes[attr] = models.ClampAttribute(p.Attributes[attr] + n)
	}
	if _, ok := changes[models.Constitution]; ok {
		p.HP, p.MaxHP = rescale(p.HP, p.MaxHP, models.MaxHPFor(p.Attributes[models.Constitution]))
	}
	if _, ok := changes[models.Spirit]; ok {
		p.Qi, p.MaxQi = rescale(p.Qi, p.MaxQi, models.MaxQiFor(p.Attributes[models.Spirit]))
	}
}

// rescale moves a current/max pair to a new max. Growth heals by the same
// amount; shrinkage only clamps the current value down.
func rescale(cur, oldMax, newMax int) (int, int) {
	if newMax > oldMax {
		cur += newMax - oldMax
	}
	return min(cur, newMax), newMax
}

// IsDeathSeeking reports whether action deliberately courts death.
func IsDeathSeeking(action string) bool {
	return containsAny(action, DeathWords)
}

// IsCombatAction reports whether action contains a combat verb.
func IsCombatAction(action string) bool {
	return containsAny(fold.String(action), CombatWords)
}

// trackCombat updates the combat and pacing counters for one turn.
func trackCombat(q *models.QuestState, action string, hpChange int) {
	combat := IsCombatAction(action) || (q.CurrentCombatTurns > 0 && hpChange != 0)
	if combat {
		q.CurrentCombatTurns++
		q.PacingCounter = 0
		return
	}
	q.CurrentCombatTurns = 0
	q.PacingCounter = min(q.PacingCounter+1, models.MaxPacing)
}

func mergeTags(tags, add, remove []string) []string {
	out := make([]string, 0, len(tags)+len(add))
	for _, t := range slices.Concat(tags, add) {
		if t == "" || slices.Contains(out, t) || slices.Contains(remove, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (r *Reducer) addItem(inv []models.Item, g models.ItemGrant) []models.Item {
	count := max(g.Count, 1)
	for i := range inv {
		if inv[i].Name == g.Name {
			inv[i].Count += count
			return inv
		}
	}
	id := ""
	if r.NewID != nil {
		id = r.NewID()
	}
	return append(inv, models.Item{
		ID:          id,
		Name:        g.Name,
		Count:       count,
		Type:        g.Type,
		Description: g.Description,
	})
}

// SkillBucketFor normalizes a free-form skill type to a bucket. Anything
// unrecognized lands in the external bucket.
func SkillBucketFor(skillType string) models.SkillBucket {
	t := fold.String(skillType)
	switch {
	case strings.Contains(t, string(models.Internal)) || containsAny(t, []string{"內功", "内功", "心法"}):
		return models.Internal
	case strings.Contains(t, string(models.Light)) || containsAny(t, []string{"輕功", "轻功", "身法"}):
		return models.Light
	default:
		return models.External
	}
}

func learnSkill(skills *models.Skills, g models.SkillGrant) models.Skill {
	bucket := skills.Bucket(SkillBucketFor(g.Type))
	level := g.Level
	if level == "" {
		level = models.SkillLevels[0]
	}
	learned := models.Skill{
		Name:  g.Name,
		Level: level,
		Rank:  g.Rank,
		Power: models.SkillPower(level, g.Rank),
	}
	for i := range *bucket {
		if (*bucket)[i].Name == g.Name {
			(*bucket)[i] = learned
			return learned
		}
	}
	*bucket = append(*bucket, learned)
	return learned
}

func rankOrDefault(rank string) string {
	if rank == "" {
		return models.SkillRanks[0]
	}
	return rank
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return min(max(v, lo), hi)
}
