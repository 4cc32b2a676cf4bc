package models

import "fmt"

// CurrentVersion is the snapshot schema version written by this build.
const CurrentVersion = 2

// migrations[v] upgrades a session from version v to v+1.
var migrations = []func(*GameSession){
	migrateV0,
	migrateV1,
}

// Migrate upgrades s in place to CurrentVersion. It runs once at load
// time; sessions already at CurrentVersion are untouched.
func Migrate(s *GameSession) error {
	if s.Version > CurrentVersion {
		return fmt.Errorf("session version %d is newer than supported version %d", s.Version, CurrentVersion)
	}
	for v := s.Version; v < CurrentVersion; v++ {
		migrations[v](s)
		s.Version = v + 1
	}
	return nil
}

// migrateV0 fills maps and bounds that early saves did not carry and
// recomputes the derived stats.
func migrateV0(s *GameSession) {
	p := &s.State.Player
	if p.Attributes == nil {
		p.Attributes = map[Attribute]int{}
	}
	for _, a := range Attributes {
		v, ok := p.Attributes[a]
		if !ok {
			v = 10
		}
		p.Attributes[a] = ClampAttribute(v)
	}
	if p.Reputation == nil {
		p.Reputation = map[Reputation]int{}
	}
	for _, r := range Reputations {
		if _, ok := p.Reputation[r]; !ok {
			p.Reputation[r] = 0
		}
	}
	if p.Meridians == nil {
		p.Meridians = map[string]bool{}
	}
	for _, m := range Meridians {
		if _, ok := p.Meridians[m]; !ok {
			p.Meridians[m] = false
		}
	}
	if p.SpecialSkills == nil {
		p.SpecialSkills = map[string]int{}
	}
	if p.Relations.SectAffinity == nil {
		p.Relations.SectAffinity = map[string]int{}
	}
	if p.MaxHunger <= 0 {
		p.MaxHunger = DefaultMaxHunger
	}
	if p.Level <= 0 {
		p.Level = 1
	}
	if p.Alignment == "" {
		p.Alignment = Neutral
	}
	p.MaxHP = MaxHPFor(p.Attributes[Constitution])
	p.MaxQi = MaxQiFor(p.Attributes[Spirit])
	p.HP = min(max(p.HP, 0), p.MaxHP)
	p.Qi = min(max(p.Qi, 0), p.MaxQi)
	p.Hunger = min(max(p.Hunger, 0), p.MaxHunger)
}

// migrateV1 aligns QuestStageSummaries with QuestHistory.
func migrateV1(s *GameSession) {
	q := &s.State.Quest
	switch {
	case len(q.QuestStageSummaries) < len(q.QuestHistory):
		q.QuestStageSummaries = append(q.QuestStageSummaries, make([]string, len(q.QuestHistory)-len(q.QuestStageSummaries))...)
	case len(q.QuestStageSummaries) > len(q.QuestHistory):
		q.QuestStageSummaries = q.QuestStageSummaries[:len(q.QuestHistory)]
	}
	q.PlotProgress = min(max(q.PlotProgress, 0), MaxPlotProgress)
	q.PacingCounter = min(max(q.PacingCounter, 0), MaxPacing)
}
