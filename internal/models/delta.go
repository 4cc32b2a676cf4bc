package models

// ItemGrant is an item the turn hands to the player.
type ItemGrant struct {
	Name        string
	Count       int
	Type        string
	Description string
}

// SkillGrant is a skill learned or improved this turn. Power is never
// taken from the model; it is derived from Level and Rank.
type SkillGrant struct {
	Name  string
	Type  string
	Rank  string
	Level string
}

// Delta is the validated, typed form of a turn's stateUpdate. Zero values
// mean "no change".
type Delta struct {
	HPChange     int
	QiChange     int
	HungerChange int
	ExpChange    int
	MoneyChange  int

	Location      string
	Weather       string
	WeatherEffect string
	Time          *GameTime

	NewTags     []string
	RemovedTags []string

	AttributeChanges  map[Attribute]int
	ReputationChanges map[Reputation]int

	NewItems  []ItemGrant
	NewSkills []SkillGrant
	NewTitles []string

	MainQuest    string
	PlotProgress int

	OpenMeridians       []string
	SectAffinityChanges map[string]int
	Master              string
	Sect                string
}

// WithoutProgression returns a copy of d with attribute and reputation
// changes removed. Initialization turns must never grant them.
func (d Delta) WithoutProgression() Delta {
	d.AttributeChanges = nil
	d.ReputationChanges = nil
	return d
}
