package models

import (
	"maps"
	"slices"
	"time"
)

// Attribute is one of the seven bounded character attributes.
type Attribute string

const (
	Strength     Attribute = "strength"
	Agility      Attribute = "agility"
	Constitution Attribute = "constitution"
	Intelligence Attribute = "intelligence"
	Spirit       Attribute = "spirit"
	Charisma     Attribute = "charisma"
	Luck         Attribute = "luck"
)

// Attributes lists every attribute in display order.
var Attributes = []Attribute{Strength, Agility, Constitution, Intelligence, Spirit, Charisma, Luck}

// AttributeNames maps attributes to their in-game labels.
var AttributeNames = map[Attribute]string{
	Strength:     "臂力",
	Agility:      "身法",
	Constitution: "根骨",
	Intelligence: "悟性",
	Spirit:       "精神",
	Charisma:     "魅力",
	Luck:         "福緣",
}

// ParseAttribute reports whether key names a known attribute.
func ParseAttribute(key string) (Attribute, bool) {
	a := Attribute(key)
	_, ok := AttributeNames[a]
	return a, ok
}

// Reputation is one of the four reputation dimensions.
type Reputation string

const (
	Orthodox  Reputation = "orthodox"
	Heterodox Reputation = "heterodox"
	Court     Reputation = "court"
	Commoners Reputation = "commoners"
)

// Reputations lists every reputation dimension in display order.
var Reputations = []Reputation{Orthodox, Heterodox, Court, Commoners}

// ReputationNames maps reputation dimensions to their in-game labels.
var ReputationNames = map[Reputation]string{
	Orthodox:  "正道",
	Heterodox: "邪道",
	Court:     "朝廷",
	Commoners: "百姓",
}

// ParseReputation reports whether key names a known reputation dimension.
func ParseReputation(key string) (Reputation, bool) {
	r := Reputation(key)
	_, ok := ReputationNames[r]
	return r, ok
}

// Alignment is the player's moral alignment.
type Alignment string

const (
	Righteous Alignment = "righteous"
	Neutral   Alignment = "neutral"
	Demonic   Alignment = "demonic"
)

// Meridians are the nine gates that can be opened through cultivation.
var Meridians = []string{"任脈", "督脈", "衝脈", "帶脈", "陰維脈", "陽維脈", "陰蹺脈", "陽蹺脈", "天地橋"}

// IsMeridian reports whether name is one of the nine gates.
func IsMeridian(name string) bool {
	return slices.Contains(Meridians, name)
}

// Bounds and derived-stat multipliers.
const (
	MinAttribute     = 1
	MaxAttribute     = 100
	HPPerCon         = 20
	QiPerSpirit      = 10
	DefaultMaxHunger = 100
	MaxPlotProgress  = 100
	MaxPacing        = 10
	StartingMoney    = 50
)

// Item is a stack of identical items keyed by name.
type Item struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Count       int    `yaml:"count" json:"count"`
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description" json:"description"`
}

// Equipment slots reference items by name.
type Equipment struct {
	Weapon    string `yaml:"weapon,omitempty" json:"weapon,omitempty"`
	Armor     string `yaml:"armor,omitempty" json:"armor,omitempty"`
	Accessory string `yaml:"accessory,omitempty" json:"accessory,omitempty"`
}

// Slot names an equipment slot.
type Slot string

const (
	SlotWeapon    Slot = "weapon"
	SlotArmor     Slot = "armor"
	SlotAccessory Slot = "accessory"
)

// SkillBucket partitions skills by category.
type SkillBucket string

const (
	External SkillBucket = "external"
	Internal SkillBucket = "internal"
	Light    SkillBucket = "light"
)

// Skill is a learned martial art.
type Skill struct {
	Name  string  `yaml:"name" json:"name"`
	Level string  `yaml:"level" json:"level"`
	Rank  string  `yaml:"rank,omitempty" json:"rank,omitempty"`
	Power float64 `yaml:"power" json:"power"`
}

// Skills holds the player's skills partitioned by bucket.
type Skills struct {
	External []Skill `yaml:"external" json:"external"`
	Internal []Skill `yaml:"internal" json:"internal"`
	Light    []Skill `yaml:"light" json:"light"`
}

// Bucket returns a pointer to the slice for the given bucket.
func (s *Skills) Bucket(b SkillBucket) *[]Skill {
	switch b {
	case Internal:
		return &s.Internal
	case Light:
		return &s.Light
	default:
		return &s.External
	}
}

// Relations tracks the player's ties to masters and sects.
type Relations struct {
	Master       string         `yaml:"master,omitempty" json:"master,omitempty"`
	Sect         string         `yaml:"sect,omitempty" json:"sect,omitempty"`
	SectAffinity map[string]int `yaml:"sect_affinity" json:"sectAffinity"`
}

// PlayerState is the mutable state of the player character.
type PlayerState struct {
	Name   string `yaml:"name" json:"name"`
	Title  string `yaml:"title" json:"title"`
	Gender string `yaml:"gender" json:"gender"`

	Level int `yaml:"level" json:"level"`
	Exp   int `yaml:"exp" json:"exp"`

	HP        int `yaml:"hp" json:"hp"`
	MaxHP     int `yaml:"max_hp" json:"maxHp"`
	Qi        int `yaml:"qi" json:"qi"`
	MaxQi     int `yaml:"max_qi" json:"maxQi"`
	Hunger    int `yaml:"hunger" json:"hunger"`
	MaxHunger int `yaml:"max_hunger" json:"maxHunger"`
	Money     int `yaml:"money" json:"money"`

	Alignment  Alignment          `yaml:"alignment" json:"alignment"`
	Attributes map[Attribute]int  `yaml:"attributes" json:"attributes"`
	Reputation map[Reputation]int `yaml:"reputation" json:"reputation"`

	Inventory []Item    `yaml:"inventory" json:"inventory"`
	Equipment Equipment `yaml:"equipment" json:"equipment"`
	Skills    Skills    `yaml:"skills" json:"skills"`

	UnlockedTitles []string `yaml:"unlocked_titles" json:"unlockedTitles"`
	EquippedTitle  string   `yaml:"equipped_title,omitempty" json:"equippedTitle,omitempty"`

	Meridians     map[string]bool `yaml:"meridians" json:"meridians"`
	SpecialSkills map[string]int  `yaml:"special_skills" json:"specialSkills"`
	Relations     Relations       `yaml:"relations" json:"relations"`
}

// GameTime is the in-game calendar.
type GameTime struct {
	Year   int    `yaml:"year" json:"year"`
	Month  int    `yaml:"month" json:"month"`
	Day    int    `yaml:"day" json:"day"`
	Period string `yaml:"period" json:"period"`
}

// WorldState describes where and when the player is.
type WorldState struct {
	Location          string   `yaml:"location" json:"location"`
	UnlockedLocations []string `yaml:"unlocked_locations" json:"unlockedLocations"`
	Time              GameTime `yaml:"time" json:"time"`
	Weather           string   `yaml:"weather" json:"weather"`
	WeatherEffect     string   `yaml:"weather_effect,omitempty" json:"weatherEffect,omitempty"`
	Tags              []string `yaml:"tags" json:"tags"`
}

// QuestState tracks the main objective and story pacing.
type QuestState struct {
	MainQuest           string   `yaml:"main_quest" json:"mainQuest"`
	QuestHistory        []string `yaml:"quest_history" json:"questHistory"`
	QuestStageSummaries []string `yaml:"quest_stage_summaries" json:"questStageSummaries"`
	Arc                 []string `yaml:"arc" json:"arc"`
	ArcIndex            int      `yaml:"arc_index" json:"arcIndex"`
	QuestStartTurn      int      `yaml:"quest_start_turn" json:"questStartTurn"`
	PlotProgress        int      `yaml:"plot_progress" json:"plotProgress"`
	PacingCounter       int      `yaml:"pacing_counter" json:"pacingCounter"`
	CurrentCombatTurns  int      `yaml:"current_combat_turns" json:"currentCombatTurns"`
}

// NextArcStage returns the upcoming chapter at the arc cursor, if any.
func (q QuestState) NextArcStage() (string, bool) {
	if q.ArcIndex < 0 || q.ArcIndex >= len(q.Arc) {
		return "", false
	}
	return q.Arc[q.ArcIndex], true
}

// GameState is everything the reducer reads and writes.
type GameState struct {
	Player PlayerState `yaml:"player" json:"player"`
	World  WorldState  `yaml:"world" json:"world"`
	Quest  QuestState  `yaml:"quest" json:"quest"`
	Turn   int         `yaml:"turn" json:"turn"`
}

// Clone returns a deep copy of the state.
func (s GameState) Clone() GameState {
	c := s
	p := &c.Player
	p.Attributes = maps.Clone(s.Player.Attributes)
	p.Reputation = maps.Clone(s.Player.Reputation)
	p.Inventory = slices.Clone(s.Player.Inventory)
	p.Skills.External = slices.Clone(s.Player.Skills.External)
	p.Skills.Internal = slices.Clone(s.Player.Skills.Internal)
	p.Skills.Light = slices.Clone(s.Player.Skills.Light)
	p.UnlockedTitles = slices.Clone(s.Player.UnlockedTitles)
	p.Meridians = maps.Clone(s.Player.Meridians)
	p.SpecialSkills = maps.Clone(s.Player.SpecialSkills)
	p.Relations.SectAffinity = maps.Clone(s.Player.Relations.SectAffinity)

	c.World.UnlockedLocations = slices.Clone(s.World.UnlockedLocations)
	c.World.Tags = slices.Clone(s.World.Tags)

	c.Quest.QuestHistory = slices.Clone(s.Quest.QuestHistory)
	c.Quest.QuestStageSummaries = slices.Clone(s.Quest.QuestStageSummaries)
	c.Quest.Arc = slices.Clone(s.Quest.Arc)
	return c
}

// Role tags a narrative entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// NarrativeEntry is a single line of the story log.
type NarrativeEntry struct {
	Role      Role      `yaml:"role" json:"role"`
	Text      string    `yaml:"text" json:"text"`
	CreatedAt time.Time `yaml:"created_at" json:"createdAt"`
}

// Option is one choice offered to the player.
type Option struct {
	Label  string `yaml:"label" json:"label"`
	Action string `yaml:"action" json:"action"`
}

// NotificationType classifies a toast.
type NotificationType string

const (
	NotifyItem        NotificationType = "item"
	NotifySkill       NotificationType = "skill"
	NotifyTitle       NotificationType = "title"
	NotifyAchievement NotificationType = "achievement"
)

// Notification is a fire-and-forget event for the UI.
type Notification struct {
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Icon        string           `json:"icon,omitempty"`
}

// GameSession aggregates all game-related data that is persisted.
type GameSession struct {
	Version   int              `yaml:"version" json:"version"`
	ID        string           `yaml:"id" json:"id"`
	State     GameState        `yaml:"state" json:"state"`
	Narrative []NarrativeEntry `yaml:"narrative" json:"narrative"`
	Summary   string           `yaml:"summary" json:"summary"`
	Options   []Option         `yaml:"options" json:"options"`
	PlayTime  time.Duration    `yaml:"play_time" json:"playTime"`
	CreatedAt time.Time        `yaml:"created_at" json:"createdAt"`
	UpdatedAt time.Time        `yaml:"updated_at" json:"updatedAt"`
}

// Clone returns a deep copy of the session.
func (s *GameSession) Clone() *GameSession {
	c := *s
	c.State = s.State.Clone()
	c.Narrative = slices.Clone(s.Narrative)
	c.Options = slices.Clone(s.Options)
	return &c
}

// CharacterSheet is the output of character creation.
type CharacterSheet struct {
	Name       string
	Gender     string
	Attributes map[Attribute]int
}

// NewPlayer builds a fresh character with derived stats filled in.
func NewPlayer(sheet CharacterSheet) PlayerState {
	attrs := make(map[Attribute]int, len(Attributes))
	for _, a := range Attributes {
		v, ok := sheet.Attributes[a]
		if !ok {
			v = 10
		}
		attrs[a] = ClampAttribute(v)
	}
	rep := make(map[Reputation]int, len(Reputations))
	for _, r := range Reputations {
		rep[r] = 0
	}
	meridians := make(map[string]bool, len(Meridians))
	for _, m := range Meridians {
		meridians[m] = false
	}
	p := PlayerState{
		Name:          sheet.Name,
		Title:         "初出茅廬",
		Gender:        sheet.Gender,
		Level:         1,
		MaxHunger:     DefaultMaxHunger,
		Hunger:        DefaultMaxHunger,
		Money:         StartingMoney,
		Alignment:     Neutral,
		Attributes:    attrs,
		Reputation:    rep,
		Meridians:     meridians,
		SpecialSkills: map[string]int{},
		Relations:     Relations{SectAffinity: map[string]int{}},
	}
	p.MaxHP = MaxHPFor(attrs[Constitution])
	p.MaxQi = MaxQiFor(attrs[Spirit])
	p.HP = p.MaxHP
	p.Qi = p.MaxQi
	return p
}

// MaxHPFor returns the derived max HP for a constitution value.
func MaxHPFor(constitution int) int { return constitution * HPPerCon }

// MaxQiFor returns the derived max qi for a spirit value.
func MaxQiFor(spirit int) int { return spirit * QiPerSpirit }

// ClampAttribute bounds an attribute to [MinAttribute, MaxAttribute].
func ClampAttribute(v int) int {
	return min(max(v, MinAttribute), MaxAttribute)
}
