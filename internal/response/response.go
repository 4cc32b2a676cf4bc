// Package response parses and validates model output.
//
// Parsing is strict about JSON (a response that is not JSON, or whose
// fields have the wrong types, is a MalformedResponse) and lenient about
// content: quality defects are recorded on the result's Report and the
// salvageable parts are kept.
package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/tatianab/jianghu/internal/gameerr"
	"github.com/tatianab/jianghu/internal/models"
)

// Narrative length bounds, in visible characters.
const (
	MinNarrativeChars = 120
	MaxNarrativeChars = 200
	RequiredOptions   = 4
	MinActionChars    = 2
)

// VagueWords must not appear in narrative or options.
var VagueWords = []string{"似乎", "好像", "彷彿", "可能", "隱約", "大概", "也許", "或許"}

// InertOptions are choices that do not move the scene forward.
var InertOptions = []string{"繼續走", "觀察四周", "原地等待"}

var placeholderAction = regexp.MustCompile(`(?i)^(option|action|choice|opt|act|select)[\s_\-]*\d*$|^[a-z]+_\d+$|^\d+$`)

// Defect is a non-fatal quality problem found in a response.
type Defect struct {
	Code   gameerr.Code
	Detail string
}

func (d Defect) String() string {
	return fmt.Sprintf("%s: %s", d.Code, d.Detail)
}

// Report collects the defects of one response.
type Report []Defect

// Has reports whether any defect carries code.
func (r Report) Has(code gameerr.Code) bool {
	for _, d := range r {
		if d.Code == code {
			return true
		}
	}
	return false
}

func (r Report) String() string {
	parts := make([]string, len(r))
	for i, d := range r {
		parts[i] = d.String()
	}
	return strings.Join(parts, "; ")
}

func (r *Report) add(code gameerr.Code, format string, args ...any) {
	*r = append(*r, Defect{Code: code, Detail: fmt.Sprintf(format, args...)})
}

// TurnResult is a parsed and normalized model response.
type TurnResult struct {
	Narrative string
	Options   []models.Option
	Delta     *models.Delta
	Report    Report
}

// wire types mirror the JSON the model is asked to produce. Numbers are
// float64 pointers so that a present zero can be told from an absent field.
type wireResult struct {
	Narrative   *string     `json:"narrative"`
	Options     []wireOpt   `json:"options"`
	StateUpdate *wireUpdate `json:"stateUpdate"`
}

type wireOpt struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

type wireUpdate struct {
	HPChange     *float64 `json:"hpChange"`
	QiChange     *float64 `json:"qiChange"`
	HungerChange *float64 `json:"hungerChange"`
	ExpChange    *float64 `json:"expChange"`
	MoneyChange  *float64 `json:"moneyChange"`

	Location      string    `json:"location"`
	Weather       string    `json:"weather"`
	WeatherEffect string    `json:"weatherEffect"`
	Time          *wireTime `json:"time"`

	NewTags     []string `json:"newTags"`
	RemovedTags []string `json:"removedTags"`

	AttributeChanges  map[string]float64 `json:"attributeChanges"`
	ReputationChanges map[string]float64 `json:"reputationChanges"`

	NewItems  []wireItem  `json:"newItems"`
	NewSkills []wireSkill `json:"newSkills"`
	NewTitles []string    `json:"newTitles"`

	MainQuest    string   `json:"mainQuest"`
	PlotProgress *float64 `json:"plotProgress"`

	OpenMeridians       []string           `json:"openMeridians"`
	SectAffinityChanges map[string]float64 `json:"sectAffinityChanges"`
	Master              string             `json:"master"`
	Sect                string             `json:"sect"`
}

type wireTime struct {
	Year   float64 `json:"year"`
	Month  float64 `json:"month"`
	Day    float64 `json:"day"`
	Period string  `json:"period"`
}

type wireItem struct {
	Name        string   `json:"name"`
	Count       *float64 `json:"count"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
}

type wireSkill struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Rank  string `json:"rank"`
	Level string `json:"level"`
}

// CleanJSON strips surrounding whitespace and markdown code fences.
func CleanJSON(raw string) string {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}

// decode unmarshals a cleaned response into v, classifying failures.
func decode(raw string, v any) error {
	clean := []byte(CleanJSON(raw))
	if !json.Valid(clean) {
		return gameerr.Wrap(gameerr.CodeMalformedJSON, "model output is not valid JSON", fmt.Errorf("%q", truncate(string(clean), 80)))
	}
	dec := json.NewDecoder(bytes.NewReader(clean))
	if err := dec.Decode(v); err != nil {
		return gameerr.Wrap(gameerr.CodeSchemaViolation, "model output does not match the response schema", err)
	}
	return nil
}

// ParseTurnResult parses raw model text into a TurnResult.
func ParseTurnResult(raw string) (*TurnResult, error) {
	var w wireResult
	if err := decode(raw, &w); err != nil {
		return nil, err
	}
	if w.Narrative == nil || strings.TrimSpace(*w.Narrative) == "" {
		return nil, gameerr.New(gameerr.CodeSchemaViolation, "model output has no narrative")
	}

	res := &TurnResult{Narrative: strings.TrimSpace(*w.Narrative)}
	checkNarrative(res.Narrative, &res.Report)
	res.Options = normalizeOptions(w.Options, &res.Report)
	if w.StateUpdate != nil {
		d := normalizeUpdate(w.StateUpdate, &res.Report)
		res.Delta = &d
	}
	return res, nil
}

// VisibleLength counts the characters a reader sees, ignoring whitespace.
func VisibleLength(s string) int {
	n := 0
	for _, r := range norm.NFC.String(s) {
		if !unicode.IsSpace(r) && !unicode.IsControl(r) {
			n++
		}
	}
	return n
}

func checkNarrative(text string, rep *Report) {
	if n := VisibleLength(text); n < MinNarrativeChars || n > MaxNarrativeChars {
		rep.add(gameerr.CodeNarrativeLength, "narrative has %d characters, want %d-%d", n, MinNarrativeChars, MaxNarrativeChars)
	}
	for _, w := range VagueWords {
		if strings.Contains(text, w) {
			rep.add(gameerr.CodeVagueLanguage, "narrative uses %q", w)
		}
	}
}

func normalizeOptions(in []wireOpt, rep *Report) []models.Option {
	var out []models.Option
	for i, o := range in {
		label := strings.TrimSpace(o.Label)
		action := strings.TrimSpace(o.Action)
		if isTrivialAction(action) {
			rep.add(gameerr.CodeTrivialAction, "option %d has unusable action %q", i+1, action)
			continue
		}
		if label == "" {
			label = action
		}
		for _, w := range InertOptions {
			if strings.Contains(label, w) || strings.Contains(action, w) {
				rep.add(gameerr.CodeInertOption, "option %d is inert (%q)", i+1, w)
			}
		}
		for _, w := range VagueWords {
			if strings.Contains(label, w) || strings.Contains(action, w) {
				rep.add(gameerr.CodeVagueLanguage, "option %d uses %q", i+1, w)
			}
		}
		out = append(out, models.Option{Label: label, Action: action})
	}
	if len(out) != RequiredOptions {
		rep.add(gameerr.CodeOptionCount, "got %d usable options, want %d", len(out), RequiredOptions)
	}
	if len(out) > RequiredOptions {
		out = out[:RequiredOptions]
	}
	return out
}

func isTrivialAction(action string) bool {
	if utf8.RuneCountInString(action) < MinActionChars {
		return true
	}
	return placeholderAction.MatchString(action)
}

// SelectOption returns the option at index, clamped to the last available
// option. It reports false when there are no options at all.
func SelectOption(options []models.Option, index int) (models.Option, bool) {
	if len(options) == 0 {
		return models.Option{}, false
	}
	index = min(max(index, 0), len(options)-1)
	return options[index], true
}

// MaxMagnitude bounds every number taken from a response.
const MaxMagnitude = 1_000_000

func toInt(f float64) int {
	return int(math.Round(max(min(f, MaxMagnitude), -MaxMagnitude)))
}

// change converts an optional numeric field, flagging a present zero.
func change(name string, v *float64, rep *Report) int {
	if v == nil {
		return 0
	}
	n := toInt(*v)
	if n == 0 {
		rep.add(gameerr.CodeZeroField, "%s is present with value 0", name)
	}
	return n
}

func normalizeUpdate(u *wireUpdate, rep *Report) models.Delta {
	d := models.Delta{
		HPChange:      change("hpChange", u.HPChange, rep),
		QiChange:      change("qiChange", u.QiChange, rep),
		HungerChange:  change("hungerChange", u.HungerChange, rep),
		ExpChange:     change("expChange", u.ExpChange, rep),
		MoneyChange:   change("moneyChange", u.MoneyChange, rep),
		PlotProgress:  change("plotProgress", u.PlotProgress, rep),
		Location:      strings.TrimSpace(u.Location),
		Weather:       strings.TrimSpace(u.Weather),
		WeatherEffect: strings.TrimSpace(u.WeatherEffect),
		MainQuest:     strings.TrimSpace(u.MainQuest),
		Master:        strings.TrimSpace(u.Master),
		Sect:          strings.TrimSpace(u.Sect),
		NewTags:       nonEmpty(u.NewTags),
		RemovedTags:   nonEmpty(u.RemovedTags),
		NewTitles:     nonEmpty(u.NewTitles),
	}
	if u.Time != nil {
		d.Time = &models.GameTime{
			Year:   toInt(u.Time.Year),
			Month:  toInt(u.Time.Month),
			Day:    toInt(u.Time.Day),
			Period: strings.TrimSpace(u.Time.Period),
		}
	}

	for key, v := range u.AttributeChanges {
		attr, ok := models.ParseAttribute(key)
		if !ok {
			rep.add(gameerr.CodeUnknownAttribute, "dropped unknown attribute %q", key)
			continue
		}
		if n := toInt(v); n != 0 {
			if d.AttributeChanges == nil {
				d.AttributeChanges = map[models.Attribute]int{}
			}
			d.AttributeChanges[attr] = n
		} else {
			rep.add(gameerr.CodeZeroField, "attributeChanges.%s is present with value 0", key)
		}
	}
	for key, v := range u.ReputationChanges {
		r, ok := models.ParseReputation(key)
		if !ok {
			rep.add(gameerr.CodeUnknownReputation, "dropped unknown reputation %q", key)
			continue
		}
		if n := toInt(v); n != 0 {
			if d.ReputationChanges == nil {
				d.ReputationChanges = map[models.Reputation]int{}
			}
			d.ReputationChanges[r] = n
		} else {
			rep.add(gameerr.CodeZeroField, "reputationChanges.%s is present with value 0", key)
		}
	}
	for sect, v := range u.SectAffinityChanges {
		if n := toInt(v); n != 0 && strings.TrimSpace(sect) != "" {
			if d.SectAffinityChanges == nil {
				d.SectAffinityChanges = map[string]int{}
			}
			d.SectAffinityChanges[strings.TrimSpace(sect)] = n
		}
	}
	for _, m := range nonEmpty(u.OpenMeridians) {
		if !models.IsMeridian(m) {
			rep.add(gameerr.CodeUnknownMeridian, "dropped unknown meridian %q", m)
			continue
		}
		d.OpenMeridians = append(d.OpenMeridians, m)
	}

	for _, it := range u.NewItems {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		count := 1
		if it.Count != nil && toInt(*it.Count) > 0 {
			count = toInt(*it.Count)
		}
		d.NewItems = append(d.NewItems, models.ItemGrant{
			Name:        name,
			Count:       count,
			Type:        strings.TrimSpace(it.Type),
			Description: strings.TrimSpace(it.Description),
		})
	}
	for _, sk := range u.NewSkills {
		name := strings.TrimSpace(sk.Name)
		if name == "" {
			continue
		}
		d.NewSkills = append(d.NewSkills, models.SkillGrant{
			Name:  name,
			Type:  strings.TrimSpace(sk.Type),
			Rank:  strings.TrimSpace(sk.Rank),
			Level: strings.TrimSpace(sk.Level),
		})
	}
	return d
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
