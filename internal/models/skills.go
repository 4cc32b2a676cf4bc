package models

// SkillLevels are the eight proficiency tiers, weakest first.
var SkillLevels = []string{"初窺門徑", "略有小成", "融會貫通", "爐火純青", "登峰造極", "出神入化", "返璞歸真", "天人合一"}

// SkillRanks are the five grades of a martial art, weakest first.
var SkillRanks = []string{"凡品", "上乘", "絕頂", "絕世", "傳說"}

var levelPower = map[string]float64{
	"初窺門徑": 1.0,
	"略有小成": 1.5,
	"融會貫通": 2.0,
	"爐火純青": 3.0,
	"登峰造極": 5.0,
	"出神入化": 8.0,
	"返璞歸真": 12.0,
	"天人合一": 20.0,
}

var rankPower = map[string]float64{
	"凡品": 1.0,
	"上乘": 1.5,
	"絕頂": 2.0,
	"絕世": 3.0,
	"傳說": 5.0,
}

// LevelPower returns the multiplier for a proficiency tier; unknown
// tiers count as the lowest.
func LevelPower(level string) float64 {
	if p, ok := levelPower[level]; ok {
		return p
	}
	return 1.0
}

// RankPower returns the multiplier for a grade; unknown grades count as
// the lowest.
func RankPower(rank string) float64 {
	if p, ok := rankPower[rank]; ok {
		return p
	}
	return 1.0
}

// SkillPower composes the level and rank multipliers.
func SkillPower(level, rank string) float64 {
	return LevelPower(level) * RankPower(rank)
}
