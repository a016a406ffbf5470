package rules

import (
	"strings"

	"fiction-server/internal/domain"
)

var skillAbilities = map[string]domain.Ability{
	"athletics":       domain.AbilityStrength,
	"acrobatics":      domain.AbilityDexterity,
	"sleight_of_hand": domain.AbilityDexterity,
	"stealth":         domain.AbilityDexterity,
	"lockpick":        domain.AbilityDexterity,
	"arcana":          domain.AbilityIntelligence,
	"history":         domain.AbilityIntelligence,
	"investigation":   domain.AbilityIntelligence,
	"nature":          domain.AbilityIntelligence,
	"religion":        domain.AbilityIntelligence,
	"animal_handling": domain.AbilityWisdom,
	"insight":         domain.AbilityWisdom,
	"medicine":        domain.AbilityWisdom,
	"perception":      domain.AbilityWisdom,
	"survival":        domain.AbilityWisdom,
	"deception":       domain.AbilityCharisma,
	"intimidation":    domain.AbilityCharisma,
	"performance":     domain.AbilityCharisma,
	"persuasion":      domain.AbilityCharisma,
}

// SkillAbility возвращает характеристику навыка.
func SkillAbility(skill string) (domain.Ability, bool) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(skill)), " ", "_")
	a, ok := skillAbilities[key]
	return a, ok
}

// Стандартные сложности.
const (
	DCTrivial  = 5
	DCEasy     = 10
	DCRoutine  = 12
	DCModerate = 15
	DCHard     = 18
	DCVeryHard = 20
	DCExtreme  = 25
)

var difficultyClasses = map[string]int{
	"trivial":   DCTrivial,
	"easy":      DCEasy,
	"routine":   DCRoutine,
	"moderate":  DCModerate,
	"hard":      DCHard,
	"very_hard": DCVeryHard,
	"veryhard":  DCVeryHard,
	"extreme":   DCExtreme,
}

// DifficultyClass возвращает DC по названию сложности. Неизвестная сложность считается Moderate.
func DifficultyClass(name string) int {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	if dc, ok := difficultyClasses[key]; ok {
		return dc
	}
	return DCModerate
}
