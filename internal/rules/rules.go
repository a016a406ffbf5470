package rules

import (
	"fmt"
	"strings"

	"fiction-server/internal/domain"
	"fiction-server/pkg/dice"
)

// CheckRequest описывает проверку характеристики.
type CheckRequest struct {
	Seed             int64
	Abilities        domain.AbilityScores
	Ability          domain.Ability
	Skill            string
	Proficient       bool
	ProficiencyBonus int
	DC               int
	Advantage        bool
	Disadvantage     bool
	Context          string
}

// Engine разрешает проверки по правилам d20.
type Engine struct {
	roller *dice.Roller
}

// NewEngine создаёт движок правил поверх roller. nil означает стандартный roller.
func NewEngine(roller *dice.Roller) *Engine {
	if roller == nil {
		roller = dice.New()
	}
	return &Engine{roller: roller}
}

// Check выполняет проверку характеристики.
//
// Модификатор равен floor((score-10)/2) плюс бонус мастерства при владении.
// Преимущество и помеха взаимно гасятся. Натуральная 20 отмечается как
// критический успех, натуральная 1 как критический провал, но исход
// определяется только сравнением Total с DC.
func (e *Engine) Check(req CheckRequest) (domain.CheckResult, error) {
	if !req.Ability.IsValid() {
		return domain.CheckResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidAbility, req.Ability)
	}
	score, ok := req.Abilities[req.Ability]
	if !ok {
		return domain.CheckResult{}, fmt.Errorf("%w: actor has no %s score", domain.ErrInvalidAbility, req.Ability)
	}

	abilityMod := domain.AbilityModifier(score)
	modifier := abilityMod
	profBonus := 0
	if req.Proficient {
		profBonus = req.ProficiencyBonus
		modifier += profBonus
	}

	var roll dice.Result
	switch {
	case req.Advantage && !req.Disadvantage:
		roll = e.roller.Advantage(req.Seed, modifier)
	case req.Disadvantage && !req.Advantage:
		roll = e.roller.Disadvantage(req.Seed, modifier)
	default:
		roll = e.roller.D20(req.Seed, modifier)
	}

	natural := roll.Natural()
	outcome := domain.OutcomeFail
	if roll.Total >= req.DC {
		outcome = domain.OutcomeSuccess
	}

	return domain.CheckResult{
		RollResult:       roll,
		Ability:          req.Ability,
		Skill:            req.Skill,
		AbilityModifier:  abilityMod,
		Proficient:       req.Proficient,
		ProficiencyBonus: profBonus,
		DC:               req.DC,
		Outcome:          outcome,
		CriticalSuccess:  natural == 20,
		CriticalFailure:  natural == 1,
		Advantage:        req.Advantage,
		Disadvantage:     req.Disadvantage,
		Context:          req.Context,
	}, nil
}

// SkillCheck выполняет проверку навыка персонажа. Владение берётся из Proficiencies.
func (e *Engine) SkillCheck(seed int64, c *domain.Character, skill string, dc int, advantage, disadvantage bool) (domain.CheckResult, error) {
	ability, ok := SkillAbility(skill)
	if !ok {
		return domain.CheckResult{}, fmt.Errorf("%w: unknown skill %q", domain.ErrInvalidAbility, skill)
	}
	return e.Check(CheckRequest{
		Seed:             seed,
		Abilities:        c.Abilities,
		Ability:          ability,
		Skill:            strings.ToLower(skill),
		Proficient:       c.IsProficient(skill),
		ProficiencyBonus: c.ProficiencyBonus(),
		DC:               dc,
		Advantage:        advantage,
		Disadvantage:     disadvantage,
		Context:          strings.ToLower(skill),
	})
}

// SavingThrow выполняет спасбросок персонажа.
func (e *Engine) SavingThrow(seed int64, c *domain.Character, ability domain.Ability, dc int, advantage, disadvantage bool) (domain.CheckResult, error) {
	return e.Check(CheckRequest{
		Seed:             seed,
		Abilities:        c.Abilities,
		Ability:          ability,
		Proficient:       c.HasSaveProficiency(ability),
		ProficiencyBonus: c.ProficiencyBonus(),
		DC:               dc,
		Advantage:        advantage,
		Disadvantage:     disadvantage,
		Context:          "saving_throw",
	})
}

// MaxPossibleTotal наибольший возможный итог проверки: 20 + модификатор + бонус мастерства.
func MaxPossibleTotal(abilities domain.AbilityScores, ability domain.Ability, proficient bool, profBonus int) (int, error) {
	score, ok := abilities[ability]
	if !ok || !ability.IsValid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAbility, ability)
	}
	total := 20 + domain.AbilityModifier(score)
	if proficient {
		total += profBonus
	}
	return total, nil
}
