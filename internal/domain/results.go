package domain

import "fiction-server/pkg/dice"

// RollResult результат броска костей.
type RollResult = dice.Result

// Outcome исход проверки.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
)

// CheckResult результат проверки характеристики.
// Total == sum(Rolls) + Modifier, Outcome == success тогда и только тогда, когда Total >= DC.
type CheckResult struct {
	RollResult
	Ability          Ability `json:"ability"`
	Skill            string  `json:"skill,omitempty"`
	AbilityModifier  int     `json:"ability_modifier"`
	Proficient       bool    `json:"proficient"`
	ProficiencyBonus int     `json:"proficiency_bonus"`
	DC               int     `json:"dc"`
	Outcome          Outcome `json:"outcome"`
	CriticalSuccess  bool    `json:"critical_success"`
	CriticalFailure  bool    `json:"critical_failure"`
	Advantage        bool    `json:"advantage"`
	Disadvantage     bool    `json:"disadvantage"`
	Context          string  `json:"context,omitempty"`
}

// Succeeded проверка пройдена.
func (c CheckResult) Succeeded() bool {
	return c.Outcome == OutcomeSuccess
}

// DamageRoll урон одной атаки или эффекта. Total >= 0.
type DamageRoll struct {
	Rolls    []int   `json:"rolls"`
	Modifier int     `json:"modifier"`
	Total    int     `json:"total"`
	Critical bool    `json:"critical"`
	Type     string  `json:"type,omitempty"`
	Seeds    []int64 `json:"seeds"`
}

// CombatKind различает атаки и эффекты со спасброском.
type CombatKind string

const (
	CombatAttack     CombatKind = "attack"
	CombatSaveEffect CombatKind = "save_effect"
)

// Статусы, которыми помечается результат боя.
const (
	StatusCritical = "critical"
	StatusDefeated = "defeated"
	StatusSaved    = "saved"
)

// CombatResult результат атаки. Damage присутствует тогда и только тогда, когда Hit.
type CombatResult struct {
	Kind          CombatKind  `json:"kind"`
	AttackerID    string      `json:"attacker_id,omitempty"`
	TargetID      string      `json:"target_id,omitempty"`
	Hit           bool        `json:"hit"`
	ToHit         RollResult  `json:"to_hit"`    // Для save_effect - бросок спасброска
	TargetAC      int         `json:"target_ac"` // Для save_effect - DC
	Damage        *DamageRoll `json:"damage,omitempty"`
	StatusEffects []string    `json:"status_effects"`
	TargetHPAfter *int        `json:"target_hp_after,omitempty"`
}

// HasStatus проверяет наличие статуса.
func (c CombatResult) HasStatus(status string) bool {
	for _, s := range c.StatusEffects {
		if s == status {
			return true
		}
	}
	return false
}
