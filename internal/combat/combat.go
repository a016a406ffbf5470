package combat

import (
	"fmt"

	"fiction-server/internal/domain"
	"fiction-server/pkg/dice"
)

// Options правила разрешения боя.
type Options struct {
	// CriticalDoublesModifier: при критическом попадании модификатор урона
	// добавляется дважды. По умолчанию удваиваются только кости.
	CriticalDoublesModifier bool
}

// Engine разрешает атаки и эффекты. Не изменяет состояние участников:
// результат применяет вызывающая сторона.
type Engine struct {
	roller *dice.Roller
	opts   Options
}

// NewEngine создаёт боевой движок. nil roller означает стандартный.
func NewEngine(roller *dice.Roller, opts Options) *Engine {
	if roller == nil {
		roller = dice.New()
	}
	return &Engine{roller: roller, opts: opts}
}

// AttackRequest описывает одну атаку.
type AttackRequest struct {
	Seed          int64
	AttackerID    string
	TargetID      string
	ToHitModifier int
	DamageSpec    string
	DamageType    string
	TargetAC      int
	TargetHP      *int // nil, если здоровье цели не отслеживается
}

// ResolveAttack разрешает атаку: попадание при d20+мод >= AC, урон с seed+1,
// дополнительные кости урона с seed+2 при натуральной 20.
func (e *Engine) ResolveAttack(req AttackRequest) (domain.CombatResult, error) {
	spec, err := dice.ParseSpec(req.DamageSpec)
	if err != nil {
		return domain.CombatResult{}, err
	}

	toHit := e.roller.D20(req.Seed, req.ToHitModifier)
	result := domain.CombatResult{
		Kind:          domain.CombatAttack,
		AttackerID:    req.AttackerID,
		TargetID:      req.TargetID,
		Hit:           toHit.Total >= req.TargetAC,
		ToHit:         toHit,
		TargetAC:      req.TargetAC,
		StatusEffects: []string{},
	}
	if !result.Hit {
		return result, nil
	}

	critical := toHit.Natural() == 20
	damage := e.rollDamage(req.Seed, spec, req.DamageType, critical)
	result.Damage = &damage
	if critical {
		result.StatusEffects = append(result.StatusEffects, domain.StatusCritical)
	}
	applyTargetHP(&result, req.TargetHP, damage.Total)

	return result, nil
}

func (e *Engine) rollDamage(seed int64, spec dice.Spec, damageType string, critical bool) domain.DamageRoll {
	first := e.roller.RollSpec(dice.DeriveSeed(seed, dice.OffsetDamage), spec)
	damage := domain.DamageRoll{
		Rolls:    append([]int(nil), first.Rolls...),
		Modifier: spec.Modifier,
		Total:    first.Total,
		Critical: critical,
		Type:     damageType,
		Seeds:    []int64{first.Seed},
	}
	if critical {
		extra := e.roller.RollSpec(dice.DeriveSeed(seed, dice.OffsetCritical), spec)
		damage.Rolls = append(damage.Rolls, extra.Rolls...)
		damage.Seeds = append(damage.Seeds, extra.Seed)
		damage.Total += extra.Sum()
		if e.opts.CriticalDoublesModifier {
			damage.Modifier += spec.Modifier
			damage.Total += spec.Modifier
		}
	}
	if damage.Total < 0 {
		damage.Total = 0
	}
	return damage
}

// SaveEffectRequest описывает эффект, от которого цель защищается спасброском.
type SaveEffectRequest struct {
	Seed         int64
	SourceID     string
	TargetID     string
	SaveModifier int
	DC           int
	DamageSpec   string
	DamageType   string
	HalfOnSave   bool
	TargetHP     *int
}

// ResolveSavingThrowEffect: спасбросок с seed, урон с seed+1. Провал даёт
// полный урон, успех даёт половину (с округлением вниз), если эффект это
// допускает, иначе эффект не срабатывает.
func (e *Engine) ResolveSavingThrowEffect(req SaveEffectRequest) (domain.CombatResult, error) {
	spec, err := dice.ParseSpec(req.DamageSpec)
	if err != nil {
		return domain.CombatResult{}, err
	}

	save := e.roller.D20(req.Seed, req.SaveModifier)
	saved := save.Total >= req.DC
	result := domain.CombatResult{
		Kind:          domain.CombatSaveEffect,
		AttackerID:    req.SourceID,
		TargetID:      req.TargetID,
		ToHit:         save,
		TargetAC:      req.DC,
		StatusEffects: []string{},
	}
	if saved {
		result.StatusEffects = append(result.StatusEffects, domain.StatusSaved)
		if !req.HalfOnSave {
			return result, nil
		}
	}

	damage := e.rollDamage(req.Seed, spec, req.DamageType, false)
	if saved {
		damage.Total /= 2
	}
	result.Hit = true
	result.Damage = &damage
	applyTargetHP(&result, req.TargetHP, damage.Total)

	return result, nil
}

func applyTargetHP(result *domain.CombatResult, hp *int, damage int) {
	if hp == nil {
		return
	}
	after := *hp - damage
	result.TargetHPAfter = &after
	if after <= 0 {
		result.StatusEffects = append(result.StatusEffects, domain.StatusDefeated)
	}
}

// ApplyDamage применяет урон к персонажу, сначала списывая временные хиты.
func ApplyDamage(c *domain.Character, amount int) error {
	if amount < 0 {
		return fmt.Errorf("negative damage %d", amount)
	}
	if c.HP.Temporary > 0 {
		absorbed := min(c.HP.Temporary, amount)
		c.HP.Temporary -= absorbed
		amount -= absorbed
	}
	c.HP.Current = max(c.HP.Current-amount, 0)
	return nil
}
