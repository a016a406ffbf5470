package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fiction-server/internal/combat"
	"fiction-server/internal/domain"
	"fiction-server/internal/inventory"
	"fiction-server/internal/rules"
	"fiction-server/internal/safety"
	"fiction-server/pkg/dice"

	"go.uber.org/zap"
)

const potionHealing = "2d4+2"

// Состояния, дающие помеху на проверки.
var disadvantageConditions = []string{"poisoned", "frightened", "exhausted"}

// Executor выполняет шаги плана. Персонаж изменяется только в рабочей копии
// хода, изменения мира лишь готовятся и применяются на Render.
type Executor struct {
	roller *dice.Roller
	rules  *rules.Engine
	combat *combat.Engine
	logger *zap.Logger
}

// NewExecutor создаёт исполнитель. nil roller означает стандартный.
func NewExecutor(roller *dice.Roller, combatOpts combat.Options, logger *zap.Logger) *Executor {
	if roller == nil {
		roller = dice.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		roller: roller,
		rules:  rules.NewEngine(roller),
		combat: combat.NewEngine(roller, combatOpts),
		logger: logger.Named("ToolExecutor"),
	}
}

// Execute выполняет все шаги плана tc.Plan. Ошибка шага превращается в
// результат вида error и не прерывает ход; Execute возвращает ошибку только
// при отмене ctx.
func (e *Executor) Execute(ctx context.Context, tc *domain.TurnContext) ([]domain.ToolResult, error) {
	results := make([]domain.ToolResult, 0, len(tc.Plan.Steps))
	defeated := map[string]bool{}

	for i, step := range tc.Plan.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		start := time.Now()
		stepResults, err := e.run(i, step, tc, defeated)
		if err != nil {
			toolFailures.WithLabelValues(string(step.Tool)).Inc()
			e.logger.Warn("Plan step failed",
				zap.String("sessionID", tc.Session.ID),
				zap.Int("step", i),
				zap.String("tool", string(step.Tool)),
				zap.Error(err),
			)
			stepResults = []domain.ToolResult{domain.ErrorToolResult(i, step.Tool, err.Error())}
		}

		call := domain.ToolCall{Step: i, Tool: step.Tool, Seed: step.Seed, Duration: time.Since(start)}
		if len(stepResults) > 0 {
			call.ResultKind = stepResults[0].Kind
		}
		if err != nil {
			call.Error = err.Error()
		}
		if tc.Trace != nil {
			tc.Trace.AddToolCall(call)
			tc.Trace.AddSeed(step.Seed)
		}
		results = append(results, stepResults...)
	}
	return results, nil
}

func (e *Executor) run(i int, step domain.Step, tc *domain.TurnContext, defeated map[string]bool) ([]domain.ToolResult, error) {
	c := tc.Character
	switch step.Tool {
	case domain.ToolRulesCheck:
		if step.Check == nil {
			return nil, errMissingArgs
		}
		res, err := e.check(step, c)
		if err != nil {
			return nil, err
		}
		return []domain.ToolResult{domain.CheckToolResult(i, step.Tool, res)}, nil

	case domain.ToolCombatAttack:
		if step.Attack == nil {
			return nil, errMissingArgs
		}
		res, err := e.attack(step, c)
		if err != nil {
			return nil, err
		}
		out := []domain.ToolResult{domain.CombatToolResult(i, step.Tool, res)}
		if !res.Hit || res.Damage == nil {
			return out, nil
		}
		// Урон по цели применяется к миру на Render.
		target := step.Attack.TargetID
		update := domain.SceneUpdate{
			SceneID:   tc.Scene.ID,
			NPCDamage: map[string]int{target: res.Damage.Total},
		}
		if res.HasStatus(domain.StatusDefeated) {
			defeated[target] = true
			update.Flags = map[string]bool{target + "_defeated": true}
			update.Defeated = []string{target}
		}
		return append(out, domain.WorldToolResult(i, domain.WorldUpdateResult{Update: update})), nil

	case domain.ToolCombatSave:
		if step.SaveEffect == nil {
			return nil, errMissingArgs
		}
		if defeated[step.SaveEffect.Source] {
			return nil, nil
		}
		res, err := e.saveEffect(step, c)
		if err != nil {
			return nil, err
		}
		return []domain.ToolResult{domain.CombatToolResult(i, step.Tool, res)}, nil

	case domain.ToolWorldUpdate:
		if step.World == nil {
			return nil, errMissingArgs
		}
		update := *step.World
		if update.TimeAdvance < 0 {
			return nil, fmt.Errorf("negative time advance %d", update.TimeAdvance)
		}
		if update.SceneID == "" {
			update.SceneID = tc.Scene.ID
		}
		return []domain.ToolResult{domain.WorldToolResult(i, domain.WorldUpdateResult{Update: update})}, nil

	case domain.ToolInventoryUpdate:
		if step.Inventory == nil {
			return nil, errMissingArgs
		}
		res, err := e.inventory(step, tc)
		if err != nil {
			return nil, err
		}
		return []domain.ToolResult{domain.InventoryToolResult(i, res)}, nil

	case domain.ToolImageRequest:
		if step.Image == nil {
			return nil, errMissingArgs
		}
		_, _, prompt := safety.ValidateImagePrompt(step.Image.Prompt)
		return []domain.ToolResult{domain.ImageToolResult(i, domain.ImageJobHandle{
			SceneID: step.Image.SceneID,
			Prompt:  prompt,
			Mode:    step.Image.Mode,
			Seed:    step.Seed,
		})}, nil
	}
	return nil, fmt.Errorf("unknown tool %q", step.Tool)
}

var errMissingArgs = errors.New("step has no arguments for its tool")

func (e *Executor) check(step domain.Step, c *domain.Character) (domain.CheckResult, error) {
	args := step.Check
	disadvantage := args.Disadvantage || hasAnyCondition(c, disadvantageConditions)
	return e.rules.Check(rules.CheckRequest{
		Seed:             step.Seed,
		Abilities:        c.Abilities,
		Ability:          args.Ability,
		Skill:            args.Skill,
		Proficient:       args.Proficient,
		ProficiencyBonus: c.ProficiencyBonus(),
		DC:               args.DC,
		Advantage:        args.Advantage,
		Disadvantage:     disadvantage,
		Context:          args.Context,
	})
}

func (e *Executor) attack(step domain.Step, c *domain.Character) (domain.CombatResult, error) {
	args := step.Attack
	ability := args.Weapon.Ability
	if ability == "" {
		ability = domain.AbilityStrength
	}
	mod, err := c.Modifier(ability)
	if err != nil {
		return domain.CombatResult{}, err
	}
	hp := args.TargetHP
	return e.combat.ResolveAttack(combat.AttackRequest{
		Seed:          step.Seed,
		AttackerID:    c.ID,
		TargetID:      args.TargetID,
		ToHitModifier: mod + c.ProficiencyBonus(),
		DamageSpec:    args.Weapon.DamageSpec,
		DamageType:    args.Weapon.DamageType,
		TargetAC:      args.TargetAC,
		TargetHP:      &hp,
	})
}

func (e *Executor) saveEffect(step domain.Step, c *domain.Character) (domain.CombatResult, error) {
	args := step.SaveEffect
	mod, err := c.Modifier(args.Ability)
	if err != nil {
		return domain.CombatResult{}, err
	}
	if c.HasSaveProficiency(args.Ability) {
		mod += c.ProficiencyBonus()
	}
	hp := c.HP.Current
	res, err := e.combat.ResolveSavingThrowEffect(combat.SaveEffectRequest{
		Seed:         step.Seed,
		SourceID:     args.Source,
		TargetID:     c.ID,
		SaveModifier: mod,
		DC:           args.DC,
		DamageSpec:   args.DamageSpec,
		DamageType:   args.DamageType,
		HalfOnSave:   args.HalfOnSave,
		TargetHP:     &hp,
	})
	if err != nil {
		return res, err
	}
	if res.Damage != nil {
		if err := combat.ApplyDamage(c, res.Damage.Total); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *Executor) inventory(step domain.Step, tc *domain.TurnContext) (domain.InventoryResult, error) {
	delta := *step.Inventory
	if tc.Plan.Action == domain.ActionConsume && len(delta.ItemsRemove) == 1 && delta.Gold == 0 && len(delta.ItemsAdd) == 0 {
		heal, err := e.roller.Roll(step.Seed, potionHealing)
		if err != nil {
			return domain.InventoryResult{}, err
		}
		return inventory.Consume(tc.Character, delta.ItemsRemove[0], heal.Total)
	}
	return inventory.Apply(tc.Character, delta)
}

func hasAnyCondition(c *domain.Character, names []string) bool {
	for _, cond := range c.Conditions {
		for _, name := range names {
			if cond.Name == name {
				return true
			}
		}
	}
	return false
}
