package combat_test

import (
	"testing"

	"fiction-server/internal/combat"
	"fiction-server/internal/domain"
	"fiction-server/pkg/dice"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scripted(faces map[int64][]int) *dice.Roller {
	return dice.NewWithSource(dice.Scripted(faces))
}

func TestResolveAttack_CriticalHit(t *testing.T) {
	faces := map[int64][]int{7: {20}, 8: {4}, 9: {2}}

	t.Run("dice doubled, modifier once", func(t *testing.T) {
		engine := combat.NewEngine(scripted(faces), combat.Options{})
		res, err := engine.ResolveAttack(combat.AttackRequest{
			Seed: 7, ToHitModifier: 3, DamageSpec: "1d6+3", TargetAC: 12,
		})
		require.NoError(t, err)

		assert.True(t, res.Hit)
		assert.Equal(t, 23, res.ToHit.Total)
		require.NotNil(t, res.Damage)
		assert.True(t, res.Damage.Critical)
		assert.Equal(t, []int{4, 2}, res.Damage.Rolls)
		assert.Equal(t, []int64{8, 9}, res.Damage.Seeds)
		assert.Equal(t, 9, res.Damage.Total)
		assert.True(t, res.HasStatus(domain.StatusCritical))
	})

	t.Run("modifier doubled when configured", func(t *testing.T) {
		engine := combat.NewEngine(scripted(faces), combat.Options{CriticalDoublesModifier: true})
		res, err := engine.ResolveAttack(combat.AttackRequest{
			Seed: 7, ToHitModifier: 3, DamageSpec: "1d6+3", TargetAC: 12,
		})
		require.NoError(t, err)
		assert.Equal(t, (4+3)+(2+3), res.Damage.Total)
	})
}

func TestResolveAttack_Miss(t *testing.T) {
	engine := combat.NewEngine(scripted(map[int64][]int{1: {5}}), combat.Options{})

	res, err := engine.ResolveAttack(combat.AttackRequest{Seed: 1, ToHitModifier: 2, DamageSpec: "1d8", TargetAC: 15})
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.Nil(t, res.Damage)
	assert.Empty(t, res.StatusEffects)
}

func TestResolveAttack_Defeated(t *testing.T) {
	engine := combat.NewEngine(scripted(map[int64][]int{3: {15}, 4: {6}}), combat.Options{})
	hp := 5

	res, err := engine.ResolveAttack(combat.AttackRequest{
		Seed: 3, ToHitModifier: 0, DamageSpec: "1d6", TargetAC: 10, TargetHP: &hp,
	})
	require.NoError(t, err)
	assert.True(t, res.HasStatus(domain.StatusDefeated))
	require.NotNil(t, res.TargetHPAfter)
	assert.Equal(t, -1, *res.TargetHPAfter)
	assert.Equal(t, 5, hp, "the engine must not mutate the caller's state")
}

func TestResolveAttack_Properties(t *testing.T) {
	engine := combat.NewEngine(nil, combat.Options{})

	for seed := int64(0); seed < 500; seed++ {
		res, err := engine.ResolveAttack(combat.AttackRequest{
			Seed: seed, ToHitModifier: 4, DamageSpec: "2d6+1", TargetAC: 14,
		})
		require.NoError(t, err)

		assert.Equal(t, res.Hit, res.Damage != nil)
		assert.Equal(t, res.ToHit.Total >= 14, res.Hit)
		if res.Damage != nil {
			assert.GreaterOrEqual(t, res.Damage.Total, 0)
			assert.Equal(t, res.ToHit.Natural() == 20, res.Damage.Critical)
		}

		again, err := engine.ResolveAttack(combat.AttackRequest{
			Seed: seed, ToHitModifier: 4, DamageSpec: "2d6+1", TargetAC: 14,
		})
		require.NoError(t, err)
		assert.Equal(t, res, again)
	}
}

func TestResolveAttack_InvalidDamageSpec(t *testing.T) {
	engine := combat.NewEngine(nil, combat.Options{})
	_, err := engine.ResolveAttack(combat.AttackRequest{Seed: 1, DamageSpec: "lots", TargetAC: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidDiceSpec)
}

func TestResolveSavingThrowEffect(t *testing.T) {
	t.Run("failed save takes full damage", func(t *testing.T) {
		engine := combat.NewEngine(scripted(map[int64][]int{10: {3}, 11: {5, 6}}), combat.Options{})
		res, err := engine.ResolveSavingThrowEffect(combat.SaveEffectRequest{
			Seed: 10, SaveModifier: 1, DC: 13, DamageSpec: "2d6", HalfOnSave: true,
		})
		require.NoError(t, err)
		assert.True(t, res.Hit)
		assert.Equal(t, domain.CombatSaveEffect, res.Kind)
		assert.Equal(t, 11, res.Damage.Total)
		assert.False(t, res.HasStatus(domain.StatusSaved))
	})

	t.Run("successful save halves damage rounding down", func(t *testing.T) {
		engine := combat.NewEngine(scripted(map[int64][]int{10: {15}, 11: {5, 6}}), combat.Options{})
		res, err := engine.ResolveSavingThrowEffect(combat.SaveEffectRequest{
			Seed: 10, SaveModifier: 1, DC: 13, DamageSpec: "2d6", HalfOnSave: true,
		})
		require.NoError(t, err)
		assert.True(t, res.HasStatus(domain.StatusSaved))
		require.NotNil(t, res.Damage)
		assert.Equal(t, 5, res.Damage.Total)
	})

	t.Run("successful save negates effect without half damage", func(t *testing.T) {
		engine := combat.NewEngine(scripted(map[int64][]int{10: {15}}), combat.Options{})
		res, err := engine.ResolveSavingThrowEffect(combat.SaveEffectRequest{
			Seed: 10, SaveModifier: 1, DC: 13, DamageSpec: "2d6",
		})
		require.NoError(t, err)
		assert.False(t, res.Hit)
		assert.Nil(t, res.Damage)
	})
}

func TestRollInitiative(t *testing.T) {
	engine := combat.NewEngine(scripted(map[int64][]int{100: {5}, 101: {18}, 102: {11}}), combat.Options{})

	order := engine.RollInitiative(100, []combat.Combatant{
		{ID: "a", DexModifier: 2},
		{ID: "b", DexModifier: 0},
		{ID: "c", DexModifier: 1},
	})
	require.Len(t, order, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{order[0].ID, order[1].ID, order[2].ID})
	assert.Equal(t, 18, order[0].Initiative)
	assert.Equal(t, int64(101), order[0].Roll.Seed)
}

func TestConditions(t *testing.T) {
	conds := combat.ApplyCondition(nil, domain.Condition{Name: "poisoned", Duration: 2})
	conds = combat.ApplyCondition(conds, domain.Condition{Name: "Poisoned", Duration: 5})
	conds = combat.ApplyCondition(conds, domain.Condition{Name: "prone"})
	require.Len(t, conds, 2)
	assert.Equal(t, 5, conds[0].Duration)

	ticked := combat.TickConditions([]domain.Condition{{Name: "stunned", Duration: 1}, {Name: "prone"}})
	assert.Equal(t, []domain.Condition{{Name: "prone"}}, ticked)

	removed := combat.RemoveCondition(conds, "POISONED")
	assert.Len(t, removed, 1)
	assert.Len(t, conds, 2, "original slice is untouched")
}

func TestApplyDamage(t *testing.T) {
	hero := domain.NewCharacter("Mira")
	hero.HP.Temporary = 3

	require.NoError(t, combat.ApplyDamage(hero, 5))
	assert.Equal(t, 0, hero.HP.Temporary)
	assert.Equal(t, 23, hero.HP.Current)

	require.NoError(t, combat.ApplyDamage(hero, 100))
	assert.Equal(t, 0, hero.HP.Current)
	assert.Error(t, combat.ApplyDamage(hero, -1))
}
