package ai_test

import (
	"testing"

	"fiction-server/internal/domain"
	"fiction-server/pkg/ai"
	"fiction-server/pkg/dice"

	"github.com/stretchr/testify/assert"
)

func TestBuildNarrationPrompt_Sections(t *testing.T) {
	req := narrationRequest()
	req.Lore = []domain.LoreEntry{{ID: "thorin", Name: "Thorin Ironbeard", Description: "A stout dwarf.", Facts: []string{"Keeps a warhammer."}}}

	p := ai.BuildNarrationPrompt(req, 0, ai.WordTokenCounter)

	assert.Contains(t, p.User, "## Current Scene: The Crossed Swords Tavern")
	assert.Contains(t, p.User, "## Character: Aria\nHP: 25/25")
	assert.Contains(t, p.User, "- a fire crackles in the hearth")
	assert.Contains(t, p.User, "- Thorin Ironbeard: A stout dwarf.\n  - Keeps a warhammer.")
	assert.NotContains(t, p.User, "## Action Results")
	assert.Empty(t, p.Dropped)
	assert.Positive(t, p.Tokens)
}

func TestBuildNarrationPrompt_DropsOptionalSectionsToFitBudget(t *testing.T) {
	req := narrationRequest()
	req.Lore = []domain.LoreEntry{{ID: "thorin", Name: "Thorin", Description: "A stout dwarf who has kept the tavern for thirty long years."}}

	full := ai.BuildNarrationPrompt(req, 0, ai.WordTokenCounter)

	t.Run("lore first", func(t *testing.T) {
		p := ai.BuildNarrationPrompt(req, full.Tokens-1, ai.WordTokenCounter)
		assert.Equal(t, []string{"lore"}, p.Dropped)
		assert.NotContains(t, p.User, "## Lore")
		assert.Contains(t, p.User, "## Established Facts")
	})

	t.Run("required sections kept", func(t *testing.T) {
		p := ai.BuildNarrationPrompt(req, 1, ai.WordTokenCounter)
		assert.Equal(t, []string{"lore", "facts"}, p.Dropped)
		assert.Contains(t, p.User, "## Player Action")
	})
}

func TestDescribeToolResult(t *testing.T) {
	check := domain.CheckResult{
		RollResult: dice.Result{Rolls: []int{12}, Modifier: 4, Total: 16},
		Ability:    domain.AbilityStrength,
		DC:         15,
		Outcome:    domain.OutcomeSuccess,
	}
	hit := domain.CombatResult{
		Kind:          domain.CombatAttack,
		TargetID:      "goblin_scout",
		Hit:           true,
		ToHit:         dice.Result{Rolls: []int{20}, Modifier: 3, Total: 23},
		TargetAC:      12,
		Damage:        &domain.DamageRoll{Total: 11, Type: "slashing"},
		StatusEffects: []string{domain.StatusCritical, domain.StatusDefeated},
	}
	miss := domain.CombatResult{Kind: domain.CombatAttack, TargetID: "goblin_scout", ToHit: dice.Result{Total: 5}, TargetAC: 13}
	save := domain.CombatResult{Kind: domain.CombatSaveEffect, ToHit: dice.Result{Total: 9}, TargetAC: 13, Hit: true, Damage: &domain.DamageRoll{Total: 4}}

	tests := []struct {
		name   string
		result domain.ToolResult
		want   string
	}{
		{"check", domain.CheckToolResult(0, domain.ToolRulesCheck, check), "STR check SUCCESS: roll 12 +4 = 16 vs DC 15"},
		{"critical hit", domain.CombatToolResult(1, domain.ToolCombatAttack, hit), "Attack on goblin_scout HIT (23 vs AC 12), 11 slashing damage, critical, target defeated"},
		{"miss", domain.CombatToolResult(1, domain.ToolCombatAttack, miss), "Attack on goblin_scout MISSED (5 vs AC 13)"},
		{"failed save", domain.CombatToolResult(2, domain.ToolCombatSave, save), "Saving throw failed (9 vs DC 13), 4 damage"},
		{"inventory", domain.InventoryToolResult(3, domain.InventoryResult{Added: []string{"torch"}, Delta: domain.InventoryDelta{Gold: -2}}), "Inventory: gained torch; gold -2"},
		{"error", domain.ErrorToolResult(4, domain.ToolCombatAttack, "no target"), "Complication: no target"},
		{"image", domain.ImageToolResult(5, domain.ImageJobHandle{}), ""},
		{"quest", domain.WorldToolResult(6, domain.WorldUpdateResult{Update: domain.SceneUpdate{
			Quest: &domain.QuestUpdate{QuestID: "scout_woods", Status: "active", Giver: "captain_mara", Note: "Scout the woods."},
		}}), "Quest scout_woods offered by captain_mara (active): Scout the woods."},
		{"rest", domain.WorldToolResult(7, domain.WorldUpdateResult{Update: domain.SceneUpdate{TimeAdvance: 8}}), "Time passes: 8 hours"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ai.DescribeToolResult(tt.result))
		})
	}
}
