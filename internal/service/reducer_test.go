package service_test

import (
	"context"
	"testing"
	"time"

	"fiction-server/internal/domain"
	"fiction-server/internal/service"
	"fiction-server/internal/service/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func turnContext(scene domain.Scene, plan domain.Plan, results ...domain.ToolResult) *domain.TurnContext {
	session := domain.NewSession("s1", "p1", 1, testTime)
	return &domain.TurnContext{
		Session:     session,
		Scene:       scene,
		Character:   session.Character.Clone(),
		PlayerInput: "test",
		TurnSeed:    plan.Seed,
		Plan:        &plan,
		ToolResults: results,
	}
}

func TestBuildChoices(t *testing.T) {
	scene := forestScene()
	scene.NPCs = append(scene.NPCs,
		domain.NPC{ID: "hermit", Name: "Old Hermit", Disposition: "friendly"},
		domain.NPC{ID: "crow", Name: "Talking Crow", Disposition: "neutral"},
	)

	t.Run("hostile, first friendly, exits, base", func(t *testing.T) {
		choices := service.BuildChoices(scene, nil, 6)
		assert.Equal(t, []string{
			"Attack Goblin Scout",
			"Talk to Old Hermit",
			"Go west",
			"Examine your surroundings carefully",
			"Move forward cautiously",
			"Look for alternative paths",
		}, choices)
	})

	t.Run("defeated npc is dropped", func(t *testing.T) {
		results := []domain.ToolResult{domain.WorldToolResult(0, domain.WorldUpdateResult{
			Update: domain.SceneUpdate{Defeated: []string{"goblin_scout"}},
		})}
		choices := service.BuildChoices(scene, results, 3)
		assert.Equal(t, []string{"Talk to Old Hermit", "Go west", "Examine your surroundings carefully"}, choices)
	})
}

func TestBuildStateUpdates(t *testing.T) {
	plan := domain.Plan{Seed: 10, Action: domain.ActionMove, Destination: "town_square"}
	tc := turnContext(domain.DefaultScene(), plan,
		domain.WorldToolResult(0, domain.WorldUpdateResult{Update: domain.SceneUpdate{
			Flags:       map[string]bool{"exit_north": true},
			TimeAdvance: 1,
			Weather:     "rain",
			Quest:       &domain.QuestUpdate{QuestID: "q1", Status: "active"},
		}}),
		domain.WorldToolResult(1, domain.WorldUpdateResult{Update: domain.SceneUpdate{
			GlobalFlags: map[string]bool{"met_thorin": true},
			TimeAdvance: 2,
		}}),
		domain.InventoryToolResult(2, domain.InventoryResult{Delta: domain.InventoryDelta{Gold: -5, ItemsAdd: []string{"torch"}}}),
	)
	tc.Character.HP.Current = 20

	su := service.BuildStateUpdates(tc)

	assert.True(t, su.Flags["exit_north"])
	assert.True(t, su.GlobalFlags["met_thorin"])
	assert.Equal(t, 3, su.TimeAdvance)
	assert.Equal(t, "rain", su.Weather)
	require.NotNil(t, su.Quest)
	assert.Equal(t, "q1", su.Quest.QuestID)
	require.NotNil(t, su.Inventory)
	assert.Equal(t, -5, su.Inventory.Gold)
	assert.Equal(t, []string{"torch"}, su.Inventory.ItemsAdd)
	require.NotNil(t, su.HP)
	assert.Equal(t, 20, su.HP.Current)
	assert.Equal(t, "town_square", su.SceneID)

	unchanged := service.BuildStateUpdates(turnContext(domain.DefaultScene(), domain.Plan{}))
	assert.Nil(t, unchanged.HP)
	assert.Nil(t, unchanged.Inventory)
}

func TestBuildActionLog(t *testing.T) {
	check := domain.CheckResult{
		RollResult: domain.RollResult{Rolls: []int{14}, Modifier: 4, Total: 18, Seed: 10},
		Ability:    domain.AbilityWisdom,
		Skill:      "perception",
		Proficient: true,
		DC:         15,
		Outcome:    domain.OutcomeSuccess,
	}
	save := domain.CombatResult{
		Kind:          domain.CombatSaveEffect,
		ToHit:         domain.RollResult{Rolls: []int{15}, Modifier: 2, Total: 17},
		TargetAC:      12,
		StatusEffects: []string{domain.StatusSaved},
	}
	plan := domain.Plan{Steps: []domain.Step{
		{Tool: domain.ToolRulesCheck},
		{Tool: domain.ToolCombatSave, SaveEffect: &domain.SaveEffectArgs{Ability: domain.AbilityConstitution, DC: 12}},
	}}
	tc := turnContext(domain.DefaultScene(), plan,
		domain.CheckToolResult(0, domain.ToolRulesCheck, check),
		domain.CombatToolResult(1, domain.ToolCombatSave, save),
		domain.ErrorToolResult(2, domain.ToolWorldUpdate, "boom"),
	)

	log := service.BuildActionLog(tc)

	require.Len(t, log, 3)
	assert.Equal(t, domain.LogCheck, log[0].Type)
	assert.Equal(t, 14, log[0].Roll)
	assert.Equal(t, 18, log[0].Total)
	assert.NotEmpty(t, log[0].Message)

	assert.Equal(t, domain.LogSave, log[1].Type)
	assert.Equal(t, domain.AbilityConstitution, log[1].Ability)
	assert.True(t, log[1].Proficient)
	assert.Equal(t, domain.OutcomeSuccess, log[1].Outcome)
	assert.Equal(t, 12, log[1].DC)

	assert.Equal(t, domain.LogError, log[2].Type)
}

func TestTemplateNarration(t *testing.T) {
	t.Run("rest", func(t *testing.T) {
		plan := domain.Plan{Seed: 2, Action: domain.ActionRest, Steps: []domain.Step{
			{Tool: domain.ToolWorldUpdate, World: &domain.SceneUpdate{TimeAdvance: 8}},
		}}
		text := service.TemplateNarration(turnContext(domain.DefaultScene(), plan), domain.DefaultScene())
		assert.Equal(t, "You rest for 8 hours, gathering your strength. Around you, The Crossed Swords Tavern feels peaceful.", text)
	})

	t.Run("missing exit", func(t *testing.T) {
		plan := domain.Plan{Seed: 0, Note: "no exit south"}
		text := service.TemplateNarration(turnContext(domain.DefaultScene(), plan), domain.DefaultScene())
		assert.Equal(t, "There is no way to go south from here. Around you, The Crossed Swords Tavern feels tense.", text)
	})

	t.Run("attack hit", func(t *testing.T) {
		hit := domain.CombatResult{Kind: domain.CombatAttack, TargetID: "goblin_scout", Hit: true, StatusEffects: []string{}}
		tc := turnContext(forestScene(), domain.Plan{Seed: 1, Action: domain.ActionCombat},
			domain.CombatToolResult(0, domain.ToolCombatAttack, hit))
		text := service.TemplateNarration(tc, forestScene())
		assert.Equal(t, "Your blow lands on Goblin Scout. Around you, The Whispering Woods feels mysterious.", text)
	})
}

func TestReducer_Reduce(t *testing.T) {
	ctx := context.Background()
	plan := domain.Plan{Seed: 3, Action: domain.ActionMove, Destination: "town_square"}
	square := domain.Scene{
		ID:       "town_square",
		Title:    "Millbrook Town Square",
		Synopsis: "Merchants shout over one another.",
		Exits:    []domain.Exit{{Direction: "south", SceneID: domain.DefaultSceneID}},
	}
	lookup := func(id string) (domain.Scene, bool) { return square, id == square.ID }

	t.Run("template narration for destination", func(t *testing.T) {
		tc := turnContext(domain.DefaultScene(), plan,
			domain.WorldToolResult(0, domain.WorldUpdateResult{Update: domain.SceneUpdate{TimeAdvance: 1}}),
			domain.ImageToolResult(1, domain.ImageJobHandle{SceneID: "town_square", Prompt: "square", Mode: domain.ImageModePreview}),
		)
		r := service.NewReducer(nil, nil, lookup, service.DefaultConfig(), nil)

		out, err := r.Reduce(ctx, tc)

		require.NoError(t, err)
		assert.Equal(t,
			"You leave The Crossed Swords Tavern behind and arrive at Millbrook Town Square. Merchants shout over one another. Around you, Millbrook Town Square feels ominous.",
			out.Narration)
		assert.Equal(t, "Go south", out.Choices[0])
		require.NotNil(t, out.ImageRequest)
		assert.Equal(t, "square", out.ImageRequest.Prompt)
		assert.Equal(t, "town_square", out.StateUpdates.SceneID)
	})

	t.Run("generator receives feedback", func(t *testing.T) {
		gen := new(mocks.NarrationGenerator)
		gen.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.NarrationRequest) bool {
			return len(req.Feedback) == 1 && req.Feedback[0] == "too dark"
		})).Return("  The square bustles with life as you arrive from the tavern.  ", nil).Once()
		tc := turnContext(domain.DefaultScene(), plan)
		tc.Feedback = []string{"too dark"}

		out, err := service.NewReducer(gen, nil, lookup, service.DefaultConfig(), nil).Reduce(ctx, tc)

		require.NoError(t, err)
		assert.Equal(t, "The square bustles with life as you arrive from the tavern.", out.Narration)
		gen.AssertExpectations(t)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := service.NewReducer(nil, nil, lookup, service.DefaultConfig(), nil).Reduce(cctx, turnContext(domain.DefaultScene(), plan))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
