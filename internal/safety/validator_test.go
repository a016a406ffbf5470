package safety_test

import (
	"strings"
	"testing"

	"fiction-server/internal/domain"
	"fiction-server/internal/safety"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cleanNarration = "You step into the warm tavern as Thorin Ironbeard waves from behind the polished bar."

func cleanOutput() domain.TurnOutput {
	return domain.TurnOutput{
		Narration: cleanNarration,
		Choices:   []string{"Talk to Thorin Ironbeard", "Go north", "Examine your surroundings carefully"},
	}
}

func validationContext() safety.ValidationContext {
	return safety.ValidationContext{
		Scene:     domain.DefaultScene(),
		Character: domain.NewCharacter("Aria"),
		AgeRating: domain.RatingTeen,
	}
}

func newValidator() *safety.Validator {
	return safety.NewValidator(safety.DefaultConfig(), nil)
}

func TestValidate_CleanOutputApproved(t *testing.T) {
	verdict := newValidator().Validate(cleanOutput(), validationContext())

	assert.True(t, verdict.Approved)
	assert.Empty(t, verdict.Errors)
	assert.Empty(t, verdict.Warnings)
}

func TestValidate_ForbiddenTermRejected(t *testing.T) {
	out := cleanOutput()
	out.Narration = "The guard curses loudly, shouting damn you all as he draws his blade against the crowd."

	verdict := newValidator().Validate(out, validationContext())

	assert.False(t, verdict.Approved)
	require.NotEmpty(t, verdict.Errors)
	assert.Contains(t, verdict.Errors[0], "profanity")
}

func TestValidate_AdultRatingAllowsProfanity(t *testing.T) {
	out := cleanOutput()
	out.Narration = "The guard curses loudly, shouting damn you all as he draws his blade against the crowd."
	vctx := validationContext()
	vctx.AgeRating = domain.RatingAdult

	verdict := newValidator().Validate(out, vctx)

	assert.True(t, verdict.Approved)
}

func TestValidate_ConfiguredTermRejected(t *testing.T) {
	classifier := safety.NewClassifier(nil).WithTerms(safety.CategorySensitive, "necromancy")
	v := safety.NewValidator(safety.DefaultConfig(), classifier)
	out := cleanOutput()
	out.Narration = "An old tome of necromancy lies open on the table, its pages fluttering in the draft."

	verdict := v.Validate(out, validationContext())

	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Errors[0], "sensitive")
}

func TestValidate_ForbiddenTermInChoice(t *testing.T) {
	out := cleanOutput()
	out.Choices = append(out.Choices, "Tell him to go to hell")

	verdict := newValidator().Validate(out, validationContext())

	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Errors[0], "choice")
}

func TestValidate_Length(t *testing.T) {
	v := newValidator()

	out := cleanOutput()
	out.Narration = "Quiet night."
	verdict := v.Validate(out, validationContext())
	assert.True(t, verdict.Approved)
	assert.Contains(t, verdict.Warnings[0], "short")

	out.Narration = strings.Repeat("word ", 501)
	verdict = v.Validate(out, validationContext())
	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Errors[0], "too long")
}

func TestValidate_CanonicalContradiction(t *testing.T) {
	out := cleanOutput()
	out.Narration = "You enter the room and notice the hearth is cold, the chairs stacked upon dusty tables."

	verdict := newValidator().Validate(out, validationContext())

	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Errors[0], "a fire crackles in the hearth")
}

func TestValidate_LoreConflictIsWarning(t *testing.T) {
	out := cleanOutput()
	out.Narration = "Rumour says the old mill burned down last winter, but nobody here seems to care much."
	vctx := validationContext()
	vctx.Lore = []domain.LoreEntry{{
		ID: "old_mill", Kind: domain.LoreLocation, Name: "Old Mill",
		Contradictions: []string{"mill burned down"},
	}}

	verdict := newValidator().Validate(out, vctx)

	assert.True(t, verdict.Approved)
	require.Len(t, verdict.Warnings, 1)
	assert.Contains(t, verdict.Warnings[0], "Old Mill")
}

func TestValidate_ImpossibleRoll(t *testing.T) {
	out := cleanOutput()
	// WIS 15 (+2), бонус мастерства 2: максимум 24.
	out.ActionLog = []domain.ActionLogEntry{{
		Type: domain.LogCheck, Ability: domain.AbilityWisdom, Skill: "perception", Proficient: true,
		Roll: 20, Modifier: 5, Total: 25, DC: 15, Outcome: domain.OutcomeSuccess,
	}}

	verdict := newValidator().Validate(out, validationContext())

	assert.False(t, verdict.Approved)
	assert.Contains(t, strings.Join(verdict.Errors, "\n"), "impossible roll")
}

func TestValidate_Mechanics(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(out *domain.TurnOutput)
		wantErr  string
		wantWarn string
	}{
		{
			name: "d20 out of range",
			mutate: func(out *domain.TurnOutput) {
				out.ActionLog = []domain.ActionLogEntry{{Type: domain.LogCheck, Ability: domain.AbilityDexterity, Roll: 21, Modifier: 0, Total: 21, DC: 15}}
			},
			wantErr: "out of range",
		},
		{
			name: "total mismatch",
			mutate: func(out *domain.TurnOutput) {
				out.ActionLog = []domain.ActionLogEntry{{Type: domain.LogCheck, Ability: domain.AbilityDexterity, Roll: 10, Modifier: 2, Total: 14, DC: 15}}
			},
			wantErr: "does not equal",
		},
		{
			name: "unusual DC",
			mutate: func(out *domain.TurnOutput) {
				out.ActionLog = []domain.ActionLogEntry{{Type: domain.LogCheck, Ability: domain.AbilityDexterity, Roll: 10, Modifier: 2, Total: 12, DC: 35}}
			},
			wantWarn: "unusual DC",
		},
		{
			name: "damage on miss",
			mutate: func(out *domain.TurnOutput) {
				out.ActionLog = []domain.ActionLogEntry{{
					Type: domain.LogAttack, Roll: 3, Modifier: 3, Total: 6, Hit: false,
					Damage: &domain.DamageRoll{Rolls: []int{4}, Modifier: 3, Total: 7},
				}}
			},
			wantErr: "damage recorded for a miss",
		},
		{
			name: "negative damage",
			mutate: func(out *domain.TurnOutput) {
				out.ActionLog = []domain.ActionLogEntry{{
					Type: domain.LogAttack, Roll: 15, Modifier: 3, Total: 18, Hit: true,
					Damage: &domain.DamageRoll{Rolls: []int{1}, Modifier: -3, Total: -2},
				}}
			},
			wantErr: "negative damage",
		},
		{
			name:    "time backwards",
			mutate:  func(out *domain.TurnOutput) { out.StateUpdates.TimeAdvance = -2 },
			wantErr: "backwards",
		},
		{
			name:     "large time advance",
			mutate:   func(out *domain.TurnOutput) { out.StateUpdates.TimeAdvance = 48 },
			wantWarn: "large time advance",
		},
		{
			name: "long flag key",
			mutate: func(out *domain.TurnOutput) {
				out.StateUpdates.Flags = map[string]bool{strings.Repeat("k", 51): true}
			},
			wantWarn: "flag key too long",
		},
		{
			name: "gold below zero",
			mutate: func(out *domain.TurnOutput) {
				out.StateUpdates.Inventory = &domain.InventoryDelta{Gold: -51}
			},
			wantErr: "gold would drop below zero",
		},
		{
			name: "resource below zero",
			mutate: func(out *domain.TurnOutput) {
				out.StateUpdates.Inventory = &domain.InventoryDelta{Resources: map[string]int{"second_wind": -2}}
			},
			wantErr: "second_wind",
		},
	}

	v := newValidator()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := cleanOutput()
			tc.mutate(&out)

			verdict := v.Validate(out, validationContext())

			if tc.wantErr != "" {
				assert.False(t, verdict.Approved)
				assert.Contains(t, strings.Join(verdict.Errors, "\n"), tc.wantErr)
			} else {
				assert.True(t, verdict.Approved, "errors: %v", verdict.Errors)
			}
			if tc.wantWarn != "" {
				assert.Contains(t, strings.Join(verdict.Warnings, "\n"), tc.wantWarn)
			}
		})
	}
}

func TestValidate_Choices(t *testing.T) {
	v := newValidator()

	out := cleanOutput()
	out.Choices = []string{"Go north"}
	verdict := v.Validate(out, validationContext())
	assert.True(t, verdict.Approved)
	assert.Contains(t, strings.Join(verdict.Warnings, "\n"), "choice count")

	out.Choices = []string{"Go north", "go north ", "Hi", strings.Repeat("a", 101)}
	verdict = v.Validate(out, validationContext())
	assert.True(t, verdict.Approved)
	warnings := strings.Join(verdict.Warnings, "\n")
	assert.Contains(t, warnings, "duplicate choice")
	assert.Contains(t, warnings, "too short")
	assert.Contains(t, warnings, "too long")
}

func TestValidate_UnsafeImagePromptIsWarning(t *testing.T) {
	out := cleanOutput()
	out.ImageRequest = &domain.ImageJobHandle{Prompt: "a gore soaked battlefield", Mode: domain.ImageModePreview}

	verdict := newValidator().Validate(out, validationContext())

	assert.True(t, verdict.Approved)
	assert.Contains(t, strings.Join(verdict.Warnings, "\n"), "gore")
}
