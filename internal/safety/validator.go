package safety

import (
	"fmt"
	"strings"

	"fiction-server/internal/domain"
	"fiction-server/internal/rules"
)

// Config пороги валидатора.
type Config struct {
	AgeRating         domain.AgeRating
	MaxNarrationWords int
	MinNarrationWords int
	MinChoices        int
	MaxChoices        int
	MinChoiceLength   int
	MaxChoiceLength   int
	MaxTimeAdvance    int
	MaxFlagKeyLength  int
	MinDC             int
	MaxDC             int
}

// DefaultConfig пороги по умолчанию.
func DefaultConfig() Config {
	return Config{
		AgeRating:         domain.RatingTeen,
		MaxNarrationWords: 500,
		MinNarrationWords: 10,
		MinChoices:        2,
		MaxChoices:        6,
		MinChoiceLength:   3,
		MaxChoiceLength:   100,
		MaxTimeAdvance:    24,
		MaxFlagKeyLength:  50,
		MinDC:             5,
		MaxDC:             30,
	}
}

// ValidationContext данные, против которых проверяется итог хода.
type ValidationContext struct {
	Scene     domain.Scene
	Character *domain.Character // Состояние персонажа до хода
	AgeRating domain.AgeRating
	Lore      []domain.LoreEntry
}

// Validator проверяет итог хода. Не хранит состояния между вызовами.
type Validator struct {
	cfg        Config
	classifier *Classifier
}

// NewValidator создаёт валидатор. nil classifier означает стандартные списки.
func NewValidator(cfg Config, classifier *Classifier) *Validator {
	def := DefaultConfig()
	if cfg.AgeRating == "" {
		cfg.AgeRating = def.AgeRating
	}
	if cfg.MaxNarrationWords <= 0 {
		cfg.MaxNarrationWords = def.MaxNarrationWords
	}
	if cfg.MinNarrationWords <= 0 {
		cfg.MinNarrationWords = def.MinNarrationWords
	}
	if cfg.MinChoices <= 0 {
		cfg.MinChoices = def.MinChoices
	}
	if cfg.MaxChoices <= 0 {
		cfg.MaxChoices = def.MaxChoices
	}
	if cfg.MinChoiceLength <= 0 {
		cfg.MinChoiceLength = def.MinChoiceLength
	}
	if cfg.MaxChoiceLength <= 0 {
		cfg.MaxChoiceLength = def.MaxChoiceLength
	}
	if cfg.MaxTimeAdvance <= 0 {
		cfg.MaxTimeAdvance = def.MaxTimeAdvance
	}
	if cfg.MaxFlagKeyLength <= 0 {
		cfg.MaxFlagKeyLength = def.MaxFlagKeyLength
	}
	if cfg.MinDC <= 0 {
		cfg.MinDC = def.MinDC
	}
	if cfg.MaxDC <= 0 {
		cfg.MaxDC = def.MaxDC
	}
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	return &Validator{cfg: cfg, classifier: classifier}
}

// Classifier возвращает классификатор валидатора.
func (v *Validator) Classifier() *Classifier {
	return v.classifier
}

// Validate прогоняет все проверки. Approved == (len(Errors) == 0).
func (v *Validator) Validate(out domain.TurnOutput, vctx ValidationContext) domain.Verdict {
	verdict := domain.NewVerdict()
	rating := vctx.AgeRating
	if rating == "" {
		rating = v.cfg.AgeRating
	}

	v.checkContent(&verdict, out, rating)
	v.checkLength(&verdict, out.Narration)
	v.checkCanon(&verdict, out, vctx)
	v.checkMechanics(&verdict, out, vctx.Character)
	v.checkChoices(&verdict, out.Choices)

	verdict.Approved = len(verdict.Errors) == 0
	return verdict
}

func (v *Validator) checkContent(verdict *domain.Verdict, out domain.TurnOutput, rating domain.AgeRating) {
	for _, m := range v.classifier.Check(out.Narration, rating) {
		verdict.AddError(fmt.Sprintf("content policy violation (%s): %q", m.Category, m.Term))
	}
	for _, choice := range out.Choices {
		for _, m := range v.classifier.Check(choice, rating) {
			verdict.AddError(fmt.Sprintf("content policy violation in choice (%s): %q", m.Category, m.Term))
		}
	}
	if out.ImageRequest != nil {
		if safe, warnings, _ := ValidateImagePrompt(out.ImageRequest.Prompt); !safe {
			for _, w := range warnings {
				verdict.AddWarning(w)
			}
		}
	}
}

func (v *Validator) checkLength(verdict *domain.Verdict, narration string) {
	words := domain.WordCount(narration)
	if words > v.cfg.MaxNarrationWords {
		verdict.AddError(fmt.Sprintf("narration too long: %d words (max %d)", words, v.cfg.MaxNarrationWords))
	}
	if words < v.cfg.MinNarrationWords {
		verdict.AddWarning(fmt.Sprintf("narration very short: %d words (min %d)", words, v.cfg.MinNarrationWords))
	}
}

func (v *Validator) checkCanon(verdict *domain.Verdict, out domain.TurnOutput, vctx ValidationContext) {
	narration := strings.ToLower(out.Narration)
	for _, fact := range vctx.Scene.CanonicalFacts {
		for _, phrase := range fact.Contradictions {
			if phrase != "" && strings.Contains(narration, strings.ToLower(phrase)) {
				verdict.AddError(fmt.Sprintf("narration contradicts canonical fact %q", fact.Fact))
			}
		}
	}
	for _, entry := range vctx.Lore {
		for _, phrase := range entry.Contradictions {
			if phrase != "" && strings.Contains(narration, strings.ToLower(phrase)) {
				verdict.AddWarning(fmt.Sprintf("possible lore conflict with %s %q", entry.Kind, entry.Name))
			}
		}
	}

	c := vctx.Character
	if c == nil {
		return
	}
	for _, entry := range out.ActionLog {
		if entry.Type != domain.LogCheck && entry.Type != domain.LogSave {
			continue
		}
		maxTotal, err := rules.MaxPossibleTotal(c.Abilities, entry.Ability, entry.Proficient, c.ProficiencyBonus())
		if err != nil {
			verdict.AddError(fmt.Sprintf("check uses unknown ability %q", entry.Ability))
			continue
		}
		if entry.Total > maxTotal {
			verdict.AddError(fmt.Sprintf("impossible roll: total %d exceeds maximum %d for %s", entry.Total, maxTotal, entry.Ability))
		}
	}
}

func (v *Validator) checkMechanics(verdict *domain.Verdict, out domain.TurnOutput, c *domain.Character) {
	for i, entry := range out.ActionLog {
		switch entry.Type {
		case domain.LogCheck, domain.LogSave:
			v.checkD20(verdict, i, entry)
			if entry.DC < v.cfg.MinDC || entry.DC > v.cfg.MaxDC {
				verdict.AddWarning(fmt.Sprintf("action %d: unusual DC %d", i, entry.DC))
			}
		case domain.LogAttack:
			v.checkD20(verdict, i, entry)
			if entry.Damage != nil {
				if !entry.Hit {
					verdict.AddError(fmt.Sprintf("action %d: damage recorded for a miss", i))
				}
				if entry.Damage.Total < 0 {
					verdict.AddError(fmt.Sprintf("action %d: negative damage %d", i, entry.Damage.Total))
				}
			}
		}
	}

	updates := out.StateUpdates
	if updates.TimeAdvance < 0 {
		verdict.AddError(fmt.Sprintf("time cannot move backwards (%d hours)", updates.TimeAdvance))
	} else if updates.TimeAdvance > v.cfg.MaxTimeAdvance {
		verdict.AddWarning(fmt.Sprintf("large time advance: %d hours", updates.TimeAdvance))
	}
	for key := range updates.Flags {
		if len(key) > v.cfg.MaxFlagKeyLength {
			verdict.AddWarning(fmt.Sprintf("flag key too long: %.20s...", key))
		}
	}

	if c == nil || updates.Inventory == nil {
		return
	}
	delta := updates.Inventory
	if c.Inventory.Gold+delta.Gold < 0 {
		verdict.AddError(fmt.Sprintf("gold would drop below zero (%d%+d)", c.Inventory.Gold, delta.Gold))
	}
	for name, d := range delta.Resources {
		if c.Resources[name]+d < 0 {
			verdict.AddError(fmt.Sprintf("resource %q would drop below zero (%d%+d)", name, c.Resources[name], d))
		}
	}
}

func (v *Validator) checkD20(verdict *domain.Verdict, i int, entry domain.ActionLogEntry) {
	if entry.Roll < 1 || entry.Roll > 20 {
		verdict.AddError(fmt.Sprintf("action %d: d20 roll %d out of range", i, entry.Roll))
	}
	if entry.Total != entry.Roll+entry.Modifier {
		verdict.AddError(fmt.Sprintf("action %d: total %d does not equal roll %d + modifier %d", i, entry.Total, entry.Roll, entry.Modifier))
	}
}

func (v *Validator) checkChoices(verdict *domain.Verdict, choices []string) {
	if len(choices) < v.cfg.MinChoices || len(choices) > v.cfg.MaxChoices {
		verdict.AddWarning(fmt.Sprintf("choice count %d outside %d-%d", len(choices), v.cfg.MinChoices, v.cfg.MaxChoices))
	}
	seen := make(map[string]bool, len(choices))
	for _, choice := range choices {
		key := strings.ToLower(strings.TrimSpace(choice))
		if seen[key] {
			verdict.AddWarning(fmt.Sprintf("duplicate choice %q", choice))
		}
		seen[key] = true
		if n := len([]rune(choice)); n > v.cfg.MaxChoiceLength {
			verdict.AddWarning(fmt.Sprintf("choice too long: %d characters", n))
		} else if n < v.cfg.MinChoiceLength {
			verdict.AddWarning(fmt.Sprintf("choice too short: %q", choice))
		}
	}
}
