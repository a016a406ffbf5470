package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"fiction-server/internal/domain"
	"fiction-server/pkg/ai"

	"go.uber.org/zap"
)

// SceneLookup ищет сцену по идентификатору.
type SceneLookup func(id string) (domain.Scene, bool)

// Reducer собирает итог хода из результатов инструментов.
type Reducer struct {
	generator   NarrationGenerator
	content     ContentStore
	scenes      SceneLookup
	choiceCount int
	maxWords    int
	timeout     time.Duration
	logger      *zap.Logger
}

// NewReducer создаёт сборщик итога. generator и content могут быть nil.
func NewReducer(generator NarrationGenerator, content ContentStore, scenes SceneLookup, cfg Config, logger *zap.Logger) *Reducer {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if scenes == nil {
		scenes = func(string) (domain.Scene, bool) { return domain.Scene{}, false }
	}
	return &Reducer{
		generator:   generator,
		content:     content,
		scenes:      scenes,
		choiceCount: cfg.ChoiceCount,
		maxWords:    cfg.MaxWords,
		timeout:     cfg.NarrationTimeout,
		logger:      logger.Named("Reducer"),
	}
}

// Reduce строит TurnOutput. Ошибка генератора не является ошибкой хода:
// вместо неё используется шаблонное повествование.
func (r *Reducer) Reduce(ctx context.Context, tc *domain.TurnContext) (domain.TurnOutput, error) {
	if err := ctx.Err(); err != nil {
		return domain.TurnOutput{}, err
	}
	out := domain.TurnOutput{
		ActionLog:    BuildActionLog(tc),
		StateUpdates: BuildStateUpdates(tc),
	}

	next := tc.Scene
	if tc.Plan.Destination != "" {
		if dest, ok := r.scenes(tc.Plan.Destination); ok {
			next = dest
		}
	}
	out.Choices = BuildChoices(next, tc.ToolResults, r.choiceCount)
	out.Narration = r.narrate(ctx, tc, next)

	for _, res := range tc.ToolResults {
		if res.Kind == domain.ResultImageJob && res.Image != nil {
			handle := *res.Image
			out.ImageRequest = &handle
			break
		}
	}
	return out, nil
}

func (r *Reducer) narrate(ctx context.Context, tc *domain.TurnContext, next domain.Scene) string {
	if tc.Plan.Moderated {
		return moderatedNarration
	}
	if r.generator == nil {
		return TemplateNarration(tc, next)
	}

	req := domain.NarrationRequest{
		Scene:        tc.Scene,
		Character:    tc.Character,
		PlayerAction: tc.PlayerInput,
		ToolResults:  tc.ToolResults,
		AgeRating:    tc.Session.Settings.AgeRating,
		MaxWords:     r.maxWords,
		Feedback:     tc.Feedback,
	}
	if r.content != nil {
		req.Lore = r.content.LoreFor(tc.Scene)
	}

	genCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	text, err := r.generator.Generate(genCtx, req)
	if err == nil {
		text = strings.TrimSpace(text)
	}
	if err != nil || text == "" {
		narrationFallbacks.Inc()
		r.logger.Warn("Narration generator failed, using template",
			zap.String("sessionID", tc.Session.ID),
			zap.Int("revision", tc.Revisions),
			zap.Error(err),
		)
		return TemplateNarration(tc, next)
	}
	return text
}

// BuildActionLog переводит результаты инструментов в журнал действий.
func BuildActionLog(tc *domain.TurnContext) []domain.ActionLogEntry {
	log := make([]domain.ActionLogEntry, 0, len(tc.ToolResults))
	for _, res := range tc.ToolResults {
		entry := domain.ActionLogEntry{Message: ai.DescribeToolResult(res)}
		switch res.Kind {
		case domain.ResultCheck:
			c := res.Check
			entry.Type = domain.LogCheck
			entry.Ability = c.Ability
			entry.Skill = c.Skill
			entry.Proficient = c.Proficient
			entry.Roll = c.Natural()
			entry.Rolls = c.Rolls
			entry.Modifier = c.Modifier
			entry.Total = c.Total
			entry.DC = c.DC
			entry.Outcome = c.Outcome
		case domain.ResultCombat:
			c := res.Combat
			entry.Roll = c.ToHit.Natural()
			entry.Rolls = c.ToHit.Rolls
			entry.Modifier = c.ToHit.Modifier
			entry.Total = c.ToHit.Total
			entry.DC = c.TargetAC
			entry.Hit = c.Hit
			entry.Damage = c.Damage
			entry.StatusEffects = c.StatusEffects
			if c.Kind == domain.CombatSaveEffect {
				entry.Type = domain.LogSave
				entry.Target = tc.Character.Name
				entry.Outcome = domain.OutcomeFail
				if c.HasStatus(domain.StatusSaved) {
					entry.Outcome = domain.OutcomeSuccess
				}
				if step, ok := planStep(tc.Plan, res.Step); ok && step.SaveEffect != nil {
					entry.Ability = step.SaveEffect.Ability
					entry.Proficient = tc.Character.HasSaveProficiency(step.SaveEffect.Ability)
				}
			} else {
				entry.Type = domain.LogAttack
				entry.Target = npcName(tc.Scene, c.TargetID)
			}
		case domain.ResultInventory:
			entry.Type = domain.LogInventory
			entry.GoldDelta = res.Inventory.Delta.Gold
			entry.ResourceDeltas = res.Inventory.Delta.Resources
		case domain.ResultWorldUpdate:
			entry.Type = domain.LogWorld
		case domain.ResultImageJob:
			entry.Type = domain.LogImage
			entry.Message = "Scene illustration requested"
		case domain.ResultError:
			entry.Type = domain.LogError
		default:
			continue
		}
		log = append(log, entry)
	}
	return log
}

// BuildStateUpdates сводит подготовленные изменения мира, инвентаря и здоровья.
func BuildStateUpdates(tc *domain.TurnContext) domain.StateUpdates {
	var su domain.StateUpdates
	var inv domain.InventoryDelta
	for _, res := range tc.ToolResults {
		switch res.Kind {
		case domain.ResultWorldUpdate:
			u := res.World.Update
			if len(u.Flags) > 0 {
				if su.Flags == nil {
					su.Flags = map[string]bool{}
				}
				maps.Copy(su.Flags, u.Flags)
			}
			if len(u.GlobalFlags) > 0 {
				if su.GlobalFlags == nil {
					su.GlobalFlags = map[string]bool{}
				}
				maps.Copy(su.GlobalFlags, u.GlobalFlags)
			}
			su.TimeAdvance += u.TimeAdvance
			if u.Weather != "" {
				su.Weather = u.Weather
			}
			if u.Quest != nil {
				q := *u.Quest
				su.Quest = &q
			}
		case domain.ResultInventory:
			d := res.Inventory.Delta
			inv.Gold += d.Gold
			inv.ItemsAdd = append(inv.ItemsAdd, d.ItemsAdd...)
			inv.ItemsRemove = append(inv.ItemsRemove, d.ItemsRemove...)
			for k, v := range d.Resources {
				if inv.Resources == nil {
					inv.Resources = map[string]int{}
				}
				inv.Resources[k] += v
			}
		}
	}
	if !inv.IsZero() {
		su.Inventory = &inv
	}
	if before := tc.Session.Character; before != nil && tc.Character != nil && before.HP != tc.Character.HP {
		hp := tc.Character.HP
		su.HP = &hp
	}
	su.SceneID = tc.Plan.Destination
	return su
}

var baseChoices = []string{
	"Examine your surroundings carefully",
	"Move forward cautiously",
	"Look for alternative paths",
}

// BuildChoices предлагает действия по сцене: бой, разговор, выходы, общие варианты.
func BuildChoices(scene domain.Scene, results []domain.ToolResult, limit int) []string {
	gone := map[string]bool{}
	for _, res := range results {
		if res.Kind == domain.ResultWorldUpdate && res.World != nil {
			for _, id := range res.World.Update.Defeated {
				gone[id] = true
			}
		}
	}

	var choices []string
	talked := false
	for _, npc := range scene.NPCs {
		if gone[npc.ID] {
			continue
		}
		if npc.Hostile() {
			choices = append(choices, "Attack "+npc.Name)
		} else if !talked {
			choices = append(choices, "Talk to "+npc.Name)
			talked = true
		}
	}
	for _, exit := range scene.Exits {
		choices = append(choices, "Go "+exit.Direction)
	}
	choices = append(choices, baseChoices...)

	seen := map[string]bool{}
	out := make([]string, 0, limit)
	for _, c := range choices {
		key := strings.ToLower(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}

const moderatedNarration = "The world seems to hold its breath, waiting for a different course of action. Perhaps another approach would serve you better here."

var skillSuccess = map[string]string{
	"stealth":       "You move silently through the shadows, undetected.",
	"lockpick":      "The lock clicks open with a satisfying sound.",
	"athletics":     "You scale the obstacle with ease.",
	"persuasion":    "Your words carry weight and conviction.",
	"deception":     "Your story holds together, and no one questions it.",
	"intimidation":  "Your threat lands, and resistance wavers.",
	"investigation": "Careful searching reveals details others would miss.",
	"perception":    "Your senses sharpen and you catch what others overlook.",
}

var skillFailure = map[string]string{
	"stealth":       "A twig snaps under your foot, alerting nearby threats.",
	"lockpick":      "The pick breaks in the lock with a metallic snap.",
	"athletics":     "Your grip slips and you slide back down.",
	"persuasion":    "Your words fall on deaf ears.",
	"deception":     "Suspicion flickers across their faces.",
	"intimidation":  "Your threat is met with a steady, unimpressed stare.",
	"investigation": "You search thoroughly but find nothing of note.",
	"perception":    "Nothing unusual stands out to you.",
}

var moods = []string{"tense", "mysterious", "peaceful", "ominous", "hopeful"}

// TemplateNarration детерминированный текст хода без генератора.
func TemplateNarration(tc *domain.TurnContext, next domain.Scene) string {
	var parts []string
	plan := tc.Plan

	if c, ok := domain.FirstCheck(tc.ToolResults); ok {
		line, found := skillFailure[c.Skill]
		if c.Succeeded() {
			line, found = skillSuccess[c.Skill]
		}
		if !found {
			line = "Despite your best efforts, you don't quite succeed."
			if c.Succeeded() {
				line = "Your attempt succeeds admirably."
			}
		}
		parts = append(parts, line)
	}

	for _, res := range tc.ToolResults {
		switch {
		case res.Kind == domain.ResultCombat && res.Combat.Kind == domain.CombatAttack:
			parts = append(parts, attackLine(tc.Scene, *res.Combat))
		case res.Kind == domain.ResultCombat:
			if res.Combat.HasStatus(domain.StatusSaved) {
				parts = append(parts, "You twist aside as the counterattack comes.")
			} else {
				parts = append(parts, "The counterattack catches you before you can react.")
			}
		case res.Kind == domain.ResultInventory && plan.Action == domain.ActionConsume:
			parts = append(parts, "You drink the potion and warmth spreads through your body.")
		case res.Kind == domain.ResultInventory && len(res.Inventory.Added) > 0:
			parts = append(parts, fmt.Sprintf("You pick up the %s.", strings.Join(res.Inventory.Added, ", ")))
		case res.Kind == domain.ResultWorldUpdate && res.World != nil && res.World.Update.Quest != nil:
			q := res.World.Update.Quest
			parts = append(parts, fmt.Sprintf("%s leans closer: \"I do have something you could help with. %s\"", npcName(tc.Scene, q.Giver), q.Note))
		case res.Kind == domain.ResultError:
			parts = append(parts, "Something does not go as planned.")
		}
	}

	switch {
	case plan.Action == domain.ActionMove && next.ID != tc.Scene.ID:
		parts = append(parts, fmt.Sprintf("You leave %s behind and arrive at %s. %s", titleOf(tc.Scene), titleOf(next), next.Synopsis))
	case plan.Action == domain.ActionRest:
		hours := 0
		if len(plan.Steps) > 0 && plan.Steps[0].World != nil {
			hours = plan.Steps[0].World.TimeAdvance
		}
		parts = append(parts, fmt.Sprintf("You rest for %d %s, gathering your strength.", hours, plural(hours, "hour")))
	case strings.HasPrefix(plan.Note, "no exit"):
		parts = append(parts, "There is no way to go "+strings.TrimPrefix(plan.Note, "no exit ")+" from here.")
	case plan.Note == noteTooWeak:
		parts = append(parts, "You try to raise your weapon, but your wounds leave you barely able to stand.")
	case plan.Note == "no hostile target in scene":
		parts = append(parts, "There is nothing here that calls for violence.")
	case plan.Note == "no healing potion":
		parts = append(parts, "You reach for a potion, but your pack holds none.")
	}

	mood := moods[uint64(tc.TurnSeed)%uint64(len(moods))]
	parts = append(parts, fmt.Sprintf("Around you, %s feels %s.", titleOf(next), mood))
	return strings.Join(parts, " ")
}

func attackLine(scene domain.Scene, c domain.CombatResult) string {
	name := npcName(scene, c.TargetID)
	if !c.Hit {
		return fmt.Sprintf("Your strike misses %s.", name)
	}
	line := fmt.Sprintf("Your blow lands on %s", name)
	if c.HasStatus(domain.StatusCritical) {
		line = fmt.Sprintf("A perfect strike finds a gap in the defenses of %s", name)
	}
	if c.HasStatus(domain.StatusDefeated) {
		return line + ", and your foe falls."
	}
	return line + "."
}

func npcName(scene domain.Scene, id string) string {
	for _, npc := range scene.NPCs {
		if npc.ID == id {
			return npc.Name
		}
	}
	return id
}

func titleOf(scene domain.Scene) string {
	if scene.Title == "" {
		return "an unfamiliar place"
	}
	return scene.Title
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func planStep(plan *domain.Plan, i int) (domain.Step, bool) {
	if plan == nil || i < 0 || i >= len(plan.Steps) {
		return domain.Step{}, false
	}
	return plan.Steps[i], true
}

func uniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
