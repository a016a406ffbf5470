package service

import (
	"fmt"
	"regexp"
	"strings"

	"fiction-server/internal/domain"
	"fiction-server/internal/inventory"
	"fiction-server/internal/rules"
	"fiction-server/internal/safety"
)

type skillPattern struct {
	skill   string
	pattern *regexp.Regexp
}

// Порядок важен: срабатывает первый подходящий навык.
var skillPatterns = []skillPattern{
	{"stealth", regexp.MustCompile(`(?i)\b(?:sneak|hide|stealth)\b`)},
	{"lockpick", regexp.MustCompile(`(?i)(?:\bpick\b.*\blocks?\b|\block-?pick|\bunlock\b)`)},
	{"athletics", regexp.MustCompile(`(?i)\b(?:climb|scale|jump|swim)\b`)},
	{"persuasion", regexp.MustCompile(`(?i)\b(?:persuade|convince|talk|ask)\b`)},
	{"deception", regexp.MustCompile(`(?i)\b(?:lie|deceive|bluff)\b`)},
	{"intimidation", regexp.MustCompile(`(?i)\b(?:intimidate|threaten)\b`)},
	{"investigation", regexp.MustCompile(`(?i)\b(?:search|investigate|examine)\b`)},
	{"perception", regexp.MustCompile(`(?i)\b(?:look|listen|perceive|notice)\b`)},
}

var (
	attackPattern  = regexp.MustCompile(`(?i)\b(?:attack|fight|strike|hit|shoot|stab)\b`)
	movePattern    = regexp.MustCompile(`(?i)\b(?:go|walk|head|travel|move|run|climb)\s+(?:to\s+the\s+)?(north|south|east|west|up|down)\b`)
	takePattern    = regexp.MustCompile(`(?i)\b(?:take|grab|pick up|get)\b`)
	potionPattern  = regexp.MustCompile(`(?i)\b(?:drink|quaff|use)\b.*\bpotion\b`)
	restPattern    = regexp.MustCompile(`(?i)\b(?:rest|sleep|camp)\b`)
	longRestMarker = regexp.MustCompile(`(?i)\b(?:sleep|camp|long rest)\b`)
	questPattern   = regexp.MustCompile(`(?i)\b(?:help|tasks?|quests?|jobs?|work)\b`)
)

// Параметры, не зависящие от ввода.
const (
	retaliationDC   = rules.DCRoutine
	healingPotion   = "healing potion"
	shortRestHours  = 1
	longRestHours   = 8
	travelHours     = 1
	imageStyleLines = "[Style: painterly noir, muted palette] [Framing: medium wide, cinematic] [Do not include text]"
)

const noteTooWeak = "too weak to fight"

// PlanInput данные для планирования хода.
type PlanInput struct {
	Input     string
	Scene     domain.Scene
	Character *domain.Character
	Settings  domain.Settings
	Seed      int64
	Revision  int
}

// Planner разбирает ввод игрока в план вызовов инструментов.
type Planner struct {
	classifier    *safety.Classifier
	imagesEnabled bool
}

// NewPlanner создаёт планировщик. nil classifier означает стандартные списки.
func NewPlanner(classifier *safety.Classifier, imagesEnabled bool) *Planner {
	if classifier == nil {
		classifier = safety.NewClassifier(nil)
	}
	return &Planner{classifier: classifier, imagesEnabled: imagesEnabled}
}

// Plan строит план. Seed шага i равен Seed + i*StepSeedStride.
func (p *Planner) Plan(in PlanInput) domain.Plan {
	plan := domain.Plan{
		Seed:     in.Seed,
		Revision: in.Revision,
		Action:   domain.ActionNarrative,
		Steps:    []domain.Step{},
	}

	mod := p.classifier.ModeratePlayerInput(in.Input, in.Settings.AgeRating)
	if !mod.Allowed {
		plan.Moderated = true
		plan.Note = mod.Reason
		return plan
	}
	input := mod.Input
	lower := strings.ToLower(input)

	switch {
	case attackPattern.MatchString(input):
		p.planAttack(&plan, in)
	case movePattern.MatchString(input):
		p.planMove(&plan, in, strings.ToLower(movePattern.FindStringSubmatch(input)[1]))
	case potionPattern.MatchString(input):
		p.planPotion(&plan, in)
	case takePattern.MatchString(input) && p.planTake(&plan, in, lower):
	case restPattern.MatchString(input):
		hours := shortRestHours
		if longRestMarker.MatchString(input) {
			hours = longRestHours
		}
		plan.Action = domain.ActionRest
		p.addStep(&plan, domain.Step{Tool: domain.ToolWorldUpdate, World: &domain.SceneUpdate{
			SceneID:     in.Scene.ID,
			TimeAdvance: hours,
		}})
	default:
		p.planSkill(&plan, in, lower)
		if questPattern.MatchString(input) {
			p.planQuestOffer(&plan, in)
		}
	}

	if p.imagesEnabled && in.Settings.ImagesEnabled {
		mode := in.Settings.ImageQuality
		if mode == "" {
			mode = domain.ImageModePreview
		}
		p.addStep(&plan, domain.Step{Tool: domain.ToolImageRequest, Image: &domain.ImageArgs{
			SceneID: in.Scene.ID,
			Prompt:  ImagePrompt(in.Scene),
			Mode:    mode,
		}})
	}
	return plan
}

func (p *Planner) addStep(plan *domain.Plan, step domain.Step) {
	step.Seed = plan.Seed + int64(len(plan.Steps))*StepSeedStride
	plan.Steps = append(plan.Steps, step)
}

func (p *Planner) planAttack(plan *domain.Plan, in PlanInput) {
	if !in.Character.IsAlive() {
		plan.Note = noteTooWeak
		return
	}
	target, ok := in.Scene.FirstHostile()
	if !ok {
		plan.Note = "no hostile target in scene"
		return
	}
	plan.Action = domain.ActionCombat
	p.addStep(plan, domain.Step{Tool: domain.ToolCombatAttack, Attack: &domain.AttackArgs{
		TargetID:   target.ID,
		TargetName: target.Name,
		TargetAC:   target.AC,
		TargetHP:   target.HP,
		Weapon:     in.Character.Weapon,
	}})
	if target.Weapon == nil {
		return
	}
	// Ответный удар: персонаж уворачивается спасброском ловкости.
	p.addStep(plan, domain.Step{Tool: domain.ToolCombatSave, SaveEffect: &domain.SaveEffectArgs{
		Source:     target.ID,
		Ability:    domain.AbilityDexterity,
		DC:         retaliationDC,
		DamageSpec: target.Weapon.DamageSpec,
		DamageType: target.Weapon.DamageType,
	}})
}

// planQuestOffer добавляет предложение задания от NPC сцены. Повторно
// задание не предлагается: флаг остаётся на сцене.
func (p *Planner) planQuestOffer(plan *domain.Plan, in PlanInput) {
	npc, ok := in.Scene.QuestGiver()
	if !ok {
		return
	}
	if plan.Action == domain.ActionNarrative {
		plan.Action = domain.ActionDialogue
	}
	quest := npc.Quests[0]
	p.addStep(plan, domain.Step{Tool: domain.ToolWorldUpdate, World: &domain.SceneUpdate{
		SceneID: in.Scene.ID,
		Flags:   map[string]bool{domain.QuestOfferedFlag(npc.ID): true},
		Quest: &domain.QuestUpdate{
			QuestID: quest.ID,
			Status:  "active",
			Giver:   npc.ID,
			Note:    quest.Description,
		},
	}})
}

func (p *Planner) planMove(plan *domain.Plan, in PlanInput, direction string) {
	for _, exit := range in.Scene.Exits {
		if !strings.EqualFold(exit.Direction, direction) {
			continue
		}
		plan.Action = domain.ActionMove
		plan.Destination = exit.SceneID
		p.addStep(plan, domain.Step{Tool: domain.ToolWorldUpdate, World: &domain.SceneUpdate{
			SceneID:     in.Scene.ID,
			Flags:       map[string]bool{"exit_" + direction: true},
			TimeAdvance: travelHours,
		}})
		return
	}
	plan.Note = fmt.Sprintf("no exit %s", direction)
}

func (p *Planner) planPotion(plan *domain.Plan, in PlanInput) {
	if inventory.Quantity(in.Character.Inventory, healingPotion) == 0 {
		plan.Note = "no healing potion"
		return
	}
	plan.Action = domain.ActionConsume
	p.addStep(plan, domain.Step{Tool: domain.ToolInventoryUpdate, Inventory: &domain.InventoryDelta{
		ItemsRemove: []string{healingPotion},
	}})
}

// planTake сообщает false, если в сцене нет упомянутого предмета.
func (p *Planner) planTake(plan *domain.Plan, in PlanInput, lower string) bool {
	for _, item := range in.Scene.Items {
		name := strings.ReplaceAll(item, "_", " ")
		if !strings.Contains(lower, strings.ToLower(name)) {
			continue
		}
		plan.Action = domain.ActionTake
		p.addStep(plan, domain.Step{Tool: domain.ToolInventoryUpdate, Inventory: &domain.InventoryDelta{
			ItemsAdd: []string{name},
		}})
		p.addStep(plan, domain.Step{Tool: domain.ToolWorldUpdate, World: &domain.SceneUpdate{
			SceneID:     in.Scene.ID,
			RemoveItems: []string{item},
		}})
		return true
	}
	return false
}

func (p *Planner) planSkill(plan *domain.Plan, in PlanInput, lower string) {
	for _, sp := range skillPatterns {
		if !sp.pattern.MatchString(lower) {
			continue
		}
		ability, _ := rules.SkillAbility(sp.skill)
		plan.Action = domain.ActionSkillCheck
		plan.Skill = sp.skill
		p.addStep(plan, domain.Step{Tool: domain.ToolRulesCheck, Check: &domain.CheckArgs{
			Ability:    ability,
			Skill:      sp.skill,
			Proficient: in.Character.IsProficient(sp.skill),
			DC:         DifficultyFor(lower),
			Context:    sp.skill,
		}})
		return
	}
}

// DifficultyFor выбирает DC по наречиям во вводе.
func DifficultyFor(lower string) int {
	switch {
	case strings.Contains(lower, "carefully") || strings.Contains(lower, "slowly"):
		return rules.DifficultyClass("Easy")
	case strings.Contains(lower, "quickly") || strings.Contains(lower, "rush"):
		return rules.DifficultyClass("Hard")
	default:
		return rules.DifficultyClass("Moderate")
	}
}

// ImagePrompt описание сцены для генератора изображений. Директивы в
// квадратных скобках генератор отбрасывает.
func ImagePrompt(scene domain.Scene) string {
	var b strings.Builder
	title := scene.Title
	if title == "" {
		title = "mysterious location"
	}
	b.WriteString("Adventurer in " + title)
	if len(scene.Tags) > 0 {
		b.WriteString(", " + strings.Join(scene.Tags, ", "))
	}
	for i, fact := range scene.CanonicalFacts {
		if i == 2 {
			break
		}
		b.WriteString(", " + fact.Fact)
	}
	b.WriteString("\n" + imageStyleLines)
	return b.String()
}
