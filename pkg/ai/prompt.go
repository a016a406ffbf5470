package ai

import (
	"fmt"
	"strings"

	"fiction-server/internal/domain"
)

const defaultMaxWords = 120

// Prompt готовый запрос к модели.
type Prompt struct {
	System  string
	User    string
	Tokens  int
	Dropped []string // Секции, не поместившиеся в бюджет
}

type promptSection struct {
	name     string
	lines    []string
	optional bool
}

// BuildNarrationPrompt собирает промпт рассказчика. Если пользовательская
// часть превышает maxTokens, необязательные секции отбрасываются начиная с конца.
func BuildNarrationPrompt(req domain.NarrationRequest, maxTokens int, counter TokenCounter) Prompt {
	if counter == nil {
		counter = WordTokenCounter
	}
	system := narratorSystemPrompt(req)
	sections := narrationSections(req)

	var dropped []string
	user := renderSections(sections)
	tokens := counter.Count(system) + counter.Count(user)
	for maxTokens > 0 && tokens > maxTokens {
		idx := lastOptional(sections)
		if idx < 0 {
			break
		}
		dropped = append(dropped, sections[idx].name)
		sections = append(sections[:idx], sections[idx+1:]...)
		user = renderSections(sections)
		tokens = counter.Count(system) + counter.Count(user)
	}

	return Prompt{System: system, User: user, Tokens: tokens, Dropped: dropped}
}

func narratorSystemPrompt(req domain.NarrationRequest) string {
	maxWords := req.MaxWords
	if maxWords <= 0 {
		maxWords = defaultMaxWords
	}
	rating := req.AgeRating
	if rating == "" {
		rating = domain.RatingTeen
	}
	var b strings.Builder
	b.WriteString("You are the Dungeon Master for an epic fantasy RPG. Generate a vivid, engaging narration based on the player's action and its results.\n")
	b.WriteString("\n## Guidelines:\n")
	b.WriteString("- Write in second person (\"you\")\n")
	fmt.Fprintf(&b, "- Keep narration under %d words\n", maxWords)
	b.WriteString("- Match the scene's mood and include sensory details\n")
	b.WriteString("- Show the consequences of the action exactly as the results describe them\n")
	b.WriteString("- Never contradict the established facts\n")
	fmt.Fprintf(&b, "- Content rating: %s, keep content appropriate\n", rating)
	b.WriteString("\nGenerate only the narration text. Do not include choices or questions.")
	return b.String()
}

func narrationSections(req domain.NarrationRequest) []promptSection {
	var sections []promptSection

	scene := promptSection{name: "scene", lines: []string{"## Current Scene: " + req.Scene.Title}}
	if req.Scene.Synopsis != "" {
		scene.lines = append(scene.lines, req.Scene.Synopsis)
	}
	sections = append(sections, scene)

	if req.Character != nil {
		sections = append(sections, promptSection{name: "character", lines: []string{
			"## Character: " + req.Character.Name,
			fmt.Sprintf("HP: %d/%d", req.Character.HP.Current, req.Character.HP.Max),
		}})
	}

	sections = append(sections, promptSection{name: "action", lines: []string{
		fmt.Sprintf("## Player Action: %q", req.PlayerAction),
	}})

	if len(req.ToolResults) > 0 {
		results := promptSection{name: "results", lines: []string{"## Action Results:"}}
		for _, r := range req.ToolResults {
			if line := DescribeToolResult(r); line != "" {
				results.lines = append(results.lines, "- "+line)
			}
		}
		sections = append(sections, results)
	}

	if len(req.Feedback) > 0 {
		feedback := promptSection{name: "feedback", lines: []string{"## The previous draft was rejected. Avoid these problems:"}}
		for _, f := range req.Feedback {
			feedback.lines = append(feedback.lines, "- "+f)
		}
		sections = append(sections, feedback)
	}

	if len(req.Scene.CanonicalFacts) > 0 {
		facts := promptSection{name: "facts", optional: true, lines: []string{"## Established Facts:"}}
		for _, f := range req.Scene.CanonicalFacts {
			facts.lines = append(facts.lines, "- "+f.Fact)
		}
		sections = append(sections, facts)
	}

	if len(req.Lore) > 0 {
		lore := promptSection{name: "lore", optional: true, lines: []string{"## Lore:"}}
		for _, e := range req.Lore {
			lore.lines = append(lore.lines, fmt.Sprintf("- %s: %s", e.Name, e.Description))
			for _, fact := range e.Facts {
				lore.lines = append(lore.lines, "  - "+fact)
			}
		}
		sections = append(sections, lore)
	}

	return sections
}

func renderSections(sections []promptSection) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, strings.Join(s.lines, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

func lastOptional(sections []promptSection) int {
	for i := len(sections) - 1; i >= 0; i-- {
		if sections[i].optional {
			return i
		}
	}
	return -1
}

// DescribeToolResult одна строка о результате шага для промпта и журналов.
func DescribeToolResult(r domain.ToolResult) string {
	switch r.Kind {
	case domain.ResultCheck:
		if r.Check == nil {
			return ""
		}
		c := r.Check
		name := string(c.Ability)
		if c.Skill != "" {
			name = c.Skill
		}
		outcome := "FAILURE"
		if c.Succeeded() {
			outcome = "SUCCESS"
		}
		return fmt.Sprintf("%s check %s: roll %d %+d = %d vs DC %d", name, outcome, c.Natural(), c.Modifier, c.Total, c.DC)
	case domain.ResultCombat:
		if r.Combat == nil {
			return ""
		}
		c := r.Combat
		if c.Kind == domain.CombatSaveEffect {
			if c.HasStatus(domain.StatusSaved) {
				return fmt.Sprintf("Saving throw succeeded (%d vs DC %d)%s", c.ToHit.Total, c.TargetAC, damageSuffix(c.Damage))
			}
			return fmt.Sprintf("Saving throw failed (%d vs DC %d)%s", c.ToHit.Total, c.TargetAC, damageSuffix(c.Damage))
		}
		if !c.Hit {
			return fmt.Sprintf("Attack on %s MISSED (%d vs AC %d)", c.TargetID, c.ToHit.Total, c.TargetAC)
		}
		line := fmt.Sprintf("Attack on %s HIT (%d vs AC %d)%s", c.TargetID, c.ToHit.Total, c.TargetAC, damageSuffix(c.Damage))
		if c.HasStatus(domain.StatusCritical) {
			line += ", critical"
		}
		if c.HasStatus(domain.StatusDefeated) {
			line += ", target defeated"
		}
		return line
	case domain.ResultInventory:
		if r.Inventory == nil {
			return ""
		}
		var parts []string
		if len(r.Inventory.Added) > 0 {
			parts = append(parts, "gained "+strings.Join(r.Inventory.Added, ", "))
		}
		if len(r.Inventory.Removed) > 0 {
			parts = append(parts, "lost "+strings.Join(r.Inventory.Removed, ", "))
		}
		if r.Inventory.Delta.Gold != 0 {
			parts = append(parts, fmt.Sprintf("gold %+d", r.Inventory.Delta.Gold))
		}
		if len(parts) == 0 {
			return ""
		}
		return "Inventory: " + strings.Join(parts, "; ")
	case domain.ResultWorldUpdate:
		if r.World == nil {
			return ""
		}
		if q := r.World.Update.Quest; q != nil {
			return fmt.Sprintf("Quest %s offered by %s (%s): %s", q.QuestID, q.Giver, q.Status, q.Note)
		}
		if r.World.Update.TimeAdvance == 0 {
			return ""
		}
		return fmt.Sprintf("Time passes: %d hours", r.World.Update.TimeAdvance)
	case domain.ResultError:
		if r.Err == nil {
			return ""
		}
		return "Complication: " + r.Err.Message
	}
	return ""
}

func damageSuffix(d *domain.DamageRoll) string {
	if d == nil {
		return ""
	}
	if d.Type != "" {
		return fmt.Sprintf(", %d %s damage", d.Total, d.Type)
	}
	return fmt.Sprintf(", %d damage", d.Total)
}
