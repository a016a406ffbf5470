package domain

import (
	"maps"
	"slices"
)

// NPC неигровой персонаж сцены.
type NPC struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Role        string       `json:"role" yaml:"role"`
	Disposition string       `json:"disposition" yaml:"disposition"` // friendly, neutral, hostile
	AC          int          `json:"ac" yaml:"ac"`
	HP          int          `json:"hp" yaml:"hp"`
	Weapon      *Weapon      `json:"weapon,omitempty" yaml:"weapon,omitempty"`
	Quests      []QuestOffer `json:"quests,omitempty" yaml:"quests,omitempty"`
}

// QuestOffer задание, которое NPC предлагает в разговоре.
type QuestOffer struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
}

// QuestOfferedFlag флаг сцены, отмечающий, что NPC уже предложил задание.
func QuestOfferedFlag(npcID string) string {
	return npcID + "_quest_offered"
}

// Hostile сообщает, можно ли атаковать NPC без последствий для сюжета.
func (n NPC) Hostile() bool {
	return n.Disposition == "hostile"
}

// Exit выход из сцены.
type Exit struct {
	Direction   string `json:"direction" yaml:"direction"`
	SceneID     string `json:"scene_id" yaml:"scene_id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// CanonicalFact факт сцены и фразы, которые ему противоречат.
type CanonicalFact struct {
	Fact           string   `json:"fact" yaml:"fact"`
	Contradictions []string `json:"contradictions,omitempty" yaml:"contradictions,omitempty"`
}

// Scene сцена приключения.
type Scene struct {
	ID             string          `json:"id" yaml:"id"`
	Chapter        string          `json:"chapter" yaml:"chapter"`
	Title          string          `json:"title" yaml:"title"`
	Synopsis       string          `json:"synopsis" yaml:"synopsis"`
	Flags          map[string]bool `json:"flags" yaml:"flags"`
	NPCs           []NPC           `json:"npcs" yaml:"npcs"`
	Exits          []Exit          `json:"exits" yaml:"exits"`
	Items          []string        `json:"items,omitempty" yaml:"items,omitempty"` // Предметы, которые можно подобрать
	Tags           []string        `json:"tags" yaml:"tags"`
	CanonicalFacts []CanonicalFact `json:"canonical_facts" yaml:"canonical_facts"`
	Difficulty     string          `json:"difficulty" yaml:"difficulty"`
	EncounterType  string          `json:"encounter_type" yaml:"encounter_type"`
	Visited        bool            `json:"visited" yaml:"-"`
}

// FirstHostile возвращает первого враждебного NPC сцены.
func (s Scene) FirstHostile() (NPC, bool) {
	for _, npc := range s.NPCs {
		if npc.Hostile() {
			return npc, true
		}
	}
	return NPC{}, false
}

// QuestGiver возвращает первого невраждебного NPC, чьё задание ещё не предложено.
func (s Scene) QuestGiver() (NPC, bool) {
	for _, npc := range s.NPCs {
		if npc.Hostile() || len(npc.Quests) == 0 || s.Flags[QuestOfferedFlag(npc.ID)] {
			continue
		}
		return npc, true
	}
	return NPC{}, false
}

// Clone делает глубокую копию сцены.
func (s Scene) Clone() Scene {
	cp := s
	cp.Flags = maps.Clone(s.Flags)
	if cp.Flags == nil {
		cp.Flags = map[string]bool{}
	}
	cp.NPCs = slices.Clone(s.NPCs)
	cp.Exits = slices.Clone(s.Exits)
	cp.Items = slices.Clone(s.Items)
	cp.Tags = slices.Clone(s.Tags)
	cp.CanonicalFacts = make([]CanonicalFact, len(s.CanonicalFacts))
	for i, f := range s.CanonicalFacts {
		cp.CanonicalFacts[i] = CanonicalFact{Fact: f.Fact, Contradictions: slices.Clone(f.Contradictions)}
	}
	return cp
}

// DefaultSceneID стартовая сцена, если контент не загружен.
const DefaultSceneID = "tavern_start"

// DefaultScene возвращает стартовую таверну.
func DefaultScene() Scene {
	return Scene{
		ID:       DefaultSceneID,
		Chapter:  "chapter_1",
		Title:    "The Crossed Swords Tavern",
		Synopsis: "A warm, bustling tavern where adventurers gather to share tales and seek work.",
		Flags:    map[string]bool{},
		NPCs: []NPC{
			{ID: "thorin", Name: "Thorin Ironbeard", Role: "tavern keeper", Disposition: "friendly", AC: 12, HP: 30},
		},
		Exits: []Exit{
			{Direction: "north", SceneID: "town_square", Description: "The heavy oak door leads out to the town square."},
		},
		Items: []string{"torch"},
		Tags:  []string{"tavern", "social", "safe"},
		CanonicalFacts: []CanonicalFact{
			{Fact: "a fire crackles in the hearth", Contradictions: []string{"the hearth is cold", "no fire burns"}},
			{Fact: "Thorin Ironbeard runs the tavern", Contradictions: []string{"thorin is dead", "the tavern is abandoned"}},
		},
		Difficulty:    "Easy",
		EncounterType: "social",
	}
}
