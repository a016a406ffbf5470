package domain

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Ability ключ характеристики персонажа.
type Ability string

const (
	AbilityStrength     Ability = "STR"
	AbilityDexterity    Ability = "DEX"
	AbilityConstitution Ability = "CON"
	AbilityIntelligence Ability = "INT"
	AbilityWisdom       Ability = "WIS"
	AbilityCharisma     Ability = "CHA"
)

// AllAbilities перечисляет характеристики в каноническом порядке.
var AllAbilities = []Ability{
	AbilityStrength, AbilityDexterity, AbilityConstitution,
	AbilityIntelligence, AbilityWisdom, AbilityCharisma,
}

// IsValid проверяет, что ключ характеристики известен.
func (a Ability) IsValid() bool {
	return slices.Contains(AllAbilities, a)
}

// ParseAbility приводит строку (в любом регистре) к Ability.
func ParseAbility(raw string) (Ability, error) {
	a := Ability(strings.ToUpper(strings.TrimSpace(raw)))
	if !a.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAbility, raw)
	}
	return a, nil
}

// AbilityScores значения характеристик.
type AbilityScores map[Ability]int

// AbilityModifier возвращает floor((score-10)/2).
func AbilityModifier(score int) int {
	d := score - 10
	if d < 0 {
		return (d - 1) / 2
	}
	return d / 2
}

// ProficiencyBonus возвращает бонус мастерства для уровня: ceil(level/4)+1.
func ProficiencyBonus(level int) int {
	if level < 1 {
		level = 1
	}
	return (level+3)/4 + 1
}

// HitPoints очки здоровья.
type HitPoints struct {
	Current   int `json:"current"`
	Max       int `json:"max"`
	Temporary int `json:"temporary,omitempty"`
}

// Item предмет инвентаря.
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Type     string `json:"type,omitempty"`  // weapon, consumable, misc
	Value    int    `json:"value,omitempty"` // Цена в золоте
}

// Inventory золото и предметы персонажа.
type Inventory struct {
	Gold  int    `json:"gold"`
	Items []Item `json:"items"`
}

// Condition наложенное состояние (poisoned, prone, ...).
type Condition struct {
	Name     string `json:"name"`
	Duration int    `json:"duration"` // В раундах, 0 - бессрочно
	Source   string `json:"source,omitempty"`
}

// Weapon основная атака персонажа или NPC.
type Weapon struct {
	Name       string  `json:"name" yaml:"name"`
	Ability    Ability `json:"ability" yaml:"ability"`
	DamageSpec string  `json:"damage_spec" yaml:"damage_spec"` // NdM[+K]
	DamageType string  `json:"damage_type" yaml:"damage_type"`
}

// Character игровой персонаж.
type Character struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Class         string         `json:"class"`
	Race          string         `json:"race"`
	Level         int            `json:"level"`
	Abilities     AbilityScores  `json:"abilities"`
	Proficiencies []string       `json:"proficiencies"` // Навыки
	SavingThrows  []Ability      `json:"saving_throws"` // Спасброски с мастерством
	HP            HitPoints      `json:"hp"`
	AC            int            `json:"ac"`
	Speed         int            `json:"speed"`
	Resources     map[string]int `json:"resources"` // spell slots, ki и т.п.
	Inventory     Inventory      `json:"inventory"`
	Conditions    []Condition    `json:"conditions"`
	Weapon        Weapon         `json:"weapon"`
}

// NewCharacter создаёт стартового персонажа.
func NewCharacter(name string) *Character {
	if name == "" {
		name = "Adventurer"
	}
	return &Character{
		ID:    uuid.NewString(),
		Name:  name,
		Class: "Fighter",
		Race:  "Human",
		Level: 1,
		Abilities: AbilityScores{
			AbilityStrength:     12,
			AbilityDexterity:    14,
			AbilityConstitution: 13,
			AbilityIntelligence: 11,
			AbilityWisdom:       15,
			AbilityCharisma:     10,
		},
		Proficiencies: []string{"athletics", "perception", "stealth", "investigation"},
		SavingThrows:  []Ability{AbilityStrength, AbilityConstitution},
		HP:            HitPoints{Current: 25, Max: 25},
		AC:            14,
		Speed:         30,
		Resources:     map[string]int{"second_wind": 1},
		Inventory: Inventory{
			Gold: 50,
			Items: []Item{
				{Name: "longsword", Quantity: 1, Type: "weapon", Value: 15},
				{Name: "healing potion", Quantity: 2, Type: "consumable", Value: 50},
				{Name: "rope", Quantity: 1, Type: "misc", Value: 1},
			},
		},
		Weapon: Weapon{Name: "longsword", Ability: AbilityStrength, DamageSpec: "1d8+1", DamageType: "slashing"},
	}
}

// ProficiencyBonus бонус мастерства по текущему уровню.
func (c *Character) ProficiencyBonus() int {
	return ProficiencyBonus(c.Level)
}

// Modifier возвращает модификатор характеристики.
func (c *Character) Modifier(a Ability) (int, error) {
	score, ok := c.Abilities[a]
	if !ok || !a.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAbility, a)
	}
	return AbilityModifier(score), nil
}

// IsProficient проверяет владение навыком.
func (c *Character) IsProficient(skill string) bool {
	skill = strings.ToLower(skill)
	for _, p := range c.Proficiencies {
		if strings.ToLower(p) == skill {
			return true
		}
	}
	return false
}

// HasSaveProficiency проверяет мастерство в спасброске.
func (c *Character) HasSaveProficiency(a Ability) bool {
	return slices.Contains(c.SavingThrows, a)
}

// IsAlive персонаж ещё на ногах.
func (c *Character) IsAlive() bool {
	return c.HP.Current > 0
}

// Clone делает глубокую копию персонажа.
func (c *Character) Clone() *Character {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Abilities = make(AbilityScores, len(c.Abilities))
	for k, v := range c.Abilities {
		cp.Abilities[k] = v
	}
	cp.Proficiencies = slices.Clone(c.Proficiencies)
	cp.SavingThrows = slices.Clone(c.SavingThrows)
	cp.Resources = make(map[string]int, len(c.Resources))
	for k, v := range c.Resources {
		cp.Resources[k] = v
	}
	cp.Inventory.Items = slices.Clone(c.Inventory.Items)
	cp.Conditions = slices.Clone(c.Conditions)
	return &cp
}
