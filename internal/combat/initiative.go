package combat

import (
	"slices"
	"strings"

	"fiction-server/internal/domain"
	"fiction-server/pkg/dice"
)

// Combatant участник боя для броска инициативы.
type Combatant struct {
	ID          string
	Name        string
	DexModifier int
}

// InitiativeEntry результат инициативы участника.
type InitiativeEntry struct {
	Combatant
	Roll       dice.Result
	Initiative int
}

// RollInitiative бросает инициативу: участник i получает seed+i.
// Порядок по убыванию инициативы, при равенстве сохраняется исходный.
func (e *Engine) RollInitiative(seed int64, combatants []Combatant) []InitiativeEntry {
	order := make([]InitiativeEntry, len(combatants))
	for i, c := range combatants {
		roll := e.roller.D20(dice.DeriveSeed(seed, int64(i)), c.DexModifier)
		order[i] = InitiativeEntry{Combatant: c, Roll: roll, Initiative: roll.Total}
	}
	slices.SortStableFunc(order, func(a, b InitiativeEntry) int {
		return b.Initiative - a.Initiative
	})
	return order
}

// ApplyCondition возвращает новый список состояний с добавленным condition.
// Повторное наложение продлевает длительность до большей.
func ApplyCondition(conditions []domain.Condition, condition domain.Condition) []domain.Condition {
	out := slices.Clone(conditions)
	for i, c := range out {
		if strings.EqualFold(c.Name, condition.Name) {
			if condition.Duration == 0 || (c.Duration != 0 && condition.Duration > c.Duration) {
				out[i].Duration = condition.Duration
			}
			return out
		}
	}
	return append(out, condition)
}

// RemoveCondition возвращает новый список состояний без name.
func RemoveCondition(conditions []domain.Condition, name string) []domain.Condition {
	return slices.DeleteFunc(slices.Clone(conditions), func(c domain.Condition) bool {
		return strings.EqualFold(c.Name, name)
	})
}

// TickConditions уменьшает длительность состояний на раунд и снимает истёкшие.
func TickConditions(conditions []domain.Condition) []domain.Condition {
	out := make([]domain.Condition, 0, len(conditions))
	for _, c := range conditions {
		if c.Duration == 0 {
			out = append(out, c)
			continue
		}
		c.Duration--
		if c.Duration > 0 {
			out = append(out, c)
		}
	}
	return out
}
