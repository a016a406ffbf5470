package inventory

import (
	"fmt"
	"strings"

	"fiction-server/internal/domain"
)

// Apply применяет дельту к персонажу. Если дельта уводит золото или ресурс
// ниже нуля либо удаляет отсутствующий предмет, персонаж не изменяется.
func Apply(c *domain.Character, delta domain.InventoryDelta) (domain.InventoryResult, error) {
	if err := Check(c, delta); err != nil {
		return domain.InventoryResult{}, err
	}

	c.Inventory.Gold += delta.Gold

	result := domain.InventoryResult{Delta: delta}
	for _, name := range delta.ItemsAdd {
		addItem(&c.Inventory, name, 1)
		result.Added = append(result.Added, name)
	}
	for _, name := range delta.ItemsRemove {
		removeItem(&c.Inventory, name, 1)
		result.Removed = append(result.Removed, name)
	}
	if len(delta.Resources) > 0 {
		if c.Resources == nil {
			c.Resources = map[string]int{}
		}
		result.Resources = make(map[string]int, len(delta.Resources))
		for name, d := range delta.Resources {
			c.Resources[name] += d
			result.Resources[name] = c.Resources[name]
		}
	}
	result.GoldAfter = c.Inventory.Gold

	return result, nil
}

// Check проверяет, что дельта применима к персонажу.
func Check(c *domain.Character, delta domain.InventoryDelta) error {
	if c.Inventory.Gold+delta.Gold < 0 {
		return fmt.Errorf("%w: have %d, need %d", domain.ErrInsufficientFunds, c.Inventory.Gold, -delta.Gold)
	}
	for name, d := range delta.Resources {
		if c.Resources[name]+d < 0 {
			return fmt.Errorf("resource %q would drop below zero (%d%+d)", name, c.Resources[name], d)
		}
	}
	needed := map[string]int{}
	for _, name := range delta.ItemsRemove {
		needed[strings.ToLower(name)]++
	}
	for name, n := range needed {
		if Quantity(c.Inventory, name) < n {
			return fmt.Errorf("%w: %s", domain.ErrItemNotFound, name)
		}
	}
	return nil
}

// Purchase покупает предмет за price золота.
func Purchase(c *domain.Character, item string, price int) (domain.InventoryResult, error) {
	if price < 0 {
		return domain.InventoryResult{}, fmt.Errorf("invalid price %d", price)
	}
	return Apply(c, domain.InventoryDelta{Gold: -price, ItemsAdd: []string{item}})
}

// Sell продаёт предмет за price золота.
func Sell(c *domain.Character, item string, price int) (domain.InventoryResult, error) {
	if price < 0 {
		return domain.InventoryResult{}, fmt.Errorf("invalid price %d", price)
	}
	return Apply(c, domain.InventoryDelta{Gold: price, ItemsRemove: []string{item}})
}

// Consume расходует один предмет. Зелье лечения восстанавливает хиты.
func Consume(c *domain.Character, item string, healing int) (domain.InventoryResult, error) {
	res, err := Apply(c, domain.InventoryDelta{ItemsRemove: []string{item}})
	if err != nil {
		return res, err
	}
	if strings.Contains(strings.ToLower(item), "healing") && healing > 0 {
		c.HP.Current = min(c.HP.Current+healing, c.HP.Max)
	}
	return res, nil
}

// Quantity возвращает количество предметов с именем name.
func Quantity(inv domain.Inventory, name string) int {
	for _, it := range inv.Items {
		if strings.EqualFold(it.Name, name) {
			return it.Quantity
		}
	}
	return 0
}

func addItem(inv *domain.Inventory, name string, qty int) {
	for i, it := range inv.Items {
		if strings.EqualFold(it.Name, name) {
			inv.Items[i].Quantity += qty
			return
		}
	}
	inv.Items = append(inv.Items, domain.Item{Name: name, Quantity: qty, Type: "misc"})
}

func removeItem(inv *domain.Inventory, name string, qty int) {
	for i, it := range inv.Items {
		if !strings.EqualFold(it.Name, name) {
			continue
		}
		inv.Items[i].Quantity -= qty
		if inv.Items[i].Quantity <= 0 {
			inv.Items = append(inv.Items[:i], inv.Items[i+1:]...)
		}
		return
	}
}
