package reducer

import (
	"slices"

	"github.com/tatianab/jianghu/internal/models"
)

// EquipTitle equips an unlocked title. Titles that are not unlocked leave
// the state unchanged.
func EquipTitle(state models.GameState, title string) models.GameState {
	if !slices.Contains(state.Player.UnlockedTitles, title) {
		return state
	}
	next := state.Clone()
	next.Player.EquippedTitle = title
	next.Player.Title = title
	return next
}

// EquipItem puts a held item into a slot. An empty name clears the slot;
// items that are not in the inventory leave the state unchanged.
func EquipItem(state models.GameState, slot models.Slot, name string) models.GameState {
	if name != "" && !slices.ContainsFunc(state.Player.Inventory, func(it models.Item) bool {
		return it.Name == name && it.Count > 0
	}) {
		return state
	}
	next := state.Clone()
	switch slot {
	case models.SlotWeapon:
		next.Player.Equipment.Weapon = name
	case models.SlotArmor:
		next.Player.Equipment.Armor = name
	case models.SlotAccessory:
		next.Player.Equipment.Accessory = name
	default:
		return state
	}
	return next
}
