package cart

import (
	"github.com/iudanet/cartsync/internal/models"
)

// Reduce применяет команду к состоянию и возвращает новое состояние.
// Чистая и тотальная функция: входное состояние не изменяется,
// неизвестная или неприменимая команда возвращает состояние как есть.
// at - время изменения в миллисекундах, LastUpdated не убывает.
func Reduce(state models.CartState, cmd models.Command, at int64) models.CartState {
	next, _ := Step(state, cmd, at)
	return next
}

// Step работает как Reduce, но дополнительно сообщает, изменилось ли состояние.
func Step(state models.CartState, cmd models.Command, at int64) (models.CartState, bool) {
	var (
		next    models.CartState
		changed bool
	)

	switch cmd.Type {
	case models.CommandAddItem:
		next, changed = addItem(state, cmd.Item)
	case models.CommandRemoveItem:
		next, changed = removeItem(state, cmd.ID)
	case models.CommandSetQuantity:
		next, changed = setQuantity(state, cmd.ID, cmd.Quantity)
	case models.CommandClear:
		next, changed = clearItems(state)
	case models.CommandReplaceState:
		next, changed = replaceState(state, cmd.State)
		if changed && cmd.State.LastUpdated > at {
			at = cmd.State.LastUpdated
		}
	default:
		// Неизвестный вариант - no-op для совместимости с будущими отправителями
		return state, false
	}

	if !changed {
		return state, false
	}

	next.Recalculate()
	if at > state.LastUpdated {
		next.LastUpdated = at
	} else {
		next.LastUpdated = state.LastUpdated
	}

	return next, true
}

// IsNoop сообщает, что команда не изменит состояние.
func IsNoop(state models.CartState, cmd models.Command) bool {
	_, changed := Step(state, cmd, state.LastUpdated)
	return !changed
}

func addItem(state models.CartState, item models.CartItem) (models.CartState, bool) {
	if item.Validate() != nil {
		return state, false
	}

	next := state.Clone()
	if i, ok := next.Find(item.ID); ok {
		// Повторное добавление увеличивает количество на 1
		next.Items[i].Quantity++
		return next, true
	}

	if item.Quantity < 1 {
		item.Quantity = 1
	}
	next.Items = append(next.Items, item)

	return next, true
}

func removeItem(state models.CartState, id string) (models.CartState, bool) {
	i, ok := state.Find(id)
	if !ok {
		return state, false
	}

	next := state.Clone()
	next.Items = append(next.Items[:i], next.Items[i+1:]...)

	return next, true
}

func setQuantity(state models.CartState, id string, quantity int) (models.CartState, bool) {
	i, ok := state.Find(id)
	if !ok {
		return state, false
	}
	if quantity <= 0 {
		return removeItem(state, id)
	}
	if state.Items[i].Quantity == quantity {
		return state, false
	}

	next := state.Clone()
	next.Items[i].Quantity = quantity

	return next, true
}

func clearItems(state models.CartState) (models.CartState, bool) {
	if len(state.Items) == 0 && state.TotalItems == 0 && state.TotalAmount == 0 {
		return state, false
	}

	next := state.Clone()
	next.Items = []models.CartItem{}

	return next, true
}

func replaceState(state models.CartState, replacement *models.CartState) (models.CartState, bool) {
	if replacement == nil || replacement.Validate() != nil {
		return state, false
	}

	next := replacement.Clone()
	next.Recalculate()
	if models.ItemsEqual(next.Items, state.Items) && next.LastUpdated <= state.LastUpdated {
		return state, false
	}

	return next, true
}
