package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CommandType тег варианта MutationCommand, передается в поле type сообщения.
type CommandType string

// CommandType константы для известных вариантов команд
const (
	CommandAddItem      CommandType = "AddItem"
	CommandRemoveItem   CommandType = "RemoveItem"
	CommandSetQuantity  CommandType = "SetQuantity"
	CommandClear        CommandType = "Clear"
	CommandReplaceState CommandType = "ReplaceState"
)

// Known сообщает, является ли тег одним из известных вариантов.
// Неизвестные теги допустимы и обрабатываются редьюсером как no-op.
func (t CommandType) Known() bool {
	switch t {
	case CommandAddItem, CommandRemoveItem, CommandSetQuantity, CommandClear, CommandReplaceState:
		return true
	default:
		return false
	}
}

// Command представляет MutationCommand - единицу репликации между контекстами.
// Заполнены только поля, относящиеся к варианту Type.
type Command struct {
	State    *CartState  // State новое состояние (ReplaceState)
	Type     CommandType // Type вариант команды
	ID       string      // ID идентификатор товара (RemoveItem, SetQuantity)
	Item     CartItem    // Item добавляемый товар (AddItem)
	Quantity int         // Quantity новое количество (SetQuantity)
}

// AddItem создает команду добавления товара.
func AddItem(item CartItem) Command {
	return Command{Type: CommandAddItem, Item: item}
}

// RemoveItem создает команду удаления товара.
func RemoveItem(id string) Command {
	return Command{Type: CommandRemoveItem, ID: id}
}

// SetQuantity создает команду установки количества товара.
func SetQuantity(id string, quantity int) Command {
	return Command{Type: CommandSetQuantity, ID: id, Quantity: quantity}
}

// Clear создает команду очистки корзины.
func Clear() Command {
	return Command{Type: CommandClear}
}

// ReplaceState создает команду полной замены состояния.
func ReplaceState(state CartState) Command {
	s := state.Clone()
	return Command{Type: CommandReplaceState, State: &s}
}

// Target возвращает идентификатор товара, на который направлена команда.
func (c Command) Target() string {
	switch c.Type {
	case CommandAddItem:
		return c.Item.ID
	case CommandRemoveItem, CommandSetQuantity:
		return c.ID
	default:
		return ""
	}
}

// quantityPayload payload варианта SetQuantity
type quantityPayload struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// EncodePayload сериализует аргументы команды в payload сообщения.
func (c Command) EncodePayload() (json.RawMessage, error) {
	var v any
	switch c.Type {
	case CommandAddItem:
		v = c.Item
	case CommandRemoveItem:
		v = c.ID
	case CommandSetQuantity:
		v = quantityPayload{ID: c.ID, Quantity: c.Quantity}
	case CommandClear:
		return json.RawMessage("null"), nil
	case CommandReplaceState:
		if c.State == nil {
			return nil, fmt.Errorf("replace state command without state")
		}
		v = c.State
	default:
		return nil, fmt.Errorf("unknown command type %q", c.Type)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", c.Type, err)
	}
	return data, nil
}

// DecodeCommand восстанавливает команду из тега и payload.
// Для неизвестного тега возвращается команда без аргументов и без ошибки.
func DecodeCommand(t CommandType, payload json.RawMessage) (Command, error) {
	cmd := Command{Type: t}

	switch t {
	case CommandAddItem:
		if err := strictUnmarshal(payload, &cmd.Item); err != nil {
			return Command{}, fmt.Errorf("%w: AddItem payload: %v", ErrMalformedMessage, err)
		}
		if err := cmd.Item.Validate(); err != nil {
			return Command{}, fmt.Errorf("%w: AddItem payload: %v", ErrMalformedMessage, err)
		}
	case CommandRemoveItem:
		if err := strictUnmarshal(payload, &cmd.ID); err != nil {
			return Command{}, fmt.Errorf("%w: RemoveItem payload: %v", ErrMalformedMessage, err)
		}
		if cmd.ID == "" {
			return Command{}, fmt.Errorf("%w: RemoveItem payload: empty id", ErrMalformedMessage)
		}
	case CommandSetQuantity:
		var p quantityPayload
		if err := strictUnmarshal(payload, &p); err != nil {
			return Command{}, fmt.Errorf("%w: SetQuantity payload: %v", ErrMalformedMessage, err)
		}
		if p.ID == "" {
			return Command{}, fmt.Errorf("%w: SetQuantity payload: empty id", ErrMalformedMessage)
		}
		cmd.ID = p.ID
		cmd.Quantity = p.Quantity
	case CommandClear:
		// payload игнорируется
	case CommandReplaceState:
		var state CartState
		if err := strictUnmarshal(payload, &state); err != nil {
			return Command{}, fmt.Errorf("%w: ReplaceState payload: %v", ErrMalformedMessage, err)
		}
		if err := state.Validate(); err != nil {
			return Command{}, fmt.Errorf("%w: ReplaceState payload: %v", ErrMalformedMessage, err)
		}
		state.Recalculate()
		cmd.State = &state
	}

	return cmd, nil
}

// strictUnmarshal декодирует payload, отвергая null и пустые значения
func strictUnmarshal(payload json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("payload is empty")
	}
	return json.Unmarshal(trimmed, v)
}
