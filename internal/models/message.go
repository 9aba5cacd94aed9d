package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SyncMessage представляет конверт, передаваемый транспортами между контекстами.
// Command заполняется при создании и после DecodeMessage, в JSON не попадает.
type SyncMessage struct {
	Payload   json.RawMessage `json:"payload"`   // Payload аргументы команды, форма зависит от Type
	Type      CommandType     `json:"type"`      // Type тег варианта команды
	TabID     string          `json:"tabId"`     // TabID идентификатор контекста-отправителя
	Command   Command         `json:"-"`         // Command декодированная команда
	Timestamp int64           `json:"timestamp"` // Timestamp время создания сообщения (ms)
}

// NewMessage упаковывает локальную команду в конверт.
func NewMessage(cmd Command, timestamp int64, tabID string) (SyncMessage, error) {
	payload, err := cmd.EncodePayload()
	if err != nil {
		return SyncMessage{}, err
	}
	return SyncMessage{
		Type:      cmd.Type,
		Payload:   payload,
		Timestamp: timestamp,
		TabID:     tabID,
		Command:   cmd,
	}, nil
}

// Encode сериализует конверт в JSON.
func (m SyncMessage) Encode() ([]byte, error) {
	if len(m.Payload) == 0 {
		m.Payload = json.RawMessage("null")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync message: %w", err)
	}
	return data, nil
}

// Key возвращает ключ для дедупликации: пара (tabId, timestamp) уникальна
// для сообщений одного контекста.
func (m SyncMessage) Key() string {
	return fmt.Sprintf("%s@%d", m.TabID, m.Timestamp)
}

const messageSchemaURL = "https://cartsync.local/schema/sync-message.json"

const messageSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "payload", "timestamp", "tabId"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"timestamp": {"type": "integer", "minimum": 0},
		"tabId": {"type": "string", "minLength": 1}
	}
}`

var envelopeSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(messageSchema)))
	if err != nil {
		panic(fmt.Sprintf("sync message schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(messageSchemaURL, doc); err != nil {
		panic(fmt.Sprintf("sync message schema: %v", err))
	}
	schema, err := c.Compile(messageSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("sync message schema: %v", err))
	}
	return schema
}

// DecodeMessage разбирает и валидирует конверт на границе десериализации.
// Ошибки оборачивают ErrMalformedMessage.
func DecodeMessage(raw []byte) (SyncMessage, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return SyncMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := envelopeSchema.Validate(inst); err != nil {
		return SyncMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var msg SyncMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return SyncMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	cmd, err := DecodeCommand(msg.Type, msg.Payload)
	if err != nil {
		return SyncMessage{}, err
	}
	msg.Command = cmd

	return msg, nil
}
