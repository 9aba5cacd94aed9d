package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage_AddItemWireShape(t *testing.T) {
	msg, err := NewMessage(AddItem(CartItem{ID: "sku1", Price: 10}), 1700000000000, "A")
	require.NoError(t, err)

	raw, err := msg.Encode()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))

	assert.Equal(t, "AddItem", wire["type"])
	assert.Equal(t, "A", wire["tabId"])
	assert.Equal(t, float64(1700000000000), wire["timestamp"])
	assert.Equal(t, map[string]any{"id": "sku1", "price": float64(10)}, wire["payload"])
}

func TestEncodePayload_Shapes(t *testing.T) {
	tests := []struct {
		name     string
		cmd      Command
		expected string
	}{
		{name: "remove", cmd: RemoveItem("sku1"), expected: `"sku1"`},
		{name: "set quantity", cmd: SetQuantity("sku1", 3), expected: `{"id":"sku1","quantity":3}`},
		{name: "clear", cmd: Clear(), expected: `null`},
		{
			name:     "replace",
			cmd:      ReplaceState(CartState{Items: []CartItem{{ID: "a", Price: 2, Quantity: 2}}, TotalItems: 2, TotalAmount: 4, LastUpdated: 5}),
			expected: `{"items":[{"id":"a","price":2,"quantity":2}],"totalItems":2,"totalAmount":4,"lastUpdated":5}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := tt.cmd.EncodePayload()
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(payload))
		})
	}
}

func TestDecodeMessage_RoundTripCommands(t *testing.T) {
	commands := []Command{
		AddItem(CartItem{ID: "sku1", Name: "Mug", Price: 12.5, Quantity: 1}),
		RemoveItem("sku1"),
		SetQuantity("sku1", 4),
		Clear(),
		ReplaceState(CartState{Items: []CartItem{{ID: "a", Price: 1, Quantity: 3}}, LastUpdated: 42}),
	}

	for _, cmd := range commands {
		t.Run(string(cmd.Type), func(t *testing.T) {
			msg, err := NewMessage(cmd, 100, "tab-1")
			require.NoError(t, err)
			raw, err := msg.Encode()
			require.NoError(t, err)

			decoded, err := DecodeMessage(raw)
			require.NoError(t, err)

			assert.Equal(t, cmd.Type, decoded.Type)
			assert.Equal(t, int64(100), decoded.Timestamp)
			assert.Equal(t, "tab-1", decoded.TabID)
			assert.Equal(t, cmd.Target(), decoded.Command.Target())
			if cmd.Type == CommandReplaceState {
				require.NotNil(t, decoded.Command.State)
				assert.Equal(t, 3, decoded.Command.State.TotalItems, "totals are recalculated on decode")
				assert.InDelta(t, 3.0, decoded.Command.State.TotalAmount, 1e-9)
			}
		})
	}
}

func TestDecodeMessage_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{{{`},
		{name: "missing tabId", raw: `{"type":"Clear","payload":null,"timestamp":1}`},
		{name: "missing payload", raw: `{"type":"Clear","timestamp":1,"tabId":"A"}`},
		{name: "string timestamp", raw: `{"type":"Clear","payload":null,"timestamp":"1","tabId":"A"}`},
		{name: "negative timestamp", raw: `{"type":"Clear","payload":null,"timestamp":-5,"tabId":"A"}`},
		{name: "empty type", raw: `{"type":"","payload":null,"timestamp":1,"tabId":"A"}`},
		{name: "add without id", raw: `{"type":"AddItem","payload":{"price":1},"timestamp":1,"tabId":"A"}`},
		{name: "add negative price", raw: `{"type":"AddItem","payload":{"id":"x","price":-1},"timestamp":1,"tabId":"A"}`},
		{name: "remove with object", raw: `{"type":"RemoveItem","payload":{"id":"x"},"timestamp":1,"tabId":"A"}`},
		{name: "set quantity null", raw: `{"type":"SetQuantity","payload":null,"timestamp":1,"tabId":"A"}`},
		{name: "replace duplicate ids", raw: `{"type":"ReplaceState","payload":{"items":[{"id":"a","price":1,"quantity":1},{"id":"a","price":1,"quantity":1}],"totalItems":2,"totalAmount":2,"lastUpdated":1},"timestamp":1,"tabId":"A"}`},
		{name: "array", raw: `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestDecodeMessage_UnknownTypeIsAccepted(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"type":"ApplyCoupon","payload":{"code":"X"},"timestamp":7,"tabId":"B"}`))
	require.NoError(t, err)

	assert.Equal(t, CommandType("ApplyCoupon"), msg.Command.Type)
	assert.False(t, msg.Command.Type.Known())
}

func TestSyncMessage_Key(t *testing.T) {
	a := SyncMessage{TabID: "A", Timestamp: 5}
	b := SyncMessage{TabID: "A", Timestamp: 6}
	c := SyncMessage{TabID: "B", Timestamp: 5}

	assert.NotEqual(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Equal(t, a.Key(), SyncMessage{TabID: "A", Timestamp: 5}.Key())
}
