package cachebus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wireEnvelope(t *testing.T, env Envelope) string {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return string(raw)
}

func TestDispatchDropsOwnEcho(t *testing.T) {
	bus := New(nil, "srv-a")

	var delivered []Envelope
	deliver := func(env Envelope) { delivered = append(delivered, env) }

	bus.dispatch(wireEnvelope(t, Envelope{
		SenderID: "srv-a",
		UserID:   "212600000001",
		Payload:  json.RawMessage(`{"type":"typing"}`),
	}), deliver)
	assert.Empty(t, delivered, "own echo must never be delivered")

	bus.dispatch(wireEnvelope(t, Envelope{
		SenderID: "srv-b",
		UserID:   "212600000001",
		Payload:  json.RawMessage(`{"type":"typing"}`),
	}), deliver)
	require.Len(t, delivered, 1)
	assert.Equal(t, "212600000001", delivered[0].UserID)
}

func TestDispatchDropsMalformedEnvelope(t *testing.T) {
	bus := New(nil, "srv-a")

	called := false
	bus.dispatch("{not json", func(Envelope) { called = true })
	assert.False(t, called)
}
