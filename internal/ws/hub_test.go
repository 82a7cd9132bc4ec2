package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	payload := SetSpeedPayload{Speed: 10}

	msg, err := NewEnvelope(TypeSimSetSpeed, payload)
	require.NoError(t, err)

	var env Envelope
	err = json.Unmarshal(msg, &env)
	require.NoError(t, err)

	assert.Equal(t, TypeSimSetSpeed, env.Type)

	var parsed SetSpeedPayload
	err = json.Unmarshal(env.Payload, &parsed)
	require.NoError(t, err)

	assert.Equal(t, 10.0, parsed.Speed)
}

func TestNewEnvelope_NoPayload(t *testing.T) {
	msg, err := NewEnvelope(TypeSimStop, nil)
	require.NoError(t, err)

	var env Envelope
	err = json.Unmarshal(msg, &env)
	require.NoError(t, err)

	assert.Equal(t, TypeSimStop, env.Type)
	assert.Nil(t, env.Payload)
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub()

	c := &Client{
		hub:  hub,
		send: make(chan []byte, 16),
	}

	assert.True(t, hub.Register(c))
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister(c)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_CloseDisconnectsAndRefusesNewClients(t *testing.T) {
	hub := NewHub()
	c := &Client{hub: hub, send: make(chan []byte, 16)}
	require.True(t, hub.Register(c))

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())
	_, open := <-c.send
	assert.False(t, open)

	assert.False(t, hub.Register(&Client{hub: hub, send: make(chan []byte, 16)}))
	hub.Close() // idempotent
}

func TestHub_SendDropsUnregisteredClient(t *testing.T) {
	hub := NewHub()
	c := &Client{hub: hub, send: make(chan []byte, 16)}
	require.True(t, hub.Register(c))

	hub.Send(c, []byte(`1`))
	assert.Equal(t, []byte(`1`), <-c.send)

	hub.Unregister(c)
	hub.Send(c, []byte(`2`)) // channel already closed, must not panic
	_, open := <-c.send
	assert.False(t, open)
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()

	c1 := &Client{hub: hub, send: make(chan []byte, 16)}
	c2 := &Client{hub: hub, send: make(chan []byte, 16)}

	hub.Register(c1)
	hub.Register(c2)

	msg := []byte(`{"type":"test"}`)
	hub.Broadcast(msg)

	assert.Equal(t, msg, <-c1.send)
	assert.Equal(t, msg, <-c2.send)
}

func TestHub_BroadcastFullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub()

	c := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.Register(c)

	hub.Broadcast([]byte(`1`))
	hub.Broadcast([]byte(`2`)) // dropped, must not block

	assert.Equal(t, []byte(`1`), <-c.send)
}

func TestMessageTypes(t *testing.T) {
	assert.Equal(t, "sim:start", TypeSimStart)
	assert.Equal(t, "sim:stop", TypeSimStop)
	assert.Equal(t, "sim:set_speed", TypeSimSetSpeed)
	assert.Equal(t, "params:update", TypeParamsUpdate)
	assert.Equal(t, "sim:state", TypeSimState)
	assert.Equal(t, "sim:point", TypeSimPoint)
	assert.Equal(t, "sim:time", TypeSimTime)
	assert.Equal(t, "sim:error", TypeSimError)
	assert.Equal(t, "sim:stopped", TypeSimStopped)
}
