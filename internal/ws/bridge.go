package ws

import (
	"log"

	"microgrid_simulator/internal/engine"
)

// Bridge implements engine.Callback and broadcasts events to the WebSocket hub.
type Bridge struct {
	hub *Hub
}

func NewBridge(hub *Hub) *Bridge {
	return &Bridge{hub: hub}
}

func (b *Bridge) broadcast(msgType string, payload any) {
	msg, err := NewEnvelope(msgType, payload)
	if err != nil {
		log.Printf("Error marshaling %s: %v", msgType, err)
		return
	}
	b.hub.Broadcast(msg)
}

func (b *Bridge) OnPoint(p engine.Point) {
	b.broadcast(TypeSimPoint, p)
}

func (b *Bridge) OnTimeUpdate(u engine.TimeUpdate) {
	b.broadcast(TypeSimTime, u)
}

func (b *Bridge) OnState(s engine.State) {
	b.broadcast(TypeSimState, s)
}

func (b *Bridge) OnError(message string) {
	b.broadcast(TypeSimError, ErrorPayload{Message: message})
}

func (b *Bridge) OnStopped() {
	b.broadcast(TypeSimStopped, nil)
}
