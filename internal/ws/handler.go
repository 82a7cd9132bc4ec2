package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"microgrid_simulator/internal/engine"
	"microgrid_simulator/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler manages WebSocket connections and routes control messages to the engine.
type Handler struct {
	hub    *Hub
	engine *engine.Engine
}

func NewHandler(hub *Hub, engine *engine.Engine) *Handler {
	return &Handler{hub: hub, engine: engine}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	if !h.hub.Register(client) {
		// Hub already closed, server is shutting down.
		conn.Close()
		return
	}
	go client.writePump()

	// New subscribers get the current session snapshot immediately.
	h.sendState(client)

	// Read messages from client
	h.readPump(client)
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		h.handleMessage(c, msg)
	}
}

func (h *Handler) handleMessage(c *Client, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		log.Printf("Invalid message: %v", err)
		return
	}

	switch env.Type {
	case TypeSimStart:
		var p StartPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				h.ack(c, env.Type, fmt.Errorf("invalid start payload: %w", err))
				return
			}
		}
		h.ack(c, env.Type, h.engine.Start(p.StartDate, p.StartTime))

	case TypeSimStop:
		h.engine.Stop()
		h.ack(c, env.Type, nil)

	case TypeSimSetSpeed:
		var p SetSpeedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.ack(c, env.Type, fmt.Errorf("invalid set_speed payload: %w", err))
			return
		}
		h.ack(c, env.Type, h.engine.SetSpeed(p.Speed))

	case TypeParamsUpdate:
		req, err := model.DecodeUpdate(env.Payload)
		if err != nil {
			h.ack(c, env.Type, err)
			return
		}
		h.ack(c, env.Type, h.engine.UpdateParameters(req.Fields, req.StartDate, req.StartTime))

	default:
		log.Printf("Unknown message type: %s", env.Type)
	}
}

func (h *Handler) ack(c *Client, action string, err error) {
	p := AckPayload{Action: action, OK: err == nil}
	if err != nil {
		p.Error = err.Error()
		log.Printf("Rejected %s: %v", action, err)
	}
	msg, mErr := NewEnvelope(TypeAck, p)
	if mErr != nil {
		return
	}
	h.hub.Send(c, msg)
}

func (h *Handler) sendState(c *Client) {
	msg, err := NewEnvelope(TypeSimState, h.engine.State())
	if err != nil {
		return
	}
	h.hub.Send(c, msg)
}
