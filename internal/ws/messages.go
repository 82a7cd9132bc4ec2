package ws

import "encoding/json"

// Envelope wraps all WebSocket messages with a type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants
const (
	// Client -> Server
	TypeSimStart     = "sim:start"
	TypeSimStop      = "sim:stop"
	TypeSimSetSpeed  = "sim:set_speed"
	TypeParamsUpdate = "params:update"

	// Server -> Client
	TypeSimState   = "sim:state"
	TypeSimPoint   = "sim:point"
	TypeSimTime    = "sim:time"
	TypeSimError   = "sim:error"
	TypeSimStopped = "sim:stopped"
	TypeAck        = "ack"
)

// Client -> Server messages

type StartPayload struct {
	StartDate string `json:"start_date"`
	StartTime string `json:"start_time"`
}

type SetSpeedPayload struct {
	Speed float64 `json:"speed"`
}

// Server -> Client messages

type ErrorPayload struct {
	Message string `json:"message"`
}

// AckPayload answers a single client's control message; failures carry the
// rejection reason.
type AckPayload struct {
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

func NewEnvelope(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}
