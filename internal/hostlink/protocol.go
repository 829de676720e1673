package hostlink

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of WebSocket message in the hook protocol.
type MessageType string

// Protocol message types exchanged over the WebSocket connection. Every
// request a host sends is answered by its *_result type carrying the same ID,
// or by MsgError.
const (
	MsgHello         MessageType = "hello"
	MsgHelloAck      MessageType = "hello_ack"
	MsgPreTurn       MessageType = "pre_turn"
	MsgPreTurnResult MessageType = "pre_turn_result"
	MsgTick          MessageType = "tick"
	MsgTickResult    MessageType = "tick_result"
	MsgStats         MessageType = "stats"
	MsgStatsResult   MessageType = "stats_result"
	MsgHealth        MessageType = "health"
	MsgHealthResult  MessageType = "health_result"
	MsgPing          MessageType = "ping"
	MsgPong          MessageType = "pong"
	MsgError         MessageType = "error"
)

// Envelope is the wire format for all WebSocket messages.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Hello is the first message a host sends.
type Hello struct {
	Token string `json:"token"`
	// Host names the agent host, for logs and audit.
	Host string `json:"host"`
}

// HelloAck answers Hello.
type HelloAck struct {
	Accepted     bool   `json:"accepted"`
	ConnectionID string `json:"connection_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// PreTurnRequest is the payload of MsgPreTurn.
type PreTurnRequest struct {
	Message string `json:"message"`
}

// ErrorPayload is the payload of MsgError.
type ErrorPayload struct {
	Message string `json:"message"`
}

func newEnvelope(typ MessageType, id string, payload any) (Envelope, error) {
	env := Envelope{Type: typ, ID: id, Timestamp: time.Now()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = data
	}
	return env, nil
}
