// Package slack implements the chat-service transport: the Socket Mode
// WebSocket receive loop, the REST sender, and markdown-to-mrkdwn
// rendering for outgoing messages.
package slack

import (
	"encoding/json"
	"fmt"

	parley "github.com/ostramo/parley"
)

// Envelope frame types.
const (
	TypeHello      = "hello"
	TypeEventsAPI  = "events_api"
	TypeDisconnect = "disconnect"
	TypePong       = "pong"
)

// Envelope is one framed inbound Socket Mode message.
type Envelope struct {
	Type       string `json:"type"`
	EnvelopeID string `json:"envelope_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Payload    struct {
		Event parley.Event `json:"event"`
	} `json:"payload"`
}

// DecodeEnvelope parses a raw frame. A frame without a type field is an
// error; unknown types decode fine and are the caller's concern.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type field")
	}
	return env, nil
}

// ack is the outbound acknowledgement for an events_api envelope.
type ack struct {
	EnvelopeID string `json:"envelope_id"`
}

// pingFrame is the outbound keepalive.
type pingFrame struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}
