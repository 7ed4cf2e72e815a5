// Package normalize turns untyped inbound data into typed records.
//
// Every normalizer returns (record, ok). A false ok means the input was
// malformed and must be dropped; normalizers never panic and never return errors.
package normalize

import (
	"encoding/json"
	"strings"
)

// MessageType is the envelope type of a push-channel message.
type MessageType string

const (
	TypeTaskUpdate      MessageType = "task_update"
	TypeReportUpdate    MessageType = "report_update"
	TypeDashboardUpdate MessageType = "dashboard_update"
	TypeCommandUpdate   MessageType = "command_update"
	TypeGameStateUpdate MessageType = "game_state_update"
	TypeInitialState    MessageType = "initial_state"
	TypeWSError         MessageType = "ws_error"
)

// Envelope is a decoded push-channel frame.
type Envelope struct {
	Type    MessageType
	Payload any
}

// DecodeEnvelope parses a raw frame of shape {type, payload}.
func DecodeEnvelope(raw []byte) (Envelope, bool) {
	var wire struct {
		Type    any             `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, false
	}
	typ, ok := wire.Type.(string)
	if !ok || strings.TrimSpace(typ) == "" {
		return Envelope{}, false
	}

	var payload any
	if len(wire.Payload) > 0 {
		if err := json.Unmarshal(wire.Payload, &payload); err != nil {
			return Envelope{}, false
		}
	}
	return Envelope{Type: MessageType(typ), Payload: payload}, true
}
