package models

import "encoding/json"

// InitialState is the bootstrap snapshot delivered when a channel opens. Every
// field is optional; nil means the server did not send it.
type InitialState struct {
	Dashboard    *string
	GameState    *Patch
	Tasks        []Task
	Reports      []Report
	Commands     []Command
	ContextStats json.RawMessage
}
