package models

// Command is an instruction issued to the agent workforce and tracked by the server.
type Command struct {
	ID        string `json:"id"`
	Command   string `json:"command"`
	Status    string `json:"status,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// CommandUpdate is either a single command or a full collection of commands.
type CommandUpdate struct {
	Commands []Command
	// Collection is true when Commands replaces the whole known command list.
	Collection bool
}

// WSError is a channel-level error reported by the server.
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
