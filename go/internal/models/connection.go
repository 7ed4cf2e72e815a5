package models

// ConnectionState is the lifecycle state of the push channel.
type ConnectionState string

const (
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
	ConnectionStateDisconnected ConnectionState = "disconnected"
)

// ConnectionStatus is a read-only projection of the connection manager, suitable
// for a status banner.
type ConnectionStatus struct {
	State                  ConnectionState `json:"status"`
	ReconnectAttempts      int             `json:"reconnectAttempts"`
	NextReconnectInSeconds *int            `json:"nextReconnectInSeconds"`
	Connected              bool            `json:"connected"`
}
