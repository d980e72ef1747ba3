package domain

import (
	"time"
)

// ConnectionState is the lifecycle state of a tenant session.
type ConnectionState string

const (
	StateUninitialized   ConnectionState = "uninitialized"
	StatePairingRequired ConnectionState = "pairing_required"
	StateConnecting      ConnectionState = "connecting"
	StateReady           ConnectionState = "ready"
	StateDisconnected    ConnectionState = "disconnected"
)

// IsLive reports whether a session in this state still owns a transport handle.
func (s ConnectionState) IsLive() bool {
	switch s {
	case StatePairingRequired, StateConnecting, StateReady:
		return true
	default:
		return false
	}
}

// SessionRecord is the persisted view of a tenant session.
type SessionRecord struct {
	TenantID  string          `json:"tenant_id"`
	State     ConnectionState `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ShouldRestore returns true if the session was live when last recorded
// and is worth re-initializing after a restart.
func (r *SessionRecord) ShouldRestore() bool {
	return r.State == StateReady || r.State == StateConnecting
}

// Conversation is one chat thread as listed by the transport.
type Conversation struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	IsGroup          bool   `json:"is_group"`
	ParticipantCount int    `json:"participants"`
}

// LoggedMessage is a relay audit log entry.
type LoggedMessage struct {
	ID             int64     `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Direction      string    `json:"direction"`
	SenderID       string    `json:"sender_id,omitempty"`
	Kind           string    `json:"kind"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// Message log directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)
