// Package api provides the HTTP control surface for tenant sessions.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/session"
)

// Sessions is the registry surface used by the handlers.
type Sessions interface {
	Initialize(ctx context.Context, tenantID string) (session.Snapshot, error)
	Snapshot(tenantID string) (session.Snapshot, error)
	List() []session.Snapshot
	Conversations(ctx context.Context, tenantID string) ([]domain.Conversation, error)
	TransportState(ctx context.Context, tenantID string) (domain.ConnectionState, error)
	Logout(ctx context.Context, tenantID string) error
}

// MessageLog lists relayed traffic for a conversation.
type MessageLog interface {
	ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]*domain.LoggedMessage, error)
}

// Handler provides common handler utilities.
type Handler struct {
	sessions Sessions
	messages MessageLog
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(sessions Sessions, messages MessageLog) *Handler {
	return &Handler{
		sessions: sessions,
		messages: messages,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
