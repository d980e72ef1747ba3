// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
)

// Repository persists tenant sessions and the relay message log.
type Repository interface {
	// UpsertSession creates or updates a tenant's session record.
	UpsertSession(ctx context.Context, rec *domain.SessionRecord) error

	// GetSession returns nil, nil when the tenant has no record.
	GetSession(ctx context.Context, tenantID string) (*domain.SessionRecord, error)

	ListSessions(ctx context.Context) ([]*domain.SessionRecord, error)

	DeleteSession(ctx context.Context, tenantID string) error

	// AppendMessage adds an entry to the message log and sets its ID.
	AppendMessage(ctx context.Context, msg *domain.LoggedMessage) error

	// ListMessages returns the newest entries for a conversation, newest first.
	ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]*domain.LoggedMessage, error)

	// PruneMessages deletes log entries older than the given age.
	PruneMessages(ctx context.Context, olderThan time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
