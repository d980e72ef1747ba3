// Package session manages one transport connection per tenant and moves it
// through the pairing lifecycle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/transport"
)

// Session is a tenant's live transport connection.
type Session struct {
	tenantID string
	client   transport.Client
	ctx      context.Context
	cancel   context.CancelFunc

	mu          sync.RWMutex
	state       domain.ConnectionState
	pairingCode string
	createdAt   time.Time
	updatedAt   time.Time

	// evicting is guarded by the registry mutex.
	evicting bool

	inboxMu sync.Mutex
	inboxes map[string]*inbox
	closing bool
	workers sync.WaitGroup
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	TenantID    string                 `json:"userId"`
	State       domain.ConnectionState `json:"state"`
	PairingCode string                 `json:"-"`
	Pending     int                    `json:"pending"`
	Queued      int                    `json:"queued"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// HasPairingCode reports whether a code is waiting to be scanned.
func (s Snapshot) HasPairingCode() bool {
	return s.PairingCode != ""
}

func (s *Session) State() domain.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		TenantID:    s.tenantID,
		State:       s.state,
		PairingCode: s.pairingCode,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
}

// transition applies a state change and returns the previous state.
func (s *Session) transition(to domain.ConnectionState, code string, now time.Time) domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.state
	s.state = to
	s.pairingCode = code
	s.updatedAt = now
	return from
}

func (s *Session) record() *domain.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &domain.SessionRecord{
		TenantID:  s.tenantID,
		State:     s.state,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}
