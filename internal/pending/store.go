// Package pending tracks the open question and the queue of questions waiting
// to be asked in each conversation.
package pending

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
)

// ErrAlreadyPending is returned by SetPending when the conversation already
// has an open question.
var ErrAlreadyPending = errors.New("conversation already has a pending interaction")

// Key identifies a conversation within a tenant.
type Key struct {
	TenantID       string
	ConversationID string
}

// conversation holds the slot and the FIFO queue of one conversation.
type conversation struct {
	active     *domain.Interaction
	queue      *list.List // of domain.Interaction
	lastActive time.Time
}

func (c *conversation) idle() bool {
	return c.active == nil && c.queue.Len() == 0
}

// Store holds per-conversation pending state. It is safe for concurrent use;
// read-then-write sequences across calls must be serialized by the caller.
type Store struct {
	mu    sync.RWMutex
	convs map[Key]*conversation
	now   func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		convs: make(map[Key]*conversation),
		now:   time.Now,
	}
}

// getLocked returns the conversation for key, creating it lazily.
func (s *Store) getLocked(key Key) *conversation {
	c, ok := s.convs[key]
	if !ok {
		c = &conversation{queue: list.New()}
		s.convs[key] = c
	}
	c.lastActive = s.now()
	return c
}

// SetPending activates an interaction. It fails with ErrAlreadyPending if one
// is already open; drain it with Resolve first.
func (s *Store) SetPending(key Key, in domain.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getLocked(key)
	if c.active != nil {
		return ErrAlreadyPending
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.now()
	}
	c.active = &in
	return nil
}

// Peek returns the open interaction without clearing it.
func (s *Store) Peek(key Key) (domain.Interaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[key]
	if !ok || c.active == nil {
		return domain.Interaction{}, false
	}
	return *c.active, true
}

// Resolve clears the slot and returns what was cleared.
func (s *Store) Resolve(key Key) (domain.Interaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[key]
	if !ok || c.active == nil {
		return domain.Interaction{}, false
	}
	in := *c.active
	c.active = nil
	c.lastActive = s.now()
	return in, true
}

// Enqueue appends an interaction to the conversation's queue.
func (s *Store) Enqueue(key Key, in domain.Interaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.now()
	}
	s.getLocked(key).queue.PushBack(in)
}

// DequeueNext pops the oldest queued interaction. The caller must SetPending
// it to activate it.
func (s *Store) DequeueNext(key Key) (domain.Interaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[key]
	if !ok {
		return domain.Interaction{}, false
	}
	front := c.queue.Front()
	if front == nil {
		return domain.Interaction{}, false
	}
	c.queue.Remove(front)
	c.lastActive = s.now()
	return front.Value.(domain.Interaction), true
}

// QueueLen returns the number of interactions waiting behind the open one.
func (s *Store) QueueLen(key Key) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[key]
	if !ok {
		return 0
	}
	return c.queue.Len()
}

// DropTenant discards every conversation of a tenant and returns how many
// interactions (open and queued) were lost.
func (s *Store) DropTenant(tenantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	lost := 0
	for key, c := range s.convs {
		if key.TenantID != tenantID {
			continue
		}
		if c.active != nil {
			lost++
		}
		lost += c.queue.Len()
		delete(s.convs, key)
	}
	return lost
}

// Sweep removes conversations that hold nothing and have been inactive for
// longer than idle. It returns the number removed.
func (s *Store) Sweep(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	removed := 0
	for key, c := range s.convs {
		if c.idle() && c.lastActive.Before(cutoff) {
			delete(s.convs, key)
			removed++
		}
	}
	return removed
}

// TenantStats counts open and queued interactions for one tenant.
type TenantStats struct {
	Conversations int `json:"conversations"`
	Pending       int `json:"pending"`
	Queued        int `json:"queued"`
}

// Stats summarizes the pending state of a tenant.
func (s *Store) Stats(tenantID string) TenantStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st TenantStats
	for key, c := range s.convs {
		if key.TenantID != tenantID {
			continue
		}
		st.Conversations++
		if c.active != nil {
			st.Pending++
		}
		st.Queued += c.queue.Len()
	}
	return st
}
