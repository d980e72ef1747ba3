// Package transporttest provides an in-memory transport for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/transport"
)

// Sent is one message delivered through a fake client.
type Sent struct {
	ConversationID string
	Text           string
}

// Fake is a scripted transport.Client. Tests drive it with Emit.
type Fake struct {
	TenantID string

	mu      sync.Mutex
	handler transport.Handler
	sent    []Sent
	closed  bool
	logouts int

	ConnectErr  error
	SendErr     error
	LogoutErr   error
	Media       map[string]domain.Media
	Chats       []domain.Conversation
	StateValue  domain.ConnectionState
	StateErr    error
	SentNotify  chan Sent

	// MediaGate, if set, holds DownloadMedia until it is closed or ctx ends.
	MediaGate chan struct{}
	CloseNotify chan struct{}
}

var _ transport.Client = (*Fake)(nil)

// NewFake creates a fake client for tenantID.
func NewFake(tenantID string) *Fake {
	return &Fake{
		TenantID:    tenantID,
		Media:       make(map[string]domain.Media),
		StateValue:  domain.StateUninitialized,
		SentNotify:  make(chan Sent, 64),
		CloseNotify: make(chan struct{}),
	}
}

func (f *Fake) Connect(_ context.Context, h transport.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.handler = h
	return nil
}

// Emit delivers ev synchronously to the connected handler.
func (f *Fake) Emit(ev transport.Event) {
	f.mu.Lock()
	h := f.handler
	closed := f.closed
	f.mu.Unlock()
	if h == nil || closed {
		return
	}
	h(ev)
}

func (f *Fake) SendText(_ context.Context, conversationID, text string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return transport.ErrClosed
	}
	if f.SendErr != nil {
		err := f.SendErr
		f.mu.Unlock()
		return err
	}
	s := Sent{ConversationID: conversationID, Text: text}
	f.sent = append(f.sent, s)
	f.mu.Unlock()

	select {
	case f.SentNotify <- s:
	default:
	}
	return nil
}

func (f *Fake) DownloadMedia(ctx context.Context, msg transport.RawMessage) (domain.Media, error) {
	if f.MediaGate != nil {
		select {
		case <-f.MediaGate:
		case <-ctx.Done():
			return domain.Media{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.Media[msg.ID]
	if !ok {
		return domain.Media{}, errors.New("media not found")
	}
	return m, nil
}

func (f *Fake) Conversations(_ context.Context) ([]domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, transport.ErrClosed
	}
	return append([]domain.Conversation(nil), f.Chats...), nil
}

func (f *Fake) State(_ context.Context) (domain.ConnectionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StateErr != nil {
		return domain.StateUninitialized, f.StateErr
	}
	return f.StateValue, nil
}

func (f *Fake) Logout(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return f.LogoutErr
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.CloseNotify)
	}
	return nil
}

// Sent returns a copy of every message sent so far.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) Logouts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logouts
}

// Hub hands out one Fake per tenant and remembers them.
type Hub struct {
	mu      sync.Mutex
	clients map[string][]*Fake

	// Prepare, if set, customizes each new fake before it is returned.
	Prepare func(*Fake)
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string][]*Fake)}
}

// Factory returns a transport.Factory backed by the hub.
func (h *Hub) Factory() transport.Factory {
	return func(tenantID string) (transport.Client, error) {
		f := NewFake(tenantID)
		if h.Prepare != nil {
			h.Prepare(f)
		}
		h.mu.Lock()
		h.clients[tenantID] = append(h.clients[tenantID], f)
		h.mu.Unlock()
		return f, nil
	}
}

// Latest returns the most recent fake created for tenantID.
func (h *Hub) Latest(tenantID string) *Fake {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.clients[tenantID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Created returns how many fakes were created for tenantID.
func (h *Hub) Created(tenantID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[tenantID])
}
