package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/pending"
	"github.com/ashureev/chatrelay/internal/relay"
	"github.com/ashureev/chatrelay/internal/router"
	"github.com/ashureev/chatrelay/internal/transport"
)

var (
	// ErrUnknownTenant is returned when no session exists for a tenant.
	ErrUnknownTenant = errors.New("no session for tenant")
	// ErrNotReady is returned when an operation needs a ready session.
	ErrNotReady = errors.New("session not ready")
)

const defaultMediaTimeout = 30 * time.Second

// Relay handles items received by ready sessions.
type Relay interface {
	Handle(ctx context.Context, sender relay.Sender, item domain.InboundItem) router.Action
	DropTenant(tenantID string) int
	Stats(tenantID string) pending.TenantStats
}

// Store persists session state so live tenants can be restored after a restart.
type Store interface {
	UpsertSession(ctx context.Context, rec *domain.SessionRecord) error
	ListSessions(ctx context.Context) ([]*domain.SessionRecord, error)
	DeleteSession(ctx context.Context, tenantID string) error
}

// Options configures a Registry.
type Options struct {
	Factory      transport.Factory
	Relay        Relay
	Store        Store
	Logger       *slog.Logger
	Now          func() time.Time
	MediaTimeout time.Duration
}

// Registry owns every tenant session in the process.
type Registry struct {
	factory      transport.Factory
	relay        Relay
	store        Store
	logger       *slog.Logger
	now          func() time.Time
	mediaTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MediaTimeout <= 0 {
		opts.MediaTimeout = defaultMediaTimeout
	}
	return &Registry{
		factory:      opts.Factory,
		relay:        opts.Relay,
		store:        opts.Store,
		logger:       opts.Logger,
		now:          opts.Now,
		mediaTimeout: opts.MediaTimeout,
		sessions:     make(map[string]*Session),
	}
}

// Initialize starts a session for the tenant, or returns the existing one.
func (r *Registry) Initialize(ctx context.Context, tenantID string) (Snapshot, error) {
	r.mu.Lock()
	if s, ok := r.sessions[tenantID]; ok {
		r.mu.Unlock()
		return r.snapshot(s), nil
	}

	client, err := r.factory(tenantID)
	if err != nil {
		r.mu.Unlock()
		return Snapshot{}, fmt.Errorf("create transport client: %w", err)
	}

	now := r.now()
	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		tenantID:  tenantID,
		client:    client,
		ctx:       sctx,
		cancel:    cancel,
		state:     domain.StateUninitialized,
		createdAt: now,
		updatedAt: now,
	}
	r.sessions[tenantID] = s
	r.mu.Unlock()

	r.logger.Info("Initializing session", "tenant_id", tenantID)

	if err := client.Connect(ctx, func(ev transport.Event) { r.dispatch(s, ev) }); err != nil {
		r.evict(s, "connect failed", false)
		return Snapshot{}, fmt.Errorf("connect transport: %w", err)
	}

	return r.snapshot(s), nil
}

// Get returns the tenant's session.
func (r *Registry) Get(tenantID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[tenantID]
	return s, ok
}

// Snapshot returns the tenant's current session view.
func (r *Registry) Snapshot(tenantID string) (Snapshot, error) {
	s, ok := r.Get(tenantID)
	if !ok {
		return Snapshot{}, ErrUnknownTenant
	}
	return r.snapshot(s), nil
}

func (r *Registry) snapshot(s *Session) Snapshot {
	snap := s.snapshot()
	if r.relay != nil {
		st := r.relay.Stats(s.tenantID)
		snap.Pending = st.Pending
		snap.Queued = st.Queued
	}
	return snap
}

// List returns snapshots of every session ordered by tenant ID.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, r.snapshot(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// Conversations lists the tenant's chats. The session must be ready.
func (r *Registry) Conversations(ctx context.Context, tenantID string) ([]domain.Conversation, error) {
	s, ok := r.Get(tenantID)
	if !ok {
		return nil, ErrUnknownTenant
	}
	if s.State() != domain.StateReady {
		return nil, ErrNotReady
	}
	convs, err := s.client.Conversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// TransportState asks a live session's transport for its own view of the
// connection.
func (r *Registry) TransportState(ctx context.Context, tenantID string) (domain.ConnectionState, error) {
	s, ok := r.Get(tenantID)
	if !ok {
		return "", ErrUnknownTenant
	}
	if !s.State().IsLive() {
		return "", ErrNotReady
	}
	st, err := s.client.State(ctx)
	if err != nil {
		return "", fmt.Errorf("transport state: %w", err)
	}
	return st, nil
}

// Logout signs the tenant out of the transport and evicts the session.
// The session is evicted even when the transport call fails.
func (r *Registry) Logout(ctx context.Context, tenantID string) error {
	s, ok := r.Get(tenantID)
	if !ok {
		return ErrUnknownTenant
	}

	err := s.client.Logout(ctx)
	r.evict(s, "logout", false)

	if r.store != nil {
		if delErr := r.store.DeleteSession(context.WithoutCancel(ctx), tenantID); delErr != nil {
			r.logger.Warn("Failed to delete session record", "error", delErr, "tenant_id", tenantID)
		}
	}
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	r.logger.Info("Tenant logged out", "tenant_id", tenantID)
	return nil
}

// RestoreOnBoot re-initializes tenants whose last recorded state was live.
func (r *Registry) RestoreOnBoot(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	recs, err := r.store.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	restored := 0
	for _, rec := range recs {
		if !rec.ShouldRestore() {
			continue
		}
		if _, err := r.Initialize(ctx, rec.TenantID); err != nil {
			r.logger.Warn("Failed to restore session", "error", err, "tenant_id", rec.TenantID)
			continue
		}
		restored++
	}
	return restored, nil
}

// Shutdown closes every session and waits for in-flight messages until ctx
// is done. Persisted states are left as they were so the next boot can
// restore them.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, s := range sessions {
			r.evict(s, "shutdown", false)
		}
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight messages: %w", ctx.Err())
	}
}

// evict cancels s, closes its client and waits for its message workers
// before dropping its pending interactions, so nothing a worker opened
// outlives the session. s stays registered until then, which keeps a new
// session for the same tenant from having its state dropped.
func (r *Registry) evict(s *Session, reason string, persist bool) {
	r.mu.Lock()
	current, ok := r.sessions[s.tenantID]
	if !ok || current != s || s.evicting {
		r.mu.Unlock()
		return
	}
	s.evicting = true
	r.mu.Unlock()

	s.cancel()
	if err := s.client.Close(); err != nil {
		r.logger.Debug("Failed to close transport client", "error", err, "tenant_id", s.tenantID)
	}
	s.closeInbox()

	lost := 0
	if r.relay != nil {
		lost = r.relay.DropTenant(s.tenantID)
	}

	r.mu.Lock()
	if r.sessions[s.tenantID] == s {
		delete(r.sessions, s.tenantID)
	}
	r.mu.Unlock()

	r.logger.Info("Session evicted", "tenant_id", s.tenantID, "reason", reason, "pending_lost", lost)

	if persist {
		r.persist(s)
	}
}

func (r *Registry) persist(s *Session) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.UpsertSession(ctx, s.record()); err != nil {
		r.logger.Warn("Failed to persist session state", "error", err, "tenant_id", s.tenantID)
	}
}
