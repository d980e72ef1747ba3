package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/pending"
	"github.com/ashureev/chatrelay/internal/relay"
	"github.com/ashureev/chatrelay/internal/router"
	"github.com/ashureev/chatrelay/internal/transport"
	"github.com/ashureev/chatrelay/internal/transport/transporttest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRelay struct {
	mu      sync.Mutex
	items   []domain.InboundItem
	dropped []string
	events  []string
	handled chan domain.InboundItem
	entered chan struct{}
	block   chan struct{}
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		handled: make(chan domain.InboundItem, 64),
		entered: make(chan struct{}, 64),
	}
}

func (f *fakeRelay) Handle(ctx context.Context, sender relay.Sender, item domain.InboundItem) router.Action {
	f.entered <- struct{}{}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	f.items = append(f.items, item)
	f.events = append(f.events, "handled "+item.Text)
	f.mu.Unlock()
	_ = sender.SendText(ctx, item.ConversationID, "ok")
	select {
	case f.handled <- item:
	default:
	}
	return router.Action{Kind: router.ActionForward}
}

func (f *fakeRelay) DropTenant(tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, tenantID)
	f.events = append(f.events, "dropped "+tenantID)
	return 1
}

func (f *fakeRelay) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.items))
	for _, it := range f.items {
		out = append(out, it.Text)
	}
	return out
}

func (f *fakeRelay) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeRelay) Stats(string) pending.TenantStats {
	return pending.TenantStats{Pending: 1, Queued: 2}
}

func (f *fakeRelay) droppedTenants() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dropped...)
}

type memStore struct {
	mu   sync.Mutex
	recs map[string]domain.SessionRecord
	err  error
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]domain.SessionRecord)}
}

func (m *memStore) UpsertSession(_ context.Context, rec *domain.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.TenantID] = *rec
	return nil
}

func (m *memStore) ListSessions(context.Context) ([]*domain.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*domain.SessionRecord
	for _, rec := range m.recs {
		rec := rec
		out = append(out, &rec)
	}
	return out, nil
}

func (m *memStore) DeleteSession(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, tenantID)
	return nil
}

func (m *memStore) state(tenantID string) (domain.ConnectionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[tenantID]
	return rec.State, ok
}

type fixture struct {
	reg   *Registry
	hub   *transporttest.Hub
	relay *fakeRelay
	store *memStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		hub:   transporttest.NewHub(),
		relay: newFakeRelay(),
		store: newMemStore(),
	}
	f.reg = NewRegistry(Options{
		Factory: f.hub.Factory(),
		Relay:   f.relay,
		Store:   f.store,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.reg.Shutdown(ctx)
	})
	return f
}

func (f *fixture) ready(t *testing.T, tenantID string) *transporttest.Fake {
	t.Helper()
	if _, err := f.reg.Initialize(context.Background(), tenantID); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	client := f.hub.Latest(tenantID)
	client.Emit(transport.Event{Kind: transport.EventAuthenticated})
	client.Emit(transport.Event{Kind: transport.EventReady})
	return client
}

func TestInitializeIsIdempotent(t *testing.T) {
	f := newFixture(t)

	first, err := f.reg.Initialize(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if first.State != domain.StateUninitialized {
		t.Fatalf("expected uninitialized, got %s", first.State)
	}
	if _, err := f.reg.Initialize(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if n := f.hub.Created("tenant-1"); n != 1 {
		t.Fatalf("expected one transport client, got %d", n)
	}
}

func TestPairingLifecycle(t *testing.T) {
	f := newFixture(t)
	if _, err := f.reg.Initialize(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	client := f.hub.Latest("tenant-1")

	client.Emit(transport.Event{Kind: transport.EventQR, QRCode: "code-1"})
	client.Emit(transport.Event{Kind: transport.EventQR, QRCode: "code-2"})
	snap, _ := f.reg.Snapshot("tenant-1")
	if snap.State != domain.StatePairingRequired || snap.PairingCode != "code-2" {
		t.Fatalf("expected latest pairing code, got %+v", snap)
	}

	client.Emit(transport.Event{Kind: transport.EventAuthenticated})
	snap, _ = f.reg.Snapshot("tenant-1")
	if snap.State != domain.StateConnecting || snap.HasPairingCode() {
		t.Fatalf("expected connecting without code, got %+v", snap)
	}

	client.Emit(transport.Event{Kind: transport.EventReady})
	snap, _ = f.reg.Snapshot("tenant-1")
	if snap.State != domain.StateReady {
		t.Fatalf("expected ready, got %s", snap.State)
	}
	if snap.Pending != 1 || snap.Queued != 2 {
		t.Fatalf("expected pending stats in snapshot, got %+v", snap)
	}
	if st, _ := f.store.state("tenant-1"); st != domain.StateReady {
		t.Fatalf("expected ready to be persisted, got %s", st)
	}
}

func TestDisconnectEvictsSession(t *testing.T) {
	for _, kind := range []transport.EventKind{transport.EventDisconnected, transport.EventAuthFailure} {
		t.Run(string(kind), func(t *testing.T) {
			f := newFixture(t)
			client := f.ready(t, "tenant-1")

			client.Emit(transport.Event{Kind: kind, Reason: "phone offline"})

			if _, err := f.reg.Snapshot("tenant-1"); !errors.Is(err, ErrUnknownTenant) {
				t.Fatalf("expected session to be evicted, got %v", err)
			}
			if !client.Closed() {
				t.Fatal("expected transport client to be closed")
			}
			if got := f.relay.droppedTenants(); len(got) != 1 || got[0] != "tenant-1" {
				t.Fatalf("expected pending state to be dropped, got %v", got)
			}
			if st, _ := f.store.state("tenant-1"); st != domain.StateDisconnected {
				t.Fatalf("expected disconnected to be persisted, got %s", st)
			}
		})
	}
}

func TestReinitializeAfterDisconnectCreatesNewClient(t *testing.T) {
	f := newFixture(t)
	client := f.ready(t, "tenant-1")
	client.Emit(transport.Event{Kind: transport.EventDisconnected})

	if _, err := f.reg.Initialize(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if n := f.hub.Created("tenant-1"); n != 2 {
		t.Fatalf("expected a fresh client, got %d created", n)
	}
}

func TestMessagesAreRelayedWhenReady(t *testing.T) {
	f := newFixture(t)
	client := f.ready(t, "tenant-1")
	client.Media["m-2"] = domain.Media{Data: []byte("img"), MimeType: "image/jpeg"}

	client.Emit(transport.Event{Kind: transport.EventMessage, Message: &transport.RawMessage{
		ID: "m-2", ConversationID: "g@g.us", IsGroup: true, Type: "image", HasMedia: true, Timestamp: time.Now().Unix(),
	}})

	select {
	case item := <-f.relay.handled:
		if item.TenantID != "tenant-1" || !item.HasMedia() || string(item.Media.Data) != "img" {
			t.Fatalf("unexpected item %+v", item)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay")
	}

	select {
	case sent := <-client.SentNotify:
		if sent.ConversationID != "g@g.us" {
			t.Fatalf("unexpected reply target %q", sent.ConversationID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected relay to reply through the session client")
	}
}

func TestMessagesBeforeReadyAreIgnored(t *testing.T) {
	f := newFixture(t)
	if _, err := f.reg.Initialize(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	client := f.hub.Latest("tenant-1")

	client.Emit(transport.Event{Kind: transport.EventMessage, Message: &transport.RawMessage{ID: "m-1", Type: "chat", Body: "oi"}})
	client.Emit(transport.Event{Kind: transport.EventReady})
	client.Emit(transport.Event{Kind: transport.EventMessage, Message: &transport.RawMessage{ID: "m-3", Type: "chat", Body: "eu", FromMe: true}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := f.relay.texts(); len(got) != 0 {
		t.Fatalf("expected no relayed items, got %v", got)
	}
}

func TestConversationsRequiresReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.reg.Conversations(ctx, "nobody"); !errors.Is(err, ErrUnknownTenant) {
		t.Fatalf("expected ErrUnknownTenant, got %v", err)
	}

	if _, err := f.reg.Initialize(ctx, "tenant-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := f.reg.Conversations(ctx, "tenant-1"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	client := f.hub.Latest("tenant-1")
	client.Chats = []domain.Conversation{{ID: "g@g.us", Name: "Financeiro", IsGroup: true}}
	client.Emit(transport.Event{Kind: transport.EventReady})

	convs, err := f.reg.Conversations(ctx, "tenant-1")
	if err != nil || len(convs) != 1 {
		t.Fatalf("unexpected conversations %+v err=%v", convs, err)
	}
}

func TestLogoutEvictsEvenOnError(t *testing.T) {
	f := newFixture(t)
	client := f.ready(t, "tenant-1")
	client.LogoutErr = errors.New("bridge refused")

	err := f.reg.Logout(context.Background(), "tenant-1")
	if err == nil {
		t.Fatal("expected logout error to surface")
	}
	if _, ok := f.reg.Get("tenant-1"); ok {
		t.Fatal("expected session to be evicted")
	}
	if _, ok := f.store.state("tenant-1"); ok {
		t.Fatal("expected session record to be deleted")
	}
	if client.Logouts() != 1 {
		t.Fatalf("expected one logout call, got %d", client.Logouts())
	}

	if err := f.reg.Logout(context.Background(), "tenant-1"); !errors.Is(err, ErrUnknownTenant) {
		t.Fatalf("expected ErrUnknownTenant, got %v", err)
	}
}

func TestConnectFailureEvicts(t *testing.T) {
	f := newFixture(t)
	f.hub.Prepare = func(c *transporttest.Fake) { c.ConnectErr = errors.New("dial refused") }

	if _, err := f.reg.Initialize(context.Background(), "tenant-1"); err == nil {
		t.Fatal("expected connect error")
	}
	if _, ok := f.reg.Get("tenant-1"); ok {
		t.Fatal("expected failed session to be removed")
	}
}

func TestRestoreOnBoot(t *testing.T) {
	f := newFixture(t)
	for id, st := range map[string]domain.ConnectionState{
		"ready":   domain.StateReady,
		"conn":    domain.StateConnecting,
		"gone":    domain.StateDisconnected,
		"pairing": domain.StatePairingRequired,
	} {
		_ = f.store.UpsertSession(context.Background(), &domain.SessionRecord{TenantID: id, State: st})
	}

	n, err := f.reg.RestoreOnBoot(context.Background())
	if err != nil {
		t.Fatalf("RestoreOnBoot: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 restored sessions, got %d", n)
	}
	list := f.reg.List()
	if len(list) != 2 || list[0].TenantID != "conn" || list[1].TenantID != "ready" {
		t.Fatalf("unexpected sessions %+v", list)
	}
}

func TestShutdownCancelsInflightMessages(t *testing.T) {
	f := newFixture(t)
	f.relay.block = make(chan struct{})
	client := f.ready(t, "tenant-1")

	client.Emit(transport.Event{Kind: transport.EventMessage, Message: &transport.RawMessage{
		ID: "m-1", ConversationID: "g@g.us", IsGroup: true, Type: "chat", Body: "oi", Timestamp: time.Now().Unix(),
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(f.reg.List()) != 0 {
		t.Fatal("expected registry to be empty")
	}
	if st, _ := f.store.state("tenant-1"); st != domain.StateReady {
		t.Fatalf("expected shutdown to keep persisted state, got %s", st)
	}
}

func groupMessage(id, typ, body string) *transport.RawMessage {
	return &transport.RawMessage{
		ID: id, ConversationID: "g@g.us", IsGroup: true, Type: typ, Body: body, Timestamp: time.Now().Unix(),
	}
}

func waitHandled(t *testing.T, f *fixture, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.relay.handled:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d messages", i, n)
		}
	}
}

func TestMessagesInOneConversationKeepArrivalOrder(t *testing.T) {
	f := newFixture(t)
	client := f.ready(t, "tenant-1")

	var want []string
	for i := 0; i < 20; i++ {
		body := fmt.Sprintf("msg-%02d", i)
		want = append(want, body)
		client.Emit(transport.Event{Kind: transport.EventMessage, Message: groupMessage(fmt.Sprintf("m-%d", i), "chat", body)})
	}
	waitHandled(t, f, len(want))

	if diff := cmp.Diff(want, f.relay.texts()); diff != "" {
		t.Fatalf("relay order mismatch (-want +got):\n%s", diff)
	}
}

func TestSlowMediaDoesNotLetLaterRepliesOvertake(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.hub.Prepare = func(c *transporttest.Fake) {
		c.MediaGate = gate
		c.Media["m-img"] = domain.Media{Data: []byte("img"), MimeType: "image/jpeg"}
	}
	client := f.ready(t, "tenant-1")

	img := groupMessage("m-img", "image", "boleto")
	img.HasMedia = true
	client.Emit(transport.Event{Kind: transport.EventMessage, Message: img})
	client.Emit(transport.Event{Kind: transport.EventMessage, Message: groupMessage("m-sim", "chat", "sim")})

	select {
	case item := <-f.relay.handled:
		t.Fatalf("expected nothing relayed while media downloads, got %q", item.Text)
	case <-time.After(50 * time.Millisecond):
	}
	close(gate)
	waitHandled(t, f, 2)

	if diff := cmp.Diff([]string{"boleto", "sim"}, f.relay.texts()); diff != "" {
		t.Fatalf("relay order mismatch (-want +got):\n%s", diff)
	}
}

func TestConversationsAreHandledIndependently(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.hub.Prepare = func(c *transporttest.Fake) { c.MediaGate = gate }
	client := f.ready(t, "tenant-1")

	img := groupMessage("m-img", "image", "boleto")
	img.HasMedia = true
	client.Emit(transport.Event{Kind: transport.EventMessage, Message: img})

	other := groupMessage("m-other", "chat", "outro grupo")
	other.ConversationID = "other@g.us"
	client.Emit(transport.Event{Kind: transport.EventMessage, Message: other})

	select {
	case item := <-f.relay.handled:
		if item.ConversationID != "other@g.us" {
			t.Fatalf("expected the other conversation first, got %+v", item)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("a slow conversation blocked another one")
	}
	close(gate)
	waitHandled(t, f, 1)
}

func TestDisconnectWaitsForInflightMessageBeforeDroppingState(t *testing.T) {
	f := newFixture(t)
	f.relay.block = make(chan struct{})
	client := f.ready(t, "tenant-1")

	client.Emit(transport.Event{Kind: transport.EventMessage, Message: groupMessage("m-1", "chat", "boleto")})
	select {
	case <-f.relay.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the relay call")
	}

	client.Emit(transport.Event{Kind: transport.EventDisconnected, Reason: "phone offline"})

	want := []string{"handled boleto", "dropped tenant-1"}
	if diff := cmp.Diff(want, f.relay.eventLog()); diff != "" {
		t.Fatalf("eviction order mismatch (-want +got):\n%s", diff)
	}
	if _, err := f.reg.Snapshot("tenant-1"); !errors.Is(err, ErrUnknownTenant) {
		t.Fatalf("expected session to be evicted, got %v", err)
	}
}

func TestMessagesAfterEvictionAreDropped(t *testing.T) {
	f := newFixture(t)
	client := f.ready(t, "tenant-1")
	s, _ := f.reg.Get("tenant-1")

	client.Emit(transport.Event{Kind: transport.EventDisconnected})
	if f.reg.enqueue(s, *groupMessage("m-late", "chat", "atrasada")) {
		t.Fatal("expected a closed session to refuse new messages")
	}

	if got := f.relay.texts(); len(got) != 0 {
		t.Fatalf("expected no relayed items, got %v", got)
	}
}

func TestTransportState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.reg.TransportState(ctx, "nobody"); !errors.Is(err, ErrUnknownTenant) {
		t.Fatalf("expected ErrUnknownTenant, got %v", err)
	}
	if _, err := f.reg.Initialize(ctx, "tenant-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := f.reg.TransportState(ctx, "tenant-1"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady before the session is live, got %v", err)
	}

	client := f.ready(t, "tenant-1")
	client.StateValue = domain.StateReady
	got, err := f.reg.TransportState(ctx, "tenant-1")
	if err != nil || got != domain.StateReady {
		t.Fatalf("expected ready from the transport, got %s err=%v", got, err)
	}
}
