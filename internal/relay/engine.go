// Package relay drives one inbound item through classification, the decision
// service and the reply composer, keeping each conversation's pending
// interaction consistent.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/chatrelay/internal/backend"
	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/pending"
	"github.com/ashureev/chatrelay/internal/reply"
	"github.com/ashureev/chatrelay/internal/router"
)

// Sender delivers text into a conversation.
type Sender interface {
	SendText(ctx context.Context, conversationID, text string) error
}

// MessageLog records relayed traffic. Failures are logged and ignored.
type MessageLog interface {
	AppendMessage(ctx context.Context, msg *domain.LoggedMessage) error
}

// Options configures an Engine. Router, Pending, Gateway and Composer are
// required.
type Options struct {
	Router   *router.Router
	Pending  *pending.Store
	Gateway  backend.Gateway
	Composer *reply.Composer
	Log      MessageLog
	Logger   *slog.Logger
	Now      func() time.Time
}

// Engine handles inbound items for every tenant. Items for the same
// conversation are processed one at a time.
type Engine struct {
	router   *router.Router
	pending  *pending.Store
	gateway  backend.Gateway
	composer *reply.Composer
	log      MessageLog
	logger   *slog.Logger
	now      func() time.Time
	locks    *keyedLocks
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		router:   opts.Router,
		pending:  opts.Pending,
		gateway:  opts.Gateway,
		composer: opts.Composer,
		log:      opts.Log,
		logger:   opts.Logger,
		now:      opts.Now,
		locks:    newKeyedLocks(),
	}
}

// Handle processes one item and sends any resulting messages through sender.
// It returns the routing decision taken for the item.
func (e *Engine) Handle(ctx context.Context, sender Sender, item domain.InboundItem) router.Action {
	key := pending.Key{TenantID: item.TenantID, ConversationID: item.ConversationID}

	unlock := e.locks.lock(key)
	defer unlock()

	var open *domain.Interaction
	if in, ok := e.pending.Peek(key); ok {
		open = &in
	}

	action := e.router.Route(item, open)
	logger := e.logger.With(
		"tenant_id", item.TenantID,
		"conversation_id", item.ConversationID,
		"action", action.Kind,
	)

	var d domain.Directive
	switch action.Kind {
	case router.ActionDrop:
		logger.Debug("Dropping item", "reason", action.Reason, "kind", item.Kind)
		return action

	case router.ActionAnswerPending:
		e.record(ctx, item.TenantID, item.ConversationID, domain.DirectionInbound, item.SenderID, string(item.Kind), item.Text)
		d = e.gateway.SubmitChoice(ctx, backend.Choice{
			TenantID:       item.TenantID,
			ConversationID: item.ConversationID,
			SenderID:       item.SenderID,
			SenderName:     item.SenderName,
			OptionCode:     action.OptionCode,
			Kind:           open.Kind,
			Context:        open.Context,
		})

	case router.ActionForward:
		e.record(ctx, item.TenantID, item.ConversationID, domain.DirectionInbound, item.SenderID, string(item.Kind), item.Text)
		d = e.gateway.SubmitItem(ctx, item)
	}

	// The session ended while the backend was busy. Its pending state is
	// being discarded, so nothing may be opened or sent on its behalf.
	if ctx.Err() != nil {
		logger.Info("Session closed during backend call, discarding result", "directive", d.Kind)
		return action
	}

	if d.Failed() {
		logger.Warn("Backend call failed", "error", d.Err)
	} else if action.Kind == router.ActionAnswerPending {
		// A failed answer keeps the question open so the human can retry.
		e.pending.Resolve(key)
	}

	d = e.activate(key, d, logger)
	e.deliver(ctx, sender, key, d, logger)

	if follow, ok := e.promote(key); ok {
		logger.Info("Activating queued interaction", "kind", follow.Kind)
		e.deliver(ctx, sender, key, domain.AskFor(follow), logger)
	}

	return action
}

// activate opens the asks carried by d. An ask that cannot take the slot is
// queued and removed from what gets rendered now.
func (e *Engine) activate(key pending.Key, d domain.Directive, logger *slog.Logger) domain.Directive {
	if d.IsAsk() && !e.open(key, d, logger) {
		next := d.Next
		d = domain.Noop()
		d.Next = next
	}
	if d.Next != nil && d.Next.IsAsk() && !e.open(key, *d.Next, logger) {
		d.Next = nil
	}
	return d
}

// open reports whether the ask became the active interaction.
func (e *Engine) open(key pending.Key, ask domain.Directive, logger *slog.Logger) bool {
	in, ok := ask.Interaction()
	if !ok {
		return false
	}
	in.CreatedAt = e.now()

	err := e.pending.SetPending(key, in)
	if err == nil {
		return true
	}
	if errors.Is(err, pending.ErrAlreadyPending) {
		e.pending.Enqueue(key, in)
		logger.Info("Queued interaction behind open question", "kind", in.Kind, "queued", e.pending.QueueLen(key))
		return false
	}
	logger.Error("Failed to open interaction", "error", err)
	return false
}

// promote activates the next queued interaction if the slot is free.
func (e *Engine) promote(key pending.Key) (domain.Interaction, bool) {
	if _, busy := e.pending.Peek(key); busy {
		return domain.Interaction{}, false
	}
	in, ok := e.pending.DequeueNext(key)
	if !ok {
		return domain.Interaction{}, false
	}
	in.CreatedAt = e.now()
	if err := e.pending.SetPending(key, in); err != nil {
		e.pending.Enqueue(key, in)
		return domain.Interaction{}, false
	}
	return in, true
}

func (e *Engine) deliver(ctx context.Context, sender Sender, key pending.Key, d domain.Directive, logger *slog.Logger) {
	for _, out := range e.composer.Compose(d) {
		if err := sender.SendText(ctx, key.ConversationID, out.Text); err != nil {
			logger.Warn("Failed to send message", "error", err)
			continue
		}
		e.record(ctx, key.TenantID, key.ConversationID, domain.DirectionOutbound, "", string(domain.KindText), out.Text)
	}
}

func (e *Engine) record(ctx context.Context, tenantID, conversationID, direction, senderID, kind, body string) {
	if e.log == nil {
		return
	}
	msg := &domain.LoggedMessage{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Direction:      direction,
		SenderID:       senderID,
		Kind:           kind,
		Body:           strings.TrimSpace(body),
		CreatedAt:      e.now(),
	}
	// Detached so entries survive a cancelled session.
	if err := e.log.AppendMessage(context.WithoutCancel(ctx), msg); err != nil {
		e.logger.Warn("Failed to record message", "error", err, "tenant_id", tenantID)
	}
}

// DropTenant discards every pending interaction held for the tenant.
func (e *Engine) DropTenant(tenantID string) int {
	return e.pending.DropTenant(tenantID)
}

// Stats reports pending-state counters for the tenant.
func (e *Engine) Stats(tenantID string) pending.TenantStats {
	return e.pending.Stats(tenantID)
}
