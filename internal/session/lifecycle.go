package session

import (
	"context"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/transport"
)

// dispatch routes a transport event to its state handler.
func (r *Registry) dispatch(s *Session, ev transport.Event) {
	switch ev.Kind {
	case transport.EventQR:
		r.onQR(s, ev.QRCode)
	case transport.EventAuthenticated:
		r.onAuthenticated(s)
	case transport.EventReady:
		r.onReady(s)
	case transport.EventAuthFailure:
		r.onAuthFailure(s, ev.Reason)
	case transport.EventDisconnected:
		r.onDisconnected(s, ev.Reason)
	case transport.EventMessage:
		if ev.Message != nil {
			r.onMessage(s, *ev.Message)
		}
	default:
		r.logger.Debug("Ignoring transport event", "tenant_id", s.tenantID, "kind", ev.Kind)
	}
}

// onQR stores a fresh pairing code. Every new code replaces the previous one.
func (r *Registry) onQR(s *Session, code string) {
	from := s.transition(domain.StatePairingRequired, code, r.now())
	if from != domain.StatePairingRequired {
		r.logger.Info("Pairing required", "tenant_id", s.tenantID)
		r.persist(s)
	}
}

func (r *Registry) onAuthenticated(s *Session) {
	s.transition(domain.StateConnecting, "", r.now())
	r.logger.Info("Session authenticated", "tenant_id", s.tenantID)
	r.persist(s)
}

func (r *Registry) onReady(s *Session) {
	s.transition(domain.StateReady, "", r.now())
	r.logger.Info("Session ready", "tenant_id", s.tenantID)
	r.persist(s)
}

func (r *Registry) onAuthFailure(s *Session, reason string) {
	s.transition(domain.StateDisconnected, "", r.now())
	r.logger.Warn("Authentication failed", "tenant_id", s.tenantID, "reason", reason)
	r.evict(s, "auth failure", true)
}

func (r *Registry) onDisconnected(s *Session, reason string) {
	s.transition(domain.StateDisconnected, "", r.now())
	r.logger.Warn("Session disconnected", "tenant_id", s.tenantID, "reason", reason)
	r.evict(s, "disconnected", true)
}

// onMessage queues a message for its conversation's worker so the
// transport's event loop is never blocked by backend calls.
func (r *Registry) onMessage(s *Session, msg transport.RawMessage) {
	if s.State() != domain.StateReady {
		r.logger.Debug("Ignoring message before ready", "tenant_id", s.tenantID, "state", s.State())
		return
	}
	if msg.FromMe || s.ctx.Err() != nil {
		return
	}
	if !r.enqueue(s, msg) {
		r.logger.Debug("Session closing, message dropped", "tenant_id", s.tenantID, "message_id", msg.ID)
	}
}

func (r *Registry) relayMessage(s *Session, msg transport.RawMessage) {
	logger := r.logger.With("tenant_id", s.tenantID, "conversation_id", msg.ConversationID, "message_id", msg.ID)

	var media *domain.Media
	if msg.HasMedia {
		ctx, cancel := context.WithTimeout(s.ctx, r.mediaTimeout)
		m, err := s.client.DownloadMedia(ctx, msg)
		cancel()
		if err != nil {
			logger.Warn("Failed to download media", "error", err)
		} else {
			media = &m
		}
	}

	item, ok := transport.ToItem(s.tenantID, msg, media)
	if !ok {
		logger.Debug("Ignoring unsupported message type", "type", msg.Type)
		return
	}

	if r.relay == nil {
		return
	}
	action := r.relay.Handle(s.ctx, s.client, item)
	logger.Debug("Message handled", "action", action.Kind, "reason", action.Reason)
}
