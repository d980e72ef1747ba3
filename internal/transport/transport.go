// Package transport defines the boundary to the chat transport that owns a
// tenant's chat account.
package transport

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
)

// ErrClosed is returned by operations on a client that has been closed.
var ErrClosed = errors.New("transport client closed")

// EventKind discriminates transport events.
type EventKind string

const (
	EventQR            EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventReady         EventKind = "ready"
	EventAuthFailure   EventKind = "auth_failure"
	EventDisconnected  EventKind = "disconnected"
	EventMessage       EventKind = "message"
)

// Event is one notification from the transport. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind    EventKind
	QRCode  string
	Reason  string
	Message *RawMessage
}

// RawMessage is a message as delivered by the transport, before media is
// downloaded.
type RawMessage struct {
	ID               string `json:"id"`
	ConversationID   string `json:"conversation_id"`
	ConversationName string `json:"conversation_name"`
	IsGroup          bool   `json:"is_group"`
	SenderID         string `json:"sender_id"`
	SenderName       string `json:"sender_name"`
	Timestamp        int64  `json:"timestamp"`
	Type             string `json:"type"`
	Body             string `json:"body"`
	HasMedia         bool   `json:"has_media"`
	FromMe           bool   `json:"from_me"`
}

// Handler receives transport events. It must not block for long.
type Handler func(Event)

// Client is a live connection to one tenant's chat account.
type Client interface {
	// Connect starts the connection and delivers events to h until the
	// client is closed or ctx is done.
	Connect(ctx context.Context, h Handler) error
	SendText(ctx context.Context, conversationID, text string) error
	DownloadMedia(ctx context.Context, msg RawMessage) (domain.Media, error)
	Conversations(ctx context.Context) ([]domain.Conversation, error)
	State(ctx context.Context) (domain.ConnectionState, error)
	Logout(ctx context.Context) error
	Close() error
}

// Factory creates a client for a tenant.
type Factory func(tenantID string) (Client, error)

// ItemKind maps the transport's message type onto an item kind.
// Unsupported types return false.
func ItemKind(msgType string) (domain.ItemKind, bool) {
	switch strings.ToLower(msgType) {
	case "chat", "text":
		return domain.KindText, true
	case "image", "sticker":
		return domain.KindImage, true
	case "audio", "ptt", "voice":
		return domain.KindAudio, true
	case "document", "file":
		return domain.KindDocument, true
	default:
		return "", false
	}
}

// ToItem normalizes a raw message and its optional media into an item.
func ToItem(tenantID string, msg RawMessage, media *domain.Media) (domain.InboundItem, bool) {
	kind, ok := ItemKind(msg.Type)
	if !ok {
		return domain.InboundItem{}, false
	}

	item := domain.InboundItem{
		TenantID:         tenantID,
		ConversationID:   msg.ConversationID,
		ConversationName: msg.ConversationName,
		IsGroup:          msg.IsGroup,
		SenderID:         msg.SenderID,
		SenderName:       msg.SenderName,
		SentAt:           time.Unix(msg.Timestamp, 0),
		Kind:             kind,
		Text:             msg.Body,
	}
	if media != nil {
		m := *media
		item.Media = &m
	}
	return item, true
}
