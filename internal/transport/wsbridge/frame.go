package wsbridge

import (
	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/transport"
)

// Frame types sent by the relay.
const (
	frameSend     = "send"
	frameDownload = "download"
	frameChats    = "chats"
	frameState    = "state"
	frameLogout   = "logout"
)

// Frame types sent by the sidecar. Events mirror transport.EventKind.
const (
	frameResponse = "response"
)

// frame is the single JSON envelope used in both directions. Requests and
// their responses share ID.
type frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// Events.
	QR      string                `json:"qr,omitempty"`
	Reason  string                `json:"reason,omitempty"`
	Message *transport.RawMessage `json:"message,omitempty"`

	// Requests.
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text,omitempty"`
	MessageID      string `json:"message_id,omitempty"`

	// Responses.
	Error    string                `json:"error,omitempty"`
	Data     []byte                `json:"data,omitempty"`
	MimeType string                `json:"mime_type,omitempty"`
	Filename string                `json:"filename,omitempty"`
	Chats    []domain.Conversation `json:"chats,omitempty"`
	State    string                `json:"state,omitempty"`
}

// event converts an inbound frame to a transport event.
func (f frame) event() (transport.Event, bool) {
	switch kind := transport.EventKind(f.Type); kind {
	case transport.EventQR:
		return transport.Event{Kind: kind, QRCode: f.QR}, true
	case transport.EventAuthenticated, transport.EventReady:
		return transport.Event{Kind: kind}, true
	case transport.EventAuthFailure, transport.EventDisconnected:
		return transport.Event{Kind: kind, Reason: f.Reason}, true
	case transport.EventMessage:
		if f.Message == nil {
			return transport.Event{}, false
		}
		return transport.Event{Kind: kind, Message: f.Message}, true
	default:
		return transport.Event{}, false
	}
}
