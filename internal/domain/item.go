// Package domain contains core domain types for the relay.
package domain

import (
	"time"
)

// ItemKind classifies an inbound transport message.
type ItemKind string

const (
	KindText     ItemKind = "text"
	KindImage    ItemKind = "image"
	KindAudio    ItemKind = "audio"
	KindDocument ItemKind = "document"
)

// Media is a downloaded attachment.
type Media struct {
	Data     []byte
	MimeType string
	Filename string
}

// InboundItem is the normalized form of one transport message.
// It is passed by value and never modified after construction.
type InboundItem struct {
	TenantID         string
	ConversationID   string
	ConversationName string
	IsGroup          bool
	SenderID         string
	SenderName       string
	SentAt           time.Time
	Kind             ItemKind
	Text             string
	Media            *Media
}

// HasMedia returns true if the item carries an attachment.
func (i InboundItem) HasMedia() bool {
	return i.Media != nil && len(i.Media.Data) > 0
}

// Age returns how long ago the item was sent relative to now.
func (i InboundItem) Age(now time.Time) time.Duration {
	return now.Sub(i.SentAt)
}
