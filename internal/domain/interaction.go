package domain

import "time"

// InteractionKind is the type of multi-choice question awaiting a reply.
type InteractionKind string

const (
	InteractionCategory   InteractionKind = "category_selection"
	InteractionValidation InteractionKind = "validation_confirmation"
)

// ItemContext describes the item being classified or validated.
// Every field is optional.
type ItemContext struct {
	PendingID    string `json:"pending_id,omitempty"`
	UploadID     string `json:"upload_id,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
	Amount       string `json:"amount,omitempty"`
	Date         string `json:"date,omitempty"`
	Description  string `json:"description,omitempty"`
	Payer        string `json:"payer,omitempty"`
}

// Interaction is a question asked in a conversation that waits for a human reply.
type Interaction struct {
	Kind      InteractionKind
	Context   ItemContext
	CreatedAt time.Time
}
