package backend

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ashureev/chatrelay/internal/domain"
)

// Webhook response statuses that produce a directive.
const (
	StatusProcessed         = "processed"
	StatusPendingCategory   = "pending_category"
	StatusPendingValidation = "pending_validation"
	StatusDuplicate         = "duplicate"
	StatusRejected          = "rejected"
	StatusIgnored           = "ignored"
	StatusEditRequested     = "edit_requested"
	StatusCancelled         = "cancelled"
	StatusError             = "error"
)

// webhookRequest is the body of POST /webhook.
type webhookRequest struct {
	TenantID         string `json:"tenant_id"`
	ConversationID   string `json:"conversation_id"`
	ConversationName string `json:"conversation_name"`
	SenderID         string `json:"sender_id"`
	SenderName       string `json:"sender_name"`
	Timestamp        string `json:"timestamp"`
	Type             string `json:"type"`
	Text             string `json:"text,omitempty"`
	Media            string `json:"media,omitempty"`
	MediaMime        string `json:"media_mime,omitempty"`
	MediaFilename    string `json:"media_filename,omitempty"`
}

// amount is a monetary value the backend sends either as a formatted string
// ("R$150,00") or as a bare JSON number (150.5).
type amount string

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*a = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amount(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("valor: %w", err)
		}
		*a = amount(n.String())
	}
	return nil
}

// processedInfo is the item description the backend attaches to questions.
type processedInfo struct {
	PendingID    string `json:"pending_id"`
	UploadID     string `json:"upload_id"`
	DocumentType string `json:"tipo"`
	Amount       amount `json:"valor"`
	Date         string `json:"data"`
	Description  string `json:"descricao"`
	Payer        string `json:"pagador"`
}

func (p *processedInfo) context() domain.ItemContext {
	if p == nil {
		return domain.ItemContext{}
	}
	return domain.ItemContext{
		PendingID:    p.PendingID,
		UploadID:     p.UploadID,
		DocumentType: p.DocumentType,
		Amount:       string(p.Amount),
		Date:         p.Date,
		Description:  p.Description,
		Payer:        p.Payer,
	}
}

// webhookResponse is the body returned by POST /webhook.
type webhookResponse struct {
	Status        string         `json:"status"`
	Message       string         `json:"message,omitempty"`
	ProcessedInfo *processedInfo `json:"processed_info,omitempty"`
	PendingID     string         `json:"pending_id,omitempty"`
	UploadID      string         `json:"upload_id,omitempty"`
}

// choiceRequest is the body of POST /category-selection and POST /poll-vote.
type choiceRequest struct {
	PollID         string `json:"poll_id"`
	Voter          string `json:"voter"`
	VoterName      string `json:"voter_name"`
	SelectedOption int    `json:"selected_option"`
	GroupID        string `json:"group_id"`
}

// categoryResponse is the body returned by POST /category-selection.
type categoryResponse struct {
	Status             string         `json:"status,omitempty"`
	Message            string         `json:"message,omitempty"`
	SendValidationPoll bool           `json:"send_validation_poll,omitempty"`
	ProcessedInfo      *processedInfo `json:"processed_info,omitempty"`
	NextValidation     *processedInfo `json:"next_validation,omitempty"`
}

// voteResponse is the body returned by POST /poll-vote.
type voteResponse struct {
	Status           string         `json:"status,omitempty"`
	SendConfirmation bool           `json:"send_confirmation,omitempty"`
	Valor            amount         `json:"valor,omitempty"`
	SendMessage      string         `json:"send_message,omitempty"`
	NextValidation   *processedInfo `json:"next_validation,omitempty"`
}

// withIDs fills ids the backend returned at the top level instead of inside
// processed_info.
func withIDs(ctx domain.ItemContext, pendingID, uploadID string) domain.ItemContext {
	if ctx.PendingID == "" {
		ctx.PendingID = pendingID
	}
	if ctx.UploadID == "" {
		ctx.UploadID = uploadID
	}
	return ctx
}

func (r *webhookResponse) directive() domain.Directive {
	switch r.Status {
	case StatusPendingCategory:
		return domain.AskCategory(withIDs(r.ProcessedInfo.context(), r.PendingID, r.UploadID))
	case StatusPendingValidation:
		return domain.AskValidation(withIDs(r.ProcessedInfo.context(), r.PendingID, r.UploadID))
	case StatusDuplicate, StatusRejected, StatusError:
		return domain.Reject(r.Message)
	case StatusEditRequested:
		return domain.RequestManualEdit()
	case StatusIgnored:
		return domain.Noop()
	case StatusProcessed:
		if r.Message != "" {
			return domain.Reply(r.Message)
		}
		return domain.Noop()
	}
	// A status we do not know: say what the backend said, if anything.
	if r.Message != "" {
		return domain.Reply(r.Message)
	}
	return domain.Noop()
}

func (r *categoryResponse) directive() domain.Directive {
	var d domain.Directive
	switch {
	case r.SendValidationPoll && r.ProcessedInfo != nil:
		d = domain.AskValidation(r.ProcessedInfo.context())
	case r.Message != "":
		d = domain.Reply(r.Message)
	default:
		d = domain.Noop()
	}
	if r.NextValidation != nil {
		d = chain(d, domain.AskValidation(r.NextValidation.context()))
	}
	return d
}

func (r *voteResponse) directive() domain.Directive {
	var d domain.Directive
	switch {
	case r.SendConfirmation:
		d = domain.Confirm(string(r.Valor))
	case r.Status == StatusEditRequested:
		d = domain.RequestManualEdit()
	case r.Status == StatusCancelled || r.Status == StatusRejected:
		d = domain.Reject(r.SendMessage)
	case r.SendMessage != "":
		d = domain.Reply(r.SendMessage)
	default:
		d = domain.Noop()
	}
	if r.NextValidation != nil {
		d = chain(d, domain.AskValidation(r.NextValidation.context()))
	}
	return d
}

// chain attaches next as the follow-up, promoting it when the primary is a no-op.
func chain(primary, next domain.Directive) domain.Directive {
	if primary.Kind == domain.DirectiveNoop {
		return next
	}
	return primary.WithNext(next)
}
