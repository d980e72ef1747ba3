package router

import (
	"testing"
	"time"

	"github.com/ashureev/chatrelay/internal/choice"
	"github.com/ashureev/chatrelay/internal/domain"
)

var fixedNow = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func newTestRouter(allowDirect bool) *Router {
	return New(Options{
		AllowDirect: allowDirect,
		Now:         func() time.Time { return fixedNow },
	})
}

func textItem(text string, age time.Duration) domain.InboundItem {
	return domain.InboundItem{
		TenantID:       "tenant-1",
		ConversationID: "group-1@g.us",
		IsGroup:        true,
		SenderID:       "5511999990000@c.us",
		SenderName:     "Ana",
		SentAt:         fixedNow.Add(-age),
		Kind:           domain.KindText,
		Text:           text,
	}
}

func TestRouteDropsStaleItems(t *testing.T) {
	r := newTestRouter(false)

	for _, age := range []time.Duration{61 * time.Second, 5 * time.Minute, 24 * time.Hour} {
		got := r.Route(textItem("sim", age), &domain.Interaction{Kind: domain.InteractionValidation})
		if got.Kind != ActionDrop || got.Reason != DropStale {
			t.Errorf("age %v: expected drop(stale), got %+v", age, got)
		}
	}
}

func TestRouteKeepsItemAtMaxAge(t *testing.T) {
	r := newTestRouter(false)
	got := r.Route(textItem("boleto de R$200", 60*time.Second), nil)
	if got.Kind != ActionForward {
		t.Fatalf("expected forward at exactly max age, got %+v", got)
	}
}

func TestRouteDropsDirectConversations(t *testing.T) {
	r := newTestRouter(false)
	item := textItem("oi", time.Second)
	item.IsGroup = false

	got := r.Route(item, nil)
	if got.Kind != ActionDrop || got.Reason != DropNotGroup {
		t.Fatalf("expected drop(not_group), got %+v", got)
	}
}

func TestRouteAllowsDirectWhenPolicyEnabled(t *testing.T) {
	r := newTestRouter(true)
	item := textItem("oi", time.Second)
	item.IsGroup = false

	if got := r.Route(item, nil); got.Kind != ActionForward {
		t.Fatalf("expected forward, got %+v", got)
	}
}

func TestRouteDropsEmptyText(t *testing.T) {
	r := newTestRouter(false)
	if got := r.Route(textItem("   ", time.Second), nil); got.Reason != DropEmpty {
		t.Fatalf("expected drop(empty), got %+v", got)
	}
}

func TestRouteAnswersPendingValidation(t *testing.T) {
	r := newTestRouter(false)
	pending := &domain.Interaction{Kind: domain.InteractionValidation}

	for _, reply := range []string{"sim", "Sim", " sim ", "SIM"} {
		got := r.Route(textItem(reply, time.Second), pending)
		if got.Kind != ActionAnswerPending || got.OptionCode != choice.ValidationConfirm {
			t.Errorf("reply %q: expected answer_pending(0), got %+v", reply, got)
		}
	}
}

func TestRouteAnswersPendingCategory(t *testing.T) {
	r := newTestRouter(false)
	pending := &domain.Interaction{Kind: domain.InteractionCategory}

	got := r.Route(textItem("empresa", time.Second), pending)
	if got.Kind != ActionAnswerPending || got.OptionCode != choice.CategoryBusiness {
		t.Fatalf("expected answer_pending(%d), got %+v", choice.CategoryBusiness, got)
	}

	// Validation tokens do not answer a category question.
	if got := r.Route(textItem("sim", time.Second), pending); got.Kind != ActionForward {
		t.Fatalf("expected forward for token of another table, got %+v", got)
	}
}

func TestRouteUnrecognizedReplyIsForwarded(t *testing.T) {
	r := newTestRouter(false)
	pending := &domain.Interaction{Kind: domain.InteractionValidation}

	got := r.Route(textItem("boleto de R$200", time.Second), pending)
	if got.Kind != ActionForward {
		t.Fatalf("expected forward, got %+v", got)
	}
}

func TestRouteMediaNeverAnswersPending(t *testing.T) {
	r := newTestRouter(false)
	item := textItem("sim", time.Second)
	item.Kind = domain.KindImage
	item.Media = &domain.Media{Data: []byte{0xff, 0xd8}, MimeType: "image/jpeg"}

	got := r.Route(item, &domain.Interaction{Kind: domain.InteractionValidation})
	if got.Kind != ActionForward {
		t.Fatalf("expected media to be forwarded, got %+v", got)
	}
}
