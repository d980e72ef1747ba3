package reply

import (
	"strings"
	"testing"

	"github.com/ashureev/chatrelay/internal/choice"
	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/google/go-cmp/cmp"
)

func newTestComposer() *Composer {
	return NewComposer(choice.DefaultVocabulary())
}

func TestComposeConfirmIsDeterministic(t *testing.T) {
	c := newTestComposer()

	first := c.Compose(domain.Confirm("R$150"))
	second := c.Compose(domain.Confirm("R$150"))

	want := []Outbound{{Text: "✅ Pagamento R$150 lançado."}}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Fatalf("Compose(Confirm) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("Compose is not deterministic (-first +second):\n%s", diff)
	}
}

func TestComposeReplyVerbatim(t *testing.T) {
	c := newTestComposer()
	got := c.Compose(domain.Reply("Recebido, obrigado!"))
	if diff := cmp.Diff([]Outbound{{Text: "Recebido, obrigado!"}}, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if got := c.Compose(domain.Reply("  ")); len(got) != 0 {
		t.Fatalf("expected blank reply to produce no messages, got %v", got)
	}
}

func TestComposeNoop(t *testing.T) {
	if got := newTestComposer().Compose(domain.Noop()); len(got) != 0 {
		t.Fatalf("expected no messages, got %v", got)
	}
}

func TestComposeReject(t *testing.T) {
	c := newTestComposer()
	if got := c.Compose(domain.Reject("")); got[0].Text != DefaultRejectText {
		t.Fatalf("expected default reject text, got %q", got[0].Text)
	}
	if got := c.Compose(domain.Reject("Documento duplicado")); got[0].Text != "Documento duplicado" {
		t.Fatalf("expected verbatim reject text, got %q", got[0].Text)
	}
}

func TestComposeManualEdit(t *testing.T) {
	got := newTestComposer().Compose(domain.RequestManualEdit())
	if diff := cmp.Diff([]Outbound{{Text: ManualEditText}}, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeAskCategoryEndsWithTwoInstructions(t *testing.T) {
	c := newTestComposer()
	got := c.Compose(domain.AskCategory(domain.ItemContext{
		DocumentType: "boleto",
		Amount:       "R$200",
	}))
	if len(got) != 1 {
		t.Fatalf("expected one message, got %d", len(got))
	}

	lines := strings.Split(got[0].Text, "\n")
	tail := lines[len(lines)-2:]
	want := []string{
		"➡️ Responda *1* ou *pessoal* para Pessoal",
		"➡️ Responda *2* ou *empresa* para Empresa",
	}
	if diff := cmp.Diff(want, tail); diff != "" {
		t.Fatalf("instruction lines mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(got[0].Text, "💰 Valor: R$200") {
		t.Fatalf("expected amount line, got %q", got[0].Text)
	}
}

func TestComposeAskOmitsMissingFields(t *testing.T) {
	got := newTestComposer().Compose(domain.AskValidation(domain.ItemContext{Amount: "R$150"}))
	text := got[0].Text

	for _, absent := range []string{"Tipo", "Data", "Descrição", "Pagador"} {
		if strings.Contains(text, absent) {
			t.Errorf("expected %q to be omitted from %q", absent, text)
		}
	}

	want := strings.Join([]string{
		"🧾 *Confirme o lançamento*",
		"💰 Valor: R$150",
		"",
		"Os dados estão corretos?",
		"➡️ Responda *sim* ou *s* para Confirmar",
		"➡️ Responda *não* ou *n* para Cancelar",
		"➡️ Responda *editar* ou *corrigir* para Editar",
	}, "\n")
	if diff := cmp.Diff(want, text); diff != "" {
		t.Fatalf("validation template mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeAppendsNext(t *testing.T) {
	c := newTestComposer()
	d := domain.Confirm("R$150").WithNext(domain.AskValidation(domain.ItemContext{Amount: "R$90"}))

	got := c.Compose(d)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Text != "✅ Pagamento R$150 lançado." {
		t.Fatalf("expected confirmation first, got %q", got[0].Text)
	}
	if !strings.Contains(got[1].Text, "R$90") {
		t.Fatalf("expected follow-up question second, got %q", got[1].Text)
	}
}
