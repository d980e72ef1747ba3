// Package reply renders backend directives into outbound chat messages.
package reply

import (
	"fmt"
	"strings"

	"github.com/ashureev/chatrelay/internal/choice"
	"github.com/ashureev/chatrelay/internal/domain"
)

// Fixed message texts.
const (
	GenericErrorText  = "⚠️ Não foi possível processar sua mensagem agora. Tente novamente em instantes."
	DefaultRejectText = "❌ Lançamento não realizado."
	ManualEditText    = "✏️ Para corrigir, envie uma nova mensagem com os dados certos (tipo, valor, data e descrição)."

	confirmFormat = "✅ Pagamento %s lançado."

	categoryHeader   = "📋 *Novo lançamento recebido*"
	categoryQuestion = "Qual a categoria deste lançamento?"

	validationHeader   = "🧾 *Confirme o lançamento*"
	validationQuestion = "Os dados estão corretos?"
)

// Outbound is one message to send to the conversation.
type Outbound struct {
	Text string
}

// Composer turns directives into messages. It holds no mutable state.
type Composer struct {
	vocab choice.Vocabulary
}

// NewComposer creates a composer that lists reply options from vocab.
func NewComposer(vocab choice.Vocabulary) *Composer {
	return &Composer{vocab: vocab}
}

// Compose renders d, followed by its queued follow-up if present.
func (c *Composer) Compose(d domain.Directive) []Outbound {
	out := c.render(d)
	if d.Next != nil {
		out = append(out, c.render(*d.Next)...)
	}
	return out
}

func (c *Composer) render(d domain.Directive) []Outbound {
	switch d.Kind {
	case domain.DirectiveReply:
		if strings.TrimSpace(d.Text) == "" {
			return nil
		}
		return one(d.Text)
	case domain.DirectiveAskCategory:
		return one(c.question(categoryHeader, categoryQuestion, d.Context, c.vocab.Category))
	case domain.DirectiveAskValidation:
		return one(c.question(validationHeader, validationQuestion, d.Context, c.vocab.Validation))
	case domain.DirectiveConfirm:
		return one(fmt.Sprintf(confirmFormat, d.Amount))
	case domain.DirectiveRequestManualEdit:
		return one(ManualEditText)
	case domain.DirectiveReject:
		if strings.TrimSpace(d.Text) == "" {
			return one(DefaultRejectText)
		}
		return one(d.Text)
	default:
		return nil
	}
}

func one(text string) []Outbound {
	return []Outbound{{Text: text}}
}

func (c *Composer) question(header, question string, ctx *domain.ItemContext, table choice.Table) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')

	if ctx != nil {
		writeField(&b, "📄 Tipo", ctx.DocumentType)
		writeField(&b, "💰 Valor", ctx.Amount)
		writeField(&b, "📅 Data", ctx.Date)
		writeField(&b, "📝 Descrição", ctx.Description)
		writeField(&b, "👤 Pagador", ctx.Payer)
	}

	b.WriteByte('\n')
	b.WriteString(question)
	for _, opt := range table.Options() {
		b.WriteByte('\n')
		b.WriteString(instruction(opt))
	}
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteByte('\n')
}

// instruction renders one reply option, e.g. "➡️ Responda *sim* para Confirmar".
func instruction(opt choice.Option) string {
	tokens := opt.Tokens
	if len(tokens) > 2 {
		tokens = tokens[:2]
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = "*" + tok + "*"
	}
	return fmt.Sprintf("➡️ Responda %s para %s", strings.Join(quoted, " ou "), opt.Label)
}
