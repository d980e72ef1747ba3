package domain

// DirectiveKind enumerates the instructions decoded from a backend response.
type DirectiveKind string

const (
	DirectiveReply             DirectiveKind = "reply"
	DirectiveAskCategory       DirectiveKind = "ask_category"
	DirectiveAskValidation     DirectiveKind = "ask_validation"
	DirectiveConfirm           DirectiveKind = "confirm"
	DirectiveRequestManualEdit DirectiveKind = "request_manual_edit"
	DirectiveReject            DirectiveKind = "reject"
	DirectiveNoop              DirectiveKind = "noop"
)

// Directive tells the relay what to say or ask next.
// Next holds a queued follow-up and is never itself chained.
type Directive struct {
	Kind    DirectiveKind
	Text    string
	Amount  string
	Context *ItemContext
	Next    *Directive

	// Err is set when the directive stands in for a failed backend call.
	Err error
}

func Reply(text string) Directive { return Directive{Kind: DirectiveReply, Text: text} }

func AskCategory(ctx ItemContext) Directive {
	return Directive{Kind: DirectiveAskCategory, Context: &ctx}
}

func AskValidation(ctx ItemContext) Directive {
	return Directive{Kind: DirectiveAskValidation, Context: &ctx}
}

func Confirm(amount string) Directive { return Directive{Kind: DirectiveConfirm, Amount: amount} }

func RequestManualEdit() Directive { return Directive{Kind: DirectiveRequestManualEdit} }

func Reject(text string) Directive { return Directive{Kind: DirectiveReject, Text: text} }

func Noop() Directive { return Directive{Kind: DirectiveNoop} }

// WithNext attaches a follow-up directive. Any follow-up already chained on
// next is dropped so the chain stays one level deep.
func (d Directive) WithNext(next Directive) Directive {
	next.Next = nil
	d.Next = &next
	return d
}

// IsAsk returns true for directives that open a pending interaction.
func (d Directive) IsAsk() bool {
	return d.Kind == DirectiveAskCategory || d.Kind == DirectiveAskValidation
}

// Failed returns true if the directive replaces a failed backend call.
func (d Directive) Failed() bool {
	return d.Err != nil
}

// Interaction converts an ask directive into the pending interaction it opens.
func (d Directive) Interaction() (Interaction, bool) {
	var kind InteractionKind
	switch d.Kind {
	case DirectiveAskCategory:
		kind = InteractionCategory
	case DirectiveAskValidation:
		kind = InteractionValidation
	default:
		return Interaction{}, false
	}
	var ctx ItemContext
	if d.Context != nil {
		ctx = *d.Context
	}
	return Interaction{Kind: kind, Context: ctx}, true
}

// AskFor builds the ask directive that re-renders a queued interaction.
func AskFor(in Interaction) Directive {
	if in.Kind == InteractionCategory {
		return AskCategory(in.Context)
	}
	return AskValidation(in.Context)
}
