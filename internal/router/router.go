// Package router classifies inbound items against the current conversation state.
package router

import (
	"strings"
	"time"

	"github.com/ashureev/chatrelay/internal/choice"
	"github.com/ashureev/chatrelay/internal/domain"
)

// DefaultMaxAge is how old an item may be before it is dropped as stale.
const DefaultMaxAge = 60 * time.Second

// ActionKind is the outcome of routing one item.
type ActionKind string

const (
	ActionDrop          ActionKind = "drop"
	ActionAnswerPending ActionKind = "answer_pending"
	ActionForward       ActionKind = "forward"
)

// DropReason explains why an item was dropped.
type DropReason string

const (
	DropStale    DropReason = "stale"
	DropNotGroup DropReason = "not_group"
	DropEmpty    DropReason = "empty"
)

// Action is the routing decision for an item.
type Action struct {
	Kind       ActionKind
	Reason     DropReason
	OptionCode int
}

func drop(reason DropReason) Action { return Action{Kind: ActionDrop, Reason: reason} }

// Options configures a Router.
type Options struct {
	MaxAge      time.Duration
	AllowDirect bool
	Vocabulary  choice.Vocabulary
	Now         func() time.Time
}

// Router is a pure classifier; it never mutates state.
type Router struct {
	maxAge      time.Duration
	allowDirect bool
	vocab       choice.Vocabulary
	now         func() time.Time
}

// New creates a router. Zero options fall back to the defaults.
func New(opts Options) *Router {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Vocabulary.Category.Len() == 0 && opts.Vocabulary.Validation.Len() == 0 {
		opts.Vocabulary = choice.DefaultVocabulary()
	}
	return &Router{
		maxAge:      opts.MaxAge,
		allowDirect: opts.AllowDirect,
		vocab:       opts.Vocabulary,
		now:         opts.Now,
	}
}

// Route classifies item given the conversation's pending interaction, if any.
func (r *Router) Route(item domain.InboundItem, pending *domain.Interaction) Action {
	if item.Age(r.now()) > r.maxAge {
		return drop(DropStale)
	}
	if !item.IsGroup && !r.allowDirect {
		return drop(DropNotGroup)
	}
	if item.Kind == domain.KindText && strings.TrimSpace(item.Text) == "" {
		return drop(DropEmpty)
	}

	// Unrecognized text falls through to forward so chatter never gets stuck
	// behind an open question.
	if pending != nil && item.Kind == domain.KindText {
		if code, ok := r.vocab.For(pending.Kind).Lookup(item.Text); ok {
			return Action{Kind: ActionAnswerPending, OptionCode: code}
		}
	}

	return Action{Kind: ActionForward}
}
