package choice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/chatrelay/internal/domain"
)

// ErrDuplicateToken is returned when two options of one table share a token.
var ErrDuplicateToken = errors.New("duplicate reply token")

// Option is one valid answer to a pending question. Tokens keep their
// display spelling; matching uses their normalized form.
type Option struct {
	Code   int
	Label  string
	Tokens []string
}

// Table is the ordered set of valid answers for one interaction kind.
type Table struct {
	options []Option
	index   map[string]int
}

// NewTable builds a table from options. A token claimed by two options is an
// error once normalized.
func NewTable(options ...Option) (Table, error) {
	t := Table{index: make(map[string]int)}
	for _, opt := range options {
		display := make([]string, 0, len(opt.Tokens))
		for _, tok := range opt.Tokens {
			n := Normalize(tok)
			if n == "" {
				continue
			}
			if prev, ok := t.index[n]; ok && prev != opt.Code {
				return Table{}, fmt.Errorf("%w: %q used by options %d and %d", ErrDuplicateToken, n, prev, opt.Code)
			}
			t.index[n] = opt.Code
			display = append(display, strings.TrimSpace(tok))
		}
		opt.Tokens = display
		t.options = append(t.options, opt)
	}
	return t, nil
}

func mustTable(options ...Option) Table {
	t, err := NewTable(options...)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the option code for a free-text reply.
func (t Table) Lookup(text string) (int, bool) {
	code, ok := t.index[Normalize(text)]
	return code, ok
}

// Options returns the options in declaration order.
func (t Table) Options() []Option {
	out := make([]Option, len(t.options))
	copy(out, t.options)
	return out
}

// Option returns the option with the given code.
func (t Table) Option(code int) (Option, bool) {
	for _, opt := range t.options {
		if opt.Code == code {
			return opt, true
		}
	}
	return Option{}, false
}

// Len returns the number of options.
func (t Table) Len() int {
	return len(t.options)
}

// Option codes sent to the backend.
const (
	CategoryPersonal = 0
	CategoryBusiness = 1

	ValidationConfirm = 0
	ValidationCancel  = 1
	ValidationEdit    = 2
)

// DefaultCategoryTable is the vocabulary for category selection.
func DefaultCategoryTable() Table {
	return mustTable(
		Option{Code: CategoryPersonal, Label: "Pessoal", Tokens: []string{"1", "pessoal", "pf"}},
		Option{Code: CategoryBusiness, Label: "Empresa", Tokens: []string{"2", "empresa", "pj"}},
	)
}

// DefaultValidationTable is the vocabulary for validation confirmation.
func DefaultValidationTable() Table {
	return mustTable(
		Option{Code: ValidationConfirm, Label: "Confirmar", Tokens: []string{"sim", "s", "confirmar", "ok"}},
		Option{Code: ValidationCancel, Label: "Cancelar", Tokens: []string{"não", "n", "cancelar"}},
		Option{Code: ValidationEdit, Label: "Editar", Tokens: []string{"editar", "corrigir"}},
	)
}

// Vocabulary holds the table for every interaction kind.
type Vocabulary struct {
	Category   Table
	Validation Table
}

// DefaultVocabulary returns the built-in vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Category:   DefaultCategoryTable(),
		Validation: DefaultValidationTable(),
	}
}

// For returns the table that answers the given interaction kind.
func (v Vocabulary) For(kind domain.InteractionKind) Table {
	if kind == domain.InteractionCategory {
		return v.Category
	}
	return v.Validation
}
