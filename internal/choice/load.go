package choice

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// vocabularyFile is the on-disk override format:
//
//	category:
//	  - code: 0
//	    label: Pessoal
//	    tokens: ["1", "pessoal"]
//	validation:
//	  - ...
type vocabularyFile struct {
	Category   []optionSpec `yaml:"category"`
	Validation []optionSpec `yaml:"validation"`
}

type optionSpec struct {
	Code   int      `yaml:"code"`
	Label  string   `yaml:"label"`
	Tokens []string `yaml:"tokens"`
}

// LoadVocabulary reads a YAML vocabulary file. An empty path returns the
// defaults; a section missing from the file keeps its default table.
func LoadVocabulary(path string) (Vocabulary, error) {
	v := DefaultVocabulary()
	if path == "" {
		return v, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("read vocabulary file: %w", err)
	}
	return ParseVocabulary(b)
}

// ParseVocabulary decodes vocabulary YAML on top of the defaults.
func ParseVocabulary(b []byte) (Vocabulary, error) {
	v := DefaultVocabulary()

	var vf vocabularyFile
	if err := yaml.Unmarshal(b, &vf); err != nil {
		return Vocabulary{}, fmt.Errorf("parse vocabulary file: %w", err)
	}

	if len(vf.Category) > 0 {
		t, err := NewTable(toOptions(vf.Category)...)
		if err != nil {
			return Vocabulary{}, fmt.Errorf("category table: %w", err)
		}
		v.Category = t
	}
	if len(vf.Validation) > 0 {
		t, err := NewTable(toOptions(vf.Validation)...)
		if err != nil {
			return Vocabulary{}, fmt.Errorf("validation table: %w", err)
		}
		v.Validation = t
	}
	return v, nil
}

func toOptions(specs []optionSpec) []Option {
	out := make([]Option, 0, len(specs))
	for _, s := range specs {
		out = append(out, Option{Code: s.Code, Label: s.Label, Tokens: s.Tokens})
	}
	return out
}
