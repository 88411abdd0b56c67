// Package bpe implements byte-level BPE training, encoding and decoding over
// byte-mapped symbols.
package bpe

import (
	"fmt"
	"unicode/utf8"

	"github.com/example/go-bytebpe/internal/bytelevel"
)

// SpecialToken is a reserved vocabulary entry. Unsplittable tokens are
// matched literally in input text and never decomposed.
type SpecialToken struct {
	Content      string `json:"content"`
	Unsplittable bool   `json:"unsplittable"`
}

// ValidateSpecialTokens checks that special tokens are non-empty and unique.
func ValidateSpecialTokens(specials []SpecialToken) error {
	seen := make(map[string]struct{}, len(specials))
	for i, sp := range specials {
		if sp.Content == "" {
			return &ConfigError{Field: "special_tokens", Reason: fmt.Sprintf("token %d is empty", i)}
		}
		if _, dup := seen[sp.Content]; dup {
			return &ConfigError{Field: "special_tokens", Reason: fmt.Sprintf("duplicate token %q", sp.Content)}
		}
		seen[sp.Content] = struct{}{}
	}

	return nil
}

// Vocabulary maps symbols to dense ids. Special tokens occupy ids [0, k) and
// live in their own namespace, so a merged symbol with the same spelling as a
// special token gets a separate id. A Vocabulary is immutable once built.
type Vocabulary struct {
	symbols    []string
	specials   []SpecialToken
	ids        map[string]int
	specialIDs map[string]int
}

func newVocabulary(specials []SpecialToken) *Vocabulary {
	v := &Vocabulary{
		specials:   append([]SpecialToken(nil), specials...),
		ids:        make(map[string]int),
		specialIDs: make(map[string]int, len(specials)),
	}
	for i, sp := range specials {
		v.symbols = append(v.symbols, sp.Content)
		v.specialIDs[sp.Content] = i
	}

	return v
}

// add appends sym unless it already exists and returns its id.
func (v *Vocabulary) add(sym string) (int, bool) {
	if id, ok := v.ids[sym]; ok {
		return id, false
	}
	id := len(v.symbols)
	v.symbols = append(v.symbols, sym)
	v.ids[sym] = id

	return id, true
}

// NewVocabulary rebuilds a vocabulary from its id-ordered symbol list. The
// first len(specials) entries must spell the special tokens; every other
// entry must be a non-empty, unique string of byte symbols.
func NewVocabulary(specials []SpecialToken, symbols []string) (*Vocabulary, error) {
	if err := ValidateSpecialTokens(specials); err != nil {
		return nil, err
	}
	if len(symbols) < len(specials) {
		return nil, &ConfigError{Field: "vocab", Reason: "fewer entries than special tokens"}
	}

	v := newVocabulary(specials)
	for i, sp := range specials {
		if symbols[i] != sp.Content {
			return nil, &ConfigError{Field: "vocab", Reason: fmt.Sprintf("id %d is %q, want special token %q", i, symbols[i], sp.Content)}
		}
	}
	for i := len(specials); i < len(symbols); i++ {
		sym := symbols[i]
		if sym == "" {
			return nil, &ConfigError{Field: "vocab", Reason: fmt.Sprintf("id %d is empty", i)}
		}
		if _, err := bytelevel.Unmap(nil, sym); err != nil {
			return nil, &ConfigError{Field: "vocab", Reason: fmt.Sprintf("id %d: %v", i, err)}
		}
		if _, added := v.add(sym); !added {
			return nil, &ConfigError{Field: "vocab", Reason: fmt.Sprintf("duplicate symbol %q at id %d", sym, i)}
		}
	}

	return v, nil
}

// Size is the number of ids, special tokens included.
func (v *Vocabulary) Size() int { return len(v.symbols) }

// Symbol returns the content behind id.
func (v *Vocabulary) Symbol(id int) (string, bool) {
	if id < 0 || id >= len(v.symbols) {
		return "", false
	}

	return v.symbols[id], true
}

// ID looks up a byte-symbol string. Special tokens are not found here.
func (v *Vocabulary) ID(sym string) (int, bool) {
	id, ok := v.ids[sym]
	return id, ok
}

// SpecialID looks up a special token by its literal content.
func (v *Vocabulary) SpecialID(content string) (int, bool) {
	id, ok := v.specialIDs[content]
	return id, ok
}

// IsSpecial reports whether id is a reserved special token.
func (v *Vocabulary) IsSpecial(id int) bool { return id >= 0 && id < len(v.specials) }

// Specials returns the special tokens in id order.
func (v *Vocabulary) Specials() []SpecialToken {
	return append([]SpecialToken(nil), v.specials...)
}

// Symbols returns all entries in id order.
func (v *Vocabulary) Symbols() []string {
	return append([]string(nil), v.symbols...)
}

// symbolLen returns the byte length a symbol decodes to.
func symbolLen(sym string) int { return utf8.RuneCountInString(sym) }

// Display renders a symbol through the byte mapper for humans: printable
// UTF-8 stays readable, other bytes are escaped.
func Display(sym string) string {
	raw, err := bytelevel.Unmap(nil, sym)
	if err != nil {
		return sym
	}
	if utf8.Valid(raw) {
		return string(raw)
	}

	return fmt.Sprintf("%q", raw)
}
