package tokenizer

import (
	"fmt"

	"github.com/example/go-bytebpe/internal/bpe"
	"github.com/example/go-bytebpe/internal/text"
)

// PostProcessor rewrites an encoding after the model has run. input is the
// original text the encoding refers to. Implementations never change the
// ids of model tokens.
type PostProcessor interface {
	Process(input string, enc *Encoding) *Encoding
}

// PostConfig is the serializable description of a post-processing chain.
// TrimOffsets runs before the boundary tokens are added.
type PostConfig struct {
	TrimOffsets bool   `json:"trim_offsets"`
	Begin       string `json:"begin,omitempty"`
	End         string `json:"end,omitempty"`
}

// Passthrough returns the encoding unchanged.
type Passthrough struct{}

func (Passthrough) Process(_ string, enc *Encoding) *Encoding { return enc }

// TrimOffsets narrows each token's source range so it excludes leading and
// trailing ASCII whitespace. Only offsets change.
type TrimOffsets struct{}

func (TrimOffsets) Process(input string, enc *Encoding) *Encoding {
	for i := range enc.Tokens {
		tok := &enc.Tokens[i]
		if tok.Special {
			continue
		}
		r := tok.Offsets
		for r.Start < r.End && r.Start < len(input) && isASCIISpace(input[r.Start]) {
			r.Start++
		}
		for r.End > r.Start && r.End <= len(input) && isASCIISpace(input[r.End-1]) {
			r.End--
		}
		tok.Offsets = r
	}

	return enc
}

func isASCIISpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}

	return false
}

// Boundary wraps the sequence in begin and end special tokens. Either may
// be absent. Removing tokens flagged Special at the edges reverses it.
type Boundary struct {
	Begin *Token
	End   *Token
}

func (b Boundary) Process(input string, enc *Encoding) *Encoding {
	out := make([]Token, 0, len(enc.Tokens)+2)
	if b.Begin != nil {
		tok := *b.Begin
		tok.Offsets = text.Range{}
		out = append(out, tok)
	}
	out = append(out, enc.Tokens...)
	if b.End != nil {
		tok := *b.End
		tok.Offsets = text.Range{Start: len(input), End: len(input)}
		out = append(out, tok)
	}
	enc.Tokens = out

	return enc
}

// Sequence runs processors in order.
type Sequence []PostProcessor

func (s Sequence) Process(input string, enc *Encoding) *Encoding {
	for _, p := range s {
		enc = p.Process(input, enc)
	}

	return enc
}

// NewPostProcessor builds the chain described by cfg. Boundary tokens must
// be special tokens of vocab.
func NewPostProcessor(cfg PostConfig, vocab *bpe.Vocabulary) (PostProcessor, error) {
	var chain Sequence
	if cfg.TrimOffsets {
		chain = append(chain, TrimOffsets{})
	}

	if cfg.Begin != "" || cfg.End != "" {
		var b Boundary
		var err error
		if b.Begin, err = boundaryToken(vocab, "post_processor.begin", cfg.Begin); err != nil {
			return nil, err
		}
		if b.End, err = boundaryToken(vocab, "post_processor.end", cfg.End); err != nil {
			return nil, err
		}
		chain = append(chain, b)
	}

	switch len(chain) {
	case 0:
		return Passthrough{}, nil
	case 1:
		return chain[0], nil
	default:
		return chain, nil
	}
}

func boundaryToken(vocab *bpe.Vocabulary, field, content string) (*Token, error) {
	if content == "" {
		return nil, nil
	}
	id, ok := vocab.SpecialID(content)
	if !ok {
		return nil, &bpe.ConfigError{Field: field, Reason: fmt.Sprintf("%q is not a special token", content)}
	}

	return &Token{ID: id, Value: content, Special: true}, nil
}
