// Package text implements offset-preserving text normalization.
package text

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Range is a half-open byte range [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Normalized is a string together with, for every byte, the range of the
// original input it was produced from.
type Normalized struct {
	text     string
	align    []Range
	original int
}

// NewNormalized wraps s with the identity alignment.
func NewNormalized(s string) *Normalized {
	align := make([]Range, len(s))
	for i := range align {
		align[i] = Range{Start: i, End: i + 1}
	}

	return &Normalized{text: s, align: align, original: len(s)}
}

// String returns the normalized text.
func (n *Normalized) String() string { return n.text }

// Original maps the normalized byte range [start, end) back to the input.
func (n *Normalized) Original(start, end int) Range {
	if start >= len(n.align) {
		end := n.original
		if len(n.align) > 0 {
			end = n.align[len(n.align)-1].End
		}
		return Range{Start: end, End: end}
	}
	if end <= start {
		s := n.align[start].Start
		return Range{Start: s, End: s}
	}
	if end > len(n.align) {
		end = len(n.align)
	}

	return Range{Start: n.align[start].Start, End: n.align[end-1].End}
}

func (n *Normalized) slice(from, to int) {
	n.text = n.text[from:to]
	n.align = n.align[from:to]
}

// Step is one normalization stage.
type Step interface {
	Apply(n *Normalized)
}

// Strip removes leading and/or trailing Unicode whitespace.
type Strip struct {
	Left  bool
	Right bool
}

// Apply implements Step.
func (s Strip) Apply(n *Normalized) {
	from, to := 0, len(n.text)
	if s.Left {
		from = len(n.text) - len(strings.TrimLeftFunc(n.text, unicode.IsSpace))
	}
	if s.Right {
		to = len(strings.TrimRightFunc(n.text, unicode.IsSpace))
	}
	if to < from {
		to = from
	}
	n.slice(from, to)
}

// NFC applies Unicode canonical composition.
type NFC struct{}

// Apply implements Step. Each output segment inherits the input range of the
// segment it was composed from; unchanged segments keep per-byte alignment.
func (NFC) Apply(n *Normalized) {
	if norm.NFC.IsNormalString(n.text) {
		return
	}

	var (
		it    norm.Iter
		sb    strings.Builder
		align = make([]Range, 0, len(n.align))
		prev  int
	)
	it.InitString(norm.NFC, n.text)
	for !it.Done() {
		seg := it.Next()
		pos := it.Pos()
		if pos <= prev {
			continue
		}

		align = alignSegment(align, string(seg), n.text[prev:pos], n.align[prev:pos])

		sb.Write(seg)
		prev = pos
	}

	n.text = sb.String()
	n.align = align
}

// alignSegment appends alignments for out, which replaced in. Runes shared at
// the start and end of both keep their own ranges; the rewritten middle maps
// to the whole input range it came from.
func alignSegment(dst []Range, out, in string, inAlign []Range) []Range {
	if out == in {
		return append(dst, inAlign...)
	}

	head := 0
	for head < len(out) && head < len(in) {
		ro, so := utf8.DecodeRuneInString(out[head:])
		ri, si := utf8.DecodeRuneInString(in[head:])
		if ro != ri || so != si {
			break
		}
		head += so
	}

	tail := 0
	for tail < len(out)-head && tail < len(in)-head {
		ro, so := utf8.DecodeLastRuneInString(out[:len(out)-tail])
		ri, si := utf8.DecodeLastRuneInString(in[:len(in)-tail])
		if ro != ri || so != si || tail+so > len(out)-head || tail+si > len(in)-head {
			break
		}
		tail += so
	}

	dst = append(dst, inAlign[:head]...)
	if mid := len(out) - head - tail; mid > 0 {
		var span Range
		if len(in)-tail > head {
			span = Range{Start: inAlign[head].Start, End: inAlign[len(in)-tail-1].End}
		} else {
			at := inAlign[0].Start
			if head > 0 {
				at = inAlign[head-1].End
			}
			span = Range{Start: at, End: at}
		}
		for i := 0; i < mid; i++ {
			dst = append(dst, span)
		}
	}

	return append(dst, inAlign[len(in)-tail:]...)
}

// StripMode selects which side Strip trims.
type StripMode string

const (
	StripBoth  StripMode = "both"
	StripLeft  StripMode = "left"
	StripRight StripMode = "right"
	StripNone  StripMode = "none"
)

// ParseStripMode validates a configured strip mode. Empty means both.
func ParseStripMode(raw string) (StripMode, error) {
	switch m := StripMode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return StripBoth, nil
	case StripBoth, StripLeft, StripRight, StripNone:
		return m, nil
	default:
		return "", fmt.Errorf("invalid strip mode %q (expected both|left|right|none)", raw)
	}
}

// Options configures a Normalizer.
type Options struct {
	Strip StripMode `json:"strip"`
	NFC   bool      `json:"nfc"`
}

// DefaultOptions strips both sides and applies NFC.
func DefaultOptions() Options {
	return Options{Strip: StripBoth, NFC: true}
}

// Normalizer runs its steps in order: strip, then NFC.
type Normalizer struct {
	opts  Options
	steps []Step
}

// NewNormalizer builds the step sequence for opts.
func NewNormalizer(opts Options) (*Normalizer, error) {
	mode, err := ParseStripMode(string(opts.Strip))
	if err != nil {
		return nil, err
	}
	opts.Strip = mode

	var steps []Step
	if mode != StripNone {
		steps = append(steps, Strip{
			Left:  mode == StripBoth || mode == StripLeft,
			Right: mode == StripBoth || mode == StripRight,
		})
	}
	if opts.NFC {
		steps = append(steps, NFC{})
	}

	return &Normalizer{opts: opts, steps: steps}, nil
}

// Options returns the normalizer configuration.
func (z *Normalizer) Options() Options { return z.opts }

// NormalizeString normalizes s and keeps its alignment.
func (z *Normalizer) NormalizeString(s string) *Normalized {
	n := NewNormalized(s)
	for _, st := range z.steps {
		st.Apply(n)
	}

	return n
}

// Normalize returns the normalized form of s. It is idempotent.
func (z *Normalizer) Normalize(s string) string {
	return z.NormalizeString(s).String()
}
