package bytelevel

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

const (
	// PatternGPT2 splits contractions, letter runs, digit runs and other
	// symbol runs, each optionally carrying one leading space.
	PatternGPT2 = "gpt2"
	// PatternWhitespace keeps a leading space together with the run of
	// non-space characters that follows it.
	PatternWhitespace = "whitespace"
)

var patterns = map[string]string{
	PatternGPT2:       `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`,
	PatternWhitespace: ` ?\S+|\s+(?!\S)|\s+`,
}

// Segment is one pre-tokenized word. Text holds the raw bytes of the word
// (including any synthetic prefix); Start and End locate it in the split input.
type Segment struct {
	Text   string
	Start  int
	End    int
	Prefix int // leading bytes of Text that are not present in the input
}

// Mapped returns the byte-symbol form of the segment.
func (s Segment) Mapped() string { return MapString(s.Text) }

// Symbols returns one byte symbol per byte of Text.
func (s Segment) Symbols() []string {
	out := make([]string, len(s.Text))
	for i := 0; i < len(s.Text); i++ {
		out[i] = MapByte(s.Text[i])
	}

	return out
}

// SourceOffset converts a byte index within Text to an input byte offset.
func (s Segment) SourceOffset(i int) int {
	if i <= s.Prefix {
		return s.Start
	}

	return s.Start + i - s.Prefix
}

// Options configures a PreTokenizer.
type Options struct {
	// Pattern is PatternGPT2, PatternWhitespace, or a raw regexp2 expression.
	Pattern string
	// AddPrefixSpace inserts a space before the first word when the input
	// does not already start with whitespace.
	AddPrefixSpace bool
}

// DefaultOptions returns the GPT-2 pattern without prefix space.
func DefaultOptions() Options {
	return Options{Pattern: PatternGPT2}
}

// PreTokenizer splits text into byte-level segments. It is safe for
// concurrent use.
type PreTokenizer struct {
	opts Options
	re   *regexp2.Regexp
}

// New compiles the configured pattern.
func New(opts Options) (*PreTokenizer, error) {
	if opts.Pattern == "" {
		opts.Pattern = PatternGPT2
	}

	expr, ok := patterns[opts.Pattern]
	if !ok {
		expr = opts.Pattern
	}

	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("compile pre-tokenizer pattern %q: %w", opts.Pattern, err)
	}

	return &PreTokenizer{opts: opts, re: re}, nil
}

// Options returns the configuration the pre-tokenizer was built with.
func (p *PreTokenizer) Options() Options { return p.opts }

// Split cuts text into segments in input order. Concatenating the segment
// texts (minus prefixes) reproduces text byte for byte, including invalid
// UTF-8, which is matched as U+FFFD but copied from the input unchanged.
func (p *PreTokenizer) Split(text string) ([]Segment, error) {
	if text == "" {
		return nil, nil
	}

	runes := make([]rune, 0, len(text))
	offs := make([]int, 0, len(text)+1)
	for i := 0; i < len(text); {
		r, w := utf8.DecodeRuneInString(text[i:])
		runes = append(runes, r)
		offs = append(offs, i)
		i += w
	}
	offs = append(offs, len(text))

	var segs []Segment
	emit := func(from, to int) {
		if from < to {
			segs = append(segs, Segment{Text: text[offs[from]:offs[to]], Start: offs[from], End: offs[to]})
		}
	}

	cursor := 0
	m, err := p.re.FindRunesMatch(runes)
	for m != nil && err == nil {
		if m.Length == 0 {
			// Zero-width matches cannot come from the built-in patterns.
			return nil, fmt.Errorf("pre-tokenizer pattern %q matched empty text at rune %d", p.opts.Pattern, m.Index)
		}
		emit(cursor, m.Index)
		emit(m.Index, m.Index+m.Length)
		cursor = m.Index + m.Length
		m, err = p.re.FindNextMatch(m)
	}
	if err != nil {
		return nil, fmt.Errorf("pre-tokenize: %w", err)
	}
	emit(cursor, len(runes))

	if p.opts.AddPrefixSpace && len(segs) > 0 && !unicode.IsSpace(runes[0]) {
		segs[0].Text = " " + segs[0].Text
		segs[0].Prefix = 1
	}

	return segs, nil
}
