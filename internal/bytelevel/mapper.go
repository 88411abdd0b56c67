// Package bytelevel maps raw bytes to printable symbols and splits text into
// byte-level words.
//
// The byte table follows the GPT-2 layout: printable Latin-1 bytes map to
// themselves and the remaining 68 bytes (controls, space, NBSP, soft hyphen)
// are shifted to code points starting at U+0100. Every byte therefore has a
// distinct, printable, whitespace-free single-rune symbol.
package bytelevel

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrUnmappable marks a symbol the byte mapper never produces. It is
// wrapped by SymbolError; the bpe model reports it to callers as a
// bpe.DecodeError.
var ErrUnmappable = errors.New("symbol not produced by byte mapper")

// SymbolError reports a rune that has no byte in the mapping table.
type SymbolError struct {
	Symbol rune
	Offset int // byte offset of the rune within the unmapped string
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("unmap %q (U+%04X) at offset %d: %v", e.Symbol, e.Symbol, e.Offset, ErrUnmappable)
}

func (e *SymbolError) Unwrap() error { return ErrUnmappable }

type table struct {
	encode [256]rune
	decode map[rune]byte
}

var mapping = buildTable()

func buildTable() table {
	var t table
	assigned := [256]bool{}
	for _, r := range [][2]int{{'!', '~'}, {0xA1, 0xAC}, {0xAE, 0xFF}} {
		for b := r[0]; b <= r[1]; b++ {
			t.encode[b] = rune(b)
			assigned[b] = true
		}
	}

	next := rune(256)
	for b := 0; b < 256; b++ {
		if !assigned[b] {
			t.encode[b] = next
			next++
		}
	}

	t.decode = make(map[rune]byte, 256)
	for b, r := range t.encode {
		t.decode[r] = byte(b)
	}

	return t
}

// MapByte returns the symbol for b.
func MapByte(b byte) string {
	return string(mapping.encode[b])
}

// MapRune returns the symbol rune for b.
func MapRune(b byte) rune {
	return mapping.encode[b]
}

// UnmapSymbol is the inverse of MapByte.
func UnmapSymbol(sym string) (byte, error) {
	r, size := utf8.DecodeRuneInString(sym)
	if size == 0 || size != len(sym) {
		return 0, fmt.Errorf("unmap %q: want exactly one symbol: %w", sym, ErrUnmappable)
	}

	b, ok := mapping.decode[r]
	if !ok {
		return 0, &SymbolError{Symbol: r}
	}

	return b, nil
}

// Map converts raw bytes to their symbol string. Map never fails and the
// result has exactly one rune per input byte.
func Map(raw []byte) string {
	var sb strings.Builder
	sb.Grow(len(raw) * 2)
	for _, b := range raw {
		sb.WriteRune(mapping.encode[b])
	}

	return sb.String()
}

// MapString is Map for string input; invalid UTF-8 is carried byte by byte.
func MapString(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		sb.WriteRune(mapping.encode[s[i]])
	}

	return sb.String()
}

// Unmap appends the bytes behind a (possibly merged) symbol string to dst.
func Unmap(dst []byte, symbols string) ([]byte, error) {
	for i, r := range symbols {
		b, ok := mapping.decode[r]
		if !ok {
			return dst, &SymbolError{Symbol: r, Offset: i}
		}
		dst = append(dst, b)
	}

	return dst, nil
}

// Alphabet returns all 256 byte symbols in byte order.
func Alphabet() []string {
	out := make([]string, 256)
	for b := range out {
		out[b] = string(mapping.encode[b])
	}

	return out
}
