package testutil

import (
	"testing"

	"github.com/example/go-bytebpe/internal/tokenizer"
)

// AssertRoundTrip checks decode(encode(input)) == input. input must already
// be in normalized form.
func AssertRoundTrip(tb testing.TB, tok *tokenizer.Tokenizer, input string) {
	tb.Helper()

	enc, err := tok.Encode(input)
	if err != nil {
		tb.Fatalf("Encode(%q): %v", input, err)
	}

	got, err := tok.Decode(enc.IDs())
	if err != nil {
		tb.Fatalf("Decode(Encode(%q)): %v", input, err)
	}
	if got != input {
		tb.Fatalf("round trip mismatch:\n  input: %q\n  got:   %q", input, got)
	}
}

// AssertOffsets checks that token offsets are ordered and lie within input.
func AssertOffsets(tb testing.TB, input string, enc *tokenizer.Encoding) {
	tb.Helper()

	prev := 0
	for i, tok := range enc.Tokens {
		r := tok.Offsets
		if r.Start < 0 || r.End > len(input) || r.Start > r.End {
			tb.Fatalf("token %d %q: offsets [%d,%d) outside input of %d bytes", i, tok.Value, r.Start, r.End, len(input))
		}
		if r.Start < prev {
			tb.Fatalf("token %d %q: offsets [%d,%d) start before previous end %d", i, tok.Value, r.Start, r.End, prev)
		}
		prev = r.End
	}
}
