// Package testutil provides shared corpora and helpers for tokenizer tests.
//
// Typical usage:
//
//	func TestMyPipeline(t *testing.T) {
//	    tok := testutil.TrainTokenizer(t, testutil.ToyCorpus(), 300)
//	    testutil.AssertRoundTrip(t, tok, "hello world")
//	    ...
//	}
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-bytebpe/internal/bpe"
	"github.com/example/go-bytebpe/internal/tokenizer"
)

// DefaultSpecials are the reserved tokens used across tests, all unsplittable.
func DefaultSpecials() []bpe.SpecialToken {
	return []bpe.SpecialToken{
		{Content: "<unk>", Unsplittable: true},
		{Content: "<mask>", Unsplittable: true},
		{Content: "<cls>", Unsplittable: true},
		{Content: "<sep>", Unsplittable: true},
	}
}

// ToyCorpus is a three-message chat export body.
func ToyCorpus() []string {
	return []string{
		"hey, are we still on for lunch tomorrow?",
		"yes! lunch at noon, the usual place",
		"great, see you at the usual place tomorrow",
	}
}

// MixedCorpus exercises multi-byte text, digits, punctuation and newlines.
func MixedCorpus() []string {
	return []string{
		"Grüße aus Köln, café au lait für 2,50 €",
		"naïve résumé\nsecond line\n\nthird",
		"emoji 🎉🎉 and CJK 漢字漢字 mixed in",
		"numbers 12345 67890 12345",
		"tabs\tand  double  spaces",
	}
}

// TrainTokenizer trains on corpus with the default pipeline options and the
// default specials.
func TrainTokenizer(tb testing.TB, corpus []string, vocabSize int) *tokenizer.Tokenizer {
	tb.Helper()

	tok, _, err := tokenizer.Train(context.Background(), corpus, tokenizer.DefaultOptions(), bpe.TrainerOptions{
		VocabSize:     vocabSize,
		SpecialTokens: DefaultSpecials(),
	})
	if err != nil {
		tb.Fatalf("train tokenizer: %v", err)
	}

	return tok
}

// WriteLines writes one line per entry to a file in dir and returns its path.
func WriteLines(tb testing.TB, dir, name string, lines []string) string {
	tb.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}

	return path
}
