// Package doctor provides preflight checks for tokenizer artifacts.
package doctor

import (
	"fmt"
	"io"
	"os"

	"github.com/example/go-bytebpe/internal/bytelevel"
	"github.com/example/go-bytebpe/internal/tokenizer"
)

// PassMark, WarnMark and FailMark are the prefix symbols printed for each
// check result. Warnings do not fail the run.
const (
	PassMark = "✓"
	WarnMark = "!"
	FailMark = "✗"
)

// LoadFunc loads a tokenizer artifact from path.
type LoadFunc func(path string) (*tokenizer.Tokenizer, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// ArtifactPath is the tokenizer JSON to check.
	ArtifactPath string
	// Load reads the artifact; typically wraps tokenizer.LoadFile.
	Load LoadFunc
	// Samples are already-normalized texts that must survive encode/decode.
	Samples []string
	// CorpusPath, when set, must be a readable file.
	CorpusPath string
}

// DefaultSamples cover ASCII, multi-byte UTF-8 and inner whitespace.
func DefaultSamples() []string {
	return []string{
		"hello world",
		"Grüße, café au lait",
		"tabs\tand  spaces\nnewline",
		"emoji 🎉 漢字",
	}
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
	warnings []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// Warnings returns the list of warning messages.
func (r *Result) Warnings() []string { return append([]string(nil), r.warnings...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) warn(msg string) { r.warnings = append(r.warnings, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark, WarnMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- corpus file ------------------------------------------------------
	if cfg.CorpusPath != "" {
		if _, err := os.Stat(cfg.CorpusPath); err != nil {
			res.fail(fmt.Sprintf("corpus file %q: %v", cfg.CorpusPath, err))
			fmt.Fprintf(w, "%s corpus file %s: not found\n", FailMark, cfg.CorpusPath)
		} else {
			fmt.Fprintf(w, "%s corpus file: %s\n", PassMark, cfg.CorpusPath)
		}
	}

	// ---- artifact ---------------------------------------------------------
	if _, err := os.Stat(cfg.ArtifactPath); err != nil {
		res.fail(fmt.Sprintf("artifact %q: %v", cfg.ArtifactPath, err))
		fmt.Fprintf(w, "%s artifact %s: not found\n", FailMark, cfg.ArtifactPath)
		return res
	}

	tok, err := cfg.Load(cfg.ArtifactPath)
	if err != nil {
		res.fail(fmt.Sprintf("artifact %q: %v", cfg.ArtifactPath, err))
		fmt.Fprintf(w, "%s artifact %s: %v\n", FailMark, cfg.ArtifactPath, err)
		return res
	}
	info := tok.Info()
	fmt.Fprintf(w, "%s artifact: %s (vocab=%d merges=%d specials=%d)\n",
		PassMark, cfg.ArtifactPath, info.VocabSize, info.Merges, len(info.SpecialTokens))

	// ---- byte alphabet ----------------------------------------------------
	if missing := missingBytes(tok); len(missing) > 0 {
		msg := fmt.Sprintf("byte alphabet: %d of 256 byte symbols missing; inputs containing them cannot be encoded", len(missing))
		res.warn(msg)
		fmt.Fprintf(w, "%s %s\n", WarnMark, msg)
	} else {
		fmt.Fprintf(w, "%s byte alphabet: complete\n", PassMark)
	}

	// ---- round trip -------------------------------------------------------
	for _, s := range cfg.Samples {
		if err := checkRoundTrip(tok, s); err != nil {
			res.fail(fmt.Sprintf("round trip %q: %v", s, err))
			fmt.Fprintf(w, "%s round trip %q: %v\n", FailMark, s, err)
		} else {
			fmt.Fprintf(w, "%s round trip: %q\n", PassMark, s)
		}
	}

	return res
}

func missingBytes(tok *tokenizer.Tokenizer) []byte {
	vocab := tok.Vocabulary()

	var missing []byte
	for b := range 256 {
		if _, ok := vocab.ID(bytelevel.MapByte(byte(b))); !ok {
			missing = append(missing, byte(b))
		}
	}
	return missing
}

// checkRoundTrip requires decode(encode(s)) == s and a stable re-encode.
func checkRoundTrip(tok *tokenizer.Tokenizer, s string) error {
	enc, err := tok.Encode(s)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	got, err := tok.Decode(enc.IDs())
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if got != s {
		return fmt.Errorf("decoded %q", got)
	}

	again, err := tok.Encode(got)
	if err != nil {
		return fmt.Errorf("re-encode: %w", err)
	}
	if len(again.Tokens) != len(enc.Tokens) {
		return fmt.Errorf("re-encode produced %d tokens, want %d", len(again.Tokens), len(enc.Tokens))
	}
	for i, t := range again.Tokens {
		if t.ID != enc.Tokens[i].ID {
			return fmt.Errorf("re-encode differs at token %d", i)
		}
	}
	return nil
}
