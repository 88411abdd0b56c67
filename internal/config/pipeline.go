package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/example/go-bytebpe/internal/bpe"
	"github.com/example/go-bytebpe/internal/bytelevel"
	"github.com/example/go-bytebpe/internal/text"
	"github.com/example/go-bytebpe/internal/tokenizer"
)

// Validate checks settings that can be judged without a corpus or an
// artifact. Errors are *bpe.ConfigError.
func (c Config) Validate() error {
	if _, err := c.TrainerOptions(); err != nil {
		return err
	}
	if _, err := text.ParseStripMode(c.Normalizer.Strip); err != nil {
		return &bpe.ConfigError{Field: "normalizer.strip", Reason: err.Error()}
	}
	if _, err := bytelevel.New(c.PreTokenizer.options()); err != nil {
		return &bpe.ConfigError{Field: "pre_tokenizer.pattern", Reason: err.Error()}
	}
	if _, err := bpe.ParseDecodePolicy(c.Decoder.Policy); err != nil {
		return err
	}
	for _, b := range []struct{ field, content string }{
		{"post_processor.begin", c.PostProcessor.Begin},
		{"post_processor.end", c.PostProcessor.End},
	} {
		if b.content != "" && !slices.Contains(c.Trainer.SpecialTokens, b.content) {
			return &bpe.ConfigError{Field: b.field, Reason: fmt.Sprintf("%q is not listed in trainer.special_tokens", b.content)}
		}
	}
	if c.Encoder.CacheSize < 0 {
		return &bpe.ConfigError{Field: "encoder.cache_size", Reason: fmt.Sprintf("%d is negative", c.Encoder.CacheSize)}
	}
	if c.Server.MaxTextBytes <= 0 {
		return &bpe.ConfigError{Field: "server.max_text_bytes", Reason: fmt.Sprintf("%d must be positive", c.Server.MaxTextBytes)}
	}
	if c.Server.RequestTimeout <= 0 {
		return &bpe.ConfigError{Field: "server.request_timeout", Reason: fmt.Sprintf("%d must be positive", c.Server.RequestTimeout)}
	}

	return nil
}

// SpecialTokensList resolves the configured specials. Every token is
// unsplittable unless listed in splittable_specials.
func (c TrainerConfig) SpecialTokensList() ([]bpe.SpecialToken, error) {
	out := make([]bpe.SpecialToken, 0, len(c.SpecialTokens))
	for _, s := range c.SpecialTokens {
		out = append(out, bpe.SpecialToken{Content: s, Unsplittable: !slices.Contains(c.SplittableSpecials, s)})
	}
	for _, s := range c.SplittableSpecials {
		if !slices.Contains(c.SpecialTokens, s) {
			return nil, &bpe.ConfigError{Field: "trainer.splittable_specials", Reason: fmt.Sprintf("%q is not listed in trainer.special_tokens", s)}
		}
	}

	return out, nil
}

// TrainerOptions converts the trainer section and validates it.
func (c Config) TrainerOptions() (bpe.TrainerOptions, error) {
	specials, err := c.Trainer.SpecialTokensList()
	if err != nil {
		return bpe.TrainerOptions{}, err
	}

	opts := bpe.TrainerOptions{
		VocabSize:       c.Trainer.VocabSize,
		MinFrequency:    c.Trainer.MinFrequency,
		SpecialTokens:   specials,
		MaxTokenLength:  c.Trainer.MaxTokenLength,
		InitialAlphabet: c.Trainer.InitialAlphabet,
		Workers:         c.Trainer.Workers,
	}
	if err := opts.Validate(); err != nil {
		return bpe.TrainerOptions{}, err
	}

	return opts, nil
}

func (c PreTokenizerConfig) options() bytelevel.Options {
	return bytelevel.Options{Pattern: c.Pattern, AddPrefixSpace: c.AddPrefixSpace}
}

// TokenizerOptions converts the pipeline sections used for training.
func (c Config) TokenizerOptions() tokenizer.Options {
	return tokenizer.Options{
		Normalizer:   text.Options{Strip: text.StripMode(c.Normalizer.Strip), NFC: c.Normalizer.NFC},
		PreTokenizer: c.PreTokenizer.options(),
		Decoder:      c.DecodeOptions(),
		Post: tokenizer.PostConfig{
			TrimOffsets: c.PostProcessor.TrimOffsets,
			Begin:       c.PostProcessor.Begin,
			End:         c.PostProcessor.End,
		},
		CacheSize: c.Encoder.CacheSize,
		Workers:   c.Encoder.Workers,
	}
}

// DecodeOptions converts the decoder section. The policy is validated by
// Validate and by the tokenizer.
func (c Config) DecodeOptions() bpe.DecodeOptions {
	return bpe.DecodeOptions{Policy: bpe.DecodePolicy(c.Decoder.Policy), SkipSpecial: c.Decoder.SkipSpecial}
}

// ArtifactLoadOptions returns the runtime settings applied when loading an artifact.
func (c Config) ArtifactLoadOptions() tokenizer.LoadOptions {
	return tokenizer.LoadOptions{CacheSize: c.Encoder.CacheSize, Workers: c.Encoder.Workers}
}

// RequestTimeoutDuration returns the server request timeout as a duration.
func (c ServerConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// ShutdownTimeoutDuration returns the graceful shutdown period.
func (c ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}
