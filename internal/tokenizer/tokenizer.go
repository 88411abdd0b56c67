// Package tokenizer composes normalization, byte-level pre-tokenization, the
// BPE model and post-processing into one text <-> ids pipeline.
package tokenizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/iter"

	"github.com/example/go-bytebpe/internal/bpe"
	"github.com/example/go-bytebpe/internal/bytelevel"
	"github.com/example/go-bytebpe/internal/text"
)

// Token is one encoded unit. Value is the byte-symbol form of a model token
// or the literal content of a special token. Offsets are byte offsets into
// the original input.
type Token struct {
	ID      int        `json:"id"`
	Value   string     `json:"value"`
	Offsets text.Range `json:"offsets"`
	Special bool       `json:"special,omitempty"`
}

// Encoding is the result of encoding one input.
type Encoding struct {
	Tokens []Token `json:"tokens"`
}

// IDs returns the token ids in order.
func (e *Encoding) IDs() []int {
	ids := make([]int, len(e.Tokens))
	for i, t := range e.Tokens {
		ids[i] = t.ID
	}

	return ids
}

// Options configures every stage except the model itself.
type Options struct {
	Normalizer   text.Options
	PreTokenizer bytelevel.Options
	Decoder      bpe.DecodeOptions
	Post         PostConfig
	// CacheSize bounds the model's word cache; 0 disables it.
	CacheSize int
	// Workers bounds EncodeBatch concurrency; 0 uses GOMAXPROCS.
	Workers int
}

// DefaultOptions returns the stage defaults: strip both sides and NFC, the
// GPT-2 split pattern, strict decoding and no post-processing.
func DefaultOptions() Options {
	return Options{
		Normalizer:   text.DefaultOptions(),
		PreTokenizer: bytelevel.DefaultOptions(),
		Decoder:      bpe.DecodeOptions{Policy: bpe.DecodeStrict},
		CacheSize:    bpe.DefaultCacheSize,
	}
}

// Tokenizer is immutable and safe for concurrent use.
type Tokenizer struct {
	opts       Options
	normalizer *text.Normalizer
	pre        *bytelevel.PreTokenizer
	specials   *specialMatcher
	model      *bpe.Model
	post       PostProcessor
}

type stages struct {
	normalizer *text.Normalizer
	pre        *bytelevel.PreTokenizer
}

func buildStages(opts Options) (stages, error) {
	normalizer, err := text.NewNormalizer(opts.Normalizer)
	if err != nil {
		return stages{}, &bpe.ConfigError{Field: "normalizer.strip", Reason: err.Error()}
	}
	pre, err := bytelevel.New(opts.PreTokenizer)
	if err != nil {
		return stages{}, &bpe.ConfigError{Field: "pre_tokenizer.pattern", Reason: err.Error()}
	}

	return stages{normalizer: normalizer, pre: pre}, nil
}

// New assembles a tokenizer around a trained or loaded model.
func New(model *bpe.Model, opts Options) (*Tokenizer, error) {
	if model == nil {
		return nil, &bpe.ConfigError{Field: "model", Reason: "nil model"}
	}
	policy, err := bpe.ParseDecodePolicy(string(opts.Decoder.Policy))
	if err != nil {
		return nil, err
	}
	opts.Decoder.Policy = policy

	st, err := buildStages(opts)
	if err != nil {
		return nil, err
	}
	post, err := NewPostProcessor(opts.Post, model.Vocabulary())
	if err != nil {
		return nil, err
	}

	opts.Normalizer = st.normalizer.Options()
	opts.PreTokenizer = st.pre.Options()

	return &Tokenizer{
		opts:       opts,
		normalizer: st.normalizer,
		pre:        st.pre,
		specials:   newSpecialMatcher(model.Vocabulary().Specials()),
		model:      model,
		post:       post,
	}, nil
}

// Options returns the resolved configuration.
func (t *Tokenizer) Options() Options { return t.opts }

// Model returns the underlying BPE model.
func (t *Tokenizer) Model() *bpe.Model { return t.model }

// Vocabulary is shorthand for Model().Vocabulary().
func (t *Tokenizer) Vocabulary() *bpe.Vocabulary { return t.model.Vocabulary() }

// Encode normalizes input, extracts unsplittable special tokens, splits the
// rest into words and segments each word with the model.
func (t *Tokenizer) Encode(input string) (*Encoding, error) {
	n := t.normalizer.NormalizeString(input)
	vocab := t.model.Vocabulary()

	enc := &Encoding{}
	for _, f := range t.specials.split(n.String()) {
		if f.special >= 0 {
			enc.Tokens = append(enc.Tokens, Token{
				ID:      f.special,
				Value:   f.text,
				Offsets: n.Original(f.start, f.start+len(f.text)),
				Special: true,
			})
			continue
		}

		segs, err := t.pre.Split(f.text)
		if err != nil {
			return nil, err
		}
		for _, seg := range segs {
			pieces, err := t.model.EncodeWord(seg.Text)
			if err != nil {
				var ue *bpe.UnknownSymbolError
				if errors.As(err, &ue) {
					off := f.start + seg.SourceOffset(ue.Offset)
					return nil, &bpe.UnknownSymbolError{Symbol: ue.Symbol, Offset: n.Original(off, off+1).Start}
				}
				return nil, err
			}
			for _, p := range pieces {
				sym, _ := vocab.Symbol(p.ID)
				start := f.start + seg.SourceOffset(p.Start)
				end := f.start + seg.SourceOffset(p.End)
				enc.Tokens = append(enc.Tokens, Token{ID: p.ID, Value: sym, Offsets: n.Original(start, end)})
			}
		}
	}

	return t.post.Process(input, enc), nil
}

// EncodeBatch encodes every input independently. Results are in input
// order; if any input fails the joined errors are returned.
func (t *Tokenizer) EncodeBatch(ctx context.Context, inputs []string) ([]*Encoding, error) {
	mapper := iter.Mapper[string, *Encoding]{MaxGoroutines: t.opts.Workers}

	out, err := mapper.MapErr(inputs, func(s *string) (*Encoding, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return t.Encode(*s)
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Decode turns ids back into text using the configured decoder options.
func (t *Tokenizer) Decode(ids []int) (string, error) {
	return t.model.Decode(ids, t.opts.Decoder)
}

// DecodeWith decodes under explicit options.
func (t *Tokenizer) DecodeWith(ids []int, opts bpe.DecodeOptions) (string, error) {
	return t.model.Decode(ids, opts)
}

// Info summarizes a tokenizer for inspection.
type Info struct {
	VocabSize     int                `json:"vocab_size"`
	Merges        int                `json:"merges"`
	SpecialTokens []bpe.SpecialToken `json:"special_tokens"`
	Normalizer    text.Options       `json:"normalizer"`
	PreTokenizer  string             `json:"pre_tokenizer"`
	Decoder       string             `json:"decoder"`
	Post          PostConfig         `json:"post_processor"`
}

// Info reports sizes and stage configuration.
func (t *Tokenizer) Info() Info {
	return Info{
		VocabSize:     t.Vocabulary().Size(),
		Merges:        len(t.model.Merges()),
		SpecialTokens: t.Vocabulary().Specials(),
		Normalizer:    t.opts.Normalizer,
		PreTokenizer:  fmt.Sprintf("%s (add_prefix_space=%t)", t.opts.PreTokenizer.Pattern, t.opts.PreTokenizer.AddPrefixSpace),
		Decoder:       string(t.opts.Decoder.Policy),
		Post:          t.opts.Post,
	}
}

// Train builds the word-frequency table from corpus with the same stages
// Encode uses, learns a model and returns a ready tokenizer. Unsplittable
// special tokens in the corpus are cut out and contribute no bytes.
func Train(ctx context.Context, corpus []string, opts Options, topts bpe.TrainerOptions) (*Tokenizer, *bpe.Result, error) {
	trainer, err := bpe.NewTrainer(topts)
	if err != nil {
		return nil, nil, err
	}
	st, err := buildStages(opts)
	if err != nil {
		return nil, nil, err
	}

	words, err := countWords(ctx, corpus, st, newSpecialMatcher(topts.SpecialTokens))
	if err != nil {
		return nil, nil, err
	}

	res, err := trainer.Train(ctx, words)
	if err != nil {
		return nil, nil, err
	}

	model, err := bpe.NewModel(res.Vocab, res.Merges, bpe.ModelOptions{CacheSize: opts.CacheSize})
	if err != nil {
		return nil, nil, fmt.Errorf("build trained model: %w", err)
	}
	tok, err := New(model, opts)
	if err != nil {
		return nil, nil, err
	}

	return tok, res, nil
}

func countWords(ctx context.Context, corpus []string, st stages, specials *specialMatcher) (*bpe.WordCounts, error) {
	words := bpe.NewWordCounts()
	for i, sample := range corpus {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, &bpe.TrainingError{Reason: "cancelled while counting words", Err: err}
			}
		}

		for _, f := range specials.split(st.normalizer.Normalize(sample)) {
			if f.special >= 0 {
				continue
			}
			segs, err := st.pre.Split(f.text)
			if err != nil {
				return nil, fmt.Errorf("pre-tokenize sample %d: %w", i, err)
			}
			for _, seg := range segs {
				words.Add(seg.Text, 1)
			}
		}
	}

	return words, nil
}
