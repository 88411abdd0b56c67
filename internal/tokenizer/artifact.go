package tokenizer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/example/go-bytebpe/internal/bpe"
	"github.com/example/go-bytebpe/internal/bytelevel"
	"github.com/example/go-bytebpe/internal/text"
)

// ArtifactVersion is the schema version written by Save.
const ArtifactVersion = 1

// Artifact is the self-contained JSON form of a tokenizer. vocab lists every
// symbol in id order, specials first; merges are "left right" lines in rank
// order.
type Artifact struct {
	Version       int                `json:"version"`
	Normalizer    text.Options       `json:"normalizer"`
	PreTokenizer  preTokenizerConfig `json:"pre_tokenizer"`
	SpecialTokens []artifactSpecial  `json:"special_tokens"`
	Vocab         []string           `json:"vocab"`
	Merges        []string           `json:"merges"`
	Decoder       decoderConfig      `json:"decoder"`
	PostProcessor PostConfig         `json:"post_processor"`
}

type preTokenizerConfig struct {
	Pattern        string `json:"pattern"`
	AddPrefixSpace bool   `json:"add_prefix_space"`
}

type decoderConfig struct {
	Policy      bpe.DecodePolicy `json:"policy"`
	SkipSpecial bool             `json:"skip_special"`
}

type artifactSpecial struct {
	ID           int    `json:"id"`
	Content      string `json:"content"`
	Unsplittable bool   `json:"unsplittable"`
}

// Artifact captures everything needed to rebuild t without training.
func (t *Tokenizer) Artifact() *Artifact {
	vocab := t.Vocabulary()

	a := &Artifact{
		Version:    ArtifactVersion,
		Normalizer: t.opts.Normalizer,
		PreTokenizer: preTokenizerConfig{
			Pattern:        t.opts.PreTokenizer.Pattern,
			AddPrefixSpace: t.opts.PreTokenizer.AddPrefixSpace,
		},
		Vocab: vocab.Symbols(),
		Decoder: decoderConfig{
			Policy:      t.opts.Decoder.Policy,
			SkipSpecial: t.opts.Decoder.SkipSpecial,
		},
		PostProcessor: t.opts.Post,
	}
	for id, sp := range vocab.Specials() {
		a.SpecialTokens = append(a.SpecialTokens, artifactSpecial{ID: id, Content: sp.Content, Unsplittable: sp.Unsplittable})
	}
	for _, m := range t.model.Merges() {
		a.Merges = append(a.Merges, m.String())
	}

	return a
}

// Save writes the artifact as indented JSON.
func (t *Tokenizer) Save(w io.Writer) error {
	b, err := json.MarshalIndent(t.Artifact(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode tokenizer artifact: %w", err)
	}
	b = append(b, '\n')
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write tokenizer artifact: %w", err)
	}

	return nil
}

// SaveFile writes the artifact to path.
func (t *Tokenizer) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create tokenizer artifact %q: %w", path, err)
	}
	if err := t.Save(f); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// LoadOptions are runtime settings that are not part of the artifact.
type LoadOptions struct {
	CacheSize int
	Workers   int
}

// FromArtifact validates a and rebuilds the tokenizer.
func FromArtifact(a *Artifact, lo LoadOptions) (*Tokenizer, error) {
	if a.Version != ArtifactVersion {
		return nil, &bpe.ConfigError{Field: "version", Reason: fmt.Sprintf("unsupported artifact version %d", a.Version)}
	}

	specials := make([]bpe.SpecialToken, len(a.SpecialTokens))
	for i, sp := range a.SpecialTokens {
		if sp.ID != i {
			return nil, &bpe.ConfigError{
				Field:  "special_tokens",
				Reason: fmt.Sprintf("%q has id %d; special tokens must occupy ids 0..%d in order", sp.Content, sp.ID, len(a.SpecialTokens)-1),
			}
		}
		specials[i] = bpe.SpecialToken{Content: sp.Content, Unsplittable: sp.Unsplittable}
	}

	vocab, err := bpe.NewVocabulary(specials, a.Vocab)
	if err != nil {
		return nil, err
	}

	merges := make([]bpe.Merge, len(a.Merges))
	for rank, line := range a.Merges {
		if merges[rank], err = bpe.ParseMerge(line, rank); err != nil {
			return nil, err
		}
	}

	model, err := bpe.NewModel(vocab, merges, bpe.ModelOptions{CacheSize: lo.CacheSize})
	if err != nil {
		return nil, err
	}

	return New(model, Options{
		Normalizer:   a.Normalizer,
		PreTokenizer: bytelevel.Options{Pattern: a.PreTokenizer.Pattern, AddPrefixSpace: a.PreTokenizer.AddPrefixSpace},
		Decoder:      bpe.DecodeOptions{Policy: a.Decoder.Policy, SkipSpecial: a.Decoder.SkipSpecial},
		Post:         a.PostProcessor,
		CacheSize:    lo.CacheSize,
		Workers:      lo.Workers,
	})
}

// Load reads a JSON artifact from r.
func Load(r io.Reader, lo LoadOptions) (*Tokenizer, error) {
	var a Artifact

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("decode tokenizer artifact: %w", err)
	}

	return FromArtifact(&a, lo)
}

// LoadFile reads a JSON artifact from path.
func LoadFile(path string, lo LoadOptions) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tokenizer artifact %q: %w", path, err)
	}
	defer f.Close()

	tok, err := Load(f, lo)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", path, err)
	}

	return tok, nil
}
