package bpe

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/example/go-bytebpe/internal/bytelevel"
)

// wordCounts pre-tokenizes texts with the whitespace pattern.
func wordCounts(t *testing.T, texts ...string) *WordCounts {
	t.Helper()

	pre, err := bytelevel.New(bytelevel.Options{Pattern: bytelevel.PatternWhitespace})
	if err != nil {
		t.Fatalf("bytelevel.New: %v", err)
	}

	wc := NewWordCounts()
	for _, text := range texts {
		segs, err := pre.Split(text)
		if err != nil {
			t.Fatalf("Split(%q): %v", text, err)
		}
		for _, s := range segs {
			wc.Add(s.Text, 1)
		}
	}

	return wc
}

func mustTrainer(t *testing.T, opts TrainerOptions) *Trainer {
	t.Helper()

	tr, err := NewTrainer(opts)
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}

	return tr
}

var testSpecials = []SpecialToken{
	{Content: "<unk>", Unsplittable: true},
	{Content: "<mask>", Unsplittable: true},
	{Content: "<cls>", Unsplittable: true},
	{Content: "<sep>", Unsplittable: true},
}

// naiveTrain is the reference algorithm: a full rescan of every word on
// every iteration, ties broken by first occurrence in scan order.
func naiveTrain(wc *WordCounts, opts TrainerOptions) ([]string, []Merge) {
	vocab := make([]string, 0, opts.VocabSize)
	index := make(map[string]bool)
	for _, sp := range opts.SpecialTokens {
		vocab = append(vocab, sp.Content)
	}
	addSym := func(s string) {
		if !index[s] {
			index[s] = true
			vocab = append(vocab, s)
		}
	}

	if opts.InitialAlphabet == AlphabetCorpus {
		for _, w := range wc.words {
			for i := 0; i < len(w); i++ {
				addSym(bytelevel.MapByte(w[i]))
			}
		}
	} else {
		for _, s := range bytelevel.Alphabet() {
			addSym(s)
		}
	}

	segs := make([][]string, len(wc.words))
	for i, w := range wc.words {
		for j := 0; j < len(w); j++ {
			segs[i] = append(segs[i], bytelevel.MapByte(w[j]))
		}
	}

	var merges []Merge
	for len(vocab) < opts.VocabSize {
		counts := make(map[[2]string]int)
		var order [][2]string
		for wi, seg := range segs {
			for j := 0; j+1 < len(seg); j++ {
				p := [2]string{seg[j], seg[j+1]}
				if _, ok := counts[p]; !ok {
					order = append(order, p)
				}
				counts[p] += wc.counts[wi]
			}
		}

		var best [2]string
		bestCount := 0
		for _, p := range order {
			if opts.MaxTokenLength > 0 && utf8.RuneCountInString(p[0])+utf8.RuneCountInString(p[1]) > opts.MaxTokenLength {
				continue
			}
			if counts[p] > bestCount {
				best, bestCount = p, counts[p]
			}
		}
		if bestCount == 0 || bestCount < opts.MinFrequency {
			break
		}

		result := best[0] + best[1]
		addSym(result)
		merges = append(merges, Merge{Left: best[0], Right: best[1], Result: result, Rank: len(merges)})

		for wi, seg := range segs {
			out := seg[:0]
			for j := 0; j < len(seg); j++ {
				if j+1 < len(seg) && seg[j] == best[0] && seg[j+1] == best[1] {
					out = append(out, result)
					j++
					continue
				}
				out = append(out, seg[j])
			}
			segs[wi] = out
		}
	}

	return vocab, merges
}

func randomCorpus(seed int64, samples int) []string {
	rng := rand.New(rand.NewSource(seed))
	letters := []string{"a", "b", "c", "ab", "ba", "é", "\xff"}

	out := make([]string, samples)
	for i := range out {
		var sb strings.Builder
		words := 1 + rng.Intn(6)
		for w := 0; w < words; w++ {
			if w > 0 {
				sb.WriteByte(' ')
			}
			n := 1 + rng.Intn(5)
			for k := 0; k < n; k++ {
				sb.WriteString(letters[rng.Intn(len(letters))])
			}
		}
		out[i] = sb.String()
	}

	return out
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestTrainerOptions_Validate(t *testing.T) {
	tests := []struct {
		name string
		opts TrainerOptions
	}{
		{"vocab equals specials", TrainerOptions{VocabSize: 4, SpecialTokens: testSpecials}},
		{"vocab below specials", TrainerOptions{VocabSize: 1, SpecialTokens: testSpecials}},
		{"vocab below byte alphabet", TrainerOptions{VocabSize: 100, SpecialTokens: testSpecials}},
		{"explicit full alphabet", TrainerOptions{VocabSize: 256 + 3, SpecialTokens: testSpecials, InitialAlphabet: AlphabetFull}},
		{"negative min frequency", TrainerOptions{VocabSize: 300, MinFrequency: -1}},
		{"negative max length", TrainerOptions{VocabSize: 300, MaxTokenLength: -2}},
		{"bad alphabet", TrainerOptions{VocabSize: 300, InitialAlphabet: "ascii"}},
		{"empty special", TrainerOptions{VocabSize: 300, SpecialTokens: []SpecialToken{{Content: ""}}}},
		{"duplicate special", TrainerOptions{VocabSize: 300, SpecialTokens: []SpecialToken{{Content: "<a>"}, {Content: "<a>"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTrainer(tt.opts)

			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("NewTrainer error = %v, want *ConfigError", err)
			}
			if !errors.Is(err, ErrConfig) {
				t.Errorf("error %v does not match ErrConfig", err)
			}
		})
	}
}

func TestTrain_EmptyCorpus(t *testing.T) {
	tr := mustTrainer(t, TrainerOptions{VocabSize: 300})

	_, err := tr.Train(context.Background(), NewWordCounts())

	var te *TrainingError
	if !errors.As(err, &te) {
		t.Fatalf("Train error = %v, want *TrainingError", err)
	}
	if !errors.Is(err, ErrTraining) {
		t.Errorf("error %v does not match ErrTraining", err)
	}
}

// ---------------------------------------------------------------------------
// Algorithm
// ---------------------------------------------------------------------------

func TestTrain_LowLowerLowest(t *testing.T) {
	wc := wordCounts(t, "low", "lower", "lowest", "lowest")
	tr := mustTrainer(t, TrainerOptions{VocabSize: 256 + 3})

	st, err := tr.train(context.Background(), wc)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	got := make([]string, len(st.merges))
	for i, m := range st.merges {
		got[i] = m.String()
	}
	// (l,o) and (o,w) tie at 4; (l,o) is seen first.
	want := []string{"l o", "lo w", "low e"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merges mismatch (-want +got):\n%s", diff)
	}

	if st.stop != StopVocabSize {
		t.Errorf("stop = %q, want %q", st.stop, StopVocabSize)
	}
	if st.vocab.Size() != 259 {
		t.Errorf("vocab size = %d, want 259", st.vocab.Size())
	}

	if diff := cmp.Diff([]string{"lowe", "s", "t"}, st.segmentation(2)); diff != "" {
		t.Errorf("segmentation of \"lowest\" (-want +got):\n%s", diff)
	}
}

func TestTrain_MatchesNaiveRescan(t *testing.T) {
	configs := []TrainerOptions{
		{VocabSize: 256 + 40},
		{VocabSize: 256 + 4 + 60, SpecialTokens: testSpecials},
		{VocabSize: 256 + 80, MinFrequency: 3},
		{VocabSize: 256 + 50, MaxTokenLength: 3},
		{VocabSize: 30, InitialAlphabet: AlphabetCorpus},
		{VocabSize: 256 + 40, Workers: 4},
	}

	for seed := int64(1); seed <= 6; seed++ {
		corpus := randomCorpus(seed, 60)
		for _, opts := range configs {
			wc := wordCounts(t, corpus...)

			res, err := mustTrainer(t, opts).Train(context.Background(), wc)
			if err != nil {
				t.Fatalf("seed %d opts %+v: Train: %v", seed, opts, err)
			}

			naiveOpts := opts
			naiveVocab, naiveMerges := naiveTrain(wordCounts(t, corpus...), naiveOpts)

			if diff := cmp.Diff(naiveVocab, res.Vocab.Symbols()); diff != "" {
				t.Fatalf("seed %d opts %+v: vocab differs from naive (-naive +got):\n%s", seed, opts, diff)
			}
			if diff := cmp.Diff(naiveMerges, res.Merges); diff != "" {
				t.Fatalf("seed %d opts %+v: merges differ from naive (-naive +got):\n%s", seed, opts, diff)
			}
		}
	}
}

// syllableCorpus builds lines of words drawn from a fixed syllable
// inventory, so pair frequencies follow a long tail like natural text.
func syllableCorpus(seed int64, lines int) []string {
	rng := rand.New(rand.NewSource(seed))
	syllables := []string{
		"the", "an", "in", "er", "on", "re", "at", "en", "nd", "ti",
		"es", "or", "te", "of", "ed", "is", "it", "al", "ar", "st",
		"to", "nt", "ng", "se", "ha", "as", "ou", "io", "le", "ve",
		"co", "me", "de", "hi", "ri", "ro", "ic", "ne", "ea", "ra",
	}

	out := make([]string, lines)
	for i := range out {
		var sb strings.Builder
		words := 4 + rng.Intn(12)
		for w := 0; w < words; w++ {
			if w > 0 {
				sb.WriteByte(' ')
			}
			n := 1 + rng.Intn(4)
			for k := 0; k < n; k++ {
				// Squaring skews picks toward the front of the inventory.
				f := rng.Float64()
				sb.WriteString(syllables[int(f*f*float64(len(syllables)))])
			}
		}
		out[i] = sb.String()
	}

	return out
}

func TestTrain_MatchesNaiveRescanAtScale(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large training run in -short mode")
	}

	corpus := syllableCorpus(3, 2000)
	opts := TrainerOptions{VocabSize: 256 + 4 + 400, SpecialTokens: testSpecials, Workers: 4}

	res, err := mustTrainer(t, opts).Train(context.Background(), wordCounts(t, corpus...))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if res.Stop != StopVocabSize {
		t.Fatalf("Stop = %s, want %s", res.Stop, StopVocabSize)
	}

	naiveVocab, naiveMerges := naiveTrain(wordCounts(t, corpus...), opts)
	if diff := cmp.Diff(naiveVocab, res.Vocab.Symbols()); diff != "" {
		t.Fatalf("vocab differs from naive (-naive +got):\n%s", diff)
	}
	if diff := cmp.Diff(naiveMerges, res.Merges); diff != "" {
		t.Fatalf("merges differ from naive (-naive +got):\n%s", diff)
	}
}

func BenchmarkTrain(b *testing.B) {
	corpus := syllableCorpus(11, 20000)
	pre, err := bytelevel.New(bytelevel.Options{Pattern: bytelevel.PatternWhitespace})
	if err != nil {
		b.Fatalf("bytelevel.New: %v", err)
	}
	wc := NewWordCounts()
	for _, text := range corpus {
		segs, err := pre.Split(text)
		if err != nil {
			b.Fatalf("Split: %v", err)
		}
		for _, s := range segs {
			wc.Add(s.Text, 1)
		}
	}

	tr, err := NewTrainer(TrainerOptions{VocabSize: 256 + 4 + 3000, SpecialTokens: testSpecials, Workers: 4})
	if err != nil {
		b.Fatalf("NewTrainer: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tr.Train(context.Background(), wc); err != nil {
			b.Fatalf("Train: %v", err)
		}
	}
}

func TestTrain_NeverReusesResult(t *testing.T) {
	corpora := [][]string{syllableCorpus(9, 300)}
	for seed := int64(20); seed < 32; seed++ {
		corpora = append(corpora, randomCorpus(seed, 80))
	}

	for ci, corpus := range corpora {
		res, err := mustTrainer(t, TrainerOptions{VocabSize: 256 + 80}).
			Train(context.Background(), wordCounts(t, corpus...))
		if err != nil {
			t.Fatalf("corpus %d: Train: %v", ci, err)
		}
		if hasReusedResult(res.Merges) {
			t.Fatalf("corpus %d: a merge re-created an existing result", ci)
		}
		if got, want := res.Vocab.Size(), 256+len(res.Merges); got != want {
			t.Errorf("corpus %d: vocab size %d, want one new id per merge (%d)", ci, got, want)
		}
	}
}

func TestTrain_Deterministic(t *testing.T) {
	corpus := randomCorpus(42, 200)
	opts := TrainerOptions{VocabSize: 256 + 4 + 100, SpecialTokens: testSpecials, Workers: 3}

	first, err := mustTrainer(t, opts).Train(context.Background(), wordCounts(t, corpus...))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	for run := 0; run < 3; run++ {
		again, err := mustTrainer(t, opts).Train(context.Background(), wordCounts(t, corpus...))
		if err != nil {
			t.Fatalf("Train: %v", err)
		}
		if diff := cmp.Diff(first.Vocab.Symbols(), again.Vocab.Symbols()); diff != "" {
			t.Fatalf("run %d vocab differs (-first +again):\n%s", run, diff)
		}
		if diff := cmp.Diff(first.Merges, again.Merges); diff != "" {
			t.Fatalf("run %d merges differ (-first +again):\n%s", run, diff)
		}
	}
}

func TestTrain_SpecialTokensReserved(t *testing.T) {
	// The corpus spells a special token so merges could rebuild "<sep>".
	wc := wordCounts(t, "<sep> <sep> <sep> <sep>", "x<sep>y")
	opts := TrainerOptions{VocabSize: 256 + 4 + 20, SpecialTokens: testSpecials}

	res, err := mustTrainer(t, opts).Train(context.Background(), wc)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	for i, sp := range testSpecials {
		id, ok := res.Vocab.SpecialID(sp.Content)
		if !ok || id != i {
			t.Errorf("special %q has id %d (ok=%v), want %d", sp.Content, id, ok, i)
		}
		if !res.Vocab.IsSpecial(i) {
			t.Errorf("IsSpecial(%d) = false", i)
		}
	}

	for _, m := range res.Merges {
		resID, _ := res.Vocab.ID(m.Result)
		if resID < len(testSpecials) {
			t.Errorf("merge %q produced special id %d", m.String(), resID)
		}
	}

	if id, ok := res.Vocab.ID("<sep>"); ok && id < len(testSpecials) {
		t.Errorf("merged \"<sep>\" symbol shares special id %d", id)
	}
}

func TestTrain_RanksStrictlyIncreasing(t *testing.T) {
	res, err := mustTrainer(t, TrainerOptions{VocabSize: 256 + 50}).
		Train(context.Background(), wordCounts(t, randomCorpus(7, 100)...))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	for i, m := range res.Merges {
		if m.Rank != i {
			t.Fatalf("merge %d has rank %d", i, m.Rank)
		}
	}
}

func TestTrain_StopsWhenPairsRunOut(t *testing.T) {
	res, err := mustTrainer(t, TrainerOptions{VocabSize: 10000}).
		Train(context.Background(), wordCounts(t, "ab ab"))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	if res.Stop != StopNoPairs {
		t.Errorf("stop = %q, want %q", res.Stop, StopNoPairs)
	}
	if res.Vocab.Size() >= 10000 {
		t.Errorf("vocab size = %d, expected early stop", res.Vocab.Size())
	}
}

func TestTrain_MinFrequencyStopsEarly(t *testing.T) {
	res, err := mustTrainer(t, TrainerOptions{VocabSize: 256 + 10, MinFrequency: 2}).
		Train(context.Background(), wordCounts(t, "aa aa xy"))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	if res.Stop != StopMinFrequency {
		t.Errorf("stop = %q, want %q", res.Stop, StopMinFrequency)
	}
	if len(res.Merges) != 1 || res.Merges[0].Result != "aa" {
		t.Errorf("merges = %v, want only \"a a\"", res.Merges)
	}
}

func TestTrain_MinFrequencyUnreachable(t *testing.T) {
	_, err := mustTrainer(t, TrainerOptions{VocabSize: 300, MinFrequency: 5}).
		Train(context.Background(), wordCounts(t, "ab cd"))

	var te *TrainingError
	if !errors.As(err, &te) {
		t.Fatalf("Train error = %v, want *TrainingError", err)
	}
}

func TestTrain_CorpusAlphabetFirstSeen(t *testing.T) {
	res, err := mustTrainer(t, TrainerOptions{VocabSize: 5, InitialAlphabet: AlphabetCorpus}).
		Train(context.Background(), wordCounts(t, "cab"))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	want := []string{"c", "a", "b", "ca", "cab"}
	if diff := cmp.Diff(want, res.Vocab.Symbols()); diff != "" {
		t.Errorf("vocab mismatch (-want +got):\n%s", diff)
	}
}

func TestTrainerOptions_ValidateAlphabetBound(t *testing.T) {
	ok := []TrainerOptions{
		{VocabSize: 256 + 4, SpecialTokens: testSpecials},
		{VocabSize: 256 + 1},
		{VocabSize: 10, SpecialTokens: testSpecials, InitialAlphabet: AlphabetCorpus},
	}
	for _, opts := range ok {
		if err := opts.Validate(); err != nil {
			t.Errorf("Validate(%+v) = %v, want nil", opts, err)
		}
	}
}

func TestTrain_CorpusAlphabetExceedsVocab(t *testing.T) {
	opts := TrainerOptions{VocabSize: 6, SpecialTokens: testSpecials, InitialAlphabet: AlphabetCorpus}

	res, err := mustTrainer(t, opts).Train(context.Background(), wordCounts(t, "abc"))
	if res != nil {
		t.Error("failed training must not publish a result")
	}

	var te *TrainingError
	if !errors.As(err, &te) {
		t.Fatalf("Train error = %v, want *TrainingError", err)
	}
	if !strings.Contains(te.Reason, "corpus alphabet") {
		t.Errorf("reason = %q, want corpus alphabet overflow", te.Reason)
	}
}

func TestTrain_MaxTokenLength(t *testing.T) {
	res, err := mustTrainer(t, TrainerOptions{VocabSize: 256 + 20, MaxTokenLength: 2}).
		Train(context.Background(), wordCounts(t, "abcdabcd abcd"))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	for _, m := range res.Merges {
		if n := utf8.RuneCountInString(m.Result); n > 2 {
			t.Errorf("merge %q yields %d bytes, max 2", m.String(), n)
		}
	}
}

func TestTrain_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := mustTrainer(t, TrainerOptions{VocabSize: 300}).Train(ctx, wordCounts(t, "hello world"))
	if res != nil {
		t.Error("cancelled training must not publish a result")
	}
	if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrTraining) {
		t.Fatalf("Train error = %v, want ErrTraining wrapping context.Canceled", err)
	}
}

func TestTrain_InvalidUTF8Bytes(t *testing.T) {
	raw := string([]byte{0xff, 0xfe, 0xff, 0xfe})
	res, err := mustTrainer(t, TrainerOptions{VocabSize: 258}).
		Train(context.Background(), wordCounts(t, raw, raw))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	first := res.Merges[0]
	b, err := bytelevel.Unmap(nil, first.Result)
	if err != nil {
		t.Fatalf("Unmap(%q): %v", first.Result, err)
	}
	if string(b) != "\xff\xfe" {
		t.Errorf("first merge bytes = %q, want \\xff\\xfe", b)
	}
}

// ---------------------------------------------------------------------------
// WordCounts
// ---------------------------------------------------------------------------

func TestWordCounts(t *testing.T) {
	wc := NewWordCounts()
	wc.Add("low", 1)
	wc.Add("er", 2)
	wc.Add("low", 3)
	wc.Add("", 5)
	wc.Add("x", 0)

	if wc.Len() != 2 {
		t.Errorf("Len = %d, want 2", wc.Len())
	}
	if wc.Count("low") != 4 {
		t.Errorf("Count(low) = %d, want 4", wc.Count("low"))
	}
	if wc.Total() != 6 {
		t.Errorf("Total = %d, want 6", wc.Total())
	}
	if wc.words[0] != "low" {
		t.Errorf("first word = %q, want first-seen \"low\"", wc.words[0])
	}
}
