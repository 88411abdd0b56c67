package bpe

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"
	"github.com/sourcegraph/conc/iter"

	"github.com/example/go-bytebpe/internal/bytelevel"
)

const (
	// AlphabetFull seeds all 256 byte symbols in byte order.
	AlphabetFull = "full"
	// AlphabetCorpus seeds only the byte symbols seen in the corpus, in
	// first-seen order.
	AlphabetCorpus = "corpus"

	alphabetSize = 256
)

// StopReason says why the merge loop ended.
type StopReason string

const (
	StopVocabSize    StopReason = "vocab_size_reached"
	StopNoPairs      StopReason = "no_pairs_left"
	StopMinFrequency StopReason = "below_min_frequency"
)

// TrainerOptions configures a training run.
type TrainerOptions struct {
	// VocabSize is the final vocabulary size including special tokens.
	VocabSize int
	// MinFrequency is the merge eligibility floor; 0 disables it.
	MinFrequency int
	// SpecialTokens are reserved at ids [0, len) in this order.
	SpecialTokens []SpecialToken
	// MaxTokenLength limits merged symbols to this many bytes; 0 disables it.
	MaxTokenLength int
	// InitialAlphabet is AlphabetFull (default) or AlphabetCorpus.
	InitialAlphabet string
	// Workers shards the initial pair count; values below 2 count sequentially.
	Workers int
	// Logger receives debug progress; nil keeps the trainer silent.
	Logger *slog.Logger
}

// Validate checks the options without touching any corpus.
func (o TrainerOptions) Validate() error {
	if err := ValidateSpecialTokens(o.SpecialTokens); err != nil {
		return err
	}
	if o.VocabSize <= len(o.SpecialTokens) {
		return &ConfigError{
			Field:  "vocab_size",
			Reason: fmt.Sprintf("%d must exceed the %d special tokens", o.VocabSize, len(o.SpecialTokens)),
		}
	}
	if o.MinFrequency < 0 {
		return &ConfigError{Field: "min_frequency", Reason: fmt.Sprintf("%d is negative", o.MinFrequency)}
	}
	if o.MaxTokenLength < 0 {
		return &ConfigError{Field: "max_token_length", Reason: fmt.Sprintf("%d is negative", o.MaxTokenLength)}
	}
	switch o.InitialAlphabet {
	case "", AlphabetFull, AlphabetCorpus:
	default:
		return &ConfigError{Field: "initial_alphabet", Reason: fmt.Sprintf("%q (expected full|corpus)", o.InitialAlphabet)}
	}
	if o.InitialAlphabet != AlphabetCorpus && o.VocabSize < len(o.SpecialTokens)+alphabetSize {
		return &ConfigError{
			Field: "vocab_size",
			Reason: fmt.Sprintf("%d is below the %d special tokens plus %d byte symbols of the full alphabet",
				o.VocabSize, len(o.SpecialTokens), alphabetSize),
		}
	}

	return nil
}

// Result is the published output of a training run.
type Result struct {
	Vocab  *Vocabulary
	Merges []Merge
	Stop   StopReason
}

// Trainer learns a vocabulary and ranked merges from a WordCounts table.
type Trainer struct {
	opts TrainerOptions
}

// NewTrainer validates opts.
func NewTrainer(opts TrainerOptions) (*Trainer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.InitialAlphabet == "" {
		opts.InitialAlphabet = AlphabetFull
	}

	return &Trainer{opts: opts}, nil
}

// Options returns the validated options.
func (t *Trainer) Options() TrainerOptions { return t.opts }

// Train runs the greedy merge loop. Each iteration picks the adjacent pair
// with the highest weighted frequency; ties go to the pair whose first
// occurrence comes earliest when scanning words in table order and
// positions left to right. Pair counts are maintained incrementally and
// equal a full rescan after every merge.
//
// ctx is checked between iterations; on cancellation nothing is published.
func (t *Trainer) Train(ctx context.Context, words *WordCounts) (*Result, error) {
	st, err := t.train(ctx, words)
	if err != nil {
		return nil, err
	}

	return &Result{Vocab: st.vocab, Merges: st.merges, Stop: st.stop}, nil
}

type trainWord struct {
	ids  []int
	freq int
}

type trainState struct {
	vocab  *Vocabulary
	merges []Merge
	stop   StopReason
	words  []trainWord
	lens   []int
	counts map[pair]int
	where  map[pair]map[int]struct{}
	// first holds the earliest occurrence of every counted pair; queue
	// orders pairs by (count desc, first asc) with stale entries skipped
	// on pop.
	first map[pair]occ
	queue *heap.Heap[queued]
}

// occ is a pair occurrence: word index, then position within the word.
type occ struct {
	word int
	pos  int
}

func (o occ) before(p occ) bool {
	return o.word < p.word || (o.word == p.word && o.pos < p.pos)
}

type queued struct {
	p     pair
	count int
	at    occ
}

func compareQueued(a, b queued) int {
	if a.count != b.count {
		return cmp.Compare(b.count, a.count)
	}
	if a.at.word != b.at.word {
		return cmp.Compare(a.at.word, b.at.word)
	}

	return cmp.Compare(a.at.pos, b.at.pos)
}

func (t *Trainer) train(ctx context.Context, wc *WordCounts) (*trainState, error) {
	if wc == nil || wc.Len() == 0 {
		return nil, &TrainingError{Reason: "empty corpus"}
	}

	st := &trainState{vocab: newVocabulary(t.opts.SpecialTokens)}
	for range t.opts.SpecialTokens {
		st.lens = append(st.lens, 0)
	}
	st.seedAlphabet(t.opts.InitialAlphabet, wc)
	if st.vocab.Size() > t.opts.VocabSize {
		return nil, &TrainingError{Reason: fmt.Sprintf(
			"corpus alphabet of %d byte symbols plus %d special tokens exceeds vocab_size %d",
			st.vocab.Size()-len(t.opts.SpecialTokens), len(t.opts.SpecialTokens), t.opts.VocabSize)}
	}
	st.loadWords(wc)
	st.countPairs(t.opts.Workers)
	st.seedQueue()

	log := t.opts.Logger
	if log != nil {
		log.Debug("bpe training started",
			"words", len(st.words),
			"alphabet", st.vocab.Size()-len(t.opts.SpecialTokens),
			"pairs", len(st.counts),
			"target", t.opts.VocabSize,
		)
	}

	for st.vocab.Size() < t.opts.VocabSize {
		if err := ctx.Err(); err != nil {
			return nil, &TrainingError{Reason: fmt.Sprintf("cancelled after %d merges", len(st.merges)), Err: err}
		}

		best, freq, ok := st.best(t.opts.MaxTokenLength)
		if !ok {
			st.stop = StopNoPairs
			break
		}
		if freq < t.opts.MinFrequency {
			st.stop = StopMinFrequency
			break
		}

		st.merge(best)

		if log != nil && len(st.merges)%1000 == 0 {
			m := st.merges[len(st.merges)-1]
			log.Debug("bpe merge", "rank", m.Rank, "freq", freq, "symbol", Display(m.Result), "vocab", st.vocab.Size())
		}
	}
	if st.stop == "" {
		st.stop = StopVocabSize
	}

	if st.stop == StopMinFrequency && len(st.merges) == 0 {
		return nil, &TrainingError{
			Reason: fmt.Sprintf("no pair reaches min_frequency %d; zero merges learned", t.opts.MinFrequency),
		}
	}

	if log != nil {
		log.Debug("bpe training finished", "merges", len(st.merges), "vocab", st.vocab.Size(), "stop", string(st.stop))
	}

	st.counts = nil
	st.where = nil
	st.first = nil
	st.queue = nil

	return st, nil
}

func (st *trainState) addSymbol(sym string) int {
	id, added := st.vocab.add(sym)
	if added {
		st.lens = append(st.lens, symbolLen(sym))
	}

	return id
}

func (st *trainState) seedAlphabet(mode string, wc *WordCounts) {
	if mode == AlphabetCorpus {
		var seen [256]bool
		for _, w := range wc.words {
			for i := 0; i < len(w); i++ {
				if !seen[w[i]] {
					seen[w[i]] = true
					st.addSymbol(bytelevel.MapByte(w[i]))
				}
			}
		}

		return
	}

	for _, sym := range bytelevel.Alphabet() {
		st.addSymbol(sym)
	}
}

func (st *trainState) loadWords(wc *WordCounts) {
	var byteIDs [256]int
	for b := range byteIDs {
		byteIDs[b], _ = st.vocab.ID(bytelevel.MapByte(byte(b)))
	}

	st.words = make([]trainWord, len(wc.words))
	for i, w := range wc.words {
		ids := make([]int, len(w))
		for j := 0; j < len(w); j++ {
			ids[j] = byteIDs[w[j]]
		}
		st.words[i] = trainWord{ids: ids, freq: wc.counts[i]}
	}
}

type pairTally struct {
	counts map[pair]int
	where  map[pair][]int
}

// countPairs builds the initial pair table. Shards are contiguous word
// ranges reduced in order, so the result does not depend on scheduling.
func (st *trainState) countPairs(workers int) {
	if workers < 2 {
		workers = 1
	}

	type shard struct{ from, to int }
	size := (len(st.words) + workers - 1) / workers
	var shards []shard
	for from := 0; from < len(st.words); from += size {
		shards = append(shards, shard{from: from, to: min(from+size, len(st.words))})
	}

	tally := func(sh *shard) pairTally {
		pt := pairTally{counts: make(map[pair]int), where: make(map[pair][]int)}
		for wi := sh.from; wi < sh.to; wi++ {
			w := st.words[wi]
			for j := 0; j+1 < len(w.ids); j++ {
				p := pair{w.ids[j], w.ids[j+1]}
				pt.counts[p] += w.freq
				if ws := pt.where[p]; len(ws) == 0 || ws[len(ws)-1] != wi {
					pt.where[p] = append(ws, wi)
				}
			}
		}

		return pt
	}

	var partials []pairTally
	if len(shards) == 1 {
		partials = []pairTally{tally(&shards[0])}
	} else {
		partials = iter.Mapper[shard, pairTally]{MaxGoroutines: workers}.Map(shards, tally)
	}

	st.counts = make(map[pair]int)
	st.where = make(map[pair]map[int]struct{})
	for _, pt := range partials {
		for p, c := range pt.counts {
			st.counts[p] += c
		}
		for p, ws := range pt.where {
			set := st.where[p]
			if set == nil {
				set = make(map[int]struct{}, len(ws))
				st.where[p] = set
			}
			for _, wi := range ws {
				set[wi] = struct{}{}
			}
		}
	}
}

// seedQueue records first occurrences and queues every counted pair.
func (st *trainState) seedQueue() {
	st.first = make(map[pair]occ, len(st.counts))
	for wi, w := range st.words {
		for j := 0; j+1 < len(w.ids); j++ {
			p := pair{w.ids[j], w.ids[j+1]}
			if _, ok := st.first[p]; !ok {
				st.first[p] = occ{word: wi, pos: j}
			}
		}
	}

	st.queue = heap.NewWith(compareQueued)
	for p, c := range st.counts {
		st.queue.Push(queued{p: p, count: c, at: st.first[p]})
	}
}

// best pops the most frequent eligible pair, breaking ties by first
// occurrence in scan order. Entries whose count or first occurrence no
// longer match are stale and dropped; every change re-queues the pair.
// Pairs longer than maxLen bytes are dropped for good.
func (st *trainState) best(maxLen int) (pair, int, bool) {
	for {
		e, ok := st.queue.Pop()
		if !ok {
			return pair{}, 0, false
		}
		if c := st.counts[e.p]; c <= 0 || c != e.count || st.first[e.p] != e.at {
			continue
		}
		if maxLen > 0 && st.lens[e.p.left]+st.lens[e.p.right] > maxLen {
			continue
		}

		return e.p, e.count, true
	}
}

// firstSeen returns the lowest occurrence of p by scanning its words.
func (st *trainState) firstSeen(p pair) occ {
	best := occ{word: len(st.words)}
	for wi := range st.where[p] {
		if wi >= best.word {
			continue
		}
		ids := st.words[wi].ids
		for j := 0; j+1 < len(ids); j++ {
			if ids[j] == p.left && ids[j+1] == p.right {
				best = occ{word: wi, pos: j}
				break
			}
		}
	}

	return best
}

func (st *trainState) merge(p pair) {
	left, _ := st.vocab.Symbol(p.left)
	right, _ := st.vocab.Symbol(p.right)
	result := left + right
	newID := st.addSymbol(result)
	st.merges = append(st.merges, Merge{Left: left, Right: right, Result: result, Rank: len(st.merges)})

	affected := make([]int, 0, len(st.where[p]))
	for wi := range st.where[p] {
		affected = append(affected, wi)
	}
	delete(st.where, p)

	var (
		touched  = make(map[pair]struct{})
		earliest = make(map[pair]occ)
		rewrote  = make(map[int]struct{}, len(affected))
	)
	for _, wi := range affected {
		w := &st.words[wi]
		if !containsPair(w.ids, p) {
			continue
		}

		rewrote[wi] = struct{}{}
		st.addPairs(wi, -1, touched, nil)
		w.ids = replacePair(w.ids, p, newID)
		st.addPairs(wi, +1, touched, earliest)
	}
	delete(st.counts, p)
	delete(st.first, p)

	for q := range touched {
		c, ok := st.counts[q]
		if !ok {
			delete(st.first, q)
			continue
		}
		at := st.refreshFirst(q, earliest, rewrote)
		st.first[q] = at
		st.queue.Push(queued{p: q, count: c, at: at})
	}
}

// refreshFirst recomputes the first occurrence of q after the words in
// rewrote changed. earliest holds q's lowest occurrence among them.
func (st *trainState) refreshFirst(q pair, earliest map[pair]occ, rewrote map[int]struct{}) occ {
	cand, hasCand := earliest[q]
	old, hasOld := st.first[q]
	switch {
	case !hasOld:
		// Every occurrence is new, so all of them are in rewritten words.
		return cand
	case !containsKey(rewrote, old.word):
		if hasCand && cand.before(old) {
			return cand
		}
		return old
	case hasCand && cand.word <= old.word:
		// No untouched word below old.word holds q.
		return cand
	default:
		return st.firstSeen(q)
	}
}

func containsKey(m map[int]struct{}, k int) bool {
	_, ok := m[k]
	return ok
}

// addPairs adds (sign=+1) or removes (sign=-1) every adjacent pair of word
// wi from the counts table, marking each pair in touched. On add, earliest
// keeps the lowest occurrence seen per pair.
func (st *trainState) addPairs(wi, sign int, touched map[pair]struct{}, earliest map[pair]occ) {
	w := st.words[wi]
	for j := 0; j+1 < len(w.ids); j++ {
		q := pair{w.ids[j], w.ids[j+1]}
		touched[q] = struct{}{}
		c := st.counts[q] + sign*w.freq
		if c <= 0 {
			delete(st.counts, q)
		} else {
			st.counts[q] = c
		}
		if sign > 0 {
			set := st.where[q]
			if set == nil {
				set = make(map[int]struct{})
				st.where[q] = set
			}
			set[wi] = struct{}{}

			at := occ{word: wi, pos: j}
			if cur, ok := earliest[q]; !ok || at.before(cur) {
				earliest[q] = at
			}
		}
	}
}

func containsPair(ids []int, p pair) bool {
	for j := 0; j+1 < len(ids); j++ {
		if ids[j] == p.left && ids[j+1] == p.right {
			return true
		}
	}

	return false
}

// replacePair rewrites non-overlapping occurrences of p left to right.
func replacePair(ids []int, p pair, id int) []int {
	out := ids[:0]
	for j := 0; j < len(ids); j++ {
		if j+1 < len(ids) && ids[j] == p.left && ids[j+1] == p.right {
			out = append(out, id)
			j++
			continue
		}
		out = append(out, ids[j])
	}

	return out
}

// segmentation renders a trained word as its symbol strings.
func (st *trainState) segmentation(wi int) []string {
	ids := st.words[wi].ids
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i], _ = st.vocab.Symbol(id)
	}

	return out
}

// String summarises a result for logs and the CLI.
func (r *Result) String() string {
	return fmt.Sprintf("vocab=%d merges=%d stop=%s", r.Vocab.Size(), len(r.Merges), r.Stop)
}
