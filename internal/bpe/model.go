package bpe

import (
	"cmp"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"
	lru "github.com/hashicorp/golang-lru"

	"github.com/example/go-bytebpe/internal/bytelevel"
)

// DefaultCacheSize bounds the number of memoized word encodings.
const DefaultCacheSize = 10000

// DecodePolicy selects how Decode handles output that is not valid UTF-8.
type DecodePolicy string

const (
	// DecodeStrict fails with a DecodeError at the first invalid byte.
	DecodeStrict DecodePolicy = "strict"
	// DecodeReplace substitutes U+FFFD for each invalid sequence.
	DecodeReplace DecodePolicy = "replace"
)

// ParseDecodePolicy validates a configured policy. Empty means strict.
func ParseDecodePolicy(raw string) (DecodePolicy, error) {
	switch p := DecodePolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return DecodeStrict, nil
	case DecodeStrict, DecodeReplace:
		return p, nil
	default:
		return "", &ConfigError{Field: "decoder.policy", Reason: fmt.Sprintf("%q (expected strict|replace)", raw)}
	}
}

// DecodeOptions controls Decode.
type DecodeOptions struct {
	Policy      DecodePolicy
	SkipSpecial bool
}

// ModelOptions configures NewModel.
type ModelOptions struct {
	// CacheSize bounds memoized word encodings; 0 disables the cache.
	CacheSize int
}

// Piece is one encoded symbol of a word. Start and End are byte offsets
// within the word.
type Piece struct {
	ID    int
	Start int
	End   int
}

// Model applies ranked merges to byte-level words. It is immutable after
// construction and safe for concurrent use; the optional cache only
// memoizes results.
type Model struct {
	vocab   *Vocabulary
	merges  []Merge
	ranks   map[pair]mergeRef
	byteIDs [256]int
	cache   *lru.Cache
}

// NewModel checks that every merge joins known symbols into a known symbol
// and that ranks are dense and increasing. Only the first rule for a given
// pair takes effect.
func NewModel(vocab *Vocabulary, merges []Merge, opts ModelOptions) (*Model, error) {
	m := &Model{
		vocab:  vocab,
		merges: append([]Merge(nil), merges...),
		ranks:  make(map[pair]mergeRef, len(merges)),
	}

	for b := range m.byteIDs {
		id, ok := vocab.ID(bytelevel.MapByte(byte(b)))
		if !ok {
			id = -1
		}
		m.byteIDs[b] = id
	}

	for i, mg := range merges {
		if mg.Rank != i {
			return nil, &ConfigError{Field: "merges", Reason: fmt.Sprintf("rule %d has rank %d", i, mg.Rank)}
		}
		l, okL := vocab.ID(mg.Left)
		r, okR := vocab.ID(mg.Right)
		res, okRes := vocab.ID(mg.Result)
		if !okL || !okR || !okRes || mg.Result != mg.Left+mg.Right {
			return nil, &ConfigError{Field: "merges", Reason: fmt.Sprintf("rank %d: %q + %q does not resolve in vocabulary", i, mg.Left, mg.Right)}
		}
		// A reused result id can re-create a pair that was already merged;
		// the lower rank wins.
		p := pair{l, r}
		if _, dup := m.ranks[p]; dup {
			continue
		}
		m.ranks[p] = mergeRef{rank: i, result: res}
	}

	if opts.CacheSize > 0 {
		c, err := lru.New(opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create encode cache: %w", err)
		}
		m.cache = c
	}

	return m, nil
}

// Vocabulary returns the model vocabulary.
func (m *Model) Vocabulary() *Vocabulary { return m.vocab }

// Merges returns a copy of the ranked merge list.
func (m *Model) Merges() []Merge { return append([]Merge(nil), m.merges...) }

type node struct {
	id         int
	prev, next int
	start, end int
}

type candidate struct {
	rank  int
	pos   int
	left  int
	right int
}

// EncodeWord segments one pre-tokenized word given as raw bytes. The
// adjacent pair with the lowest rank is merged first; equal ranks merge
// left to right.
func (m *Model) EncodeWord(word string) ([]Piece, error) {
	if word == "" {
		return nil, nil
	}
	if m.cache != nil {
		if v, ok := m.cache.Get(word); ok {
			return append([]Piece(nil), v.([]Piece)...), nil
		}
	}

	nodes := make([]node, len(word))
	for i := 0; i < len(word); i++ {
		id := m.byteIDs[word[i]]
		if id < 0 {
			return nil, &UnknownSymbolError{Symbol: bytelevel.MapByte(word[i]), Offset: i}
		}
		nodes[i] = node{id: id, prev: i - 1, next: i + 1, start: i, end: i + 1}
	}

	queue := heap.NewWith(func(a, b candidate) int {
		if c := cmp.Compare(a.rank, b.rank); c != 0 {
			return c
		}
		return cmp.Compare(a.pos, b.pos)
	})
	push := func(a int) {
		if a < 0 {
			return
		}
		b := nodes[a].next
		if b >= len(nodes) {
			return
		}
		if ref, ok := m.ranks[pair{nodes[a].id, nodes[b].id}]; ok {
			queue.Push(candidate{rank: ref.rank, pos: a, left: nodes[a].id, right: nodes[b].id})
		}
	}
	for i := 0; i+1 < len(nodes); i++ {
		push(i)
	}

	for !queue.Empty() {
		c, _ := queue.Pop()
		a := &nodes[c.pos]
		if a.id != c.left || a.next >= len(nodes) || a.end == a.start {
			continue
		}
		b := &nodes[a.next]
		if b.id != c.right {
			continue
		}

		a.id = m.ranks[pair{c.left, c.right}].result
		a.end = b.end
		a.next = b.next
		b.start, b.end = 0, 0
		if a.next < len(nodes) {
			nodes[a.next].prev = c.pos
		}

		push(a.prev)
		push(c.pos)
	}

	var pieces []Piece
	for i := 0; i < len(nodes); i = nodes[i].next {
		pieces = append(pieces, Piece{ID: nodes[i].id, Start: nodes[i].start, End: nodes[i].end})
	}

	if m.cache != nil {
		m.cache.Add(word, append([]Piece(nil), pieces...))
	}

	return pieces, nil
}

// DecodeBytes concatenates the bytes behind ids. Special tokens contribute
// their literal content unless skipSpecial is set. No UTF-8 check is made.
func (m *Model) DecodeBytes(ids []int, skipSpecial bool) ([]byte, error) {
	out, _, err := m.decodeBytes(ids, skipSpecial)
	return out, err
}

func (m *Model) decodeBytes(ids []int, skipSpecial bool) ([]byte, []int, error) {
	out := make([]byte, 0, len(ids)*3)
	starts := make([]int, len(ids))
	for pos, id := range ids {
		starts[pos] = len(out)

		sym, ok := m.vocab.Symbol(id)
		if !ok {
			return nil, nil, &DecodeError{
				ID: id, Position: pos, Offset: -1,
				Reason: fmt.Sprintf("id outside vocabulary [0, %d)", m.vocab.Size()),
			}
		}
		if m.vocab.IsSpecial(id) {
			if !skipSpecial {
				out = append(out, sym...)
			}
			continue
		}

		var err error
		out, err = bytelevel.Unmap(out, sym)
		if err != nil {
			return nil, nil, &DecodeError{ID: id, Position: pos, Offset: -1, Reason: err.Error(), Err: err}
		}
	}

	return out, starts, nil
}

// Decode turns ids back into text under opts.Policy.
func (m *Model) Decode(ids []int, opts DecodeOptions) (string, error) {
	out, starts, err := m.decodeBytes(ids, opts.SkipSpecial)
	if err != nil {
		return "", err
	}
	if utf8.Valid(out) {
		return string(out), nil
	}

	if opts.Policy == DecodeReplace {
		return strings.ToValidUTF8(string(out), "\uFFFD"), nil
	}

	off := firstInvalid(out)
	pos := sort.Search(len(starts), func(i int) bool { return starts[i] > off }) - 1

	return "", &DecodeError{
		ID: ids[pos], Position: pos, Offset: off,
		Reason: "decoded bytes are not valid UTF-8",
	}
}

func firstInvalid(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}

	return len(b)
}
