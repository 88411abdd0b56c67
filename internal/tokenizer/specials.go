package tokenizer

import (
	"sort"
	"strings"

	"github.com/example/go-bytebpe/internal/bpe"
)

// fragment is a piece of normalized text: either plain text to be
// pre-tokenized or one literal special token (special >= 0).
type fragment struct {
	text    string
	start   int
	special int
}

// specialMatcher finds unsplittable special tokens in text. At each
// position the longest matching token wins.
type specialMatcher struct {
	tokens []string
	ids    map[string]int
	first  [256]bool
}

func newSpecialMatcher(specials []bpe.SpecialToken) *specialMatcher {
	m := &specialMatcher{ids: make(map[string]int)}
	for id, sp := range specials {
		if !sp.Unsplittable || sp.Content == "" {
			continue
		}
		m.tokens = append(m.tokens, sp.Content)
		m.ids[sp.Content] = id
		m.first[sp.Content[0]] = true
	}
	sort.SliceStable(m.tokens, func(i, j int) bool { return len(m.tokens[i]) > len(m.tokens[j]) })

	return m
}

func (m *specialMatcher) match(s string) (int, int) {
	if s == "" || !m.first[s[0]] {
		return -1, 0
	}
	for _, tok := range m.tokens {
		if strings.HasPrefix(s, tok) {
			return m.ids[tok], len(tok)
		}
	}

	return -1, 0
}

// split cuts s around special token occurrences, in order.
func (m *specialMatcher) split(s string) []fragment {
	if len(m.tokens) == 0 {
		if s == "" {
			return nil
		}
		return []fragment{{text: s, special: -1}}
	}

	var out []fragment
	last := 0
	for i := 0; i < len(s); {
		id, n := m.match(s[i:])
		if n == 0 {
			i++
			continue
		}
		if last < i {
			out = append(out, fragment{text: s[last:i], start: last, special: -1})
		}
		out = append(out, fragment{text: s[i : i+n], start: i, special: id})
		i += n
		last = i
	}
	if last < len(s) {
		out = append(out, fragment{text: s[last:], start: last, special: -1})
	}

	return out
}
