package bpe

// WordCounts is the training frequency table: distinct pre-tokenized words
// (raw bytes) in first-seen order with their occurrence counts.
type WordCounts struct {
	index  map[string]int
	words  []string
	counts []int
}

// NewWordCounts returns an empty table.
func NewWordCounts() *WordCounts {
	return &WordCounts{index: make(map[string]int)}
}

// Add records n occurrences of word. Empty words are ignored.
func (w *WordCounts) Add(word string, n int) {
	if word == "" || n <= 0 {
		return
	}
	if i, ok := w.index[word]; ok {
		w.counts[i] += n
		return
	}
	w.index[word] = len(w.words)
	w.words = append(w.words, word)
	w.counts = append(w.counts, n)
}

// Len is the number of distinct words.
func (w *WordCounts) Len() int { return len(w.words) }

// Count returns the occurrences recorded for word.
func (w *WordCounts) Count(word string) int {
	if i, ok := w.index[word]; ok {
		return w.counts[i]
	}

	return 0
}

// Total is the number of recorded occurrences.
func (w *WordCounts) Total() int {
	total := 0
	for _, c := range w.counts {
		total += c
	}

	return total
}
