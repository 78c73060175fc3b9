package tokenizer

import (
	"cmp"
	"slices"
)

// Vocab is a dense vocabulary over the most frequent tokens of a corpus.
//
// Kept tokens get ids 0..n-1 in order of decreasing frequency (ties by
// token id); every other token maps to the shared id n.
type Vocab struct {
	ids    map[int]int
	tokens []int
}

// FitVocab keeps at most size-1 distinct tokens of seqs, reserving one id
// for everything else. size must be at least 2.
func FitVocab(seqs [][]int, size int) *Vocab {
	size = max(size, 2)
	counts := make(map[int]int)
	for _, seq := range seqs {
		for _, t := range seq {
			counts[t]++
		}
	}
	tokens := make([]int, 0, len(counts))
	for t := range counts {
		tokens = append(tokens, t)
	}
	slices.SortFunc(tokens, func(a, b int) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if len(tokens) > size-1 {
		tokens = tokens[:size-1]
	}
	ids := make(map[int]int, len(tokens))
	for i, t := range tokens {
		ids[t] = i
	}
	return &Vocab{ids: ids, tokens: tokens}
}

// Size returns the number of dense ids, including the shared one.
func (v *Vocab) Size() int {
	return len(v.tokens) + 1
}

// Other returns the shared id of tokens outside the vocabulary.
func (v *Vocab) Other() int {
	return len(v.tokens)
}

// Map converts tokenizer ids to dense ids.
func (v *Vocab) Map(tokens []int) []int {
	out := make([]int, len(tokens))
	for i, t := range tokens {
		id, ok := v.ids[t]
		if !ok {
			id = v.Other()
		}
		out[i] = id
	}
	return out
}

// Token returns the tokenizer id of a dense id, or -1 for the shared id.
func (v *Vocab) Token(id int) int {
	if id < 0 || id >= len(v.tokens) {
		return -1
	}
	return v.tokens[id]
}
