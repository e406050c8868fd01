package memory

import (
	"sort"
	"strings"
	"unicode"
)

// Ranking weights. Lexical overlap dominates so that an on-topic old entry
// still beats an off-topic new one; recency settles the rest.
const (
	lexicalWeight = 0.7
	recencyWeight = 0.3
	phraseBonus   = 0.25
)

// tokenize lowercases s and splits on any non-alphanumeric rune.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// lexicalScore is the fraction of query tokens found among the entry's key
// and value tokens, plus a bonus when the whole query appears verbatim in
// the value. Clamped to [0,1]. Deliberately simple: the score must stay
// explainable so attribution can audit why an entry ranked where it did.
func lexicalScore(queryTokens []string, key, value string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	entryTokens := make(map[string]struct{})
	for _, t := range tokenize(key) {
		entryTokens[t] = struct{}{}
	}
	for _, t := range tokenize(value) {
		entryTokens[t] = struct{}{}
	}

	matched := 0
	for _, qt := range queryTokens {
		if _, ok := entryTokens[qt]; ok {
			matched++
		}
	}
	score := float64(matched) / float64(len(queryTokens))

	if strings.Contains(strings.ToLower(value), strings.ToLower(strings.Join(queryTokens, " "))) {
		score += phraseBonus
	}
	if score > 1 {
		score = 1
	}
	return score
}

// recencyScore maps an entry's age in logical turns to (0,1], newest = 1.
func recencyScore(createdAt, now int64) float64 {
	age := now - createdAt
	if age < 0 {
		age = 0
	}
	return 1.0 / float64(1+age)
}

type scoredEntry struct {
	entry ranked
	score float64
}

type ranked struct {
	id        int64
	createdAt int64
	index     int
}

// rankEntries orders candidate indices by combined score, breaking ties by
// newer created_at, then by lower id (insertion order). ids and createdAts
// parallel the indices slice.
func rankEntries(scores []float64, ids, createdAts []int64) []int {
	order := make([]scoredEntry, len(scores))
	for i := range scores {
		order[i] = scoredEntry{
			entry: ranked{id: ids[i], createdAt: createdAts[i], index: i},
			score: scores[i],
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		if order[a].score != order[b].score {
			return order[a].score > order[b].score
		}
		if order[a].entry.createdAt != order[b].entry.createdAt {
			return order[a].entry.createdAt > order[b].entry.createdAt
		}
		return order[a].entry.id < order[b].entry.id
	})
	out := make([]int, len(order))
	for i, s := range order {
		out[i] = s.entry.index
	}
	return out
}
