package usecase

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

const (
	weightVector   = 0.60
	weightOverlap  = 0.30
	weightFilename = 0.10
)

// Filler words of how-to questions. They match nearly every chunk and would
// drown out the UI terms that matter.
var questionStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "can": {}, "do": {}, "does": {}, "for": {}, "how": {},
	"i": {}, "in": {}, "is": {}, "it": {}, "my": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "to": {}, "what": {}, "where": {}, "with": {},
	"в": {}, "где": {}, "и": {}, "как": {}, "мне": {}, "на": {}, "по": {}, "с": {}, "что": {}, "я": {},
}

// rerankLexical rescores the first topN evidence items by blending the
// min-max normalized vector score with question term overlap and a filename
// match. Items past topN keep their order after the head.
func rerankLexical(question string, ranked []domain.Evidence, topN int) []domain.Evidence {
	if len(ranked) == 0 {
		return ranked
	}
	n := len(ranked)
	if topN > 0 && topN < n {
		n = topN
	}

	head := slices.Clone(ranked[:n])
	lo, hi := scoreRange(head)
	terms := questionTerms(question)
	for i := range head {
		head[i].Score = weightVector*normalizeScore(head[i].Score, lo, hi) +
			weightOverlap*termOverlap(terms, head[i].Text) +
			weightFilename*filenameHit(terms, head[i].Filename)
	}
	slices.SortStableFunc(head, func(a, b domain.Evidence) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(a.DocumentID, b.DocumentID),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.Position, b.Position),
		)
	})
	return append(head, ranked[n:]...)
}

func scoreRange(items []domain.Evidence) (lo, hi float64) {
	lo, hi = items[0].Score, items[0].Score
	for _, it := range items[1:] {
		lo = min(lo, it.Score)
		hi = max(hi, it.Score)
	}
	return lo, hi
}

func normalizeScore(v, lo, hi float64) float64 {
	if hi <= lo {
		if v > 0 {
			return 1
		}
		return 0
	}
	return (v - lo) / (hi - lo)
}

func questionTerms(question string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, tok := range splitWordsLower(question) {
		if _, stop := questionStopwords[tok]; stop {
			continue
		}
		terms[tok] = struct{}{}
	}
	return terms
}

// termOverlap is the share of question terms that occur in text.
func termOverlap(terms map[string]struct{}, text string) float64 {
	if len(terms) == 0 || text == "" {
		return 0
	}
	seen := make(map[string]struct{}, len(terms))
	for _, tok := range splitWordsLower(text) {
		if _, ok := terms[tok]; ok {
			seen[tok] = struct{}{}
		}
	}
	return float64(len(seen)) / float64(len(terms))
}

func filenameHit(terms map[string]struct{}, filename string) float64 {
	for _, tok := range splitWordsLower(filename) {
		if _, ok := terms[tok]; ok {
			return 1
		}
	}
	return 0
}

// splitWordsLower lower-cases s and splits it on anything that is not a
// letter or digit, in any script.
func splitWordsLower(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
