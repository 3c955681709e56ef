package services

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// keywordStopwords are skipped when scoring candidate topics
var keywordStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"it": true, "its": true, "this": true, "that": true, "these": true,
	"those": true, "their": true, "they": true, "them": true, "we": true,
	"you": true, "your": true, "our": true, "his": true, "her": true,
	"he": true, "she": true, "i": true, "not": true, "no": true, "can": true,
	"will": true, "would": true, "could": true, "should": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true,
	"which": true, "what": true, "when": true, "where": true, "who": true,
	"how": true, "than": true, "then": true, "there": true, "here": true,
	"all": true, "also": true, "into": true, "more": true, "some": true,
	"such": true, "only": true, "other": true, "about": true, "over": true,
	"after": true, "before": true, "between": true, "because": true,
	"if": true, "so": true, "up": true, "out": true, "any": true, "each": true,
}

// topKeywords scores the terms of a single text by log-scaled frequency
// weighted by term length, and returns the top scoring terms. It backs
// the analyzer fallback: when the model yields nothing usable, the
// chunk still gets searchable topics.
func topKeywords(text string, limit int) []string {
	counts := make(map[string]int)
	total := 0
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	}) {
		word = strings.Trim(word, "-")
		if len(word) < 3 || keywordStopwords[word] {
			continue
		}
		counts[word]++
		total++
	}
	if total == 0 {
		return nil
	}

	type scored struct {
		word  string
		score float64
	}
	results := make([]scored, 0, len(counts))
	for word, freq := range counts {
		// Longer terms carry more signal than frequent short ones
		score := (1 + math.Log(float64(freq))) * math.Log(float64(len(word)))
		results = append(results, scored{word: word, score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].word < results[j].word
	})

	if limit > len(results) {
		limit = len(results)
	}
	words := make([]string, limit)
	for i := 0; i < limit; i++ {
		words[i] = results[i].word
	}
	return words
}
