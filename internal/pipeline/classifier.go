package pipeline

import (
	"sort"
	"strings"
)

// DefaultSynonyms returns the English and Spanish keyword sets used to
// read verifier answers.
func DefaultSynonyms() map[Condition][]string {
	return map[Condition][]string{
		ConditionFire: {"fire", "flame", "smoke", "burning", "incendio", "fuego", "llama", "humo"},
		ConditionFall: {"fallen", "fall", "lying on the floor", "lying on the ground", "collapsed", "caída", "caido", "caído", "tirado", "en el suelo"},
	}
}

// KeywordClassifier maps free-form verifier text to confirmed conditions by
// case-insensitive substring matching against per-condition synonym sets.
type KeywordClassifier struct {
	terms map[Condition][]string
}

// NewKeywordClassifier builds a classifier from synonym sets. Empty terms
// are dropped.
func NewKeywordClassifier(synonyms map[Condition][]string) *KeywordClassifier {
	terms := make(map[Condition][]string, len(synonyms))
	for cond, words := range synonyms {
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				terms[cond] = append(terms[cond], w)
			}
		}
	}
	return &KeywordClassifier{terms: terms}
}

// Classify returns the conditions whose synonyms occur in text, in
// Conditions order followed by any other configured conditions sorted by name.
func (k *KeywordClassifier) Classify(text string) []Condition {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return nil
	}

	var confirmed []Condition
	seen := make(map[Condition]bool)
	check := func(cond Condition) {
		if seen[cond] {
			return
		}
		seen[cond] = true
		for _, w := range k.terms[cond] {
			if strings.Contains(lower, w) {
				confirmed = append(confirmed, cond)
				return
			}
		}
	}

	for _, cond := range Conditions {
		check(cond)
	}
	var extra []Condition
	for cond := range k.terms {
		if !seen[cond] {
			extra = append(extra, cond)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	for _, cond := range extra {
		check(cond)
	}
	return confirmed
}
