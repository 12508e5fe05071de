// Package matcher implements the keyword matching engine: exact
// substring containment plus bounded edit-distance fuzzy matching
// over ordered rule sets.
package matcher

import (
	"strings"

	"github.com/replyrelay/internal/model"
)

// Tolerance is the maximum edit distance accepted by a fuzzy match.
const Tolerance = 1

// FindMatch returns the first rule whose variant set matches the
// input text, searching local rules before global ones. Within each
// list the store's insertion order is the tie-break; there is no
// scoring. The second return is false when nothing matched.
func FindMatch(text string, set model.RuleSet) (model.Rule, bool) {
	normalized := normalize(text)
	if normalized == "" {
		return model.Rule{}, false
	}

	for _, rules := range [][]model.Rule{set.Local, set.Global} {
		for _, rule := range rules {
			if ruleMatches(normalized, rule) {
				return rule, true
			}
		}
	}
	return model.Rule{}, false
}

func ruleMatches(normalized string, rule model.Rule) bool {
	for _, variant := range rule.EffectiveVariants() {
		v := normalize(variant)
		if v == "" {
			// A rule with an empty keyword and no variants should not
			// be constructible, but a broken store must not crash the
			// engine: skip it.
			continue
		}
		if strings.Contains(normalized, v) {
			return true
		}
		if levenshtein(normalized, v) <= Tolerance {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// levenshtein computes the classic edit distance with unit costs for
// insertion, deletion and substitution, using a two-row table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(ra)+1)
	curr := make([]int, len(ra)+1)
	for i := range prev {
		prev[i] = i
	}

	for j := 1; j <= len(rb); j++ {
		curr[0] = j
		for i := 1; i <= len(ra); i++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[i] = min(curr[i-1]+1, prev[i]+1, prev[i-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(ra)]
}
