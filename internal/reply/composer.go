// Package reply selects and personalizes outbound reply templates.
package reply

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
)

// ErrEmptyTemplateList is returned when there is nothing to pick from.
// Callers must supply a default single-element list when the rule
// store returns none.
var ErrEmptyTemplateList = errors.New("empty template list")

// Placeholder tokens replaced during personalization. Substitution is
// literal text replacement, not template evaluation.
const (
	keywordToken  = "{{keyword}}"
	resourceToken = "{{resourceUrl}}"
)

// Composer picks templates through an injected randomness source so
// tests can make selection deterministic. One Composer is shared by
// every webhook delivery; the mutex serializes draws because
// rand.Rand is not safe for concurrent use.
type Composer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewComposer creates a composer drawing from src.
func NewComposer(src rand.Source) *Composer {
	return &Composer{rng: rand.New(src)}
}

// Personalize picks one template uniformly at random and substitutes
// every occurrence of the keyword and resource URL placeholders. Safe
// for concurrent use.
func (c *Composer) Personalize(templates []string, keyword, resourceURL string) (string, error) {
	if len(templates) == 0 {
		return "", ErrEmptyTemplateList
	}
	c.mu.Lock()
	chosen := templates[c.rng.Intn(len(templates))]
	c.mu.Unlock()
	chosen = strings.ReplaceAll(chosen, keywordToken, keyword)
	chosen = strings.ReplaceAll(chosen, resourceToken, resourceURL)
	return chosen, nil
}
