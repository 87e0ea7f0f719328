// Package wordfilter screens user-supplied names and descriptions against a
// configured word list before they reach a handler.
package wordfilter

import (
	"regexp"
	"strings"
	"sync"

	"github.com/mkcommunity/registry/internal/problem"
)

// Filter is one screened pattern. Regex filters compile once on Add; plain
// filters match whole lowercased words.
type Filter struct {
	ID        int64  `json:"id"`
	Pattern   string `json:"pattern"`
	IsRegex   bool   `json:"is_regex"`
	IsEnabled bool   `json:"is_enabled"`

	compiled *regexp.Regexp
}

func (f *Filter) Match(word string) bool {
	if f.IsRegex {
		return f.compiled != nil && f.compiled.MatchString(word)
	}

	return strings.EqualFold(f.Pattern, word)
}

type WordFilters struct {
	mu      sync.RWMutex
	filters []Filter
}

func New() *WordFilters {
	return &WordFilters{}
}

// Import replaces the loaded list.
func (w *WordFilters) Import(filters []Filter) {
	for idx := range filters {
		if filters[idx].IsRegex {
			if compiled, errCompile := regexp.Compile("(?i)" + filters[idx].Pattern); errCompile == nil {
				filters[idx].compiled = compiled
			}
		}
	}

	w.mu.Lock()
	w.filters = filters
	w.mu.Unlock()
}

// Match returns the first enabled filter hit in the body.
func (w *WordFilters) Match(body string) (string, bool) {
	if body == "" {
		return "", false
	}

	words := strings.Fields(strings.ToLower(body))

	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, filter := range w.filters {
		if !filter.IsEnabled {
			continue
		}

		for _, word := range words {
			if filter.Match(word) {
				return word, true
			}
		}
	}

	return "", false
}

// Screen validates a set of user-entered fields, failing on the first match.
func (w *WordFilters) Screen(fields ...string) error {
	for _, field := range fields {
		if word, matched := w.Match(field); matched {
			return problem.Newf(400, "Profanity filter", "The word %q is not allowed", word)
		}
	}

	return nil
}
