package knowledge

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// scrollLimit bounds how many entries one vocabulary rebuild reads.
const scrollLimit = 1000

const (
	topCategories = 5
	topKeywords   = 10
)

// Vocabulary caches the knowledge-base keyword vocabulary built from a full
// collection scroll. Rebuilding on every relevance check is unbounded in
// collection size, so results are cached with a TTL and explicit
// invalidation on writes. Safe for concurrent use.
type Vocabulary struct {
	store Store
	ttl   time.Duration

	mu        sync.Mutex
	keywords  []string
	fetchedAt time.Time
}

// NewVocabulary creates a Vocabulary over the given store. If ttl <= 0 every
// call rebuilds from the store.
func NewVocabulary(store Store, ttl time.Duration) *Vocabulary {
	return &Vocabulary{store: store, ttl: ttl}
}

// Keywords returns the deduplicated keyword set across all entries, rebuilt
// from the store when the cached copy is older than the TTL. A scroll failure
// with no cached copy returns the error; the classifier treats an empty
// vocabulary as "no relevance possible".
func (v *Vocabulary) Keywords() ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.keywords != nil && time.Since(v.fetchedAt) < v.ttl {
		return v.keywords, nil
	}

	entries, err := v.store.Scroll(scrollLimit)
	if err != nil {
		if v.keywords != nil {
			// Serve the stale copy rather than failing the relevance check.
			return v.keywords, nil
		}
		return nil, fmt.Errorf("scrolling entries for vocabulary: %w", err)
	}

	seen := make(map[string]struct{})
	keywords := make([]string, 0, len(entries))
	for _, e := range entries {
		for _, kw := range e.Keywords {
			if _, ok := seen[kw]; ok {
				continue
			}
			seen[kw] = struct{}{}
			keywords = append(keywords, kw)
		}
	}
	sort.Strings(keywords)

	v.keywords = keywords
	v.fetchedAt = time.Now()
	return keywords, nil
}

// Invalidate drops the cached vocabulary so the next Keywords call rebuilds.
// Called after entries are inserted or deleted.
func (v *Vocabulary) Invalidate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keywords = nil
	v.fetchedAt = time.Time{}
}

// Summary builds a one-paragraph description of the knowledge base: entry
// count, the top categories and the top keywords in descending frequency.
func (v *Vocabulary) Summary() (string, error) {
	entries, err := v.store.Scroll(scrollLimit)
	if err != nil {
		return "", fmt.Errorf("scrolling entries for summary: %w", err)
	}
	if len(entries) == 0 {
		return "The knowledge base is currently empty.", nil
	}

	categories := make(map[string]int)
	keywords := make(map[string]int)
	for _, e := range entries {
		category := e.Category
		if category == "" {
			category = "Uncategorized"
		}
		categories[category]++
		for _, kw := range e.Keywords {
			keywords[kw]++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Knowledge base contains %d entries. ", len(entries))

	sb.WriteString("Categories: ")
	for i, c := range mostCommon(categories, topCategories) {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s (%d)", c.name, c.count)
	}
	sb.WriteString(". ")

	sb.WriteString("Key topics: ")
	for i, k := range mostCommon(keywords, topKeywords) {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k.name)
	}
	sb.WriteString(".")

	return sb.String(), nil
}

type nameCount struct {
	name  string
	count int
}

// mostCommon returns up to limit entries sorted by descending count, with
// ties broken alphabetically for deterministic output.
func mostCommon(counts map[string]int, limit int) []nameCount {
	out := make([]nameCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, nameCount{name: name, count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
