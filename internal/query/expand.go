package query

import (
	"sort"
	"strings"
)

// DefaultRules maps domain abbreviations to their expansions. Each rule whose
// key appears as a substring of the query produces one additional variant.
func DefaultRules() map[string]string {
	return map[string]string{
		"srh": "srh hochschule heidelberg",
		"uni": "university",
		"cs":  "computer science",
		"ai":  "artificial intelligence",
		"ml":  "machine learning",
		"db":  "database",
	}
}

// Expander generates query variants from a fixed abbreviation/synonym rule set
// to widen retrieval recall.
type Expander struct {
	rules map[string]string
}

// NewExpander creates an Expander with the given rules. Pass nil to use
// DefaultRules.
func NewExpander(rules map[string]string) *Expander {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Expander{rules: rules}
}

// Expand returns the set of query variants for an already-normalized query.
// The input is always the first variant. For each rule whose key is a
// substring of the query, a variant with that substring replaced is added.
// Duplicates are collapsed; remaining variants are sorted for deterministic
// output (variant order carries no meaning downstream).
func (e *Expander) Expand(normalized string) []string {
	variants := []string{normalized}
	seen := map[string]struct{}{normalized: {}}

	var extra []string
	for old, replacement := range e.rules {
		if !strings.Contains(normalized, old) {
			continue
		}
		v := strings.ReplaceAll(normalized, old, replacement)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		extra = append(extra, v)
	}

	sort.Strings(extra)
	return append(variants, extra...)
}
