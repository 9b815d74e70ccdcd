// Package memory selects the exemplars and workflows that prime an acting
// prompt.
//
// Two retrieval strategies are provided. Tag-hierarchy selection filters a
// corpus by (domain, subdomain, website) and keeps the most specific
// non-empty level before sampling. Embedding selection ranks workflow or
// exemplar texts by vector distance to one or more queries and merges the
// per-query results into one global top-k.
package memory

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// Level names the tag-hierarchy level a selection matched at.
type Level string

const (
	LevelWebsite   Level = "website"
	LevelSubdomain Level = "subdomain"
	LevelAll       Level = "all"
)

func containsAll(s string, tags ...string) bool {
	for _, t := range tags {
		if !strings.Contains(s, t) {
			return false
		}
	}
	return true
}

// FilterByTags keeps the examples at the most specific non-empty level of the
// hierarchy: all three tags in the specifier, else domain and subdomain, else
// the whole corpus.
//
// Expectations:
//   - Returns only full-triple matches when at least one exists
//   - Falls back to domain+subdomain matches when no full-triple match exists
//   - Falls back to the whole corpus when neither level matches
//   - The website-level set is a subset of the subdomain-level set
//   - Corpus order is preserved
func FilterByTags(corpus []types.Example, tags types.Tags) ([]types.Example, Level) {
	var website, subdomain []types.Example
	for _, ex := range corpus {
		spec := ex.Specifier()
		if !containsAll(spec, tags.Domain, tags.Subdomain) {
			continue
		}
		subdomain = append(subdomain, ex)
		if strings.Contains(spec, tags.Website) {
			website = append(website, ex)
		}
	}
	switch {
	case len(website) > 0:
		return website, LevelWebsite
	case len(subdomain) > 0:
		return subdomain, LevelSubdomain
	}
	return corpus, LevelAll
}

// SelectByTags filters the corpus with FilterByTags and samples up to k
// examples from the result. k <= 0 is treated as 1. Returned examples have
// their specifiers stripped.
//
// Expectations:
//   - Returns min(k, pool size) examples
//   - Every returned example comes from the matched level
//   - No returned example carries a specifier
func SelectByTags(corpus []types.Example, tags types.Tags, k int, rng *rand.Rand) ([]types.Example, Level) {
	pool, level := FilterByTags(corpus, tags)
	picked := sample(pool, k, rng)
	out := make([]types.Example, len(picked))
	for i, ex := range picked {
		out[i] = ex.Stripped()
	}
	return out, level
}

// Lookup applies the most-specific-non-empty rule to a tag-keyed set:
// the exact key, else every key sharing domain and subdomain, else every key.
// Keys are visited in sorted order so the result is deterministic.
//
// Expectations:
//   - Returns the exact key's entries when that key is present and non-empty
//   - Merges sibling websites of the same domain and subdomain otherwise
//   - Returns the whole set, level LevelAll, when no key shares the subdomain
func Lookup[E any](set map[types.Tags][]E, tags types.Tags) ([]E, Level) {
	if exs := set[tags]; len(exs) > 0 {
		return exs, LevelWebsite
	}
	keys := make([]types.Tags, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b types.Tags) int {
		return cmp.Or(cmp.Compare(a.Domain, b.Domain), cmp.Compare(a.Subdomain, b.Subdomain), cmp.Compare(a.Website, b.Website))
	})
	var sibling, all []E
	for _, k := range keys {
		all = append(all, set[k]...)
		if k.Domain == tags.Domain && k.Subdomain == tags.Subdomain {
			sibling = append(sibling, set[k]...)
		}
	}
	if len(sibling) > 0 {
		return sibling, LevelSubdomain
	}
	return all, LevelAll
}

// sample draws min(k, len(pool)) items uniformly without replacement.
func sample[T any](pool []T, k int, rng *rand.Rand) []T {
	if k <= 0 {
		k = 1
	}
	if k >= len(pool) {
		return slices.Clone(pool)
	}
	out := make([]T, k)
	for i, j := range rng.Perm(len(pool))[:k] {
		out[i] = pool[j]
	}
	return out
}
