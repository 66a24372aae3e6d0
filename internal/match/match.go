// Package match resolves free-text product names against a candidate list
// using a strict-to-loose cascade. The same matcher serves item identity
// within a conversation and catalog lookup in the Odoo client.
package match

import (
	"strings"

	"github.com/agext/levenshtein"
)

// DefaultSimilarityThreshold is the minimum sequence-similarity ratio
// accepted by the loosest tier.
const DefaultSimilarityThreshold = 0.6

// Tier identifies which cascade stage produced a match. Lower values are
// stricter; a stricter tier always beats a looser one regardless of score.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierContains
	TierTokens
	TierSimilarity
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierContains:
		return "contains"
	case TierTokens:
		return "tokens"
	case TierSimilarity:
		return "similarity"
	default:
		return "none"
	}
}

// Candidate is one entry the matcher ranks: a precomputed normalized key
// and the display name it stands for.
type Candidate struct {
	Key     string
	Display string
}

// Result describes the winning candidate.
type Result struct {
	Index     int     // position in the candidate slice
	Candidate Candidate
	Tier      Tier
	Score     float64
}

// Matcher runs the cascade. The zero value is not usable; use New.
type Matcher struct {
	threshold float64
}

// New creates a Matcher. A non-positive threshold falls back to the default.
func New(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Matcher{threshold: threshold}
}

// Match resolves query against candidates, trying each tier in order and
// stopping at the first tier that yields a candidate. Ties within a tier go
// to the earliest candidate, so callers express recency bias through
// candidate ordering. An empty normalized query never matches.
func (m *Matcher) Match(query string, candidates []Candidate) (Result, bool) {
	key := Normalize(query)
	if key == "" || len(candidates) == 0 {
		return Result{Tier: TierNone}, false
	}

	// Tier 1: exact key equality.
	for i, c := range candidates {
		if c.Key == key {
			return Result{Index: i, Candidate: c, Tier: TierExact, Score: 1.0}, true
		}
	}

	// Tier 2: containment either way.
	for i, c := range candidates {
		if c.Key == "" {
			continue
		}
		if strings.Contains(c.Key, key) || strings.Contains(key, c.Key) {
			return Result{Index: i, Candidate: c, Tier: TierContains, Score: 0.8}, true
		}
	}

	// Tier 3: every query token present in the candidate, order-insensitive.
	queryTokens := Tokens(key)
	for i, c := range candidates {
		if containsAllTokens(Tokens(c.Key), queryTokens) {
			return Result{Index: i, Candidate: c, Tier: TierTokens, Score: 0.7}, true
		}
	}

	// Tier 4: character-level similarity, best score at or above threshold.
	best := Result{Index: -1, Tier: TierNone}
	for i, c := range candidates {
		if c.Key == "" {
			continue
		}
		score := levenshtein.Similarity(key, c.Key, nil)
		if score >= m.threshold && score > best.Score {
			best = Result{Index: i, Candidate: c, Tier: TierSimilarity, Score: score}
		}
	}
	if best.Index >= 0 {
		return best, true
	}
	return Result{Tier: TierNone}, false
}

func containsAllTokens(haystack, needles []string) bool {
	if len(needles) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(haystack))
	for _, t := range haystack {
		set[t] = struct{}{}
	}
	for _, n := range needles {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}
