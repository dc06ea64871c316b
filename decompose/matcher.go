package decompose

import (
	"sort"
	"strings"
	"unicode"

	"github.com/juniperhq/juniper/expert"
)

// Match is one scored capability match for an intent clause.
type Match struct {
	ExpertID string
	Score    float64
	// Triggers lists the trigger phrases that matched.
	Triggers []string
}

// Matcher scores expert descriptors against one intent clause. Results
// come back sorted by score descending, expert id ascending on ties.
type Matcher interface {
	Match(clause string, experts []expert.Descriptor) []Match
}

// KeywordMatcher matches clauses against trigger phrases and capability
// descriptions. Each trigger phrase found in the clause contributes a
// fixed weight; description word overlap adds a smaller bonus. Scores
// are capped at 1.
type KeywordMatcher struct{}

// NewKeywordMatcher creates a keyword matcher.
func NewKeywordMatcher() *KeywordMatcher {
	return &KeywordMatcher{}
}

const (
	triggerWeight     = 0.5
	descriptionWeight = 0.1
)

// Match implements Matcher.
func (m *KeywordMatcher) Match(clause string, experts []expert.Descriptor) []Match {
	clause = strings.ToLower(clause)
	clauseWords := wordSet(clause)

	var out []Match
	for _, desc := range experts {
		var score float64
		var hits []string
		for _, trigger := range desc.Triggers {
			if containsPhrase(clause, clauseWords, strings.ToLower(trigger)) {
				score += triggerWeight
				hits = append(hits, trigger)
			}
		}
		for word := range wordSet(strings.ToLower(desc.Description)) {
			if len(word) > 3 && clauseWords[word] {
				score += descriptionWeight
			}
		}
		if score == 0 {
			continue
		}
		if score > 1 {
			score = 1
		}
		out = append(out, Match{ExpertID: desc.ID, Score: score, Triggers: hits})
	}

	// Stable rank: score desc, then id asc.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ExpertID < out[j].ExpertID
	})
	return out
}

// containsPhrase reports whether the trigger occurs in the clause.
// Single-word triggers must match a whole word; multi-word triggers
// match as substrings.
func containsPhrase(clause string, clauseWords map[string]bool, trigger string) bool {
	if strings.ContainsAny(trigger, " -") {
		return strings.Contains(clause, trigger)
	}
	return clauseWords[trigger]
}

func wordSet(s string) map[string]bool {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
