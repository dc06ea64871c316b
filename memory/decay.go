package memory

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/juniperhq/juniper/types"
)

// DecayWeight computes the exponential decay multiplier for a fact of the
// given age: exp(-ln2 * ageDays / halflifeDays). A brand-new fact scores
// 1.0; a fact exactly one halflife old scores 0.5.
func DecayWeight(age time.Duration, halflifeDays float64) float64 {
	if halflifeDays <= 0 {
		return 1.0
	}
	if age < 0 {
		age = 0
	}
	ageDays := age.Hours() / 24.0
	return math.Exp(-math.Ln2 * ageDays / halflifeDays)
}

// Relevance scores content against a query by token overlap: the fraction
// of query tokens present in the content. Deterministic by construction.
// An empty query matches everything with score 1.0.
func Relevance(query, content string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 1.0
	}
	contentTokens := make(map[string]struct{})
	for _, tok := range tokenize(content) {
		contentTokens[tok] = struct{}{}
	}
	matched := 0
	for _, tok := range queryTokens {
		if _, ok := contentTokens[tok]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

// TurnImportance derives a turn importance score from content features.
// Longer, question-bearing, or first-person turns carry more signal.
// The result is in [0, 1] and deterministic.
func TurnImportance(role types.TurnRole, content string) float64 {
	tokens := tokenize(content)
	score := 0.2
	// Length contribution saturates around 40 tokens.
	score += 0.4 * math.Min(float64(len(tokens))/40.0, 1.0)
	if strings.Contains(content, "?") {
		score += 0.15
	}
	lower := strings.ToLower(content)
	for _, marker := range []string{"i like", "i prefer", "i hate", "my ", "always", "never"} {
		if strings.Contains(lower, marker) {
			score += 0.15
			break
		}
	}
	if role == types.RoleAssistant {
		score *= 0.75
	}
	return math.Min(score, 1.0)
}

// RangeStart converts a time range to its inclusive lower bound relative
// to now. RangeAll (and unknown values) return the zero time.
func RangeStart(r types.TimeRange, now time.Time) time.Time {
	switch r {
	case types.RangeToday:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case types.RangeThisWeek:
		return now.AddDate(0, 0, -7)
	case types.RangeThisMonth:
		return now.AddDate(0, -1, 0)
	default:
		return time.Time{}
	}
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
