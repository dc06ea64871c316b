package memory

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/juniperhq/juniper/types"
)

func TestDecayWeightAnchors(t *testing.T) {
	assert.InDelta(t, 1.0, DecayWeight(0, 30), 1e-9)
	assert.InDelta(t, 0.5, DecayWeight(30*24*time.Hour, 30), 1e-9)
	assert.InDelta(t, 0.25, DecayWeight(60*24*time.Hour, 30), 1e-9)
}

func TestDecayWeightEdgeCases(t *testing.T) {
	// Non-positive halflife disables decay.
	assert.Equal(t, 1.0, DecayWeight(100*24*time.Hour, 0))
	assert.Equal(t, 1.0, DecayWeight(100*24*time.Hour, -1))
	// Clock skew: future facts are treated as brand new.
	assert.Equal(t, 1.0, DecayWeight(-time.Hour, 30))
}

func TestDecayWeightMonotonicallyDecreasing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		halflife := rapid.Float64Range(0.1, 365).Draw(t, "halflife")
		ageA := time.Duration(rapid.Int64Range(0, int64(365*24*time.Hour)).Draw(t, "ageA"))
		ageB := time.Duration(rapid.Int64Range(0, int64(365*24*time.Hour)).Draw(t, "ageB"))
		if ageA > ageB {
			ageA, ageB = ageB, ageA
		}

		wA := DecayWeight(ageA, halflife)
		wB := DecayWeight(ageB, halflife)

		if wA < wB {
			t.Fatalf("older fact outscored newer: age %v -> %v but age %v -> %v", ageA, wA, ageB, wB)
		}
		if wA <= 0 || wA > 1 || wB <= 0 || wB > 1 {
			t.Fatalf("weights out of (0, 1]: %v, %v", wA, wB)
		}
	})
}

func TestDecayWeightHalvesPerHalflife(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		halflife := rapid.Float64Range(1, 100).Draw(t, "halflife")
		age := time.Duration(rapid.Int64Range(0, int64(100*24*time.Hour)).Draw(t, "age"))

		halflifeDur := time.Duration(halflife * 24 * float64(time.Hour))
		w := DecayWeight(age, halflife)
		wNext := DecayWeight(age+halflifeDur, halflife)

		if math.Abs(wNext-w/2) > 1e-9 {
			t.Fatalf("one more halflife should halve the weight: %v vs %v", wNext, w/2)
		}
	})
}

func TestRelevanceTokenOverlap(t *testing.T) {
	assert.Equal(t, 1.0, Relevance("oat milk", "prefers oat milk in coffee"))
	assert.Equal(t, 0.5, Relevance("oat juice", "prefers oat milk"))
	assert.Equal(t, 0.0, Relevance("weather", "prefers oat milk"))
	// Case and punctuation are folded.
	assert.Equal(t, 1.0, Relevance("Milk!", "likes milk"))
	// Empty query matches everything.
	assert.Equal(t, 1.0, Relevance("", "anything"))
}

func TestTurnImportanceSignals(t *testing.T) {
	short := TurnImportance(types.RoleUser, "ok")
	question := TurnImportance(types.RoleUser, "what time is my flight?")
	preference := TurnImportance(types.RoleUser, "I prefer the window seat")

	assert.Greater(t, question, short)
	assert.Greater(t, preference, short)

	// Assistant turns carry less signal than the same user turn.
	userTurn := TurnImportance(types.RoleUser, "remember that my wifi password is hunter2")
	assistantTurn := TurnImportance(types.RoleAssistant, "remember that my wifi password is hunter2")
	assert.Greater(t, userTurn, assistantTurn)
}

func TestTurnImportanceBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		content := rapid.String().Draw(t, "content")
		role := types.RoleUser
		if rapid.Bool().Draw(t, "assistant") {
			role = types.RoleAssistant
		}
		score := TurnImportance(role, content)
		if score < 0 || score > 1 {
			t.Fatalf("importance out of [0, 1]: %v", score)
		}
	})
}

func TestRangeStart(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), RangeStart(types.RangeToday, now))
	assert.Equal(t, now.AddDate(0, 0, -7), RangeStart(types.RangeThisWeek, now))
	assert.Equal(t, now.AddDate(0, -1, 0), RangeStart(types.RangeThisMonth, now))
	assert.True(t, RangeStart(types.RangeAll, now).IsZero())
	assert.True(t, RangeStart(types.TimeRange("bogus"), now).IsZero())
}
