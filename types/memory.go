package types

import "time"

// EpisodeStatus represents the lifecycle state of an episode.
type EpisodeStatus string

const (
	// EpisodeActive is an episode currently accepting turns.
	EpisodeActive EpisodeStatus = "active"
	// EpisodeExpired is an episode whose idle timeout elapsed.
	EpisodeExpired EpisodeStatus = "expired"
	// EpisodeSummarized is an expired episode with a produced summary.
	EpisodeSummarized EpisodeStatus = "summarized"
)

// ContextKind classifies a conversational context window. Each kind has
// its own idle timeout, configured in config.MemoryConfig.
type ContextKind string

const (
	ContextChat        ContextKind = "chat"
	ContextPlanning    ContextKind = "planning"
	ContextDevelopment ContextKind = "development"
	ContextGeneral     ContextKind = "general"
)

// Episode is a bounded conversational context window.
// At most one active episode exists per (owner, context kind) at any time.
type Episode struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	ContextKind    ContextKind   `json:"context_kind"`
	Status         EpisodeStatus `json:"status"`
	Summary        string        `json:"summary,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
}

// TurnRole identifies the author of a turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// Turn is one exchange within an episode. Turns are append-only and owned
// exclusively by their episode.
type Turn struct {
	ID         string    `json:"id"`
	EpisodeID  string    `json:"episode_id"`
	Role       TurnRole  `json:"role"`
	Content    string    `json:"content"`
	Importance float64   `json:"importance"`
	OccurredAt time.Time `json:"occurred_at"`
}

// MemoryFact is temporally-searchable knowledge extracted from turns or
// expert outputs. The episode reference is provenance only: deleting an
// episode does not delete its facts.
type MemoryFact struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	EpisodeID string    `json:"episode_id,omitempty"`
	Category  string    `json:"category,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredFact is a memory fact annotated with ranking scores from a
// temporal search. FinalScore = Relevance * DecayWeight.
type ScoredFact struct {
	Fact        MemoryFact `json:"fact"`
	Relevance   float64    `json:"relevance"`
	DecayWeight float64    `json:"decay_weight"`
	FinalScore  float64    `json:"final_score"`
}

// TimeRange filters facts by age before ranking.
type TimeRange string

const (
	RangeToday     TimeRange = "today"
	RangeThisWeek  TimeRange = "this_week"
	RangeThisMonth TimeRange = "this_month"
	RangeAll       TimeRange = "all"
)
