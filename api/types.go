package api

import (
	"time"

	"github.com/juniperhq/juniper/orchestrate"
	"github.com/juniperhq/juniper/types"
)

// AssistRequest submits one free-form user request for handling.
type AssistRequest struct {
	// OwnerID identifies the user the request belongs to.
	OwnerID string `json:"owner_id"`
	// Text is the free-form request, e.g. "book a table and then remind me".
	Text string `json:"text"`
	// ContextKind selects the episode context window. Defaults to "chat".
	ContextKind types.ContextKind `json:"context_kind,omitempty"`
}

// AssistResponse is the synthesized outcome of a handled request.
type AssistResponse struct {
	RunID     string                   `json:"run_id"`
	EpisodeID string                   `json:"episode_id"`
	Status    types.RunStatus          `json:"status"`
	Reply     string                   `json:"reply"`
	Tasks     map[string]TaskResult    `json:"tasks"`
	Cards     []orchestrate.ActionCard `json:"action_cards,omitempty"`
}

// TaskResult is the per-task detail in an AssistResponse.
type TaskResult struct {
	ExpertID string          `json:"expert_id"`
	State    types.TaskState `json:"state"`
	Output   map[string]any  `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration string          `json:"duration,omitempty"`
}

// RememberRequest stores one explicit memory fact.
type RememberRequest struct {
	OwnerID string `json:"owner_id"`
	// EpisodeID optionally links the fact to an episode.
	EpisodeID string `json:"episode_id,omitempty"`
	// Category groups facts, e.g. "preference", "contact".
	Category string `json:"category,omitempty"`
	Content  string `json:"content"`
}

// RememberResponse acknowledges a stored fact.
type RememberResponse struct {
	FactID string `json:"fact_id"`
}

// RecallRequest queries stored facts with decay-weighted ranking.
type RecallRequest struct {
	OwnerID string `json:"owner_id"`
	Query   string `json:"query"`
	// TimeRange filters facts by age: today, this_week, this_month, all.
	TimeRange types.TimeRange `json:"time_range,omitempty"`
}

// RecallResponse lists matching facts, best first.
type RecallResponse struct {
	Facts []RecalledFact `json:"facts"`
}

// RecalledFact is one ranked recall result.
type RecalledFact struct {
	FactID    string    `json:"fact_id"`
	EpisodeID string    `json:"episode_id,omitempty"`
	Category  string    `json:"category,omitempty"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// EpisodeResponse describes one episode and its recent turns.
type EpisodeResponse struct {
	Episode *types.Episode `json:"episode"`
	Turns   []types.Turn   `json:"turns,omitempty"`
}
