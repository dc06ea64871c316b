package orchestrate

import (
	"time"

	"github.com/juniperhq/juniper/types"
)

// EventType identifies one kind of progress event.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventTaskStarted   EventType = "task_started"
	EventTaskProgress  EventType = "task_progress"
	EventTaskCompleted EventType = "task_completed"
	EventActionCards   EventType = "action_cards"
	EventRunEnded      EventType = "run_ended"
)

// ActionCard is a suggested follow-up action surfaced to the caller.
type ActionCard struct {
	Title    string         `json:"title"`
	Action   string         `json:"action"`
	ExpertID string         `json:"expert_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Event is one frame in the progress stream for a run.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	// Seq is assigned by the emitter in emission order.
	Seq int64 `json:"seq"`

	// TaskID and ExpertID are set on task-scoped events.
	TaskID   string `json:"task_id,omitempty"`
	ExpertID string `json:"expert_id,omitempty"`

	// TaskCount is set on run_started.
	TaskCount int `json:"task_count,omitempty"`
	// Message carries human-readable status text on task_progress.
	Message string `json:"message,omitempty"`
	// TaskState and Output are set on task_completed.
	TaskState types.TaskState `json:"task_state,omitempty"`
	Output    map[string]any  `json:"output,omitempty"`
	// Error carries a short failure description on task_completed.
	Error string `json:"error,omitempty"`

	// Cards is set on action_cards.
	Cards []ActionCard `json:"cards,omitempty"`

	// RunStatus and Summary are set on run_ended.
	RunStatus types.RunStatus     `json:"run_status,omitempty"`
	Summary   map[string]TaskView `json:"summary,omitempty"`
}

// TaskView is the per-task detail included in the run_ended summary.
type TaskView struct {
	State    types.TaskState `json:"state"`
	ExpertID string          `json:"expert_id"`
	Output   map[string]any  `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
}
