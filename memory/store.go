package memory

import (
	"context"
	"time"

	"github.com/juniperhq/juniper/types"
)

// Store persists episodes, turns, and memory facts. Implementations must be
// safe for concurrent use. Methods returning a single episode report a
// missing or non-active record with an EPISODE_NOT_FOUND typed error.
type Store interface {
	// CreateEpisode inserts a new episode.
	CreateEpisode(ctx context.Context, ep *types.Episode) error

	// GetEpisode fetches an episode by id regardless of status.
	GetEpisode(ctx context.Context, id string) (*types.Episode, error)

	// ActiveEpisode returns the active episode for (owner, kind), or an
	// EPISODE_NOT_FOUND error when none exists.
	ActiveEpisode(ctx context.Context, ownerID string, kind types.ContextKind) (*types.Episode, error)

	// TouchEpisode advances last_activity_at. It fails with
	// EPISODE_NOT_FOUND if the episode is missing or no longer active.
	TouchEpisode(ctx context.Context, id string, at time.Time) error

	// TransitionEpisode moves an episode from one status to another.
	// The transition is conditional: it fails with EPISODE_NOT_FOUND when
	// the episode is not currently in the from status.
	TransitionEpisode(ctx context.Context, id string, from, to types.EpisodeStatus) error

	// SetSummary records the closing summary of an episode.
	SetSummary(ctx context.Context, id string, summary string) error

	// EpisodesByStatus lists episodes in the given status, oldest activity
	// first. limit <= 0 means no limit.
	EpisodesByStatus(ctx context.Context, status types.EpisodeStatus, limit int) ([]types.Episode, error)

	// DeleteEpisode removes an episode and cascades its turns. Facts that
	// reference the episode are kept.
	DeleteEpisode(ctx context.Context, id string) error

	// AppendTurn appends a turn to its episode.
	AppendTurn(ctx context.Context, turn *types.Turn) error

	// ListTurns returns the most recent turns of an episode in
	// chronological order. limit <= 0 means all turns.
	ListTurns(ctx context.Context, episodeID string, limit int) ([]types.Turn, error)

	// PutFact inserts a memory fact.
	PutFact(ctx context.Context, fact *types.MemoryFact) error

	// FactsByOwner returns the owner's facts created at or after since,
	// newest first. A zero since returns all facts.
	FactsByOwner(ctx context.Context, ownerID string, since time.Time) ([]types.MemoryFact, error)

	// Close releases backend resources.
	Close() error
}

func errEpisodeNotFound(id string) error {
	return types.NewError(types.ErrEpisodeNotFound, "episode not found: "+id)
}

func errStore(op string, cause error) error {
	return types.NewError(types.ErrStoreUnavailable, op).WithCause(cause).WithRetryable(true)
}
