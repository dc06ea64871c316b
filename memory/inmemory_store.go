package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/juniperhq/juniper/types"
)

// InMemoryStore is a map-backed Store for local development and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	episodes map[string]types.Episode
	turns    map[string][]types.Turn // episode id -> turns, append order
	facts    map[string][]types.MemoryFact
	logger   *zap.Logger
}

// NewInMemoryStore creates an in-memory store.
func NewInMemoryStore(logger *zap.Logger) *InMemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryStore{
		episodes: make(map[string]types.Episode),
		turns:    make(map[string][]types.Turn),
		facts:    make(map[string][]types.MemoryFact),
		logger:   logger.With(zap.String("component", "memory_store_inmemory")),
	}
}

// CreateEpisode inserts a new episode.
func (s *InMemoryStore) CreateEpisode(ctx context.Context, ep *types.Episode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.episodes[ep.ID] = *ep
	s.logger.Debug("episode created",
		zap.String("id", ep.ID),
		zap.String("owner_id", ep.OwnerID),
		zap.String("context_kind", string(ep.ContextKind)))
	return nil
}

// GetEpisode fetches an episode by id.
func (s *InMemoryStore) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.episodes[id]
	if !ok {
		return nil, errEpisodeNotFound(id)
	}
	copied := ep
	return &copied, nil
}

// ActiveEpisode returns the active episode for (owner, kind).
func (s *InMemoryStore) ActiveEpisode(ctx context.Context, ownerID string, kind types.ContextKind) (*types.Episode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ep := range s.episodes {
		if ep.OwnerID == ownerID && ep.ContextKind == kind && ep.Status == types.EpisodeActive {
			copied := ep
			return &copied, nil
		}
	}
	return nil, types.NewError(types.ErrEpisodeNotFound, "no active episode for owner "+ownerID)
}

// TouchEpisode advances last_activity_at of an active episode.
func (s *InMemoryStore) TouchEpisode(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.episodes[id]
	if !ok || ep.Status != types.EpisodeActive {
		return errEpisodeNotFound(id)
	}
	if at.After(ep.LastActivityAt) {
		ep.LastActivityAt = at
	}
	s.episodes[id] = ep
	return nil
}

// TransitionEpisode conditionally moves an episode between statuses.
func (s *InMemoryStore) TransitionEpisode(ctx context.Context, id string, from, to types.EpisodeStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.episodes[id]
	if !ok || ep.Status != from {
		return errEpisodeNotFound(id)
	}
	ep.Status = to
	s.episodes[id] = ep
	s.logger.Debug("episode transitioned",
		zap.String("id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

// SetSummary records the closing summary of an episode.
func (s *InMemoryStore) SetSummary(ctx context.Context, id string, summary string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.episodes[id]
	if !ok {
		return errEpisodeNotFound(id)
	}
	ep.Summary = summary
	s.episodes[id] = ep
	return nil
}

// EpisodesByStatus lists episodes in a status, oldest activity first.
func (s *InMemoryStore) EpisodesByStatus(ctx context.Context, status types.EpisodeStatus, limit int) ([]types.Episode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]types.Episode, 0)
	for _, ep := range s.episodes {
		if ep.Status == status {
			results = append(results, ep)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].LastActivityAt.Before(results[j].LastActivityAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DeleteEpisode removes an episode and its turns. Facts are kept.
func (s *InMemoryStore) DeleteEpisode(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.episodes[id]; !ok {
		return errEpisodeNotFound(id)
	}
	delete(s.episodes, id)
	delete(s.turns, id)
	return nil
}

// AppendTurn appends a turn to its episode.
func (s *InMemoryStore) AppendTurn(ctx context.Context, turn *types.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.episodes[turn.EpisodeID]; !ok {
		return errEpisodeNotFound(turn.EpisodeID)
	}
	s.turns[turn.EpisodeID] = append(s.turns[turn.EpisodeID], *turn)
	return nil
}

// ListTurns returns the most recent turns in chronological order.
func (s *InMemoryStore) ListTurns(ctx context.Context, episodeID string, limit int) ([]types.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[episodeID]
	start := 0
	if limit > 0 && len(turns) > limit {
		start = len(turns) - limit
	}
	results := make([]types.Turn, len(turns)-start)
	copy(results, turns[start:])
	return results, nil
}

// PutFact inserts a memory fact.
func (s *InMemoryStore) PutFact(ctx context.Context, fact *types.MemoryFact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.facts[fact.OwnerID] = append(s.facts[fact.OwnerID], *fact)
	return nil
}

// FactsByOwner returns the owner's facts created at or after since, newest
// first.
func (s *InMemoryStore) FactsByOwner(ctx context.Context, ownerID string, since time.Time) ([]types.MemoryFact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]types.MemoryFact, 0)
	for _, f := range s.facts[ownerID] {
		if !since.IsZero() && f.CreatedAt.Before(since) {
			continue
		}
		results = append(results, f)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
