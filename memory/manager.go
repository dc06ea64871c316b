package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/juniperhq/juniper/config"
	"github.com/juniperhq/juniper/types"
)

// Manager is the temporal memory manager: episode lifecycle, append-only
// turns, and decay-weighted temporal search.
type Manager struct {
	store      Store
	cfg        config.MemoryConfig
	summarizer Summarizer
	logger     *zap.Logger
	locks      *keyedLock

	// now is injectable for tests.
	now func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSummarizer replaces the default extractive summarizer.
func WithSummarizer(s Summarizer) ManagerOption {
	return func(m *Manager) { m.summarizer = s }
}

// WithClock replaces the time source. Tests only.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a temporal memory manager over the given store.
func NewManager(store Store, cfg config.MemoryConfig, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:      store,
		cfg:        cfg,
		summarizer: NewExtractiveSummarizer(cfg.SummaryTokenBudget),
		logger:     logger.With(zap.String("component", "memory_manager")),
		locks:      newKeyedLock(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func lockKey(ownerID string, kind types.ContextKind) string {
	return ownerID + "\x00" + string(kind)
}

// BeginOrContinueEpisode returns the owner's active episode for the given
// context kind, creating one if none exists or the existing one has idled
// past the kind's timeout. Safe under concurrent calls for the same owner:
// the (owner, kind) pair is a keyed mutual-exclusion region.
func (m *Manager) BeginOrContinueEpisode(ctx context.Context, ownerID string, kind types.ContextKind) (string, error) {
	unlock := m.locks.Lock(lockKey(ownerID, kind))
	defer unlock()

	now := m.now()

	ep, err := m.store.ActiveEpisode(ctx, ownerID, kind)
	switch {
	case err == nil:
		if now.Sub(ep.LastActivityAt) < m.cfg.TimeoutFor(string(kind)) {
			return ep.ID, nil
		}
		if err := m.expireLocked(ctx, ep); err != nil {
			return "", err
		}
	case types.IsCode(err, types.ErrEpisodeNotFound):
		// fall through to creation
	default:
		return "", err
	}

	fresh := &types.Episode{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		ContextKind:    kind,
		Status:         types.EpisodeActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.store.CreateEpisode(ctx, fresh); err != nil {
		return "", err
	}
	m.logger.Debug("episode started",
		zap.String("episode_id", fresh.ID),
		zap.String("owner_id", ownerID),
		zap.String("context_kind", string(kind)))
	return fresh.ID, nil
}

// RecordTurn appends a turn to an episode and advances its activity
// timestamp. Returns an EPISODE_NOT_FOUND error when the episode was
// concurrently expired; the caller re-begins and retries.
func (m *Manager) RecordTurn(ctx context.Context, episodeID string, role types.TurnRole, content string) (string, error) {
	now := m.now()

	// The conditional touch doubles as the active-status check.
	if err := m.store.TouchEpisode(ctx, episodeID, now); err != nil {
		return "", err
	}

	turn := &types.Turn{
		ID:         uuid.NewString(),
		EpisodeID:  episodeID,
		Role:       role,
		Content:    content,
		Importance: TurnImportance(role, content),
		OccurredAt: now,
	}
	if err := m.store.AppendTurn(ctx, turn); err != nil {
		return "", err
	}
	return turn.ID, nil
}

// RecordFact stores a temporally-searchable fact for the owner. The
// episode reference is provenance only and may be empty.
func (m *Manager) RecordFact(ctx context.Context, ownerID, episodeID, category, content string) (string, error) {
	fact := &types.MemoryFact{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		EpisodeID: episodeID,
		Category:  category,
		Content:   content,
		CreatedAt: m.now(),
	}
	if err := m.store.PutFact(ctx, fact); err != nil {
		return "", err
	}
	return fact.ID, nil
}

// TemporalSearch ranks the owner's facts by relevance multiplied by decay
// weight, filtered by the time range before ranking. Ties break on
// created_at descending. Reads are snapshot-consistent with respect to the
// store and may race writers.
func (m *Manager) TemporalSearch(ctx context.Context, ownerID, query string, timeRange types.TimeRange) ([]types.ScoredFact, error) {
	now := m.now()
	facts, err := m.store.FactsByOwner(ctx, ownerID, RangeStart(timeRange, now))
	if err != nil {
		return nil, err
	}

	scored := make([]types.ScoredFact, 0, len(facts))
	for _, f := range facts {
		rel := Relevance(query, f.Content)
		if rel == 0 {
			continue
		}
		decay := DecayWeight(now.Sub(f.CreatedAt), m.cfg.HalflifeDays)
		scored = append(scored, types.ScoredFact{
			Fact:        f,
			Relevance:   rel,
			DecayWeight: decay,
			FinalScore:  rel * decay,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].FinalScore != scored[j].FinalScore {
			return scored[i].FinalScore > scored[j].FinalScore
		}
		return scored[i].Fact.CreatedAt.After(scored[j].Fact.CreatedAt)
	})

	if m.cfg.SearchLimit > 0 && len(scored) > m.cfg.SearchLimit {
		scored = scored[:m.cfg.SearchLimit]
	}
	return scored, nil
}

// RecentTurns returns the most recent turns of an episode in
// chronological order.
func (m *Manager) RecentTurns(ctx context.Context, episodeID string, limit int) ([]types.Turn, error) {
	return m.store.ListTurns(ctx, episodeID, limit)
}

// GetEpisode fetches an episode by id.
func (m *Manager) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	return m.store.GetEpisode(ctx, id)
}

// Sweep runs one expiry pass: every active episode idle past its kind's
// timeout transitions to expired and is queued for summarization. Returns
// the number of episodes expired.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	episodes, err := m.store.EpisodesByStatus(ctx, types.EpisodeActive, 0)
	if err != nil {
		return 0, err
	}

	now := m.now()
	expired := 0
	for i := range episodes {
		ep := episodes[i]
		if now.Sub(ep.LastActivityAt) < m.cfg.TimeoutFor(string(ep.ContextKind)) {
			continue
		}
		unlock := m.locks.Lock(lockKey(ep.OwnerID, ep.ContextKind))
		err := m.expireLocked(ctx, &ep)
		unlock()
		if err != nil {
			if types.IsCode(err, types.ErrEpisodeNotFound) {
				continue // lost the race with a concurrent begin
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// expireLocked transitions an active episode to expired and schedules its
// summarization. Callers hold the (owner, kind) lock.
func (m *Manager) expireLocked(ctx context.Context, ep *types.Episode) error {
	if err := m.store.TransitionEpisode(ctx, ep.ID, types.EpisodeActive, types.EpisodeExpired); err != nil {
		return err
	}
	m.logger.Info("episode expired",
		zap.String("episode_id", ep.ID),
		zap.String("owner_id", ep.OwnerID),
		zap.String("context_kind", string(ep.ContextKind)))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.summarizeEpisode(ep.ID)
	}()
	return nil
}

// summarizeEpisode produces and stores the closing summary, then moves the
// episode to summarized. Failures are logged, not surfaced: summarization
// is best-effort.
func (m *Manager) summarizeEpisode(episodeID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ep, err := m.store.GetEpisode(ctx, episodeID)
	if err != nil {
		m.logger.Warn("summarize: episode fetch failed", zap.String("episode_id", episodeID), zap.Error(err))
		return
	}
	turns, err := m.store.ListTurns(ctx, episodeID, 0)
	if err != nil {
		m.logger.Warn("summarize: turn listing failed", zap.String("episode_id", episodeID), zap.Error(err))
		return
	}
	summary, err := m.summarizer.Summarize(ctx, ep, turns)
	if err != nil {
		m.logger.Warn("summarize failed", zap.String("episode_id", episodeID), zap.Error(err))
		return
	}
	if summary != "" {
		if err := m.store.SetSummary(ctx, episodeID, summary); err != nil {
			m.logger.Warn("summarize: summary write failed", zap.String("episode_id", episodeID), zap.Error(err))
			return
		}
	}
	if err := m.store.TransitionEpisode(ctx, episodeID, types.EpisodeExpired, types.EpisodeSummarized); err != nil {
		m.logger.Warn("summarize: transition failed", zap.String("episode_id", episodeID), zap.Error(err))
	}
}

// Start launches the background sweep loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.sweepLoop(ctx)
	return nil
}

// Stop stops the sweep loop and waits for in-flight summarizations.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.running {
		close(m.stopCh)
		m.running = false
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := m.Sweep(ctx); err != nil {
				m.logger.Warn("sweep failed", zap.Error(err))
			} else if n > 0 {
				m.logger.Debug("sweep completed", zap.Int("expired", n))
			}
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
