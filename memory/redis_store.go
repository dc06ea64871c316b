package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/juniperhq/juniper/config"
	"github.com/juniperhq/juniper/types"
)

// RedisStore is a Redis-backed Store for distributed deployments.
// Episodes, turns, and facts are JSON values; sorted sets provide the
// (status, last_activity) and (owner, created_at) secondary lookups.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "juniper:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "memory_store_redis")),
	}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests.
func NewRedisStoreFromClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "juniper:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger.With(zap.String("component", "memory_store_redis"))}
}

func (s *RedisStore) episodeKey(id string) string { return s.prefix + "episode:" + id }
func (s *RedisStore) turnsKey(id string) string   { return s.prefix + "turns:" + id }
func (s *RedisStore) factKey(id string) string    { return s.prefix + "fact:" + id }
func (s *RedisStore) statusKey(status types.EpisodeStatus) string {
	return s.prefix + "episodes:" + string(status)
}
func (s *RedisStore) activeKey(ownerID string, kind types.ContextKind) string {
	return s.prefix + "active:" + ownerID + ":" + string(kind)
}
func (s *RedisStore) factsOwnerKey(ownerID string) string {
	return s.prefix + "facts:" + ownerID
}

// CreateEpisode inserts a new episode.
func (s *RedisStore) CreateEpisode(ctx context.Context, ep *types.Episode) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return errStore("marshal episode", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.episodeKey(ep.ID), data, 0)
		pipe.ZAdd(ctx, s.statusKey(ep.Status), redis.Z{
			Score:  float64(ep.LastActivityAt.UnixMilli()),
			Member: ep.ID,
		})
		if ep.Status == types.EpisodeActive {
			pipe.Set(ctx, s.activeKey(ep.OwnerID, ep.ContextKind), ep.ID, 0)
		}
		return nil
	})
	if err != nil {
		return errStore("create episode", err)
	}
	return nil
}

func (s *RedisStore) getEpisode(ctx context.Context, id string) (*types.Episode, error) {
	data, err := s.client.Get(ctx, s.episodeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errEpisodeNotFound(id)
	}
	if err != nil {
		return nil, errStore("get episode", err)
	}
	var ep types.Episode
	if err := json.Unmarshal(data, &ep); err != nil {
		return nil, errStore("unmarshal episode", err)
	}
	return &ep, nil
}

// GetEpisode fetches an episode by id.
func (s *RedisStore) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	return s.getEpisode(ctx, id)
}

// ActiveEpisode returns the active episode for (owner, kind).
func (s *RedisStore) ActiveEpisode(ctx context.Context, ownerID string, kind types.ContextKind) (*types.Episode, error) {
	id, err := s.client.Get(ctx, s.activeKey(ownerID, kind)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewError(types.ErrEpisodeNotFound, "no active episode for owner "+ownerID)
	}
	if err != nil {
		return nil, errStore("active episode", err)
	}
	ep, err := s.getEpisode(ctx, id)
	if err != nil {
		return nil, err
	}
	if ep.Status != types.EpisodeActive {
		// Stale pointer left by an interrupted transition.
		return nil, types.NewError(types.ErrEpisodeNotFound, "no active episode for owner "+ownerID)
	}
	return ep, nil
}

// TouchEpisode advances last_activity_at of an active episode.
func (s *RedisStore) TouchEpisode(ctx context.Context, id string, at time.Time) error {
	key := s.episodeKey(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errEpisodeNotFound(id)
		}
		if err != nil {
			return err
		}
		var ep types.Episode
		if err := json.Unmarshal(data, &ep); err != nil {
			return err
		}
		if ep.Status != types.EpisodeActive {
			return errEpisodeNotFound(id)
		}
		if at.After(ep.LastActivityAt) {
			ep.LastActivityAt = at
		}
		updated, err := json.Marshal(&ep)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.ZAdd(ctx, s.statusKey(types.EpisodeActive), redis.Z{
				Score:  float64(ep.LastActivityAt.UnixMilli()),
				Member: ep.ID,
			})
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf, key); err != nil {
		if types.IsCode(err, types.ErrEpisodeNotFound) {
			return err
		}
		return errStore("touch episode", err)
	}
	return nil
}

// TransitionEpisode conditionally moves an episode between statuses.
func (s *RedisStore) TransitionEpisode(ctx context.Context, id string, from, to types.EpisodeStatus) error {
	key := s.episodeKey(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errEpisodeNotFound(id)
		}
		if err != nil {
			return err
		}
		var ep types.Episode
		if err := json.Unmarshal(data, &ep); err != nil {
			return err
		}
		if ep.Status != from {
			return errEpisodeNotFound(id)
		}
		ep.Status = to
		updated, err := json.Marshal(&ep)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.ZRem(ctx, s.statusKey(from), ep.ID)
			pipe.ZAdd(ctx, s.statusKey(to), redis.Z{
				Score:  float64(ep.LastActivityAt.UnixMilli()),
				Member: ep.ID,
			})
			if from == types.EpisodeActive {
				pipe.Del(ctx, s.activeKey(ep.OwnerID, ep.ContextKind))
			}
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf, key); err != nil {
		if types.IsCode(err, types.ErrEpisodeNotFound) {
			return err
		}
		return errStore("transition episode", err)
	}
	return nil
}

// SetSummary records the closing summary of an episode.
func (s *RedisStore) SetSummary(ctx context.Context, id string, summary string) error {
	key := s.episodeKey(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errEpisodeNotFound(id)
		}
		if err != nil {
			return err
		}
		var ep types.Episode
		if err := json.Unmarshal(data, &ep); err != nil {
			return err
		}
		ep.Summary = summary
		updated, err := json.Marshal(&ep)
		if err != nil {
			return err
		}
		return tx.Set(ctx, key, updated, 0).Err()
	}
	if err := s.watch(ctx, txf, key); err != nil {
		if types.IsCode(err, types.ErrEpisodeNotFound) {
			return err
		}
		return errStore("set summary", err)
	}
	return nil
}

// EpisodesByStatus lists episodes in a status, oldest activity first.
func (s *RedisStore) EpisodesByStatus(ctx context.Context, status types.EpisodeStatus, limit int) ([]types.Episode, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRange(ctx, s.statusKey(status), 0, stop).Result()
	if err != nil {
		return nil, errStore("episodes by status", err)
	}
	results := make([]types.Episode, 0, len(ids))
	for _, id := range ids {
		ep, err := s.getEpisode(ctx, id)
		if err != nil {
			if types.IsCode(err, types.ErrEpisodeNotFound) {
				continue // index entry for a deleted episode
			}
			return nil, err
		}
		if ep.Status != status {
			continue
		}
		results = append(results, *ep)
	}
	return results, nil
}

// DeleteEpisode removes an episode and cascades its turns.
func (s *RedisStore) DeleteEpisode(ctx context.Context, id string) error {
	ep, err := s.getEpisode(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.episodeKey(id), s.turnsKey(id))
		pipe.ZRem(ctx, s.statusKey(ep.Status), id)
		if ep.Status == types.EpisodeActive {
			pipe.Del(ctx, s.activeKey(ep.OwnerID, ep.ContextKind))
		}
		return nil
	})
	if err != nil {
		return errStore("delete episode", err)
	}
	return nil
}

// AppendTurn appends a turn to its episode.
func (s *RedisStore) AppendTurn(ctx context.Context, turn *types.Turn) error {
	exists, err := s.client.Exists(ctx, s.episodeKey(turn.EpisodeID)).Result()
	if err != nil {
		return errStore("append turn", err)
	}
	if exists == 0 {
		return errEpisodeNotFound(turn.EpisodeID)
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return errStore("marshal turn", err)
	}
	if err := s.client.RPush(ctx, s.turnsKey(turn.EpisodeID), data).Err(); err != nil {
		return errStore("append turn", err)
	}
	return nil
}

// ListTurns returns the most recent turns in chronological order.
func (s *RedisStore) ListTurns(ctx context.Context, episodeID string, limit int) ([]types.Turn, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	items, err := s.client.LRange(ctx, s.turnsKey(episodeID), start, -1).Result()
	if err != nil {
		return nil, errStore("list turns", err)
	}
	results := make([]types.Turn, 0, len(items))
	for _, item := range items {
		var t types.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, errStore("unmarshal turn", err)
		}
		results = append(results, t)
	}
	return results, nil
}

// PutFact inserts a memory fact.
func (s *RedisStore) PutFact(ctx context.Context, fact *types.MemoryFact) error {
	data, err := json.Marshal(fact)
	if err != nil {
		return errStore("marshal fact", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.factKey(fact.ID), data, 0)
		pipe.ZAdd(ctx, s.factsOwnerKey(fact.OwnerID), redis.Z{
			Score:  float64(fact.CreatedAt.UnixMilli()),
			Member: fact.ID,
		})
		return nil
	})
	if err != nil {
		return errStore("put fact", err)
	}
	return nil
}

// FactsByOwner returns the owner's facts created at or after since, newest
// first.
func (s *RedisStore) FactsByOwner(ctx context.Context, ownerID string, since time.Time) ([]types.MemoryFact, error) {
	min := "-inf"
	if !since.IsZero() {
		min = strconv.FormatInt(since.UnixMilli(), 10)
	}
	ids, err := s.client.ZRevRangeByScore(ctx, s.factsOwnerKey(ownerID), &redis.ZRangeBy{
		Min: min,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, errStore("facts by owner", err)
	}
	results := make([]types.MemoryFact, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, s.factKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, errStore("get fact", err)
		}
		var f types.MemoryFact
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errStore("unmarshal fact", err)
		}
		results = append(results, f)
	}
	return results, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// watch retries an optimistic transaction a bounded number of times when a
// watched key changes underneath it.
func (s *RedisStore) watch(ctx context.Context, txf func(tx *redis.Tx) error, keys ...string) error {
	const maxRetries = 5
	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.client.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}
