package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/juniperhq/juniper/config"
	"github.com/juniperhq/juniper/types"
)

// episodeRecord is the relational form of types.Episode.
type episodeRecord struct {
	ID             string    `gorm:"primaryKey;size:64"`
	OwnerID        string    `gorm:"size:64;not null;index:idx_owner_kind_status"`
	ContextKind    string    `gorm:"size:32;not null;index:idx_owner_kind_status"`
	Status         string    `gorm:"size:16;not null;index:idx_owner_kind_status"`
	Summary        string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null"`
	LastActivityAt time.Time `gorm:"not null;index"`
}

func (episodeRecord) TableName() string { return "episodes" }

// turnRecord is the relational form of types.Turn.
type turnRecord struct {
	ID         string    `gorm:"primaryKey;size:64"`
	EpisodeID  string    `gorm:"size:64;not null;index"`
	Role       string    `gorm:"size:16;not null"`
	Content    string    `gorm:"type:text;not null"`
	Importance float64   `gorm:"not null;default:0"`
	OccurredAt time.Time `gorm:"not null;index"`
}

func (turnRecord) TableName() string { return "turns" }

// factRecord is the relational form of types.MemoryFact.
type factRecord struct {
	ID        string    `gorm:"primaryKey;size:64"`
	OwnerID   string    `gorm:"size:64;not null;index:idx_owner_created"`
	EpisodeID string    `gorm:"size:64;index"`
	Category  string    `gorm:"size:64"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_owner_created"`
}

func (factRecord) TableName() string { return "memory_facts" }

// GormStore is a relational Store over postgres, mysql, or sqlite.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore opens a database connection for the configured driver and
// migrates the schema.
func NewGormStore(cfg config.DatabaseConfig, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&episodeRecord{}, &turnRecord{}, &factRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	logger.Info("database store initialized",
		zap.String("driver", cfg.Driver),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "memory_store_gorm")),
	}, nil
}

// NewGormStoreFromDB wraps an existing gorm handle. Used by tests.
func NewGormStoreFromDB(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&episodeRecord{}, &turnRecord{}, &factRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &GormStore{db: db, logger: logger.With(zap.String("component", "memory_store_gorm"))}, nil
}

// CreateEpisode inserts a new episode.
func (s *GormStore) CreateEpisode(ctx context.Context, ep *types.Episode) error {
	rec := episodeRecord{
		ID:             ep.ID,
		OwnerID:        ep.OwnerID,
		ContextKind:    string(ep.ContextKind),
		Status:         string(ep.Status),
		Summary:        ep.Summary,
		CreatedAt:      ep.CreatedAt,
		LastActivityAt: ep.LastActivityAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errStore("create episode", err)
	}
	return nil
}

// GetEpisode fetches an episode by id.
func (s *GormStore) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	var rec episodeRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errEpisodeNotFound(id)
	}
	if err != nil {
		return nil, errStore("get episode", err)
	}
	ep := recordToEpisode(rec)
	return &ep, nil
}

// ActiveEpisode returns the active episode for (owner, kind).
func (s *GormStore) ActiveEpisode(ctx context.Context, ownerID string, kind types.ContextKind) (*types.Episode, error) {
	var rec episodeRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND context_kind = ? AND status = ?", ownerID, string(kind), string(types.EpisodeActive)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrEpisodeNotFound, "no active episode for owner "+ownerID)
	}
	if err != nil {
		return nil, errStore("active episode", err)
	}
	ep := recordToEpisode(rec)
	return &ep, nil
}

// TouchEpisode advances last_activity_at of an active episode. The update
// is conditional on the row still being active.
func (s *GormStore) TouchEpisode(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&episodeRecord{}).
		Where("id = ? AND status = ?", id, string(types.EpisodeActive)).
		Update("last_activity_at", at)
	if res.Error != nil {
		return errStore("touch episode", res.Error)
	}
	if res.RowsAffected == 0 {
		return errEpisodeNotFound(id)
	}
	return nil
}

// TransitionEpisode conditionally moves an episode between statuses.
func (s *GormStore) TransitionEpisode(ctx context.Context, id string, from, to types.EpisodeStatus) error {
	res := s.db.WithContext(ctx).Model(&episodeRecord{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return errStore("transition episode", res.Error)
	}
	if res.RowsAffected == 0 {
		return errEpisodeNotFound(id)
	}
	return nil
}

// SetSummary records the closing summary of an episode.
func (s *GormStore) SetSummary(ctx context.Context, id string, summary string) error {
	res := s.db.WithContext(ctx).Model(&episodeRecord{}).
		Where("id = ?", id).
		Update("summary", summary)
	if res.Error != nil {
		return errStore("set summary", res.Error)
	}
	if res.RowsAffected == 0 {
		return errEpisodeNotFound(id)
	}
	return nil
}

// EpisodesByStatus lists episodes in a status, oldest activity first.
func (s *GormStore) EpisodesByStatus(ctx context.Context, status types.EpisodeStatus, limit int) ([]types.Episode, error) {
	q := s.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("last_activity_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []episodeRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, errStore("episodes by status", err)
	}
	results := make([]types.Episode, len(recs))
	for i, rec := range recs {
		results[i] = recordToEpisode(rec)
	}
	return results, nil
}

// DeleteEpisode removes an episode and cascades its turns.
func (s *GormStore) DeleteEpisode(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&episodeRecord{}, "id = ?", id)
		if res.Error != nil {
			return errStore("delete episode", res.Error)
		}
		if res.RowsAffected == 0 {
			return errEpisodeNotFound(id)
		}
		if err := tx.Delete(&turnRecord{}, "episode_id = ?", id).Error; err != nil {
			return errStore("delete turns", err)
		}
		return nil
	})
}

// AppendTurn appends a turn to its episode.
func (s *GormStore) AppendTurn(ctx context.Context, turn *types.Turn) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&episodeRecord{}).Where("id = ?", turn.EpisodeID).Count(&count).Error; err != nil {
			return errStore("append turn", err)
		}
		if count == 0 {
			return errEpisodeNotFound(turn.EpisodeID)
		}
		rec := turnRecord{
			ID:         turn.ID,
			EpisodeID:  turn.EpisodeID,
			Role:       string(turn.Role),
			Content:    turn.Content,
			Importance: turn.Importance,
			OccurredAt: turn.OccurredAt,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return errStore("append turn", err)
		}
		return nil
	})
}

// ListTurns returns the most recent turns in chronological order.
func (s *GormStore) ListTurns(ctx context.Context, episodeID string, limit int) ([]types.Turn, error) {
	q := s.db.WithContext(ctx).
		Where("episode_id = ?", episodeID).
		Order("occurred_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []turnRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, errStore("list turns", err)
	}
	// Reverse into chronological order.
	results := make([]types.Turn, len(recs))
	for i, rec := range recs {
		results[len(recs)-1-i] = types.Turn{
			ID:         rec.ID,
			EpisodeID:  rec.EpisodeID,
			Role:       types.TurnRole(rec.Role),
			Content:    rec.Content,
			Importance: rec.Importance,
			OccurredAt: rec.OccurredAt,
		}
	}
	return results, nil
}

// PutFact inserts a memory fact.
func (s *GormStore) PutFact(ctx context.Context, fact *types.MemoryFact) error {
	rec := factRecord{
		ID:        fact.ID,
		OwnerID:   fact.OwnerID,
		EpisodeID: fact.EpisodeID,
		Category:  fact.Category,
		Content:   fact.Content,
		CreatedAt: fact.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errStore("put fact", err)
	}
	return nil
}

// FactsByOwner returns the owner's facts created at or after since, newest
// first.
func (s *GormStore) FactsByOwner(ctx context.Context, ownerID string, since time.Time) ([]types.MemoryFact, error) {
	q := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC")
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	var recs []factRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, errStore("facts by owner", err)
	}
	results := make([]types.MemoryFact, len(recs))
	for i, rec := range recs {
		results[i] = types.MemoryFact{
			ID:        rec.ID,
			OwnerID:   rec.OwnerID,
			EpisodeID: rec.EpisodeID,
			Category:  rec.Category,
			Content:   rec.Content,
			CreatedAt: rec.CreatedAt,
		}
	}
	return results, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordToEpisode(rec episodeRecord) types.Episode {
	return types.Episode{
		ID:             rec.ID,
		OwnerID:        rec.OwnerID,
		ContextKind:    types.ContextKind(rec.ContextKind),
		Status:         types.EpisodeStatus(rec.Status),
		Summary:        rec.Summary,
		CreatedAt:      rec.CreatedAt,
		LastActivityAt: rec.LastActivityAt,
	}
}
