package memory

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/juniperhq/juniper/types"
)

// newMockedGormStore wires a GormStore to a sqlmock connection so error
// paths that SQLite cannot produce can be exercised.
func newMockedGormStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return &GormStore{db: gdb}, mock
}

func TestGormStoreQueryFailureIsRetryable(t *testing.T) {
	store, mock := newMockedGormStore(t)

	mock.ExpectQuery(`SELECT \* FROM "episodes"`).
		WillReturnError(assert.AnError)

	_, err := store.GetEpisode(context.Background(), "ep-1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrStoreUnavailable))
	assert.True(t, types.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreTouchMissesNonActiveRow(t *testing.T) {
	store, mock := newMockedGormStore(t)

	// The conditional UPDATE matches no rows when the episode is gone
	// or no longer active.
	mock.ExpectExec(`UPDATE "episodes" SET "last_activity_at"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.TouchEpisode(context.Background(), "ep-1", time.Now())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrEpisodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreTransitionFailureIsRetryable(t *testing.T) {
	store, mock := newMockedGormStore(t)

	mock.ExpectExec(`UPDATE "episodes" SET "status"`).
		WillReturnError(assert.AnError)

	err := store.TransitionEpisode(context.Background(), "ep-1", types.EpisodeActive, types.EpisodeExpired)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrStoreUnavailable))
	assert.True(t, types.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
