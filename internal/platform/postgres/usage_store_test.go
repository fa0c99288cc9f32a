package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/platform/postgres"
)

func TestUsageStoreAppend(t *testing.T) {
	db, mock := newMockDB(t)
	usageStore := postgres.NewPostgresUsageStore(db, nil)

	entry, err := domain.NewUsageEntry("alpha", uuid.New(), 1<<20, time.Now())
	require.NoError(t, err)

	mock.ExpectExec(`(?s)INSERT INTO usage_entries`).
		WithArgs(entry.OwnerKeyName, entry.TaskID, entry.SizeBytes, entry.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, usageStore.Append(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageStoreAppendRejectsNonPositiveSize(t *testing.T) {
	db, _ := newMockDB(t)
	usageStore := postgres.NewPostgresUsageStore(db, nil)

	entry := &domain.UsageEntry{
		OwnerKeyName: "alpha",
		TaskID:       uuid.New(),
		SizeBytes:    0,
		Timestamp:    time.Now().UTC(),
	}

	err := usageStore.Append(context.Background(), entry)
	assert.ErrorIs(t, err, domain.ErrNonPositiveSize)
}

func TestUsageStoreSumSince(t *testing.T) {
	db, mock := newMockDB(t)
	usageStore := postgres.NewPostgresUsageStore(db, nil)
	since := time.Now().UTC().Add(-10 * time.Minute)

	mock.ExpectQuery(`(?s)SELECT COALESCE\(SUM\(size_bytes\), 0\) FROM usage_entries WHERE recorded_at >= \$1`).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(3 << 30)))

	total, err := usageStore.SumSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, int64(3<<30), total)
}

func TestUsageStoreSumForKeySince(t *testing.T) {
	db, mock := newMockDB(t)
	usageStore := postgres.NewPostgresUsageStore(db, nil)
	since := time.Now().UTC().Add(-10 * time.Minute)

	mock.ExpectQuery(`(?s)SELECT COALESCE\(SUM\(size_bytes\), 0\)\s+FROM usage_entries\s+WHERE owner_key_name = \$1 AND recorded_at >= \$2`).
		WithArgs("alpha", since).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(512)))

	total, err := usageStore.SumForKeySince(context.Background(), "alpha", since)
	require.NoError(t, err)
	assert.Equal(t, int64(512), total)
}

func TestUsageStoreSumForKeySinceEmptyWindow(t *testing.T) {
	db, mock := newMockDB(t)
	usageStore := postgres.NewPostgresUsageStore(db, nil)
	since := time.Now().UTC()

	mock.ExpectQuery(`(?s)SELECT COALESCE\(SUM\(size_bytes\), 0\)`).
		WithArgs("alpha", since).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(0)))

	total, err := usageStore.SumForKeySince(context.Background(), "alpha", since)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestUsageStoreDeleteBefore(t *testing.T) {
	db, mock := newMockDB(t)
	usageStore := postgres.NewPostgresUsageStore(db, nil)
	cutoff := time.Now().UTC().Add(-time.Hour)

	mock.ExpectExec(`(?s)DELETE FROM usage_entries WHERE recorded_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	deleted, err := usageStore.DeleteBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
}
