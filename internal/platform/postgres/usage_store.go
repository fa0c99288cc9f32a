package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/platform/logger"
	"github.com/mediafetch/fetch-api/internal/store"
)

// PostgresUsageStore implements the store.UsageStore interface using
// PostgreSQL.
type PostgresUsageStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresUsageStore creates a new PostgreSQL implementation of the
// UsageStore interface.
func NewPostgresUsageStore(db store.DBTX, logger *slog.Logger) *PostgresUsageStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresUsageStore{
		db:     db,
		logger: logger.With(slog.String("component", "usage_store")),
	}
}

// Ensure PostgresUsageStore implements store.UsageStore.
var _ store.UsageStore = (*PostgresUsageStore)(nil)

// Append implements store.UsageStore.Append.
func (s *PostgresUsageStore) Append(ctx context.Context, entry *domain.UsageEntry) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := entry.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO usage_entries (owner_key_name, task_id, size_bytes, recorded_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.OwnerKeyName,
		entry.TaskID,
		entry.SizeBytes,
		entry.Timestamp,
	)
	if err != nil {
		log.Error("failed to append usage entry",
			slog.String("key_name", entry.OwnerKeyName),
			slog.String("task_id", entry.TaskID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// SumSince implements store.UsageStore.SumSince.
func (s *PostgresUsageStore) SumSince(ctx context.Context, since time.Time) (int64, error) {
	query := `SELECT COALESCE(SUM(size_bytes), 0) FROM usage_entries WHERE recorded_at >= $1`

	var total int64
	if err := s.db.QueryRowContext(ctx, query, since).Scan(&total); err != nil {
		return 0, MapError(err)
	}
	return total, nil
}

// SumForKeySince implements store.UsageStore.SumForKeySince.
func (s *PostgresUsageStore) SumForKeySince(
	ctx context.Context,
	ownerKeyName string,
	since time.Time,
) (int64, error) {
	query := `
		SELECT COALESCE(SUM(size_bytes), 0)
		FROM usage_entries
		WHERE owner_key_name = $1 AND recorded_at >= $2
	`
	var total int64
	if err := s.db.QueryRowContext(ctx, query, ownerKeyName, since).Scan(&total); err != nil {
		return 0, MapError(err)
	}
	return total, nil
}

// DeleteBefore implements store.UsageStore.DeleteBefore.
func (s *PostgresUsageStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_entries WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, MapError(err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, MapError(err)
	}
	return deleted, nil
}

// WithTx implements store.UsageStore.WithTx.
func (s *PostgresUsageStore) WithTx(tx *sql.Tx) store.UsageStore {
	return &PostgresUsageStore{db: tx, logger: s.logger}
}
