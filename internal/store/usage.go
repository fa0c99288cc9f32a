package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/mediafetch/fetch-api/internal/domain"
)

// UsageStore persists the append-only resource consumption log backing the
// quota ledger. Entries are written once and summed over trailing windows;
// they are never updated.
type UsageStore interface {
	// Append records a usage entry.
	Append(ctx context.Context, entry *domain.UsageEntry) error

	// SumSince returns the total recorded consumption across all keys for
	// entries with Timestamp >= since.
	SumSince(ctx context.Context, since time.Time) (int64, error)

	// SumForKeySince returns the total recorded consumption for one key for
	// entries with Timestamp >= since.
	SumForKeySince(ctx context.Context, ownerKeyName string, since time.Time) (int64, error)

	// DeleteBefore removes entries older than the cutoff. Entries outside
	// the window are already invisible to the sums; this is background
	// compaction only. Returns the number of entries removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// WithTx returns a UsageStore bound to the given transaction.
	WithTx(tx *sql.Tx) UsageStore
}
