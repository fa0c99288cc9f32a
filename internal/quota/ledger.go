// Package quota tracks resource consumption as an append-only log of usage
// entries and answers trailing-window sums over it. Summing the log instead
// of decrementing counters tolerates out-of-order recording and needs no
// expiry timer; old entries simply fall out of the window.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/store"
)

// Ledger answers usage questions over a trailing sliding window and records
// new consumption. It is safe for concurrent use; all state lives in the
// usage store.
type Ledger struct {
	usage  store.UsageStore
	window time.Duration
	logger *slog.Logger

	// now is swapped in tests to pin the window boundary.
	now func() time.Time
}

// NewLedger creates a Ledger over the given usage store. The window is the
// trailing duration consumption is summed over.
func NewLedger(usage store.UsageStore, window time.Duration, logger *slog.Logger) *Ledger {
	if usage == nil {
		panic("usage store cannot be nil")
	}
	if window <= 0 {
		panic("window must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		usage:  usage,
		window: window,
		logger: logger.With(slog.String("component", "quota_ledger")),
		now:    time.Now,
	}
}

// Window returns the trailing duration the ledger sums over.
func (l *Ledger) Window() time.Duration {
	return l.window
}

// WindowStart returns the inclusive lower bound of the current window.
// An entry stamped exactly at the boundary still counts.
func (l *Ledger) WindowStart() time.Time {
	return l.now().UTC().Add(-l.window)
}

// ServerUsage returns the total bytes recorded across all keys within the
// current window.
func (l *Ledger) ServerUsage(ctx context.Context) (int64, error) {
	total, err := l.usage.SumSince(ctx, l.WindowStart())
	if err != nil {
		return 0, fmt.Errorf("failed to sum server usage: %w", err)
	}
	return total, nil
}

// KeyUsage returns the bytes recorded for one key within the current window.
func (l *Ledger) KeyUsage(ctx context.Context, keyName string) (int64, error) {
	total, err := l.usage.SumForKeySince(ctx, keyName, l.WindowStart())
	if err != nil {
		return 0, fmt.Errorf("failed to sum usage for key %q: %w", keyName, err)
	}
	return total, nil
}

// Record appends a usage entry for a finished task. sizeBytes must be the
// measured artifact size and must be positive; callers skip recording for
// zero-sized results.
func (l *Ledger) Record(ctx context.Context, keyName string, taskID uuid.UUID, sizeBytes int64) error {
	entry, err := domain.NewUsageEntry(keyName, taskID, sizeBytes, l.now())
	if err != nil {
		return err
	}
	if err := l.usage.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to record usage for key %q: %w", keyName, err)
	}
	l.logger.Debug("recorded usage",
		slog.String("key_name", keyName),
		slog.String("task_id", taskID.String()),
		slog.Int64("size_bytes", sizeBytes))
	return nil
}

// CompactBefore drops entries older than the cutoff. Entries outside the
// window never affect sums, so compaction is purely a storage concern.
func (l *Ledger) CompactBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := l.usage.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to compact usage entries: %w", err)
	}
	return deleted, nil
}
