// Package admission decides whether prospective work may proceed. Two
// independent gates are enforced: a memory gate comparing an estimated cost
// against server-wide and per-key ceilings over a trailing window, and a
// submission rate gate counting a key's recent task creations. Admission is a
// point-in-time check, not a reservation; concurrently admitted jobs can
// jointly overshoot a ceiling until their real usage is recorded. That soft
// limit is deliberate.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/quota"
	"github.com/mediafetch/fetch-api/internal/store"
)

// Controller gates work against the quota ledger and the submission rate.
type Controller struct {
	ledger        *quota.Ledger
	tasks         store.TaskStore
	serverCeiling int64
	rateWindow    time.Duration
	rateLimit     int
	logger        *slog.Logger

	now func() time.Time
}

// NewController creates an admission Controller. serverCeiling is the
// server-wide window budget in bytes; rateLimit is the maximum number of
// task creations a key may have within rateWindow.
func NewController(
	ledger *quota.Ledger,
	tasks store.TaskStore,
	serverCeiling int64,
	rateWindow time.Duration,
	rateLimit int,
	logger *slog.Logger,
) *Controller {
	if ledger == nil {
		panic("ledger cannot be nil")
	}
	if tasks == nil {
		panic("task store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		ledger:        ledger,
		tasks:         tasks,
		serverCeiling: serverCeiling,
		rateWindow:    rateWindow,
		rateLimit:     rateLimit,
		logger:        logger.With(slog.String("component", "admission")),
		now:           time.Now,
	}
}

// Admit decides whether a job with the given estimated cost may run for the
// given key. A non-positive cost is admitted unconditionally. The server
// ceiling is checked before the key quota, and a key quota of zero or less
// means the key is unlimited. Rejections wrap ErrAdmissionRejected; any
// other error is an infrastructure failure.
func (c *Controller) Admit(ctx context.Context, key *domain.ApiKey, cost int64) error {
	if cost <= 0 {
		return nil
	}

	serverUsage, err := c.ledger.ServerUsage(ctx)
	if err != nil {
		return fmt.Errorf("admission check failed: %w", err)
	}
	if serverUsage+cost > c.serverCeiling {
		rejection := &ServerCapacityError{
			CurrentBytes:   serverUsage,
			RequestedBytes: cost,
			AvailableBytes: c.serverCeiling - serverUsage,
		}
		c.logger.Warn("rejected by server ceiling",
			slog.String("key_name", key.Name),
			slog.Int64("current_bytes", serverUsage),
			slog.Int64("requested_bytes", cost),
			slog.Int64("ceiling_bytes", c.serverCeiling))
		return rejection
	}

	if key.QuotaLimited() {
		keyUsage, err := c.ledger.KeyUsage(ctx, key.Name)
		if err != nil {
			return fmt.Errorf("admission check failed: %w", err)
		}
		if keyUsage+cost > key.MemoryQuotaBytes {
			rejection := &KeyQuotaError{
				KeyName:        key.Name,
				UsageBytes:     keyUsage,
				RequestedBytes: cost,
				QuotaBytes:     key.MemoryQuotaBytes,
			}
			c.logger.Warn("rejected by key quota",
				slog.String("key_name", key.Name),
				slog.Int64("usage_bytes", keyUsage),
				slog.Int64("requested_bytes", cost),
				slog.Int64("quota_bytes", key.MemoryQuotaBytes))
			return rejection
		}
	}

	return nil
}

// CheckRate rejects a submission when the key already created rateLimit or
// more tasks within the trailing rate window. Tasks count regardless of
// their current status.
func (c *Controller) CheckRate(ctx context.Context, keyName string) error {
	since := c.now().UTC().Add(-c.rateWindow)
	count, err := c.tasks.CountByOwnerSince(ctx, keyName, since)
	if err != nil {
		return fmt.Errorf("rate check failed: %w", err)
	}
	if count >= c.rateLimit {
		c.logger.Warn("rejected by rate limit",
			slog.String("key_name", keyName),
			slog.Int("count", count),
			slog.Int("limit", c.rateLimit))
		return &RateLimitError{KeyName: keyName, Count: count, Limit: c.rateLimit}
	}
	return nil
}
