// Package reaper reclaims finished work. At startup it repairs tasks a crash
// left in PROCESSING; periodically it deletes terminal tasks past the
// retention window (artifacts first, then the record, so an interrupted cycle
// is retried rather than leaking files), sweeps artifact directories with no
// surviving task, and compacts the usage log.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mediafetch/fetch-api/internal/artifact"
	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/quota"
	"github.com/mediafetch/fetch-api/internal/store"
)

// interruptedMessage is recorded on tasks repaired at startup.
const interruptedMessage = "task was interrupted by a server restart"

// Config holds reaper tuning knobs.
type Config struct {
	// Retention is how long terminal tasks and their artifacts are kept
	// after completion.
	Retention time.Duration

	// SweepInterval is how often a cleanup cycle runs.
	SweepInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Retention <= 0 {
		out.Retention = 10 * time.Minute
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = 5 * time.Minute
	}
	return out
}

// Reaper owns startup recovery and the periodic cleanup loop.
type Reaper struct {
	tasks     store.TaskStore
	artifacts *artifact.Store
	ledger    *quota.Ledger
	cfg       Config
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// New creates a Reaper. Start launches the periodic loop; RecoverInterrupted
// should run once before the scheduler starts claiming.
func New(
	tasks store.TaskStore,
	artifacts *artifact.Store,
	ledger *quota.Ledger,
	cfg Config,
	logger *slog.Logger,
) *Reaper {
	if tasks == nil || artifacts == nil || ledger == nil {
		panic("reaper dependencies cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reaper{
		tasks:     tasks,
		artifacts: artifacts,
		ledger:    ledger,
		cfg:       cfg.withDefaults(),
		logger:    logger.With(slog.String("component", "reaper")),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// RecoverInterrupted marks every PROCESSING task ERROR. It runs once at
// startup, before any worker claims: anything still PROCESSING then was
// orphaned by a crash or restart. Artifacts are left for the regular cleanup
// cycle.
func (r *Reaper) RecoverInterrupted(ctx context.Context) error {
	orphans, err := r.tasks.ListByStatus(ctx, domain.TaskStatusProcessing, 0)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		return nil
	}

	r.logger.Warn("recovering interrupted tasks", slog.Int("count", len(orphans)))
	for _, task := range orphans {
		err := r.tasks.UpdateStatus(ctx, task.ID, domain.TaskStatusError, domain.Payload{
			domain.ResultKeyError: interruptedMessage,
		})
		if err != nil {
			r.logger.Error("failed to repair interrupted task",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// Start launches the periodic cleanup loop.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.loop()
	r.logger.Info("reaper started",
		slog.Duration("retention", r.cfg.Retention),
		slog.Duration("sweep_interval", r.cfg.SweepInterval))
}

// Stop terminates the loop and waits for an in-progress cycle to finish.
func (r *Reaper) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("reaper stopped")
}

func (r *Reaper) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.RunCycle(r.ctx)
		}
	}
}

// RunCycle performs one full cleanup pass. Failures are logged and the rest
// of the pass continues; the next cycle retries whatever was left behind.
func (r *Reaper) RunCycle(ctx context.Context) {
	cutoff := r.now().UTC().Add(-r.cfg.Retention)

	expired, err := r.tasks.ListTerminalBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("failed to list expired tasks", slog.String("error", err.Error()))
		return
	}

	deleted := 0
	for _, task := range expired {
		if !r.reapTask(ctx, task) {
			continue
		}
		deleted++
	}
	if deleted > 0 {
		r.logger.Info("reaped expired tasks", slog.Int("count", deleted))
	}

	r.sweepOrphans(ctx)

	if compacted, err := r.ledger.CompactBefore(ctx, r.ledger.WindowStart()); err != nil {
		r.logger.Error("usage compaction failed", slog.String("error", err.Error()))
	} else if compacted > 0 {
		r.logger.Debug("compacted usage entries", slog.Int64("count", compacted))
	}
}

// reapTask deletes one expired task, artifacts before record.
func (r *Reaper) reapTask(ctx context.Context, task *domain.Task) bool {
	if err := r.artifacts.DeleteTask(ctx, task.ID); err != nil {
		r.logger.Error("failed to delete task artifacts",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return false
	}
	if err := r.tasks.Delete(ctx, task.ID); err != nil {
		r.logger.Error("failed to delete task record",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// sweepOrphans removes artifact directories whose task record no longer
// exists, covering records deleted by key cascade or manual intervention.
func (r *Reaper) sweepOrphans(ctx context.Context) {
	ids, err := r.tasks.ListIDs(ctx)
	if err != nil {
		r.logger.Error("failed to list task ids for orphan sweep", slog.String("error", err.Error()))
		return
	}

	valid := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		valid[id] = struct{}{}
	}

	swept, err := r.artifacts.Sweep(ctx, valid)
	if err != nil {
		r.logger.Error("orphan sweep failed", slog.String("error", err.Error()))
		return
	}
	if swept > 0 {
		r.logger.Info("swept orphaned artifact directories", slog.Int("count", swept))
	}
}
