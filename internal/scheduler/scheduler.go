// Package scheduler drives the task pipeline: poll for WAITING tasks, claim
// them atomically, and run each end-to-end on a bounded worker pool. Tasks
// are dispatched in creation order but may complete in any order. Once
// dispatched a task runs to completion or failure; the only cancellation
// surface is process shutdown, which lets in-flight workers finish within a
// bounded grace period.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mediafetch/fetch-api/internal/admission"
	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/executor"
	"github.com/mediafetch/fetch-api/internal/quota"
	"github.com/mediafetch/fetch-api/internal/redact"
	"github.com/mediafetch/fetch-api/internal/store"
)

// Config holds scheduler tuning knobs.
type Config struct {
	// WorkerCount bounds how many tasks run concurrently.
	WorkerCount int

	// PollInterval is the idle sleep between claim attempts.
	PollInterval time.Duration

	// ShutdownGrace bounds how long Stop waits for in-flight workers before
	// cancelling their context.
	ShutdownGrace time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.WorkerCount <= 0 {
		out.WorkerCount = 4
	}
	if out.PollInterval <= 0 {
		out.PollInterval = time.Second
	}
	if out.ShutdownGrace <= 0 {
		out.ShutdownGrace = 30 * time.Second
	}
	return out
}

// maxPollBackoff caps the loop-level retry delay after store failures.
const maxPollBackoff = 30 * time.Second

// Scheduler owns the poll loop and the worker pool.
type Scheduler struct {
	tasks  store.TaskStore
	keys   store.ApiKeyStore
	gate   *admission.Controller
	ledger *quota.Ledger
	exec   executor.Executor
	cfg    Config
	logger *slog.Logger

	// loopCtx stops the poll loop; workCtx is what workers run under and is
	// only cancelled after the shutdown grace expires.
	loopCtx    context.Context
	loopCancel context.CancelFunc
	workCtx    context.Context
	workCancel context.CancelFunc

	slots chan struct{}
	wg    sync.WaitGroup
}

// New creates a Scheduler. Start must be called before tasks are processed.
func New(
	tasks store.TaskStore,
	keys store.ApiKeyStore,
	gate *admission.Controller,
	ledger *quota.Ledger,
	exec executor.Executor,
	cfg Config,
	logger *slog.Logger,
) *Scheduler {
	if tasks == nil || keys == nil || gate == nil || ledger == nil || exec == nil {
		panic("scheduler dependencies cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	loopCtx, loopCancel := context.WithCancel(context.Background())
	workCtx, workCancel := context.WithCancel(context.Background())

	return &Scheduler{
		tasks:      tasks,
		keys:       keys,
		gate:       gate,
		ledger:     ledger,
		exec:       exec,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "scheduler")),
		loopCtx:    loopCtx,
		loopCancel: loopCancel,
		workCtx:    workCtx,
		workCancel: workCancel,
		slots:      make(chan struct{}, cfg.WorkerCount),
	}
}

// Start launches the poll loop in the background.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("scheduler started",
		slog.Int("worker_count", s.cfg.WorkerCount),
		slog.Duration("poll_interval", s.cfg.PollInterval))
}

// Stop shuts the scheduler down: the poll loop exits immediately and
// in-flight workers get the configured grace period to finish before their
// context is cancelled.
func (s *Scheduler) Stop() {
	s.loopCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Warn("shutdown grace expired, cancelling in-flight tasks")
		s.workCancel()
		<-done
	}
	s.workCancel()
	s.logger.Info("scheduler stopped")
}

// loop claims WAITING tasks whenever free workers exist. Store failures back
// the poll off exponentially instead of failing any task.
func (s *Scheduler) loop() {
	defer s.wg.Done()

	failures := 0
	for {
		delay := s.cfg.PollInterval
		if failures > 0 {
			delay = backoffDelay(s.cfg.PollInterval, failures)
		}

		select {
		case <-s.loopCtx.Done():
			return
		case <-time.After(delay):
		}

		free := cap(s.slots) - len(s.slots)
		if free == 0 {
			continue
		}

		claimed, err := s.tasks.ClaimWaiting(s.loopCtx, free)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			failures++
			s.logger.Error("failed to claim waiting tasks",
				slog.String("error", err.Error()),
				slog.Int("consecutive_failures", failures))
			continue
		}
		failures = 0

		for _, task := range claimed {
			s.slots <- struct{}{}
			s.wg.Add(1)
			go s.runTask(task)
		}
	}
}

func backoffDelay(base time.Duration, failures int) time.Duration {
	delay := base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= maxPollBackoff {
			return maxPollBackoff
		}
	}
	return delay
}

// runTask executes one claimed task end-to-end. Whatever happens, the task
// leaves PROCESSING: the deferred guard reports ERROR when no terminal
// transition was recorded, including on panic.
func (s *Scheduler) runTask(task *domain.Task) {
	log := s.logger.With(
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", string(task.Type)),
		slog.String("key_name", task.OwnerKeyName))

	finished := false
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", slog.Any("panic", r))
			s.finish(task, domain.TaskStatusError, domain.Payload{
				domain.ResultKeyError: fmt.Sprintf("internal error: %v", r),
			}, log)
		} else if !finished {
			s.finish(task, domain.TaskStatusError, domain.Payload{
				domain.ResultKeyError: "task aborted before completion",
			}, log)
		}
		<-s.slots
		s.wg.Done()
	}()

	log.Info("processing task")
	ctx := s.workCtx

	key, err := s.keys.GetByName(ctx, task.OwnerKeyName)
	if err != nil {
		// Owner vanished between claim and dispatch. Log and abort this
		// task without touching the loop.
		log.Error("task owner lookup failed", slog.String("error", err.Error()))
		s.finish(task, domain.TaskStatusError, domain.Payload{
			domain.ResultKeyError: fmt.Sprintf("owner key unavailable: %v", err),
		}, log)
		finished = true
		return
	}

	var estimate int64
	if task.Type.ResourceConsuming() {
		estimate, err = s.exec.EstimateSize(ctx, task)
		if err != nil {
			// Best-effort probe; an unknown estimate never blocks the
			// pipeline.
			log.Warn("size estimate unavailable, proceeding with zero",
				slog.String("error", err.Error()))
			estimate = 0
		}

		if err := s.gate.Admit(ctx, key, estimate); err != nil {
			if !errors.Is(err, admission.ErrAdmissionRejected) {
				// The check itself failed, not the policy. Put the task
				// back so a later claim retries once the store recovers.
				log.Error("admission check failed, requeueing task",
					slog.String("error", err.Error()))
				s.requeue(task, log)
				finished = true
				return
			}
			log.Warn("task rejected at dispatch",
				slog.Int64("estimated_bytes", estimate),
				slog.String("reason", err.Error()))
			s.finish(task, domain.TaskStatusError, domain.Payload{
				domain.ResultKeyError: err.Error(),
			}, log)
			finished = true
			return
		}
	}

	result, err := s.exec.Execute(ctx, task)
	if err != nil {
		log.Error("task execution failed", slog.String("error", err.Error()))
		// Executor errors carry subprocess output and staging paths; scrub
		// before the text becomes part of the client-visible result.
		s.finish(task, domain.TaskStatusError, domain.Payload{
			domain.ResultKeyError: redact.Error(err),
		}, log)
		finished = true
		return
	}

	payload := domain.Payload{}
	for k, v := range result.Extra {
		payload[k] = v
	}
	if result.FilePath != "" {
		payload[domain.ResultKeyFilePath] = result.FilePath
	}
	payload[domain.ResultKeySizeBytes] = result.SizeBytes

	s.finish(task, domain.TaskStatusCompleted, payload, log)
	finished = true

	if result.SizeBytes > 0 {
		if err := s.ledger.Record(context.Background(), task.OwnerKeyName, task.ID, result.SizeBytes); err != nil {
			log.Error("failed to record usage", slog.String("error", err.Error()))
		}
	} else if estimate > 0 {
		log.Info("task produced no measurable artifact despite estimate",
			slog.Int64("estimated_bytes", estimate))
	}

	log.Info("task completed", slog.Int64("size_bytes", result.SizeBytes))
}

// requeue releases a claim by putting the task back to WAITING. If the write
// fails the task stays PROCESSING and startup recovery repairs it.
func (s *Scheduler) requeue(task *domain.Task, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.tasks.UpdateStatus(ctx, task.ID, domain.TaskStatusWaiting, nil); err != nil {
		log.Error("failed to requeue task", slog.String("error", err.Error()))
	}
}

// finish records a terminal transition. A fresh context is used so shutdown
// cancellation cannot leave the task stuck in PROCESSING.
func (s *Scheduler) finish(task *domain.Task, status domain.TaskStatus, result domain.Payload, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.tasks.UpdateStatus(ctx, task.ID, status, result); err != nil {
		log.Error("failed to record terminal status",
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
	}
}
