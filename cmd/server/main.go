// Package main is the entry point for the fetch-api server: an HTTP facade
// over a pool of yt-dlp workers with per-key quotas and sliding-window
// admission control.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/viant/afs"

	"github.com/mediafetch/fetch-api/internal/admission"
	"github.com/mediafetch/fetch-api/internal/api"
	apimw "github.com/mediafetch/fetch-api/internal/api/middleware"
	"github.com/mediafetch/fetch-api/internal/artifact"
	"github.com/mediafetch/fetch-api/internal/config"
	"github.com/mediafetch/fetch-api/internal/platform/logger"
	"github.com/mediafetch/fetch-api/internal/platform/postgres"
	"github.com/mediafetch/fetch-api/internal/platform/ytdlp"
	"github.com/mediafetch/fetch-api/internal/quota"
	"github.com/mediafetch/fetch-api/internal/reaper"
	"github.com/mediafetch/fetch-api/internal/scheduler"
	"github.com/mediafetch/fetch-api/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("starting fetch-api server",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Warn("closing database", slog.String("error", cerr.Error()))
		}
	}()

	if err := postgres.MigrateUp(ctx, db, log); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	taskStore := postgres.NewPostgresTaskStore(db, log)
	keyStore := postgres.NewPostgresApiKeyStore(db, log)
	usageStore := postgres.NewPostgresUsageStore(db, log)

	window := time.Duration(cfg.Quota.WindowMinutes) * time.Minute
	ledger := quota.NewLedger(usageStore, window, log)
	gate := admission.NewController(ledger, taskStore,
		cfg.Quota.ServerMemoryBytes, window, cfg.Quota.RequestLimit, log)

	keySvc := service.NewKeyService(keyStore, cfg.Quota.DefaultKeyQuotaBytes, log)
	taskSvc := service.NewTaskService(taskStore, gate, log)

	if err := bootstrapAdminKey(ctx, keySvc, cfg.Bootstrap, log); err != nil {
		return err
	}

	artifacts := artifact.NewStore(afs.New(), cfg.Artifact.BaseURL, cfg.Artifact.PublicPrefix, log)
	runner := ytdlp.NewRunner(ytdlp.Config{
		Binary:           cfg.Fetcher.Binary,
		StageDir:         cfg.Fetcher.StageDir,
		EstimationBuffer: cfg.Quota.EstimationBuffer,
		ProbeTimeout:     cfg.Fetcher.ProbeTimeout,
		RunTimeout:       cfg.Fetcher.RunTimeout,
	}, artifacts, log)

	sweeper := reaper.New(taskStore, artifacts, ledger, reaper.Config{
		Retention:     time.Duration(cfg.Reaper.RetentionMinutes) * time.Minute,
		SweepInterval: cfg.Reaper.SweepInterval,
	}, log)

	// Anything still PROCESSING at boot was orphaned by the previous run and
	// must be repaired before workers start claiming.
	if err := sweeper.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted tasks: %w", err)
	}
	sweeper.Start()

	dispatch := scheduler.New(taskStore, keyStore, gate, ledger, runner, scheduler.Config{
		WorkerCount:   cfg.Scheduler.WorkerCount,
		PollInterval:  cfg.Scheduler.PollInterval,
		ShutdownGrace: cfg.Scheduler.ShutdownGrace,
	}, log)
	dispatch.Start()

	router := api.NewRouter(api.Handlers{
		Tasks: api.NewTaskHandler(taskSvc, log),
		Keys:  api.NewKeyHandler(keySvc, log),
		Files: api.NewFileHandler(artifacts, log),
		Auth:  apimw.NewAuth(keySvc, log),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	// Stop taking new work first, then let in-flight downloads drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", slog.String("error", err.Error()))
	}

	dispatch.Stop()
	sweeper.Stop()

	log.Info("server stopped")
	return nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")
	return db, nil
}

// bootstrapAdminKey guarantees an administrative key exists. A configured
// secret is used verbatim; otherwise one is generated and logged once, the
// only time it is ever visible.
func bootstrapAdminKey(
	ctx context.Context,
	keys *service.KeyService,
	cfg config.BootstrapConfig,
	log *slog.Logger,
) error {
	secret := cfg.AdminKeySecret
	generated := false
	if secret == "" {
		var err error
		secret, err = service.GenerateSecret()
		if err != nil {
			return fmt.Errorf("failed to generate admin secret: %w", err)
		}
		generated = true
	}

	key, created, err := keys.EnsureAdminKey(ctx, cfg.AdminKeyName, secret)
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin key: %w", err)
	}
	if created && generated {
		log.Info("generated admin key secret; store it now, it will not be shown again",
			slog.String("key_name", key.Name),
			slog.String("secret", secret))
	} else if created {
		log.Info("admin key provisioned", slog.String("key_name", key.Name))
	} else {
		log.Info("admin key already present", slog.String("key_name", key.Name))
	}
	return nil
}
