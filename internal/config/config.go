package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Quota     QuotaConfig     `mapstructure:"quota"     validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Reaper    ReaperConfig    `mapstructure:"reaper"    validate:"required"`
	Artifact  ArtifactConfig  `mapstructure:"artifact"  validate:"required"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// QuotaConfig controls the sliding-window admission checks.
//
// WindowMinutes is the trailing window W over which both memory usage and
// task-creation rate are summed. ServerMemoryBytes is the server-wide memory
// ceiling inside the window; DefaultKeyQuotaBytes is the per-key ceiling
// applied to newly created keys unless the creator specifies one (zero or
// negative means unlimited). EstimationBuffer inflates size estimates before
// the admission check to absorb probe inaccuracy.
type QuotaConfig struct {
	WindowMinutes        int     `mapstructure:"window_minutes"          validate:"required,gt=0"`
	RequestLimit         int     `mapstructure:"request_limit"           validate:"required,gt=0"`
	ServerMemoryBytes    int64   `mapstructure:"server_memory_bytes"     validate:"required,gt=0"`
	DefaultKeyQuotaBytes int64   `mapstructure:"default_key_quota_bytes"`
	EstimationBuffer     float64 `mapstructure:"estimation_buffer"       validate:"required,gte=1"`
}

// SchedulerConfig controls the polling dispatch loop and its worker pool.
type SchedulerConfig struct {
	WorkerCount   int           `mapstructure:"worker_count"   validate:"required,gt=0"`
	PollInterval  time.Duration `mapstructure:"poll_interval"  validate:"required"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" validate:"required"`
}

// ReaperConfig controls terminal-task retention and artifact cleanup.
// RetentionMinutes is how long completed/errored tasks (and their artifacts)
// are kept before deletion. SweepInterval is how often the cleanup pass runs.
type ReaperConfig struct {
	RetentionMinutes int           `mapstructure:"retention_minutes" validate:"required,gt=0"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"    validate:"required"`
}

// ArtifactConfig locates artifact storage. BaseURL is any URL the storage
// layer understands (a plain path, file://, s3://, gs://). PublicPrefix is
// the externally addressable path prefix recorded in task results.
type ArtifactConfig struct {
	BaseURL      string `mapstructure:"base_url"      validate:"required"`
	PublicPrefix string `mapstructure:"public_prefix" validate:"required"`
}

// FetcherConfig controls the yt-dlp subprocess. StageDir is local scratch
// space downloads land in before upload to artifact storage.
type FetcherConfig struct {
	Binary       string        `mapstructure:"binary"`
	StageDir     string        `mapstructure:"stage_dir"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	RunTimeout   time.Duration `mapstructure:"run_timeout"`
}

// BootstrapConfig controls first-run provisioning of the administrative key.
// If AdminKeySecret is empty a cryptographically random secret is generated
// and logged once at startup.
type BootstrapConfig struct {
	AdminKeyName   string `mapstructure:"admin_key_name"`
	AdminKeySecret string `mapstructure:"admin_key_secret"`
}
