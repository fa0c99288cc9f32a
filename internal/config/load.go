package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is prepended to every environment variable the loader reads,
// e.g. FETCH_SERVER_PORT or FETCH_DATABASE_URL.
const envPrefix = "FETCH"

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables take precedence
// over values from the config file. Returns a populated Config struct or an
// error if loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("quota.window_minutes", 10)
	v.SetDefault("quota.request_limit", 60)
	v.SetDefault("quota.server_memory_bytes", int64(20)*1024*1024*1024)
	v.SetDefault("quota.default_key_quota_bytes", int64(5)*1024*1024*1024)
	v.SetDefault("quota.estimation_buffer", 1.10)

	v.SetDefault("scheduler.worker_count", 4)
	v.SetDefault("scheduler.poll_interval", time.Second)
	v.SetDefault("scheduler.shutdown_grace", 30*time.Second)

	v.SetDefault("reaper.retention_minutes", 10)
	v.SetDefault("reaper.sweep_interval", 5*time.Minute)

	v.SetDefault("artifact.base_url", "downloads")
	v.SetDefault("artifact.public_prefix", "/files")

	v.SetDefault("fetcher.binary", "yt-dlp")
	v.SetDefault("fetcher.stage_dir", "")
	v.SetDefault("fetcher.probe_timeout", 45*time.Second)
	v.SetDefault("fetcher.run_timeout", 30*time.Minute)

	v.SetDefault("bootstrap.admin_key_name", "admin")
	v.SetDefault("bootstrap.admin_key_secret", "")
}

// bindEnvKeys makes AutomaticEnv work for keys that only exist in the env,
// not in any config file. Viper cannot discover nested keys on its own.
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"server.port",
		"server.log_level",
		"database.url",
		"quota.window_minutes",
		"quota.request_limit",
		"quota.server_memory_bytes",
		"quota.default_key_quota_bytes",
		"quota.estimation_buffer",
		"scheduler.worker_count",
		"scheduler.poll_interval",
		"scheduler.shutdown_grace",
		"reaper.retention_minutes",
		"reaper.sweep_interval",
		"artifact.base_url",
		"artifact.public_prefix",
		"fetcher.binary",
		"fetcher.stage_dir",
		"fetcher.probe_timeout",
		"fetcher.run_timeout",
		"bootstrap.admin_key_name",
		"bootstrap.admin_key_secret",
	}
	for _, key := range keys {
		// BindEnv only errors on an empty key.
		_ = v.BindEnv(key)
	}
}

// validate runs struct-level validation and translates validator errors into
// a message that names the offending configuration keys.
func validate(cfg *Config) error {
	v := validator.New()
	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config validation failed: %w", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(fields, ", "))
}
