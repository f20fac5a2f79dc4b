package config

import (
	"time"
)

// Config is the root application configuration.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

// AppConfig holds process-level settings.
type AppConfig struct {
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"APP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"                env-required:"true"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"5"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// OutboxConfig holds outbox subscription settings.
type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"OUTBOX_POLL_INTERVAL" env-default:"100ms"`
	BatchSize    int           `yaml:"batch_size"    env:"OUTBOX_BATCH_SIZE"    env-default:"100"`
}

// JobsConfig holds job executor settings.
type JobsConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"    env:"JOBS_POLL_INTERVAL"    env-default:"1s"`
	Workers         int           `yaml:"workers"          env:"JOBS_WORKERS"          env-default:"2"`
	MaxAttempts     int           `yaml:"max_attempts"     env:"JOBS_MAX_ATTEMPTS"     env-default:"5"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout" env:"JOBS_LIVENESS_TIMEOUT" env-default:"1m"`
	BaseBackoff     time.Duration `yaml:"base_backoff"     env:"JOBS_BASE_BACKOFF"     env-default:"2s"`
}
