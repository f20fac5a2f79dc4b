package config

import (
	"fmt"
	"slices"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if !slices.Contains(logLevels, c.Log.Level) {
		return fmt.Errorf("log.level must be one of %v (got %q)", logLevels, c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}

	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database.max_conns must be >= 1 (got %d)", c.Database.MaxConns)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns must not exceed max_conns (%d > %d)",
			c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("jobs.workers must be >= 1 (got %d)", c.Jobs.Workers)
	}
	if c.Jobs.MaxAttempts < 1 {
		return fmt.Errorf("jobs.max_attempts must be >= 1 (got %d)", c.Jobs.MaxAttempts)
	}
	if c.Jobs.LivenessTimeout <= 0 {
		return fmt.Errorf("jobs.liveness_timeout must be positive (got %v)", c.Jobs.LivenessTimeout)
	}

	if c.Outbox.BatchSize < 1 {
		return fmt.Errorf("outbox.batch_size must be >= 1 (got %d)", c.Outbox.BatchSize)
	}

	return nil
}
