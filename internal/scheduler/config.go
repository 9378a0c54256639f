package scheduler

import (
	"time"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/relationship"
)

// Config controls dispatch, retries and the validation gate.
type Config struct {
	Enabled               bool
	MaxConcurrentTasks    int
	PeriodicCheckInterval time.Duration
	SyncTimeout           time.Duration
	RetryFailed           bool
	MaxRetryAttempts      int
	RetryBackoff          Backoff

	// ValidateBeforeSync skips relationships that fail validation at
	// ValidationLevel.
	ValidateBeforeSync bool
	ValidationLevel    relationship.Level
}

// DefaultConfig returns the stock scheduler settings.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		MaxConcurrentTasks:    10,
		PeriodicCheckInterval: time.Minute,
		SyncTimeout:           5 * time.Minute,
		RetryFailed:           true,
		MaxRetryAttempts:      3,
		RetryBackoff:          Exponential(5*time.Second, 2.0, time.Hour),
		ValidationLevel:       relationship.Moderate,
	}
}

// Validate checks every field a running scheduler depends on.
func (c Config) Validate() error {
	const op = "scheduler.config"
	switch {
	case c.MaxConcurrentTasks <= 0:
		return errs.New(errs.InvalidArgument, op, "max_concurrent_tasks must be > 0")
	case c.PeriodicCheckInterval <= 0:
		return errs.New(errs.InvalidArgument, op, "periodic_check_interval must be > 0")
	case c.SyncTimeout <= 0:
		return errs.New(errs.InvalidArgument, op, "sync_timeout must be > 0")
	case c.MaxRetryAttempts < 0:
		return errs.New(errs.InvalidArgument, op, "max_retry_attempts must be >= 0")
	}
	if c.RetryFailed {
		if err := c.RetryBackoff.Validate(); err != nil {
			return err
		}
	}
	return nil
}
