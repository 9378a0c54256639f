// Package config models causality.yml, the settings shared by the CLI and
// any host embedding the core managers.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/lifecycle"
	"github.com/timewave-computer/causality-sub006/internal/relationship"
	"github.com/timewave-computer/causality-sub006/internal/scheduler"
	"github.com/timewave-computer/causality-sub006/internal/temporal"
)

// FileName is the config file looked up in a workspace.
const FileName = "causality.yml"

// Config models causality.yml. Omitted fields keep their defaults.
type Config struct {
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Lifecycle struct {
		GC struct {
			MaxRegisterAge       time.Duration `yaml:"max_register_age"`
			ArchiveRetention     time.Duration `yaml:"archive_retention"`
			MaxRegistersPerRun   int           `yaml:"max_registers_per_run"`
			AutoGCOnEpochAdvance bool          `yaml:"auto_gc_on_epoch_advance"`
		} `yaml:"gc"`
	} `yaml:"lifecycle"`
	Sync struct {
		HistoryLimit        int           `yaml:"history_limit"`
		EventDrivenFallback time.Duration `yaml:"event_driven_fallback"`
		ValidationLevel     string        `yaml:"validation_level"`
	} `yaml:"sync"`
	Scheduler struct {
		Enabled               bool          `yaml:"enabled"`
		MaxConcurrentTasks    int           `yaml:"max_concurrent_tasks"`
		PeriodicCheckInterval time.Duration `yaml:"periodic_check_interval"`
		SyncTimeout           time.Duration `yaml:"sync_timeout"`
		RetryFailed           bool          `yaml:"retry_failed"`
		MaxRetryAttempts      int           `yaml:"max_retry_attempts"`
		RetryBackoff          Backoff       `yaml:"retry_backoff"`
		ValidateBeforeSync    bool          `yaml:"validate_before_sync"`
		ValidationLevel       string        `yaml:"validation_level"`
	} `yaml:"scheduler"`
	Temporal struct {
		SyncInterval              time.Duration `yaml:"sync_interval"`
		MaxSnapshotsPerEntity     int           `yaml:"max_snapshots_per_entity"`
		VerifyTemporalConsistency bool          `yaml:"verify_temporal_consistency"`
		AutoRepair                bool          `yaml:"auto_repair"`
	} `yaml:"temporal"`
}

// Backoff is the YAML form of scheduler.Backoff.
type Backoff struct {
	Kind       string        `yaml:"kind"`
	Initial    time.Duration `yaml:"initial"`
	Increment  time.Duration `yaml:"increment"`
	Multiplier float64       `yaml:"multiplier"`
	Max        time.Duration `yaml:"max"`
}

// Default returns every section at its package default.
func Default() *Config {
	var c Config
	c.Store.Path = "causality.db"

	gc := lifecycle.DefaultGCConfig()
	c.Lifecycle.GC.MaxRegisterAge = gc.MaxRegisterAge
	c.Lifecycle.GC.ArchiveRetention = gc.ArchiveRetention
	c.Lifecycle.GC.MaxRegistersPerRun = gc.MaxRegistersPerRun
	c.Lifecycle.GC.AutoGCOnEpochAdvance = gc.AutoGCOnEpochAdvance

	c.Sync.HistoryLimit = 100
	c.Sync.ValidationLevel = relationship.Moderate.String()

	sc := scheduler.DefaultConfig()
	c.Scheduler.Enabled = sc.Enabled
	c.Scheduler.MaxConcurrentTasks = sc.MaxConcurrentTasks
	c.Scheduler.PeriodicCheckInterval = sc.PeriodicCheckInterval
	c.Scheduler.SyncTimeout = sc.SyncTimeout
	c.Scheduler.RetryFailed = sc.RetryFailed
	c.Scheduler.MaxRetryAttempts = sc.MaxRetryAttempts
	c.Scheduler.RetryBackoff = Backoff{
		Kind:       sc.RetryBackoff.Kind.String(),
		Initial:    sc.RetryBackoff.Initial,
		Increment:  sc.RetryBackoff.Increment,
		Multiplier: sc.RetryBackoff.Multiplier,
		Max:        sc.RetryBackoff.Max,
	}
	c.Scheduler.ValidateBeforeSync = sc.ValidateBeforeSync
	c.Scheduler.ValidationLevel = sc.ValidationLevel.String()

	tc := temporal.DefaultConfig()
	c.Temporal.SyncInterval = tc.SyncInterval
	c.Temporal.MaxSnapshotsPerEntity = tc.MaxSnapshotsPerEntity
	c.Temporal.VerifyTemporalConsistency = tc.VerifyTemporalConsistency
	c.Temporal.AutoRepair = tc.AutoRepair
	return &c
}

func invalid(format string, args ...any) error {
	return errs.New(errs.InvalidArgument, "config.validate", format, args...)
}

// detail strips the kind and op from a nested validation error.
func detail(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Validate checks every section and names the offending field path.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return invalid("config.store.path is required")
	}
	if _, err := c.GC(); err != nil {
		return invalid("config.lifecycle.gc: %v", detail(err))
	}
	if c.Sync.HistoryLimit <= 0 {
		return invalid("config.sync.history_limit must be > 0")
	}
	if c.Sync.EventDrivenFallback < 0 {
		return invalid("config.sync.event_driven_fallback must be >= 0")
	}
	if _, err := relationship.ParseLevel(c.Sync.ValidationLevel); err != nil {
		return invalid("config.sync.validation_level %q is not strict, moderate or permissive", c.Sync.ValidationLevel)
	}
	s := c.Scheduler
	switch {
	case s.MaxConcurrentTasks <= 0:
		return invalid("config.scheduler.max_concurrent_tasks must be > 0")
	case s.PeriodicCheckInterval <= 0:
		return invalid("config.scheduler.periodic_check_interval must be > 0")
	case s.SyncTimeout <= 0:
		return invalid("config.scheduler.sync_timeout must be > 0")
	case s.MaxRetryAttempts < 0:
		return invalid("config.scheduler.max_retry_attempts must be >= 0")
	}
	if _, err := relationship.ParseLevel(s.ValidationLevel); err != nil {
		return invalid("config.scheduler.validation_level %q is not strict, moderate or permissive", s.ValidationLevel)
	}
	if _, err := s.RetryBackoff.Build(); err != nil {
		return invalid("config.scheduler.retry_backoff: %v", detail(err))
	}
	t := c.Temporal
	if t.SyncInterval <= 0 {
		return invalid("config.temporal.sync_interval must be > 0")
	}
	if t.MaxSnapshotsPerEntity <= 0 {
		return invalid("config.temporal.max_snapshots_per_entity must be > 0")
	}
	return nil
}

// Build converts b and checks it.
func (b Backoff) Build() (scheduler.Backoff, error) {
	kind, err := scheduler.ParseBackoffKind(b.Kind)
	if err != nil {
		return scheduler.Backoff{}, err
	}
	out := scheduler.Backoff{
		Kind:       kind,
		Initial:    b.Initial,
		Increment:  b.Increment,
		Multiplier: b.Multiplier,
		Max:        b.Max,
	}
	if kind == scheduler.BackoffFixed {
		out = scheduler.Fixed(b.Initial)
	}
	return out, out.Validate()
}

// GC returns the lifecycle collector settings.
func (c *Config) GC() (lifecycle.GCConfig, error) {
	gc := lifecycle.GCConfig{
		MaxRegisterAge:       c.Lifecycle.GC.MaxRegisterAge,
		ArchiveRetention:     c.Lifecycle.GC.ArchiveRetention,
		MaxRegistersPerRun:   c.Lifecycle.GC.MaxRegistersPerRun,
		AutoGCOnEpochAdvance: c.Lifecycle.GC.AutoGCOnEpochAdvance,
	}
	return gc, gc.Validate()
}

// SyncLevel returns the sync manager's validation level.
func (c *Config) SyncLevel() relationship.Level {
	l, _ := relationship.ParseLevel(c.Sync.ValidationLevel)
	return l
}

// SchedulerConfig returns the scheduler settings. Call after Validate.
func (c *Config) SchedulerConfig() scheduler.Config {
	s := c.Scheduler
	backoff, _ := s.RetryBackoff.Build()
	level, _ := relationship.ParseLevel(s.ValidationLevel)
	return scheduler.Config{
		Enabled:               s.Enabled,
		MaxConcurrentTasks:    s.MaxConcurrentTasks,
		PeriodicCheckInterval: s.PeriodicCheckInterval,
		SyncTimeout:           s.SyncTimeout,
		RetryFailed:           s.RetryFailed,
		MaxRetryAttempts:      s.MaxRetryAttempts,
		RetryBackoff:          backoff,
		ValidateBeforeSync:    s.ValidateBeforeSync,
		ValidationLevel:       level,
	}
}

// TemporalConfig returns the temporal manager settings.
func (c *Config) TemporalConfig() temporal.Config {
	t := c.Temporal
	return temporal.Config{
		SyncInterval:              t.SyncInterval,
		MaxSnapshotsPerEntity:     t.MaxSnapshotsPerEntity,
		VerifyTemporalConsistency: t.VerifyTemporalConsistency,
		AutoRepair:                t.AutoRepair,
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// FromYAML parses data over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "config.parse", err, "invalid config yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return FromYAML(data)
}

// LoadOptional reads the workspace config, or returns the defaults when
// the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
