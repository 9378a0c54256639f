package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/relationship"
	"github.com/timewave-computer/causality-sub006/internal/scheduler"
	"github.com/timewave-computer/causality-sub006/internal/temporal"
)

func TestDefaultMatchesPackageDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, scheduler.DefaultConfig(), cfg.SchedulerConfig())
	assert.Equal(t, temporal.DefaultConfig(), cfg.TemporalConfig())
	assert.Equal(t, relationship.Moderate, cfg.SyncLevel())
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
store:
  path: /var/lib/causality/state.db
sync:
  event_driven_fallback: 10m
scheduler:
  max_concurrent_tasks: 4
  retry_backoff:
    kind: exponential
    initial: 5s
    multiplier: 2
    max: 60s
  validate_before_sync: true
  validation_level: strict
temporal:
  auto_repair: false
`))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/causality/state.db", cfg.Store.Path)
	assert.Equal(t, 10*time.Minute, cfg.Sync.EventDrivenFallback)

	sc := cfg.SchedulerConfig()
	assert.Equal(t, 4, sc.MaxConcurrentTasks)
	assert.Equal(t, scheduler.Exponential(5*time.Second, 2, time.Minute), sc.RetryBackoff)
	assert.True(t, sc.ValidateBeforeSync)
	assert.Equal(t, relationship.Strict, sc.ValidationLevel)
	assert.Equal(t, 3, sc.MaxRetryAttempts, "untouched fields keep defaults")

	tc := cfg.TemporalConfig()
	assert.False(t, tc.AutoRepair)
	assert.True(t, tc.VerifyTemporalConsistency)
}

func TestValidateNamesFieldPath(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"workers", "scheduler:\n  max_concurrent_tasks: 0\n", "config.scheduler.max_concurrent_tasks must be > 0"},
		{"store", "store:\n  path: \"\"\n", "config.store.path is required"},
		{"level", "sync:\n  validation_level: lenient\n", "config.sync.validation_level"},
		{"backoff kind", "scheduler:\n  retry_backoff:\n    kind: jittered\n", "config.scheduler.retry_backoff"},
		{"backoff cap", "scheduler:\n  retry_backoff:\n    kind: linear\n    initial: 1m\n    max: 1s\n", "max 1s is below initial 1m0s"},
		{"gc", "lifecycle:\n  gc:\n    max_registers_per_run: 0\n", "config.lifecycle.gc"},
		{"snapshots", "temporal:\n  max_snapshots_per_entity: -1\n", "config.temporal.max_snapshots_per_entity must be > 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFromYAMLRejectsMalformed(t *testing.T) {
	_, err := FromYAML([]byte("scheduler: [1, 2"))
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("scheduler:\n  max_retry_attempts: 5\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Scheduler.MaxRetryAttempts)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.RetryBackoff = Backoff{Kind: "fixed", Initial: 3 * time.Second, Max: 3 * time.Second}
	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "initial: 3s")

	back, err := FromYAML(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
