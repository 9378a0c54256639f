package lifecycle

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/timewave-computer/causality-sub006/internal/errs"
)

// GCConfig bounds the garbage collection sweep.
type GCConfig struct {
	// MaxRegisterAge is how long a register may sit Active without an
	// update before it is marked PendingDeletion.
	MaxRegisterAge time.Duration

	// ArchiveRetention is how long a PendingDeletion register is kept
	// before it becomes a Tombstone.
	ArchiveRetention time.Duration

	// MaxRegistersPerRun caps the transitions made by one sweep.
	MaxRegistersPerRun int

	AutoGCOnEpochAdvance bool
}

// DefaultGCConfig returns 30 day age, 90 day retention, 1000 per run, and
// a sweep on every epoch advance.
func DefaultGCConfig() GCConfig {
	return GCConfig{
		MaxRegisterAge:       30 * 24 * time.Hour,
		ArchiveRetention:     90 * 24 * time.Hour,
		MaxRegistersPerRun:   1000,
		AutoGCOnEpochAdvance: true,
	}
}

// Validate checks that every bound is positive.
func (c GCConfig) Validate() error {
	const where = "lifecycle.configure_gc"
	switch {
	case c.MaxRegisterAge <= 0:
		return errs.New(errs.InvalidArgument, where, "max register age must be > 0")
	case c.ArchiveRetention <= 0:
		return errs.New(errs.InvalidArgument, where, "archive retention must be > 0")
	case c.MaxRegistersPerRun <= 0:
		return errs.New(errs.InvalidArgument, where, "max registers per run must be > 0")
	}
	return nil
}

// GCStats reports what one sweep did.
type GCStats struct {
	Scanned           int
	MarkedForDeletion int
	Tombstoned        int
}

// ConfigureGC replaces the GC configuration.
func (m *Manager) ConfigureGC(cfg GCConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gc = cfg
	return nil
}

// GCConfig returns the current GC configuration.
func (m *Manager) GCConfig() GCConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gc
}

// RunGarbageCollection sweeps registers oldest first by (updated_at, id).
// Active registers idle for MaxRegisterAge become PendingDeletion;
// PendingDeletion registers older than ArchiveRetention become Tombstones
// with their contents cleared. At most MaxRegistersPerRun registers change.
func (m *Manager) RunGarbageCollection(ctx context.Context) (GCStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats GCStats
	cfg := m.gc
	now := m.clock.Now()

	candidates := make([]*Register, 0, len(m.registers))
	for _, r := range m.registers {
		if r.State == StateActive || r.State == StatePendingDeletion {
			candidates = append(candidates, r)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.ID.Compare(b.ID) < 0
	})

	for _, r := range candidates {
		if stats.MarkedForDeletion+stats.Tombstoned >= cfg.MaxRegistersPerRun {
			break
		}
		stats.Scanned++
		age := now.Sub(r.UpdatedAt)

		var kind OperationKind
		switch {
		case r.State == StateActive && age >= cfg.MaxRegisterAge:
			kind = opExpire
		case r.State == StatePendingDeletion && age >= cfg.ArchiveRetention:
			kind = opCollect
		default:
			continue
		}

		to, err := Transition(r.State, kind)
		if err != nil {
			return stats, errs.Wrap(errs.Internal, "lifecycle.gc", err, "gc transition")
		}
		op := NewStateChange(kind, "system:gc", r.ID)
		seq := m.seq.Next()
		op.assignID(seq)

		next := r.Clone()
		next.State = to
		next.UpdatedAt = now
		next.History = append(next.History, op.ID)
		if to == StateTombstone {
			next.Contents.Data = nil
		}
		if err := m.persist(ctx, op, seq, "gc", []*Register{r}, []*Register{next}, nil); err != nil {
			return stats, err
		}
		m.registers[r.ID] = next

		if to == StateTombstone {
			stats.Tombstoned++
		} else {
			stats.MarkedForDeletion++
		}
	}

	slog.Info("garbage collection finished",
		"scanned", stats.Scanned,
		"marked", stats.MarkedForDeletion,
		"tombstoned", stats.Tombstoned,
	)
	return stats, nil
}
