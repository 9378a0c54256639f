package temporal

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"github.com/timewave-computer/causality-sub006/internal/clock"
	"github.com/timewave-computer/causality-sub006/internal/codec"
	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/lifecycle"
	"github.com/timewave-computer/causality-sub006/internal/relationship"
)

// Config tunes a Manager.
type Config struct {
	// SyncInterval is how often SynchronizeResources is due.
	SyncInterval time.Duration

	// MaxSnapshotsPerEntity caps each history; the oldest are dropped.
	MaxSnapshotsPerEntity int

	// VerifyTemporalConsistency rejects snapshots whose time map is
	// causally before the entity's latest snapshot.
	VerifyTemporalConsistency bool

	// AutoRepair fixes stale versions and time maps instead of failing,
	// and marks relationships that left the registry as removed.
	AutoRepair bool
}

// DefaultConfig returns a 5 minute sync interval, 100 snapshots per
// entity, with verification and auto-repair on.
func DefaultConfig() Config {
	return Config{
		SyncInterval:              5 * time.Minute,
		MaxSnapshotsPerEntity:     100,
		VerifyTemporalConsistency: true,
		AutoRepair:                true,
	}
}

// Snapshot is a resource's lifecycle state as observed at Time.
type Snapshot struct {
	Resource   ids.ResourceID
	Domain     ids.DomainID
	State      lifecycle.State
	Version    uint64
	Time       clock.TimeMap
	RecordedAt time.Time
}

// RelationshipSnapshot is a relationship as observed at Time. Removed
// marks the point it left the registry.
type RelationshipSnapshot struct {
	Relationship *relationship.Relationship
	Removed      bool
	Version      uint64
	Time         clock.TimeMap
	RecordedAt   time.Time
}

// Manager keeps bounded, causally stamped histories of resource states
// and relationships.
//
// Thread-safety: all methods are safe for concurrent use. Returned
// snapshots are copies.
type Manager struct {
	cfg   Config
	clock clock.Source

	mu            sync.RWMutex
	current       clock.TimeMap
	resources     map[ids.ResourceID][]Snapshot
	relationships map[ids.RelationshipID][]RelationshipSnapshot
	// versions is the high-water version per entity; it survives pruning.
	versions map[[ids.Size]byte]uint64
	lastSync time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the wall-clock source used for RecordedAt and Prune.
func WithClock(src clock.Source) Option {
	return func(m *Manager) { m.clock = src }
}

// NewManager returns an empty manager. Zero config fields take their
// defaults.
func NewManager(cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.MaxSnapshotsPerEntity <= 0 {
		cfg.MaxSnapshotsPerEntity = def.MaxSnapshotsPerEntity
	}
	m := &Manager{
		cfg:           cfg,
		clock:         clock.System{},
		current:       clock.NewTimeMap(),
		resources:     make(map[ids.ResourceID][]Snapshot),
		relationships: make(map[ids.RelationshipID][]RelationshipSnapshot),
		versions:      make(map[[ids.Size]byte]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// CurrentTime returns the merge of every time map recorded so far.
func (m *Manager) CurrentTime() clock.TimeMap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// Observe folds tm into the current time map without recording a
// snapshot.
func (m *Manager) Observe(tm clock.TimeMap) {
	m.mu.Lock()
	m.current = m.current.Merge(tm)
	m.mu.Unlock()
}

// stamp settles the version and time map of a new snapshot for entity.
// version 0 means next; tm with no clocks means the current time map.
// Caller holds the write lock.
func (m *Manager) stamp(op string, entity [ids.Size]byte, version uint64, tm clock.TimeMap, latest *clock.TimeMap) (uint64, clock.TimeMap, error) {
	if len(tm.Clocks) == 0 {
		tm = m.current.Clone()
	} else {
		tm = tm.Clone()
	}
	if m.cfg.VerifyTemporalConsistency && latest != nil && tm.Compare(*latest) == clock.Before {
		if !m.cfg.AutoRepair {
			return 0, clock.TimeMap{}, errs.New(errs.InvalidState, op, "time map precedes the latest snapshot")
		}
		slog.Warn("temporal: repaired stale time map", "op", op)
		tm = tm.Merge(*latest)
	}

	hw := m.versions[entity]
	switch {
	case version == 0:
		version = hw + 1
	case version <= hw:
		if !m.cfg.AutoRepair {
			return 0, clock.TimeMap{}, errs.New(errs.InvalidState, op, "version %d is not after %d", version, hw)
		}
		slog.Warn("temporal: repaired stale version", "op", op, "given", version, "used", hw+1)
		version = hw + 1
	}
	m.versions[entity] = version
	m.current = m.current.Merge(tm)
	return version, tm, nil
}

func trim[T any](list []T, limit int) []T {
	if len(list) > limit {
		return append([]T(nil), list[len(list)-limit:]...)
	}
	return list
}

// RecordStateChange appends a snapshot of resource in state. A zero
// version takes the next one; an empty tm takes the current time map.
func (m *Manager) RecordStateChange(resource ids.ResourceID, domain ids.DomainID, state lifecycle.State, version uint64, tm clock.TimeMap) (Snapshot, error) {
	const op = "temporal.record_state_change"
	m.mu.Lock()
	defer m.mu.Unlock()

	hist := m.resources[resource]
	var latest *clock.TimeMap
	if n := len(hist); n > 0 {
		latest = &hist[n-1].Time
	}
	v, stamped, err := m.stamp(op, resource, version, tm, latest)
	if err != nil {
		return Snapshot{}, err
	}
	s := Snapshot{
		Resource:   resource,
		Domain:     domain,
		State:      state,
		Version:    v,
		Time:       stamped,
		RecordedAt: m.clock.Now(),
	}
	m.resources[resource] = trim(append(hist, s), m.cfg.MaxSnapshotsPerEntity)
	slog.Debug("temporal: state recorded", "resource", resource.Short(), "state", state, "version", v)
	return cloneSnapshot(s), nil
}

// RecordRelationshipChange appends a snapshot of r.
func (m *Manager) RecordRelationshipChange(r *relationship.Relationship, tm clock.TimeMap) (RelationshipSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordRelationship(r, false, tm)
}

func (m *Manager) recordRelationship(r *relationship.Relationship, removed bool, tm clock.TimeMap) (RelationshipSnapshot, error) {
	const op = "temporal.record_relationship_change"
	if r == nil {
		return RelationshipSnapshot{}, errs.New(errs.InvalidArgument, op, "relationship is nil")
	}
	hist := m.relationships[r.ID]
	var latest *clock.TimeMap
	if n := len(hist); n > 0 {
		latest = &hist[n-1].Time
	}
	v, stamped, err := m.stamp(op, r.ID, 0, tm, latest)
	if err != nil {
		return RelationshipSnapshot{}, err
	}
	s := RelationshipSnapshot{
		Relationship: r.Clone(),
		Removed:      removed,
		Version:      v,
		Time:         stamped,
		RecordedAt:   m.clock.Now(),
	}
	m.relationships[r.ID] = trim(append(hist, s), m.cfg.MaxSnapshotsPerEntity)
	return cloneRelSnapshot(s), nil
}

// GetStateAtTime returns the highest-version snapshot of resource whose
// time map is at or before at. ok is false when none qualifies.
func (m *Manager) GetStateAtTime(resource ids.ResourceID, at clock.TimeMap) (s Snapshot, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cand := range m.resources[resource] {
		if cand.Time.LessOrEqual(at) && (!ok || cand.Version > s.Version) {
			s, ok = cand, true
		}
	}
	if ok {
		s = cloneSnapshot(s)
	}
	return s, ok
}

// GetRelationshipAtTime is GetStateAtTime for relationships.
func (m *Manager) GetRelationshipAtTime(id ids.RelationshipID, at clock.TimeMap) (s RelationshipSnapshot, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cand := range m.relationships[id] {
		if cand.Time.LessOrEqual(at) && (!ok || cand.Version > s.Version) {
			s, ok = cand, true
		}
	}
	if ok {
		s = cloneRelSnapshot(s)
	}
	return s, ok
}

// VerifyStateTransition reports whether resource may move from -> to as
// seen at snapshot: the state there must be from and the lifecycle table
// must permit the move. With no snapshot only from == Initial passes.
func (m *Manager) VerifyStateTransition(resource ids.ResourceID, from, to lifecycle.State, at clock.TimeMap) bool {
	s, ok := m.GetStateAtTime(resource, at)
	if !ok {
		return from == lifecycle.StateInitial && lifecycle.Permits(from, to)
	}
	return s.State == from && lifecycle.Permits(from, to)
}

// History returns the snapshots of resource, oldest first.
func (m *Manager) History(resource ids.ResourceID) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, len(m.resources[resource]))
	for i, s := range m.resources[resource] {
		out[i] = cloneSnapshot(s)
	}
	return out
}

// RelationshipHistory returns the snapshots of a relationship, oldest
// first.
func (m *Manager) RelationshipHistory(id ids.RelationshipID) []RelationshipSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RelationshipSnapshot, len(m.relationships[id]))
	for i, s := range m.relationships[id] {
		out[i] = cloneRelSnapshot(s)
	}
	return out
}

// StateReader reports the live lifecycle state of a resource.
type StateReader interface {
	CurrentState(resource ids.ResourceID) (lifecycle.State, ids.DomainID, error)
}

// SyncDue reports whether SyncInterval has passed since the last
// SynchronizeResources.
func (m *Manager) SyncDue() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync.IsZero() || m.clock.Now().Sub(m.lastSync) >= m.cfg.SyncInterval
}

// SynchronizeResources records a snapshot, at the current time map, for
// every listed resource whose live state differs from its latest snapshot.
// Resources the reader cannot find are skipped. It returns the number of
// snapshots recorded.
func (m *Manager) SynchronizeResources(reader StateReader, resources []ids.ResourceID) (int, error) {
	n := 0
	for _, id := range resources {
		state, domain, err := reader.CurrentState(id)
		if errs.Is(err, errs.NotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		m.mu.RLock()
		hist := m.resources[id]
		stale := len(hist) == 0 || hist[len(hist)-1].State != state
		m.mu.RUnlock()
		if !stale {
			continue
		}
		if _, err := m.RecordStateChange(id, domain, state, 0, clock.TimeMap{}); err != nil {
			return n, err
		}
		n++
	}
	m.mu.Lock()
	m.lastSync = m.clock.Now()
	m.mu.Unlock()
	slog.Debug("temporal: resources synchronized", "checked", len(resources), "recorded", n)
	return n, nil
}

// SynchronizeRelationships records every registry relationship that is new
// or changed since its latest snapshot. With AutoRepair, relationships no
// longer in the registry get a removal snapshot; otherwise they are
// logged. It returns the number of snapshots recorded.
func (m *Manager) SynchronizeRelationships(reg *relationship.Registry) (int, error) {
	live := reg.All()
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	seen := make(map[ids.RelationshipID]bool, len(live))
	for _, r := range live {
		seen[r.ID] = true
		hist := m.relationships[r.ID]
		if len(hist) > 0 {
			last := hist[len(hist)-1]
			if !last.Removed && bytes.Equal(codec.Marshal(last.Relationship), codec.Marshal(r)) {
				continue
			}
		}
		if _, err := m.recordRelationship(r, false, clock.TimeMap{}); err != nil {
			return n, err
		}
		n++
	}
	for _, id := range ids.SortedKeys(m.relationships) {
		hist := m.relationships[id]
		last := hist[len(hist)-1]
		if seen[id] || last.Removed {
			continue
		}
		if !m.cfg.AutoRepair {
			slog.Warn("temporal: relationship missing from registry", "id", id.Short())
			continue
		}
		if _, err := m.recordRelationship(last.Relationship, true, clock.TimeMap{}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Prune drops snapshots recorded more than olderThan ago and forgets
// entities left without any. Versions keep counting from their high-water
// mark. It returns the number of snapshots removed.
func (m *Manager) Prune(olderThan time.Duration) int {
	cutoff := m.clock.Now().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, hist := range m.resources {
		kept := hist[:0]
		for _, s := range hist {
			if !s.RecordedAt.Before(cutoff) {
				kept = append(kept, s)
			}
		}
		removed += len(hist) - len(kept)
		if len(kept) == 0 {
			delete(m.resources, id)
		} else {
			m.resources[id] = kept
		}
	}
	for id, hist := range m.relationships {
		kept := hist[:0]
		for _, s := range hist {
			if !s.RecordedAt.Before(cutoff) {
				kept = append(kept, s)
			}
		}
		removed += len(hist) - len(kept)
		if len(kept) == 0 {
			delete(m.relationships, id)
		} else {
			m.relationships[id] = kept
		}
	}
	if removed > 0 {
		slog.Info("temporal: pruned snapshots", "removed", removed, "cutoff", cutoff)
	}
	return removed
}

func cloneSnapshot(s Snapshot) Snapshot {
	s.Time = s.Time.Clone()
	return s
}

func cloneRelSnapshot(s RelationshipSnapshot) RelationshipSnapshot {
	s.Relationship = s.Relationship.Clone()
	s.Time = s.Time.Clone()
	return s
}
