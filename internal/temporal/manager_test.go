package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub006/internal/clock"
	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/lifecycle"
	"github.com/timewave-computer/causality-sub006/internal/relationship"
	"github.com/timewave-computer/causality-sub006/internal/testutil"
)

var (
	d1  = ids.DomainFromName("D1")
	d2  = ids.DomainFromName("D2")
	res = ids.ResourceFromName(d1, "vault")
)

func at(pairs ...any) clock.TimeMap {
	tm := clock.NewTimeMap()
	for i := 0; i < len(pairs); i += 2 {
		tm.Observe(pairs[i].(ids.DomainID), uint64(pairs[i+1].(int)), 0)
	}
	return tm
}

func newManager(cfg Config) (*Manager, *testutil.ManualClock) {
	clk := testutil.NewManualClock(time.Time{})
	return NewManager(cfg, WithClock(clk)), clk
}

func TestRecordStateChangeVersions(t *testing.T) {
	m, _ := newManager(DefaultConfig())

	s1, err := m.RecordStateChange(res, d1, lifecycle.StateActive, 0, at(d1, 1))
	require.NoError(t, err)
	s2, err := m.RecordStateChange(res, d1, lifecycle.StateLocked, 0, at(d1, 2))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s1.Version)
	assert.Equal(t, uint64(2), s2.Version)

	s3, err := m.RecordStateChange(res, d1, lifecycle.StateActive, 7, at(d1, 3))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), s3.Version)

	assert.Len(t, m.History(res), 3)
	assert.Equal(t, uint64(3), m.CurrentTime().Clock(d1))
}

func TestRecordStateChangeRepair(t *testing.T) {
	tests := []struct {
		name    string
		repair  bool
		version uint64
		tm      clock.TimeMap
		want    uint64
		kind    errs.Kind
	}{
		{"stale version repaired", true, 1, at(d1, 5), 3, ""},
		{"stale version rejected", false, 1, at(d1, 5), 0, errs.InvalidState},
		{"stale time repaired", true, 0, at(d1, 1), 3, ""},
		{"stale time rejected", false, 0, at(d1, 1), 0, errs.InvalidState},
		{"concurrent time accepted", false, 0, at(d2, 1), 3, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.AutoRepair = tt.repair
			m, _ := newManager(cfg)
			_, err := m.RecordStateChange(res, d1, lifecycle.StateActive, 0, at(d1, 2))
			require.NoError(t, err)
			_, err = m.RecordStateChange(res, d1, lifecycle.StateLocked, 0, at(d1, 3))
			require.NoError(t, err)

			s, err := m.RecordStateChange(res, d1, lifecycle.StateActive, tt.version, tt.tm)
			if tt.kind != "" {
				assert.Equal(t, tt.kind, errs.KindOf(err))
				assert.Len(t, m.History(res), 2)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Version)
			assert.NotEqual(t, clock.Before, s.Time.Compare(at(d1, 3)))
		})
	}
}

func TestRecordStateChangeEmptyTimeUsesCurrent(t *testing.T) {
	m, _ := newManager(DefaultConfig())
	m.Observe(at(d1, 4, d2, 2))
	s, err := m.RecordStateChange(res, d1, lifecycle.StateActive, 0, clock.TimeMap{})
	require.NoError(t, err)
	assert.Equal(t, clock.Equal, s.Time.Compare(at(d1, 4, d2, 2)))
}

func TestGetStateAtTimeMonotone(t *testing.T) {
	m, _ := newManager(DefaultConfig())
	states := []lifecycle.State{lifecycle.StateActive, lifecycle.StateLocked, lifecycle.StateActive, lifecycle.StateFrozen}
	for i, st := range states {
		_, err := m.RecordStateChange(res, d1, st, 0, at(d1, i+1))
		require.NoError(t, err)
	}

	_, ok := m.GetStateAtTime(res, at(d1, 0))
	assert.False(t, ok)

	var last uint64
	for c := 1; c <= 6; c++ {
		s, ok := m.GetStateAtTime(res, at(d1, c))
		require.True(t, ok)
		assert.GreaterOrEqual(t, s.Version, last, "later query never goes back")
		last = s.Version
	}
	s, _ := m.GetStateAtTime(res, at(d1, 2))
	assert.Equal(t, lifecycle.StateLocked, s.State)
	s, _ = m.GetStateAtTime(res, at(d1, 9, d2, 9))
	assert.Equal(t, lifecycle.StateFrozen, s.State)
}

func TestGetStateAtTimeConcurrentSnapshots(t *testing.T) {
	m, _ := newManager(DefaultConfig())
	_, err := m.RecordStateChange(res, d1, lifecycle.StateActive, 0, at(d1, 1))
	require.NoError(t, err)
	_, err = m.RecordStateChange(res, d1, lifecycle.StateLocked, 0, at(d1, 1, d2, 1))
	require.NoError(t, err)

	s, ok := m.GetStateAtTime(res, at(d1, 1))
	require.True(t, ok)
	assert.Equal(t, uint64(1), s.Version, "d2 progress not yet visible")
	s, _ = m.GetStateAtTime(res, at(d1, 1, d2, 1))
	assert.Equal(t, uint64(2), s.Version)
}

func TestVerifyStateTransition(t *testing.T) {
	m, _ := newManager(DefaultConfig())
	assert.True(t, m.VerifyStateTransition(res, lifecycle.StateInitial, lifecycle.StateActive, at(d1, 1)))
	assert.False(t, m.VerifyStateTransition(res, lifecycle.StateActive, lifecycle.StateLocked, at(d1, 1)))

	_, err := m.RecordStateChange(res, d1, lifecycle.StateActive, 0, at(d1, 1))
	require.NoError(t, err)
	_, err = m.RecordStateChange(res, d1, lifecycle.StateConsumed, 0, at(d1, 2))
	require.NoError(t, err)

	tests := []struct {
		name     string
		from, to lifecycle.State
		at       clock.TimeMap
		want     bool
	}{
		{"active to locked", lifecycle.StateActive, lifecycle.StateLocked, at(d1, 1), true},
		{"wrong from", lifecycle.StateLocked, lifecycle.StateActive, at(d1, 1), false},
		{"not permitted", lifecycle.StateActive, lifecycle.StateTombstone, at(d1, 1), false},
		{"consumed is terminal", lifecycle.StateConsumed, lifecycle.StateActive, at(d1, 2), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.VerifyStateTransition(res, tt.from, tt.to, tt.at))
		})
	}
}

func TestSnapshotCap(t *testing.T) {
	m, _ := newManager(Config{MaxSnapshotsPerEntity: 3})
	for i := 1; i <= 5; i++ {
		_, err := m.RecordStateChange(res, d1, lifecycle.StateActive, 0, at(d1, i))
		require.NoError(t, err)
	}
	hist := m.History(res)
	require.Len(t, hist, 3)
	assert.Equal(t, uint64(3), hist[0].Version)
	assert.Equal(t, uint64(5), hist[2].Version)
}

func TestPruneKeepsVersionsMonotone(t *testing.T) {
	m, clk := newManager(DefaultConfig())
	_, err := m.RecordStateChange(res, d1, lifecycle.StateActive, 0, at(d1, 1))
	require.NoError(t, err)
	_, err = m.RecordStateChange(res, d1, lifecycle.StateLocked, 0, at(d1, 2))
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	other := ids.ResourceFromName(d1, "other")
	_, err = m.RecordStateChange(other, d1, lifecycle.StateActive, 0, at(d1, 3))
	require.NoError(t, err)

	assert.Equal(t, 2, m.Prune(time.Hour))
	assert.Empty(t, m.History(res))
	assert.Len(t, m.History(other), 1)

	s, err := m.RecordStateChange(res, d1, lifecycle.StateActive, 0, at(d1, 4))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), s.Version)
}

type fakeReader map[ids.ResourceID]lifecycle.State

func (f fakeReader) CurrentState(id ids.ResourceID) (lifecycle.State, ids.DomainID, error) {
	st, ok := f[id]
	if !ok {
		return 0, ids.DomainID{}, errs.New(errs.NotFound, "fake", "no %s", id.Short())
	}
	return st, d1, nil
}

func TestSynchronizeResources(t *testing.T) {
	m, clk := newManager(Config{SyncInterval: time.Minute})
	other := ids.ResourceFromName(d1, "other")
	missing := ids.ResourceFromName(d1, "missing")
	reader := fakeReader{res: lifecycle.StateActive, other: lifecycle.StateLocked}

	assert.True(t, m.SyncDue())
	n, err := m.SynchronizeResources(reader, []ids.ResourceID{res, other, missing})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, m.SyncDue())

	n, err = m.SynchronizeResources(reader, []ids.ResourceID{res, other})
	require.NoError(t, err)
	assert.Zero(t, n, "unchanged states are not recorded again")

	reader[res] = lifecycle.StateFrozen
	n, err = m.SynchronizeResources(reader, []ids.ResourceID{res, other})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	hist := m.History(res)
	require.Len(t, hist, 2)
	assert.Equal(t, lifecycle.StateFrozen, hist[1].State)

	clk.Advance(time.Minute)
	assert.True(t, m.SyncDue())
}

func TestSynchronizeRelationships(t *testing.T) {
	src := ids.ResourceFromName(d1, "a")
	tgt := ids.ResourceFromName(d2, "b")
	r := relationship.New(d1, src, d2, tgt, relationship.Mirror,
		relationship.WithSync(relationship.PeriodicSync(time.Minute)))

	for _, repair := range []bool{true, false} {
		t.Run(map[bool]string{true: "auto repair", false: "strict"}[repair], func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.AutoRepair = repair
			m, _ := newManager(cfg)
			reg := relationship.NewRegistry()
			_, err := reg.Add(r)
			require.NoError(t, err)

			n, err := m.SynchronizeRelationships(reg)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			n, _ = m.SynchronizeRelationships(reg)
			assert.Zero(t, n)

			upd := r.Clone()
			upd.Metadata.Strategy = relationship.HybridSync(time.Hour)
			require.NoError(t, reg.Update(upd))
			n, _ = m.SynchronizeRelationships(reg)
			assert.Equal(t, 1, n)

			require.NoError(t, reg.Remove(r.ID))
			n, _ = m.SynchronizeRelationships(reg)
			hist := m.RelationshipHistory(r.ID)
			if repair {
				assert.Equal(t, 1, n)
				require.Len(t, hist, 3)
				assert.True(t, hist[2].Removed)
				assert.Equal(t, relationship.Hybrid, hist[2].Relationship.Metadata.Strategy.Mode)
			} else {
				assert.Zero(t, n)
				assert.Len(t, hist, 2)
			}
			for i := 1; i < len(hist); i++ {
				assert.Greater(t, hist[i].Version, hist[i-1].Version)
			}
		})
	}
}

func TestRecordRelationshipChange(t *testing.T) {
	m, _ := newManager(DefaultConfig())
	_, err := m.RecordRelationshipChange(nil, clock.TimeMap{})
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))

	r := relationship.New(d1, res, d2, ids.ResourceFromName(d2, "b"), relationship.Reference)
	s, err := m.RecordRelationshipChange(r, at(d1, 3))
	require.NoError(t, err)
	r.Bidirectional = true
	assert.False(t, s.Relationship.Bidirectional, "snapshot holds a copy")

	got, ok := m.GetRelationshipAtTime(r.ID, at(d1, 3))
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.Version)
	_, ok = m.GetRelationshipAtTime(r.ID, at(d1, 2))
	assert.False(t, ok)
}
