package relationship

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/smt"
	"github.com/timewave-computer/causality-sub006/internal/testutil"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

var (
	d1    = ids.DomainFromName("D1")
	d2    = ids.DomainFromName("D2")
	d3    = ids.DomainFromName("D3")
	rSrc  = ids.ResourceFromName(d1, "R_src")
	rTgt  = ids.ResourceFromName(d2, "R_tgt")
	rAux  = ids.ResourceFromName(d3, "R_aux")
	ctxBG = context.Background()
)

func mirror(opts ...Option) *Relationship {
	return New(d1, rSrc, d2, rTgt, Mirror, append([]Option{WithSync(PeriodicSync(time.Minute))}, opts...)...)
}

type fixture struct {
	clock *testutil.ManualClock
	tree  *smt.Store
	store *ResourceStore
	sync  *SyncManager
}

func newFixture(t *testing.T, opts ...SyncOption) *fixture {
	t.Helper()
	clk := testutil.NewManualClock(time.Time{})
	tree := smt.NewMemory()
	rs := NewResourceStore(tree)
	return &fixture{
		clock: clk,
		tree:  tree,
		store: rs,
		sync:  NewSyncManager(rs, append([]SyncOption{WithClock(clk)}, opts...)...),
	}
}

// write stores data as a local update of id in domain.
func (f *fixture) write(t *testing.T, domain ids.DomainID, id ids.ResourceID, data value.Value) ResourceState {
	t.Helper()
	st, err := f.store.Write(ctxBG, domain, id, data, uint64(f.clock.Now().UnixMilli()))
	require.NoError(t, err)
	return st
}

func (f *fixture) state(t *testing.T, domain ids.DomainID, id ids.ResourceID) (ResourceState, bool) {
	t.Helper()
	st, ok, err := f.store.State(domain, id)
	require.NoError(t, err)
	return st, ok
}

func balance(n int64) value.Object {
	return value.NewObject(value.O("balance", value.Int(n)))
}
