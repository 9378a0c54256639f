package lifecycle

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/testutil"
)

const (
	alice Address = "0xAAA"
	bob   Address = "0xBBB"
	carol Address = "0xCCC"
)

var d1 = ids.DomainFromName("D1")

type fixture struct {
	m     *Manager
	clk   *testutil.ManualClock
	keys  map[Address]ed25519.PrivateKey
	facts *factRecorder
}

type factRecorder struct {
	mu    sync.Mutex
	facts []ConsumptionFact
}

func (r *factRecorder) Emit(_ context.Context, f ConsumptionFact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facts = append(r.facts, f)
}

func (r *factRecorder) all() []ConsumptionFact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConsumptionFact(nil), r.facts...)
}

// newFixture builds a manager on a manual clock with keys for alice, bob,
// and carol registered.
func newFixture(t *testing.T, opts ...ManagerOption) *fixture {
	t.Helper()
	clk := testutil.NewManualClock(time.Time{})
	rec := &factRecorder{}
	base := []ManagerOption{
		WithClock(clk),
		WithTraceGenerator(testutil.NewFixedTraceGenerator("trace-1")),
		WithFactSink(rec),
	}
	m := NewManager(append(base, opts...)...)
	m.Verifier().SetTimeFunc(clk.Now)

	f := &fixture{m: m, clk: clk, keys: make(map[Address]ed25519.PrivateKey), facts: rec}
	for _, a := range []Address{alice, bob, carol} {
		pub, priv := testutil.KeyFor(string(a))
		m.Verifier().RegisterKey(a, pub)
		f.keys[a] = priv
	}
	return f
}

// sign pins op to the current register heads and signs it as its initiator.
func (f *fixture) sign(op *Operation) Signature {
	f.m.PinHeads(op)
	return SignOperation(f.keys[op.Initiator], op.Initiator, op)
}

func (f *fixture) create(t *testing.T, owner Address, data string) *Register {
	t.Helper()
	contents := Contents{Kind: "bytes", Data: []byte(data)}
	op := NewCreate(owner, d1, contents, "tx-create")
	r, err := f.m.CreateRegister(context.Background(), owner, d1, contents, "tx-create", f.sign(op))
	require.NoError(t, err)
	return r
}

func (f *fixture) update(initiator Address, id ids.RegisterID, data string) (*Register, error) {
	contents := Contents{Kind: "bytes", Data: []byte(data)}
	return f.m.UpdateRegister(context.Background(), initiator, id, contents, f.sign(NewUpdate(initiator, id, contents)))
}

func (f *fixture) change(kind OperationKind, initiator Address, id ids.RegisterID) (*Register, error) {
	op := NewStateChange(kind, initiator, id)
	op.Auth = f.sign(op)
	out, err := f.m.ApplyOperation(context.Background(), op)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fixture) consume(initiator Address, id ids.RegisterID, txID string) (*Register, ids.Nullifier, error) {
	op := NewConsume(initiator, id, txID, nil, 7)
	return f.m.ConsumeRegister(context.Background(), initiator, id, txID, nil, 7, f.sign(op))
}
