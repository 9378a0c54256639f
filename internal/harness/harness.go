package harness

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"time"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/lifecycle"
	"github.com/timewave-computer/causality-sub006/internal/store"
	"github.com/timewave-computer/causality-sub006/internal/testutil"
)

// StepInterval is how far the manual clock advances before each step.
const StepInterval = time.Second

// Harness runs one scenario against a fresh manager.
//
// Principals named in the scenario get deterministic keys from
// testutil.KeyFor, so scenario files carry no key material.
type Harness struct {
	store   *store.Store
	manager *lifecycle.Manager
	clock   *testutil.ManualClock
	keys    map[lifecycle.Address]ed25519.PrivateKey
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database so nullifiers and the
// operation log are exercised through SQLite. A step whose outcome differs
// from its expectation is recorded as an error; Run itself only fails when
// the store cannot be opened.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	tree, err := st.OpenTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open state tree: %w", err)
	}

	token := scenario.TraceToken
	if token == "" {
		token = "scenario-trace"
	}
	clk := testutil.NewManualClock(time.Time{})
	m := lifecycle.NewManager(
		lifecycle.WithClock(clk),
		lifecycle.WithTraceGenerator(testutil.NewFixedTraceGenerator(token)),
		lifecycle.WithStateStore(tree),
		lifecycle.WithOperationLog(st),
		lifecycle.WithNullifierSet(st),
	)
	m.Verifier().SetTimeFunc(clk.Now)

	h := &Harness{
		store:   st,
		manager: m,
		clock:   clk,
		keys:    make(map[lifecycle.Address]ed25519.PrivateKey),
		logger:  slog.Default().With("scenario", scenario.Name),
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.clock.Advance(StepInterval)
		h.runStep(ctx, i, step, result)
	}

	if result.Nullifiers, err = m.Nullifiers(ctx); err != nil {
		return nil, err
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, m) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) key(addr lifecycle.Address) ed25519.PrivateKey {
	if priv, ok := h.keys[addr]; ok {
		return priv
	}
	pub, priv := testutil.KeyFor(string(addr))
	h.manager.Verifier().RegisterKey(addr, pub)
	h.keys[addr] = priv
	return priv
}

func (h *Harness) runStep(ctx context.Context, i int, step Step, result *Result) {
	event := TraceEvent{
		Seq:      i + 1,
		Op:       step.Op,
		Register: step.Register,
		Elapsed:  h.clock.Now().Sub(testutil.Epoch0).String(),
	}

	var (
		reg *lifecycle.Register
		err error
	)
	if step.Op == OpAdvanceEpoch {
		var epoch uint64
		epoch, err = h.manager.AdvanceEpoch(ctx)
		event.Epoch = epoch
	} else {
		reg, err = h.apply(ctx, step, result)
	}

	event.Outcome = OutcomeOK
	if err != nil {
		event.Outcome = string(errs.KindOf(err))
	}
	if reg != nil {
		event.State = reg.State.String()
		event.Owner = string(reg.Owner)
		event.Epoch = reg.Epoch
		event.History = len(reg.History)
	}
	result.Trace = append(result.Trace, event)
	h.logger.Debug("step applied", "seq", event.Seq, "op", step.Op, "outcome", event.Outcome)

	for _, msg := range checkExpect(step, event, reg, err) {
		result.AddError(fmt.Sprintf("steps[%d] %s %s: %s", i, step.Op, step.Register, msg))
	}
}

func (h *Harness) apply(ctx context.Context, step Step, result *Result) (*lifecycle.Register, error) {
	kind := registerOps[step.Op]
	contents := lifecycle.Contents{Kind: "bytes", Data: []byte(step.Contents)}

	var op *lifecycle.Operation
	initiator := lifecycle.Address(step.Initiator)
	switch kind {
	case lifecycle.OpCreate:
		initiator = lifecycle.Address(step.Owner)
		txID := step.TxID
		if txID == "" {
			txID = "create-" + step.Register
		}
		op = lifecycle.NewCreate(initiator, ids.DomainFromName(step.Domain), contents, txID)
	case lifecycle.OpUpdate:
		op = lifecycle.NewUpdate(initiator, result.Registers[step.Register], contents)
	case lifecycle.OpTransfer:
		op = lifecycle.NewTransfer(initiator, result.Registers[step.Register], lifecycle.Address(step.Recipient))
	case lifecycle.OpConsume:
		successors := make([]ids.RegisterID, len(step.Successor))
		for i, alias := range step.Successor {
			successors[i] = result.Registers[alias]
		}
		op = lifecycle.NewConsume(initiator, result.Registers[step.Register], step.TxID, successors, 0)
	default:
		op = lifecycle.NewStateChange(kind, initiator, result.Registers[step.Register])
	}

	signer := initiator
	if step.Signer != "" {
		signer = lifecycle.Address(step.Signer)
	}
	h.manager.PinHeads(op)
	op.Auth = lifecycle.SignOperation(h.key(signer), signer, op)

	out, err := h.manager.ApplyOperation(ctx, op)
	if err != nil {
		return nil, err
	}
	reg := out[0]
	if kind == lifecycle.OpCreate {
		result.Registers[step.Register] = reg.ID
	}
	return reg, nil
}

func checkExpect(step Step, event TraceEvent, reg *lifecycle.Register, err error) []string {
	exp := step.Expect
	if exp == nil {
		exp = &Expect{}
	}
	if exp.Error != "" {
		if event.Outcome != exp.Error {
			return []string{fmt.Sprintf("expected error %s, got %s", exp.Error, event.Outcome)}
		}
		return nil
	}
	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}
	if reg == nil {
		return nil
	}

	var out []string
	if exp.State != "" && event.State != exp.State {
		out = append(out, fmt.Sprintf("expected state %s, got %s", exp.State, event.State))
	}
	if exp.Owner != "" && event.Owner != exp.Owner {
		out = append(out, fmt.Sprintf("expected owner %s, got %s", exp.Owner, event.Owner))
	}
	if exp.Epoch != 0 && event.Epoch != exp.Epoch {
		out = append(out, fmt.Sprintf("expected epoch %d, got %d", exp.Epoch, event.Epoch))
	}
	if exp.History != 0 && event.History != exp.History {
		out = append(out, fmt.Sprintf("expected history length %d, got %d", exp.History, event.History))
	}
	if exp.UpdatedAfterCreated && !reg.UpdatedAt.After(reg.CreatedAt) {
		out = append(out, fmt.Sprintf("expected updated_at %s after created_at %s", reg.UpdatedAt, reg.CreatedAt))
	}
	return out
}
