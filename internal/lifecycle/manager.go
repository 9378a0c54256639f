package lifecycle

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/timewave-computer/causality-sub006/internal/clock"
	"github.com/timewave-computer/causality-sub006/internal/codec"
	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/smt"
	"github.com/timewave-computer/causality-sub006/internal/store"
)

// StateStore receives the encoded registers of every commit as one atomic
// write. *smt.Store satisfies it.
type StateStore interface {
	Apply(ctx context.Context, ops []smt.Op) error
}

// OperationLog receives the records of every committed operation in one
// batch, and drops them again if the operation fails to commit.
// *store.Store satisfies it.
type OperationLog interface {
	AppendOperations(ctx context.Context, recs []store.OperationRecord) error
	DiscardOperation(ctx context.Context, id ids.OperationID) error
}

// Manager owns every register and serializes operations against them.
//
// Thread-safety model:
//   - Operations take the write lock for validation and commit, so per
//     register history order equals commit order
//   - Reads (GetRegister, QueryBy*) take the read lock and return copies
//   - Facts are emitted after the lock is released
type Manager struct {
	mu        sync.RWMutex
	registers map[ids.RegisterID]*Register
	epoch     uint64
	gc        GCConfig

	verifier   *Verifier
	nullifiers NullifierSet
	state      StateStore
	oplog      OperationLog
	sinks      []FactSink
	traces     clock.TraceGenerator
	clock      *clock.Monotone
	seq        *clock.Logical
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithVerifier sets the authorization verifier.
func WithVerifier(v *Verifier) ManagerOption {
	return func(m *Manager) { m.verifier = v }
}

// WithNullifierSet replaces the in-memory nullifier set, e.g. with the
// SQLite store.
func WithNullifierSet(n NullifierSet) ManagerOption {
	return func(m *Manager) { m.nullifiers = n }
}

// WithStateStore persists every committed register under its RegisterKey.
func WithStateStore(s StateStore) ManagerOption {
	return func(m *Manager) { m.state = s }
}

// WithOperationLog appends every committed operation to log.
func WithOperationLog(log OperationLog) ManagerOption {
	return func(m *Manager) { m.oplog = log }
}

// WithFactSink adds a consumer of consumption facts.
func WithFactSink(s FactSink) ManagerOption {
	return func(m *Manager) { m.sinks = append(m.sinks, s) }
}

// WithTraceGenerator sets the generator for operation trace ids. Every
// committed operation draws one id, shared by its log records and facts.
// Default: clock.UUIDv7Generator.
func WithTraceGenerator(g clock.TraceGenerator) ManagerOption {
	return func(m *Manager) { m.traces = g }
}

// WithClock sets the wall-clock source for timestamps and GC ages.
func WithClock(src clock.Source) ManagerOption {
	return func(m *Manager) { m.clock = clock.NewMonotone(src) }
}

// WithGCConfig overrides DefaultGCConfig.
func WithGCConfig(cfg GCConfig) ManagerOption {
	return func(m *Manager) { m.gc = cfg }
}

// WithSequenceStart resumes operation sequence numbers after start, for a
// manager reopened over an existing operation log.
func WithSequenceStart(start int64) ManagerOption {
	return func(m *Manager) { m.seq = clock.NewLogicalAt(start) }
}

// NewManager creates a Manager at epoch 1 with no registers.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		registers:  make(map[ids.RegisterID]*Register),
		epoch:      1,
		gc:         DefaultGCConfig(),
		verifier:   NewVerifier(),
		nullifiers: NewMemoryNullifiers(),
		traces:     clock.UUIDv7Generator{},
		clock:      clock.NewMonotone(clock.System{}),
		seq:        clock.NewLogical(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Verifier returns the manager's authorization verifier, for registering
// keys and proof systems.
func (m *Manager) Verifier() *Verifier {
	return m.verifier
}

// CreateRegister creates a register owned by owner. auth must authorize
// NewCreate(owner, domain, contents, txID).
func (m *Manager) CreateRegister(ctx context.Context, owner Address, domain ids.DomainID, contents Contents, txID string, auth AuthMethod) (*Register, error) {
	op := NewCreate(owner, domain, contents, txID)
	op.Auth = auth
	return m.applyOne(ctx, op)
}

// GetRegister returns a copy of the register with id.
func (m *Manager) GetRegister(id ids.RegisterID) (*Register, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.registers[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "lifecycle.get_register", "register %s not found", id.Short())
	}
	return r.Clone(), nil
}

// UpdateRegister replaces a register's contents. auth must authorize
// NewUpdate(initiator, id, contents).
func (m *Manager) UpdateRegister(ctx context.Context, initiator Address, id ids.RegisterID, contents Contents, auth AuthMethod) (*Register, error) {
	op := NewUpdate(initiator, id, contents)
	op.Auth = auth
	return m.applyOne(ctx, op)
}

// TransferRegister hands a register to recipient. auth must authorize
// NewTransfer(initiator, id, recipient).
func (m *Manager) TransferRegister(ctx context.Context, initiator Address, id ids.RegisterID, recipient Address, auth AuthMethod) (*Register, error) {
	op := NewTransfer(initiator, id, recipient)
	op.Auth = auth
	return m.applyOne(ctx, op)
}

// DeleteRegister moves a register to PendingDeletion.
func (m *Manager) DeleteRegister(ctx context.Context, initiator Address, id ids.RegisterID, auth AuthMethod) (*Register, error) {
	return m.stateChange(ctx, OpDelete, initiator, id, auth)
}

// LockRegister moves an Active register to Locked.
func (m *Manager) LockRegister(ctx context.Context, initiator Address, id ids.RegisterID, auth AuthMethod) (*Register, error) {
	return m.stateChange(ctx, OpLock, initiator, id, auth)
}

// UnlockRegister moves a Locked register back to Active.
func (m *Manager) UnlockRegister(ctx context.Context, initiator Address, id ids.RegisterID, auth AuthMethod) (*Register, error) {
	return m.stateChange(ctx, OpUnlock, initiator, id, auth)
}

// FreezeRegister moves an Active register to Frozen.
func (m *Manager) FreezeRegister(ctx context.Context, initiator Address, id ids.RegisterID, auth AuthMethod) (*Register, error) {
	return m.stateChange(ctx, OpFreeze, initiator, id, auth)
}

// UnfreezeRegister moves a Frozen register back to Active.
func (m *Manager) UnfreezeRegister(ctx context.Context, initiator Address, id ids.RegisterID, auth AuthMethod) (*Register, error) {
	return m.stateChange(ctx, OpUnfreeze, initiator, id, auth)
}

func (m *Manager) stateChange(ctx context.Context, kind OperationKind, initiator Address, id ids.RegisterID, auth AuthMethod) (*Register, error) {
	op := NewStateChange(kind, initiator, id)
	op.Auth = auth
	return m.applyOne(ctx, op)
}

// ConsumeRegister consumes a register once and returns its nullifier. auth
// must authorize NewConsume(initiator, id, txID, successors, blockHeight).
func (m *Manager) ConsumeRegister(ctx context.Context, initiator Address, id ids.RegisterID, txID string, successors []ids.RegisterID, blockHeight uint64, auth AuthMethod) (*Register, ids.Nullifier, error) {
	op := NewConsume(initiator, id, txID, successors, blockHeight)
	op.Auth = auth
	r, err := m.applyOne(ctx, op)
	if err != nil {
		return nil, ids.Nullifier{}, err
	}
	return r, ComputeNullifier(id, txID), nil
}

func (m *Manager) applyOne(ctx context.Context, op *Operation) (*Register, error) {
	out, err := m.ApplyOperation(ctx, op)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// PinHeads sets op.Heads to the current head of each target, so a caller
// can sign op before applying it. Targets that do not exist yet get the
// zero id.
func (m *Manager) PinHeads(op *Operation) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op.Heads = make([]ids.OperationID, len(op.Targets))
	for i, id := range op.Targets {
		if r, ok := m.registers[id]; ok {
			op.Heads[i] = r.Head()
		}
	}
}

// plan is a validated operation ready to commit.
type plan struct {
	current []*Register // nil entry for create
	next    []State
}

// VerifyOperation runs every check ApplyOperation would, without
// committing. A nil error means the operation would be accepted now.
func (m *Manager) VerifyOperation(ctx context.Context, op *Operation) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := m.check(ctx, op)
	return err
}

// ApplyOperation validates op against every target and commits it
// atomically. It returns copies of the committed registers in target order.
func (m *Manager) ApplyOperation(ctx context.Context, op *Operation) ([]*Register, error) {
	m.mu.Lock()
	p, err := m.check(ctx, op)
	if err != nil {
		m.mu.Unlock()
		slog.Debug("operation rejected", "kind", string(op.Kind), "error", err)
		return nil, err
	}
	out, facts, err := m.commit(ctx, op, p)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, f := range facts {
		for _, s := range m.sinks {
			s.Emit(ctx, f)
		}
	}
	return out, nil
}

// check must be called with m.mu held.
func (m *Manager) check(ctx context.Context, op *Operation) (*plan, error) {
	const where = "lifecycle.apply_operation"
	if err := op.validate(); err != nil {
		return nil, err
	}

	p := &plan{current: make([]*Register, len(op.Targets)), next: make([]State, len(op.Targets))}
	for i, id := range op.Targets {
		if op.Kind == OpCreate {
			if _, exists := m.registers[id]; exists {
				return nil, errs.New(errs.Conflict, where, "register %s already exists", id.Short())
			}
			continue
		}
		r, ok := m.registers[id]
		if !ok {
			return nil, errs.New(errs.NotFound, where, "register %s not found", id.Short())
		}
		p.current[i] = r
	}

	// A replayed consumption reports DoubleSpend even though the register
	// is already terminal.
	if op.Kind == OpConsume {
		for _, id := range op.Targets {
			spent, err := m.nullifiers.HasNullifier(ctx, ComputeNullifier(id, op.TxID))
			if err != nil {
				return nil, errs.Wrap(errs.IO, where, err, "read nullifier set")
			}
			if spent {
				return nil, errs.New(errs.DoubleSpend, where, "register %s already consumed in %s", id.Short(), op.TxID)
			}
		}
	}

	heads := make([]ids.OperationID, len(op.Targets))
	for i, r := range p.current {
		if r != nil {
			heads[i] = r.Head()
		}
	}
	if op.Heads == nil {
		op.Heads = heads
	} else if !slices.Equal(op.Heads, heads) {
		return nil, errs.New(errs.Conflict, where, "%s was built against an earlier state of its targets", op.Kind).
			With("register", op.Targets[0].Short())
	}

	for i, r := range p.current {
		ok, err := m.verifier.Verify(ctx, r, op, op.Auth)
		if err != nil {
			return nil, err
		}
		if !ok {
			method := "none"
			if op.Auth != nil {
				method = op.Auth.MethodName()
			}
			return nil, errs.New(errs.Unauthorized, where, "%s by %s not authorized", op.Kind, op.Initiator).
				With("method", method).With("register", op.Targets[i].Short())
		}
	}

	for i, r := range p.current {
		from := StateInitial
		if r != nil {
			from = r.State
		}
		to, err := Transition(from, op.Kind)
		if err != nil {
			return nil, err
		}
		p.next[i] = to
	}
	return p, nil
}

// commit must be called with m.mu held. Nothing in memory changes unless
// every durable write succeeds, and a failed write leaves no durable trace.
func (m *Manager) commit(ctx context.Context, op *Operation, p *plan) ([]*Register, []ConsumptionFact, error) {
	seq := m.seq.Next()
	op.assignID(seq)
	now := m.clock.Now()
	trace := m.traces.Generate()

	updated := make([]*Register, len(op.Targets))
	for i, id := range op.Targets {
		var r *Register
		if cur := p.current[i]; cur != nil {
			r = cur.Clone()
		} else {
			r = &Register{
				ID:        id,
				Owner:     op.Initiator,
				Domain:    op.Domain,
				Contents:  Contents{Kind: op.Contents.Kind, Data: append([]byte(nil), op.Contents.Data...)},
				State:     StateInitial,
				Epoch:     m.epoch,
				TxID:      op.TxID,
				CreatedAt: now,
			}
		}
		switch op.Kind {
		case OpUpdate:
			r.Contents = Contents{Kind: op.Contents.Kind, Data: append([]byte(nil), op.Contents.Data...)}
		case OpTransfer:
			r.Owner = op.Recipient
		case OpConsume:
			r.TxID = op.TxID
			r.Successors = append(r.Successors, op.Successors...)
		}
		r.State = p.next[i]
		r.UpdatedAt = now
		r.History = append(r.History, op.ID)
		updated[i] = r
	}

	var spent []store.NullifierRecord
	var facts []ConsumptionFact
	if op.Kind == OpConsume {
		for _, r := range updated {
			n := ComputeNullifier(r.ID, op.TxID)
			spent = append(spent, store.NullifierRecord{Nullifier: n, Register: r.ID, TxID: op.TxID})
			facts = append(facts, ConsumptionFact{
				TraceID:     trace,
				RegisterID:  r.ID,
				TxID:        op.TxID,
				Nullifier:   n,
				Successors:  append([]ids.RegisterID(nil), op.Successors...),
				BlockHeight: op.BlockHeight,
			})
		}
	}

	if err := m.persist(ctx, op, seq, trace, p.current, updated, spent); err != nil {
		return nil, nil, err
	}

	out := make([]*Register, len(updated))
	for i, r := range updated {
		m.registers[r.ID] = r
		out[i] = r.Clone()
		slog.Info("register committed",
			"op", string(op.Kind),
			"register", r.ID.Short(),
			"state", r.State.String(),
			"seq", seq,
		)
	}
	return out, facts, nil
}

// persist makes one operation durable: the register states in one state
// write, then the operation log batch, then the nullifiers. prev holds each
// register as it was before the operation (nil if it is being created).
//
// The nullifier set is append-only, so it goes last. When the log or the
// nullifier write fails, the earlier steps are undone: the log entries are
// discarded and the previous encodings are written back, which restores
// the prior root.
func (m *Manager) persist(ctx context.Context, op *Operation, seq int64, trace string, prev, regs []*Register, spent []store.NullifierRecord) error {
	const where = "lifecycle.persist"
	if m.state != nil {
		ops := make([]smt.Op, len(regs))
		for i, r := range regs {
			ops[i] = smt.Op{Key: ids.RegisterKey(r.Domain, r.ID), Value: codec.Marshal(r)}
		}
		if err := m.state.Apply(ctx, ops); err != nil {
			return errs.Wrap(errs.IO, where, err, "write register state")
		}
	}

	if m.oplog != nil {
		payload := codec.Marshal(op)
		recs := make([]store.OperationRecord, len(regs))
		for i, r := range regs {
			recs[i] = store.OperationRecord{
				ID:       op.ID,
				Register: r.ID,
				Kind:     string(op.Kind),
				Payload:  payload,
				TraceID:  trace,
				Seq:      seq,
			}
		}
		if err := m.oplog.AppendOperations(ctx, recs); err != nil {
			m.revertState(ctx, prev, regs)
			return errs.Wrap(errs.IO, where, err, "append operation log")
		}
	}

	if len(spent) > 0 {
		inserted, err := m.nullifiers.InsertNullifiers(ctx, spent)
		if err == nil && inserted {
			return nil
		}
		m.discardOperation(ctx, op.ID)
		m.revertState(ctx, prev, regs)
		if err != nil {
			return errs.Wrap(errs.IO, where, err, "write nullifier")
		}
		return errs.New(errs.DoubleSpend, where, "nullifier for %s already present", regs[0].ID.Short())
	}
	return nil
}

// revertState writes back each register's previous encoding and removes the
// keys of registers that did not exist before. It runs even when ctx is done.
func (m *Manager) revertState(ctx context.Context, prev, regs []*Register) {
	if m.state == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	ops := make([]smt.Op, len(regs))
	for i, r := range regs {
		key := ids.RegisterKey(r.Domain, r.ID)
		if prev[i] == nil {
			ops[i] = smt.Op{Key: key, Delete: true}
		} else {
			ops[i] = smt.Op{Key: key, Value: codec.Marshal(prev[i])}
		}
	}
	if err := m.state.Apply(ctx, ops); err != nil {
		slog.Error("register state revert failed", "registers", len(regs), "error", err)
	}
}

func (m *Manager) discardOperation(ctx context.Context, id ids.OperationID) {
	if m.oplog == nil {
		return
	}
	if err := m.oplog.DiscardOperation(context.WithoutCancel(ctx), id); err != nil {
		slog.Error("operation log discard failed", "op", id.Short(), "error", err)
	}
}

// RegisterSource lists and reads persisted state. *smt.Store satisfies it.
type RegisterSource interface {
	Keys(prefix string) []string
	Get(key string) ([]byte, error)
}

// Restore loads every register persisted under src into an empty manager
// and resumes the epoch at the highest register epoch seen. It returns the
// number of registers loaded.
func (m *Manager) Restore(src RegisterSource) (int, error) {
	const where = "lifecycle.restore"
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.registers) > 0 {
		return 0, errs.New(errs.InvalidState, where, "manager already holds %d registers", len(m.registers))
	}
	for _, key := range src.Keys("") {
		if !strings.Contains(key, registerKeyMarker) {
			continue
		}
		raw, err := src.Get(key)
		if err != nil {
			return 0, errs.Wrap(errs.IO, where, err, "read "+key)
		}
		r := &Register{}
		if err := codec.Unmarshal(raw, r); err != nil {
			return 0, errs.Wrap(errs.Serialization, where, err, "decode "+key)
		}
		m.registers[r.ID] = r
		if r.Epoch > m.epoch {
			m.epoch = r.Epoch
		}
	}
	slog.Debug("registers restored", "count", len(m.registers), "epoch", m.epoch)
	return len(m.registers), nil
}

const registerKeyMarker = "-register-"

// QueryByOwner returns copies of every register owned by owner, by id.
func (m *Manager) QueryByOwner(owner Address) []*Register {
	return m.query(func(r *Register) bool { return r.Owner == owner })
}

// QueryByDomain returns copies of every register homed in domain, by id.
func (m *Manager) QueryByDomain(domain ids.DomainID) []*Register {
	return m.query(func(r *Register) bool { return r.Domain == domain })
}

// All returns copies of every register, by id.
func (m *Manager) All() []*Register {
	return m.query(func(*Register) bool { return true })
}

func (m *Manager) query(keep func(*Register) bool) []*Register {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*Register{}
	for _, r := range m.registers {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out
}

// Nullifiers returns the spent nullifiers in insertion order.
func (m *Manager) Nullifiers(ctx context.Context) ([]ids.Nullifier, error) {
	ns, err := m.nullifiers.Nullifiers(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "lifecycle.nullifiers", err, "read nullifier set")
	}
	return ns, nil
}

// Epoch returns the current epoch. The first epoch is 1.
func (m *Manager) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

// AdvanceEpoch increments the epoch and, when AutoGCOnEpochAdvance is set,
// runs garbage collection. It returns the new epoch.
func (m *Manager) AdvanceEpoch(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	auto := m.gc.AutoGCOnEpochAdvance
	m.mu.Unlock()

	slog.Info("epoch advanced", "epoch", epoch)
	if auto {
		if _, err := m.RunGarbageCollection(ctx); err != nil {
			return epoch, err
		}
	}
	return epoch, nil
}
