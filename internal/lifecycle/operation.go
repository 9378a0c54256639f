package lifecycle

import (
	"github.com/timewave-computer/causality-sub006/internal/codec"
	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// OperationKind names what an operation does to its targets.
type OperationKind string

const (
	OpCreate   OperationKind = "create"
	OpUpdate   OperationKind = "update"
	OpTransfer OperationKind = "transfer"
	OpLock     OperationKind = "lock"
	OpUnlock   OperationKind = "unlock"
	OpFreeze   OperationKind = "freeze"
	OpUnfreeze OperationKind = "unfreeze"
	OpConsume  OperationKind = "consume"
	OpDelete   OperationKind = "delete"

	// Garbage collection transitions. Never accepted from callers.
	opExpire  OperationKind = "gc_expire"
	opCollect OperationKind = "gc_collect"
)

// Operation is a request to change one or more registers.
type Operation struct {
	// ID is assigned when the operation commits.
	ID ids.OperationID

	Initiator Address
	Targets   []ids.RegisterID
	Kind      OperationKind

	// Heads holds, per target, the id of the last operation the target had
	// when this one was built (zero for a create). Heads are signed, so a
	// credential stops verifying once its register has moved on. Left
	// empty, they are pinned to the current registers during verification.
	Heads []ids.OperationID

	// Contents is the new payload (create, update).
	Contents *Contents

	// Recipient is the new owner (transfer).
	Recipient Address

	// Domain is the home domain of a created register.
	Domain ids.DomainID

	TxID        string
	Successors  []ids.RegisterID
	Auth        AuthMethod
	Context     string
	BlockHeight uint64
}

// NewCreate builds the operation that creates a register owned by owner.
func NewCreate(owner Address, domain ids.DomainID, contents Contents, txID string) *Operation {
	c := contents
	return &Operation{
		Initiator: owner,
		Targets:   []ids.RegisterID{RegisterIDFor(owner, domain, contents)},
		Kind:      OpCreate,
		Contents:  &c,
		Domain:    domain,
		TxID:      txID,
	}
}

// NewUpdate builds an operation replacing a register's contents.
func NewUpdate(initiator Address, id ids.RegisterID, contents Contents) *Operation {
	c := contents
	return &Operation{Initiator: initiator, Targets: []ids.RegisterID{id}, Kind: OpUpdate, Contents: &c}
}

// NewTransfer builds an operation handing a register to recipient.
func NewTransfer(initiator Address, id ids.RegisterID, recipient Address) *Operation {
	return &Operation{Initiator: initiator, Targets: []ids.RegisterID{id}, Kind: OpTransfer, Recipient: recipient}
}

// NewConsume builds a one-time consumption of a register.
func NewConsume(initiator Address, id ids.RegisterID, txID string, successors []ids.RegisterID, blockHeight uint64) *Operation {
	return &Operation{
		Initiator:   initiator,
		Targets:     []ids.RegisterID{id},
		Kind:        OpConsume,
		TxID:        txID,
		Successors:  append([]ids.RegisterID(nil), successors...),
		BlockHeight: blockHeight,
	}
}

// NewStateChange builds a lock, unlock, freeze, unfreeze, or delete.
func NewStateChange(kind OperationKind, initiator Address, id ids.RegisterID) *Operation {
	return &Operation{Initiator: initiator, Targets: []ids.RegisterID{id}, Kind: kind}
}

// SigningBytes returns the bytes an authorization method signs: every field
// except ID and Auth.
func (op *Operation) SigningBytes() []byte {
	e := codec.NewEncoder()
	op.encodeBody(e)
	return e.Bytes()
}

func (op *Operation) encodeBody(e *codec.Encoder) {
	e.WriteString(string(op.Kind))
	e.WriteString(string(op.Initiator))
	e.WriteLen(len(op.Targets))
	for _, t := range op.Targets {
		e.Write(t)
	}
	e.WriteLen(len(op.Heads))
	for _, h := range op.Heads {
		e.Write(h)
	}
	e.WriteOption(op.Contents != nil)
	if op.Contents != nil {
		e.Write(*op.Contents)
	}
	e.WriteString(string(op.Recipient))
	e.Write(op.Domain)
	e.WriteString(op.TxID)
	e.WriteLen(len(op.Successors))
	for _, s := range op.Successors {
		e.Write(s)
	}
	e.WriteString(op.Context)
	e.WriteU64(op.BlockHeight)
}

// EncodeTo implements codec.Marshaler. The authorization is not encoded;
// the log records what was done, not the credential that allowed it.
func (op *Operation) EncodeTo(e *codec.Encoder) {
	e.Write(op.ID)
	op.encodeBody(e)
}

// assignID derives the operation id from its body and the commit seq, so
// two identical requests still get distinct ids.
func (op *Operation) assignID(seq int64) {
	op.ID = ids.FromContent[ids.OperationKind](codec.DomainOperation, codec.Func(func(e *codec.Encoder) {
		op.encodeBody(e)
		e.WriteI64(seq)
	}))
}

func (op *Operation) validate() error {
	const where = "lifecycle.validate_operation"
	if op == nil {
		return errs.New(errs.InvalidArgument, where, "operation is nil")
	}
	if op.Initiator == "" {
		return errs.New(errs.InvalidArgument, where, "initiator is required")
	}
	if len(op.Targets) == 0 {
		return errs.New(errs.InvalidArgument, where, "at least one target is required")
	}
	seen := make(map[ids.RegisterID]bool, len(op.Targets))
	for _, t := range op.Targets {
		if seen[t] {
			return errs.New(errs.InvalidArgument, where, "duplicate target %s", t.Short())
		}
		seen[t] = true
	}
	switch op.Kind {
	case OpCreate:
		if op.Contents == nil {
			return errs.New(errs.InvalidArgument, where, "create requires contents")
		}
		if len(op.Targets) != 1 {
			return errs.New(errs.InvalidArgument, where, "create takes exactly one target")
		}
		if op.Domain.IsZero() {
			return errs.New(errs.InvalidArgument, where, "create requires a domain")
		}
		if want := RegisterIDFor(op.Initiator, op.Domain, *op.Contents); op.Targets[0] != want {
			return errs.New(errs.InvalidArgument, where, "create target does not match derived id %s", want.Short())
		}
	case OpUpdate:
		if op.Contents == nil {
			return errs.New(errs.InvalidArgument, where, "update requires contents")
		}
	case OpTransfer:
		if op.Recipient == "" {
			return errs.New(errs.InvalidArgument, where, "transfer requires a recipient")
		}
	case OpConsume:
		if op.TxID == "" {
			return errs.New(errs.InvalidArgument, where, "consume requires a transaction id")
		}
	case OpLock, OpUnlock, OpFreeze, OpUnfreeze, OpDelete:
	default:
		return errs.New(errs.InvalidArgument, where, "unknown operation kind %q", op.Kind)
	}
	return nil
}
