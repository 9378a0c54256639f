package lifecycle

import (
	"time"

	"github.com/timewave-computer/causality-sub006/internal/codec"
	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// Address identifies a principal permitted to author operations.
type Address string

// State is a register's lifecycle state.
type State uint8

const (
	StateInitial State = iota
	StateActive
	StateLocked
	StateFrozen
	StateConsumed
	StatePendingDeletion
	StateTombstone
	numStates
)

var stateNames = [...]string{
	StateInitial:         "initial",
	StateActive:          "active",
	StateLocked:          "locked",
	StateFrozen:          "frozen",
	StateConsumed:        "consumed",
	StatePendingDeletion: "pending_deletion",
	StateTombstone:       "tombstone",
}

func (s State) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return "unknown"
}

// ParseState returns the State named s.
func ParseState(s string) (State, error) {
	for i, name := range stateNames {
		if name == s {
			return State(i), nil
		}
	}
	return 0, errs.New(errs.InvalidArgument, "lifecycle.parse_state", "unknown register state %q", s)
}

// Terminal reports whether no operation may leave s.
func (s State) Terminal() bool {
	return s == StateConsumed || s == StateTombstone
}

// Contents is a register's payload with its kind tag.
type Contents struct {
	Kind string
	Data []byte
}

// EncodeTo implements codec.Marshaler.
func (c Contents) EncodeTo(e *codec.Encoder) {
	e.WriteString(c.Kind)
	e.WriteBytes(c.Data)
}

// DecodeFrom implements codec.Unmarshaler.
func (c *Contents) DecodeFrom(d *codec.Decoder) error {
	var err error
	if c.Kind, err = d.ReadString(); err != nil {
		return err
	}
	c.Data, err = d.ReadBytes()
	return err
}

// Register is a unit of owned state.
type Register struct {
	ID         ids.RegisterID
	Owner      Address
	Domain     ids.DomainID
	Contents   Contents
	State      State
	Epoch      uint64
	TxID       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	History    []ids.OperationID
	Successors []ids.RegisterID
}

// RegisterIDFor derives the id of a register from its initial contents,
// owner, and home domain.
func RegisterIDFor(owner Address, domain ids.DomainID, contents Contents) ids.RegisterID {
	return ids.FromContent[ids.RegisterKind](codec.DomainRegister, codec.Func(func(e *codec.Encoder) {
		e.Write(contents)
		e.WriteString(string(owner))
		e.Write(domain)
	}))
}

// Head returns the id of the last operation applied to r, or the zero id
// when r has no history.
func (r *Register) Head() ids.OperationID {
	if len(r.History) == 0 {
		return ids.OperationID{}
	}
	return r.History[len(r.History)-1]
}

// Clone returns a deep copy.
func (r *Register) Clone() *Register {
	cp := *r
	cp.Contents.Data = append([]byte(nil), r.Contents.Data...)
	cp.History = append([]ids.OperationID(nil), r.History...)
	cp.Successors = append([]ids.RegisterID(nil), r.Successors...)
	return &cp
}

// EncodeTo implements codec.Marshaler.
func (r *Register) EncodeTo(e *codec.Encoder) {
	e.Write(r.ID)
	e.WriteString(string(r.Owner))
	e.Write(r.Domain)
	e.Write(r.Contents)
	e.WriteVariant(uint8(r.State))
	e.WriteU64(r.Epoch)
	e.WriteString(r.TxID)
	e.WriteI64(r.CreatedAt.UnixMilli())
	e.WriteI64(r.UpdatedAt.UnixMilli())
	e.WriteLen(len(r.History))
	for _, h := range r.History {
		e.Write(h)
	}
	e.WriteLen(len(r.Successors))
	for _, s := range r.Successors {
		e.Write(s)
	}
}

// DecodeFrom implements codec.Unmarshaler.
func (r *Register) DecodeFrom(d *codec.Decoder) error {
	if err := d.Read(&r.ID); err != nil {
		return codec.Errorf("register", err)
	}
	owner, err := d.ReadString()
	if err != nil {
		return codec.Errorf("register", err)
	}
	r.Owner = Address(owner)
	if err := d.Read(&r.Domain); err != nil {
		return codec.Errorf("register", err)
	}
	if err := d.Read(&r.Contents); err != nil {
		return codec.Errorf("register", err)
	}
	st, err := d.ReadVariant(uint8(numStates))
	if err != nil {
		return codec.Errorf("register", err)
	}
	r.State = State(st)
	if r.Epoch, err = d.ReadU64(); err != nil {
		return codec.Errorf("register", err)
	}
	if r.TxID, err = d.ReadString(); err != nil {
		return codec.Errorf("register", err)
	}
	created, err := d.ReadI64()
	if err != nil {
		return codec.Errorf("register", err)
	}
	updated, err := d.ReadI64()
	if err != nil {
		return codec.Errorf("register", err)
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.UpdatedAt = time.UnixMilli(updated).UTC()

	n, err := d.ReadLen(ids.Size)
	if err != nil {
		return codec.Errorf("register", err)
	}
	r.History = make([]ids.OperationID, n)
	for i := range r.History {
		if err := d.Read(&r.History[i]); err != nil {
			return codec.Errorf("register", err)
		}
	}
	if n, err = d.ReadLen(ids.Size); err != nil {
		return codec.Errorf("register", err)
	}
	r.Successors = make([]ids.RegisterID, n)
	for i := range r.Successors {
		if err := d.Read(&r.Successors[i]); err != nil {
			return codec.Errorf("register", err)
		}
	}
	return nil
}
