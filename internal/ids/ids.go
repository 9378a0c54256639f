// Package ids provides the typed 32-byte content-hash identifiers and the
// namespaced key strings built from them.
//
// Every identifier kind is an instantiation of ID with a distinct phantom
// kind parameter, so a ResourceID cannot be passed where an EffectID is
// expected while all kinds share one implementation.
package ids

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/timewave-computer/causality-sub006/internal/codec"
	"github.com/timewave-computer/causality-sub006/internal/errs"
)

// Size is the byte length of every identifier.
const Size = 32

// Kind is the sealed set of identifier kinds.
type Kind interface {
	kindName() string
}

// Kind markers. They carry no data and exist only as type parameters.
type (
	DomainKind       struct{}
	ResourceKind     struct{}
	EffectKind       struct{}
	HandlerKind      struct{}
	IntentKind       struct{}
	ExprKind         struct{}
	EntityKind       struct{}
	RegisterKind     struct{}
	RelationshipKind struct{}
	OperationKind    struct{}
	ConstraintKind   struct{}
	TransactionKind  struct{}
	NullifierKind    struct{}
)

func (DomainKind) kindName() string       { return "domain" }
func (ResourceKind) kindName() string     { return "resource" }
func (EffectKind) kindName() string       { return "effect" }
func (HandlerKind) kindName() string      { return "handler" }
func (IntentKind) kindName() string       { return "intent" }
func (ExprKind) kindName() string         { return "expr" }
func (EntityKind) kindName() string       { return "entity" }
func (RegisterKind) kindName() string     { return "register" }
func (RelationshipKind) kindName() string { return "relationship" }
func (OperationKind) kindName() string    { return "operation" }
func (ConstraintKind) kindName() string   { return "constraint" }
func (TransactionKind) kindName() string  { return "transaction" }
func (NullifierKind) kindName() string    { return "nullifier" }

// ID is a 32-byte content hash tagged with its kind.
type ID[K Kind] [Size]byte

type (
	DomainID       = ID[DomainKind]
	ResourceID     = ID[ResourceKind]
	EffectID       = ID[EffectKind]
	HandlerID      = ID[HandlerKind]
	IntentID       = ID[IntentKind]
	ExprID         = ID[ExprKind]
	EntityID       = ID[EntityKind]
	RegisterID     = ID[RegisterKind]
	RelationshipID = ID[RelationshipKind]
	OperationID    = ID[OperationKind]
	ConstraintID   = ID[ConstraintKind]
	TransactionID  = ID[TransactionKind]
	Nullifier      = ID[NullifierKind]
)

// KindName returns the lowercase name of the identifier kind.
func (id ID[K]) KindName() string {
	var k K
	return k.kindName()
}

// Hex returns the full lowercase hex encoding.
func (id ID[K]) Hex() string {
	return hex.EncodeToString(id[:])
}

// String returns the full hex encoding.
func (id ID[K]) String() string {
	return id.Hex()
}

// Short returns the hex encoding of the first 8 bytes, for logs.
func (id ID[K]) Short() string {
	return hex.EncodeToString(id[:8])
}

// Bytes returns a copy of the raw bytes.
func (id ID[K]) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// IsZero reports whether the identifier is unset.
func (id ID[K]) IsZero() bool {
	return id == ID[K]{}
}

// Compare orders identifiers by byte comparison.
func (id ID[K]) Compare(other ID[K]) int {
	return bytes.Compare(id[:], other[:])
}

// EncodeTo implements codec.Marshaler (fixed 32 bytes, no length prefix).
func (id ID[K]) EncodeTo(e *codec.Encoder) {
	e.WriteFixed(id[:])
}

// DecodeFrom implements codec.Unmarshaler.
func (id *ID[K]) DecodeFrom(d *codec.Decoder) error {
	b, err := d.ReadFixed(Size)
	if err != nil {
		return err
	}
	copy(id[:], b)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (id ID[K]) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID[K]) UnmarshalText(text []byte) error {
	parsed, err := Parse[K](string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse decodes a 64-character hex identifier.
func Parse[K Kind](s string) (ID[K], error) {
	var id ID[K]
	if len(s) != Size*2 {
		return id, errs.New(errs.InvalidArgument, "ids.parse", "%s id must be %d hex characters, got %d", id.KindName(), Size*2, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, errs.Wrap(errs.InvalidArgument, "ids.parse", err, fmt.Sprintf("invalid %s id", id.KindName()))
	}
	return id, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParse[K Kind](s string) ID[K] {
	id, err := Parse[K](s)
	if err != nil {
		panic(err)
	}
	return id
}

// FromBytes copies a 32-byte slice into an identifier.
func FromBytes[K Kind](b []byte) (ID[K], error) {
	var id ID[K]
	if len(b) != Size {
		return id, errs.New(errs.InvalidArgument, "ids.from_bytes", "%s id must be %d bytes, got %d", id.KindName(), Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Derive hashes raw data under a hash domain.
func Derive[K Kind](domain string, data []byte) ID[K] {
	return ID[K](codec.HashWithDomain(domain, data))
}

// FromContent hashes the content view of v under a hash domain.
func FromContent[K Kind](domain string, v codec.Marshaler) ID[K] {
	return ID[K](codec.ContentHash(domain, v))
}

// DomainFromName derives the DomainID for a human-readable domain name.
func DomainFromName(name string) DomainID {
	return FromContent[DomainKind](codec.DomainDomain, codec.Func(func(e *codec.Encoder) {
		e.WriteString(name)
	}))
}

// ResourceFromName derives a ResourceID from a name scoped to a domain.
func ResourceFromName(domain DomainID, name string) ResourceID {
	return FromContent[ResourceKind](codec.DomainResource, codec.Func(func(e *codec.Encoder) {
		e.Write(domain)
		e.WriteString(name)
	}))
}

// Sort orders a slice of identifiers in place by byte comparison.
func Sort[K Kind](list []ID[K]) {
	slices.SortFunc(list, func(a, b ID[K]) int { return a.Compare(b) })
}

// SortedKeys returns the identifier keys of m in byte order.
func SortedKeys[K Kind, V any](m map[ID[K]]V) []ID[K] {
	keys := make([]ID[K], 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	Sort(keys)
	return keys
}
