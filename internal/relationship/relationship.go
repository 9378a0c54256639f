package relationship

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/timewave-computer/causality-sub006/internal/codec"
	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// Kind names how a target resource relates to its source.
type Kind string

const (
	Mirror    Kind = "mirror"
	Reference Kind = "reference"
	Ownership Kind = "ownership"
	Derived   Kind = "derived"
	Bridge    Kind = "bridge"
)

const customPrefix = "custom:"

// Custom returns the user-defined kind name.
func Custom(name string) Kind {
	return Kind(customPrefix + name)
}

// IsCustom reports whether k was built by Custom.
func (k Kind) IsCustom() bool {
	return strings.HasPrefix(string(k), customPrefix)
}

// CustomName returns the name inside a custom kind, or "".
func (k Kind) CustomName() string {
	return strings.TrimPrefix(string(k), customPrefix)
}

// Known reports whether k is a builtin kind or a custom kind.
func (k Kind) Known() bool {
	switch k {
	case Mirror, Reference, Ownership, Derived, Bridge:
		return true
	}
	return k.IsCustom()
}

func (k Kind) String() string { return string(k) }

// ParseKind accepts the builtin names and "custom:<name>".
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k.IsCustom() {
		// Preserve the custom name's case.
		return Custom(strings.TrimSpace(s)[len(customPrefix):]), nil
	}
	if !k.Known() {
		return "", errs.New(errs.InvalidArgument, "relationship.parse_kind", "unknown relationship kind %q", s)
	}
	return k, nil
}

// Mode is the scheduling policy of a SyncStrategy.
type Mode uint8

const (
	OneTime Mode = iota
	Periodic
	EventDriven
	Hybrid
)

var modeNames = [...]string{"one_time", "periodic", "event_driven", "hybrid"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// ParseMode accepts the names produced by Mode.String.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return 0, errs.New(errs.InvalidArgument, "relationship.parse_mode", "unknown sync strategy %q", s)
}

// SyncStrategy controls when a relationship is reconciled. Interval is
// the period for Periodic and the fallback for Hybrid.
type SyncStrategy struct {
	Mode     Mode
	Interval time.Duration
}

func OneTimeSync() SyncStrategy { return SyncStrategy{Mode: OneTime} }

func PeriodicSync(d time.Duration) SyncStrategy {
	return SyncStrategy{Mode: Periodic, Interval: d}
}

func EventDrivenSync() SyncStrategy { return SyncStrategy{Mode: EventDriven} }

func HybridSync(fallback time.Duration) SyncStrategy {
	return SyncStrategy{Mode: Hybrid, Interval: fallback}
}

func (s SyncStrategy) String() string {
	switch s.Mode {
	case Periodic, Hybrid:
		return fmt.Sprintf("%s(%s)", s.Mode, s.Interval)
	default:
		return s.Mode.String()
	}
}

// Metadata carries the sync policy and free-form annotations.
type Metadata struct {
	RequiresSync bool
	Strategy     SyncStrategy
	OriginDomain ids.DomainID
	TargetDomain ids.DomainID
	Extra        map[string]string
}

// Relationship links a resource in one domain to a resource in another.
type Relationship struct {
	ID             ids.RelationshipID
	SourceResource ids.ResourceID
	SourceDomain   ids.DomainID
	TargetResource ids.ResourceID
	TargetDomain   ids.DomainID
	Kind           Kind
	Bidirectional  bool
	Metadata       Metadata
}

// Option configures a Relationship built by New.
type Option func(*Relationship)

// WithSync marks the relationship as requiring sync under strategy.
func WithSync(strategy SyncStrategy) Option {
	return func(r *Relationship) {
		r.Metadata.RequiresSync = true
		r.Metadata.Strategy = strategy
	}
}

// WithStrategy sets the strategy without toggling RequiresSync.
func WithStrategy(strategy SyncStrategy) Option {
	return func(r *Relationship) { r.Metadata.Strategy = strategy }
}

// WithBidirectional marks the relationship as two-way.
func WithBidirectional() Option {
	return func(r *Relationship) { r.Bidirectional = true }
}

// WithExtra attaches an annotation.
func WithExtra(key, val string) Option {
	return func(r *Relationship) {
		if r.Metadata.Extra == nil {
			r.Metadata.Extra = make(map[string]string)
		}
		r.Metadata.Extra[key] = val
	}
}

// New builds a relationship and assigns its content ID. The origin and
// target domains of the metadata default to the endpoints.
func New(srcDomain ids.DomainID, srcResource ids.ResourceID, tgtDomain ids.DomainID, tgtResource ids.ResourceID, kind Kind, opts ...Option) *Relationship {
	r := &Relationship{
		SourceResource: srcResource,
		SourceDomain:   srcDomain,
		TargetResource: tgtResource,
		TargetDomain:   tgtDomain,
		Kind:           kind,
		Metadata: Metadata{
			OriginDomain: srcDomain,
			TargetDomain: tgtDomain,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ID = r.ComputeID()
	return r
}

// ComputeID hashes the identity tuple: both endpoints and the kind.
func (r *Relationship) ComputeID() ids.RelationshipID {
	return ids.FromContent[ids.RelationshipKind](codec.DomainRelationship, codec.Func(func(e *codec.Encoder) {
		e.Write(r.SourceResource)
		e.Write(r.SourceDomain)
		e.Write(r.TargetResource)
		e.Write(r.TargetDomain)
		e.WriteString(string(r.Kind))
	}))
}

// Clone returns a deep copy.
func (r *Relationship) Clone() *Relationship {
	out := *r
	out.Metadata.Extra = maps.Clone(r.Metadata.Extra)
	return &out
}

func (r *Relationship) String() string {
	return fmt.Sprintf("%s %s/%s -> %s/%s (%s)", r.Kind,
		r.SourceDomain.Short(), r.SourceResource.Short(),
		r.TargetDomain.Short(), r.TargetResource.Short(), r.ID.Short())
}

// EncodeTo implements codec.Marshaler.
func (r *Relationship) EncodeTo(e *codec.Encoder) {
	e.Write(r.ID)
	e.Write(r.SourceResource)
	e.Write(r.SourceDomain)
	e.Write(r.TargetResource)
	e.Write(r.TargetDomain)
	e.WriteString(string(r.Kind))
	e.WriteBool(r.Bidirectional)
	e.WriteBool(r.Metadata.RequiresSync)
	e.WriteVariant(uint8(r.Metadata.Strategy.Mode))
	e.WriteI64(int64(r.Metadata.Strategy.Interval))
	e.Write(r.Metadata.OriginDomain)
	e.Write(r.Metadata.TargetDomain)
	e.WriteMap(r.Metadata.Extra)
}

// DecodeFrom implements codec.Unmarshaler.
func (r *Relationship) DecodeFrom(d *codec.Decoder) error {
	*r = Relationship{}
	for _, id := range []codec.Unmarshaler{&r.ID, &r.SourceResource, &r.SourceDomain, &r.TargetResource, &r.TargetDomain} {
		if err := d.Read(id); err != nil {
			return codec.Errorf("relationship", err)
		}
	}
	kind, err := d.ReadString()
	if err != nil {
		return codec.Errorf("relationship", err)
	}
	r.Kind = Kind(kind)
	if r.Bidirectional, err = d.ReadBool(); err != nil {
		return codec.Errorf("relationship", err)
	}
	if r.Metadata.RequiresSync, err = d.ReadBool(); err != nil {
		return codec.Errorf("relationship", err)
	}
	mode, err := d.ReadVariant(uint8(Hybrid) + 1)
	if err != nil {
		return codec.Errorf("relationship", err)
	}
	r.Metadata.Strategy.Mode = Mode(mode)
	interval, err := d.ReadI64()
	if err != nil {
		return codec.Errorf("relationship", err)
	}
	r.Metadata.Strategy.Interval = time.Duration(interval)
	if err := d.Read(&r.Metadata.OriginDomain); err != nil {
		return codec.Errorf("relationship", err)
	}
	if err := d.Read(&r.Metadata.TargetDomain); err != nil {
		return codec.Errorf("relationship", err)
	}
	extra, err := d.ReadMap()
	if err != nil {
		return codec.Errorf("relationship", err)
	}
	if len(extra) > 0 {
		r.Metadata.Extra = extra
	}
	return nil
}
