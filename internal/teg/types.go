package teg

import (
	"slices"
	"time"

	"github.com/timewave-computer/causality-sub006/internal/codec"
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

// Standard effect types. Any other string is a custom type.
const (
	EffectRead     = "read"
	EffectWrite    = "write"
	EffectCreate   = "create"
	EffectDelete   = "delete"
	EffectTransfer = "transfer"
	EffectCall     = "call"
)

// AccessMode is how an effect touches a resource.
type AccessMode uint8

const (
	AccessRead AccessMode = iota
	AccessWrite
	AccessCreate
	AccessDelete
	numAccessModes
)

var accessModeNames = [...]string{"read", "write", "create", "delete"}

func (m AccessMode) String() string {
	if m < numAccessModes {
		return accessModeNames[m]
	}
	return "unknown"
}

// EffectNode is an action with typed parameters and a declared access set.
//
// ID is the content hash of every other field at the time the node was
// first added. It is a stable handle: UpdateEffect changes content in place.
type EffectNode struct {
	ID         ids.EffectID
	Name       string
	EffectType string
	Domain     ids.DomainID
	Parameters value.Object

	// Accesses maps each accessed resource to its access mode.
	Accesses map[ids.ResourceID]AccessMode

	// Capability is an explicit capability name, or empty.
	Capability string

	// RequiredCapabilities is derived by Build and Commit from EffectType,
	// the accessed resource types, and Capability.
	RequiredCapabilities []string

	// ReturnType is an optional type annotation.
	ReturnType string
	Metadata   map[string]string
}

// ResourcesAccessed returns the accessed resource ids in byte order.
func (e *EffectNode) ResourcesAccessed() []ids.ResourceID {
	return ids.SortedKeys(e.Accesses)
}

// Clone returns a deep copy.
func (e *EffectNode) Clone() *EffectNode {
	cp := *e
	if e.Parameters != nil {
		cp.Parameters = value.Clone(e.Parameters).(value.Object)
	}
	cp.Accesses = cloneMap(e.Accesses)
	cp.RequiredCapabilities = slices.Clone(e.RequiredCapabilities)
	cp.Metadata = cloneMap(e.Metadata)
	return &cp
}

func (e *EffectNode) encodeContent(enc *codec.Encoder) {
	enc.WriteString(e.Name)
	enc.WriteString(e.EffectType)
	enc.Write(e.Domain)
	value.Write(enc, orEmpty(e.Parameters))
	keys := e.ResourcesAccessed()
	enc.WriteLen(len(keys))
	for _, k := range keys {
		enc.Write(k)
		enc.WriteVariant(uint8(e.Accesses[k]))
	}
	enc.WriteString(e.Capability)
	enc.WriteOption(e.ReturnType != "")
	if e.ReturnType != "" {
		enc.WriteString(e.ReturnType)
	}
	enc.WriteMap(e.Metadata)
}

// contentID derives the node id from its current content. Derived
// RequiredCapabilities are not part of the identity.
func (e *EffectNode) contentID() ids.EffectID {
	return ids.FromContent[ids.EffectKind](codec.DomainEffect, codec.Func(e.encodeContent))
}

// EncodeTo implements codec.Marshaler.
func (e *EffectNode) EncodeTo(enc *codec.Encoder) {
	enc.Write(e.ID)
	e.encodeContent(enc)
	enc.WriteStrings(e.RequiredCapabilities)
}

// DecodeFrom implements codec.Unmarshaler.
func (e *EffectNode) DecodeFrom(d *codec.Decoder) error {
	var err error
	if err = d.Read(&e.ID); err != nil {
		return codec.Errorf("effect", err)
	}
	if e.Name, err = d.ReadString(); err != nil {
		return codec.Errorf("effect", err)
	}
	if e.EffectType, err = d.ReadString(); err != nil {
		return codec.Errorf("effect", err)
	}
	if err = d.Read(&e.Domain); err != nil {
		return codec.Errorf("effect", err)
	}
	if e.Parameters, err = readObject(d); err != nil {
		return codec.Errorf("effect", err)
	}
	n, err := d.ReadLen(ids.Size + 1)
	if err != nil {
		return codec.Errorf("effect", err)
	}
	e.Accesses = make(map[ids.ResourceID]AccessMode, n)
	for i := 0; i < n; i++ {
		var r ids.ResourceID
		if err := d.Read(&r); err != nil {
			return codec.Errorf("effect", err)
		}
		m, err := d.ReadVariant(uint8(numAccessModes))
		if err != nil {
			return codec.Errorf("effect", err)
		}
		e.Accesses[r] = AccessMode(m)
	}
	if e.Capability, err = d.ReadString(); err != nil {
		return codec.Errorf("effect", err)
	}
	present, err := d.ReadOption()
	if err != nil {
		return codec.Errorf("effect", err)
	}
	if present {
		if e.ReturnType, err = d.ReadString(); err != nil {
			return codec.Errorf("effect", err)
		}
	}
	if e.Metadata, err = readMetadata(d); err != nil {
		return codec.Errorf("effect", err)
	}
	if e.RequiredCapabilities, err = d.ReadStrings(); err != nil {
		return codec.Errorf("effect", err)
	}
	return nil
}

// ResourceNode is a typed piece of state living in one domain.
type ResourceNode struct {
	ID           ids.ResourceID
	Name         string
	ResourceType string
	Domain       ids.DomainID
	State        value.Value
	Metadata     map[string]string
}

// Clone returns a deep copy.
func (r *ResourceNode) Clone() *ResourceNode {
	cp := *r
	if r.State != nil {
		cp.State = value.Clone(r.State)
	}
	cp.Metadata = cloneMap(r.Metadata)
	return &cp
}

func (r *ResourceNode) encodeContent(enc *codec.Encoder) {
	enc.WriteString(r.Name)
	enc.WriteString(r.ResourceType)
	enc.Write(r.Domain)
	value.Write(enc, r.State)
	enc.WriteMap(r.Metadata)
}

func (r *ResourceNode) contentID() ids.ResourceID {
	return ids.FromContent[ids.ResourceKind](codec.DomainResource, codec.Func(r.encodeContent))
}

// EncodeTo implements codec.Marshaler.
func (r *ResourceNode) EncodeTo(enc *codec.Encoder) {
	enc.Write(r.ID)
	r.encodeContent(enc)
}

// DecodeFrom implements codec.Unmarshaler.
func (r *ResourceNode) DecodeFrom(d *codec.Decoder) error {
	var err error
	if err = d.Read(&r.ID); err != nil {
		return codec.Errorf("resource", err)
	}
	if r.Name, err = d.ReadString(); err != nil {
		return codec.Errorf("resource", err)
	}
	if r.ResourceType, err = d.ReadString(); err != nil {
		return codec.Errorf("resource", err)
	}
	if err = d.Read(&r.Domain); err != nil {
		return codec.Errorf("resource", err)
	}
	if r.State, err = value.Read(d); err != nil {
		return codec.Errorf("resource", err)
	}
	if r.Metadata, err = readMetadata(d); err != nil {
		return codec.Errorf("resource", err)
	}
	return nil
}

// Edge connects two effects. For a dependency, To cannot execute until
// From has executed successfully. For a continuation, To becomes eligible
// when From completes and the edge condition holds.
type Edge struct {
	From ids.EffectID
	To   ids.EffectID
}

func compareEdges(a, b Edge) int {
	if c := a.From.Compare(b.From); c != 0 {
		return c
	}
	return a.To.Compare(b.To)
}

// EncodeTo implements codec.Marshaler.
func (e Edge) EncodeTo(enc *codec.Encoder) {
	enc.Write(e.From)
	enc.Write(e.To)
}

// DecodeFrom implements codec.Unmarshaler.
func (e *Edge) DecodeFrom(d *codec.Decoder) error {
	if err := d.Read(&e.From); err != nil {
		return err
	}
	return d.Read(&e.To)
}

// ResourceRelationship is a typed link between two resources.
type ResourceRelationship struct {
	From ids.ResourceID
	To   ids.ResourceID
	Kind string
}

func compareRelationships(a, b ResourceRelationship) int {
	if c := a.From.Compare(b.From); c != 0 {
		return c
	}
	if c := a.To.Compare(b.To); c != 0 {
		return c
	}
	return compareStrings(a.Kind, b.Kind)
}

// ConstraintKind is the relation a temporal constraint imposes.
type ConstraintKind uint8

const (
	// Before requires Source to complete before Target starts.
	Before ConstraintKind = iota
	// After requires Source to start after Target completes.
	After
	// Within requires Target to start between Min and Max after Source.
	Within
	numConstraintKinds
)

var constraintKindNames = [...]string{"before", "after", "within"}

func (k ConstraintKind) String() string {
	if k < numConstraintKinds {
		return constraintKindNames[k]
	}
	return "unknown"
}

// TemporalConstraint orders two effects in time.
type TemporalConstraint struct {
	Source ids.EffectID
	Target ids.EffectID
	Kind   ConstraintKind
	Min    time.Duration
	Max    time.Duration
}

func (c TemporalConstraint) encode(e *codec.Encoder) {
	e.Write(c.Source)
	e.Write(c.Target)
	e.WriteVariant(uint8(c.Kind))
	e.WriteI64(int64(c.Min))
	e.WriteI64(int64(c.Max))
}

func compareConstraints(a, b TemporalConstraint) int {
	if c := a.Source.Compare(b.Source); c != 0 {
		return c
	}
	if c := a.Target.Compare(b.Target); c != 0 {
		return c
	}
	switch {
	case a.Kind != b.Kind:
		return int(a.Kind) - int(b.Kind)
	case a.Min != b.Min:
		return cmpDuration(a.Min, b.Min)
	default:
		return cmpDuration(a.Max, b.Max)
	}
}

func cmpDuration(a, b time.Duration) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func orEmpty(o value.Object) value.Object {
	if o == nil {
		return value.Object{}
	}
	return o
}

func readObject(d *codec.Decoder) (value.Object, error) {
	v, err := value.Read(d)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(value.Object)
	if !ok {
		return nil, codec.Errorf("parameters", errNotObject)
	}
	if len(obj) == 0 {
		return nil, nil
	}
	return obj, nil
}

// readMetadata reads a map written by WriteMap. An empty map decodes as nil.
func readMetadata(d *codec.Decoder) (map[string]string, error) {
	m, err := d.ReadMap()
	if err != nil || len(m) == 0 {
		return nil, err
	}
	return m, nil
}
