package relationship

import (
	"context"
	"slices"

	"github.com/timewave-computer/causality-sub006/internal/clock"
	"github.com/timewave-computer/causality-sub006/internal/codec"
	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/smt"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

// ResourceState is the synchronized view of a resource inside one domain.
type ResourceState struct {
	Data    value.Value
	Version uint64
	Time    clock.TimeMap
}

// EncodeTo implements codec.Marshaler.
func (s ResourceState) EncodeTo(e *codec.Encoder) {
	value.Write(e, s.Data)
	e.WriteU64(s.Version)
	e.Write(s.Time)
}

// DecodeFrom implements codec.Unmarshaler.
func (s *ResourceState) DecodeFrom(d *codec.Decoder) error {
	data, err := value.Read(d)
	if err != nil {
		return codec.Errorf("resource state", err)
	}
	s.Data = data
	if s.Version, err = d.ReadU64(); err != nil {
		return codec.Errorf("resource state", err)
	}
	return codec.Errorf("resource state", d.Read(&s.Time))
}

// Grant gives a resource in another domain authority over the guarded one.
type Grant struct {
	Domain   ids.DomainID
	Resource ids.ResourceID
	Mode     string
}

func (g Grant) key() []byte {
	e := codec.NewEncoder()
	e.Write(g.Domain)
	e.Write(g.Resource)
	e.WriteString(g.Mode)
	return e.Bytes()
}

// AccessControl lists the grants on one resource, sorted by
// (domain, resource, mode).
type AccessControl struct {
	Grants []Grant
}

// Has reports whether g is present.
func (a AccessControl) Has(g Grant) bool {
	return slices.Contains(a.Grants, g)
}

func (a *AccessControl) add(g Grant) bool {
	if a.Has(g) {
		return false
	}
	a.Grants = append(a.Grants, g)
	slices.SortFunc(a.Grants, func(x, y Grant) int {
		return slices.Compare(x.key(), y.key())
	})
	return true
}

// EncodeTo implements codec.Marshaler.
func (a AccessControl) EncodeTo(e *codec.Encoder) {
	e.WriteLen(len(a.Grants))
	for _, g := range a.Grants {
		e.Write(g.Domain)
		e.Write(g.Resource)
		e.WriteString(g.Mode)
	}
}

// DecodeFrom implements codec.Unmarshaler.
func (a *AccessControl) DecodeFrom(d *codec.Decoder) error {
	n, err := d.ReadLen(2*ids.Size + 8)
	if err != nil {
		return codec.Errorf("access control", err)
	}
	a.Grants = make([]Grant, n)
	for i := range a.Grants {
		g := &a.Grants[i]
		if err := d.Read(&g.Domain); err != nil {
			return codec.Errorf("access control", err)
		}
		if err := d.Read(&g.Resource); err != nil {
			return codec.Errorf("access control", err)
		}
		if g.Mode, err = d.ReadString(); err != nil {
			return codec.Errorf("access control", err)
		}
	}
	return nil
}

// ResourceStore keeps resource states and access grants in the SMT under
// each domain's namespace.
type ResourceStore struct {
	tree *smt.Store
}

// NewResourceStore wraps tree.
func NewResourceStore(tree *smt.Store) *ResourceStore {
	return &ResourceStore{tree: tree}
}

// Tree returns the backing store.
func (s *ResourceStore) Tree() *smt.Store {
	return s.tree
}

// State returns the state of id in domain. ok is false when nothing is
// stored.
func (s *ResourceStore) State(domain ids.DomainID, id ids.ResourceID) (st ResourceState, ok bool, err error) {
	ok, err = s.load(ids.ResourceStateKey(domain, id), &st)
	return st, ok, err
}

// PutState stores st for id in domain. Like every write here it fails with
// Timeout once ctx is done.
func (s *ResourceStore) PutState(ctx context.Context, domain ids.DomainID, id ids.ResourceID, st ResourceState) error {
	return s.tree.Put(ctx, ids.ResourceStateKey(domain, id), codec.Marshal(st))
}

// Write records a local update: data replaces the state, the version
// increases by one, and domain's clock ticks with wall time ts (Unix ms).
func (s *ResourceStore) Write(ctx context.Context, domain ids.DomainID, id ids.ResourceID, data value.Value, ts uint64) (ResourceState, error) {
	cur, _, err := s.State(domain, id)
	if err != nil {
		return ResourceState{}, err
	}
	next := ResourceState{
		Data:    value.Clone(data),
		Version: cur.Version + 1,
		Time:    cur.Time.Clone(),
	}
	next.Time.Tick(domain, ts)
	if err := s.PutState(ctx, domain, id, next); err != nil {
		return ResourceState{}, err
	}
	return next, nil
}

// Access returns the grants on id in domain.
func (s *ResourceStore) Access(domain ids.DomainID, id ids.ResourceID) (AccessControl, error) {
	var ac AccessControl
	_, err := s.load(ids.AccessKey(domain, id), &ac)
	return ac, err
}

// Grant adds g to the access list of id in domain. It reports whether the
// list changed; an existing grant is left alone.
func (s *ResourceStore) Grant(ctx context.Context, domain ids.DomainID, id ids.ResourceID, g Grant) (bool, error) {
	ac, err := s.Access(domain, id)
	if err != nil {
		return false, err
	}
	if !ac.add(g) {
		return false, nil
	}
	if err := s.tree.Put(ctx, ids.AccessKey(domain, id), codec.Marshal(ac)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ResourceStore) load(key string, into codec.Unmarshaler) (bool, error) {
	data, err := s.tree.Get(key)
	if errs.Is(err, errs.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := codec.Unmarshal(data, into); err != nil {
		return false, err
	}
	return true, nil
}
