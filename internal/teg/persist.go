package teg

import (
	"context"
	"log/slog"

	"github.com/timewave-computer/causality-sub006/internal/codec"
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/smt"
)

// Persist writes every effect, resource, and temporal constraint of g to
// s under its domain-namespaced key in one BatchStore pass and returns the
// keys written. Constraints are stored under the source effect's domain.
func Persist(ctx context.Context, s *smt.Store, g *Graph) ([]string, error) {
	ops := make([]smt.Op, 0, len(g.Effects)+len(g.Resources)+len(g.TemporalConstraints))
	for _, id := range g.EffectIDs() {
		e := g.Effects[id]
		ops = append(ops, smt.Op{Key: ids.EffectKey(e.Domain, id), Value: codec.Marshal(e)})
	}
	for _, id := range g.ResourceIDs() {
		r := g.Resources[id]
		ops = append(ops, smt.Op{Key: ids.ResourceNodeKey(r.Domain, id), Value: codec.Marshal(r)})
	}
	for _, c := range sortedSet(g.TemporalConstraints, compareConstraints) {
		src, ok := g.Effects[c.Source]
		if !ok {
			continue
		}
		ops = append(ops, smt.Op{
			Key:   ids.TemporalKey(src.Domain, c.Source, c.Target, c.Kind.String()),
			Value: codec.Marshal(codec.Func(c.encode)),
		})
	}
	keys, err := s.BatchStore(ctx, ops)
	if err != nil {
		return keys, err
	}
	slog.Debug("teg persisted", "keys", len(keys), "root", s.StateRoot().Hex())
	return keys, nil
}

// LoadEffect reads an effect written by Persist.
func LoadEffect(s *smt.Store, domain ids.DomainID, id ids.EffectID) (*EffectNode, error) {
	data, err := s.Get(ids.EffectKey(domain, id))
	if err != nil {
		return nil, err
	}
	e := &EffectNode{}
	if err := codec.Unmarshal(data, e); err != nil {
		return nil, err
	}
	return e, nil
}

// LoadResource reads a resource written by Persist.
func LoadResource(s *smt.Store, domain ids.DomainID, id ids.ResourceID) (*ResourceNode, error) {
	data, err := s.Get(ids.ResourceNodeKey(domain, id))
	if err != nil {
		return nil, err
	}
	r := &ResourceNode{}
	if err := codec.Unmarshal(data, r); err != nil {
		return nil, err
	}
	return r, nil
}
