package smt

import (
	"context"

	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// PutNode stores a TEG node of any kind under its namespaced key and
// returns the key.
func PutNode[K ids.Kind](ctx context.Context, s *Store, domain ids.DomainID, nodeKind string, id ids.ID[K], data []byte) (string, error) {
	key := ids.TEGKey(domain, nodeKind, id)
	if err := s.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// GetNode reads a TEG node stored with PutNode.
func GetNode[K ids.Kind](s *Store, domain ids.DomainID, nodeKind string, id ids.ID[K]) ([]byte, error) {
	return s.Get(ids.TEGKey(domain, nodeKind, id))
}

// StoreEffect stores an effect node.
func (s *Store) StoreEffect(ctx context.Context, domain ids.DomainID, id ids.EffectID, data []byte) error {
	_, err := PutNode(ctx, s, domain, ids.NodeEffect, id, data)
	return err
}

// GetEffect reads an effect node.
func (s *Store) GetEffect(domain ids.DomainID, id ids.EffectID) ([]byte, error) {
	return GetNode(s, domain, ids.NodeEffect, id)
}

// StoreResourceNode stores a resource node.
func (s *Store) StoreResourceNode(ctx context.Context, domain ids.DomainID, id ids.ResourceID, data []byte) error {
	_, err := PutNode(ctx, s, domain, ids.NodeResource, id, data)
	return err
}

// GetResourceNode reads a resource node.
func (s *Store) GetResourceNode(domain ids.DomainID, id ids.ResourceID) ([]byte, error) {
	return GetNode(s, domain, ids.NodeResource, id)
}

// StoreIntent stores an intent node.
func (s *Store) StoreIntent(ctx context.Context, domain ids.DomainID, id ids.IntentID, data []byte) error {
	_, err := PutNode(ctx, s, domain, ids.NodeIntent, id, data)
	return err
}

// GetIntent reads an intent node.
func (s *Store) GetIntent(domain ids.DomainID, id ids.IntentID) ([]byte, error) {
	return GetNode(s, domain, ids.NodeIntent, id)
}

// StoreHandler stores a handler node.
func (s *Store) StoreHandler(ctx context.Context, domain ids.DomainID, id ids.HandlerID, data []byte) error {
	_, err := PutNode(ctx, s, domain, ids.NodeHandler, id, data)
	return err
}

// GetHandler reads a handler node.
func (s *Store) GetHandler(domain ids.DomainID, id ids.HandlerID) ([]byte, error) {
	return GetNode(s, domain, ids.NodeHandler, id)
}

// StoreConstraint stores a constraint node.
func (s *Store) StoreConstraint(ctx context.Context, domain ids.DomainID, id ids.ConstraintID, data []byte) error {
	_, err := PutNode(ctx, s, domain, ids.NodeConstraint, id, data)
	return err
}

// GetConstraint reads a constraint node.
func (s *Store) GetConstraint(domain ids.DomainID, id ids.ConstraintID) ([]byte, error) {
	return GetNode(s, domain, ids.NodeConstraint, id)
}

// CreateCrossDomainReference records, in the source domain's namespace, a
// reference to a resource living in target. Returns the key written.
func (s *Store) CreateCrossDomainReference(ctx context.Context, source, target ids.DomainID, targetResource ids.ResourceID, data []byte) (string, error) {
	key := ids.CrossDomainRefKey(source, target, targetResource)
	if err := s.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// GetCrossDomainReference reads a reference created with
// CreateCrossDomainReference.
func (s *Store) GetCrossDomainReference(source, target ids.DomainID, targetResource ids.ResourceID) ([]byte, error) {
	return s.Get(ids.CrossDomainRefKey(source, target, targetResource))
}

// StoreTemporalRelationship records a typed temporal edge between two
// entities. Returns the key written.
func (s *Store) StoreTemporalRelationship(ctx context.Context, domain ids.DomainID, from, to ids.EntityID, relType string, data []byte) (string, error) {
	key := ids.TemporalKey(domain, from, to, relType)
	if err := s.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// StoreDomainState stores a domain's state blob under "<ns>-state".
func (s *Store) StoreDomainState(ctx context.Context, domain ids.DomainID, data []byte) error {
	return s.Put(ctx, ids.DomainStateKey(domain), data)
}

// GetDomainState reads a domain's state blob.
func (s *Store) GetDomainState(domain ids.DomainID) ([]byte, error) {
	return s.Get(ids.DomainStateKey(domain))
}

// StoreDomainConfig stores a domain's configuration blob under "<ns>-config".
func (s *Store) StoreDomainConfig(ctx context.Context, domain ids.DomainID, data []byte) error {
	return s.Put(ctx, ids.DomainConfigKey(domain), data)
}

// GetDomainConfig reads a domain's configuration blob.
func (s *Store) GetDomainConfig(domain ids.DomainID) ([]byte, error) {
	return s.Get(ids.DomainConfigKey(domain))
}

// DomainKeys returns every key in domain's namespace.
func (s *Store) DomainKeys(domain ids.DomainID) []string {
	return s.Keys(ids.NamespacePrefix(domain) + "-")
}
