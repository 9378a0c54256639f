package smt

import (
	"github.com/timewave-computer/causality-sub006/internal/codec"
)

// Proof opens one path of the tree.
//
// Siblings are ordered from the root downward. The walk stops at the first
// subtree holding at most one leaf; Leaf is that leaf, or nil when the
// subtree is empty. A proof shows inclusion when Leaf sits at the requested
// path with the claimed value, and non-inclusion otherwise.
type Proof struct {
	Siblings []Hash
	Leaf     *ProofLeaf
}

// ProofLeaf is the terminal leaf of a proof.
type ProofLeaf struct {
	Path      Hash
	ValueHash Hash
}

// Includes reports whether the proof's terminal leaf is key itself.
func (p *Proof) Includes(key string) bool {
	return p != nil && p.Leaf != nil && p.Leaf.Path == PathOf(key)
}

// VerifyInclusion checks that key maps to value under root.
func VerifyInclusion(root Hash, key string, value []byte, p *Proof) bool {
	if p == nil || p.Leaf == nil || len(p.Siblings) > Depth {
		return false
	}
	path := PathOf(key)
	if p.Leaf.Path != path || p.Leaf.ValueHash != ValueHash(value) {
		return false
	}
	return fold(path, leafHash(path, p.Leaf.ValueHash), p.Siblings) == root
}

// VerifyExclusion checks that key is absent under root.
func VerifyExclusion(root Hash, key string, p *Proof) bool {
	if p == nil || len(p.Siblings) > Depth {
		return false
	}
	path := PathOf(key)
	terminal := Hash{}
	if p.Leaf != nil {
		if p.Leaf.Path == path {
			return false
		}
		for i := range p.Siblings {
			if bit(p.Leaf.Path, i) != bit(path, i) {
				return false
			}
		}
		terminal = leafHash(p.Leaf.Path, p.Leaf.ValueHash)
	}
	return fold(path, terminal, p.Siblings) == root
}

// VerifyProof checks an opening of key against root. A nil value asks for
// non-inclusion; any non-nil value (including empty) asks for inclusion.
func VerifyProof(root Hash, key string, value []byte, p *Proof) bool {
	if value == nil {
		return VerifyExclusion(root, key, p)
	}
	return VerifyInclusion(root, key, value, p)
}

func fold(path, h Hash, siblings []Hash) Hash {
	for i := len(siblings) - 1; i >= 0; i-- {
		if bit(path, i) == 0 {
			h = nodeHash(h, siblings[i])
		} else {
			h = nodeHash(siblings[i], h)
		}
	}
	return h
}

// EncodeTo implements codec.Marshaler.
func (p *Proof) EncodeTo(e *codec.Encoder) {
	e.WriteLen(len(p.Siblings))
	for _, s := range p.Siblings {
		e.WriteFixed(s[:])
	}
	e.WriteOption(p.Leaf != nil)
	if p.Leaf != nil {
		e.WriteFixed(p.Leaf.Path[:])
		e.WriteFixed(p.Leaf.ValueHash[:])
	}
}

// DecodeFrom implements codec.Unmarshaler.
func (p *Proof) DecodeFrom(d *codec.Decoder) error {
	n, err := d.ReadLen(32)
	if err != nil {
		return err
	}
	p.Siblings = make([]Hash, n)
	for i := range p.Siblings {
		b, err := d.ReadFixed(32)
		if err != nil {
			return err
		}
		copy(p.Siblings[i][:], b)
	}
	present, err := d.ReadOption()
	if err != nil {
		return err
	}
	p.Leaf = nil
	if present {
		leaf := &ProofLeaf{}
		b, err := d.ReadFixed(32)
		if err != nil {
			return err
		}
		copy(leaf.Path[:], b)
		if b, err = d.ReadFixed(32); err != nil {
			return err
		}
		copy(leaf.ValueHash[:], b)
		p.Leaf = leaf
	}
	return nil
}
