package smt

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sort"

	"github.com/timewave-computer/causality-sub006/internal/codec"
)

// Depth is the number of path bits (and the maximum tree height).
const Depth = 256

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// Hash is a 32-byte tree digest.
type Hash [32]byte

// Hex returns the lowercase hex encoding.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String returns the lowercase hex encoding.
func (h Hash) String() string {
	return h.Hex()
}

// IsZero reports whether h is the empty-subtree digest.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// EmptyRoot is the root of a tree with no leaves.
var EmptyRoot = Hash{}

// PathOf returns the physical key of a logical key: SHA256("data" || key).
func PathOf(key string) Hash {
	h := sha256.New()
	h.Write([]byte("data"))
	h.Write([]byte(key))
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ValueHash returns the digest committed for a stored value.
func ValueHash(value []byte) Hash {
	return Hash(codec.HashWithDomain(codec.DomainSMTValue, value))
}

func leafHash(path, valueHash Hash) Hash {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(path[:])
	h.Write(valueHash[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func nodeHash(left, right Hash) Hash {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// bit returns path bit i, most significant bit first.
func bit(path Hash, i int) int {
	return int(path[i/8]>>(7-uint(i%8))) & 1
}

type leaf struct {
	path      Hash
	valueHash Hash
}

// tree is a compact sparse Merkle tree over 256-bit paths.
//
// A subtree with no leaves hashes to zero, a subtree with exactly one leaf
// hashes to that leaf's hash, and any other subtree hashes to
// H(0x01 || left || right). The root therefore depends only on the set of
// (path, value) pairs.
//
// Leaves are kept sorted by path, and interior hashes are cached by
// (depth, prefix). A write drops only the cached nodes on its own path, so
// the next root or proof rehashes one path instead of the whole tree.
//
// tree is not safe for concurrent use; Store serializes access.
type tree struct {
	leaves map[Hash]Hash // path -> value hash
	sorted []leaf
	nodes  map[nodeKey]Hash
}

// nodeKey names an interior node: the first depth bits of any path below it.
type nodeKey struct {
	depth  int
	prefix Hash
}

func newTree() *tree {
	return &tree{leaves: make(map[Hash]Hash), nodes: make(map[nodeKey]Hash)}
}

// load replaces the contents with ls in one pass.
func (t *tree) load(ls []leaf) {
	t.leaves = make(map[Hash]Hash, len(ls))
	for _, l := range ls {
		t.leaves[l.path] = l.valueHash
	}
	t.sorted = make([]leaf, 0, len(t.leaves))
	for p, v := range t.leaves {
		t.sorted = append(t.sorted, leaf{path: p, valueHash: v})
	}
	sortLeaves(t.sorted)
	t.nodes = make(map[nodeKey]Hash)
}

// set stores valueHash at path and reports whether anything changed.
func (t *tree) set(path, valueHash Hash) bool {
	old, ok := t.leaves[path]
	if ok && old == valueHash {
		return false
	}
	t.leaves[path] = valueHash
	i := t.search(path)
	if ok {
		t.sorted[i].valueHash = valueHash
	} else {
		t.sorted = slices.Insert(t.sorted, i, leaf{path: path, valueHash: valueHash})
	}
	t.invalidate(path)
	return true
}

// unset removes path.
func (t *tree) unset(path Hash) {
	if _, ok := t.leaves[path]; !ok {
		return
	}
	delete(t.leaves, path)
	i := t.search(path)
	t.sorted = slices.Delete(t.sorted, i, i+1)
	t.invalidate(path)
}

func (t *tree) search(path Hash) int {
	return sort.Search(len(t.sorted), func(i int) bool {
		return bytes.Compare(t.sorted[i].path[:], path[:]) >= 0
	})
}

// invalidate drops every cached node above path.
func (t *tree) invalidate(path Hash) {
	for depth := 0; depth <= Depth; depth++ {
		delete(t.nodes, nodeKey{depth: depth, prefix: prefixOf(path, depth)})
	}
}

// prefixOf keeps the first depth bits of path and zeroes the rest.
func prefixOf(path Hash, depth int) Hash {
	var out Hash
	full := depth / 8
	copy(out[:full], path[:full])
	if rem := depth % 8; rem != 0 {
		out[full] = path[full] & (0xff << (8 - uint(rem)))
	}
	return out
}

func sortLeaves(ls []leaf) {
	sort.Slice(ls, func(i, j int) bool {
		return bytes.Compare(ls[i].path[:], ls[j].path[:]) < 0
	})
}

func (t *tree) rootHash() Hash {
	return subtreeHash(t.sorted, 0, t.nodes)
}

// proof opens path against rootHash, reusing cached interior hashes.
func (t *tree) proof(path Hash) *Proof {
	return prove(t.sorted, path, t.nodes)
}

// subtreeHash hashes leaves (sorted by path, sharing their first depth
// bits). A non-nil memo caches interior hashes by (depth, prefix).
func subtreeHash(leaves []leaf, depth int, memo map[nodeKey]Hash) Hash {
	switch len(leaves) {
	case 0:
		return Hash{}
	case 1:
		return leafHash(leaves[0].path, leaves[0].valueHash)
	}
	var key nodeKey
	if memo != nil {
		key = nodeKey{depth: depth, prefix: prefixOf(leaves[0].path, depth)}
		if h, ok := memo[key]; ok {
			return h
		}
	}
	split := splitIndex(leaves, depth)
	h := nodeHash(subtreeHash(leaves[:split], depth+1, memo), subtreeHash(leaves[split:], depth+1, memo))
	if memo != nil {
		memo[key] = h
	}
	return h
}

// splitIndex returns the first index whose path has bit depth set.
func splitIndex(leaves []leaf, depth int) int {
	return sort.Search(len(leaves), func(i int) bool {
		return bit(leaves[i].path, depth) == 1
	})
}

// prove walks from the root toward path, collecting sibling hashes.
func prove(leaves []leaf, path Hash, memo map[nodeKey]Hash) *Proof {
	p := &Proof{}
	cur := leaves
	for depth := 0; len(cur) > 1 && depth < Depth; depth++ {
		split := splitIndex(cur, depth)
		if bit(path, depth) == 0 {
			p.Siblings = append(p.Siblings, subtreeHash(cur[split:], depth+1, memo))
			cur = cur[:split]
		} else {
			p.Siblings = append(p.Siblings, subtreeHash(cur[:split], depth+1, memo))
			cur = cur[split:]
		}
	}
	if len(cur) == 1 {
		p.Leaf = &ProofLeaf{Path: cur[0].path, ValueHash: cur[0].valueHash}
	}
	return p
}

// rootFromLeaves computes the root over an arbitrary subset of leaves.
func rootFromLeaves(ls []leaf) Hash {
	cp := make([]leaf, len(ls))
	copy(cp, ls)
	sortLeaves(cp)
	return subtreeHash(cp, 0, nil)
}
