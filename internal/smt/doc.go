// Package smt provides the sparse Merkle tree store that holds all durable
// core state.
//
// # Keys
//
// Callers address values by namespaced string keys built in package ids,
// e.g. "domain-<hex(domain)>-teg-effect-<hex(id)>". The tree position of a key is
// its physical key SHA256("data" || key), so equal logical keys always land
// on the same leaf and keys from different domains never collide.
//
// # Hashing
//
//   - Empty subtree: 32 zero bytes
//   - Subtree holding one leaf: SHA256(0x00 || path || H(value))
//   - Any other subtree: SHA256(0x01 || left || right)
//
// The root depends only on the current key/value set. Writing the value a
// key already holds changes nothing, not even the root log. Interior hashes
// are cached, and a write only rehashes the nodes on its own path.
//
// # Proofs
//
// Proof walks from the root toward a path until it reaches a subtree with at
// most one leaf. If that leaf is the requested key the proof shows
// inclusion. An empty terminal, or a different leaf sharing the walked
// prefix, shows non-inclusion.
//
// # Domain Sub-Roots
//
// DomainRoot computes a root over just one namespace. A DomainProof opens a
// key against it, so one domain's state can be disclosed on its own.
//
// # Persistence
//
// A Backend persists each committed write together with the new root.
// Apply commits several keys, removals included, as one write with one
// root; a backend failure leaves the tree as it was. The
// SQLite backend lives in package store; MemoryBackend serves tests and
// ephemeral hosts.
package smt
