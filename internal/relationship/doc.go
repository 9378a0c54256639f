// Package relationship links resources across domains and keeps them in
// sync.
//
// A Relationship names a source and a target resource in two different
// domains plus a Kind that decides what syncing means:
//
//   - Mirror copies the source state onto the target, last writer wins by
//     time map, ties broken by the bytes of (domain, resource)
//   - Reference never syncs
//   - Ownership grants the source write authority on the target
//   - Derived writes the fields a registered Transform computes
//   - Bridge runs a registered transform pair in either direction
//   - Custom(name) defers to a registered Handler
//
// The Registry stores relationships by content ID and answers filtered
// queries, including CEL predicates over metadata. The SyncManager reads
// and writes resource states through a ResourceStore, which keeps them in
// the SMT under each domain's namespace, so equal states give equal roots
// and a no-op sync leaves the root alone.
//
// Due is the should-sync decision the scheduler polls.
package relationship
