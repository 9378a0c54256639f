// Package lifecycle implements the register state machine: ownership,
// authorization, one-time consumption with nullifiers, epochs, and
// garbage collection.
//
// # States
//
//	Initial → Active                 create
//	Active  → Active                 update, transfer
//	Active  ⇄ Locked                 lock / unlock
//	Active  ⇄ Frozen                 freeze / unfreeze
//	Active, Locked, Frozen → Consumed  consume (emits a nullifier)
//	Active  → PendingDeletion        delete, or GC after MaxRegisterAge
//	PendingDeletion → Tombstone      GC after ArchiveRetention
//
// Consumed and Tombstone are terminal.
//
// # Operations
//
// Every change goes through ApplyOperation, which checks in order:
// argument shape, nullifier reuse (DoubleSpend), pinned heads against the
// current registers (Conflict), authorization against the current owner
// (Unauthorized), and the transition table (InvalidState).
// The SMT entries, the operation log records and the nullifiers are
// written, in that order, before the in-memory state changes. If a later
// write fails the earlier ones are undone, so a failed operation leaves
// nothing behind in memory or on disk.
//
// Convenience methods (UpdateRegister, ConsumeRegister, ...) build the
// operation with the matching New* constructor. A caller signing with
// Signature builds the same operation, pins it with PinHeads, signs its
// SigningBytes, and passes the signature in. The signed bytes include each
// target's head, so a signature only ever authorizes the state it was made
// against; resubmitting it after the register has moved on fails.
package lifecycle
