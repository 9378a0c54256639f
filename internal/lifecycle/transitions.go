package lifecycle

import (
	"github.com/timewave-computer/causality-sub006/internal/errs"
)

type transitionKey struct {
	from State
	kind OperationKind
}

// transitions is the complete table of permitted state changes. Anything
// not listed is rejected, which makes Consumed and Tombstone terminal.
var transitions = map[transitionKey]State{
	{StateInitial, OpCreate}:          StateActive,
	{StateActive, OpUpdate}:           StateActive,
	{StateActive, OpTransfer}:         StateActive,
	{StateActive, OpLock}:             StateLocked,
	{StateLocked, OpUnlock}:           StateActive,
	{StateActive, OpFreeze}:           StateFrozen,
	{StateFrozen, OpUnfreeze}:         StateActive,
	{StateActive, OpConsume}:          StateConsumed,
	{StateLocked, OpConsume}:          StateConsumed,
	{StateFrozen, OpConsume}:          StateConsumed,
	{StateActive, OpDelete}:           StatePendingDeletion,
	{StatePendingDeletion, opCollect}: StateTombstone,
	{StateActive, opExpire}:           StatePendingDeletion,
}

// Transition returns the state a register in from moves to under kind.
func Transition(from State, kind OperationKind) (State, error) {
	to, ok := transitions[transitionKey{from, kind}]
	if !ok {
		return from, errs.New(errs.InvalidState, "lifecycle.transition",
			"%s not permitted in state %s", kind, from).With("state", from.String())
	}
	return to, nil
}

// Allowed reports whether kind is permitted in state from.
func Allowed(from State, kind OperationKind) bool {
	_, ok := transitions[transitionKey{from, kind}]
	return ok
}

// Permits reports whether any operation moves a register from one state
// to the other.
func Permits(from, to State) bool {
	for k, dst := range transitions {
		if k.from == from && dst == to {
			return true
		}
	}
	return false
}

// Reachable reports whether target can be reached from StateInitial through
// permitted transitions.
func Reachable(target State) bool {
	seen := map[State]bool{StateInitial: true}
	frontier := []State{StateInitial}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for k, to := range transitions {
			if k.from == cur && !seen[to] {
				seen[to] = true
				frontier = append(frontier, to)
			}
		}
	}
	return seen[target]
}
