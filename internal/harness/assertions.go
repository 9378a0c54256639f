package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/lifecycle"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", event.Seq, event.Op, event.Register, event.Outcome)
	}
	return buf.String()
}

// RegisterReader reads current register state. *lifecycle.Manager
// satisfies it.
type RegisterReader interface {
	GetRegister(id ids.RegisterID) (*lifecycle.Register, error)
}

// EvaluateAssertions runs every assertion and returns the failure
// messages in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, regs RegisterReader) []string {
	var out []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertFinalState:
			err = assertFinalState(result, a, regs)
		case AssertNullifiers:
			err = assertNullifiers(result, a)
		case AssertStepCount:
			err = assertStepCount(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			out = append(out, err.Error())
		}
	}
	return out
}

func assertFinalState(result *Result, a Assertion, regs RegisterReader) error {
	id, ok := result.Registers[a.Register]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("register %s to exist", a.Register),
			Actual:   "never created",
			Trace:    result.Trace,
		}
	}
	r, err := regs.GetRegister(id)
	if err != nil {
		return &AssertionError{Type: AssertFinalState, Expected: "register " + a.Register, Actual: err.Error(), Trace: result.Trace}
	}
	if r.State.String() != a.State {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s in state %s", a.Register, a.State),
			Actual:   r.State.String(),
			Trace:    result.Trace,
		}
	}
	if a.Owner != "" && string(r.Owner) != a.Owner {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s owned by %s", a.Register, a.Owner),
			Actual:   string(r.Owner),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertNullifiers checks the spent set equals exactly the nullifiers of
// the register for the listed transactions.
func assertNullifiers(result *Result, a Assertion) error {
	id := result.Registers[a.Register]
	want := make([]string, len(a.TxIDs))
	for i, tx := range a.TxIDs {
		want[i] = lifecycle.ComputeNullifier(id, tx).Hex()
	}
	got := make([]string, len(result.Nullifiers))
	for i, n := range result.Nullifiers {
		got[i] = n.Hex()
	}
	sort.Strings(want)
	sort.Strings(got)
	if strings.Join(want, ",") != strings.Join(got, ",") {
		return &AssertionError{
			Type:     AssertNullifiers,
			Expected: fmt.Sprintf("nullifiers of %s for %v: %v", a.Register, a.TxIDs, want),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertStepCount(trace []TraceEvent, a Assertion) error {
	outcome := a.Outcome
	if outcome == "" {
		outcome = OutcomeOK
	}
	count := 0
	for _, e := range trace {
		if e.Op == a.Op && e.Outcome == outcome {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertStepCount,
			Expected: fmt.Sprintf("%d %s steps with outcome %s", a.Count, a.Op, outcome),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}
