package harness

import "github.com/timewave-computer/causality-sub006/internal/ids"

// TraceEvent records the outcome of one step.
// Ids and hashes are left out so golden files stay readable; registers
// are named by their scenario alias.
type TraceEvent struct {
	Seq      int    `json:"seq"`
	Op       string `json:"op"`
	Register string `json:"register,omitempty"`

	// Outcome is "ok" or the error kind the step failed with.
	Outcome string `json:"outcome"`

	State   string `json:"state,omitempty"`
	Owner   string `json:"owner,omitempty"`
	Epoch   uint64 `json:"epoch,omitempty"`
	History int    `json:"history,omitempty"`

	// Elapsed is the manual clock offset at which the step ran.
	Elapsed string `json:"elapsed"`
}

// Outcome values.
const OutcomeOK = "ok"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Registers maps each alias to its id.
	Registers map[string]ids.RegisterID `json:"-"`

	// Nullifiers is the spent set after the last step.
	Nullifiers []ids.Nullifier `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Registers: make(map[string]ids.RegisterID),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
