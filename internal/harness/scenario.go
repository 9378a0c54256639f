package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/lifecycle"
)

// Scenario defines a register lifecycle scenario.
// Steps run in order against a fresh manager and their outcomes form the
// trace that assertions and golden files check.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Steps are the operations to apply.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and register state.
	Assertions []Assertion `yaml:"assertions"`

	// TraceToken is the fixed trace id stamped on consumption facts.
	// Defaults to "scenario-trace".
	TraceToken string `yaml:"trace_token,omitempty"`
}

// Step is one operation.
type Step struct {
	// Op is an operation kind (create, update, transfer, lock, unlock,
	// freeze, unfreeze, consume, delete) or advance_epoch.
	Op string `yaml:"op"`

	// Register is the alias the register is known by in later steps.
	Register string `yaml:"register,omitempty"`

	// Owner and Domain apply to create.
	Owner  string `yaml:"owner,omitempty"`
	Domain string `yaml:"domain,omitempty"`

	// Initiator authors the operation; Signer signs it and defaults to
	// Initiator (or Owner for create).
	Initiator string `yaml:"initiator,omitempty"`
	Signer    string `yaml:"signer,omitempty"`

	Contents  string   `yaml:"contents,omitempty"`
	Recipient string   `yaml:"recipient,omitempty"`
	TxID      string   `yaml:"tx_id,omitempty"`
	Successor []string `yaml:"successors,omitempty"`

	// Expect checks the outcome of this step. Nil means the step must
	// succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the outcome of one step.
type Expect struct {
	// Error is the expected error kind, e.g. DOUBLE_SPEND. Empty means
	// success.
	Error string `yaml:"error,omitempty"`

	State   string `yaml:"state,omitempty"`
	Owner   string `yaml:"owner,omitempty"`
	Epoch   uint64 `yaml:"epoch,omitempty"`
	History int    `yaml:"history,omitempty"`

	// UpdatedAfterCreated requires updated_at > created_at.
	UpdatedAfterCreated bool `yaml:"updated_after_created,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_state": register alias has State (and Owner if set)
	// - "nullifiers": the nullifier set holds exactly the nullifiers of
	//   Register for TxIDs
	// - "step_count": steps of Op with Outcome occur exactly Count times
	Type string `yaml:"type"`

	Register string   `yaml:"register,omitempty"`
	State    string   `yaml:"state,omitempty"`
	Owner    string   `yaml:"owner,omitempty"`
	TxIDs    []string `yaml:"tx_ids,omitempty"`
	Op       string   `yaml:"op,omitempty"`
	Outcome  string   `yaml:"outcome,omitempty"`
	Count    int      `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState = "final_state"
	AssertNullifiers = "nullifiers"
	AssertStepCount  = "step_count"
)

// OpAdvanceEpoch advances the manager's epoch. It takes no register.
const OpAdvanceEpoch = "advance_epoch"

var registerOps = map[string]lifecycle.OperationKind{
	string(lifecycle.OpCreate):   lifecycle.OpCreate,
	string(lifecycle.OpUpdate):   lifecycle.OpUpdate,
	string(lifecycle.OpTransfer): lifecycle.OpTransfer,
	string(lifecycle.OpLock):     lifecycle.OpLock,
	string(lifecycle.OpUnlock):   lifecycle.OpUnlock,
	string(lifecycle.OpFreeze):   lifecycle.OpFreeze,
	string(lifecycle.OpUnfreeze): lifecycle.OpUnfreeze,
	string(lifecycle.OpConsume):  lifecycle.OpConsume,
	string(lifecycle.OpDelete):   lifecycle.OpDelete,
}

var errorKinds = map[string]bool{
	string(errs.NotFound): true, string(errs.InvalidState): true, string(errs.InvalidArgument): true,
	string(errs.Unauthorized): true, string(errs.DoubleSpend): true, string(errs.ValidationFailed): true,
	string(errs.Conflict): true, string(errs.Timeout): true, string(errs.DependencyMissing): true,
	string(errs.Serialization): true, string(errs.IO): true, string(errs.Internal): true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	declared := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(i, &step, declared); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, declared); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *Step, declared map[string]bool) error {
	if step.Op == OpAdvanceEpoch {
		return nil
	}
	kind, ok := registerOps[step.Op]
	if !ok {
		return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
	}
	if step.Register == "" {
		return fmt.Errorf("steps[%d]: register is required", i)
	}
	switch kind {
	case lifecycle.OpCreate:
		if step.Owner == "" || step.Domain == "" {
			return fmt.Errorf("steps[%d]: create requires owner and domain", i)
		}
		declared[step.Register] = true
	default:
		if !declared[step.Register] {
			return fmt.Errorf("steps[%d]: register %q is not created by an earlier step", i, step.Register)
		}
		if step.Initiator == "" {
			return fmt.Errorf("steps[%d]: initiator is required", i)
		}
	}
	switch kind {
	case lifecycle.OpTransfer:
		if step.Recipient == "" {
			return fmt.Errorf("steps[%d]: transfer requires recipient", i)
		}
	case lifecycle.OpConsume:
		if step.TxID == "" {
			return fmt.Errorf("steps[%d]: consume requires tx_id", i)
		}
	}
	for _, succ := range step.Successor {
		if !declared[succ] {
			return fmt.Errorf("steps[%d]: successor %q is not created by an earlier step", i, succ)
		}
	}
	if step.Expect != nil && step.Expect.Error != "" && !errorKinds[step.Expect.Error] {
		return fmt.Errorf("steps[%d].expect: unknown error kind %q", i, step.Expect.Error)
	}
	if step.Expect != nil && step.Expect.State != "" {
		if _, err := lifecycle.ParseState(step.Expect.State); err != nil {
			return fmt.Errorf("steps[%d].expect: %v", i, err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, declared map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalState:
		if !declared[a.Register] {
			return fmt.Errorf("assertions[%d]: unknown register %q", index, a.Register)
		}
		if _, err := lifecycle.ParseState(a.State); err != nil {
			return fmt.Errorf("assertions[%d]: %v", index, err)
		}
	case AssertNullifiers:
		if !declared[a.Register] {
			return fmt.Errorf("assertions[%d]: unknown register %q", index, a.Register)
		}
	case AssertStepCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for step_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for step_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
