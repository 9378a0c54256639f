package relationship

import (
	"fmt"
	"strings"
	"time"

	"github.com/timewave-computer/causality-sub006/internal/errs"
)

// Level is how strictly a Validator judges relationships.
type Level uint8

const (
	Permissive Level = iota
	Moderate
	Strict
)

func (l Level) String() string {
	switch l {
	case Permissive:
		return "permissive"
	case Moderate:
		return "moderate"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// ParseLevel accepts "strict", "moderate", or "permissive".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "strict":
		return Strict, nil
	case "moderate":
		return Moderate, nil
	case "permissive":
		return Permissive, nil
	}
	return 0, errs.New(errs.InvalidArgument, "relationship.parse_level", "unknown validation level %q", s)
}

// IssueKind classifies a validation error.
type IssueKind string

const (
	MissingField              IssueKind = "missing_field"
	InvalidRelationshipType   IssueKind = "invalid_relationship_type"
	InvalidDomain             IssueKind = "invalid_domain"
	InvalidResource           IssueKind = "invalid_resource"
	InvalidSyncConfiguration  IssueKind = "invalid_sync_configuration"
	IncompatibleConfiguration IssueKind = "incompatible_configuration"
	OtherIssue                IssueKind = "other"
)

// WarningKind classifies a validation warning.
type WarningKind string

const (
	PotentialIssue     WarningKind = "potential_issue"
	Suggestion         WarningKind = "suggestion"
	PerformanceConcern WarningKind = "performance_concern"
	OtherWarning       WarningKind = "other"
)

// Issue is a validation error.
type Issue struct {
	Kind    IssueKind
	Message string
}

// Warning does not make a relationship invalid.
type Warning struct {
	Kind    WarningKind
	Message string
}

// Result is the outcome of validating one relationship.
type Result struct {
	Valid    bool
	Level    Level
	Errors   []Issue
	Warnings []Warning
}

func (r *Result) fail(kind IssueKind, format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, Issue{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) warn(kind WarningKind, format string, args ...any) {
	r.Warnings = append(r.Warnings, Warning{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Err returns nil for a valid result and a ValidationFailed error listing
// every issue otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, issue := range r.Errors {
		msgs[i] = fmt.Sprintf("%s: %s", issue.Kind, issue.Message)
	}
	return errs.New(errs.ValidationFailed, "relationship.validate", "%s", strings.Join(msgs, "; "))
}

// Rule is an extra CEL check. The predicate must hold; when it does not,
// Message is reported as an error at MinLevel and above.
type Rule struct {
	Name     string
	Expr     string
	Message  string
	MinLevel Level
}

// Validator checks relationships against the builtin rules plus any
// attached CEL rules.
type Validator struct {
	Level Level
	rules []Rule
}

// NewValidator returns a validator at level.
func NewValidator(level Level) *Validator {
	return &Validator{Level: level}
}

// AddRule attaches a CEL rule after compiling it.
func (v *Validator) AddRule(rule Rule) error {
	if _, err := compilePredicate(rule.Expr); err != nil {
		return fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	v.rules = append(v.rules, rule)
	return nil
}

// Validate checks r at the validator's level.
func (v *Validator) Validate(r *Relationship) Result {
	return v.ValidateAt(r, v.Level)
}

// ValidateBatch checks each relationship at level.
func (v *Validator) ValidateBatch(rs []*Relationship, level Level) []Result {
	out := make([]Result, len(rs))
	for i, r := range rs {
		out[i] = v.ValidateAt(r, level)
	}
	return out
}

// minPeriod is the shortest periodic interval Strict accepts without a
// performance warning.
const minPeriod = time.Minute

// ValidateAt checks r at level.
func (v *Validator) ValidateAt(r *Relationship, level Level) Result {
	res := Result{Valid: true, Level: level}
	if r == nil {
		res.fail(MissingField, "relationship is nil")
		return res
	}

	if r.SourceResource.IsZero() {
		res.fail(MissingField, "source resource is missing")
	}
	if r.TargetResource.IsZero() {
		res.fail(MissingField, "target resource is missing")
	}
	if r.SourceDomain.IsZero() {
		res.fail(MissingField, "source domain is missing")
	}
	if r.TargetDomain.IsZero() {
		res.fail(MissingField, "target domain is missing")
	}
	if !res.Valid {
		return res
	}

	checkKind(&res, r, level)
	checkStrategy(&res, r, level)
	checkDirection(&res, r, level)

	if r.SourceDomain == r.TargetDomain {
		switch level {
		case Strict:
			res.fail(InvalidDomain, "source and target domain are the same")
		case Moderate:
			res.warn(PotentialIssue, "source and target domain are the same")
		}
	}

	for _, rule := range v.rules {
		if level < rule.MinLevel {
			continue
		}
		ok, err := Match(rule.Expr, r)
		switch {
		case err != nil:
			res.fail(OtherIssue, "rule %s: %v", rule.Name, err)
		case !ok:
			res.fail(OtherIssue, "%s", rule.Message)
		}
	}
	return res
}

func checkKind(res *Result, r *Relationship, level Level) {
	switch {
	case r.Kind == Mirror && !r.Metadata.RequiresSync:
		if level == Strict {
			res.fail(InvalidSyncConfiguration, "mirror relationships must require sync")
		} else if level == Moderate {
			res.warn(PotentialIssue, "mirror relationship does not require sync")
		}
	case r.Kind == Reference && !r.Bidirectional:
		if level == Strict {
			res.warn(Suggestion, "consider making the reference bidirectional")
		}
	case r.Kind.IsCustom():
		if strings.TrimSpace(r.Kind.CustomName()) == "" {
			res.fail(InvalidRelationshipType, "custom relationship type has an empty name")
		}
	case !r.Kind.Known():
		res.fail(InvalidRelationshipType, "unknown relationship type %q", r.Kind)
	}
}

func checkStrategy(res *Result, r *Relationship, level Level) {
	s := r.Metadata.Strategy
	switch s.Mode {
	case Periodic:
		if s.Interval <= 0 {
			res.fail(InvalidSyncConfiguration, "periodic sync interval must be positive")
		} else if s.Interval < minPeriod && level == Strict {
			res.warn(PerformanceConcern, "periodic sync every %s may be expensive", s.Interval)
		}
	case Hybrid:
		if s.Interval <= 0 {
			res.fail(InvalidSyncConfiguration, "hybrid fallback interval must be positive")
		}
	case EventDriven:
		if r.Metadata.RequiresSync && level == Strict {
			res.warn(PotentialIssue, "relationship requires sync but only syncs on external events")
		}
	case OneTime:
	default:
		res.fail(InvalidSyncConfiguration, "unknown sync strategy %s", s.Mode)
	}
}

func checkDirection(res *Result, r *Relationship, level Level) {
	if !r.Bidirectional || level != Strict {
		return
	}
	switch r.Kind {
	case Mirror:
		res.warn(PotentialIssue, "bidirectional mirror may cause sync loops")
	case Ownership:
		res.warn(PotentialIssue, "bidirectional ownership grants write authority both ways")
	}
}
