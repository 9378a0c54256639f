package relationship

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

func issueKinds(res Result) []IssueKind {
	out := []IssueKind{}
	for _, e := range res.Errors {
		out = append(out, e.Kind)
	}
	return out
}

func warningKinds(res Result) []WarningKind {
	out := []WarningKind{}
	for _, w := range res.Warnings {
		out = append(out, w.Kind)
	}
	return out
}

func TestValidatorRules(t *testing.T) {
	tests := []struct {
		name     string
		r        *Relationship
		level    Level
		errors   []IssueKind
		warnings []WarningKind
	}{
		{"clean mirror", mirror(), Strict, []IssueKind{}, []WarningKind{}},
		{"missing fields", New(ids.DomainID{}, ids.ResourceID{}, d2, rTgt, Mirror), Permissive,
			[]IssueKind{MissingField, MissingField}, []WarningKind{}},
		{"mirror without sync strict", New(d1, rSrc, d2, rTgt, Mirror), Strict,
			[]IssueKind{InvalidSyncConfiguration}, []WarningKind{}},
		{"mirror without sync moderate", New(d1, rSrc, d2, rTgt, Mirror), Moderate,
			[]IssueKind{}, []WarningKind{PotentialIssue}},
		{"mirror without sync permissive", New(d1, rSrc, d2, rTgt, Mirror), Permissive,
			[]IssueKind{}, []WarningKind{}},
		{"one-way reference strict", New(d1, rSrc, d2, rTgt, Reference), Strict,
			[]IssueKind{}, []WarningKind{Suggestion}},
		{"one-way reference moderate", New(d1, rSrc, d2, rTgt, Reference), Moderate,
			[]IssueKind{}, []WarningKind{}},
		{"empty custom name", New(d1, rSrc, d2, rTgt, Custom(" ")), Permissive,
			[]IssueKind{InvalidRelationshipType}, []WarningKind{}},
		{"unknown kind", New(d1, rSrc, d2, rTgt, Kind("sideways")), Permissive,
			[]IssueKind{InvalidRelationshipType}, []WarningKind{}},
		{"zero period", New(d1, rSrc, d2, rTgt, Derived, WithSync(PeriodicSync(0))), Permissive,
			[]IssueKind{InvalidSyncConfiguration}, []WarningKind{}},
		{"short period strict", New(d1, rSrc, d2, rTgt, Derived, WithSync(PeriodicSync(10*time.Second))), Strict,
			[]IssueKind{}, []WarningKind{PerformanceConcern}},
		{"short period moderate", New(d1, rSrc, d2, rTgt, Derived, WithSync(PeriodicSync(10*time.Second))), Moderate,
			[]IssueKind{}, []WarningKind{}},
		{"zero hybrid fallback", New(d1, rSrc, d2, rTgt, Derived, WithSync(HybridSync(0))), Moderate,
			[]IssueKind{InvalidSyncConfiguration}, []WarningKind{}},
		{"event driven with sync strict", New(d1, rSrc, d2, rTgt, Derived, WithSync(EventDrivenSync())), Strict,
			[]IssueKind{}, []WarningKind{PotentialIssue}},
		{"bidirectional mirror strict", mirror(WithBidirectional()), Strict,
			[]IssueKind{}, []WarningKind{PotentialIssue}},
		{"bidirectional ownership strict", New(d1, rSrc, d2, rTgt, Ownership, WithBidirectional()), Strict,
			[]IssueKind{}, []WarningKind{PotentialIssue}},
		{"bidirectional mirror permissive", mirror(WithBidirectional()), Permissive,
			[]IssueKind{}, []WarningKind{}},
		{"same domain strict", New(d1, rSrc, d1, rTgt, Bridge), Strict,
			[]IssueKind{InvalidDomain}, []WarningKind{}},
		{"same domain moderate", New(d1, rSrc, d1, rTgt, Bridge), Moderate,
			[]IssueKind{}, []WarningKind{PotentialIssue}},
		{"same domain permissive", New(d1, rSrc, d1, rTgt, Bridge), Permissive,
			[]IssueKind{}, []WarningKind{}},
	}
	v := NewValidator(Strict)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.ValidateAt(tt.r, tt.level)
			assert.Equal(t, tt.errors, issueKinds(res))
			assert.Equal(t, tt.warnings, warningKinds(res))
			assert.Equal(t, len(tt.errors) == 0, res.Valid)
			assert.Equal(t, tt.level, res.Level)
			if res.Valid {
				assert.NoError(t, res.Err())
			} else {
				assert.Equal(t, errs.ValidationFailed, errs.KindOf(res.Err()))
			}
		})
	}
}

func TestValidatorCustomRules(t *testing.T) {
	v := NewValidator(Moderate)
	require.NoError(t, v.AddRule(Rule{
		Name:     "tier",
		Expr:     `"tier" in metadata`,
		Message:  "relationships must declare a tier",
		MinLevel: Moderate,
	}))
	require.Error(t, v.AddRule(Rule{Name: "broken", Expr: "kind =="}))

	res := v.Validate(mirror())
	require.False(t, res.Valid)
	assert.Equal(t, "relationships must declare a tier", res.Errors[0].Message)

	assert.True(t, v.Validate(mirror(WithExtra("tier", "gold"))).Valid)
	assert.True(t, v.ValidateAt(mirror(), Permissive).Valid, "rule applies from Moderate up")
}

func TestValidateBatch(t *testing.T) {
	v := NewValidator(Strict)
	out := v.ValidateBatch([]*Relationship{mirror(), New(d1, rSrc, d1, rTgt, Mirror), nil}, Strict)
	require.Len(t, out, 3)
	assert.True(t, out[0].Valid)
	assert.False(t, out[1].Valid)
	assert.Equal(t, []IssueKind{MissingField}, issueKinds(out[2]))
}

func TestParseLevel(t *testing.T) {
	for _, l := range []Level{Strict, Moderate, Permissive} {
		got, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := ParseLevel("lenient")
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}
