package compiler

import (
	"cuelang.org/go/cue"

	"github.com/timewave-computer/causality-sub006/internal/relationship"
)

// CompileRule parses a CEL validation rule declaration:
//
//	rule: same_tier: {
//		expr:    "metadata[\"tier\"] == \"gold\""
//		message: "only gold relationships sync"
//		level:   "moderate"
//	}
//
// level defaults to permissive, so the rule applies at every level. The
// expression is compiled here; a rule that does not compile is an error
// on the expr field.
func CompileRule(v cue.Value) (relationship.Rule, error) {
	if err := v.Err(); err != nil {
		return relationship.Rule{}, formatCUEError(err)
	}
	var rule relationship.Rule
	if labels := v.Path().Selectors(); len(labels) > 0 {
		rule.Name = labels[len(labels)-1].String()
	}
	var err error
	if rule.Expr, err = requiredString(v, "expr"); err != nil {
		return relationship.Rule{}, err
	}
	if rule.Message, err = requiredString(v, "message"); err != nil {
		return relationship.Rule{}, err
	}
	rule.MinLevel = relationship.Permissive
	if l := v.LookupPath(cue.ParsePath("level")); l.Exists() {
		raw, err := l.String()
		if err != nil {
			return relationship.Rule{}, formatCUEError(err)
		}
		if rule.MinLevel, err = relationship.ParseLevel(raw); err != nil {
			return relationship.Rule{}, fieldError("level", l.Pos(), "unknown validation level %q", raw)
		}
	}
	if err := relationship.NewValidator(relationship.Permissive).AddRule(rule); err != nil {
		return relationship.Rule{}, fieldError("expr", v.LookupPath(cue.ParsePath("expr")).Pos(), "%v", err)
	}
	return rule, nil
}
