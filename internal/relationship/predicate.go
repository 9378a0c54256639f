package relationship

import (
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/timewave-computer/causality-sub006/internal/errs"
)

// Predicates are CEL expressions over one relationship. Available
// variables:
//
//	kind              string  ("mirror", "custom:audit", ...)
//	bidirectional     bool
//	requires_sync     bool
//	strategy          string  ("periodic", "hybrid", ...)
//	interval_seconds  int
//	source_domain     string  (hex)
//	target_domain     string  (hex)
//	metadata          map(string, string)
//
// Example: `kind == "mirror" && metadata["tier"] == "gold"`.

var predicateEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("bidirectional", cel.BoolType),
		cel.Variable("requires_sync", cel.BoolType),
		cel.Variable("strategy", cel.StringType),
		cel.Variable("interval_seconds", cel.IntType),
		cel.Variable("source_domain", cel.StringType),
		cel.Variable("target_domain", cel.StringType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
	)
})

// predicates caches compiled programs by source text.
var predicates sync.Map

func compilePredicate(src string) (cel.Program, error) {
	const op = "relationship.predicate"
	if src == "" {
		return nil, errs.New(errs.InvalidArgument, op, "predicate must not be empty")
	}
	if cached, ok := predicates.Load(src); ok {
		return cached.(cel.Program), nil
	}
	env, err := predicateEnv()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, op, err, "build cel environment")
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, errs.Wrap(errs.InvalidArgument, op, errs.Evaluation("cel", src, "", issues.Err()), "compile predicate")
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errs.New(errs.InvalidArgument, op, "predicate %q must return bool, got %s", src, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, op, errs.Evaluation("cel", src, "", err), "plan predicate")
	}
	predicates.Store(src, prg)
	return prg, nil
}

func activation(r *Relationship) map[string]any {
	extra := r.Metadata.Extra
	if extra == nil {
		extra = map[string]string{}
	}
	return map[string]any{
		"kind":             string(r.Kind),
		"bidirectional":    r.Bidirectional,
		"requires_sync":    r.Metadata.RequiresSync,
		"strategy":         r.Metadata.Strategy.Mode.String(),
		"interval_seconds": int64(r.Metadata.Strategy.Interval.Seconds()),
		"source_domain":    r.SourceDomain.Hex(),
		"target_domain":    r.TargetDomain.Hex(),
		"metadata":         extra,
	}
}

// Match evaluates the CEL predicate src against r.
func Match(src string, r *Relationship) (bool, error) {
	prg, err := compilePredicate(src)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(activation(r))
	if err != nil {
		return false, errs.Wrap(errs.InvalidArgument, "relationship.predicate",
			errs.Evaluation("cel", src, r.ID.Short(), err), "evaluate predicate")
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, errs.New(errs.InvalidArgument, "relationship.predicate", "predicate %q returned %T", src, out.Value())
	}
	return ok, nil
}
