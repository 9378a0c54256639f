package teg

import (
	"fmt"
	"sync"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

// Condition guards a continuation edge. Expr is an expr-lang boolean
// expression evaluated against the source effect's parameters plus the
// caller's environment; caller values win on name collisions.
type Condition struct {
	Expr string
}

// NewCondition compiles src and returns a Condition. A compile failure is
// InvalidArgument.
func NewCondition(src string) (*Condition, error) {
	if _, err := compileCondition(src); err != nil {
		return nil, err
	}
	return &Condition{Expr: src}, nil
}

// programs caches compiled conditions by source text.
var programs sync.Map

func compileCondition(src string) (*exprvm.Program, error) {
	const where = "teg.condition"
	if src == "" {
		return nil, errs.New(errs.InvalidArgument, where, "condition must not be empty")
	}
	if cached, ok := programs.Load(src); ok {
		return cached.(*exprvm.Program), nil
	}
	program, err := exprlang.Compile(src,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, where, errs.Evaluation("expr", src, "", err), "compile condition")
	}
	programs.Store(src, program)
	return program, nil
}

// Evaluate runs the condition against params and env.
func (c *Condition) Evaluate(params value.Object, env map[string]any) (bool, error) {
	program, err := compileCondition(c.Expr)
	if err != nil {
		return false, err
	}
	scope := make(map[string]any, len(params)+len(env))
	for k, v := range params {
		scope[k] = value.Native(v)
	}
	for k, v := range env {
		scope[k] = v
	}
	out, err := exprlang.Run(program, scope)
	if err != nil {
		return false, errs.Wrap(errs.InvalidArgument, "teg.condition", errs.Evaluation("expr", c.Expr, "", err), "evaluate condition")
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, errs.New(errs.InvalidArgument, "teg.condition", "condition %q returned %T", c.Expr, out)
	}
	return ok, nil
}

// EligibleContinuations returns the continuation targets of from whose
// conditions hold, in byte order. Unconditional edges are always eligible.
func (g *Graph) EligibleContinuations(from ids.EffectID, env map[string]any) ([]ids.EffectID, error) {
	src, ok := g.Effects[from]
	if !ok {
		return nil, errs.New(errs.NotFound, "teg.eligible_continuations", "effect %s not found", from.Short())
	}
	out := []ids.EffectID{}
	for _, edge := range g.ContinuationEdges() {
		if edge.From != from {
			continue
		}
		cond := g.Continuations[edge]
		if cond == nil {
			out = append(out, edge.To)
			continue
		}
		ok, err := cond.Evaluate(src.Parameters, env)
		if err != nil {
			return nil, fmt.Errorf("continuation %s -> %s: %w", edge.From.Short(), edge.To.Short(), err)
		}
		if ok {
			out = append(out, edge.To)
		}
	}
	return out, nil
}
