package errs

import (
	"errors"
	"fmt"
)

// EvaluationError describes a failure inside an expression engine (expr,
// CEL, or JavaScript). It is usually the cause of an *Error.
type EvaluationError struct {
	// Engine names the evaluator: "expr", "cel", or "js".
	Engine string

	// Expr is the source that failed.
	Expr string

	// Scope identifies what was being evaluated (an edge, a relationship).
	Scope string

	Err error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s evaluator %s scope=%s: %v", e.Engine, describeExpression(e.Expr), e.Scope, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func describeExpression(expr string) string {
	if expr == "" {
		return "<empty>"
	}
	if len(expr) > 64 {
		return fmt.Sprintf("%q...", expr[:64])
	}
	return fmt.Sprintf("%q", expr)
}

// Evaluation wraps err as an EvaluationError, filling in fields an inner
// EvaluationError left empty.
func Evaluation(engine, expr, scope string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		if evalErr.Engine == "" {
			evalErr.Engine = engine
		}
		if evalErr.Expr == "" {
			evalErr.Expr = expr
		}
		if evalErr.Scope == "" {
			evalErr.Scope = scope
		}
		return evalErr
	}
	return &EvaluationError{Engine: engine, Expr: expr, Scope: scope, Err: err}
}
