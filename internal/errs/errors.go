// Package errs defines the error taxonomy shared by every core package.
//
// Errors are classified by Kind, not by Go type. Callers match on kinds with
// Is and KindOf, which see through fmt.Errorf wrapping via errors.As.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind categorizes an error.
type Kind string

const (
	// NotFound indicates the addressed entity is absent.
	NotFound Kind = "NOT_FOUND"

	// InvalidState indicates the operation is not allowed in the current state.
	InvalidState Kind = "INVALID_STATE"

	// InvalidArgument indicates malformed input (a caller bug).
	InvalidArgument Kind = "INVALID_ARGUMENT"

	// Unauthorized indicates an authorization method failed to verify.
	Unauthorized Kind = "UNAUTHORIZED"

	// DoubleSpend indicates the nullifier is already present.
	DoubleSpend Kind = "DOUBLE_SPEND"

	// ValidationFailed indicates a post-operation invariant check failed.
	ValidationFailed Kind = "VALIDATION_FAILED"

	// Conflict indicates an optimistic concurrency mismatch or duplicate.
	Conflict Kind = "CONFLICT"

	// Timeout indicates a suspension exceeded its deadline.
	Timeout Kind = "TIMEOUT"

	// DependencyMissing indicates a required upstream fact was not observed.
	DependencyMissing Kind = "DEPENDENCY_MISSING"

	// Serialization indicates an encode or decode failure.
	Serialization Kind = "SERIALIZATION_ERROR"

	// IO indicates an underlying storage or transport failure.
	IO Kind = "IO_ERROR"

	// Internal indicates an invariant breach.
	Internal Kind = "INTERNAL"
)

// Error is the structured error returned by the core.
//
// The textual shape is deterministic: "KIND: message (op=Op)". Details are
// appended in key order so log lines can be matched programmatically.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Op names the failing operation (e.g. "lifecycle.consume").
	Op string

	// Message is a human-readable description.
	Message string

	// Transient marks failures that may succeed on retry.
	Transient bool

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Op != "" || len(e.Details) > 0 {
		b.WriteString(" (")
		parts := make([]string, 0, len(e.Details)+1)
		if e.Op != "" {
			parts = append(parts, "op="+e.Op)
		}
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, k+"="+e.Details[k])
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// With returns a copy of e carrying an extra detail.
func (e *Error) With(key, value string) *Error {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// New creates an Error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap classifies err under kind. If err already carries a kind it is kept
// as the cause and the outer kind wins.
func Wrap(kind Kind, op string, err error, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NewTransient creates a retryable Error.
func NewTransient(kind Kind, op, format string, args ...any) *Error {
	e := New(kind, op, format, args...)
	e.Transient = true
	return e
}

// KindOf returns the kind of the outermost *Error in err's chain.
// Returns Internal for errors that carry no kind, and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsTransient reports whether err may succeed on retry.
//
// Timeout and DependencyMissing are always transient. Unauthorized,
// ValidationFailed and InvalidArgument never are. Other kinds are transient
// only when flagged.
func IsTransient(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case Timeout, DependencyMissing:
		return true
	case Unauthorized, ValidationFailed, InvalidArgument:
		return false
	default:
		return e.Transient
	}
}
