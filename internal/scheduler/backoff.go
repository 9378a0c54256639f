package scheduler

import (
	"fmt"
	"math"
	"time"

	"github.com/timewave-computer/causality-sub006/internal/errs"
)

// BackoffKind selects how retry delays grow.
type BackoffKind uint8

const (
	BackoffFixed BackoffKind = iota
	BackoffLinear
	BackoffExponential
)

var backoffNames = [...]string{
	BackoffFixed:       "fixed",
	BackoffLinear:      "linear",
	BackoffExponential: "exponential",
}

func (k BackoffKind) String() string {
	if int(k) < len(backoffNames) {
		return backoffNames[k]
	}
	return "unknown"
}

// ParseBackoffKind returns the kind named s.
func ParseBackoffKind(s string) (BackoffKind, error) {
	for i, name := range backoffNames {
		if name == s {
			return BackoffKind(i), nil
		}
	}
	return 0, errs.New(errs.InvalidArgument, "scheduler.parse_backoff", "unknown backoff %q", s)
}

// Backoff computes the delay before a retry.
//
// Fixed waits Initial every time. Linear waits Initial + Increment*n and
// Exponential waits Initial * Multiplier^n, both capped at Max.
type Backoff struct {
	Kind       BackoffKind
	Initial    time.Duration
	Increment  time.Duration
	Multiplier float64
	Max        time.Duration
}

// Fixed waits d before every retry.
func Fixed(d time.Duration) Backoff {
	return Backoff{Kind: BackoffFixed, Initial: d, Max: d}
}

// Linear grows the delay by increment per attempt up to max.
func Linear(initial, increment, max time.Duration) Backoff {
	return Backoff{Kind: BackoffLinear, Initial: initial, Increment: increment, Max: max}
}

// Exponential multiplies the delay per attempt up to max.
func Exponential(initial time.Duration, multiplier float64, max time.Duration) Backoff {
	return Backoff{Kind: BackoffExponential, Initial: initial, Multiplier: multiplier, Max: max}
}

// Calculate returns the delay for attempt n, counting from 0. The result
// never exceeds Max (Initial for Fixed).
func (b Backoff) Calculate(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	var d time.Duration
	switch b.Kind {
	case BackoffLinear:
		d = b.Initial + b.Increment*time.Duration(n)
		if b.Increment > 0 && (d < b.Initial || d/b.Increment < time.Duration(n)) {
			d = b.Max
		}
	case BackoffExponential:
		f := float64(b.Initial) * math.Pow(b.Multiplier, float64(n))
		if math.IsInf(f, 0) || math.IsNaN(f) || f >= float64(math.MaxInt64) {
			d = b.Max
		} else {
			d = time.Duration(f)
		}
	default:
		return b.Initial
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Validate reports a configuration the calculator cannot honor.
func (b Backoff) Validate() error {
	const op = "scheduler.backoff"
	switch {
	case b.Initial <= 0:
		return errs.New(errs.InvalidArgument, op, "initial delay must be > 0")
	case b.Kind == BackoffFixed:
		return nil
	case b.Max < b.Initial:
		return errs.New(errs.InvalidArgument, op, "max %s is below initial %s", b.Max, b.Initial)
	case b.Kind == BackoffLinear && b.Increment < 0:
		return errs.New(errs.InvalidArgument, op, "increment must be >= 0")
	case b.Kind == BackoffExponential && b.Multiplier < 1:
		return errs.New(errs.InvalidArgument, op, "multiplier must be >= 1")
	case b.Kind > BackoffExponential:
		return errs.New(errs.InvalidArgument, op, "unknown backoff kind %d", b.Kind)
	}
	return nil
}

func (b Backoff) String() string {
	switch b.Kind {
	case BackoffFixed:
		return fmt.Sprintf("fixed(%s)", b.Initial)
	case BackoffLinear:
		return fmt.Sprintf("linear(%s, +%s, max %s)", b.Initial, b.Increment, b.Max)
	default:
		return fmt.Sprintf("exponential(%s, x%g, max %s)", b.Initial, b.Multiplier, b.Max)
	}
}
