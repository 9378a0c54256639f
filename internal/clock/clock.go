// Package clock provides the logical clock, wall-time sources, trace id
// generators, and cross-domain time maps shared by the lifecycle manager,
// the sync scheduler, and the temporal tracker.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Logical is a monotonic sequence counter for event ordering.
//
// Every committed operation is stamped with a strictly increasing seq from
// this clock, so persisted logs replay in commit order regardless of wall
// time.
//
// Thread-safety: Logical is safe for concurrent use (atomic operations).
type Logical struct {
	seq atomic.Int64
}

// NewLogical creates a clock starting at 0. The first Next returns 1.
func NewLogical() *Logical {
	return &Logical{}
}

// NewLogicalAt creates a clock resuming from start.
func NewLogicalAt(start int64) *Logical {
	c := &Logical{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Logical) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Logical) Current() int64 {
	return c.seq.Load()
}

// Source supplies wall-clock time.
type Source interface {
	Now() time.Time
}

// System reads the host clock.
type System struct{}

// Now implements Source.
func (System) Now() time.Time {
	return time.Now()
}

// Monotone wraps a Source so successive readings in milliseconds are
// strictly increasing, even when the underlying source stalls or steps back.
type Monotone struct {
	mu     sync.Mutex
	src    Source
	lastMS int64
}

// NewMonotone wraps src.
func NewMonotone(src Source) *Monotone {
	if src == nil {
		src = System{}
	}
	return &Monotone{src: src}
}

// Now returns a reading at millisecond precision, at least 1ms after the
// previous one.
func (m *Monotone) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.src.Now().UnixMilli()
	if ms <= m.lastMS {
		ms = m.lastMS + 1
	}
	m.lastMS = ms
	return time.UnixMilli(ms).UTC()
}

// Underlying returns the wrapped source.
func (m *Monotone) Underlying() Source {
	return m.src
}
