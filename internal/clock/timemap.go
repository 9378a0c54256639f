package clock

import (
	"github.com/timewave-computer/causality-sub006/internal/codec"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// Ordering is the result of comparing two time maps.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// TimeMap is a causal snapshot across domains: the highest logical clock
// observed per domain plus the wall timestamp (Unix ms) of that
// observation. Only Clocks take part in ordering; a domain missing from the
// map is at clock 0.
//
// The zero value is an empty map ready to use.
type TimeMap struct {
	Clocks     map[ids.DomainID]uint64
	Timestamps map[ids.DomainID]uint64
}

// NewTimeMap returns an empty time map.
func NewTimeMap() TimeMap {
	return TimeMap{
		Clocks:     make(map[ids.DomainID]uint64),
		Timestamps: make(map[ids.DomainID]uint64),
	}
}

func (t *TimeMap) init() {
	if t.Clocks == nil {
		t.Clocks = make(map[ids.DomainID]uint64)
	}
	if t.Timestamps == nil {
		t.Timestamps = make(map[ids.DomainID]uint64)
	}
}

// Observe raises the clock of domain to at least clk and records ts.
// Observing an older clock is a no-op.
func (t *TimeMap) Observe(domain ids.DomainID, clk, ts uint64) {
	t.init()
	if clk < t.Clocks[domain] {
		return
	}
	t.Clocks[domain] = clk
	if ts > t.Timestamps[domain] {
		t.Timestamps[domain] = ts
	}
}

// Tick advances domain's clock by one and returns the new value.
func (t *TimeMap) Tick(domain ids.DomainID, ts uint64) uint64 {
	t.init()
	next := t.Clocks[domain] + 1
	t.Clocks[domain] = next
	if ts > t.Timestamps[domain] {
		t.Timestamps[domain] = ts
	}
	return next
}

// Clock returns the logical clock recorded for domain.
func (t TimeMap) Clock(domain ids.DomainID) uint64 {
	return t.Clocks[domain]
}

// Merge returns the componentwise maximum of t and other.
func (t TimeMap) Merge(other TimeMap) TimeMap {
	out := t.Clone()
	for d, c := range other.Clocks {
		if c > out.Clocks[d] {
			out.Clocks[d] = c
		}
	}
	for d, ts := range other.Timestamps {
		if ts > out.Timestamps[d] {
			out.Timestamps[d] = ts
		}
	}
	return out
}

// LessOrEqual reports whether every domain clock in t is at most the one in
// other.
func (t TimeMap) LessOrEqual(other TimeMap) bool {
	for d, c := range t.Clocks {
		if c > other.Clocks[d] {
			return false
		}
	}
	return true
}

// Compare places t relative to other in the causal partial order.
func (t TimeMap) Compare(other TimeMap) Ordering {
	le, ge := t.LessOrEqual(other), other.LessOrEqual(t)
	switch {
	case le && ge:
		return Equal
	case le:
		return Before
	case ge:
		return After
	default:
		return Concurrent
	}
}

// Clone returns a deep copy. The copy is always initialized.
func (t TimeMap) Clone() TimeMap {
	out := NewTimeMap()
	for d, c := range t.Clocks {
		out.Clocks[d] = c
	}
	for d, ts := range t.Timestamps {
		out.Timestamps[d] = ts
	}
	return out
}

// EncodeTo implements codec.Marshaler. Zero clocks are omitted so that an
// absent domain and a domain at 0 encode identically.
func (t TimeMap) EncodeTo(e *codec.Encoder) {
	domains := make([]ids.DomainID, 0, len(t.Clocks))
	for d, c := range t.Clocks {
		if c > 0 {
			domains = append(domains, d)
		}
	}
	ids.Sort(domains)
	e.WriteLen(len(domains))
	for _, d := range domains {
		e.Write(d)
		e.WriteU64(t.Clocks[d])
		e.WriteU64(t.Timestamps[d])
	}
}

// DecodeFrom implements codec.Unmarshaler.
func (t *TimeMap) DecodeFrom(d *codec.Decoder) error {
	*t = NewTimeMap()
	n, err := d.ReadLen(ids.Size + 16)
	if err != nil {
		return codec.Errorf("time map", err)
	}
	for i := 0; i < n; i++ {
		var dom ids.DomainID
		if err := d.Read(&dom); err != nil {
			return codec.Errorf("time map", err)
		}
		c, err := d.ReadU64()
		if err != nil {
			return codec.Errorf("time map", err)
		}
		ts, err := d.ReadU64()
		if err != nil {
			return codec.Errorf("time map", err)
		}
		t.Clocks[dom] = c
		if ts > 0 {
			t.Timestamps[dom] = ts
		}
	}
	return nil
}
