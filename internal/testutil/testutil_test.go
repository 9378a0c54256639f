package testutil

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_Advance(t *testing.T) {
	c := NewManualClock(time.Time{})
	assert.Equal(t, Epoch0, c.Now())

	got := c.Advance(30 * time.Second)
	assert.Equal(t, Epoch0.Add(30*time.Second), got)
	assert.Equal(t, got, c.Now())

	c.Set(Epoch0)
	assert.Equal(t, Epoch0, c.Now())
}

func TestKeyFor_Deterministic(t *testing.T) {
	pub1, priv1 := KeyFor("0xAAA")
	pub2, _ := KeyFor("0xAAA")
	pub3, _ := KeyFor("0xBBB")

	assert.Equal(t, pub1, pub2)
	assert.NotEqual(t, pub1, pub3)

	sig := ed25519.Sign(priv1, []byte("msg"))
	assert.True(t, ed25519.Verify(pub1, []byte("msg"), sig))
}

func TestFixedTraceGenerator(t *testing.T) {
	assert.Equal(t, "t-1", NewFixedTraceGenerator("t-1").Generate())
	assert.Equal(t, "test-trace-default", NewFixedTraceGenerator("").Generate())
}
