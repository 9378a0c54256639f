package testutil

import (
	"crypto/ed25519"
	"crypto/sha256"
)

// KeyFor derives a deterministic ed25519 key pair for an address.
//
// The same address always yields the same key, so scenario files can name
// principals ("0xAAA") without carrying key material.
func KeyFor(address string) (ed25519.PublicKey, ed25519.PrivateKey) {
	seed := sha256.Sum256([]byte("testutil-key:" + address))
	priv := ed25519.NewKeyFromSeed(seed[:])
	return priv.Public().(ed25519.PublicKey), priv
}

// FixedTraceGenerator returns the same trace id every time.
//
// Golden outputs compare byte-for-byte, so every fact in a scenario shares
// one known trace id.
//
// Thread-safety: FixedTraceGenerator is stateless and safe for concurrent use.
type FixedTraceGenerator struct {
	token string
}

// NewFixedTraceGenerator creates a generator for token.
// If token is empty, Generate returns "test-trace-default".
func NewFixedTraceGenerator(token string) *FixedTraceGenerator {
	if token == "" {
		token = "test-trace-default"
	}
	return &FixedTraceGenerator{token: token}
}

// Generate returns the fixed trace id.
func (g *FixedTraceGenerator) Generate() string {
	return g.token
}
