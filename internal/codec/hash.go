package codec

import (
	"crypto/sha256"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainDomain       = "causality/domain/v1"
	DomainResource     = "causality/resource/v1"
	DomainEffect       = "causality/effect/v1"
	DomainHandler      = "causality/handler/v1"
	DomainIntent       = "causality/intent/v1"
	DomainExpr         = "causality/expr/v1"
	DomainEntity       = "causality/entity/v1"
	DomainRegister     = "causality/register/v1"
	DomainRelationship = "causality/relationship/v1"
	DomainOperation    = "causality/operation/v1"
	DomainConstraint   = "causality/constraint/v1"
	DomainTransaction  = "causality/transaction/v1"
	DomainSMTValue     = "causality/smt-value/v1"
)

// HashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ContentView returns the encoding of v used for hashing: the canonical
// encoding with every string NFC-normalized.
func ContentView(v Marshaler) []byte {
	e := newContentEncoder()
	v.EncodeTo(e)
	return e.Bytes()
}

// ContentHash returns the 32-byte content hash of v under domain.
func ContentHash(domain string, v Marshaler) [32]byte {
	return HashWithDomain(domain, ContentView(v))
}

// Func adapts an encoding function to a Marshaler.
type Func func(e *Encoder)

// EncodeTo implements Marshaler.
func (f Func) EncodeTo(e *Encoder) { f(e) }
