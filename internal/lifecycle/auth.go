package lifecycle

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// AuthMethod is the sealed set of ways an operation can be authorized.
//
// Implementations: Signature, ZKProof, TokenOwnership, CapabilityChain,
// Multi.
type AuthMethod interface {
	// MethodName returns a short tag for logs.
	MethodName() string

	authMethod()
}

// Signature is an ed25519 signature by Signer over Operation.SigningBytes.
type Signature struct {
	Signer Address
	Sig    []byte
}

// ZKProof is a proof checked by the ProofVerifier registered for System.
type ZKProof struct {
	System       string
	Proof        []byte
	PublicInputs []byte
}

// TokenOwnership is an HS256 JWT issued with the verifier's token secret.
// Its subject must be the initiator, its register claim must name one of
// the operation's targets, and its head claim must match that target's
// head, so a token authorizes one operation.
type TokenOwnership struct {
	Token string
}

// CapabilityChain is a delegation chain of EdDSA JWTs. The first link is
// issued by the register owner, each later link by the previous subject,
// and the last subject is the initiator. Every link must grant Capability,
// which defaults to the operation kind. A link scoped to a register may
// also pin its head, which makes it single use.
type CapabilityChain struct {
	Links      []string
	Capability string
}

// Multi succeeds when at least Threshold of Methods verify.
type Multi struct {
	Methods   []AuthMethod
	Threshold int
}

func (Signature) MethodName() string       { return "signature" }
func (ZKProof) MethodName() string         { return "zk_proof" }
func (TokenOwnership) MethodName() string  { return "token_ownership" }
func (CapabilityChain) MethodName() string { return "capability_chain" }
func (Multi) MethodName() string           { return "multi" }

func (Signature) authMethod()       {}
func (ZKProof) authMethod()         {}
func (TokenOwnership) authMethod()  {}
func (CapabilityChain) authMethod() {}
func (Multi) authMethod()           {}

// ProofVerifier checks zero-knowledge authorization proofs for one proof
// system.
type ProofVerifier interface {
	VerifyProof(ctx context.Context, reg *Register, op *Operation, proof ZKProof) (bool, error)
}

// ProofVerifierFunc adapts a function to ProofVerifier.
type ProofVerifierFunc func(ctx context.Context, reg *Register, op *Operation, proof ZKProof) (bool, error)

// VerifyProof implements ProofVerifier.
func (f ProofVerifierFunc) VerifyProof(ctx context.Context, reg *Register, op *Operation, proof ZKProof) (bool, error) {
	return f(ctx, reg, op, proof)
}

// OwnershipClaims are the claims of a TokenOwnership token.
type OwnershipClaims struct {
	jwt.RegisteredClaims
	Register string `json:"register"`
	Head     string `json:"head"`
}

// CapabilityClaims are the claims of one CapabilityChain link.
type CapabilityClaims struct {
	jwt.RegisteredClaims
	Capabilities []string `json:"caps"`
	Register     string   `json:"register,omitempty"`
	Head         string   `json:"head,omitempty"`
}

// Verifier checks authorization methods against a register and operation.
//
// Thread-safety: Verifier is safe for concurrent use. Keys and verifiers
// may be registered while operations are being verified.
type Verifier struct {
	mu          sync.RWMutex
	keys        map[Address]ed25519.PublicKey
	tokenSecret []byte
	proofs      map[string]ProofVerifier
	now         func() time.Time
}

// NewVerifier returns a Verifier with no keys, no token secret, and no
// proof systems. Every method fails until configured.
func NewVerifier() *Verifier {
	return &Verifier{
		keys:   make(map[Address]ed25519.PublicKey),
		proofs: make(map[string]ProofVerifier),
		now:    time.Now,
	}
}

// RegisterKey binds addr to its ed25519 public key.
func (v *Verifier) RegisterKey(addr Address, pub ed25519.PublicKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[addr] = append(ed25519.PublicKey(nil), pub...)
}

// SetTokenSecret sets the HS256 secret for TokenOwnership tokens.
func (v *Verifier) SetTokenSecret(secret []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokenSecret = append([]byte(nil), secret...)
}

// RegisterProofVerifier installs the verifier for a proof system.
func (v *Verifier) RegisterProofVerifier(system string, pv ProofVerifier) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.proofs[system] = pv
}

// SetTimeFunc overrides the clock used for token expiry checks.
func (v *Verifier) SetTimeFunc(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

func (v *Verifier) key(addr Address) (ed25519.PublicKey, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	k, ok := v.keys[addr]
	return k, ok
}

// Verify reports whether m authorizes op against reg. reg is nil for
// creation, where the initiator becomes the owner.
//
// A false result with a nil error means the credential did not check out.
// Errors are reserved for malformed methods.
func (v *Verifier) Verify(ctx context.Context, reg *Register, op *Operation, m AuthMethod) (bool, error) {
	if m == nil {
		return false, nil
	}
	switch am := m.(type) {
	case Signature:
		return v.verifySignature(reg, op, am), nil
	case ZKProof:
		return v.verifyZK(ctx, reg, op, am)
	case TokenOwnership:
		return v.verifyToken(reg, op, am), nil
	case CapabilityChain:
		return v.verifyChain(reg, op, am), nil
	case Multi:
		return v.verifyMulti(ctx, reg, op, am)
	default:
		return false, errs.New(errs.InvalidArgument, "lifecycle.verify", "unsupported authorization method %T", m)
	}
}

// ownedBy reports whether principal may act on reg directly.
func ownedBy(reg *Register, op *Operation, principal Address) bool {
	if principal != op.Initiator {
		return false
	}
	return reg == nil || reg.Owner == principal
}

func (v *Verifier) verifySignature(reg *Register, op *Operation, s Signature) bool {
	if !ownedBy(reg, op, s.Signer) {
		return false
	}
	pub, ok := v.key(s.Signer)
	if !ok || len(s.Sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, op.SigningBytes(), s.Sig)
}

func (v *Verifier) verifyZK(ctx context.Context, reg *Register, op *Operation, p ZKProof) (bool, error) {
	v.mu.RLock()
	pv, ok := v.proofs[p.System]
	v.mu.RUnlock()
	if !ok {
		slog.Debug("no proof verifier registered", "system", p.System)
		return false, nil
	}
	return pv.VerifyProof(ctx, reg, op, p)
}

func (v *Verifier) verifyToken(reg *Register, op *Operation, t TokenOwnership) bool {
	v.mu.RLock()
	secret, now := v.tokenSecret, v.now
	v.mu.RUnlock()
	if len(secret) == 0 {
		return false
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
	)
	claims := &OwnershipClaims{}
	parsed, err := parser.ParseWithClaims(t.Token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		slog.Debug("ownership token rejected", "error", err)
		return false
	}
	if !ownedBy(reg, op, Address(claims.Subject)) {
		return false
	}
	head, ok := pinnedHead(reg, op, claims.Register)
	return ok && claims.Head == head.Hex()
}

func (v *Verifier) verifyChain(reg *Register, op *Operation, c CapabilityChain) bool {
	if len(c.Links) == 0 {
		return false
	}
	capability := c.Capability
	if capability == "" {
		capability = string(op.Kind)
	}
	root := op.Initiator
	if reg != nil {
		root = reg.Owner
	}

	v.mu.RLock()
	now := v.now
	v.mu.RUnlock()
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithTimeFunc(now),
	)

	expectIssuer := root
	var granted []string
	for i, link := range c.Links {
		claims := &CapabilityClaims{}
		parsed, err := parser.ParseWithClaims(link, claims, func(t *jwt.Token) (any, error) {
			cl, ok := t.Claims.(*CapabilityClaims)
			if !ok {
				return nil, errors.New("unexpected claims type")
			}
			pub, ok := v.key(Address(cl.Issuer))
			if !ok {
				return nil, errors.New("unknown issuer " + cl.Issuer)
			}
			return pub, nil
		})
		if err != nil || !parsed.Valid {
			slog.Debug("capability link rejected", "link", i, "error", err)
			return false
		}
		if Address(claims.Issuer) != expectIssuer || claims.Subject == "" {
			return false
		}
		if !slices.Contains(claims.Capabilities, capability) {
			return false
		}
		// Each delegation may only narrow what it received.
		if i > 0 {
			for _, cp := range claims.Capabilities {
				if !slices.Contains(granted, cp) {
					return false
				}
			}
		}
		if claims.Register != "" {
			head, ok := pinnedHead(reg, op, claims.Register)
			if !ok || (claims.Head != "" && claims.Head != head.Hex()) {
				return false
			}
		} else if claims.Head != "" {
			return false
		}
		granted = claims.Capabilities
		expectIssuer = Address(claims.Subject)
	}
	return expectIssuer == op.Initiator
}

func (v *Verifier) verifyMulti(ctx context.Context, reg *Register, op *Operation, m Multi) (bool, error) {
	if m.Threshold < 1 || m.Threshold > len(m.Methods) {
		return false, errs.New(errs.InvalidArgument, "lifecycle.verify",
			"multi threshold %d out of range for %d methods", m.Threshold, len(m.Methods))
	}
	passed := 0
	for _, sub := range m.Methods {
		ok, err := v.Verify(ctx, reg, op, sub)
		if err != nil {
			return false, err
		}
		if ok {
			passed++
			if passed >= m.Threshold {
				return true, nil
			}
		}
	}
	return false, nil
}

// pinnedHead returns the head op is pinned to for the target named by
// registerHex, or false if op has no such target. Without pinned heads it
// falls back to reg's own head.
func pinnedHead(reg *Register, op *Operation, registerHex string) (ids.OperationID, bool) {
	registerHex = strings.ToLower(registerHex)
	for i, t := range op.Targets {
		if t.Hex() != registerHex {
			continue
		}
		switch {
		case i < len(op.Heads):
			return op.Heads[i], true
		case reg != nil && reg.ID == t:
			return reg.Head(), true
		}
		return ids.OperationID{}, true
	}
	return ids.OperationID{}, false
}

// SignOperation signs op for signer.
func SignOperation(priv ed25519.PrivateKey, signer Address, op *Operation) Signature {
	return Signature{Signer: signer, Sig: ed25519.Sign(priv, op.SigningBytes())}
}

// IssueOwnershipToken mints a TokenOwnership token for subject over
// register at head, valid until expires.
func IssueOwnershipToken(secret []byte, subject Address, register ids.RegisterID, head ids.OperationID, expires time.Time) (string, error) {
	claims := OwnershipClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(subject),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Register: register.Hex(),
		Head:     head.Hex(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "lifecycle.issue_token", err, "sign ownership token")
	}
	return signed, nil
}

// IssueCapability mints one CapabilityChain link from issuer to subject.
// A zero register leaves the link unscoped. A non-zero head pins a scoped
// link to that register state.
func IssueCapability(priv ed25519.PrivateKey, issuer, subject Address, caps []string, register ids.RegisterID, head ids.OperationID, expires time.Time) (string, error) {
	claims := CapabilityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    string(issuer),
			Subject:   string(subject),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Capabilities: caps,
	}
	if !register.IsZero() {
		claims.Register = register.Hex()
		if !head.IsZero() {
			claims.Head = head.Hex()
		}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "lifecycle.issue_capability", err, "sign capability link")
	}
	return signed, nil
}
