package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

var tokenSecret = []byte("test-secret")

func TestTokenOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, alice, "hello")
	f.m.Verifier().SetTokenSecret(tokenSecret)
	expires := f.clk.Now().Add(time.Hour)

	good, err := IssueOwnershipToken(tokenSecret, alice, r.ID, r.Head(), expires)
	require.NoError(t, err)
	wrongSubject, err := IssueOwnershipToken(tokenSecret, bob, r.ID, r.Head(), expires)
	require.NoError(t, err)
	var other ids.RegisterID
	other[0] = 1
	wrongRegister, err := IssueOwnershipToken(tokenSecret, alice, other, r.Head(), expires)
	require.NoError(t, err)
	wrongSecret, err := IssueOwnershipToken([]byte("nope"), alice, r.ID, r.Head(), expires)
	require.NoError(t, err)
	staleHead, err := IssueOwnershipToken(tokenSecret, alice, r.ID, ids.OperationID{}, expires)
	require.NoError(t, err)
	expired, err := IssueOwnershipToken(tokenSecret, alice, r.ID, r.Head(), f.clk.Now().Add(-time.Minute))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"valid", good, true},
		{"subject is not initiator", wrongSubject, false},
		{"register claim names another register", wrongRegister, false},
		{"signed with another secret", wrongSecret, false},
		{"head claim names an earlier state", staleHead, false},
		{"expired", expired, false},
		{"garbage", "not-a-jwt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewStateChange(OpLock, alice, r.ID)
			ok, err := f.m.Verifier().Verify(ctx, r, op, TokenOwnership{Token: tt.token})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestTokenOwnershipWithoutSecret(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, alice, "hello")
	token, err := IssueOwnershipToken(tokenSecret, alice, r.ID, r.Head(), f.clk.Now().Add(time.Hour))
	require.NoError(t, err)

	ok, err := f.m.Verifier().Verify(context.Background(), r, NewStateChange(OpLock, alice, r.ID), TokenOwnership{Token: token})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCapabilityChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, alice, "hello")
	expires := f.clk.Now().Add(time.Hour)

	link := func(issuer, subject Address, caps ...string) string {
		s, err := IssueCapability(f.keys[issuer], issuer, subject, caps, ids.RegisterID{}, ids.OperationID{}, expires)
		require.NoError(t, err)
		return s
	}

	aliceToBob := link(alice, bob, "update", "lock")
	bobToCarol := link(bob, carol, "update")
	bobEscalates := link(bob, carol, "update", "transfer")
	carolSelfIssued := link(carol, carol, "update")
	forgedAsAlice, err := IssueCapability(f.keys[carol], alice, bob, []string{"update"}, ids.RegisterID{}, ids.OperationID{}, expires)
	require.NoError(t, err)
	scopedElsewhere, err := IssueCapability(f.keys[alice], alice, carol, []string{"update"}, ids.RegisterID{1}, ids.OperationID{}, expires)
	require.NoError(t, err)

	update := NewUpdate(carol, r.ID, Contents{Kind: "bytes", Data: []byte("delegated")})

	tests := []struct {
		name  string
		chain CapabilityChain
		want  bool
	}{
		{"two hop delegation", CapabilityChain{Links: []string{aliceToBob, bobToCarol}}, true},
		{"chain does not reach initiator", CapabilityChain{Links: []string{aliceToBob}}, false},
		{"root is not the owner", CapabilityChain{Links: []string{carolSelfIssued}}, false},
		{"delegation widens capabilities", CapabilityChain{Links: []string{aliceToBob, bobEscalates}}, false},
		{"capability not granted", CapabilityChain{Links: []string{aliceToBob, bobToCarol}, Capability: "transfer"}, false},
		{"issuer key mismatch", CapabilityChain{Links: []string{forgedAsAlice, bobToCarol}}, false},
		{"scoped to another register", CapabilityChain{Links: []string{scopedElsewhere}}, false},
		{"empty chain", CapabilityChain{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := f.m.Verifier().Verify(ctx, r, update, tt.chain)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	got, err := f.m.UpdateRegister(ctx, carol, r.ID, *update.Contents, CapabilityChain{Links: []string{aliceToBob, bobToCarol}})
	require.NoError(t, err)
	assert.Equal(t, alice, got.Owner, "delegated writes do not change ownership")
	assert.Equal(t, []byte("delegated"), got.Contents.Data)
}

func TestZKProof(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, alice, "hello")
	op := NewStateChange(OpLock, alice, r.ID)
	proof := ZKProof{System: "groth16", Proof: []byte("proof"), PublicInputs: []byte("inputs")}

	ok, err := f.m.Verifier().Verify(ctx, r, op, proof)
	require.NoError(t, err)
	assert.False(t, ok, "no verifier registered")

	f.m.Verifier().RegisterProofVerifier("groth16", ProofVerifierFunc(
		func(_ context.Context, reg *Register, _ *Operation, p ZKProof) (bool, error) {
			return reg.Owner == alice && string(p.Proof) == "proof", nil
		}))

	ok, err = f.m.Verifier().Verify(ctx, r, op, proof)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.m.Verifier().Verify(ctx, r, op, ZKProof{System: "groth16", Proof: []byte("bad")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMulti(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, alice, "hello")
	op := NewStateChange(OpLock, alice, r.ID)

	good := f.sign(op)
	bad := Signature{Signer: alice, Sig: make([]byte, 64)}

	ok, err := f.m.Verifier().Verify(ctx, r, op, Multi{Methods: []AuthMethod{bad, good}, Threshold: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.m.Verifier().Verify(ctx, r, op, Multi{Methods: []AuthMethod{bad, good}, Threshold: 2})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.m.Verifier().Verify(ctx, r, op, Multi{Methods: []AuthMethod{good}, Threshold: 2})
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))

	_, err = f.m.Verifier().Verify(ctx, r, op, Multi{Methods: []AuthMethod{good}, Threshold: 0})
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}

func TestSignatureUnknownSigner(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, alice, "hello")
	op := NewStateChange(OpLock, alice, r.ID)
	sig := f.sign(op)

	v := NewVerifier()
	ok, err := v.Verify(context.Background(), r, op, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplayedSignatureRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, alice, "hello")

	toBob := NewTransfer(alice, r.ID, bob)
	sig := f.sign(toBob)
	_, err := f.m.TransferRegister(ctx, alice, r.ID, bob, sig)
	require.NoError(t, err)

	back := NewTransfer(bob, r.ID, alice)
	_, err = f.m.TransferRegister(ctx, bob, r.ID, alice, f.sign(back))
	require.NoError(t, err)

	// Alice owns the register again, but her old signature was over an
	// earlier head.
	_, err = f.m.TransferRegister(ctx, alice, r.ID, bob, sig)
	assert.Equal(t, errs.Unauthorized, errs.KindOf(err))

	toBob.Auth = sig
	_, err = f.m.ApplyOperation(ctx, toBob)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))

	got, err := f.m.GetRegister(r.ID)
	require.NoError(t, err)
	assert.Equal(t, alice, got.Owner)
	assert.Len(t, got.History, 3)
}

func TestReplayedTokenRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, alice, "hello")
	f.m.Verifier().SetTokenSecret(tokenSecret)

	token, err := IssueOwnershipToken(tokenSecret, alice, r.ID, r.Head(), f.clk.Now().Add(time.Hour))
	require.NoError(t, err)
	auth := TokenOwnership{Token: token}

	_, err = f.m.LockRegister(ctx, alice, r.ID, auth)
	require.NoError(t, err)
	_, err = f.m.UnlockRegister(ctx, alice, r.ID, auth)
	assert.Equal(t, errs.Unauthorized, errs.KindOf(err))
}

func TestPinnedCapabilityLinkIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, alice, "hello")

	link, err := IssueCapability(f.keys[alice], alice, bob, []string{"update"}, r.ID, r.Head(), f.clk.Now().Add(time.Hour))
	require.NoError(t, err)
	chain := CapabilityChain{Links: []string{link}}

	_, err = f.m.UpdateRegister(ctx, bob, r.ID, Contents{Kind: "bytes", Data: []byte("one")}, chain)
	require.NoError(t, err)
	_, err = f.m.UpdateRegister(ctx, bob, r.ID, Contents{Kind: "bytes", Data: []byte("two")}, chain)
	assert.Equal(t, errs.Unauthorized, errs.KindOf(err))
}
