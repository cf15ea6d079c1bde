package authorizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/infra/signing"
	"github.com/xela07ax/agentspend/internal/repository"
)

// issueKey gives agent_1 a signing key and returns the private half.
func (f *fixture) issueKey(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	pub, priv, err := signing.GenerateKey()
	require.NoError(t, err)
	a := f.agent(t)
	a.PublicKey = pub
	require.NoError(t, f.store.WithAgent(ctx, a.ID, func(tx repository.AgentTx) error { return tx.UpdateAgent(ctx, a) }))
	return priv
}

func (f *fixture) signed(t *testing.T, priv, merchant, amount, nonce string) Request {
	t.Helper()
	ts := f.clock.Add(-time.Second)
	sig, err := signing.Sign(priv, signing.Payload{
		AgentID: "agent_1", MerchantID: merchant, Amount: money(amount),
		Currency: domain.DefaultCurrency, Nonce: nonce, Timestamp: ts,
	})
	require.NoError(t, err)
	return Request{AgentID: "agent_1", MerchantID: merchant, Amount: money(amount), Nonce: nonce, Timestamp: &ts, Signature: sig}
}

func TestAuthorize_SignedRequest(t *testing.T) {
	f := newFixture(t, "1000", WithSignatureRequired(true))
	ctx := context.Background()
	priv := f.issueKey(t)

	_, err := f.buy("M", "10")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature, "unsigned request")

	req := f.signed(t, priv, "M", "10", "n-1")
	d, err := f.auth.Authorize(ctx, owner, req)
	require.NoError(t, err)
	assert.True(t, d.Approved)

	_, err = f.auth.Authorize(ctx, owner, req)
	assert.ErrorIs(t, err, domain.ErrReplayedNonce)

	tampered := f.signed(t, priv, "M", "10", "n-2")
	tampered.Amount = money("99")
	d, err = f.auth.Authorize(ctx, owner, tampered)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	require.NotNil(t, d)
	assert.False(t, d.Approved)

	noNonce := f.signed(t, priv, "M", "10", "n-3")
	noNonce.Nonce = ""
	_, err = f.auth.Authorize(ctx, owner, noNonce)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAuthorize_DeniedAttemptLeavesNonceUnused(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	priv := f.issueKey(t)

	_, err := f.auth.Authorize(ctx, owner, f.signed(t, priv, "P", "10", "n-1"))
	require.ErrorIs(t, err, domain.ErrMerchantNotApproved)

	_, err = f.auth.Authorize(ctx, owner, f.signed(t, priv, "M", "10", "n-1"))
	assert.NoError(t, err)
}

func TestAuthorize_Velocity(t *testing.T) {
	f := newFixture(t, "1000", WithVelocityLimit(3))

	for i := 0; i < 3; i++ {
		_, err := f.buy("M", "1")
		require.NoError(t, err)
	}
	d, err := f.buy("M", "1")
	assert.ErrorIs(t, err, domain.ErrVelocityExceeded)
	require.NotNil(t, d)
	assert.Equal(t, "velocity", reasonCode(err))

	f.clock = f.clock.Add(61 * time.Second)
	_, err = f.buy("M", "1")
	assert.NoError(t, err, "window moved past the burst")
}

func TestVerify(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	priv := f.issueKey(t)

	intent := func(amount, nonce string) VerifyRequest {
		r := f.signed(t, priv, "M", amount, nonce)
		return VerifyRequest{AgentID: r.AgentID, MerchantID: r.MerchantID, Amount: r.Amount, Nonce: r.Nonce, Timestamp: *r.Timestamp, Signature: r.Signature}
	}

	res, err := f.auth.Verify(ctx, shopM, intent("10", "v-1"))
	require.NoError(t, err)
	assert.True(t, res.Authenticated)
	assert.True(t, res.Authorized)
	assert.Equal(t, VerifyChecks{SignatureValid: true, NonceFresh: true, WithinSpendingLimit: true, AgentActive: true}, res.Checks)

	res, err = f.auth.Verify(ctx, shopM, intent("10", "v-1"))
	require.NoError(t, err)
	assert.False(t, res.Authorized)
	assert.False(t, res.Checks.NonceFresh)

	res, err = f.auth.Verify(ctx, shopM, intent("150", "v-2"))
	require.NoError(t, err)
	assert.True(t, res.Authenticated)
	assert.False(t, res.Authorized)
	assert.False(t, res.Checks.WithinSpendingLimit)
	assert.Contains(t, res.Reason, "exceeds limit")

	forged := intent("10", "v-3")
	forged.Amount = money("11")
	res, err = f.auth.Verify(ctx, shopM, forged)
	require.NoError(t, err)
	assert.False(t, res.Authenticated)
	assert.Equal(t, "invalid signature", res.Reason)

	res, err = f.auth.Verify(ctx, shopM, intent("10", "v-3"))
	require.NoError(t, err)
	assert.True(t, res.Authorized, "forged attempt did not burn the nonce")

	_, err = f.auth.Verify(ctx, shopM, VerifyRequest{AgentID: "agent_1"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	bad := intent("10", "v-4")
	bad.AgentID = "ghost"
	_, err = f.auth.Verify(ctx, shopM, bad)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
