package signing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentspend/internal/domain"
)

func testPayload() Payload {
	return Payload{
		AgentID:    "agent_bot_1",
		MerchantID: "merchant_a",
		Amount:     decimal.RequireFromString("12.5"),
		Currency:   "USD",
		Nonce:      "n-1",
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPayloadMessage(t *testing.T) {
	assert.Equal(t, "agent_bot_1|merchant_a|12.50|USD|n-1|2026-03-01T12:00:00Z", string(testPayload().Message()))
}

func TestSignVerify(t *testing.T) {
	pub, priv, err := GenerateKey()
	require.NoError(t, err)

	p := testPayload()
	sig, err := Sign(priv, p)
	require.NoError(t, err)
	require.NoError(t, Verify(pub, p, sig))

	tampered := p
	tampered.Amount = decimal.NewFromInt(1200)
	assert.ErrorIs(t, Verify(pub, tampered, sig), domain.ErrInvalidSignature)

	otherPub, _, err := GenerateKey()
	require.NoError(t, err)
	assert.ErrorIs(t, Verify(otherPub, p, sig), domain.ErrInvalidSignature)

	assert.ErrorIs(t, Verify(pub, p, "not-base64!"), domain.ErrInvalidSignature)
	assert.ErrorIs(t, Verify("", p, sig), domain.ErrInvalidSignature)

	_, err = Sign("short", p)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
