// Package signing issues per-agent ed25519 keys and checks signed purchase requests.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/domain"
)

// Algorithm is reported next to published public keys.
const Algorithm = "ed25519"

// Payload is the part of a purchase request covered by the signature.
type Payload struct {
	AgentID    string
	MerchantID string
	Amount     decimal.Decimal
	Currency   string
	Nonce      string
	Timestamp  time.Time
}

// Message renders agent|merchant|amount|currency|nonce|timestamp. Signer and
// verifier must agree on it byte for byte.
func (p Payload) Message() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		p.AgentID, p.MerchantID, p.Amount.StringFixed(2), p.Currency, p.Nonce,
		p.Timestamp.UTC().Format(time.RFC3339)))
}

// GenerateKey returns a base64 public key and the base64 seed of its private key.
func GenerateKey() (publicKey, privateKey string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("signing: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub), base64.StdEncoding.EncodeToString(priv.Seed()), nil
}

func Sign(privateKey string, p Payload) (string, error) {
	seed, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil || len(seed) != ed25519.SeedSize {
		return "", domain.NewValidationError("private_key", "must be a base64 ed25519 seed")
	}
	sig := ed25519.Sign(ed25519.NewKeyFromSeed(seed), p.Message())
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify fails with domain.ErrInvalidSignature for a malformed or wrong signature.
func Verify(publicKey string, p Payload, signature string) error {
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("agent %s has no usable public key: %w", p.AgentID, domain.ErrInvalidSignature)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("malformed signature: %w", domain.ErrInvalidSignature)
	}
	if !ed25519.Verify(pub, p.Message(), sig) {
		return domain.ErrInvalidSignature
	}
	return nil
}
