package authorizer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/audit"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/engine"
	"github.com/xela07ax/agentspend/internal/infra/signing"
	"github.com/xela07ax/agentspend/internal/repository"
	"go.uber.org/zap"
)

// VerifyRequest is a signed purchase intent presented by a merchant before checkout.
type VerifyRequest struct {
	AgentID    string          `json:"agent_id"`
	MerchantID string          `json:"merchant_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Nonce      string          `json:"nonce"`
	Timestamp  time.Time       `json:"timestamp"`
	Signature  string          `json:"signature"`
}

type VerifyChecks struct {
	SignatureValid      bool `json:"signature_valid"`
	NonceFresh          bool `json:"nonce_fresh"`
	WithinSpendingLimit bool `json:"within_spending_limit"`
	AgentActive         bool `json:"agent_active"`
}

type VerifyResult struct {
	AgentID       string       `json:"agent_id"`
	Authenticated bool         `json:"authenticated"`
	Authorized    bool         `json:"authorized"`
	Checks        VerifyChecks `json:"checks"`
	Reason        string       `json:"reason,omitempty"`
}

func (r *VerifyRequest) validate() error {
	r.AgentID = strings.TrimSpace(r.AgentID)
	r.Nonce = strings.TrimSpace(r.Nonce)
	if r.Currency == "" {
		r.Currency = domain.DefaultCurrency
	}
	switch {
	case r.AgentID == "":
		return domain.NewValidationError("agent_id", "is required")
	case strings.TrimSpace(r.MerchantID) == "":
		return domain.NewValidationError("merchant_id", "is required")
	case !r.Amount.IsPositive():
		return domain.NewValidationError("amount", "must be positive")
	case r.Nonce == "":
		return domain.NewValidationError("nonce", "is required")
	case r.Timestamp.IsZero():
		return domain.NewValidationError("timestamp", "is required")
	case r.Signature == "":
		return domain.NewValidationError("signature", "is required")
	}
	return nil
}

// Verify checks a signed intent without reserving funds. A valid signature
// burns the nonce even when another check fails; a forged one leaves it unused.
func (a *Authorizer) Verify(ctx context.Context, actor domain.Actor, req VerifyRequest) (*VerifyResult, error) {
	start := time.Now()
	if err := req.validate(); err != nil {
		return nil, err
	}

	res := &VerifyResult{AgentID: req.AgentID}
	err := a.withAgent(ctx, req.AgentID, func(tx repository.AgentTx) error {
		*res = VerifyResult{AgentID: req.AgentID}
		agent, err := tx.Agent(ctx)
		if err != nil {
			return err
		}
		res.Checks.AgentActive = agent.IsActive() && !(a.revoked != nil && a.revoked.IsRevoked(agent.ID))
		res.Checks.WithinSpendingLimit = !req.Amount.GreaterThan(agent.SpendingLimits.PerTransaction)

		err = signing.Verify(agent.PublicKey, signing.Payload{
			AgentID:    agent.ID,
			MerchantID: req.MerchantID,
			Amount:     req.Amount,
			Currency:   req.Currency,
			Nonce:      req.Nonce,
			Timestamp:  req.Timestamp,
		}, req.Signature)
		if err != nil {
			if !errors.Is(err, domain.ErrInvalidSignature) {
				return err
			}
			res.Reason = "invalid signature"
			return nil
		}
		res.Checks.SignatureValid = true
		res.Authenticated = true

		res.Checks.NonceFresh, err = tx.ConsumeNonce(ctx, req.Nonce, a.now())
		if err != nil {
			return err
		}

		switch {
		case !res.Checks.NonceFresh:
			res.Reason = domain.ErrReplayedNonce.Error()
		case !res.Checks.AgentActive:
			res.Reason = "agent is " + string(agent.Status)
			if agent.IsActive() {
				res.Reason = "agent is revoked"
			}
		case !res.Checks.WithinSpendingLimit:
			res.Reason = "amount " + req.Amount.StringFixed(2) + " exceeds limit " + agent.SpendingLimits.PerTransaction.StringFixed(2)
		default:
			res.Authorized = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome := "denied"
	if res.Authorized {
		outcome = "approved"
	}
	a.auditor.Log(audit.Event{
		TraceID:    engine.TraceID(ctx),
		ActorID:    actor.UserID,
		AgentID:    req.AgentID,
		MerchantID: req.MerchantID,
		Action:     audit.ActionVerify,
		Outcome:    outcome,
		Reason:     res.Reason,
		Payload:    map[string]interface{}{"amount": req.Amount.StringFixed(2), "nonce": req.Nonce},
		DurationMs: time.Since(start).Milliseconds(),
	})
	if !res.Authorized {
		a.logger.Info("signed intent rejected",
			zap.String("agent_id", req.AgentID), zap.String("reason", res.Reason))
	}
	return res, nil
}
