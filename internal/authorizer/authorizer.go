// Package authorizer approves agent purchases and settles them on behalf of merchants.
package authorizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/audit"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/engine"
	"github.com/xela07ax/agentspend/internal/infra/signing"
	"github.com/xela07ax/agentspend/internal/repository"
	"github.com/xela07ax/agentspend/internal/risk"
	"go.uber.org/zap"
)

const (
	dailyWindow    = 24 * time.Hour
	monthlyWindow  = 30 * 24 * time.Hour
	velocityWindow = time.Minute
)

type Store interface {
	repository.UnitOfWork
	repository.TransactionRepository
}

// Revocations is the fast-path view of revoked agents.
type Revocations interface {
	IsRevoked(agentID string) bool
}

type Request struct {
	AgentID     string          `json:"agent_id"`
	MerchantID  string          `json:"merchant_id"`
	Amount      decimal.Decimal `json:"amount"`
	CheckoutURL string          `json:"checkout_url"`
	Items       []string        `json:"items"`

	// Optional replay protection and ed25519 proof of origin.
	Nonce     string     `json:"nonce,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Signature string     `json:"signature,omitempty"`
}

type Decision struct {
	Approved    bool                     `json:"approved"`
	Status      domain.TransactionStatus `json:"status"`
	RiskScore   int                      `json:"risk_score"`
	Reason      string                   `json:"reason,omitempty"`
	Transaction *domain.Transaction      `json:"transaction,omitempty"`
}

type Authorizer struct {
	store   Store
	scorer  engine.RiskScorer
	policy  *risk.Policy
	revoked Revocations
	metrics *engine.Metrics
	auditor audit.Auditor
	logger  *zap.Logger
	retries uint
	// velocity caps recorded transactions per agent per minute; 0 disables it.
	velocity   int
	requireSig bool
	now        func() time.Time
}

type Option func(*Authorizer)

// WithConflictRetries bounds how often a lost race is retried from the top.
func WithConflictRetries(n uint) Option {
	return func(a *Authorizer) {
		if n > 0 {
			a.retries = n
		}
	}
}

// WithVelocityLimit declines a purchase once the agent already has n
// transactions in the last minute.
func WithVelocityLimit(n int) Option { return func(a *Authorizer) { a.velocity = n } }

// WithSignatureRequired declines unsigned purchases.
func WithSignatureRequired(required bool) Option {
	return func(a *Authorizer) { a.requireSig = required }
}

func WithRevocations(r Revocations) Option { return func(a *Authorizer) { a.revoked = r } }

func WithMetrics(m *engine.Metrics) Option { return func(a *Authorizer) { a.metrics = m } }

func WithAuditor(au audit.Auditor) Option { return func(a *Authorizer) { a.auditor = au } }

func WithClock(now func() time.Time) Option { return func(a *Authorizer) { a.now = now } }

func New(store Store, scorer engine.RiskScorer, policy *risk.Policy, logger *zap.Logger, opts ...Option) *Authorizer {
	a := &Authorizer{
		store:   store,
		scorer:  scorer,
		policy:  policy,
		auditor: audit.Nop{},
		logger:  logger.Named("authorizer"),
		retries: 3,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = engine.NewMetrics(nil)
	}
	return a
}

func validate(req *Request) error {
	req.AgentID = strings.TrimSpace(req.AgentID)
	req.MerchantID = strings.TrimSpace(req.MerchantID)
	if req.AgentID == "" {
		return domain.NewValidationError("agent_id", "is required")
	}
	if req.MerchantID == "" {
		return domain.NewValidationError("merchant_id", "is required")
	}
	if !req.Amount.IsPositive() {
		return domain.NewValidationError("amount", "must be positive")
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return domain.NewValidationError("amount", "must have at most 2 decimal places")
	}
	if req.Items == nil {
		req.Items = []string{}
	}
	req.Nonce = strings.TrimSpace(req.Nonce)
	if req.Signature != "" {
		if req.Nonce == "" {
			return domain.NewValidationError("nonce", "is required with a signature")
		}
		if req.Timestamp == nil {
			return domain.NewValidationError("timestamp", "is required with a signature")
		}
	}
	return nil
}

// withAgent runs fn in the agent's atomic section, retrying lost races.
func (a *Authorizer) withAgent(ctx context.Context, agentID string, fn func(tx repository.AgentTx) error) error {
	return retry.New(
		retry.Context(ctx),
		retry.Attempts(a.retries),
		retry.Delay(10*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(domain.Retryable),
		retry.OnRetry(func(n uint, err error) {
			a.logger.Warn("agent section conflict, retrying",
				zap.String("agent_id", agentID), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	).Do(func() error {
		return a.store.WithAgent(ctx, agentID, fn)
	})
}

// Authorize runs every check inside the agent's atomic section and reserves
// the amount as a pending transaction. A policy denial returns both the
// Decision and the error.
func (a *Authorizer) Authorize(ctx context.Context, actor domain.Actor, req Request) (*Decision, error) {
	start := time.Now()
	if err := validate(&req); err != nil {
		return nil, err
	}

	decision := &Decision{Status: domain.TxFailed}
	err := a.authorize(ctx, actor, req, decision)
	a.record(ctx, actor, req, decision, err, start)
	if err != nil {
		if domain.KindOf(err) == domain.KindPolicy {
			decision.Reason = err.Error()
			return decision, err
		}
		return nil, err
	}
	return decision, nil
}

func (a *Authorizer) authorize(ctx context.Context, actor domain.Actor, req Request, d *Decision) error {
	if a.revoked != nil && a.revoked.IsRevoked(req.AgentID) {
		return fmt.Errorf("agent %s: %w", req.AgentID, domain.ErrAgentInactive)
	}

	return a.withAgent(ctx, req.AgentID, func(tx repository.AgentTx) error {
		now := a.now()
		agent, err := tx.Agent(ctx)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && agent.OwnerUserID != actor.UserID {
			return fmt.Errorf("agent %s: %w", agent.ID, domain.ErrForbidden)
		}
		if !agent.IsActive() {
			return fmt.Errorf("agent %s is %s: %w", agent.ID, agent.Status, domain.ErrAgentInactive)
		}
		if err := a.checkOrigin(agent, req); err != nil {
			return err
		}
		if req.Nonce != "" {
			fresh, err := tx.ConsumeNonce(ctx, req.Nonce, now)
			if err != nil {
				return err
			}
			if !fresh {
				return fmt.Errorf("agent %s nonce %q: %w", agent.ID, req.Nonce, domain.ErrReplayedNonce)
			}
		}

		merchant, err := tx.Merchant(ctx, req.MerchantID)
		if err != nil {
			return err
		}
		if !merchant.IsApproved() {
			return fmt.Errorf("merchant %s is %s: %w", merchant.ID, merchant.Status, domain.ErrMerchantNotApproved)
		}

		blocked, err := tx.HasActiveBlock(ctx, merchant.ID)
		if err != nil {
			return err
		}
		if blocked {
			return fmt.Errorf("agent %s at merchant %s: %w", agent.ID, merchant.ID, domain.ErrAgentBlocked)
		}

		if a.velocity > 0 {
			recent, err := tx.CountSince(ctx, now.Add(-velocityWindow))
			if err != nil {
				return err
			}
			if recent >= a.velocity {
				return fmt.Errorf("agent %s has %d: %w", agent.ID, recent, domain.ErrVelocityExceeded)
			}
		}

		limits := agent.SpendingLimits
		if req.Amount.GreaterThan(limits.PerTransaction) {
			return &domain.LimitExceededError{Limit: domain.LimitPerTransaction, Max: limits.PerTransaction, Attempted: req.Amount}
		}

		if err := checkWindow(ctx, tx, now.Add(-dailyWindow), req.Amount, limits.Daily, domain.LimitDaily); err != nil {
			return err
		}
		if err := checkWindow(ctx, tx, now.Add(-monthlyWindow), req.Amount, limits.Monthly, domain.LimitMonthly); err != nil {
			return err
		}

		reserved, err := tx.PendingTotal(ctx)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(agent.RemainingBalance.Sub(reserved)) {
			return fmt.Errorf("amount %s exceeds available %s: %w",
				req.Amount.StringFixed(2), agent.RemainingBalance.Sub(reserved).StringFixed(2), domain.ErrInsufficientBalance)
		}

		history, err := tx.History(ctx, now)
		if err != nil {
			return err
		}
		d.RiskScore = a.scorer.Score(risk.Input{Agent: agent, Merchant: merchant, Amount: req.Amount, History: history})
		if a.policy.Exceeds(agent.ID, d.RiskScore) {
			return fmt.Errorf("score %d: %w", d.RiskScore, domain.ErrRiskThreshold)
		}

		t := &domain.Transaction{
			ID:          uuid.NewString(),
			AgentID:     agent.ID,
			MerchantID:  merchant.ID,
			Amount:      req.Amount,
			Currency:    domain.DefaultCurrency,
			Status:      domain.TxPending,
			CheckoutURL: req.CheckoutURL,
			Items:       req.Items,
			RiskScore:   d.RiskScore,
			CreatedAt:   now,
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}

		d.Approved = true
		d.Status = domain.TxPending
		d.Transaction = t
		return nil
	})
}

// checkOrigin verifies the request signature against the agent's public key.
func (a *Authorizer) checkOrigin(agent *domain.Agent, req Request) error {
	if req.Signature == "" {
		if a.requireSig {
			return fmt.Errorf("agent %s: signature required: %w", agent.ID, domain.ErrInvalidSignature)
		}
		return nil
	}
	return signing.Verify(agent.PublicKey, signing.Payload{
		AgentID:    agent.ID,
		MerchantID: req.MerchantID,
		Amount:     req.Amount,
		Currency:   domain.DefaultCurrency,
		Nonce:      req.Nonce,
		Timestamp:  *req.Timestamp,
	}, req.Signature)
}

// checkWindow fails when what the window already holds plus amount passes limit.
// The window holds pending reservations as well as completed purchases, so
// parallel pending requests cannot get past the limit together.
func checkWindow(ctx context.Context, tx repository.AgentTx, since time.Time, amount, limit decimal.Decimal, kind domain.LimitKind) error {
	spent, err := tx.Exposure(ctx, since)
	if err != nil {
		return err
	}
	if attempted := spent.Add(amount); attempted.GreaterThan(limit) {
		return &domain.LimitExceededError{Limit: kind, Max: limit, Attempted: attempted}
	}
	return nil
}

func (a *Authorizer) record(ctx context.Context, actor domain.Actor, req Request, d *Decision, err error, start time.Time) {
	outcome, reason := "approved", ""
	if err != nil {
		outcome, reason = "denied", reasonCode(err)
		if domain.KindOf(err) != domain.KindPolicy {
			outcome = "error"
		}
	}
	a.metrics.AuthorizationTotal.WithLabelValues(outcome, reason).Inc()
	if d.RiskScore > 0 || err == nil {
		a.metrics.RiskScore.WithLabelValues("authorization").Observe(float64(d.RiskScore))
	}

	ev := audit.Event{
		TraceID:    engine.TraceID(ctx),
		ActorID:    actor.UserID,
		AgentID:    req.AgentID,
		MerchantID: req.MerchantID,
		Action:     audit.ActionAuthorize,
		Outcome:    outcome,
		RiskScore:  d.RiskScore,
		Payload:    map[string]interface{}{"amount": req.Amount.StringFixed(2)},
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		ev.Reason = err.Error()
	}
	if d.Transaction != nil {
		ev.Payload["transaction_id"] = d.Transaction.ID
	}
	a.auditor.Log(ev)

	if err != nil {
		a.logger.Info("authorization refused",
			zap.String("agent_id", req.AgentID),
			zap.String("merchant_id", req.MerchantID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

func reasonCode(err error) string {
	var limitErr *domain.LimitExceededError
	switch {
	case errors.As(err, &limitErr):
		return "limit_" + string(limitErr.Limit)
	case errors.Is(err, domain.ErrAgentInactive):
		return "agent_inactive"
	case errors.Is(err, domain.ErrMerchantNotApproved):
		return "merchant_not_approved"
	case errors.Is(err, domain.ErrAgentBlocked):
		return "agent_blocked"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrRiskThreshold):
		return "risk_threshold"
	case errors.Is(err, domain.ErrVelocityExceeded):
		return "velocity"
	case errors.Is(err, domain.ErrReplayedNonce):
		return "replayed_nonce"
	case errors.Is(err, domain.ErrInvalidSignature):
		return "invalid_signature"
	}
	return string(domain.KindOf(err))
}
