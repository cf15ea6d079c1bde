// Package blocks is the append-only ledger of merchant blocks and refund requests.
package blocks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/audit"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/engine"
	"github.com/xela07ax/agentspend/internal/repository"
	"go.uber.org/zap"
)

const (
	revocationRiskPenalty = 20
	revokedReason         = "agent revoked"
)

type Store interface {
	repository.UnitOfWork
	repository.BlockRepository
	repository.MerchantRepository
}

// Revoker broadcasts a committed revocation; killswitch.Manager implements it.
type Revoker interface {
	Revoke(ctx context.Context, agentID string)
}

type Ledger struct {
	store   Store
	revoker Revoker
	auditor audit.Auditor
	logger  *zap.Logger
	now     func() time.Time
}

func NewLedger(store Store, revoker Revoker, auditor audit.Auditor, logger *zap.Logger) *Ledger {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Ledger{
		store:   store,
		revoker: revoker,
		auditor: auditor,
		logger:  logger.Named("blocks"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) withAgent(ctx context.Context, agentID string, fn func(tx repository.AgentTx) error) error {
	return retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(10*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(domain.Retryable),
	).Do(func() error {
		return l.store.WithAgent(ctx, agentID, fn)
	})
}

func (l *Ledger) merchantFor(ctx context.Context, actor domain.Actor, merchantID string) (*domain.Merchant, error) {
	m, err := l.store.GetMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && m.OwnerUserID != actor.UserID {
		return nil, fmt.Errorf("merchant %s: %w", merchantID, domain.ErrForbidden)
	}
	return m, nil
}

// findActiveSimple is called inside the agent section, so the answer is stable until commit.
func (l *Ledger) findActiveSimple(ctx context.Context, agentID, merchantID string) (*domain.BlockRecord, error) {
	records, err := l.store.ListBlockRecords(ctx, domain.BlockFilter{Type: domain.BlockSimple, Status: domain.BlockBlocked})
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.AgentID == agentID && r.MerchantID == merchantID {
			return r, nil
		}
	}
	return nil, nil
}

// BlockAgent stops the agent from buying at this merchant only. Blocking an
// already blocked pair returns the existing record.
func (l *Ledger) BlockAgent(ctx context.Context, actor domain.Actor, merchantID, agentID, reason string) (*domain.BlockRecord, error) {
	if _, err := l.merchantFor(ctx, actor, merchantID); err != nil {
		return nil, err
	}

	var rec *domain.BlockRecord
	err := l.withAgent(ctx, agentID, func(tx repository.AgentTx) error {
		blocked, err := tx.HasActiveBlock(ctx, merchantID)
		if err != nil {
			return err
		}
		if blocked {
			rec, err = l.findActiveSimple(ctx, agentID, merchantID)
			if err != nil || rec != nil {
				return err
			}
		}
		rec = &domain.BlockRecord{
			ID:         uuid.NewString(),
			BlockType:  domain.BlockSimple,
			MerchantID: merchantID,
			AgentID:    agentID,
			Reason:     strings.TrimSpace(reason),
			Status:     domain.BlockBlocked,
			CreatedAt:  l.now(),
		}
		return tx.InsertBlockRecord(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	l.auditor.Log(audit.Event{
		TraceID: engine.TraceID(ctx), ActorID: actor.UserID, AgentID: agentID, MerchantID: merchantID,
		Action: audit.ActionBlock, Outcome: "ok", Reason: rec.Reason,
		Payload: map[string]interface{}{"record_id": rec.ID},
	})
	l.logger.Info("agent blocked by merchant", zap.String("agent_id", agentID), zap.String("merchant_id", merchantID))
	return rec, nil
}

// RequestBlockWithRefund files a refund request against a completed transaction.
// Nothing changes until an admin approves it.
func (l *Ledger) RequestBlockWithRefund(ctx context.Context, actor domain.Actor, merchantID, agentID, txID, reason string) (*domain.BlockRecord, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return nil, domain.NewValidationError("transaction_id", "is required")
	}
	if _, err := l.merchantFor(ctx, actor, merchantID); err != nil {
		return nil, err
	}

	var rec *domain.BlockRecord
	err := l.withAgent(ctx, agentID, func(tx repository.AgentTx) error {
		t, err := tx.Transaction(ctx, txID)
		if err != nil {
			return err
		}
		if t.MerchantID != merchantID {
			return domain.NewValidationError("transaction_id", "transaction belongs to another merchant")
		}
		if !t.Refundable() {
			return domain.NewValidationError("transaction_id", "only completed, unrefunded transactions can be refunded")
		}

		amount := t.Amount
		rec = &domain.BlockRecord{
			ID:            uuid.NewString(),
			BlockType:     domain.BlockRefundRequest,
			MerchantID:    merchantID,
			AgentID:       agentID,
			Reason:        strings.TrimSpace(reason),
			TransactionID: &t.ID,
			RefundAmount:  &amount,
			Status:        domain.BlockPending,
			CreatedAt:     l.now(),
		}
		return tx.InsertBlockRecord(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	l.auditor.Log(audit.Event{
		TraceID: engine.TraceID(ctx), ActorID: actor.UserID, AgentID: agentID, MerchantID: merchantID,
		Action: audit.ActionRefundRequest, Outcome: "ok", Reason: rec.Reason,
		Payload: map[string]interface{}{"record_id": rec.ID, "transaction_id": txID, "refund_amount": rec.RefundAmount.StringFixed(2)},
	})
	return rec, nil
}

func requireAdmin(actor domain.Actor) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("admin required: %w", domain.ErrForbidden)
	}
	return nil
}

// resolve re-reads the record under the agent lock and applies next.
func (l *Ledger) resolve(ctx context.Context, admin domain.Actor, recordID string, next domain.BlockStatus, notes string,
	effects func(ctx context.Context, tx repository.AgentTx, rec *domain.BlockRecord, now time.Time) error) (*domain.BlockRecord, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	current, err := l.store.GetBlockRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	var rec *domain.BlockRecord
	err = l.withAgent(ctx, current.AgentID, func(tx repository.AgentTx) error {
		now := l.now()
		r, err := tx.BlockRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if err := r.Resolve(next, notes, admin.UserID, now); err != nil {
			return fmt.Errorf("block record %s: %w", recordID, err)
		}
		if err := tx.ResolveBlockRecord(ctx, r); err != nil {
			return err
		}
		if effects != nil {
			if err := effects(ctx, tx, r, now); err != nil {
				return err
			}
		}
		rec = r
		return nil
	})
	return rec, err
}

// Approve revokes the agent everywhere and reverses the linked transaction.
func (l *Ledger) Approve(ctx context.Context, admin domain.Actor, recordID, notes string) (*domain.BlockRecord, error) {
	rec, err := l.resolve(ctx, admin, recordID, domain.BlockApproved, strings.TrimSpace(notes), l.applyRefund)
	l.logDecision(ctx, admin, audit.ActionBlockApprove, recordID, rec, err)
	if err != nil {
		return nil, err
	}

	// Published after commit so no instance sees a revocation the store lacks.
	if l.revoker != nil {
		l.revoker.Revoke(ctx, rec.AgentID)
	}
	l.logger.Warn("refund request approved, agent revoked",
		zap.String("record_id", rec.ID), zap.String("agent_id", rec.AgentID), zap.String("admin", admin.UserID))
	return rec, nil
}

func (l *Ledger) applyRefund(ctx context.Context, tx repository.AgentTx, rec *domain.BlockRecord, now time.Time) error {
	if rec.TransactionID == nil || rec.RefundAmount == nil {
		return fmt.Errorf("block record %s has no linked transaction: %w", rec.ID, domain.ErrInvalidTransition)
	}

	t, err := tx.Transaction(ctx, *rec.TransactionID)
	if err != nil {
		return err
	}
	agent, err := tx.Agent(ctx)
	if err != nil {
		return err
	}

	agent.Status = domain.AgentRevoked
	agent.RiskScore = min(agent.RiskScore+revocationRiskPenalty, 100)
	agent.UpdatedAt = now

	if !t.Refunded {
		amount := *rec.RefundAmount
		agent.RemainingBalance = decimal.Min(agent.RemainingBalance.Add(amount), agent.Balance)
		agent.TotalVolume = decimal.Max(agent.TotalVolume.Sub(amount), decimal.Zero)
		agent.TransactionCount = max(agent.TransactionCount-1, 0)

		t.Refunded = true
		t.RefundedAt = &now
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}
		if err := tx.UpdateMerchantRevenue(ctx, t.MerchantID, amount.Neg()); err != nil {
			return err
		}
	}
	if err := tx.UpdateAgent(ctx, agent); err != nil {
		return err
	}

	pending, err := tx.PendingTransactions(ctx)
	if err != nil {
		return err
	}
	for _, p := range pending {
		p.Status = domain.TxFailed
		p.FailureReason = revokedReason
		if err := tx.UpdateTransaction(ctx, p); err != nil {
			return err
		}
	}

	blocked, err := tx.HasActiveBlock(ctx, rec.MerchantID)
	if err != nil {
		return err
	}
	if !blocked {
		return tx.InsertBlockRecord(ctx, &domain.BlockRecord{
			ID:         uuid.NewString(),
			BlockType:  domain.BlockSimple,
			MerchantID: rec.MerchantID,
			AgentID:    rec.AgentID,
			Reason:     rec.Reason,
			Status:     domain.BlockBlocked,
			CreatedAt:  now,
		})
	}
	return nil
}

// Deny closes a refund request without touching the agent.
func (l *Ledger) Deny(ctx context.Context, admin domain.Actor, recordID, notes string) (*domain.BlockRecord, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, domain.NewValidationError("admin_notes", "are required to deny a request")
	}
	rec, err := l.resolve(ctx, admin, recordID, domain.BlockDenied, notes, nil)
	l.logDecision(ctx, admin, audit.ActionBlockDeny, recordID, rec, err)
	return rec, err
}

func (l *Ledger) logDecision(ctx context.Context, admin domain.Actor, action audit.Action, recordID string, rec *domain.BlockRecord, err error) {
	ev := audit.Event{
		TraceID: engine.TraceID(ctx),
		ActorID: admin.UserID,
		Action:  action,
		Outcome: "ok",
		Payload: map[string]interface{}{"record_id": recordID},
	}
	if rec != nil {
		ev.AgentID = rec.AgentID
		ev.MerchantID = rec.MerchantID
	}
	if err != nil {
		ev.Outcome = "failed"
		ev.Reason = err.Error()
	}
	l.auditor.Log(ev)
}

// Ledger returns every record, newest first.
func (l *Ledger) Ledger(ctx context.Context) ([]*domain.BlockRecord, error) {
	return l.store.ListBlockRecords(ctx, domain.BlockFilter{})
}

// PendingRequests is the admin review queue.
func (l *Ledger) PendingRequests(ctx context.Context) ([]*domain.BlockRecord, error) {
	return l.Requests(ctx, domain.BlockPending)
}

// Requests lists refund requests in one status; an empty status lists all of them.
func (l *Ledger) Requests(ctx context.Context, status domain.BlockStatus) ([]*domain.BlockRecord, error) {
	switch status {
	case "", domain.BlockPending, domain.BlockApproved, domain.BlockDenied:
	default:
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown request status %q", status))
	}
	return l.store.ListBlockRecords(ctx, domain.BlockFilter{Type: domain.BlockRefundRequest, Status: status})
}
