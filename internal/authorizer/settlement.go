package authorizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/agentspend/internal/audit"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/engine"
	"github.com/xela07ax/agentspend/internal/repository"
)

func (a *Authorizer) Get(ctx context.Context, txID string) (*domain.Transaction, error) {
	return a.store.GetTransaction(ctx, txID)
}

// settle loads the transaction under its agent's lock and checks that the
// actor may act for its merchant.
func (a *Authorizer) settle(ctx context.Context, actor domain.Actor, txID string,
	fn func(tx repository.AgentTx, t *domain.Transaction, now time.Time) error) (*domain.Transaction, error) {
	current, err := a.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	var out *domain.Transaction
	err = a.withAgent(ctx, current.AgentID, func(tx repository.AgentTx) error {
		t, err := tx.Transaction(ctx, txID)
		if err != nil {
			return err
		}
		merchant, err := tx.Merchant(ctx, t.MerchantID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && merchant.OwnerUserID != actor.UserID {
			return fmt.Errorf("transaction %s: %w", txID, domain.ErrForbidden)
		}
		if err := fn(tx, t, a.now()); err != nil {
			return err
		}
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// Complete settles a pending transaction: the reservation becomes a debit.
func (a *Authorizer) Complete(ctx context.Context, actor domain.Actor, txID string) (*domain.Transaction, error) {
	t, err := a.settle(ctx, actor, txID, func(tx repository.AgentTx, t *domain.Transaction, now time.Time) error {
		if err := t.CanTransitionTo(domain.TxCompleted); err != nil {
			return fmt.Errorf("transaction %s is %s: %w", t.ID, t.Status, err)
		}
		agent, err := tx.Agent(ctx)
		if err != nil {
			return err
		}
		if !agent.IsActive() {
			return fmt.Errorf("agent %s is %s: %w", agent.ID, agent.Status, domain.ErrAgentInactive)
		}
		if t.Amount.GreaterThan(agent.RemainingBalance) {
			return fmt.Errorf("transaction %s: %w", t.ID, domain.ErrInsufficientBalance)
		}

		agent.RemainingBalance = agent.RemainingBalance.Sub(t.Amount)
		agent.TotalVolume = agent.TotalVolume.Add(t.Amount)
		agent.TransactionCount++
		agent.UpdatedAt = now
		if err := tx.UpdateAgent(ctx, agent); err != nil {
			return err
		}
		if err := tx.UpdateMerchantRevenue(ctx, t.MerchantID, t.Amount); err != nil {
			return err
		}

		t.Status = domain.TxCompleted
		t.CompletedAt = &now
		return nil
	})
	a.logSettlement(ctx, actor, audit.ActionComplete, txID, t, "", err)
	return t, err
}

// Deny fails a pending transaction. The reservation is released; balances do not move.
func (a *Authorizer) Deny(ctx context.Context, actor domain.Actor, txID, reason string) (*domain.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}
	t, err := a.settle(ctx, actor, txID, func(_ repository.AgentTx, t *domain.Transaction, _ time.Time) error {
		if err := t.CanTransitionTo(domain.TxFailed); err != nil {
			return fmt.Errorf("transaction %s is %s: %w", t.ID, t.Status, err)
		}
		t.Status = domain.TxFailed
		t.FailureReason = reason
		return nil
	})
	a.logSettlement(ctx, actor, audit.ActionDeny, txID, t, reason, err)
	return t, err
}

func (a *Authorizer) logSettlement(ctx context.Context, actor domain.Actor, action audit.Action, txID string, t *domain.Transaction, reason string, err error) {
	ev := audit.Event{
		TraceID: engine.TraceID(ctx),
		ActorID: actor.UserID,
		Action:  action,
		Outcome: "ok",
		Reason:  reason,
		Payload: map[string]interface{}{"transaction_id": txID},
	}
	if t != nil {
		ev.AgentID = t.AgentID
		ev.MerchantID = t.MerchantID
		ev.Payload["amount"] = t.Amount.StringFixed(2)
	}
	if err != nil {
		ev.Outcome = "failed"
		ev.Reason = err.Error()
	}
	a.auditor.Log(ev)
}
