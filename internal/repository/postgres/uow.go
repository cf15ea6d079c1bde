package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/repository"
)

// WithAgent runs fn inside a READ COMMITTED transaction that holds the agent
// row lock (SELECT ... FOR UPDATE) until commit or rollback.
func (s *Store) WithAgent(ctx context.Context, agentID string, fn func(tx repository.AgentTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr("begin agent section", err)
	}
	defer tx.Rollback(ctx)

	agent, err := scanAgent(tx.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1 FOR UPDATE`, agentID))
	if err != nil {
		return mapErr("lock agent "+agentID, err)
	}

	if err := fn(&pgAgentTx{tx: tx, agent: agent}); err != nil {
		return err
	}
	return mapErr("commit agent section", tx.Commit(ctx))
}

type pgAgentTx struct {
	tx    pgx.Tx
	agent *domain.Agent
}

func (t *pgAgentTx) Agent(context.Context) (*domain.Agent, error) {
	cp := *t.agent
	return &cp, nil
}

func (t *pgAgentTx) UpdateAgent(ctx context.Context, a *domain.Agent) error {
	if a.ID != t.agent.ID {
		return fmt.Errorf("postgres: agent %s is not locked by this section", a.ID)
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE agents SET status = $2, remaining_balance = $3, transaction_count = $4, total_volume = $5,
		       risk_score = $6, limit_per_tx = $7, limit_daily = $8, limit_monthly = $9, public_key = $10,
		       updated_at = $11
		WHERE id = $1`,
		a.ID, a.Status, a.RemainingBalance, a.TransactionCount, a.TotalVolume, a.RiskScore,
		a.SpendingLimits.PerTransaction, a.SpendingLimits.Daily, a.SpendingLimits.Monthly, a.PublicKey, a.UpdatedAt)
	if err != nil {
		return mapErr("update agent", err)
	}
	cp := *a
	t.agent = &cp
	return nil
}

func (t *pgAgentTx) Merchant(ctx context.Context, id string) (*domain.Merchant, error) {
	return getMerchant(ctx, t.tx, id)
}

func (t *pgAgentTx) UpdateMerchantRevenue(ctx context.Context, id string, delta decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE merchants SET total_revenue = GREATEST(0, total_revenue + $2) WHERE id = $1`, id, delta)
	return mapErr("update merchant revenue", err)
}

func (t *pgAgentTx) HasActiveBlock(ctx context.Context, merchantID string) (bool, error) {
	var blocked bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM block_records
		WHERE agent_id = $1 AND merchant_id = $2 AND block_type = 'simple' AND status = 'blocked')`,
		t.agent.ID, merchantID).Scan(&blocked)
	if err != nil {
		return false, mapErr("check block", err)
	}
	return blocked, nil
}

func (t *pgAgentTx) Exposure(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE agent_id = $1 AND status IN ('pending', 'completed') AND NOT refunded AND created_at >= $2`,
		t.agent.ID, since).Scan(&sum)
	if err != nil {
		return decimal.Zero, mapErr("sum exposure", err)
	}
	return sum, nil
}

func (t *pgAgentTx) PendingTotal(ctx context.Context) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE agent_id = $1 AND status = 'pending'`, t.agent.ID).Scan(&sum)
	if err != nil {
		return decimal.Zero, mapErr("sum pending", err)
	}
	return sum, nil
}

func (t *pgAgentTx) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE agent_id = $1 AND created_at >= $2`,
		t.agent.ID, since).Scan(&n)
	if err != nil {
		return 0, mapErr("count recent transactions", err)
	}
	return n, nil
}

func (t *pgAgentTx) ConsumeNonce(ctx context.Context, nonce string, at time.Time) (bool, error) {
	var stored string
	err := t.tx.QueryRow(ctx, `INSERT INTO used_nonces (agent_id, nonce, used_at) VALUES ($1, $2, $3)
		ON CONFLICT (agent_id, nonce) DO NOTHING
		RETURNING nonce`, t.agent.ID, nonce, at).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapErr("store nonce", err)
	}
	return true, nil
}

func (t *pgAgentTx) History(ctx context.Context, now time.Time) (domain.AgentHistory, error) {
	return agentHistory(ctx, t.tx, t.agent.ID, now)
}

func (t *pgAgentTx) InsertTransaction(ctx context.Context, tr *domain.Transaction) error {
	if tr.AgentID != t.agent.ID {
		return fmt.Errorf("postgres: transaction %s belongs to another agent", tr.ID)
	}
	items := tr.Items
	if items == nil {
		items = []string{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transactions (id, agent_id, merchant_id, amount, currency, status, checkout_url, items,
			risk_score, failure_reason, refunded, created_at, completed_at, refunded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		tr.ID, tr.AgentID, tr.MerchantID, tr.Amount, tr.Currency, tr.Status, tr.CheckoutURL, items,
		tr.RiskScore, tr.FailureReason, tr.Refunded, tr.CreatedAt, tr.CompletedAt, tr.RefundedAt)
	return mapErr("insert transaction", err)
}

func (t *pgAgentTx) Transaction(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + `, ` + isBlockedExpr + ` FROM transactions t WHERE t.id = $1 AND t.agent_id = $2`
	tr, err := scanTx(t.tx.QueryRow(ctx, query, id, t.agent.ID), true)
	if err != nil {
		return nil, mapErr("get transaction "+id, err)
	}
	return tr, nil
}

func (t *pgAgentTx) UpdateTransaction(ctx context.Context, tr *domain.Transaction) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE transactions SET status = $3, failure_reason = $4, refunded = $5, completed_at = $6, refunded_at = $7
		WHERE id = $1 AND agent_id = $2`,
		tr.ID, t.agent.ID, tr.Status, tr.FailureReason, tr.Refunded, tr.CompletedAt, tr.RefundedAt)
	if err != nil {
		return mapErr("update transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: transaction %s: %w", tr.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *pgAgentTx) PendingTransactions(ctx context.Context) ([]*domain.Transaction, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+txColumns+` FROM transactions t
		WHERE t.agent_id = $1 AND t.status = 'pending' ORDER BY t.created_at`, t.agent.ID)
	if err != nil {
		return nil, mapErr("query pending transactions", err)
	}
	defer rows.Close()

	out := make([]*domain.Transaction, 0)
	for rows.Next() {
		tr, err := scanTx(rows, false)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan transaction: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (t *pgAgentTx) BlockRecord(ctx context.Context, id string) (*domain.BlockRecord, error) {
	b, err := getBlockRecord(ctx, t.tx, id, " AND agent_id = $2 FOR UPDATE", t.agent.ID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (t *pgAgentTx) InsertBlockRecord(ctx context.Context, b *domain.BlockRecord) error {
	if b.AgentID != t.agent.ID {
		return fmt.Errorf("postgres: block record %s belongs to another agent", b.ID)
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO block_records (`+blockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.BlockType, b.MerchantID, b.AgentID, b.Reason, b.TransactionID, refundArg(b), b.Status,
		b.AdminNotes, b.ReviewedBy, b.ReviewedAt, b.CreatedAt)
	return mapErr("insert block record", err)
}

func (t *pgAgentTx) ResolveBlockRecord(ctx context.Context, b *domain.BlockRecord) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE block_records SET status = $2, admin_notes = $3, reviewed_by = $4, reviewed_at = $5
		WHERE id = $1 AND status = 'pending'`,
		b.ID, b.Status, b.AdminNotes, b.ReviewedBy, b.ReviewedAt)
	if err != nil {
		return mapErr("resolve block record", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: block record %s: %w", b.ID, domain.ErrAlreadyResolved)
	}
	return nil
}
