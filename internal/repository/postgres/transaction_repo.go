package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/agentspend/internal/domain"
)

const txColumns = `t.id, t.agent_id, t.merchant_id, t.amount, t.currency, t.status, t.checkout_url, t.items,
	t.risk_score, t.failure_reason, t.refunded, t.created_at, t.completed_at, t.refunded_at`

// isBlockedExpr derives is_blocked from the ledger at read time.
const isBlockedExpr = `EXISTS (SELECT 1 FROM block_records b
	WHERE b.agent_id = t.agent_id AND b.merchant_id = t.merchant_id
	  AND b.block_type = 'simple' AND b.status = 'blocked')`

func scanTx(row pgx.Row, withBlocked bool) (*domain.Transaction, error) {
	var t domain.Transaction
	dest := []any{
		&t.ID, &t.AgentID, &t.MerchantID, &t.Amount, &t.Currency, &t.Status, &t.CheckoutURL, &t.Items,
		&t.RiskScore, &t.FailureReason, &t.Refunded, &t.CreatedAt, &t.CompletedAt, &t.RefundedAt,
	}
	if withBlocked {
		dest = append(dest, &t.IsBlocked)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + `, ` + isBlockedExpr + ` FROM transactions t WHERE t.id = $1`
	t, err := scanTx(s.pool.QueryRow(ctx, query, id), true)
	if err != nil {
		return nil, mapErr("get transaction "+id, err)
	}
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.AgentID != "" {
		add("t.agent_id = $%d", f.AgentID)
	}
	if f.MerchantID != "" {
		add("t.merchant_id = $%d", f.MerchantID)
	}
	if f.Status != "" {
		add("t.status = $%d", f.Status)
	}

	query := `SELECT ` + txColumns + `, ` + isBlockedExpr + ` FROM transactions t`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.created_at DESC, t.id DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr("query transactions", err)
	}
	defer rows.Close()

	out := make([]*domain.Transaction, 0)
	for rows.Next() {
		t, err := scanTx(rows, true)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}
