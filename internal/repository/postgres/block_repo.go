package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/domain"
)

const blockColumns = `id, block_type, merchant_id, agent_id, reason, transaction_id, refund_amount, status,
	admin_notes, reviewed_by, reviewed_at, created_at`

func scanBlock(row pgx.Row) (*domain.BlockRecord, error) {
	var b domain.BlockRecord
	var refund decimal.NullDecimal
	err := row.Scan(&b.ID, &b.BlockType, &b.MerchantID, &b.AgentID, &b.Reason, &b.TransactionID, &refund, &b.Status,
		&b.AdminNotes, &b.ReviewedBy, &b.ReviewedAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	if refund.Valid {
		b.RefundAmount = &refund.Decimal
	}
	return &b, nil
}

func refundArg(b *domain.BlockRecord) decimal.NullDecimal {
	if b.RefundAmount == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*b.RefundAmount)
}

func (s *Store) GetBlockRecord(ctx context.Context, id string) (*domain.BlockRecord, error) {
	return getBlockRecord(ctx, s.pool, id, "")
}

// getBlockRecord appends suffix to the lookup; extra binds follow id as $2...
func getBlockRecord(ctx context.Context, q querier, id, suffix string, extra ...any) (*domain.BlockRecord, error) {
	args := append([]any{id}, extra...)
	b, err := scanBlock(q.QueryRow(ctx, `SELECT `+blockColumns+` FROM block_records WHERE id = $1`+suffix, args...))
	if err != nil {
		return nil, mapErr("get block record "+id, err)
	}
	return b, nil
}

// ListBlockRecords is the ledger read path: newest first, optionally filtered.
func (s *Store) ListBlockRecords(ctx context.Context, f domain.BlockFilter) ([]*domain.BlockRecord, error) {
	query := `SELECT ` + blockColumns + ` FROM block_records
	          WHERE ($1 = '' OR block_type = $1) AND ($2 = '' OR status = $2)
	          ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, string(f.Type), string(f.Status))
	if err != nil {
		return nil, mapErr("query block records", err)
	}
	defer rows.Close()

	out := make([]*domain.BlockRecord, 0)
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan block record: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

func (s *Store) BlockedMerchantIDs(ctx context.Context, agentID string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT merchant_id FROM block_records
		WHERE agent_id = $1 AND block_type = 'simple' AND status = 'blocked'`, agentID)
	if err != nil {
		return nil, mapErr("query blocked merchants", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan merchant id error: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}
