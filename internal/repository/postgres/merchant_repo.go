package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/agentspend/internal/domain"
)

const merchantColumns = `id, name, domain, owner_user_id, status, trust_score, total_revenue, approved_at, created_at`

func scanMerchant(row pgx.Row) (*domain.Merchant, error) {
	var m domain.Merchant
	if err := row.Scan(&m.ID, &m.Name, &m.Domain, &m.OwnerUserID, &m.Status, &m.TrustScore, &m.TotalRevenue, &m.ApprovedAt, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) CreateMerchant(ctx context.Context, m *domain.Merchant) error {
	query := `INSERT INTO merchants (` + merchantColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, query, m.ID, m.Name, m.Domain, m.OwnerUserID, m.Status, m.TrustScore, m.TotalRevenue, m.ApprovedAt, m.CreatedAt)
	return mapErr("create merchant", err)
}

func (s *Store) GetMerchant(ctx context.Context, id string) (*domain.Merchant, error) {
	return getMerchant(ctx, s.pool, id)
}

func getMerchant(ctx context.Context, q querier, id string) (*domain.Merchant, error) {
	m, err := scanMerchant(q.QueryRow(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr("get merchant "+id, err)
	}
	return m, nil
}

func (s *Store) ListMerchants(ctx context.Context, status domain.MerchantStatus) ([]*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr("query merchants", err)
	}
	defer rows.Close()

	out := make([]*domain.Merchant, 0)
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan merchant: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

// UpdateMerchantStatus sets trust and approval time only when approving.
func (s *Store) UpdateMerchantStatus(ctx context.Context, id string, status domain.MerchantStatus, trust int, at time.Time) (*domain.Merchant, error) {
	query := `
		UPDATE merchants
		SET status = $2,
		    trust_score = CASE WHEN $2 = 'approved' THEN $3 ELSE trust_score END,
		    approved_at = CASE WHEN $2 = 'approved' THEN $4 ELSE approved_at END
		WHERE id = $1
		RETURNING ` + merchantColumns

	m, err := scanMerchant(s.pool.QueryRow(ctx, query, id, status, trust, at))
	if err != nil {
		return nil, mapErr("update merchant status", err)
	}
	return m, nil
}
