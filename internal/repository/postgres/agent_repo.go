package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/domain"
)

const agentColumns = `id, name, owner_user_id, tier, status, foundational_model, balance, remaining_balance,
	limit_per_tx, limit_daily, limit_monthly, transaction_count, total_volume, risk_score, public_key,
	created_at, updated_at`

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var a domain.Agent
	err := row.Scan(
		&a.ID, &a.Name, &a.OwnerUserID, &a.Tier, &a.Status, &a.FoundationalModel,
		&a.Balance, &a.RemainingBalance,
		&a.SpendingLimits.PerTransaction, &a.SpendingLimits.Daily, &a.SpendingLimits.Monthly,
		&a.TransactionCount, &a.TotalVolume, &a.RiskScore, &a.PublicKey, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAgents(rows pgx.Rows) ([]*domain.Agent, error) {
	defer rows.Close()
	out := make([]*domain.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan agent: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

func (s *Store) CreateAgent(ctx context.Context, a *domain.Agent) error {
	query := `INSERT INTO agents (` + agentColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Name, a.OwnerUserID, a.Tier, a.Status, a.FoundationalModel, a.Balance, a.RemainingBalance,
		a.SpendingLimits.PerTransaction, a.SpendingLimits.Daily, a.SpendingLimits.Monthly,
		a.TransactionCount, a.TotalVolume, a.RiskScore, a.PublicKey, a.CreatedAt, a.UpdatedAt,
	)
	return mapErr("create agent", err)
}

func (s *Store) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr("get agent "+id, err)
	}
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context, ownerID string) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_user_id = $1`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr("query agents", err)
	}
	return collectAgents(rows)
}

func (s *Store) GetAgentsByIDs(ctx context.Context, ids []string) ([]*domain.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return nil, mapErr("query agents by id", err)
	}
	agents, err := collectAgents(rows)
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool, len(agents))
	for _, a := range agents {
		found[a.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return nil, fmt.Errorf("postgres: agent %s: %w", id, domain.ErrNotFound)
		}
	}
	return agents, nil
}

// GetRevokedAgentIDs feeds the kill-switch warmup; only ids travel over the wire.
func (s *Store) GetRevokedAgentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM agents WHERE status = $1 ORDER BY id`, domain.AgentRevoked)
	if err != nil {
		return nil, mapErr("fetch revoked agents", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan agent id error: %w", err)
	}
	return ids, nil
}

func (s *Store) AgentHistory(ctx context.Context, agentID string, now time.Time) (domain.AgentHistory, error) {
	return agentHistory(ctx, s.pool, agentID, now)
}

func agentHistory(ctx context.Context, q querier, agentID string, now time.Time) (domain.AgentHistory, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(ROUND(AVG(amount), 2), 0),
		       COUNT(*) FILTER (WHERE completed_at >= $2)
		FROM transactions
		WHERE agent_id = $1 AND status = 'completed' AND NOT refunded`

	var h domain.AgentHistory
	var avg decimal.Decimal
	if err := q.QueryRow(ctx, query, agentID, now.Add(-time.Hour)).Scan(&h.CompletedCount, &avg, &h.RecentCount); err != nil {
		return h, mapErr("aggregate history", err)
	}
	h.AverageAmount = avg
	return h, nil
}
