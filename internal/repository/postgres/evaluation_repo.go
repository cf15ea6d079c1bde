package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/domain"
)

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CreateEvaluationSession stores the session and its rows in one transaction.
func (s *Store) CreateEvaluationSession(ctx context.Context, sess *domain.EvaluationSession) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr("begin create session", err)
	}
	defer tx.Rollback(ctx)

	agentIDs := sess.Scope.AgentIDs
	if agentIDs == nil {
		agentIDs = []string{}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO evaluation_sessions (id, item_description, scope_kind, team_id, agent_ids, winner_agent_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.ItemDescription, sess.Scope.Kind, nullable(sess.Scope.TeamID), agentIDs,
		nullable(sess.WinnerAgentID), sess.CreatedBy, sess.CreatedAt)
	if err != nil {
		return mapErr("create session", err)
	}

	batch := &pgx.Batch{}
	for i, e := range sess.Evaluations {
		var price decimal.NullDecimal
		if e.PredictedPrice != nil {
			price = decimal.NewNullDecimal(*e.PredictedPrice)
		}
		batch.Queue(`
			INSERT INTO evaluation_predictions (session_id, position, agent_id, agent_name, foundational_model,
				predicted_price, predicted_merchant_id, predicted_merchant_name, predicted_risk_score, is_recommended, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			sess.ID, i, e.AgentID, e.AgentName, e.FoundationalModel, price,
			e.PredictedMerchantID, e.PredictedMerchantName, e.PredictedRiskScore, e.IsRecommended, e.Error)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return mapErr("insert predictions", err)
	}
	return mapErr("commit create session", tx.Commit(ctx))
}

const sessionColumns = `id, item_description, scope_kind, team_id, agent_ids, winner_agent_id, selected_agent_id,
	transaction_id, created_by, created_at`

func scanSession(row pgx.Row) (*domain.EvaluationSession, error) {
	var sess domain.EvaluationSession
	var teamID, winner, selected, txID *string
	err := row.Scan(&sess.ID, &sess.ItemDescription, &sess.Scope.Kind, &teamID, &sess.Scope.AgentIDs,
		&winner, &selected, &txID, &sess.CreatedBy, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	sess.Scope.TeamID = deref(teamID)
	sess.WinnerAgentID = deref(winner)
	sess.SelectedAgentID = deref(selected)
	sess.TransactionID = deref(txID)
	return &sess, nil
}

func (s *Store) loadPredictions(ctx context.Context, sess *domain.EvaluationSession) error {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_id, agent_name, foundational_model, predicted_price, predicted_merchant_id,
		       predicted_merchant_name, predicted_risk_score, is_recommended, was_selected, error
		FROM evaluation_predictions WHERE session_id = $1 ORDER BY position`, sess.ID)
	if err != nil {
		return mapErr("query predictions", err)
	}
	defer rows.Close()

	sess.Evaluations = make([]domain.AgentEvaluation, 0)
	for rows.Next() {
		var e domain.AgentEvaluation
		var price decimal.NullDecimal
		if err := rows.Scan(&e.AgentID, &e.AgentName, &e.FoundationalModel, &price, &e.PredictedMerchantID,
			&e.PredictedMerchantName, &e.PredictedRiskScore, &e.IsRecommended, &e.WasSelected, &e.Error); err != nil {
			return fmt.Errorf("postgres: failed to scan prediction: %w", err)
		}
		if price.Valid {
			e.PredictedPrice = &price.Decimal
		}
		sess.Evaluations = append(sess.Evaluations, e)
	}
	return rows.Err()
}

func (s *Store) GetEvaluationSession(ctx context.Context, id string) (*domain.EvaluationSession, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM evaluation_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr("get session "+id, err)
	}
	if err := s.loadPredictions(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// UpdateSelection refuses to move an existing selection to another agent.
func (s *Store) UpdateSelection(ctx context.Context, sess *domain.EvaluationSession) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr("begin update selection", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE evaluation_sessions
		SET selected_agent_id = $2,
		    transaction_id = COALESCE($3, transaction_id)
		WHERE id = $1 AND (selected_agent_id IS NULL OR selected_agent_id = $2)`,
		sess.ID, sess.SelectedAgentID, nullable(sess.TransactionID))
	if err != nil {
		return mapErr("update selection", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: session %s: %w", sess.ID, domain.ErrAlreadyResolved)
	}
	if _, err := tx.Exec(ctx, `UPDATE evaluation_predictions SET was_selected = (agent_id = $2) WHERE session_id = $1`,
		sess.ID, sess.SelectedAgentID); err != nil {
		return mapErr("mark prediction", err)
	}
	return mapErr("commit selection", tx.Commit(ctx))
}

func (s *Store) ListTeamSessions(ctx context.Context, teamID string) ([]*domain.EvaluationSession, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM evaluation_sessions
		WHERE scope_kind = 'team' AND team_id = $1 ORDER BY created_at DESC LIMIT 100`, teamID)
	if err != nil {
		return nil, mapErr("query team sessions", err)
	}
	sessions := make([]*domain.EvaluationSession, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	for _, sess := range sessions {
		if err := s.loadPredictions(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (s *Store) WinCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT winner_agent_id, COUNT(*) FROM evaluation_sessions
		WHERE winner_agent_id IS NOT NULL GROUP BY winner_agent_id`)
	if err != nil {
		return nil, mapErr("query win counts", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan win count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}
