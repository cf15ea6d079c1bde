package postgres

import (
	"context"
	"fmt"

	"github.com/xela07ax/agentspend/internal/domain"
)

const teamSelect = `
	SELECT t.id, t.name, t.color, t.owner_user_id, t.created_at,
	       COALESCE(ARRAY_AGG(m.agent_id ORDER BY m.added_at) FILTER (WHERE m.agent_id IS NOT NULL), '{}')
	FROM teams t
	LEFT JOIN team_members m ON m.team_id = t.id`

func (s *Store) CreateTeam(ctx context.Context, t *domain.Team) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr("begin create team", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO teams (id, name, color, owner_user_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Name, t.Color, t.OwnerUserID, t.CreatedAt); err != nil {
		return mapErr("create team", err)
	}
	for _, agentID := range t.MemberIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO team_members (team_id, agent_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, t.ID, agentID); err != nil {
			return mapErr("add team member", err)
		}
	}
	return mapErr("commit create team", tx.Commit(ctx))
}

func (s *Store) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	var t domain.Team
	err := s.pool.QueryRow(ctx, teamSelect+` WHERE t.id = $1 GROUP BY t.id`, id).
		Scan(&t.ID, &t.Name, &t.Color, &t.OwnerUserID, &t.CreatedAt, &t.MemberIDs)
	if err != nil {
		return nil, mapErr("get team "+id, err)
	}
	return &t, nil
}

func (s *Store) ListTeams(ctx context.Context, ownerID string) ([]*domain.Team, error) {
	rows, err := s.pool.Query(ctx, teamSelect+` WHERE ($1 = '' OR t.owner_user_id = $1) GROUP BY t.id ORDER BY t.created_at, t.id`, ownerID)
	if err != nil {
		return nil, mapErr("query teams", err)
	}
	defer rows.Close()

	out := make([]*domain.Team, 0)
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Color, &t.OwnerUserID, &t.CreatedAt, &t.MemberIDs); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan team: %w", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteTeam(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM teams WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete team", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: team %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) AddTeamMember(ctx context.Context, teamID, agentID string) error {
	// the foreign keys report a missing team or agent
	_, err := s.pool.Exec(ctx, `INSERT INTO team_members (team_id, agent_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, teamID, agentID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("postgres: team %s or agent %s: %w", teamID, agentID, domain.ErrNotFound)
		}
		return mapErr("add team member", err)
	}
	return nil
}

func (s *Store) RemoveTeamMember(ctx context.Context, teamID, agentID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM team_members WHERE team_id = $1 AND agent_id = $2`, teamID, agentID)
	if err != nil {
		return mapErr("remove team member", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: member %s of team %s: %w", agentID, teamID, domain.ErrNotFound)
	}
	return nil
}
