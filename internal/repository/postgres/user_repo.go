package postgres

import (
	"context"

	"github.com/xela07ax/agentspend/internal/domain"
)

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `
		SELECT id, email, username, password_hash, role, scopes, created_at, updated_at
		FROM users WHERE username = $1`

	u := &domain.User{}
	err := s.pool.QueryRow(ctx, query, username).Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Role, &u.Scopes, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr("get user "+username, err)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	scopes := u.Scopes
	if scopes == nil {
		scopes = map[string]bool{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, username, password_hash, role, scopes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.Username, u.PasswordHash, u.Role, scopes, u.CreatedAt, u.UpdatedAt)
	return mapErr("create user", err)
}
