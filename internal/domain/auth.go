package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin    = "admin"
	RoleUser     = "user"
	RoleMerchant = "merchant"

	ScopeAdmin = "admin"
)

type CustomClaims struct {
	UserID string          `json:"user_id"`
	Role   string          `json:"role"`
	Scopes map[string]bool `json:"scopes"` // {"admin": true}
	jwt.RegisteredClaims
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // always "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

type User struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Role         string          `json:"role"`
	Scopes       map[string]bool `json:"scopes"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Actor is the authenticated caller as seen by services.
type Actor struct {
	UserID string
	Role   string
	Scopes map[string]bool
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Scopes[ScopeAdmin]
}

// SystemActor is used by internal callers that bypass ownership checks.
var SystemActor = Actor{UserID: "system", Role: RoleAdmin}
