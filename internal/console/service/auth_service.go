package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/xela07ax/agentspend/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials never says which half of the pair was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

type AuthProvider interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
}

type AuthService struct {
	repo       AuthProvider
	privateKey *rsa.PrivateKey
	issuer     string
	ttl        time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewAuthService(repo AuthProvider, privateKey *rsa.PrivateKey, issuer string, ttl time.Duration, logger *zap.Logger) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{
		repo:       repo,
		privateKey: privateKey,
		issuer:     issuer,
		ttl:        ttl,
		logger:     logger.Named("auth-service"),
		now:        time.Now,
	}
}

func (s *AuthService) GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	user, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil || user == nil {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("user lookup failed", zap.String("username", username), zap.Error(err))
		}
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := &domain.CustomClaims{
		UserID: user.ID,
		Role:   user.Role,
		Scopes: user.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
	}, nil
}

// EnsureUser creates the account unless the username is already taken.
// passwordHash must already be a bcrypt hash.
func (s *AuthService) EnsureUser(ctx context.Context, username, passwordHash, role string) error {
	if username == "" || passwordHash == "" {
		return nil
	}
	if _, err := s.repo.GetUserByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	now := s.now().UTC()
	scopes := map[string]bool{}
	if role == domain.RoleAdmin {
		scopes[domain.ScopeAdmin] = true
	}
	if err := s.repo.CreateUser(ctx, &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		Scopes:       scopes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return fmt.Errorf("bootstrap user %s: %w", username, err)
	}
	s.logger.Info("bootstrap user created", zap.String("username", username), zap.String("role", role))
	return nil
}
