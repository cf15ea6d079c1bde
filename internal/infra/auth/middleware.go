package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/agentspend/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator is implemented by BaseValidator and by anything that embeds it.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

type ctxKey string

const actorKey ctxKey = "actor"

// WithActor stores the caller in the context.
func WithActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFrom returns the authenticated caller, if any.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey).(domain.Actor)
	return a, ok
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				deny(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.String("path", r.URL.Path), zap.Error(err))
				deny(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := WithActor(r.Context(), domain.Actor{UserID: claims.UserID, Role: claims.Role, Scopes: claims.Scopes})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope lets through admins and callers holding the scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := ActorFrom(r.Context())
			if !ok || !(a.IsAdmin() || a.Scopes[scope]) {
				deny(w, http.StatusForbidden, "missing scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "reason": reason})
}
