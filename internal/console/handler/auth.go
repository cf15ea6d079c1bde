package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/xela07ax/agentspend/internal/console/service"
	"github.com/xela07ax/agentspend/internal/domain"
)

type TokenIssuer interface {
	GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error)
}

type AuthHandler struct {
	service TokenIssuer
}

func NewAuthHandler(s TokenIssuer) *AuthHandler {
	return &AuthHandler{service: s}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.service.GenerateToken(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, ErrorBody{Error: "unauthorized", Reason: err.Error()})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
