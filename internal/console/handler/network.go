package handler

import (
	"context"
	"net/http"

	"github.com/xela07ax/agentspend/internal/domain"
)

type GraphService interface {
	Build(ctx context.Context, viewer domain.Actor) (*domain.NetworkGraph, error)
}

type NetworkHandler struct {
	service GraphService
}

func NewNetworkHandler(s GraphService) *NetworkHandler {
	return &NetworkHandler{service: s}
}

func (h *NetworkHandler) Graph(w http.ResponseWriter, r *http.Request) {
	g, err := h.service.Build(r.Context(), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
