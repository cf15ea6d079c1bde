package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentspend/internal/console/service"
	"github.com/xela07ax/agentspend/internal/domain"
)

type AgentHandler struct {
	service *service.AgentService
}

func NewAgentHandler(s *service.AgentService) *AgentHandler {
	return &AgentHandler{service: s}
}

// Routes mounts under /api/v1/agents.
func (h *AgentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.Register)
	r.Get("/", h.List)
	r.Route("/{agentID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/limits", h.UpdateLimits)
		r.Get("/transactions", h.Transactions)
		r.Get("/public-key", h.PublicKey)
	})
	return r
}

func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterAgentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	agent, err := h.service.Register(r.Context(), actor(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.service.ListAgents(r.Context(), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.service.GetAgent(r.Context(), actor(r), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h *AgentHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	var limits domain.SpendingLimits
	if err := decode(r, &limits); err != nil {
		writeError(w, err)
		return
	}
	agent, err := h.service.UpdateLimits(r.Context(), actor(r), chi.URLParam(r, "agentID"), limits)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h *AgentHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.service.Transactions(r.Context(), actor(r), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *AgentHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.service.PublicKey(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}
