package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentspend/internal/console/service"
	"github.com/xela07ax/agentspend/internal/domain"
)

// TeamHistory reads a team's past evaluations; *engine.Evaluator implements it.
type TeamHistory interface {
	TeamHistory(ctx context.Context, teamID string) ([]*domain.EvaluationSession, error)
}

type TeamHandler struct {
	service *service.TeamService
	history TeamHistory
}

func NewTeamHandler(s *service.TeamService, history TeamHistory) *TeamHandler {
	return &TeamHandler{service: s, history: history}
}

// Routes mounts under /api/v1/teams.
func (h *TeamHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Route("/{teamID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Post("/members", h.AddMember)
		r.Delete("/members/{agentID}", h.RemoveMember)
		r.Get("/evaluations", h.Evaluations)
	})
	return r
}

func (h *TeamHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTeamRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, err := h.service.Create(r.Context(), actor(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *TeamHandler) List(w http.ResponseWriter, r *http.Request) {
	teams, err := h.service.List(r.Context(), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (h *TeamHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Get(r.Context(), actor(r), chi.URLParam(r, "teamID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TeamHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), actor(r), chi.URLParam(r, "teamID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type memberRequest struct {
	AgentID string `json:"agent_id"`
}

func (h *TeamHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, err := h.service.AddMember(r.Context(), actor(r), chi.URLParam(r, "teamID"), req.AgentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TeamHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.RemoveMember(r.Context(), actor(r), chi.URLParam(r, "teamID"), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TeamHandler) Evaluations(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")
	if _, err := h.service.Get(r.Context(), actor(r), teamID); err != nil {
		writeError(w, err)
		return
	}
	sessions, err := h.history.TeamHistory(r.Context(), teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}
