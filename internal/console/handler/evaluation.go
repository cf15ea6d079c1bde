package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentspend/internal/domain"
)

type Evaluator interface {
	Evaluate(ctx context.Context, actor domain.Actor, req domain.EvaluationRequest) (*domain.EvaluationSession, error)
	Get(ctx context.Context, sessionID string) (*domain.EvaluationSession, error)
	Select(ctx context.Context, actor domain.Actor, sessionID, agentID, transactionID string) (*domain.EvaluationSession, error)
}

type EvaluationHandler struct {
	engine Evaluator
}

func NewEvaluationHandler(e Evaluator) *EvaluationHandler {
	return &EvaluationHandler{engine: e}
}

func (h *EvaluationHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req domain.EvaluationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := h.engine.Evaluate(r.Context(), actor(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *EvaluationHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type selectRequest struct {
	TransactionID string `json:"transaction_id"`
}

func (h *EvaluationHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := h.engine.Select(r.Context(), actor(r), chi.URLParam(r, "sessionID"), chi.URLParam(r, "agentID"), req.TransactionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
