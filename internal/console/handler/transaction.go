package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentspend/internal/authorizer"
	"github.com/xela07ax/agentspend/internal/domain"
)

type TransactionAuthorizer interface {
	Authorize(ctx context.Context, actor domain.Actor, req authorizer.Request) (*authorizer.Decision, error)
	Verify(ctx context.Context, actor domain.Actor, req authorizer.VerifyRequest) (*authorizer.VerifyResult, error)
	Get(ctx context.Context, txID string) (*domain.Transaction, error)
	Complete(ctx context.Context, actor domain.Actor, txID string) (*domain.Transaction, error)
	Deny(ctx context.Context, actor domain.Actor, txID, reason string) (*domain.Transaction, error)
}

type TransactionHandler struct {
	auth TransactionAuthorizer
}

func NewTransactionHandler(a TransactionAuthorizer) *TransactionHandler {
	return &TransactionHandler{auth: a}
}

// Routes mounts under /api/v1/transactions.
func (h *TransactionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Post("/verify", h.Verify)
	r.Route("/{txID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/complete", h.Complete)
		r.Post("/deny", h.Deny)
	})
	return r
}

// deniedBody extends the error body with the decision the client needs to show.
type deniedBody struct {
	ErrorBody
	Status    domain.TransactionStatus `json:"status"`
	RiskScore int                      `json:"risk_score"`
}

func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req authorizer.Request
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	d, err := h.auth.Authorize(r.Context(), actor(r), req)
	if err != nil {
		if d != nil {
			writeJSON(w, StatusFor(err), deniedBody{
				ErrorBody: ErrorBody{Error: domain.KindOf(err), Reason: d.Reason},
				Status:    d.Status,
				RiskScore: d.RiskScore,
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.auth.Get(r.Context(), chi.URLParam(r, "txID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TransactionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	t, err := h.auth.Complete(r.Context(), actor(r), chi.URLParam(r, "txID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type denyRequest struct {
	Reason string `json:"reason"`
}

func (h *TransactionHandler) Deny(w http.ResponseWriter, r *http.Request) {
	var req denyRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, err := h.auth.Deny(r.Context(), actor(r), chi.URLParam(r, "txID"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TransactionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req authorizer.VerifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.auth.Verify(r.Context(), actor(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
