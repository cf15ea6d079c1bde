package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentspend/internal/domain"
)

// ReviewService is the admin half of the block ledger.
type ReviewService interface {
	Requests(ctx context.Context, status domain.BlockStatus) ([]*domain.BlockRecord, error)
	Approve(ctx context.Context, admin domain.Actor, recordID, notes string) (*domain.BlockRecord, error)
	Deny(ctx context.Context, admin domain.Actor, recordID, notes string) (*domain.BlockRecord, error)
	Ledger(ctx context.Context) ([]*domain.BlockRecord, error)
}

type ApprovalHandler struct {
	service ReviewService
}

func NewApprovalHandler(s ReviewService) *ApprovalHandler {
	return &ApprovalHandler{service: s}
}

func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = string(domain.BlockPending)
	}

	list, err := h.service.Requests(r.Context(), domain.BlockStatus(status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type decideRequest struct {
	AdminNotes string `json:"admin_notes"`
}

func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Approve)
}

func (h *ApprovalHandler) Deny(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Deny)
}

func (h *ApprovalHandler) decide(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, admin domain.Actor, recordID, notes string) (*domain.BlockRecord, error)) {
	var req decideRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, err)
		return
	}

	rec, err := fn(r.Context(), actor(r), chi.URLParam(r, "recordID"), req.AdminNotes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *ApprovalHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Ledger(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
