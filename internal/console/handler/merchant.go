package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentspend/internal/console/service"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/infra/auth"
)

// MerchantBlocker is the merchant-facing half of the block ledger.
type MerchantBlocker interface {
	BlockAgent(ctx context.Context, actor domain.Actor, merchantID, agentID, reason string) (*domain.BlockRecord, error)
	RequestBlockWithRefund(ctx context.Context, actor domain.Actor, merchantID, agentID, txID, reason string) (*domain.BlockRecord, error)
}

type MerchantHandler struct {
	service *service.MerchantService
	blocks  MerchantBlocker
}

func NewMerchantHandler(s *service.MerchantService, blocks MerchantBlocker) *MerchantHandler {
	return &MerchantHandler{service: s, blocks: blocks}
}

// Routes mounts under /api/v1/merchants.
func (h *MerchantHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Register)
	r.Get("/", h.List)
	r.Route("/{merchantID}", func(r chi.Router) {
		r.With(auth.RequireScope(domain.ScopeAdmin)).Post("/approve", h.Approve)
		r.With(auth.RequireScope(domain.ScopeAdmin)).Post("/reject", h.Reject)
		r.Get("/transactions", h.Transactions)
		r.Post("/agents/{agentID}/block", h.Block)
		r.Post("/agents/{agentID}/block-refund", h.BlockRefund)
	})
	return r
}

func (h *MerchantHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterMerchantRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := h.service.Register(r.Context(), actor(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *MerchantHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type approveMerchantRequest struct {
	TrustScore int `json:"trust_score"`
}

func (h *MerchantHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveMerchantRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := h.service.Approve(r.Context(), actor(r), chi.URLParam(r, "merchantID"), req.TrustScore)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MerchantHandler) Reject(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Reject(r.Context(), actor(r), chi.URLParam(r, "merchantID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MerchantHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.service.Transactions(r.Context(), actor(r), chi.URLParam(r, "merchantID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

type blockRequest struct {
	Reason        string `json:"reason"`
	TransactionID string `json:"transaction_id"`
}

func (h *MerchantHandler) Block(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.blocks.BlockAgent(r.Context(), actor(r), chi.URLParam(r, "merchantID"), chi.URLParam(r, "agentID"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *MerchantHandler) BlockRefund(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.blocks.RequestBlockWithRefund(r.Context(), actor(r),
		chi.URLParam(r, "merchantID"), chi.URLParam(r, "agentID"), req.TransactionID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
