package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/repository"
	"go.uber.org/zap"
)

type MerchantStore interface {
	repository.MerchantRepository
	repository.TransactionRepository
}

type MerchantService struct {
	repo   MerchantStore
	logger *zap.Logger
	now    func() time.Time
}

func NewMerchantService(repo MerchantStore, logger *zap.Logger) *MerchantService {
	return &MerchantService{
		repo:   repo,
		logger: logger.Named("merchant-service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type RegisterMerchantRequest struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Register files a merchant for admin review.
func (s *MerchantService) Register(ctx context.Context, actor domain.Actor, req RegisterMerchantRequest) (*domain.Merchant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.NewValidationError("name", "is required")
	}
	host := strings.ToLower(strings.TrimSpace(req.Domain))
	if host == "" || strings.ContainsAny(host, " /") {
		return nil, domain.NewValidationError("domain", "must be a bare host name")
	}

	m := &domain.Merchant{
		ID:           "merchant_" + uuid.NewString()[:12],
		Name:         name,
		Domain:       host,
		OwnerUserID:  actor.UserID,
		Status:       domain.MerchantPending,
		TotalRevenue: decimal.Zero,
		CreatedAt:    s.now(),
	}
	if err := s.repo.CreateMerchant(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Info("merchant registered", zap.String("merchant_id", m.ID), zap.String("domain", host))
	return m, nil
}

func (s *MerchantService) List(ctx context.Context, status string) ([]*domain.Merchant, error) {
	st := domain.MerchantStatus(strings.ToLower(strings.TrimSpace(status)))
	switch st {
	case "", domain.MerchantPending, domain.MerchantApproved, domain.MerchantRejected:
	default:
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown merchant status %q", status))
	}
	return s.repo.ListMerchants(ctx, st)
}

func (s *MerchantService) Approve(ctx context.Context, admin domain.Actor, merchantID string, trust int) (*domain.Merchant, error) {
	if !admin.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	if trust < domain.MinTrustScore || trust > domain.MaxTrustScore {
		return nil, domain.NewValidationError("trust_score", "must be within 1..5")
	}
	m, err := s.repo.UpdateMerchantStatus(ctx, merchantID, domain.MerchantApproved, trust, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("merchant approved", zap.String("merchant_id", merchantID), zap.Int("trust_score", trust), zap.String("by", admin.UserID))
	return m, nil
}

func (s *MerchantService) Reject(ctx context.Context, admin domain.Actor, merchantID string) (*domain.Merchant, error) {
	if !admin.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	m, err := s.repo.UpdateMerchantStatus(ctx, merchantID, domain.MerchantRejected, 0, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("merchant rejected", zap.String("merchant_id", merchantID), zap.String("by", admin.UserID))
	return m, nil
}

// Transactions lists a merchant's sales; only the owner and admins may read them.
func (s *MerchantService) Transactions(ctx context.Context, actor domain.Actor, merchantID string) ([]*domain.Transaction, error) {
	m, err := s.repo.GetMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && m.OwnerUserID != actor.UserID {
		return nil, fmt.Errorf("merchant %s: %w", merchantID, domain.ErrForbidden)
	}
	return s.repo.ListTransactions(ctx, domain.TransactionFilter{MerchantID: merchantID})
}
