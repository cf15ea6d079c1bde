package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/connectors"
	"github.com/xela07ax/agentspend/internal/domain"
)

// PredictInput is everything a predictor may look at for one agent.
// Merchants is already filtered to the ones the agent may buy from.
type PredictInput struct {
	Agent       *domain.Agent
	Description string
	Merchants   []*domain.Merchant
	History     domain.AgentHistory
}

type Prediction struct {
	Merchant *domain.Merchant
	Price    decimal.Decimal
}

type Predictor interface {
	Predict(ctx context.Context, in PredictInput) (Prediction, error)
}

// Oracle is the remote pricing contract, implemented by connectors.GRPCPricer.
type Oracle interface {
	Quote(ctx context.Context, req connectors.QuoteRequest) (connectors.Quote, error)
}

// OraclePredictor delegates pricing to a remote oracle.
type OraclePredictor struct {
	oracle Oracle
}

func NewOraclePredictor(o Oracle) *OraclePredictor {
	return &OraclePredictor{oracle: o}
}

func (p *OraclePredictor) Predict(ctx context.Context, in PredictInput) (Prediction, error) {
	if len(in.Merchants) == 0 {
		return Prediction{}, domain.ErrNoEligibleMerchant
	}
	byID := make(map[string]*domain.Merchant, len(in.Merchants))
	ids := make([]string, 0, len(in.Merchants))
	for _, m := range in.Merchants {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	q, err := p.oracle.Quote(ctx, connectors.QuoteRequest{
		AgentID:        in.Agent.ID,
		Tier:           in.Agent.Tier,
		Description:    in.Description,
		MerchantIDs:    ids,
		HistoryAverage: in.History.AverageAmount,
	})
	if err != nil {
		return Prediction{}, err
	}

	m, ok := byID[q.MerchantID]
	if !ok {
		return Prediction{}, fmt.Errorf("engine: oracle picked ineligible merchant %s: %w", q.MerchantID, domain.ErrDependency)
	}
	return Prediction{Merchant: m, Price: q.Price}, nil
}
