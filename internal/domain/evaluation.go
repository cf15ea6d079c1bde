package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const MaxItemDescriptionLen = 2000

type ScopeKind string

const (
	ScopeAll    ScopeKind = "all"
	ScopeTeam   ScopeKind = "team"
	ScopeAgents ScopeKind = "agents"
)

type EvaluationScope struct {
	Kind     ScopeKind `json:"kind"`
	TeamID   string    `json:"team_id,omitempty"`
	AgentIDs []string  `json:"agent_ids,omitempty"`
}

type EvaluationRequest struct {
	ItemDescription string   `json:"item_description"`
	AgentIDs        []string `json:"agent_ids,omitempty"`
	TeamID          string   `json:"team_id,omitempty"`
}

// Scope derives the scope from the request; it does not validate it.
func (r EvaluationRequest) Scope() EvaluationScope {
	switch {
	case len(r.AgentIDs) > 0:
		return EvaluationScope{Kind: ScopeAgents, AgentIDs: r.AgentIDs}
	case r.TeamID != "":
		return EvaluationScope{Kind: ScopeTeam, TeamID: r.TeamID}
	}
	return EvaluationScope{Kind: ScopeAll}
}

// AgentEvaluation is one agent's prediction inside a session.
type AgentEvaluation struct {
	AgentID               string           `json:"agent_id"`
	AgentName             string           `json:"agent_name"`
	FoundationalModel     string           `json:"foundational_model"`
	PredictedPrice        *decimal.Decimal `json:"predicted_price"`
	PredictedMerchantID   string           `json:"predicted_merchant_id,omitempty"`
	PredictedMerchantName string           `json:"predicted_merchant_name,omitempty"`
	PredictedRiskScore    int              `json:"predicted_risk_score"`
	IsRecommended         bool             `json:"is_recommended"`
	WasSelected           bool             `json:"was_selected"`
	Error                 string           `json:"error,omitempty"`

	AgentCreatedAt time.Time `json:"-"`
}

func (e *AgentEvaluation) Failed() bool { return e.Error != "" }

type EvaluationSession struct {
	ID              string            `json:"session_id"`
	ItemDescription string            `json:"item_description"`
	Scope           EvaluationScope   `json:"scope"`
	Evaluations     []AgentEvaluation `json:"evaluations"`
	WinnerAgentID   string            `json:"winner_agent_id,omitempty"`
	SelectedAgentID string            `json:"selected_agent_id,omitempty"`
	TransactionID   string            `json:"transaction_id,omitempty"`
	CreatedBy       string            `json:"created_by"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Evaluation finds the row for an agent.
func (s *EvaluationSession) Evaluation(agentID string) *AgentEvaluation {
	for i := range s.Evaluations {
		if s.Evaluations[i].AgentID == agentID {
			return &s.Evaluations[i]
		}
	}
	return nil
}

// MarkSelected applies the single post-execution mutation a session allows.
func (s *EvaluationSession) MarkSelected(agentID, transactionID string) error {
	row := s.Evaluation(agentID)
	if row == nil || row.Failed() {
		return NewValidationError("agent_id", "agent has no successful prediction in this session")
	}
	if s.SelectedAgentID != "" && s.SelectedAgentID != agentID {
		return ErrAlreadyResolved
	}
	s.SelectedAgentID = agentID
	row.WasSelected = true
	if transactionID != "" {
		s.TransactionID = transactionID
	}
	return nil
}
