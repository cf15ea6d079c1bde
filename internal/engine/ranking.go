package engine

import (
	"cmp"
	"slices"

	"github.com/xela07ax/agentspend/internal/domain"
)

// compareRows orders successful rows: lowest price, lowest risk, earliest
// registration, then agent id.
func compareRows(a, b domain.AgentEvaluation) int {
	if c := a.PredictedPrice.Cmp(*b.PredictedPrice); c != 0 {
		return c
	}
	if c := cmp.Compare(a.PredictedRiskScore, b.PredictedRiskScore); c != 0 {
		return c
	}
	if c := a.AgentCreatedAt.Compare(b.AgentCreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.AgentID, b.AgentID)
}

// Rank returns successful rows in rank order followed by failed rows in
// input order, and flags the first successful row as recommended. The
// returned winner is empty when every row failed.
func Rank(rows []domain.AgentEvaluation) ([]domain.AgentEvaluation, string) {
	ok := make([]domain.AgentEvaluation, 0, len(rows))
	failed := make([]domain.AgentEvaluation, 0)
	for _, r := range rows {
		r.IsRecommended = false
		if r.Failed() || r.PredictedPrice == nil {
			failed = append(failed, r)
			continue
		}
		ok = append(ok, r)
	}

	slices.SortStableFunc(ok, compareRows)

	winner := ""
	if len(ok) > 0 {
		ok[0].IsRecommended = true
		winner = ok[0].AgentID
	}
	return append(ok, failed...), winner
}
