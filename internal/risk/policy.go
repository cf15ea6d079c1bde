package risk

import (
	"go.uber.org/zap"
)

// Policy turns an informational score into a decision. A zero threshold never blocks.
type Policy struct {
	BlockThreshold int
	logger         *zap.Logger
}

func NewPolicy(threshold int, logger *zap.Logger) *Policy {
	return &Policy{BlockThreshold: threshold, logger: logger.Named("risk-policy")}
}

// Exceeds reports whether the score must stop the transaction.
func (p *Policy) Exceeds(agentID string, score int) bool {
	if p == nil || p.BlockThreshold <= 0 {
		return false
	}
	if score >= p.BlockThreshold {
		p.logger.Warn("risk threshold triggered",
			zap.String("agent_id", agentID),
			zap.Int("score", score),
			zap.Int("threshold", p.BlockThreshold),
		)
		return true
	}
	return false
}
