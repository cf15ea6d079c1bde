package audit

import "time"

type Action string

const (
	ActionAuthorize     Action = "transaction.authorize"
	ActionComplete      Action = "transaction.complete"
	ActionDeny          Action = "transaction.deny"
	ActionVerify        Action = "transaction.verify"
	ActionBlock         Action = "block.simple"
	ActionRefundRequest Action = "block.refund_request"
	ActionBlockApprove  Action = "block.approve"
	ActionBlockDeny     Action = "block.deny"
	ActionEvaluate      Action = "evaluation.run"
)

type Event struct {
	ID         string                 `json:"id"`
	TraceID    string                 `json:"trace_id"`
	ActorID    string                 `json:"actor_id"`
	AgentID    string                 `json:"agent_id"`
	MerchantID string                 `json:"merchant_id,omitempty"`
	Action     Action                 `json:"action"`
	Outcome    string                 `json:"outcome"` // approved, denied, failed, ok
	Reason     string                 `json:"reason,omitempty"`
	RiskScore  int                    `json:"risk_score"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	DurationMs int64                  `json:"duration_ms"`
}
