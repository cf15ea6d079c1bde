package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/agentspend/internal/audit"
)

// WriteBatch bulk-loads journal events with COPY.
func (s *Store) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(events))
	for _, e := range events {
		var payload []byte
		if len(e.Payload) > 0 {
			b, err := json.Marshal(e.Payload)
			if err != nil {
				return fmt.Errorf("postgres: marshal audit payload %s: %w", e.ID, err)
			}
			payload = b
		}
		rows = append(rows, []any{
			e.ID, e.TraceID, e.ActorID, e.AgentID, e.MerchantID, string(e.Action), e.Outcome,
			e.Reason, e.RiskScore, payload, e.DurationMs, e.Timestamp,
		})
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"audit_logs"},
		[]string{"id", "trace_id", "actor_id", "agent_id", "merchant_id", "action", "outcome", "reason", "risk_score", "payload", "duration_ms", "timestamp"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to write audit batch: %w", err)
	}
	return nil
}
