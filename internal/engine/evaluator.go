package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/agentspend/internal/audit"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/repository"
	"github.com/xela07ax/agentspend/internal/risk"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EvaluationStore is the slice of the repository the evaluator reads and writes.
type EvaluationStore interface {
	repository.AgentRepository
	repository.MerchantRepository
	repository.BlockRepository
	repository.TeamRepository
	repository.EvaluationRepository
}

type RiskScorer interface {
	Score(in risk.Input) int
}

type Config struct {
	Workers          int
	PredictorTimeout time.Duration
}

type Evaluator struct {
	store     EvaluationStore
	predictor Predictor
	scorer    RiskScorer
	cfg       Config
	metrics   *Metrics
	auditor   audit.Auditor
	logger    *zap.Logger
	now       func() time.Time
}

func NewEvaluator(store EvaluationStore, predictor Predictor, scorer RiskScorer, cfg Config,
	metrics *Metrics, auditor audit.Auditor, logger *zap.Logger) *Evaluator {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.PredictorTimeout <= 0 {
		cfg.PredictorTimeout = 2 * time.Second
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Evaluator{
		store:     store,
		predictor: predictor,
		scorer:    scorer,
		cfg:       cfg,
		metrics:   metrics,
		auditor:   auditor,
		logger:    logger.Named("evaluator"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func validateRequest(req *domain.EvaluationRequest) error {
	req.ItemDescription = strings.TrimSpace(req.ItemDescription)
	if req.ItemDescription == "" {
		return domain.NewValidationError("item_description", "is required")
	}
	if utf8.RuneCountInString(req.ItemDescription) > domain.MaxItemDescriptionLen {
		return domain.NewValidationError("item_description", fmt.Sprintf("must be at most %d characters", domain.MaxItemDescriptionLen))
	}
	if len(req.AgentIDs) > 0 && req.TeamID != "" {
		return domain.NewValidationError("scope", "agent_ids and team_id are mutually exclusive")
	}
	seen := make(map[string]bool, len(req.AgentIDs))
	ids := make([]string, 0, len(req.AgentIDs))
	for _, id := range req.AgentIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return domain.NewValidationError("agent_ids", "must not contain empty ids")
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(req.AgentIDs) > 0 {
		req.AgentIDs = ids
	}
	return nil
}

// resolveScope turns the request scope into agents the actor may evaluate.
func (e *Evaluator) resolveScope(ctx context.Context, actor domain.Actor, scope domain.EvaluationScope) ([]*domain.Agent, error) {
	var agents []*domain.Agent
	var err error

	switch scope.Kind {
	case domain.ScopeAgents:
		agents, err = e.store.GetAgentsByIDs(ctx, scope.AgentIDs)
	case domain.ScopeTeam:
		var team *domain.Team
		team, err = e.store.GetTeam(ctx, scope.TeamID)
		if err != nil {
			return nil, err
		}
		if !actor.IsAdmin() && team.OwnerUserID != actor.UserID {
			return nil, fmt.Errorf("engine: team %s: %w", team.ID, domain.ErrForbidden)
		}
		if len(team.MemberIDs) == 0 {
			return nil, domain.ErrEmptyScope
		}
		agents, err = e.store.GetAgentsByIDs(ctx, team.MemberIDs)
	default:
		owner := actor.UserID
		if actor.IsAdmin() {
			owner = ""
		}
		agents, err = e.store.ListAgents(ctx, owner)
	}
	if err != nil {
		return nil, err
	}

	if scope.Kind == domain.ScopeAgents && !actor.IsAdmin() {
		for _, a := range agents {
			if a.OwnerUserID != actor.UserID {
				return nil, fmt.Errorf("engine: agent %s: %w", a.ID, domain.ErrForbidden)
			}
		}
	}
	if len(agents) == 0 {
		return nil, domain.ErrEmptyScope
	}
	return agents, nil
}

// Evaluate runs one auction. Per-agent failures become error markers; only a
// session in which every agent failed is an error.
func (e *Evaluator) Evaluate(ctx context.Context, actor domain.Actor, req domain.EvaluationRequest) (*domain.EvaluationSession, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		e.metrics.EvaluationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	scope := req.Scope()
	agents, err := e.resolveScope(ctx, actor, scope)
	if err != nil {
		return nil, err
	}

	merchants, err := e.store.ListMerchants(ctx, domain.MerchantApproved)
	if err != nil {
		return nil, fmt.Errorf("engine: load merchants: %w", err)
	}

	now := e.now()
	rows := make([]domain.AgentEvaluation, len(agents))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, a := range agents {
		g.Go(func() error {
			rows[i] = e.evaluateAgent(ctx, a, req.ItemDescription, merchants, now)
			return nil
		})
	}
	_ = g.Wait()

	ranked, winner := Rank(rows)
	if winner == "" {
		outcome = "all_failed"
		return nil, fmt.Errorf("engine: all %d agents failed: %w", len(rows), domain.ErrDependency)
	}

	sess := &domain.EvaluationSession{
		ID:              uuid.NewString(),
		ItemDescription: req.ItemDescription,
		Scope:           scope,
		Evaluations:     ranked,
		WinnerAgentID:   winner,
		CreatedBy:       actor.UserID,
		CreatedAt:       now,
	}
	if err := e.store.CreateEvaluationSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("engine: persist session: %w", err)
	}
	outcome = "ok"

	e.auditor.Log(audit.Event{
		TraceID:    TraceID(ctx),
		ActorID:    actor.UserID,
		AgentID:    winner,
		Action:     audit.ActionEvaluate,
		Outcome:    "ok",
		Payload:    map[string]interface{}{"session_id": sess.ID, "agents": len(ranked)},
		DurationMs: time.Since(start).Milliseconds(),
	})
	e.logger.Info("evaluation completed",
		zap.String("session_id", sess.ID),
		zap.String("winner", winner),
		zap.Int("agents", len(ranked)),
		zap.Duration("took", time.Since(start)),
	)
	return sess, nil
}

func (e *Evaluator) evaluateAgent(ctx context.Context, a *domain.Agent, desc string, approved []*domain.Merchant, now time.Time) domain.AgentEvaluation {
	row := domain.AgentEvaluation{
		AgentID:           a.ID,
		AgentName:         a.Name,
		FoundationalModel: a.FoundationalModel,
		AgentCreatedAt:    a.CreatedAt,
	}
	if !a.IsActive() {
		row.Error = domain.ErrAgentInactive.Error()
		return row
	}

	history, err := e.store.AgentHistory(ctx, a.ID, now)
	if err != nil {
		row.Error = "history unavailable"
		e.logger.Warn("agent history failed", zap.String("agent_id", a.ID), zap.Error(err))
		return row
	}
	blocked, err := e.store.BlockedMerchantIDs(ctx, a.ID)
	if err != nil {
		row.Error = "block ledger unavailable"
		e.logger.Warn("blocked merchants failed", zap.String("agent_id", a.ID), zap.Error(err))
		return row
	}

	eligible := make([]*domain.Merchant, 0, len(approved))
	for _, m := range approved {
		if !blocked[m.ID] {
			eligible = append(eligible, m)
		}
	}
	if len(eligible) == 0 {
		row.Error = domain.ErrNoEligibleMerchant.Error()
		return row
	}

	pctx, cancel := context.WithTimeout(ctx, e.cfg.PredictorTimeout)
	defer cancel()
	pred, err := e.predictor.Predict(pctx, PredictInput{Agent: a, Description: desc, Merchants: eligible, History: history})
	if err != nil {
		row.Error = errorMarker(err)
		e.logger.Debug("prediction failed", zap.String("agent_id", a.ID), zap.Error(err))
		return row
	}

	price := pred.Price
	row.PredictedPrice = &price
	row.PredictedMerchantID = pred.Merchant.ID
	row.PredictedMerchantName = pred.Merchant.Name
	row.PredictedRiskScore = e.scorer.Score(risk.Input{Agent: a, Merchant: pred.Merchant, Amount: price, History: history})
	e.metrics.RiskScore.WithLabelValues("evaluation").Observe(float64(row.PredictedRiskScore))
	return row
}

func errorMarker(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoEligibleMerchant):
		return domain.ErrNoEligibleMerchant.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "prediction timed out"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "predictor unavailable"
	}
	return "prediction failed: " + err.Error()
}

func (e *Evaluator) Get(ctx context.Context, sessionID string) (*domain.EvaluationSession, error) {
	return e.store.GetEvaluationSession(ctx, sessionID)
}

// Select records which agent's prediction was executed.
func (e *Evaluator) Select(ctx context.Context, actor domain.Actor, sessionID, agentID, transactionID string) (*domain.EvaluationSession, error) {
	sess, err := e.store.GetEvaluationSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && sess.CreatedBy != actor.UserID {
		return nil, fmt.Errorf("engine: session %s: %w", sessionID, domain.ErrForbidden)
	}
	if err := sess.MarkSelected(agentID, transactionID); err != nil {
		return nil, err
	}
	if err := e.store.UpdateSelection(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// TeamHistory lists a team's sessions, newest first.
func (e *Evaluator) TeamHistory(ctx context.Context, teamID string) ([]*domain.EvaluationSession, error) {
	if _, err := e.store.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}
	return e.store.ListTeamSessions(ctx, teamID)
}
