package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/repository"
	"go.uber.org/zap"
)

type TeamStore interface {
	repository.TeamRepository
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
}

type TeamService struct {
	repo   TeamStore
	logger *zap.Logger
	now    func() time.Time
}

func NewTeamService(repo TeamStore, logger *zap.Logger) *TeamService {
	return &TeamService{repo: repo, logger: logger.Named("team-service"), now: func() time.Time { return time.Now().UTC() }}
}

type CreateTeamRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (s *TeamService) Create(ctx context.Context, actor domain.Actor, req CreateTeamRequest) (*domain.Team, error) {
	t := &domain.Team{
		ID:          "team_" + uuid.NewString()[:12],
		Name:        req.Name,
		Color:       strings.TrimSpace(req.Color),
		OwnerUserID: actor.UserID,
		MemberIDs:   []string{},
		CreatedAt:   s.now(),
	}
	if err := t.Normalize(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateTeam(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("team created", zap.String("team_id", t.ID), zap.String("owner", actor.UserID))
	return t, nil
}

func (s *TeamService) List(ctx context.Context, actor domain.Actor) ([]*domain.Team, error) {
	owner := actor.UserID
	if actor.IsAdmin() {
		owner = ""
	}
	return s.repo.ListTeams(ctx, owner)
}

func (s *TeamService) Get(ctx context.Context, actor domain.Actor, teamID string) (*domain.Team, error) {
	t, err := s.repo.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && t.OwnerUserID != actor.UserID {
		return nil, fmt.Errorf("team %s: %w", teamID, domain.ErrForbidden)
	}
	return t, nil
}

func (s *TeamService) Delete(ctx context.Context, actor domain.Actor, teamID string) error {
	if _, err := s.Get(ctx, actor, teamID); err != nil {
		return err
	}
	return s.repo.DeleteTeam(ctx, teamID)
}

// AddMember is idempotent for an existing member.
func (s *TeamService) AddMember(ctx context.Context, actor domain.Actor, teamID, agentID string) (*domain.Team, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, domain.NewValidationError("agent_id", "is required")
	}
	if _, err := s.Get(ctx, actor, teamID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	if err := s.repo.AddTeamMember(ctx, teamID, agentID); err != nil {
		return nil, err
	}
	return s.repo.GetTeam(ctx, teamID)
}

func (s *TeamService) RemoveMember(ctx context.Context, actor domain.Actor, teamID, agentID string) (*domain.Team, error) {
	if _, err := s.Get(ctx, actor, teamID); err != nil {
		return nil, err
	}
	if err := s.repo.RemoveTeamMember(ctx, teamID, agentID); err != nil {
		return nil, err
	}
	return s.repo.GetTeam(ctx, teamID)
}
