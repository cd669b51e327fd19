package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository"
	"github.com/jwalitptl/mailing-api/internal/service/access"
	apperrors "github.com/jwalitptl/mailing-api/pkg/errors"
	"github.com/jwalitptl/mailing-api/pkg/logger"
)

type UserServicer interface {
	// Resolve loads the user an authenticated request runs as.
	Resolve(ctx context.Context, id uuid.UUID) (*model.User, error)
	List(ctx context.Context, actor model.Actor) ([]model.User, error)
	ToggleActive(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.User, error)
}

type Service struct {
	repo   repository.UserRepository
	policy *access.Policy
	logger *logger.Logger
}

func NewService(repo repository.UserRepository, policy *access.Policy, logger *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		policy: policy,
		logger: logger,
	}
}

func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return s.get(ctx, id)
}

// List returns non-staff users, most recently joined first.
func (s *Service) List(ctx context.Context, actor model.Actor) ([]model.User, error) {
	if err := s.policy.RequireManager(actor); err != nil {
		return nil, err
	}
	users, err := s.repo.ListNonStaff(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// ToggleActive blocks or unblocks a user. Managers cannot block themselves.
func (s *Service) ToggleActive(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.User, error) {
	if err := s.policy.RequireManager(actor); err != nil {
		return nil, err
	}
	u, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.ID == actor.ID {
		return nil, apperrors.Validation("cannot block yourself")
	}

	u.IsActive = !u.IsActive
	if err := s.repo.SetActive(ctx, u.ID, u.IsActive); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	action := "unblocked"
	if !u.IsActive {
		action = "blocked"
	}
	s.logger.WithContext(ctx).Info("user "+action,
		"user_id", u.ID.String(),
		"username", u.Username,
		"actor_id", actor.ID.String(),
	)
	return u, nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("user", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}
