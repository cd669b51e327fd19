package recipient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository"
	"github.com/jwalitptl/mailing-api/internal/service/access"
	"github.com/jwalitptl/mailing-api/internal/service/listing"
	apperrors "github.com/jwalitptl/mailing-api/pkg/errors"
	"github.com/jwalitptl/mailing-api/pkg/logger"
	"github.com/jwalitptl/mailing-api/pkg/validator"
)

const entity = "recipients"

type RecipientServicer interface {
	Create(ctx context.Context, actor model.Actor, input model.RecipientInput) (*model.Recipient, error)
	Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Recipient, error)
	Update(ctx context.Context, actor model.Actor, id uuid.UUID, input model.RecipientInput) (*model.Recipient, error)
	Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error
	List(ctx context.Context, actor model.Actor) ([]model.Recipient, error)
}

type Service struct {
	repo      repository.RecipientRepository
	policy    *access.Policy
	listings  *listing.Cache
	validator validator.Validator
	ttl       time.Duration
	logger    *logger.Logger
}

func NewService(
	repo repository.RecipientRepository,
	policy *access.Policy,
	listings *listing.Cache,
	v validator.Validator,
	ttl time.Duration,
	logger *logger.Logger,
) *Service {
	return &Service{
		repo:      repo,
		policy:    policy,
		listings:  listings,
		validator: v,
		ttl:       ttl,
		logger:    logger,
	}
}

func (s *Service) Create(ctx context.Context, actor model.Actor, input model.RecipientInput) (*model.Recipient, error) {
	input = normalize(input)
	if err := s.validator.Validate(input); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	rec := &model.Recipient{
		Email:    input.Email,
		FullName: input.FullName,
		Comment:  input.Comment,
		OwnerID:  actor.ID,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, writeError("create", err)
	}

	s.logger.WithContext(ctx).Info("recipient created", "recipient_id", rec.ID.String(), "owner_id", actor.ID.String())
	return rec, nil
}

func (s *Service) Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Recipient, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CheckView(actor, "recipient", rec.OwnerID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) Update(ctx context.Context, actor model.Actor, id uuid.UUID, input model.RecipientInput) (*model.Recipient, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CheckModify(actor, "recipient", rec.OwnerID); err != nil {
		return nil, err
	}

	input = normalize(input)
	if err := s.validator.Validate(input); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	rec.Email = input.Email
	rec.FullName = input.FullName
	rec.Comment = input.Comment
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, writeError("update", err)
	}
	return rec, nil
}

func (s *Service) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	rec, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.policy.CheckModify(actor, "recipient", rec.OwnerID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return writeError("delete", err)
	}
	return nil
}

func (s *Service) List(ctx context.Context, actor model.Actor) ([]model.Recipient, error) {
	items, err := listing.Load(ctx, s.listings, entity, actor, s.ttl, s.repo.List)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return items, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*model.Recipient, error) {
	rec, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("recipient", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	return rec, nil
}

func normalize(in model.RecipientInput) model.RecipientInput {
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	return in
}

func writeError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return apperrors.Conflict("recipient with this email already exists", err)
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound("recipient", err)
	default:
		return fmt.Errorf("failed to %s recipient: %w", op, err)
	}
}
