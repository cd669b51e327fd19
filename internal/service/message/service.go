package message

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

const entity = "messages"

type MessageServicer interface {
	Create(ctx context.Context, actor model.Actor, input model.MessageInput) (*model.Message, error)
	Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Message, error)
	Update(ctx context.Context, actor model.Actor, id uuid.UUID, input model.MessageInput) (*model.Message, error)
	Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error
	List(ctx context.Context, actor model.Actor) ([]model.Message, error)
}

type Service struct {
	repo      repository.MessageRepository
	policy    *access.Policy
	listings  *listing.Cache
	validator validator.Validator
	ttl       time.Duration
	logger    *logger.Logger
}

func NewService(
	repo repository.MessageRepository,
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

func (s *Service) Create(ctx context.Context, actor model.Actor, input model.MessageInput) (*model.Message, error) {
	input.Topic = strings.TrimSpace(input.Topic)
	if err := s.validator.Validate(input); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	msg := &model.Message{Topic: input.Topic, Content: input.Content, OwnerID: actor.ID}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	s.logger.WithContext(ctx).Info("message created", "message_id", msg.ID.String(), "owner_id", actor.ID.String())
	return msg, nil
}

func (s *Service) Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Message, error) {
	msg, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CheckView(actor, "message", msg.OwnerID); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) Update(ctx context.Context, actor model.Actor, id uuid.UUID, input model.MessageInput) (*model.Message, error) {
	msg, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CheckModify(actor, "message", msg.OwnerID); err != nil {
		return nil, err
	}

	input.Topic = strings.TrimSpace(input.Topic)
	if err := s.validator.Validate(input); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	msg.Topic = input.Topic
	msg.Content = input.Content
	if err := s.repo.Update(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return msg, nil
}

// Delete removes the message and every mailing that sends it.
func (s *Service) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	msg, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.policy.CheckModify(actor, "message", msg.OwnerID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (s *Service) List(ctx context.Context, actor model.Actor) ([]model.Message, error) {
	items, err := listing.Load(ctx, s.listings, entity, actor, s.ttl, s.repo.List)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return items, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	msg, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("message", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}
