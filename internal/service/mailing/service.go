package mailing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository"
	"github.com/jwalitptl/mailing-api/internal/service/access"
	"github.com/jwalitptl/mailing-api/internal/service/dispatch"
	"github.com/jwalitptl/mailing-api/internal/service/lifecycle"
	"github.com/jwalitptl/mailing-api/internal/service/listing"
	apperrors "github.com/jwalitptl/mailing-api/pkg/errors"
	"github.com/jwalitptl/mailing-api/pkg/logger"
	"github.com/jwalitptl/mailing-api/pkg/validator"
)

const (
	entity = "mailings"

	// pastTolerance absorbs request latency between the form and the server.
	pastTolerance = 59 * time.Second
)

type MailingServicer interface {
	Create(ctx context.Context, actor model.Actor, input model.MailingInput) (*model.Mailing, error)
	Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Mailing, error)
	Update(ctx context.Context, actor model.Actor, id uuid.UUID, input model.MailingInput) (*model.Mailing, error)
	Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error
	List(ctx context.Context, actor model.Actor) ([]model.Mailing, error)
	Send(ctx context.Context, actor model.Actor, id uuid.UUID) (dispatch.Result, error)
	ToggleManual(ctx context.Context, actor model.Actor, id uuid.UUID) (model.MailingStatus, error)
	Logs(ctx context.Context, actor model.Actor, id uuid.UUID) ([]model.DeliveryLogEntry, error)
	RefreshAll(ctx context.Context) (int, error)
}

type Repositories struct {
	Mailings   repository.MailingRepository
	Messages   repository.MessageRepository
	Recipients repository.RecipientRepository
	Logs       repository.DeliveryLogRepository
	Outbox     repository.OutboxRepository
}

type Service struct {
	repos      Repositories
	machine    *lifecycle.Machine
	dispatcher *dispatch.Dispatcher
	policy     *access.Policy
	listings   *listing.Cache
	validator  validator.Validator
	ttl        time.Duration
	logger     *logger.Logger
	now        func() time.Time
}

func NewService(
	repos Repositories,
	machine *lifecycle.Machine,
	dispatcher *dispatch.Dispatcher,
	policy *access.Policy,
	listings *listing.Cache,
	v validator.Validator,
	ttl time.Duration,
	logger *logger.Logger,
) *Service {
	return &Service{
		repos:      repos,
		machine:    machine,
		dispatcher: dispatcher,
		policy:     policy,
		listings:   listings,
		validator:  v,
		ttl:        ttl,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock replaces the service clock.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Create(ctx context.Context, actor model.Actor, input model.MailingInput) (*model.Mailing, error) {
	now := s.now()
	start, end, err := s.validate(input, now)
	if err != nil {
		return nil, err
	}
	msg, recs, err := s.ownedRefs(ctx, actor, input)
	if err != nil {
		return nil, err
	}

	m := &model.Mailing{
		StartTime:  start,
		EndTime:    end,
		Status:     model.MailingStatusCreated,
		MessageID:  msg.ID,
		OwnerID:    actor.ID,
		Recipients: recs,
	}
	if err := s.repos.Mailings.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to create mailing: %w", err)
	}
	m.Message = msg

	if _, err := s.machine.RefreshStatus(ctx, m, now); err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Info("mailing created",
		"mailing_id", m.ID.String(),
		"owner_id", actor.ID.String(),
		"recipients", len(recs),
	)
	return m, nil
}

func (s *Service) Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Mailing, error) {
	m, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CheckView(actor, "mailing", m.OwnerID); err != nil {
		return nil, err
	}
	if _, err := s.machine.RefreshStatus(ctx, m, s.now()); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) Update(ctx context.Context, actor model.Actor, id uuid.UUID, input model.MailingInput) (*model.Mailing, error) {
	m, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CheckModify(actor, "mailing", m.OwnerID); err != nil {
		return nil, err
	}

	now := s.now()
	start, end, err := s.validate(input, now)
	if err != nil {
		return nil, err
	}
	msg, recs, err := s.ownedRefs(ctx, actor, input)
	if err != nil {
		return nil, err
	}

	m.StartTime = start
	m.EndTime = end
	m.MessageID = msg.ID
	m.Recipients = recs
	if err := s.repos.Mailings.Update(ctx, m); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("mailing", err)
		}
		return nil, fmt.Errorf("failed to update mailing: %w", err)
	}
	m.Message = msg

	if _, err := s.machine.RefreshStatus(ctx, m, now); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	m, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.policy.CheckModify(actor, "mailing", m.OwnerID); err != nil {
		return err
	}
	if err := s.repos.Mailings.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete mailing: %w", err)
	}
	return nil
}

// List returns the actor's mailings with statuses brought up to date,
// whether the listing came from cache or not.
func (s *Service) List(ctx context.Context, actor model.Actor) ([]model.Mailing, error) {
	fetch := func(ctx context.Context, filter model.OwnerFilter) ([]model.Mailing, error) {
		items, err := s.repos.Mailings.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		return items, s.refreshEach(ctx, items)
	}

	items, err := listing.Load(ctx, s.listings, entity, actor, s.ttl, fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to list mailings: %w", err)
	}
	if err := s.refreshEach(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// Send dispatches a started mailing. Only the owner may send.
func (s *Service) Send(ctx context.Context, actor model.Actor, id uuid.UUID) (dispatch.Result, error) {
	m, err := s.load(ctx, id)
	if err != nil {
		return dispatch.Result{}, err
	}
	if err := s.policy.CheckModify(actor, "mailing", m.OwnerID); err != nil {
		return dispatch.Result{}, err
	}

	now := s.now()
	if _, err := s.machine.RefreshStatus(ctx, m, now); err != nil {
		return dispatch.Result{}, err
	}
	if m.Status != model.MailingStatusStarted {
		return dispatch.Result{}, apperrors.Validation("only active mailings can be sent")
	}

	res, err := s.dispatcher.Dispatch(ctx, m, now)
	if res.Total > 0 {
		s.recordDispatched(ctx, m, res, now)
	}
	return res, err
}

// ToggleManual pauses or activates any owner's mailing. Managers only.
func (s *Service) ToggleManual(ctx context.Context, actor model.Actor, id uuid.UUID) (model.MailingStatus, error) {
	if err := s.policy.RequireManager(actor); err != nil {
		return "", err
	}
	m, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	return s.machine.ToggleManual(ctx, m, actor)
}

func (s *Service) Logs(ctx context.Context, actor model.Actor, id uuid.UUID) ([]model.DeliveryLogEntry, error) {
	m, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CheckView(actor, "mailing", m.OwnerID); err != nil {
		return nil, err
	}
	entries, err := s.repos.Logs.ListByMailing(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery logs: %w", err)
	}
	return entries, nil
}

// RefreshAll refreshes every mailing's status and returns how many changed.
func (s *Service) RefreshAll(ctx context.Context) (int, error) {
	items, err := s.repos.Mailings.List(ctx, model.OwnerFilter{})
	if err != nil {
		return 0, fmt.Errorf("failed to list mailings: %w", err)
	}
	now := s.now()
	changed := 0
	for i := range items {
		before := items[i].Status
		after, err := s.machine.RefreshStatus(ctx, &items[i], now)
		if err != nil {
			return changed, err
		}
		if after != before {
			changed++
		}
	}
	return changed, nil
}

func (s *Service) refreshEach(ctx context.Context, items []model.Mailing) error {
	now := s.now()
	for i := range items {
		if _, err := s.machine.RefreshStatus(ctx, &items[i], now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recordDispatched(ctx context.Context, m *model.Mailing, res dispatch.Result, now time.Time) {
	payload, err := json.Marshal(model.MailingDispatched{
		MailingID: m.ID,
		OwnerID:   m.OwnerID,
		Sent:      res.Sent,
		Total:     res.Total,
		At:        now,
	})
	if err == nil {
		err = s.repos.Outbox.Create(context.WithoutCancel(ctx), &model.OutboxEvent{
			EventType: model.EventMailingDispatched,
			Payload:   payload,
		})
	}
	if err != nil {
		s.logger.WithContext(ctx).Error(err, "failed to record dispatch event", "mailing_id", m.ID.String())
	}
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*model.Mailing, error) {
	m, err := s.repos.Mailings.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("mailing", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mailing: %w", err)
	}
	return m, nil
}

func (s *Service) validate(input model.MailingInput, now time.Time) (time.Time, time.Time, error) {
	if err := s.validator.Validate(input); err != nil {
		return time.Time{}, time.Time{}, apperrors.Validation(err.Error())
	}
	return ValidateSchedule(input.StartTime, input.EndTime, now)
}

// ValidateSchedule checks the window a mailing is created or edited with.
func ValidateSchedule(start, end *time.Time, now time.Time) (time.Time, time.Time, error) {
	switch {
	case start == nil:
		return time.Time{}, time.Time{}, apperrors.Validation("start time is required")
	case end == nil:
		return time.Time{}, time.Time{}, apperrors.Validation("end time is required")
	case start.Before(now.Add(-pastTolerance)):
		return time.Time{}, time.Time{}, apperrors.Validation("start time cannot be in the past")
	case !end.After(*start):
		return time.Time{}, time.Time{}, apperrors.Validation("end time must be after start time")
	}
	return *start, *end, nil
}

// ownedRefs resolves the message and recipients, all of which must belong
// to actor.
func (s *Service) ownedRefs(ctx context.Context, actor model.Actor, input model.MailingInput) (*model.Message, []model.Recipient, error) {
	msg, err := s.repos.Messages.Get(ctx, input.MessageID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && msg.OwnerID != actor.ID) {
		return nil, nil, apperrors.Validation("message not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get message: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(input.RecipientIDs))
	seen := make(map[uuid.UUID]bool, len(input.RecipientIDs))
	for _, id := range input.RecipientIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil, apperrors.Validation("at least one recipient is required")
	}

	recs, err := s.repos.Recipients.GetMany(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get recipients: %w", err)
	}
	if len(recs) != len(ids) {
		return nil, nil, apperrors.Validation("recipient not found")
	}
	for _, r := range recs {
		if r.OwnerID != actor.ID {
			return nil, nil, apperrors.Validation("recipient not found")
		}
	}
	return msg, recs, nil
}
