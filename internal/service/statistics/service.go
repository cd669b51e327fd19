package statistics

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository"
	"github.com/jwalitptl/mailing-api/internal/service/listing"
)

const entity = "statistics"

type StatisticsServicer interface {
	UserStatistics(ctx context.Context, actor model.Actor) (*model.UserStatistics, error)
	Summary(ctx context.Context) (*model.Summary, error)
}

type Service struct {
	mailings   repository.MailingRepository
	recipients repository.RecipientRepository
	logs       repository.DeliveryLogRepository
	listings   *listing.Cache
	ttl        time.Duration
	now        func() time.Time
}

func NewService(
	mailings repository.MailingRepository,
	recipients repository.RecipientRepository,
	logs repository.DeliveryLogRepository,
	listings *listing.Cache,
	ttl time.Duration,
) *Service {
	return &Service{
		mailings:   mailings,
		recipients: recipients,
		logs:       logs,
		listings:   listings,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// UserStatistics counts the actor's own mailings and delivery attempts.
// Managers get their own numbers too.
func (s *Service) UserStatistics(ctx context.Context, actor model.Actor) (*model.UserStatistics, error) {
	stats, err := listing.LoadValue(ctx, s.listings, entity, s.listings.UserKey(entity, actor), s.ttl, func(ctx context.Context) (model.UserStatistics, error) {
		return s.compute(ctx, actor)
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *Service) compute(ctx context.Context, actor model.Actor) (model.UserStatistics, error) {
	id := actor.ID
	counts, err := s.mailings.Counts(ctx, model.OwnerFilter{OwnerID: &id})
	if err != nil {
		return model.UserStatistics{}, fmt.Errorf("failed to count mailings: %w", err)
	}
	delivery, err := s.logs.Stats(ctx, actor.ID)
	if err != nil {
		return model.UserStatistics{}, fmt.Errorf("failed to aggregate delivery logs: %w", err)
	}
	return model.UserStatistics{
		TotalMailings:      counts.Total,
		ActiveMailings:     counts.Started,
		FinishedMailings:   counts.Finished,
		TotalAttempts:      delivery.Total,
		SuccessfulAttempts: delivery.Successful,
		FailedAttempts:     delivery.Failed,
		TotalMessagesSent:  delivery.Successful,
	}, nil
}

// Summary is the public overview across all owners.
func (s *Service) Summary(ctx context.Context) (*model.Summary, error) {
	counts, err := s.mailings.Counts(ctx, model.OwnerFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to count mailings: %w", err)
	}
	active, err := s.mailings.CountActive(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to count active mailings: %w", err)
	}
	unique, err := s.recipients.CountDistinct(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count recipients: %w", err)
	}
	return &model.Summary{
		TotalMailings:    counts.Total,
		ActiveMailings:   active,
		UniqueRecipients: unique,
	}, nil
}
