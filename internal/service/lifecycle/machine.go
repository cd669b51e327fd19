package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository"
	apperrors "github.com/jwalitptl/mailing-api/pkg/errors"
	"github.com/jwalitptl/mailing-api/pkg/logger"
	"github.com/jwalitptl/mailing-api/pkg/metrics"
)

// Machine moves mailings through created, started and finished.
type Machine struct {
	repo    repository.MailingStatusWriter
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewMachine(repo repository.MailingStatusWriter, logger *logger.Logger, metrics *metrics.Metrics) *Machine {
	return &Machine{repo: repo, logger: logger, metrics: metrics}
}

// Compute derives the status from the window. Both ends are inclusive.
func Compute(start, end, now time.Time) model.MailingStatus {
	switch {
	case now.Before(start):
		return model.MailingStatusCreated
	case now.After(end):
		return model.MailingStatusFinished
	default:
		return model.MailingStatusStarted
	}
}

// RefreshStatus brings m.Status in line with now and persists a change.
// Manually controlled mailings and finished ones are left alone.
func (s *Machine) RefreshStatus(ctx context.Context, m *model.Mailing, now time.Time) (model.MailingStatus, error) {
	if m.ManuallyControlled || m.Status == model.MailingStatusFinished {
		return m.Status, nil
	}

	next := Compute(m.StartTime, m.EndTime, now)
	if next == m.Status {
		return m.Status, nil
	}

	if err := s.repo.UpdateStatus(ctx, m.ID, next); err != nil {
		return m.Status, fmt.Errorf("failed to update mailing status: %w", err)
	}
	s.logger.WithContext(ctx).Debug("mailing status refreshed",
		"mailing_id", m.ID.String(),
		"from", string(m.Status),
		"to", string(next),
	)
	s.metrics.StatusTransitions.WithLabelValues(string(next), "schedule").Inc()
	m.Status = next
	return next, nil
}

// ToggleManual pauses a started mailing or activates a created one and
// freezes it under manual control.
func (s *Machine) ToggleManual(ctx context.Context, m *model.Mailing, actor model.Actor) (model.MailingStatus, error) {
	if !actor.Manager {
		return m.Status, apperrors.Forbidden("manager role required")
	}

	var next model.MailingStatus
	switch m.Status {
	case model.MailingStatusStarted:
		next = model.MailingStatusCreated
	case model.MailingStatusCreated:
		next = model.MailingStatusStarted
	case model.MailingStatusFinished:
		return m.Status, apperrors.StateTransition("cannot alter a finished mailing's status")
	default:
		return m.Status, apperrors.StateTransition(fmt.Sprintf("unknown mailing status %q", m.Status))
	}

	if err := s.repo.SetManualStatus(ctx, m.ID, next); err != nil {
		return m.Status, fmt.Errorf("failed to set manual status: %w", err)
	}
	s.logger.WithContext(ctx).Info("mailing status toggled",
		"mailing_id", m.ID.String(),
		"actor_id", actor.ID.String(),
		"to", string(next),
	)
	s.metrics.StatusTransitions.WithLabelValues(string(next), "manual").Inc()
	m.Status = next
	m.ManuallyControlled = true
	return next, nil
}
