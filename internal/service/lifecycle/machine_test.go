package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mailing-api/internal/model"
	apperrors "github.com/jwalitptl/mailing-api/pkg/errors"
	"github.com/jwalitptl/mailing-api/pkg/logger"
	"github.com/jwalitptl/mailing-api/pkg/metrics"
)

type write struct {
	id     uuid.UUID
	status model.MailingStatus
	manual bool
}

type fakeWriter struct {
	writes []write
	err    error
}

func (f *fakeWriter) UpdateStatus(_ context.Context, id uuid.UUID, status model.MailingStatus) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, write{id: id, status: status})
	return nil
}

func (f *fakeWriter) SetManualStatus(_ context.Context, id uuid.UUID, status model.MailingStatus) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, write{id: id, status: status, manual: true})
	return nil
}

var (
	start = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	end   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func newMachine() (*Machine, *fakeWriter) {
	w := &fakeWriter{}
	return NewMachine(w, logger.Nop(), metrics.NewNop()), w
}

func newMailing(status model.MailingStatus) *model.Mailing {
	return &model.Mailing{
		Base:      model.Base{ID: uuid.New()},
		StartTime: start,
		EndTime:   end,
		Status:    status,
	}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want model.MailingStatus
	}{
		{"before start", start.Add(-time.Second), model.MailingStatusCreated},
		{"at start", start, model.MailingStatusStarted},
		{"inside", start.Add(time.Hour), model.MailingStatusStarted},
		{"at end", end, model.MailingStatusStarted},
		{"after end", end.Add(time.Nanosecond), model.MailingStatusFinished},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compute(start, end, tt.now))
		})
	}
}

func TestRefreshStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("persists a change once", func(t *testing.T) {
		m, w := newMachine()
		mailing := newMailing(model.MailingStatusCreated)

		got, err := m.RefreshStatus(ctx, mailing, start.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, model.MailingStatusStarted, got)
		assert.Equal(t, model.MailingStatusStarted, mailing.Status)
		require.Len(t, w.writes, 1)
		assert.Equal(t, write{id: mailing.ID, status: model.MailingStatusStarted}, w.writes[0])

		// Idempotent: the second call at the same instant writes nothing.
		_, err = m.RefreshStatus(ctx, mailing, start.Add(time.Minute))
		require.NoError(t, err)
		assert.Len(t, w.writes, 1)
	})

	t.Run("no write when unchanged", func(t *testing.T) {
		m, w := newMachine()
		got, err := m.RefreshStatus(ctx, newMailing(model.MailingStatusCreated), start.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, model.MailingStatusCreated, got)
		assert.Empty(t, w.writes)
	})

	t.Run("manual control freezes status", func(t *testing.T) {
		m, w := newMachine()
		mailing := newMailing(model.MailingStatusCreated)
		mailing.ManuallyControlled = true

		got, err := m.RefreshStatus(ctx, mailing, start.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, model.MailingStatusCreated, got)
		assert.Empty(t, w.writes)

		got, err = m.RefreshStatus(ctx, mailing, end.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, model.MailingStatusCreated, got)
		assert.Empty(t, w.writes)
	})

	t.Run("finished is terminal", func(t *testing.T) {
		m, w := newMachine()
		mailing := newMailing(model.MailingStatusFinished)

		got, err := m.RefreshStatus(ctx, mailing, start.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, model.MailingStatusFinished, got)
		assert.Empty(t, w.writes)
	})

	t.Run("store failure leaves mailing untouched", func(t *testing.T) {
		m, w := newMachine()
		w.err = errors.New("connection reset")
		mailing := newMailing(model.MailingStatusCreated)

		_, err := m.RefreshStatus(ctx, mailing, start.Add(time.Minute))
		assert.Error(t, err)
		assert.Equal(t, model.MailingStatusCreated, mailing.Status)
	})
}

func TestToggleManual(t *testing.T) {
	ctx := context.Background()
	manager := model.Actor{ID: uuid.New(), Manager: true}

	t.Run("pause started", func(t *testing.T) {
		m, w := newMachine()
		mailing := newMailing(model.MailingStatusStarted)

		got, err := m.ToggleManual(ctx, mailing, manager)
		require.NoError(t, err)
		assert.Equal(t, model.MailingStatusCreated, got)
		assert.True(t, mailing.ManuallyControlled)
		assert.Equal(t, []write{{id: mailing.ID, status: model.MailingStatusCreated, manual: true}}, w.writes)

		// A later refresh inside the window keeps the paused status.
		got, err = m.RefreshStatus(ctx, mailing, start.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, model.MailingStatusCreated, got)
		assert.Len(t, w.writes, 1)
	})

	t.Run("activate created", func(t *testing.T) {
		m, _ := newMachine()
		mailing := newMailing(model.MailingStatusCreated)

		got, err := m.ToggleManual(ctx, mailing, manager)
		require.NoError(t, err)
		assert.Equal(t, model.MailingStatusStarted, got)
	})

	t.Run("toggle twice returns to original", func(t *testing.T) {
		m, _ := newMachine()
		mailing := newMailing(model.MailingStatusStarted)

		_, err := m.ToggleManual(ctx, mailing, manager)
		require.NoError(t, err)
		got, err := m.ToggleManual(ctx, mailing, manager)
		require.NoError(t, err)
		assert.Equal(t, model.MailingStatusStarted, got)
	})

	t.Run("finished cannot be toggled", func(t *testing.T) {
		m, w := newMachine()
		mailing := newMailing(model.MailingStatusFinished)

		_, err := m.ToggleManual(ctx, mailing, manager)
		assert.True(t, apperrors.IsStateTransition(err))
		assert.EqualError(t, err, "cannot alter a finished mailing's status")
		assert.Equal(t, model.MailingStatusFinished, mailing.Status)
		assert.False(t, mailing.ManuallyControlled)
		assert.Empty(t, w.writes)
	})

	t.Run("non manager forbidden", func(t *testing.T) {
		m, w := newMachine()
		mailing := newMailing(model.MailingStatusStarted)

		_, err := m.ToggleManual(ctx, mailing, model.Actor{ID: uuid.New()})
		assert.True(t, apperrors.IsForbidden(err))
		assert.Empty(t, w.writes)
	})
}
