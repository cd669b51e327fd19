package mailing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mailing-api/internal/cache"
	"github.com/jwalitptl/mailing-api/internal/email"
	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository/memory"
	"github.com/jwalitptl/mailing-api/internal/service/access"
	"github.com/jwalitptl/mailing-api/internal/service/dispatch"
	"github.com/jwalitptl/mailing-api/internal/service/lifecycle"
	"github.com/jwalitptl/mailing-api/internal/service/listing"
	apperrors "github.com/jwalitptl/mailing-api/pkg/errors"
	"github.com/jwalitptl/mailing-api/pkg/logger"
	"github.com/jwalitptl/mailing-api/pkg/metrics"
	"github.com/jwalitptl/mailing-api/pkg/validator"
)

var now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	store   *memory.Store
	svc     *Service
	clock   *time.Time
	owner   model.Actor
	other   model.Actor
	manager model.Actor
	sent    *[]string
}

func setup(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	clock := now
	store.SetClock(func() time.Time { return clock })

	var sent []string
	sender := email.SenderFunc(func(_ context.Context, _, _, _, to string) error {
		sent = append(sent, to)
		if to == "bounce@example.com" {
			return errors.New("550 no such user")
		}
		return nil
	})

	log := logger.Nop()
	m := metrics.NewNop()
	policy := access.NewPolicy()
	svc := NewService(
		Repositories{
			Mailings:   store.Mailings(),
			Messages:   store.Messages(),
			Recipients: store.Recipients(),
			Logs:       store.DeliveryLogs(),
			Outbox:     store.Outbox(),
		},
		lifecycle.NewMachine(store.Mailings(), log, m),
		dispatch.NewDispatcher(store.DeliveryLogs(), sender, nil, dispatch.Config{From: "noreply@example.com"}, log, m),
		policy,
		listing.New(cache.NewMemoryCache(time.Minute), policy, log, m),
		validator.New(),
		5*time.Minute,
		log,
	)
	svc.SetClock(func() time.Time { return clock })

	return &env{
		store:   store,
		svc:     svc,
		clock:   &clock,
		owner:   model.Actor{ID: uuid.New()},
		other:   model.Actor{ID: uuid.New()},
		manager: model.Actor{ID: uuid.New(), Manager: true},
		sent:    &sent,
	}
}

func (e *env) refs(t *testing.T, owner model.Actor, emails ...string) (uuid.UUID, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	msg := &model.Message{Topic: "Hello", Content: "Body", OwnerID: owner.ID}
	require.NoError(t, e.store.Messages().Create(ctx, msg))

	var ids []uuid.UUID
	for _, addr := range emails {
		rec := &model.Recipient{Email: addr, FullName: addr, OwnerID: owner.ID}
		require.NoError(t, e.store.Recipients().Create(ctx, rec))
		ids = append(ids, rec.ID)
	}
	return msg.ID, ids
}

func input(msgID uuid.UUID, recs []uuid.UUID, start, end time.Time) model.MailingInput {
	return model.MailingInput{StartTime: &start, EndTime: &end, MessageID: msgID, RecipientIDs: recs}
}

func TestCreateValidation(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	msgID, recs := e.refs(t, e.owner, "a@example.com")

	tests := []struct {
		name    string
		in      model.MailingInput
		wantErr string
	}{
		{"start equals end", input(msgID, recs, now.Add(time.Hour), now.Add(time.Hour)), "end time must be after start time"},
		{"end before start", input(msgID, recs, now.Add(time.Hour), now), "end time must be after start time"},
		{"start two minutes ago", input(msgID, recs, now.Add(-2*time.Minute), now.Add(time.Hour)), "start time cannot be in the past"},
		{"missing end", model.MailingInput{StartTime: &now, MessageID: msgID, RecipientIDs: recs}, "end time is required"},
		{"missing start", model.MailingInput{EndTime: &now, MessageID: msgID, RecipientIDs: recs}, "start time is required"},
		{"missing message", input(uuid.Nil, recs, now.Add(time.Hour), now.Add(2*time.Hour)), "message_id is required"},
		{"unknown message", input(uuid.New(), recs, now.Add(time.Hour), now.Add(2*time.Hour)), "message not found"},
		{"no recipients", input(msgID, nil, now.Add(time.Hour), now.Add(2*time.Hour)), "at least one recipient is required"},
		{"unknown recipient", input(msgID, []uuid.UUID{uuid.New()}, now.Add(time.Hour), now.Add(2*time.Hour)), "recipient not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Create(ctx, e.owner, tt.in)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
			assert.EqualError(t, err, tt.wantErr)
		})
	}

	t.Run("foreign references are rejected", func(t *testing.T) {
		_, err := e.svc.Create(ctx, e.other, input(msgID, recs, now.Add(time.Hour), now.Add(2*time.Hour)))
		assert.True(t, apperrors.IsValidation(err))

		otherMsg, _ := e.refs(t, e.other)
		_, err = e.svc.Create(ctx, e.other, input(otherMsg, recs, now.Add(time.Hour), now.Add(2*time.Hour)))
		assert.EqualError(t, err, "recipient not found")
	})

	mailings, err := e.store.Mailings().List(ctx, model.OwnerFilter{})
	require.NoError(t, err)
	assert.Empty(t, mailings)
}

func TestCreate(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	msgID, recs := e.refs(t, e.owner, "b@example.com", "a@example.com")

	t.Run("start slightly in the past is started immediately", func(t *testing.T) {
		m, err := e.svc.Create(ctx, e.owner, input(msgID, recs, now.Add(-30*time.Second), now.Add(time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, model.MailingStatusStarted, m.Status)
		assert.Equal(t, e.owner.ID, m.OwnerID)
		require.NotNil(t, m.Message)
		assert.Len(t, m.Recipients, 2)

		stored, err := e.store.Mailings().Get(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, model.MailingStatusStarted, stored.Status)
	})

	t.Run("future start is created", func(t *testing.T) {
		m, err := e.svc.Create(ctx, e.owner, input(msgID, append(recs, recs[0]), now.Add(time.Hour), now.Add(2*time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, model.MailingStatusCreated, m.Status)
		assert.Len(t, m.Recipients, 2)
	})
}

func TestAccess(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	msgID, recs := e.refs(t, e.owner, "a@example.com")
	m, err := e.svc.Create(ctx, e.owner, input(msgID, recs, now.Add(time.Hour), now.Add(2*time.Hour)))
	require.NoError(t, err)

	_, err = e.svc.Get(ctx, e.other, m.ID)
	assert.True(t, apperrors.IsNotFound(err))

	got, err := e.svc.Get(ctx, e.manager, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	assert.True(t, apperrors.IsNotFound(e.svc.Delete(ctx, e.other, m.ID)))
	assert.True(t, apperrors.IsNotFound(e.svc.Delete(ctx, e.manager, m.ID)))

	_, err = e.svc.Send(ctx, e.other, m.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = e.svc.Logs(ctx, e.other, m.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = e.svc.ToggleManual(ctx, e.owner, m.ID)
	assert.True(t, apperrors.IsForbidden(err))

	_, err = e.svc.Get(ctx, e.owner, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))

	require.NoError(t, e.svc.Delete(ctx, e.owner, m.ID))
	_, err = e.svc.Get(ctx, e.owner, m.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("only started mailings are sent", func(t *testing.T) {
		e := setup(t)
		msgID, recs := e.refs(t, e.owner, "a@example.com")
		m, err := e.svc.Create(ctx, e.owner, input(msgID, recs, now.Add(time.Hour), now.Add(2*time.Hour)))
		require.NoError(t, err)

		_, err = e.svc.Send(ctx, e.owner, m.ID)
		assert.True(t, apperrors.IsValidation(err))
		assert.EqualError(t, err, "only active mailings can be sent")
		assert.Empty(t, *e.sent)
	})

	t.Run("started mailing is dispatched and recorded", func(t *testing.T) {
		e := setup(t)
		msgID, recs := e.refs(t, e.owner, "a@example.com", "bounce@example.com", "c@example.com")
		m, err := e.svc.Create(ctx, e.owner, input(msgID, recs, now.Add(time.Hour), now.Add(2*time.Hour)))
		require.NoError(t, err)

		*e.clock = now.Add(90 * time.Minute)
		res, err := e.svc.Send(ctx, e.owner, m.ID)
		require.NoError(t, err)
		assert.Equal(t, dispatch.Result{Sent: 2, Total: 3, Summary: "sent 2 of 3"}, res)

		logs, err := e.svc.Logs(ctx, e.manager, m.ID)
		require.NoError(t, err)
		assert.Len(t, logs, 3)

		events, err := e.store.Outbox().GetPendingEventsWithLock(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, model.EventMailingDispatched, events[0].EventType)
		var payload model.MailingDispatched
		require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
		assert.Equal(t, m.ID, payload.MailingID)
		assert.Equal(t, 2, payload.Sent)
	})

	t.Run("paused mailing cannot be sent", func(t *testing.T) {
		e := setup(t)
		msgID, recs := e.refs(t, e.owner, "a@example.com")
		m, err := e.svc.Create(ctx, e.owner, input(msgID, recs, now, now.Add(time.Hour)))
		require.NoError(t, err)
		require.Equal(t, model.MailingStatusStarted, m.Status)

		status, err := e.svc.ToggleManual(ctx, e.manager, m.ID)
		require.NoError(t, err)
		assert.Equal(t, model.MailingStatusCreated, status)

		_, err = e.svc.Send(ctx, e.owner, m.ID)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("manually started outside the window sends nothing", func(t *testing.T) {
		e := setup(t)
		msgID, recs := e.refs(t, e.owner, "a@example.com")
		m, err := e.svc.Create(ctx, e.owner, input(msgID, recs, now.Add(time.Hour), now.Add(2*time.Hour)))
		require.NoError(t, err)

		status, err := e.svc.ToggleManual(ctx, e.manager, m.ID)
		require.NoError(t, err)
		require.Equal(t, model.MailingStatusStarted, status)

		res, err := e.svc.Send(ctx, e.owner, m.ID)
		require.NoError(t, err)
		assert.Equal(t, dispatch.Result{Summary: "time not in range"}, res)
		assert.Empty(t, *e.sent)

		events, err := e.store.Outbox().GetPendingEventsWithLock(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestToggleFinished(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	msgID, recs := e.refs(t, e.owner, "a@example.com")
	m, err := e.svc.Create(ctx, e.owner, input(msgID, recs, now, now.Add(time.Hour)))
	require.NoError(t, err)

	*e.clock = now.Add(2 * time.Hour)
	got, err := e.svc.Get(ctx, e.owner, m.ID)
	require.NoError(t, err)
	require.Equal(t, model.MailingStatusFinished, got.Status)

	_, err = e.svc.ToggleManual(ctx, e.manager, m.ID)
	assert.True(t, apperrors.IsStateTransition(err))
}

func TestListRefreshesCachedSnapshot(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	msgID, recs := e.refs(t, e.owner, "a@example.com")
	m, err := e.svc.Create(ctx, e.owner, input(msgID, recs, now.Add(time.Hour), now.Add(2*time.Hour)))
	require.NoError(t, err)

	items, err := e.svc.List(ctx, e.owner)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.MailingStatusCreated, items[0].Status)

	// The cached snapshot still says created; the refresh on read fixes it.
	*e.clock = now.Add(90 * time.Minute)
	items, err = e.svc.List(ctx, e.owner)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.MailingStatusStarted, items[0].Status)

	stored, err := e.store.Mailings().Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MailingStatusStarted, stored.Status)
}

func TestStaleSnapshotDoesNotOverrideManualStatus(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	msgID, recs := e.refs(t, e.owner, "a@example.com")
	m, err := e.svc.Create(ctx, e.owner, input(msgID, recs, now.Add(time.Hour), now.Add(2*time.Hour)))
	require.NoError(t, err)

	_, err = e.svc.List(ctx, e.owner)
	require.NoError(t, err)

	// Manager freezes the mailing at created; the owner's cached listing
	// still holds the unfrozen snapshot.
	*e.clock = now.Add(90 * time.Minute)
	_, err = e.svc.ToggleManual(ctx, e.manager, m.ID)
	require.NoError(t, err)
	_, err = e.svc.ToggleManual(ctx, e.manager, m.ID)
	require.NoError(t, err)

	stored, err := e.store.Mailings().Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, model.MailingStatusCreated, stored.Status)

	_, err = e.svc.List(ctx, e.owner)
	require.NoError(t, err)

	stored, err = e.store.Mailings().Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MailingStatusCreated, stored.Status)
	assert.True(t, stored.ManuallyControlled)
}

func TestUpdate(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	msgID, recs := e.refs(t, e.owner, "a@example.com", "b@example.com")
	m, err := e.svc.Create(ctx, e.owner, input(msgID, recs[:1], now.Add(time.Hour), now.Add(2*time.Hour)))
	require.NoError(t, err)

	updated, err := e.svc.Update(ctx, e.owner, m.ID, input(msgID, recs, now, now.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, model.MailingStatusStarted, updated.Status)
	assert.Len(t, updated.Recipients, 2)

	_, err = e.svc.Update(ctx, e.other, m.ID, input(msgID, recs, now, now.Add(time.Hour)))
	assert.True(t, apperrors.IsNotFound(err))

	_, err = e.svc.Update(ctx, e.owner, m.ID, input(msgID, recs, now.Add(time.Hour), now))
	assert.True(t, apperrors.IsValidation(err))
}

func TestRefreshAll(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	msgID, recs := e.refs(t, e.owner, "a@example.com")
	for i := 1; i <= 3; i++ {
		_, err := e.svc.Create(ctx, e.owner, input(msgID, recs, now.Add(time.Duration(i)*time.Hour), now.Add(5*time.Hour)))
		require.NoError(t, err)
	}

	*e.clock = now.Add(150 * time.Minute)
	changed, err := e.svc.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	changed, err = e.svc.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
}
