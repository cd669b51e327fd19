package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mailing-api/internal/email"
	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository"
	"github.com/jwalitptl/mailing-api/internal/repository/memory"
	"github.com/jwalitptl/mailing-api/pkg/logger"
	"github.com/jwalitptl/mailing-api/pkg/metrics"
)

var (
	start = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	end   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

type sent struct {
	subject, body, from, to string
}

type fakeSender struct {
	mu    sync.Mutex
	fail  map[string]string
	calls []sent
}

func (f *fakeSender) Send(_ context.Context, subject, body, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sent{subject, body, from, to})
	if msg, ok := f.fail[to]; ok {
		return errors.New(msg)
	}
	return nil
}

type failingLogs struct {
	repository.DeliveryLogRepository
}

func (f failingLogs) Create(ctx context.Context, entry *model.DeliveryLogEntry) error {
	if entry.Status == model.DeliveryStatusFailed {
		return errors.New("disk full")
	}
	return f.DeliveryLogRepository.Create(ctx, entry)
}

type fixture struct {
	store   *memory.Store
	owner   uuid.UUID
	mailing *model.Mailing
}

func newFixture(t *testing.T, emails ...string) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	owner := uuid.New()

	msg := &model.Message{Topic: "Spring sale", Content: "Everything is 20% off", OwnerID: owner}
	require.NoError(t, store.Messages().Create(ctx, msg))

	m := &model.Mailing{
		StartTime: start,
		EndTime:   end,
		Status:    model.MailingStatusStarted,
		MessageID: msg.ID,
		OwnerID:   owner,
	}
	for i, addr := range emails {
		rec := &model.Recipient{Email: addr, FullName: fmt.Sprintf("Recipient %02d", i), OwnerID: owner}
		require.NoError(t, store.Recipients().Create(ctx, rec))
		m.Recipients = append(m.Recipients, *rec)
	}
	require.NoError(t, store.Mailings().Create(ctx, m))

	loaded, err := store.Mailings().Get(ctx, m.ID)
	require.NoError(t, err)
	return fixture{store: store, owner: owner, mailing: loaded}
}

func newDispatcher(logs repository.DeliveryLogRepository, sender email.Sender, locker Locker, workers int) *Dispatcher {
	return NewDispatcher(logs, sender, locker, Config{From: "noreply@example.com", Workers: workers}, logger.Nop(), metrics.NewNop())
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("one failure among three", func(t *testing.T) {
		fx := newFixture(t, "a@example.com", "b@example.com", "c@example.com")
		sender := &fakeSender{fail: map[string]string{"b@example.com": "550 mailbox unavailable"}}
		d := newDispatcher(fx.store.DeliveryLogs(), sender, nil, 1)

		res, err := d.Dispatch(ctx, fx.mailing, start.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, Result{Sent: 2, Total: 3, Summary: "sent 2 of 3"}, res)

		require.Len(t, sender.calls, 3)
		for _, c := range sender.calls {
			assert.Equal(t, "Spring sale", c.subject)
			assert.Equal(t, "Everything is 20% off", c.body)
			assert.Equal(t, "noreply@example.com", c.from)
		}

		entries, err := fx.store.DeliveryLogs().ListByMailing(ctx, fx.mailing.ID)
		require.NoError(t, err)
		require.Len(t, entries, 3)

		var ok, failed int
		for _, e := range entries {
			assert.Equal(t, fx.owner, e.OwnerID)
			switch e.Status {
			case model.DeliveryStatusSuccess:
				ok++
				require.NotNil(t, e.ServerResponse)
				assert.Equal(t, "delivered", *e.ServerResponse)
				assert.Nil(t, e.ErrorMessage)
			case model.DeliveryStatusFailed:
				failed++
				require.NotNil(t, e.ErrorMessage)
				assert.Equal(t, "550 mailbox unavailable", *e.ErrorMessage)
			}
		}
		assert.Equal(t, 2, ok)
		assert.Equal(t, 1, failed)
	})

	t.Run("window boundaries are inclusive", func(t *testing.T) {
		for _, now := range []time.Time{start, end} {
			fx := newFixture(t, "a@example.com")
			d := newDispatcher(fx.store.DeliveryLogs(), &fakeSender{}, nil, 1)

			res, err := d.Dispatch(ctx, fx.mailing, now)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Sent)
		}
	})

	t.Run("outside the window", func(t *testing.T) {
		for _, now := range []time.Time{start.Add(-time.Second), end.Add(time.Second)} {
			fx := newFixture(t, "a@example.com")
			sender := &fakeSender{}
			d := newDispatcher(fx.store.DeliveryLogs(), sender, nil, 1)

			res, err := d.Dispatch(ctx, fx.mailing, now)
			require.NoError(t, err)
			assert.Equal(t, Result{Summary: "time not in range"}, res)
			assert.Empty(t, sender.calls)

			entries, err := fx.store.DeliveryLogs().ListByMailing(ctx, fx.mailing.ID)
			require.NoError(t, err)
			assert.Empty(t, entries)
		}
	})

	t.Run("no recipients", func(t *testing.T) {
		fx := newFixture(t)
		sender := &fakeSender{}
		d := newDispatcher(fx.store.DeliveryLogs(), sender, nil, 1)

		res, err := d.Dispatch(ctx, fx.mailing, start)
		require.NoError(t, err)
		assert.Equal(t, Result{Summary: "no recipients"}, res)
		assert.Empty(t, sender.calls)
	})

	t.Run("concurrent workers give the same counts", func(t *testing.T) {
		emails := make([]string, 20)
		fail := map[string]string{}
		for i := range emails {
			emails[i] = fmt.Sprintf("user%02d@example.com", i)
			if i%4 == 0 {
				fail[emails[i]] = "rejected"
			}
		}
		fx := newFixture(t, emails...)
		d := newDispatcher(fx.store.DeliveryLogs(), &fakeSender{fail: fail}, nil, 4)

		res, err := d.Dispatch(ctx, fx.mailing, start.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, Result{Sent: 15, Total: 20, Summary: "sent 15 of 20"}, res)

		entries, err := fx.store.DeliveryLogs().ListByMailing(ctx, fx.mailing.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 20)
	})

	t.Run("log write failures are reported", func(t *testing.T) {
		fx := newFixture(t, "a@example.com", "b@example.com")
		sender := &fakeSender{fail: map[string]string{"b@example.com": "rejected"}}
		d := newDispatcher(failingLogs{DeliveryLogRepository: fx.store.DeliveryLogs()}, sender, nil, 1)

		res, err := d.Dispatch(ctx, fx.mailing, start)
		assert.ErrorContains(t, err, "disk full")
		assert.Equal(t, Result{Sent: 1, Total: 2, Summary: "sent 1 of 2"}, res)

		entries, err := fx.store.DeliveryLogs().ListByMailing(ctx, fx.mailing.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("held lock refuses a second run", func(t *testing.T) {
		fx := newFixture(t, "a@example.com")
		locker := NewLocalLocker()
		release, ok, err := locker.Acquire(ctx, lockKey(fx.mailing), time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		sender := &fakeSender{}
		d := newDispatcher(fx.store.DeliveryLogs(), sender, locker, 1)

		res, err := d.Dispatch(ctx, fx.mailing, start)
		require.NoError(t, err)
		assert.Equal(t, Result{Summary: "dispatch already in progress"}, res)
		assert.Empty(t, sender.calls)

		release()
		res, err = d.Dispatch(ctx, fx.mailing, start)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Sent)
	})
}

func TestFold(t *testing.T) {
	assert.Equal(t, Result{Sent: 0, Total: 0, Summary: "sent 0 of 0"}, Fold(nil))
	res := Fold([]Attempt{{}, {Err: errors.New("x")}, {}})
	assert.Equal(t, Result{Sent: 2, Total: 3, Summary: "sent 2 of 3"}, res)
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	l := NewRedisLocker(client, logger.Nop())
	release, ok, err := l.Acquire(ctx, "dispatch:mailing:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "dispatch:mailing:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	assert.False(t, mr.Exists("dispatch:mailing:1"))

	_, ok, err = l.Acquire(ctx, "dispatch:mailing:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockerLogsFailedRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	var buf bytes.Buffer
	l := NewRedisLocker(client, logger.NewLogger(&logger.Config{Level: logger.InfoLevel, Output: &buf}))
	release, ok, err := l.Acquire(context.Background(), "dispatch:mailing:2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.Close()
	release()
	assert.Contains(t, buf.String(), "failed to release dispatch lock")
	assert.Contains(t, buf.String(), "dispatch:mailing:2")
}

func TestLocalLockerExpires(t *testing.T) {
	l := NewLocalLocker()
	now := start
	l.clock = func() time.Time { return now }
	ctx := context.Background()

	_, ok, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestDispatchSenderCallsAreBounded(t *testing.T) {
	emails := make([]string, 12)
	for i := range emails {
		emails[i] = fmt.Sprintf("u%02d@example.com", i)
	}
	fx := newFixture(t, emails...)

	var inFlight, peak int32
	sender := email.SenderFunc(func(context.Context, string, string, string, string) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})
	d := newDispatcher(fx.store.DeliveryLogs(), sender, nil, 3)

	res, err := d.Dispatch(context.Background(), fx.mailing, start)
	require.NoError(t, err)
	assert.Equal(t, 12, res.Sent)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestDispatchOutlivesCallerDeadline(t *testing.T) {
	fx := newFixture(t, "a@example.com", "b@example.com", "c@example.com")

	var calls int32
	sender := email.SenderFunc(func(ctx context.Context, _, _, _, _ string) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(60 * time.Millisecond)
		}
		return ctx.Err()
	})
	d := newDispatcher(fx.store.DeliveryLogs(), sender, nil, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := d.Dispatch(ctx, fx.mailing, start)
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 3, Total: 3, Summary: "sent 3 of 3"}, res)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	logs, err := fx.store.DeliveryLogs().ListByMailing(context.Background(), fx.mailing.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for _, entry := range logs {
		assert.Equal(t, model.DeliveryStatusSuccess, entry.Status)
	}
}
