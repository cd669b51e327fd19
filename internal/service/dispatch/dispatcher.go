package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/mailing-api/internal/email"
	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository"
	"github.com/jwalitptl/mailing-api/pkg/logger"
	"github.com/jwalitptl/mailing-api/pkg/metrics"
)

const (
	SummaryOutOfWindow  = "time not in range"
	SummaryNoRecipients = "no recipients"
	SummaryInProgress   = "dispatch already in progress"

	serverResponseDelivered = "delivered"
)

// Result is the aggregate outcome of one dispatch.
type Result struct {
	Sent    int    `json:"sent"`
	Total   int    `json:"total"`
	Summary string `json:"summary"`
}

// Attempt is the outcome for one recipient. Err is nil on success.
type Attempt struct {
	Recipient model.Recipient
	Err       error
}

type Config struct {
	From    string
	Workers int
	LockTTL time.Duration
}

type Dispatcher struct {
	logs    repository.DeliveryLogRepository
	sender  email.Sender
	locker  Locker
	config  Config
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewDispatcher builds a dispatcher. locker may be nil, which allows
// overlapping dispatches of the same mailing.
func NewDispatcher(
	logs repository.DeliveryLogRepository,
	sender email.Sender,
	locker Locker,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Dispatcher {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 10 * time.Minute
	}
	return &Dispatcher{
		logs:    logs,
		sender:  sender,
		locker:  locker,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Dispatch sends m's message to each of its recipients and appends one
// delivery log entry per recipient. m must carry its message and recipients.
//
// Delivery failures are part of the Result. The returned error is non-nil
// only when the run could not start or log entries could not be written; in
// the latter case the Result still describes what was delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, m *model.Mailing, now time.Time) (Result, error) {
	log := d.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"mailing_id": m.ID.String(),
	})

	if !m.InWindow(now) {
		d.metrics.DispatchRuns.WithLabelValues("out_of_window").Inc()
		return Result{Summary: SummaryOutOfWindow}, nil
	}
	if len(m.Recipients) == 0 {
		d.metrics.DispatchRuns.WithLabelValues("no_recipients").Inc()
		return Result{Summary: SummaryNoRecipients}, nil
	}
	if m.Message == nil {
		return Result{}, fmt.Errorf("mailing %s has no message loaded", m.ID)
	}

	if d.locker != nil {
		release, ok, err := d.locker.Acquire(ctx, lockKey(m), d.config.LockTTL)
		if err != nil {
			d.metrics.DispatchRuns.WithLabelValues("error").Inc()
			return Result{}, fmt.Errorf("failed to acquire dispatch lock: %w", err)
		}
		if !ok {
			d.metrics.DispatchRuns.WithLabelValues("in_progress").Inc()
			return Result{Summary: SummaryInProgress}, nil
		}
		defer release()
	}

	started := time.Now()
	subject, body := m.Message.Topic, m.Message.Content
	recipients := append([]model.Recipient(nil), m.Recipients...)

	attempts := make([]Attempt, len(recipients))
	logErrs := make([]error, len(recipients))

	// Every recipient gets a real attempt even if the caller gives up.
	// Each Send is bounded by the sender's own timeout.
	sendCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(d.config.Workers)
	for i := range recipients {
		i := i
		g.Go(func() error {
			rec := recipients[i]
			err := d.sender.Send(sendCtx, subject, body, d.config.From, rec.Email)
			if err != nil {
				err = email.AsDeliveryError(err)
			}
			attempts[i] = Attempt{Recipient: rec, Err: err}
			logErrs[i] = d.record(sendCtx, m, attempts[i])
			return nil
		})
	}
	_ = g.Wait()

	res := Fold(attempts)
	d.metrics.DispatchRuns.WithLabelValues("completed").Inc()
	d.metrics.DispatchDuration.Observe(time.Since(started).Seconds())

	logErr := errors.Join(logErrs...)
	if logErr != nil {
		log.Error(logErr, "delivery log writes failed", "sent", res.Sent, "total", res.Total)
		return res, fmt.Errorf("failed to record delivery attempts: %w", logErr)
	}
	log.Info("mailing dispatched", "sent", res.Sent, "total", res.Total)
	return res, nil
}

// record appends the log entry for a. ctx must not be cancellable so every
// attempt that happened is logged.
func (d *Dispatcher) record(ctx context.Context, m *model.Mailing, a Attempt) error {
	entry := &model.DeliveryLogEntry{
		MailingID: m.ID,
		OwnerID:   m.OwnerID,
	}
	if a.Err == nil {
		resp := serverResponseDelivered
		entry.Status = model.DeliveryStatusSuccess
		entry.ServerResponse = &resp
	} else {
		msg := a.Err.Error()
		entry.Status = model.DeliveryStatusFailed
		entry.ErrorMessage = &msg
	}
	d.metrics.DeliveryAttempts.WithLabelValues(string(entry.Status)).Inc()

	if err := d.logs.Create(ctx, entry); err != nil {
		d.metrics.LogWriteFailures.Inc()
		return fmt.Errorf("recipient %s: %w", a.Recipient.ID, err)
	}
	return nil
}

// Fold aggregates attempts into a Result.
func Fold(attempts []Attempt) Result {
	sent := 0
	for _, a := range attempts {
		if a.Err == nil {
			sent++
		}
	}
	return Result{
		Sent:    sent,
		Total:   len(attempts),
		Summary: fmt.Sprintf("sent %d of %d", sent, len(attempts)),
	}
}

func lockKey(m *model.Mailing) string {
	return "dispatch:mailing:" + m.ID.String()
}
