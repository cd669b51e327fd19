package email

import (
	"context"
	"errors"

	"github.com/jwalitptl/mailing-api/pkg/circuitbreaker"
)

// BreakerSender fails fast while the wrapped sender keeps failing.
type BreakerSender struct {
	next Sender
	cb   *circuitbreaker.CircuitBreaker
}

func NewBreakerSender(next Sender, cb *circuitbreaker.CircuitBreaker) *BreakerSender {
	return &BreakerSender{next: next, cb: cb}
}

func (s *BreakerSender) Send(ctx context.Context, subject, body, from, to string) error {
	err := s.cb.Execute(func() error {
		return s.next.Send(ctx, subject, body, from, to)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return &DeliveryError{Message: "mail relay unavailable: " + err.Error(), Err: err}
	}
	return err
}
