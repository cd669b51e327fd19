package email

import (
	"context"
	"errors"
)

// Sender delivers one plain-text message to one address.
type Sender interface {
	Send(ctx context.Context, subject, body, from, to string) error
}

// DeliveryError is a per-recipient failure. Its message is what ends up in
// the delivery log.
type DeliveryError struct {
	Message string
	Err     error
}

func (e *DeliveryError) Error() string { return e.Message }

func (e *DeliveryError) Unwrap() error { return e.Err }

// AsDeliveryError wraps err unless it already is a *DeliveryError.
func AsDeliveryError(err error) *DeliveryError {
	if err == nil {
		return nil
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de
	}
	return &DeliveryError{Message: err.Error(), Err: err}
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, subject, body, from, to string) error

func (f SenderFunc) Send(ctx context.Context, subject, body, from, to string) error {
	return f(ctx, subject, body, from, to)
}
