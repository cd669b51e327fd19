package email

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mailing-api/pkg/circuitbreaker"
	"github.com/jwalitptl/mailing-api/pkg/logger"
)

func TestAsDeliveryError(t *testing.T) {
	assert.Nil(t, AsDeliveryError(nil))

	plain := errors.New("550 mailbox unavailable")
	de := AsDeliveryError(plain)
	require.NotNil(t, de)
	assert.Equal(t, "550 mailbox unavailable", de.Error())
	assert.ErrorIs(t, de, plain)

	assert.Same(t, de, AsDeliveryError(de))
}

func TestBreakerSender(t *testing.T) {
	calls := 0
	failing := SenderFunc(func(context.Context, string, string, string, string) error {
		calls++
		return &DeliveryError{Message: "connection refused"}
	})
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:        "smtp",
		MaxFailures: 2,
		Timeout:     time.Hour,
	})
	s := NewBreakerSender(failing, cb)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := s.Send(ctx, "s", "b", "from@example.com", "to@example.com")
		assert.EqualError(t, err, "connection refused")
	}

	err := s.Send(ctx, "s", "b", "from@example.com", "to@example.com")
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Message, "mail relay unavailable")
	assert.Equal(t, 2, calls)
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, NewLogSender(logger.Nop()).Send(context.Background(), "s", "b", "f", "t"))
}
