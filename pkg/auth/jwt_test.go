package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	svc := NewJWTService("secret", "mailing-api", time.Hour)
	id := uuid.New()

	token, err := svc.Issue(id)
	require.NoError(t, err)

	got, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("secret", "mailing-api", time.Hour)
	token, err := svc.Issue(uuid.New())
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewJWTService("other", "mailing-api", time.Hour).Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		_, err := NewJWTService("secret", "someone-else", time.Hour).Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		s := NewJWTService("secret", "mailing-api", time.Minute).(*hmacService)
		s.now = func() time.Time { return time.Now().Add(-time.Hour) }
		old, err := s.Issue(uuid.New())
		require.NoError(t, err)

		_, err = svc.Validate(old)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Validate("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
