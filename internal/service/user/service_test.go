package user

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository/memory"
	"github.com/jwalitptl/mailing-api/internal/service/access"
	apperrors "github.com/jwalitptl/mailing-api/pkg/errors"
	"github.com/jwalitptl/mailing-api/pkg/logger"
)

func TestUserService(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	joined := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mgr := model.User{ID: uuid.New(), Username: "mgr", IsActive: true, IsManager: true, DateJoined: joined}
	older := model.User{ID: uuid.New(), Username: "older", IsActive: true, DateJoined: joined.Add(time.Hour)}
	newer := model.User{ID: uuid.New(), Username: "newer", IsActive: true, DateJoined: joined.Add(2 * time.Hour)}
	staff := model.User{ID: uuid.New(), Username: "admin", IsActive: true, IsStaff: true, DateJoined: joined.Add(3 * time.Hour)}
	for _, u := range []model.User{mgr, older, newer, staff} {
		store.PutUser(u)
	}

	svc := NewService(store.Users(), access.NewPolicy(), logger.Nop())
	manager := mgr.Actor()

	t.Run("list is manager only and newest first", func(t *testing.T) {
		_, err := svc.List(ctx, older.Actor())
		assert.True(t, apperrors.IsForbidden(err))

		users, err := svc.List(ctx, manager)
		require.NoError(t, err)
		var names []string
		for _, u := range users {
			names = append(names, u.Username)
		}
		assert.Equal(t, []string{"newer", "older", "mgr"}, names)
	})

	t.Run("toggle blocks and unblocks", func(t *testing.T) {
		u, err := svc.ToggleActive(ctx, manager, older.ID)
		require.NoError(t, err)
		assert.False(t, u.IsActive)

		u, err = svc.ToggleActive(ctx, manager, older.ID)
		require.NoError(t, err)
		assert.True(t, u.IsActive)
	})

	t.Run("cannot block yourself", func(t *testing.T) {
		_, err := svc.ToggleActive(ctx, manager, mgr.ID)
		assert.True(t, apperrors.IsValidation(err))
		assert.EqualError(t, err, "cannot block yourself")
	})

	t.Run("non manager forbidden", func(t *testing.T) {
		_, err := svc.ToggleActive(ctx, older.Actor(), newer.ID)
		assert.True(t, apperrors.IsForbidden(err))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.ToggleActive(ctx, manager, uuid.New())
		assert.True(t, apperrors.IsNotFound(err))
	})
}
