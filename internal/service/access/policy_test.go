package access

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mailing-api/internal/model"
	apperrors "github.com/jwalitptl/mailing-api/pkg/errors"
)

func TestPolicy(t *testing.T) {
	p := NewPolicy()
	owner := model.Actor{ID: uuid.New()}
	other := model.Actor{ID: uuid.New()}
	manager := model.Actor{ID: uuid.New(), Manager: true}

	t.Run("scope", func(t *testing.T) {
		assert.True(t, p.Scope(manager).All())

		f := p.Scope(owner)
		require.NotNil(t, f.OwnerID)
		assert.Equal(t, owner.ID, *f.OwnerID)
		assert.True(t, f.Matches(owner.ID))
		assert.False(t, f.Matches(other.ID))
	})

	t.Run("view and modify", func(t *testing.T) {
		assert.True(t, p.CanView(owner, owner.ID))
		assert.True(t, p.CanView(manager, owner.ID))
		assert.False(t, p.CanView(other, owner.ID))

		assert.True(t, p.CanModify(owner, owner.ID))
		assert.False(t, p.CanModify(manager, owner.ID))
		assert.False(t, p.CanModify(other, owner.ID))
	})

	t.Run("failures surface as not found", func(t *testing.T) {
		assert.True(t, apperrors.IsNotFound(p.CheckView(other, "recipient", owner.ID)))
		assert.True(t, apperrors.IsNotFound(p.CheckModify(manager, "recipient", owner.ID)))
		assert.NoError(t, p.CheckView(manager, "recipient", owner.ID))
	})

	t.Run("require manager", func(t *testing.T) {
		assert.True(t, apperrors.IsForbidden(p.RequireManager(owner)))
		assert.NoError(t, p.RequireManager(manager))
	})

	t.Run("cache keys", func(t *testing.T) {
		assert.Equal(t, "mailings:all", p.CacheKey("mailings", manager))
		assert.Equal(t, "mailings:user:"+owner.ID.String(), p.CacheKey("mailings", owner))
		assert.NotEqual(t, p.CacheKey("mailings", owner), p.CacheKey("mailings", other))
		assert.Equal(t, p.CacheKey("mailings", owner), p.UserKey("mailings", owner))
		assert.Equal(t, "statistics:user:"+manager.ID.String(), p.UserKey("statistics", manager))
	})
}
