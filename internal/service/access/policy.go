package access

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/mailing-api/internal/model"
	apperrors "github.com/jwalitptl/mailing-api/pkg/errors"
)

// Policy decides what an actor may see and change. Managers see every
// owner's records; everyone else sees their own. Only owners modify.
type Policy struct{}

func NewPolicy() *Policy { return &Policy{} }

// Scope is the listing filter for actor.
func (p *Policy) Scope(actor model.Actor) model.OwnerFilter {
	if actor.Manager {
		return model.OwnerFilter{}
	}
	id := actor.ID
	return model.OwnerFilter{OwnerID: &id}
}

func (p *Policy) CanView(actor model.Actor, ownerID uuid.UUID) bool {
	return actor.Manager || actor.ID == ownerID
}

func (p *Policy) CanModify(actor model.Actor, ownerID uuid.UUID) bool {
	return actor.ID == ownerID
}

// RequireManager returns a Forbidden error for non-managers.
func (p *Policy) RequireManager(actor model.Actor) error {
	if !actor.Manager {
		return apperrors.Forbidden("manager role required")
	}
	return nil
}

// CheckView returns NotFound so that other owners' records stay invisible.
func (p *Policy) CheckView(actor model.Actor, resource string, ownerID uuid.UUID) error {
	if !p.CanView(actor, ownerID) {
		return apperrors.NotFound(resource, nil)
	}
	return nil
}

func (p *Policy) CheckModify(actor model.Actor, resource string, ownerID uuid.UUID) error {
	if !p.CanModify(actor, ownerID) {
		return apperrors.NotFound(resource, nil)
	}
	return nil
}

// CacheKey is the listing cache key for entity as seen by actor.
func (p *Policy) CacheKey(entity string, actor model.Actor) string {
	if actor.Manager {
		return entity + ":all"
	}
	return p.UserKey(entity, actor)
}

// UserKey is the cache key for data computed for actor alone, managers
// included.
func (p *Policy) UserKey(entity string, actor model.Actor) string {
	return fmt.Sprintf("%s:user:%s", entity, actor.ID)
}
