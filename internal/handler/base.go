package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/mailing-api/pkg/errors"
)

// ParseID reads the :id path parameter. On failure it records a bad
// request error and returns false.
func ParseID(c *gin.Context, resource string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.Error(apperrors.BadRequest("invalid "+resource+" ID", err))
		return uuid.Nil, false
	}
	return id, true
}

// BindJSON decodes the request body into dst. Field rules are enforced by
// the services, not by gin binding tags.
func BindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.Error(apperrors.BadRequest("invalid request body", err))
		return false
	}
	return true
}
