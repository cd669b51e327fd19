package user

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/mailing-api/internal/handler"
	"github.com/jwalitptl/mailing-api/internal/middleware"
	"github.com/jwalitptl/mailing-api/internal/service/user"
)

type Handler struct {
	service user.UserServicer
}

func NewHandler(service user.UserServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	users := r.Group("/users")
	{
		users.GET("", h.ListUsers)
		users.POST("/:id/toggle", h.ToggleUser)
	}
}

func (h *Handler) ListUsers(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	users, err := h.service.List(c.Request.Context(), actor)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(users))
}

// ToggleUser blocks an active user or unblocks a blocked one.
func (h *Handler) ToggleUser(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "user")
	if !ok {
		return
	}

	u, err := h.service.ToggleActive(c.Request.Context(), actor, id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(u))
}
