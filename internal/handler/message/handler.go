package message

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/mailing-api/internal/handler"
	"github.com/jwalitptl/mailing-api/internal/middleware"
	"github.com/jwalitptl/mailing-api/internal/model"
	messageService "github.com/jwalitptl/mailing-api/internal/service/message"
)

type Handler struct {
	service messageService.MessageServicer
}

func NewHandler(service messageService.MessageServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	messages := r.Group("/messages")
	{
		messages.POST("", h.CreateMessage)
		messages.GET("", h.ListMessages)
		messages.GET("/:id", h.GetMessage)
		messages.PUT("/:id", h.UpdateMessage)
		messages.DELETE("/:id", h.DeleteMessage)
	}
}

func (h *Handler) CreateMessage(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	var req model.MessageInput
	if !handler.BindJSON(c, &req) {
		return
	}

	msg, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(msg))
}

func (h *Handler) GetMessage(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "message")
	if !ok {
		return
	}

	msg, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(msg))
}

func (h *Handler) UpdateMessage(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "message")
	if !ok {
		return
	}
	var req model.MessageInput
	if !handler.BindJSON(c, &req) {
		return
	}

	msg, err := h.service.Update(c.Request.Context(), actor, id, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(msg))
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "message")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), actor, id); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

func (h *Handler) ListMessages(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	msgs, err := h.service.List(c.Request.Context(), actor)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(msgs))
}
