package recipient

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/mailing-api/internal/handler"
	"github.com/jwalitptl/mailing-api/internal/middleware"
	"github.com/jwalitptl/mailing-api/internal/model"
	recipientService "github.com/jwalitptl/mailing-api/internal/service/recipient"
)

type Handler struct {
	service recipientService.RecipientServicer
}

func NewHandler(service recipientService.RecipientServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	recipients := r.Group("/recipients")
	{
		recipients.POST("", h.CreateRecipient)
		recipients.GET("", h.ListRecipients)
		recipients.GET("/:id", h.GetRecipient)
		recipients.PUT("/:id", h.UpdateRecipient)
		recipients.DELETE("/:id", h.DeleteRecipient)
	}
}

func (h *Handler) CreateRecipient(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	var req model.RecipientInput
	if !handler.BindJSON(c, &req) {
		return
	}

	rec, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(rec))
}

func (h *Handler) GetRecipient(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "recipient")
	if !ok {
		return
	}

	rec, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(rec))
}

func (h *Handler) UpdateRecipient(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "recipient")
	if !ok {
		return
	}
	var req model.RecipientInput
	if !handler.BindJSON(c, &req) {
		return
	}

	rec, err := h.service.Update(c.Request.Context(), actor, id, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(rec))
}

func (h *Handler) DeleteRecipient(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "recipient")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), actor, id); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

func (h *Handler) ListRecipients(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	recs, err := h.service.List(c.Request.Context(), actor)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(recs))
}
