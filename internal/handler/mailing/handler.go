package mailing

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/mailing-api/internal/handler"
	"github.com/jwalitptl/mailing-api/internal/middleware"
	"github.com/jwalitptl/mailing-api/internal/model"
	mailingService "github.com/jwalitptl/mailing-api/internal/service/mailing"
	"github.com/jwalitptl/mailing-api/pkg/logger"
)

type Handler struct {
	service mailingService.MailingServicer
	logger  *logger.Logger
}

func NewHandler(service mailingService.MailingServicer, logger *logger.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	mailings := r.Group("/mailings")
	{
		mailings.POST("", h.CreateMailing)
		mailings.GET("", h.ListMailings)
		mailings.GET("/:id", h.GetMailing)
		mailings.PUT("/:id", h.UpdateMailing)
		mailings.DELETE("/:id", h.DeleteMailing)
		mailings.POST("/:id/send", h.SendMailing)
		mailings.POST("/:id/toggle", h.ToggleMailing)
		mailings.GET("/:id/logs", h.ListLogs)
	}
}

func (h *Handler) CreateMailing(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	var req model.MailingInput
	if !handler.BindJSON(c, &req) {
		return
	}

	m, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(m))
}

func (h *Handler) GetMailing(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "mailing")
	if !ok {
		return
	}

	m, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(m))
}

func (h *Handler) UpdateMailing(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "mailing")
	if !ok {
		return
	}
	var req model.MailingInput
	if !handler.BindJSON(c, &req) {
		return
	}

	m, err := h.service.Update(c.Request.Context(), actor, id, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(m))
}

func (h *Handler) DeleteMailing(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "mailing")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), actor, id); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

func (h *Handler) ListMailings(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	items, err := h.service.List(c.Request.Context(), actor)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(items))
}

// SendMailing dispatches the mailing now. Deliveries that happened are
// reported even when some log rows could not be written.
func (h *Handler) SendMailing(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "mailing")
	if !ok {
		return
	}

	res, err := h.service.Send(c.Request.Context(), actor, id)
	if err != nil && res.Total == 0 {
		c.Error(err)
		return
	}
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error(err, "dispatch finished with log write failures",
			"mailing_id", id.String())
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(res))
}

func (h *Handler) ToggleMailing(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "mailing")
	if !ok {
		return
	}

	status, err := h.service.ToggleManual(c.Request.Context(), actor, id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"status": status}))
}

func (h *Handler) ListLogs(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "mailing")
	if !ok {
		return
	}

	entries, err := h.service.Logs(c.Request.Context(), actor, id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(entries))
}
