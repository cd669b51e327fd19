package statistics

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/mailing-api/internal/handler"
	"github.com/jwalitptl/mailing-api/internal/middleware"
	"github.com/jwalitptl/mailing-api/internal/service/statistics"
)

type Handler struct {
	service statistics.StatisticsServicer
}

func NewHandler(service statistics.StatisticsServicer) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the authenticated statistics endpoint.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/statistics", h.GetStatistics)
}

// RegisterPublicRoutes mounts the home page summary, which needs no login.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/summary", h.GetSummary)
}

func (h *Handler) GetStatistics(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	stats, err := h.service.UserStatistics(c.Request.Context(), actor)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}

func (h *Handler) GetSummary(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(summary))
}
