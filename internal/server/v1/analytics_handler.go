package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/modelrelay/relay/internal/analytics"
	"github.com/modelrelay/relay/internal/server/middleware"
	"github.com/modelrelay/relay/pkg/api"
)

type AnalyticsHandler struct {
	service analytics.Service
}

func NewAnalyticsHandler(service analytics.Service) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

func (h *AnalyticsHandler) GetUsage(c *gin.Context) {
	daysStr := c.DefaultQuery("days", "7")
	days, err := strconv.Atoi(daysStr)
	if err != nil {
		_ = c.Error(api.BadRequestError("Invalid 'days' parameter"))
		return
	}

	stats, err := h.service.GetUsageOverview(c.Request.Context(), days)
	if err != nil {
		_ = c.Error(api.InternalError("Failed to fetch analytics", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   stats,
	})
}

// GetExchanges returns the caller's own recent exchanges.
func (h *AnalyticsHandler) GetExchanges(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	exchanges, err := h.service.GetRecentExchanges(c.Request.Context(), middleware.AccountID(c), limit)
	if err != nil {
		_ = c.Error(api.InternalError("Failed to fetch exchanges", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   exchanges,
	})
}
