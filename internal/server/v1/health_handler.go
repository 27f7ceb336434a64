package v1

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/modelrelay/relay/internal/catalog"
	"github.com/modelrelay/relay/internal/router"
	"github.com/modelrelay/relay/pkg/api"
)

type HealthHandler struct {
	catalog *catalog.Catalog
	health  *router.HealthStats
}

func NewHealthHandler(cat *catalog.Catalog, health *router.HealthStats) *HealthHandler {
	return &HealthHandler{catalog: cat, health: health}
}

// Health is the public liveness probe.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RouterHealth reports per-model routing telemetry.
func (h *HealthHandler) RouterHealth(c *gin.Context) {
	entries := h.health.Snapshot()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Model < entries[j].Model })

	views := make([]api.HealthView, 0, len(entries))
	for _, e := range entries {
		view := api.HealthView{
			Model:         e.Model,
			Successes:     e.Successes,
			Failures:      e.Failures,
			LastOK:        e.LastOK,
			LastLatencyMS: e.LastLatencyMS,
			UpdatedAt:     e.UpdatedAt,
		}
		if entry, ok := h.catalog.Entry(e.Model); ok {
			view.Provider = entry.Provider
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{"object": "list", "data": views})
}
