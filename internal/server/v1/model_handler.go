package v1

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modelrelay/relay/internal/catalog"
	"github.com/modelrelay/relay/internal/store/cache"
	"github.com/modelrelay/relay/pkg/api"
)

type ModelHandler struct {
	catalog *catalog.Catalog
	cache   cache.CacheService
}

func NewModelHandler(cat *catalog.Catalog, c cache.CacheService) *ModelHandler {
	return &ModelHandler{catalog: cat, cache: c}
}

// ListModels serves the public catalog view, optionally filtered by
// provider or id substring.
func (h *ModelHandler) ListModels(c *gin.Context) {
	filter := api.ModelFilter{
		Provider: c.Query("provider"),
		ID:       c.Query("id"),
	}

	cacheKey := "models:" + filter.Provider + ":" + filter.ID
	if h.cache != nil {
		var cached []api.ModelView
		if err := h.cache.Get(c.Request.Context(), cacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, gin.H{"object": "list", "data": cached})
			return
		}
	}

	views := make([]api.ModelView, 0)
	for _, m := range h.catalog.Models() {
		if filter.Provider != "" && !strings.EqualFold(m.Provider, filter.Provider) {
			continue
		}
		if filter.ID != "" && !strings.Contains(m.ID, filter.ID) {
			continue
		}
		views = append(views, api.ModelView{
			ID:                   m.ID,
			Provider:             m.Provider,
			PromptPricePer1K:     m.PromptPricePer1K,
			CompletionPricePer1K: m.CompletionPricePer1K,
		})
	}

	if h.cache != nil {
		_ = h.cache.Set(c.Request.Context(), cacheKey, views, 10*time.Second)
	}

	c.JSON(http.StatusOK, gin.H{"object": "list", "data": views})
}

// ListAliases exposes the weighted routing rules.
func (h *ModelHandler) ListAliases(c *gin.Context) {
	views := make([]api.AliasView, 0)
	for _, rule := range h.catalog.Aliases() {
		view := api.AliasView{Alias: rule.Alias}
		for _, t := range rule.Targets {
			view.Targets = append(view.Targets, api.AliasTargetView{Model: t.Model, Weight: t.Weight})
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{"object": "list", "data": views})
}
