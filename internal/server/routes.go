package server

import (
	"github.com/modelrelay/relay/internal/server/middleware"
	v1 "github.com/modelrelay/relay/internal/server/v1"
)

func (s *Server) SetupRoutes() {
	// 1. Global Middleware
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.ErrorHandler())
	if s.deps.Config.Tracing.Enabled {
		s.router.Use(middleware.Tracing("relay"))
	}

	// 2. Health Check (Public)
	healthHandler := v1.NewHealthHandler(s.deps.Catalog, s.deps.Health)
	s.router.GET("/health", healthHandler.Health)

	// 3. API V1 Group
	limiter := middleware.NewRateLimiter(
		s.deps.Config.RateLimit.RequestsPerSecond,
		s.deps.Config.RateLimit.Burst,
		s.deps.Logger,
	)

	api := s.router.Group("/v1")
	api.Use(middleware.Auth(s.deps.Repo, s.deps.Config.Server.APIKeys))
	api.Use(limiter.Middleware())
	{
		chatHandler := v1.NewChatHandler(s.deps.Gateway)
		api.POST("/chat/completions", chatHandler.CreateCompletion)

		modelHandler := v1.NewModelHandler(s.deps.Catalog, s.deps.Cache)
		api.GET("/models", modelHandler.ListModels)
		api.GET("/aliases", modelHandler.ListAliases)

		api.GET("/router/health", healthHandler.RouterHealth)

		analyticsHandler := v1.NewAnalyticsHandler(s.deps.Analytics)
		api.GET("/analytics/usage", analyticsHandler.GetUsage)
		api.GET("/analytics/exchanges", analyticsHandler.GetExchanges)

		// Admin surface: catalog, accounts, policies
		adminHandler := v1.NewAdminHandler(s.deps.Repo, s.deps.Catalog, s.deps.Guard, s.deps.Policies)
		admin := api.Group("/admin")
		{
			admin.PUT("/models", adminHandler.UpsertModel)
			admin.PUT("/aliases", adminHandler.UpsertAlias)
			admin.PUT("/fallbacks", adminHandler.UpsertFallback)
			admin.PUT("/accounts", adminHandler.UpsertAccount)
			admin.GET("/accounts", adminHandler.ListAccounts)
			admin.GET("/accounts/:id/usage", adminHandler.GetUsage)
			admin.PUT("/policies", adminHandler.UpsertPolicy)
			admin.GET("/policies", adminHandler.ListPolicies)
			admin.DELETE("/policies/:id", adminHandler.DeletePolicy)
		}
	}
}
