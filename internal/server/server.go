package server

import (
	"net/http"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/modelrelay/relay/internal/analytics"
	"github.com/modelrelay/relay/internal/catalog"
	"github.com/modelrelay/relay/internal/config"
	"github.com/modelrelay/relay/internal/gateway"
	"github.com/modelrelay/relay/internal/guard"
	"github.com/modelrelay/relay/internal/policy"
	"github.com/modelrelay/relay/internal/router"
	"github.com/modelrelay/relay/internal/server/middleware"
	"github.com/modelrelay/relay/internal/server/validator"
	"github.com/modelrelay/relay/internal/store"
	"github.com/modelrelay/relay/internal/store/cache"
	"go.uber.org/zap"
)

// Deps bundles everything the HTTP layer serves.
type Deps struct {
	Config    *config.Config
	Logger    *zap.Logger
	Gateway   *gateway.Service
	Catalog   *catalog.Catalog
	Guard     *guard.Guard
	Policies  *policy.Engine
	Health    *router.HealthStats
	Repo      store.Repository
	Cache     cache.CacheService
	Analytics analytics.Service
}

type Server struct {
	router *gin.Engine
	deps   Deps
}

func New(deps Deps) *Server {
	if deps.Config.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	validator.InitValidator()

	engine := gin.New()

	engine.Use(ginzap.RecoveryWithZap(deps.Logger, true))
	engine.Use(middleware.Logger(deps.Logger))

	s := &Server{
		router: engine,
		deps:   deps,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
