package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelrelay/relay/cmd"
	"github.com/modelrelay/relay/internal/analytics"
	"github.com/modelrelay/relay/internal/catalog"
	"github.com/modelrelay/relay/internal/config"
	"github.com/modelrelay/relay/internal/gateway"
	"github.com/modelrelay/relay/internal/guard"
	"github.com/modelrelay/relay/internal/llm"
	"github.com/modelrelay/relay/internal/platform/logger"
	"github.com/modelrelay/relay/internal/platform/otel"
	"github.com/modelrelay/relay/internal/policy"
	"github.com/modelrelay/relay/internal/router"
	"github.com/modelrelay/relay/internal/server"
	"github.com/modelrelay/relay/internal/store"
	"github.com/modelrelay/relay/internal/store/cache"
	"github.com/modelrelay/relay/internal/store/sqlite"
	"go.uber.org/zap"

	// Import providers to trigger init() registration
	_ "github.com/modelrelay/relay/internal/llm/anthropic"
	_ "github.com/modelrelay/relay/internal/llm/openai"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Initialize(logger.DefaultConfig())
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Initialize(logger.DefaultConfig())
	log := logger.Get()
	defer logger.Sync()

	cmd.CheckForUpdates()

	if cfg.Tracing.Enabled {
		shutdown, err := otel.InitTracer("relay", log, os.Stdout)
		if err != nil {
			log.Fatal("Failed to init tracer", zap.Error(err))
		}
		defer func() {
			_ = shutdown(context.Background())
		}()
	}

	repo, err := sqlite.NewSQLiteStorage(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer repo.Close()

	var cacheService cache.CacheService
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisCache.Close()
		cacheService = redisCache
		log.Info("Using Redis cache", zap.String("addr", cfg.Redis.Addr))
	} else {
		cacheService = cache.NewMemoryCache()
	}

	ctx := context.Background()

	cat := catalog.New()
	if err := loadCatalog(ctx, repo, cat); err != nil {
		log.Fatal("Failed to load catalog", zap.Error(err))
	}

	g := guard.New()
	if err := loadAccounts(ctx, repo, g); err != nil {
		log.Fatal("Failed to load accounts", zap.Error(err))
	}

	policies := policy.NewEngine()
	if err := loadPolicies(ctx, repo, policies); err != nil {
		log.Fatal("Failed to load policies", zap.Error(err))
	}

	providers := llm.NewSet()
	for _, pCfg := range cfg.Providers {
		p, err := llm.NewProvider(pCfg)
		if err != nil {
			log.Warn("Skipping provider", zap.String("id", pCfg.ID), zap.Error(err))
			continue
		}
		providers.Add(p)
		log.Info("Registered provider", zap.String("id", pCfg.ID), zap.String("type", pCfg.Type))
	}

	health := router.NewHealthStats()
	dispatcher := router.NewDispatcher(providers, health,
		cfg.Routing.MaxAttemptsPerCandidate, cfg.Routing.BackoffBase)

	ingestor := analytics.NewIngestor(log, repo)
	ingestCtx, cancelIngest := context.WithCancel(context.Background())
	ingestor.Start(ingestCtx)

	svc := gateway.NewService(cat, g, policies, dispatcher, ingestor, cfg.Routing.StreamHeartbeat)

	srv := server.New(server.Deps{
		Config:    cfg,
		Logger:    log,
		Gateway:   svc,
		Catalog:   cat,
		Guard:     g,
		Policies:  policies,
		Health:    health,
		Repo:      repo,
		Cache:     cacheService,
		Analytics: analytics.NewService(repo, cacheService),
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Starting server", zap.String("port", cfg.Server.Port), zap.String("env", cfg.Server.Env))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}

	cancelIngest()
	ingestor.Stop()
}

func loadCatalog(ctx context.Context, repo store.Repository, cat *catalog.Catalog) error {
	rows, err := repo.Catalog().ListModels(ctx)
	if err != nil {
		return err
	}
	models := make([]catalog.ModelEntry, 0, len(rows))
	for i := range rows {
		models = append(models, rows[i].ToEntry())
	}

	aliasRows, err := repo.Catalog().ListAliases(ctx)
	if err != nil {
		return err
	}
	aliases := make([]catalog.AliasRule, 0, len(aliasRows))
	for i := range aliasRows {
		rule, err := aliasRows[i].ToRule()
		if err != nil {
			return err
		}
		aliases = append(aliases, rule)
	}

	fbRows, err := repo.Catalog().ListFallbacks(ctx)
	if err != nil {
		return err
	}
	fallbacks := make(map[string][]string, len(fbRows))
	for i := range fbRows {
		chain, err := fbRows[i].ToChain()
		if err != nil {
			return err
		}
		fallbacks[fbRows[i].ModelID] = chain
	}

	return cat.Replace(models, aliases, fallbacks)
}

func loadAccounts(ctx context.Context, repo store.Repository, g *guard.Guard) error {
	rows, err := repo.Accounts().List(ctx)
	if err != nil {
		return err
	}
	accounts := make([]guard.Account, 0, len(rows))
	for i := range rows {
		acct, err := rows[i].ToGuard()
		if err != nil {
			return err
		}
		accounts = append(accounts, acct)
	}
	g.Load(accounts)
	return nil
}

func loadPolicies(ctx context.Context, repo store.Repository, engine *policy.Engine) error {
	rows, err := repo.Policies().List(ctx)
	if err != nil {
		return err
	}
	rules := make([]policy.Rule, 0, len(rows))
	for i := range rows {
		rules = append(rules, rows[i].ToRule())
	}
	return engine.Load(rules)
}
