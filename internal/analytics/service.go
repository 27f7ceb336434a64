package analytics

import (
	"context"
	"time"

	"github.com/modelrelay/relay/internal/store"
	"github.com/modelrelay/relay/internal/store/cache"
	"github.com/modelrelay/relay/internal/store/model"
)

type Service interface {
	GetUsageOverview(ctx context.Context, days int) ([]model.DailyStats, error)
	GetRecentExchanges(ctx context.Context, accountID string, limit int) ([]model.Exchange, error)
}

type service struct {
	repo  store.Repository
	cache cache.CacheService
}

func NewService(repo store.Repository, c cache.CacheService) Service {
	return &service{
		repo:  repo,
		cache: c,
	}
}

func (s *service) GetUsageOverview(ctx context.Context, days int) ([]model.DailyStats, error) {
	if days <= 0 {
		days = 7 // default to last week
	}

	key := "analytics:daily:" + time.Now().UTC().Format("2006-01-02")
	if s.cache != nil {
		var cached []model.DailyStats
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	stats, err := s.repo.Exchanges().GetDailyStats(ctx, days)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, stats, 30*time.Second)
	}
	return stats, nil
}

func (s *service) GetRecentExchanges(ctx context.Context, accountID string, limit int) ([]model.Exchange, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.Exchanges().GetRecent(ctx, accountID, limit)
}
