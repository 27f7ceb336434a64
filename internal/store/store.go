package store

import (
	"context"

	"github.com/modelrelay/relay/internal/store/model"
)

type contextKey string

const (
	// ContextKeyAccountID carries the authenticated account through the
	// request context.
	ContextKeyAccountID contextKey = "account_id"
)

// Repository is the main contract for the data layer.
type Repository interface {
	Accounts() AccountRepository
	Catalog() CatalogRepository
	Policies() PolicyRepository
	Exchanges() ExchangeRepository

	// transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

type AccountRepository interface {
	// GetByKeyHash retrieves an account by its hashed API key (for auth).
	GetByKeyHash(ctx context.Context, hash string) (*model.Account, error)
	Get(ctx context.Context, id string) (*model.Account, error)
	List(ctx context.Context) ([]model.Account, error)
	Upsert(ctx context.Context, account *model.Account) error
}

type CatalogRepository interface {
	ListModels(ctx context.Context) ([]model.CatalogModel, error)
	UpsertModel(ctx context.Context, m *model.CatalogModel) error
	ListAliases(ctx context.Context) ([]model.Alias, error)
	UpsertAlias(ctx context.Context, a *model.Alias) error
	ListFallbacks(ctx context.Context) ([]model.Fallback, error)
	UpsertFallback(ctx context.Context, f *model.Fallback) error
}

type PolicyRepository interface {
	// List returns policies in creation order, which is evaluation order.
	List(ctx context.Context) ([]model.Policy, error)
	Upsert(ctx context.Context, p *model.Policy) error
	Delete(ctx context.Context, id string) error
	// RecordHits appends audit records; never updated or deleted.
	RecordHits(ctx context.Context, hits []model.PolicyHit) error
	ListHits(ctx context.Context, limit int) ([]model.PolicyHit, error)
}

type ExchangeRepository interface {
	// Log stores a completed exchange.
	Log(ctx context.Context, ex *model.Exchange) error
	// GetRecent returns the last N exchanges for an account.
	GetRecent(ctx context.Context, accountID string, limit int) ([]model.Exchange, error)
	// GetDailyStats returns aggregated stats grouped by day.
	GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error)
}
