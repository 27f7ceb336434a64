package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/modelrelay/relay/internal/store"
	"github.com/modelrelay/relay/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB // Required for starting new transactions
	executor DB       // Used for actual queries (can be *sqlx.DB or *sqlx.Tx)
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &SqliteRepository{
		db:       r.db,
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		// attempt rollback, but prioritize original error
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SqliteRepository) Accounts() store.AccountRepository {
	return &accountRepo{db: r.executor}
}

func (r *SqliteRepository) Catalog() store.CatalogRepository {
	return &catalogRepo{db: r.executor}
}

func (r *SqliteRepository) Policies() store.PolicyRepository {
	return &policyRepo{db: r.executor}
}

func (r *SqliteRepository) Exchanges() store.ExchangeRepository {
	return &exchangeRepo{db: r.executor}
}

type accountRepo struct {
	db DB
}

func (r *accountRepo) GetByKeyHash(ctx context.Context, hash string) (*model.Account, error) {
	var acct model.Account
	query := `SELECT * FROM accounts WHERE api_key_hash = ? AND api_key_hash != ''`
	if err := r.db.GetContext(ctx, &acct, query, hash); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (r *accountRepo) Get(ctx context.Context, id string) (*model.Account, error) {
	var acct model.Account
	if err := r.db.GetContext(ctx, &acct, `SELECT * FROM accounts WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (r *accountRepo) List(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `SELECT * FROM accounts ORDER BY id`)
	return accounts, err
}

func (r *accountRepo) Upsert(ctx context.Context, account *model.Account) error {
	query := `
	INSERT INTO accounts (
		id, email, display_name, api_key_hash, status, allowed_models,
		default_model, guardrail_prompt, req_per_day, tokens_per_day, price_caps,
		created_at, updated_at
	) VALUES (
		:id, :email, :display_name, :api_key_hash, :status, :allowed_models,
		:default_model, :guardrail_prompt, :req_per_day, :tokens_per_day, :price_caps,
		CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
	)
	ON CONFLICT(id) DO UPDATE SET
		email = excluded.email,
		display_name = excluded.display_name,
		api_key_hash = excluded.api_key_hash,
		status = excluded.status,
		allowed_models = excluded.allowed_models,
		default_model = excluded.default_model,
		guardrail_prompt = excluded.guardrail_prompt,
		req_per_day = excluded.req_per_day,
		tokens_per_day = excluded.tokens_per_day,
		price_caps = excluded.price_caps,
		updated_at = CURRENT_TIMESTAMP`
	_, err := r.db.NamedExecContext(ctx, query, account)
	return err
}

type catalogRepo struct {
	db DB
}

func (r *catalogRepo) ListModels(ctx context.Context) ([]model.CatalogModel, error) {
	var models []model.CatalogModel
	err := r.db.SelectContext(ctx, &models, `SELECT * FROM catalog_models ORDER BY id`)
	return models, err
}

func (r *catalogRepo) UpsertModel(ctx context.Context, m *model.CatalogModel) error {
	query := `
	INSERT INTO catalog_models (id, provider, prompt_price_per_1k, completion_price_per_1k, created_at, updated_at)
	VALUES (:id, :provider, :prompt_price_per_1k, :completion_price_per_1k, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
		provider = excluded.provider,
		prompt_price_per_1k = excluded.prompt_price_per_1k,
		completion_price_per_1k = excluded.completion_price_per_1k,
		updated_at = CURRENT_TIMESTAMP`
	_, err := r.db.NamedExecContext(ctx, query, m)
	return err
}

func (r *catalogRepo) ListAliases(ctx context.Context) ([]model.Alias, error) {
	var aliases []model.Alias
	err := r.db.SelectContext(ctx, &aliases, `SELECT * FROM catalog_aliases ORDER BY alias`)
	return aliases, err
}

func (r *catalogRepo) UpsertAlias(ctx context.Context, a *model.Alias) error {
	query := `
	INSERT INTO catalog_aliases (alias, targets, created_at, updated_at)
	VALUES (:alias, :targets, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(alias) DO UPDATE SET
		targets = excluded.targets,
		updated_at = CURRENT_TIMESTAMP`
	_, err := r.db.NamedExecContext(ctx, query, a)
	return err
}

func (r *catalogRepo) ListFallbacks(ctx context.Context) ([]model.Fallback, error) {
	var fallbacks []model.Fallback
	err := r.db.SelectContext(ctx, &fallbacks, `SELECT * FROM catalog_fallbacks ORDER BY model_id`)
	return fallbacks, err
}

func (r *catalogRepo) UpsertFallback(ctx context.Context, f *model.Fallback) error {
	query := `
	INSERT INTO catalog_fallbacks (model_id, chain, updated_at)
	VALUES (:model_id, :chain, CURRENT_TIMESTAMP)
	ON CONFLICT(model_id) DO UPDATE SET
		chain = excluded.chain,
		updated_at = CURRENT_TIMESTAMP`
	_, err := r.db.NamedExecContext(ctx, query, f)
	return err
}

type policyRepo struct {
	db DB
}

func (r *policyRepo) List(ctx context.Context) ([]model.Policy, error) {
	var policies []model.Policy
	// creation order is evaluation order
	err := r.db.SelectContext(ctx, &policies, `SELECT * FROM policies ORDER BY created_at, id`)
	return policies, err
}

func (r *policyRepo) Upsert(ctx context.Context, p *model.Policy) error {
	query := `
	INSERT INTO policies (id, name, match_type, pattern, action, applies_to, enabled, created_at)
	VALUES (:id, :name, :match_type, :pattern, :action, :applies_to, :enabled, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		match_type = excluded.match_type,
		pattern = excluded.pattern,
		action = excluded.action,
		applies_to = excluded.applies_to,
		enabled = excluded.enabled`
	_, err := r.db.NamedExecContext(ctx, query, p)
	return err
}

func (r *policyRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
	return err
}

func (r *policyRepo) RecordHits(ctx context.Context, hits []model.PolicyHit) error {
	query := `
	INSERT INTO policy_hits (id, message_id, policy_id, policy_name, action, created_at)
	VALUES (:id, :message_id, :policy_id, :policy_name, :action, CURRENT_TIMESTAMP)`
	for i := range hits {
		if _, err := r.db.NamedExecContext(ctx, query, &hits[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *policyRepo) ListHits(ctx context.Context, limit int) ([]model.PolicyHit, error) {
	var hits []model.PolicyHit
	err := r.db.SelectContext(ctx, &hits, `SELECT * FROM policy_hits ORDER BY created_at DESC LIMIT ?`, limit)
	return hits, err
}

type exchangeRepo struct {
	db DB
}

func (r *exchangeRepo) Log(ctx context.Context, ex *model.Exchange) error {
	query := `
	INSERT INTO exchanges (
		id, account_id, requested_model, selected_model, provider, attempts,
		used_fallback, tokens_in, tokens_out, cost, latency_ms, is_streamed,
		status_code, created_at
	) VALUES (
		:id, :account_id, :requested_model, :selected_model, :provider, :attempts,
		:used_fallback, :tokens_in, :tokens_out, :cost, :latency_ms, :is_streamed,
		:status_code, :created_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, ex)
	return err
}

func (r *exchangeRepo) GetRecent(ctx context.Context, accountID string, limit int) ([]model.Exchange, error) {
	var exchanges []model.Exchange
	query := `SELECT * FROM exchanges WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`
	err := r.db.SelectContext(ctx, &exchanges, query, accountID, limit)
	return exchanges, err
}

func (r *exchangeRepo) GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error) {
	var stats []model.DailyStats
	query := `
		SELECT
			DATE(created_at) as date,
			COUNT(*) as total_requests,
			SUM(tokens_in + tokens_out) as total_tokens,
			SUM(cost) as total_cost,
			AVG(latency_ms) as avg_latency
		FROM exchanges
		WHERE created_at >= DATE('now', ?)
		GROUP BY date
		ORDER BY date DESC
	`
	if days <= 0 {
		days = 7
	}
	// SQLite date offset format is '-7 days'
	err := r.db.SelectContext(ctx, &stats, query, fmt.Sprintf("-%d days", days))
	return stats, err
}
