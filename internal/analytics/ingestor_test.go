package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/modelrelay/relay/internal/store"
	"github.com/modelrelay/relay/internal/store/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRepo records what the ingestor persists. Only the exchange and
// policy sub-repos do anything.
type fakeRepo struct {
	mu        sync.Mutex
	exchanges []model.Exchange
	hits      []model.PolicyHit
}

func (f *fakeRepo) Accounts() store.AccountRepository   { return nil }
func (f *fakeRepo) Catalog() store.CatalogRepository    { return nil }
func (f *fakeRepo) Policies() store.PolicyRepository    { return (*fakePolicyRepo)(f) }
func (f *fakeRepo) Exchanges() store.ExchangeRepository { return (*fakeExchangeRepo)(f) }
func (f *fakeRepo) Close() error                        { return nil }

func (f *fakeRepo) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	return fn(f)
}

type fakeExchangeRepo fakeRepo

func (f *fakeExchangeRepo) Log(ctx context.Context, ex *model.Exchange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, *ex)
	return nil
}

func (f *fakeExchangeRepo) GetRecent(ctx context.Context, accountID string, limit int) ([]model.Exchange, error) {
	return nil, nil
}

func (f *fakeExchangeRepo) GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error) {
	return nil, nil
}

type fakePolicyRepo fakeRepo

func (f *fakePolicyRepo) List(ctx context.Context) ([]model.Policy, error)      { return nil, nil }
func (f *fakePolicyRepo) Upsert(ctx context.Context, p *model.Policy) error     { return nil }
func (f *fakePolicyRepo) Delete(ctx context.Context, id string) error           { return nil }
func (f *fakePolicyRepo) ListHits(ctx context.Context, limit int) ([]model.PolicyHit, error) {
	return nil, nil
}

func (f *fakePolicyRepo) RecordHits(ctx context.Context, hits []model.PolicyHit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = append(f.hits, hits...)
	return nil
}

func TestIngestorFlushesOnStop(t *testing.T) {
	repo := &fakeRepo{}
	ing := NewIngestor(zap.NewNop(), repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ing.Start(ctx)

	ing.Log(&Record{
		Exchange: &model.Exchange{ID: "ex-1", AccountID: "a1"},
		Hits:     []model.PolicyHit{{ID: "h1", MessageID: "ex-1", PolicyID: "p1"}},
	})
	ing.Log(&Record{Exchange: &model.Exchange{ID: "ex-2", AccountID: "a1"}})

	ing.Stop()

	// the worker drains the channel and flushes after close
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.exchanges) == 2
	}, time.Second, 10*time.Millisecond)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, "ex-1", repo.exchanges[0].ID)
	require.Len(t, repo.hits, 1)
	assert.Equal(t, "p1", repo.hits[0].PolicyID)
}

func TestIngestorBatchThreshold(t *testing.T) {
	repo := &fakeRepo{}
	ing := NewIngestor(zap.NewNop(), repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ing.Start(ctx)
	defer ing.Stop()

	for i := 0; i < 50; i++ {
		ing.Log(&Record{Exchange: &model.Exchange{ID: "ex", AccountID: "a1"}})
	}

	// a full batch flushes without waiting for the ticker
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.exchanges) == 50
	}, time.Second, 10*time.Millisecond)
}
