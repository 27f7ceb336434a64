package analytics

import (
	"context"
	"time"

	"github.com/modelrelay/relay/internal/store"
	"github.com/modelrelay/relay/internal/store/model"
	"go.uber.org/zap"
)

// Record couples a completed exchange with the policy hits it produced so
// both land in the store together.
type Record struct {
	Exchange *model.Exchange
	Hits     []model.PolicyHit
}

// Ingestor handles the asynchronous persistence of completed exchanges.
type Ingestor interface {
	Log(rec *Record)
	Start(ctx context.Context)
	Stop()
}

type ingestor struct {
	logger    *zap.Logger
	repo      store.Repository
	recChan   chan *Record
	batchSize int
	flushTime time.Duration
}

func NewIngestor(logger *zap.Logger, repo store.Repository) Ingestor {
	return &ingestor{
		logger:    logger,
		repo:      repo,
		recChan:   make(chan *Record, 10000),
		batchSize: 50,
		flushTime: 5 * time.Second,
	}
}

func (i *ingestor) Log(rec *Record) {
	select {
	case i.recChan <- rec:
	default:
		i.logger.Warn("Analytics buffer full, dropping exchange", zap.String("exchange_id", rec.Exchange.ID))
	}
}

func (i *ingestor) Start(ctx context.Context) {
	go i.worker(ctx)
}

func (i *ingestor) Stop() {
	close(i.recChan)
}

func (i *ingestor) worker(ctx context.Context) {
	batch := make([]*Record, 0, i.batchSize)
	ticker := time.NewTicker(i.flushTime)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		for _, rec := range batch {
			if err := i.repo.Exchanges().Log(context.Background(), rec.Exchange); err != nil {
				i.logger.Error("Failed to persist exchange", zap.String("id", rec.Exchange.ID), zap.Error(err))
				continue
			}
			if len(rec.Hits) > 0 {
				if err := i.repo.Policies().RecordHits(context.Background(), rec.Hits); err != nil {
					i.logger.Error("Failed to persist policy hits", zap.String("exchange_id", rec.Exchange.ID), zap.Error(err))
				}
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-i.recChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= i.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}
