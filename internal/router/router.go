package router

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/modelrelay/relay/internal/catalog"
	"github.com/modelrelay/relay/internal/httpclient"
	"github.com/modelrelay/relay/internal/llm"
	"github.com/modelrelay/relay/internal/platform/logger"
	"github.com/modelrelay/relay/pkg/api"
	"go.uber.org/zap"
)

// State enumerates the dispatch state machine. Kept explicit rather than
// folded into control flow so retry/backoff/fallback interactions stay
// auditable and testable in isolation.
type State int

const (
	StateResolve State = iota
	StateDispatching
	StateDone
	StateFailed
)

// Outcome is the terminal result of a successful dispatch.
type Outcome struct {
	Model        catalog.ModelEntry
	Response     *llm.Response
	Attempts     []string
	UsedFallback bool
	LatencyMS    int64
}

// ProviderSet resolves a provider name to an upstream client.
type ProviderSet interface {
	Provider(name string) (llm.Provider, bool)
}

// Dispatcher walks a resolved target's candidate list, retrying each
// candidate with backoff and advancing on exhaustion.
type Dispatcher struct {
	providers   ProviderSet
	health      *HealthStats
	maxAttempts int
	backoffBase time.Duration

	// sleep is swappable so tests don't wait out real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(providers ProviderSet, health *HealthStats, maxAttempts int, backoffBase time.Duration) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	if backoffBase <= 0 {
		backoffBase = 200 * time.Millisecond
	}
	return &Dispatcher{
		providers:   providers,
		health:      health,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		sleep:       sleepCtx,
	}
}

// Health exposes the per-model stats arena.
func (d *Dispatcher) Health() *HealthStats {
	return d.health
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retryable classifies upstream errors. 429 and 5xx responses plus
// transport timeouts are retryable; other 4xx are fatal for the candidate.
func Retryable(err error) bool {
	var upstream *httpclient.UpstreamError
	if errors.As(err, &upstream) {
		if upstream.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return upstream.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// transport-level failures without a status are treated as retryable
	var probe *api.Problem
	return !errors.As(err, &probe)
}

// backoff returns the delay before retry n (0-based) with jitter.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	base := d.backoffBase << attempt
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))
	return base + jitter
}

// Dispatch runs the state machine: Dispatching over candidates[index],
// with up to maxAttempts tries per candidate, recording exactly one health
// observation per candidate (success, or failure on exhaustion).
func (d *Dispatcher) Dispatch(ctx context.Context, target catalog.ResolvedTarget, req llm.Request) (Outcome, error) {
	candidates := target.Candidates()
	attempts := make([]string, 0, len(candidates))
	state := StateDispatching
	start := time.Now()

	var lastErr error

	for index := 0; state == StateDispatching; {
		candidate := candidates[index]
		attempts = append(attempts, candidate.ID)

		provider, ok := d.providers.Provider(candidate.Provider)
		if !ok {
			// configuration hole: count it against the model and move on
			lastErr = api.ProviderError("provider not configured: "+candidate.Provider, nil)
			d.health.RecordFailure(candidate.ID, 0)
			logger.Warn("candidate skipped, provider missing",
				zap.String("model", candidate.ID),
				zap.String("provider", candidate.Provider),
			)
			if index+1 < len(candidates) {
				index++
				continue
			}
			state = StateFailed
			break
		}

		candidateReq := req
		candidateReq.Model = candidate.ID

		resp, latency, err := d.tryCandidate(ctx, provider, &candidateReq)
		if err == nil {
			d.health.RecordSuccess(candidate.ID, latency)
			logger.Info("dispatch succeeded",
				zap.String("requested", target.Requested),
				zap.String("model", candidate.ID),
				zap.Int64("latency_ms", latency.Milliseconds()),
				zap.Int("attempts", len(attempts)),
			)
			return Outcome{
				Model:        candidate,
				Response:     resp,
				Attempts:     attempts,
				UsedFallback: index > 0,
				LatencyMS:    time.Since(start).Milliseconds(),
			}, nil
		}

		lastErr = err

		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// the client left before this candidate genuinely failed; not a
			// model fault, so no health observation
			state = StateFailed
			break
		}

		d.health.RecordFailure(candidate.ID, latency)
		logger.Warn("candidate exhausted",
			zap.String("model", candidate.ID),
			zap.Error(err),
		)

		if ctx.Err() != nil {
			// client gone: stop walking the chain
			state = StateFailed
			break
		}

		if index+1 < len(candidates) {
			index++
			continue
		}
		state = StateFailed
	}

	return Outcome{Attempts: attempts, LatencyMS: time.Since(start).Milliseconds()},
		api.RoutingExhaustedError(attempts, lastErr)
}

// tryCandidate runs the bounded retry loop for a single candidate. A fatal
// (non-retryable) error exhausts the candidate immediately. The returned
// latency is that of the last attempt.
func (d *Dispatcher) tryCandidate(ctx context.Context, provider llm.Provider, req *llm.Request) (*llm.Response, time.Duration, error) {
	var lastErr error
	var latency time.Duration

	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, d.backoff(attempt-1)); err != nil {
				// cancelled during backoff; surface the upstream error that
				// caused the retry, not the cancellation
				return nil, latency, lastErr
			}
		}

		attemptStart := time.Now()
		resp, err := provider.Chat(ctx, req)
		latency = time.Since(attemptStart)
		if err == nil {
			return resp, latency, nil
		}

		lastErr = err
		if !Retryable(err) || ctx.Err() != nil {
			break
		}
	}

	return nil, latency, lastErr
}

// DispatchStream is the streaming variant. Retry/fallback only applies
// before the first token: once a chunk has been forwarded the stream is
// committed to that candidate, and a mid-stream error surfaces as-is.
func (d *Dispatcher) DispatchStream(ctx context.Context, target catalog.ResolvedTarget, req llm.Request, out chan<- llm.Chunk) (Outcome, error) {
	candidates := target.Candidates()
	attempts := make([]string, 0, len(candidates))
	start := time.Now()

	var lastErr error

	for index := 0; index < len(candidates); index++ {
		candidate := candidates[index]
		attempts = append(attempts, candidate.ID)

		provider, ok := d.providers.Provider(candidate.Provider)
		if !ok {
			lastErr = api.ProviderError("provider not configured: "+candidate.Provider, nil)
			d.health.RecordFailure(candidate.ID, 0)
			continue
		}

		candidateReq := req
		candidateReq.Model = candidate.ID
		candidateReq.Stream = true

		attemptStart := time.Now()
		stream, err := provider.Stream(ctx, &candidateReq)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				break
			}
			d.health.RecordFailure(candidate.ID, time.Since(attemptStart))
			if !Retryable(err) && index+1 >= len(candidates) {
				break
			}
			continue
		}

		// candErr judges this candidate alone; lastErr carries the aggregate
		// for the exhaustion error
		var candErr error
		emitted := false
		var final *llm.Response
		for chunk := range stream {
			if chunk.Err != nil {
				candErr = chunk.Err
				break
			}
			if chunk.Final != nil {
				final = chunk.Final
				continue
			}
			emitted = true
			select {
			case out <- chunk:
			case <-ctx.Done():
				candErr = ctx.Err()
			}
		}

		latency := time.Since(attemptStart)
		if final != nil && candErr == nil {
			d.health.RecordSuccess(candidate.ID, latency)
			return Outcome{
				Model:        candidate,
				Response:     final,
				Attempts:     attempts,
				UsedFallback: index > 0,
				LatencyMS:    time.Since(start).Milliseconds(),
			}, nil
		}

		if candErr != nil {
			lastErr = candErr
		}

		if ctx.Err() != nil && (candErr == nil || errors.Is(candErr, ctx.Err())) {
			// a disconnect on an otherwise healthy candidate is not a model
			// fault; no health observation
			if candErr == nil {
				lastErr = ctx.Err()
			}
			break
		}

		d.health.RecordFailure(candidate.ID, latency)
		if emitted {
			// partial output already reached the client; do not restart on
			// a different model
			break
		}
	}

	return Outcome{Attempts: attempts, LatencyMS: time.Since(start).Milliseconds()},
		api.RoutingExhaustedError(attempts, lastErr)
}
