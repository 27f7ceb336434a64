package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/modelrelay/relay/internal/analytics"
	"github.com/modelrelay/relay/internal/catalog"
	"github.com/modelrelay/relay/internal/guard"
	"github.com/modelrelay/relay/internal/llm"
	"github.com/modelrelay/relay/internal/platform/logger"
	"github.com/modelrelay/relay/internal/policy"
	"github.com/modelrelay/relay/internal/router"
	"github.com/modelrelay/relay/internal/store/model"
	"github.com/modelrelay/relay/pkg/api"
	"go.uber.org/zap"
)

// Request clamps applied before anything reaches an upstream.
const (
	MaxTokensCeiling = 8192
	TemperatureMin   = 0.0
	TemperatureMax   = 2.0
)

// RefusalMessage replaces assistant output that a block policy caught.
// Deliberately generic: the policy name is surfaced in policy_actions, not
// in the message body.
const RefusalMessage = "This response was withheld because it did not meet content guidelines."

// Service orchestrates one chat exchange end to end: resolve, authorize,
// screen, dispatch, price, settle, record.
type Service struct {
	catalog    *catalog.Catalog
	guard      *guard.Guard
	policies   *policy.Engine
	dispatcher *router.Dispatcher
	ingestor   analytics.Ingestor

	heartbeat time.Duration
}

func NewService(
	cat *catalog.Catalog,
	g *guard.Guard,
	pol *policy.Engine,
	disp *router.Dispatcher,
	ing analytics.Ingestor,
	heartbeat time.Duration,
) *Service {
	if heartbeat <= 0 {
		heartbeat = 20 * time.Second
	}
	return &Service{
		catalog:    cat,
		guard:      g,
		policies:   pol,
		dispatcher: disp,
		ingestor:   ing,
		heartbeat:  heartbeat,
	}
}

// admission is everything the pre-flight phase produces: the resolved
// target, the quota reservation, the screened messages, and the policy
// hits collected so far.
type admission struct {
	exchangeID  string
	requested   string
	target      catalog.ResolvedTarget
	reservation *guard.Reservation
	messages    []api.ChatMessage
	actions     []api.PolicyAction
	estTokens   int64
}

// Chat handles a non-streaming exchange.
func (s *Service) Chat(ctx context.Context, accountID string, req *api.ChatRequest) (*api.ChatResponse, *api.Problem) {
	adm, problem := s.admit(accountID, req)
	if problem != nil {
		return nil, problem
	}

	llmReq := s.buildRequest(req, adm.messages)

	outcome, err := s.dispatcher.Dispatch(ctx, adm.target, llmReq)
	if err != nil {
		adm.reservation.Release()
		s.recordFailure(accountID, adm, outcome, err)
		if problem := asProblem(err); problem != nil {
			return nil, problem
		}
		return nil, api.ProviderError("upstream dispatch failed", err)
	}

	resp := s.settle(accountID, adm, outcome, false)
	return resp, nil
}

// StreamChat handles a streaming exchange. Pre-flight failures return a
// Problem synchronously; once the channel is handed out all failures
// arrive as events. The channel is closed after the terminal event.
func (s *Service) StreamChat(ctx context.Context, accountID string, req *api.ChatRequest) (<-chan api.StreamEvent, *api.Problem) {
	adm, problem := s.admit(accountID, req)
	if problem != nil {
		return nil, problem
	}

	llmReq := s.buildRequest(req, adm.messages)
	llmReq.Stream = true

	events := make(chan api.StreamEvent, 16)
	chunks := make(chan llm.Chunk, 16)
	forwarded := make(chan struct{})

	// Forward deltas with heartbeats on idle gaps. Runs until the chunk
	// channel closes; forwarded signals that every delta has been drained so
	// the terminal event cannot overtake one.
	go func() {
		defer close(forwarded)
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					return
				}
				if chunk.Delta == "" {
					continue
				}
				ticker.Reset(s.heartbeat)
				select {
				case events <- api.StreamEvent{Delta: chunk.Delta}:
				case <-ctx.Done():
					return
				}
			case <-ticker.C:
				select {
				case events <- api.StreamEvent{Heartbeat: true}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer close(events)

		outcome, err := s.dispatcher.DispatchStream(ctx, adm.target, llmReq, chunks)
		close(chunks)
		<-forwarded

		if err != nil {
			adm.reservation.Release()
			s.recordFailure(accountID, adm, outcome, err)
			select {
			case events <- api.StreamEvent{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		// Client disconnects before the terminal event still settle: the
		// upstream completed and tokens were consumed.
		resp := s.settle(accountID, adm, outcome, true)
		select {
		case events <- api.StreamEvent{Done: resp}:
		case <-ctx.Done():
		}
	}()

	return events, nil
}

// admit runs the shared pre-flight phase: default model substitution,
// catalog resolution, guard authorization, guardrail injection, and inbound
// policy screening. A policy block releases the reservation and records the
// refused exchange before returning.
func (s *Service) admit(accountID string, req *api.ChatRequest) (*admission, *api.Problem) {
	requested := req.Model
	if requested == "" {
		if acct, ok := s.guard.Account(accountID); ok && acct.DefaultModel != "" {
			requested = acct.DefaultModel
		}
	}
	if requested == "" {
		return nil, api.BadRequestError("no model requested and account has no default")
	}

	target, err := s.catalog.Resolve(requested)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownModel) || errors.Is(err, catalog.ErrInvalidAlias) {
			return nil, api.UnknownModelError(requested)
		}
		return nil, api.InternalError("catalog resolution failed", err)
	}

	estTokens := req.EstimatedTokens
	if estTokens <= 0 {
		estTokens = estimateTokens(req.Messages)
	}

	reservation, problem := s.guard.Authorize(accountID, requested, target.Primary, estTokens)
	if problem != nil {
		return nil, problem
	}

	adm := &admission{
		exchangeID:  uuid.NewString(),
		requested:   requested,
		target:      target,
		reservation: reservation,
		estTokens:   estTokens,
	}

	messages := make([]api.ChatMessage, 0, len(req.Messages)+1)
	if acct, ok := s.guard.Account(accountID); ok && acct.GuardrailPrompt != "" {
		messages = append(messages, api.ChatMessage{Role: string(api.System), Content: acct.GuardrailPrompt})
	}

	for _, msg := range req.Messages {
		screened := msg
		if msg.Role == string(api.User) {
			eval := s.policies.Evaluate(msg.Content, policy.ScopeUser)
			adm.appendHits(eval.Hits)
			if eval.Verdict == policy.VerdictBlocked {
				reservation.Release()
				s.recordBlocked(accountID, adm)
				return nil, api.ContentBlockedError(eval.Blocked.PolicyID, eval.Blocked.PolicyName)
			}
			screened.Content = eval.Text
			if redacted, changed := policy.RedactPII(screened.Content); changed {
				screened.Content = redacted
			}
		}
		messages = append(messages, screened)
	}

	adm.messages = messages
	return adm, nil
}

func (a *admission) appendHits(hits []policy.Hit) {
	for _, h := range hits {
		a.actions = append(a.actions, api.PolicyAction{
			PolicyID:   h.PolicyID,
			PolicyName: h.PolicyName,
			Action:     h.Action,
			Scope:      h.Scope,
		})
	}
}

// buildRequest clamps the caller's parameters into the uniform upstream
// shape.
func (s *Service) buildRequest(req *api.ChatRequest, messages []api.ChatMessage) llm.Request {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 || maxTokens > MaxTokensCeiling {
		maxTokens = MaxTokensCeiling
	}

	var temp *float64
	if req.Temperature != nil {
		t := *req.Temperature
		if t < TemperatureMin {
			t = TemperatureMin
		}
		if t > TemperatureMax {
			t = TemperatureMax
		}
		temp = &t
	}

	return llm.Request{
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temp,
	}
}

// settle runs the post-exchange phase: outbound policy screening, pricing
// against the model that actually answered, reservation commit, and the
// analytics record.
func (s *Service) settle(accountID string, adm *admission, outcome router.Outcome, streamed bool) *api.ChatResponse {
	content := outcome.Response.Content

	eval := s.policies.Evaluate(content, policy.ScopeAssistant)
	adm.appendHits(eval.Hits)
	if eval.Verdict == policy.VerdictBlocked {
		content = RefusalMessage
	} else {
		content = eval.Text
	}

	tokensIn := outcome.Response.TokensIn
	tokensOut := outcome.Response.TokensOut
	cost := outcome.Model.Cost(tokensIn, tokensOut)

	adm.reservation.Commit(int64(tokensIn + tokensOut))

	resp := &api.ChatResponse{
		ID:        adm.exchangeID,
		Model:     outcome.Model.ID,
		Provider:  outcome.Model.Provider,
		Content:   content,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Cost:      cost,
		LatencyMS: outcome.LatencyMS,
		Routing: api.RoutingTrace{
			SelectedModel: outcome.Model.ID,
			Provider:      outcome.Model.Provider,
			Attempts:      outcome.Attempts,
			UsedFallback:  outcome.UsedFallback,
		},
		CreatedAt:     time.Now().UTC(),
		PolicyActions: adm.actions,
	}

	s.record(accountID, adm, &model.Exchange{
		ID:             adm.exchangeID,
		AccountID:      accountID,
		RequestedModel: adm.requested,
		SelectedModel:  outcome.Model.ID,
		Provider:       outcome.Model.Provider,
		Attempts:       marshalAttempts(outcome.Attempts),
		UsedFallback:   outcome.UsedFallback,
		TokensIn:       tokensIn,
		TokensOut:      tokensOut,
		Cost:           cost,
		LatencyMS:      outcome.LatencyMS,
		IsStreamed:     streamed,
		StatusCode:     200,
		CreatedAt:      time.Now().UTC(),
	})

	return resp
}

func (s *Service) recordBlocked(accountID string, adm *admission) {
	s.record(accountID, adm, &model.Exchange{
		ID:             adm.exchangeID,
		AccountID:      accountID,
		RequestedModel: adm.requested,
		Attempts:       "[]",
		StatusCode:     422,
		CreatedAt:      time.Now().UTC(),
	})
}

func (s *Service) recordFailure(accountID string, adm *admission, outcome router.Outcome, err error) {
	status := 502
	if problem := asProblem(err); problem != nil {
		status = problem.Status
	}
	logger.Warn("exchange failed",
		zap.String("exchange_id", adm.exchangeID),
		zap.String("requested", adm.requested),
		zap.Error(err),
	)
	s.record(accountID, adm, &model.Exchange{
		ID:             adm.exchangeID,
		AccountID:      accountID,
		RequestedModel: adm.requested,
		Attempts:       marshalAttempts(outcome.Attempts),
		LatencyMS:      outcome.LatencyMS,
		StatusCode:     status,
		CreatedAt:      time.Now().UTC(),
	})
}

func (s *Service) record(accountID string, adm *admission, ex *model.Exchange) {
	if s.ingestor == nil {
		return
	}

	hits := make([]model.PolicyHit, 0, len(adm.actions))
	for _, a := range adm.actions {
		hits = append(hits, model.PolicyHit{
			ID:         uuid.NewString(),
			MessageID:  adm.exchangeID,
			PolicyID:   a.PolicyID,
			PolicyName: a.PolicyName,
			Action:     a.Action,
		})
	}

	s.ingestor.Log(&analytics.Record{Exchange: ex, Hits: hits})
}

func marshalAttempts(attempts []string) string {
	if len(attempts) == 0 {
		return "[]"
	}
	data, err := json.Marshal(attempts)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// estimateTokens derives an admission estimate from message length when the
// caller does not supply one. Roughly four characters per token.
func estimateTokens(messages []api.ChatMessage) int64 {
	var chars int
	for _, m := range messages {
		chars += len(m.Content)
	}
	est := int64(chars / 4)
	if est < 1 {
		est = 1
	}
	return est
}

func asProblem(err error) *api.Problem {
	var p *api.Problem
	if errors.As(err, &p) {
		return p
	}
	return nil
}
