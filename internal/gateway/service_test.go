package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/modelrelay/relay/internal/catalog"
	"github.com/modelrelay/relay/internal/guard"
	"github.com/modelrelay/relay/internal/httpclient"
	"github.com/modelrelay/relay/internal/llm"
	"github.com/modelrelay/relay/internal/policy"
	"github.com/modelrelay/relay/internal/router"
	"github.com/modelrelay/relay/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name    string
	reply   *llm.Response
	chunks  []llm.Chunk
	err     error
	calls   int
	lastReq *llm.Request
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Type() string { return "fake" }

func (f *fakeProvider) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if len(f.chunks) > 0 {
		ch := make(chan llm.Chunk, len(f.chunks))
		for _, c := range f.chunks {
			ch <- c
		}
		close(ch)
		return ch, nil
	}
	ch := make(chan llm.Chunk, 3)
	ch <- llm.Chunk{Delta: f.reply.Content}
	ch <- llm.Chunk{Final: f.reply}
	close(ch)
	return ch, nil
}

type fixture struct {
	svc      *Service
	guard    *guard.Guard
	catalog  *catalog.Catalog
	policies *policy.Engine
	primary  *fakeProvider
	fallback *fakeProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cat := catalog.New()
	require.NoError(t, cat.Replace(
		[]catalog.ModelEntry{
			{ID: "main-model", Provider: "primary", PromptPricePer1K: 2.0, CompletionPricePer1K: 4.0},
			{ID: "backup-model", Provider: "backup", PromptPricePer1K: 1.0, CompletionPricePer1K: 1.0},
		},
		nil,
		map[string][]string{"main-model": {"backup-model"}},
	))

	g := guard.New()
	g.Load([]guard.Account{{
		ID:            "acct-1",
		Email:         "one@example.com",
		Status:        guard.StatusActive,
		AllowedModels: []string{"main-model", "backup-model"},
	}})

	pol := policy.NewEngine()

	primary := &fakeProvider{
		name:  "primary",
		reply: &llm.Response{Content: "primary says hi", TokensIn: 100, TokensOut: 50},
	}
	fallback := &fakeProvider{
		name:  "backup",
		reply: &llm.Response{Content: "backup says hi", TokensIn: 100, TokensOut: 50},
	}

	set := llm.NewSet()
	set.Add(primary)
	set.Add(fallback)

	disp := router.NewDispatcher(set, router.NewHealthStats(), 1, time.Millisecond)

	svc := NewService(cat, g, pol, disp, nil, time.Second)

	return &fixture{svc: svc, guard: g, catalog: cat, policies: pol, primary: primary, fallback: fallback}
}

func chatReq(content string) *api.ChatRequest {
	return &api.ChatRequest{
		Model:    "main-model",
		Messages: []api.ChatMessage{{Role: "user", Content: content}},
	}
}

func TestChatHappyPath(t *testing.T) {
	f := newFixture(t)

	resp, problem := f.svc.Chat(context.Background(), "acct-1", chatReq("hello"))
	require.Nil(t, problem)

	assert.Equal(t, "main-model", resp.Model)
	assert.Equal(t, "primary says hi", resp.Content)
	assert.Equal(t, 100, resp.TokensIn)
	assert.Equal(t, 50, resp.TokensOut)
	// 100 prompt tokens at 2.0/1k + 50 completion at 4.0/1k
	assert.InDelta(t, 0.2+0.2, resp.Cost, 1e-9)
	assert.Equal(t, []string{"main-model"}, resp.Routing.Attempts)
	assert.False(t, resp.Routing.UsedFallback)

	usage := f.guard.UsageFor("acct-1")
	assert.Equal(t, int64(1), usage.RequestsUsed)
	assert.Equal(t, int64(150), usage.TokensUsed)
}

func TestChatCostPricedOnActualModel(t *testing.T) {
	f := newFixture(t)
	f.primary.err = &httpclient.UpstreamError{StatusCode: 500}

	resp, problem := f.svc.Chat(context.Background(), "acct-1", chatReq("hello"))
	require.Nil(t, problem)

	assert.Equal(t, "backup-model", resp.Model)
	assert.True(t, resp.Routing.UsedFallback)
	assert.Equal(t, []string{"main-model", "backup-model"}, resp.Routing.Attempts)
	// priced on the backup model's rates, not the requested one
	assert.InDelta(t, 0.1+0.05, resp.Cost, 1e-9)
}

func TestChatUnknownModel(t *testing.T) {
	f := newFixture(t)

	req := chatReq("hello")
	req.Model = "no-such-model"

	_, problem := f.svc.Chat(context.Background(), "acct-1", req)
	require.NotNil(t, problem)
	assert.Equal(t, 400, problem.Status)
	assert.Equal(t, "Unknown Model", problem.Title)
	assert.Zero(t, f.primary.calls)
}

func TestChatGuardDenialSkipsDispatch(t *testing.T) {
	f := newFixture(t)
	f.guard.Upsert(guard.Account{
		ID:            "acct-1",
		Status:        guard.StatusSuspended,
		AllowedModels: []string{"main-model"},
	})

	_, problem := f.svc.Chat(context.Background(), "acct-1", chatReq("hello"))
	require.NotNil(t, problem)
	assert.Equal(t, 403, problem.Status)
	assert.Zero(t, f.primary.calls)
}

func TestChatBlockedByPolicyReleasesQuota(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.policies.Load([]policy.Rule{{
		ID: "p1", Name: "no-secrets", MatchType: policy.MatchContainsAny,
		Pattern: "secret plans", Action: policy.ActionBlock,
		AppliesTo: policy.ScopeUser, Enabled: true,
	}}))

	_, problem := f.svc.Chat(context.Background(), "acct-1", chatReq("give me the secret plans"))
	require.NotNil(t, problem)
	assert.Equal(t, 422, problem.Status)
	assert.Equal(t, "p1", problem.Extensions["policy_id"])

	assert.Zero(t, f.primary.calls, "blocked requests must never reach an upstream")

	usage := f.guard.UsageFor("acct-1")
	assert.Zero(t, usage.RequestsUsed, "blocked requests must not consume quota")
	assert.Zero(t, usage.TokensUsed)
}

func TestChatRedactsBeforeDispatch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.policies.Load([]policy.Rule{{
		ID: "p1", Name: "codename", MatchType: policy.MatchContainsAny,
		Pattern: "project titan", Action: policy.ActionRedact,
		AppliesTo: policy.ScopeUser, Enabled: true,
	}}))

	resp, problem := f.svc.Chat(context.Background(), "acct-1", chatReq("tell me about Project Titan"))
	require.Nil(t, problem)

	require.NotNil(t, f.primary.lastReq)
	sent := f.primary.lastReq.Messages[len(f.primary.lastReq.Messages)-1].Content
	assert.NotContains(t, sent, "Titan")
	assert.Contains(t, sent, policy.Placeholder)

	require.Len(t, resp.PolicyActions, 1)
	assert.Equal(t, "redact", resp.PolicyActions[0].Action)
}

func TestChatPIIRedactedBeforeDispatch(t *testing.T) {
	f := newFixture(t)

	_, problem := f.svc.Chat(context.Background(), "acct-1", chatReq("email me at bob@example.com"))
	require.Nil(t, problem)

	sent := f.primary.lastReq.Messages[0].Content
	assert.NotContains(t, sent, "bob@example.com")
}

func TestChatAssistantBlockReplacesContent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.policies.Load([]policy.Rule{{
		ID: "p1", Name: "leak", MatchType: policy.MatchContainsAny,
		Pattern: "primary says", Action: policy.ActionBlock,
		AppliesTo: policy.ScopeAssistant, Enabled: true,
	}}))

	resp, problem := f.svc.Chat(context.Background(), "acct-1", chatReq("hello"))
	require.Nil(t, problem)

	assert.Equal(t, RefusalMessage, resp.Content)
	// tokens were consumed upstream, so the exchange still settles
	usage := f.guard.UsageFor("acct-1")
	assert.Equal(t, int64(150), usage.TokensUsed)
}

func TestChatGuardrailPromptPrepended(t *testing.T) {
	f := newFixture(t)
	f.guard.Upsert(guard.Account{
		ID:              "acct-1",
		Status:          guard.StatusActive,
		AllowedModels:   []string{"main-model", "backup-model"},
		GuardrailPrompt: "Always answer in French.",
	})

	_, problem := f.svc.Chat(context.Background(), "acct-1", chatReq("hello"))
	require.Nil(t, problem)

	msgs := f.primary.lastReq.Messages
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "Always answer in French.", msgs[0].Content)
}

func TestChatDefaultModelSubstitution(t *testing.T) {
	f := newFixture(t)
	f.guard.Upsert(guard.Account{
		ID:            "acct-1",
		Status:        guard.StatusActive,
		AllowedModels: []string{"main-model", "backup-model"},
		DefaultModel:  "main-model",
	})

	req := chatReq("hello")
	req.Model = ""

	resp, problem := f.svc.Chat(context.Background(), "acct-1", req)
	require.Nil(t, problem)
	assert.Equal(t, "main-model", resp.Model)
}

func TestChatClampsParameters(t *testing.T) {
	f := newFixture(t)

	temp := 9.5
	req := chatReq("hello")
	req.MaxTokens = 1 << 20
	req.Temperature = &temp

	_, problem := f.svc.Chat(context.Background(), "acct-1", req)
	require.Nil(t, problem)

	assert.Equal(t, MaxTokensCeiling, f.primary.lastReq.MaxTokens)
	require.NotNil(t, f.primary.lastReq.Temperature)
	assert.Equal(t, TemperatureMax, *f.primary.lastReq.Temperature)
}

func TestChatRoutingExhausted(t *testing.T) {
	f := newFixture(t)
	f.primary.err = &httpclient.UpstreamError{StatusCode: 500}
	f.fallback.err = &httpclient.UpstreamError{StatusCode: 503}

	_, problem := f.svc.Chat(context.Background(), "acct-1", chatReq("hello"))
	require.NotNil(t, problem)
	assert.Equal(t, 502, problem.Status)

	usage := f.guard.UsageFor("acct-1")
	assert.Zero(t, usage.RequestsUsed, "failed exchanges release their reservation")
}

func TestStreamChatDeliversDeltasAndDone(t *testing.T) {
	f := newFixture(t)

	req := chatReq("hello")
	req.Stream = true

	events, problem := f.svc.StreamChat(context.Background(), "acct-1", req)
	require.Nil(t, problem)

	var deltas []string
	var done *api.ChatResponse
	for ev := range events {
		if ev.Delta != "" {
			deltas = append(deltas, ev.Delta)
		}
		if ev.Done != nil {
			done = ev.Done
		}
	}

	assert.Equal(t, []string{"primary says hi"}, deltas)
	require.NotNil(t, done)
	assert.Equal(t, "main-model", done.Model)
	assert.Equal(t, 150, done.TokensIn+done.TokensOut)

	usage := f.guard.UsageFor("acct-1")
	assert.Equal(t, int64(150), usage.TokensUsed)
}

func TestStreamChatForwardsEveryDeltaBeforeDone(t *testing.T) {
	f := newFixture(t)
	f.primary.chunks = []llm.Chunk{
		{Delta: "a"}, {Delta: "b"}, {Delta: "c"},
		{Final: &llm.Response{Content: "abc", TokensIn: 3, TokensOut: 3}},
	}

	req := chatReq("hello")
	req.Stream = true

	events, problem := f.svc.StreamChat(context.Background(), "acct-1", req)
	require.Nil(t, problem)

	var sequence []string
	for ev := range events {
		switch {
		case ev.Delta != "":
			sequence = append(sequence, ev.Delta)
		case ev.Done != nil:
			sequence = append(sequence, "done")
		}
	}

	// no delta may be dropped or overtaken by the terminal event
	assert.Equal(t, []string{"a", "b", "c", "done"}, sequence)
}

func TestStreamChatFallsBackToHealthyModel(t *testing.T) {
	f := newFixture(t)
	f.primary.err = &httpclient.UpstreamError{StatusCode: 503}

	req := chatReq("hello")
	req.Stream = true

	events, problem := f.svc.StreamChat(context.Background(), "acct-1", req)
	require.Nil(t, problem)

	var deltas []string
	var done *api.ChatResponse
	for ev := range events {
		if ev.Delta != "" {
			deltas = append(deltas, ev.Delta)
		}
		if ev.Done != nil {
			done = ev.Done
		}
	}

	assert.Equal(t, []string{"backup says hi"}, deltas)
	require.NotNil(t, done)
	assert.Equal(t, "backup-model", done.Model)
	assert.True(t, done.Routing.UsedFallback)
}

func TestStreamChatPreflightProblemIsSynchronous(t *testing.T) {
	f := newFixture(t)

	req := chatReq("hello")
	req.Model = "no-such-model"
	req.Stream = true

	events, problem := f.svc.StreamChat(context.Background(), "acct-1", req)
	require.NotNil(t, problem)
	assert.Nil(t, events)
	assert.Equal(t, 400, problem.Status)
}

func TestEstimateTokens(t *testing.T) {
	msgs := []api.ChatMessage{{Role: "user", Content: "12345678"}}
	assert.Equal(t, int64(2), estimateTokens(msgs))

	assert.Equal(t, int64(1), estimateTokens(nil))
}
