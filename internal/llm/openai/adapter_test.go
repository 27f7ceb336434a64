package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelrelay/relay/internal/config"
	"github.com/modelrelay/relay/internal/httpclient"
	"github.com/modelrelay/relay/internal/llm"
	"github.com/modelrelay/relay/internal/llm/openai"
	"github.com/modelrelay/relay/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "gpt-4o-mini", payload["model"])

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "Hello there!"},
				"finish_reason": "stop"
			}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 12, "total_tokens": 21}
		}`))
	}))
	defer server.Close()

	adapter, err := openai.NewAdapter(config.ProviderConfig{
		ID:      "openai-test",
		Type:    "openai",
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
	})
	require.NoError(t, err)

	resp, err := adapter.Chat(context.Background(), &llm.Request{
		Model:    "gpt-4o-mini",
		Messages: []api.ChatMessage{{Role: "user", Content: "Hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello there!", resp.Content)
	assert.Equal(t, 9, resp.TokensIn)
	assert.Equal(t, 12, resp.TokensOut)
	assert.Equal(t, "openai-test", adapter.Name())
}

func TestOpenAIChatUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer server.Close()

	adapter, err := openai.NewAdapter(config.ProviderConfig{
		ID:      "openai-test",
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
	})
	require.NoError(t, err)

	_, err = adapter.Chat(context.Background(), &llm.Request{
		Model:    "gpt-4o-mini",
		Messages: []api.ChatMessage{{Role: "user", Content: "Hi"}},
	})

	var upstream *httpclient.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusTooManyRequests, upstream.StatusCode)
}

func TestOpenAIStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2}}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	adapter, err := openai.NewAdapter(config.ProviderConfig{
		ID:      "openai-test",
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
	})
	require.NoError(t, err)

	stream, err := adapter.Stream(context.Background(), &llm.Request{
		Model:    "gpt-4o-mini",
		Messages: []api.ChatMessage{{Role: "user", Content: "Hi"}},
	})
	require.NoError(t, err)

	var deltas []string
	var final *llm.Response
	for chunk := range stream {
		require.NoError(t, chunk.Err)
		if chunk.Final != nil {
			final = chunk.Final
			continue
		}
		deltas = append(deltas, chunk.Delta)
	}

	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	require.NotNil(t, final)
	assert.Equal(t, "Hello", final.Content)
	assert.Equal(t, 5, final.TokensIn)
	assert.Equal(t, 2, final.TokensOut)
}
