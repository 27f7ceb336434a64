package anthropic_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelrelay/relay/internal/config"
	"github.com/modelrelay/relay/internal/llm"
	"github.com/modelrelay/relay/internal/llm/anthropic"
	"github.com/modelrelay/relay/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		body, _ := io.ReadAll(r.Body)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &payload))
		// system prompts ride in a top-level field, not the transcript
		assert.Equal(t, "Be brief.", payload["system"])
		msgs := payload["messages"].([]interface{})
		assert.Len(t, msgs, 1)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "Hi back."}],
			"usage": {"input_tokens": 14, "output_tokens": 4}
		}`))
	}))
	defer server.Close()

	adapter, err := anthropic.NewAdapter(config.ProviderConfig{
		ID:      "anthropic-test",
		Type:    "anthropic",
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
	})
	require.NoError(t, err)

	resp, err := adapter.Chat(context.Background(), &llm.Request{
		Model: "claude-sonnet",
		Messages: []api.ChatMessage{
			{Role: "system", Content: "Be brief."},
			{Role: "user", Content: "Hi"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hi back.", resp.Content)
	assert.Equal(t, 14, resp.TokensIn)
	assert.Equal(t, 4, resp.TokensOut)
	assert.Equal(t, "anthropic-test", adapter.Name())
}

func TestAnthropicChatDefaultsMaxTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &payload))
		// the messages API rejects requests without max_tokens
		assert.Equal(t, float64(512), payload["max_tokens"])

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "ok"}]}`))
	}))
	defer server.Close()

	adapter, err := anthropic.NewAdapter(config.ProviderConfig{
		ID:      "anthropic-test",
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
	})
	require.NoError(t, err)

	_, err = adapter.Chat(context.Background(), &llm.Request{
		Model:    "claude-sonnet",
		Messages: []api.ChatMessage{{Role: "user", Content: "Hi"}},
	})
	require.NoError(t, err)
}

func TestAnthropicStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: message_start\n")
		_, _ = io.WriteString(w, "data: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":7}}}\n\n")
		_, _ = io.WriteString(w, "event: content_block_delta\n")
		_, _ = io.WriteString(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hey\"}}\n\n")
		_, _ = io.WriteString(w, "event: message_delta\n")
		_, _ = io.WriteString(w, "data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":1}}\n\n")
		_, _ = io.WriteString(w, "event: message_stop\n")
		_, _ = io.WriteString(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	adapter, err := anthropic.NewAdapter(config.ProviderConfig{
		ID:      "anthropic-test",
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
	})
	require.NoError(t, err)

	stream, err := adapter.Stream(context.Background(), &llm.Request{
		Model:    "claude-sonnet",
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

	assert.Equal(t, []string{"Hey"}, deltas)
	require.NotNil(t, final)
	assert.Equal(t, "Hey", final.Content)
	assert.Equal(t, 7, final.TokensIn)
	assert.Equal(t, 1, final.TokensOut)
}
