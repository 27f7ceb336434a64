package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelrelay/relay/internal/config"
	"github.com/modelrelay/relay/internal/httpclient"
	"github.com/modelrelay/relay/internal/llm"
	"github.com/modelrelay/relay/pkg/api"
)

func init() {
	llm.Register("openai", NewAdapter)
}

type Adapter struct {
	config config.ProviderConfig
	client *http.Client
}

func NewAdapter(cfg config.ProviderConfig) (llm.Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (a *Adapter) Name() string {
	return a.config.ID
}

func (a *Adapter) Type() string {
	return "openai"
}

type chatRequest struct {
	Model         string            `json:"model"`
	Messages      []api.ChatMessage `json:"messages"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions *streamOptions    `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta *struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (a *Adapter) headers() map[string]string {
	h := map[string]string{
		"Authorization": "Bearer " + a.config.APIKey,
	}
	if org, ok := a.config.Config["organization"]; ok {
		h["OpenAI-Organization"] = org
	}
	return h
}

func (a *Adapter) url() string {
	return fmt.Sprintf("%s/chat/completions", strings.TrimRight(a.config.BaseURL, "/"))
}

func (a *Adapter) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	payload := chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	var resp chatResponse
	if err := httpclient.SendRequest(ctx, a.client, "POST", a.url(), a.headers(), payload, &resp); err != nil {
		return nil, err
	}

	out := &llm.Response{}
	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil {
		out.Content = resp.Choices[0].Message.Content
	}
	if resp.Usage != nil {
		out.TokensIn = resp.Usage.PromptTokens
		out.TokensOut = resp.Usage.CompletionTokens
	}
	return out, nil
}

func (a *Adapter) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)

	payload := chatRequest{
		Model:         req.Model,
		Messages:      req.Messages,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}

	go func() {
		defer close(ch)

		final := &llm.Response{}
		err := httpclient.StreamRequest(ctx, a.client, "POST", a.url(), a.headers(), payload, func(line string) error {
			// SSE format: data: {...}
			if !strings.HasPrefix(line, "data: ") {
				return nil
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return nil
			}

			var chunk chatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				// skip malformed keep-alive lines
				return nil
			}

			if chunk.Usage != nil {
				final.TokensIn = chunk.Usage.PromptTokens
				final.TokensOut = chunk.Usage.CompletionTokens
			}

			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta != nil && chunk.Choices[0].Delta.Content != "" {
				delta := chunk.Choices[0].Delta.Content
				final.Content += delta
				select {
				case ch <- llm.Chunk{Delta: delta}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})

		if err != nil {
			ch <- llm.Chunk{Err: err}
			return
		}
		ch <- llm.Chunk{Final: final}
	}()

	return ch, nil
}
