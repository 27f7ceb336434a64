package anthropic

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

const defaultMaxTokens = 512

func init() {
	llm.Register("anthropic", NewAdapter)
}

type Adapter struct {
	config config.ProviderConfig
	client *http.Client
}

func NewAdapter(cfg config.ProviderConfig) (llm.Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.Config == nil {
		cfg.Config = map[string]string{}
	}
	if _, ok := cfg.Config["version"]; !ok {
		cfg.Config["version"] = "2023-06-01"
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
	return "anthropic"
}

type message struct {
	Role    string      `json:"role"`
	Content []textBlock `json:"content"`
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage *usage `json:"usage"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// streamEvent covers the subset of Anthropic SSE events the gateway needs:
// content_block_delta carries text, message_start/message_delta carry usage.
type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message *struct {
		Usage *usage `json:"usage"`
	} `json:"message"`
	Usage *usage `json:"usage"`
}

// splitSystem pulls system messages out of the transcript; Anthropic takes
// them as a separate top-level field.
func splitSystem(messages []api.ChatMessage) (string, []message) {
	var system []string
	var rest []message
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, message{
			Role:    m.Role,
			Content: []textBlock{{Type: "text", Text: m.Content}},
		})
	}
	return strings.Join(system, "\n"), rest
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.config.APIKey,
		"anthropic-version": a.config.Config["version"],
	}
}

func (a *Adapter) url() string {
	return fmt.Sprintf("%s/messages", strings.TrimRight(a.config.BaseURL, "/"))
}

func (a *Adapter) buildPayload(req *llm.Request, stream bool) chatRequest {
	system, messages := splitSystem(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return chatRequest{
		Model:       req.Model,
		System:      system,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (a *Adapter) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	var resp chatResponse
	if err := httpclient.SendRequest(ctx, a.client, "POST", a.url(), a.headers(), a.buildPayload(req, false), &resp); err != nil {
		return nil, err
	}

	var content strings.Builder
	for _, block := range resp.Content {
		content.WriteString(block.Text)
	}

	out := &llm.Response{Content: content.String()}
	if resp.Usage != nil {
		out.TokensIn = resp.Usage.InputTokens
		out.TokensOut = resp.Usage.OutputTokens
	}
	return out, nil
}

func (a *Adapter) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)

	go func() {
		defer close(ch)

		final := &llm.Response{}
		err := httpclient.StreamRequest(ctx, a.client, "POST", a.url(), a.headers(), a.buildPayload(req, true), func(line string) error {
			if !strings.HasPrefix(line, "data: ") {
				return nil
			}

			var ev streamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				return nil
			}

			switch ev.Type {
			case "message_start":
				if ev.Message != nil && ev.Message.Usage != nil {
					final.TokensIn = ev.Message.Usage.InputTokens
				}
			case "content_block_delta":
				if ev.Delta != nil && ev.Delta.Text != "" {
					final.Content += ev.Delta.Text
					select {
					case ch <- llm.Chunk{Delta: ev.Delta.Text}:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			case "message_delta":
				if ev.Usage != nil {
					final.TokensOut = ev.Usage.OutputTokens
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
