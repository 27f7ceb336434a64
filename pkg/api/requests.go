package api

// ChatRequest is the inbound shape for /v1/chat/completions.
type ChatRequest struct {
	// model id or alias, resolved by the catalog. Empty falls back to the
	// account's default model when one is configured.
	Model string `json:"model"`

	Messages []ChatMessage `json:"messages" binding:"required,min=1,dive"`

	// Enable streaming, defaults to `false` (empty)
	Stream bool `json:"stream,omitempty"`

	// LLM Parameters
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	// EstimatedTokens is the caller's admission estimate. Zero means the
	// server derives one from message length.
	EstimatedTokens int64 `json:"estimated_tokens,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role" binding:"required,oneof=user assistant system"`
	Content string `json:"content" binding:"required"`
}

// LastUserContent returns the content of the final user message, or "".
func (r *ChatRequest) LastUserContent() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
	System    Role = "system"
)

// ModelFilter narrows /v1/models listings.
type ModelFilter struct {
	Provider string
	ID       string
}
