package api

import "time"

// RoutingTrace records how the router arrived at the model that answered.
// Attempts lists every candidate tried, in order, including the winner.
type RoutingTrace struct {
	SelectedModel string   `json:"selected_model"`
	Provider      string   `json:"provider"`
	Attempts      []string `json:"attempts"`
	UsedFallback  bool     `json:"used_fallback"`
}

// ChatResponse is the terminal payload for both sync and streamed requests.
type ChatResponse struct {
	ID        string       `json:"id"`
	Model     string       `json:"model"`
	Provider  string       `json:"provider"`
	Content   string       `json:"content"`
	TokensIn  int          `json:"tokens_in"`
	TokensOut int          `json:"tokens_out"`
	Cost      float64      `json:"cost"`
	LatencyMS int64        `json:"latency_ms"`
	Routing   RoutingTrace `json:"routing"`
	CreatedAt time.Time    `json:"created_at"`

	// PolicyActions surfaces non-blocking policy outcomes (flag/redact) so
	// the UI can badge the message.
	PolicyActions []PolicyAction `json:"policy_actions,omitempty"`
}

type PolicyAction struct {
	PolicyID   string `json:"policy_id"`
	PolicyName string `json:"policy_name"`
	Action     string `json:"action"`
	Scope      string `json:"scope"`
}

// StreamEvent is one element of the SSE sequence. Exactly one field is set:
// Delta for incremental text, Heartbeat for idle keep-alives, Done for the
// single terminal metadata event, Err if the stream failed mid-flight.
type StreamEvent struct {
	Delta     string        `json:"delta,omitempty"`
	Heartbeat bool          `json:"heartbeat,omitempty"`
	Done      *ChatResponse `json:"done,omitempty"`
	Err       error         `json:"-"`
}

// ModelView is the public listing shape for catalog entries.
type ModelView struct {
	ID                   string  `json:"id"`
	Provider             string  `json:"provider"`
	PromptPricePer1K     float64 `json:"prompt_price_per_1k"`
	CompletionPricePer1K float64 `json:"completion_price_per_1k"`
}

// AliasView exposes alias routing rules.
type AliasView struct {
	Alias   string            `json:"alias"`
	Targets []AliasTargetView `json:"targets"`
}

type AliasTargetView struct {
	Model  string `json:"model"`
	Weight uint32 `json:"weight"`
}

// HealthView is one row of the router health snapshot.
type HealthView struct {
	Model         string     `json:"model"`
	Provider      string     `json:"provider"`
	Successes     uint64     `json:"successes"`
	Failures      uint64     `json:"failures"`
	LastOK        bool       `json:"last_ok"`
	LastLatencyMS *int64     `json:"last_latency_ms,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}
