package model

import (
	"database/sql"
	"time"
)

// Account is the persisted access record. Slice-valued fields are stored
// as JSON text columns; the guard package owns the decoded form.
type Account struct {
	ID              string         `db:"id" json:"id"`
	Email           string         `db:"email" json:"email"`
	DisplayName     string         `db:"display_name" json:"display_name"`
	APIKeyHash      string         `db:"api_key_hash" json:"-"` // Never return hash
	Status          string         `db:"status" json:"status"`
	AllowedModels   string         `db:"allowed_models" json:"allowed_models"` // JSON array
	DefaultModel    sql.NullString `db:"default_model" json:"default_model,omitempty"`
	GuardrailPrompt sql.NullString `db:"guardrail_prompt" json:"guardrail_prompt,omitempty"`
	ReqPerDay       sql.NullInt64  `db:"req_per_day" json:"req_per_day,omitempty"`
	TokensPerDay    sql.NullInt64  `db:"tokens_per_day" json:"tokens_per_day,omitempty"`
	PriceCaps       string         `db:"price_caps" json:"price_caps"` // JSON array
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// CatalogModel is one routable upstream model with pricing.
type CatalogModel struct {
	ID                   string    `db:"id" json:"id"`
	Provider             string    `db:"provider" json:"provider"`
	PromptPricePer1K     float64   `db:"prompt_price_per_1k" json:"prompt_price_per_1k"`
	CompletionPricePer1K float64   `db:"completion_price_per_1k" json:"completion_price_per_1k"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// Alias is a weighted routing rule. Targets is a JSON array of
// {model, weight} objects.
type Alias struct {
	Alias     string    `db:"alias" json:"alias"`
	Targets   string    `db:"targets" json:"targets"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Fallback is the ordered chain for one model. Chain is a JSON array of
// model ids.
type Fallback struct {
	ModelID   string    `db:"model_id" json:"model_id"`
	Chain     string    `db:"chain" json:"chain"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Policy is one content rule, evaluated in created_at order.
type Policy struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	MatchType string    `db:"match_type" json:"match_type"`
	Pattern   string    `db:"pattern" json:"pattern"`
	Action    string    `db:"action" json:"action"`
	AppliesTo string    `db:"applies_to" json:"applies_to"`
	Enabled   bool      `db:"enabled" json:"enabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PolicyHit is the append-only audit record of one rule firing.
type PolicyHit struct {
	ID         string    `db:"id" json:"id"`
	MessageID  string    `db:"message_id" json:"message_id"`
	PolicyID   string    `db:"policy_id" json:"policy_id"`
	PolicyName string    `db:"policy_name" json:"policy_name"`
	Action     string    `db:"action" json:"action"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Exchange captures one completed (or terminally failed) chat exchange.
type Exchange struct {
	ID             string    `db:"id" json:"id"`
	AccountID      string    `db:"account_id" json:"account_id"`
	RequestedModel string    `db:"requested_model" json:"requested_model"`
	SelectedModel  string    `db:"selected_model" json:"selected_model"`
	Provider       string    `db:"provider" json:"provider"`
	Attempts       string    `db:"attempts" json:"attempts"` // JSON array
	UsedFallback   bool      `db:"used_fallback" json:"used_fallback"`
	TokensIn       int       `db:"tokens_in" json:"tokens_in"`
	TokensOut      int       `db:"tokens_out" json:"tokens_out"`
	Cost           float64   `db:"cost" json:"cost"`
	LatencyMS      int64     `db:"latency_ms" json:"latency_ms"`
	IsStreamed     bool      `db:"is_streamed" json:"is_streamed"`
	StatusCode     int       `db:"status_code" json:"status_code"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// DailyStats represents aggregated usage data for a specific day.
type DailyStats struct {
	Date           string  `db:"date" json:"date"`
	TotalRequests  int     `db:"total_requests" json:"total_requests"`
	TotalTokens    int     `db:"total_tokens" json:"total_tokens"`
	TotalCost      float64 `db:"total_cost" json:"total_cost"`
	AverageLatency float64 `db:"avg_latency" json:"avg_latency"`
}
