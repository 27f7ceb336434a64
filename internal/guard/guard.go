package guard

import (
	"strings"
	"sync"
	"time"

	"github.com/modelrelay/relay/internal/catalog"
	"github.com/modelrelay/relay/pkg/api"
)

// Deny reasons surfaced in the "reason" extension of AccessDeniedError.
const (
	ReasonSuspended      = "account_suspended"
	ReasonModelNotAllow  = "model_not_allowed"
	ReasonRequestQuota   = "request_quota_exceeded"
	ReasonTokenQuota     = "token_quota_exceeded"
	ReasonPriceCap       = "price_cap_exceeded"
	ReasonUnknownAccount = "unknown_account"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

type ModelPriceCap struct {
	Model    string `json:"model"`
	MaxCents uint32 `json:"max_cents"`
}

// Account is the per-tenant access record the guard evaluates. Allowed
// models may name concrete ids or aliases.
type Account struct {
	ID              string          `json:"id"`
	Email           string          `json:"email"`
	DisplayName     string          `json:"display_name"`
	AllowedModels   []string        `json:"allowed_models"`
	Status          Status          `json:"status"`
	DefaultModel    string          `json:"default_model,omitempty"`
	GuardrailPrompt string          `json:"guardrail_prompt,omitempty"`
	ReqPerDay       *int64          `json:"req_per_day,omitempty"`
	TokensPerDay    *int64          `json:"tokens_per_day,omitempty"`
	PriceCaps       []ModelPriceCap `json:"model_price_caps,omitempty"`
}

func (a *Account) allows(model string) bool {
	for _, m := range a.AllowedModels {
		if strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}

func (a *Account) capFor(model string) (uint32, bool) {
	for _, c := range a.PriceCaps {
		if strings.EqualFold(c.Model, model) {
			return c.MaxCents, true
		}
	}
	return 0, false
}

// dayCounter tracks one account's usage for one UTC day. Reserved amounts
// cover requests that were admitted but have not committed yet, so that
// concurrent admission cannot overrun the limits.
type dayCounter struct {
	requests       int64
	tokens         int64
	reservedReq    int64
	reservedTokens int64
}

// Usage is a read-only view of a day counter.
type Usage struct {
	DayKey       string `json:"day_key"`
	RequestsUsed int64  `json:"requests_used"`
	TokensUsed   int64  `json:"tokens_used"`
}

// Guard holds the account registry and quota ledger. All locking is short
// in-memory critical sections; no lock is held across I/O.
type Guard struct {
	mu       sync.Mutex
	accounts map[string]Account
	days     map[string]*dayCounter // accountID + "|" + dayKey

	// now is swappable so day-rollover behavior is testable.
	now func() time.Time
}

func New() *Guard {
	return &Guard{
		accounts: make(map[string]Account),
		days:     make(map[string]*dayCounter),
		now:      time.Now,
	}
}

// DayKey buckets usage by UTC calendar day. Rollover is implicit: a new key
// lazily creates a fresh counter and stale ones are simply superseded.
func (g *Guard) DayKey() string {
	return g.now().UTC().Format("2006-01-02")
}

func (g *Guard) counterLocked(accountID string) *dayCounter {
	key := accountID + "|" + g.DayKey()
	c, ok := g.days[key]
	if !ok {
		c = &dayCounter{}
		g.days[key] = c
	}
	return c
}

// Load replaces the account registry. Quota counters survive so an admin
// update does not reset usage.
func (g *Guard) Load(accounts []Account) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts = make(map[string]Account, len(accounts))
	for _, a := range accounts {
		g.accounts[a.ID] = a
	}
}

// Upsert installs or replaces one account.
func (g *Guard) Upsert(a Account) {
	g.mu.Lock()
	g.accounts[a.ID] = a
	g.mu.Unlock()
}

// Account returns a copy of the account record.
func (g *Guard) Account(id string) (Account, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.accounts[id]
	return a, ok
}

// Accounts lists all registered accounts.
func (g *Guard) Accounts() []Account {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Account, 0, len(g.accounts))
	for _, a := range g.accounts {
		out = append(out, a)
	}
	return out
}

// UsageFor reports today's committed usage for an account.
func (g *Guard) UsageFor(accountID string) Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.counterLocked(accountID)
	return Usage{DayKey: g.DayKey(), RequestsUsed: c.requests, TokensUsed: c.tokens}
}

// Reservation is the admission token handed out by Authorize. Exactly one
// of Commit or Release must be called: Commit after a completed exchange
// with the actual token total, Release when the request was blocked or
// failed before consuming tokens.
type Reservation struct {
	guard     *Guard
	accountID string
	dayKey    string
	estTokens int64
	done      bool
}

// Authorize runs the admission checks in order, first failure wins:
// status, model allow-list, request quota, token quota, price cap. On
// success it reserves a request slot and the token estimate so concurrent
// requests from the same account cannot overrun the daily limits.
func (g *Guard) Authorize(accountID, requestedModel string, target catalog.ModelEntry, estTokens int64) (*Reservation, *api.Problem) {
	g.mu.Lock()
	defer g.mu.Unlock()

	acct, ok := g.accounts[accountID]
	if !ok {
		return nil, api.AccessDeniedError(ReasonUnknownAccount, "account not registered")
	}

	if acct.Status != StatusActive {
		return nil, api.AccessDeniedError(ReasonSuspended, "account is suspended")
	}

	// The requested name (alias or id) must be on the allow-list; the
	// resolved concrete id also counts, since admins may list either.
	if !acct.allows(requestedModel) && !acct.allows(target.ID) {
		return nil, api.AccessDeniedError(ReasonModelNotAllow, "model not allowed for this account")
	}

	c := g.counterLocked(accountID)

	if acct.ReqPerDay != nil && c.requests+c.reservedReq >= *acct.ReqPerDay {
		return nil, api.AccessDeniedError(ReasonRequestQuota, "daily request quota exceeded")
	}

	if acct.TokensPerDay != nil && c.tokens+c.reservedTokens+estTokens > *acct.TokensPerDay {
		return nil, api.AccessDeniedError(ReasonTokenQuota, "daily token quota exceeded")
	}

	if maxCents, ok := acct.capFor(target.ID); ok {
		if target.EstimateCents() > float64(maxCents) {
			return nil, api.AccessDeniedError(ReasonPriceCap, "expected cost exceeds model price cap")
		}
	}

	c.reservedReq++
	c.reservedTokens += estTokens

	return &Reservation{guard: g, accountID: accountID, dayKey: g.DayKey(), estTokens: estTokens}, nil
}

// Commit converts the reservation into committed usage with the actual
// token total of the completed exchange. Safe to call at most once.
func (r *Reservation) Commit(tokensUsed int64) {
	r.guard.mu.Lock()
	defer r.guard.mu.Unlock()
	if r.done {
		return
	}
	r.done = true

	c := r.counterLocked()
	c.reservedReq--
	c.reservedTokens -= r.estTokens
	c.requests++
	c.tokens += tokensUsed
}

// Release drops the reservation without charging quota. Used when the
// request is blocked by policy or fails before any tokens are consumed.
func (r *Reservation) Release() {
	r.guard.mu.Lock()
	defer r.guard.mu.Unlock()
	if r.done {
		return
	}
	r.done = true

	c := r.counterLocked()
	c.reservedReq--
	c.reservedTokens -= r.estTokens
}

// counterLocked resolves the reservation's day bucket. A commit that lands
// just after midnight still settles against the day it was admitted on, so
// the reserve/commit pair stays balanced.
func (r *Reservation) counterLocked() *dayCounter {
	key := r.accountID + "|" + r.dayKey
	c, ok := r.guard.days[key]
	if !ok {
		c = &dayCounter{}
		r.guard.days[key] = c
	}
	return c
}
