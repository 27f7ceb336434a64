package v1

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/modelrelay/relay/internal/catalog"
	"github.com/modelrelay/relay/internal/guard"
	"github.com/modelrelay/relay/internal/policy"
	"github.com/modelrelay/relay/internal/server/validator"
	"github.com/modelrelay/relay/internal/store"
	"github.com/modelrelay/relay/internal/store/model"
	"github.com/modelrelay/relay/pkg/api"
)

// AdminHandler mutates routing and access configuration. Every write lands
// in the store first, then in the in-memory structures the hot path reads,
// so a crash between the two loses nothing on restart.
type AdminHandler struct {
	repo     store.Repository
	catalog  *catalog.Catalog
	guard    *guard.Guard
	policies *policy.Engine
}

func NewAdminHandler(repo store.Repository, cat *catalog.Catalog, g *guard.Guard, pol *policy.Engine) *AdminHandler {
	return &AdminHandler{repo: repo, catalog: cat, guard: g, policies: pol}
}

type upsertModelRequest struct {
	ID                   string  `json:"id" binding:"required"`
	Provider             string  `json:"provider" binding:"required"`
	PromptPricePer1K     float64 `json:"prompt_price_per_1k" binding:"min=0"`
	CompletionPricePer1K float64 `json:"completion_price_per_1k" binding:"min=0"`
}

func (h *AdminHandler) UpsertModel(c *gin.Context) {
	var req upsertModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	row := &model.CatalogModel{
		ID:                   req.ID,
		Provider:             req.Provider,
		PromptPricePer1K:     req.PromptPricePer1K,
		CompletionPricePer1K: req.CompletionPricePer1K,
	}
	if err := h.repo.Catalog().UpsertModel(c.Request.Context(), row); err != nil {
		_ = c.Error(api.InternalError("Failed to persist model", err))
		return
	}

	h.catalog.UpsertModel(row.ToEntry())
	c.JSON(http.StatusOK, row)
}

type upsertAliasRequest struct {
	Alias   string `json:"alias" binding:"required"`
	Targets []struct {
		Model  string `json:"model" binding:"required"`
		Weight uint32 `json:"weight"`
	} `json:"targets" binding:"required,min=1,dive"`
}

func (h *AdminHandler) UpsertAlias(c *gin.Context) {
	var req upsertAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	rule := catalog.AliasRule{Alias: req.Alias}
	for _, t := range req.Targets {
		rule.Targets = append(rule.Targets, catalog.AliasTarget{Model: t.Model, Weight: t.Weight})
	}

	// validate before persisting so the store never holds a rule the
	// catalog would reject
	if err := h.catalog.SetAlias(rule); err != nil {
		_ = c.Error(api.BadRequestError(err.Error()))
		return
	}

	targets, _ := json.Marshal(rule.Targets)
	row := &model.Alias{Alias: rule.Alias, Targets: string(targets)}
	if err := h.repo.Catalog().UpsertAlias(c.Request.Context(), row); err != nil {
		_ = c.Error(api.InternalError("Failed to persist alias", err))
		return
	}

	c.JSON(http.StatusOK, row)
}

type upsertFallbackRequest struct {
	ModelID string   `json:"model_id" binding:"required"`
	Chain   []string `json:"chain" binding:"required"`
}

func (h *AdminHandler) UpsertFallback(c *gin.Context) {
	var req upsertFallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	if err := h.catalog.SetFallbacks(req.ModelID, req.Chain); err != nil {
		_ = c.Error(api.BadRequestError(err.Error()))
		return
	}

	chain, _ := json.Marshal(req.Chain)
	row := &model.Fallback{ModelID: req.ModelID, Chain: string(chain)}
	if err := h.repo.Catalog().UpsertFallback(c.Request.Context(), row); err != nil {
		_ = c.Error(api.InternalError("Failed to persist fallback chain", err))
		return
	}

	c.JSON(http.StatusOK, row)
}

type upsertAccountRequest struct {
	ID              string                `json:"id" binding:"required"`
	Email           string                `json:"email" binding:"required,email"`
	DisplayName     string                `json:"display_name"`
	APIKey          string                `json:"api_key"`
	Status          string                `json:"status" binding:"omitempty,oneof=active suspended"`
	AllowedModels   []string              `json:"allowed_models"`
	DefaultModel    string                `json:"default_model"`
	GuardrailPrompt string                `json:"guardrail_prompt"`
	ReqPerDay       *int64                `json:"req_per_day"`
	TokensPerDay    *int64                `json:"tokens_per_day"`
	PriceCaps       []guard.ModelPriceCap `json:"price_caps"`
}

func (h *AdminHandler) UpsertAccount(c *gin.Context) {
	var req upsertAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	if req.Status == "" {
		req.Status = string(guard.StatusActive)
	}

	allowed, _ := json.Marshal(req.AllowedModels)
	caps, _ := json.Marshal(req.PriceCaps)

	row := &model.Account{
		ID:            req.ID,
		Email:         req.Email,
		DisplayName:   req.DisplayName,
		Status:        req.Status,
		AllowedModels: string(allowed),
		PriceCaps:     string(caps),
	}
	if req.APIKey != "" {
		sum := sha256.Sum256([]byte(req.APIKey))
		row.APIKeyHash = hex.EncodeToString(sum[:])
	}
	if req.DefaultModel != "" {
		row.DefaultModel.String = req.DefaultModel
		row.DefaultModel.Valid = true
	}
	if req.GuardrailPrompt != "" {
		row.GuardrailPrompt.String = req.GuardrailPrompt
		row.GuardrailPrompt.Valid = true
	}
	if req.ReqPerDay != nil {
		row.ReqPerDay.Int64 = *req.ReqPerDay
		row.ReqPerDay.Valid = true
	}
	if req.TokensPerDay != nil {
		row.TokensPerDay.Int64 = *req.TokensPerDay
		row.TokensPerDay.Valid = true
	}

	if err := h.repo.Accounts().Upsert(c.Request.Context(), row); err != nil {
		_ = c.Error(api.InternalError("Failed to persist account", err))
		return
	}

	acct, err := row.ToGuard()
	if err != nil {
		_ = c.Error(api.InternalError("Account round-trip failed", err))
		return
	}
	h.guard.Upsert(acct)

	c.JSON(http.StatusOK, row)
}

func (h *AdminHandler) ListAccounts(c *gin.Context) {
	rows, err := h.repo.Accounts().List(c.Request.Context())
	if err != nil {
		_ = c.Error(api.InternalError("Failed to list accounts", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": rows})
}

// GetUsage reports today's committed quota usage for one account.
func (h *AdminHandler) GetUsage(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.guard.Account(id); !ok {
		_ = c.Error(api.NotFoundError("account not found"))
		return
	}
	c.JSON(http.StatusOK, h.guard.UsageFor(id))
}

type upsertPolicyRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name" binding:"required"`
	MatchType string `json:"match_type" binding:"required,oneof=contains_any contains_all regex"`
	Pattern   string `json:"pattern" binding:"required"`
	Action    string `json:"action" binding:"required,oneof=flag redact block"`
	AppliesTo string `json:"applies_to" binding:"omitempty,oneof=user assistant any"`
	Enabled   *bool  `json:"enabled"`
}

func (h *AdminHandler) UpsertPolicy(c *gin.Context) {
	var req upsertPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.AppliesTo == "" {
		req.AppliesTo = policy.ScopeAny
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule := policy.Rule{
		ID:        req.ID,
		Name:      req.Name,
		MatchType: req.MatchType,
		Pattern:   req.Pattern,
		Action:    req.Action,
		AppliesTo: req.AppliesTo,
		Enabled:   enabled,
	}
	if err := rule.Compile(); err != nil {
		_ = c.Error(api.BadRequestError(err.Error()))
		return
	}

	row := &model.Policy{
		ID:        rule.ID,
		Name:      rule.Name,
		MatchType: rule.MatchType,
		Pattern:   rule.Pattern,
		Action:    rule.Action,
		AppliesTo: rule.AppliesTo,
		Enabled:   rule.Enabled,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.Policies().Upsert(c.Request.Context(), row); err != nil {
		_ = c.Error(api.InternalError("Failed to persist policy", err))
		return
	}

	if err := h.reloadPolicies(c); err != nil {
		_ = c.Error(api.InternalError("Failed to reload policies", err))
		return
	}

	c.JSON(http.StatusOK, row)
}

func (h *AdminHandler) DeletePolicy(c *gin.Context) {
	id := c.Param("id")
	if err := h.repo.Policies().Delete(c.Request.Context(), id); err != nil {
		_ = c.Error(api.InternalError("Failed to delete policy", err))
		return
	}

	if err := h.reloadPolicies(c); err != nil {
		_ = c.Error(api.InternalError("Failed to reload policies", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *AdminHandler) ListPolicies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": h.policies.Rules()})
}

// reloadPolicies rebuilds the engine from the store so evaluation order
// stays creation order.
func (h *AdminHandler) reloadPolicies(c *gin.Context) error {
	rows, err := h.repo.Policies().List(c.Request.Context())
	if err != nil {
		return err
	}
	rules := make([]policy.Rule, 0, len(rows))
	for i := range rows {
		rules = append(rules, rows[i].ToRule())
	}
	return h.policies.Load(rules)
}
