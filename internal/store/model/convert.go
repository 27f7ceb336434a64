package model

import (
	"encoding/json"
	"fmt"

	"github.com/modelrelay/relay/internal/catalog"
	"github.com/modelrelay/relay/internal/guard"
	"github.com/modelrelay/relay/internal/policy"
)

// Conversions between persisted rows (JSON text columns) and the in-memory
// domain types the hot path works with.

func (a *Account) ToGuard() (guard.Account, error) {
	out := guard.Account{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Status:      guard.Status(a.Status),
	}

	if a.AllowedModels != "" {
		if err := json.Unmarshal([]byte(a.AllowedModels), &out.AllowedModels); err != nil {
			return out, fmt.Errorf("account %s: bad allowed_models: %w", a.ID, err)
		}
	}
	if a.PriceCaps != "" {
		if err := json.Unmarshal([]byte(a.PriceCaps), &out.PriceCaps); err != nil {
			return out, fmt.Errorf("account %s: bad price_caps: %w", a.ID, err)
		}
	}
	if a.DefaultModel.Valid {
		out.DefaultModel = a.DefaultModel.String
	}
	if a.GuardrailPrompt.Valid {
		out.GuardrailPrompt = a.GuardrailPrompt.String
	}
	if a.ReqPerDay.Valid {
		v := a.ReqPerDay.Int64
		out.ReqPerDay = &v
	}
	if a.TokensPerDay.Valid {
		v := a.TokensPerDay.Int64
		out.TokensPerDay = &v
	}
	return out, nil
}

func (m *CatalogModel) ToEntry() catalog.ModelEntry {
	return catalog.ModelEntry{
		ID:                   m.ID,
		Provider:             m.Provider,
		PromptPricePer1K:     m.PromptPricePer1K,
		CompletionPricePer1K: m.CompletionPricePer1K,
	}
}

func (a *Alias) ToRule() (catalog.AliasRule, error) {
	rule := catalog.AliasRule{Alias: a.Alias}
	if err := json.Unmarshal([]byte(a.Targets), &rule.Targets); err != nil {
		return rule, fmt.Errorf("alias %s: bad targets: %w", a.Alias, err)
	}
	return rule, nil
}

func (f *Fallback) ToChain() ([]string, error) {
	var chain []string
	if err := json.Unmarshal([]byte(f.Chain), &chain); err != nil {
		return nil, fmt.Errorf("fallback %s: bad chain: %w", f.ModelID, err)
	}
	return chain, nil
}

func (p *Policy) ToRule() policy.Rule {
	return policy.Rule{
		ID:        p.ID,
		Name:      p.Name,
		MatchType: p.MatchType,
		Pattern:   p.Pattern,
		Action:    p.Action,
		AppliesTo: p.AppliesTo,
		Enabled:   p.Enabled,
	}
}
