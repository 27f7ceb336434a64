package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/modelrelay/relay/internal/store/model"
	"github.com/modelrelay/relay/internal/store/sqlite"
)

func main() {
	repo, err := sqlite.NewSQLiteStorage("relay.db")
	if err != nil {
		log.Fatal(err)
	}
	defer repo.Close()

	ctx := context.Background()

	models := []model.CatalogModel{
		{ID: "gpt-4o-mini", Provider: "openai", PromptPricePer1K: 0.15, CompletionPricePer1K: 0.60},
		{ID: "gpt-4o", Provider: "openai", PromptPricePer1K: 2.50, CompletionPricePer1K: 10.00},
		{ID: "claude-sonnet", Provider: "anthropic", PromptPricePer1K: 3.00, CompletionPricePer1K: 15.00},
	}
	for i := range models {
		if err := repo.Catalog().UpsertModel(ctx, &models[i]); err != nil {
			log.Fatal(err)
		}
	}

	aliases := []model.Alias{
		{Alias: "fast", Targets: `[{"model":"gpt-4o-mini","weight":1}]`},
		{Alias: "smart", Targets: `[{"model":"gpt-4o","weight":3},{"model":"claude-sonnet","weight":1}]`},
		{Alias: "balanced", Targets: `[{"model":"gpt-4o-mini","weight":2},{"model":"gpt-4o","weight":1}]`},
		{Alias: "default", Targets: `[{"model":"gpt-4o-mini","weight":1}]`},
	}
	for i := range aliases {
		if err := repo.Catalog().UpsertAlias(ctx, &aliases[i]); err != nil {
			log.Fatal(err)
		}
	}

	fallbacks := []model.Fallback{
		{ModelID: "gpt-4o", Chain: `["claude-sonnet","gpt-4o-mini"]`},
		{ModelID: "claude-sonnet", Chain: `["gpt-4o"]`},
	}
	for i := range fallbacks {
		if err := repo.Catalog().UpsertFallback(ctx, &fallbacks[i]); err != nil {
			log.Fatal(err)
		}
	}

	rawKey := "sk-relay-demo-1234567890"
	hash := sha256.Sum256([]byte(rawKey))
	hashedHex := hex.EncodeToString(hash[:])

	reqQuota := int64(500)
	tokenQuota := int64(200000)

	accounts := []model.Account{
		{
			ID:            "demo-user",
			Email:         "demo@example.com",
			DisplayName:   "Demo User",
			APIKeyHash:    hashedHex,
			Status:        "active",
			AllowedModels: `["fast","smart","balanced","gpt-4o-mini","gpt-4o","claude-sonnet"]`,
			PriceCaps:     `[{"model":"gpt-4o","max_cents":20}]`,
		},
		{
			ID:            "ops-team",
			Email:         "ops@example.com",
			DisplayName:   "Ops Team",
			Status:        "active",
			AllowedModels: `["smart","gpt-4o","claude-sonnet"]`,
			PriceCaps:     `[]`,
		},
		{
			ID:            "guest",
			Email:         "guest@example.com",
			DisplayName:   "Guest",
			Status:        "active",
			AllowedModels: `["fast","gpt-4o-mini"]`,
			PriceCaps:     `[]`,
		},
		{
			// account assumed by static config keys
			ID:            "local-dev",
			Email:         "dev@localhost",
			DisplayName:   "Local Development",
			Status:        "active",
			AllowedModels: `["fast","smart","balanced","default","gpt-4o-mini","gpt-4o","claude-sonnet"]`,
			PriceCaps:     `[]`,
		},
	}

	accounts[0].DefaultModel.String = "balanced"
	accounts[0].DefaultModel.Valid = true
	accounts[0].GuardrailPrompt.String = "You are a helpful assistant. Keep answers concise and factual."
	accounts[0].GuardrailPrompt.Valid = true
	accounts[0].ReqPerDay.Int64 = reqQuota
	accounts[0].ReqPerDay.Valid = true
	accounts[0].TokensPerDay.Int64 = tokenQuota
	accounts[0].TokensPerDay.Valid = true

	accounts[2].ReqPerDay.Int64 = 50
	accounts[2].ReqPerDay.Valid = true
	accounts[2].TokensPerDay.Int64 = 20000
	accounts[2].TokensPerDay.Valid = true

	for i := range accounts {
		if err := repo.Accounts().Upsert(ctx, &accounts[i]); err != nil {
			log.Fatal(err)
		}
	}

	policies := []model.Policy{
		{
			ID:        uuid.NewString(),
			Name:      "block-credentials",
			MatchType: "contains_any",
			Pattern:   "password dump, credential stuffing, stolen credit card",
			Action:    "block",
			AppliesTo: "user",
			Enabled:   true,
			CreatedAt: time.Now().UTC(),
		},
		{
			ID:        uuid.NewString(),
			Name:      "redact-api-keys",
			MatchType: "regex",
			Pattern:   `sk-[A-Za-z0-9]{16,}`,
			Action:    "redact",
			AppliesTo: "any",
			Enabled:   true,
			CreatedAt: time.Now().UTC().Add(time.Second),
		},
		{
			ID:        uuid.NewString(),
			Name:      "flag-competitor-mentions",
			MatchType: "contains_any",
			Pattern:   "acme corp, globex",
			Action:    "flag",
			AppliesTo: "assistant",
			Enabled:   true,
			CreatedAt: time.Now().UTC().Add(2 * time.Second),
		},
	}
	for i := range policies {
		if err := repo.Policies().Upsert(ctx, &policies[i]); err != nil {
			log.Fatal(err)
		}
	}

	fmt.Println("Successfully seeded database!")
	fmt.Printf("Demo API Key: %s\n", rawKey)
	fmt.Printf("Use this key in your Authorization header: Bearer %s\n", rawKey)
}
