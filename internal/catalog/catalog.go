package catalog

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MaxFallbackDepth caps the retry fan-out of a single request.
const MaxFallbackDepth = 5

var (
	ErrUnknownModel = errors.New("unknown model")
	ErrInvalidAlias = errors.New("invalid alias")
)

// ModelEntry describes one concrete upstream model and its pricing.
type ModelEntry struct {
	Provider             string  `json:"provider"`
	ID                   string  `json:"id"`
	PromptPricePer1K     float64 `json:"prompt_price_per_1k"`
	CompletionPricePer1K float64 `json:"completion_price_per_1k"`
}

// EstimateCents is the admission-time price signal used for account price
// caps: the cost of a nominal 1k-in/1k-out exchange.
func (m ModelEntry) EstimateCents() float64 {
	return m.PromptPricePer1K + m.CompletionPricePer1K
}

// Cost prices a completed exchange against this entry.
func (m ModelEntry) Cost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)*m.PromptPricePer1K/1000 + float64(tokensOut)*m.CompletionPricePer1K/1000
}

type AliasTarget struct {
	Model  string `json:"model"`
	Weight uint32 `json:"weight"`
}

type AliasRule struct {
	Alias   string        `json:"alias"`
	Targets []AliasTarget `json:"targets"`
}

func (r AliasRule) totalWeight() uint64 {
	var total uint64
	for _, t := range r.Targets {
		total += uint64(t.Weight)
	}
	return total
}

// ResolvedTarget is the outcome of a resolution: the primary model plus the
// fallback candidates tried in order if the primary fails.
type ResolvedTarget struct {
	Requested string
	Primary   ModelEntry
	Fallbacks []ModelEntry
}

// Candidates returns primary followed by fallbacks.
func (t ResolvedTarget) Candidates() []ModelEntry {
	out := make([]ModelEntry, 0, 1+len(t.Fallbacks))
	out = append(out, t.Primary)
	out = append(out, t.Fallbacks...)
	return out
}

// snapshot is an immutable view of the catalog. Readers load it once and
// never observe partial updates; writers build a fresh copy and swap.
type snapshot struct {
	models    map[string]ModelEntry
	aliases   map[string]AliasRule
	fallbacks map[string][]string
}

// Catalog resolves requested model names to concrete routing targets.
type Catalog struct {
	snap atomic.Pointer[snapshot]

	// rand.Rand is not safe for concurrent use
	rngMu sync.Mutex
	rng   *rand.Rand
}

// New returns an empty catalog seeded from the current time.
func New() *Catalog {
	return NewWithSource(rand.NewSource(time.Now().UnixNano()))
}

// NewWithSource allows deterministic alias draws in tests.
func NewWithSource(src rand.Source) *Catalog {
	c := &Catalog{rng: rand.New(src)}
	c.snap.Store(&snapshot{
		models:    map[string]ModelEntry{},
		aliases:   map[string]AliasRule{},
		fallbacks: map[string][]string{},
	})
	return c
}

// Replace swaps the entire catalog contents atomically after validating the
// invariants: alias weights must sum above zero, fallback chains must not
// contain their own model and are bounded by MaxFallbackDepth.
func (c *Catalog) Replace(models []ModelEntry, aliases []AliasRule, fallbacks map[string][]string) error {
	next := &snapshot{
		models:    make(map[string]ModelEntry, len(models)),
		aliases:   make(map[string]AliasRule, len(aliases)),
		fallbacks: make(map[string][]string, len(fallbacks)),
	}
	for _, m := range models {
		next.models[m.ID] = m
	}
	for _, a := range aliases {
		if a.totalWeight() == 0 {
			return fmt.Errorf("%w: alias %q has zero total weight", ErrInvalidAlias, a.Alias)
		}
		next.aliases[a.Alias] = a
	}
	for model, chain := range fallbacks {
		if err := validateChain(model, chain); err != nil {
			return err
		}
		next.fallbacks[model] = append([]string(nil), chain...)
	}
	c.snap.Store(next)
	return nil
}

func validateChain(model string, chain []string) error {
	if len(chain) > MaxFallbackDepth {
		return fmt.Errorf("fallback chain for %q exceeds depth %d", model, MaxFallbackDepth)
	}
	for _, fb := range chain {
		if fb == model {
			return fmt.Errorf("fallback chain for %q lists itself", model)
		}
	}
	return nil
}

// UpsertModel adds or replaces a single model, copy-on-write.
func (c *Catalog) UpsertModel(entry ModelEntry) {
	c.mutate(func(s *snapshot) error {
		s.models[entry.ID] = entry
		return nil
	})
}

// SetAlias installs an alias rule. Zero-weight rules are rejected.
func (c *Catalog) SetAlias(rule AliasRule) error {
	if rule.totalWeight() == 0 {
		return fmt.Errorf("%w: alias %q has zero total weight", ErrInvalidAlias, rule.Alias)
	}
	return c.mutate(func(s *snapshot) error {
		s.aliases[rule.Alias] = rule
		return nil
	})
}

// SetFallbacks installs the fallback chain for a model.
func (c *Catalog) SetFallbacks(model string, chain []string) error {
	if err := validateChain(model, chain); err != nil {
		return err
	}
	return c.mutate(func(s *snapshot) error {
		s.fallbacks[model] = append([]string(nil), chain...)
		return nil
	})
}

// mutate clones the current snapshot, applies fn, and swaps. Writers are
// rare (admin only) so the full copy is acceptable.
func (c *Catalog) mutate(fn func(*snapshot) error) error {
	for {
		cur := c.snap.Load()
		next := &snapshot{
			models:    make(map[string]ModelEntry, len(cur.models)+1),
			aliases:   make(map[string]AliasRule, len(cur.aliases)+1),
			fallbacks: make(map[string][]string, len(cur.fallbacks)+1),
		}
		for k, v := range cur.models {
			next.models[k] = v
		}
		for k, v := range cur.aliases {
			next.aliases[k] = v
		}
		for k, v := range cur.fallbacks {
			next.fallbacks[k] = v
		}
		if err := fn(next); err != nil {
			return err
		}
		if c.snap.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Resolve maps a requested model or alias to a primary target plus fallback
// chain. Aliases recurse at most one level: an alias target naming another
// alias fails resolution rather than chaining.
func (c *Catalog) Resolve(requested string) (ResolvedTarget, error) {
	s := c.snap.Load()

	primaryID := requested
	if _, ok := s.models[requested]; !ok {
		rule, ok := s.aliases[requested]
		if !ok {
			return ResolvedTarget{}, fmt.Errorf("%w: %q", ErrUnknownModel, requested)
		}
		picked, err := c.pick(rule)
		if err != nil {
			return ResolvedTarget{}, err
		}
		primaryID = picked
	}

	primary, ok := s.models[primaryID]
	if !ok {
		// alias pointed at something that is not a concrete model
		return ResolvedTarget{}, fmt.Errorf("%w: alias %q targets unknown model %q", ErrInvalidAlias, requested, primaryID)
	}

	var fallbacks []ModelEntry
	for _, fb := range s.fallbacks[primaryID] {
		if entry, ok := s.models[fb]; ok {
			fallbacks = append(fallbacks, entry)
		}
	}

	return ResolvedTarget{Requested: requested, Primary: primary, Fallbacks: fallbacks}, nil
}

// pick performs a cumulative-weight draw over the rule's targets. Ties are
// broken by list order because the scan is front-to-back.
func (c *Catalog) pick(rule AliasRule) (string, error) {
	total := rule.totalWeight()
	if total == 0 {
		return "", fmt.Errorf("%w: alias %q has zero total weight", ErrInvalidAlias, rule.Alias)
	}

	c.rngMu.Lock()
	roll := uint64(c.rng.Int63n(int64(total)))
	c.rngMu.Unlock()

	for _, t := range rule.Targets {
		if roll < uint64(t.Weight) {
			return t.Model, nil
		}
		roll -= uint64(t.Weight)
	}
	// unreachable when weights sum to total
	return rule.Targets[len(rule.Targets)-1].Model, nil
}

// Entry returns the concrete model with the given id.
func (c *Catalog) Entry(id string) (ModelEntry, bool) {
	s := c.snap.Load()
	m, ok := s.models[id]
	return m, ok
}

// Models lists all concrete models, sorted by id.
func (c *Catalog) Models() []ModelEntry {
	s := c.snap.Load()
	out := make([]ModelEntry, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Aliases lists all alias rules, sorted by alias.
func (c *Catalog) Aliases() []AliasRule {
	s := c.snap.Load()
	out := make([]AliasRule, 0, len(s.aliases))
	for _, a := range s.aliases {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// Fallbacks returns the configured chain for a model.
func (c *Catalog) Fallbacks(model string) []string {
	s := c.snap.Load()
	return append([]string(nil), s.fallbacks[model]...)
}

// Names returns every resolvable name (models and aliases), sorted.
func (c *Catalog) Names() []string {
	s := c.snap.Load()
	out := make([]string, 0, len(s.models)+len(s.aliases))
	for id := range s.models {
		out = append(out, id)
	}
	for alias := range s.aliases {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}
