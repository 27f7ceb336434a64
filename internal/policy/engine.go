package policy

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Placeholder substituted for redacted spans.
const Placeholder = "[REDACTED]"

// Match types.
const (
	MatchContainsAny = "contains_any"
	MatchContainsAll = "contains_all"
	MatchRegex       = "regex"
)

// Actions.
const (
	ActionFlag   = "flag"
	ActionRedact = "redact"
	ActionBlock  = "block"
)

// Scopes.
const (
	ScopeUser      = "user"
	ScopeAssistant = "assistant"
	ScopeAny       = "any"
)

type Verdict string

const (
	VerdictPass     Verdict = "pass"
	VerdictFlagged  Verdict = "flagged"
	VerdictRedacted Verdict = "redacted"
	VerdictBlocked  Verdict = "blocked"
)

// Rule is one content policy. Rules are evaluated in the order they were
// installed (creation order), restricted to enabled rules whose scope
// matches the text being screened.
type Rule struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MatchType string `json:"match_type"`
	Pattern   string `json:"pattern"`
	Action    string `json:"action"`
	AppliesTo string `json:"applies_to"`
	Enabled   bool   `json:"enabled"`

	re      *regexp.Regexp
	termRes []*regexp.Regexp
}

// Compile validates the rule and pre-builds its matcher.
func (r *Rule) Compile() error {
	switch r.MatchType {
	case MatchRegex:
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("policy %q: bad pattern: %w", r.Name, err)
		}
		r.re = re
	case MatchContainsAny, MatchContainsAll:
		if strings.TrimSpace(r.Pattern) == "" {
			return fmt.Errorf("policy %q: empty pattern", r.Name)
		}
		r.termRes = nil
		for _, term := range r.terms() {
			// quoted terms always compile
			r.termRes = append(r.termRes, regexp.MustCompile("(?i)"+regexp.QuoteMeta(term)))
		}
	default:
		return fmt.Errorf("policy %q: unknown match type %q", r.Name, r.MatchType)
	}
	switch r.Action {
	case ActionFlag, ActionRedact, ActionBlock:
	default:
		return fmt.Errorf("policy %q: unknown action %q", r.Name, r.Action)
	}
	return nil
}

func (r *Rule) terms() []string {
	parts := strings.Split(r.Pattern, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (r *Rule) matches(text string) bool {
	switch r.MatchType {
	case MatchRegex:
		return r.re.MatchString(text)
	case MatchContainsAll:
		lower := strings.ToLower(text)
		for _, term := range r.terms() {
			if !strings.Contains(lower, strings.ToLower(term)) {
				return false
			}
		}
		return true
	default: // contains_any
		lower := strings.ToLower(text)
		for _, term := range r.terms() {
			if strings.Contains(lower, strings.ToLower(term)) {
				return true
			}
		}
		return false
	}
}

// redactText replaces every matched span with the placeholder. For
// substring matchers the replacement is case-insensitive to stay consistent
// with matching.
func (r *Rule) redactText(text string) string {
	if r.MatchType == MatchRegex {
		return r.re.ReplaceAllString(text, Placeholder)
	}
	for _, re := range r.termRes {
		text = re.ReplaceAllString(text, Placeholder)
	}
	return text
}

// Hit is the record of one rule firing against one text.
type Hit struct {
	PolicyID   string `json:"policy_id"`
	PolicyName string `json:"policy_name"`
	Action     string `json:"action"`
	Scope      string `json:"scope"`
}

// Evaluation is the outcome of screening one text against the rule set.
type Evaluation struct {
	Verdict Verdict
	// Text is the post-evaluation text: redacted if any redact rule fired,
	// otherwise the input unchanged. Unspecified when blocked.
	Text string
	Hits []Hit
	// Blocked names the rule that aborted evaluation, when Verdict is
	// VerdictBlocked. It is also present in Hits.
	Blocked *Hit
}

// Engine screens message content against an ordered rule set.
// Evaluation itself is read-only and deterministic; rule installation
// happens on the admin path.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

func NewEngine() *Engine {
	return &Engine{}
}

// Load replaces the rule set, preserving the given order. Rules that fail
// to compile are rejected wholesale so a bad admin update cannot silently
// drop part of the policy surface.
func (e *Engine) Load(rules []Rule) error {
	compiled := make([]Rule, len(rules))
	copy(compiled, rules)
	for i := range compiled {
		if err := compiled[i].Compile(); err != nil {
			return err
		}
	}
	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// Rules returns a copy of the installed rule set in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Evaluate screens text for the given scope ("user" or "assistant").
// Redacting rules rewrite the working text, and later rules see the
// rewritten version. A block rule stops evaluation immediately; no further
// rules run.
func (e *Engine) Evaluate(text, scope string) Evaluation {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	result := Evaluation{Verdict: VerdictPass, Text: text}
	current := text

	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}
		if rule.AppliesTo != ScopeAny && rule.AppliesTo != scope {
			continue
		}
		if !rule.matches(current) {
			continue
		}

		hit := Hit{PolicyID: rule.ID, PolicyName: rule.Name, Action: rule.Action, Scope: scope}

		switch rule.Action {
		case ActionBlock:
			result.Hits = append(result.Hits, hit)
			result.Blocked = &hit
			result.Verdict = VerdictBlocked
			result.Text = ""
			return result
		case ActionRedact:
			current = rule.redactText(current)
			result.Hits = append(result.Hits, hit)
			result.Verdict = VerdictRedacted
		default: // flag
			result.Hits = append(result.Hits, hit)
			if result.Verdict == VerdictPass {
				result.Verdict = VerdictFlagged
			}
		}
	}

	result.Text = current
	return result
}
