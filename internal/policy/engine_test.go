package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T, rules ...Rule) *Engine {
	t.Helper()
	e := NewEngine()
	require.NoError(t, e.Load(rules))
	return e
}

func TestLoadRejectsBadRegexWholesale(t *testing.T) {
	e := NewEngine()
	err := e.Load([]Rule{
		{ID: "p1", Name: "ok", MatchType: MatchContainsAny, Pattern: "foo", Action: ActionFlag, AppliesTo: ScopeAny, Enabled: true},
		{ID: "p2", Name: "broken", MatchType: MatchRegex, Pattern: "([", Action: ActionBlock, AppliesTo: ScopeAny, Enabled: true},
	})
	require.Error(t, err)
	assert.Empty(t, e.Rules(), "a failed load must not install any rules")
}

func TestEvaluatePass(t *testing.T) {
	e := testEngine(t, Rule{
		ID: "p1", Name: "weapons", MatchType: MatchContainsAny,
		Pattern: "bomb, explosive", Action: ActionBlock, AppliesTo: ScopeAny, Enabled: true,
	})

	result := e.Evaluate("tell me a joke", ScopeUser)
	assert.Equal(t, VerdictPass, result.Verdict)
	assert.Equal(t, "tell me a joke", result.Text)
	assert.Empty(t, result.Hits)
}

func TestBlockShortCircuits(t *testing.T) {
	e := testEngine(t,
		Rule{ID: "p1", Name: "blocker", MatchType: MatchContainsAny, Pattern: "forbidden", Action: ActionBlock, AppliesTo: ScopeUser, Enabled: true},
		Rule{ID: "p2", Name: "flagger", MatchType: MatchContainsAny, Pattern: "forbidden", Action: ActionFlag, AppliesTo: ScopeUser, Enabled: true},
	)

	result := e.Evaluate("this is forbidden content", ScopeUser)
	assert.Equal(t, VerdictBlocked, result.Verdict)
	require.NotNil(t, result.Blocked)
	assert.Equal(t, "p1", result.Blocked.PolicyID)
	// the flag rule after the block must not have run
	assert.Len(t, result.Hits, 1)
}

func TestRedactCaseInsensitive(t *testing.T) {
	e := testEngine(t, Rule{
		ID: "p1", Name: "secret-word", MatchType: MatchContainsAny,
		Pattern: "secret", Action: ActionRedact, AppliesTo: ScopeAny, Enabled: true,
	})

	result := e.Evaluate("the SECRET and the secret", ScopeUser)
	assert.Equal(t, VerdictRedacted, result.Verdict)
	assert.Equal(t, "the [REDACTED] and the [REDACTED]", result.Text)
	assert.NotContains(t, strings.ToLower(result.Text), "secret")
}

func TestRedactMultipleTerms(t *testing.T) {
	e := testEngine(t, Rule{
		ID: "p1", Name: "codenames", MatchType: MatchContainsAny,
		Pattern: "alpha, beta", Action: ActionRedact, AppliesTo: ScopeAny, Enabled: true,
	})

	result := e.Evaluate("Alpha ships before BETA", ScopeUser)
	assert.Equal(t, "[REDACTED] ships before [REDACTED]", result.Text)
}

func TestRedactRegex(t *testing.T) {
	e := testEngine(t, Rule{
		ID: "p1", Name: "api-keys", MatchType: MatchRegex,
		Pattern: `sk-[A-Za-z0-9]{8,}`, Action: ActionRedact, AppliesTo: ScopeAny, Enabled: true,
	})

	result := e.Evaluate("my key is sk-abcd1234efgh", ScopeUser)
	assert.Equal(t, "my key is [REDACTED]", result.Text)
}

func TestLaterRulesSeeRedactedText(t *testing.T) {
	e := testEngine(t,
		Rule{ID: "p1", Name: "redactor", MatchType: MatchContainsAny, Pattern: "password", Action: ActionRedact, AppliesTo: ScopeAny, Enabled: true},
		Rule{ID: "p2", Name: "blocker", MatchType: MatchContainsAny, Pattern: "password", Action: ActionBlock, AppliesTo: ScopeAny, Enabled: true},
	)

	// by the time the block rule runs the term is gone
	result := e.Evaluate("my password is hunter2", ScopeUser)
	assert.Equal(t, VerdictRedacted, result.Verdict)
	assert.Nil(t, result.Blocked)
}

func TestContainsAllRequiresEveryTerm(t *testing.T) {
	e := testEngine(t, Rule{
		ID: "p1", Name: "combo", MatchType: MatchContainsAll,
		Pattern: "transfer, account, urgent", Action: ActionFlag, AppliesTo: ScopeAny, Enabled: true,
	})

	result := e.Evaluate("urgent transfer needed", ScopeUser)
	assert.Equal(t, VerdictPass, result.Verdict)

	result = e.Evaluate("URGENT: transfer from my account now", ScopeUser)
	assert.Equal(t, VerdictFlagged, result.Verdict)
}

func TestScopeFiltering(t *testing.T) {
	e := testEngine(t, Rule{
		ID: "p1", Name: "assistant-only", MatchType: MatchContainsAny,
		Pattern: "confidential", Action: ActionBlock, AppliesTo: ScopeAssistant, Enabled: true,
	})

	result := e.Evaluate("this is confidential", ScopeUser)
	assert.Equal(t, VerdictPass, result.Verdict)

	result = e.Evaluate("this is confidential", ScopeAssistant)
	assert.Equal(t, VerdictBlocked, result.Verdict)
}

func TestDisabledRulesSkipped(t *testing.T) {
	e := testEngine(t, Rule{
		ID: "p1", Name: "off", MatchType: MatchContainsAny,
		Pattern: "anything", Action: ActionBlock, AppliesTo: ScopeAny, Enabled: false,
	})

	result := e.Evaluate("anything goes", ScopeUser)
	assert.Equal(t, VerdictPass, result.Verdict)
}

func TestFlagDoesNotAlterText(t *testing.T) {
	e := testEngine(t, Rule{
		ID: "p1", Name: "flagger", MatchType: MatchContainsAny,
		Pattern: "competitor", Action: ActionFlag, AppliesTo: ScopeAny, Enabled: true,
	})

	in := "our competitor ships faster"
	result := e.Evaluate(in, ScopeAssistant)
	assert.Equal(t, VerdictFlagged, result.Verdict)
	assert.Equal(t, in, result.Text)
	assert.Len(t, result.Hits, 1)
}
