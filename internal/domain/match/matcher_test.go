package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	rules, err := DefaultRules()
	require.NoError(t, err)
	return NewMatcher(rules)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "net sales", Normalize("  Net   Sales, "))
	assert.Equal(t, "cost of goods sold", Normalize("Cost of Goods Sold:"))
	assert.Equal(t, "sg a", Normalize("SG&A")) // punctuation collapses to one space
	assert.Equal(t, "", Normalize("---"))
}

func TestMatcher_ExactAliasWinsOverKeyword(t *testing.T) {
	m := newTestMatcher(t)

	// "Net Sales" is an exact alias of Total Revenue; a keyword tier match
	// elsewhere must never preempt it.
	res := m.Match("Net Sales")
	require.NotNil(t, res)
	assert.Equal(t, "Total Revenue", res.Category.Name)
	assert.Equal(t, MethodExactAlias, res.Method)
	assert.InDelta(t, 1.0, res.Score, 1e-9)
}

func TestMatcher_SubstringTier(t *testing.T) {
	m := newTestMatcher(t)

	res := m.Match("Total revenue, net of returns")
	require.NotNil(t, res)
	assert.Equal(t, "Total Revenue", res.Category.Name)
	assert.Equal(t, MethodSubstring, res.Method)
}

func TestMatcher_KeywordLongestWins(t *testing.T) {
	m := newTestMatcher(t)

	res := m.Match("Consolidated income from operations for the year")
	require.NotNil(t, res)
	assert.Equal(t, "Operating Income", res.Category.Name)
}

func TestMatcher_ExclusionDisqualifies(t *testing.T) {
	m := newTestMatcher(t)

	t.Run("combined balance sheet total matches nothing", func(t *testing.T) {
		// The label contains the "stockholders equity" alias as a substring,
		// but the "liabilities and" exclusion disqualifies Total Equity in
		// every tier, and "equity" disqualifies Total Liabilities. The line
		// stays unmatched instead of corrupting either side of the identity.
		assert.Nil(t, m.Match("Total liabilities and stockholders' equity"))
	})

	t.Run("clean equity label still resolves", func(t *testing.T) {
		res := m.Match("Total stockholders' equity (deficit)")
		require.NotNil(t, res)
		assert.Equal(t, "Total Equity", res.Category.Name)
		assert.Equal(t, MethodSubstring, res.Method)
	})
}

func TestMatcher_NoMatchReturnsNil(t *testing.T) {
	m := newTestMatcher(t)
	assert.Nil(t, m.Match("completely unrelated gibberish zzz"))
	assert.Nil(t, m.Match(""))
}

func TestMatcher_Roles(t *testing.T) {
	m := newTestMatcher(t)
	assert.Equal(t, "revenue", m.RoleOf("Total Revenue"))
	assert.Equal(t, "assets", m.RoleOf("Total Assets"))
	assert.Equal(t, "", m.RoleOf("Inventory"))
	assert.Equal(t, SignNegative, m.SignOf("Cost of Goods Sold"))
	assert.Equal(t, SignPositive, m.SignOf("Total Revenue"))
}

func TestMatcher_Deterministic(t *testing.T) {
	m := newTestMatcher(t)
	labels := []string{"Net Sales", "Cost of revenue", "cash and cash equivalents", "Net cash used in investing activities"}
	for _, label := range labels {
		first := m.Match(label)
		for i := 0; i < 5; i++ {
			again := m.Match(label)
			require.NotNil(t, again)
			assert.Equal(t, first.Category.Name, again.Category.Name, label)
			assert.Equal(t, first.Method, again.Method, label)
		}
	}
}
