package validation

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
	"github.com/finsheet/statement-mapper/internal/domain/match"
)

func newReconciler(t *testing.T) *Reconciler {
	t.Helper()
	rules, err := match.DefaultRules()
	require.NoError(t, err)
	return NewReconciler(slog.New(slog.DiscardHandler), match.NewMatcher(rules))
}

var seqCounter int

func vfact(canonical, periodKey string, value int64) evidence.NormalizedFact {
	seqCounter++
	return evidence.NormalizedFact{
		ID:             canonical + "/" + periodKey,
		CanonicalLabel: canonical,
		Period:         evidence.PeriodInfo{Raw: periodKey, Key: periodKey, Resolved: true, Months: 12},
		Value:          decimal.NewFromInt(value),
		Confidence:     0.9,
		Seq:            seqCounter,
	}
}

func checkByName(t *testing.T, result evidence.ReconciliationResult, name string) evidence.ReconciliationCheck {
	t.Helper()
	for _, c := range result.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no check named %q", name)
	return evidence.ReconciliationCheck{}
}

func TestReconcile_GrossProfitWithinTolerance(t *testing.T) {
	facts := []evidence.NormalizedFact{
		vfact("Total Revenue", "FY2023", 1000),
		vfact("Cost of Goods Sold", "FY2023", -400),
		vfact("Gross Profit", "FY2023", 550),
	}
	result := newReconciler(t).Reconcile(facts)

	check := checkByName(t, result, "gross profit")
	assert.True(t, check.Passed, "delta of 50 sits inside the absolute floor")
	assert.True(t, decimal.NewFromInt(600).Equal(check.Expected))
	assert.True(t, decimal.NewFromInt(550).Equal(check.Actual))
	assert.True(t, result.Passed)
}

func TestReconcile_BalanceSheet(t *testing.T) {
	t.Run("small drift passes", func(t *testing.T) {
		facts := []evidence.NormalizedFact{
			vfact("Total Assets", "FY2023", 5000),
			vfact("Total Liabilities", "FY2023", 3000),
			vfact("Total Equity", "FY2023", 1900),
		}
		result := newReconciler(t).Reconcile(facts)

		check := checkByName(t, result, "balance sheet")
		assert.True(t, check.Passed)
		assert.True(t, result.Passed)
	})

	t.Run("large gap fails with error severity", func(t *testing.T) {
		facts := []evidence.NormalizedFact{
			vfact("Total Assets", "FY2023", 5000),
			vfact("Total Liabilities", "FY2023", 2000),
			vfact("Total Equity", "FY2023", 1500),
		}
		result := newReconciler(t).Reconcile(facts)

		check := checkByName(t, result, "balance sheet")
		assert.False(t, check.Passed)
		assert.Equal(t, evidence.SeverityError, check.Severity)
		assert.True(t, decimal.NewFromInt(1500).Equal(check.Delta))
		assert.False(t, result.Passed)
	})
}

func TestReconcile_RelativeToleranceScales(t *testing.T) {
	// 1% of 10,000,000 is 100,000; a 60,000 drift exceeds the absolute
	// floor but not the relative band.
	facts := []evidence.NormalizedFact{
		vfact("Total Revenue", "FY2023", 12_000_000),
		vfact("Cost of Goods Sold", "FY2023", -2_000_000),
		vfact("Gross Profit", "FY2023", 10_060_000),
	}
	result := newReconciler(t).Reconcile(facts)

	assert.True(t, checkByName(t, result, "gross profit").Passed)
}

func TestReconcile_CashFlowChain(t *testing.T) {
	facts := []evidence.NormalizedFact{
		vfact("Cash from Operating Activities", "FY2023", 800),
		vfact("Cash from Investing Activities", "FY2023", -300),
		vfact("Cash from Financing Activities", "FY2023", -100),
		vfact("Net Change in Cash", "FY2023", 400),
		vfact("Beginning Cash", "FY2023", 1000),
		vfact("Ending Cash", "FY2023", 1400),
	}
	result := newReconciler(t).Reconcile(facts)

	assert.True(t, checkByName(t, result, "net change in cash").Passed)
	assert.True(t, checkByName(t, result, "ending cash").Passed)
	assert.True(t, result.Passed)
}

func TestReconcile_MissingComponentSkips(t *testing.T) {
	facts := []evidence.NormalizedFact{
		vfact("Total Revenue", "FY2023", 1000),
		vfact("Gross Profit", "FY2023", 600),
	}
	result := newReconciler(t).Reconcile(facts)

	check := checkByName(t, result, "gross profit")
	assert.True(t, check.Skipped)
	assert.Contains(t, check.SkipReason, "cogs")
	assert.True(t, result.Passed, "skipped checks never fail the run")
}

func TestReconcile_NoReportedFigureNoCheck(t *testing.T) {
	facts := []evidence.NormalizedFact{
		vfact("Total Revenue", "FY2023", 1000),
		vfact("Cost of Goods Sold", "FY2023", -400),
	}
	result := newReconciler(t).Reconcile(facts)
	assert.Empty(t, result.Checks, "no gross profit fact, so the identity has nothing to verify")
}

func TestReconcile_PerPeriodIsolation(t *testing.T) {
	facts := []evidence.NormalizedFact{
		vfact("Total Revenue", "FY2023", 1000),
		vfact("Cost of Goods Sold", "FY2023", -400),
		vfact("Gross Profit", "FY2023", 600),
		vfact("Total Revenue", "FY2022", 900),
		vfact("Cost of Goods Sold", "FY2022", -380),
		vfact("Gross Profit", "FY2022", 999_999),
	}
	result := newReconciler(t).Reconcile(facts)

	var byPeriod = map[string]bool{}
	for _, c := range result.Checks {
		if c.Name == "gross profit" {
			byPeriod[c.PeriodKey] = c.Passed
		}
	}
	assert.True(t, byPeriod["FY2023"])
	assert.False(t, byPeriod["FY2022"])
	assert.False(t, result.Passed)
}

func TestReconcile_LatestSeqWinsPerRole(t *testing.T) {
	stale := vfact("Total Assets", "FY2023", 9999)
	fresh := vfact("Total Assets", "FY2023", 5000) // later Seq supersedes
	facts := []evidence.NormalizedFact{
		stale, fresh,
		vfact("Total Liabilities", "FY2023", 3000),
		vfact("Total Equity", "FY2023", 2000),
	}
	result := newReconciler(t).Reconcile(facts)

	check := checkByName(t, result, "balance sheet")
	assert.True(t, decimal.NewFromInt(5000).Equal(check.Actual))
	assert.True(t, check.Passed)
}
