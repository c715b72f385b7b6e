package mapping

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
	"github.com/finsheet/statement-mapper/internal/domain/match"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	rules, err := match.DefaultRules()
	require.NoError(t, err)
	return NewResolver(slog.New(slog.DiscardHandler), match.NewMatcher(rules))
}

// testProfile builds an in-memory income statement profile:
// row 2 Revenue, row 3 Cost of Goods Sold, row 4 Gross Profit (total),
// data columns B (FY2023) and C (FY2022).
func testProfile() *evidence.TemplateProfile {
	sheet := "Model"
	mkCell := func(addr string, row, col int, label, period string, eligible bool) evidence.TemplateCell {
		return evidence.TemplateCell{
			Sheet: sheet, Address: addr, Row: row, Col: col,
			RowLabel: label, PeriodHeader: period, OldValue: "0", Eligible: eligible,
		}
	}
	rows := []evidence.TemplateRow{
		{Sheet: sheet, Index: 1, Label: "Income Statement", Kind: evidence.RowHeader},
		{Sheet: sheet, Index: 2, Label: "Revenue", Kind: evidence.RowItem, Cells: []evidence.TemplateCell{
			mkCell("B2", 2, 2, "Revenue", "FY2023", true),
			mkCell("C2", 2, 3, "Revenue", "FY2022", true),
		}},
		{Sheet: sheet, Index: 3, Label: "Cost of Goods Sold", Kind: evidence.RowItem, Cells: []evidence.TemplateCell{
			mkCell("B3", 3, 2, "Cost of Goods Sold", "FY2023", true),
			mkCell("C3", 3, 3, "Cost of Goods Sold", "FY2022", true),
		}},
		{Sheet: sheet, Index: 4, Label: "Gross Profit", Kind: evidence.RowTotal, Children: []int{2, 3}, Cells: []evidence.TemplateCell{
			mkCell("B4", 4, 2, "Gross Profit", "FY2023", false),
			mkCell("C4", 4, 3, "Gross Profit", "FY2022", false),
		}},
		{Sheet: sheet, Index: 5, Label: "Deferred widgets", Kind: evidence.RowItem, Cells: []evidence.TemplateCell{
			mkCell("B5", 5, 2, "Deferred widgets", "FY2023", true),
		}},
	}
	return &evidence.TemplateProfile{
		Path:         "template.xlsx",
		TemplateName: "template",
		Sheets:       []string{sheet},
		Rows:         map[string][]evidence.TemplateRow{sheet: rows},
		Periods:      map[string][]evidence.PeriodInfo{},
		DataCols:     map[string][]int{sheet: {2, 3}},
	}
}

func fact(id, canonical, periodKey string, value int64, seq int, conf float64) evidence.NormalizedFact {
	return evidence.NormalizedFact{
		ID:             id,
		CanonicalLabel: canonical,
		Period:         evidence.PeriodInfo{Raw: periodKey, Key: periodKey, Resolved: true, Months: 12},
		Value:          decimal.NewFromInt(value),
		Scale:          evidence.ScaleOnes,
		StatementType:  evidence.StatementIncome,
		Confidence:     conf,
		Seq:            seq,
		Provenance:     evidence.Provenance{SourcePDF: "a.pdf", Page: 1, RawLabel: canonical, RawValue: "x"},
	}
}

func defaultOpts() Options {
	return Options{MinConfidence: 0.30, AutoMapThreshold: 0.70}
}

func TestResolve_BasicPostings(t *testing.T) {
	facts := []evidence.NormalizedFact{
		fact("f1", "Total Revenue", "FY2023", 1000, 1, 0.9),
		fact("f2", "Cost of Goods Sold", "FY2023", -400, 2, 0.9),
	}
	out := newResolver(t).Resolve(facts, testProfile(), defaultOpts())

	require.Len(t, out.Postings, 3, "two value postings plus the gross profit formula")

	assert.Equal(t, "B2", out.Postings[0].Cell.Address)
	assert.True(t, decimal.NewFromInt(1000).Equal(out.Postings[0].NewValue))
	assert.Equal(t, []string{"f1"}, out.Postings[0].FactIDs)
	assert.False(t, out.Postings[0].Conflict)
	assert.False(t, out.Postings[0].NeedsReview)

	assert.Equal(t, "B3", out.Postings[1].Cell.Address)
	assert.True(t, decimal.NewFromInt(-400).Equal(out.Postings[1].NewValue))
}

func TestResolve_GeneratedDifferenceFormula(t *testing.T) {
	facts := []evidence.NormalizedFact{
		fact("f1", "Total Revenue", "FY2023", 1000, 1, 0.9),
		fact("f2", "Cost of Goods Sold", "FY2023", -400, 2, 0.9),
	}
	out := newResolver(t).Resolve(facts, testProfile(), defaultOpts())

	var formula *evidence.CellPosting
	for i := range out.Postings {
		if out.Postings[i].IsFormula() {
			formula = &out.Postings[i]
		}
	}
	require.NotNil(t, formula)
	assert.Equal(t, "B4", formula.Cell.Address)
	assert.Equal(t, "=B2+B3", formula.Formula, "signed values make the difference an addition")
	assert.ElementsMatch(t, []string{"f1", "f2"}, formula.FactIDs, "formula lineage unions its references")
	assert.Contains(t, formula.Notes, "generated difference formula")
}

func TestResolve_PartialChildrenFallBackToSum(t *testing.T) {
	facts := []evidence.NormalizedFact{fact("f1", "Total Revenue", "FY2023", 1000, 1, 0.9)}
	out := newResolver(t).Resolve(facts, testProfile(), defaultOpts())

	require.Len(t, out.Postings, 2)
	formula := out.Postings[1]
	require.True(t, formula.IsFormula())
	assert.Equal(t, "=SUM(B2:B3)", formula.Formula, "COGS missing, so no difference formula; sum over the child range instead")
	assert.Equal(t, []string{"f1"}, formula.FactIDs)
	assert.Contains(t, formula.Notes, "generated sum formula")
}

func TestResolve_ConflictMostRecentWins(t *testing.T) {
	facts := []evidence.NormalizedFact{
		fact("f1", "Total Revenue", "FY2023", 1000, 1, 0.9),
		fact("f2", "Total Revenue", "FY2023", 1100, 7, 0.8),
	}
	out := newResolver(t).Resolve(facts, testProfile(), defaultOpts())

	require.NotEmpty(t, out.Postings)
	p := out.Postings[0]
	assert.True(t, decimal.NewFromInt(1100).Equal(p.NewValue), "highest Seq wins")
	assert.True(t, p.Conflict)
	assert.Equal(t, []string{"f1", "f2"}, p.FactIDs, "losing fact ids are retained for audit")
	assert.Contains(t, p.Notes, "conflict")
}

func TestResolve_FiltersAndUnmapped(t *testing.T) {
	facts := []evidence.NormalizedFact{
		fact("low", "Total Revenue", "FY2023", 1, 1, 0.1),       // below min confidence
		fact("nocat", "", "FY2023", 2, 2, 0.9),                  // unresolved label
		fact("noperiod", "Total Revenue", "", 3, 3, 0.9),        // unresolved period
		fact("nohome", "Total Assets", "FY2023", 4, 4, 0.9),     // no matching row
		fact("wrongpd", "Total Revenue", "FY2021", 5, 5, 0.9),   // period not in template
	}
	facts[2].Period.Resolved = false
	out := newResolver(t).Resolve(facts, testProfile(), defaultOpts())

	assert.Empty(t, out.Postings)
	assert.ElementsMatch(t, []string{"low", "nocat", "noperiod", "nohome", "wrongpd"}, out.UnmappedFacts)
	assert.Contains(t, out.UnmatchedItems, "Model!Revenue")
	assert.Contains(t, out.UnmatchedItems, "Model!Deferred widgets")
}

func TestResolve_TargetPeriodRestriction(t *testing.T) {
	facts := []evidence.NormalizedFact{
		fact("f1", "Total Revenue", "FY2023", 1000, 1, 0.9),
		fact("f2", "Total Revenue", "FY2022", 900, 2, 0.9),
	}
	opts := defaultOpts()
	opts.TargetPeriod = "FY2022"
	out := newResolver(t).Resolve(facts, testProfile(), opts)

	require.NotEmpty(t, out.Postings)
	assert.Equal(t, "C2", out.Postings[0].Cell.Address)
	for _, p := range out.Postings {
		if !p.IsFormula() {
			assert.Equal(t, "FY2022", p.Period.Key)
		}
	}
	assert.Contains(t, out.UnmappedFacts, "f1")
}

func TestResolve_NeedsReviewBelowThreshold(t *testing.T) {
	facts := []evidence.NormalizedFact{fact("f1", "Total Revenue", "FY2023", 1000, 1, 0.5)}
	out := newResolver(t).Resolve(facts, testProfile(), defaultOpts())

	require.NotEmpty(t, out.Postings)
	assert.True(t, out.Postings[0].NeedsReview)
	assert.Equal(t, evidence.ConfidenceLow, out.Postings[0].Level)
}

func TestResolve_Deterministic(t *testing.T) {
	facts := []evidence.NormalizedFact{
		fact("f1", "Total Revenue", "FY2023", 1000, 1, 0.9),
		fact("f2", "Cost of Goods Sold", "FY2023", -400, 2, 0.9),
		fact("f3", "Total Revenue", "FY2022", 900, 3, 0.9),
	}
	r := newResolver(t)
	first := r.Resolve(facts, testProfile(), defaultOpts())
	for i := 0; i < 5; i++ {
		again := r.Resolve(facts, testProfile(), defaultOpts())
		require.Len(t, again.Postings, len(first.Postings))
		for j := range first.Postings {
			assert.Equal(t, first.Postings[j].Cell.Ref(), again.Postings[j].Cell.Ref())
			assert.True(t, first.Postings[j].NewValue.Equal(again.Postings[j].NewValue))
			assert.Equal(t, first.Postings[j].Confidence, again.Postings[j].Confidence)
		}
	}
}
