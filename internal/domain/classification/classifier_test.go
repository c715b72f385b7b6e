package classification

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
)

func tableFromLabels(id string, labels ...string) *evidence.TableRegion {
	t := &evidence.TableRegion{ID: id, Page: 1, Method: evidence.ModeText, Confidence: 0.9, StatementType: evidence.StatementUnknown}
	for i, label := range labels {
		t.Rows = append(t.Rows, evidence.TableRow{
			Index: i,
			Cells: []evidence.TableCell{{Raw: label, Row: i, IsLabel: true, Confidence: 0.99}},
		})
	}
	return t
}

func docWith(tables ...*evidence.TableRegion) *evidence.DocumentEvidence {
	page := &evidence.PageEvidence{Number: 1, Width: 612, Height: 792, Tables: tables}
	return &evidence.DocumentEvidence{Filename: "test.pdf", Pages: []*evidence.PageEvidence{page}}
}

func newClassifier() *Classifier {
	return NewClassifier(slog.New(slog.DiscardHandler), nil)
}

func TestClassify_IncomeStatement(t *testing.T) {
	table := tableFromLabels("t1",
		"Revenue", "Cost of goods sold", "Gross profit",
		"Operating expenses", "Operating income", "Income tax expense", "Net income")
	sections := newClassifier().Classify(context.Background(), docWith(table), evidence.StatementUnknown)

	require.Len(t, sections, 1)
	assert.Equal(t, evidence.StatementIncome, sections[0].Type)
	assert.Equal(t, "keyword", sections[0].Method)
	assert.GreaterOrEqual(t, sections[0].Confidence, 0.5)
	assert.LessOrEqual(t, sections[0].Confidence, 0.95)
	assert.Equal(t, evidence.StatementIncome, table.StatementType, "classifier tags the region")
	assert.NotEmpty(t, sections[0].Rationale)
}

func TestClassify_BalanceSheet(t *testing.T) {
	table := tableFromLabels("t1",
		"Cash and cash equivalents", "Accounts receivable", "Inventory",
		"Total assets", "Accounts payable", "Total liabilities", "Stockholders equity")
	sections := newClassifier().Classify(context.Background(), docWith(table), evidence.StatementUnknown)

	require.Len(t, sections, 1)
	assert.Equal(t, evidence.StatementBalance, sections[0].Type)
}

func TestClassify_CashFlow(t *testing.T) {
	table := tableFromLabels("t1",
		"Net cash provided by operating activities",
		"Net cash used in investing activities",
		"Net cash provided by financing activities",
		"Net change in cash")
	sections := newClassifier().Classify(context.Background(), docWith(table), evidence.StatementUnknown)

	require.Len(t, sections, 1)
	assert.Equal(t, evidence.StatementCashFlow, sections[0].Type)
}

func TestClassify_ZeroScoreFallsBackToUnknown(t *testing.T) {
	table := tableFromLabels("t1", "Alpha", "Beta", "Gamma")
	sections := newClassifier().Classify(context.Background(), docWith(table), evidence.StatementUnknown)

	require.Len(t, sections, 1)
	assert.Equal(t, evidence.StatementUnknown, sections[0].Type)
	assert.InDelta(t, 0.3, sections[0].Confidence, 1e-9)
}

func TestClassify_HintOverrides(t *testing.T) {
	// A table that scores as an income statement still follows the hint.
	table := tableFromLabels("t1", "Revenue", "Net income", "Gross profit")
	sections := newClassifier().Classify(context.Background(), docWith(table), evidence.StatementBalance)

	require.Len(t, sections, 1)
	assert.Equal(t, evidence.StatementBalance, sections[0].Type)
	assert.InDelta(t, 0.95, sections[0].Confidence, 1e-9)
	assert.Equal(t, "hint", sections[0].Method)
}

func TestClassify_ConfidenceCap(t *testing.T) {
	assert.InDelta(t, 0.6, confidenceForScore(1), 1e-9)
	assert.InDelta(t, 0.9, confidenceForScore(4), 1e-9)
	assert.InDelta(t, 0.95, confidenceForScore(10), 1e-9)
	assert.InDelta(t, 0.95, confidenceForScore(100), 1e-9)
}

type stubAssist struct {
	t         evidence.StatementType
	rationale string
	err       error
}

func (s stubAssist) ClassifyStatement(context.Context, string) (evidence.StatementType, string, error) {
	return s.t, s.rationale, s.err
}

func TestClassify_LLMAssistOnlyForUnknown(t *testing.T) {
	assist := stubAssist{t: evidence.StatementCashFlow, rationale: "model says cash flow"}
	c := NewClassifier(slog.New(slog.DiscardHandler), assist)

	t.Run("upgrades unknown", func(t *testing.T) {
		table := tableFromLabels("t1", "Alpha", "Beta")
		sections := c.Classify(context.Background(), docWith(table), evidence.StatementUnknown)
		require.Len(t, sections, 1)
		assert.Equal(t, evidence.StatementCashFlow, sections[0].Type)
		assert.Equal(t, "llm", sections[0].Method)
		assert.Contains(t, sections[0].Rationale, "model says cash flow")
		assert.InDelta(t, 0.5, sections[0].Confidence, 1e-9, "assist confidence stays below keyword wins")
	})

	t.Run("never overrides a keyword result", func(t *testing.T) {
		table := tableFromLabels("t1", "Revenue", "Net income", "Gross profit", "Operating income")
		sections := c.Classify(context.Background(), docWith(table), evidence.StatementUnknown)
		require.Len(t, sections, 1)
		assert.Equal(t, evidence.StatementIncome, sections[0].Type)
		assert.Equal(t, "keyword", sections[0].Method)
	})
}
