package report

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
)

func writeWorkbook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue(f.GetSheetName(0), "A1", "Revenue"))
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func sampleAudit() *evidence.RunAudit {
	audit := evidence.NewRunAudit("run-1", "template.xlsx", []string{"10k.pdf"})
	audit.Transition(evidence.StateExtracting, evidence.StateClassifying, "1 document")
	audit.Sections = []evidence.StatementSection{{
		ID: "sec-1", Type: evidence.StatementIncome, SourcePDF: "10k.pdf",
		Page: 3, Confidence: 0.9, Method: "keyword",
	}}
	audit.Scales = []evidence.ScaleRecord{{
		SourcePDF: "10k.pdf", Page: 3, Scale: evidence.ScaleThousands, Evidence: "in thousands",
	}}
	audit.Periods = []evidence.PeriodInfo{{
		Raw: "FY2023", Key: "FY2023", Months: 12, Resolved: true,
		EndDate: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
	}}
	audit.Facts = []evidence.NormalizedFact{{
		ID: "f1", CanonicalLabel: "Total Revenue",
		Period: evidence.PeriodInfo{Raw: "FY2023", Key: "FY2023", Resolved: true},
		Value:  decimal.NewFromInt(1234560),
		Provenance: evidence.Provenance{
			SourcePDF: "10k.pdf", Page: 3, SectionID: "sec-1",
			RawLabel: "Net sales", RawValue: "1,234.56",
		},
	}}
	audit.Postings = []evidence.CellPosting{{
		Cell: evidence.TemplateCell{
			Sheet: "Sheet1", Address: "B2", RowLabel: "Revenue", PeriodHeader: "FY2023",
		},
		FactIDs:        []string{"f1"},
		NewValue:       decimal.NewFromInt(1234560),
		Scale:          evidence.ScaleThousands,
		Period:         evidence.PeriodInfo{Key: "FY2023"},
		CanonicalLabel: "Total Revenue",
		Confidence:     0.9,
		Level:          evidence.ConfidenceHigh,
	}}
	audit.UnmappedFacts = []string{"f1"}
	audit.UnmatchedItems = []string{"Sheet1!Deferred revenue"}
	audit.Reconciliation = evidence.ReconciliationResult{
		Passed: false,
		Checks: []evidence.ReconciliationCheck{
			{
				Name: "balance sheet", PeriodKey: "FY2023",
				Expected: decimal.NewFromInt(3500), Actual: decimal.NewFromInt(5000),
				Delta: decimal.NewFromInt(1500), Severity: evidence.SeverityError,
			},
			{Name: "gross profit", PeriodKey: "FY2023", Skipped: true, SkipReason: "no cogs fact for FY2023"},
		},
	}
	audit.Warn(evidence.StateNormalizing, "unresolved_period", "header 'Prior Year' not parseable")
	return audit
}

func sheetCells(t *testing.T, path string) map[string]bool {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, row := range rows {
		for _, cell := range row {
			if cell != "" {
				seen[cell] = true
			}
		}
	}
	return seen
}

func sheetRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	return rows
}

func TestGenerator_WritesAllSections(t *testing.T) {
	path := writeWorkbook(t)
	require.NoError(t, NewGenerator(slog.New(slog.DiscardHandler)).Write(path, sampleAudit()))

	seen := sheetCells(t, path)
	for _, section := range []string{
		"RUN SUMMARY", "STATE TRANSITIONS", "CLASSIFIED SECTIONS",
		"SCALE AND PERIOD DETECTIONS", "CELL LINEAGE", "RECONCILIATION",
		"EXCEPTIONS AND UNMAPPED ITEMS",
	} {
		assert.True(t, seen[section], "missing section %q", section)
	}
}

func TestGenerator_LineageRow(t *testing.T) {
	path := writeWorkbook(t)
	require.NoError(t, NewGenerator(slog.New(slog.DiscardHandler)).Write(path, sampleAudit()))

	seen := sheetCells(t, path)
	for _, h := range lineageHeader {
		assert.True(t, seen[h], "missing lineage column %q", h)
	}
	assert.True(t, seen["Net sales"], "raw source label surfaces in lineage")
	assert.True(t, seen["$1,234,560.00"], "posted value is dollar formatted")
	assert.True(t, seen["Income Statement"], "section title resolves from provenance")
	assert.True(t, seen["thousands"], "scale factor named")
}

func TestGenerator_ReconciliationRows(t *testing.T) {
	path := writeWorkbook(t)
	require.NoError(t, NewGenerator(slog.New(slog.DiscardHandler)).Write(path, sampleAudit()))

	seen := sheetCells(t, path)
	assert.True(t, seen["FAIL"])
	assert.True(t, seen["SKIPPED: no cogs fact for FY2023"])
	assert.True(t, seen["$1,500.00"], "delta rendered as dollars")

	var overall string
	for _, row := range sheetRows(t, path) {
		if len(row) >= 2 && row[0] == "Overall" {
			overall = row[1]
		}
	}
	assert.Equal(t, "FAIL", overall, "section opens with the run-level verdict")
}

func TestGenerator_SectionOrder(t *testing.T) {
	path := writeWorkbook(t)
	require.NoError(t, NewGenerator(slog.New(slog.DiscardHandler)).Write(path, sampleAudit()))

	order := map[string]int{}
	for i, row := range sheetRows(t, path) {
		if len(row) > 0 && row[0] != "" {
			if _, ok := order[row[0]]; !ok {
				order[row[0]] = i
			}
		}
	}
	assert.Less(t, order["CELL LINEAGE"], order["EXCEPTIONS AND UNMAPPED ITEMS"])
	assert.Less(t, order["EXCEPTIONS AND UNMAPPED ITEMS"], order["RECONCILIATION"],
		"exceptions come before the reconciliation verdict")
}

func TestGenerator_PeriodEndDate(t *testing.T) {
	path := writeWorkbook(t)
	require.NoError(t, NewGenerator(slog.New(slog.DiscardHandler)).Write(path, sampleAudit()))

	seen := sheetCells(t, path)
	assert.True(t, seen["End Date"])
	assert.True(t, seen["2023-12-31"], "period end date rendered as ISO date")
}

func TestGenerator_ReplacesExistingSheet(t *testing.T) {
	path := writeWorkbook(t)
	g := NewGenerator(slog.New(slog.DiscardHandler))

	require.NoError(t, g.Write(path, sampleAudit()))

	second := sampleAudit()
	second.RunID = "run-2"
	require.NoError(t, g.Write(path, second))

	seen := sheetCells(t, path)
	assert.True(t, seen["run-2"])
	assert.False(t, seen["run-1"], "previous run's rows are gone")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	count := 0
	for _, name := range f.GetSheetList() {
		if name == SheetName {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestGenerator_MissingWorkbook(t *testing.T) {
	err := NewGenerator(slog.New(slog.DiscardHandler)).Write(
		filepath.Join(t.TempDir(), "missing.xlsx"), sampleAudit())
	assert.Error(t, err)
}
