// Package report renders the run's audit ledger into an "Audit" sheet of the
// output workbook. The sheet is rebuilt from scratch on every run so repeated
// runs against the same output never accumulate stale rows.
package report

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
	"github.com/finsheet/statement-mapper/pkg/money"
)

// SheetName is the audit sheet's tab name in the output workbook.
const SheetName = "Audit"

// lineageHeader is the fixed column set of the cell lineage table. Order is
// part of the output contract; downstream review tooling addresses columns by
// position.
var lineageHeader = []string{
	"TemplateTab",
	"TemplateLineItem",
	"CellAddress",
	"TemplatePeriodHeader",
	"NormalizedPeriodKey",
	"SourcePDF",
	"SourceSectionTitle",
	"Page#",
	"SourceRawLabel(s)",
	"RawValue(s)",
	"ScaleFactor",
	"AggregationComponents",
	"AggregationFormula",
	"FinalPostedValue($)",
	"Confidence(H/M/L)",
	"ConflictFlag(Y/N)",
	"Notes",
}

// Generator writes the audit sheet.
type Generator struct {
	logger *slog.Logger
}

// NewGenerator returns an audit sheet generator.
func NewGenerator(logger *slog.Logger) *Generator {
	return &Generator{logger: logger}
}

// Write opens the output workbook, replaces any existing audit sheet, and
// renders the full ledger: run summary, state transitions, classified
// sections, scale and period detections, cell lineage, exceptions, and
// reconciliation.
func (g *Generator) Write(outputPath string, audit *evidence.RunAudit) error {
	f, err := excelize.OpenFile(outputPath)
	if err != nil {
		return fmt.Errorf("open output workbook for audit: %w", err)
	}
	defer f.Close()

	if idx, _ := f.GetSheetIndex(SheetName); idx >= 0 {
		if err := f.DeleteSheet(SheetName); err != nil {
			return fmt.Errorf("replace audit sheet: %w", err)
		}
	}
	if _, err := f.NewSheet(SheetName); err != nil {
		return fmt.Errorf("create audit sheet: %w", err)
	}

	w := &sheetWriter{f: f}
	g.runSummary(w, audit)
	g.transitions(w, audit)
	g.sections(w, audit)
	g.detections(w, audit)
	g.lineage(w, audit)
	g.exceptions(w, audit)
	g.reconciliation(w, audit)
	if w.err != nil {
		return fmt.Errorf("render audit sheet: %w", w.err)
	}

	if err := f.SetColWidth(SheetName, "A", "Q", 22); err != nil {
		return fmt.Errorf("size audit columns: %w", err)
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("save audit sheet: %w", err)
	}

	g.logger.Info("audit sheet written", "output", outputPath, "rows", w.row)
	return nil
}

// sheetWriter appends rows top-down, capturing the first write error.
type sheetWriter struct {
	f   *excelize.File
	row int
	err error
}

func (w *sheetWriter) add(values ...interface{}) {
	w.row++
	if w.err != nil {
		return
	}
	addr, err := excelize.CoordinatesToCellName(1, w.row)
	if err == nil {
		err = w.f.SetSheetRow(SheetName, addr, &values)
	}
	if err != nil {
		w.err = err
	}
}

func (w *sheetWriter) blank() { w.add() }

func (g *Generator) runSummary(w *sheetWriter, audit *evidence.RunAudit) {
	w.add("RUN SUMMARY")
	w.add("Run ID", audit.RunID)
	w.add("Started", audit.StartedAt.Format(time.RFC3339))
	if !audit.FinishedAt.IsZero() {
		w.add("Finished", audit.FinishedAt.Format(time.RFC3339))
	}
	w.add("Template", audit.TemplatePath)
	w.add("Input PDFs", strings.Join(audit.PDFPaths, "; "))
	w.add("Facts extracted", len(audit.Facts))
	w.add("Cells posted", len(audit.Postings))
	w.add("Unmapped facts", len(audit.UnmappedFacts))
	w.add("Unmatched template items", len(audit.UnmatchedItems))
	w.blank()
}

func (g *Generator) transitions(w *sheetWriter, audit *evidence.RunAudit) {
	w.add("STATE TRANSITIONS")
	w.add("From", "To", "At", "Note")
	for _, t := range audit.Transitions {
		w.add(string(t.From), string(t.To), t.At.Format(time.RFC3339), t.Note)
	}
	w.blank()
}

func (g *Generator) sections(w *sheetWriter, audit *evidence.RunAudit) {
	w.add("CLASSIFIED SECTIONS")
	w.add("Source PDF", "Page", "Section", "Type", "Confidence", "Method", "Rationale")
	for _, s := range audit.Sections {
		w.add(s.SourcePDF, s.Page, s.Title(), string(s.Type),
			fmt.Sprintf("%.2f", s.Confidence), s.Method, s.Rationale)
	}
	w.blank()
}

func (g *Generator) detections(w *sheetWriter, audit *evidence.RunAudit) {
	w.add("SCALE AND PERIOD DETECTIONS")
	w.add("Source PDF", "Page", "Scale", "Evidence")
	for _, s := range audit.Scales {
		w.add(s.SourcePDF, s.Page, s.Scale.String(), s.Evidence)
	}
	w.add("Period Header", "Normalized Key", "End Date", "Months")
	for _, p := range audit.Periods {
		endDate := ""
		if !p.EndDate.IsZero() {
			endDate = p.EndDate.Format("2006-01-02")
		}
		w.add(p.Raw, p.Key, endDate, p.Months)
	}
	w.blank()
}

func (g *Generator) lineage(w *sheetWriter, audit *evidence.RunAudit) {
	w.add("CELL LINEAGE")
	header := make([]interface{}, len(lineageHeader))
	for i, h := range lineageHeader {
		header[i] = h
	}
	w.add(header...)

	for _, p := range audit.Postings {
		facts := resolveFacts(audit, p.FactIDs)

		posted := ""
		components := ""
		if p.IsFormula() {
			components = strings.Join(p.FactIDs, "; ")
		} else {
			posted = money.FormatUSD(p.NewValue)
		}

		conflict := "N"
		if p.Conflict {
			conflict = "Y"
		}

		w.add(
			p.Cell.Sheet,
			p.Cell.RowLabel,
			p.Cell.Address,
			p.Cell.PeriodHeader,
			p.Period.Key,
			joinDistinct(facts, func(f *evidence.NormalizedFact) string { return f.Provenance.SourcePDF }),
			joinDistinct(facts, func(f *evidence.NormalizedFact) string { return sectionTitle(audit, f.Provenance.SectionID) }),
			joinDistinct(facts, func(f *evidence.NormalizedFact) string { return fmt.Sprintf("%d", f.Provenance.Page) }),
			joinDistinct(facts, func(f *evidence.NormalizedFact) string { return f.Provenance.RawLabel }),
			joinDistinct(facts, func(f *evidence.NormalizedFact) string { return f.Provenance.RawValue }),
			p.Scale.String(),
			components,
			p.Formula,
			posted,
			p.Level.Letter(),
			conflict,
			p.Notes,
		)
	}
	w.blank()
}

func (g *Generator) reconciliation(w *sheetWriter, audit *evidence.RunAudit) {
	w.add("RECONCILIATION")
	overall := "PASS"
	if !audit.Reconciliation.Passed {
		overall = "FAIL"
	}
	w.add("Overall", overall)
	w.add("Check", "Period", "Expected", "Actual", "Delta", "Delta %", "Severity", "Result")
	for _, c := range audit.Reconciliation.Checks {
		result := "PASS"
		switch {
		case c.Skipped:
			result = "SKIPPED: " + c.SkipReason
		case !c.Passed:
			result = "FAIL"
		}
		expected, actual, delta, pct := "", "", "", ""
		if !c.Skipped {
			expected = money.FormatUSD(c.Expected)
			actual = money.FormatUSD(c.Actual)
			delta = money.FormatUSD(c.Delta)
			pct = fmt.Sprintf("%.2f%%", c.DeltaPct.InexactFloat64())
		}
		w.add(c.Name, c.PeriodKey, expected, actual, delta, pct, string(c.Severity), result)
	}
	w.blank()
}

func (g *Generator) exceptions(w *sheetWriter, audit *evidence.RunAudit) {
	w.add("EXCEPTIONS AND UNMAPPED ITEMS")
	w.add("Severity", "State", "Category", "Message", "At")
	for _, e := range audit.Exceptions {
		w.add(string(e.Severity), string(e.State), e.Category, e.Message, e.At.Format(time.RFC3339))
	}
	for _, id := range audit.UnmappedFacts {
		msg := id
		if f := audit.FactByID(id); f != nil {
			msg = fmt.Sprintf("%s (%s, %s, page %d)",
				f.Provenance.RawLabel, f.Provenance.SourcePDF, f.Period.Raw, f.Provenance.Page)
		}
		w.add("info", "mapping", "unmapped_fact", msg, "")
	}
	for _, item := range audit.UnmatchedItems {
		w.add("info", "mapping", "unmatched_template_item", item, "")
	}
	w.blank()
}

func resolveFacts(audit *evidence.RunAudit, ids []string) []*evidence.NormalizedFact {
	var out []*evidence.NormalizedFact
	for _, id := range ids {
		if f := audit.FactByID(id); f != nil {
			out = append(out, f)
		}
	}
	return out
}

func sectionTitle(audit *evidence.RunAudit, sectionID string) string {
	for _, s := range audit.Sections {
		if s.ID == sectionID {
			return s.Title()
		}
	}
	return ""
}

// joinDistinct renders one lineage field across every contributing fact,
// de-duplicated with first-seen order preserved.
func joinDistinct(facts []*evidence.NormalizedFact, field func(*evidence.NormalizedFact) string) string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range facts {
		v := field(f)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return strings.Join(out, "; ")
}
