// Package mapping profiles the target spreadsheet template and resolves
// normalized facts onto its cells. Profiling classifies every row's
// structural role and computes the eligible posting targets; resolution
// applies the shared matcher with deterministic conflict handling.
package mapping

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
	"github.com/finsheet/statement-mapper/internal/domain/normalization"
)

// ErrTemplateInvalid marks a template workbook that could not be opened or
// parsed.
var ErrTemplateInvalid = errors.New("template unreadable or invalid")

// computedTotalPhrases mark rows whose value is a derived figure rather than
// a subtotal of the rows above; they get difference formulas when their
// reference rows resolve.
var computedTotalPhrases = []string{
	"gross profit", "net income", "net earnings", "operating income",
	"income from operations", "net change in cash", "ending cash",
	"cash at end",
}

// Profiler parses a template workbook into a TemplateProfile. The workbook
// is opened read-only and closed before Profile returns; writeback opens its
// own handle later.
type Profiler struct {
	logger *slog.Logger
}

// NewProfiler returns a template profiler.
func NewProfiler(logger *slog.Logger) *Profiler {
	return &Profiler{logger: logger}
}

// Profile reads the template's active grid. Each row is classified as
// header/item/subtotal/total/spacer; a cell is eligible iff it sits in a
// data column of an item row and holds no formula.
func (p *Profiler) Profile(path string) (*evidence.TemplateProfile, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open template %s: %w: %v", path, ErrTemplateInvalid, err)
	}
	defer f.Close()

	profile := &evidence.TemplateProfile{
		Path:         path,
		TemplateName: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Sheets:       f.GetSheetList(),
		Rows:         make(map[string][]evidence.TemplateRow),
		Periods:      make(map[string][]evidence.PeriodInfo),
		DataCols:     make(map[string][]int),
	}

	for _, sheet := range profile.Sheets {
		if err := p.profileSheet(f, sheet, profile); err != nil {
			return nil, fmt.Errorf("profile sheet %q: %w", sheet, err)
		}
	}

	eligible := len(profile.EligibleCells())
	p.logger.Info("template profiled",
		"template", profile.TemplateName, "sheets", len(profile.Sheets), "eligible_cells", eligible)
	return profile, nil
}

func (p *Profiler) profileSheet(f *excelize.File, sheet string, profile *evidence.TemplateProfile) error {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("get rows: %w", err)
	}

	dataCols, periods, headerRowIdx := findDataColumns(rows)
	profile.DataCols[sheet] = dataCols
	profile.Periods[sheet] = periods

	var templateRows []evidence.TemplateRow
	for i, row := range rows {
		rowIdx := i + 1
		label := ""
		if len(row) > 0 {
			label = strings.TrimSpace(row[0])
		}

		tr := evidence.TemplateRow{
			Sheet: sheet,
			Index: rowIdx,
			Label: label,
			Bold:  p.isBold(f, sheet, rowIdx),
		}
		tr.Kind = classifyRow(label, tr.Bold, rowIdx == headerRowIdx)

		for colPos, col := range dataCols {
			addr, _ := excelize.CoordinatesToCellName(col, rowIdx)
			formula, _ := f.GetCellFormula(sheet, addr)
			value, _ := f.GetCellValue(sheet, addr)
			cell := evidence.TemplateCell{
				Sheet:      sheet,
				Address:    addr,
				Row:        rowIdx,
				Col:        col,
				RowLabel:   label,
				OldValue:   value,
				HasFormula: formula != "" || strings.HasPrefix(value, "="),
			}
			if colPos < len(periods) {
				cell.PeriodHeader = periods[colPos].Raw
			}
			cell.Eligible = tr.Kind == evidence.RowItem && !cell.HasFormula
			tr.Cells = append(tr.Cells, cell)
		}
		templateRows = append(templateRows, tr)
	}

	attachChildren(templateRows)
	profile.Rows[sheet] = templateRows
	return nil
}

// isBold reports whether the row's label cell uses a bold font.
func (p *Profiler) isBold(f *excelize.File, sheet string, rowIdx int) bool {
	addr, _ := excelize.CoordinatesToCellName(1, rowIdx)
	styleID, err := f.GetCellStyle(sheet, addr)
	if err != nil || styleID == 0 {
		return false
	}
	style, err := f.GetStyle(styleID)
	if err != nil || style == nil || style.Font == nil {
		return false
	}
	return style.Font.Bold
}

// classifyRow applies the keyword heuristics in fixed precedence: computed
// totals, then subtotal prefixes, then bold headers, then items; empty
// labels are spacers.
func classifyRow(label string, bold, isHeaderRow bool) evidence.RowKind {
	if label == "" {
		return evidence.RowSpacer
	}
	if isHeaderRow {
		return evidence.RowHeader
	}
	l := strings.ToLower(label)
	for _, phrase := range computedTotalPhrases {
		if strings.Contains(l, phrase) {
			return evidence.RowTotal
		}
	}
	if strings.HasPrefix(l, "total") || strings.HasPrefix(l, "subtotal") {
		return evidence.RowSubtotal
	}
	if bold {
		return evidence.RowHeader
	}
	return evidence.RowItem
}

// attachChildren links each subtotal/total row to the contiguous item rows
// immediately preceding it, stopping at the previous header or subtotal
// boundary.
func attachChildren(rows []evidence.TemplateRow) {
	for i := range rows {
		if rows[i].Kind != evidence.RowSubtotal && rows[i].Kind != evidence.RowTotal {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			switch rows[j].Kind {
			case evidence.RowItem:
				rows[i].Children = append([]int{rows[j].Index}, rows[i].Children...)
			case evidence.RowSpacer:
				continue
			default:
				j = -1 // header/subtotal/total bounds the child range
			}
			if j == -1 {
				break
			}
		}
	}
}

// findDataColumns locates the period header row and returns the data column
// indexes with their parsed periods. The header row is the first row where a
// cell right of the label column resolves as a period.
func findDataColumns(rows [][]string) ([]int, []evidence.PeriodInfo, int) {
	for i, row := range rows {
		var cols []int
		var periods []evidence.PeriodInfo
		for c := 1; c < len(row); c++ {
			text := strings.TrimSpace(row[c])
			if text == "" {
				continue
			}
			if p := normalization.ParsePeriod(text); p.Resolved {
				cols = append(cols, c+1)
				periods = append(periods, p)
			}
		}
		if len(cols) > 0 {
			return cols, periods, i + 1
		}
	}
	return nil, nil, 0
}
