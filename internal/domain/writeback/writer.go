// Package writeback applies resolved postings to a copy of the template
// workbook. The template itself is never modified; the workbook is opened
// once, every posting is re-guarded against the live file, and the result is
// saved to the derived output path in a single write.
package writeback

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
)

// SkippedCell records one posting the writer refused, with the reason.
type SkippedCell struct {
	Ref    string
	Reason string
}

// Result summarizes one writeback pass.
type Result struct {
	OutputPath   string
	CellsWritten int
	Skipped      []SkippedCell
}

// Writer posts values and generated formulas into the output workbook.
type Writer struct {
	logger *slog.Logger
}

// NewWriter returns a workbook writer.
func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logger}
}

// OutputPath expands the filename pattern next to the template. Supported
// placeholders: {template_name}, {statement_type}, {run_id}.
func OutputPath(pattern, templatePath string, statementType evidence.StatementType, runID string) string {
	name := strings.TrimSuffix(filepath.Base(templatePath), filepath.Ext(templatePath))
	out := strings.NewReplacer(
		"{template_name}", name,
		"{statement_type}", string(statementType),
		"{run_id}", runID,
	).Replace(pattern)
	if !strings.Contains(out, string(filepath.Separator)) {
		out = filepath.Join(filepath.Dir(templatePath), out)
	}
	return out
}

// Write opens the template, applies every posting that still passes the live
// guards, and saves to outputPath. Guard failures are returned as skips, not
// errors; only I/O failures abort.
func (w *Writer) Write(templatePath, outputPath string, postings []evidence.CellPosting) (*Result, error) {
	f, err := excelize.OpenFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("open template for writeback: %w", err)
	}
	defer f.Close()

	result := &Result{OutputPath: outputPath}
	for _, p := range postings {
		if reason := w.guard(f, p); reason != "" {
			result.Skipped = append(result.Skipped, SkippedCell{Ref: p.Cell.Ref(), Reason: reason})
			continue
		}
		if err := w.apply(f, p); err != nil {
			return nil, fmt.Errorf("write %s: %w", p.Cell.Ref(), err)
		}
		result.CellsWritten++
	}

	if err := f.SaveAs(outputPath); err != nil {
		return nil, fmt.Errorf("save output workbook: %w", err)
	}

	w.logger.Info("writeback complete",
		"output", outputPath, "written", result.CellsWritten, "skipped", len(result.Skipped))
	return result, nil
}

// guard re-checks a posting against the live workbook. The profile's
// eligibility was computed earlier against the same file, but the formula
// check runs again here so a stale profile can never clobber author work.
func (w *Writer) guard(f *excelize.File, p evidence.CellPosting) string {
	idx, err := f.GetSheetIndex(p.Cell.Sheet)
	if err != nil || idx < 0 {
		return fmt.Sprintf("sheet %q not in workbook", p.Cell.Sheet)
	}
	formula, _ := f.GetCellFormula(p.Cell.Sheet, p.Cell.Address)
	if formula != "" {
		return "cell holds an author formula"
	}
	if value, _ := f.GetCellValue(p.Cell.Sheet, p.Cell.Address); strings.HasPrefix(value, "=") {
		return "cell holds an author formula"
	}
	if !p.IsFormula() && !p.Cell.Eligible {
		return "cell not eligible for value postings"
	}
	return ""
}

func (w *Writer) apply(f *excelize.File, p evidence.CellPosting) error {
	if p.IsFormula() {
		if err := f.SetCellFormula(p.Cell.Sheet, p.Cell.Address, p.Formula); err != nil {
			return err
		}
	} else if p.NewValue.IsInteger() {
		// Whole-dollar amounts round-trip exactly as int64; float64 loses
		// precision past 2^53.
		if err := f.SetCellValue(p.Cell.Sheet, p.Cell.Address, p.NewValue.IntPart()); err != nil {
			return err
		}
	} else {
		value, _ := p.NewValue.Float64()
		if err := f.SetCellValue(p.Cell.Sheet, p.Cell.Address, value); err != nil {
			return err
		}
	}
	return w.alignRight(f, p.Cell.Sheet, p.Cell.Address)
}

// alignRight keeps posted numbers visually consistent with the template's
// untouched numeric cells. Existing style attributes are preserved.
func (w *Writer) alignRight(f *excelize.File, sheet, addr string) error {
	style := &excelize.Style{}
	if styleID, err := f.GetCellStyle(sheet, addr); err == nil && styleID != 0 {
		if existing, err := f.GetStyle(styleID); err == nil && existing != nil {
			style = existing
		}
	}
	if style.Alignment == nil {
		style.Alignment = &excelize.Alignment{}
	}
	style.Alignment.Horizontal = "right"

	newID, err := f.NewStyle(style)
	if err != nil {
		return fmt.Errorf("build cell style: %w", err)
	}
	return f.SetCellStyle(sheet, addr, addr, newID)
}
