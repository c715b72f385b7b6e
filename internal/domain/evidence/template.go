package evidence

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RowKind classifies a template row's structural role.
type RowKind string

const (
	RowHeader   RowKind = "header"
	RowItem     RowKind = "item"
	RowSubtotal RowKind = "subtotal"
	RowTotal    RowKind = "total"
	RowSpacer   RowKind = "spacer"
)

// TemplateCell is one addressable cell of the parsed template grid.
// Eligible is true only for data-column cells in item rows that held no
// formula when the template was profiled; writeback refuses everything else.
type TemplateCell struct {
	Sheet        string
	Address      string // e.g. "C7"
	Row          int    // 1-based
	Col          int    // 1-based
	RowLabel     string
	PeriodHeader string
	OldValue     string // cell content at profiling time
	HasFormula   bool
	Eligible     bool
}

// Ref returns the sheet-qualified cell reference.
func (c TemplateCell) Ref() string {
	return fmt.Sprintf("%s!%s", c.Sheet, c.Address)
}

// TemplateRow is one profiled row of a template sheet.
type TemplateRow struct {
	Sheet    string
	Index    int // 1-based
	Label    string
	Kind     RowKind
	Bold     bool
	Children []int // contiguous item rows feeding a subtotal/total row
	Cells    []TemplateCell
}

// TemplateProfile is the parsed structural map of the target workbook:
// every sheet's rows, data columns with their period headers, and the set
// of eligible posting targets. Read-only during a run.
type TemplateProfile struct {
	Path         string
	TemplateName string
	Sheets       []string
	Rows         map[string][]TemplateRow  // by sheet
	Periods      map[string][]PeriodInfo   // by sheet, one per data column
	DataCols     map[string][]int          // by sheet, 1-based column indexes
}

// EligibleCells returns every cell marked eligible across all sheets, in
// sheet/row/column order.
func (p *TemplateProfile) EligibleCells() []TemplateCell {
	var out []TemplateCell
	for _, sheet := range p.Sheets {
		for _, row := range p.Rows[sheet] {
			for _, cell := range row.Cells {
				if cell.Eligible {
					out = append(out, cell)
				}
			}
		}
	}
	return out
}

// ConfidenceLevel is the coarse H/M/L band reported per posting and per run.
type ConfidenceLevel string

const (
	ConfidenceHigh    ConfidenceLevel = "HIGH"
	ConfidenceMedium  ConfidenceLevel = "MEDIUM"
	ConfidenceLow     ConfidenceLevel = "LOW"
	ConfidenceVeryLow ConfidenceLevel = "VERY_LOW"
)

// BandConfidence maps an average numeric confidence onto the H/M/L bands.
func BandConfidence(avg float64) ConfidenceLevel {
	switch {
	case avg >= 0.85:
		return ConfidenceHigh
	case avg >= 0.65:
		return ConfidenceMedium
	case avg >= 0.40:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// Letter returns the single-letter form used in the audit lineage table.
func (c ConfidenceLevel) Letter() string {
	switch c {
	case ConfidenceHigh:
		return "H"
	case ConfidenceMedium:
		return "M"
	default:
		return "L"
	}
}

// CellPosting is the resolved, final decision to write one value (or one
// generated formula) into one template cell. Immutable once created; consumed
// by validation, writeback and the audit report.
type CellPosting struct {
	Cell           TemplateCell
	FactIDs        []string // every contributing fact, earliest first
	OldValue       string
	NewValue       decimal.Decimal
	Formula        string // non-empty for generated subtotal/total formulas
	Scale          ScaleFactor
	Period         PeriodInfo
	CanonicalLabel string
	Confidence     float64
	Level          ConfidenceLevel
	Conflict       bool
	NeedsReview    bool
	Notes          string
}

// IsFormula reports whether the posting writes a generated formula expression
// rather than a literal value.
func (p CellPosting) IsFormula() bool {
	return p.Formula != ""
}
