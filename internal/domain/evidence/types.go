// Package evidence holds the shared data model for the extraction-and-mapping
// pipeline: layout evidence pulled from PDFs, normalized financial facts,
// template structure, cell postings, reconciliation records, and the
// append-only run audit. Types here carry no behavior beyond invariant
// helpers; every pipeline stage produces or consumes them.
package evidence

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ExtractionMode indicates how a token or table was obtained from the page.
type ExtractionMode string

const (
	ModeText     ExtractionMode = "text"      // native text layer
	ModeLattice  ExtractionMode = "lattice"   // bordered-table detection
	ModeGridFill ExtractionMode = "grid_fill" // generic line/text grid fallback
	ModeOCRFlag  ExtractionMode = "ocr_flag"  // page flagged as OCR candidate, not executed
)

// StatementType is the classified kind of a financial statement table.
type StatementType string

const (
	StatementIncome    StatementType = "income_statement"
	StatementBalance   StatementType = "balance_sheet"
	StatementCashFlow  StatementType = "cash_flow"
	StatementUnknown   StatementType = "unknown"
)

// ParseStatementType maps a user-supplied hint to a StatementType.
// Unrecognized values return StatementUnknown and false.
func ParseStatementType(s string) (StatementType, bool) {
	switch StatementType(strings.ToLower(strings.TrimSpace(s))) {
	case StatementIncome:
		return StatementIncome, true
	case StatementBalance:
		return StatementBalance, true
	case StatementCashFlow:
		return StatementCashFlow, true
	}
	return StatementUnknown, false
}

// ScaleFactor is the units multiplier detected from document context.
// It is applied to a raw extracted magnitude exactly once, during
// normalization.
type ScaleFactor int64

const (
	ScaleOnes      ScaleFactor = 1
	ScaleThousands ScaleFactor = 1_000
	ScaleMillions  ScaleFactor = 1_000_000
	ScaleBillions  ScaleFactor = 1_000_000_000
)

// Multiplier returns the scale as a decimal for exact arithmetic.
func (s ScaleFactor) Multiplier() decimal.Decimal {
	if s <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(s))
}

func (s ScaleFactor) String() string {
	switch s {
	case ScaleThousands:
		return "thousands"
	case ScaleMillions:
		return "millions"
	case ScaleBillions:
		return "billions"
	default:
		return "ones"
	}
}

// BoundingBox is a page-relative rectangle in PDF points. Origin follows the
// PDF convention (y grows upward); PageWidth/PageHeight allow normalization.
type BoundingBox struct {
	X0, Y0, X1, Y1         float64
	PageWidth, PageHeight  float64
}

// Area returns the rectangle area in square points.
func (b BoundingBox) Area() float64 {
	w := b.X1 - b.X0
	h := b.Y1 - b.Y0
	if w < 0 || h < 0 {
		return 0
	}
	return w * h
}

// Union grows the box to cover other.
func (b BoundingBox) Union(other BoundingBox) BoundingBox {
	out := b
	if other.X0 < out.X0 {
		out.X0 = other.X0
	}
	if other.Y0 < out.Y0 {
		out.Y0 = other.Y0
	}
	if other.X1 > out.X1 {
		out.X1 = other.X1
	}
	if other.Y1 > out.Y1 {
		out.Y1 = other.Y1
	}
	return out
}

// Overlaps reports whether the two boxes intersect.
func (b BoundingBox) Overlaps(other BoundingBox) bool {
	return b.X0 < other.X1 && other.X0 < b.X1 && b.Y0 < other.Y1 && other.Y0 < b.Y1
}

// Token is one recognized word on a page.
type Token struct {
	Text       string
	BBox       BoundingBox
	Page       int
	Confidence float64
	Mode       ExtractionMode
}

// TableCell is one cell of a detected table region. Numeric holds the parsed
// value when the cell text looks like an amount; label cells leave it nil.
type TableCell struct {
	Raw        string
	Row, Col   int
	BBox       BoundingBox
	Numeric    *decimal.Decimal
	IsLabel    bool
	IsNumeric  bool
	Confidence float64
}

// TableRow groups the cells of one table row. IsTotal marks rows whose label
// carries total/net/gross keywords.
type TableRow struct {
	Cells   []TableCell
	Index   int
	IsTotal bool
}

// Label returns the row's label-segment text (first label cell), or "".
func (r TableRow) Label() string {
	for _, c := range r.Cells {
		if c.IsLabel {
			return c.Raw
		}
	}
	return ""
}

// TableRegion is one detected table on a page. StatementType starts as
// StatementUnknown and is set exactly once by the classifier; no other
// field mutates after extraction.
type TableRegion struct {
	ID            string
	Page          int
	BBox          BoundingBox
	Rows          []TableRow
	Method        ExtractionMode
	Confidence    float64
	StatementType StatementType

	// ColumnHeaders holds the period-header texts for each numeric column,
	// captured from the nearest header line above the first value row.
	// Index 0 corresponds to numeric column 1.
	ColumnHeaders []string
}

// ConcatenatedText joins every cell's raw text, used for keyword scoring.
func (t *TableRegion) ConcatenatedText() string {
	var b strings.Builder
	for _, row := range t.Rows {
		for _, cell := range row.Cells {
			b.WriteString(cell.Raw)
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// FirstRowPrefix returns up to n leading characters of row 0's concatenated
// text, used by the detector chain's overlap suppression.
func (t *TableRegion) FirstRowPrefix(n int) string {
	if len(t.Rows) == 0 {
		return ""
	}
	var b strings.Builder
	for _, cell := range t.Rows[0].Cells {
		b.WriteString(cell.Raw)
		b.WriteByte(' ')
	}
	s := strings.TrimSpace(b.String())
	if len(s) > n {
		return s[:n]
	}
	return s
}

// PageEvidence is everything extracted from one PDF page.
type PageEvidence struct {
	Number       int // 1-based
	Width        float64
	Height       float64
	Tokens       []Token
	Tables       []*TableRegion
	TextDensity  float64
	OCRCandidate bool
	Scale        ScaleFactor
}

// DocumentEvidence is everything extracted from one input PDF.
type DocumentEvidence struct {
	Filename   string
	Pages      []*PageEvidence
	Confidence float64
}

// Tables returns all detected table regions across pages, in page order.
func (d *DocumentEvidence) Tables() []*TableRegion {
	var out []*TableRegion
	for _, p := range d.Pages {
		out = append(out, p.Tables...)
	}
	return out
}

// StatementSection is a classified region of a document.
type StatementSection struct {
	ID            string
	Type          StatementType
	SourceTableID string
	SourcePDF     string
	Page          int
	RowStart      int
	RowEnd        int
	Confidence    float64
	Method        string // "keyword", "hint", "llm"
	Rationale     string
}

// Title is a human-readable section name for the audit sheet.
func (s StatementSection) Title() string {
	switch s.Type {
	case StatementIncome:
		return "Income Statement"
	case StatementBalance:
		return "Balance Sheet"
	case StatementCashFlow:
		return "Cash Flow Statement"
	default:
		return "Unclassified Section"
	}
}
