package evidence

import (
	"time"

	"github.com/shopspring/decimal"
)

// PeriodInfo is a normalized reporting period resolved from a column header.
type PeriodInfo struct {
	Raw      string    // header text as seen in the document
	Key      string    // normalized key, e.g. "FY2023", "Q3-2024", "2024-01"
	EndDate  time.Time // period end date
	Months   int       // duration in months (12 annual, 3 quarterly, 1 monthly)
	Resolved bool      // false when the header could not be parsed
}

// Provenance ties a normalized fact back to its source evidence. Extra is an
// open-ended extension map for detector- or assist-specific annotations; the
// core fields stay typed.
type Provenance struct {
	SourcePDF string
	Page      int
	TableID   string
	SectionID string
	RawLabel  string
	RawValue  string
	Extra     map[string]string
}

// NormalizedFact is one canonical financial data point: label and period
// resolved, scale applied exactly once, sign adjusted to the statement-type
// convention. Facts are immutable once created.
type NormalizedFact struct {
	ID            string
	CanonicalLabel string
	Period        PeriodInfo
	Value         decimal.Decimal
	Scale         ScaleFactor
	StatementType StatementType
	Confidence    float64
	Provenance    Provenance

	// Seq is assigned in strict normalization order: documents in the
	// caller-supplied order, pages ascending, tables in detection order,
	// rows top-down. Conflict resolution treats the highest Seq as the
	// most recent value for a (label, period) pair.
	Seq int
}
