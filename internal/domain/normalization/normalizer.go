// Package normalization turns classified table rows into canonical financial
// facts: label resolved through the shared matcher, period resolved from the
// column header, units scale applied exactly once, sign adjusted to the
// statement-type convention, full provenance retained.
package normalization

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
	"github.com/finsheet/statement-mapper/internal/domain/match"
)

const unresolvedLabelConfidence = 0.35

// Result is one normalization pass over a whole run's documents.
type Result struct {
	Facts    []evidence.NormalizedFact
	Periods  []evidence.PeriodInfo
	Scales   []evidence.ScaleRecord
	Warnings []string
}

// Normalizer is stateless apart from its matcher and logger; safe to share
// across concurrent runs.
type Normalizer struct {
	logger  *slog.Logger
	matcher *match.Matcher
}

// NewNormalizer wires the shared label matcher.
func NewNormalizer(logger *slog.Logger, matcher *match.Matcher) *Normalizer {
	return &Normalizer{logger: logger, matcher: matcher}
}

// Normalize walks documents in caller order, pages ascending, tables in
// detection order, rows top-down, assigning each fact a strictly increasing
// Seq. That ordering is the definition of recency for conflict resolution.
func (n *Normalizer) Normalize(docs []*evidence.DocumentEvidence, sections []evidence.StatementSection) Result {
	var res Result
	sectionByTable := make(map[string]*evidence.StatementSection, len(sections))
	for i := range sections {
		sectionByTable[sections[i].SourceTableID] = &sections[i]
	}

	seenPeriods := make(map[string]bool)
	seq := 0

	for _, doc := range docs {
		for _, page := range doc.Pages {
			if page.Scale != evidence.ScaleOnes {
				res.Scales = append(res.Scales, evidence.ScaleRecord{
					SourcePDF: doc.Filename,
					Page:      page.Number,
					Scale:     page.Scale,
				})
			}
			for _, table := range page.Tables {
				section := sectionByTable[table.ID]
				facts, periods, warnings := n.normalizeTable(doc, page, table, section, &seq)
				res.Facts = append(res.Facts, facts...)
				res.Warnings = append(res.Warnings, warnings...)
				for _, p := range periods {
					if !seenPeriods[p.Key+"|"+p.Raw] {
						seenPeriods[p.Key+"|"+p.Raw] = true
						res.Periods = append(res.Periods, p)
					}
				}
			}
		}
	}

	n.logger.Info("normalization complete",
		"facts", len(res.Facts), "periods", len(res.Periods), "warnings", len(res.Warnings))
	return res
}

func (n *Normalizer) normalizeTable(
	doc *evidence.DocumentEvidence,
	page *evidence.PageEvidence,
	table *evidence.TableRegion,
	section *evidence.StatementSection,
	seq *int,
) ([]evidence.NormalizedFact, []evidence.PeriodInfo, []string) {
	var facts []evidence.NormalizedFact
	var periods []evidence.PeriodInfo
	var warnings []string

	sectionID := ""
	sectionConfidence := unresolvedLabelConfidence
	statementType := table.StatementType
	if section != nil {
		sectionID = section.ID
		sectionConfidence = section.Confidence
		statementType = section.Type
	}

	// Resolve each column header once per table.
	colPeriods := make([]evidence.PeriodInfo, len(table.ColumnHeaders))
	for i, header := range table.ColumnHeaders {
		colPeriods[i] = ParsePeriod(header)
		periods = append(periods, colPeriods[i])
		if !colPeriods[i].Resolved && header != "" {
			warnings = append(warnings, fmt.Sprintf("unresolved period header %q (%s p%d)", header, doc.Filename, page.Number))
		}
	}

	for _, row := range table.Rows {
		label := row.Label()
		if label == "" {
			continue
		}

		canonical := ""
		matchScore := 0.0
		sign := match.SignPositive
		if result := n.matcher.Match(label); result != nil {
			canonical = result.Category.Name
			matchScore = result.Score
			sign = result.Category.Sign
		} else {
			warnings = append(warnings, fmt.Sprintf("no canonical match for label %q (%s p%d)", label, doc.Filename, page.Number))
		}

		for _, cell := range row.Cells {
			if !cell.IsNumeric || cell.Numeric == nil {
				continue
			}

			period := evidence.PeriodInfo{}
			if idx := cell.Col - 1; idx >= 0 && idx < len(colPeriods) {
				period = colPeriods[idx]
			}

			// Scale is applied here and nowhere else.
			value := cell.Numeric.Mul(page.Scale.Multiplier())
			value = applySign(value, sign, statementType)

			*seq++
			fact := evidence.NormalizedFact{
				ID:             uuid.NewString(),
				CanonicalLabel: canonical,
				Period:         period,
				Value:          value,
				Scale:          page.Scale,
				StatementType:  statementType,
				Confidence:     factConfidence(cell.Confidence, matchScore, sectionConfidence),
				Seq:            *seq,
				Provenance: evidence.Provenance{
					SourcePDF: doc.Filename,
					Page:      page.Number,
					TableID:   table.ID,
					SectionID: sectionID,
					RawLabel:  label,
					RawValue:  cell.Raw,
					Extra:     provenanceExtra(canonical, period),
				},
			}
			facts = append(facts, fact)
		}
	}

	return facts, periods, warnings
}

// applySign implements the statement-type sign convention: income-statement
// expense categories recorded as magnitudes become negative contributions.
// Values the source already signed (parenthesized) are left alone.
func applySign(v decimal.Decimal, sign match.Sign, statementType evidence.StatementType) decimal.Decimal {
	if sign == match.SignNegative && v.IsPositive() &&
		(statementType == evidence.StatementIncome || statementType == evidence.StatementCashFlow) {
		return v.Neg()
	}
	return v
}

// factConfidence blends cell extraction confidence, label match strength and
// section classification confidence. Weights favor the evidence closest to
// the number itself.
func factConfidence(cell, matchScore, section float64) float64 {
	if matchScore == 0 {
		return unresolvedLabelConfidence
	}
	c := cell*0.4 + matchScore*0.4 + section*0.2
	if c > 1 {
		c = 1
	}
	return c
}

func provenanceExtra(canonical string, period evidence.PeriodInfo) map[string]string {
	extra := map[string]string{}
	if canonical == "" {
		extra["unresolved_label"] = "true"
	}
	if !period.Resolved {
		extra["unresolved_period"] = "true"
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}
