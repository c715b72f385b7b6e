package mapping

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/xuri/excelize/v2"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
	"github.com/finsheet/statement-mapper/internal/domain/match"
	"github.com/finsheet/statement-mapper/internal/domain/normalization"
)

// Options narrows and tunes one resolution pass.
type Options struct {
	MinConfidence    float64 // facts below this never map
	AutoMapThreshold float64 // postings below this are flagged for review
	TargetPeriod     string  // restrict mapping to one normalized period key, "" for all
}

// Output is everything resolution decided, including what it could not map.
type Output struct {
	Postings       []evidence.CellPosting
	UnmappedFacts  []string // fact IDs with no template target
	UnmatchedItems []string // "Sheet!label" item rows no fact reached
}

// Resolver maps normalized facts onto template cells.
type Resolver struct {
	logger  *slog.Logger
	matcher *match.Matcher
}

// NewResolver wires the shared matcher.
func NewResolver(logger *slog.Logger, matcher *match.Matcher) *Resolver {
	return &Resolver{logger: logger, matcher: matcher}
}

// Resolve produces the final posting list. When several facts target the same
// cell the highest normalization Seq wins (documents are normalized in caller
// order, so recency is explicit, not incidental); losing fact ids stay on the
// posting for audit. Subtotal and total rows receive generated formulas when
// their children resolved. Output ordering is deterministic: sheet, row,
// column.
func (r *Resolver) Resolve(facts []evidence.NormalizedFact, profile *evidence.TemplateProfile, opts Options) Output {
	var out Output

	rowCanonical := r.indexRows(profile)

	// Collect candidates per eligible cell.
	type cellKey struct {
		sheet string
		row   int
		col   int
	}
	candidates := make(map[cellKey][]evidence.NormalizedFact)
	cellByKey := make(map[cellKey]evidence.TemplateCell)
	mappedFactIDs := make(map[string]bool)
	reachedRows := make(map[string]bool)

	for _, fact := range facts {
		if fact.CanonicalLabel == "" || fact.Confidence < opts.MinConfidence || !fact.Period.Resolved {
			out.UnmappedFacts = append(out.UnmappedFacts, fact.ID)
			continue
		}
		if opts.TargetPeriod != "" && fact.Period.Key != opts.TargetPeriod {
			out.UnmappedFacts = append(out.UnmappedFacts, fact.ID)
			continue
		}

		matched := false
		for _, sheet := range profile.Sheets {
			for _, row := range profile.Rows[sheet] {
				if rowCanonical[rowRef(sheet, row.Index)] != fact.CanonicalLabel {
					continue
				}
				for _, cell := range row.Cells {
					if !cell.Eligible {
						continue
					}
					period := normalizePeriodKey(cell.PeriodHeader)
					if period != fact.Period.Key {
						continue
					}
					key := cellKey{sheet, cell.Row, cell.Col}
					candidates[key] = append(candidates[key], fact)
					cellByKey[key] = cell
					reachedRows[rowRef(sheet, row.Index)] = true
					matched = true
				}
			}
		}
		if matched {
			mappedFactIDs[fact.ID] = true
		} else {
			out.UnmappedFacts = append(out.UnmappedFacts, fact.ID)
		}
	}

	// Resolve each contested cell: highest Seq wins, everyone stays on the
	// lineage.
	keys := make([]cellKey, 0, len(candidates))
	for k := range candidates {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].sheet != keys[j].sheet {
			return sheetOrder(profile, keys[i].sheet) < sheetOrder(profile, keys[j].sheet)
		}
		if keys[i].row != keys[j].row {
			return keys[i].row < keys[j].row
		}
		return keys[i].col < keys[j].col
	})

	for _, key := range keys {
		group := candidates[key]
		sort.Slice(group, func(i, j int) bool { return group[i].Seq < group[j].Seq })
		winner := group[len(group)-1]
		cell := cellByKey[key]

		ids := make([]string, len(group))
		for i, f := range group {
			ids[i] = f.ID
		}

		posting := evidence.CellPosting{
			Cell:           cell,
			FactIDs:        ids,
			OldValue:       cell.OldValue,
			NewValue:       winner.Value,
			Scale:          winner.Scale,
			Period:         winner.Period,
			CanonicalLabel: winner.CanonicalLabel,
			Confidence:     winner.Confidence,
			Level:          evidence.BandConfidence(winner.Confidence),
			Conflict:       len(group) > 1,
			NeedsReview:    winner.Confidence < opts.AutoMapThreshold,
			Notes:          postingNotes(winner, cell, len(group)),
		}
		out.Postings = append(out.Postings, posting)
	}

	// Generated formulas for subtotal/total rows whose children resolved.
	out.Postings = append(out.Postings, r.formulaPostings(profile, rowCanonical, out.Postings)...)

	// Labeled item rows that no fact reached.
	for _, sheet := range profile.Sheets {
		for _, row := range profile.Rows[sheet] {
			if row.Kind != evidence.RowItem || row.Label == "" {
				continue
			}
			if !reachedRows[rowRef(sheet, row.Index)] {
				out.UnmatchedItems = append(out.UnmatchedItems, fmt.Sprintf("%s!%s", sheet, row.Label))
			}
		}
	}

	r.logger.Info("mapping resolved",
		"postings", len(out.Postings),
		"unmapped_facts", len(out.UnmappedFacts),
		"unmatched_items", len(out.UnmatchedItems))
	return out
}

// indexRows resolves every labeled template row to its canonical category
// once per run.
func (r *Resolver) indexRows(profile *evidence.TemplateProfile) map[string]string {
	idx := make(map[string]string)
	for _, sheet := range profile.Sheets {
		for _, row := range profile.Rows[sheet] {
			if row.Label == "" {
				continue
			}
			if result := r.matcher.Match(row.Label); result != nil {
				idx[rowRef(sheet, row.Index)] = result.Category.Name
			}
		}
	}
	return idx
}

// formulaPostings generates sum or difference formulas for subtotal/total
// rows. These cells originally held hardcoded placeholder numbers, never
// author formulas; rows that do carry a formula are skipped by the
// eligibility data and re-checked in writeback.
func (r *Resolver) formulaPostings(profile *evidence.TemplateProfile, rowCanonical map[string]string, valuePostings []evidence.CellPosting) []evidence.CellPosting {
	postedByCell := make(map[string]evidence.CellPosting)
	for _, p := range valuePostings {
		postedByCell[p.Cell.Ref()] = p
	}

	var out []evidence.CellPosting
	for _, sheet := range profile.Sheets {
		rowByIndex := make(map[int]evidence.TemplateRow)
		for _, row := range profile.Rows[sheet] {
			rowByIndex[row.Index] = row
		}
		for _, row := range profile.Rows[sheet] {
			if row.Kind != evidence.RowSubtotal && row.Kind != evidence.RowTotal {
				continue
			}
			for _, cell := range row.Cells {
				if cell.HasFormula {
					continue // never touch an author formula
				}
				formula, ids, conf := r.buildFormula(sheet, row, cell.Col, rowByIndex, rowCanonical, postedByCell)
				if formula == "" {
					continue
				}
				out = append(out, evidence.CellPosting{
					Cell:           cell,
					FactIDs:        ids,
					OldValue:       cell.OldValue,
					Formula:        formula,
					Scale:          evidence.ScaleOnes,
					Period:         normalizationPeriod(cell.PeriodHeader),
					CanonicalLabel: rowCanonical[rowRef(sheet, row.Index)],
					Confidence:     conf,
					Level:          evidence.BandConfidence(conf),
					Notes:          fmt.Sprintf("generated %s formula for %s row", formulaKind(formula), row.Kind),
				})
			}
		}
	}
	return out
}

// buildFormula returns a difference formula for recognized computed totals
// (gross profit, operating income) when both reference rows posted, and a
// SUM over the children range otherwise. Empty when no child resolved.
func (r *Resolver) buildFormula(
	sheet string,
	row evidence.TemplateRow,
	col int,
	rowByIndex map[int]evidence.TemplateRow,
	rowCanonical map[string]string,
	postedByCell map[string]evidence.CellPosting,
) (string, []string, float64) {
	canonical := rowCanonical[rowRef(sheet, row.Index)]

	if ref, ok := differenceRefs[canonical]; ok {
		minuendRow := findRowByCanonical(sheet, ref.minuend, rowByIndex, rowCanonical)
		subtrahendRow := findRowByCanonical(sheet, ref.subtrahend, rowByIndex, rowCanonical)
		if minuendRow > 0 && subtrahendRow > 0 {
			a, _ := excelize.CoordinatesToCellName(col, minuendRow)
			b, _ := excelize.CoordinatesToCellName(col, subtrahendRow)
			pa, okA := postedByCell[fmt.Sprintf("%s!%s", sheet, a)]
			pb, okB := postedByCell[fmt.Sprintf("%s!%s", sheet, b)]
			if okA && okB {
				ids := append(append([]string{}, pa.FactIDs...), pb.FactIDs...)
				// Subtrahend values are stored signed; adding keeps the
				// identity (revenue + negative COGS).
				return fmt.Sprintf("=%s+%s", a, b), ids, minConf(pa.Confidence, pb.Confidence)
			}
		}
	}

	if len(row.Children) == 0 {
		return "", nil, 0
	}
	var ids []string
	conf := 1.0
	for _, childIdx := range row.Children {
		addr, _ := excelize.CoordinatesToCellName(col, childIdx)
		if p, ok := postedByCell[fmt.Sprintf("%s!%s", sheet, addr)]; ok {
			ids = append(ids, p.FactIDs...)
			conf = minConf(conf, p.Confidence)
		}
	}
	if len(ids) == 0 {
		return "", nil, 0
	}
	first, _ := excelize.CoordinatesToCellName(col, row.Children[0])
	last, _ := excelize.CoordinatesToCellName(col, row.Children[len(row.Children)-1])
	return fmt.Sprintf("=SUM(%s:%s)", first, last), ids, conf
}

// formulaKind names the shape of a generated formula for audit notes.
func formulaKind(formula string) string {
	if strings.HasPrefix(formula, "=SUM(") {
		return "sum"
	}
	return "difference"
}

type diffRef struct{ minuend, subtrahend string }

// differenceRefs: computed totals expressed as row arithmetic instead of a
// range sum. Values are stored signed, so the "difference" is an addition.
var differenceRefs = map[string]diffRef{
	"Gross Profit":     {minuend: "Total Revenue", subtrahend: "Cost of Goods Sold"},
	"Operating Income": {minuend: "Gross Profit", subtrahend: "Operating Expenses"},
}

func findRowByCanonical(sheet, canonical string, rowByIndex map[int]evidence.TemplateRow, rowCanonical map[string]string) int {
	indexes := make([]int, 0, len(rowByIndex))
	for idx := range rowByIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		if rowCanonical[rowRef(sheet, idx)] == canonical {
			return idx
		}
	}
	return 0
}

// postingNotes records the advisory fuzzy similarity between the raw label
// and the template row label, plus conflict context. Advisory only: it never
// changes which fact wins.
func postingNotes(winner evidence.NormalizedFact, cell evidence.TemplateCell, groupSize int) string {
	var parts []string
	rank := fuzzy.RankMatchNormalizedFold(winner.Provenance.RawLabel, cell.RowLabel)
	if rank >= 0 {
		parts = append(parts, fmt.Sprintf("fuzzy distance %d", rank))
	}
	if groupSize > 1 {
		parts = append(parts, fmt.Sprintf("conflict: %d facts targeted this cell, most recent kept", groupSize))
	}
	return strings.Join(parts, "; ")
}

func rowRef(sheet string, index int) string {
	return fmt.Sprintf("%s#%d", sheet, index)
}

func sheetOrder(profile *evidence.TemplateProfile, sheet string) int {
	for i, s := range profile.Sheets {
		if s == sheet {
			return i
		}
	}
	return len(profile.Sheets)
}

func normalizationPeriod(header string) evidence.PeriodInfo {
	return normalization.ParsePeriod(header)
}

func normalizePeriodKey(header string) string {
	return normalizationPeriod(header).Key
}

func minConf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
