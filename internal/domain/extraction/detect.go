package extraction

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
)

const (
	lineYTolerance   = 3.0 // pts: tokens within this vertical distance share a line
	columnXTolerance = 6.0 // pts: numeric tokens within this horizontal distance share a column
	authoritativeRows = 5  // text-line result with more rows than this short-circuits the chain
	overlapPrefixLen  = 50
)

// Detector is one table-detection strategy. Detectors are stateless; they
// read a page's tokens and propose table regions without mutating the page.
type Detector interface {
	Name() string
	Detect(page *evidence.PageEvidence) []*evidence.TableRegion
}

// Chain runs the fixed-order detector sequence with first-success-wins and
// overlap suppression, as a single named policy rather than inline fallbacks:
//
//  1. text-line grouping — authoritative when it yields more than 5 rows,
//     which is the common case for financial statements typeset as text
//  2. lattice (column-aligned) detection — only when (1) was insufficient
//  3. grid fill — loose amount predicate over lines the strict split
//     rejected; adds non-overlapping regions only
type Chain struct {
	detectors []Detector
	logger    *slog.Logger
}

// NewChain builds the standard detector ordering.
func NewChain(logger *slog.Logger) *Chain {
	return &Chain{
		detectors: []Detector{
			&textLineDetector{},
			&latticeDetector{},
			&gridFillDetector{},
		},
		logger: logger,
	}
}

// Detect runs the chain against one page and returns the accepted regions.
func (c *Chain) Detect(page *evidence.PageEvidence) []*evidence.TableRegion {
	var accepted []*evidence.TableRegion

	for i, det := range c.detectors {
		regions := det.Detect(page)

		for _, r := range regions {
			if c.duplicatesExisting(r, accepted) {
				c.logger.Debug("table region suppressed as overlap",
					"detector", det.Name(), "page", page.Number, "rows", len(r.Rows))
				continue
			}
			r.ID = fmt.Sprintf("p%d-t%d-%s", page.Number, len(accepted), det.Name())
			accepted = append(accepted, r)
		}

		// The text-line strategy is authoritative for plain-text statements.
		if i == 0 && len(accepted) > 0 && maxRows(accepted) > authoritativeRows {
			return accepted
		}
	}

	return accepted
}

// duplicatesExisting applies the overlap rule: same page, similar row count,
// matching first-row prefix.
func (c *Chain) duplicatesExisting(candidate *evidence.TableRegion, existing []*evidence.TableRegion) bool {
	for _, e := range existing {
		if e.Page != candidate.Page {
			continue
		}
		diff := len(e.Rows) - len(candidate.Rows)
		if diff < 0 {
			diff = -diff
		}
		if diff > 2 {
			continue
		}
		if e.FirstRowPrefix(overlapPrefixLen) == candidate.FirstRowPrefix(overlapPrefixLen) {
			return true
		}
	}
	return false
}

func maxRows(regions []*evidence.TableRegion) int {
	n := 0
	for _, r := range regions {
		if len(r.Rows) > n {
			n = len(r.Rows)
		}
	}
	return n
}

// line is a y-clustered group of tokens, sorted left to right.
type line struct {
	y      float64
	tokens []evidence.Token
}

// clusterLines groups page tokens into lines by y proximity.
func clusterLines(tokens []evidence.Token) []line {
	sorted := make([]evidence.Token, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].BBox.Y0 != sorted[j].BBox.Y0 {
			return sorted[i].BBox.Y0 > sorted[j].BBox.Y0 // top of page first
		}
		return sorted[i].BBox.X0 < sorted[j].BBox.X0
	})

	var lines []line
	for _, tok := range sorted {
		if n := len(lines); n > 0 && abs(lines[n-1].y-tok.BBox.Y0) <= lineYTolerance {
			lines[n-1].tokens = append(lines[n-1].tokens, tok)
			continue
		}
		lines = append(lines, line{y: tok.BBox.Y0, tokens: []evidence.Token{tok}})
	}
	for i := range lines {
		sort.SliceStable(lines[i].tokens, func(a, b int) bool {
			return lines[i].tokens[a].BBox.X0 < lines[i].tokens[b].BBox.X0
		})
	}
	return lines
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// textLineDetector splits each line into a label segment and numeric
// segments using the money-token pattern. Lines with both a label and at
// least one amount become table rows.
type textLineDetector struct{}

func (d *textLineDetector) Name() string { return "text" }

func (d *textLineDetector) Detect(page *evidence.PageEvidence) []*evidence.TableRegion {
	rows, headers, bbox, ok := buildRows(clusterLines(page.Tokens), strictValueToken)
	if !ok {
		return nil
	}
	return []*evidence.TableRegion{{
		Page:          page.Number,
		BBox:          bbox,
		Rows:          rows,
		Method:        evidence.ModeText,
		Confidence:    0.9,
		StatementType: evidence.StatementUnknown,
		ColumnHeaders: headers,
	}}
}

// periodHeaderRe recognizes header lines carrying reporting periods: years,
// quarters, month names, or "ended" phrasing.
var periodHeaderRe = regexp.MustCompile(`(?i)\b(?:19|20)\d{2}\b|\bQ[1-4]\b|\bFY\s?\d{2,4}\b|\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\b|\bended\b`)

// periodTokenRe pulls individual period expressions out of a header line.
var periodTokenRe = regexp.MustCompile(`(?i)\bFY\s?\d{2,4}\b|\bQ[1-4][\s-]?(?:19|20)?\d{2}\b|\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+(?:19|20)\d{2}\b|\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(?:19|20)\d{2}\b|\b(?:19|20)\d{2}\b`)

// strictValueToken is the default amount predicate: a money-shaped token with
// a real digit run, or a dash placeholder.
func strictValueToken(s string) bool {
	return IsMoneyToken(s) && LooksNumeric(s) || s == "-"
}

// looseValueToken also accepts short bare integers ("42") that the strict
// predicate treats as label text.
func looseValueToken(s string) bool {
	return IsMoneyToken(s)
}

// buildRows converts token lines into table rows and captures the nearest
// header line above the first value row as the region's column headers.
func buildRows(lines []line, valueToken func(string) bool) ([]evidence.TableRow, []string, evidence.BoundingBox, bool) {
	var rows []evidence.TableRow
	var bbox evidence.BoundingBox
	var pendingHeader string
	var headers []string
	first := true
	numericCols := 0

	for _, ln := range lines {
		row, ok := splitLine(ln, len(rows), valueToken)
		if ok && isHeaderRow(row) {
			ok = false
		}
		if !ok {
			if len(rows) == 0 {
				if text := lineText(ln); periodHeaderRe.MatchString(text) {
					pendingHeader = text
				}
			}
			continue
		}
		if len(rows) == 0 {
			numericCols = len(row.Cells) - 1
			headers = splitHeaders(pendingHeader, numericCols)
		}
		rows = append(rows, row)
		for _, cell := range row.Cells {
			if first {
				bbox = cell.BBox
				first = false
			} else {
				bbox = bbox.Union(cell.BBox)
			}
		}
	}
	if len(rows) == 0 {
		return nil, nil, evidence.BoundingBox{}, false
	}
	return rows, headers, bbox, true
}

// splitHeaders maps a header line onto numeric columns: one period token per
// column when the counts line up, otherwise the whole line for every column.
func splitHeaders(header string, cols int) []string {
	if header == "" || cols <= 0 {
		return nil
	}
	out := make([]string, cols)
	tokens := periodTokenRe.FindAllString(header, -1)
	if len(tokens) == cols {
		copy(out, tokens)
		return out
	}
	for i := range out {
		out[i] = header
	}
	return out
}

var bareYearRe = regexp.MustCompile(`^(?:19|20)\d{2}$`)
var endedPhraseRe = regexp.MustCompile(`(?i)\b(?:months?|years?|quarters?|periods?)\s+ended\b|\bas\s+of\b`)

// isHeaderRow catches period-header lines that parse like value rows, e.g.
// "Year Ended December 31, 2023 2022": every amount is a bare year, or the
// label carries an "ended"/"as of" phrase.
func isHeaderRow(row evidence.TableRow) bool {
	if endedPhraseRe.MatchString(row.Label()) {
		return true
	}
	years := 0
	numeric := 0
	for _, cell := range row.Cells {
		if !cell.IsNumeric {
			continue
		}
		numeric++
		if bareYearRe.MatchString(strings.TrimSpace(cell.Raw)) {
			years++
		}
	}
	return numeric > 0 && years == numeric
}

func lineText(ln line) string {
	parts := make([]string, 0, len(ln.tokens))
	for _, tok := range ln.tokens {
		parts = append(parts, tok.Text)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// splitLine builds one table row from a token line: leading tokens up to the
// first money token form the label cell, each money token after that is a
// numeric cell.
func splitLine(ln line, rowIdx int, valueToken func(string) bool) (evidence.TableRow, bool) {
	firstMoney := -1
	for i, tok := range ln.tokens {
		if valueToken(tok.Text) {
			firstMoney = i
			break
		}
	}
	if firstMoney <= 0 {
		return evidence.TableRow{}, false // numeric-only or label-only line
	}

	var labelParts []string
	labelBox := ln.tokens[0].BBox
	for _, tok := range ln.tokens[:firstMoney] {
		labelParts = append(labelParts, tok.Text)
		labelBox = labelBox.Union(tok.BBox)
	}
	label := strings.Join(labelParts, " ")

	cells := []evidence.TableCell{{
		Raw:        label,
		Row:        rowIdx,
		Col:        0,
		BBox:       labelBox,
		IsLabel:    true,
		Confidence: avgConfidence(ln.tokens[:firstMoney]),
	}}

	col := 1
	for _, tok := range ln.tokens[firstMoney:] {
		if !IsMoneyToken(tok.Text) {
			continue
		}
		cell := evidence.TableCell{
			Raw:        tok.Text,
			Row:        rowIdx,
			Col:        col,
			BBox:       tok.BBox,
			IsNumeric:  true,
			Confidence: tok.Confidence,
		}
		if v, ok := ParseAmount(tok.Text); ok {
			vv := v
			cell.Numeric = &vv
		}
		cells = append(cells, cell)
		col++
	}
	if len(cells) < 2 {
		return evidence.TableRow{}, false
	}

	return evidence.TableRow{
		Cells:   cells,
		Index:   rowIdx,
		IsTotal: IsTotalLabel(label),
	}, true
}

func avgConfidence(tokens []evidence.Token) float64 {
	if len(tokens) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range tokens {
		sum += t.Confidence
	}
	return sum / float64(len(tokens))
}

// latticeDetector approximates bordered-table detection by requiring numeric
// tokens to align into at least two stable x columns across lines. It only
// contributes when the text-line pass was insufficient.
type latticeDetector struct{}

func (d *latticeDetector) Name() string { return "lattice" }

func (d *latticeDetector) Detect(page *evidence.PageEvidence) []*evidence.TableRegion {
	lines := clusterLines(page.Tokens)

	// Collect candidate column x positions from numeric tokens.
	var xs []float64
	for _, ln := range lines {
		for _, tok := range ln.tokens {
			if IsMoneyToken(tok.Text) && LooksNumeric(tok.Text) {
				xs = append(xs, tok.BBox.X1) // amounts right-align
			}
		}
	}
	cols := clusterPositions(xs, columnXTolerance)
	if len(cols) < 2 {
		return nil
	}

	all, headers, _, ok := buildRows(lines, strictValueToken)
	if !ok {
		return nil
	}

	var rows []evidence.TableRow
	var bbox evidence.BoundingBox
	first := true
	for _, row := range all {
		// Require at least two numeric cells landing in detected columns.
		aligned := 0
		for _, cell := range row.Cells {
			if cell.IsNumeric && nearestCluster(cols, cell.BBox.X1, columnXTolerance) >= 0 {
				aligned++
			}
		}
		if aligned < 2 {
			continue
		}
		rows = append(rows, row)
		for _, cell := range row.Cells {
			if first {
				bbox = cell.BBox
				first = false
			} else {
				bbox = bbox.Union(cell.BBox)
			}
		}
	}

	if len(rows) < 2 {
		return nil
	}
	region := &evidence.TableRegion{
		Page:          page.Number,
		BBox:          bbox,
		Rows:          reindex(rows),
		Method:        evidence.ModeLattice,
		Confidence:    0.8,
		StatementType: evidence.StatementUnknown,
		ColumnHeaders: headers,
	}
	return []*evidence.TableRegion{region}
}

// gridFillDetector is the loosest strategy: it relaxes the amount predicate
// to any money-shaped token (short bare integers included) and keeps only the
// lines the strict split rejected, so it recovers rows like share counts and
// ratios without re-proposing tables the earlier detectors already found.
type gridFillDetector struct{}

func (d *gridFillDetector) Name() string { return "grid" }

func (d *gridFillDetector) Detect(page *evidence.PageEvidence) []*evidence.TableRegion {
	lines := clusterLines(page.Tokens)

	var rows []evidence.TableRow
	var bbox evidence.BoundingBox
	var pendingHeader string
	var headers []string
	first := true

	for _, ln := range lines {
		if row, ok := splitLine(ln, 0, strictValueToken); ok && !isHeaderRow(row) {
			continue // the strict pass already owns this line
		}
		row, ok := splitLine(ln, len(rows), looseValueToken)
		if ok && isHeaderRow(row) {
			ok = false
		}
		if !ok {
			if len(rows) == 0 {
				if text := lineText(ln); periodHeaderRe.MatchString(text) {
					pendingHeader = text
				}
			}
			continue
		}
		if len(rows) == 0 {
			headers = splitHeaders(pendingHeader, len(row.Cells)-1)
		}
		rows = append(rows, row)
		for _, cell := range row.Cells {
			if first {
				bbox = cell.BBox
				first = false
			} else {
				bbox = bbox.Union(cell.BBox)
			}
		}
	}

	// A single stray loose row is noise, not a table.
	if len(rows) < 2 {
		return nil
	}
	return []*evidence.TableRegion{{
		Page:          page.Number,
		BBox:          bbox,
		Rows:          rows,
		Method:        evidence.ModeGridFill,
		Confidence:    0.6,
		StatementType: evidence.StatementUnknown,
		ColumnHeaders: headers,
	}}
}

func reindex(rows []evidence.TableRow) []evidence.TableRow {
	for i := range rows {
		rows[i].Index = i
		for j := range rows[i].Cells {
			rows[i].Cells[j].Row = i
		}
	}
	return rows
}

// clusterPositions groups sorted positions within tol of a cluster anchor.
// Clusters seen fewer than twice are dropped.
func clusterPositions(xs []float64, tol float64) []float64 {
	if len(xs) == 0 {
		return nil
	}
	sort.Float64s(xs)
	var anchors []float64
	var counts []int
	for _, x := range xs {
		if n := len(anchors); n > 0 && x-anchors[n-1] <= tol {
			counts[n-1]++
			continue
		}
		anchors = append(anchors, x)
		counts = append(counts, 1)
	}
	var out []float64
	for i, a := range anchors {
		if counts[i] >= 2 {
			out = append(out, a)
		}
	}
	return out
}

func nearestCluster(cols []float64, x, tol float64) int {
	for i, c := range cols {
		if abs(c-x) <= tol {
			return i
		}
	}
	return -1
}
