// Package extraction turns a PDF financial statement into layout-aware
// evidence: word tokens with bounding boxes, detected table regions, per-page
// text density and units scale. Detection runs a fixed-order strategy chain;
// pages the text layer cannot cover are flagged as OCR candidates (OCR itself
// is out of scope).
package extraction

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
)

// ErrUnreadablePDF marks a fatal, pipeline-aborting input failure.
var ErrUnreadablePDF = errors.New("unreadable or non-PDF input")

const (
	defaultDensityThreshold = 0.05 // below this text coverage a page is an OCR candidate
	wordGapFactor           = 0.3  // fragments closer than this fraction of font size merge into one word
	nativeTextConfidence    = 0.99
)

// Extractor reads PDFs into DocumentEvidence. Stateless apart from read-only
// configuration, so one instance is safe across concurrent runs.
type Extractor struct {
	logger           *slog.Logger
	chain            *Chain
	densityThreshold float64
}

// NewExtractor wires the detector chain with the default density threshold.
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{
		logger:           logger,
		chain:            NewChain(logger),
		densityThreshold: defaultDensityThreshold,
	}
}

// ExtractDocument reads one PDF and produces its full evidence. An unreadable
// or non-PDF file returns ErrUnreadablePDF (wrapped); a page without tables
// simply contributes no regions.
func (e *Extractor) ExtractDocument(path string) (*evidence.DocumentEvidence, error) {
	if err := api.ValidateFile(path, model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadablePDF, path, err)
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadablePDF, path, err)
	}
	defer f.Close()

	dims, err := api.PageDimsFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadablePDF, path, err)
	}

	doc := &evidence.DocumentEvidence{Filename: filepath.Base(path)}

	total := reader.NumPage()
	for pageNum := 1; pageNum <= total; pageNum++ {
		p := reader.Page(pageNum)
		if p.V.IsNull() {
			continue
		}

		width, height := 612.0, 792.0 // letter fallback
		if pageNum-1 < len(dims) {
			width, height = dims[pageNum-1].Width, dims[pageNum-1].Height
		}

		page := &evidence.PageEvidence{Number: pageNum, Width: width, Height: height}
		page.Tokens = e.extractTokens(p, pageNum, width, height)
		page.TextDensity = textDensity(page)
		page.OCRCandidate = page.TextDensity < e.densityThreshold

		scale, phrase := DetectScale(pageText(page))
		page.Scale = scale
		if phrase != "" {
			e.logger.Debug("scale detected", "file", doc.Filename, "page", pageNum, "scale", scale.String(), "evidence", phrase)
		}

		page.Tables = e.chain.Detect(page)

		e.logger.Info("page extracted",
			"file", doc.Filename, "page", pageNum,
			"tokens", len(page.Tokens), "tables", len(page.Tables),
			"density", fmt.Sprintf("%.3f", page.TextDensity),
			"ocr_candidate", page.OCRCandidate)

		doc.Pages = append(doc.Pages, page)
	}

	doc.Confidence = documentConfidence(doc)
	return doc, nil
}

// extractTokens assembles word tokens from the page's text fragments:
// fragments sharing a baseline merge into words across sub-word gaps.
func (e *Extractor) extractTokens(p pdf.Page, pageNum int, width, height float64) []evidence.Token {
	content := p.Content()
	if len(content.Text) == 0 {
		return nil
	}

	frags := make([]pdf.Text, len(content.Text))
	copy(frags, content.Text)

	var tokens []evidence.Token
	var cur *evidence.Token
	var curEndX, curSize float64

	flush := func() {
		if cur != nil && strings.TrimSpace(cur.Text) != "" {
			cur.Text = strings.TrimSpace(cur.Text)
			tokens = append(tokens, *cur)
		}
		cur = nil
	}

	for _, t := range frags {
		if strings.TrimSpace(t.S) == "" {
			flush()
			continue
		}
		box := evidence.BoundingBox{
			X0: t.X, Y0: t.Y, X1: t.X + t.W, Y1: t.Y + t.FontSize,
			PageWidth: width, PageHeight: height,
		}
		sameLine := cur != nil && abs(cur.BBox.Y0-t.Y) <= lineYTolerance
		gap := t.X - curEndX
		maxGap := wordGapFactor * curSize
		if curSize == 0 {
			maxGap = wordGapFactor * t.FontSize
		}

		if sameLine && gap >= -0.5 && gap <= maxGap {
			cur.Text += t.S
			cur.BBox = cur.BBox.Union(box)
		} else {
			flush()
			cur = &evidence.Token{
				Text:       t.S,
				BBox:       box,
				Page:       pageNum,
				Confidence: nativeTextConfidence,
				Mode:       evidence.ModeText,
			}
		}
		curEndX = t.X + t.W
		curSize = t.FontSize
	}
	flush()

	return tokens
}

// textDensity is covered token area over page area.
func textDensity(page *evidence.PageEvidence) float64 {
	pageArea := page.Width * page.Height
	if pageArea <= 0 {
		return 0
	}
	covered := 0.0
	for _, tok := range page.Tokens {
		covered += tok.BBox.Area()
	}
	d := covered / pageArea
	if d > 1 {
		d = 1
	}
	return d
}

func pageText(page *evidence.PageEvidence) string {
	var b strings.Builder
	for _, tok := range page.Tokens {
		b.WriteString(tok.Text)
		b.WriteByte(' ')
	}
	return b.String()
}

// documentConfidence averages detected table confidences; a document with no
// tables at all reports 0.
func documentConfidence(doc *evidence.DocumentEvidence) float64 {
	sum, n := 0.0, 0
	for _, page := range doc.Pages {
		for _, table := range page.Tables {
			sum += table.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
