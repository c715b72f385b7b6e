// Package classification assigns a statement type to each detected table
// region. Scoring is deterministic keyword counting; an optional LLM assist
// may break unknown ties when enabled, and is always recorded in the audit
// rationale rather than trusted silently.
package classification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudflare/ahocorasick"
	"github.com/google/uuid"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
)

const (
	hintConfidence    = 0.95
	unknownConfidence = 0.3
	maxConfidence     = 0.95
)

var incomeKeywords = []string{
	"revenue", "net sales", "cost of goods sold", "cost of sales",
	"gross profit", "operating expenses", "operating income",
	"income tax", "net income", "earnings per share", "gross margin",
}

var balanceKeywords = []string{
	"total assets", "total liabilities", "stockholders equity",
	"shareholders equity", "accounts receivable", "accounts payable",
	"current assets", "current liabilities", "retained earnings",
	"inventory", "balance sheet",
}

var cashFlowKeywords = []string{
	"operating activities", "investing activities", "financing activities",
	"net change in cash", "cash flows", "depreciation and amortization",
	"capital expenditures", "beginning of period", "end of period",
}

// Classifier scores tables against the three keyword sets with a single
// aho-corasick pass per set. Stateless apart from the prebuilt matchers,
// so one instance is safe across concurrent runs.
type Classifier struct {
	logger  *slog.Logger
	income  *ahocorasick.Matcher
	balance *ahocorasick.Matcher
	cash    *ahocorasick.Matcher
	assist  LLMAssist // nil unless LLM classification is enabled
}

// NewClassifier prebuilds the keyword matchers.
func NewClassifier(logger *slog.Logger, assist LLMAssist) *Classifier {
	return &Classifier{
		logger:  logger,
		income:  ahocorasick.NewStringMatcher(incomeKeywords),
		balance: ahocorasick.NewStringMatcher(balanceKeywords),
		cash:    ahocorasick.NewStringMatcher(cashFlowKeywords),
		assist:  assist,
	}
}

// Classify produces one StatementSection per table and tags the region with
// the winning type (the single mutation point on TableRegion). A non-empty
// hint overrides scoring entirely. This stage never fails; the worst case is
// a low-confidence unknown section recorded as an audit warning by the
// orchestrator.
func (c *Classifier) Classify(ctx context.Context, doc *evidence.DocumentEvidence, hint evidence.StatementType) []evidence.StatementSection {
	var sections []evidence.StatementSection

	for _, page := range doc.Pages {
		for _, table := range page.Tables {
			section := c.classifyTable(ctx, doc.Filename, table, hint)
			table.StatementType = section.Type
			sections = append(sections, section)
		}
	}
	return sections
}

func (c *Classifier) classifyTable(ctx context.Context, filename string, table *evidence.TableRegion, hint evidence.StatementType) evidence.StatementSection {
	section := evidence.StatementSection{
		ID:            uuid.NewString(),
		SourceTableID: table.ID,
		SourcePDF:     filename,
		Page:          table.Page,
		RowStart:      0,
		RowEnd:        len(table.Rows) - 1,
	}

	if hint != evidence.StatementUnknown && hint != "" {
		section.Type = hint
		section.Confidence = hintConfidence
		section.Method = "hint"
		section.Rationale = fmt.Sprintf("user-supplied statement type %q overrides keyword scoring", hint)
		return section
	}

	text := strings.ToLower(table.ConcatenatedText())
	scores := map[evidence.StatementType]int{
		evidence.StatementIncome:   scoreSet(text, c.income, incomeKeywords),
		evidence.StatementBalance:  scoreSet(text, c.balance, balanceKeywords),
		evidence.StatementCashFlow: scoreSet(text, c.cash, cashFlowKeywords),
	}

	winner, score, tie := bestScore(scores)
	if score == 0 || tie {
		section.Type = evidence.StatementUnknown
		section.Confidence = unknownConfidence
		section.Method = "keyword"
		section.Rationale = fmt.Sprintf("keyword scores inconclusive (income=%d balance=%d cash_flow=%d)",
			scores[evidence.StatementIncome], scores[evidence.StatementBalance], scores[evidence.StatementCashFlow])
		return c.maybeAssist(ctx, text, section)
	}

	section.Type = winner
	section.Confidence = confidenceForScore(score)
	section.Method = "keyword"
	section.Rationale = fmt.Sprintf("%d %s keywords (income=%d balance=%d cash_flow=%d)",
		score, winner,
		scores[evidence.StatementIncome], scores[evidence.StatementBalance], scores[evidence.StatementCashFlow])
	return section
}

// maybeAssist consults the LLM only for unknowns, and only when configured.
// The assist can upgrade an unknown to a concrete type but its answer is
// capped below keyword confidence and its rationale is preserved.
func (c *Classifier) maybeAssist(ctx context.Context, text string, section evidence.StatementSection) evidence.StatementSection {
	if c.assist == nil {
		return section
	}
	t, rationale, err := c.assist.ClassifyStatement(ctx, text)
	if err != nil {
		c.logger.Warn("llm classification assist failed", "error", err)
		section.Rationale += "; llm assist failed: " + err.Error()
		return section
	}
	if t == evidence.StatementUnknown {
		section.Rationale += "; llm assist also inconclusive"
		return section
	}
	section.Type = t
	section.Confidence = 0.5
	section.Method = "llm"
	section.Rationale += "; llm assist: " + rationale
	return section
}

// scoreSet totals keyword occurrences: one aho-corasick pass identifies the
// keywords present, then each present keyword contributes its occurrence
// count.
func scoreSet(text string, matcher *ahocorasick.Matcher, keywords []string) int {
	total := 0
	for _, idx := range matcher.Match([]byte(text)) {
		if idx >= 0 && idx < len(keywords) {
			total += strings.Count(text, keywords[idx])
		}
	}
	return total
}

// confidenceForScore implements min(0.5 + 0.1*score, 0.95).
func confidenceForScore(score int) float64 {
	c := 0.5 + 0.1*float64(score)
	if c > maxConfidence {
		return maxConfidence
	}
	return c
}

// bestScore returns the highest-scoring type, its score, and whether the top
// score is shared. Iteration is over a fixed order so results are stable.
func bestScore(scores map[evidence.StatementType]int) (evidence.StatementType, int, bool) {
	order := []evidence.StatementType{evidence.StatementIncome, evidence.StatementBalance, evidence.StatementCashFlow}
	best := evidence.StatementUnknown
	bestN := 0
	tie := false
	for _, t := range order {
		n := scores[t]
		switch {
		case n > bestN:
			best, bestN, tie = t, n, false
		case n == bestN && n > 0:
			tie = true
		}
	}
	return best, bestN, tie
}
