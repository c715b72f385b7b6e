// Package engine orchestrates the full pipeline: extract, classify,
// normalize, map, validate, write back, audit. The engine owns the run's
// state machine and the append-only audit ledger; every stage reports into
// the ledger and no stage reaches around it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/finsheet/statement-mapper/internal/domain/classification"
	"github.com/finsheet/statement-mapper/internal/domain/evidence"
	"github.com/finsheet/statement-mapper/internal/domain/extraction"
	"github.com/finsheet/statement-mapper/internal/domain/mapping"
	"github.com/finsheet/statement-mapper/internal/domain/match"
	"github.com/finsheet/statement-mapper/internal/domain/normalization"
	"github.com/finsheet/statement-mapper/internal/domain/report"
	"github.com/finsheet/statement-mapper/internal/domain/validation"
	"github.com/finsheet/statement-mapper/internal/domain/writeback"
)

const (
	defaultMinConfidence    = 0.30
	defaultAutoMapThreshold = 0.70
	defaultOutputPattern    = "{template_name}_mapped.xlsx"
)

// Options configures one engine run.
type Options struct {
	TemplatePath string
	PDFPaths     []string

	// StatementType is an optional classification hint; "" means auto-detect.
	StatementType string

	// TargetPeriod restricts mapping to one normalized period key.
	// Ignored when AutoDetectPeriods is set.
	TargetPeriod      string
	AutoDetectPeriods bool

	MinConfidence    float64 // facts below this never map; 0 means default
	AutoMapThreshold float64 // postings below this are flagged; 0 means default
	SkipValidation   bool

	UseLLMClassification bool
	LLMModel             string
	AnthropicAPIKey      string

	// MatchingRulesPath overrides the embedded category table.
	MatchingRulesPath string

	// OutputFilenamePattern supports {template_name}, {statement_type} and
	// {run_id}; relative patterns resolve next to the template.
	OutputFilenamePattern string
}

func (o *Options) setDefaults() {
	if o.MinConfidence == 0 {
		o.MinConfidence = defaultMinConfidence
	}
	if o.AutoMapThreshold == 0 {
		o.AutoMapThreshold = defaultAutoMapThreshold
	}
	if o.OutputFilenamePattern == "" {
		o.OutputFilenamePattern = defaultOutputPattern
	}
}

// Engine wires every pipeline stage against one shared matcher and logger.
type Engine struct {
	logger     *slog.Logger
	opts       Options
	matcher    *match.Matcher
	extractor  *extraction.Extractor
	classifier *classification.Classifier
	normalizer *normalization.Normalizer
	profiler   *mapping.Profiler
	resolver   *mapping.Resolver
	reconciler *validation.Reconciler
	writer     *writeback.Writer
	reporter   *report.Generator
}

// New builds an engine for one run's options. Rules load once here; every
// stage that matches labels shares the same matcher instance.
func New(logger *slog.Logger, opts Options) (*Engine, error) {
	opts.setDefaults()

	rules, err := loadRules(opts.MatchingRulesPath)
	if err != nil {
		return nil, err
	}
	matcher := match.NewMatcher(rules)

	var assist classification.LLMAssist
	if opts.UseLLMClassification {
		if opts.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("llm classification requested without an api key")
		}
		assist = classification.NewAnthropicAssist(opts.AnthropicAPIKey, opts.LLMModel)
	}

	return &Engine{
		logger:     logger,
		opts:       opts,
		matcher:    matcher,
		extractor:  extraction.NewExtractor(logger),
		classifier: classification.NewClassifier(logger, assist),
		normalizer: normalization.NewNormalizer(logger, matcher),
		profiler:   mapping.NewProfiler(logger),
		resolver:   mapping.NewResolver(logger, matcher),
		reconciler: validation.NewReconciler(logger, matcher),
		writer:     writeback.NewWriter(logger),
		reporter:   report.NewGenerator(logger),
	}, nil
}

func loadRules(path string) (*match.Rules, error) {
	if path != "" {
		return match.LoadRules(path)
	}
	return match.DefaultRules()
}

// Run executes the pipeline end to end. It never panics outward: a panicked
// stage is recorded as a fatal exception and surfaced as a failed result.
// Reconciliation failures and writeback skips degrade the result but do not
// stop it; only unreadable inputs and template/workbook I/O abort the run.
func (e *Engine) Run(ctx context.Context) (result *evidence.RunResult) {
	runID := uuid.NewString()
	audit := evidence.NewRunAudit(runID, e.opts.TemplatePath, e.opts.PDFPaths)
	state := evidence.StateExtracting

	defer func() {
		if r := recover(); r != nil {
			audit.Fatal(state, "panic", fmt.Sprint(r), string(debug.Stack()))
			audit.Transition(state, evidence.StateFailed, "panic")
			audit.FinishedAt = time.Now().UTC()
			result = e.failedResult(runID, audit, fmt.Sprintf("panic in %s: %v", state, r))
		}
	}()

	e.logger.Info("run starting", "run_id", runID,
		"template", e.opts.TemplatePath, "pdfs", len(e.opts.PDFPaths))

	// Extract. Any unreadable input aborts before a single cell is touched.
	docs, err := e.extract(audit)
	if err != nil {
		audit.Transition(state, evidence.StateFailed, err.Error())
		return e.failedResult(runID, audit, err.Error())
	}
	if len(docs) == 0 {
		audit.Transition(state, evidence.StateFailed, "no readable input documents")
		return e.failedResult(runID, audit, "no readable input documents")
	}

	// Classify.
	state = e.transition(audit, state, evidence.StateClassifying,
		fmt.Sprintf("%d documents extracted", len(docs)))
	hint, _ := evidence.ParseStatementType(e.opts.StatementType)
	for _, doc := range docs {
		audit.Sections = append(audit.Sections, e.classifier.Classify(ctx, doc, hint)...)
	}

	// Normalize.
	state = e.transition(audit, state, evidence.StateNormalizing,
		fmt.Sprintf("%d sections classified", len(audit.Sections)))
	norm := e.normalizer.Normalize(docs, audit.Sections)
	audit.Facts = norm.Facts
	audit.Periods = norm.Periods
	audit.Scales = norm.Scales
	for _, w := range norm.Warnings {
		audit.Warn(state, "normalization", w)
	}

	// Map.
	state = e.transition(audit, state, evidence.StateMapping,
		fmt.Sprintf("%d facts normalized", len(norm.Facts)))
	profile, err := e.profiler.Profile(e.opts.TemplatePath)
	if err != nil {
		audit.Error(state, "template", err.Error())
		audit.Transition(state, evidence.StateFailed, "template profiling failed")
		return e.failedResult(runID, audit, err.Error())
	}
	targetPeriod := e.opts.TargetPeriod
	if e.opts.AutoDetectPeriods {
		targetPeriod = ""
	}
	mapped := e.resolver.Resolve(norm.Facts, profile, mapping.Options{
		MinConfidence:    e.opts.MinConfidence,
		AutoMapThreshold: e.opts.AutoMapThreshold,
		TargetPeriod:     targetPeriod,
	})
	audit.Postings = mapped.Postings
	audit.UnmappedFacts = mapped.UnmappedFacts
	audit.UnmatchedItems = mapped.UnmatchedItems

	// Validate. Advisory: failed checks become exceptions, never aborts.
	state = e.transition(audit, state, evidence.StateValidating,
		fmt.Sprintf("%d cells resolved", len(mapped.Postings)))
	if e.opts.SkipValidation {
		audit.Reconciliation = evidence.ReconciliationResult{Passed: true}
	} else {
		audit.Reconciliation = e.reconciler.Reconcile(mappedFacts(norm.Facts, mapped.Postings))
		for _, check := range audit.Reconciliation.Checks {
			if check.Skipped || check.Passed {
				continue
			}
			msg := fmt.Sprintf("%s (%s): expected %s, got %s",
				check.Name, check.PeriodKey, check.Expected.String(), check.Actual.String())
			if check.Severity == evidence.SeverityError {
				audit.Error(state, "reconciliation", msg)
			} else {
				audit.Warn(state, "reconciliation", msg)
			}
		}
	}

	// Write back. Runs only after every input is mapped and validated.
	state = e.transition(audit, state, evidence.StateWritingBack, "")
	outputPath := writeback.OutputPath(
		e.opts.OutputFilenamePattern, e.opts.TemplatePath, e.dominantType(audit), runID)
	written, err := e.writer.Write(e.opts.TemplatePath, outputPath, mapped.Postings)
	if err != nil {
		audit.Error(state, "writeback", err.Error())
		audit.Transition(state, evidence.StateFailed, "writeback failed")
		return e.failedResult(runID, audit, err.Error())
	}
	for _, skip := range written.Skipped {
		audit.Warn(state, "writeback_skip", fmt.Sprintf("%s: %s", skip.Ref, skip.Reason))
	}

	// Audit sheet.
	state = e.transition(audit, state, evidence.StateGeneratingAudit,
		fmt.Sprintf("%d cells written", written.CellsWritten))
	audit.FinishedAt = time.Now().UTC()
	if err := e.reporter.Write(outputPath, audit); err != nil {
		audit.Error(state, "audit_report", err.Error())
		audit.Transition(state, evidence.StateFailed, "audit report failed")
		return e.failedResult(runID, audit, err.Error())
	}

	needsReview := 0
	for _, p := range mapped.Postings {
		if p.NeedsReview {
			needsReview++
		}
	}

	e.transition(audit, state, evidence.StateDone, "")
	result = &evidence.RunResult{
		Success:              true,
		RunID:                runID,
		OutputPath:           outputPath,
		Audit:                audit,
		TotalFactsExtracted:  len(norm.Facts),
		FactsMapped:          len(norm.Facts) - len(mapped.UnmappedFacts),
		CellsPosted:          written.CellsWritten,
		NeedsReview:          needsReview,
		ReconciliationPassed: audit.Reconciliation.Passed,
		ConfidenceLevel:      overallConfidence(mapped.Postings),
	}
	e.logger.Info("run complete", "run_id", runID, "output", outputPath,
		"facts", result.TotalFactsExtracted, "posted", result.CellsPosted,
		"confidence", string(result.ConfidenceLevel))
	return result
}

// extract reads every input PDF. One unreadable file fails the whole run:
// a partial mapping over a subset of the inputs would look complete in the
// output workbook, so nothing is written instead.
func (e *Engine) extract(audit *evidence.RunAudit) ([]*evidence.DocumentEvidence, error) {
	var docs []*evidence.DocumentEvidence
	for _, path := range e.opts.PDFPaths {
		doc, err := e.extractor.ExtractDocument(path)
		if err != nil {
			audit.Error(evidence.StateExtracting, "extraction",
				fmt.Sprintf("%s: %v", path, err))
			return nil, fmt.Errorf("extract %s: %w", path, err)
		}
		docs = append(docs, doc)
		for _, page := range doc.Pages {
			if page.OCRCandidate {
				audit.Warn(evidence.StateExtracting, "ocr_candidate",
					fmt.Sprintf("%s page %d has a sparse text layer", path, page.Number))
			}
		}
	}
	audit.Documents = docs
	return docs, nil
}

func (e *Engine) transition(audit *evidence.RunAudit, from, to evidence.RunState, note string) evidence.RunState {
	audit.Transition(from, to, note)
	e.logger.Debug("state transition", "from", string(from), "to", string(to), "note", note)
	return to
}

func (e *Engine) failedResult(runID string, audit *evidence.RunAudit, msg string) *evidence.RunResult {
	e.logger.Error("run failed", "run_id", runID, "error", msg)
	return &evidence.RunResult{
		RunID:               runID,
		Audit:               audit,
		TotalFactsExtracted: len(audit.Facts),
		ErrorMessage:        msg,
		ConfidenceLevel:     evidence.ConfidenceVeryLow,
	}
}

// dominantType picks the statement type used in output filenames: the
// explicit hint when given, otherwise the most common classified section
// type.
func (e *Engine) dominantType(audit *evidence.RunAudit) evidence.StatementType {
	if t, ok := evidence.ParseStatementType(e.opts.StatementType); ok {
		return t
	}
	counts := make(map[evidence.StatementType]int)
	for _, s := range audit.Sections {
		if s.Type != evidence.StatementUnknown {
			counts[s.Type]++
		}
	}
	best := evidence.StatementUnknown
	bestCount := 0
	for _, t := range []evidence.StatementType{evidence.StatementIncome, evidence.StatementBalance, evidence.StatementCashFlow} {
		if counts[t] > bestCount {
			best, bestCount = t, counts[t]
		}
	}
	return best
}

// mappedFacts restricts reconciliation to facts that actually reached a
// posting. Facts filtered out during mapping (wrong period, low confidence,
// no template row) must not fail identities the output never asserts.
func mappedFacts(facts []evidence.NormalizedFact, postings []evidence.CellPosting) []evidence.NormalizedFact {
	posted := make(map[string]bool)
	for _, p := range postings {
		for _, id := range p.FactIDs {
			posted[id] = true
		}
	}
	var out []evidence.NormalizedFact
	for _, f := range facts {
		if posted[f.ID] {
			out = append(out, f)
		}
	}
	return out
}

// overallConfidence averages posting confidence into the run-level band.
func overallConfidence(postings []evidence.CellPosting) evidence.ConfidenceLevel {
	if len(postings) == 0 {
		return evidence.ConfidenceVeryLow
	}
	sum := 0.0
	for _, p := range postings {
		sum += p.Confidence
	}
	return evidence.BandConfidence(sum / float64(len(postings)))
}
