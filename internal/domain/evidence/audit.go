package evidence

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunState is one orchestrator pipeline state. Transitions are strictly
// forward; Failed is terminal and reachable from any state.
type RunState string

const (
	StateExtracting      RunState = "extracting"
	StateClassifying     RunState = "classifying"
	StateNormalizing     RunState = "normalizing"
	StateMapping         RunState = "mapping"
	StateValidating      RunState = "validating"
	StateWritingBack     RunState = "writing_back"
	StateGeneratingAudit RunState = "generating_audit"
	StateDone            RunState = "done"
	StateFailed          RunState = "failed"
)

// Severity grades audit exceptions.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// AuditException is one recorded warning, error, or fatal failure.
type AuditException struct {
	State    RunState
	Severity Severity
	Category string
	Message  string
	Stack    string // populated only for fatal panics
	At       time.Time
}

// ScaleRecord notes a detected units multiplier and where it was found.
type ScaleRecord struct {
	SourcePDF string
	Page      int
	Scale     ScaleFactor
	Evidence  string // the matched phrase, e.g. "$ in thousands"
}

// StateTransition records one orchestrator state change.
type StateTransition struct {
	From RunState
	To   RunState
	At   time.Time
	Note string
}

// ReconciliationCheck is one accounting-identity check result. Expected and
// Actual are exact decimals; a check passes when
// |expected-actual| <= max(1000, 1% * |expected|).
type ReconciliationCheck struct {
	Name       string
	PeriodKey  string
	Expected   decimal.Decimal
	Actual     decimal.Decimal
	Delta      decimal.Decimal
	DeltaPct   decimal.Decimal
	Severity   Severity
	Passed     bool
	Skipped    bool
	SkipReason string
}

// ReconciliationResult aggregates all identity checks for a run.
type ReconciliationResult struct {
	Checks []ReconciliationCheck
	Passed bool // true iff every executed check passed
}

// RunAudit is the append-only ledger for one engine run. Every pass appends;
// no pass edits or removes another pass's records, so the final audit sheet
// is a complete trace of every decision, including rejected and skipped
// items.
type RunAudit struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	TemplatePath string
	PDFPaths     []string

	Transitions    []StateTransition
	Documents      []*DocumentEvidence
	Sections       []StatementSection
	Scales         []ScaleRecord
	Periods        []PeriodInfo
	Facts          []NormalizedFact
	UnmappedFacts  []string // fact IDs with no template target
	UnmatchedItems []string // template line items no fact matched
	Postings       []CellPosting
	Reconciliation ReconciliationResult
	Exceptions     []AuditException
}

// NewRunAudit starts the ledger for one run.
func NewRunAudit(runID, templatePath string, pdfPaths []string) *RunAudit {
	return &RunAudit{
		RunID:        runID,
		StartedAt:    time.Now().UTC(),
		TemplatePath: templatePath,
		PDFPaths:     pdfPaths,
	}
}

// Transition appends a state change record.
func (a *RunAudit) Transition(from, to RunState, note string) {
	a.Transitions = append(a.Transitions, StateTransition{From: from, To: to, At: time.Now().UTC(), Note: note})
}

// Warn appends a warning-severity exception.
func (a *RunAudit) Warn(state RunState, category, message string) {
	a.Exceptions = append(a.Exceptions, AuditException{
		State: state, Severity: SeverityWarning, Category: category,
		Message: message, At: time.Now().UTC(),
	})
}

// Error appends an error-severity exception. The run still completes.
func (a *RunAudit) Error(state RunState, category, message string) {
	a.Exceptions = append(a.Exceptions, AuditException{
		State: state, Severity: SeverityError, Category: category,
		Message: message, At: time.Now().UTC(),
	})
}

// Fatal appends a fatal exception with an optional stack trace.
func (a *RunAudit) Fatal(state RunState, category, message, stack string) {
	a.Exceptions = append(a.Exceptions, AuditException{
		State: state, Severity: SeverityFatal, Category: category,
		Message: message, Stack: stack, At: time.Now().UTC(),
	})
}

// FactByID resolves a fact id recorded earlier in this run, or nil.
func (a *RunAudit) FactByID(id string) *NormalizedFact {
	for i := range a.Facts {
		if a.Facts[i].ID == id {
			return &a.Facts[i]
		}
	}
	return nil
}

// RunResult is the final outcome handed back to the caller.
type RunResult struct {
	Success              bool
	RunID                string
	OutputPath           string
	Audit                *RunAudit
	TotalFactsExtracted  int
	FactsMapped          int
	CellsPosted          int
	NeedsReview          int // postings below the auto-map threshold
	ReconciliationPassed bool
	ConfidenceLevel      ConfidenceLevel
	ErrorMessage         string
}
