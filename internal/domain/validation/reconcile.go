// Package validation cross-checks normalized facts against the standard
// accounting identities. Reconciliation is advisory: failures are recorded
// with a severity and surfaced in the audit, but they never stop a run.
package validation

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
	"github.com/finsheet/statement-mapper/internal/domain/match"
)

// toleranceFloor is the absolute slack every check gets regardless of
// magnitude; statements rounded to thousands routinely drift by hundreds.
var toleranceFloor = decimal.NewFromInt(1000)

// tolerancePct is the relative slack, 1% of the reported figure.
var tolerancePct = decimal.NewFromFloat(0.01)

// identity is one accounting check: the reported role on the left must equal
// the signed sum of the component roles.
type identity struct {
	name       string
	reported   string
	components []string
	severity   evidence.Severity // severity applied when the check fails
}

var identities = []identity{
	{"gross profit", "gross_profit", []string{"revenue", "cogs"}, evidence.SeverityWarning},
	{"operating income", "operating_income", []string{"gross_profit", "opex"}, evidence.SeverityWarning},
	{"balance sheet", "assets", []string{"liabilities", "equity"}, evidence.SeverityError},
	{"net change in cash", "net_change", []string{"cfo", "cfi", "cff"}, evidence.SeverityWarning},
	{"ending cash", "ending_cash", []string{"beginning_cash", "net_change"}, evidence.SeverityWarning},
}

// Reconciler runs the identity checks over normalized facts.
type Reconciler struct {
	logger  *slog.Logger
	matcher *match.Matcher
}

// NewReconciler wires the shared matcher, which owns the canonical-to-role
// table.
func NewReconciler(logger *slog.Logger, matcher *match.Matcher) *Reconciler {
	return &Reconciler{logger: logger, matcher: matcher}
}

// Reconcile evaluates every identity for every period that has the reported
// figure. A check with any missing component is recorded as skipped, not
// failed. The overall result passes iff every executed check passed.
func (r *Reconciler) Reconcile(facts []evidence.NormalizedFact) evidence.ReconciliationResult {
	byPeriod := r.roleValues(facts)

	periods := make([]string, 0, len(byPeriod))
	for k := range byPeriod {
		periods = append(periods, k)
	}
	sort.Strings(periods)

	result := evidence.ReconciliationResult{Passed: true}
	for _, period := range periods {
		roles := byPeriod[period]
		for _, ident := range identities {
			reported, ok := roles[ident.reported]
			if !ok {
				continue // nothing reported, nothing to check
			}
			check := evidence.ReconciliationCheck{
				Name:      ident.name,
				PeriodKey: period,
				Actual:    reported,
				Severity:  ident.severity,
			}

			expected := decimal.Zero
			missing := ""
			for _, role := range ident.components {
				v, ok := roles[role]
				if !ok {
					missing = role
					break
				}
				expected = expected.Add(v)
			}
			if missing != "" {
				check.Skipped = true
				check.SkipReason = fmt.Sprintf("no %s fact for %s", missing, period)
				result.Checks = append(result.Checks, check)
				continue
			}

			check.Expected = expected
			check.Delta = reported.Sub(expected)
			if !expected.IsZero() {
				check.DeltaPct = check.Delta.Div(expected.Abs()).Mul(decimal.NewFromInt(100))
			}
			tolerance := decimal.Max(toleranceFloor, expected.Abs().Mul(tolerancePct))
			check.Passed = check.Delta.Abs().LessThanOrEqual(tolerance)
			if !check.Passed {
				result.Passed = false
				r.logger.Warn("reconciliation check failed",
					"check", ident.name, "period", period,
					"expected", expected.String(), "actual", reported.String(),
					"delta", check.Delta.String(), "severity", string(ident.severity))
			}
			result.Checks = append(result.Checks, check)
		}
	}

	r.logger.Info("reconciliation complete", "checks", len(result.Checks), "passed", result.Passed)
	return result
}

// roleValues folds facts into one value per (period, role). When several
// facts share a role and period the highest Seq wins, the same recency rule
// conflict resolution uses for cells.
func (r *Reconciler) roleValues(facts []evidence.NormalizedFact) map[string]map[string]decimal.Decimal {
	type slot struct {
		value decimal.Decimal
		seq   int
	}
	latest := make(map[string]map[string]slot)
	for _, f := range facts {
		if f.CanonicalLabel == "" || !f.Period.Resolved {
			continue
		}
		role := r.matcher.RoleOf(f.CanonicalLabel)
		if role == "" {
			continue
		}
		if latest[f.Period.Key] == nil {
			latest[f.Period.Key] = make(map[string]slot)
		}
		if cur, ok := latest[f.Period.Key][role]; !ok || f.Seq > cur.seq {
			latest[f.Period.Key][role] = slot{value: f.Value, seq: f.Seq}
		}
	}

	out := make(map[string]map[string]decimal.Decimal, len(latest))
	for period, roles := range latest {
		out[period] = make(map[string]decimal.Decimal, len(roles))
		for role, s := range roles {
			out[period][role] = s.value
		}
	}
	return out
}
