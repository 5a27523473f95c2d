// Package recommend converts classified ads into actionable
// recommendations. The guideline table is the deterministic core; the
// model path may rephrase reasoning but every number it emits is checked
// against source metrics by the ground validator, and the table is the
// degradation target when the model cannot produce grounded output.
package recommend

import (
	"fmt"
	"math"

	"github.com/spendguard/spendguard/internal/domain"
)

// Guideline table thresholds.
const (
	qualifyMinSpend = 1000.0
	qualifyMinDays  = 7
	reduceMinSpend  = 10000.0
	pauseMinSpend   = 5000.0
)

// Classification is one deterministic table outcome.
type Classification struct {
	Action    domain.Action
	ChangePct float64
	Rationale string
}

// ClassifyTable applies the guideline table to one ad. accountMeanROAS
// of 0 (insufficient baseline) pins the ratio at 0 so nothing scales.
func ClassifyTable(s domain.AdSummary, accountMeanROAS float64) Classification {
	if s.Spend < qualifyMinSpend || s.DaysActive < qualifyMinDays {
		return Classification{
			Action: domain.ActionWait,
			Rationale: fmt.Sprintf("Only $%.0f spend across %d active days; too early to judge (needs $%.0f and %d days)",
				s.Spend, s.DaysActive, qualifyMinSpend, qualifyMinDays),
		}
	}

	ratio := 0.0
	if accountMeanROAS > 0 {
		ratio = s.ROAS / accountMeanROAS
	}

	switch {
	case s.ROAS == 0 && s.Spend >= pauseMinSpend:
		return Classification{
			Action:    domain.ActionPause,
			ChangePct: -100,
			Rationale: fmt.Sprintf("ROAS 0.00 on $%.0f spend across %d days; spend returns nothing", s.Spend, s.DaysActive),
		}
	case ratio >= 2.0:
		pct := math.Min(100, math.Max(30, math.Round(ratio*25)))
		return Classification{
			Action:    domain.ActionScale,
			ChangePct: pct,
			Rationale: fmt.Sprintf("ROAS %.2f is %.1fx the account mean %.2f with $%.0f proven spend; scaling headroom", s.ROAS, ratio, accountMeanROAS, s.Spend),
		}
	case ratio >= 1.0:
		return Classification{
			Action:    domain.ActionMonitor,
			Rationale: fmt.Sprintf("ROAS %.2f tracks the account mean %.2f; no intervention warranted", s.ROAS, accountMeanROAS),
		}
	case ratio >= 0.5:
		if s.Spend >= reduceMinSpend {
			return Classification{
				Action:    domain.ActionReduce,
				ChangePct: -30,
				Rationale: fmt.Sprintf("ROAS %.2f is %.1fx the account mean %.2f on $%.0f spend; trimming losses", s.ROAS, ratio, accountMeanROAS, s.Spend),
			}
		}
		return Classification{
			Action:    domain.ActionMonitor,
			Rationale: fmt.Sprintf("ROAS %.2f lags the account mean %.2f but spend $%.0f is below the reduction floor", s.ROAS, accountMeanROAS, s.Spend),
		}
	default:
		if s.Spend >= reduceMinSpend {
			return Classification{
				Action:    domain.ActionReduce,
				ChangePct: -50,
				Rationale: fmt.Sprintf("ROAS %.2f is under half the account mean %.2f on $%.0f spend; cutting hard", s.ROAS, accountMeanROAS, s.Spend),
			}
		}
		return Classification{
			Action:    domain.ActionMonitor,
			Rationale: fmt.Sprintf("ROAS %.2f is weak against the account mean %.2f; spend $%.0f too small to cut yet", s.ROAS, accountMeanROAS, s.Spend),
		}
	}
}

// ApplyVerdictOverride lets a root-cause verdict redirect the table
// outcome where the diagnosis argues for it. The rewritten rationale cites
// the verdict's cause and confidence; the ground validator does not check
// rationale text.
func ApplyVerdictOverride(c Classification, verdict *domain.RootCauseVerdict) Classification {
	if verdict == nil {
		return c
	}
	if verdict.Cause == domain.CauseCreativeFatigue && c.Action == domain.ActionMonitor {
		return Classification{
			Action:    domain.ActionRefreshCreative,
			ChangePct: 0,
			Rationale: fmt.Sprintf("Root cause %s (%s): replacing the creative beats watching it decay. %s", verdict.Cause, verdict.Confidence, c.Rationale),
		}
	}
	if verdict.Cause == domain.CauseSeasonality && (c.Action == domain.ActionReduce || c.Action == domain.ActionPause) {
		return Classification{
			Action:    domain.ActionWait,
			ChangePct: 0,
			Rationale: fmt.Sprintf("Root cause %s (%s): deviation matches the historical rhythm; holding budget. %s", verdict.Cause, verdict.Confidence, c.Rationale),
		}
	}
	return c
}

// PriorityFor orders recommendations for display. It never feeds back
// into action selection.
func PriorityFor(action domain.Action, ratio float64) domain.Priority {
	switch action {
	case domain.ActionPause:
		return domain.PriorityCritical
	case domain.ActionReduce:
		return domain.PriorityHigh
	case domain.ActionScale:
		if ratio >= 3.0 {
			return domain.PriorityHigh
		}
		return domain.PriorityMedium
	case domain.ActionRefreshCreative:
		return domain.PriorityMedium
	}
	return domain.PriorityLow
}

// GradeFor is the derived display grade. Display only.
func GradeFor(action domain.Action) string {
	switch action {
	case domain.ActionScale:
		return "A"
	case domain.ActionMonitor, domain.ActionWait, domain.ActionRefreshCreative:
		return "B"
	case domain.ActionReduce:
		return "C"
	case domain.ActionPause:
		return "D"
	}
	return "B"
}

// RevenueDelta is the expected revenue change of moving spend from cur
// to proposed at the observed ROAS, rounded to the nearest dollar.
func RevenueDelta(currentSpend, newSpend, roas float64) float64 {
	return math.Round((newSpend - currentSpend) * roas)
}

// ConfidenceFor grades a rule-based classification: PAUSE and SCALE at
// 3x the account mean or more are HIGH; other SCALE, REDUCE, and
// REFRESH_CREATIVE are MEDIUM; MONITOR and WAIT are LOW.
func ConfidenceFor(action domain.Action, ratio float64) domain.Confidence {
	switch action {
	case domain.ActionPause:
		return domain.ConfidenceHigh
	case domain.ActionScale:
		if ratio >= 3.0 {
			return domain.ConfidenceHigh
		}
		return domain.ConfidenceMedium
	case domain.ActionReduce:
		return domain.ConfidenceMedium
	case domain.ActionRefreshCreative:
		return domain.ConfidenceMedium
	}
	return domain.ConfidenceLow
}
