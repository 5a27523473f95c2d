// Package execute simulates the application of approved recommendations.
// No advertising account is ever touched: the dry-run contract produces a
// deterministic per-recommendation status report, safe to repeat any
// number of times with identical results. The contract admits a live
// mode; this build refuses it.
package execute

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/session"
	"github.com/spendguard/spendguard/internal/warehouse"
)

// Summary aggregates one simulator run.
type Summary struct {
	TotalProcessed int  `json:"total_processed"`
	Success        int  `json:"success"`
	Failed         int  `json:"failed"`
	Skipped        int  `json:"skipped"`
	DryRun         bool `json:"dry_run"`
}

// Simulator applies recommendations per the execution state machine.
type Simulator struct {
	audit warehouse.AuditLogger
}

// NewSimulator wires the simulator; audit may be a NopAudit offline.
func NewSimulator(audit warehouse.AuditLogger) *Simulator {
	if audit == nil {
		audit = warehouse.NopAudit{}
	}
	return &Simulator{audit: audit}
}

// Run processes every recommendation in the session. approved, when
// non-nil, restricts execution: recommendations outside the set end
// SKIPPED. A recommendation whose ad id no longer resolves inside the
// session ends FAILED. With dryRun set every attempted item succeeds
// deterministically.
func (s *Simulator) Run(ctx context.Context, sess *session.Session, approved []string, dryRun bool) ([]domain.ExecutionResult, Summary, error) {
	if !dryRun {
		// Live writes need the advertising platform clients this build
		// does not carry.
		return nil, Summary{}, fmt.Errorf("live execution is not supported: dry_run must be true")
	}

	var approvedSet map[string]bool
	if approved != nil {
		approvedSet = make(map[string]bool, len(approved))
		for _, id := range approved {
			approvedSet[id] = true
		}
	}

	recs := sess.Recommendations()
	results := make([]domain.ExecutionResult, 0, len(recs))
	summary := Summary{DryRun: dryRun}

	for _, rec := range recs {
		res := s.apply(sess, rec, approvedSet, dryRun)
		results = append(results, res)
		summary.TotalProcessed++
		switch res.Status {
		case domain.ExecSuccess:
			summary.Success++
		case domain.ExecFailed:
			summary.Failed++
		case domain.ExecSkipped:
			summary.Skipped++
		}
	}

	if err := s.audit.LogExecution(ctx, sess.Tenant, sess.ID, results, dryRun); err != nil {
		// The audit trail never blocks the report.
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("execution audit write failed")
	}

	return results, summary, nil
}

// apply walks one recommendation through the state machine.
func (s *Simulator) apply(sess *session.Session, rec domain.Recommendation, approvedSet map[string]bool, dryRun bool) domain.ExecutionResult {
	res := domain.ExecutionResult{
		AdID:   rec.AdID,
		AdName: rec.AdName,
		Action: rec.Action,
		DryRun: dryRun,
	}

	if approvedSet != nil && !approvedSet[rec.AdID] {
		res.Status = domain.ExecSkipped
		res.Message = "not approved"
		return res
	}

	if _, ok := sess.Summary(rec.AdID); !ok {
		res.Status = domain.ExecFailed
		res.Message = fmt.Sprintf("ad %s no longer known to this session", rec.AdID)
		return res
	}

	res.Status = domain.ExecSuccess
	res.Message = describeAction(rec)
	return res
}

func describeAction(rec domain.Recommendation) string {
	switch rec.Action {
	case domain.ActionPause:
		return fmt.Sprintf("[dry run] would pause %s on %s, stopping $%.2f spend", rec.AdID, rec.Provider, rec.CurrentSpend)
	case domain.ActionScale, domain.ActionReduce:
		return fmt.Sprintf("[dry run] would change %s budget %+.0f%%: $%.2f to $%.2f", rec.AdID, rec.ProposedChangePct, rec.CurrentSpend, rec.ProposedNewSpend)
	case domain.ActionRefreshCreative:
		return fmt.Sprintf("[dry run] would flag %s for creative refresh (manual follow-up)", rec.AdID)
	default:
		return fmt.Sprintf("[dry run] no change for %s (%s)", rec.AdID, rec.Action)
	}
}
