package probes

import (
	"context"
	"fmt"

	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/warehouse"
)

// budgetUtilizationThreshold: spend/daily_budget above this over the last
// 3 days means the ad is capped, not underperforming.
const budgetUtilizationThreshold = 0.95

// budgetExhaustionProbe checks whether delivery is constrained by the
// daily budget. Returns inconclusive when the provider reports no budget.
type budgetExhaustionProbe struct {
	store warehouse.Store
}

func (p *budgetExhaustionProbe) Name() string { return NameBudgetExhaustion }

func (p *budgetExhaustionProbe) Description() string {
	return "Checks whether spend is pinned against the daily budget over the last 3 days."
}

func (p *budgetExhaustionProbe) Run(ctx context.Context, tenant, adID string, windowDays int) (domain.Evidence, error) {
	records, err := p.store.FetchAdDaily(ctx, tenant, adID, windowDays)
	if err != nil {
		return domain.Evidence{}, probeErr(NameBudgetExhaustion, err)
	}

	from, to := recordsSpan(records)
	ev := evidence(NameBudgetExhaustion, from, to)
	if len(records) == 0 {
		return inconclusive(ev, "no daily history for this ad"), nil
	}

	recent := records
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	var spend, budget float64
	budgetKnown := false
	for _, r := range recent {
		spend += r.Spend
		if r.DailyBudget != nil {
			budget += *r.DailyBudget
			budgetKnown = true
		}
	}
	if !budgetKnown || budget <= 0 {
		return inconclusive(ev, "daily budget unknown for this ad; utilization undefined"), nil
	}

	utilization := spend / budget
	ev.Measurements["spend_3d"] = spend
	ev.Measurements["budget_3d"] = budget
	ev.Measurements["utilization"] = utilization

	ev.Fired = utilization > budgetUtilizationThreshold
	if ev.Fired {
		ev.Severity = domain.SeveritySignificant
		if utilization > 0.99 {
			ev.Severity = domain.SeverityExtreme
		}
	}
	ev.Interpretation = fmt.Sprintf(
		"Budget %.0f%% utilized over the last 3 days. %s",
		utilization*100,
		map[bool]string{true: "Exhausted: delivery capped by budget", false: "Normal utilization"}[ev.Fired],
	)
	return ev, nil
}
