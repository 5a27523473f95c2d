package probes

import (
	"context"
	"fmt"

	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/warehouse"
)

// cpmSpikeThresholdPct is the relative CPM increase that counts as a
// spike; twice that counts as extreme.
const cpmSpikeThresholdPct = 25.0

// cpmSpikeProbe compares the mean CPM of the most recent 3 days against
// the prior 7 days. Auction competition shows up here first.
type cpmSpikeProbe struct {
	store warehouse.Store
}

func (p *cpmSpikeProbe) Name() string { return NameCPMSpike }

func (p *cpmSpikeProbe) Description() string {
	return "Compares the last 3 days' mean CPM against the prior 7 days to detect auction cost spikes."
}

func (p *cpmSpikeProbe) Run(ctx context.Context, tenant, adID string, windowDays int) (domain.Evidence, error) {
	lookback := windowDays
	if lookback < 10 {
		lookback = 10
	}
	series, err := p.store.FetchDailySeries(ctx, tenant, adID, domain.MetricCPM, lookback)
	if err != nil {
		return domain.Evidence{}, probeErr(NameCPMSpike, err)
	}

	from, to := seriesRange(series)
	ev := evidence(NameCPMSpike, from, to)
	if len(series) < 4 {
		return inconclusive(ev, "not enough CPM history to compare 3-day vs 7-day means"), nil
	}

	prior, recent := splitRecent(series, 3)
	if len(prior) > 7 {
		prior = prior[len(prior)-7:]
	}
	current := meanOf(recent)
	baselineCPM := meanOf(prior)
	change := pctChange(current, baselineCPM)

	ev.Measurements["current_cpm"] = current
	ev.Measurements["baseline_cpm"] = baselineCPM
	ev.Measurements["change_pct"] = change

	// First day the rolling 3-day mean exceeded 1.25x the rolling
	// 7-day mean, as an offset in days from the series end (0 = the last
	// day in the series).
	if day, found := firstBreachOffset(series); found {
		ev.Measurements["first_breach_days_ago"] = float64(day)
	}

	ev.Fired = change > cpmSpikeThresholdPct
	if ev.Fired {
		ev.Severity = domain.SeveritySignificant
		if change > 2*cpmSpikeThresholdPct {
			ev.Severity = domain.SeverityExtreme
		}
	}
	ev.Interpretation = fmt.Sprintf(
		"CPM %s %.1f%% ($%.2f vs $%.2f prior). %s",
		riseOrFall(change), abs(change), current, baselineCPM,
		map[bool]string{true: "Spiked: auction competition up", false: "CPM within normal range"}[ev.Fired],
	)
	return ev, nil
}

// firstBreachOffset walks the series and finds the earliest index where
// the rolling 3-day mean exceeds 1.25x the rolling 7-day mean, returned
// as days before the series end.
func firstBreachOffset(series []warehouse.SeriesPoint) (int, bool) {
	for i := 9; i < len(series); i++ {
		recent := meanOf(series[i-2 : i+1])
		base := meanOf(series[i-9 : i-2])
		if base > 0 && recent > 1.25*base {
			return len(series) - 1 - i, true
		}
	}
	return 0, false
}

func riseOrFall(change float64) string {
	if change >= 0 {
		return "up"
	}
	return "down"
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
