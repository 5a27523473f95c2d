package probes

import (
	"context"
	"fmt"

	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/warehouse"
)

const (
	// fatigueDeclineThresholdPct: relative CTR decline across the window
	// that counts as fatigue; twice that is extreme.
	fatigueDeclineThresholdPct = 15.0
	// fatigueImpressionFloor: last-3-day impressions must hold at least
	// this share of the series mean, otherwise the decline is a delivery
	// collapse, not fatigue.
	fatigueImpressionFloor = 0.5
)

// creativeFatigueProbe fits a linear slope to the per-day CTR series.
// A sustained CTR slide with stable delivery means the audience has seen
// the creative too many times.
type creativeFatigueProbe struct {
	store warehouse.Store
}

func (p *creativeFatigueProbe) Name() string { return NameCreativeFatigue }

func (p *creativeFatigueProbe) Description() string {
	return "Fits a linear trend to daily CTR and flags sustained decline while impressions stay stable."
}

func (p *creativeFatigueProbe) Run(ctx context.Context, tenant, adID string, windowDays int) (domain.Evidence, error) {
	ctrSeries, err := p.store.FetchDailySeries(ctx, tenant, adID, domain.MetricCTR, windowDays)
	if err != nil {
		return domain.Evidence{}, probeErr(NameCreativeFatigue, err)
	}

	from, to := seriesRange(ctrSeries)
	ev := evidence(NameCreativeFatigue, from, to)
	if len(ctrSeries) < 5 {
		return inconclusive(ev, "not enough CTR history to fit a trend"), nil
	}

	slope, intercept := linearFit(ctrSeries)
	start := intercept
	end := intercept + slope*float64(len(ctrSeries)-1)
	declinePct := 0.0
	if start > 0 {
		declinePct = (start - end) / start * 100
	}

	// Impression stability: last 3 days vs series mean.
	records, err := p.store.FetchAdDaily(ctx, tenant, adID, windowDays)
	if err != nil {
		return domain.Evidence{}, probeErr(NameCreativeFatigue, err)
	}
	var total, last3 float64
	n := len(records)
	for i, r := range records {
		total += float64(r.Impressions)
		if i >= n-3 {
			last3 += float64(r.Impressions)
		}
	}
	meanImpressions := 0.0
	if n > 0 {
		meanImpressions = total / float64(n)
	}
	last3Mean := last3 / 3
	stable := meanImpressions > 0 && last3Mean >= fatigueImpressionFloor*meanImpressions

	ev.Measurements["slope"] = slope
	ev.Measurements["decline_pct"] = declinePct
	ev.Measurements["impressions_last3_mean"] = last3Mean
	ev.Measurements["impressions_series_mean"] = meanImpressions

	ev.Fired = declinePct > fatigueDeclineThresholdPct && stable
	if ev.Fired {
		ev.Severity = domain.SeveritySignificant
		if declinePct > 2*fatigueDeclineThresholdPct {
			ev.Severity = domain.SeverityExtreme
		}
	}
	switch {
	case ev.Fired:
		ev.Interpretation = fmt.Sprintf("CTR declined %.1f%% across the window with stable delivery. Fatigued: refresh creative", declinePct)
	case declinePct > fatigueDeclineThresholdPct:
		ev.Interpretation = fmt.Sprintf("CTR declined %.1f%% but impressions collapsed too; delivery problem rather than fatigue", declinePct)
	default:
		ev.Interpretation = fmt.Sprintf("CTR trend %.1f%% across the window. Creative still performing", -declinePct)
	}
	return ev, nil
}

// linearFit returns the least-squares slope and intercept of value over
// day index.
func linearFit(points []warehouse.SeriesPoint) (slope, intercept float64) {
	n := float64(len(points))
	var sumX, sumY, sumXY, sumXX float64
	for i, p := range points {
		x := float64(i)
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / den
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
