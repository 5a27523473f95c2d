package probes

import (
	"context"
	"fmt"

	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/warehouse"
)

// seasonalityBandPct: the current value must sit within this band of a
// historical comparison point for the deviation to count as an expected
// seasonal pattern.
const seasonalityBandPct = 25.0

// seasonalityProbe compares the current value against the same metric
// exactly 7 and 364 days ago. It is the one probe that can declare an
// anomaly NOT an anomaly: matching the historical rhythm is a legitimate
// null result. It never fires when both comparison points are absent.
type seasonalityProbe struct {
	store warehouse.Store
}

func (p *seasonalityProbe) Name() string { return NameSeasonality }

func (p *seasonalityProbe) Description() string {
	return "Compares the current value against the same weekday 7 and 364 days ago to recognize expected seasonal patterns."
}

func (p *seasonalityProbe) Run(ctx context.Context, tenant, adID string, windowDays int) (domain.Evidence, error) {
	// Seasonality needs a year of account history regardless of the
	// analysis window.
	series, err := p.store.FetchAccountDailyTotals(ctx, tenant, domain.MetricROAS, 365)
	if err != nil {
		return domain.Evidence{}, probeErr(NameSeasonality, err)
	}

	from, to := seriesRange(series)
	ev := evidence(NameSeasonality, from, to)
	if len(series) == 0 {
		return inconclusive(ev, "no account history available"), nil
	}

	byDay := make(map[string]float64, len(series))
	for _, pt := range series {
		byDay[pt.Date.Format("2006-01-02")] = pt.Value
	}

	latest := series[len(series)-1].Date
	current := series[len(series)-1].Value
	ev.Measurements["current"] = current

	weekAgo, hasWeek := byDay[latest.AddDate(0, 0, -7).Format("2006-01-02")]
	yearAgo, hasYear := byDay[latest.AddDate(0, 0, -364).Format("2006-01-02")]

	if !hasWeek && !hasYear {
		return inconclusive(ev, "no historical comparison points at 7 or 364 days"), nil
	}

	matched := false
	if hasWeek && weekAgo != 0 {
		dev := pctChange(current, weekAgo)
		ev.Measurements["vs_7d_pct"] = dev
		ev.Measurements["value_7d_ago"] = weekAgo
		if abs(dev) <= seasonalityBandPct {
			matched = true
		}
	}
	if hasYear && yearAgo != 0 {
		dev := pctChange(current, yearAgo)
		ev.Measurements["vs_364d_pct"] = dev
		ev.Measurements["value_364d_ago"] = yearAgo
		if abs(dev) <= seasonalityBandPct {
			matched = true
		}
	}

	ev.Fired = matched
	if ev.Fired {
		ev.Severity = domain.SeveritySignificant
	}
	ev.Interpretation = seasonalityInterpretation(matched, hasWeek, hasYear)
	return ev, nil
}

func seasonalityInterpretation(matched, hasWeek, hasYear bool) string {
	points := "7d"
	if hasWeek && hasYear {
		points = "7d and 364d"
	} else if hasYear {
		points = "364d"
	}
	if matched {
		return fmt.Sprintf("Current value matches the %s-ago pattern within ±%.0f%%. Expected seasonal behavior, not a true anomaly", points, seasonalityBandPct)
	}
	return fmt.Sprintf("Current value diverges from the %s-ago pattern. Not seasonal", points)
}
