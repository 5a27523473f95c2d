package probes

import (
	"context"
	"fmt"

	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/warehouse"
)

// trackingProbe fires when the ad earns clicks over a trailing 48-hour
// window, reports zero conversions, and historically did convert. That
// signature is a broken pixel, not a broken ad.
type trackingProbe struct {
	store warehouse.Store
}

func (p *trackingProbe) Name() string { return NameTracking }

func (p *trackingProbe) Description() string {
	return "Flags broken conversion tracking: recent clicks with zero conversions on an ad that historically converted."
}

func (p *trackingProbe) Run(ctx context.Context, tenant, adID string, windowDays int) (domain.Evidence, error) {
	records, err := p.store.FetchAdDaily(ctx, tenant, adID, windowDays)
	if err != nil {
		return domain.Evidence{}, probeErr(NameTracking, err)
	}

	from, to := recordsSpan(records)
	ev := evidence(NameTracking, from, to)
	if len(records) == 0 {
		return inconclusive(ev, "no daily history for this ad"), nil
	}

	// Trailing 48 hours = last 2 daily rows; everything earlier is the
	// ad's history.
	split := len(records) - 2
	if split < 0 {
		split = 0
	}
	history, recent := records[:split], records[split:]

	var recentClicks, recentConv int64
	for _, r := range recent {
		recentClicks += r.Clicks
		recentConv += r.Conversions
	}
	var histClicks, histConv int64
	for _, r := range history {
		histClicks += r.Clicks
		histConv += r.Conversions
	}
	histRate := 0.0
	if histClicks > 0 {
		histRate = float64(histConv) / float64(histClicks)
	}

	ev.Measurements["clicks_48h"] = float64(recentClicks)
	ev.Measurements["conversions_48h"] = float64(recentConv)
	ev.Measurements["historical_conversion_rate"] = histRate

	ev.Fired = recentClicks > 0 && recentConv == 0 && histRate > 0
	if ev.Fired {
		// Total conversion absence against converting history is never
		// a partial failure.
		ev.Severity = domain.SeverityExtreme
	}
	ev.Interpretation = fmt.Sprintf(
		"%d clicks and %d conversions in the last 48h; historical conversion rate %.4f. %s",
		recentClicks, recentConv, histRate,
		map[bool]string{true: "Tracking broken: clicks without conversions", false: "Tracking appears functional"}[ev.Fired],
	)
	return ev, nil
}
