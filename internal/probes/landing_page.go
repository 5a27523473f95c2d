package probes

import (
	"context"
	"fmt"

	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/warehouse"
)

const (
	// landingCTRStableBandPct: CTR must hold within this band for the
	// drop to be attributable downstream of the click.
	landingCTRStableBandPct = 10.0
	// landingCVRDropThresholdPct: conversion-rate drop that indicates a
	// funnel problem.
	landingCVRDropThresholdPct = -30.0
)

// landingPageProbe looks for a stable upstream CTR paired with a sharp
// drop in downstream conversion rate: the ad still earns clicks, the
// page stopped converting them.
type landingPageProbe struct {
	store warehouse.Store
}

func (p *landingPageProbe) Name() string { return NameLandingPage }

func (p *landingPageProbe) Description() string {
	return "Detects stable CTR paired with a sharp conversion-rate drop, indicating a landing page or funnel issue."
}

func (p *landingPageProbe) Run(ctx context.Context, tenant, adID string, windowDays int) (domain.Evidence, error) {
	records, err := p.store.FetchAdDaily(ctx, tenant, adID, windowDays)
	if err != nil {
		return domain.Evidence{}, probeErr(NameLandingPage, err)
	}

	from, to := recordsSpan(records)
	ev := evidence(NameLandingPage, from, to)
	if len(records) < 5 {
		return inconclusive(ev, "not enough daily history to compare funnel rates"), nil
	}

	n := len(records)
	recent := records[n-3:]
	prior := records[:n-3]
	if len(prior) > 7 {
		prior = prior[len(prior)-7:]
	}

	recCTR, recClicks, recConv := funnelRates(recent)
	priCTR, priClicks, priConv := funnelRates(prior)

	// CVR is conversions per click. Absent conversion data in the
	// baseline means the check cannot decide.
	if priClicks == 0 {
		return inconclusive(ev, "no click data in the baseline period; conversion rate undefined"), nil
	}
	priCVR := priConv / priClicks
	if priCVR == 0 {
		return inconclusive(ev, "no baseline conversions; conversion rate change undefined"), nil
	}
	recCVR := 0.0
	if recClicks > 0 {
		recCVR = recConv / recClicks
	}

	ctrChange := pctChange(recCTR, priCTR)
	cvrChange := pctChange(recCVR, priCVR)

	ev.Measurements["ctr_change_pct"] = ctrChange
	ev.Measurements["cvr_change_pct"] = cvrChange
	ev.Measurements["current_cvr"] = recCVR
	ev.Measurements["baseline_cvr"] = priCVR

	ctrStable := abs(ctrChange) < landingCTRStableBandPct
	cvrDropped := cvrChange < landingCVRDropThresholdPct
	ev.Fired = ctrStable && cvrDropped
	if ev.Fired {
		ev.Severity = domain.SeveritySignificant
		if cvrChange < -50 {
			ev.Severity = domain.SeverityExtreme
		}
	}
	ev.Interpretation = fmt.Sprintf(
		"CTR %s (%+.1f%%), conversion rate %+.1f%%. %s",
		map[bool]string{true: "stable", false: "moved"}[ctrStable], ctrChange, cvrChange,
		map[bool]string{true: "Landing page issue: clicks fine, conversions down", false: "Funnel looks normal"}[ev.Fired],
	)
	return ev, nil
}

// funnelRates returns (spend-weighted CTR, total clicks, total
// conversions) over a slice of daily records.
func funnelRates(records []domain.AdRecord) (ctr, clicks, conversions float64) {
	var weighted, weight float64
	for _, r := range records {
		if r.Spend > 0 && r.Impressions > 0 {
			weighted += r.CTR * r.Spend
			weight += r.Spend
		}
		clicks += float64(r.Clicks)
		conversions += float64(r.Conversions)
	}
	if weight > 0 {
		ctr = weighted / weight
	}
	return ctr, clicks, conversions
}
