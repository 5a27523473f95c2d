package rca

import (
	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/probes"
)

// decisionTable maps an anomaly metric to the ordered probe preference
// presented to the model. The table is part of the contract the model is
// prompted against; the resolver also uses it for tie-breaking.
var decisionTable = map[domain.Metric][]string{
	domain.MetricROAS:  {probes.NameCPMSpike, probes.NameCreativeFatigue, probes.NameLandingPage, probes.NameTracking},
	domain.MetricSpend: {probes.NameBudgetExhaustion, probes.NameCPMSpike, probes.NameSeasonality},
	domain.MetricCTR:   {probes.NameCreativeFatigue, probes.NameSeasonality},
	domain.MetricCPA:   {probes.NameLandingPage, probes.NameCPMSpike, probes.NameTracking},
	domain.MetricCPM:   {probes.NameCPMSpike, probes.NameSeasonality},
}

// PreferredProbes returns the decision-table order for a metric, falling
// back to the catalog order.
func PreferredProbes(metric domain.Metric, catalog *probes.Catalog) []string {
	if prefs, ok := decisionTable[metric]; ok {
		return prefs
	}
	return catalog.Names()
}

// probeCause maps each probe to the root-cause tag its firing implies.
var probeCause = map[string]domain.RootCause{
	probes.NameCPMSpike:         domain.CauseCPMSpike,
	probes.NameCreativeFatigue:  domain.CauseCreativeFatigue,
	probes.NameLandingPage:      domain.CauseLandingPage,
	probes.NameTracking:         domain.CauseTracking,
	probes.NameBudgetExhaustion: domain.CauseBudgetExhaustion,
	probes.NameSeasonality:      domain.CauseSeasonality,
}

// causeAction is the fixed tag to action-suggestion map.
var causeAction = map[domain.RootCause]string{
	domain.CauseCPMSpike:         "adjust bids or targeting",
	domain.CauseCreativeFatigue:  "refresh creatives",
	domain.CauseLandingPage:      "review landing page and checkout funnel",
	domain.CauseTracking:         "repair conversion tracking",
	domain.CauseBudgetExhaustion: "raise or rebalance budgets",
	domain.CauseSeasonality:      "no action; expected seasonal pattern",
	domain.CauseUnknown:          "manual review",
}

// SuggestedAction returns the fixed action phrase for a cause.
func SuggestedAction(cause domain.RootCause) string {
	return causeAction[cause]
}
