package rca

import (
	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/probes"
)

// Resolve turns accumulated evidence into a verdict. The mapping is
// deterministic code, never the model: the first fired probe in the
// decision-table preference order wins; probes outside the preference
// list are considered after it in catalog order, so a seasonality match
// that is the only firing yields SEASONALITY. When nothing fired, a
// zero-ROAS anomaly whose tracking evidence shows clicks and no
// conversions in the last 48 hours yields TRACKING with HIGH confidence;
// otherwise the verdict is UNKNOWN with LOW confidence.
func Resolve(anomaly domain.Anomaly, evidence []domain.Evidence, preferred []string, catalogOrder []string) domain.RootCauseVerdict {
	verdict := domain.RootCauseVerdict{
		AdID:     anomaly.Ad.AdID,
		Metric:   anomaly.Metric,
		Evidence: evidence,
	}

	byProbe := make(map[string]domain.Evidence, len(evidence))
	for _, ev := range evidence {
		byProbe[ev.Probe] = ev
	}

	order := append(append([]string{}, preferred...), catalogOrder...)
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true
		ev, ok := byProbe[name]
		if !ok || !ev.Fired {
			continue
		}
		verdict.Cause = probeCause[name]
		verdict.Confidence = confidenceFor(evidence)
		verdict.SuggestedAction = SuggestedAction(verdict.Cause)
		return verdict
	}

	// Zero reported conversions against live clicks is a tracking
	// signature even when the probe could not certify a historical
	// conversion rate (an ad that never converted has none). The
	// measurement set still tells the story.
	if ev, ok := byProbe[probes.NameTracking]; ok && !ev.Inconclusive {
		if ev.Measurements["clicks_48h"] > 0 && ev.Measurements["conversions_48h"] == 0 && anomaly.Metric == domain.MetricROAS && anomaly.Observed == 0 {
			verdict.Cause = domain.CauseTracking
			verdict.Confidence = domain.ConfidenceHigh
			verdict.SuggestedAction = SuggestedAction(verdict.Cause)
			return verdict
		}
	}

	verdict.Cause = domain.CauseUnknown
	verdict.Confidence = domain.ConfidenceLow
	verdict.SuggestedAction = SuggestedAction(domain.CauseUnknown)
	return verdict
}

// confidenceFor maps the strongest fired evidence to a confidence level:
// extreme measurement severity is HIGH, significant is MEDIUM, anything
// else LOW.
func confidenceFor(evidence []domain.Evidence) domain.Confidence {
	best := domain.ConfidenceLow
	for _, ev := range evidence {
		if !ev.Fired {
			continue
		}
		switch ev.Severity {
		case domain.SeverityExtreme:
			return domain.ConfidenceHigh
		case domain.SeveritySignificant:
			best = domain.ConfidenceMedium
		}
	}
	return best
}
