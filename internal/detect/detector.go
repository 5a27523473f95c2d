// Package detect classifies ads as anomalous against the account
// baseline using z-scores and severity bands, then filters to
// business-negative deviations. Detection is pure arithmetic over
// in-memory summaries; repeated runs over the same inputs produce
// identical output.
package detect

import (
	"math"
	"sort"

	"github.com/spendguard/spendguard/internal/baseline"
	"github.com/spendguard/spendguard/internal/domain"
)

// Config tunes detection. Zero values are replaced by the documented
// defaults.
type Config struct {
	ThresholdSigma float64
	MinSpend       float64
	MaxPerMetric   int
}

func (c Config) withDefaults() Config {
	if c.ThresholdSigma <= 0 {
		c.ThresholdSigma = 2.0
	}
	if c.MinSpend <= 0 {
		c.MinSpend = 100
	}
	if c.MaxPerMetric <= 0 {
		c.MaxPerMetric = 50
	}
	return c
}

// severity bands on |z|.
const (
	mildSigma        = 1.5
	significantSigma = 2.0
	extremeSigma     = 3.0
)

// Severity bands a |z| magnitude.
func Severity(absZ float64) (domain.Severity, bool) {
	switch {
	case absZ >= extremeSigma:
		return domain.SeverityExtreme, true
	case absZ >= significantSigma:
		return domain.SeveritySignificant, true
	case absZ >= mildSigma:
		return domain.SeverityMild, true
	}
	return "", false
}

// Detect emits one Anomaly per (ad, metric) whose deviation is at least
// significant and business-negative (or of unknown polarity). Metrics
// with insufficient or uniform baselines emit nothing. Output is ordered
// by descending |z|, ties broken by descending spend, then ad id.
func Detect(summaries []domain.AdSummary, baselines domain.AccountBaseline, cfg Config) []domain.Anomaly {
	cfg = cfg.withDefaults()

	roasMean := math.NaN()
	if rb, ok := baselines.Metrics[domain.MetricROAS]; ok && rb.Sufficient {
		roasMean = rb.Mean
	}

	perMetric := make(map[domain.Metric][]domain.Anomaly)
	for _, m := range domain.Metrics {
		mb, ok := baselines.Metrics[m]
		if !ok || !mb.Sufficient || mb.StdDev <= baseline.Epsilon {
			continue
		}
		for _, s := range summaries {
			if s.Spend < cfg.MinSpend {
				continue
			}
			v, defined := s.MetricValue(m)
			if !defined {
				continue
			}
			z := (v - mb.Mean) / mb.StdDev
			if math.Abs(z) < cfg.ThresholdSigma {
				continue
			}
			sev, _ := Severity(math.Abs(z))
			if sev != domain.SeveritySignificant && sev != domain.SeverityExtreme {
				continue
			}
			dir := domain.DirectionHigh
			if z < 0 {
				dir = domain.DirectionLow
			}
			pol := polarity(m, dir, s, roasMean)
			if pol == domain.PolarityGood {
				continue
			}
			perMetric[m] = append(perMetric[m], domain.Anomaly{
				Ad:        s,
				Metric:    m,
				Observed:  v,
				Baseline:  mb.Mean,
				ZScore:    z,
				Direction: dir,
				Severity:  sev,
				Polarity:  pol,
			})
		}
	}

	var out []domain.Anomaly
	for _, m := range domain.Metrics {
		list := perMetric[m]
		sortAnomalies(list)
		if len(list) > cfg.MaxPerMetric {
			list = list[:cfg.MaxPerMetric]
		}
		out = append(out, list...)
	}
	sortAnomalies(out)
	return out
}

// polarity applies the fixed direction/polarity table. roasMean is the
// account ROAS baseline, used to judge whether a spend spike is waste;
// NaN when the ROAS baseline is unavailable.
func polarity(m domain.Metric, dir domain.Direction, s domain.AdSummary, roasMean float64) domain.Polarity {
	switch m {
	case domain.MetricROAS:
		if dir == domain.DirectionLow {
			return domain.PolarityBad
		}
		return domain.PolarityGood
	case domain.MetricCPA:
		if dir == domain.DirectionHigh {
			return domain.PolarityBad
		}
		return domain.PolarityGood
	case domain.MetricCPM:
		if dir == domain.DirectionHigh {
			return domain.PolarityBad
		}
		return domain.PolarityGood
	case domain.MetricCTR:
		if dir == domain.DirectionLow {
			return domain.PolarityBad
		}
		// A CTR spike is occasionally click fraud; surface it without
		// asserting badness.
		return domain.PolarityUnknown
	case domain.MetricSpend:
		if dir == domain.DirectionLow {
			// Unexpected delivery drop.
			return domain.PolarityBad
		}
		// A spend spike funded at poor ROAS is waste; at healthy ROAS
		// it is intentional scaling.
		if !math.IsNaN(roasMean) && s.ROAS < roasMean {
			return domain.PolarityBad
		}
		if math.IsNaN(roasMean) {
			return domain.PolarityUnknown
		}
		return domain.PolarityGood
	}
	return domain.PolarityUnknown
}

func sortAnomalies(list []domain.Anomaly) {
	sort.SliceStable(list, func(i, j int) bool {
		zi, zj := math.Abs(list[i].ZScore), math.Abs(list[j].ZScore)
		if zi != zj {
			return zi > zj
		}
		if list[i].Ad.Spend != list[j].Ad.Spend {
			return list[i].Ad.Spend > list[j].Ad.Spend
		}
		return list[i].Ad.AdID < list[j].Ad.AdID
	})
}
