// Package baseline computes per-metric account statistics over the
// analysis window: spend-weighted mean, population standard deviation,
// median, contributing count, and a sufficiency flag. Unweighted averages
// of ROAS or CTR are a defect; every mean here is spend-weighted except
// spend itself.
package baseline

import (
	"math"
	"sort"

	"github.com/spendguard/spendguard/internal/domain"
)

// Epsilon below which a metric's spread counts as uniform. A uniform
// metric yields no anomalies regardless of individual values.
const Epsilon = 1e-6

// Engine computes AccountBaselines.
type Engine struct {
	minSampleSize int
}

// NewEngine returns an engine with the given sufficiency threshold.
func NewEngine(minSampleSize int) *Engine {
	return &Engine{minSampleSize: minSampleSize}
}

// Compute builds the account baseline for every monitored metric. Ads
// missing a value for a metric are excluded from that metric's baseline
// but retained for others. A metric with fewer than minSampleSize
// contributing ads is marked insufficient.
func (e *Engine) Compute(summaries []domain.AdSummary, windowDays int) domain.AccountBaseline {
	out := domain.AccountBaseline{
		WindowDays: windowDays,
		Metrics:    make(map[domain.Metric]domain.MetricBaseline, len(domain.Metrics)),
	}
	for _, m := range domain.Metrics {
		out.Metrics[m] = e.computeMetric(m, summaries)
	}
	return out
}

func (e *Engine) computeMetric(m domain.Metric, summaries []domain.AdSummary) domain.MetricBaseline {
	values := make([]float64, 0, len(summaries))
	weights := make([]float64, 0, len(summaries))
	for _, s := range summaries {
		v, ok := s.MetricValue(m)
		if !ok {
			continue
		}
		w := s.Spend
		if m == domain.MetricSpend || w <= 0 {
			// Spend's own baseline is unweighted; zero-spend ads never
			// reach here (the adapter excludes them).
			w = 1
		}
		values = append(values, v)
		weights = append(weights, w)
	}

	mb := domain.MetricBaseline{Metric: m, Count: len(values)}
	if len(values) == 0 {
		return mb
	}

	var sumW, sumWV float64
	for i, v := range values {
		sumW += weights[i]
		sumWV += weights[i] * v
	}
	mb.Mean = sumWV / sumW

	// Population (weighted) standard deviation.
	var sumSq float64
	for i, v := range values {
		d := v - mb.Mean
		sumSq += weights[i] * d * d
	}
	mb.StdDev = math.Sqrt(sumSq / sumW)

	mb.Median = median(values)
	mb.Sufficient = mb.Count >= e.minSampleSize
	return mb
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
