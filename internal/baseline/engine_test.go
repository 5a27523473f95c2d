package baseline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendguard/spendguard/internal/domain"
)

func summariesWithROAS(values []float64, spend float64) []domain.AdSummary {
	out := make([]domain.AdSummary, len(values))
	for i, v := range values {
		out[i] = domain.AdSummary{
			AdID:        string(rune('a' + i)),
			Spend:       spend,
			ROAS:        v,
			Impressions: 1000,
			CTR:         1.0,
			CPM:         10,
			DaysActive:  10,
		}
	}
	return out
}

func TestComputeWeightedMean(t *testing.T) {
	// Equal spend weights reduce to the plain mean.
	e := NewEngine(3)
	b := e.Compute(summariesWithROAS([]float64{2, 4, 6}, 100), 30)

	mb := b.Metrics[domain.MetricROAS]
	assert.InDelta(t, 4.0, mb.Mean, 1e-9)
	assert.True(t, mb.Sufficient)
	assert.Equal(t, 3, mb.Count)
}

func TestComputeSpendWeighting(t *testing.T) {
	// A heavy spender dominates the weighted mean: (2*900 + 10*100)/1000.
	e := NewEngine(2)
	summaries := []domain.AdSummary{
		{AdID: "big", Spend: 900, ROAS: 2, Impressions: 100, DaysActive: 5},
		{AdID: "small", Spend: 100, ROAS: 10, Impressions: 100, DaysActive: 5},
	}
	b := e.Compute(summaries, 30)

	assert.InDelta(t, 2.8, b.Metrics[domain.MetricROAS].Mean, 1e-9)
}

func TestSufficiencyFlagBoundary(t *testing.T) {
	tests := []struct {
		name       string
		adCount    int
		minSample  int
		sufficient bool
	}{
		{"one below threshold", 9, 10, false},
		{"exactly threshold", 10, 10, true},
		{"above threshold", 11, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := make([]float64, tt.adCount)
			for i := range values {
				values[i] = float64(i + 1)
			}
			e := NewEngine(tt.minSample)
			b := e.Compute(summariesWithROAS(values, 50), 30)

			mb := b.Metrics[domain.MetricROAS]
			assert.Equal(t, tt.sufficient, mb.Sufficient)
			assert.Equal(t, tt.adCount, mb.Count)
		})
	}
}

func TestMissingMetricExcludedButRetained(t *testing.T) {
	// No conversions: the ad is excluded from the CPA baseline but still
	// contributes to ROAS.
	e := NewEngine(1)
	summaries := []domain.AdSummary{
		{AdID: "a", Spend: 100, ROAS: 3, Conversions: 10, CPA: 10, Impressions: 100, DaysActive: 5},
		{AdID: "b", Spend: 100, ROAS: 5, Conversions: 0, Impressions: 100, DaysActive: 5},
	}
	b := e.Compute(summaries, 30)

	assert.Equal(t, 1, b.Metrics[domain.MetricCPA].Count)
	assert.Equal(t, 2, b.Metrics[domain.MetricROAS].Count)
}

func TestUniformMetricStdDev(t *testing.T) {
	e := NewEngine(2)
	b := e.Compute(summariesWithROAS([]float64{5, 5, 5, 5}, 100), 30)

	mb := b.Metrics[domain.MetricROAS]
	require.True(t, mb.StdDev <= Epsilon)
}

func TestMedian(t *testing.T) {
	assert.InDelta(t, 3, median([]float64{5, 1, 3}), 1e-9)
	assert.InDelta(t, 2.5, median([]float64{4, 1, 2, 3}), 1e-9)
}

func TestPopulationStdDev(t *testing.T) {
	// Population stdev of {2,4,6} is sqrt(8/3).
	e := NewEngine(1)
	b := e.Compute(summariesWithROAS([]float64{2, 4, 6}, 100), 30)

	assert.InDelta(t, math.Sqrt(8.0/3.0), b.Metrics[domain.MetricROAS].StdDev, 1e-9)
}
