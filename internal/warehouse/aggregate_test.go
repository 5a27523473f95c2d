package warehouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendguard/spendguard/internal/domain"
)

var anchor = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

func rec(adID string, daysAgo int, spend, roas float64) domain.AdRecord {
	return domain.AdRecord{
		AdID: adID, AdName: adID, Provider: "meta",
		Date:  anchor.AddDate(0, 0, -daysAgo),
		Spend: spend, ROAS: roas, CTR: 1.0, CPM: 10,
		Impressions: 1000, Clicks: 10, Conversions: 2,
	}
}

func TestBuildSummariesSpendWeightedROAS(t *testing.T) {
	// Two days: 100 @ ROAS 2 and 300 @ ROAS 6. Weighted:
	// (2*100 + 6*300) / 400 = 5.0. The plain mean (4.0) would be wrong.
	records := []domain.AdRecord{
		rec("a", 2, 100, 2),
		rec("a", 1, 300, 6),
	}
	summaries := BuildSummaries(records)

	require.Len(t, summaries, 1)
	s := summaries[0]
	assert.InDelta(t, 5.0, s.ROAS, 1e-9)
	assert.Equal(t, 400.0, s.Spend)
	assert.Equal(t, 2, s.DaysActive)
}

func TestBuildSummariesExcludesZeroSpend(t *testing.T) {
	records := []domain.AdRecord{rec("ghost", 1, 0, 3)}
	assert.Empty(t, BuildSummaries(records))
}

func TestBuildSummariesCPA(t *testing.T) {
	records := []domain.AdRecord{
		rec("a", 2, 100, 2), // 2 conversions
		rec("a", 1, 100, 2), // 2 conversions
	}
	summaries := BuildSummaries(records)

	require.Len(t, summaries, 1)
	assert.InDelta(t, 50.0, summaries[0].CPA, 1e-9, "CPA is window spend over window conversions")
}

func TestBuildSummariesDeterministicOrder(t *testing.T) {
	records := []domain.AdRecord{
		rec("zeta", 1, 100, 2),
		rec("alpha", 1, 100, 2),
		rec("mid", 1, 100, 2),
	}
	summaries := BuildSummaries(records)
	require.Len(t, summaries, 3)
	assert.Equal(t, "alpha", summaries[0].AdID)
	assert.Equal(t, "mid", summaries[1].AdID)
	assert.Equal(t, "zeta", summaries[2].AdID)
}

func TestBuildSummariesActiveSpan(t *testing.T) {
	records := []domain.AdRecord{
		rec("a", 9, 100, 2),
		rec("a", 1, 100, 2),
	}
	s := BuildSummaries(records)[0]
	assert.Equal(t, anchor.AddDate(0, 0, -9), s.FirstActive)
	assert.Equal(t, anchor.AddDate(0, 0, -1), s.LastActive)
}

func TestDailySeriesOrdering(t *testing.T) {
	records := []domain.AdRecord{
		rec("a", 1, 100, 4),
		rec("a", 3, 100, 2),
		rec("a", 2, 100, 3),
	}
	series := DailySeries(records, domain.MetricROAS)

	require.Len(t, series, 3)
	assert.True(t, series[0].Date.Before(series[1].Date))
	assert.True(t, series[1].Date.Before(series[2].Date))
	assert.Equal(t, 2.0, series[0].Value)
	assert.Equal(t, 4.0, series[2].Value)
}

func TestDailySeriesSkipsUndefinedMetric(t *testing.T) {
	r := rec("a", 1, 100, 2)
	r.Impressions = 0
	series := DailySeries([]domain.AdRecord{r}, domain.MetricCTR)
	assert.Empty(t, series, "CTR is undefined without impressions")
}

func TestAccountDailyTotals(t *testing.T) {
	// Same day, two ads: spend sums, ROAS weights by spend.
	records := []domain.AdRecord{
		rec("a", 1, 100, 2),
		rec("b", 1, 300, 6),
	}

	spend := AccountDailyTotals(records, domain.MetricSpend)
	require.Len(t, spend, 1)
	assert.Equal(t, 400.0, spend[0].Value)

	roas := AccountDailyTotals(records, domain.MetricROAS)
	require.Len(t, roas, 1)
	assert.InDelta(t, 5.0, roas[0].Value, 1e-9)
}
