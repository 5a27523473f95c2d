package probes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/warehouse"
)

var anchor = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return anchor }

// dayRecord builds one daily row daysAgo days before the anchor.
func dayRecord(adID string, daysAgo int, mutate func(*domain.AdRecord)) domain.AdRecord {
	r := domain.AdRecord{
		AdID:        adID,
		AdName:      adID,
		Provider:    "meta",
		Store:       "us",
		Date:        anchor.AddDate(0, 0, -daysAgo),
		Spend:       100,
		ROAS:        5,
		CTR:         1.5,
		CPM:         12,
		Impressions: 10000,
		Clicks:      150,
		Conversions: 5,
	}
	if mutate != nil {
		mutate(&r)
	}
	return r
}

func storeWith(records ...domain.AdRecord) *warehouse.MemStore {
	s := warehouse.NewMemStore(fixedNow)
	s.Add("wh", records...)
	return s
}

func TestCPMSpikeFires(t *testing.T) {
	var records []domain.AdRecord
	for d := 9; d >= 3; d-- {
		records = append(records, dayRecord("ad-1", d, func(r *domain.AdRecord) { r.CPM = 12.20 }))
	}
	for d := 2; d >= 0; d-- {
		records = append(records, dayRecord("ad-1", d, func(r *domain.AdRecord) { r.CPM = 18.50 }))
	}
	catalog := NewCatalog(storeWith(records...))
	probe, _ := catalog.ByName(NameCPMSpike)

	ev, err := probe.Run(context.Background(), "wh", "ad-1", 30)
	require.NoError(t, err)

	assert.True(t, ev.Fired)
	assert.Equal(t, domain.SeverityExtreme, ev.Severity, "+52%% is an extreme spike")
	assert.InDelta(t, 18.50, ev.Measurements["current_cpm"], 0.001)
	assert.InDelta(t, 12.20, ev.Measurements["baseline_cpm"], 0.001)
	assert.InDelta(t, 51.6, ev.Measurements["change_pct"], 0.1)
}

func TestCPMSpikeQuietOnFlatSeries(t *testing.T) {
	var records []domain.AdRecord
	for d := 9; d >= 0; d-- {
		records = append(records, dayRecord("ad-1", d, nil))
	}
	catalog := NewCatalog(storeWith(records...))
	probe, _ := catalog.ByName(NameCPMSpike)

	ev, err := probe.Run(context.Background(), "wh", "ad-1", 30)
	require.NoError(t, err)
	assert.False(t, ev.Fired)
	assert.False(t, ev.Inconclusive)
}

func TestCPMSpikeInconclusiveWithoutHistory(t *testing.T) {
	catalog := NewCatalog(storeWith(dayRecord("ad-1", 0, nil)))
	probe, _ := catalog.ByName(NameCPMSpike)

	ev, err := probe.Run(context.Background(), "wh", "ad-1", 30)
	require.NoError(t, err)
	assert.False(t, ev.Fired)
	assert.True(t, ev.Inconclusive)
}

func TestCreativeFatigueFires(t *testing.T) {
	// CTR slides from 2.0 to 0.7 across 14 days while delivery holds.
	var records []domain.AdRecord
	for d := 13; d >= 0; d-- {
		day := d
		records = append(records, dayRecord("ad-1", d, func(r *domain.AdRecord) {
			r.CTR = 2.0 - 0.1*float64(13-day)
		}))
	}
	catalog := NewCatalog(storeWith(records...))
	probe, _ := catalog.ByName(NameCreativeFatigue)

	ev, err := probe.Run(context.Background(), "wh", "ad-1", 14)
	require.NoError(t, err)

	assert.True(t, ev.Fired)
	assert.Equal(t, domain.SeverityExtreme, ev.Severity)
	assert.Less(t, ev.Measurements["slope"], 0.0)
	assert.Greater(t, ev.Measurements["decline_pct"], 15.0)
}

func TestCreativeFatigueNotFiredWhenDeliveryCollapses(t *testing.T) {
	// The same CTR slide with impressions falling off a cliff in the
	// last 3 days is a delivery problem, not fatigue.
	var records []domain.AdRecord
	for d := 13; d >= 0; d-- {
		day := d
		records = append(records, dayRecord("ad-1", d, func(r *domain.AdRecord) {
			r.CTR = 2.0 - 0.1*float64(13-day)
			if day <= 2 {
				r.Impressions = 100
			}
		}))
	}
	catalog := NewCatalog(storeWith(records...))
	probe, _ := catalog.ByName(NameCreativeFatigue)

	ev, err := probe.Run(context.Background(), "wh", "ad-1", 14)
	require.NoError(t, err)
	assert.False(t, ev.Fired)
}

func TestLandingPageFires(t *testing.T) {
	var records []domain.AdRecord
	for d := 9; d >= 3; d-- {
		records = append(records, dayRecord("ad-1", d, nil)) // 5 conversions/day
	}
	for d := 2; d >= 0; d-- {
		records = append(records, dayRecord("ad-1", d, func(r *domain.AdRecord) { r.Conversions = 0 }))
	}
	catalog := NewCatalog(storeWith(records...))
	probe, _ := catalog.ByName(NameLandingPage)

	ev, err := probe.Run(context.Background(), "wh", "ad-1", 30)
	require.NoError(t, err)

	assert.True(t, ev.Fired)
	assert.InDelta(t, 0, ev.Measurements["ctr_change_pct"], 0.001, "CTR held steady")
	assert.Less(t, ev.Measurements["cvr_change_pct"], -30.0)
}

func TestLandingPageInconclusiveWithoutConversionData(t *testing.T) {
	var records []domain.AdRecord
	for d := 9; d >= 0; d-- {
		records = append(records, dayRecord("ad-1", d, func(r *domain.AdRecord) { r.Conversions = 0 }))
	}
	catalog := NewCatalog(storeWith(records...))
	probe, _ := catalog.ByName(NameLandingPage)

	ev, err := probe.Run(context.Background(), "wh", "ad-1", 30)
	require.NoError(t, err)
	assert.False(t, ev.Fired)
	assert.True(t, ev.Inconclusive)
}

func TestTrackingFires(t *testing.T) {
	var records []domain.AdRecord
	for d := 9; d >= 2; d-- {
		records = append(records, dayRecord("ad-1", d, nil)) // converting history
	}
	for d := 1; d >= 0; d-- {
		records = append(records, dayRecord("ad-1", d, func(r *domain.AdRecord) { r.Conversions = 0 }))
	}
	catalog := NewCatalog(storeWith(records...))
	probe, _ := catalog.ByName(NameTracking)

	ev, err := probe.Run(context.Background(), "wh", "ad-1", 30)
	require.NoError(t, err)

	assert.True(t, ev.Fired)
	assert.Equal(t, domain.SeverityExtreme, ev.Severity)
	assert.Greater(t, ev.Measurements["clicks_48h"], 0.0)
	assert.Equal(t, 0.0, ev.Measurements["conversions_48h"])
	assert.Greater(t, ev.Measurements["historical_conversion_rate"], 0.0)
}

func TestTrackingQuietWithoutConvertingHistory(t *testing.T) {
	// An ad that never converted has no historical rate; no firing.
	var records []domain.AdRecord
	for d := 9; d >= 0; d-- {
		records = append(records, dayRecord("ad-1", d, func(r *domain.AdRecord) { r.Conversions = 0 }))
	}
	catalog := NewCatalog(storeWith(records...))
	probe, _ := catalog.ByName(NameTracking)

	ev, err := probe.Run(context.Background(), "wh", "ad-1", 30)
	require.NoError(t, err)
	assert.False(t, ev.Fired)
	assert.Greater(t, ev.Measurements["clicks_48h"], 0.0)
	assert.Equal(t, 0.0, ev.Measurements["conversions_48h"])
}

func TestBudgetExhaustionFires(t *testing.T) {
	budget := 100.0
	var records []domain.AdRecord
	for d := 6; d >= 0; d-- {
		records = append(records, dayRecord("ad-1", d, func(r *domain.AdRecord) {
			r.Spend = 97
			r.DailyBudget = &budget
		}))
	}
	catalog := NewCatalog(storeWith(records...))
	probe, _ := catalog.ByName(NameBudgetExhaustion)

	ev, err := probe.Run(context.Background(), "wh", "ad-1", 30)
	require.NoError(t, err)

	assert.True(t, ev.Fired)
	assert.InDelta(t, 0.97, ev.Measurements["utilization"], 0.001)
}

func TestBudgetExhaustionInconclusiveWithoutBudget(t *testing.T) {
	var records []domain.AdRecord
	for d := 6; d >= 0; d-- {
		records = append(records, dayRecord("ad-1", d, nil))
	}
	catalog := NewCatalog(storeWith(records...))
	probe, _ := catalog.ByName(NameBudgetExhaustion)

	ev, err := probe.Run(context.Background(), "wh", "ad-1", 30)
	require.NoError(t, err)
	assert.False(t, ev.Fired)
	assert.True(t, ev.Inconclusive)
}

func TestSeasonalityMatchesWeekAgo(t *testing.T) {
	var records []domain.AdRecord
	records = append(records, dayRecord("ad-1", 7, func(r *domain.AdRecord) { r.ROAS = 4.8 }))
	records = append(records, dayRecord("ad-1", 0, func(r *domain.AdRecord) { r.ROAS = 5.0 }))
	catalog := NewCatalog(storeWith(records...))
	probe, _ := catalog.ByName(NameSeasonality)

	ev, err := probe.Run(context.Background(), "wh", "ad-1", 30)
	require.NoError(t, err)

	assert.True(t, ev.Fired, "within the ±25%% band of the 7d-ago point")
	assert.Contains(t, ev.Interpretation, "seasonal")
}

func TestSeasonalityNeverFiresWithoutHistory(t *testing.T) {
	catalog := NewCatalog(storeWith(dayRecord("ad-1", 0, nil)))
	probe, _ := catalog.ByName(NameSeasonality)

	ev, err := probe.Run(context.Background(), "wh", "ad-1", 30)
	require.NoError(t, err)
	assert.False(t, ev.Fired)
	assert.True(t, ev.Inconclusive)
}

func TestCatalogClosedSet(t *testing.T) {
	catalog := NewCatalog(warehouse.NewMemStore(fixedNow))

	assert.Equal(t, []string{
		NameCPMSpike, NameCreativeFatigue, NameLandingPage,
		NameTracking, NameBudgetExhaustion, NameSeasonality,
	}, catalog.Names())

	_, ok := catalog.ByName("invent_a_probe")
	assert.False(t, ok)

	for _, d := range catalog.Descriptors() {
		assert.NotEmpty(t, d.Description)
		assert.Equal(t, []string{"ad_id", "window_days", "tenant"}, d.Params)
	}
}
