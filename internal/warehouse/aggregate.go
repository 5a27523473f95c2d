package warehouse

import (
	"sort"
	"time"

	"github.com/spendguard/spendguard/internal/domain"
)

// BuildSummaries aggregates daily records into one AdSummary per ad.
// ROAS and CTR are spend-weighted (Σ metric·spend / Σ spend); CPA is
// window spend over window conversions; CPM is spend-weighted. Ads with
// zero spend across the window are excluded. Output is ordered by ad id
// so repeated runs over the same rows are byte-identical.
func BuildSummaries(records []domain.AdRecord) []domain.AdSummary {
	type acc struct {
		sum         domain.AdSummary
		roasSpend   float64
		ctrSpend    float64
		cpmSpend    float64
		weightROAS  float64
		weightCTR   float64
		weightCPM   float64
		days        map[string]struct{}
	}
	byAd := make(map[string]*acc)

	for _, r := range records {
		a, ok := byAd[r.AdID]
		if !ok {
			a = &acc{
				sum: domain.AdSummary{
					AdID:        r.AdID,
					AdName:      r.AdName,
					Provider:    r.Provider,
					Store:       r.Store,
					FirstActive: r.Date,
					LastActive:  r.Date,
				},
				days: make(map[string]struct{}),
			}
			byAd[r.AdID] = a
		}
		a.sum.Spend += r.Spend
		a.sum.Impressions += r.Impressions
		a.sum.Clicks += r.Clicks
		a.sum.Conversions += r.Conversions
		if r.Spend > 0 {
			a.roasSpend += r.ROAS * r.Spend
			a.weightROAS += r.Spend
			if r.Impressions > 0 {
				a.ctrSpend += r.CTR * r.Spend
				a.weightCTR += r.Spend
				a.cpmSpend += r.CPM * r.Spend
				a.weightCPM += r.Spend
			}
			a.days[r.Date.UTC().Format("2006-01-02")] = struct{}{}
		}
		if r.Date.Before(a.sum.FirstActive) {
			a.sum.FirstActive = r.Date
		}
		if r.Date.After(a.sum.LastActive) {
			a.sum.LastActive = r.Date
		}
	}

	out := make([]domain.AdSummary, 0, len(byAd))
	for _, a := range byAd {
		if a.sum.Spend <= 0 {
			continue
		}
		if a.weightROAS > 0 {
			a.sum.ROAS = a.roasSpend / a.weightROAS
		}
		if a.weightCTR > 0 {
			a.sum.CTR = a.ctrSpend / a.weightCTR
		}
		if a.weightCPM > 0 {
			a.sum.CPM = a.cpmSpend / a.weightCPM
		}
		if a.sum.Conversions > 0 {
			a.sum.CPA = a.sum.Spend / float64(a.sum.Conversions)
		}
		a.sum.DaysActive = len(a.days)
		out = append(out, a.sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdID < out[j].AdID })
	return out
}

// DailySeries extracts one metric's ordered per-day series from an ad's
// records. One record per (ad, day) is assumed; duplicate days keep the
// later row.
func DailySeries(records []domain.AdRecord, metric domain.Metric) []SeriesPoint {
	byDay := make(map[string]SeriesPoint)
	for _, r := range records {
		day := r.Date.UTC().Truncate(24 * time.Hour)
		v, ok := recordMetric(r, metric)
		if !ok {
			continue
		}
		byDay[day.Format("2006-01-02")] = SeriesPoint{Date: day, Value: v}
	}
	out := make([]SeriesPoint, 0, len(byDay))
	for _, p := range byDay {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// AccountDailyTotals aggregates all ads' records into one account-wide
// daily series for a metric. Spend sums; ROAS, CTR, CPM, and CPA are
// spend-weighted within each day.
func AccountDailyTotals(records []domain.AdRecord, metric domain.Metric) []SeriesPoint {
	type dayAcc struct {
		date     time.Time
		spend    float64
		weighted float64
		weight   float64
	}
	byDay := make(map[string]*dayAcc)
	for _, r := range records {
		day := r.Date.UTC().Truncate(24 * time.Hour)
		key := day.Format("2006-01-02")
		a, ok := byDay[key]
		if !ok {
			a = &dayAcc{date: day}
			byDay[key] = a
		}
		a.spend += r.Spend
		if v, ok := recordMetric(r, metric); ok && r.Spend > 0 {
			a.weighted += v * r.Spend
			a.weight += r.Spend
		}
	}
	out := make([]SeriesPoint, 0, len(byDay))
	for _, a := range byDay {
		p := SeriesPoint{Date: a.date}
		if metric == domain.MetricSpend {
			p.Value = a.spend
		} else if a.weight > 0 {
			p.Value = a.weighted / a.weight
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func recordMetric(r domain.AdRecord, m domain.Metric) (float64, bool) {
	switch m {
	case domain.MetricSpend:
		return r.Spend, true
	case domain.MetricROAS:
		return r.ROAS, true
	case domain.MetricCTR:
		return r.CTR, r.Impressions > 0
	case domain.MetricCPA:
		return r.CPA, r.Conversions > 0
	case domain.MetricCPM:
		return r.CPM, r.Impressions > 0
	}
	return 0, false
}
