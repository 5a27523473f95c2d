package warehouse

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spendguard/spendguard/internal/domain"
)

// MemStore is a deterministic in-memory Store used by the offline CLI
// path and the test suite. It applies the same window and tenant
// contracts as the warehouse-backed store.
type MemStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	records map[string][]domain.AdRecord
	dropped map[string]int
}

// NewMemStore returns an empty store anchored at now.
func NewMemStore(now func() time.Time) *MemStore {
	if now == nil {
		now = time.Now
	}
	return &MemStore{
		now:     now,
		records: make(map[string][]domain.AdRecord),
		dropped: make(map[string]int),
	}
}

// Add appends records for a tenant.
func (m *MemStore) Add(tenant string, records ...domain.AdRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range records {
		records[i].Date = records[i].Date.UTC()
	}
	m.records[tenant] = append(m.records[tenant], records...)
}

// SetDropped records the fixture's dropped-record count for a tenant so
// the strict-parse reporting path can be exercised offline.
func (m *MemStore) SetDropped(tenant string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[tenant] = n
}

func (m *MemStore) window(tenant string, windowDays int) ([]domain.AdRecord, error) {
	if err := ValidateWindow(windowDays); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all, ok := m.records[tenant]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTenant, tenant)
	}
	cutoff := m.now().UTC().AddDate(0, 0, -windowDays)
	out := make([]domain.AdRecord, 0, len(all))
	for _, r := range all {
		if !r.Date.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

// FetchAdSummaries implements Store.
func (m *MemStore) FetchAdSummaries(ctx context.Context, tenant string, windowDays int) ([]domain.AdSummary, FetchStats, error) {
	records, err := m.window(tenant, windowDays)
	if err != nil {
		return nil, FetchStats{}, err
	}
	m.mu.RLock()
	stats := FetchStats{RecordsDropped: m.dropped[tenant]}
	m.mu.RUnlock()
	return BuildSummaries(records), stats, nil
}

// FetchDailySeries implements Store.
func (m *MemStore) FetchDailySeries(ctx context.Context, tenant, adID string, metric domain.Metric, windowDays int) ([]SeriesPoint, error) {
	records, err := m.window(tenant, windowDays)
	if err != nil {
		return nil, err
	}
	own := records[:0:0]
	for _, r := range records {
		if r.AdID == adID {
			own = append(own, r)
		}
	}
	return DailySeries(own, metric), nil
}

// FetchAccountDailyTotals implements Store.
func (m *MemStore) FetchAccountDailyTotals(ctx context.Context, tenant string, metric domain.Metric, windowDays int) ([]SeriesPoint, error) {
	records, err := m.window(tenant, windowDays)
	if err != nil {
		return nil, err
	}
	return AccountDailyTotals(records, metric), nil
}

// FetchAdDaily implements Store.
func (m *MemStore) FetchAdDaily(ctx context.Context, tenant, adID string, windowDays int) ([]domain.AdRecord, error) {
	records, err := m.window(tenant, windowDays)
	if err != nil {
		return nil, err
	}
	own := make([]domain.AdRecord, 0, len(records))
	for _, r := range records {
		if r.AdID == adID {
			own = append(own, r)
		}
	}
	sort.Slice(own, func(i, j int) bool { return own[i].Date.Before(own[j].Date) })
	return own, nil
}

// fixtureFile is the YAML shape accepted by LoadFixture.
type fixtureFile struct {
	Tenants map[string]struct {
		Dropped int               `yaml:"dropped"`
		Records []fixtureRecord   `yaml:"records"`
	} `yaml:"tenants"`
}

type fixtureRecord struct {
	AdID        string   `yaml:"ad_id"`
	AdName      string   `yaml:"ad_name"`
	Provider    string   `yaml:"provider"`
	Store       string   `yaml:"store"`
	Status      string   `yaml:"campaign_status"`
	DaysAgo     int      `yaml:"days_ago"`
	Spend       float64  `yaml:"spend"`
	ROAS        float64  `yaml:"roas"`
	CTR         float64  `yaml:"ctr"`
	CPM         float64  `yaml:"cpm"`
	CPA         float64  `yaml:"cpa"`
	Impressions int64    `yaml:"impressions"`
	Clicks      int64    `yaml:"clicks"`
	Conversions int64    `yaml:"conversions"`
	DailyBudget *float64 `yaml:"daily_budget"`
}

// LoadFixture populates a MemStore from a YAML fixture. Record dates are
// expressed as whole days before the store's anchor so fixtures stay
// valid regardless of when they run.
func LoadFixture(path string, now func() time.Time) (*MemStore, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f fixtureFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	store := NewMemStore(now)
	for tenant, t := range f.Tenants {
		store.SetDropped(tenant, t.Dropped)
		for _, fr := range t.Records {
			anchor := store.now().UTC().Truncate(24 * time.Hour)
			store.Add(tenant, domain.AdRecord{
				AdID:           fr.AdID,
				AdName:         fr.AdName,
				Provider:       fr.Provider,
				Store:          fr.Store,
				CampaignStatus: fr.Status,
				Date:           anchor.AddDate(0, 0, -fr.DaysAgo),
				Spend:          fr.Spend,
				ROAS:           fr.ROAS,
				CTR:            fr.CTR,
				CPM:            fr.CPM,
				CPA:            fr.CPA,
				Impressions:    fr.Impressions,
				Clicks:         fr.Clicks,
				Conversions:    fr.Conversions,
				DailyBudget:    fr.DailyBudget,
			})
		}
	}
	return store, nil
}
