package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/spendguard/spendguard/internal/domain"
)

// PostgresStore reads per-tenant warehouse views over sqlx. Several
// numeric columns in the warehouse are stored as text; rows whose numeric
// columns fail strict parsing are dropped and counted, never coerced to
// zero.
type PostgresStore struct {
	db      *sqlx.DB
	views   map[string]string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewPostgresStore opens the warehouse connection and wires the circuit
// breaker around it. views maps tenant short code to view identifier.
func NewPostgresStore(dsn string, views map[string]string, timeout time.Duration) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	settings := gobreaker.Settings{
		Name:        "warehouse",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("warehouse breaker state change")
		},
	}

	return &PostgresStore{
		db:      db,
		views:   views,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// DB exposes the pool so sibling repositories (the audit log) can share
// the connection.
func (s *PostgresStore) DB() *sqlx.DB { return s.db }

func (s *PostgresStore) view(tenant string) (string, error) {
	v, ok := s.views[tenant]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownTenant, tenant)
	}
	return v, nil
}

// adRow mirrors one warehouse row. Numeric columns arrive as text and are
// parsed strictly in Go.
type adRow struct {
	AdID           string         `db:"ad_id"`
	AdName         string         `db:"ad_name"`
	Provider       string         `db:"provider"`
	Store          string         `db:"store"`
	CampaignStatus string         `db:"campaign_status"`
	Date           time.Time      `db:"date"`
	Spend          sql.NullString `db:"spend"`
	ROAS           sql.NullString `db:"roas"`
	CTR            sql.NullString `db:"ctr"`
	CPM            sql.NullString `db:"cpm"`
	CPA            sql.NullString `db:"cpa"`
	Impressions    sql.NullString `db:"impressions"`
	Clicks         sql.NullString `db:"clicks"`
	Conversions    sql.NullString `db:"conversions"`
	DailyBudget    sql.NullString `db:"daily_budget"`
}

const rowColumns = `ad_id, ad_name, provider, store, campaign_status, date, spend, roas, ctr, cpm, cpa, impressions, clicks, conversions, daily_budget`

// fetchRows pulls the window's daily rows for a tenant, optionally
// filtered to one ad. The provider-category filter is applied at source
// so advertising rows are never mixed with revenue rows.
func (s *PostgresStore) fetchRows(ctx context.Context, tenant, adID string, windowDays int) ([]domain.AdRecord, FetchStats, error) {
	var stats FetchStats
	if err := ValidateWindow(windowDays); err != nil {
		return nil, stats, err
	}
	view, err := s.view(tenant)
	if err != nil {
		return nil, stats, err
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE source_category = 'ad_providers'
		  AND date >= (NOW() AT TIME ZONE 'UTC')::date - $1 * INTERVAL '1 day'`, rowColumns, view)
	args := []interface{}{windowDays}
	if adID != "" {
		query += ` AND ad_id = $2`
		args = append(args, adID)
	}
	query += ` ORDER BY date ASC, ad_id ASC`

	var rows []adRow
	err = withRetry(ctx, "warehouse query", func() error {
		_, berr := s.breaker.Execute(func() (interface{}, error) {
			qctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			rows = rows[:0]
			return nil, s.db.SelectContext(qctx, &rows, query, args...)
		})
		return berr
	})
	if err != nil {
		return nil, stats, err
	}

	records := make([]domain.AdRecord, 0, len(rows))
	for _, r := range rows {
		rec, ok := parseRow(r)
		if !ok {
			stats.RecordsDropped++
			continue
		}
		records = append(records, rec)
	}
	if stats.RecordsDropped > 0 {
		log.Warn().Str("tenant", tenant).Int("dropped", stats.RecordsDropped).Msg("dropped records with unparseable numeric columns")
	}
	return records, stats, nil
}

// parseRow converts one raw row, rejecting the whole record when any
// populated numeric column fails to parse.
func parseRow(r adRow) (domain.AdRecord, bool) {
	rec := domain.AdRecord{
		AdID:           r.AdID,
		AdName:         r.AdName,
		Provider:       r.Provider,
		Store:          r.Store,
		CampaignStatus: r.CampaignStatus,
		Date:           r.Date.UTC(),
	}
	ok := true
	parse := func(ns sql.NullString) float64 {
		if !ns.Valid || strings.TrimSpace(ns.String) == "" {
			return 0
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(ns.String), 64)
		if err != nil {
			ok = false
			return 0
		}
		return v
	}
	parseInt := func(ns sql.NullString) int64 {
		if !ns.Valid || strings.TrimSpace(ns.String) == "" {
			return 0
		}
		v, err := strconv.ParseInt(strings.TrimSpace(ns.String), 10, 64)
		if err != nil {
			ok = false
			return 0
		}
		return v
	}

	rec.Spend = parse(r.Spend)
	rec.ROAS = parse(r.ROAS)
	rec.CTR = parse(r.CTR)
	rec.CPM = parse(r.CPM)
	rec.CPA = parse(r.CPA)
	rec.Impressions = parseInt(r.Impressions)
	rec.Clicks = parseInt(r.Clicks)
	rec.Conversions = parseInt(r.Conversions)
	if r.DailyBudget.Valid && strings.TrimSpace(r.DailyBudget.String) != "" {
		b := parse(r.DailyBudget)
		rec.DailyBudget = &b
	}
	if !ok {
		return domain.AdRecord{}, false
	}
	if rec.Spend < 0 || rec.ROAS < 0 || rec.Impressions < 0 || rec.Clicks < 0 || rec.Clicks > rec.Impressions {
		return domain.AdRecord{}, false
	}
	return rec, true
}

// FetchAdSummaries implements Store.
func (s *PostgresStore) FetchAdSummaries(ctx context.Context, tenant string, windowDays int) ([]domain.AdSummary, FetchStats, error) {
	records, stats, err := s.fetchRows(ctx, tenant, "", windowDays)
	if err != nil {
		return nil, stats, err
	}
	return BuildSummaries(records), stats, nil
}

// FetchDailySeries implements Store.
func (s *PostgresStore) FetchDailySeries(ctx context.Context, tenant, adID string, metric domain.Metric, windowDays int) ([]SeriesPoint, error) {
	records, _, err := s.fetchRows(ctx, tenant, adID, windowDays)
	if err != nil {
		return nil, err
	}
	return DailySeries(records, metric), nil
}

// FetchAccountDailyTotals implements Store.
func (s *PostgresStore) FetchAccountDailyTotals(ctx context.Context, tenant string, metric domain.Metric, windowDays int) ([]SeriesPoint, error) {
	records, _, err := s.fetchRows(ctx, tenant, "", windowDays)
	if err != nil {
		return nil, err
	}
	return AccountDailyTotals(records, metric), nil
}

// FetchAdDaily implements Store.
func (s *PostgresStore) FetchAdDaily(ctx context.Context, tenant, adID string, windowDays int) ([]domain.AdRecord, error) {
	records, _, err := s.fetchRows(ctx, tenant, adID, windowDays)
	if err != nil {
		return nil, err
	}
	return records, nil
}
