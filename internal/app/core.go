// Package app wires the pipeline and exposes the three logical
// operations the service layer calls: Analyze, Recommend, Execute.
// Ordering within a session is strict — baselines before detection,
// detection before diagnosis, diagnosis before recommendations — while
// diagnoses across anomalies run in parallel under the configured cap.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spendguard/spendguard/internal/baseline"
	"github.com/spendguard/spendguard/internal/config"
	"github.com/spendguard/spendguard/internal/detect"
	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/execute"
	"github.com/spendguard/spendguard/internal/ground"
	"github.com/spendguard/spendguard/internal/llm"
	"github.com/spendguard/spendguard/internal/metrics"
	"github.com/spendguard/spendguard/internal/probes"
	"github.com/spendguard/spendguard/internal/rca"
	"github.com/spendguard/spendguard/internal/recommend"
	"github.com/spendguard/spendguard/internal/session"
	"github.com/spendguard/spendguard/internal/warehouse"
)

// AnalyzeSummary is the analyze operation's response envelope.
type AnalyzeSummary struct {
	SessionID        string                                  `json:"session_id"`
	Tenant           string                                  `json:"tenant"`
	WindowDays       int                                     `json:"window_days"`
	SourceHint       string                                  `json:"source_hint,omitempty"`
	AdCount          int                                     `json:"ad_count"`
	AnomalyCount     int                                     `json:"anomaly_count"`
	RecordsDropped   int                                     `json:"records_dropped"`
	InsufficientData bool                                    `json:"insufficient_data"`
	Baseline         map[domain.Metric]domain.MetricBaseline `json:"baseline"`
	Timeline         *TimelineSummary                        `json:"timeline,omitempty"`
}

// TimelineSummary carries the account-wide week-over-week movement shown
// alongside the anomaly list.
type TimelineSummary struct {
	CPMWoWPct  float64 `json:"cpm_wow_pct"`
	ROASWoWPct float64 `json:"roas_wow_pct"`
}

// Core wires every component of the pipeline.
type Core struct {
	cfg          *config.Config
	store        warehouse.Store
	baselines    *baseline.Engine
	orchestrator *rca.Orchestrator
	generator    *recommend.Generator
	simulator    *execute.Simulator
	sessions     *session.Manager
}

// New assembles the core. client may be nil, in which case probe
// selection runs on the deterministic rule client and recommendations
// never take the model path.
func New(cfg *config.Config, store warehouse.Store, client llm.Client, audit warehouse.AuditLogger) (*Core, error) {
	genClient := client
	if client == nil {
		client = llm.NewRuleClient()
	}
	validator, err := ground.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("build validator: %w", err)
	}

	catalog := probes.NewCatalog(store)
	orchestrator := rca.NewOrchestrator(catalog, client, rca.Config{
		MaxSteps:          cfg.RCA.MaxSteps,
		Concurrency:       cfg.RCA.Concurrency,
		PerAnomalyTimeout: cfg.PerAnomalyTimeout(),
		ProbeTimeout:      cfg.ProbeTimeout(),
	})

	sessions := session.NewManager(cfg.SessionTTL(), nil)
	metrics.RegisterSessionGauge(sessions.ActiveCount)

	return &Core{
		cfg:          cfg,
		store:        store,
		baselines:    baseline.NewEngine(cfg.Anomaly.MinSampleSize),
		orchestrator: orchestrator,
		generator:    recommend.NewGenerator(genClient, validator, cfg.Validator.RetryMax),
		simulator:    execute.NewSimulator(audit),
		sessions:     sessions,
	}, nil
}

// Analyze runs the full detection and diagnosis pipeline and pins the
// result in a new session.
func (c *Core) Analyze(ctx context.Context, tenant string, windowDays int, sourceHint string) (string, AnalyzeSummary, error) {
	start := time.Now()
	result := "ok"
	defer func() {
		metrics.AnalysisDuration.WithLabelValues(tenant, result).Observe(time.Since(start).Seconds())
	}()

	if err := warehouse.ValidateWindow(windowDays); err != nil {
		result = "invalid"
		return "", AnalyzeSummary{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.AnalysisTimeout())
	defer cancel()

	summaries, stats, err := c.store.FetchAdSummaries(ctx, tenant, windowDays)
	if err != nil {
		result = "error"
		return "", AnalyzeSummary{}, err
	}

	baselines := c.baselines.Compute(summaries, windowDays)
	sess := c.sessions.Create(tenant, windowDays)

	summary := AnalyzeSummary{
		SessionID:      sess.ID,
		Tenant:         tenant,
		WindowDays:     windowDays,
		SourceHint:     sourceHint,
		AdCount:        len(summaries),
		RecordsDropped: stats.RecordsDropped,
		Baseline:       baselines.Metrics,
	}

	if !baselines.Sufficient() {
		// InsufficientData is a sentinel, not a failure: the session
		// exists, carries the facts, and emits nothing actionable.
		sess.SetAnalysis(summaries, baselines, nil, nil, stats.RecordsDropped, true)
		summary.InsufficientData = true
		result = "insufficient"
		return sess.ID, summary, nil
	}

	anomalies := detect.Detect(summaries, baselines, detect.Config{
		ThresholdSigma: c.cfg.Anomaly.ThresholdSigma,
		MinSpend:       c.cfg.Anomaly.MinSpend,
		MaxPerMetric:   c.cfg.Anomaly.MaxPerMetric,
	})
	for _, a := range anomalies {
		metrics.AnomaliesDetected.WithLabelValues(tenant, string(a.Metric)).Inc()
	}

	verdicts := c.orchestrator.DiagnoseAll(ctx, tenant, anomalies, windowDays)

	sortAnomalies(anomalies)
	sess.SetAnalysis(summaries, baselines, anomalies, verdicts, stats.RecordsDropped, false)
	summary.AnomalyCount = len(anomalies)
	summary.Timeline = c.timeline(ctx, tenant, windowDays)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result = "timeout"
	}
	return sess.ID, summary, nil
}

// Recommend classifies every ad in the session. An insufficient-data
// session yields an empty list.
func (c *Core) Recommend(ctx context.Context, sessionID string, useModel bool) ([]domain.Recommendation, recommend.Summary, error) {
	sess, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, recommend.Summary{}, err
	}
	if sess.Insufficient() {
		return nil, recommend.Summary{}, nil
	}

	recs, summary, err := c.generator.Generate(ctx, sess.Summaries(), sess.Baseline(), sess.Verdicts(), useModel)
	if err != nil {
		return nil, recommend.Summary{}, err
	}
	sess.SetRecommendations(recs)
	return recs, summary, nil
}

// Execute runs the dry-run simulator over the session's
// recommendations.
func (c *Core) Execute(ctx context.Context, sessionID string, approved []string, dryRun bool) ([]domain.ExecutionResult, execute.Summary, error) {
	sess, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, execute.Summary{}, err
	}
	return c.simulator.Run(ctx, sess, approved, dryRun)
}

// Release destroys a session explicitly.
func (c *Core) Release(sessionID string) bool {
	return c.sessions.Release(sessionID)
}

// ActiveSessions reports live session count for health output.
func (c *Core) ActiveSessions() int {
	return c.sessions.ActiveCount()
}

// Anomalies exposes a session's frozen anomaly list.
func (c *Core) Anomalies(sessionID string) ([]domain.Anomaly, map[string]domain.RootCauseVerdict, error) {
	sess, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	return sess.Anomalies(), sess.Verdicts(), nil
}

// timeline computes week-over-week account movement; best effort, nil on
// any fetch problem.
func (c *Core) timeline(ctx context.Context, tenant string, windowDays int) *TimelineSummary {
	lookback := windowDays
	if lookback < 14 {
		lookback = 14
	}
	cpm, err := c.store.FetchAccountDailyTotals(ctx, tenant, domain.MetricCPM, lookback)
	if err != nil {
		log.Debug().Err(err).Msg("timeline cpm fetch failed")
		return nil
	}
	roas, err := c.store.FetchAccountDailyTotals(ctx, tenant, domain.MetricROAS, lookback)
	if err != nil {
		log.Debug().Err(err).Msg("timeline roas fetch failed")
		return nil
	}
	cpmWoW, ok1 := weekOverWeek(cpm)
	roasWoW, ok2 := weekOverWeek(roas)
	if !ok1 && !ok2 {
		return nil
	}
	return &TimelineSummary{CPMWoWPct: cpmWoW, ROASWoWPct: roasWoW}
}

// weekOverWeek compares the mean of the last 7 points to the prior 7.
func weekOverWeek(series []warehouse.SeriesPoint) (float64, bool) {
	if len(series) < 14 {
		return 0, false
	}
	last := series[len(series)-7:]
	prev := series[len(series)-14 : len(series)-7]
	var lastSum, prevSum float64
	for _, p := range last {
		lastSum += p.Value
	}
	for _, p := range prev {
		prevSum += p.Value
	}
	if prevSum == 0 {
		return 0, false
	}
	return (lastSum - prevSum) / prevSum * 100, true
}

// sortAnomalies applies the stable presentation order: descending |z|,
// then ad id.
func sortAnomalies(list []domain.Anomaly) {
	sort.SliceStable(list, func(i, j int) bool {
		zi, zj := math.Abs(list[i].ZScore), math.Abs(list[j].ZScore)
		if zi != zj {
			return zi > zj
		}
		return list[i].Ad.AdID < list[j].Ad.AdID
	})
}
