// Package rca diagnoses anomalies. Per anomaly, a language model selects
// diagnostic probes from the fixed catalog one call at a time; the
// orchestrator executes each probe, feeds the evidence back, and — once
// the model signals completion or the bounded loop ends — derives the
// verdict deterministically in code. The model picks probes; it never
// picks causes.
package rca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/llm"
	"github.com/spendguard/spendguard/internal/metrics"
	"github.com/spendguard/spendguard/internal/probes"
)

const systemPrompt = `You are a root-cause analyst for advertising performance anomalies.
Given one anomaly and a catalog of diagnostic probes, request ONE probe at a time.
Interpret each probe result before requesting the next. Stop as soon as the
evidence identifies the cause, or when the preferred probes are exhausted.
You select probes only; the final verdict is derived from the evidence by the system.`

// Config bounds the orchestration loop.
type Config struct {
	MaxSteps          int
	Concurrency       int
	PerAnomalyTimeout time.Duration
	ProbeTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 6
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PerAnomalyTimeout <= 0 {
		c.PerAnomalyTimeout = 60 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	return c
}

// Orchestrator runs diagnoses over a probe catalog and a model client.
type Orchestrator struct {
	catalog *probes.Catalog
	client  llm.Client
	cfg     Config
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(catalog *probes.Catalog, client llm.Client, cfg Config) *Orchestrator {
	return &Orchestrator{catalog: catalog, client: client, cfg: cfg.withDefaults()}
}

// DiagnoseAll diagnoses every anomalous ad in parallel up to the
// concurrency cap. Anomalies are de-duplicated by ad identity first: one
// ad with deviations on several metrics gets one diagnosis, keyed on its
// highest-|z| anomaly. Verdicts are keyed by ad id. A deadline hit
// leaves the affected ads with UNKNOWN verdicts carrying a timeout
// violation; completed verdicts are returned regardless.
func (o *Orchestrator) DiagnoseAll(ctx context.Context, tenant string, anomalies []domain.Anomaly, windowDays int) map[string]domain.RootCauseVerdict {
	primaries := dedupeByAd(anomalies)

	var mu sync.Mutex
	verdicts := make(map[string]domain.RootCauseVerdict, len(primaries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, anomaly := range primaries {
		anomaly := anomaly
		g.Go(func() error {
			v := o.Diagnose(gctx, tenant, anomaly, windowDays)
			mu.Lock()
			verdicts[anomaly.Ad.AdID] = v
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// Any ad abandoned by cancellation still gets a verdict.
	for _, anomaly := range primaries {
		if _, ok := verdicts[anomaly.Ad.AdID]; !ok {
			verdicts[anomaly.Ad.AdID] = timeoutVerdict(anomaly, nil)
		}
	}
	return verdicts
}

// Diagnose runs the bounded tool loop for one anomaly.
func (o *Orchestrator) Diagnose(ctx context.Context, tenant string, anomaly domain.Anomaly, windowDays int) domain.RootCauseVerdict {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.PerAnomalyTimeout)
	defer cancel()

	preferred := PreferredProbes(anomaly.Metric, o.catalog)
	req := llm.Request{
		System: systemPrompt,
		Messages: []llm.Message{{
			Role:    "user",
			Content: groundedContext(anomaly, windowDays),
		}},
		Tools: toolSpecs(o.catalog),
		Hint: &llm.DecisionHint{
			Metric:          string(anomaly.Metric),
			PreferredProbes: preferred,
		},
	}

	var collected []domain.Evidence
	ran := make(map[string]bool)

	for step := 0; step < o.cfg.MaxSteps; step++ {
		start := time.Now()
		resp, err := o.client.Complete(ctx, req)
		metrics.ModelCallDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ModelCalls.WithLabelValues("error").Inc()
		} else {
			metrics.ModelCalls.WithLabelValues("ok").Inc()
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return timeoutVerdict(anomaly, collected)
			}
			log.Warn().Err(err).Str("ad_id", anomaly.Ad.AdID).Msg("model call failed; resolving from collected evidence")
			break
		}
		if resp.ToolCall == nil {
			break
		}

		name := resp.ToolCall.Name
		probe, known := o.catalog.ByName(name)
		if !known {
			req.Messages = append(req.Messages, llm.Message{
				Role:    "user",
				Content: fmt.Sprintf("Unknown probe %q. Choose one of the catalog tools.", name),
			})
			continue
		}
		if ran[name] {
			req.Messages = append(req.Messages, llm.Message{
				Role:    "user",
				Content: fmt.Sprintf("Probe %q already ran; its evidence is above. Choose another probe or stop.", name),
			})
			continue
		}
		ran[name] = true

		ev := o.runProbe(ctx, probe, tenant, anomaly.Ad.AdID, windowDays)
		collected = append(collected, ev)
		req.Messages = append(req.Messages, llm.ToolResultMessage(name, ev))

		if ctx.Err() != nil {
			return timeoutVerdict(anomaly, collected)
		}
	}

	return Resolve(anomaly, collected, preferred, o.catalog.Names())
}

// runProbe executes one probe under its own deadline. A probe error is
// recorded as inconclusive evidence, never raised further.
func (o *Orchestrator) runProbe(ctx context.Context, probe probes.Probe, tenant, adID string, windowDays int) domain.Evidence {
	pctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()

	ev, err := probe.Run(pctx, tenant, adID, windowDays)
	if err != nil {
		metrics.ProbeRuns.WithLabelValues(probe.Name(), "error").Inc()
		log.Warn().Err(err).Str("probe", probe.Name()).Str("ad_id", adID).Msg("probe failed; recording inconclusive")
		return domain.Evidence{
			Probe:          probe.Name(),
			Inconclusive:   true,
			Measurements:   map[string]float64{},
			Interpretation: "probe could not complete",
			Error:          err.Error(),
		}
	}
	outcome := "quiet"
	switch {
	case ev.Fired:
		outcome = "fired"
	case ev.Inconclusive:
		outcome = "inconclusive"
	}
	metrics.ProbeRuns.WithLabelValues(probe.Name(), outcome).Inc()
	return ev
}

// groundedContext renders the anomaly facts for the model: numbers only,
// no narrative.
func groundedContext(anomaly domain.Anomaly, windowDays int) string {
	facts := map[string]interface{}{
		"ad_id":       anomaly.Ad.AdID,
		"ad_name":     anomaly.Ad.AdName,
		"provider":    anomaly.Ad.Provider,
		"metric":      anomaly.Metric,
		"observed":    anomaly.Observed,
		"baseline":    anomaly.Baseline,
		"z_score":     anomaly.ZScore,
		"direction":   anomaly.Direction,
		"severity":    anomaly.Severity,
		"window_days": windowDays,
		"spend":       anomaly.Ad.Spend,
		"roas":        anomaly.Ad.ROAS,
		"days_active": anomaly.Ad.DaysActive,
	}
	b, _ := json.Marshal(facts)
	return "Investigate this anomaly:\n" + string(b)
}

func toolSpecs(catalog *probes.Catalog) []llm.ToolSpec {
	descriptors := catalog.Descriptors()
	out := make([]llm.ToolSpec, len(descriptors))
	for i, d := range descriptors {
		params := make(map[string]interface{}, len(d.Params))
		for _, p := range d.Params {
			params[p] = "string"
		}
		out[i] = llm.ToolSpec{Name: d.Name, Description: d.Description, Parameters: params}
	}
	return out
}

// dedupeByAd keeps one anomaly per ad: the highest |z|, using the
// detector's ordering.
func dedupeByAd(anomalies []domain.Anomaly) []domain.Anomaly {
	sorted := append([]domain.Anomaly(nil), anomalies...)
	sort.SliceStable(sorted, func(i, j int) bool {
		zi, zj := absf(sorted[i].ZScore), absf(sorted[j].ZScore)
		if zi != zj {
			return zi > zj
		}
		return sorted[i].Ad.AdID < sorted[j].Ad.AdID
	})
	seen := make(map[string]bool, len(sorted))
	out := make([]domain.Anomaly, 0, len(sorted))
	for _, a := range sorted {
		if seen[a.Ad.AdID] {
			continue
		}
		seen[a.Ad.AdID] = true
		out = append(out, a)
	}
	return out
}

func timeoutVerdict(anomaly domain.Anomaly, evidence []domain.Evidence) domain.RootCauseVerdict {
	return domain.RootCauseVerdict{
		AdID:            anomaly.Ad.AdID,
		Metric:          anomaly.Metric,
		Cause:           domain.CauseUnknown,
		Confidence:      domain.ConfidenceLow,
		Evidence:        evidence,
		SuggestedAction: SuggestedAction(domain.CauseUnknown),
		Violations:      []string{"timeout"},
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
