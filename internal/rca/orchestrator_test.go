package rca

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/llm"
	"github.com/spendguard/spendguard/internal/probes"
	"github.com/spendguard/spendguard/internal/warehouse"
)

var anchor = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return anchor }

// scriptClient replays a fixed sequence of responses.
type scriptClient struct {
	responses []llm.Response
	calls     int
}

func (s *scriptClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.calls >= len(s.responses) {
		return &llm.Response{Done: true}, nil
	}
	r := s.responses[s.calls]
	s.calls++
	return &r, nil
}

// cpmSpikeStore builds an ad whose CPM jumped from 12.20 to 18.50 in the
// last 3 days.
func cpmSpikeStore() *warehouse.MemStore {
	s := warehouse.NewMemStore(fixedNow)
	for d := 9; d >= 0; d-- {
		cpm := 12.20
		if d <= 2 {
			cpm = 18.50
		}
		s.Add("wh", domain.AdRecord{
			AdID: "ad-1", AdName: "ad-1", Provider: "meta",
			Date:  anchor.AddDate(0, 0, -d),
			Spend: 100, ROAS: 2.7, CTR: 1.5, CPM: cpm,
			Impressions: 10000, Clicks: 150, Conversions: 5,
		})
	}
	return s
}

func testAnomaly() domain.Anomaly {
	return domain.Anomaly{
		Ad:        domain.AdSummary{AdID: "ad-1", AdName: "ad-1", Spend: 50000, ROAS: 2.7, DaysActive: 30},
		Metric:    domain.MetricROAS,
		Observed:  2.7,
		Baseline:  6.88,
		ZScore:    -2.1,
		Direction: domain.DirectionLow,
		Severity:  domain.SeveritySignificant,
		Polarity:  domain.PolarityBad,
	}
}

func TestDiagnoseWithRuleClient(t *testing.T) {
	catalog := probes.NewCatalog(cpmSpikeStore())
	o := NewOrchestrator(catalog, llm.NewRuleClient(), Config{})

	v := o.Diagnose(context.Background(), "wh", testAnomaly(), 30)

	assert.Equal(t, domain.CauseCPMSpike, v.Cause)
	assert.Equal(t, domain.ConfidenceHigh, v.Confidence)
	require.NotEmpty(t, v.Evidence)
	assert.Equal(t, probes.NameCPMSpike, v.Evidence[0].Probe)
	assert.True(t, v.Evidence[0].Fired)
}

func TestDiagnoseUnknownToolGetsFeedback(t *testing.T) {
	catalog := probes.NewCatalog(cpmSpikeStore())
	client := &scriptClient{responses: []llm.Response{
		{ToolCall: &llm.ToolCall{Name: "made_up_probe"}},
		{ToolCall: &llm.ToolCall{Name: probes.NameCPMSpike}},
		{Done: true},
	}}
	o := NewOrchestrator(catalog, client, Config{})

	v := o.Diagnose(context.Background(), "wh", testAnomaly(), 30)

	assert.Equal(t, domain.CauseCPMSpike, v.Cause)
	assert.Len(t, v.Evidence, 1, "the unknown tool produced no evidence")
}

func TestDiagnoseStepBound(t *testing.T) {
	catalog := probes.NewCatalog(cpmSpikeStore())
	// A model that keeps asking for unknown tools burns its step budget
	// and resolves from nothing.
	var responses []llm.Response
	for i := 0; i < 20; i++ {
		responses = append(responses, llm.Response{ToolCall: &llm.ToolCall{Name: "bogus"}})
	}
	client := &scriptClient{responses: responses}
	o := NewOrchestrator(catalog, client, Config{MaxSteps: 4})

	v := o.Diagnose(context.Background(), "wh", testAnomaly(), 30)

	assert.Equal(t, domain.CauseUnknown, v.Cause)
	assert.Equal(t, 4, client.calls, "the loop is hard-capped")
}

func TestDiagnoseRepeatProbeRefused(t *testing.T) {
	catalog := probes.NewCatalog(cpmSpikeStore())
	client := &scriptClient{responses: []llm.Response{
		{ToolCall: &llm.ToolCall{Name: probes.NameSeasonality}},
		{ToolCall: &llm.ToolCall{Name: probes.NameSeasonality}},
		{Done: true},
	}}
	o := NewOrchestrator(catalog, client, Config{})

	v := o.Diagnose(context.Background(), "wh", testAnomaly(), 30)

	assert.Len(t, v.Evidence, 1, "a probe runs at most once per diagnosis")
}

func TestDiagnoseTimeoutYieldsUnknownWithViolation(t *testing.T) {
	catalog := probes.NewCatalog(cpmSpikeStore())
	o := NewOrchestrator(catalog, llm.NewRuleClient(), Config{PerAnomalyTimeout: time.Nanosecond})

	v := o.Diagnose(context.Background(), "wh", testAnomaly(), 30)

	assert.Equal(t, domain.CauseUnknown, v.Cause)
	assert.Contains(t, v.Violations, "timeout")
}

func TestDiagnoseAllDedupesByAd(t *testing.T) {
	catalog := probes.NewCatalog(cpmSpikeStore())
	o := NewOrchestrator(catalog, llm.NewRuleClient(), Config{Concurrency: 2})

	a1 := testAnomaly()
	a2 := testAnomaly()
	a2.Metric = domain.MetricCPA
	a2.ZScore = 2.4

	verdicts := o.DiagnoseAll(context.Background(), "wh", []domain.Anomaly{a1, a2}, 30)

	require.Len(t, verdicts, 1, "one diagnosis per ad identity")
	v := verdicts["ad-1"]
	assert.Equal(t, domain.MetricCPA, v.Metric, "the highest |z| anomaly leads")
}

func TestDiagnoseAllParallel(t *testing.T) {
	store := cpmSpikeStore()
	for d := 9; d >= 0; d-- {
		store.Add("wh", domain.AdRecord{
			AdID: "ad-2", AdName: "ad-2", Provider: "meta",
			Date:  anchor.AddDate(0, 0, -d),
			Spend: 100, ROAS: 2.7, CTR: 1.5, CPM: 12,
			Impressions: 10000, Clicks: 150, Conversions: 5,
		})
	}
	catalog := probes.NewCatalog(store)
	o := NewOrchestrator(catalog, llm.NewRuleClient(), Config{Concurrency: 4})

	a1 := testAnomaly()
	a2 := testAnomaly()
	a2.Ad.AdID = "ad-2"

	verdicts := o.DiagnoseAll(context.Background(), "wh", []domain.Anomaly{a1, a2}, 30)

	require.Len(t, verdicts, 2)
	assert.Equal(t, domain.CauseCPMSpike, verdicts["ad-1"].Cause)
	assert.NotEqual(t, domain.CauseCPMSpike, verdicts["ad-2"].Cause, "flat CPM must not implicate the auction")
}
