package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/ground"
	"github.com/spendguard/spendguard/internal/llm"
	"github.com/spendguard/spendguard/internal/metrics"
)

const generatorPrompt = `You classify advertising spend. Given one ad's source facts as JSON,
respond with ONLY a JSON object matching the recommendation schema:
ad_id, action (SCALE|REDUCE|PAUSE|REFRESH_CREATIVE|MONITOR|WAIT), confidence
(HIGH|MEDIUM|LOW), metrics {spend, roas, days_active} copied exactly from the
facts, proposed_change_pct, proposed_new_spend, expected_revenue_change,
chain_of_thought {data_extracted, comparison, qualification {spend_ok, days_ok},
classification_logic {result}, confidence_rationale}, rationale.
Every number you cite must match the facts; derived numbers must recompute.`

// Summary aggregates one generation run.
type Summary struct {
	Total                 int                     `json:"total"`
	ByAction              map[domain.Action]int   `json:"by_action"`
	ByPriority            map[domain.Priority]int `json:"by_priority"`
	TotalPotentialSavings float64                 `json:"total_potential_savings"`
	TotalPotentialRevenue float64                 `json:"total_potential_revenue"`
	NetImpact             float64                 `json:"net_impact"`
	Degraded              int                     `json:"degraded"`
}

// Generator produces one Recommendation per ad in the session.
type Generator struct {
	client    llm.Client
	validator *ground.Validator
	retryMax  int
}

// NewGenerator wires the generator. client may be nil; the rule path is
// then the only path.
func NewGenerator(client llm.Client, validator *ground.Validator, retryMax int) *Generator {
	return &Generator{client: client, validator: validator, retryMax: retryMax}
}

// Generate classifies every ad. Verdicts (keyed by ad id) let the
// diagnosis override the table where it argues for it. With useModel
// set and a client present, reasoning is model-phrased but grounded; any
// ad whose model output fails validation degrades to the table with the
// violations attached.
func (g *Generator) Generate(ctx context.Context, summaries []domain.AdSummary, baselines domain.AccountBaseline, verdicts map[string]domain.RootCauseVerdict, useModel bool) ([]domain.Recommendation, Summary, error) {
	accountMeanROAS := 0.0
	if rb, ok := baselines.Metrics[domain.MetricROAS]; ok && rb.Sufficient {
		accountMeanROAS = rb.Mean
	}

	recs := make([]domain.Recommendation, 0, len(summaries))
	degraded := 0
	for _, s := range summaries {
		var verdict *domain.RootCauseVerdict
		if v, ok := verdicts[s.AdID]; ok {
			verdict = &v
		}

		rec := g.ruleRecommendation(s, accountMeanROAS, verdict)
		if useModel && g.client != nil {
			if modelRec, ok := g.modelRecommendation(ctx, s, accountMeanROAS, verdict); ok {
				rec = modelRec
			} else {
				degraded++
				metrics.DegradedOutputs.Inc()
				rec.Violations = append(rec.Violations, modelRec.Violations...)
			}
		}
		recs = append(recs, rec)
	}

	sortRecommendations(recs)
	return recs, summarize(recs, degraded), nil
}

// ruleRecommendation is the deterministic path and the degradation
// target.
func (g *Generator) ruleRecommendation(s domain.AdSummary, accountMeanROAS float64, verdict *domain.RootCauseVerdict) domain.Recommendation {
	c := ApplyVerdictOverride(ClassifyTable(s, accountMeanROAS), verdict)

	ratio := 0.0
	if accountMeanROAS > 0 {
		ratio = s.ROAS / accountMeanROAS
	}
	newSpend := s.Spend * (1 + c.ChangePct/100)

	rec := domain.Recommendation{
		AdID:                 s.AdID,
		AdName:               s.AdName,
		Provider:             s.Provider,
		Action:               c.Action,
		CurrentSpend:         s.Spend,
		ProposedChangePct:    c.ChangePct,
		ProposedNewSpend:     newSpend,
		ExpectedRevenueDelta: RevenueDelta(s.Spend, newSpend, s.ROAS),
		ObservedROAS:         s.ROAS,
		Confidence:           ConfidenceFor(c.Action, ratio),
		Priority:             PriorityFor(c.Action, ratio),
		Grade:                GradeFor(c.Action),
		Rationale:            c.Rationale,
	}
	if verdict != nil {
		rec.RootCause = verdict.Cause
	}
	return rec
}

// modelRecommendation drives the model through the validator. The bool
// reports whether a grounded document was obtained; on false the
// returned recommendation carries only the violations.
func (g *Generator) modelRecommendation(ctx context.Context, s domain.AdSummary, accountMeanROAS float64, verdict *domain.RootCauseVerdict) (domain.Recommendation, bool) {
	facts := ground.SourceFacts{
		AdID:            s.AdID,
		Spend:           s.Spend,
		ROAS:            s.ROAS,
		DaysActive:      s.DaysActive,
		AccountMeanROAS: accountMeanROAS,
		ZScore:          math.NaN(),
	}

	factsJSON, _ := json.Marshal(map[string]interface{}{
		"ad_id":             s.AdID,
		"spend":             s.Spend,
		"roas":              s.ROAS,
		"days_active":       s.DaysActive,
		"account_mean_roas": accountMeanROAS,
		"root_cause":        rootCauseOf(verdict),
	})

	doc, violations, ok, err := g.validator.Drive(ctx, g.retryMax, facts, func(ctx context.Context, feedback []string) (map[string]interface{}, error) {
		messages := []llm.Message{{Role: "user", Content: string(factsJSON)}}
		if len(feedback) > 0 {
			fb, _ := json.Marshal(feedback)
			messages = append(messages, llm.Message{
				Role:    "user",
				Content: fmt.Sprintf("Your previous output failed validation: %s. Emit a corrected JSON object.", fb),
			})
		}
		resp, cerr := g.client.Complete(ctx, llm.Request{System: generatorPrompt, Messages: messages})
		if cerr != nil {
			return nil, cerr
		}
		var parsed map[string]interface{}
		if uerr := json.Unmarshal([]byte(resp.Text), &parsed); uerr != nil {
			return map[string]interface{}{}, nil
		}
		return parsed, nil
	})
	if err != nil {
		log.Warn().Err(err).Str("ad_id", s.AdID).Msg("model recommendation unavailable; using rule path")
		return domain.Recommendation{Violations: []string{"model unavailable: " + err.Error()}}, false
	}
	if !ok {
		return domain.Recommendation{Violations: violations}, false
	}

	rec := recommendationFromDoc(doc, s, accountMeanROAS)
	if verdict != nil {
		rec.RootCause = verdict.Cause
	}
	return rec, true
}

// recommendationFromDoc lifts a validated model document into the typed
// recommendation. Validation already pinned every number to the facts.
func recommendationFromDoc(doc map[string]interface{}, s domain.AdSummary, accountMeanROAS float64) domain.Recommendation {
	str := func(key string) string { v, _ := doc[key].(string); return v }
	numOf := func(key string) float64 {
		v, _ := doc[key].(float64)
		return v
	}
	action := domain.Action(str("action"))
	ratio := 0.0
	if accountMeanROAS > 0 {
		ratio = s.ROAS / accountMeanROAS
	}

	return domain.Recommendation{
		AdID:                 s.AdID,
		AdName:               s.AdName,
		Provider:             s.Provider,
		Action:               action,
		CurrentSpend:         s.Spend,
		ProposedChangePct:    numOf("proposed_change_pct"),
		ProposedNewSpend:     numOf("proposed_new_spend"),
		ExpectedRevenueDelta: numOf("expected_revenue_change"),
		ObservedROAS:         s.ROAS,
		Confidence:           domain.Confidence(str("confidence")),
		Priority:             PriorityFor(action, ratio),
		Grade:                GradeFor(action),
		Rationale:            str("rationale"),
	}
}

func rootCauseOf(verdict *domain.RootCauseVerdict) string {
	if verdict == nil {
		return ""
	}
	return string(verdict.Cause)
}

func sortRecommendations(recs []domain.Recommendation) {
	rank := map[domain.Priority]int{
		domain.PriorityCritical: 0,
		domain.PriorityHigh:     1,
		domain.PriorityMedium:   2,
		domain.PriorityLow:      3,
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if rank[recs[i].Priority] != rank[recs[j].Priority] {
			return rank[recs[i].Priority] < rank[recs[j].Priority]
		}
		ii, ij := math.Abs(recs[i].ExpectedRevenueDelta), math.Abs(recs[j].ExpectedRevenueDelta)
		if ii != ij {
			return ii > ij
		}
		return recs[i].AdID < recs[j].AdID
	})
}

func summarize(recs []domain.Recommendation, degraded int) Summary {
	s := Summary{
		Total:      len(recs),
		ByAction:   make(map[domain.Action]int),
		ByPriority: make(map[domain.Priority]int),
		Degraded:   degraded,
	}
	for _, r := range recs {
		s.ByAction[r.Action]++
		s.ByPriority[r.Priority]++
		switch r.Action {
		case domain.ActionReduce, domain.ActionPause:
			s.TotalPotentialSavings += r.CurrentSpend - r.ProposedNewSpend
		case domain.ActionScale:
			s.TotalPotentialRevenue += r.ExpectedRevenueDelta
		}
	}
	s.TotalPotentialSavings = math.Round(s.TotalPotentialSavings)
	s.TotalPotentialRevenue = math.Round(s.TotalPotentialRevenue)
	s.NetImpact = s.TotalPotentialSavings + s.TotalPotentialRevenue
	return s
}
