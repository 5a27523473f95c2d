// Package ground validates model-produced structured output against the
// source facts it claims to cite. The validator is stateless and
// deterministic: schema completeness, enumeration membership, numeric
// grounding within declared tolerances, reasoning-chain completeness,
// and arithmetic consistency. Model output that contradicts the data
// never leaves this package unflagged.
package ground

import (
	"context"
	"fmt"
	"math"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/spendguard/spendguard/internal/metrics"
)

// Tolerances for numeric grounding.
const (
	TolSpendAbs = 1.0  // dollars, absolute
	TolRatioRel = 0.01 // ROAS / CTR / CPA, relative
	TolZAbs     = 0.05 // z-scores, absolute
)

// recommendationSchema is the contract for one model-classified ad. The
// chain_of_thought block must carry all five reasoning steps.
const recommendationSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["ad_id", "action", "confidence", "metrics", "proposed_change_pct", "proposed_new_spend", "expected_revenue_change", "chain_of_thought", "rationale"],
	"properties": {
		"ad_id": {"type": "string", "minLength": 1},
		"action": {"enum": ["SCALE", "REDUCE", "PAUSE", "REFRESH_CREATIVE", "MONITOR", "WAIT"]},
		"confidence": {"enum": ["HIGH", "MEDIUM", "LOW"]},
		"metrics": {
			"type": "object",
			"required": ["spend", "roas", "days_active"],
			"properties": {
				"spend": {"type": "number"},
				"roas": {"type": "number"},
				"days_active": {"type": "number"}
			}
		},
		"proposed_change_pct": {"type": "number"},
		"proposed_new_spend": {"type": "number"},
		"expected_revenue_change": {"type": "number"},
		"chain_of_thought": {
			"type": "object",
			"required": ["data_extracted", "comparison", "qualification", "classification_logic", "confidence_rationale"],
			"properties": {
				"data_extracted": {"type": "object"},
				"comparison": {"type": "string"},
				"qualification": {
					"type": "object",
					"required": ["spend_ok", "days_ok"],
					"properties": {
						"spend_ok": {"type": "boolean"},
						"days_ok": {"type": "boolean"}
					}
				},
				"classification_logic": {
					"type": "object",
					"required": ["result"],
					"properties": {"result": {"type": "string"}}
				},
				"confidence_rationale": {"type": "string"}
			}
		},
		"rationale": {"type": "string", "minLength": 1}
	}
}`

// Qualification thresholds the chain must reflect.
const (
	QualifyMinSpend = 1000.0
	QualifyMinDays  = 7
)

// SourceFacts are the ground-truth numbers a model output must cite.
type SourceFacts struct {
	AdID            string
	Spend           float64
	ROAS            float64
	DaysActive      int
	AccountMeanROAS float64
	// ZScore is NaN when the ad carried no anomaly.
	ZScore float64
}

// Validator checks one document class against its facts.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the recommendation schema.
func NewValidator() (*Validator, error) {
	sch, err := jsonschema.CompileString("recommendation.schema.json", recommendationSchema)
	if err != nil {
		return nil, fmt.Errorf("compile recommendation schema: %w", err)
	}
	return &Validator{schema: sch}, nil
}

// Validate returns whether doc is grounded in facts, plus every
// violation found. It never stops at the first problem; retry feedback
// needs the complete list.
func (v *Validator) Validate(doc map[string]interface{}, facts SourceFacts) (bool, []string) {
	var violations []string

	if err := v.schema.Validate(interface{}(doc)); err != nil {
		violations = append(violations, fmt.Sprintf("schema: %v", err))
		// Field checks below tolerate missing keys, so keep going.
	}

	if id, _ := doc["ad_id"].(string); id != "" && id != facts.AdID {
		violations = append(violations, fmt.Sprintf("ad_id %q does not match source %q", id, facts.AdID))
	}

	metrics, _ := doc["metrics"].(map[string]interface{})
	citedSpend, hasSpend := num(metrics, "spend")
	citedROAS, hasROAS := num(metrics, "roas")
	citedDays, hasDays := num(metrics, "days_active")

	if hasSpend && math.Abs(citedSpend-facts.Spend) > TolSpendAbs {
		violations = append(violations, fmt.Sprintf("spend mismatch: cited %.2f, source %.2f", citedSpend, facts.Spend))
	}
	if hasROAS && !withinRel(citedROAS, facts.ROAS, TolRatioRel) {
		violations = append(violations, fmt.Sprintf("roas mismatch: cited %.4f, source %.4f", citedROAS, facts.ROAS))
	}
	if hasDays && int(citedDays) != facts.DaysActive {
		violations = append(violations, fmt.Sprintf("days_active mismatch: cited %d, source %d", int(citedDays), facts.DaysActive))
	}

	cot, _ := doc["chain_of_thought"].(map[string]interface{})
	if cot != nil {
		violations = append(violations, validateChain(cot, doc, facts)...)
	}

	violations = append(violations, validateArithmetic(doc, facts)...)

	return len(violations) == 0, violations
}

// validateChain checks the reasoning content is grounded and internally
// consistent with the classification.
func validateChain(cot, doc map[string]interface{}, facts SourceFacts) []string {
	var violations []string

	if extracted, ok := cot["data_extracted"].(map[string]interface{}); ok {
		if s, has := num(extracted, "spend"); has && math.Abs(s-facts.Spend) > TolSpendAbs {
			violations = append(violations, fmt.Sprintf("chain data_extracted.spend %.2f does not match source %.2f", s, facts.Spend))
		}
		if r, has := num(extracted, "roas"); has && !withinRel(r, facts.ROAS, TolRatioRel) {
			violations = append(violations, fmt.Sprintf("chain data_extracted.roas %.4f does not match source %.4f", r, facts.ROAS))
		}
		if d, has := num(extracted, "days"); has && int(d) != facts.DaysActive {
			violations = append(violations, fmt.Sprintf("chain data_extracted.days %d does not match source %d", int(d), facts.DaysActive))
		}
		if z, has := num(extracted, "z_score"); has && !math.IsNaN(facts.ZScore) && math.Abs(z-facts.ZScore) > TolZAbs {
			violations = append(violations, fmt.Sprintf("chain data_extracted.z_score %.3f does not match source %.3f", z, facts.ZScore))
		}
	}

	if qual, ok := cot["qualification"].(map[string]interface{}); ok {
		wantSpendOK := facts.Spend >= QualifyMinSpend
		wantDaysOK := facts.DaysActive >= QualifyMinDays
		if got, ok := qual["spend_ok"].(bool); ok && got != wantSpendOK {
			violations = append(violations, fmt.Sprintf("chain qualification.spend_ok=%v but spend=%.2f (threshold %.0f)", got, facts.Spend, QualifyMinSpend))
		}
		if got, ok := qual["days_ok"].(bool); ok && got != wantDaysOK {
			violations = append(violations, fmt.Sprintf("chain qualification.days_ok=%v but days_active=%d (threshold %d)", got, facts.DaysActive, QualifyMinDays))
		}
	}

	if logic, ok := cot["classification_logic"].(map[string]interface{}); ok {
		result, _ := logic["result"].(string)
		action, _ := doc["action"].(string)
		if result != "" && action != "" && result != action {
			violations = append(violations, fmt.Sprintf("chain classification_logic.result=%q does not match action=%q", result, action))
		}
	}

	return violations
}

// validateArithmetic recomputes derived quantities from the cited inputs.
func validateArithmetic(doc map[string]interface{}, facts SourceFacts) []string {
	var violations []string

	pct, hasPct := num(doc, "proposed_change_pct")
	newSpend, hasNew := num(doc, "proposed_new_spend")
	delta, hasDelta := num(doc, "expected_revenue_change")

	if hasPct && hasNew {
		want := facts.Spend * (1 + pct/100)
		if math.Abs(newSpend-want) > TolSpendAbs {
			violations = append(violations, fmt.Sprintf("proposed_new_spend %.2f inconsistent with %+.1f%% of %.2f (want %.2f)", newSpend, pct, facts.Spend, want))
		}
	}
	if hasNew && hasDelta {
		want := math.Round((newSpend - facts.Spend) * facts.ROAS)
		tol := math.Max(TolSpendAbs, math.Abs(want)*TolRatioRel)
		if math.Abs(delta-want) > tol {
			violations = append(violations, fmt.Sprintf("expected_revenue_change %.2f does not equal (%.2f - %.2f) x %.4f = %.2f", delta, newSpend, facts.Spend, facts.ROAS, want))
		}
	}

	return violations
}

// Drive runs call with retry-with-feedback semantics: on a validation
// failure the violations are passed back, up to retryMax retries. The
// final return reports whether any attempt validated; the last
// document and violations come back either way so the caller can
// degrade deterministically.
func (v *Validator) Drive(ctx context.Context, retryMax int, facts SourceFacts, call func(ctx context.Context, feedback []string) (map[string]interface{}, error)) (map[string]interface{}, []string, bool, error) {
	var feedback []string
	var lastDoc map[string]interface{}
	var lastViolations []string

	for attempt := 0; attempt <= retryMax; attempt++ {
		doc, err := call(ctx, feedback)
		if err != nil {
			return nil, nil, false, err
		}
		ok, violations := v.Validate(doc, facts)
		if ok {
			return doc, nil, true, nil
		}
		metrics.ValidatorFailures.Inc()
		lastDoc, lastViolations = doc, violations
		feedback = violations
	}
	return lastDoc, lastViolations, false, nil
}

func num(m map[string]interface{}, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func withinRel(got, want, tol float64) bool {
	if want == 0 {
		return math.Abs(got) <= tol
	}
	return math.Abs(got-want) <= math.Abs(want)*tol
}
