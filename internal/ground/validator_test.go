package ground

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFacts() SourceFacts {
	return SourceFacts{
		AdID:            "ad-1",
		Spend:           88000,
		ROAS:            0,
		DaysActive:      45,
		AccountMeanROAS: 6.88,
		ZScore:          -3.44,
	}
}

// groundedDoc builds a document that validates against testFacts.
func groundedDoc() map[string]interface{} {
	return map[string]interface{}{
		"ad_id":      "ad-1",
		"action":     "PAUSE",
		"confidence": "HIGH",
		"metrics": map[string]interface{}{
			"spend":       88000.0,
			"roas":        0.0,
			"days_active": 45.0,
		},
		"proposed_change_pct":     -100.0,
		"proposed_new_spend":      0.0,
		"expected_revenue_change": 0.0,
		"chain_of_thought": map[string]interface{}{
			"data_extracted": map[string]interface{}{
				"spend": 88000.0, "roas": 0.0, "days": 45.0, "z_score": -3.44,
			},
			"comparison":           "ROAS 0.00 sits far below the account mean 6.88",
			"qualification":        map[string]interface{}{"spend_ok": true, "days_ok": true},
			"classification_logic": map[string]interface{}{"result": "PAUSE"},
			"confidence_rationale": "z-score of -3.44 is extreme",
		},
		"rationale": "Zero return on 88000 of spend across 45 days",
	}
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

func TestValidateGroundedDocPasses(t *testing.T) {
	v := newValidator(t)

	ok, violations := v.Validate(groundedDoc(), testFacts())
	assert.True(t, ok)
	assert.Empty(t, violations)
}

func TestValidateRoundTripIdempotent(t *testing.T) {
	// Re-serializing a validated object and validating again yields zero
	// violations.
	v := newValidator(t)
	doc := groundedDoc()
	ok, _ := v.Validate(doc, testFacts())
	require.True(t, ok)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	var again map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &again))

	ok, violations := v.Validate(again, testFacts())
	assert.True(t, ok)
	assert.Empty(t, violations)
}

func TestValidateViolations(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(doc map[string]interface{})
		fragment string
	}{
		{
			"missing required field",
			func(d map[string]interface{}) { delete(d, "rationale") },
			"schema",
		},
		{
			"action outside the closed set",
			func(d map[string]interface{}) { d["action"] = "YOLO" },
			"schema",
		},
		{
			"spend off by more than a dollar",
			func(d map[string]interface{}) {
				d["metrics"].(map[string]interface{})["spend"] = 88002.0
			},
			"spend mismatch",
		},
		{
			"wrong qualification flag",
			func(d map[string]interface{}) {
				d["chain_of_thought"].(map[string]interface{})["qualification"].(map[string]interface{})["spend_ok"] = false
			},
			"qualification.spend_ok",
		},
		{
			"chain result disagrees with action",
			func(d map[string]interface{}) {
				d["chain_of_thought"].(map[string]interface{})["classification_logic"].(map[string]interface{})["result"] = "SCALE"
			},
			"classification_logic",
		},
		{
			"z-score drift beyond tolerance",
			func(d map[string]interface{}) {
				d["chain_of_thought"].(map[string]interface{})["data_extracted"].(map[string]interface{})["z_score"] = -3.2
			},
			"z_score",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newValidator(t)
			doc := groundedDoc()
			tt.mutate(doc)

			ok, violations := v.Validate(doc, testFacts())
			assert.False(t, ok)
			require.NotEmpty(t, violations)
			found := false
			for _, viol := range violations {
				if strings.Contains(viol, tt.fragment) {
					found = true
				}
			}
			assert.True(t, found, "expected a violation mentioning %q, got %v", tt.fragment, violations)
		})
	}
}

func TestValidateArithmeticConsistency(t *testing.T) {
	v := newValidator(t)
	facts := SourceFacts{
		AdID: "ad-2", Spend: 212000, ROAS: 29.58, DaysActive: 30,
		AccountMeanROAS: 6.88, ZScore: math.NaN(),
	}
	doc := groundedDoc()
	doc["ad_id"] = "ad-2"
	doc["action"] = "SCALE"
	doc["metrics"] = map[string]interface{}{"spend": 212000.0, "roas": 29.58, "days_active": 30.0}
	doc["proposed_change_pct"] = 75.0
	doc["proposed_new_spend"] = 371000.0
	doc["expected_revenue_change"] = 4703220.0
	cot := doc["chain_of_thought"].(map[string]interface{})
	cot["data_extracted"] = map[string]interface{}{"spend": 212000.0, "roas": 29.58, "days": 30.0}
	cot["classification_logic"] = map[string]interface{}{"result": "SCALE"}

	ok, violations := v.Validate(doc, facts)
	assert.True(t, ok, "violations: %v", violations)

	// Breaking the derived quantity must be caught.
	doc["expected_revenue_change"] = 4000000.0
	ok, violations = v.Validate(doc, facts)
	assert.False(t, ok)
	assert.NotEmpty(t, violations)
}

func TestDriveRetriesWithFeedbackThenDegrades(t *testing.T) {
	v := newValidator(t)
	facts := testFacts()

	var feedbackSeen [][]string
	calls := 0
	doc, violations, ok, err := v.Drive(context.Background(), 2, facts, func(ctx context.Context, feedback []string) (map[string]interface{}, error) {
		feedbackSeen = append(feedbackSeen, feedback)
		calls++
		bad := groundedDoc()
		bad["metrics"].(map[string]interface{})["spend"] = 99999.0
		return bad, nil
	})

	require.NoError(t, err)
	assert.False(t, ok, "three failures exhaust the retry budget")
	assert.Equal(t, 3, calls)
	assert.NotNil(t, doc)
	assert.NotEmpty(t, violations, "the degraded output carries the violations")
	assert.Nil(t, feedbackSeen[0], "first attempt gets no feedback")
	assert.NotEmpty(t, feedbackSeen[1], "retries carry the violation list")
}

func TestDriveSucceedsAfterCorrection(t *testing.T) {
	v := newValidator(t)
	facts := testFacts()

	calls := 0
	doc, violations, ok, err := v.Drive(context.Background(), 2, facts, func(ctx context.Context, feedback []string) (map[string]interface{}, error) {
		calls++
		if calls == 1 {
			bad := groundedDoc()
			delete(bad, "rationale")
			return bad, nil
		}
		return groundedDoc(), nil
	})

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, violations)
	assert.Equal(t, 2, calls)
	assert.NotNil(t, doc)
}
