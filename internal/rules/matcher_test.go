package rules

import (
	"math"
	"testing"

	"github.com/openleads/kestrel/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMatchConditionsAllMatch(t *testing.T) {
	record := domain.FeatureRecord{
		"features": map[string]any{
			"creditScore": 780.0,
			"income":      95000.0,
		},
	}
	conditions := []domain.Condition{
		{Field: "features.creditScore", Operator: domain.OpGreaterEqual, Value: 720, Weight: 30},
		{Field: "features.income", Operator: domain.OpGreaterEqual, Value: 50000, Weight: 20},
	}

	result := MatchConditions(conditions, record, QualifyMatchThreshold)

	if !result.Matched {
		t.Fatal("expected rule to match")
	}
	if !almostEqual(result.Score, 100) {
		t.Errorf("full match score = %v, want 100", result.Score)
	}
	if result.Weight != 50 {
		t.Errorf("matched weight = %v, want 50", result.Weight)
	}
	if result.ConditionsMet != 2 {
		t.Errorf("conditions met = %d, want 2", result.ConditionsMet)
	}
	if len(result.Reasoning) != 2 {
		t.Errorf("reasoning entries = %d, want 2", len(result.Reasoning))
	}
}

func TestMatchConditionsBelowThreshold(t *testing.T) {
	record := domain.FeatureRecord{
		"features": map[string]any{
			"creditScore": 780.0,
		},
	}
	conditions := []domain.Condition{
		{Field: "features.creditScore", Operator: domain.OpGreaterEqual, Value: 720, Weight: 30},
		{Field: "features.income", Operator: domain.OpGreaterEqual, Value: 50000, Weight: 20},
	}

	// 1 of 2 conditions is a 50% ratio, below the 70% qualify threshold.
	result := MatchConditions(conditions, record, QualifyMatchThreshold)

	if result.Matched {
		t.Fatal("expected rule not to match at 50% ratio")
	}
	if result.Score != unmatchedScore {
		t.Errorf("unmatched score = %v, want %v", result.Score, float64(unmatchedScore))
	}
	if result.Weight != 30 {
		t.Errorf("matched weight = %v, want 30 (only matched conditions count)", result.Weight)
	}
}

func TestMatchConditionsTagThreshold(t *testing.T) {
	record := domain.FeatureRecord{
		"features": map[string]any{
			"pageViews":       12.0,
			"sessionDuration": 100.0,
		},
	}
	conditions := []domain.Condition{
		{Field: "features.pageViews", Operator: domain.OpGreaterThan, Value: 10, Weight: 20},
		{Field: "features.sessionDuration", Operator: domain.OpGreaterThan, Value: 50, Weight: 20},
		{Field: "features.income", Operator: domain.OpGreaterEqual, Value: 50000, Weight: 20},
	}

	// 2 of 3 is 66.7%: enough for a tag rule, not for a qualification rule.
	tag := MatchConditions(conditions, record, TagMatchThreshold)
	if !tag.Matched {
		t.Error("expected 2/3 ratio to match at tag threshold 0.6")
	}

	qualify := MatchConditions(conditions, record, QualifyMatchThreshold)
	if qualify.Matched {
		t.Error("expected 2/3 ratio not to match at qualify threshold 0.7")
	}
}

func TestMatchConditionsEmpty(t *testing.T) {
	result := MatchConditions(nil, domain.FeatureRecord{}, QualifyMatchThreshold)
	if result.Matched {
		t.Error("rule with no conditions must not match")
	}
	if result.Score != unmatchedScore {
		t.Errorf("empty rule score = %v, want %v", result.Score, float64(unmatchedScore))
	}
}

func TestMatchScoreBand(t *testing.T) {
	tests := []struct {
		ratio     float64
		threshold float64
		want      float64
	}{
		{1.0, 0.7, 100},
		{0.7, 0.7, 80},
		{0.85, 0.7, 90},
		{1.0, 0.6, 100},
		{0.6, 0.6, 80},
		{1.0, 1.0, 100}, // degenerate span
	}
	for _, tt := range tests {
		got := matchScore(tt.ratio, tt.threshold)
		if !almostEqual(got, tt.want) {
			t.Errorf("matchScore(%v, %v) = %v, want %v", tt.ratio, tt.threshold, got, tt.want)
		}
	}
}

// Matching is a pure function of its inputs; running the same conditions
// over the same record must always produce the same result.
func TestMatchConditionsIdempotent(t *testing.T) {
	record := domain.FeatureRecord{
		"features": map[string]any{
			"creditScore": 780.0,
			"income":      95000.0,
		},
	}
	conditions := []domain.Condition{
		{Field: "features.creditScore", Operator: domain.OpGreaterEqual, Value: 720, Weight: 30},
		{Field: "features.income", Operator: domain.OpGreaterEqual, Value: 50000, Weight: 20},
	}

	first := MatchConditions(conditions, record, QualifyMatchThreshold)
	for i := 0; i < 10; i++ {
		again := MatchConditions(conditions, record, QualifyMatchThreshold)
		if again.Matched != first.Matched || again.Score != first.Score || again.Weight != first.Weight {
			t.Fatalf("run %d diverged: %+v vs %+v", i, again, first)
		}
	}
}
