package rules

import "github.com/openleads/kestrel/internal/domain"

// DefaultRules returns the starter qualification rule set installed on
// first boot when the repository holds no rules. Operators are expected
// to replace these via the rules API.
func DefaultRules() []*domain.Rule {
	return []*domain.Rule{
		{
			ID:       "fraud-risk-veto",
			Name:     "Fraud risk veto",
			Enabled:  true,
			Priority: 95,
			Conditions: []domain.Condition{
				{Field: "aiScore.fraudRiskScore", Operator: domain.OpGreaterThan, Value: 0.7, Weight: 40},
			},
			Actions: []domain.Action{
				{Type: domain.ActionDisqualify, Reasoning: "disqualified: model fraud risk above 0.7"},
			},
		},
		{
			ID:       "high-credit-profile",
			Name:     "High credit profile",
			Enabled:  true,
			Priority: 90,
			Conditions: []domain.Condition{
				{Field: "features.creditScore", Operator: domain.OpGreaterEqual, Value: 720, Weight: 30},
				{Field: "features.income", Operator: domain.OpGreaterEqual, Value: 50000, Weight: 20},
			},
			Actions: []domain.Action{
				{Type: domain.ActionQualify, Reasoning: "strong credit profile"},
				{Type: domain.ActionTag, Value: []any{"prime_candidate"}, Reasoning: "prime segment tag"},
			},
		},
		{
			ID:       "paid-channel-routing",
			Name:     "Paid channel routing",
			Enabled:  true,
			Priority: 70,
			Conditions: []domain.Condition{
				{Field: "features.sourceChannel", Operator: domain.OpIn, Value: []any{"paid_social", "paid_search"}, Weight: 10},
			},
			Actions: []domain.Action{
				{Type: domain.ActionRoute, Value: "performance-team", Reasoning: "paid acquisition leads go to the performance team"},
				{Type: domain.ActionScoreAdjustment, Value: 5, Reasoning: "paid channel intent bonus"},
			},
		},
		{
			ID:       "rapid-resubmission-review",
			Name:     "Rapid resubmission review",
			Enabled:  true,
			Priority: 85,
			Conditions: []domain.Condition{
				{Field: "features.submissionCount", Operator: domain.OpGreaterThan, Value: 3, Weight: 25},
			},
			Actions: []domain.Action{
				{Type: domain.ActionReview, Reasoning: "multiple submissions from the same contact in a short window"},
				{Type: domain.ActionTag, Value: "duplicate_suspect", Reasoning: "possible duplicate lead"},
			},
		},
		{
			ID:       "thin-file-review",
			Name:     "Thin credit file review",
			Enabled:  true,
			Priority: 60,
			Conditions: []domain.Condition{
				{Field: "features.creditScore", Operator: domain.OpLessThan, Value: 580, Weight: 15},
			},
			Actions: []domain.Action{
				{Type: domain.ActionReview, Reasoning: "credit score below lending floor, needs manual review"},
			},
		},
	}
}

// DefaultTagRules returns the starter tag rule set.
func DefaultTagRules() []*domain.TagRule {
	return []*domain.TagRule{
		{
			ID:       "tag-high-credit",
			Name:     "High credit score",
			Enabled:  true,
			Priority: 80,
			Conditions: []domain.Condition{
				{Field: "features.creditScore", Operator: domain.OpGreaterEqual, Value: 720, Weight: 30},
			},
			Tag:        "high_credit",
			Category:   domain.CategoryQuality,
			Confidence: 0.9,
		},
		{
			ID:       "tag-subprime-credit",
			Name:     "Subprime credit score",
			Enabled:  true,
			Priority: 75,
			Conditions: []domain.Condition{
				{Field: "features.creditScore", Operator: domain.OpLessThan, Value: 580, Weight: 25},
			},
			Tag:        "subprime_credit",
			Category:   domain.CategoryRisk,
			Confidence: 0.85,
		},
		{
			ID:       "tag-prime-segment",
			Name:     "Prime segment",
			Enabled:  true,
			Priority: 85,
			Expression: "has(features.income) && features.income >= 120000.0",
			Conditions: []domain.Condition{
				{Field: "features.creditScore", Operator: domain.OpGreaterEqual, Value: 760, Weight: 25},
			},
			Tag:        "prime_segment",
			Category:   domain.CategoryQuality,
			Confidence: 0.95,
		},
		{
			ID:       "tag-high-income",
			Name:     "High income",
			Enabled:  true,
			Priority: 70,
			Conditions: []domain.Condition{
				{Field: "features.income", Operator: domain.OpGreaterEqual, Value: 100000, Weight: 20},
			},
			Tag:        "high_income",
			Category:   domain.CategoryDemographics,
			Confidence: 0.8,
		},
		{
			ID:       "tag-organic-lead",
			Name:     "Organic acquisition",
			Enabled:  true,
			Priority: 50,
			Conditions: []domain.Condition{
				{Field: "features.sourceChannel", Operator: domain.OpEqual, Value: "organic", Weight: 10},
			},
			Tag:        "organic_lead",
			Category:   domain.CategorySource,
			Confidence: 0.7,
		},
	}
}
