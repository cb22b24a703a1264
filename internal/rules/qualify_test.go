package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/openleads/kestrel/internal/domain"
)

func newTestEngine(t *testing.T, ruleset []*domain.Rule) *QualificationEngine {
	t.Helper()
	engine, err := NewQualificationEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	for _, rule := range ruleset {
		if err := engine.AddRule(rule); err != nil {
			t.Fatalf("failed to add rule %s: %v", rule.ID, err)
		}
	}
	return engine
}

func TestAddRuleUpsert(t *testing.T) {
	engine := newTestEngine(t, nil)

	rule := &domain.Rule{
		ID:      "credit-check",
		Name:    "Credit check",
		Enabled: true,
		Conditions: []domain.Condition{
			{Field: "features.creditScore", Operator: domain.OpGreaterEqual, Value: 700, Weight: 30},
		},
		Actions: []domain.Action{
			{Type: domain.ActionQualify, Reasoning: "good credit"},
		},
	}

	if err := engine.AddRule(rule); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	created := engine.AllRules()[0].Created
	if created.IsZero() {
		t.Fatal("Created stamp not set on insert")
	}

	update := *rule
	update.Name = "Credit check v2"
	if err := engine.AddRule(&update); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if engine.RuleCount() != 1 {
		t.Fatalf("rule count after upsert = %d, want 1", engine.RuleCount())
	}
	got := engine.AllRules()[0]
	if got.Name != "Credit check v2" {
		t.Errorf("upsert did not replace rule body, name = %q", got.Name)
	}
	if !got.Created.Equal(created) {
		t.Errorf("upsert changed Created stamp: %v vs %v", got.Created, created)
	}
}

func TestAddRuleInvalidGuard(t *testing.T) {
	engine := newTestEngine(t, nil)

	rule := &domain.Rule{
		ID:         "bad-guard",
		Name:       "Bad guard",
		Enabled:    true,
		Expression: "features.creditScore >>> 700",
		Conditions: []domain.Condition{
			{Field: "features.creditScore", Operator: domain.OpGreaterEqual, Value: 700, Weight: 30},
		},
		Actions: []domain.Action{
			{Type: domain.ActionQualify, Reasoning: "good credit"},
		},
	}
	if err := engine.AddRule(rule); err == nil {
		t.Error("expected syntax error in guard expression to be rejected")
	}
	if engine.RuleCount() != 0 {
		t.Errorf("rejected rule was stored, count = %d", engine.RuleCount())
	}
}

func TestValidateRule(t *testing.T) {
	engine := newTestEngine(t, nil)

	t.Run("missing fields", func(t *testing.T) {
		err := engine.ValidateRule(&domain.Rule{ID: "incomplete"})
		if err == nil {
			t.Fatal("expected validation error")
		}
		if !strings.Contains(err.Error(), "name is required") {
			t.Errorf("error should name the missing field, got %v", err)
		}
	})

	t.Run("non-bool guard", func(t *testing.T) {
		err := engine.ValidateRule(&domain.Rule{
			ID:         "non-bool",
			Name:       "Non-bool guard",
			Expression: "1 + 1",
			Conditions: []domain.Condition{
				{Field: "features.x", Operator: domain.OpEqual, Value: 1, Weight: 1},
			},
			Actions: []domain.Action{
				{Type: domain.ActionQualify, Reasoning: "r"},
			},
		})
		if err == nil || !strings.Contains(err.Error(), "must return bool") {
			t.Errorf("expected bool output check to fail, got %v", err)
		}
	})

	t.Run("valid rule does not mutate", func(t *testing.T) {
		err := engine.ValidateRule(&domain.Rule{
			ID:   "ok",
			Name: "OK",
			Conditions: []domain.Condition{
				{Field: "features.x", Operator: domain.OpEqual, Value: 1, Weight: 1},
			},
			Actions: []domain.Action{
				{Type: domain.ActionQualify, Reasoning: "r"},
			},
		})
		if err != nil {
			t.Fatalf("unexpected validation error: %v", err)
		}
		if engine.RuleCount() != 0 {
			t.Error("ValidateRule must not store the rule")
		}
	})
}

func TestQualifyStrongProfile(t *testing.T) {
	engine := newTestEngine(t, DefaultRules())

	result, err := engine.Qualify(context.Background(), &domain.LeadContext{
		LeadID: "lead-1",
		Features: domain.FeatureRecord{
			"creditScore": 780.0,
			"income":      95000.0,
		},
	})
	if err != nil {
		t.Fatalf("qualify failed: %v", err)
	}

	if !result.Qualified {
		t.Error("strong credit profile should qualify")
	}
	if result.Score != 100 {
		t.Errorf("score = %v, want 100", result.Score)
	}
	if result.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5 (matched weight 50 / 100)", result.Confidence)
	}
	if result.Vetoed {
		t.Error("nothing vetoed this lead")
	}
	if len(result.AppliedRules) != 1 || result.AppliedRules[0] != "high-credit-profile" {
		t.Errorf("applied rules = %v, want [high-credit-profile]", result.AppliedRules)
	}
	if len(result.SuggestedTags) != 1 || result.SuggestedTags[0] != "prime_candidate" {
		t.Errorf("suggested tags = %v, want [prime_candidate]", result.SuggestedTags)
	}
	if len(result.Reasoning) == 0 {
		t.Error("expected reasoning for the matched rule")
	}
}

func TestQualifyFraudVeto(t *testing.T) {
	engine := newTestEngine(t, DefaultRules())

	result, err := engine.Qualify(context.Background(), &domain.LeadContext{
		LeadID: "lead-2",
		Features: domain.FeatureRecord{
			"creditScore": 780.0,
			"income":      95000.0,
		},
		AIScore: &domain.AIScore{
			ConversionProbability: 0.9,
			FraudRiskScore:        0.9,
		},
	})
	if err != nil {
		t.Fatalf("qualify failed: %v", err)
	}

	if !result.Vetoed {
		t.Fatal("fraud risk above 0.7 must set the veto flag")
	}
	if result.Qualified {
		t.Error("a vetoed lead can never qualify, regardless of score")
	}
	if result.Score < 75 {
		t.Errorf("veto should not suppress the score, got %v", result.Score)
	}
}

func TestQualifyAIScoreTiebreak(t *testing.T) {
	// A single 30-weight rule yields confidence 0.3, so the high-confidence
	// clause never applies and the decision falls to the model.
	ruleset := []*domain.Rule{{
		ID:       "solid-credit",
		Name:     "Solid credit",
		Enabled:  true,
		Priority: 50,
		Conditions: []domain.Condition{
			{Field: "features.creditScore", Operator: domain.OpGreaterEqual, Value: 700, Weight: 30},
		},
		Actions: []domain.Action{
			{Type: domain.ActionQualify, Reasoning: "credit above floor"},
		},
	}}

	lead := func(conv float64) *domain.LeadContext {
		return &domain.LeadContext{
			LeadID:   "lead-3",
			Features: domain.FeatureRecord{"creditScore": 720.0},
			AIScore:  &domain.AIScore{ConversionProbability: conv},
		}
	}

	engine := newTestEngine(t, ruleset)

	low, err := engine.Qualify(context.Background(), lead(0.5))
	if err != nil {
		t.Fatalf("qualify failed: %v", err)
	}
	if low.Qualified {
		t.Error("conversion probability 0.5 should fail the model clause")
	}

	high, err := engine.Qualify(context.Background(), lead(0.7))
	if err != nil {
		t.Fatalf("qualify failed: %v", err)
	}
	if !high.Qualified {
		t.Error("conversion probability 0.7 should pass the model clause")
	}
}

func TestQualifyScoreAdjustmentFallback(t *testing.T) {
	// Zero-weight conditions contribute no weight, so the adjusted score is
	// not overwritten by the weighted average.
	ruleset := []*domain.Rule{{
		ID:      "referral-bonus",
		Name:    "Referral bonus",
		Enabled: true,
		Conditions: []domain.Condition{
			{Field: "features.sourceChannel", Operator: domain.OpEqual, Value: "referral", Weight: 0},
		},
		Actions: []domain.Action{
			{Type: domain.ActionScoreAdjustment, Value: 45, Reasoning: "referral channel bonus"},
		},
	}}

	engine := newTestEngine(t, ruleset)
	result, err := engine.Qualify(context.Background(), &domain.LeadContext{
		LeadID:   "lead-4",
		Features: domain.FeatureRecord{"sourceChannel": "referral"},
	})
	if err != nil {
		t.Fatalf("qualify failed: %v", err)
	}

	if result.Score != 45 {
		t.Errorf("score = %v, want the adjusted 45", result.Score)
	}
	if result.Confidence != 0 {
		t.Errorf("confidence = %v, want 0 with no matched weight", result.Confidence)
	}
	if result.Qualified {
		t.Error("score 45 must not qualify")
	}
}

func TestQualifyNoRulesMatch(t *testing.T) {
	engine := newTestEngine(t, DefaultRules())

	result, err := engine.Qualify(context.Background(), &domain.LeadContext{
		LeadID:   "lead-5",
		Features: domain.FeatureRecord{"creditScore": 650.0},
	})
	if err != nil {
		t.Fatalf("qualify failed: %v", err)
	}

	if result.Qualified {
		t.Error("lead with no matched rules should not qualify")
	}
	if result.Score != 0 {
		t.Errorf("score = %v, want 0 with no matches and no adjustments", result.Score)
	}
	if len(result.AppliedRules) != 0 {
		t.Errorf("applied rules = %v, want none", result.AppliedRules)
	}
}

func TestQualifyGuardSkipsRule(t *testing.T) {
	ruleset := []*domain.Rule{{
		ID:         "vip-only",
		Name:       "VIP only",
		Enabled:    true,
		Expression: "has(features.vip) && features.vip == true",
		Conditions: []domain.Condition{
			{Field: "features.creditScore", Operator: domain.OpGreaterEqual, Value: 600, Weight: 30},
		},
		Actions: []domain.Action{
			{Type: domain.ActionQualify, Reasoning: "vip fast path"},
		},
	}}

	engine := newTestEngine(t, ruleset)

	plain, err := engine.Qualify(context.Background(), &domain.LeadContext{
		LeadID:   "lead-6",
		Features: domain.FeatureRecord{"creditScore": 700.0},
	})
	if err != nil {
		t.Fatalf("qualify failed: %v", err)
	}
	if len(plain.AppliedRules) != 0 {
		t.Errorf("guard should skip rule without vip flag, applied = %v", plain.AppliedRules)
	}

	vip, err := engine.Qualify(context.Background(), &domain.LeadContext{
		LeadID:   "lead-7",
		Features: domain.FeatureRecord{"creditScore": 700.0, "vip": true},
	})
	if err != nil {
		t.Fatalf("qualify failed: %v", err)
	}
	if len(vip.AppliedRules) != 1 {
		t.Errorf("guard should admit rule with vip flag, applied = %v", vip.AppliedRules)
	}
}

func TestQualifyRequiredActions(t *testing.T) {
	engine := newTestEngine(t, DefaultRules())

	result, err := engine.Qualify(context.Background(), &domain.LeadContext{
		LeadID: "lead-8",
		Features: domain.FeatureRecord{
			"creditScore": 800.0,
			"income":      150000.0,
		},
	})
	if err != nil {
		t.Fatalf("qualify failed: %v", err)
	}
	if !result.Qualified {
		t.Fatal("expected qualification")
	}

	if len(result.RequiredActions) < 2 {
		t.Fatalf("required actions = %v, want routing plus tagging", result.RequiredActions)
	}
	routing := result.RequiredActions[0]
	if routing.Action != "Route to sales agent" {
		t.Errorf("first action = %q, want routing", routing.Action)
	}
	if routing.Priority != "urgent" {
		t.Errorf("score 100 routing priority = %q, want urgent", routing.Priority)
	}
}

func TestQualifyNilContext(t *testing.T) {
	engine := newTestEngine(t, nil)
	if _, err := engine.Qualify(context.Background(), nil); err == nil {
		t.Error("expected error for nil lead context")
	}
}

func TestQualifyIdempotent(t *testing.T) {
	engine := newTestEngine(t, DefaultRules())
	lead := &domain.LeadContext{
		LeadID: "lead-9",
		Features: domain.FeatureRecord{
			"creditScore": 780.0,
			"income":      95000.0,
		},
	}

	first, err := engine.Qualify(context.Background(), lead)
	if err != nil {
		t.Fatalf("qualify failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := engine.Qualify(context.Background(), lead)
		if err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
		if again.Qualified != first.Qualified || again.Score != first.Score || again.Confidence != first.Confidence {
			t.Fatalf("run %d diverged: %+v vs %+v", i, again, first)
		}
	}
}

func TestRemoveAndReloadRules(t *testing.T) {
	engine := newTestEngine(t, DefaultRules())
	initial := engine.RuleCount()

	if !engine.RemoveRule("thin-file-review") {
		t.Fatal("expected removal of existing rule")
	}
	if engine.RemoveRule("thin-file-review") {
		t.Error("second removal should report false")
	}
	if engine.RuleCount() != initial-1 {
		t.Errorf("count after removal = %d, want %d", engine.RuleCount(), initial-1)
	}

	if err := engine.ReloadRules(DefaultRules()[:2]); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RuleCount() != 2 {
		t.Errorf("count after reload = %d, want 2", engine.RuleCount())
	}
}

func TestAllRulesInsertionOrder(t *testing.T) {
	ruleset := DefaultRules()
	engine := newTestEngine(t, ruleset)

	all := engine.AllRules()
	if len(all) != len(ruleset) {
		t.Fatalf("rule count = %d, want %d", len(all), len(ruleset))
	}
	for i, rule := range all {
		if rule.ID != ruleset[i].ID {
			t.Errorf("position %d = %s, want %s (insertion order)", i, rule.ID, ruleset[i].ID)
		}
	}
}

func TestQualifyDisabledRuleSkipped(t *testing.T) {
	rule := &domain.Rule{
		ID:      "disabled",
		Name:    "Disabled",
		Enabled: false,
		Conditions: []domain.Condition{
			{Field: "features.creditScore", Operator: domain.OpGreaterEqual, Value: 0, Weight: 30},
		},
		Actions: []domain.Action{
			{Type: domain.ActionQualify, Reasoning: "should never run"},
		},
	}
	engine := newTestEngine(t, []*domain.Rule{rule})

	result, err := engine.Qualify(context.Background(), &domain.LeadContext{
		LeadID:   "lead-10",
		Features: domain.FeatureRecord{"creditScore": 800.0},
	})
	if err != nil {
		t.Fatalf("qualify failed: %v", err)
	}
	if len(result.AppliedRules) != 0 {
		t.Errorf("disabled rule was applied: %v", result.AppliedRules)
	}
}
