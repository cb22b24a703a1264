package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/openleads/kestrel/internal/cache"
	"github.com/openleads/kestrel/internal/domain"
	"github.com/openleads/kestrel/internal/rules"
	"github.com/openleads/kestrel/internal/velocity"
)

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	engine, err := rules.NewQualificationEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	for _, rule := range rules.DefaultRules() {
		if err := engine.AddRule(rule); err != nil {
			t.Fatalf("failed to add rule: %v", err)
		}
	}

	tagEngine, err := rules.NewTagEngine()
	if err != nil {
		t.Fatalf("failed to create tag engine: %v", err)
	}
	for _, rule := range rules.DefaultTagRules() {
		if err := tagEngine.AddTagRule(rule); err != nil {
			t.Fatalf("failed to add tag rule: %v", err)
		}
	}

	vel := velocity.NewService(nil, cache.NewLRUCache(100))
	return NewProcessor(engine, tagEngine, vel)
}

func TestProcessQualifiedLead(t *testing.T) {
	processor := newTestProcessor(t)

	decision, err := processor.Process(context.Background(), &Input{
		Lead: &domain.Lead{
			ID:    "lead-1",
			Email: "ada@example.com",
			Features: domain.FeatureRecord{
				"creditScore": 780.0,
				"income":      95000.0,
			},
		},
		TraceID:   "trace-1",
		StartTime: time.Now(),
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if decision.ID == "" {
		t.Error("decision has no ID")
	}
	if decision.LeadID != "lead-1" {
		t.Errorf("lead ID = %s", decision.LeadID)
	}
	if decision.Qualification == nil || !decision.Qualification.Qualified {
		t.Fatalf("expected qualification, got %+v", decision.Qualification)
	}
	if len(decision.Tags) == 0 {
		t.Error("expected tags")
	}
	if decision.Metadata.TraceID != "trace-1" {
		t.Errorf("trace ID = %s", decision.Metadata.TraceID)
	}
	if decision.Metadata.EngineVersion != EngineVersion {
		t.Errorf("engine version = %s", decision.Metadata.EngineVersion)
	}
	if decision.Metadata.RulesEvaluated != 5 || decision.Metadata.TagRulesEvaluated != 5 {
		t.Errorf("rule counts = (%d, %d), want (5, 5)",
			decision.Metadata.RulesEvaluated, decision.Metadata.TagRulesEvaluated)
	}
}

// Repeated submissions from the same contact raise the submission count
// until the rapid-resubmission rule flags the lead for review.
func TestProcessVelocityEnrichment(t *testing.T) {
	processor := newTestProcessor(t)
	lead := func() *domain.Lead {
		return &domain.Lead{
			ID:       "lead-2",
			Email:    "repeat@example.com",
			Features: domain.FeatureRecord{"creditScore": 700.0},
		}
	}

	var last *domain.Decision
	for i := 0; i < 4; i++ {
		decision, err := processor.Process(context.Background(), &Input{Lead: lead()})
		if err != nil {
			t.Fatalf("pass %d failed: %v", i, err)
		}
		last = decision
	}

	// Fourth submission: count 4 > 3 triggers the review rule.
	found := false
	for _, id := range last.Qualification.AppliedRules {
		if id == "rapid-resubmission-review" {
			found = true
		}
	}
	if !found {
		t.Errorf("resubmission rule not applied, rules = %v", last.Qualification.AppliedRules)
	}
	review := false
	for _, action := range last.Qualification.RequiredActions {
		if action.Action == "Manual review required" {
			review = true
		}
	}
	if !review {
		t.Error("resubmission rule should queue a manual review action")
	}
}

func TestOutcomeTopic(t *testing.T) {
	tests := []struct {
		name string
		qual *domain.QualificationResult
		want string
	}{
		{
			"qualified",
			&domain.QualificationResult{Qualified: true},
			domain.TopicLeadQualified,
		},
		{
			"vetoed",
			&domain.QualificationResult{Vetoed: true, Qualified: false},
			domain.TopicLeadDisqualified,
		},
		{
			"vetoed trumps review",
			&domain.QualificationResult{
				Vetoed: true,
				RequiredActions: []domain.RequiredAction{
					{Action: "Manual review required"},
				},
			},
			domain.TopicLeadDisqualified,
		},
		{
			"needs review",
			&domain.QualificationResult{
				RequiredActions: []domain.RequiredAction{
					{Action: "Manual review required", Priority: "high"},
				},
			},
			domain.TopicLeadReview,
		},
		{
			"disqualified",
			&domain.QualificationResult{Qualified: false, Score: 20},
			domain.TopicLeadDisqualified,
		},
		{"no qualification", nil, domain.TopicLeadReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OutcomeTopic(&domain.Decision{Qualification: tt.qual})
			if got != tt.want {
				t.Errorf("outcome = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProcessWithoutVelocityService(t *testing.T) {
	engine, err := rules.NewQualificationEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	tagEngine, err := rules.NewTagEngine()
	if err != nil {
		t.Fatalf("failed to create tag engine: %v", err)
	}
	processor := NewProcessor(engine, tagEngine, nil)

	features := domain.FeatureRecord{}
	decision, err := processor.Process(context.Background(), &Input{
		Lead: &domain.Lead{
			ID:       "lead-3",
			Email:    "no-velocity@example.com",
			Features: features,
		},
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if decision.Qualification == nil {
		t.Fatal("expected a qualification result")
	}
	if _, stamped := features["submissionCount"]; stamped {
		t.Error("submission count stamped without a velocity service")
	}
	// Empty engines still produce the contextual funnel stage tag.
	if len(decision.Tags) != 1 {
		t.Errorf("tags = %v, want only the funnel stage", decision.Tags)
	}
}
