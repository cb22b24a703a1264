package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/openleads/kestrel/internal/bus"
	"github.com/openleads/kestrel/internal/cache"
	"github.com/openleads/kestrel/internal/domain"
	"github.com/openleads/kestrel/internal/pipeline"
	"github.com/openleads/kestrel/internal/rules"
)

func newTestWorker(t *testing.T) (*Worker, *bus.ChannelBus, *cache.LRUCache) {
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

	b := bus.NewChannelBus(100)
	c := cache.NewLRUCache(100)
	processor := pipeline.NewProcessor(engine, tagEngine, nil)

	return NewWorker(b, nil, c, processor), b, c
}

func waitForDecision(t *testing.T, c *cache.LRUCache, leadID string) *domain.Decision {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		decision, err := c.GetDecision(context.Background(), leadID)
		if err != nil {
			t.Fatalf("cache read failed: %v", err)
		}
		if decision != nil {
			return decision
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no decision cached for %s", leadID)
	return nil
}

func TestWorkerProcessesCapturedLead(t *testing.T) {
	w, b, c := newTestWorker(t)
	defer b.Close()

	if err := w.Start(Config{DecisionTTL: time.Minute}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer w.Stop()

	decisions := make(chan *domain.Message, 1)
	if _, err := b.Subscribe(context.Background(), domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
		decisions <- msg
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	payload, _ := json.Marshal(LeadMessage{
		Lead: &domain.Lead{
			ID:    "lead-1",
			Email: "ada@example.com",
			Features: domain.FeatureRecord{
				"creditScore": 780.0,
				"income":      95000.0,
			},
		},
		TraceID: "trace-1",
	})
	if err := b.Publish(context.Background(), domain.TopicLeadCaptured, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	decision := waitForDecision(t, c, "lead-1")
	if decision.Qualification == nil || !decision.Qualification.Qualified {
		t.Errorf("expected qualified decision, got %+v", decision.Qualification)
	}
	if decision.Metadata.TraceID != "trace-1" {
		t.Errorf("trace ID = %s", decision.Metadata.TraceID)
	}

	select {
	case msg := <-decisions:
		var published domain.Decision
		if err := json.Unmarshal(msg.Payload, &published); err != nil {
			t.Fatalf("bad decision payload: %v", err)
		}
		if published.LeadID != "lead-1" {
			t.Errorf("published decision for %s", published.LeadID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("decision not published")
	}
}

func TestWorkerPublishesOutcomeTopic(t *testing.T) {
	w, b, c := newTestWorker(t)
	defer b.Close()

	if err := w.Start(Config{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer w.Stop()

	disqualified := make(chan *domain.Message, 1)
	if _, err := b.Subscribe(context.Background(), domain.TopicLeadDisqualified, func(ctx context.Context, msg *domain.Message) error {
		disqualified <- msg
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	payload, _ := json.Marshal(LeadMessage{
		Lead: &domain.Lead{
			ID:       "lead-2",
			Email:    "fraud@example.com",
			Features: domain.FeatureRecord{"creditScore": 780.0, "income": 95000.0},
		},
		AIScore: &domain.AIScore{ConversionProbability: 0.9, FraudRiskScore: 0.9},
	})
	if err := b.Publish(context.Background(), domain.TopicLeadCaptured, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	decision := waitForDecision(t, c, "lead-2")
	if !decision.Qualification.Vetoed {
		t.Fatal("expected a vetoed decision")
	}

	select {
	case <-disqualified:
	case <-time.After(2 * time.Second):
		t.Fatal("vetoed lead not announced on the disqualified topic")
	}
}

func TestWorkerIgnoresMalformedMessages(t *testing.T) {
	w, b, _ := newTestWorker(t)
	defer b.Close()

	if err := w.Start(Config{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer w.Stop()

	// Neither message should crash the worker.
	_ = b.Publish(context.Background(), domain.TopicLeadCaptured, []byte("not json"))
	_ = b.Publish(context.Background(), domain.TopicLeadCaptured, []byte(`{"lead":null}`))
	time.Sleep(100 * time.Millisecond)

	stats := w.GetStats()
	if stats.SubscriptionCount != 1 {
		t.Errorf("subscription count = %d, want 1", stats.SubscriptionCount)
	}
}

func TestWorkerStop(t *testing.T) {
	w, b, _ := newTestWorker(t)
	defer b.Close()

	if err := w.Start(Config{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 0 {
		t.Errorf("subscriptions after stop = %d, want 0", stats.SubscriptionCount)
	}
}
