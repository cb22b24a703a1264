// Package worker provides async lead processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/openleads/kestrel/internal/domain"
	"github.com/openleads/kestrel/internal/pipeline"
)

// Worker processes captured leads asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	cache     domain.Cache
	processor *pipeline.Processor

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// DecisionTTL is how long finished decisions stay cached.
	DecisionTTL time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, processor *pipeline.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		cache:     cache,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the lead captured topic and begins processing.
func (w *Worker) Start(cfg Config) error {
	ttl := cfg.DecisionTTL
	if ttl == 0 {
		ttl = time.Hour
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicLeadCaptured, func(ctx context.Context, msg *domain.Message) error {
		return w.processLead(ctx, msg, ttl)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicLeadCaptured,
	)

	return nil
}

// LeadMessage is the message payload for async lead processing.
type LeadMessage struct {
	Lead    *domain.Lead    `json:"lead"`
	AIScore *domain.AIScore `json:"aiScore,omitempty"`
	Anomaly map[string]any  `json:"anomalyDetection,omitempty"`
	TraceID string          `json:"traceId,omitempty"`
}

// processLead runs a captured lead through the decision pipeline.
func (w *Worker) processLead(ctx context.Context, msg *domain.Message, decisionTTL time.Duration) error {
	start := time.Now()

	var leadMsg LeadMessage
	if err := json.Unmarshal(msg.Payload, &leadMsg); err != nil {
		slog.Error("failed to parse lead message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if leadMsg.Lead == nil {
		slog.Error("lead message without lead", "message_id", msg.ID)
		return nil
	}

	traceID := leadMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing lead",
		"lead_id", leadMsg.Lead.ID,
		"trace_id", traceID,
	)

	decision, err := w.processor.Process(ctx, &pipeline.Input{
		Lead:      leadMsg.Lead,
		AIScore:   leadMsg.AIScore,
		Anomaly:   leadMsg.Anomaly,
		TraceID:   traceID,
		StartTime: start,
	})
	if err != nil {
		slog.Error("lead processing failed",
			"lead_id", leadMsg.Lead.ID,
			"error", err,
		)
		return err
	}

	if w.repo != nil {
		if err := w.repo.SaveDecision(ctx, decision); err != nil {
			slog.Error("failed to save decision",
				"lead_id", decision.LeadID,
				"error", err,
			)
		}
	}

	if w.cache != nil {
		if err := w.cache.SetDecision(ctx, decision.LeadID, decision, decisionTTL); err != nil {
			slog.Warn("failed to cache decision",
				"lead_id", decision.LeadID,
				"error", err,
			)
		}
	}

	payload, _ := json.Marshal(decision)
	if err := w.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision",
			"lead_id", decision.LeadID,
			"error", err,
		)
	}

	outcome := pipeline.OutcomeTopic(decision)
	if err := w.bus.Publish(ctx, outcome, payload); err != nil {
		slog.Error("failed to publish decision outcome",
			"lead_id", decision.LeadID,
			"topic", outcome,
			"error", err,
		)
	}

	if len(decision.Tags) > 0 {
		tagPayload, _ := json.Marshal(map[string]any{
			"leadId": decision.LeadID,
			"tags":   decision.Tags,
		})
		if err := w.bus.Publish(ctx, domain.TopicLeadTagged, tagPayload); err != nil {
			slog.Error("failed to publish tags",
				"lead_id", decision.LeadID,
				"error", err,
			)
		}
	}

	qualified := false
	var score float64
	if decision.Qualification != nil {
		qualified = decision.Qualification.Qualified
		score = decision.Qualification.Score
	}

	slog.Info("lead processed",
		"lead_id", decision.LeadID,
		"qualified", qualified,
		"score", score,
		"tags", len(decision.Tags),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
