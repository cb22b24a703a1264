// Package pipeline runs a captured lead through the full decision pass:
// velocity enrichment, qualification, tagging and decision assembly.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/openleads/kestrel/internal/domain"
	"github.com/openleads/kestrel/internal/rules"
	"github.com/openleads/kestrel/internal/velocity"
)

// EngineVersion is stamped into decision metadata.
const EngineVersion = "kestrel-1.0"

// DefaultVelocityWindow bounds the submission count lookback.
const DefaultVelocityWindow = time.Hour

// Processor orchestrates one decision pass. It is shared between the
// synchronous API path and the async worker so both produce identical
// decisions for the same lead.
type Processor struct {
	engine    *rules.QualificationEngine
	tagEngine *rules.TagEngine
	velocity  *velocity.Service

	// VelocityWindow is the lookback used for features.submissionCount.
	VelocityWindow time.Duration
}

// NewProcessor creates a decision processor. The velocity service is
// optional; without it leads are evaluated without a submission count.
func NewProcessor(engine *rules.QualificationEngine, tagEngine *rules.TagEngine, vel *velocity.Service) *Processor {
	return &Processor{
		engine:         engine,
		tagEngine:      tagEngine,
		velocity:       vel,
		VelocityWindow: DefaultVelocityWindow,
	}
}

// Input contains everything one decision pass needs.
type Input struct {
	Lead    *domain.Lead
	AIScore *domain.AIScore
	Anomaly map[string]any

	TraceID   string
	StartTime time.Time
}

// Process evaluates a lead and assembles the decision. Qualification and
// tagging are each all-or-nothing: an error from either aborts the pass
// with no partial decision.
func (p *Processor) Process(ctx context.Context, input *Input) (*domain.Decision, error) {
	lead := input.Lead

	if p.velocity != nil && lead.Email != "" {
		p.velocity.Enrich(ctx, lead.Email, lead.Features, p.VelocityWindow)
	}

	leadCtx := &domain.LeadContext{
		LeadID:   lead.ID,
		Features: lead.Features,
		AIScore:  input.AIScore,
		Anomaly:  input.Anomaly,
	}

	qualifyStart := time.Now()
	qualification, err := p.engine.Qualify(ctx, leadCtx)
	if err != nil {
		return nil, err
	}
	qualifyMs := time.Since(qualifyStart).Milliseconds()

	tagStart := time.Now()
	tags, err := p.tagEngine.GenerateTags(ctx, leadCtx)
	if err != nil {
		return nil, err
	}
	tagMs := time.Since(tagStart).Milliseconds()

	startTime := input.StartTime
	if startTime.IsZero() {
		startTime = qualifyStart
	}

	return &domain.Decision{
		ID:            uuid.New().String(),
		LeadID:        lead.ID,
		Qualification: qualification,
		Tags:          tags,
		Timestamp:     time.Now().UTC(),
		Metadata: domain.DecisionMetadata{
			TraceID:           input.TraceID,
			QualifyMs:         qualifyMs,
			TagMs:             tagMs,
			TotalMs:           time.Since(startTime).Milliseconds(),
			RulesEvaluated:    p.engine.RuleCount(),
			TagRulesEvaluated: p.tagEngine.TagRuleCount(),
			EngineVersion:     EngineVersion,
		},
	}, nil
}

// OutcomeTopic returns the event topic a finished decision should be
// announced on, alongside the unconditional decision topic.
func OutcomeTopic(decision *domain.Decision) string {
	q := decision.Qualification
	if q == nil {
		return domain.TopicLeadReview
	}
	switch {
	case q.Vetoed:
		return domain.TopicLeadDisqualified
	case q.Qualified:
		return domain.TopicLeadQualified
	case needsReview(q):
		return domain.TopicLeadReview
	default:
		return domain.TopicLeadDisqualified
	}
}

func needsReview(q *domain.QualificationResult) bool {
	for _, action := range q.RequiredActions {
		if action.Action == "Manual review required" {
			return true
		}
	}
	return false
}
