package domain

import (
	"time"
)

// RequiredAction is an operational follow-up attached to a decision.
type RequiredAction struct {
	Action   string `json:"action"`
	Priority string `json:"priority"` // "urgent", "high", "medium", "low"
	Deadline string `json:"deadline"` // e.g. "within 15 minutes"
}

// QualificationResult is the outcome of one qualification pass.
// It is built incrementally while rules execute and is immutable once
// returned; the engine holds no per-lead state between calls.
type QualificationResult struct {
	LeadID     string  `json:"leadId"`
	Qualified  bool    `json:"qualified"`
	Confidence float64 `json:"confidence"`
	Score      float64 `json:"score"`

	// Vetoed is set by a disqualify action and overrides every other
	// qualification signal.
	Vetoed bool `json:"vetoed"`

	Reasoning             []string         `json:"reasoning"`
	AppliedRules          []string         `json:"appliedRules"`
	SuggestedTags         []string         `json:"suggestedTags,omitempty"`
	RoutingRecommendation string           `json:"routingRecommendation,omitempty"`
	RequiredActions       []RequiredAction `json:"requiredActions,omitempty"`
}

// TagResult is one derived tag with its provenance.
type TagResult struct {
	Tag          string      `json:"tag"`
	Confidence   float64     `json:"confidence"`
	Reasoning    string      `json:"reasoning"`
	Category     TagCategory `json:"category"`
	Priority     int         `json:"priority"`
	AppliedRules []string    `json:"appliedRules,omitempty"`
}

// DecisionMetadata carries processing information for a stored decision.
type DecisionMetadata struct {
	TraceID           string `json:"traceId,omitempty"`
	QualifyMs         int64  `json:"qualifyMs"`
	TagMs             int64  `json:"tagMs"`
	TotalMs           int64  `json:"totalMs"`
	RulesEvaluated    int    `json:"rulesEvaluated"`
	TagRulesEvaluated int    `json:"tagRulesEvaluated"`
	EngineVersion     string `json:"engineVersion"`
}

// Decision is the persisted result of one full pipeline pass over a lead.
type Decision struct {
	ID            string               `json:"id"`
	LeadID        string               `json:"leadId"`
	Qualification *QualificationResult `json:"qualification"`
	Tags          []TagResult          `json:"tags,omitempty"`
	Timestamp     time.Time            `json:"timestamp"`
	Metadata      DecisionMetadata     `json:"metadata"`
}

// DecisionResponse is the API response for a lead evaluation.
type DecisionResponse struct {
	DecisionID      string           `json:"decisionId"`
	LeadID          string           `json:"leadId"`
	Qualified       bool             `json:"qualified"`
	Score           float64          `json:"score"`
	Confidence      float64          `json:"confidence"`
	Reasoning       []string         `json:"reasoning,omitempty"`
	Tags            []TagResult      `json:"tags,omitempty"`
	Routing         string           `json:"routingRecommendation,omitempty"`
	RequiredActions []RequiredAction `json:"requiredActions,omitempty"`
	Metadata        DecisionMetadata `json:"metadata"`
}

// ToResponse converts a Decision to an API response.
func (d *Decision) ToResponse() *DecisionResponse {
	resp := &DecisionResponse{
		DecisionID: d.ID,
		LeadID:     d.LeadID,
		Tags:       d.Tags,
		Metadata:   d.Metadata,
	}
	if q := d.Qualification; q != nil {
		resp.Qualified = q.Qualified
		resp.Score = q.Score
		resp.Confidence = q.Confidence
		resp.Reasoning = q.Reasoning
		resp.Routing = q.RoutingRecommendation
		resp.RequiredActions = q.RequiredActions
	}
	return resp
}
