// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// FeatureRecord is the nested key-value snapshot of a lead at decision time.
// Values are read via dot-path traversal; a missing path is reported as
// not-found, never as a zero value. The record is treated as immutable for
// the duration of one evaluation pass.
type FeatureRecord map[string]any

// Lead represents a captured lead awaiting or holding a decision.
type Lead struct {
	ID       string `json:"id"`
	WidgetID string `json:"widgetId,omitempty"`

	// Contact details submitted with the form
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`

	// Acquisition channel (e.g. "organic", "paid_social", "referral")
	SourceChannel string `json:"sourceChannel,omitempty"`

	// Feature snapshot assembled at capture time
	Features FeatureRecord `json:"features,omitempty"`

	SubmittedAt time.Time `json:"submittedAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AIScore is the externally computed model output attached to a lead.
// The engine treats it as an opaque input; only the two named fields
// participate in the qualification policy.
type AIScore struct {
	ConversionProbability float64 `json:"conversionProbability"`
	FraudRiskScore        float64 `json:"fraudRiskScore"`
}

// LeadContext carries everything one evaluation pass may read.
// All external signals (AI score, anomaly detection) are resolved by the
// caller before the engines are invoked; the engines never perform I/O.
type LeadContext struct {
	LeadID   string         `json:"leadId"`
	Features FeatureRecord  `json:"features"`
	AIScore  *AIScore       `json:"aiScore,omitempty"`
	Anomaly  map[string]any `json:"anomalyDetection,omitempty"`
}

// Record builds the root evaluation record that condition field paths
// resolve against. Features live under "features.", the AI score under
// "aiScore." and anomaly data under "anomalyDetection.".
func (c *LeadContext) Record() FeatureRecord {
	root := FeatureRecord{}
	if c.Features != nil {
		root["features"] = map[string]any(c.Features)
	}
	if c.AIScore != nil {
		root["aiScore"] = map[string]any{
			"conversionProbability": c.AIScore.ConversionProbability,
			"fraudRiskScore":        c.AIScore.FraudRiskScore,
		}
	}
	if c.Anomaly != nil {
		root["anomalyDetection"] = c.Anomaly
	}
	return root
}

// CaptureRequest is the API request payload for lead capture.
type CaptureRequest struct {
	WidgetID      string         `json:"widgetId"`
	Email         string         `json:"email"`
	Name          string         `json:"name,omitempty"`
	Phone         string         `json:"phone,omitempty"`
	SourceChannel string         `json:"sourceChannel,omitempty"`
	Features      map[string]any `json:"features,omitempty"`
}

// ToLead converts a capture request to a Lead domain object.
func (r *CaptureRequest) ToLead() *Lead {
	now := time.Now().UTC()
	features := FeatureRecord{}
	for k, v := range r.Features {
		features[k] = v
	}
	if r.SourceChannel != "" {
		features["sourceChannel"] = r.SourceChannel
	}
	return &Lead{
		WidgetID:      r.WidgetID,
		Email:         r.Email,
		Name:          r.Name,
		Phone:         r.Phone,
		SourceChannel: r.SourceChannel,
		Features:      features,
		SubmittedAt:   now,
		CreatedAt:     now,
	}
}
