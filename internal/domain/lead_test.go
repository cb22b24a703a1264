package domain

import (
	"testing"
)

func TestLeadContextRecord(t *testing.T) {
	ctx := &LeadContext{
		LeadID:   "lead-1",
		Features: FeatureRecord{"creditScore": 780.0},
		AIScore:  &AIScore{ConversionProbability: 0.82, FraudRiskScore: 0.1},
		Anomaly:  map[string]any{"flagged": false},
	}

	record := ctx.Record()

	features, ok := record["features"].(map[string]any)
	if !ok || features["creditScore"] != 780.0 {
		t.Errorf("features not mounted: %v", record["features"])
	}
	ai, ok := record["aiScore"].(map[string]any)
	if !ok || ai["conversionProbability"] != 0.82 || ai["fraudRiskScore"] != 0.1 {
		t.Errorf("aiScore not mounted: %v", record["aiScore"])
	}
	anomaly, ok := record["anomalyDetection"].(map[string]any)
	if !ok || anomaly["flagged"] != false {
		t.Errorf("anomalyDetection not mounted: %v", record["anomalyDetection"])
	}
}

func TestLeadContextRecordOmitsAbsentSignals(t *testing.T) {
	record := (&LeadContext{LeadID: "lead-2"}).Record()

	// Absent inputs stay absent so not_in stays vacuously true for them.
	for _, key := range []string{"features", "aiScore", "anomalyDetection"} {
		if _, ok := record[key]; ok {
			t.Errorf("record contains %s with no input", key)
		}
	}
}

func TestCaptureRequestToLead(t *testing.T) {
	req := &CaptureRequest{
		WidgetID:      "w1",
		Email:         "ada@example.com",
		Name:          "Ada",
		SourceChannel: "paid_social",
		Features:      map[string]any{"pageViews": 4.0},
	}

	lead := req.ToLead()

	if lead.Email != "ada@example.com" || lead.WidgetID != "w1" {
		t.Errorf("contact fields not copied: %+v", lead)
	}
	if lead.Features["pageViews"] != 4.0 {
		t.Error("features not copied")
	}
	// The source channel is mirrored into features so rules can match it.
	if lead.Features["sourceChannel"] != "paid_social" {
		t.Errorf("sourceChannel feature = %v", lead.Features["sourceChannel"])
	}
	if lead.SubmittedAt.IsZero() || lead.CreatedAt.IsZero() {
		t.Error("timestamps not stamped")
	}
}

func TestDecisionToResponse(t *testing.T) {
	decision := &Decision{
		ID:     "d1",
		LeadID: "lead-1",
		Qualification: &QualificationResult{
			LeadID:                "lead-1",
			Qualified:             true,
			Score:                 92,
			Confidence:            0.5,
			Reasoning:             []string{"r1"},
			RoutingRecommendation: "performance-team",
			RequiredActions:       []RequiredAction{{Action: "Route to sales agent"}},
		},
		Tags:     []TagResult{{Tag: "high_credit"}},
		Metadata: DecisionMetadata{EngineVersion: "kestrel-1.0"},
	}

	resp := decision.ToResponse()

	if resp.DecisionID != "d1" || resp.LeadID != "lead-1" {
		t.Errorf("identity fields wrong: %+v", resp)
	}
	if !resp.Qualified || resp.Score != 92 || resp.Confidence != 0.5 {
		t.Errorf("qualification fields wrong: %+v", resp)
	}
	if resp.Routing != "performance-team" || len(resp.RequiredActions) != 1 {
		t.Errorf("routing fields wrong: %+v", resp)
	}
	if len(resp.Tags) != 1 || resp.Tags[0].Tag != "high_credit" {
		t.Errorf("tags wrong: %v", resp.Tags)
	}

	// A decision without a qualification still converts.
	empty := (&Decision{ID: "d2"}).ToResponse()
	if empty.Qualified || empty.Score != 0 {
		t.Errorf("empty decision response: %+v", empty)
	}
}
