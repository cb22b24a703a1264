package rules

import (
	"fmt"
	"math"
	"time"

	"github.com/openleads/kestrel/internal/domain"
)

// Contextual tags are derived from behavioral features that are not
// expressible as simple table-driven rules. The generator sequence is
// fixed; each generator independently decides whether to emit, except the
// funnel stage, which always emits exactly one tag.

// Engagement score weights. The score is a weighted blend of session
// duration, page depth, required-field completion and a "not too fast, not
// too slow" form completion bonus, normalized by the weight of the factors
// actually present in the data.
const (
	sessionDurationCap = 600 // seconds; 10 minutes
	pageViewsCap       = 8

	weightSessionDuration = 0.3
	weightPageViews       = 0.25
	weightFieldCompletion = 0.25
	weightCompletionTime  = 0.2

	completionTimeMin = 60  // seconds
	completionTimeMax = 300 // seconds
)

// Behavioral thresholds for the fixed contextual tags.
const (
	deepResearcherMinSession  = 600 // seconds
	comparisonShopperMinViews = 10

	highlyEngagedThreshold     = 0.8
	moderatelyEngagedThreshold = 0.6

	offHoursStart = 20 // inclusive
	offHoursEnd   = 8  // exclusive

	aiConvertThreshold  = 0.8
	fraudRiskThreshold  = 0.6
	decisionStageFields = 5
)

func contextualTags(lead *domain.LeadContext) []domain.TagResult {
	features := lead.Features
	var tags []domain.TagResult

	if duration, ok := numericFeature(features, "sessionDuration"); ok && duration > deepResearcherMinSession {
		tags = append(tags, domain.TagResult{
			Tag:        "deep_researcher",
			Confidence: 0.85,
			Reasoning:  fmt.Sprintf("session duration %gs indicates in-depth research", duration),
			Category:   domain.CategoryBehavior,
			Priority:   60,
		})
	}

	if views, ok := numericFeature(features, "pageViews"); ok && views > comparisonShopperMinViews {
		tags = append(tags, domain.TagResult{
			Tag:        "comparison_shopper",
			Confidence: 0.80,
			Reasoning:  fmt.Sprintf("%g page views indicate comparison shopping", views),
			Category:   domain.CategoryBehavior,
			Priority:   55,
		})
	}

	if engagement, ok := engagementScore(features); ok {
		switch {
		case engagement > highlyEngagedThreshold:
			tags = append(tags, domain.TagResult{
				Tag:        "highly_engaged",
				Confidence: 0.9,
				Reasoning:  fmt.Sprintf("engagement score %.2f", engagement),
				Category:   domain.CategoryEngagement,
				Priority:   70,
			})
		case engagement > moderatelyEngagedThreshold:
			tags = append(tags, domain.TagResult{
				Tag:        "moderately_engaged",
				Confidence: 0.75,
				Reasoning:  fmt.Sprintf("engagement score %.2f", engagement),
				Category:   domain.CategoryEngagement,
				Priority:   50,
			})
		}
	}

	if submitted, ok := timeFeature(features, "submittedAt"); ok {
		hour := submitted.UTC().Hour()
		if hour >= offHoursStart || hour < offHoursEnd {
			tags = append(tags, domain.TagResult{
				Tag:        "off_hours_visitor",
				Confidence: 0.7,
				Reasoning:  fmt.Sprintf("submitted at %02d:00 UTC, outside business hours", hour),
				Category:   domain.CategoryTiming,
				Priority:   40,
			})
		}
	}

	if ai := lead.AIScore; ai != nil {
		if ai.ConversionProbability > aiConvertThreshold {
			tags = append(tags, domain.TagResult{
				Tag:        "ai_predicted_convert",
				Confidence: ai.ConversionProbability,
				Reasoning:  fmt.Sprintf("model conversion probability %.2f", ai.ConversionProbability),
				Category:   domain.CategoryQuality,
				Priority:   75,
			})
		}
		if ai.FraudRiskScore > fraudRiskThreshold {
			tags = append(tags, domain.TagResult{
				Tag:        "elevated_risk",
				Confidence: ai.FraudRiskScore,
				Reasoning:  fmt.Sprintf("model fraud risk score %.2f", ai.FraudRiskScore),
				Category:   domain.CategoryRisk,
				Priority:   80,
			})
		}
	}

	stage := funnelStage(features)
	tags = append(tags, domain.TagResult{
		Tag:        "decision_stage_" + stage,
		Confidence: 0.65,
		Reasoning:  fmt.Sprintf("funnel heuristics place this lead in the %s stage", stage),
		Category:   domain.CategoryBehavior,
		Priority:   45,
	})

	return tags
}

// engagementScore blends up to four behavioral factors. The second return
// value is false when none of the factors is present in the record.
func engagementScore(features domain.FeatureRecord) (float64, bool) {
	var sum, weights float64

	if duration, ok := numericFeature(features, "sessionDuration"); ok {
		sum += weightSessionDuration * math.Min(duration/sessionDurationCap, 1)
		weights += weightSessionDuration
	}
	if views, ok := numericFeature(features, "pageViews"); ok {
		sum += weightPageViews * math.Min(views/pageViewsCap, 1)
		weights += weightPageViews
	}
	if completed, ok := numericFeature(features, "requiredFieldsCompleted"); ok {
		if total, ok := numericFeature(features, "requiredFieldsTotal"); ok && total > 0 {
			sum += weightFieldCompletion * math.Min(completed/total, 1)
			weights += weightFieldCompletion
		}
	}
	if elapsed, ok := numericFeature(features, "formCompletionTime"); ok {
		if elapsed >= completionTimeMin && elapsed <= completionTimeMax {
			sum += weightCompletionTime
		}
		weights += weightCompletionTime
	}

	if weights == 0 {
		return 0, false
	}
	return sum / weights, true
}

// funnelStage maps page depth, session length and form progress onto a
// single funnel stage. Every lead lands in exactly one stage.
func funnelStage(features domain.FeatureRecord) string {
	views, _ := numericFeature(features, "pageViews")
	duration, _ := numericFeature(features, "sessionDuration")
	fields, _ := numericFeature(features, "requiredFieldsCompleted")

	switch {
	case views >= pageViewsCap && fields >= decisionStageFields:
		return "decision"
	case views >= 5 || duration >= sessionDurationCap:
		return "evaluation"
	case views >= 3 || duration >= 180:
		return "consideration"
	default:
		return "awareness"
	}
}

func numericFeature(features domain.FeatureRecord, path string) (float64, bool) {
	value, found := Lookup(features, path)
	if !found {
		return 0, false
	}
	return coerceNumber(value)
}

// timeFeature accepts an RFC 3339 string or a Unix-seconds number.
func timeFeature(features domain.FeatureRecord, path string) (time.Time, bool) {
	value, found := Lookup(features, path)
	if !found {
		return time.Time{}, false
	}
	switch t := value.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case time.Time:
		return t, true
	default:
		if seconds, ok := coerceNumber(value); ok {
			return time.Unix(int64(seconds), 0), true
		}
		return time.Time{}, false
	}
}
