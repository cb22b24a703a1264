package rules

import (
	"fmt"

	"github.com/openleads/kestrel/internal/domain"
)

// Match thresholds: a qualification rule needs 70% of its conditions to
// hold; tag rules are additive rather than gating, so 60% is enough.
const (
	QualifyMatchThreshold = 0.7
	TagMatchThreshold     = 0.6

	// Score assigned to a rule that did not reach its threshold. Only
	// inspected by callers, never used as a qualification signal.
	unmatchedScore = 30
)

// MatchResult is the outcome of matching one rule's conditions.
type MatchResult struct {
	Matched       bool
	Score         float64
	Weight        float64
	ConditionsMet int
	Reasoning     []string
}

// MatchConditions evaluates every condition against the record, counting
// matches and summing the weight of matched conditions only.
//
// A matched rule scores on a fixed 80-100 band proportional to how far
// above the threshold the match ratio sits. Reasoning holds one stable
// string per matched condition, in condition order; it is surfaced
// verbatim to operators, so wording must not change casually.
func MatchConditions(conditions []domain.Condition, record domain.FeatureRecord, threshold float64) MatchResult {
	result := MatchResult{}
	total := len(conditions)
	if total == 0 {
		result.Score = unmatchedScore
		return result
	}

	for _, c := range conditions {
		value, found := Lookup(record, c.Field)
		if !EvaluateCondition(value, found, c.Operator, c.Value) {
			continue
		}
		result.ConditionsMet++
		result.Weight += c.Weight
		result.Reasoning = append(result.Reasoning, describeMatch(c, value, found))
	}

	ratio := float64(result.ConditionsMet) / float64(total)
	if ratio >= threshold {
		result.Matched = true
		result.Score = matchScore(ratio, threshold)
	} else {
		result.Score = unmatchedScore
	}
	return result
}

// matchScore maps ratio in [threshold, 1] onto [80, 100].
func matchScore(ratio, threshold float64) float64 {
	span := 1 - threshold
	if span <= 0 {
		return 100
	}
	score := 80 + (ratio-threshold)*(20/span)
	if score > 100 {
		return 100
	}
	return score
}

func describeMatch(c domain.Condition, value any, found bool) string {
	if !found {
		// Only not_in reaches here for a missing field.
		return fmt.Sprintf("%s is absent, satisfying %s %v", c.Field, c.Operator, c.Value)
	}
	return fmt.Sprintf("%s = %v satisfied %s %v", c.Field, value, c.Operator, c.Value)
}
