package rules

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/openleads/kestrel/internal/domain"
)

// QualificationEngine owns a prioritized qualification rule set and turns a
// lead context into a QualificationResult.
//
// The rule set is long-lived shared state; each Qualify call iterates a
// snapshot taken under the read lock, so administrative updates racing
// against evaluation never partially affect one decision. Evaluation itself
// is a pure function of (snapshot, lead context) and carries no state
// between calls.
type QualificationEngine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules map[string]*storedRule
	seq   int
}

type storedRule struct {
	rule  *domain.Rule
	guard cel.Program
	seq   int
}

// NewQualificationEngine creates an empty qualification engine.
func NewQualificationEngine() (*QualificationEngine, error) {
	env, err := newGuardEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create guard environment: %w", err)
	}
	return &QualificationEngine{
		env:   env,
		rules: make(map[string]*storedRule),
	}, nil
}

// ValidateRule checks a rule and compiles its guard without mutating the
// loaded rule set.
func (e *QualificationEngine) ValidateRule(rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if problems := rule.Validate(); len(problems) > 0 {
		return fmt.Errorf("invalid rule %s: %s", rule.ID, strings.Join(problems, "; "))
	}
	if rule.Expression != "" {
		e.mu.RLock()
		defer e.mu.RUnlock()
		if _, err := compileGuard(e.env, rule.ID, rule.Expression); err != nil {
			return err
		}
	}
	return nil
}

// AddRule upserts a rule by ID. The Created stamp is set only on first
// insert; re-adding an existing ID overwrites in place, keeping its
// position in the evaluation order for priority ties.
func (e *QualificationEngine) AddRule(rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var guard cel.Program
	if rule.Expression != "" {
		var err error
		guard, err = compileGuard(e.env, rule.ID, rule.Expression)
		if err != nil {
			return err
		}
	}

	stored := *rule
	now := time.Now().UTC()
	stored.Updated = now

	if existing, ok := e.rules[rule.ID]; ok {
		stored.Created = existing.rule.Created
		e.rules[rule.ID] = &storedRule{rule: &stored, guard: guard, seq: existing.seq}
		return nil
	}

	stored.Created = now
	e.rules[rule.ID] = &storedRule{rule: &stored, guard: guard, seq: e.seq}
	e.seq++
	return nil
}

// RemoveRule deletes a rule. Returns false if no rule had that ID.
func (e *QualificationEngine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[id]; !ok {
		return false
	}
	delete(e.rules, id)
	return true
}

// AllRules returns every loaded rule in insertion order.
func (e *QualificationEngine) AllRules() []*domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stored := make([]*storedRule, 0, len(e.rules))
	for _, sr := range e.rules {
		stored = append(stored, sr)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].seq < stored[j].seq })

	rules := make([]*domain.Rule, len(stored))
	for i, sr := range stored {
		rules[i] = sr.rule
	}
	return rules
}

// RuleCount returns the number of loaded rules.
func (e *QualificationEngine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// ReloadRules clears all existing rules and loads new ones in order.
// This enables hot-reloading of rule sets from the database.
func (e *QualificationEngine) ReloadRules(rules []*domain.Rule) error {
	fresh := make(map[string]*storedRule, len(rules))
	env := e.env

	seq := 0
	for _, rule := range rules {
		var guard cel.Program
		if rule.Expression != "" {
			var err error
			guard, err = compileGuard(env, rule.ID, rule.Expression)
			if err != nil {
				return err
			}
		}
		stored := *rule
		fresh[rule.ID] = &storedRule{rule: &stored, guard: guard, seq: seq}
		seq++
	}

	e.mu.Lock()
	e.rules = fresh
	e.seq = seq
	e.mu.Unlock()
	return nil
}

// snapshot returns enabled rules sorted by priority descending; ties keep
// insertion order, which fixes whose tags and reasoning appear first.
func (e *QualificationEngine) snapshot() []*storedRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*storedRule, 0, len(e.rules))
	for _, sr := range e.rules {
		if sr.rule.Enabled {
			out = append(out, sr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].rule.Priority != out[j].rule.Priority {
			return out[i].rule.Priority > out[j].rule.Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Qualify runs every enabled rule over the lead and reconciles the
// rule-level signals, the external AI score and the confidence thresholds
// into one decision.
//
// Qualification is all-or-nothing: any panic during rule iteration is
// surfaced as a single error and no partial result is returned. A failed
// qualification must never default a lead to qualified; callers fall back
// to manual review.
func (e *QualificationEngine) Qualify(ctx context.Context, lead *domain.LeadContext) (result *domain.QualificationResult, err error) {
	if lead == nil {
		return nil, fmt.Errorf("lead context is required")
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("qualification pass panicked",
				"lead_id", lead.LeadID,
				"panic", r,
			)
			result = nil
			err = fmt.Errorf("lead qualification failed: %v", r)
		}
	}()

	snapshot := e.snapshot()
	record := lead.Record()

	acc := &domain.QualificationResult{
		LeadID:       lead.LeadID,
		Reasoning:    []string{},
		AppliedRules: []string{},
	}

	var totalWeight, weightedScore float64

	for _, sr := range snapshot {
		if sr.guard != nil && !evalGuard(sr.guard, lead.LeadID, record) {
			continue
		}

		match := MatchConditions(sr.rule.Conditions, record, QualifyMatchThreshold)
		if !match.Matched {
			continue
		}

		acc.AppliedRules = append(acc.AppliedRules, sr.rule.ID)
		acc.Reasoning = append(acc.Reasoning, match.Reasoning...)
		totalWeight += match.Weight
		weightedScore += match.Score * match.Weight

		executeActions(sr.rule, acc)
	}

	// Weighted rules, when any matched, overwrite any score established by
	// score_adjustment actions; with no matches the adjusted score stands.
	if totalWeight > 0 {
		acc.Score = math.Round(weightedScore / totalWeight)
		acc.Confidence = math.Min(1, totalWeight/100)
	}

	decideQualification(acc, lead.AIScore)
	acc.SuggestedTags = dedupeStrings(acc.SuggestedTags)
	appendRequiredActions(acc)

	return acc, nil
}

// executeActions applies a matched rule's actions to the shared
// accumulator, in action order. Later rules can override earlier ones
// within the same pass (route is last-wins; disqualify is sticky).
func executeActions(rule *domain.Rule, acc *domain.QualificationResult) {
	for _, action := range rule.Actions {
		switch action.Type {
		case domain.ActionQualify:
			// Advisory only: final qualification is decided once, after
			// all rules have run.
			acc.Reasoning = append(acc.Reasoning, action.Reasoning)

		case domain.ActionDisqualify:
			acc.Vetoed = true
			acc.Qualified = false
			acc.Reasoning = append(acc.Reasoning, action.Reasoning)

		case domain.ActionReview:
			acc.RequiredActions = append(acc.RequiredActions, domain.RequiredAction{
				Action:   "Manual review required",
				Priority: "high",
				Deadline: "within 2 hours",
			})
			acc.Reasoning = append(acc.Reasoning, action.Reasoning)

		case domain.ActionTag:
			acc.SuggestedTags = append(acc.SuggestedTags, tagValues(action.Value)...)

		case domain.ActionRoute:
			acc.RoutingRecommendation = stringify(action.Value)

		case domain.ActionScoreAdjustment:
			if delta, ok := coerceNumber(action.Value); ok {
				acc.Score += delta
				acc.Reasoning = append(acc.Reasoning, fmt.Sprintf("%s (score %+g)", action.Reasoning, delta))
			}
		}
	}
}

// decideQualification applies the final policy in priority order; the
// first applicable clause wins.
func decideQualification(acc *domain.QualificationResult, aiScore *domain.AIScore) {
	switch {
	case acc.Vetoed:
		acc.Qualified = false
	case acc.Score >= 75 && acc.Confidence >= 0.8:
		acc.Qualified = true
	case aiScore != nil && acc.Score >= 60:
		acc.Qualified = aiScore.ConversionProbability >= 0.6
	default:
		acc.Qualified = acc.Score >= 70
	}
}

// appendRequiredActions adds the operational follow-ups for the decision,
// after any review actions rules already queued.
func appendRequiredActions(acc *domain.QualificationResult) {
	switch {
	case acc.Qualified:
		routing := domain.RequiredAction{
			Action:   "Route to sales agent",
			Priority: "high",
			Deadline: "within 2 hours",
		}
		if acc.Score >= 85 {
			routing.Priority = "urgent"
			routing.Deadline = "within 15 minutes"
		}
		acc.RequiredActions = append(acc.RequiredActions, routing, domain.RequiredAction{
			Action:   "Apply qualification tags",
			Priority: "medium",
			Deadline: "within 1 hour",
		})

	case acc.Score >= 50:
		acc.RequiredActions = append(acc.RequiredActions, domain.RequiredAction{
			Action:   "Add to nurture campaign",
			Priority: "medium",
			Deadline: "within 24 hours",
		})

	default:
		acc.RequiredActions = append(acc.RequiredActions, domain.RequiredAction{
			Action:   "Update lead status to disqualified",
			Priority: "low",
			Deadline: "within 24 hours",
		})
	}
}

// tagValues accepts a scalar tag or a list of tags.
func tagValues(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		tags := make([]string, 0, len(t))
		for _, item := range t {
			if s := stringify(item); s != "" {
				tags = append(tags, s)
			}
		}
		return tags
	default:
		return nil
	}
}

// dedupeStrings keeps the first occurrence of each value.
func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
