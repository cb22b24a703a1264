package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/openleads/kestrel/internal/domain"
)

// TagEngine derives descriptive tags for a lead from a prioritized tag
// rule set plus a fixed sequence of contextual heuristics. It runs
// independently of the qualification engine over the same feature record.
type TagEngine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules map[string]*storedTagRule
	seq   int
}

type storedTagRule struct {
	rule  *domain.TagRule
	guard cel.Program
	seq   int
}

// NewTagEngine creates an empty tagging engine.
func NewTagEngine() (*TagEngine, error) {
	env, err := newGuardEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create guard environment: %w", err)
	}
	return &TagEngine{
		env:   env,
		rules: make(map[string]*storedTagRule),
	}, nil
}

// ValidateTagRule checks a tag rule and compiles its guard without
// mutating the loaded rule set.
func (e *TagEngine) ValidateTagRule(rule *domain.TagRule) error {
	if rule == nil {
		return fmt.Errorf("tag rule is required")
	}
	if problems := rule.Validate(); len(problems) > 0 {
		return fmt.Errorf("invalid tag rule %s: %s", rule.ID, strings.Join(problems, "; "))
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

// AddTagRule upserts a tag rule by ID, same semantics as
// QualificationEngine.AddRule.
func (e *TagEngine) AddTagRule(rule *domain.TagRule) error {
	if rule == nil {
		return fmt.Errorf("tag rule is required")
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
		e.rules[rule.ID] = &storedTagRule{rule: &stored, guard: guard, seq: existing.seq}
		return nil
	}

	stored.Created = now
	e.rules[rule.ID] = &storedTagRule{rule: &stored, guard: guard, seq: e.seq}
	e.seq++
	return nil
}

// RemoveTagRule deletes a tag rule. Returns false if no rule had that ID.
func (e *TagEngine) RemoveTagRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[id]; !ok {
		return false
	}
	delete(e.rules, id)
	return true
}

// AllTagRules returns every loaded tag rule in insertion order.
func (e *TagEngine) AllTagRules() []*domain.TagRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stored := make([]*storedTagRule, 0, len(e.rules))
	for _, sr := range e.rules {
		stored = append(stored, sr)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].seq < stored[j].seq })

	rules := make([]*domain.TagRule, len(stored))
	for i, sr := range stored {
		rules[i] = sr.rule
	}
	return rules
}

// RulesByCategory returns loaded tag rules with the given category.
func (e *TagEngine) RulesByCategory(category domain.TagCategory) []*domain.TagRule {
	all := e.AllTagRules()
	out := make([]*domain.TagRule, 0, len(all))
	for _, rule := range all {
		if rule.Category == category {
			out = append(out, rule)
		}
	}
	return out
}

// TagRuleCount returns the number of loaded tag rules.
func (e *TagEngine) TagRuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// ReloadTagRules clears all existing tag rules and loads new ones in order.
func (e *TagEngine) ReloadTagRules(rules []*domain.TagRule) error {
	fresh := make(map[string]*storedTagRule, len(rules))

	seq := 0
	for _, rule := range rules {
		var guard cel.Program
		if rule.Expression != "" {
			var err error
			guard, err = compileGuard(e.env, rule.ID, rule.Expression)
			if err != nil {
				return err
			}
		}
		stored := *rule
		fresh[rule.ID] = &storedTagRule{rule: &stored, guard: guard, seq: seq}
		seq++
	}

	e.mu.Lock()
	e.rules = fresh
	e.seq = seq
	e.mu.Unlock()
	return nil
}

func (e *TagEngine) snapshot() []*storedTagRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*storedTagRule, 0, len(e.rules))
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

// GenerateTags runs the tag rule pass and the contextual heuristic pass
// and merges them into one prioritized, deduplicated tag list.
//
// The first rule to claim a tag, by descending priority, wins; a
// lower-priority rule targeting the same tag contributes nothing, not
// even reasoning. Tagging is all-or-nothing per call, like qualification.
func (e *TagEngine) GenerateTags(ctx context.Context, lead *domain.LeadContext) (results []domain.TagResult, err error) {
	if lead == nil {
		return nil, fmt.Errorf("lead context is required")
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("tagging pass panicked",
				"lead_id", lead.LeadID,
				"panic", r,
			)
			results = nil
			err = fmt.Errorf("lead tagging failed: %v", r)
		}
	}()

	snapshot := e.snapshot()
	record := lead.Record()

	claimed := make(map[string]struct{})
	results = make([]domain.TagResult, 0, len(snapshot))

	for _, sr := range snapshot {
		if _, taken := claimed[sr.rule.Tag]; taken {
			continue
		}
		if sr.guard != nil && !evalGuard(sr.guard, lead.LeadID, record) {
			continue
		}

		match := MatchConditions(sr.rule.Conditions, record, TagMatchThreshold)
		if !match.Matched {
			continue
		}

		claimed[sr.rule.Tag] = struct{}{}
		results = append(results, domain.TagResult{
			Tag:          sr.rule.Tag,
			Confidence:   sr.rule.Confidence,
			Reasoning:    strings.Join(match.Reasoning, "; "),
			Category:     sr.rule.Category,
			Priority:     sr.rule.Priority,
			AppliedRules: []string{sr.rule.ID},
		})
	}

	for _, tag := range contextualTags(lead) {
		if _, taken := claimed[tag.Tag]; taken {
			continue
		}
		claimed[tag.Tag] = struct{}{}
		results = append(results, tag)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Priority != results[j].Priority {
			return results[i].Priority > results[j].Priority
		}
		return results[i].Confidence > results[j].Confidence
	})

	return results, nil
}
