package domain

import (
	"fmt"
	"time"
)

// Operator is the comparison operator of a single condition.
type Operator string

const (
	OpGreaterThan  Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLessThan     Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpEqual        Operator = "eq"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpContains     Operator = "contains"
	OpRange        Operator = "range"
)

// Valid reports whether the operator is a known one.
func (o Operator) Valid() bool {
	switch o {
	case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual,
		OpEqual, OpIn, OpNotIn, OpContains, OpRange:
		return true
	}
	return false
}

// Condition is a single typed check against a lead's feature record.
// Field is a dot path into the evaluation record (e.g. "features.creditScore").
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
	Weight   float64  `json:"weight"`
}

// ActionType identifies what a matched qualification rule does.
type ActionType string

const (
	ActionQualify         ActionType = "qualify"
	ActionDisqualify      ActionType = "disqualify"
	ActionReview          ActionType = "review"
	ActionTag             ActionType = "tag"
	ActionRoute           ActionType = "route"
	ActionScoreAdjustment ActionType = "score_adjustment"
)

// Valid reports whether the action type is a known one.
func (a ActionType) Valid() bool {
	switch a {
	case ActionQualify, ActionDisqualify, ActionReview,
		ActionTag, ActionRoute, ActionScoreAdjustment:
		return true
	}
	return false
}

// Action is executed when its containing rule matches. Reasoning is
// surfaced verbatim to operators and agents, so it is required.
type Action struct {
	Type      ActionType `json:"type"`
	Value     any        `json:"value,omitempty"`
	Reasoning string     `json:"reasoning"`
}

// Rule is a qualification rule: an ordered list of weighted conditions
// plus the actions to execute when enough of them match.
// IDs are unique within a rule set; re-adding an ID upserts in place.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`

	// Higher priority rules are evaluated first; ties keep insertion order.
	Priority int `json:"priority"`

	// Expression is an optional CEL guard evaluated against the feature
	// record. When set, it must evaluate to true for the rule to match.
	Expression string `json:"expression,omitempty"`

	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`

	Created time.Time `json:"created,omitempty"`
	Updated time.Time `json:"updated,omitempty"`
}

// Validate checks the rule for administrative correctness and returns one
// human-readable message per problem. An empty slice means the rule is
// safe to store and load.
func (r *Rule) Validate() []string {
	var problems []string
	if r.ID == "" {
		problems = append(problems, "rule id is required")
	}
	if r.Name == "" {
		problems = append(problems, "rule name is required")
	}
	if len(r.Conditions) == 0 {
		problems = append(problems, "rule must have at least one condition")
	}
	if len(r.Actions) == 0 {
		problems = append(problems, "rule must have at least one action")
	}
	for i, c := range r.Conditions {
		problems = append(problems, validateCondition(i, c)...)
	}
	for i, a := range r.Actions {
		if !a.Type.Valid() {
			problems = append(problems, fmt.Sprintf("action %d: unknown type %q", i, a.Type))
		}
		if a.Reasoning == "" {
			problems = append(problems, fmt.Sprintf("action %d: reasoning is required", i))
		}
	}
	return problems
}

// TagCategory groups tag rules for administration and reporting.
type TagCategory string

const (
	CategoryQuality      TagCategory = "quality"
	CategoryBehavior     TagCategory = "behavior"
	CategoryDemographics TagCategory = "demographics"
	CategoryRisk         TagCategory = "risk"
	CategorySource       TagCategory = "source"
	CategoryEngagement   TagCategory = "engagement"
	CategoryTiming       TagCategory = "timing"
	CategoryCustom       TagCategory = "custom"
)

// Valid reports whether the category is a known one.
func (c TagCategory) Valid() bool {
	switch c {
	case CategoryQuality, CategoryBehavior, CategoryDemographics, CategoryRisk,
		CategorySource, CategoryEngagement, CategoryTiming, CategoryCustom:
		return true
	}
	return false
}

// TagRule is structurally parallel to Rule but maps to a single output tag
// with a category and a base confidence instead of an action list.
type TagRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Priority    int    `json:"priority"`

	// Expression is an optional CEL guard, same semantics as Rule.Expression.
	Expression string `json:"expression,omitempty"`

	Conditions []Condition `json:"conditions"`

	Tag        string      `json:"tag"`
	Category   TagCategory `json:"category"`
	Confidence float64     `json:"confidence"`

	Created time.Time `json:"created,omitempty"`
	Updated time.Time `json:"updated,omitempty"`
}

// Validate checks the tag rule and returns one message per problem.
func (r *TagRule) Validate() []string {
	var problems []string
	if r.ID == "" {
		problems = append(problems, "tag rule id is required")
	}
	if r.Name == "" {
		problems = append(problems, "tag rule name is required")
	}
	if r.Tag == "" {
		problems = append(problems, "tag rule must produce a tag")
	}
	if !r.Category.Valid() {
		problems = append(problems, fmt.Sprintf("unknown tag category %q", r.Category))
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		problems = append(problems, "confidence must be between 0 and 1")
	}
	if len(r.Conditions) == 0 {
		problems = append(problems, "tag rule must have at least one condition")
	}
	for i, c := range r.Conditions {
		problems = append(problems, validateCondition(i, c)...)
	}
	return problems
}

func validateCondition(i int, c Condition) []string {
	var problems []string
	if c.Field == "" {
		problems = append(problems, fmt.Sprintf("condition %d: field is required", i))
	}
	if !c.Operator.Valid() {
		problems = append(problems, fmt.Sprintf("condition %d: unknown operator %q", i, c.Operator))
	}
	if c.Weight < 0 {
		problems = append(problems, fmt.Sprintf("condition %d: weight must be non-negative", i))
	}
	return problems
}
