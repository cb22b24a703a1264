// Package routing turns a qualification decision and tag set into an
// action plan against the currently available sales agents.
package routing

import (
	"sort"
	"strings"

	"github.com/openleads/kestrel/internal/domain"
)

// Agent describes one sales agent's availability, supplied by the caller.
// Agent data is an already-resolved input; the planner performs no I/O.
type Agent struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Available bool     `json:"available"`
	ActiveLeads int    `json:"activeLeads"`
	MaxLeads    int    `json:"maxLeads"`

	// Skills are matched against the routing recommendation and tag names.
	Skills []string `json:"skills,omitempty"`

	// MinScore is the lowest lead score the agent accepts.
	MinScore float64 `json:"minScore"`
}

// Plan is the routing outcome for one lead.
type Plan struct {
	LeadID    string                  `json:"leadId"`
	AgentID   string                  `json:"agentId,omitempty"`
	AgentName string                  `json:"agentName,omitempty"`
	Reason    string                  `json:"reason"`
	Actions   []domain.RequiredAction `json:"actions,omitempty"`
}

// Planner selects a target agent for a decided lead. Routing never blocks
// and never invalidates a qualification already computed: with no eligible
// agent the plan simply leaves the lead unassigned.
type Planner struct{}

// NewPlanner creates a routing planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan picks an agent and carries the decision's required actions forward.
func (p *Planner) Plan(qual *domain.QualificationResult, tags []domain.TagResult, agents []Agent) *Plan {
	plan := &Plan{Reason: "no qualification result"}
	if qual == nil {
		return plan
	}
	plan.LeadID = qual.LeadID
	plan.Actions = append(plan.Actions, qual.RequiredActions...)

	if !qual.Qualified {
		plan.Reason = "lead not qualified, no agent assignment"
		return plan
	}

	eligible := make([]Agent, 0, len(agents))
	for _, agent := range agents {
		if !agent.Available {
			continue
		}
		if agent.MaxLeads > 0 && agent.ActiveLeads >= agent.MaxLeads {
			continue
		}
		if qual.Score < agent.MinScore {
			continue
		}
		eligible = append(eligible, agent)
	}

	if len(eligible) == 0 {
		plan.Reason = "no eligible agent available, lead queued"
		return plan
	}

	wanted := tagNames(qual.RoutingRecommendation, tags)

	// Skill matches first, then lowest load; ties keep input order so the
	// outcome is reproducible for the same agent list.
	sort.SliceStable(eligible, func(i, j int) bool {
		mi, mj := skillMatch(eligible[i], wanted), skillMatch(eligible[j], wanted)
		if mi != mj {
			return mi
		}
		return loadRatio(eligible[i]) < loadRatio(eligible[j])
	})

	chosen := eligible[0]
	plan.AgentID = chosen.ID
	plan.AgentName = chosen.Name
	if skillMatch(chosen, wanted) {
		plan.Reason = "matched agent skills to routing recommendation"
	} else {
		plan.Reason = "assigned least-loaded available agent"
	}
	return plan
}

func tagNames(recommendation string, tags []domain.TagResult) map[string]struct{} {
	wanted := make(map[string]struct{}, len(tags)+1)
	if recommendation != "" {
		wanted[strings.ToLower(recommendation)] = struct{}{}
	}
	for _, tag := range tags {
		wanted[strings.ToLower(tag.Tag)] = struct{}{}
	}
	return wanted
}

func skillMatch(agent Agent, wanted map[string]struct{}) bool {
	for _, skill := range agent.Skills {
		if _, ok := wanted[strings.ToLower(skill)]; ok {
			return true
		}
	}
	return false
}

func loadRatio(agent Agent) float64 {
	if agent.MaxLeads <= 0 {
		return float64(agent.ActiveLeads)
	}
	return float64(agent.ActiveLeads) / float64(agent.MaxLeads)
}
