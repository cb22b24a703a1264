package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/openleads/kestrel/internal/domain"
	"github.com/openleads/kestrel/internal/pipeline"
	"github.com/openleads/kestrel/internal/repository"
	"github.com/openleads/kestrel/internal/routing"
	"github.com/openleads/kestrel/internal/rules"
)

// decisionCacheTTL is how long finished decisions stay in the cache.
const decisionCacheTTL = time.Hour

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.QualificationEngine
	tagEngine *rules.TagEngine
	processor *pipeline.Processor
	planner   *routing.Planner
	version   string
	mode      domain.PipelineMode
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.QualificationEngine, tagEngine *rules.TagEngine, processor *pipeline.Processor, planner *routing.Planner, version string, mode domain.PipelineMode) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		tagEngine: tagEngine,
		processor: processor,
		planner:   planner,
		version:   version,
		mode:      mode,
	}
}

// CaptureLeadRequest is the request body for POST /leads.
type CaptureLeadRequest struct {
	domain.CaptureRequest
	AIScore *domain.AIScore `json:"aiScore,omitempty"`
	Anomaly map[string]any  `json:"anomalyDetection,omitempty"`
}

// CaptureLead handles POST /leads. In inline mode the lead is evaluated on
// the request path and the decision returned; in async mode the lead is
// accepted and handed to the worker via the event bus.
func (h *Handler) CaptureLead(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req CaptureLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "email is required",
		})
		return
	}

	lead := req.ToLead()
	lead.ID = uuid.New().String()

	if h.repo != nil {
		if err := h.repo.SaveLead(ctx, lead); err != nil {
			slog.Error("failed to save lead", "lead_id", lead.ID, "error", err)
			// Continue: the decision matters more than the stored copy.
		}
	}

	if h.mode == domain.ModeAsync {
		payload, _ := json.Marshal(map[string]any{
			"lead":             lead,
			"aiScore":          req.AIScore,
			"anomalyDetection": req.Anomaly,
			"traceId":          traceID,
		})
		if err := h.bus.Publish(ctx, domain.TopicLeadCaptured, payload); err != nil {
			slog.Error("failed to publish captured lead", "lead_id", lead.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to enqueue lead",
			})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"leadId": lead.ID,
			"status": "accepted",
		})
		return
	}

	decision, err := h.processor.Process(ctx, &pipeline.Input{
		Lead:      lead,
		AIScore:   req.AIScore,
		Anomaly:   req.Anomaly,
		TraceID:   traceID,
		StartTime: start,
	})
	if err != nil {
		slog.Error("lead evaluation failed", "lead_id", lead.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "lead evaluation failed",
		})
		return
	}

	h.storeAndAnnounce(r, decision)

	writeJSON(w, http.StatusOK, decision.ToResponse())
}

// QualifyRequest is the request body for POST /qualify: an already-captured
// feature snapshot to evaluate without persisting a new lead.
type QualifyRequest struct {
	LeadID   string               `json:"leadId"`
	Features domain.FeatureRecord `json:"features"`
	AIScore  *domain.AIScore      `json:"aiScore,omitempty"`
	Anomaly  map[string]any       `json:"anomalyDetection,omitempty"`
}

// Qualify handles POST /qualify requests.
func (h *Handler) Qualify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req QualifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.LeadID == "" {
		req.LeadID = uuid.New().String()
	}
	if req.Features == nil {
		req.Features = domain.FeatureRecord{}
	}

	lead := &domain.Lead{
		ID:       req.LeadID,
		Features: req.Features,
	}

	decision, err := h.processor.Process(ctx, &pipeline.Input{
		Lead:      lead,
		AIScore:   req.AIScore,
		Anomaly:   req.Anomaly,
		TraceID:   traceID,
		StartTime: start,
	})
	if err != nil {
		slog.Error("qualification failed", "lead_id", req.LeadID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "lead qualification failed",
		})
		return
	}

	h.storeAndAnnounce(r, decision)

	writeJSON(w, http.StatusOK, decision.ToResponse())
}

// storeAndAnnounce persists, caches and publishes a finished decision.
// Failures here are logged, never surfaced: the decision is already made.
func (h *Handler) storeAndAnnounce(r *http.Request, decision *domain.Decision) {
	ctx := r.Context()

	if h.repo != nil {
		if err := h.repo.SaveDecision(ctx, decision); err != nil {
			slog.Error("failed to save decision", "decision_id", decision.ID, "error", err)
		}
	}
	if h.cache != nil {
		if err := h.cache.SetDecision(ctx, decision.LeadID, decision, decisionCacheTTL); err != nil {
			slog.Warn("failed to cache decision", "lead_id", decision.LeadID, "error", err)
		}
	}
	if h.bus != nil {
		payload, _ := json.Marshal(decision)
		if err := h.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
			slog.Error("failed to publish decision", "decision_id", decision.ID, "error", err)
		}
		if err := h.bus.Publish(ctx, pipeline.OutcomeTopic(decision), payload); err != nil {
			slog.Error("failed to publish decision outcome", "decision_id", decision.ID, "error", err)
		}
	}
}

// RouteRequest is the request body for POST /route.
type RouteRequest struct {
	LeadID        string                      `json:"leadId"`
	Qualification *domain.QualificationResult `json:"qualification,omitempty"`
	Tags          []domain.TagResult          `json:"tags,omitempty"`
	Agents        []routing.Agent             `json:"agents"`
}

// Route handles POST /route: picks a sales agent for a decided lead.
// The qualification can be supplied inline or resolved from the latest
// cached decision for the lead.
func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	qual := req.Qualification
	tags := req.Tags

	if qual == nil && req.LeadID != "" && h.cache != nil {
		if decision, err := h.cache.GetDecision(ctx, req.LeadID); err == nil && decision != nil {
			qual = decision.Qualification
			if tags == nil {
				tags = decision.Tags
			}
		}
	}

	if qual == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "qualification is required (inline or via a decided leadId)",
		})
		return
	}

	plan := h.planner.Plan(qual, tags, req.Agents)
	writeJSON(w, http.StatusOK, plan)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetLead retrieves a lead by ID.
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	leadID := chi.URLParam(r, "id")

	if leadID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "lead id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	lead, err := h.repo.GetLead(ctx, leadID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get lead", "id", leadID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "lead not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, lead)
}

// GetDecision retrieves a stored decision by ID.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	decisionID := chi.URLParam(r, "id")

	if decisionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "decision id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	decision, err := h.repo.GetDecision(ctx, decisionID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get decision", "id", decisionID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "decision not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// GetLeadDecision retrieves the latest decision for a lead, cache first.
func (h *Handler) GetLeadDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	leadID := chi.URLParam(r, "id")

	if leadID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "lead id is required",
		})
		return
	}

	if h.cache != nil {
		if decision, err := h.cache.GetDecision(ctx, leadID); err == nil && decision != nil {
			writeJSON(w, http.StatusOK, decision)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "no decision for lead",
	})
}

// ============================================================================
// QUALIFICATION RULE HANDLERS
// ============================================================================

// ListRules returns all loaded qualification rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.AllRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a qualification rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.AllRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRule validates, stores and loads a qualification rule.
// Validation failures are reported field-by-field before anything mutates.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if problems := rule.Validate(); len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "rule validation failed",
			"errors": problems,
		})
		return
	}

	// Compile the guard before touching the engine or the database.
	if err := h.engine.ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.engine.AddRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRule(ctx, &rule); err != nil {
			slog.Error("failed to save rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule": rule,
	})
}

// DeleteRule removes a qualification rule from the engine and the database.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	removed := h.engine.RemoveRule(ruleID)

	if h.repo != nil {
		if err := h.repo.DeleteRule(ctx, ruleID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to delete rule", "id", ruleID, "error", err)
		} else if err == nil {
			removed = true
		}
	}

	if !removed {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	slog.Info("rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted",
	})
}

// ReloadRules reloads all qualification rules from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListRules(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// ============================================================================
// TAG RULE HANDLERS
// ============================================================================

// ListTagRules returns all loaded tag rules from the engine.
func (h *Handler) ListTagRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.tagEngine.AllTagRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tagRules": loaded,
		"count":    len(loaded),
		"source":   "database",
	})
}

// GetTagRule retrieves a tag rule by ID from the loaded engine rules.
func (h *Handler) GetTagRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "tag rule id is required",
		})
		return
	}

	for _, rule := range h.tagEngine.AllTagRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "tag rule not found",
	})
}

// ListTagRulesByCategory returns loaded tag rules with the given category.
func (h *Handler) ListTagRulesByCategory(w http.ResponseWriter, r *http.Request) {
	category := domain.TagCategory(chi.URLParam(r, "category"))

	if !category.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown tag category",
		})
		return
	}

	loaded := h.tagEngine.RulesByCategory(category)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tagRules": loaded,
		"count":    len(loaded),
		"category": category,
	})
}

// CreateTagRule validates, stores and loads a tag rule.
func (h *Handler) CreateTagRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.TagRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if problems := rule.Validate(); len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "tag rule validation failed",
			"errors": problems,
		})
		return
	}

	if err := h.tagEngine.ValidateTagRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.tagEngine.AddTagRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveTagRule(ctx, &rule); err != nil {
			slog.Error("failed to save tag rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save tag rule",
			})
			return
		}
	}

	slog.Info("tag rule created", "id", rule.ID, "tag", rule.Tag)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"tagRule": rule,
	})
}

// DeleteTagRule removes a tag rule from the engine and the database.
func (h *Handler) DeleteTagRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "tag rule id is required",
		})
		return
	}

	removed := h.tagEngine.RemoveTagRule(ruleID)

	if h.repo != nil {
		if err := h.repo.DeleteTagRule(ctx, ruleID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to delete tag rule", "id", ruleID, "error", err)
		} else if err == nil {
			removed = true
		}
	}

	if !removed {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "tag rule not found",
		})
		return
	}

	slog.Info("tag rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "tag rule deleted",
	})
}

// ReloadTagRules reloads all tag rules from the database into the engine.
func (h *Handler) ReloadTagRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListTagRules(ctx)
	if err != nil {
		slog.Error("failed to list tag rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load tag rules from database",
		})
		return
	}

	if err := h.tagEngine.ReloadTagRules(dbRules); err != nil {
		slog.Error("failed to reload tag rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload tag rules: " + err.Error(),
		})
		return
	}

	slog.Info("tag rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "tag rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
