package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/orchestrator"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/store"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store        domain.ResultStore
	cache        domain.Cache
	bus          domain.EventBus
	orchestrator *orchestrator.Orchestrator
	registry     *registry.Registry
	evaluator    *rules.Evaluator
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(resultStore domain.ResultStore, cache domain.Cache, bus domain.EventBus, orch *orchestrator.Orchestrator, reg *registry.Registry, eval *rules.Evaluator, version string) *Handler {
	return &Handler{
		store:        resultStore,
		cache:        cache,
		bus:          bus,
		orchestrator: orch,
		registry:     reg,
		evaluator:    eval,
		version:      version,
	}
}

// ValidateResponse is the response for POST /validate.
type ValidateResponse struct {
	Result   *domain.ValidationResult `json:"result"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Validate handles POST /validate: the synchronous entry into the same
// pipeline the bus consumer runs, including persistence and outcome
// publication. Rule failures are a 200 with status FAILED; only
// pipeline errors become HTTP errors.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if req.SourceAccount == "" || req.DestinationAccount == "" {
		writeError(w, http.StatusBadRequest, "sourceAccount and destinationAccount are required")
		return
	}
	if req.Amount.Value <= 0 {
		writeError(w, http.StatusBadRequest, "amount.value must be positive")
		return
	}
	if req.Amount.Currency == "" {
		writeError(w, http.StatusBadRequest, "amount.currency is required")
		return
	}

	tc := domain.TenantContext{
		TenantID:       tenantID,
		BusinessUnitID: r.Header.Get(BusinessUnitIDHeader),
	}
	payment := req.ToPayment(tc)
	if payment.PaymentID == "" {
		payment.PaymentID = uuid.New().String()
	}

	correlationID := r.Header.Get(CorrelationIDHeader)
	if correlationID == "" {
		correlationID = traceID
	}

	result, err := h.orchestrator.Handle(ctx, payment, correlationID)
	if err != nil {
		slog.Error("validation pipeline failed", "payment_id", payment.PaymentID, "error", err)
		writeError(w, http.StatusInternalServerError, "validation pipeline failed")
		return
	}

	resp := ValidateResponse{Result: result}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// GetResult retrieves a validation result by validation ID.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	validationID := chi.URLParam(r, "id")

	if validationID == "" {
		writeError(w, http.StatusBadRequest, "validation id is required")
		return
	}

	result, err := h.store.FindByValidationID(ctx, validationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "validation result not found")
			return
		}
		slog.Error("failed to get result", "id", validationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get result")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListResults handles GET /results: tenant-scoped, paged, with at most
// one filter applied. A validatedAt range takes precedence over status,
// riskLevel and businessUnitId filters.
func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	page := parsePage(r)
	q := r.URL.Query()

	var (
		results *domain.ResultPage
		err     error
	)

	switch {
	case q.Get("from") != "" || q.Get("to") != "":
		from, perr := time.Parse(time.RFC3339, q.Get("from"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "from must be an RFC3339 timestamp")
			return
		}
		to, perr := time.Parse(time.RFC3339, q.Get("to"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "to must be an RFC3339 timestamp")
			return
		}
		results, err = h.store.FindByValidatedAtBetween(ctx, from, to, page)

	case q.Get("status") != "":
		results, err = h.store.FindByStatus(ctx, q.Get("status"), page)

	case q.Get("riskLevel") != "":
		results, err = h.store.FindByRiskLevel(ctx, q.Get("riskLevel"), page)

	case q.Get("businessUnitId") != "":
		results, err = h.store.FindByTenantAndBusinessUnit(ctx, tenantID, q.Get("businessUnitId"), page)

	default:
		results, err = h.store.FindByTenant(ctx, tenantID, page)
	}

	if err != nil {
		if errors.Is(err, store.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to list results", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}

	writeJSON(w, http.StatusOK, results)
}

// GetPaymentResults retrieves every validation of one payment, newest
// first. Replays produce multiple rows for the same payment ID.
func (h *Handler) GetPaymentResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymentID := chi.URLParam(r, "id")

	if paymentID == "" {
		writeError(w, http.StatusBadRequest, "payment id is required")
		return
	}

	results, err := h.store.FindByPaymentID(ctx, paymentID)
	if err != nil {
		slog.Error("failed to get payment results", "payment_id", paymentID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get payment results")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// GetCorrelationResults retrieves every result sharing a correlation ID.
func (h *Handler) GetCorrelationResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := chi.URLParam(r, "id")

	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "correlation id is required")
		return
	}

	results, err := h.store.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		slog.Error("failed to get correlated results", "correlation_id", correlationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get correlated results")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// GetStatistics returns outcome counts and score averages for the tenant.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	stats, err := h.store.Statistics(ctx, tenantID)
	if err != nil {
		slog.Error("failed to compute statistics", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// CleanupRequest is the request body for POST /retention/cleanup.
// Either an absolute cutoff or an age in days must be given.
type CleanupRequest struct {
	Before        *time.Time `json:"before,omitempty"`
	OlderThanDays int        `json:"olderThanDays,omitempty"`
}

// CleanupRetention deletes results validated before the cutoff.
func (h *Handler) CleanupRetention(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	var cutoff time.Time
	switch {
	case req.Before != nil:
		cutoff = req.Before.UTC()
	case req.OlderThanDays > 0:
		cutoff = time.Now().UTC().AddDate(0, 0, -req.OlderThanDays)
	default:
		writeError(w, http.StatusBadRequest, "before or olderThanDays is required")
		return
	}

	deleted, err := h.store.CleanupBefore(ctx, cutoff)
	if err != nil {
		slog.Error("retention cleanup failed", "cutoff", cutoff, "error", err)
		writeError(w, http.StatusInternalServerError, "retention cleanup failed")
		return
	}

	slog.Info("retention cleanup", "cutoff", cutoff, "deleted", deleted)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
		"cutoff":  cutoff,
	})
}

// ListRules returns the effective rule definitions for the tenant:
// built-ins merged with stored tenant overrides.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	defs := h.registry.AllFor(ctx, tenantID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  defs,
		"count":  len(defs),
		"source": "registry",
	})
}

// GetRule retrieves one effective rule definition by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeError(w, http.StatusBadRequest, "rule id is required")
		return
	}

	for _, def := range h.registry.AllFor(ctx, tenantID) {
		if def.RuleID == ruleID {
			writeJSON(w, http.StatusOK, def)
			return
		}
	}

	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRuleRequest is the request body for creating a tenant rule.
type CreateRuleRequest struct {
	RuleID     string                 `json:"ruleId"`
	RuleName   string                 `json:"ruleName"`
	Family     string                 `json:"family"`
	Expression string                 `json:"expression,omitempty"`
	Priority   int                    `json:"priority"`
	Active     bool                   `json:"active"`
	Version    string                 `json:"version,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// CreateRule persists a tenant rule override. A custom expression is
// compiled before the rule is admitted; an override with the ID of a
// built-in rule replaces it for this tenant.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if req.RuleID == "" || req.RuleName == "" {
		writeError(w, http.StatusBadRequest, "ruleId and ruleName are required")
		return
	}

	family := domain.RuleFamily(req.Family)
	if !validFamily(family) {
		writeError(w, http.StatusBadRequest, "family must be one of BUSINESS, COMPLIANCE, FRAUD, RISK")
		return
	}

	version := req.Version
	if version == "" {
		version = "1"
	}

	def := &domain.RuleDefinition{
		RuleID:     req.RuleID,
		RuleName:   req.RuleName,
		Family:     family,
		Expression: req.Expression,
		Priority:   req.Priority,
		Active:     req.Active,
		TenantID:   tenantID,
		Version:    version,
		Parameters: req.Parameters,
	}

	if err := h.evaluator.Validate(def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule expression: "+err.Error())
		return
	}

	if err := h.store.SaveRuleDefinition(ctx, tenantID, def); err != nil {
		slog.Error("failed to save rule definition", "rule_id", def.RuleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	slog.Info("rule definition saved", "rule_id", def.RuleID, "tenant_id", tenantID, "family", def.Family)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    def,
		"message": "Rule saved. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules drops the registry's cached definitions for the tenant so
// the next validation reloads them from the store.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	h.registry.Invalidate(ctx, tenantID)
	count := len(h.registry.AllFor(ctx, tenantID))

	slog.Info("rule cache invalidated", "tenant_id", tenantID, "count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rule cache invalidated",
		"count":   count,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
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

func validFamily(family domain.RuleFamily) bool {
	for _, f := range domain.FamilyOrder {
		if f == family {
			return true
		}
	}
	return false
}

// parsePage reads page/size query parameters; the store normalizes
// out-of-range values.
func parsePage(r *http.Request) domain.Page {
	q := r.URL.Query()
	number, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))
	return domain.Page{Number: number, Size: size}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
