package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/sink"
	"github.com/opensource-finance/kestrel/internal/watch"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Enricher fills absent behavioural features before scoring.
type Enricher interface {
	Enrich(ctx context.Context, tenantID string, f *domain.TransactionFeatures, at time.Time) *domain.TransactionFeatures
}

// Deps are the collaborators of the API handlers. Only Engine is required.
type Deps struct {
	Repo       domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Engine     *scoring.Engine
	Watch      *watch.Engine
	Enricher   Enricher
	Dispatcher *sink.Dispatcher
	Metrics    *metrics.Recorder
	Location   *time.Location
	Version    string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	engine     *scoring.Engine
	watch      *watch.Engine
	enricher   Enricher
	dispatcher *sink.Dispatcher
	metrics    *metrics.Recorder
	location   *time.Location
	version    string
	now        func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		repo:       deps.Repo,
		cache:      deps.Cache,
		bus:        deps.Bus,
		engine:     deps.Engine,
		watch:      deps.Watch,
		enricher:   deps.Enricher,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		location:   loc,
		version:    deps.Version,
		now:        time.Now,
	}
}

// AnalyzeRequest is the request body for POST /analyze.
type AnalyzeRequest struct {
	Transaction *domain.TransactionInput `json:"transaction"`
}

// Analyze handles POST /analyze requests.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.rejectRequest(w, &domain.FieldError{Message: "malformed JSON body: " + err.Error()})
		return
	}
	f, err := req.Transaction.Features()
	if err != nil {
		h.rejectRequest(w, err)
		return
	}

	at := domain.EvaluationTime(h.now(), h.location)
	if h.enricher != nil {
		f = h.enricher.Enrich(ctx, tenantID, f, at)
	}

	ctx, span := tracer.Start(ctx, "kestrel.analyze")
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("transaction.id", f.TransactionID),
	)
	result, err := h.engine.Analyze(ctx, f, at)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()

		if errors.Is(err, scoring.ErrInvalidFeatures) {
			h.rejectRequest(w, err)
			return
		}
		h.metrics.AnalysisFailed("scoring")
		slog.Error("analysis failed",
			"tenant_id", tenantID,
			"tx_id", f.TransactionID,
			"trace_id", GetTraceID(ctx),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "analysis failed",
			"details": err.Error(),
		})
		return
	}
	span.SetAttributes(
		attribute.String("result.prediction", string(result.Prediction)),
		attribute.Float64("result.ensemble_score", result.EnsembleScore),
	)
	span.End()

	took := time.Since(start)
	result.ProcessingTimeMs = took.Milliseconds()
	h.metrics.ObserveAnalysis(result, took)

	if h.dispatcher != nil {
		h.dispatcher.Dispatch(ctx, tenantID, f, result, at)
	}

	slog.Debug("transaction analyzed",
		"tenant_id", tenantID,
		"tx_id", result.TransactionID,
		"prediction", result.Prediction,
		"ensemble_score", result.EnsembleScore,
		"confidence", result.Confidence,
		"duration_ms", result.ProcessingTimeMs,
	)

	writeJSON(w, http.StatusOK, domain.NewAnalyzeResponse(result))
}

func (h *Handler) rejectRequest(w http.ResponseWriter, err error) {
	h.metrics.AnalysisFailed("validation")

	var ve *domain.FieldError
	if !errors.As(err, &ve) {
		ve = &domain.FieldError{Message: err.Error()}
	}
	body := map[string]string{
		"error":   "invalid request",
		"details": ve.Message,
	}
	if ve.Field != "" {
		body["field"] = ve.Field
	}
	writeJSON(w, http.StatusBadRequest, body)
}

// GetResult retrieves a scoring result by transaction ID, cache first.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if h.cache != nil {
		if result, err := h.cache.GetResult(ctx, tenantID, txID); err == nil && result != nil {
			writeJSON(w, http.StatusOK, result)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	result, err := h.repo.GetEnsembleResult(ctx, tenantID, txID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "result not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get result", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load result",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListAlerts returns the tenant's latest non-dismissed alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	if !h.requireRepo(w) {
		return
	}

	alerts, err := h.repo.ListAlerts(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list alerts", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}
	if alerts == nil {
		alerts = []*domain.Alert{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// MarkAlertRead handles POST /alerts/{id}/read.
func (h *Handler) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	h.flagAlert(w, r, "read", h.repo.MarkAlertRead)
}

// DismissAlert handles POST /alerts/{id}/dismiss.
func (h *Handler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	h.flagAlert(w, r, "dismissed", h.repo.DismissAlert)
}

func (h *Handler) flagAlert(w http.ResponseWriter, r *http.Request, status string, flag func(context.Context, string, string) error) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	alertID := chi.URLParam(r, "id")

	err := flag(ctx, tenantID, alertID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "alert not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to update alert", "id", alertID, "status", status, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update alert",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     alertID,
		"status": status,
	})
}

// ModelPerformance returns the active performance snapshots, newest first.
func (h *Handler) ModelPerformance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if !h.requireRepo(w) {
		return
	}

	snapshots, err := h.repo.ListModelPerformance(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list model performance", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list model performance",
		})
		return
	}
	if snapshots == nil {
		snapshots = []*domain.ModelPerformance{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"models": snapshots,
		"count":  len(snapshots),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			status = "degraded"
		}
	}

	watchRules := 0
	if h.watch != nil {
		watchRules = h.watch.RulesCount()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"version":     h.version,
		"models":      len(domain.ModelsUsed),
		"watch_rules": watchRules,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo != nil {
		return true
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"error": "repository not available",
	})
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
