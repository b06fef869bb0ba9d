package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Watch rules apply to every tenant and are stored under AllTenants.
const watchRuleTenant = domain.AllTenants

// CreateWatchRuleRequest is the request body for POST /watch-rules.
type CreateWatchRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Label       string `json:"label"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// ListWatchRules returns every stored watch rule.
func (h *Handler) ListWatchRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	rules, err := h.repo.ListWatchRules(r.Context(), watchRuleTenant)
	if err != nil {
		slog.Error("failed to list watch rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list watch rules",
		})
		return
	}
	if rules == nil {
		rules = []*domain.WatchRule{}
	}

	loaded := 0
	if h.watch != nil {
		loaded = h.watch.RulesCount()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  rules,
		"count":  len(rules),
		"loaded": loaded,
	})
}

// GetWatchRule retrieves a watch rule by ID.
func (h *Handler) GetWatchRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetWatchRule(r.Context(), watchRuleTenant, ruleID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "watch rule not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get watch rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load watch rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateWatchRule validates, stores and activates a watch rule.
// Re-posting an existing ID replaces the rule.
func (h *Handler) CreateWatchRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.watch == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "watch rules not available",
		})
		return
	}
	if !h.requireRepo(w) {
		return
	}

	var req CreateWatchRuleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" || req.Label == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, expression and label are required",
		})
		return
	}

	now := time.Now().UTC()
	rule := &domain.WatchRule{
		ID:          req.ID,
		TenantID:    watchRuleTenant,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Label:       req.Label,
		Enabled:     req.Enabled == nil || *req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.watch.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveWatchRule(ctx, watchRuleTenant, rule); err != nil {
		slog.Error("failed to save watch rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save watch rule",
		})
		return
	}

	loaded, err := h.reloadWatchRules(ctx)
	if err != nil {
		slog.Error("failed to reload watch rules after create", "error", err)
	}

	slog.Info("watch rule created", "id", rule.ID, "label", rule.Label, "loaded", loaded)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":   rule,
		"loaded": loaded,
	})
}

// ReloadWatchRules reloads all watch rules from the database.
func (h *Handler) ReloadWatchRules(w http.ResponseWriter, r *http.Request) {
	if h.watch == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "watch rules not available",
		})
		return
	}
	if !h.requireRepo(w) {
		return
	}

	loaded, err := h.reloadWatchRules(r.Context())
	if err != nil {
		slog.Error("failed to reload watch rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload watch rules: " + err.Error(),
		})
		return
	}

	slog.Info("watch rules reloaded from database", "count", loaded)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "watch rules reloaded successfully",
		"count":   loaded,
	})
}

// reloadWatchRules replaces the engine's rule set with the stored one and
// returns how many rules are active.
func (h *Handler) reloadWatchRules(ctx context.Context) (int, error) {
	rules, err := h.repo.ListWatchRules(ctx, watchRuleTenant)
	if err != nil {
		return h.watch.RulesCount(), err
	}
	if err := h.watch.ReloadRules(rules); err != nil {
		return h.watch.RulesCount(), err
	}
	return h.watch.RulesCount(), nil
}
