package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"usagecache/internal/metrics"
	"usagecache/internal/services/admin"
	"usagecache/internal/services/identity"
	"usagecache/internal/services/query"
	"usagecache/internal/services/sync"
	"usagecache/pkg/errors"
	"usagecache/pkg/logger"
)

// Handler exposes the engine to downstream consumers: range queries,
// summaries, a sync trigger and the cache admin commands
type Handler struct {
	identity *identity.Service
	engine   *sync.Service
	query    *query.Service
	admin    *admin.Service
	log      *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	identitySvc *identity.Service,
	engine *sync.Service,
	querySvc *query.Service,
	adminSvc *admin.Service,
	log *logger.Logger,
) *Handler {
	return &Handler{
		identity: identitySvc,
		engine:   engine,
		query:    querySvc,
		admin:    adminSvc,
		log:      log.With("component", "api"),
	}
}

// Routes returns the API route table
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/events", h.handleEvents)
	mux.HandleFunc("GET /api/summary", h.handleSummary)
	mux.HandleFunc("POST /api/sync", h.handleSync)
	mux.HandleFunc("POST /api/cache/clear", h.handleClearAll)
	mux.HandleFunc("POST /api/cache/clear-current-month", h.handleClearCurrentMonth)

	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents serves the cached events in [start, end] (epoch ms,
// inclusive), most recent first. With no explicit range it falls back
// to the currently required window.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.requestedRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	events, err := h.query.Events(r.Context(), start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"start":  start,
		"end":    end,
		"count":  len(events),
		"events": events,
	})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	billingStart, err := h.identity.BillingStart(r.Context(), now)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	summary, err := h.query.Summary(r.Context(), billingStart, now)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"billingStart": billingStart.UnixMilli(),
		"timeframes":   summary,
	})
}

// handleSync runs one reconcile on demand, the user-triggered retry
// path when a background run failed
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	billingStart, err := h.identity.BillingStart(r.Context(), now)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	requiredStart, requiredEnd := sync.RequiredRange(billingStart, now)
	if err := h.engine.Reconcile(r.Context(), requiredStart, requiredEnd); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"start": requiredStart,
		"end":   requiredEnd,
	})
}

func (h *Handler) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.ClearAll(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) handleClearCurrentMonth(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.ClearCurrentMonth(r.Context(), time.Now()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// requestedRange parses start/end query params, defaulting to the
// required window when both are absent
func (h *Handler) requestedRange(r *http.Request) (int64, int64, error) {
	startParam := r.URL.Query().Get("start")
	endParam := r.URL.Query().Get("end")

	if startParam == "" && endParam == "" {
		now := time.Now()
		billingStart, err := h.identity.BillingStart(r.Context(), now)
		if err != nil {
			return 0, 0, err
		}
		start, end := sync.RequiredRange(billingStart, now)
		return start, end, nil
	}

	start, err := strconv.ParseInt(startParam, 10, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(errors.ErrInvalidInput, "start %q", startParam)
	}
	end, err := strconv.ParseInt(endParam, 10, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(errors.ErrInvalidInput, "end %q", endParam)
	}
	if end < start {
		return 0, 0, errors.Wrapf(errors.ErrInvalidInput, "end %d before start %d", end, start)
	}
	return start, end, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Errorw("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrNetwork), errors.Is(err, errors.ErrDataShape):
		status = http.StatusBadGateway
	}

	h.log.Errorw("Request failed", "path", r.URL.Path, "status", status, "error", err)
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
