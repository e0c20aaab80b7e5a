package web

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/glean/internal/config"
	"github.com/hpungsan/glean/internal/db"
	"github.com/hpungsan/glean/internal/errors"
	"github.com/hpungsan/glean/internal/logging"
	"github.com/hpungsan/glean/internal/ops"
)

const healthTimeout = 2 * time.Second

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	store *db.Store
	cfg   *config.Config
	log   *logging.Logger
}

// HandleStatus serves the last run report and lifetime totals.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Status(r.Context(), h.store)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleHealth reports whether the store answers a ping.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn(ctx, "health check failed", zap.Error(err))
		renderJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleStaged lists staged items, oldest first.
// Query params: status, project_id, session_id, limit, offset.
func (h *Handlers) HandleStaged(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input := ops.ListStagedInput{
		Status:    q.Get("status"),
		ProjectID: q.Get("project_id"),
		SessionID: q.Get("session_id"),
		Limit:     parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset:    parseIntParam(r, "offset", 0),
	}

	out, err := ops.ListStaged(r.Context(), h.store, input)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// renderError writes a JSON error body using the GleanError status.
func (h *Handlers) renderError(w http.ResponseWriter, r *http.Request, err error) {
	var gErr *errors.GleanError
	if !stderrors.As(err, &gErr) {
		gErr = errors.NewInternal(err)
	}

	if gErr.Status >= http.StatusInternalServerError {
		h.log.Error(r.Context(), "request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}

	renderJSON(w, gErr.Status, map[string]any{
		"error": map[string]any{
			"code":    string(gErr.Code),
			"message": gErr.Message,
			"status":  gErr.Status,
		},
	})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
