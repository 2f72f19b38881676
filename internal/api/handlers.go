package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kvmonitor/kvmonitor/internal/models"
	"github.com/kvmonitor/kvmonitor/internal/utils"
)

const maxLimit = 1000

// Monitor is the engine surface the handlers depend on.
type Monitor interface {
	Events(ctx context.Context, f models.EventFilter) ([]models.AnomalyEvent, error)
	Groups(ctx context.Context, f models.GroupFilter) ([]models.CorrelatedGroup, error)
	Summary(ctx context.Context, start, end time.Time) (models.Summary, error)
	BufferStats(ctx context.Context) ([]models.BufferStats, error)
	ResolveEvent(ctx context.Context, id string) error
	ResolveGroup(ctx context.Context, correlationID string) error
	ClearResolved(ctx context.Context) (events, groups int, err error)
}

type handler struct {
	monitor Monitor
	logger  *slog.Logger
}

func (h *handler) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.EventFilter{}

	var err error
	if f.Start, err = utils.ParseTimeParam(q.Get("startTime")); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("startTime: %w", err))
		return
	}
	if f.End, err = utils.ParseTimeParam(q.Get("endTime")); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("endTime: %w", err))
		return
	}
	if v := q.Get("severity"); v != "" {
		sev, err := models.ParseSeverity(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f.Severity = sev
	}
	if v := q.Get("metricType"); v != "" {
		metric, err := models.ParseMetricType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f.Metric = metric
	}
	if f.Limit, err = parseLimit(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := h.monitor.Events(r.Context(), f)
	if err != nil {
		h.writeMonitorError(w, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (h *handler) listGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.GroupFilter{}

	var err error
	if f.Start, err = utils.ParseTimeParam(q.Get("startTime")); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("startTime: %w", err))
		return
	}
	if f.End, err = utils.ParseTimeParam(q.Get("endTime")); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("endTime: %w", err))
		return
	}
	if v := q.Get("pattern"); v != "" {
		f.Pattern = models.PatternType(v)
	}
	if f.Limit, err = parseLimit(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	groups, err := h.monitor.Groups(r.Context(), f)
	if err != nil {
		h.writeMonitorError(w, "list groups", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups, "count": len(groups)})
}

func (h *handler) summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := utils.ParseTimeParam(q.Get("startTime"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("startTime: %w", err))
		return
	}
	end, err := utils.ParseTimeParam(q.Get("endTime"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("endTime: %w", err))
		return
	}

	s, err := h.monitor.Summary(r.Context(), start, end)
	if err != nil {
		h.writeMonitorError(w, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handler) bufferStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.monitor.BufferStats(r.Context())
	if err != nil {
		h.writeMonitorError(w, "buffer stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"buffers": stats})
}

func (h *handler) resolveEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.monitor.ResolveEvent(r.Context(), id); err != nil {
		h.writeMonitorError(w, "resolve event", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": id})
}

func (h *handler) resolveGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["correlationId"]
	if err := h.monitor.ResolveGroup(r.Context(), id); err != nil {
		h.writeMonitorError(w, "resolve group", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": id})
}

func (h *handler) clearResolved(w http.ResponseWriter, r *http.Request) {
	events, groups, err := h.monitor.ClearResolved(r.Context())
	if err != nil {
		h.writeMonitorError(w, "clear resolved", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"removed":       events + groups,
		"removedEvents": events,
		"removedGroups": groups,
	})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeMonitorError maps engine errors onto HTTP statuses.
func (h *handler) writeMonitorError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func parseLimit(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	var limit int
	if _, err := fmt.Sscanf(value, "%d", &limit); err != nil || limit <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", models.ErrInvalidFilter)
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
