package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/trogers1052/trading-dashboard/internal/dashboard"
	"github.com/trogers1052/trading-dashboard/internal/feed"
)

// Pinger is a dependency whose health is reported by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	session      *dashboard.Session
	hub          *Hub
	redis        Pinger
	kafkaEnabled bool
	logger       *logrus.Entry
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithRedis reports Redis health on /health.
func WithRedis(p Pinger) HandlerOption {
	return func(h *Handler) {
		h.redis = p
	}
}

// WithKafka marks the event consumer as configured.
func WithKafka(enabled bool) HandlerOption {
	return func(h *Handler) {
		h.kafkaEnabled = enabled
	}
}

// NewHandler creates a new Handler
func NewHandler(session *dashboard.Session, hub *Hub, logger *logrus.Entry, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &Handler{
		session: session,
		hub:     hub,
		logger:  logger.WithField("component", "api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ListFeeds handles GET /feeds
func (h *Handler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.session.Registry().Snapshot())
}

// GetFeed handles GET /feeds/{key}
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	st, ok := h.session.Registry().CurrentState(key)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown feed: "+key)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// RefreshFeed handles POST /feeds/{key}/refresh
func (h *Handler) RefreshFeed(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	if err := h.session.Refresh(key); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	st, _ := h.session.Registry().CurrentState(key)
	respondJSON(w, http.StatusAccepted, st)
}

// GetSummary handles GET /summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.session.Summary())
}

// SelectHistory handles PUT /history/{symbol}
func (h *Handler) SelectHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	if err := h.session.SelectSymbol(symbol); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	st, _ := h.session.Registry().CurrentState(dashboard.FeedHistory)
	respondJSON(w, http.StatusAccepted, st)
}

// GetAlert handles GET /alert
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, ok := h.session.Alerts().Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// DismissAlert handles DELETE /alert
func (h *Handler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	h.session.Alerts().Dismiss()
	w.WriteHeader(http.StatusNoContent)
}

// ClosePosition handles POST /positions/{symbol}/close
func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	result, err := h.session.ClosePosition(r.Context(), symbol)
	if err != nil {
		switch feed.KindOf(err) {
		case feed.ActionError:
			respondJSON(w, http.StatusConflict, result)
		default:
			respondError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ExportPositions handles GET /positions/export.csv
func (h *Handler) ExportPositions(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.session.ExportPositionsCSV(&buf); err != nil {
		if errors.Is(err, dashboard.ErrNoPositions) {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.logger.WithError(err).Error("failed to export positions")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="positions.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Stream handles GET /stream. New clients first receive every feed's state
// and the alert on display.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	h.hub.Serve(w, r, h.currentEvents)
}

func (h *Handler) currentEvents() []StreamEvent {
	registry := h.session.Registry()
	var events []StreamEvent
	for _, key := range registry.Keys() {
		if st, ok := registry.CurrentState(key); ok {
			events = append(events, FeedEvent(st))
		}
	}
	if a, ok := h.session.Alerts().Current(); ok {
		events = append(events, AlertEvent(a, true))
	}
	return events
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := map[string]string{}
	allHealthy := true

	// Check Redis
	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "not configured"
	}

	if h.kafkaEnabled {
		services["kafka"] = "configured"
	} else {
		services["kafka"] = "not configured"
	}

	// A failing feed degrades the dashboard but does not take it down
	feeds := map[string]string{}
	for key, st := range h.session.Registry().Snapshot() {
		switch {
		case st.Err != nil:
			feeds[key] = st.ErrorKind.String()
			allHealthy = false
		case st.HasSnapshot():
			feeds[key] = "ok"
		default:
			feeds[key] = "pending"
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  services,
		"feeds":     feeds,
	}
	if h.hub != nil {
		health["stream_clients"] = h.hub.Clients()
	}
	if !allHealthy {
		health["status"] = "degraded"
	}

	respondJSON(w, http.StatusOK, health)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, feed.ErrUnknownFeed):
		return http.StatusNotFound
	case errors.Is(err, feed.ErrMissingContext):
		return http.StatusBadRequest
	case errors.Is(err, feed.ErrStopped), errors.Is(err, feed.ErrDisposed):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
