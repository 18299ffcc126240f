package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes. gatherer backs /metrics; metrics
// may be nil to skip request instrumentation.
func SetupRoutes(handler *Handler, gatherer prometheus.Gatherer, metrics *HTTPMetrics) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	if metrics != nil {
		api.Use(metrics.Middleware)
	}

	// Feed routes
	api.HandleFunc("/feeds", handler.ListFeeds).Methods("GET")
	api.HandleFunc("/feeds/{key}", handler.GetFeed).Methods("GET")
	api.HandleFunc("/feeds/{key}/refresh", handler.RefreshFeed).Methods("POST")
	api.HandleFunc("/summary", handler.GetSummary).Methods("GET")
	api.HandleFunc("/history/{symbol}", handler.SelectHistory).Methods("PUT")

	// Alert routes
	api.HandleFunc("/alert", handler.GetAlert).Methods("GET")
	api.HandleFunc("/alert", handler.DismissAlert).Methods("DELETE")

	// Position actions
	api.HandleFunc("/positions/export.csv", handler.ExportPositions).Methods("GET")
	api.HandleFunc("/positions/{symbol}/close", handler.ClosePosition).Methods("POST")

	// Live updates
	api.HandleFunc("/stream", handler.Stream).Methods("GET")

	return r
}
