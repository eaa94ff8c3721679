package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vitaliisemenov/runbook-engine/internal/health"
	"github.com/vitaliisemenov/runbook-engine/internal/realtime"
	"github.com/vitaliisemenov/runbook-engine/internal/tools"
)

// RouterConfig carries the router's collaborators and limits.
type RouterConfig struct {
	Tools          *tools.Tools
	Poller         *health.Poller
	Tracker        *health.PerformanceTracker
	Hub            *realtime.WebSocketHub // optional; enables /ws/events
	Logger         *slog.Logger
	MaxConcurrent  int
	EnableSwagger  bool
	MetricsHandler http.Handler // optional; defaults to promhttp.Handler()
}

// NewRouter wires the eleven /api/* endpoints, the operational routes
// (/metrics, /api/docs, /ws/events), and the shared middleware stack:
// correlation id, recovery, backpressure, body limits, and per-operation
// metrics.
//
// @title Runbook Query Engine API
// @version 1.0
// @description Federated incident-runbook query engine
// @BasePath /api
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandlers(cfg.Tools, cfg.Poller, cfg.Tracker)

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	register := func(method, path, operation string, fn http.HandlerFunc) {
		wrapped := metricsMiddleware(cfg.Tracker, operation)(fn)
		api.Handle(path, wrapped).Methods(method)
	}

	register(http.MethodPost, "/search", "search-knowledge-base", h.Search)
	register(http.MethodPost, "/runbooks/search", "search-runbooks", h.SearchRunbooks)
	register(http.MethodGet, "/runbooks/{id}", "get-runbook", h.GetRunbook)
	register(http.MethodGet, "/runbooks", "list-runbooks", h.ListRunbooks)
	register(http.MethodPost, "/decision-tree", "get-decision-tree", h.DecisionTree)
	register(http.MethodGet, "/procedures/{id}", "get-procedure", h.GetProcedure)
	register(http.MethodPost, "/escalation", "get-escalation-path", h.Escalation)
	register(http.MethodGet, "/sources", "list-sources", h.Sources)
	register(http.MethodPost, "/feedback", "record-resolution-feedback", h.Feedback)
	register(http.MethodGet, "/health", "health", h.Health)
	register(http.MethodGet, "/performance", "performance", h.Performance)

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	if cfg.EnableSwagger {
		r.PathPrefix("/api/docs/").Handler(httpSwagger.WrapHandler)
	}

	if cfg.Hub != nil {
		r.HandleFunc("/ws/events", cfg.Hub.HandleWebSocket)
	}

	var handler http.Handler = r
	handler = bodyLimitMiddleware(handler)
	handler = concurrencyMiddleware(cfg.MaxConcurrent)(handler)
	handler = recoveryMiddleware(logger.Error)(handler)
	handler = correlationMiddleware(handler)
	return handler
}
