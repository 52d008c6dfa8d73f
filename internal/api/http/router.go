package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vibewatch/vibewatch/internal/logging"
	"github.com/vibewatch/vibewatch/internal/observability"
	"github.com/vibewatch/vibewatch/internal/pipeline"
)

// RouterConfig configures the HTTP surface.
type RouterConfig struct {
	// MaxUploadBytes caps dataset uploads; zero disables the cap.
	MaxUploadBytes int64
}

// NewRouter wires the API routes, middleware, health check and metrics.
func NewRouter(runner *pipeline.Runner, metrics *observability.Metrics, cfg RouterConfig, logger *zap.Logger) chi.Router {
	logger = logging.OrNop(logger).With(zap.String("component", "http"))

	router := chi.NewRouter()
	router.Use(RecoveryMiddleware(logger))
	router.Use(RequestIDMiddleware)
	router.Use(CorrelationIDMiddleware)
	router.Use(LoggerMiddleware(logger))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	datasets := NewDatasetHandler(runner, cfg.MaxUploadBytes)
	runs := NewRunsHandler(runner)

	router.Route("/v1", func(r chi.Router) {
		r.Use(ContentTypeMiddleware)
		r.Method(http.MethodPost, "/datasets", metrics.WrapHandler("datasets", datasets))
		r.Method(http.MethodPost, "/runs", metrics.WrapHandler("runs_create", http.HandlerFunc(runs.Create)))
		r.Method(http.MethodGet, "/runs", metrics.WrapHandler("runs_list", http.HandlerFunc(runs.List)))
		r.Method(http.MethodGet, "/runs/latest", metrics.WrapHandler("runs_latest", http.HandlerFunc(runs.Latest)))
		r.Method(http.MethodGet, "/runs/{id}/anomalies", metrics.WrapHandler("runs_anomalies", http.HandlerFunc(runs.Anomalies)))
		r.Method(http.MethodGet, "/runs/{id}/employees/{employee}/report", metrics.WrapHandler("employee_report", http.HandlerFunc(runs.Report)))
		r.Method(http.MethodGet, "/stats/problems", metrics.WrapHandler("problem_stats", http.HandlerFunc(runs.Problems)))
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, ErrorResponse{Error: "endpoint not found", RequestID: GetRequestID(r.Context())})
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", RequestID: GetRequestID(r.Context())})
	})
	return router
}
