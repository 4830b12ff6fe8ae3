// Package httpapi implements the gateway's HTTP surface: job submission
// and lifecycle endpoints, the on-demand SAC encode endpoints, and a
// health check, matching app.py's FastAPI routes and sac_routes.py's
// router, rebuilt over gorilla/mux.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artorize/gateway/core"
	"github.com/artorize/gateway/jobmanager"
)

// Server wires the job manager and output directory into an
// http.Handler.
type Server struct {
	Manager    *jobmanager.Manager
	OutputRoot string
	BaseDir    string
	Logger     core.Logger
	StartedAt  time.Time

	// MetricsRegistry, when set, is scraped at /metrics instead of the
	// default global registry. Callers pass the same registerer given to
	// hooks.NewPrometheusMetrics so /metrics reports real pipeline data.
	MetricsRegistry *prometheus.Registry

	// SimilarityBackendURL, when set, is where POST /v1/images/find-similar
	// forwards uploads for similarity search. Empty means the endpoint
	// returns 503, matching spec.md §6's "503 when a required downstream
	// is unavailable".
	SimilarityBackendURL string

	router *mux.Router
}

// NewServer builds a Server and registers its routes.
func NewServer(manager *jobmanager.Manager, outputRoot, baseDir string, logger core.Logger, registry *prometheus.Registry) *Server {
	s := &Server{
		Manager:         manager,
		OutputRoot:      outputRoot,
		BaseDir:         baseDir,
		Logger:          logger,
		StartedAt:       time.Now().UTC(),
		MetricsRegistry: registry,
	}
	s.router = mux.NewRouter()
	s.registerRoutes()
	var metricsHandler http.Handler
	if registry != nil {
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	} else {
		metricsHandler = promhttp.Handler()
	}
	s.router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	r := s.router

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/v1/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	r.HandleFunc("/v1/process/artwork", s.handleProcessArtwork).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs/{id}", s.handleJobStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}", s.handleJobDelete).Methods(http.MethodDelete)
	r.HandleFunc("/v1/jobs/{id}/result", s.handleJobResult).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}/layers/{stage}", s.handleJobLayer).Methods(http.MethodGet)

	r.HandleFunc("/v1/sac/encode", s.handleSACEncode).Methods(http.MethodPost)
	r.HandleFunc("/v1/sac/encode/npz", s.handleSACEncodeNPZ).Methods(http.MethodPost)
	r.HandleFunc("/v1/sac/encode/batch", s.handleSACEncodeBatch).Methods(http.MethodPost)
	r.HandleFunc("/v1/sac/encode/job/{id}", s.handleSACEncodeJob).Methods(http.MethodGet)

	r.HandleFunc("/v1/images/extract-hashes", s.handleExtractHashes).Methods(http.MethodPost)
	r.HandleFunc("/v1/images/find-similar", s.handleFindSimilar).Methods(http.MethodPost)
}

func (s *Server) logf(msg string, fields ...interface{}) {
	if s.Logger != nil {
		s.Logger.Info(msg, fields...)
	}
}
