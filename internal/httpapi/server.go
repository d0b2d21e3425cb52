// Package httpapi exposes the pipeline over HTTP: a health probe, a
// Prometheus scrape endpoint, and the pipeline run endpoint itself.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kea-dev/kea/internal/pipeline"
)

// Server holds the HTTP router and the orchestrator factory used to build
// a fresh Orchestrator per request.
type Server struct {
	router       chi.Router
	newOrchestrator func() *pipeline.Orchestrator
}

// New builds a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler. newOrchestrator is called once per
// /v1/pipeline request since an Orchestrator's State is owned by a single
// run.
func New(newOrchestrator func() *pipeline.Orchestrator) *Server {
	s := &Server{newOrchestrator: newOrchestrator}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Post("/v1/pipeline", s.handlePipeline)

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
