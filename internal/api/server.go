package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/wsbridge/internal/api/handler"
	mw "github.com/edvin/wsbridge/internal/api/middleware"
)

// IngestHealth reports whether the event ingestion side is alive.
type IngestHealth interface {
	Healthy() bool
}

// DBPinger is the liveness surface of the database pool.
type DBPinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router chi.Router
	logger zerolog.Logger
	db     DBPinger
	ingest IngestHealth

	clusters    *handler.Cluster
	instances   *handler.Instance
	deadLetters *handler.DeadLetter
}

func NewServer(
	logger zerolog.Logger,
	db DBPinger,
	reg handler.ClusterRegistry,
	instances handler.InstanceReader,
	metrics handler.MetricsReader,
	deadLetters handler.DeadLetterStore,
	replayer handler.Replayer,
	ingest IngestHealth,
) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger,
		db:          db,
		ingest:      ingest,
		clusters:    handler.NewCluster(reg),
		instances:   handler.NewInstance(instances, metrics),
		deadLetters: handler.NewDeadLetter(deadLetters, replayer),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Clusters
		r.Get("/clusters", s.clusters.List)
		r.Post("/clusters", s.clusters.Register)
		r.Get("/clusters/{name}", s.clusters.Get)
		r.Put("/clusters/{name}/state", s.clusters.SetState)
		r.Put("/clusters/{name}/score", s.clusters.SetScore)

		// Instances
		r.Get("/instances/{id}", s.instances.Get)
		r.Get("/instances/{id}/metrics", s.instances.GetMetrics)

		// Dead letters
		r.Get("/dead-letters", s.deadLetters.List)
		r.Post("/dead-letters/{id}/replay", s.deadLetters.Replay)
	})
}

// handleHealthz reports healthy only while ingestion has at least one live
// cluster subscription and the store is reachable.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if s.ingest != nil && !s.ingest.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "ingest unhealthy"})
		return
	}
	if err := s.db.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "database unreachable"})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.db.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
