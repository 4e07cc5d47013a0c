package api

import (
	"log/slog"
	"net/http"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/config"
	"github.com/dgallion1/docforge/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP API server for docforge.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	registry     *codec.Registry
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, reg *codec.Registry, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		registry:     reg,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/detect", s.handleDetect)
		r.Get("/api/formats", s.handleFormats)

		r.Post("/api/convert", s.syncHandler(pipeline.KindConvert))
		r.Post("/api/compare", s.syncHandler(pipeline.KindCompare))
		r.Post("/api/merge", s.syncHandler(pipeline.KindMerge))
		r.Post("/api/mailmerge", s.syncHandler(pipeline.KindMailMerge))
		r.Post("/api/cleanup", s.syncHandler(pipeline.KindCleanup))

		r.Route("/api/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmitJob)
			r.Get("/{jobID}/status", s.handleJobStatus)
			r.Get("/{jobID}/result", s.handleJobResult)
			r.Delete("/{jobID}", s.handleDeleteJob)
		})

		r.Get("/api/stats/conversions", s.handleConversionStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
