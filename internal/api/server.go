// Package api exposes the job registry over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/pipeline"
)

// Jobs is the registry surface the handlers use.
type Jobs interface {
	Start(ctx context.Context, req pipeline.StartRequest) (model.Snapshot, error)
	Status(id string) (model.Snapshot, error)
	ListActive() []model.Snapshot
	Stop(id string) (model.Snapshot, error)
	ForceStop(id string) (model.Snapshot, error)
	Subscribe(id string) (<-chan model.Snapshot, func(), error)
	History(ctx context.Context, limit int) ([]model.Snapshot, error)
}

// Pinger checks backing storage for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds handler dependencies.
type Server struct {
	jobs        Jobs
	db          Pinger
	corsOrigins []string
	keepAlive   time.Duration
}

// NewServer creates a Server. An empty origin list allows any origin.
func NewServer(jobs Jobs, db Pinger, corsOrigins []string) *Server {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &Server{jobs: jobs, db: db, corsOrigins: corsOrigins, keepAlive: 15 * time.Second}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/pipeline", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/stop", s.handleStop)
		r.Post("/jobs/{id}/force-stop", s.handleForceStop)
		r.Get("/jobs/{id}/events", s.handleEvents)
		r.Get("/history", s.handleHistory)
	})
	return r
}
