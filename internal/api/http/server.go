package http

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tallyline/tallyline/internal/engine"
	"github.com/tallyline/tallyline/internal/parity"
	"github.com/tallyline/tallyline/internal/projection"
	"github.com/tallyline/tallyline/internal/quarantine"
	"github.com/tallyline/tallyline/internal/runlog"
	"github.com/tallyline/tallyline/internal/source"
)

// Server holds the API's collaborators and builds its router.
type Server struct {
	engine     *engine.Engine
	tracker    runlog.Tracker
	reports    parity.ReportStore
	quarantine quarantine.Store
	overrides  source.OverrideStore
	sink       projection.Sink
	taskCode   string
	logger     *log.Logger
}

// NewServer creates the API server.
func NewServer(
	eng *engine.Engine,
	tracker runlog.Tracker,
	reports parity.ReportStore,
	qs quarantine.Store,
	overrides source.OverrideStore,
	sink projection.Sink,
	taskCode string,
	logger *log.Logger,
) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		engine:     eng,
		tracker:    tracker,
		reports:    reports,
		quarantine: qs,
		overrides:  overrides,
		sink:       sink,
		taskCode:   taskCode,
		logger:     logger,
	}
}

// Router builds the API route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/runs", s.handleTriggerRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/events", s.handleRunEvents)
		r.Get("/parity", s.handleParityReports)
		r.Get("/quarantine/summary", s.handleQuarantineSummary)
		r.Put("/overrides/{key}", s.handleUpsertOverride)
		r.Get("/projections/flat", s.handleFlatRows)
		r.Get("/status", s.handleStatus)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
