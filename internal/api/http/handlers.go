package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tallyline/tallyline/internal/errors"
	"github.com/tallyline/tallyline/internal/normalize"
	"github.com/tallyline/tallyline/internal/quarantine"
	"github.com/tallyline/tallyline/pkg/types"
)

// handleTriggerRun runs the reconciliation pipeline synchronously and
// returns the outcome. Concurrent triggers are serialized by the run
// tracker's single-writer connection; each gets its own run record.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	s.logger.Printf("run triggered via API (request_id=%s)", middleware.GetReqID(r.Context()))
	outcome, err := s.engine.Run(r.Context())
	if err != nil {
		if outcome != nil {
			// The run failed but was tracked; surface both.
			writeJSON(w, http.StatusInternalServerError, outcome)
			return
		}
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	task := r.URL.Query().Get("task")
	if task == "" {
		task = s.taskCode
	}
	limit := queryInt(r, "limit", 20)
	runs, err := s.tracker.RecentRuns(r.Context(), task, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if runs == nil {
		runs = []types.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if _, err := s.tracker.Get(r.Context(), runID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	events, err := s.tracker.Events(r.Context(), runID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if events == nil {
		events = []types.RunEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleParityReports(w http.ResponseWriter, r *http.Request) {
	verdict := types.ParityVerdict(r.URL.Query().Get("verdict"))
	if verdict != "" && verdict != types.ParityPass && verdict != types.ParityFail {
		writeError(w, r, http.StatusBadRequest, "verdict must be PASS or FAIL")
		return
	}
	reports, err := s.reports.Query(r.Context(),
		r.URL.Query().Get("from"), r.URL.Query().Get("to"),
		verdict, queryInt(r, "limit", 100))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if reports == nil {
		reports = []types.ParityReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleQuarantineSummary(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "since_hours", 24*7)
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	summary, err := s.quarantine.Summary(r.Context(), since)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if summary == nil {
		summary = []quarantine.SummaryRow{}
	}
	writeJSON(w, http.StatusOK, summary)
}

// OverrideRequest is the body for PUT /v1/overrides/{key}.
type OverrideRequest struct {
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note"`
}

// handleUpsertOverride creates or replaces a timestamp override. The key in
// the path is canonicalized, so callers may pass the raw identifier. The
// correction lands on the next run.
func (s *Server) handleUpsertOverride(w http.ResponseWriter, r *http.Request) {
	key := normalize.Normalize(chi.URLParam(r, "key"))
	if key.IsZero() {
		writeDomainError(w, r, errors.NewValidationError(errors.CodeNoIdentifier,
			"key must not normalize to empty"))
		return
	}

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, r, errors.NewValidationError(errors.CodeMalformedPayload,
			"invalid request body: "+err.Error()))
		return
	}
	if req.Timestamp.IsZero() {
		writeDomainError(w, r, errors.NewValidationError(errors.CodeMalformedPayload,
			"timestamp is required"))
		return
	}

	ov := types.TimestampOverride{
		Key:       key,
		Timestamp: req.Timestamp.UTC(),
		Note:      req.Note,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.overrides.Upsert(r.Context(), ov); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *Server) handleFlatRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := s.sink.FlatRows(r.Context(),
		q.Get("from"), q.Get("to"), q.Get("store"), q.Get("brand"),
		queryInt(r, "limit", 500))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if rows == nil {
		rows = []types.FlatRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// StatusResponse summarizes the system for operators.
type StatusResponse struct {
	TaskCode   string            `json:"task_code"`
	Generation int64             `json:"generation"`
	LastRuns   []types.RunRecord `json:"last_runs"`
	StaleRuns  []types.RunRecord `json:"stale_runs"`
	Phases     interface{}       `json:"phases"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	gen, err := s.sink.Generation(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	last, err := s.tracker.RecentRuns(r.Context(), s.taskCode, 5)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	// A run still marked Running after an hour is worth an operator's look.
	stale, err := s.tracker.StaleRunning(r.Context(), time.Now().Add(-time.Hour))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if last == nil {
		last = []types.RunRecord{}
	}
	if stale == nil {
		stale = []types.RunRecord{}
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		TaskCode:   s.taskCode,
		Generation: gen,
		LastRuns:   last,
		StaleRuns:  stale,
		Phases:     s.engine.Stats().Snapshot(),
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
