package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/internal/engine"
	"github.com/tallyline/tallyline/internal/errors"
	"github.com/tallyline/tallyline/internal/parity"
	"github.com/tallyline/tallyline/internal/projection"
	"github.com/tallyline/tallyline/internal/quarantine"
	"github.com/tallyline/tallyline/internal/runlog"
	"github.com/tallyline/tallyline/internal/source"
	"github.com/tallyline/tallyline/pkg/types"
)

type apiFixture struct {
	server       *Server
	payloads     *source.MemoryPayloadSource
	interactions *source.MemoryInteractionSource
	overrides    *source.MemoryOverrideStore
	tracker      runlog.Tracker
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	dir := t.TempDir()

	qs, err := quarantine.NewSQLiteStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	sink, err := projection.NewSQLiteSink(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	reports, err := parity.NewSQLiteReportStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	tracker, err := runlog.NewSQLiteTracker(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		qs.Close()
		sink.Close()
		reports.Close()
		tracker.Close()
	})

	cfg := config.DefaultConfig()
	cfg.TaskCode = "recon-test"
	cfg.DataDir = dir

	f := &apiFixture{
		payloads:     source.NewMemoryPayloadSource(),
		interactions: source.NewMemoryInteractionSource(),
		overrides:    source.NewMemoryOverrideStore(),
		tracker:      tracker,
	}
	eng := engine.New(cfg, engine.Deps{
		Payloads:     f.payloads,
		Interactions: f.interactions,
		Overrides:    f.overrides,
		Quarantine:   qs,
		Sink:         sink,
		Reports:      reports,
		Tracker:      tracker,
	})
	f.server = NewServer(eng, tracker, reports, qs, f.overrides, sink, "recon-test", nil)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerRunAndHistory(t *testing.T) {
	f := newAPIFixture(t)

	f.payloads.Add(types.RawPayloadRecord{
		ID: "p-1", DeviceID: "dev-1", StoreID: "102",
		RawPayload: []byte(`{"transaction_id": "ab12cd34", "amount": 50}`),
	})
	f.interactions.Add(types.InteractionRecord{
		ID: "ab12cd34", DeviceID: "dev-1", StoreID: "102",
		Timestamp: time.Date(2024, 1, 5, 8, 30, 0, 0, time.UTC),
	})

	rec := f.do(t, http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var outcome types.RunOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, types.OutcomeClean, outcome.Status)
	assert.NotEmpty(t, outcome.RunID)

	rec = f.do(t, http.MethodGet, "/v1/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []types.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, outcome.RunID, runs[0].ID)

	rec = f.do(t, http.MethodGet, "/v1/runs/"+outcome.RunID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/runs/"+outcome.RunID+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []types.RunEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.NotEmpty(t, events)
}

func TestGetRun_NotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/runs/no-such-run", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "RUN_NOT_FOUND", resp.Code)
	assert.NotEmpty(t, resp.RequestID)
}

func TestParityReports_Filter(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/parity?verdict=BOGUS", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/parity?verdict=PASS", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var reports []types.ParityReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
	assert.Empty(t, reports)
}

func TestUpsertOverride(t *testing.T) {
	f := newAPIFixture(t)

	// The raw identifier in the path is canonicalized.
	rec := f.do(t, http.MethodPut, "/v1/overrides/AB12-cd34",
		`{"timestamp": "2024-01-06T19:00:00Z", "note": "clock drift"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ov types.TimestampOverride
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ov))
	assert.Equal(t, types.CanonicalKey("ab12cd34"), ov.Key)

	all, err := f.overrides.All(context.Background())
	require.NoError(t, err)
	assert.Contains(t, all, types.CanonicalKey("ab12cd34"))

	// Missing timestamp is rejected with the validation code.
	rec = f.do(t, http.MethodPut, "/v1/overrides/ab12cd34", `{"note": "no time"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, errors.CodeMalformedPayload, errResp.Code)

	// An unparseable body gets the same code.
	rec = f.do(t, http.MethodPut, "/v1/overrides/ab12cd34", `{"timestamp": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, errors.CodeMalformedPayload, errResp.Code)

	// A key that normalizes to nothing is a missing identifier.
	rec = f.do(t, http.MethodPut, "/v1/overrides/---",
		`{"timestamp": "2024-01-06T19:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, errors.CodeNoIdentifier, errResp.Code)
}

func TestQuarantineSummaryEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	f.payloads.Add(types.RawPayloadRecord{
		ID: "p-bad", DeviceID: "dev-1", StoreID: "102",
		RawPayload: []byte(`{"amount": 1`),
	})
	rec := f.do(t, http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/quarantine/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary []quarantine.SummaryRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Len(t, summary, 1)
	assert.Equal(t, quarantine.ReasonTruncated, summary[0].Reason)
}

func TestStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/v1/runs", "")

	rec := f.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "recon-test", status.TaskCode)
	assert.Equal(t, int64(1), status.Generation)
	assert.Len(t, status.LastRuns, 1)
	assert.Empty(t, status.StaleRuns)
}

func TestFlatRowsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	f.payloads.Add(types.RawPayloadRecord{
		ID: "p-1", DeviceID: "dev-1", StoreID: "102",
		RawPayload: []byte(`{"transaction_id": "ab12cd34", "amount": 50}`),
	})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/runs", "").Code)

	rec := f.do(t, http.MethodGet, "/v1/projections/flat?store=102", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []types.FlatRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "p-1", rows[0].PayloadID)

	rec = f.do(t, http.MethodGet, "/v1/projections/flat?store=999", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Empty(t, rows)
}
