// Package http exposes the operational HTTP API: triggering runs, reading
// run history and parity reports, quarantine triage, and override edits.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/tallyline/tallyline/internal/errors"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeDomainError maps a pipeline error to an HTTP status by its category.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCategory(err) {
	case errors.ErrCategoryValidation:
		status = http.StatusBadRequest
	case errors.ErrCategoryRun:
		if errors.GetCode(err) == errors.CodeRunNotFound {
			status = http.StatusNotFound
		} else {
			status = http.StatusConflict
		}
	case errors.ErrCategorySource:
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     err.Error(),
		Code:      errors.GetCode(err),
		RequestID: middleware.GetReqID(r.Context()),
	})
}
