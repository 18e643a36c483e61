package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// errorResponse is the body of every failed API call. Reason is a stable machine-readable code,
// Error the localized text shown to the user.
type errorResponse struct {
	Error  string            `json:"error"`
	Reason string            `json:"reason,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Reasons of failed API calls.
const (
	reasonBadRequest     = "bad_request"
	reasonBusy           = "busy"
	reasonClosed         = "closed"
	reasonEmptyQuery     = "empty_query"
	reasonInvalidRequest = "invalid_request"
	reasonMaterial       = "invalid_material"
	reasonNotFound       = "not_found"
	reasonRejected       = "files_rejected"
	reasonUpstream       = "upstream_error"
	reasonInternal       = "internal_error"
)

func (m Main) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Error("Failed to encode response", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) writeError(w http.ResponseWriter, status int, reason, msg string) {
	m.writeJSON(w, status, errorResponse{Error: msg, Reason: reason})
}
