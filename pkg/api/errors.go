// Package api exposes the gateway's HTTP interface.
package api

import (
	"encoding/json"
	"net/http"
)

// errorBody is the JSON error payload.
type errorBody struct {
	Error string `json:"error"`
}

// validationBody is the payload for rejected input, keyed by the request
// part ("query" or "body") and then by field.
type validationBody struct {
	Error   string                       `json:"error"`
	Details map[string]map[string]string `json:"details"`
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an {"error": message} payload.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// writeValidationError writes a 400 with per-field details.
func writeValidationError(w http.ResponseWriter, part string, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, validationBody{
		Error:   "Invalid request",
		Details: map[string]map[string]string{part: fields},
	})
}
