package server

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body of every error tollgate itself produces.
type ErrorResponse struct {
	Error string `json:"error"`

	// RetryAfter is the wait in seconds, set on 429 responses.
	RetryAfter int64 `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
