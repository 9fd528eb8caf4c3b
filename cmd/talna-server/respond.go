package main

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the JSON body for failed requests.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// respondJSON writes a JSON response with the given status code.
// A nil body writes the status only.
func respondJSON(w http.ResponseWriter, status int, body any) {
	if body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, errorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	})
}
