// Package http exposes the data access layer over a thin REST surface:
// presentation glue that merely calls into the repositories.
package http

import (
	"encoding/json"
	"net/http"
)

// success sends a JSON response with the given status code.
func success(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// failure sends a consistent JSON error body.
func failure(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
