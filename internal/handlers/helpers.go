package handlers

import (
	"encoding/json"
	"net/http"
)

// maxRequestBytes bounds JSON request bodies
const maxRequestBytes = 64 * 1024

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteStarted writes a standard "started" JSON response for async operations.
func WriteStarted(w http.ResponseWriter, jobID string) error {
	return WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"job_id": jobID,
	})
}

// DecodeJSON decodes a bounded JSON request body into v.
// Returns false after writing a 400 response when the body is unusable.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := decoder.Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}
