package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/barbosaigor/investrack/internal/shared/errors"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithError sends an error response
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

// respondAppError maps a service error onto its HTTP status. Unclassified
// errors become an opaque 500 so internals never leak to clients.
func respondAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	if appErr := apperrors.GetAppError(err); appErr != nil {
		respondWithError(w, status, appErr.Message)
		return
	}
	respondWithError(w, status, "internal error")
}
