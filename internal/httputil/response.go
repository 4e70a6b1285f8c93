package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"file-service/internal/apperr"
)

// RespondWithError writes an error response in JSON format
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]string{"error": message})
}

// RespondWithJSON writes a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		code = http.StatusInternalServerError
		response = []byte(`{"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// RespondWithAppError translates err into its HTTP status and public message.
// Server-side failures are logged with the full error chain.
func RespondWithAppError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := apperr.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "error", err, "method", r.Method, "path", r.URL.Path, "status", code)
	} else {
		logger.InfoContext(r.Context(), "request rejected", "error", err, "method", r.Method, "path", r.URL.Path, "status", code)
	}
	RespondWithError(w, code, apperr.Message(err))
}

// Envelope is the {message, data} body the file endpoints answer with.
type Envelope struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
