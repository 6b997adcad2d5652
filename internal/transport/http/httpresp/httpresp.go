package httpresp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/go-playground/validator/v10"
)

// Envelope is the response body shared by the platform's HTTP services.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   any    `json:"error,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode reads a JSON body into dst and validates its struct tags.
func Decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("invalid JSON body: %v", err)
	}

	if err := validate.Struct(dst); err != nil {
		return apperr.Validation("%v", err)
	}

	return nil
}

// JSON writes a successful envelope.
func JSON(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{Success: true, Message: message, Data: data})
}

// Error maps err onto a status code and writes a failed envelope.
// Errors from collaborator services are passed through with their own status and body.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var upstream *apperr.UpstreamError
	if errors.As(err, &upstream) {
		slog.WarnContext(r.Context(), "Upstream service rejected request",
			"service", upstream.Service,
			"status", upstream.StatusCode,
			"path", r.URL.Path,
		)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(upstream.StatusCode)
		if _, err := w.Write(upstream.Body); err != nil {
			slog.ErrorContext(r.Context(), "Failed to write response", "error", err)
		}

		return
	}

	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		write(w, status, Envelope{Message: http.StatusText(status), Error: "internal error"})

		return
	}

	write(w, status, Envelope{Message: http.StatusText(status), Error: err.Error()})
}

// StatusOf returns the HTTP status for a service error.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func write(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
