package handler

// RESPONSE HELPERS:
// Success responses from this API are empty 200s. Error responses share one
// JSON shape:
//   {"error": "validation_error", "message": "missing required field(s): name"}
//
// Only client errors carry a specific message. Server errors always carry the
// same generic text; the detail goes to the logs, never to the client.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/newsletter/internal/apperror"
)

// ErrorResponse is the standard error format returned by all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "validation_error")
	Message string `json:"message"` // Human-readable description
}

const genericServerError = "An internal error occurred"

// writeJSON sends a JSON response with the given status code.
// Headers must be set before WriteHeader; anything set later is ignored.
//
// ctx is only used for logging, so an encoding failure carries the request id.
func writeJSON(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			logger.ErrorContext(ctx, "failed to encode JSON response", slog.Any("error", err))
		}
	}
}

// writeError maps a domain error to an HTTP status and sends it.
//
//	ErrMalformedRequest → 400 malformed_request
//	ErrValidation       → 400 validation_error
//	anything else       → 500 internal_error, generic message
func writeError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		switch {
		case errors.Is(err, apperror.ErrMalformedRequest):
			writeJSON(ctx, logger, w, http.StatusBadRequest, ErrorResponse{
				Error:   "malformed_request",
				Message: appErr.Message,
			})
			return
		case errors.Is(err, apperror.ErrValidation):
			writeJSON(ctx, logger, w, http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: appErr.Message,
			})
			return
		}
	}

	// ErrPersistence and unknown errors alike. The raw error may hold SQL,
	// constraint names or host names.
	writeJSON(ctx, logger, w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: genericServerError,
	})
}
