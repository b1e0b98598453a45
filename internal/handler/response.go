package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON/writeError so the API has one
// response shape. Errors always look like:
//
//	{"error": "validation_error", "message": "plantType is required"}

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/plantdoc/internal/apperror"
)

// maxJSONBody caps the size of JSON request bodies (register/login/refresh).
const maxJSONBody = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable kind, e.g. "not_found"
	Message string `json:"message"` // human-readable description
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be written before the body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status and sends it.
//
// This is the only place where apperror sentinels meet status codes.
// errors.Is walks the whole wrap chain, so a service may return
// fmt.Errorf("service/x: ...: %w", apperror.NotFound(...)) and still map to 404.
//
// Anything that is not an *apperror.AppError is a 500 with a generic message;
// the real error is logged, never sent to the client.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logger.Error("unhandled error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	kind := "internal_error"

	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, kind = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		status, kind = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		status, kind = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		status, kind = http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUpstream):
		status, kind = http.StatusBadGateway, "upstream_unavailable"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, status, ErrorResponse{
		Error:   kind,
		Message: appErr.Message,
	})
}

// decodeJSON reads a size-limited JSON body into dst. Unknown fields are
// ignored, so clients may send extra properties.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperror.ValidationFailed("body", "request body too large")
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("body", "request body is required")
		default:
			return apperror.ValidationFailed("body", "request body must be valid JSON")
		}
	}
	return nil
}
