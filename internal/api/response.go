package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gyaneshwarpardhi/fraudguard/internal/engine"
	"github.com/gyaneshwarpardhi/fraudguard/internal/fraud"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var se *fraud.StorageError
	switch {
	case errors.Is(err, fraud.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, fraud.ErrUnknownAccount), errors.Is(err, fraud.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fraud.ErrChallengeRequired):
		return http.StatusConflict
	case errors.Is(err, fraud.ErrInvalidOtp):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &se), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
