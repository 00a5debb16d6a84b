package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ktheindifferent/lifx-api-server/internal/color"
	"github.com/ktheindifferent/lifx-api-server/internal/device"
	"github.com/ktheindifferent/lifx-api-server/internal/gateway"
	"github.com/ktheindifferent/lifx-api-server/internal/lan"
	"github.com/ktheindifferent/lifx-api-server/internal/ratelimit"
	"github.com/ktheindifferent/lifx-api-server/internal/states"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeValidationError writes a 400 validation_error response.
func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeRateLimited writes a 429 response with a Retry-After header in whole
// seconds, rounded up.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, message string) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, message)
}

// isValidation reports whether err is a client input error.
func isValidation(err error) bool {
	return errors.Is(err, states.ErrInvalidRequest) ||
		errors.Is(err, device.ErrInvalidSelector) ||
		errors.Is(err, color.ErrInvalidColor) ||
		errors.Is(err, lan.ErrLabelTooLong)
}

// writeDomainError maps an error from the gateway or applier to a response.
func writeDomainError(w http.ResponseWriter, err error) {
	var limited *ratelimit.LimitError
	switch {
	case errors.As(err, &limited):
		writeRateLimited(w, limited.RetryAfter, err.Error())
	case isValidation(err):
		writeValidationError(w, err.Error())
	case errors.Is(err, gateway.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "gateway is shutting down")
	default:
		writeInternalError(w, "internal server error")
	}
}
