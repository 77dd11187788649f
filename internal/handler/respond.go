package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/bookshelf/internal/entitlement"
)

const maxBodyBytes = 1 << 16

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return false
	}
	return true
}

// statusFor maps the entitlement error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, entitlement.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, entitlement.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entitlement.ErrChannel):
		return http.StatusPaymentRequired
	case errors.Is(err, entitlement.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, entitlement.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the mapped status. Caller-facing messages come from
// the typed errors; storage and gateway internals are only logged.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()

	var ce *entitlement.ChannelError
	switch {
	case status == http.StatusServiceUnavailable:
		msg = "storage unavailable, try again later"
	case status == http.StatusConflict:
		msg = "subscription is being updated, try again"
	case errors.As(err, &ce):
		msg = "payment rejected: " + ce.Reason
	case status == http.StatusInternalServerError:
		msg = "internal error"
	}
	if status >= 500 {
		logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
