package handler

import (
	"context"
	"net/http"
	"time"
)

type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	backend Pinger
}

func NewHealthHandler(b Pinger) *HealthHandler {
	return &HealthHandler{backend: b}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.backend.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "degraded",
			"backend": h.backend.Name(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": h.backend.Name(),
	})
}
