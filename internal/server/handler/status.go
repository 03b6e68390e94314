package handler

import (
	"context"
	"net/http"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// StatusSource reports loop-level status.
type StatusSource interface {
	Status(ctx context.Context) domain.BotStatus
}

// StatusHandler serves the bot status for dashboards.
type StatusHandler struct {
	source StatusSource
}

// NewStatusHandler creates a StatusHandler backed by source.
func NewStatusHandler(source StatusSource) *StatusHandler {
	return &StatusHandler{source: source}
}

// GetStatus responds with mode, backend, kill-switch and feed state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Status(r.Context()))
}
