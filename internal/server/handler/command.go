package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/control"
	"github.com/alanyoungcy/perpbot/internal/domain"
)

// CommandRunner executes remote-control commands.
type CommandRunner interface {
	Handle(ctx context.Context, cmd domain.Command) domain.CommandResult
}

// CommandHandler exposes the control surface over HTTP.
type CommandHandler struct {
	runner CommandRunner
	logger *slog.Logger
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(runner CommandRunner, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{runner: runner, logger: logHandler(logger, "command")}
}

type commandRequest struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Args   []string `json:"args"`
	Caller string   `json:"caller"`
}

// Run executes a command. The caller field is checked against the admin list
// by the dispatcher; an unauthorized caller gets 403 with the result body.
// POST /api/commands
func (h *CommandHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	res := h.runner.Handle(r.Context(), domain.Command{
		ID:     req.ID,
		Name:   req.Name,
		Args:   req.Args,
		Caller: req.Caller,
	})

	code := http.StatusOK
	if res.Action == control.ActionUnauthorized {
		code = http.StatusForbidden
	}
	writeJSON(w, code, res)
}
