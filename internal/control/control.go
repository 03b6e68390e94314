// Package control handles remote-control commands (close, close_all, sl,
// tp, tpsl, kill, resume, positions, status) coming from any transport.
// Every handler returns a domain.CommandResult; failures never escape as
// errors so a bad command cannot take the caller down.
package control

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/execution"
)

// Action tags recorded on every result for logs and audit rows.
const (
	ActionUnauthorized   = "UNAUTHORIZED"
	ActionUnknownCommand = "UNKNOWN_COMMAND"
)

// Executor is the order path used by mutating commands.
type Executor interface {
	Close(ctx context.Context, symbol string, amount *float64, reason string) (execution.CloseOutcome, error)
	UpdateTargets(ctx context.Context, symbol string, sl, tp *float64, current float64) (execution.TargetsOutcome, error)
	CurrentPrice(ctx context.Context, symbol string) (float64, bool)
	Backend() domain.Backend
}

// Positions is the read side of the position book.
type Positions interface {
	Get(symbol string) (domain.Position, bool)
	Snapshot() []domain.Position
}

// RiskSwitch owns the kill switch.
type RiskSwitch interface {
	State() domain.RiskControlState
	Kill(ctx context.Context, reason string) (bool, domain.RiskControlState, error)
	Resume(ctx context.Context) (bool, domain.RiskControlState, error)
}

// StatusSource reports loop-level status for the status command.
type StatusSource interface {
	Status(ctx context.Context) domain.BotStatus
}

// Config controls permissions and command defaults.
type Config struct {
	AdminIDs     []string
	DefaultSLPct float64
	DefaultTPPct float64
	// ConfirmWindow, when positive, requires close_all confirm to follow a
	// preview of the same scope by the same caller within the window.
	ConfirmWindow time.Duration
}

type handlerFunc func(ctx context.Context, cmd domain.Command) domain.CommandResult

type preview struct {
	scope string
	at    time.Time
}

// Dispatcher routes commands to handlers and enforces admin gating.
type Dispatcher struct {
	exec      Executor
	positions Positions
	risk      RiskSwitch
	status    StatusSource
	audit     domain.AuditStore
	cfg       Config
	admins    map[string]struct{}
	logger    *slog.Logger

	mutating map[string]handlerFunc
	readOnly map[string]handlerFunc

	mu       sync.Mutex
	previews map[string]preview
	now      func() time.Time
}

// New creates a Dispatcher. status and audit may be nil.
func New(
	exec Executor,
	positions Positions,
	risk RiskSwitch,
	status StatusSource,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.DefaultSLPct <= 0 {
		cfg.DefaultSLPct = 5
	}
	if cfg.DefaultTPPct <= 0 {
		cfg.DefaultTPPct = 10
	}
	d := &Dispatcher{
		exec:      exec,
		positions: positions,
		risk:      risk,
		status:    status,
		audit:     audit,
		cfg:       cfg,
		admins:    make(map[string]struct{}, len(cfg.AdminIDs)),
		logger:    logger.With(slog.String("component", "control")),
		previews:  make(map[string]preview),
		now:       time.Now,
	}
	for _, id := range cfg.AdminIDs {
		if id = strings.TrimSpace(id); id != "" {
			d.admins[id] = struct{}{}
		}
	}
	d.mutating = map[string]handlerFunc{
		"close":     d.handleClose,
		"close_all": d.handleCloseAll,
		"sl":        d.handleSL,
		"tp":        d.handleTP,
		"tpsl":      d.handleTPSL,
		"kill":      d.handleKill,
		"resume":    d.handleResume,
	}
	d.readOnly = map[string]handlerFunc{
		"positions": d.handlePositions,
		"status":    d.handleStatus,
	}
	return d
}

// IsAdmin reports whether caller may run mutating commands.
func (d *Dispatcher) IsAdmin(caller string) bool {
	_, ok := d.admins[strings.TrimSpace(caller)]
	return ok
}

// Commands lists every command name the dispatcher understands.
func (d *Dispatcher) Commands() []string {
	out := make([]string, 0, len(d.mutating)+len(d.readOnly))
	for name := range d.mutating {
		out = append(out, name)
	}
	for name := range d.readOnly {
		out = append(out, name)
	}
	return out
}

// Handle runs one command. It never returns an error: every failure is a
// CommandResult with Success=false and a short message.
func (d *Dispatcher) Handle(ctx context.Context, cmd domain.Command) domain.CommandResult {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	name := normalizeName(cmd.Name)
	cmd.Name = name

	d.logger.InfoContext(ctx, "command received",
		slog.String("id", cmd.ID),
		slog.String("name", name),
		slog.String("caller", cmd.Caller),
		slog.String("args", strings.Join(cmd.Args, " ")),
	)

	if h, ok := d.readOnly[name]; ok {
		return h(ctx, cmd)
	}
	h, ok := d.mutating[name]
	if !ok {
		return domain.CommandResult{
			Success: false,
			Action:  ActionUnknownCommand,
			Message: "Unknown command /" + name + ". Try /positions or /status.",
		}
	}
	if !d.IsAdmin(cmd.Caller) {
		d.logger.WarnContext(ctx, "unauthorized command",
			slog.String("name", name),
			slog.String("caller", cmd.Caller),
		)
		res := domain.CommandResult{
			Success: false,
			Action:  ActionUnauthorized,
			Message: "You are not allowed to run /" + name + ".",
		}
		d.record(ctx, cmd, res)
		return res
	}

	res := h(ctx, cmd)
	d.logger.InfoContext(ctx, "command handled",
		slog.String("id", cmd.ID),
		slog.String("name", name),
		slog.String("action", res.Action),
		slog.Bool("success", res.Success),
		slog.Bool("state_changed", res.StateChanged),
	)
	d.record(ctx, cmd, res)
	return res
}

// record writes one audit row per mutating command. Audit failures are
// logged and never change the command's result.
func (d *Dispatcher) record(ctx context.Context, cmd domain.Command, res domain.CommandResult) {
	if d.audit == nil {
		return
	}
	detail := map[string]any{
		"id":            cmd.ID,
		"name":          cmd.Name,
		"args":          cmd.Args,
		"caller":        cmd.Caller,
		"action":        res.Action,
		"success":       res.Success,
		"state_changed": res.StateChanged,
	}
	if err := d.audit.Log(ctx, "command."+cmd.Name, detail); err != nil {
		d.logger.WarnContext(ctx, "audit log failed",
			slog.String("name", cmd.Name),
			slog.String("error", err.Error()),
		)
	}
}

// normalizeName accepts "/sl", "SL" and "sl@botname".
func normalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "/")
	if i := strings.Index(n, "@"); i >= 0 {
		n = n[:i]
	}
	switch n {
	case "closeall", "close-all":
		return "close_all"
	}
	return n
}
