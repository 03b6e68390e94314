package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidOrder       = errors.New("invalid order parameters")
	ErrSigningFailed      = errors.New("signing failed")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrLockHeld           = errors.New("lock already held")
	ErrKillSwitchActive   = errors.New("kill switch active")
	ErrNoPosition         = errors.New("no open position")
	ErrInvalidTarget      = errors.New("invalid stop-loss/take-profit target")
	ErrBackendUnavailable = errors.New("backend unavailable")
)
