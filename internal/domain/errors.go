package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrLockHeld           = errors.New("lock already held")
	ErrSigningFailed      = errors.New("signing failed")
	ErrInvalidMint        = errors.New("invalid mint address")
	ErrUnknownCandidate   = errors.New("unknown candidate")
	ErrGateway            = errors.New("quote gateway error")
	ErrStaleQuote         = errors.New("stale quote")
	ErrDailyLimitExceeded = errors.New("daily trade limit exceeded")
	ErrExecutorFailure    = errors.New("executor failure")
	ErrEngineHalted       = errors.New("engine halted")
	ErrShuttingDown       = errors.New("engine shutting down")
)
