package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrLockHeld        = errors.New("lock already held")
	ErrAlreadyExited   = errors.New("position already exited")
	ErrNotEligible     = errors.New("position not eligible for exit monitoring")
	ErrEngineStopped   = errors.New("engine stopped")
	ErrStartTimeout    = errors.New("scheduler did not start within timeout")
	ErrStopTimeout     = errors.New("scheduler did not stop within timeout")
	ErrTradingDisabled = errors.New("automated trading disabled")
	ErrNoQuote         = errors.New("no quote available")
)
