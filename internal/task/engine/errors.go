package engine

import "jobhost/internal/errors"

var (
	ErrDisabled    = errors.New("engine disabled")
	ErrStopped     = errors.New("engine stopped")
	ErrStopping    = errors.New("engine stopping")
	ErrQueueFull   = errors.New("engine queue full")
	ErrOverlapSkip = errors.New("skipped: already queued or running")
	ErrInvalidTask = errors.New("invalid task")
)
