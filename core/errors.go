package core

import "errors"

var (
	// ErrClockNotSimulated is returned by virtual-time operations on a
	// scheduler driven by a real clock.
	ErrClockNotSimulated = errors.New("scheduler clock is not simulated")

	// ErrClockSimulated is returned by Run, which sleeps on the wall clock.
	ErrClockSimulated = errors.New("scheduler clock is simulated")

	// ErrTimeInPast is returned when asked to advance to a time before now.
	ErrTimeInPast = errors.New("target time is before the current time")

	ErrUnknownPolicy = errors.New("unknown intensive throttling policy")

	// ErrSchedulerShutdown is returned for cross-thread posts after Shutdown.
	ErrSchedulerShutdown = errors.New("scheduler is shut down")
)
