package app

import (
	"context"

	"uenotify/internal/monitor"
)

// StopReason is logged by Stop.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopOnceDone   StopReason = "once_done"
)

// ReasonAfterWait classifies why the run ended once either the signal context
// or the app's Done channel fired. A cancelled signal context also cancels the
// app, so it is checked first.
func ReasonAfterWait(signalCtx context.Context) StopReason {
	if signalCtx.Err() != nil {
		return StopSignal
	}
	return StopFatalError
}

// OnceExitCode maps a -once cycle to a process exit code. A single cycle only
// primes edge detection, so it never sends; the exit code reports whether the
// gate let the cycle run.
func OnceExitCode(res monitor.TickResult) int {
	if res.Skipped {
		return 2
	}
	return 0
}
