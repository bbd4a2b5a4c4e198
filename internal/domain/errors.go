// Package domain holds the CAPSIM data model: agents, trends, events,
// static lookup tables, and the error kinds the rest of the engine
// reports through.
package domain

import "errors"

// Sentinel error kinds from spec §7. Components wrap these with
// fmt.Errorf("...: %w", ErrX) and callers check with errors.Is.
var (
	// ErrActiveSimulationExists is returned by bootstrap when a run with
	// non-terminal status already exists. No state is written.
	ErrActiveSimulationExists = errors.New("capsim: active simulation already exists")

	// ErrQueueFull is returned when an event can't be admitted and has
	// no evictable peer.
	ErrQueueFull = errors.New("capsim: event queue full")

	// ErrGateFailed marks an action cancelled at execution time because
	// a gate re-check failed (attributes changed since the decision).
	ErrGateFailed = errors.New("capsim: action gate failed at execution")

	// ErrInvariantViolation is fatal: it aborts the run.
	ErrInvariantViolation = errors.New("capsim: invariant violation")

	// ErrShutdownTimeout marks a drain that exceeded SHUTDOWN_TIMEOUT_SEC.
	ErrShutdownTimeout = errors.New("capsim: shutdown drain timed out")

	// ErrPersistenceFatal marks a batch that exhausted its retry budget.
	ErrPersistenceFatal = errors.New("capsim: persistence batch exhausted retries")
)

// ConfigError wraps a malformed or missing configuration value. Fatal
// at bootstrap.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return "capsim: config error on " + e.Field + ": " + e.Msg
}
