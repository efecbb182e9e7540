package rollback

import "errors"

// Error taxonomy for rollback processing. None of these is fatal to the
// frame loop; the worst acceptable outcome is a visibly late hit, never a
// halted simulation.
var (
	// ErrWindowExceeded marks an event whose timestamp predates the retained
	// snapshot history. Recovered locally: the event is applied to current
	// state with a degradation notice.
	ErrWindowExceeded = errors.New("rollback window exceeded")

	// ErrStaleEntity marks an event targeting an entity that no longer
	// exists at its point in time. The event is dropped with a warning.
	ErrStaleEntity = errors.New("stale entity reference")

	// ErrReplayFailed marks a stepper failure during resimulation. The pass
	// is aborted and the pre-pass state is kept.
	ErrReplayFailed = errors.New("replay failed")
)
