package tracker

import (
	"errors"
	"fmt"

	"github.com/inference-sim/memtrack/tracker/trace"
)

var (
	// ErrWorkerStopTimeout is returned by Release when the sampling worker did not stop
	// within Config.StopTimeout. The trace is sealed against further samples and the
	// marker is still written.
	ErrWorkerStopTimeout = errors.New("sampling worker did not stop before timeout")

	// ErrAlreadyReleased is returned by a second call to Release.
	ErrAlreadyReleased = errors.New("tracker scope already released")
)

// InitializationError means the scope could not acquire its trace file or start its
// worker. The monitored work never ran and no samples exist.
type InitializationError struct {
	Path string
	Op   string
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initializing tracker for %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// MarkerWriteError means the terminal marker could not be appended on release. It never
// replaces the outcome of the monitored work.
type MarkerWriteError struct {
	Path   string
	Marker trace.Marker
	Err    error
}

func (e *MarkerWriteError) Error() string {
	return fmt.Sprintf("writing %s marker to %s: %v", e.Marker, e.Path, e.Err)
}

func (e *MarkerWriteError) Unwrap() error {
	return e.Err
}
