package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/inference-sim/memtrack/tracker/memory"
	"github.com/inference-sim/memtrack/tracker/trace"
)

// Outcome is how the monitored work ended, as seen at the scope's release boundary.
type Outcome int

const (
	// OutcomeNormal means the work returned without error.
	OutcomeNormal Outcome = iota
	// OutcomeFailed means the work returned an error, panicked, or never returned.
	OutcomeFailed
)

func (o Outcome) String() string {
	if o == OutcomeFailed {
		return "failed"
	}
	return "normal"
}

// OutcomeOf maps a work result to its Outcome.
func OutcomeOf(err error) Outcome {
	if err != nil {
		return OutcomeFailed
	}
	return OutcomeNormal
}

func (o Outcome) marker() trace.Marker {
	if o == OutcomeFailed {
		return trace.MarkerGracefulCrash
	}
	return trace.MarkerSuccess
}

// Option customizes a Scope.
type Option func(*Scope)

// WithClock replaces the wall clock, typically with clock.NewMock() in tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scope) { s.clock = c }
}

// WithSampler replaces the memory source named by Config.Source.
func WithSampler(sampler memory.Sampler) Option {
	return func(s *Scope) { s.sampler = sampler }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Scope) { s.log = log }
}

// Scope tracks memory while the caller's work runs. Create it with Start and always
// call Release exactly once, on every exit path.
type Scope struct {
	path     string
	cfg      Config
	clock    clock.Clock
	sampler  memory.Sampler
	log      *logrus.Entry
	baseline Baseline

	sink     *sink
	worker   *worker
	released atomic.Bool
}

// Start creates or truncates the trace at path and starts sampling. Every failure is
// an *InitializationError and leaves nothing running.
func Start(path string, cfg Config, opts ...Option) (*Scope, error) {
	s := &Scope{path: path, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.log == nil {
		s.log = logrus.WithField("trace", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, &InitializationError{Path: path, Op: "validating config", Err: err}
	}
	if s.sampler == nil {
		sampler, err := memory.New(cfg.Source)
		if err != nil {
			return nil, &InitializationError{Path: path, Op: "opening memory source", Err: err}
		}
		s.sampler = sampler
	}

	snk, err := openSink(path)
	if err != nil {
		return nil, &InitializationError{Path: path, Op: "creating trace file", Err: err}
	}
	s.sink = snk

	if cfg.Calibrate {
		s.diag("calibrating memory baseline for %s", cfg.CalibrationDuration)
		s.baseline = measureBaseline(s.clock, s.sampler, cfg.CalibrationDuration)
		s.diag("baseline memory is %s ± %s over %d readings",
			units.BytesSize(s.baseline.Mean), units.BytesSize(s.baseline.StdDev), s.baseline.Readings)
	}

	s.worker = newWorker(snk, s.sampler, cfg, s.clock, s.log, s.baseline.Offset())
	if err := s.worker.begin(); err != nil {
		snk.abort()
		return nil, &InitializationError{Path: path, Op: "starting sampling worker", Err: err}
	}
	s.diag("logging memory usage into %s", path)

	if cfg.StartDelay > 0 {
		s.clock.Sleep(cfg.StartDelay)
	}
	return s, nil
}

// Release stops the worker, appends the marker for outcome, and closes the trace.
// A marker write failure is returned as *MarkerWriteError; a worker that overran
// Config.StopTimeout yields ErrWorkerStopTimeout. Errors are combined, and the marker
// is attempted regardless.
func (s *Scope) Release(outcome Outcome) error {
	if !s.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	elapsed := s.Elapsed()

	var errs error
	if err := s.worker.stop(s.cfg.StopTimeout); err != nil {
		s.log.Warnf("sampling worker did not stop within %s; sealing trace", s.cfg.StopTimeout)
		errs = multierr.Append(errs, err)
	}
	if s.worker.Degraded() {
		s.log.Warn("memory sampling ended early; the trace is incomplete")
	}

	marker := outcome.marker()
	markerErr, closeErr := s.sink.finish(marker)
	if markerErr != nil {
		errs = multierr.Append(errs, &MarkerWriteError{Path: s.path, Marker: marker, Err: markerErr})
	}
	errs = multierr.Append(errs, closeErr)

	if outcome == OutcomeFailed {
		s.diag("monitored work failed after %s", elapsed)
	}
	s.diag("tracked %s with %d samples", elapsed, s.sink.count())

	if s.cfg.EndDelay > 0 {
		settled := measureBaseline(s.clock, s.sampler, s.cfg.EndDelay)
		after := settled.Mean - s.baseline.Mean
		if after < 0 {
			after = 0
		}
		s.diag("memory in use once the work finished is %s ± %s",
			units.BytesSize(after), units.BytesSize(settled.StdDev))
	}
	return errs
}

// Path returns the trace file path.
func (s *Scope) Path() string {
	return s.path
}

// Elapsed returns the time since sampling started.
func (s *Scope) Elapsed() time.Duration {
	return s.clock.Since(s.worker.start)
}

// Samples returns the number of sample rows written so far.
func (s *Scope) Samples() int {
	return s.sink.count()
}

// Baseline returns the calibration baseline; zero when calibration is off.
func (s *Scope) Baseline() Baseline {
	return s.baseline
}

// WorkerState returns the sampling worker's lifecycle state.
func (s *Scope) WorkerState() WorkerState {
	return s.worker.State()
}

// diag logs scope lifecycle messages, at info level when Config.Verbose is set.
func (s *Scope) diag(format string, args ...any) {
	if s.cfg.Verbose {
		s.log.Infof(format, args...)
		return
	}
	s.log.Debugf(format, args...)
}

// Track runs work inside a scope writing to path. The work's own error is returned
// unchanged and a panic is re-raised after the marker is written. Work that exits its
// goroutine without returning is recorded as failed. Release errors are logged, never
// returned in place of the work's result. Only an *InitializationError is returned
// without work having run.
func Track(ctx context.Context, path string, cfg Config, work func(context.Context) error, opts ...Option) (err error) {
	scope, startErr := Start(path, cfg, opts...)
	if startErr != nil {
		return startErr
	}

	returned := false
	defer func() {
		if r := recover(); r != nil {
			scope.releaseLogged(OutcomeFailed)
			panic(r)
		}
		if !returned {
			// runtime.Goexit, e.g. t.FailNow inside the work
			scope.releaseLogged(OutcomeFailed)
			return
		}
		scope.releaseLogged(OutcomeOf(err))
	}()

	err = work(ctx)
	returned = true
	return err
}

func (s *Scope) releaseLogged(outcome Outcome) {
	err := s.Release(outcome)
	if err == nil {
		return
	}
	var mwe *MarkerWriteError
	if errors.As(err, &mwe) {
		s.log.Errorf("trace outcome could not be recorded: %v", err)
		return
	}
	s.log.Warn(fmt.Sprintf("releasing tracker: %v", err))
}
