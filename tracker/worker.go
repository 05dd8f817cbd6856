package tracker

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/inference-sim/memtrack/tracker/memory"
	"github.com/inference-sim/memtrack/tracker/schedule"
	"github.com/inference-sim/memtrack/tracker/trace"
)

// WorkerState is the lifecycle state of the sampling worker.
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerRunning
	WorkerStopping
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerStopping:
		return "stopping"
	case WorkerStopped:
		return "stopped"
	default:
		return fmt.Sprintf("WorkerState(%d)", int32(s))
	}
}

// worker samples memory on its own goroutine until stopped. Its only suspension point
// is the wait between ticks, which the stop channel interrupts.
type worker struct {
	sink          *sink
	sampler       memory.Sampler
	policy        schedule.Policy
	clock         clock.Clock
	log           *logrus.Entry
	offset        uint64 // calibration baseline subtracted from every reading
	syncThreshold time.Duration
	maxFailures   int

	state    atomic.Int32
	degraded atomic.Bool
	start    time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	wg       conc.WaitGroup
}

func newWorker(s *sink, sampler memory.Sampler, cfg Config, clk clock.Clock, log *logrus.Entry, offset uint64) *worker {
	return &worker{
		sink:          s,
		sampler:       sampler,
		policy:        cfg.Schedule,
		clock:         clk,
		log:           log,
		offset:        offset,
		syncThreshold: cfg.SyncThreshold,
		maxFailures:   cfg.MaxConsecutiveFailures,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (w *worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// begin records T0 and launches the loop. It may be called once.
func (w *worker) begin() error {
	if !w.state.CompareAndSwap(int32(WorkerIdle), int32(WorkerRunning)) {
		return fmt.Errorf("sampling worker is %s, not idle", w.State())
	}
	w.start = w.clock.Now()
	w.wg.Go(w.loop)
	go func() {
		if r := w.wg.WaitAndRecover(); r != nil {
			w.degraded.Store(true)
			w.log.WithField("panic", r.Value).Errorf("sampling worker panicked:\n%s", r.Stack)
		}
		w.state.Store(int32(WorkerStopped))
		close(w.done)
	}()
	return nil
}

func (w *worker) loop() {
	var (
		index    int // samples written so far
		failures int // consecutive failed ticks
	)
	for {
		elapsed := w.clock.Since(w.start)
		written, err := w.tick(elapsed)
		switch {
		case written:
			index++
			failures = 0
		case err != nil:
			failures++
			if w.maxFailures > 0 && failures >= w.maxFailures {
				w.degraded.Store(true)
				w.log.Warnf("giving up on memory sampling after %d consecutive failures; trace will have no further samples", failures)
				return
			}
		}

		delay := w.policy.NextDelay(elapsed, index)
		if delay >= w.syncThreshold {
			if err := w.sink.sync(); err != nil {
				w.log.Debugf("syncing trace: %v", err)
			}
		}

		timer := w.clock.Timer(delay)
		select {
		case <-w.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick takes one sample and appends it. It reports whether a row was written; a
// timestamp that does not advance past the previous row is dropped without error.
func (w *worker) tick(elapsed time.Duration) (bool, error) {
	usage, err := w.read()
	if err != nil {
		w.log.Debugf("skipping sample at %s: %v", elapsed, err)
		return false, err
	}
	if usage > w.offset {
		usage -= w.offset
	} else {
		usage = 0
	}

	written, err := w.sink.writeSample(trace.Sample{Elapsed: elapsed, Usage: usage})
	if err != nil && !errors.Is(err, errSinkSealed) {
		w.log.Warnf("appending sample at %s: %v", elapsed, err)
	}
	return written, err
}

// read calls the sampler, converting a panic into a sampling error.
func (w *worker) read() (usage uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &memory.SamplingError{Source: "sampler", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return w.sampler.Sample()
}

// stop interrupts the loop and waits up to timeout for it to exit. The timeout runs on
// the wall clock, not the worker's clock. On timeout the sink is sealed so a late
// sample can never follow the marker.
func (w *worker) stop(timeout time.Duration) error {
	if w.State() == WorkerIdle {
		return nil
	}
	w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerStopping))
	w.stopOnce.Do(func() { close(w.stopCh) })

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return nil
	case <-timer.C:
		w.sink.seal()
		return ErrWorkerStopTimeout
	}
}

// Degraded reports whether the worker ended early because sampling kept failing or panicked.
func (w *worker) Degraded() bool {
	return w.degraded.Load()
}
