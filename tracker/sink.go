package tracker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/inference-sim/memtrack/tracker/trace"
)

var errSinkSealed = errors.New("trace sealed")

// sink owns the trace file. The worker appends samples while running; the scope seals
// it and appends the marker once the worker is gone. The mutex is uncontended unless
// the worker overruns the stop timeout, in which case sealing shuts it out.
type sink struct {
	path string

	mu      sync.Mutex
	file    *os.File
	w       *trace.Writer
	sealed  bool
	samples int
	last    time.Duration
}

func openSink(path string) (*sink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating trace directory: %w", err)
		}
	}
	// Unbuffered writes go straight to the kernel, so a killed process leaves at most
	// one partial row behind.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating trace file: %w", err)
	}
	return &sink{path: path, file: file, w: trace.NewWriter(file)}, nil
}

// writeSample appends s unless the sink is sealed or s does not advance past the last
// written sample. It reports whether a row was written.
func (s *sink) writeSample(smp trace.Sample) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return false, errSinkSealed
	}
	if smp.Elapsed <= s.last {
		return false, nil
	}
	if err := s.w.WriteSample(smp); err != nil {
		return false, err
	}
	s.samples++
	s.last = smp.Elapsed
	return true, nil
}

func (s *sink) sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}

// seal stops all further sample writes.
func (s *sink) seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

// finish seals the sink, appends the marker, syncs, and closes the file. Close runs
// even when the marker write fails; the two errors are returned separately.
func (s *sink) finish(m trace.Marker) (markerErr, closeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sealed = true
	if s.file == nil {
		return errors.New("trace file already closed"), nil
	}
	if err := s.w.WriteMarker(m); err != nil {
		markerErr = err
	} else if err := s.file.Sync(); err != nil {
		markerErr = fmt.Errorf("syncing marker: %w", err)
	}
	if err := s.file.Close(); err != nil {
		closeErr = fmt.Errorf("closing trace file: %w", err)
	}
	s.file = nil
	return markerErr, closeErr
}

// abort closes the file without a marker; used when Start fails after opening it.
func (s *sink) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}
