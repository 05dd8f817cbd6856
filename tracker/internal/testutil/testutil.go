// Package testutil provides shared test infrastructure for the tracker packages:
// scripted memory samplers and assertion helpers.
package testutil

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// ErrSample is returned by FailingSampler and by FlakySampler on failing ticks.
var ErrSample = errors.New("scripted sampling failure")

// ConstSampler always reports the same usage.
type ConstSampler uint64

func (c ConstSampler) Sample() (uint64, error) {
	return uint64(c), nil
}

// FailingSampler never produces a reading.
type FailingSampler struct{}

func (FailingSampler) Sample() (uint64, error) {
	return 0, ErrSample
}

// PanickingSampler panics on every call.
type PanickingSampler struct{}

func (PanickingSampler) Sample() (uint64, error) {
	panic("sampler exploded")
}

// FlakySampler fails every Every-th call and otherwise reports Usage.
type FlakySampler struct {
	Usage uint64
	Every int

	mu    sync.Mutex
	calls int
}

func (f *FlakySampler) Sample() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.Every > 0 && f.calls%f.Every == 0 {
		return 0, ErrSample
	}
	return f.Usage, nil
}

// BlockingSampler blocks every call until Unblock is called.
type BlockingSampler struct {
	Entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// NewBlockingSampler returns a sampler whose Entered channel receives once per call.
func NewBlockingSampler() *BlockingSampler {
	return &BlockingSampler{Entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *BlockingSampler) Sample() (uint64, error) {
	select {
	case b.Entered <- struct{}{}:
	default:
	}
	<-b.release
	return 1, nil
}

// Unblock lets all pending and future calls return.
func (b *BlockingSampler) Unblock() {
	b.once.Do(func() { close(b.release) })
}

// WriteTrace writes content to a fresh trace file under t.TempDir.
func WriteTrace(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing trace fixture: %v", err)
	}
	return path
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
