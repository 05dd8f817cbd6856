package memory

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// ProcessSampler reports the resident set size of a single process.
type ProcessSampler struct {
	proc procfs.Proc
}

// NewSelfProcessSampler samples the current process.
func NewSelfProcessSampler() (*ProcessSampler, error) {
	proc, err := procfs.Self()
	if err != nil {
		return nil, fmt.Errorf("opening /proc/self: %w", err)
	}
	return &ProcessSampler{proc: proc}, nil
}

// NewProcessSampler samples the process with the given pid.
func NewProcessSampler(pid int) (*ProcessSampler, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return nil, fmt.Errorf("opening /proc/%d: %w", pid, err)
	}
	return &ProcessSampler{proc: proc}, nil
}

// Sample implements Sampler. A process that has exited fails every read.
func (s *ProcessSampler) Sample() (uint64, error) {
	stat, err := s.proc.Stat()
	if err != nil {
		return 0, samplingErr(SourceProcess, err)
	}
	rss := stat.ResidentMemory()
	if rss < 0 {
		return 0, samplingErr(SourceProcess, fmt.Errorf("negative resident memory %d", rss))
	}
	return uint64(rss), nil
}
