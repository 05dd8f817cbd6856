// Package memory reads the current memory usage the tracker records in its traces.
//
// Every source reports bytes. A failed read is returned as a *SamplingError, which the
// sampling worker treats as a skipped tick rather than a fatal condition.
package memory

import (
	"fmt"
	"sort"
	"strings"
)

// Sampler returns the number of bytes currently in use.
type Sampler interface {
	Sample() (uint64, error)
}

// SamplerFunc adapts a plain function to the Sampler interface.
type SamplerFunc func() (uint64, error)

// Sample calls f.
func (f SamplerFunc) Sample() (uint64, error) {
	return f()
}

// Names of the built-in memory sources.
const (
	SourceMeminfo = "meminfo" // system-wide used memory from /proc/meminfo
	SourceProcess = "process" // resident set size of the current process
	SourceVirtual = "virtual" // system-wide used memory, portable
)

// ValidSources is the set of recognized source names. Empty selects SourceMeminfo.
var ValidSources = map[string]bool{"": true, SourceMeminfo: true, SourceProcess: true, SourceVirtual: true}

// IsValidSource returns true if name selects a built-in source.
func IsValidSource(name string) bool {
	return ValidSources[name]
}

// SourceNames returns the non-empty source names in sorted order, for help text.
func SourceNames() []string {
	names := make([]string, 0, len(ValidSources))
	for name := range ValidSources {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// New builds the built-in sampler registered under source.
func New(source string) (Sampler, error) {
	switch source {
	case "", SourceMeminfo:
		return NewMeminfoSampler()
	case SourceProcess:
		return NewSelfProcessSampler()
	case SourceVirtual:
		return NewVirtualSampler(), nil
	default:
		return nil, fmt.Errorf("unknown memory source %q; valid: %s", source, strings.Join(SourceNames(), ", "))
	}
}

// SamplingError reports a single failed memory read.
type SamplingError struct {
	Source string
	Err    error
}

func (e *SamplingError) Error() string {
	return fmt.Sprintf("sampling %s memory: %v", e.Source, e.Err)
}

func (e *SamplingError) Unwrap() error {
	return e.Err
}

func samplingErr(source string, err error) error {
	return &SamplingError{Source: source, Err: err}
}
