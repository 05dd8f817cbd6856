package trace

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Summary aggregates a trace into the figures a report needs.
type Summary struct {
	Samples     int
	Duration    time.Duration // elapsed time of the last sample
	PeakUsage   uint64
	MeanUsage   float64
	FinalUsage  uint64
	PeakElapsed time.Duration // when PeakUsage was observed
	Outcome     Outcome
}

// Summarize computes aggregate statistics from a Trace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(t *Trace) *Summary {
	summary := &Summary{}
	if t == nil {
		return summary
	}
	summary.Outcome = t.Outcome()
	summary.Samples = len(t.Samples)
	if len(t.Samples) == 0 {
		return summary
	}

	usages := make([]float64, len(t.Samples))
	for i, s := range t.Samples {
		usages[i] = float64(s.Usage)
		if s.Usage > summary.PeakUsage {
			summary.PeakUsage = s.Usage
			summary.PeakElapsed = s.Elapsed
		}
	}
	last := t.Samples[len(t.Samples)-1]
	summary.Duration = last.Elapsed
	summary.FinalUsage = last.Usage
	summary.MeanUsage = stat.Mean(usages, nil)

	return summary
}
