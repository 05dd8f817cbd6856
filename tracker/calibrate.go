package tracker

import (
	"time"

	"github.com/benbjohnson/clock"
	"gonum.org/v1/gonum/stat"

	"github.com/inference-sim/memtrack/tracker/memory"
)

// Baseline is the mean memory usage measured over a quiet window.
type Baseline struct {
	Mean     float64 // bytes
	StdDev   float64 // bytes, unbiased; 0 with fewer than two readings
	Readings int
}

// Offset returns the baseline as a whole number of bytes to subtract from samples.
func (b Baseline) Offset() uint64 {
	if b.Mean <= 0 {
		return 0
	}
	return uint64(b.Mean)
}

// measureBaseline samples every calibrationInterval for d and averages the readings.
// Failed readings are skipped; no readings at all gives a zero baseline.
func measureBaseline(clk clock.Clock, sampler memory.Sampler, d time.Duration) Baseline {
	var readings []float64
	start := clk.Now()
	for clk.Since(start) < d {
		if v, err := sampler.Sample(); err == nil {
			readings = append(readings, float64(v))
		}
		clk.Sleep(calibrationInterval)
	}

	b := Baseline{Readings: len(readings)}
	switch len(readings) {
	case 0:
	case 1:
		b.Mean = readings[0]
	default:
		b.Mean, b.StdDev = stat.MeanStdDev(readings, nil)
	}
	return b
}
