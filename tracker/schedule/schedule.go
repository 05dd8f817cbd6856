// Package schedule decides how long the sampling worker waits between two samples.
//
// Resolution is finest right after the scope starts and coarsens as the monitored
// work keeps running, so a 10ms run and a 10-day run both produce a trace of useful size.
package schedule

import (
	"fmt"
	"math"
	"time"
)

// Policy maps the time elapsed since the scope started to the next sampling delay.
// The zero value is not usable; start from DefaultPolicy.
type Policy struct {
	MinInterval   time.Duration `yaml:"min_interval"`   // floor, also the first delay
	MaxInterval   time.Duration `yaml:"max_interval"`   // ceiling for multi-day runs
	GrowthFactor  float64       `yaml:"growth_factor"`  // delay as a fraction of elapsed time
	WarmupSamples int           `yaml:"warmup_samples"` // samples taken at MinInterval regardless of elapsed
}

// DefaultPolicy returns a 10ms floor, 60s ceiling policy growing at 10% of elapsed time.
func DefaultPolicy() Policy {
	return Policy{
		MinInterval:  10 * time.Millisecond,
		MaxInterval:  60 * time.Second,
		GrowthFactor: 0.1,
	}
}

// Validate checks that the policy can produce positive, bounded delays.
func (p Policy) Validate() error {
	if p.MinInterval <= 0 {
		return fmt.Errorf("min_interval must be positive, got %s", p.MinInterval)
	}
	if p.MaxInterval < p.MinInterval {
		return fmt.Errorf("max_interval (%s) must not be less than min_interval (%s)", p.MaxInterval, p.MinInterval)
	}
	if p.GrowthFactor < 0 || math.IsNaN(p.GrowthFactor) || math.IsInf(p.GrowthFactor, 0) {
		return fmt.Errorf("growth_factor must be a non-negative number, got %f", p.GrowthFactor)
	}
	if p.WarmupSamples < 0 {
		return fmt.Errorf("warmup_samples must be non-negative, got %d", p.WarmupSamples)
	}
	return nil
}

// NextDelay returns how long to wait after the sample with the given index was taken
// at elapsed. It is pure and non-decreasing in elapsed for a fixed index.
func (p Policy) NextDelay(elapsed time.Duration, index int) time.Duration {
	if index < p.WarmupSamples || elapsed <= 0 {
		return p.MinInterval
	}
	grown := float64(elapsed) * p.GrowthFactor
	if grown >= float64(p.MaxInterval) {
		return p.MaxInterval
	}
	delay := time.Duration(grown)
	if delay < p.MinInterval {
		return p.MinInterval
	}
	return delay
}

// Steps returns the number of samples the policy takes over horizon, assuming each
// sample lands exactly when its delay expires. Useful for estimating trace size. Runs
// where the delay stays fixed at MinInterval or MaxInterval are counted in one step,
// so the cost does not grow with horizon. An invalid policy takes no samples.
func (p Policy) Steps(horizon time.Duration) int {
	if p.Validate() != nil || horizon < 0 {
		return 0
	}
	steps := 0
	for elapsed := time.Duration(0); elapsed <= horizon; {
		delay := p.NextDelay(elapsed, steps)
		if n := p.fixedRun(elapsed, steps, delay, horizon); n > 0 {
			steps += int(n)
			elapsed += n * delay
			continue
		}
		elapsed += delay
		steps++
	}
	return steps
}

// fixedRun returns how many samples from elapsed onward are certain to use delay, not
// counting the last one before the delay may change.
func (p Policy) fixedRun(elapsed time.Duration, index int, delay, horizon time.Duration) time.Duration {
	if elapsed <= 0 || index < p.WarmupSamples {
		return 0
	}
	limit := horizon
	switch {
	case delay == p.MaxInterval:
	case delay == p.MinInterval && p.GrowthFactor > 0:
		// the delay leaves the floor once GrowthFactor*elapsed exceeds MinInterval
		if floor := time.Duration(float64(p.MinInterval) / p.GrowthFactor); floor < limit {
			limit = floor
		}
	case delay == p.MinInterval:
	default:
		return 0
	}
	if limit <= elapsed {
		return 0
	}
	return (limit - elapsed) / delay
}
