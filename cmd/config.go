package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/inference-sim/memtrack/tracker"
	"github.com/inference-sim/memtrack/tracker/memory"
)

var (
	// CLI flags for the tracker config
	source                 string        // Memory source name
	minInterval            time.Duration // Shortest delay between samples
	maxInterval            time.Duration // Longest delay between samples
	growthFactor           float64       // Delay as a fraction of elapsed time
	warmupSamples          int           // Samples taken at the minimum interval first
	stopTimeout            time.Duration // Bounded wait for the sampler on release
	syncThreshold          time.Duration // fsync once delays reach this length
	maxConsecutiveFailures int           // Give up after this many failed reads
	calibrate              bool          // Subtract the idle baseline
	calibrationDuration    time.Duration // Baseline measurement window
	startDelay             time.Duration // Settle time before the command starts
	endDelay               time.Duration // Settle measurement after the command ends
)

// addTrackerFlags registers the tracker config flags on cmd, with defaults from
// tracker.DefaultConfig.
func addTrackerFlags(cmd *cobra.Command) {
	def := tracker.DefaultConfig()
	cmd.Flags().StringVar(&source, "source", def.Source, fmt.Sprintf("Memory source %v", memory.SourceNames()))
	cmd.Flags().DurationVar(&minInterval, "min-interval", def.Schedule.MinInterval, "Shortest delay between samples")
	cmd.Flags().DurationVar(&maxInterval, "max-interval", def.Schedule.MaxInterval, "Longest delay between samples")
	cmd.Flags().Float64Var(&growthFactor, "growth-factor", def.Schedule.GrowthFactor, "Delay as a fraction of elapsed time")
	cmd.Flags().IntVar(&warmupSamples, "warmup-samples", def.Schedule.WarmupSamples, "Samples taken at the minimum interval before the delay grows")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", def.StopTimeout, "How long to wait for the sampler to stop")
	cmd.Flags().DurationVar(&syncThreshold, "sync-threshold", def.SyncThreshold, "fsync the trace once delays reach this length")
	cmd.Flags().IntVar(&maxConsecutiveFailures, "max-failures", def.MaxConsecutiveFailures, "Stop sampling after this many consecutive failed reads (0 = never)")
	cmd.Flags().BoolVar(&calibrate, "calibrate", def.Calibrate, "Measure the idle baseline first and subtract it from every sample")
	cmd.Flags().DurationVar(&calibrationDuration, "calibration-duration", def.CalibrationDuration, "Length of the baseline measurement")
	cmd.Flags().DurationVar(&startDelay, "start-delay", def.StartDelay, "Wait after sampling starts before running the command")
	cmd.Flags().DurationVar(&endDelay, "end-delay", def.EndDelay, "Measure settled memory for this long after the command ends")
}

// trackerConfig builds the tracker config: defaults, then --config, then flags the user
// actually set. Unset flags must not overwrite file values.
func trackerConfig(cmd *cobra.Command) (tracker.Config, error) {
	cfg := tracker.DefaultConfig()
	if configPath != "" {
		loaded, err := tracker.LoadConfig(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.Source = source
	}
	if flags.Changed("min-interval") {
		cfg.Schedule.MinInterval = minInterval
	}
	if flags.Changed("max-interval") {
		cfg.Schedule.MaxInterval = maxInterval
	}
	if flags.Changed("growth-factor") {
		cfg.Schedule.GrowthFactor = growthFactor
	}
	if flags.Changed("warmup-samples") {
		cfg.Schedule.WarmupSamples = warmupSamples
	}
	if flags.Changed("stop-timeout") {
		cfg.StopTimeout = stopTimeout
	}
	if flags.Changed("sync-threshold") {
		cfg.SyncThreshold = syncThreshold
	}
	if flags.Changed("max-failures") {
		cfg.MaxConsecutiveFailures = maxConsecutiveFailures
	}
	if flags.Changed("calibrate") {
		cfg.Calibrate = calibrate
	}
	if flags.Changed("calibration-duration") {
		cfg.CalibrationDuration = calibrationDuration
	}
	if flags.Changed("start-delay") {
		cfg.StartDelay = startDelay
	}
	if flags.Changed("end-delay") {
		cfg.EndDelay = endDelay
	}
	if verbose {
		cfg.Verbose = true
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid tracker config: %w", err)
	}
	return cfg, nil
}
