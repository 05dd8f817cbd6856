package tracker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/memtrack/tracker/memory"
	"github.com/inference-sim/memtrack/tracker/schedule"
)

// calibrationInterval is the spacing of readings while calibrating or settling.
const calibrationInterval = 100 * time.Millisecond

// Config controls a tracking scope. Only Verbose and the diagnostics-related fields
// change logging; none of the fields change the trace file format.
type Config struct {
	Verbose bool   `yaml:"verbose"` // log scope lifecycle at info level
	Source  string `yaml:"source"`  // memory.Source* name; ignored when WithSampler is given

	Schedule schedule.Policy `yaml:",inline"`

	StopTimeout            time.Duration `yaml:"stop_timeout"`             // bounded wait for the worker on release
	SyncThreshold          time.Duration `yaml:"sync_threshold"`           // fsync when the next delay is at least this long
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"` // 0 = retry failed samples forever

	Calibrate           bool          `yaml:"calibrate"`            // subtract the baseline measured before the work starts
	CalibrationDuration time.Duration `yaml:"calibration_duration"` // length of the baseline measurement
	StartDelay          time.Duration `yaml:"start_delay"`          // wait after the worker starts before returning from Start
	EndDelay            time.Duration `yaml:"end_delay"`            // settle measurement after release, logged only
}

// DefaultConfig returns the configuration used when no file or flags override it.
func DefaultConfig() Config {
	return Config{
		Source:                 memory.SourceMeminfo,
		Schedule:               schedule.DefaultPolicy(),
		StopTimeout:            5 * time.Second,
		SyncThreshold:          5 * time.Second,
		MaxConsecutiveFailures: 50,
		CalibrationDuration:    2 * time.Second,
	}
}

// Validate checks that all fields in the config are valid.
func (c Config) Validate() error {
	if !memory.IsValidSource(c.Source) {
		return fmt.Errorf("unknown source %q; valid: %v", c.Source, memory.SourceNames())
	}
	if err := c.Schedule.Validate(); err != nil {
		return err
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive, got %s", c.StopTimeout)
	}
	if c.SyncThreshold < 0 {
		return fmt.Errorf("sync_threshold must be non-negative, got %s", c.SyncThreshold)
	}
	if c.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("max_consecutive_failures must be non-negative, got %d", c.MaxConsecutiveFailures)
	}
	if c.Calibrate && c.CalibrationDuration < calibrationInterval {
		return fmt.Errorf("calibration_duration must be at least %s, got %s", calibrationInterval, c.CalibrationDuration)
	}
	if c.StartDelay < 0 || c.EndDelay < 0 {
		return fmt.Errorf("start_delay and end_delay must be non-negative")
	}
	return nil
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
// Unknown keys are rejected so typos fail loudly.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading tracker config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing tracker config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid tracker config %s: %w", path, err)
	}
	return cfg, nil
}
