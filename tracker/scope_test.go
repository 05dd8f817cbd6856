package tracker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/memtrack/tracker/internal/testutil"
	"github.com/inference-sim/memtrack/tracker/trace"
)

var errWorkFailed = errors.New("work failed")

func tracePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "trace.csv")
}

func testOpts(sampler testutil.ConstSampler) []Option {
	return []Option{WithSampler(sampler), WithLogger(quietLogger())}
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, OutcomeNormal, OutcomeOf(nil))
	assert.Equal(t, OutcomeFailed, OutcomeOf(errWorkFailed))
	assert.Equal(t, "normal", OutcomeNormal.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
}

func TestTrack_ShortWorkRecordsEarlySampleAndSuccessMarker(t *testing.T) {
	// GIVEN work that takes 50ms
	path := tracePath(t)

	// WHEN it runs inside a tracker
	err := Track(context.Background(), path, DefaultConfig(), func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}, testOpts(1<<20)...)
	require.NoError(t, err)

	// THEN there is at least one sample in the first 100ms
	tr, err := trace.Read(path)
	require.NoError(t, err)
	require.NotEmpty(t, tr.Samples)
	assert.Less(t, tr.Samples[0].Elapsed, 100*time.Millisecond)

	// AND the final row is the success marker
	assert.Equal(t, trace.MarkerSuccess, tr.Marker)
	ok, err := trace.HasCompletedSuccessfully(path)
	require.NoError(t, err)
	assert.True(t, ok)
	crashed, err := trace.HasCrashedGracefully(path)
	require.NoError(t, err)
	assert.False(t, crashed)
}

func TestTrack_FailingWorkReturnsItsErrorAndMarksGracefulCrash(t *testing.T) {
	path := tracePath(t)

	err := Track(context.Background(), path, DefaultConfig(), func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return errWorkFailed
	}, testOpts(1<<20)...)

	// THEN the caller sees exactly the work's error
	assert.Equal(t, errWorkFailed, err)

	// AND the trace ends with the graceful-crash marker
	ok, err := trace.HasCrashedGracefully(path)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = trace.HasCompletedSuccessfully(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTrack_PanickingWorkIsReraisedAfterMarker(t *testing.T) {
	path := tracePath(t)

	assert.PanicsWithValue(t, "boom", func() {
		_ = Track(context.Background(), path, DefaultConfig(), func(ctx context.Context) error {
			panic("boom")
		}, testOpts(1)...)
	})

	outcome, err := trace.Classify(path)
	require.NoError(t, err)
	assert.Equal(t, trace.OutcomeGracefulCrash, outcome)
}

func TestTrack_LongerWorkThinsOutSamples(t *testing.T) {
	if testing.Short() {
		t.Skip("runs for two seconds")
	}

	// GIVEN work that fails after 2s
	path := tracePath(t)
	err := Track(context.Background(), path, DefaultConfig(), func(ctx context.Context) error {
		time.Sleep(2 * time.Second)
		return errWorkFailed
	}, testOpts(1<<20)...)
	assert.ErrorIs(t, err, errWorkFailed)

	tr, err := trace.Read(path)
	require.NoError(t, err)

	// THEN sampling started densely and slowed down, far below one row per min interval
	require.GreaterOrEqual(t, len(tr.Samples), 10)
	assert.Less(t, len(tr.Samples), 200)
	assert.Less(t, tr.Samples[0].Elapsed, 100*time.Millisecond)
	assert.Equal(t, trace.OutcomeGracefulCrash, tr.Outcome())
}

func TestStart_InvalidConfigIsInitializationError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopTimeout = 0

	_, err := Start(tracePath(t), cfg, testOpts(1)...)

	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "validating config", initErr.Op)
}

func TestStart_UnwritablePathIsInitializationError(t *testing.T) {
	// GIVEN a trace path below a regular file
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	ran := false

	// WHEN work is tracked there
	err := Track(context.Background(), filepath.Join(file, "trace.csv"), DefaultConfig(), func(ctx context.Context) error {
		ran = true
		return nil
	}, testOpts(1)...)

	// THEN the work never runs and the error says why
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "creating trace file", initErr.Op)
	assert.False(t, ran)
}

func TestScope_ReleaseTwice(t *testing.T) {
	path := tracePath(t)
	scope, err := Start(path, DefaultConfig(), testOpts(1)...)
	require.NoError(t, err)
	assert.Equal(t, path, scope.Path())

	require.NoError(t, scope.Release(OutcomeNormal))
	assert.ErrorIs(t, scope.Release(OutcomeFailed), ErrAlreadyReleased)
	assert.Equal(t, WorkerStopped, scope.WorkerState())

	// the second call must not append a second marker
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Regexp(t, `(?s)^([0-9.]+,1\n)*0,0\n$`, string(data))
}

func TestScope_SamplesAndElapsedAdvance(t *testing.T) {
	scope, err := Start(tracePath(t), DefaultConfig(), testOpts(1)...)
	require.NoError(t, err)
	defer func() { _ = scope.Release(OutcomeNormal) }()

	require.Eventually(t, func() bool { return scope.Samples() >= 2 }, 5*time.Second, time.Millisecond)
	assert.Greater(t, scope.Elapsed(), time.Duration(0))
	assert.Equal(t, WorkerRunning, scope.WorkerState())
}

func TestStart_StartDelayWaitsBeforeReturning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartDelay = 30 * time.Millisecond

	scope, err := Start(tracePath(t), cfg, testOpts(1)...)
	require.NoError(t, err)
	defer func() { _ = scope.Release(OutcomeNormal) }()

	assert.GreaterOrEqual(t, scope.Elapsed(), cfg.StartDelay)
}

func TestStart_CalibrationSubtractsBaseline(t *testing.T) {
	// GIVEN calibration over a constant memory source
	cfg := DefaultConfig()
	cfg.Calibrate = true
	cfg.CalibrationDuration = 200 * time.Millisecond
	path := tracePath(t)

	// WHEN work runs
	err := Track(context.Background(), path, cfg, func(ctx context.Context) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	}, testOpts(4096)...)
	require.NoError(t, err)

	// THEN every sample is relative to the baseline
	tr, err := trace.Read(path)
	require.NoError(t, err)
	require.NotEmpty(t, tr.Samples)
	for _, smp := range tr.Samples {
		assert.Equal(t, uint64(0), smp.Usage)
	}
	assert.Equal(t, trace.MarkerSuccess, tr.Marker)
}

func TestMeasureBaseline(t *testing.T) {
	b := measureBaseline(clock.New(), testutil.ConstSampler(4096), 300*time.Millisecond)
	assert.GreaterOrEqual(t, b.Readings, 2)
	testutil.AssertFloat64Equal(t, "mean", 4096, b.Mean, 1e-9)
	assert.Zero(t, b.StdDev)
	assert.Equal(t, uint64(4096), b.Offset())
}

func TestMeasureBaseline_NoReadings(t *testing.T) {
	b := measureBaseline(clock.New(), testutil.FailingSampler{}, 150*time.Millisecond)
	assert.Zero(t, b.Readings)
	assert.Equal(t, uint64(0), b.Offset())
}

// closeTraceFile closes the scope's trace underneath it so every later write fails.
func closeTraceFile(t *testing.T, s *Scope) {
	t.Helper()
	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	require.NoError(t, s.sink.file.Close())
}

func hasEntry(hook *logtest.Hook, level logrus.Level, substr string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestScope_ReleaseReportsMarkerWriteFailure(t *testing.T) {
	// GIVEN a scope whose trace file can no longer be written
	scope, err := Start(tracePath(t), DefaultConfig(), testOpts(1)...)
	require.NoError(t, err)
	closeTraceFile(t, scope)

	// WHEN it is released as failed
	err = scope.Release(OutcomeFailed)

	// THEN the marker failure is reported as a MarkerWriteError
	var markerErr *MarkerWriteError
	require.ErrorAs(t, err, &markerErr)
	assert.Equal(t, trace.MarkerGracefulCrash, markerErr.Marker)
	assert.Equal(t, scope.Path(), markerErr.Path)
	assert.Equal(t, WorkerStopped, scope.WorkerState())
}

func TestTrack_MarkerWriteFailureDoesNotMaskWorkError(t *testing.T) {
	// GIVEN work that breaks the trace file and then fails
	logger, hook := logtest.NewNullLogger()
	var scope *Scope
	capture := func(s *Scope) { scope = s }

	err := Track(context.Background(), tracePath(t), DefaultConfig(), func(ctx context.Context) error {
		closeTraceFile(t, scope)
		return errWorkFailed
	}, WithSampler(testutil.ConstSampler(1)), WithLogger(logrus.NewEntry(logger)), capture)

	// THEN the caller still gets exactly the work's error
	assert.Equal(t, errWorkFailed, err)

	// AND the lost marker is logged as an error
	assert.True(t, hasEntry(hook, logrus.ErrorLevel, "could not be recorded"))
}

func TestTrack_WorkExitingItsGoroutineIsRecordedAsFailed(t *testing.T) {
	path := tracePath(t)

	// WHEN the work calls runtime.Goexit instead of returning
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Track(context.Background(), path, DefaultConfig(), func(ctx context.Context) error {
			runtime.Goexit()
			return nil
		}, testOpts(1)...)
	}()
	<-done

	// THEN the trace does not claim success
	outcome, err := trace.Classify(path)
	require.NoError(t, err)
	assert.Equal(t, trace.OutcomeGracefulCrash, outcome)
}

func TestScope_EndDelayRunsAfterMarker(t *testing.T) {
	// GIVEN a verbose scope with a 200ms settle window
	cfg := DefaultConfig()
	cfg.EndDelay = 200 * time.Millisecond
	cfg.Verbose = true
	logger, hook := logtest.NewNullLogger()
	path := tracePath(t)
	scope, err := Start(path, cfg, WithSampler(testutil.ConstSampler(1<<20)), WithLogger(logrus.NewEntry(logger)))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	// WHEN it is released
	begin := time.Now()
	require.NoError(t, scope.Release(OutcomeNormal))

	// THEN release waited out the settle window and logged the settled usage
	assert.GreaterOrEqual(t, time.Since(begin), cfg.EndDelay)
	assert.True(t, hasEntry(hook, logrus.InfoLevel, "once the work finished"))

	// AND the trace still ends with the success marker
	ok, err := trace.HasCompletedSuccessfully(path)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTrack_VerboseOnlyChangesLogging(t *testing.T) {
	sampleRow := regexp.MustCompile(`^[0-9]+(\.[0-9]+)?,7$`)
	for _, verbose := range []bool{false, true} {
		// GIVEN the same work, tracked with and without verbose diagnostics
		cfg := DefaultConfig()
		cfg.Verbose = verbose
		logger, hook := logtest.NewNullLogger()
		path := tracePath(t)

		err := Track(context.Background(), path, cfg, func(ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			return nil
		}, WithSampler(testutil.ConstSampler(7)), WithLogger(logrus.NewEntry(logger)))
		require.NoError(t, err)

		// THEN the file has the same shape either way: sample rows, then 0,0
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		rows := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
		require.GreaterOrEqual(t, len(rows), 2, "verbose=%v", verbose)
		assert.Equal(t, "0,0", rows[len(rows)-1], "verbose=%v", verbose)
		for _, row := range rows[:len(rows)-1] {
			assert.Regexp(t, sampleRow, row, "verbose=%v", verbose)
		}

		// AND only the logging differs
		if verbose {
			assert.True(t, hasEntry(hook, logrus.InfoLevel, "logging memory usage into"))
		} else {
			assert.Empty(t, hook.AllEntries())
		}
	}
}
