package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/memtrack/tracker"
	"github.com/inference-sim/memtrack/tracker/memory"
	"github.com/inference-sim/memtrack/tracker/schedule"
)

// exitStartFailure is the shell's exit status for a command that could not be executed.
const exitStartFailure = 127

var (
	tracePath string // Trace file written by run
	dryRun    bool   // Print the sampling plan instead of running
)

// dryRunHorizons are the run lengths reported by --dry-run.
var dryRunHorizons = []time.Duration{time.Second, time.Minute, time.Hour, 24 * time.Hour}

// runCmd executes a command while tracking memory into a trace
var runCmd = &cobra.Command{
	Use:   "run [flags] -- command [args...]",
	Short: "Run a command while recording memory usage into a trace",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := trackerConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if dryRun {
			printSchedule(os.Stdout, cfg.Schedule)
			return
		}
		if len(args) == 0 {
			logrus.Fatalf("No command given. Usage: %s", cmd.UseLine())
		}

		code, err := runTracked(cmd.Context(), tracePath, cfg, args)
		if err != nil {
			var initErr *tracker.InitializationError
			if errors.As(err, &initErr) {
				logrus.Fatalf("%v", err)
			}
			logrus.Error(err)
		}
		os.Exit(code)
	},
}

// runTracked runs argv as a child process inside a tracking scope and returns the exit
// status memtrack should exit with. A non-nil error with status 0 never happens.
func runTracked(ctx context.Context, path string, cfg tracker.Config, argv []string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	child := exec.Command(argv[0], argv[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	setProcessGroup(child)

	log := logrus.WithField("trace", path)
	opts := []tracker.Option{tracker.WithLogger(log)}
	var pid atomic.Int64
	if cfg.Source == memory.SourceProcess {
		opts = append(opts, tracker.WithSampler(childSampler(&pid)))
	}

	code := 0
	err := tracker.Track(ctx, path, cfg, func(ctx context.Context) error {
		if err := child.Start(); err != nil {
			code = exitStartFailure
			return fmt.Errorf("starting %s: %w", argv[0], err)
		}
		pid.Store(int64(child.Process.Pid))
		stop := forwardSignals(child)
		defer stop()

		err := child.Wait()
		code = exitStatus(child.ProcessState)
		return err
	}, opts...)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		log.Infof("%s exited with status %d", argv[0], code)
		return code, nil
	case code == 0:
		return 1, err
	default:
		return code, err
	}
}

// childSampler reports the resident memory of the child once it has started. The
// process handle is opened on first use and reused.
func childSampler(pid *atomic.Int64) memory.Sampler {
	var proc *memory.ProcessSampler
	return memory.SamplerFunc(func() (uint64, error) {
		if proc == nil {
			p := pid.Load()
			if p == 0 {
				return 0, &memory.SamplingError{Source: memory.SourceProcess, Err: errors.New("command not started yet")}
			}
			sampler, err := memory.NewProcessSampler(int(p))
			if err != nil {
				return 0, &memory.SamplingError{Source: memory.SourceProcess, Err: err}
			}
			proc = sampler
		}
		return proc.Sample()
	})
}

// printSchedule writes the number of samples the policy takes over a few run lengths.
func printSchedule(w io.Writer, p schedule.Policy) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Run length", "Samples", "Final interval"})
	for _, h := range dryRunHorizons {
		t.AppendRow(table.Row{h, p.Steps(h), p.NextDelay(h, p.Steps(h))})
	}
	t.Render()
}

func init() {
	runCmd.Flags().StringVarP(&tracePath, "trace", "o", "memtrack.csv", "Trace file to write")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print how many samples the schedule takes and exit")
	addTrackerFlags(runCmd)

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
