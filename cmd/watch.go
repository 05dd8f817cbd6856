package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/memtrack/tracker/trace"
)

var idleTimeout time.Duration // Give up on a trace that stops growing

// watchCmd follows a live trace until its marker appears
var watchCmd = &cobra.Command{
	Use:   "watch trace.csv",
	Short: "Follow a trace as it is written and report how it ends",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		outcome, err := followTrace(ctx, args[0], idleTimeout, func(row trace.Row) {
			fmt.Fprintf(os.Stdout, "%10.3fs  %s\n", row.Sample.Elapsed.Seconds(), units.BytesSize(float64(row.Sample.Usage)))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.Fatalf("watching %s: %v", args[0], err)
		}
		fmt.Fprintln(os.Stdout, outcome)
	},
}

// tailer reads complete rows appended to a trace since the last read.
type tailer struct {
	file    *os.File
	offset  int64
	partial []byte
	samples int
	head    []byte // first headLen bytes read, to recognise a rewritten file
}

// headLen is how much of the file start is compared to detect a new run.
const headLen = 64

// rewritten reports whether the file was truncated by a new run since the last read,
// either because it shrank or because its first bytes changed.
func (t *tailer) rewritten(size int64) bool {
	if size < t.offset {
		return true
	}
	if len(t.head) == 0 {
		return false
	}
	cur := make([]byte, len(t.head))
	n, err := t.file.ReadAt(cur, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	return !bytes.Equal(cur[:n], t.head)
}

// drain reads everything appended since the last call and passes each complete row to
// emit. It returns the marker if one was read.
func (t *tailer) drain(emit func(trace.Row)) (trace.Marker, error) {
	info, err := t.file.Stat()
	if err != nil {
		return trace.MarkerNone, err
	}
	if t.rewritten(info.Size()) {
		logrus.Infof("%s was truncated; following the new run", t.file.Name())
		t.offset, t.partial, t.samples, t.head = 0, nil, 0, nil
	}
	buf := make([]byte, info.Size()-t.offset)
	n, err := t.file.ReadAt(buf, t.offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return trace.MarkerNone, err
	}
	t.offset += int64(n)
	t.partial = append(t.partial, buf[:n]...)
	if missing := headLen - len(t.head); missing > 0 {
		t.head = append(t.head, buf[:min(n, missing)]...)
	}

	for {
		i := bytes.IndexByte(t.partial, '\n')
		if i < 0 {
			return trace.MarkerNone, nil
		}
		line := string(t.partial[:i])
		t.partial = t.partial[i+1:]
		if strings.TrimSpace(line) == "" {
			continue
		}
		row, err := trace.ParseRow(line)
		if err != nil {
			return trace.MarkerNone, err
		}
		if row.IsMarker() {
			return row.Marker, nil
		}
		t.samples++
		emit(row)
	}
}

func (t *tailer) outcome(m trace.Marker) trace.Outcome {
	switch {
	case m == trace.MarkerSuccess:
		return trace.OutcomeSuccess
	case m == trace.MarkerGracefulCrash:
		return trace.OutcomeGracefulCrash
	case t.samples > 0:
		return trace.OutcomeUngracefulCrash
	default:
		return trace.OutcomeUnknown
	}
}

// followTrace emits sample rows of the trace at path as they are appended and returns
// once a marker is read. With idle > 0, a trace that does not grow for that long is
// reported as it stands, which for a trace with samples is an ungraceful crash.
// Cancelling ctx returns the outcome so far with ctx's error.
func followTrace(ctx context.Context, path string, idle time.Duration, emit func(trace.Row)) (trace.Outcome, error) {
	file, err := os.Open(path)
	if err != nil {
		return trace.OutcomeUnknown, fmt.Errorf("opening trace: %w", err)
	}
	defer func() { _ = file.Close() }()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return trace.OutcomeUnknown, fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(path); err != nil {
		return trace.OutcomeUnknown, fmt.Errorf("watching trace: %w", err)
	}

	t := &tailer{file: file}
	// rows written before the watch started
	if m, err := t.drain(emit); err != nil || m != trace.MarkerNone {
		return t.outcome(m), err
	}

	var idleC <-chan time.Time
	var idleTimer *time.Timer
	if idle > 0 {
		idleTimer = time.NewTimer(idle)
		defer idleTimer.Stop()
		idleC = idleTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return t.outcome(trace.MarkerNone), ctx.Err()
		case <-idleC:
			logrus.Infof("%s has not grown for %s", path, idle)
			return t.outcome(trace.MarkerNone), nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return t.outcome(trace.MarkerNone), errors.New("watcher closed")
			}
			return t.outcome(trace.MarkerNone), err
		case ev, ok := <-watcher.Events:
			if !ok {
				return t.outcome(trace.MarkerNone), errors.New("watcher closed")
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				return t.outcome(trace.MarkerNone), fmt.Errorf("%s was removed while watching", path)
			}
			if !ev.Has(fsnotify.Write) {
				continue
			}
			if idleTimer != nil {
				idleTimer.Reset(idle)
			}
			m, err := t.drain(emit)
			if err != nil || m != trace.MarkerNone {
				return t.outcome(m), err
			}
		}
	}
}

func init() {
	watchCmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 0, "Report the trace as it stands after it stops growing for this long (0 = wait forever)")
	rootCmd.AddCommand(watchCmd)
}
