// Package trace defines the on-disk trace format and reads completed or in-progress traces.
//
// A trace is a headerless text file of `elapsed_seconds,usage_bytes` rows. Sample rows
// have strictly increasing, positive elapsed times. The final row may be a terminal
// marker: `0,0` when the monitored work completed, `-1,-1` when it failed. A trace that
// ends without a marker was cut short by something the tracker could not observe.
package trace

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Sample is one memory measurement.
type Sample struct {
	Elapsed time.Duration // since the tracking scope started
	Usage   uint64        // bytes
}

// Marker is the terminal row written when a tracking scope is released.
type Marker int

const (
	MarkerNone Marker = iota
	MarkerSuccess
	MarkerGracefulCrash
)

const (
	successRow       = "0,0"
	gracefulCrashRow = "-1,-1"
)

// Row returns the literal text of the marker, without a newline.
func (m Marker) Row() string {
	switch m {
	case MarkerSuccess:
		return successRow
	case MarkerGracefulCrash:
		return gracefulCrashRow
	default:
		return ""
	}
}

func (m Marker) String() string {
	switch m {
	case MarkerSuccess:
		return "success"
	case MarkerGracefulCrash:
		return "graceful-crash"
	default:
		return "none"
	}
}

// ErrInvalidSample is returned when a sample cannot be encoded without colliding with a marker.
var ErrInvalidSample = errors.New("sample elapsed time must be positive")

// Row is one parsed line: either a Sample or a Marker.
type Row struct {
	Sample Sample
	Marker Marker
}

// IsMarker reports whether the row is a terminal marker.
func (r Row) IsMarker() bool {
	return r.Marker != MarkerNone
}

// ParseRow parses a single line without its trailing newline.
func ParseRow(line string) (Row, error) {
	line = strings.TrimSpace(line)
	switch line {
	case successRow:
		return Row{Marker: MarkerSuccess}, nil
	case gracefulCrashRow:
		return Row{Marker: MarkerGracefulCrash}, nil
	}

	elapsedField, usageField, ok := strings.Cut(line, ",")
	if !ok {
		return Row{}, fmt.Errorf("row %q: expected two comma-separated fields", line)
	}
	secs, err := strconv.ParseFloat(elapsedField, 64)
	if err != nil {
		return Row{}, fmt.Errorf("row %q: parsing elapsed: %w", line, err)
	}
	if secs <= 0 {
		return Row{}, fmt.Errorf("row %q: %w", line, ErrInvalidSample)
	}
	usage, err := strconv.ParseUint(usageField, 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("row %q: parsing usage: %w", line, err)
	}
	return Row{Sample: Sample{Elapsed: secondsToDuration(secs), Usage: usage}}, nil
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs*float64(time.Second) + 0.5)
}

// Writer encodes rows onto an io.Writer. Each row is handed to the underlying writer
// in a single Write call, so an unbuffered file never holds more than one partial row.
type Writer struct {
	w   io.Writer
	buf []byte
}

// NewWriter returns a Writer encoding onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, buf: make([]byte, 0, 64)}
}

// WriteSample appends one sample row.
func (w *Writer) WriteSample(s Sample) error {
	if s.Elapsed <= 0 {
		return ErrInvalidSample
	}
	w.buf = strconv.AppendFloat(w.buf[:0], s.Elapsed.Seconds(), 'f', -1, 64)
	w.buf = append(w.buf, ',')
	w.buf = strconv.AppendUint(w.buf, s.Usage, 10)
	w.buf = append(w.buf, '\n')
	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("writing sample row: %w", err)
	}
	return nil
}

// WriteMarker appends the terminal marker row.
func (w *Writer) WriteMarker(m Marker) error {
	row := m.Row()
	if row == "" {
		return fmt.Errorf("cannot write marker %v", m)
	}
	if _, err := io.WriteString(w.w, row+"\n"); err != nil {
		return fmt.Errorf("writing %s marker: %w", m, err)
	}
	return nil
}
