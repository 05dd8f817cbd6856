package trace

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Outcome classifies how the tracked work ended, judged from the trace alone.
type Outcome int

const (
	// OutcomeUnknown means the trace has no rows at all.
	OutcomeUnknown Outcome = iota
	// OutcomeSuccess means the trace ends with the success marker.
	OutcomeSuccess
	// OutcomeGracefulCrash means the work failed and the scope recorded it.
	OutcomeGracefulCrash
	// OutcomeUngracefulCrash means the trace has rows but ends without a marker.
	// Whether the worker or the monitored work died first cannot be told apart.
	OutcomeUngracefulCrash
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeGracefulCrash:
		return "graceful-crash"
	case OutcomeUngracefulCrash:
		return "ungraceful-crash"
	default:
		return "unknown"
	}
}

// tailChunk is the initial read size when scanning backwards for the last row.
const tailChunk = 512

// Classify reads only the final non-empty row of the trace at path.
// A missing file is an error; an empty file is OutcomeUnknown.
func Classify(path string) (Outcome, error) {
	row, complete, err := lastRow(path)
	if err != nil {
		return OutcomeUnknown, err
	}
	return classifyRow(row, complete), nil
}

func classifyRow(row string, complete bool) Outcome {
	if row == "" {
		return OutcomeUnknown
	}
	// A row without its newline is a write that never finished, even if it happens
	// to spell a marker.
	if complete {
		switch row {
		case successRow:
			return OutcomeSuccess
		case gracefulCrashRow:
			return OutcomeGracefulCrash
		}
	}
	return OutcomeUngracefulCrash
}

// HasCompletedSuccessfully reports whether the trace ends with the success marker.
func HasCompletedSuccessfully(path string) (bool, error) {
	o, err := Classify(path)
	return o == OutcomeSuccess, err
}

// HasCrashedGracefully reports whether the trace ends with the graceful-crash marker.
func HasCrashedGracefully(path string) (bool, error) {
	o, err := Classify(path)
	return o == OutcomeGracefulCrash, err
}

// HasCrashedUngracefully reports whether the trace has rows but no terminal marker.
func HasCrashedUngracefully(path string) (bool, error) {
	o, err := Classify(path)
	return o == OutcomeUngracefulCrash, err
}

// lastRow returns the final non-empty row of the file and whether a newline followed it.
// It reads backwards from the end, doubling the window until a full row is covered.
func lastRow(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("opening trace: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", false, fmt.Errorf("inspecting trace: %w", err)
	}
	size := info.Size()

	for window := int64(tailChunk); ; window *= 2 {
		offset := size - window
		if offset < 0 {
			offset = 0
		}
		buf := make([]byte, size-offset)
		if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
			return "", false, fmt.Errorf("reading trace tail: %w", err)
		}

		trimmed := bytes.TrimRight(buf, " \t\r\n")
		start := bytes.LastIndexByte(trimmed, '\n')
		if start < 0 && offset > 0 {
			continue
		}
		complete := bytes.IndexByte(buf[len(trimmed):], '\n') >= 0
		return string(bytes.TrimSpace(trimmed[start+1:])), complete, nil
	}
}
