package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Trace is the parsed content of a trace file.
type Trace struct {
	Samples   []Sample
	Marker    Marker
	Truncated bool // the file ended in a partial row, which was dropped
}

// Outcome classifies the trace the same way Classify does for a file.
func (t *Trace) Outcome() Outcome {
	switch {
	case t.Marker == MarkerSuccess:
		return OutcomeSuccess
	case t.Marker == MarkerGracefulCrash:
		return OutcomeGracefulCrash
	case len(t.Samples) > 0 || t.Truncated:
		return OutcomeUngracefulCrash
	default:
		return OutcomeUnknown
	}
}

// Read parses the whole trace at path.
func Read(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace: %w", err)
	}
	defer func() { _ = f.Close() }()

	t, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("reading trace %s: %w", path, err)
	}
	return t, nil
}

// Decode parses a trace from r. Blank lines are ignored. A final line without a
// newline is treated as an interrupted write and dropped; any other malformed row,
// a row after a marker, or a non-increasing elapsed time is an error.
func Decode(r io.Reader) (*Trace, error) {
	t := &Trace{}
	br := bufio.NewReader(r)
	for lineNum := 1; ; lineNum++ {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		blank := strings.TrimSpace(line) == ""
		if !blank && t.Marker != MarkerNone {
			return nil, fmt.Errorf("line %d: row after %s marker", lineNum, t.Marker)
		}
		if err != nil {
			// io.EOF before a newline
			t.Truncated = !blank
			return t, nil
		}
		if blank {
			continue
		}

		row, perr := ParseRow(line)
		if perr != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, perr)
		}
		if row.IsMarker() {
			t.Marker = row.Marker
			continue
		}
		if n := len(t.Samples); n > 0 && row.Sample.Elapsed <= t.Samples[n-1].Elapsed {
			return nil, fmt.Errorf("line %d: elapsed %s does not increase past %s",
				lineNum, row.Sample.Elapsed, t.Samples[n-1].Elapsed)
		}
		t.Samples = append(t.Samples, row.Sample)
	}
}
