package cmd

import (
	"fmt"
	"io"
	"os"

	units "github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/memtrack/tracker/memory"
	"github.com/inference-sim/memtrack/tracker/trace"
)

// summaryCmd prints aggregate figures for one or more traces
var summaryCmd = &cobra.Command{
	Use:   "summary trace.csv [trace.csv...]",
	Short: "Print peak, mean and final memory usage of traces",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !writeSummary(os.Stdout, args) {
			os.Exit(1)
		}
	},
}

// writeSummary renders one table row per readable trace. It returns false if any
// trace could not be read.
func writeSummary(w io.Writer, paths []string) bool {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Trace", "Outcome", "Samples", "Duration", "Peak", "Peak at", "% RAM", "Mean", "Final"})

	ok := true
	for _, path := range paths {
		tr, err := trace.Read(path)
		if err != nil {
			logrus.Errorf("%v", err)
			ok = false
			continue
		}
		if tr.Truncated {
			logrus.Warnf("%s ends in a partial row; it was ignored", path)
		}
		s := trace.Summarize(tr)
		t.AppendRow(table.Row{
			path,
			s.Outcome,
			s.Samples,
			s.Duration,
			units.BytesSize(float64(s.PeakUsage)),
			s.PeakElapsed,
			percentOfRAM(s.PeakUsage),
			units.BytesSize(s.MeanUsage),
			units.BytesSize(float64(s.FinalUsage)),
		})
	}
	t.Render()
	return ok
}

func percentOfRAM(usage uint64) string {
	frac := memory.FractionOfTotal(usage)
	if frac == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*frac)
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}
