package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/memtrack/tracker/trace"
)

// statusCmd reports how the work behind each trace ended
var statusCmd = &cobra.Command{
	Use:   "status trace.csv [trace.csv...]",
	Short: "Report whether each trace ended in success, a graceful crash, or an ungraceful crash",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !writeStatus(os.Stdout, args) {
			os.Exit(1)
		}
	},
}

// writeStatus prints one "path<TAB>outcome" line per readable trace. It returns false
// if any trace could not be read.
func writeStatus(w io.Writer, paths []string) bool {
	ok := true
	for _, path := range paths {
		outcome, err := trace.Classify(path)
		if err != nil {
			logrus.Errorf("%v", err)
			ok = false
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", path, outcome)
	}
	return ok
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
