package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logLevel   string // Log verbosity level
	logFile    string // Rotating log file; empty logs to stderr
	configPath string // YAML tracker config
	verbose    bool   // Log scope lifecycle at info level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "memtrack",
	Short: "Record memory usage of a command into a CSV trace",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel, logFile, verbose)
	},
	SilenceUsage: true,
}

// setupLogging configures the global logrus logger from the root flags.
func setupLogging(level, file string, verbose bool) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if verbose && lvl < logrus.InfoLevel {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	var out io.Writer = os.Stderr
	if file != "" {
		out = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	logrus.SetOutput(out)
	return nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags shared by all subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write JSON logs to this file, rotated at 10MB")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML tracker config; flags that are set override it")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log tracking lifecycle at info level")
}
