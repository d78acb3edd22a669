// Package cmd wires the kvrouter CLI: a router subcommand and a worker
// subcommand sharing one binary, following the teacher's single
// rootCmd-with-subcommand-flags structure (cmd/root.go).
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevel string

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "kvrouter",
	Short: "Cache-aware request router for KV-cache-backed inference workers",
}

// Execute runs the CLI root command. Exit codes follow §6: 0 on normal
// shutdown, non-zero on port bind failure, misconfiguration, or a fatal
// internal invariant violation.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.AddCommand(routerCmd)
	rootCmd.AddCommand(workerCmd)
}

func applyLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
