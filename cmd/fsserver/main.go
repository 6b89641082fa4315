// Command fsserver serves the sandboxed filesystem tools to a single
// client, over stdin/stdout by default or over HTTP with --port.
//
// Positional arguments are the allowed directories; with none the current
// directory is allowed.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose bool
	port    int
	host    string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fsserver [dir...]",
	Short: "Filesystem tool server confined to the given directories",
	Long: `Serves read_file, write_file, list_directory, create_directory, move_file,
search_files, get_file_info, read_multiple_files and list_allowed_directories.

Every path argument must resolve inside one of the allowed directories.
Requests are newline-delimited JSON on stdin/stdout, or HTTP when --port is
set (POST / for requests, GET /health for readiness).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the protocol, so diagnostics go to stderr.
		config := zap.NewProductionConfig()
		config.OutputPaths = []string{"stderr"}
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

func init() {
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.Flags().IntVar(&port, "port", 0, "Serve HTTP on this port instead of stdio")
	rootCmd.Flags().StringVar(&host, "host", "127.0.0.1", "Interface to bind with --port")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
