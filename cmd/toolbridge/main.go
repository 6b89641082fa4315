// Command toolbridge manages tool servers and lets a model call them.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"toolbridge/internal/config"
	"toolbridge/internal/logging"
)

var (
	// Global flags
	cfgPath string
	verbose bool
	timeout time.Duration

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "toolbridge",
	Short: "Run tool servers and let a language model call them",
	Long: `toolbridge supervises MCP tool servers, discovers their tools and
executes tool calls a model makes, either as structured calls or as JSON
written into its reply.

Servers are configured in toolbridge.yaml; see "toolbridge servers templates"
for ready-made records.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return loadConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(chatCmd)
}

// loadConfig reads the config file and starts category logging.
func loadConfig() error {
	loaded, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	if err := logging.Initialize(loaded.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	cfg = loaded
	logger.Debug("Config loaded", zap.String("path", cfgPath), zap.Int("servers", len(cfg.Servers)))
	return nil
}

// commandContext returns the command's context bounded by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
