// Package cmd implements the outcap CLI commands using Cobra.
// It provides commands for running a command under output capture and for
// inspecting, following, and removing recorded runs.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmgilman/outcap/internal/catalog"
	"github.com/jmgilman/outcap/internal/config"
	"github.com/jmgilman/outcap/internal/exec"
	"github.com/jmgilman/outcap/internal/prompt"
	"github.com/jmgilman/outcap/internal/runner"
	"github.com/jmgilman/outcap/internal/slogger"
	"github.com/jmgilman/outcap/internal/version"
)

// appConfig holds the loaded application configuration.
var appConfig *config.Config

// configLoader is used for reading and writing configuration.
var configLoader *config.Loader

var rootCmd = &cobra.Command{
	Use:   "outcap",
	Short: "Run commands and capture their output",
	Long: `outcap runs a command, captures its stdout and stderr line by line as the
command produces them, and prints both streams when it exits.

The exit code is appended to the captured standard error as --EXIT:<code>--,
after every line the command wrote. Every run is recorded, so its output can
be listed, followed while it runs, and read back later.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, err := cmd.Flags().GetCount("verbose")
		if err != nil {
			return fmt.Errorf("get verbose flag: %w", err)
		}

		logCfg := slogger.Config{Verbosity: verbosity}
		if appConfig != nil {
			logCfg.Timestamps = appConfig.Log.Timestamps
			if verbosity == 0 {
				logCfg.Verbosity = appConfig.Log.Verbosity
			}
		}
		logger := slogger.New(logCfg)

		mgr, err := initManager(logger)
		if err != nil {
			return err
		}

		// Store dependencies in context for subcommands
		ctx := cmd.Context()
		ctx = slogger.WithLogger(ctx, logger)
		ctx = WithConfig(ctx, appConfig)
		ctx = WithLoader(ctx, configLoader)
		ctx = WithManager(ctx, mgr)
		ctx = WithPrompter(ctx, prompt.New(cmd.OutOrStdout()))
		cmd.SetContext(ctx)

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Canceling ctx cancels a run in progress.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().CountP("verbose", "v", "increase diagnostic logging (-v info, -vv debug)")
}

func initConfig() {
	loader, err := config.NewLoader()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
		return
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config validation failed: %v\n", err)
	}

	appConfig = cfg
	configLoader = loader
}

// initManager builds the run manager from configuration.
func initManager(logger *slog.Logger) (*runner.Manager, error) {
	var catalogPath, logsDir string
	var maxLineBytes int

	if appConfig != nil {
		// Use paths from config (already expanded)
		catalogPath = appConfig.Storage.Catalog
		logsDir = appConfig.Storage.Logs
		maxLineBytes = appConfig.Capture.MaxLineBytes
	} else {
		// Fallback to defaults
		dataDir, err := defaultDataDir()
		if err != nil {
			return nil, err
		}
		catalogPath = filepath.Join(dataDir, "runs.json")
		logsDir = filepath.Join(dataDir, "logs")
	}

	store := catalog.NewStore(catalogPath)
	return runner.NewManager(store, exec.New(), runner.ManagerConfig{
		LogsDir:      logsDir,
		MaxLineBytes: maxLineBytes,
		Logger:       logger,
	}), nil
}
