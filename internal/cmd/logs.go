package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmgilman/outcap/internal/logging"
)

// Default poll interval for following logs.
const defaultLogPollInterval = 100 * time.Millisecond

var logsCmd = &cobra.Command{
	Use:   "logs [run]",
	Short: "View captured output of a run",
	Long: `View the lines captured from a run, live or finished.

Each line is tagged with the stream it came from. The exit marker appears on
stderr once the run has finished. With --dump the log is printed as the run's
dump instead: all of stdout, then all of stderr.

When no run is given, you are asked to pick one.`,
	Example: `  # Last 100 lines of a run
  outcap logs happy-panda

  # Follow a run until it finishes
  outcap logs happy-panda -f

  # Entire log
  outcap logs happy-panda --full

  # Rebuild the dump as YAML
  outcap logs happy-panda --dump --format yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogsCmd,
}

func runLogsCmd(cmd *cobra.Command, args []string) error {
	follow, err := cmd.Flags().GetBool("follow")
	if err != nil {
		return fmt.Errorf("get follow flag: %w", err)
	}

	lines, err := cmd.Flags().GetInt("lines")
	if err != nil {
		return fmt.Errorf("get lines flag: %w", err)
	}

	full, err := cmd.Flags().GetBool("full")
	if err != nil {
		return fmt.Errorf("get full flag: %w", err)
	}

	dump, err := cmd.Flags().GetBool("dump")
	if err != nil {
		return fmt.Errorf("get dump flag: %w", err)
	}

	if follow && dump {
		return errors.New("--follow and --dump cannot be used together")
	}

	mgr, err := requireManager(cmd.Context())
	if err != nil {
		return err
	}

	ref, err := resolveRunRef(cmd, mgr, args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch {
	case dump:
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		d, err := mgr.Dump(ctx, ref)
		if err != nil {
			return fmt.Errorf("read dump: %w", err)
		}
		return writeDump(out, format, d)

	case follow:
		// Follow mode: show last N lines then stream new output
		return mgr.Follow(ctx, ref, out, lines, defaultLogPollInterval)
	}

	n := lines
	if full {
		n = 0
	}
	entries, err := mgr.Log(ctx, ref, n)
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}

	for _, e := range entries {
		if err := writeLogEntry(out, e); err != nil {
			return err
		}
	}

	return nil
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().BoolP("follow", "f", false, "follow log output until the run finishes")
	logsCmd.Flags().IntP("lines", "n", logging.DefaultTailLines, "number of lines to show")
	logsCmd.Flags().Bool("full", false, "show the entire log")
	logsCmd.Flags().Bool("dump", false, "print the log as a dump of both streams")
	logsCmd.Flags().String("format", "", "dump format: text, json, or yaml (default from config)")
}
