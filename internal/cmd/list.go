package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmgilman/outcap/internal/catalog"
	"github.com/jmgilman/outcap/internal/config"
	"github.com/jmgilman/outcap/internal/runner"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "ps"},
	Short:   "List recorded runs",
	Long: `List runs recorded by outcap, oldest first.

A run whose capturing outcap process went away without finishing it is
shown as failed.`,
	Example: `  # List all runs
  outcap list

  # Only runs still in progress
  outcap list --status running

  # Machine-readable listing
  outcap list --format json`,
	Args: cobra.NoArgs,
	RunE: runListCmd,
}

func runListCmd(cmd *cobra.Command, args []string) error {
	status, err := cmd.Flags().GetString("status")
	if err != nil {
		return fmt.Errorf("get status flag: %w", err)
	}
	if status != "" && !catalog.Status(status).Valid() {
		return fmt.Errorf("invalid status %q: expected running, exited, canceled, or failed", status)
	}

	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	mgr, err := requireManager(cmd.Context())
	if err != nil {
		return err
	}

	infos, err := mgr.List(cmd.Context(), runner.ListFilter{Status: runner.Status(status)})
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if format != config.FormatText {
		reports := make([]runReport, len(infos))
		for i := range infos {
			reports[i] = reportFromInfo(&infos[i])
		}
		return writeStructured(out, format, reports)
	}

	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "NAME\tID\tSTATUS\tEXIT\tSTARTED\tDURATION\tCOMMAND"); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range infos {
		info := &infos[i]
		exit := "-"
		if info.ExitCode != nil {
			exit = strconv.Itoa(*info.ExitCode)
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			info.Name, info.ID, info.Status, exit,
			formatTimeAgo(info.StartedAt), formatDuration(info.Duration()),
			truncateCommand(info.CommandLine(), 50)); err != nil {
			return fmt.Errorf("write run: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}

// truncateCommand shortens a command line for tabular display.
func truncateCommand(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes-3]) + "..."
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().String("status", "", "only show runs with this status")
	listCmd.Flags().String("format", "", "output format: text, json, or yaml (default from config)")
}
