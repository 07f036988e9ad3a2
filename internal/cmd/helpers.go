package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmgilman/outcap/internal/config"
	"github.com/jmgilman/outcap/internal/runner"
)

// ExitError carries the exit code outcap should terminate with.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func requireManager(ctx context.Context) (*runner.Manager, error) {
	mgr := ManagerFromContext(ctx)
	if mgr == nil {
		return nil, errors.New("run manager not initialized")
	}
	return mgr, nil
}

func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, config.DefaultDataDir), nil
}

// resolveRunRef returns the run named on the command line, or lets the user
// pick one of the recorded runs, newest first.
func resolveRunRef(cmd *cobra.Command, mgr *runner.Manager, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	p := PrompterFromContext(cmd.Context())
	if p == nil {
		return "", errors.New("no run given")
	}

	infos, err := mgr.List(cmd.Context(), runner.ListFilter{})
	if err != nil {
		return "", fmt.Errorf("list runs: %w", err)
	}
	if len(infos) == 0 {
		return "", errors.New("no runs recorded")
	}
	slices.Reverse(infos)

	options := make([]string, len(infos))
	for i := range infos {
		options[i] = fmt.Sprintf("%s  %s  %s", infos[i].Name, infos[i].Status, infos[i].CommandLine())
	}

	idx, err := p.Choice("Select a run", options)
	if err != nil {
		return "", err
	}
	return infos[idx].ID, nil
}

// outputFormat returns the --format flag, falling back to configuration.
func outputFormat(cmd *cobra.Command) (string, error) {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return "", fmt.Errorf("get format flag: %w", err)
	}
	if format == "" {
		if cfg := ConfigFromContext(cmd.Context()); cfg != nil {
			format = cfg.Output.Format
		}
	}
	if format == "" {
		format = config.FormatText
	}
	if !config.IsValidFormat(format) {
		return "", fmt.Errorf("%w: %s", config.ErrInvalidFormat, format)
	}
	return format, nil
}

// formatTimeAgo formats a time as a human-readable relative time.
func formatTimeAgo(t time.Time) string {
	d := time.Since(t)

	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dw ago", int(d.Hours()/24/7))
	default:
		return fmt.Sprintf("%dmo ago", int(d.Hours()/24/30))
	}
}

// formatDuration rounds a duration for display.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
