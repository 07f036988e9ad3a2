package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/outcap/internal/capture"
	"github.com/jmgilman/outcap/internal/config"
	"github.com/jmgilman/outcap/internal/logging"
	"github.com/jmgilman/outcap/internal/runner"
)

var (
	stdoutTagStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	stderrTagStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// runReport is the structured form of a run for json and yaml output.
type runReport struct {
	ID         string        `json:"id" yaml:"id"`
	Name       string        `json:"name" yaml:"name"`
	Command    []string      `json:"command,omitempty" yaml:"command,omitempty"`
	Status     string        `json:"status" yaml:"status"`
	ExitCode   *int          `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  *time.Time    `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Duration   string        `json:"duration,omitempty" yaml:"duration,omitempty"`
	LogPath    string        `json:"log_path,omitempty" yaml:"log_path,omitempty"`
	StdoutPath string        `json:"stdout_path,omitempty" yaml:"stdout_path,omitempty"`
	Output     *capture.Dump `json:"output,omitempty" yaml:"output,omitempty"`
}

func reportFromInfo(info *runner.Info) runReport {
	started := info.StartedAt
	return runReport{
		ID:         info.ID,
		Name:       info.Name,
		Command:    append([]string{info.Command}, info.Args...),
		Status:     string(info.Status),
		ExitCode:   info.ExitCode,
		Error:      info.Error,
		StartedAt:  &started,
		FinishedAt: info.FinishedAt,
		Duration:   formatDuration(info.Duration()),
		LogPath:    info.LogPath,
		StdoutPath: info.StdoutPath,
	}
}

func reportFromResult(run *runner.Run, res *runner.Result) runReport {
	code := res.ExitCode
	dump := res.Dump
	return runReport{
		ID:         res.ID,
		Name:       res.Name,
		Status:     string(res.Status),
		ExitCode:   &code,
		Duration:   formatDuration(res.Duration),
		LogPath:    run.LogPath(),
		StdoutPath: run.StdoutPath(),
		Output:     &dump,
	}
}

// writeStructured encodes v as json or yaml.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case config.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
	case config.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
	default:
		return fmt.Errorf("%w: %s", config.ErrInvalidFormat, format)
	}
	return nil
}

// writeDump renders a dump in the requested format.
func writeDump(w io.Writer, format string, dump capture.Dump) error {
	if format == config.FormatText {
		_, err := io.WriteString(w, dump.String())
		return err
	}
	return writeStructured(w, format, dump)
}

// writeLogEntry prints one run log line with a styled stream tag.
func writeLogEntry(w io.Writer, e logging.Entry) error {
	tag := e.Stream
	switch e.Stream {
	case capture.Stdout.String():
		tag = stdoutTagStyle.Render(tag)
	case capture.Stderr.String():
		tag = stderrTagStyle.Render(tag)
	}
	_, err := fmt.Fprintf(w, "%s%s%s\n", tag, logging.LineSeparator, e.Text)
	return err
}
