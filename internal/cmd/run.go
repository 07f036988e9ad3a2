package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmgilman/outcap/internal/capture"
	"github.com/jmgilman/outcap/internal/config"
	"github.com/jmgilman/outcap/internal/runner"
	"github.com/jmgilman/outcap/internal/slogger"
	"github.com/jmgilman/outcap/internal/spinner"
)

// Exit codes for runs that did not exit on their own.
const (
	exitCodeCanceled = 130
	exitCodeTimeout  = 124
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command> [args...]",
	Short: "Run a command and capture its output",
	Long: `Run a command, capture stdout and stderr line by line, and print both
streams once it exits.

The captured standard error ends with --EXIT:<code>--, written after every line
the command produced. outcap itself exits with the command's exit code.

With --binary-stdout, stdout is written untouched to a file instead of being
split into lines; stderr is still captured.

The run is recorded under a name (generated unless --name is given), so its
output can be inspected later with 'outcap logs'.`,
	Example: `  # Capture a build
  outcap run -- make test

  # Name the run and stream lines as they arrive
  outcap run --name nightly --stream -- ./scripts/nightly.sh

  # Save raw stdout and print the dump as JSON
  outcap run --binary-stdout --format json -- tar -cf - ./src

  # Give up after a minute
  outcap run --timeout 1m -- ./flaky-test`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRunCmd,
}

// runFlags holds parsed flags for the run command.
type runFlags struct {
	name         string
	binaryStdout bool
	stdoutFile   string
	format       string
	timeout      time.Duration
	quiet        bool
	stream       bool
	spinner      bool
	dir          string
	env          []string
}

// parseRunFlags extracts flags, falling back to configuration for those
// not set on the command line.
func parseRunFlags(cmd *cobra.Command) (*runFlags, error) {
	flags := cmd.Flags()
	f := &runFlags{}
	var err error

	if f.name, err = flags.GetString("name"); err != nil {
		return nil, fmt.Errorf("get name flag: %w", err)
	}
	if f.binaryStdout, err = flags.GetBool("binary-stdout"); err != nil {
		return nil, fmt.Errorf("get binary-stdout flag: %w", err)
	}
	if f.stdoutFile, err = flags.GetString("stdout-file"); err != nil {
		return nil, fmt.Errorf("get stdout-file flag: %w", err)
	}
	if f.timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, fmt.Errorf("get timeout flag: %w", err)
	}
	if f.quiet, err = flags.GetBool("quiet"); err != nil {
		return nil, fmt.Errorf("get quiet flag: %w", err)
	}
	if f.stream, err = flags.GetBool("stream"); err != nil {
		return nil, fmt.Errorf("get stream flag: %w", err)
	}
	noSpinner, err := flags.GetBool("no-spinner")
	if err != nil {
		return nil, fmt.Errorf("get no-spinner flag: %w", err)
	}
	if f.dir, err = flags.GetString("dir"); err != nil {
		return nil, fmt.Errorf("get dir flag: %w", err)
	}
	if f.env, err = flags.GetStringArray("env"); err != nil {
		return nil, fmt.Errorf("get env flag: %w", err)
	}
	if f.format, err = outputFormat(cmd); err != nil {
		return nil, err
	}

	f.spinner = !noSpinner
	if cfg := ConfigFromContext(cmd.Context()); cfg != nil {
		if !flags.Changed("binary-stdout") {
			f.binaryStdout = cfg.Capture.BinaryStdout
		}
		if !cfg.Output.Spinner {
			f.spinner = false
		}
	}
	if f.stdoutFile != "" {
		f.binaryStdout = true
	}
	if f.timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative: %s", f.timeout)
	}
	for _, kv := range f.env {
		if !strings.Contains(kv, "=") {
			return nil, fmt.Errorf("invalid --env value %q: expected KEY=VALUE", kv)
		}
	}

	return f, nil
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	flags, err := parseRunFlags(cmd)
	if err != nil {
		return err
	}

	mgr, err := requireManager(cmd.Context())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if flags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.timeout)
		defer cancel()
	}

	var sp *spinner.Spinner
	if flags.spinner && !flags.stream && !flags.quiet && spinner.Enabled(os.Stderr) {
		sp = spinner.New(cmd.ErrOrStderr(), strings.Join(args, " "))
	}

	startCfg := runner.StartConfig{
		Name:         flags.name,
		Command:      args[0],
		Args:         args[1:],
		Dir:          flags.dir,
		Env:          flags.env,
		Stdin:        cmd.InOrStdin(),
		BinaryStdout: flags.binaryStdout,
		StdoutPath:   flags.stdoutFile,
	}
	if flags.stream {
		startCfg.Echo = cmd.ErrOrStderr()
	}
	if sp != nil {
		startCfg.OnLine = func(line capture.Line) { sp.Update(line.Text) }
	}

	run, err := mgr.Start(ctx, startCfg)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	stopSpinner := startSpinner(ctx, sp)
	res, err := run.Wait(ctx)
	stopSpinner()
	if err != nil {
		return fmt.Errorf("wait for run: %w", err)
	}

	if !flags.quiet {
		if err := writeRunResult(cmd, flags.format, run, res); err != nil {
			return err
		}
	}

	return runExitError(ctx, res)
}

// startSpinner runs sp until the returned function is called. The returned
// function waits for the spinner to clear its line.
func startSpinner(ctx context.Context, sp *spinner.Spinner) func() {
	if sp == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sp.Start(); err != nil {
			slogger.L(ctx).Debug("spinner failed", "error", err)
		}
	}()

	return func() {
		sp.Stop()
		<-done
	}
}

func writeRunResult(cmd *cobra.Command, format string, run *runner.Run, res *runner.Result) error {
	out := cmd.OutOrStdout()
	if format != config.FormatText {
		return writeStructured(out, format, reportFromResult(run, res))
	}

	if err := writeDump(out, format, res.Dump); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if run.StdoutPath() != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "stdout written to %s\n", run.StdoutPath())
	}
	return nil
}

// runExitError maps a finished run to the exit code outcap should return.
func runExitError(ctx context.Context, res *runner.Result) error {
	if res.Status == runner.StatusCanceled {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &ExitError{Code: exitCodeTimeout, Err: fmt.Errorf("run %s timed out", res.Name)}
		}
		return &ExitError{Code: exitCodeCanceled}
	}

	switch {
	case res.ExitCode == 0:
		return nil
	case res.ExitCode < 0:
		// Killed by a signal
		return &ExitError{Code: 1}
	default:
		return &ExitError{Code: res.ExitCode}
	}
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Flags after the command belong to the command
	runCmd.Flags().SetInterspersed(false)

	runCmd.Flags().StringP("name", "n", "", "name for the run (generated if not provided)")
	runCmd.Flags().Bool("binary-stdout", false, "write stdout untouched to a file instead of capturing lines")
	runCmd.Flags().String("stdout-file", "", "file for raw stdout (implies --binary-stdout)")
	runCmd.Flags().String("format", "", "dump format: text, json, or yaml (default from config)")
	runCmd.Flags().Duration("timeout", 0, "kill the command after this long (0 disables)")
	runCmd.Flags().BoolP("quiet", "q", false, "do not print the dump")
	runCmd.Flags().BoolP("stream", "s", false, "echo captured lines to stderr as they arrive")
	runCmd.Flags().Bool("no-spinner", false, "disable the progress spinner")
	runCmd.Flags().StringP("dir", "C", "", "working directory for the command")
	runCmd.Flags().StringArrayP("env", "e", nil, "extra environment variable (KEY=VALUE, repeatable)")
}
