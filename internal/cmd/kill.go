package cmd

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// signals maps accepted --signal names to signals.
var signals = map[string]syscall.Signal{
	"TERM": syscall.SIGTERM,
	"INT":  syscall.SIGINT,
	"KILL": syscall.SIGKILL,
	"HUP":  syscall.SIGHUP,
	"QUIT": syscall.SIGQUIT,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
}

var killCmd = &cobra.Command{
	Use:   "kill [run]",
	Short: "Send a signal to a live run",
	Long: `Send a signal to the command of a run that is still in progress.

The outcap process capturing the run records the exit and writes the exit
marker as usual. The record and log are kept; use 'outcap rm' to delete them.`,
	Example: `  # Terminate a run
  outcap kill happy-panda

  # Interrupt it instead
  outcap kill happy-panda --signal INT`,
	Args: cobra.MaximumNArgs(1),
	RunE: runKillCmd,
}

func runKillCmd(cmd *cobra.Command, args []string) error {
	name, err := cmd.Flags().GetString("signal")
	if err != nil {
		return fmt.Errorf("get signal flag: %w", err)
	}
	sig, err := parseSignal(name)
	if err != nil {
		return err
	}

	mgr, err := requireManager(cmd.Context())
	if err != nil {
		return err
	}

	ref, err := resolveRunRef(cmd, mgr, args)
	if err != nil {
		return err
	}

	info, err := mgr.Signal(cmd.Context(), ref, sig)
	if err != nil {
		return fmt.Errorf("signal run: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to run %s (pid %d)\n", sig, info.Name, info.PID)
	return nil
}

// parseSignal accepts names with or without the SIG prefix, in any case.
func parseSignal(name string) (os.Signal, error) {
	key := strings.TrimPrefix(strings.ToUpper(name), "SIG")
	sig, ok := signals[key]
	if !ok {
		return nil, fmt.Errorf("unsupported signal %q", name)
	}
	return sig, nil
}

func init() {
	rootCmd.AddCommand(killCmd)

	killCmd.Flags().StringP("signal", "s", "TERM", "signal to send")
}
