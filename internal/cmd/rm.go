package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmgilman/outcap/internal/prompt"
	"github.com/jmgilman/outcap/internal/runner"
)

var rmCmd = &cobra.Command{
	Use:   "rm [run]",
	Short: "Remove a recorded run",
	Long: `Remove a run's record together with its log.

A run that is still in progress is refused unless --force is given, in which
case its command is killed first. Raw stdout written to a custom
--stdout-file is left in place.`,
	Example: `  # Remove with confirmation prompt
  outcap rm happy-panda

  # Remove a live run without confirmation
  outcap rm happy-panda --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return fmt.Errorf("get force flag: %w", err)
		}

		mgr, err := requireManager(cmd.Context())
		if err != nil {
			return err
		}

		ref, err := resolveRunRef(cmd, mgr, args)
		if err != nil {
			return err
		}

		info, err := mgr.Get(cmd.Context(), ref)
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}

		// Confirm removal unless --force
		if !force {
			ok, err := confirm(cmd,
				fmt.Sprintf("Remove run %s?", info.Name),
				fmt.Sprintf("%s (%s)", info.CommandLine(), info.Status))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Canceled")
				return nil
			}
		}

		if err := mgr.Remove(cmd.Context(), info.ID, force); err != nil {
			if errors.Is(err, runner.ErrStillRunning) {
				return fmt.Errorf("%w (use --force to kill it)", err)
			}
			return fmt.Errorf("remove run: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Removed run %s\n", info.Name)
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove all finished runs",
	Long:  `Remove the record and log of every run that is no longer in progress.`,
	Example: `  # Remove finished runs with confirmation prompt
  outcap prune

  # Without confirmation
  outcap prune --force`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return fmt.Errorf("get force flag: %w", err)
		}

		mgr, err := requireManager(cmd.Context())
		if err != nil {
			return err
		}

		if !force {
			ok, err := confirm(cmd, "Remove all finished runs?", "")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Canceled")
				return nil
			}
		}

		removed, err := mgr.Prune(cmd.Context())
		if err != nil {
			return fmt.Errorf("prune runs: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s)\n", len(removed))
		return nil
	},
}

// confirm asks a yes/no question. Without a terminal the answer is no and
// the caller is told to pass --force.
func confirm(cmd *cobra.Command, title, description string) (bool, error) {
	p := PrompterFromContext(cmd.Context())
	if p == nil {
		return false, errors.New("no prompter available (use --force)")
	}
	ok, err := p.Confirm(title, description)
	if err != nil {
		if errors.Is(err, prompt.ErrNotInteractive) {
			return false, fmt.Errorf("%w (use --force)", err)
		}
		if errors.Is(err, prompt.ErrCanceled) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

func init() {
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(pruneCmd)

	rmCmd.Flags().BoolP("force", "f", false, "skip confirmation and kill a live run")
	pruneCmd.Flags().BoolP("force", "f", false, "skip confirmation prompt")
}
