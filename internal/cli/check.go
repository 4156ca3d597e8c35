package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/projtrack/internal/resilience"
)

// checkResult is the JSON payload of check.
type checkResult struct {
	Path  string `json:"path"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run an integrity check on the store file",
		Long: `Run a read-only integrity check on the store file.

The file must exist, carry a SQLite header, be a whole number of pages and
pass PRAGMA integrity_check. Nothing is modified.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, cmd)
		},
	}

	return cmd
}

func runCheck(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	a, err := openApp(commandContext(cmd), opts, cmd, formatter, storeNone)
	if err != nil {
		return err
	}
	defer a.close()

	path := a.cfg.Database.Path
	formatter.VerboseLog("Checking %s", path)
	verifyErr := a.rt.Checker.Verify(commandContext(cmd), path)

	if verifyErr == nil {
		if formatter.Format == "json" {
			return formatter.Success(checkResult{Path: path, OK: true})
		}
		fmt.Fprintf(formatter.Writer, "✓ %s: ok\n", path)
		return nil
	}

	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeIntegrity, verifyErr.Error(), checkResult{Path: path, Error: verifyErr.Error()})
	} else {
		fmt.Fprintf(formatter.Writer, "✗ %s: %v\n", path, verifyErr)
		fmt.Fprintln(formatter.Writer, "Run 'projtrack recover' or 'projtrack backup restore'.")
	}
	return WrapExitError(ExitFailure, ErrCodeIntegrity, verifyErr)
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Check the store, restore it from backup if damaged, replay pending write",
		Long: `Run the recovery sequence on demand:

  1. integrity check of the store file
  2. if it fails, restore the newest backup and check again
  3. when the store is usable, replay the pending write, if any

The store is never recreated empty. When no usable backup exists the command
exits with code 3 and the store is left for manual intervention.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(rootOpts, cmd)
		},
	}

	return cmd
}

func runRecover(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	a, err := openApp(commandContext(cmd), opts, cmd, formatter, storeNone)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.svc.RecoverDatabase(commandContext(cmd))
	if err != nil {
		if formatter.Format == "json" {
			_ = formatter.Error(ErrCodeManual, err.Error(), res)
		} else {
			fmt.Fprintln(formatter.Writer, "✗ Recovery failed: manual intervention required")
			renderActions(formatter, res)
		}
		return WrapExitError(ExitManualIntervention, ErrCodeManual, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	fmt.Fprintln(formatter.Writer, "✓ Store is usable")
	renderActions(formatter, res)
	return nil
}

func renderActions(formatter *OutputFormatter, res resilience.RecoveryResult) {
	for _, action := range res.Actions {
		fmt.Fprintf(formatter.Writer, "  - %s\n", action)
	}
}
