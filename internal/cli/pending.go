package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/projtrack/internal/resilience"
)

// NewPendingCommand creates the pending command group.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect, retry or discard the pending write",
		Long: `Inspect, retry or discard the pending write.

A write that could not be applied after its retries is kept in a single
pending slot. A newer failed write replaces it.`,
	}

	cmd.AddCommand(newPendingShowCommand(rootOpts))
	cmd.AddCommand(newPendingRetryCommand(rootOpts))
	cmd.AddCommand(newPendingDiscardCommand(rootOpts))

	return cmd
}

func newPendingShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Show the pending write",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)
			a, err := openApp(commandContext(cmd), opts, cmd, formatter, storeNone)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.rt.Pending.Get()
			if err != nil {
				return formatter.Fail(err, nil)
			}
			if formatter.Format == "json" {
				return formatter.Success(p)
			}
			if p == nil {
				fmt.Fprintln(formatter.Writer, "No pending operation")
				return nil
			}
			return renderPending(formatter, p)
		},
	}
}

func renderPending(formatter *OutputFormatter, p *resilience.PendingOperation) error {
	params, err := json.MarshalIndent(p.Parameters, "  ", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(formatter.Writer, "Pending %s %s (recorded %s)\n",
		p.OperationType, p.EntityName, p.RecordedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(formatter.Writer, "  %s\n", params)
	return nil
}

func newPendingRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "retry",
		Short:         "Replay the pending write",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)
			a, err := openApp(commandContext(cmd), opts, cmd, formatter, storeOpen)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.svc.RetryDatabaseOperation(commandContext(cmd))
			if err != nil {
				code, exit := classify(err)
				if code == ErrCodeGeneric || code == ErrCodeStore {
					code = ErrCodeReplayFailed
				}
				_ = formatter.Error(code, err.Error(), res.Operation)
				return WrapExitError(exit, code, err)
			}
			if formatter.Format == "json" {
				return formatter.Success(res)
			}
			if !res.Replayed {
				fmt.Fprintln(formatter.Writer, "No pending operation")
				return nil
			}
			fmt.Fprintf(formatter.Writer, "Replayed %s %s\n", res.Operation.OperationType, res.Operation.EntityName)
			if !res.Cleared {
				fmt.Fprintln(formatter.Writer, "A newer pending operation was recorded meanwhile and was kept.")
			}
			return nil
		},
	}
}

func newPendingDiscardCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "discard",
		Short:         "Drop the pending write without replaying it",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)
			a, err := openApp(commandContext(cmd), opts, cmd, formatter, storeNone)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.rt.DiscardPendingOperation(); err != nil {
				return formatter.Fail(err, nil)
			}
			if formatter.Format == "json" {
				return formatter.Success(map[string]bool{"discarded": true})
			}
			fmt.Fprintln(formatter.Writer, "Pending operation discarded")
			return nil
		},
	}
}
