package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/projtrack/internal/tracker"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Args string
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <command>",
		Short: "Run a tracker command in-process",
		Long: `Run a tracker command in-process and print its result as JSON.

These are the same commands served by 'projtrack serve' at
POST /invoke/<command>:

  ` + strings.Join((&tracker.Service{}).CommandNames(), "\n  ") + `

Example:
  projtrack invoke update-project-status --args '{"filename":"Kitchen.txt","newStatus":"waiting"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeCommand(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "{}", "command arguments as JSON")

	return cmd
}

func invokeCommand(opts *InvokeOptions, name string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if !json.Valid([]byte(opts.Args)) {
		_ = formatter.Error(ErrCodeInvalidArgs, "invalid --args JSON", opts.Args)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: invalid --args JSON", ErrCodeInvalidArgs))
	}

	a, err := openApp(commandContext(cmd), opts.RootOptions, cmd, formatter, storeRecover)
	if err != nil {
		return err
	}
	defer a.close()

	args := json.RawMessage(opts.Args)
	if strings.TrimSpace(opts.Args) == "{}" {
		args = nil
	}
	result, err := a.svc.Invoke(commandContext(cmd), name, args)
	if err != nil {
		return formatter.Fail(err, result)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return formatter.Fail(err, nil)
	}
	fmt.Fprintln(formatter.Writer, string(out))
	return nil
}
