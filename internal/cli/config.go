package cli

import (
	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the --config file and
PROJTRACK_* environment variables are applied.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
				return WrapExitError(ExitCommandError, ErrCodeConfig, err)
			}
			if formatter.Format == "json" {
				return formatter.Success(cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return formatter.Fail(err, nil)
			}
			_, err = formatter.Writer.Write(out)
			return err
		},
	})

	return cmd
}
