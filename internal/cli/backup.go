package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/projtrack/internal/resilience"
)

// NewBackupCommand creates the backup command group.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, prune and restore store backups",
	}

	cmd.AddCommand(newBackupCreateCommand(rootOpts))
	cmd.AddCommand(newBackupListCommand(rootOpts))
	cmd.AddCommand(newBackupPruneCommand(rootOpts))
	cmd.AddCommand(newBackupRestoreCommand(rootOpts))

	return cmd
}

func newBackupCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "create",
		Short:         "Copy the live store into the backup directory",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)
			a, err := openApp(commandContext(cmd), opts, cmd, formatter, storeRecover)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.rt.Backups.CreateBackup(commandContext(cmd))
			if err != nil {
				return formatter.Fail(err, nil)
			}
			if formatter.Format == "json" {
				return formatter.Success(rec)
			}
			fmt.Fprintf(formatter.Writer, "Created backup %s\n", rec.BackupPath)
			return nil
		},
	}
}

func newBackupListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List backups, newest first",
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

			backups, err := a.rt.Backups.ListBackups()
			if err != nil {
				return formatter.Fail(err, nil)
			}
			if formatter.Format == "json" {
				return formatter.Success(backups)
			}
			renderBackups(formatter, a.rt.Backups.Dir(), backups)
			return nil
		},
	}
}

func renderBackups(formatter *OutputFormatter, dir string, backups []resilience.BackupRecord) {
	if len(backups) == 0 {
		fmt.Fprintf(formatter.Writer, "No backups in %s\n", dir)
		return
	}
	for _, b := range backups {
		fmt.Fprintf(formatter.Writer, "%s  %s\n", b.Stamp(), b.BackupPath)
	}
}

func newBackupPruneCommand(opts *RootOptions) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:           "prune",
		Short:         "Delete all but the newest backups",
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

			retain := keep
			if !cmd.Flags().Changed("keep") {
				retain = a.cfg.Backup.Retain
			}
			deleted, err := a.rt.Backups.PruneOldBackups(retain)
			if err != nil {
				return formatter.Fail(err, nil)
			}
			if formatter.Format == "json" {
				return formatter.Success(deleted)
			}
			fmt.Fprintf(formatter.Writer, "Pruned %d backup(s), keeping %d\n", len(deleted), retain)
			for _, b := range deleted {
				fmt.Fprintf(formatter.Writer, "  deleted %s\n", b.BackupPath)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", resilience.DefaultBackupRetain, "number of backups to keep (default: backup.retain)")

	return cmd
}

func newBackupRestoreCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Replace the live store with the newest backup",
		Long: `Replace the live store with the newest backup.

The current store file is kept next to it as <store>.pre-restore-<timestamp>.
The store is not checked first, so this works when automatic recovery failed.`,
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

			res, err := a.svc.RestoreDatabaseFromBackup(commandContext(cmd))
			if err != nil {
				return formatter.Fail(err, nil)
			}
			if !res.Restored {
				msg := fmt.Sprintf("no backup available in %s", a.rt.Backups.Dir())
				_ = formatter.Error(ErrCodeNoBackup, msg, nil)
				return NewExitError(ExitFailure, ErrCodeNoBackup+": "+msg)
			}
			if formatter.Format == "json" {
				return formatter.Success(res)
			}
			fmt.Fprintf(formatter.Writer, "Restored %s from %s\n", a.cfg.Database.Path, res.Backup.BackupPath)
			return nil
		},
	}
}
