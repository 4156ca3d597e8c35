package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/projtrack/internal/api"
	"github.com/roach88/projtrack/internal/project"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the command endpoint, backup schedule and project watcher",
		Long: `Start projtrack in the foreground.

On start the store is checked and, if damaged, restored from the newest
backup. Then:
  - the command endpoint listens on server.host:server.port
  - backups run on backup.schedule (when backup.enabled)
  - the project directories are watched and re-indexed on change
    (when projects.watch)

Example:
  projtrack serve --config ~/.projtrack/config.yaml
  projtrack serve --addr 127.0.0.1:9000 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default: server.host:server.port)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	a, err := openApp(ctx, opts.RootOptions, cmd, formatter, storeRecover)
	if err != nil {
		return err
	}
	defer a.close()

	if a.rt.Handle.IsOpen() {
		if res, err := a.svc.SyncProjects(ctx); err != nil {
			a.logger.Warn("initial project sync failed", slog.String("error", err.Error()))
		} else {
			a.logger.Info("initial project sync", slog.Int("saved", res.Saved), slog.Int("removed", res.Removed))
		}
	}

	if a.cfg.Backup.Enabled {
		if err := a.rt.StartScheduler(ctx); err != nil {
			return formatter.Fail(err, nil)
		}
	}

	if a.cfg.Projects.Watch {
		watcher, err := project.NewWatcher(a.lib, a.svc.SyncPaths, a.cfg.Projects.Debounce, a.logger)
		if err != nil {
			return formatter.Fail(err, nil)
		}
		if err := watcher.Start(ctx); err != nil {
			return formatter.Fail(err, nil)
		}
		defer watcher.Stop()
	}

	addr := opts.Addr
	if addr == "" {
		addr = a.cfg.Server.Addr()
	}
	handler := api.NewHandler(a.svc, a.rt.Handle.IsOpen, a.logger)
	server := api.NewServer(addr, handler.Routes(), a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.logger)

	fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", server.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	a.logger.Info("stopped gracefully")
	return nil
}
