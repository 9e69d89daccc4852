package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/holyx-app/holyx-sync/internal/syncer"
)

// NewRunCommand creates the run subcommand: the background daemon that
// refreshes provider data and syncs the display on schedule.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync the display on its provider's schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, rootOpts)
		},
	}
}

func runDaemon(ctx context.Context, opts *RootOptions) error {
	st, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	transport, err := opts.transport(false, nil)
	if err != nil {
		return err
	}

	dir := opts.directory()
	guard := syncer.NewGuard(st)
	orch := syncer.NewOrchestrator(st, dir, transport, guard, opts.cfg.SyncerConfig())
	refresher := syncer.NewRefresher(st, dir, opts.cfg.Directory.RefreshInterval)

	slog.Info("[RUN] holyx-sync started",
		"store", opts.cfg.Store.Path,
		"directory", opts.cfg.Directory.BaseURL,
		"lookahead", opts.cfg.Scheduler.Lookahead,
		"period", opts.cfg.Scheduler.Period)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return refresher.Run(gctx) })
	g.Go(func() error { return orch.Run(gctx) })

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "run", err)
	}
	slog.Info("[RUN] shutting down")
	return nil
}
