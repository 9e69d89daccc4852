package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/holyx-app/holyx-sync/internal/config"
	"github.com/holyx-app/holyx-sync/internal/store"
	"github.com/holyx-app/holyx-sync/internal/syncer"
)

// NewRefreshCommand creates the refresh subcommand.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the provider's schedule and image now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := rootOpts.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			dev, err := syncer.NewRefresher(st, rootOpts.directory(), 0).Refresh(ctx)
			if err != nil {
				printf(cmd.ErrOrStderr(), "%s\n", syncer.Hint(err))
				return WrapExitError(ExitFailure, "refresh", err)
			}
			printf(cmd.OutOrStdout(), "Provider: %s\n", dev.Provider.Name)
			return printStatus(ctx, cmd.OutOrStdout(), st, time.Now())
		},
	}
}

// NewRemoveCommand creates the remove subcommand. It forgets the device so
// no further scheduled syncs happen.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Forget the provisioned device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := rootOpts.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			id, _, err := st.Get(ctx, store.KeyDeviceID)
			if err != nil {
				return WrapExitError(ExitCommandError, "read state", err)
			}
			if id == "" {
				printf(cmd.OutOrStdout(), "No device provisioned.\n")
				return nil
			}
			if err := st.Remove(ctx, store.KeyDeviceID, store.KeySchedule, store.KeyLastUpdate, store.KeyImage); err != nil {
				return WrapExitError(ExitCommandError, "remove device", err)
			}
			printf(cmd.OutOrStdout(), "Device %s removed.\n", id)
			return nil
		},
	}
}

// NewSwitchProviderCommand creates the switch-provider subcommand.
func NewSwitchProviderCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "switch-provider <provider-id>",
		Short: "Attach the device to another provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := rootOpts.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			id, _, err := st.Get(ctx, store.KeyDeviceID)
			if err != nil {
				return WrapExitError(ExitCommandError, "read state", err)
			}
			if id == "" {
				printf(cmd.ErrOrStderr(), "%s\n", syncer.Hint(syncer.ErrNotProvisioned))
				return WrapExitError(ExitFailure, "switch provider", syncer.ErrNotProvisioned)
			}

			dir := rootOpts.directory()
			dev, err := dir.SwitchProvider(ctx, id, args[0])
			if err != nil {
				printf(cmd.ErrOrStderr(), "%s\n", syncer.Hint(err))
				return WrapExitError(ExitFailure, "switch provider", err)
			}
			printf(cmd.OutOrStdout(), "Device %s now follows %s.\n", id, dev.Provider.Name)

			if _, err := syncer.NewRefresher(st, dir, 0).Refresh(ctx); err != nil {
				return WrapExitError(ExitFailure, "refresh", err)
			}
			return nil
		},
	}
}

// NewInitConfigCommand creates the init-config subcommand.
func NewInitConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a default config file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteDefault()
			if err != nil {
				return WrapExitError(ExitCommandError, "init config", err)
			}
			if path == "" {
				printf(cmd.OutOrStdout(), "Config already exists at %s\n", config.DefaultConfigPath())
				return nil
			}
			printf(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
			return nil
		},
	}
}
