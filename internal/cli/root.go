package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holyx-app/holyx-sync/internal/ble"
	"github.com/holyx-app/holyx-sync/internal/config"
	"github.com/holyx-app/holyx-sync/internal/directory"
	"github.com/holyx-app/holyx-sync/internal/logging"
	"github.com/holyx-app/holyx-sync/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	// NewAdapter opens the BLE radio. Tests replace it; nil uses the host
	// adapter.
	NewAdapter func(serviceUUID string) (ble.Adapter, error)

	cfg       *config.Config
	logCloser io.Closer
}

// NewRootCommand creates the root command for the holyx-sync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holyx-sync",
		Short: "holyx-sync - keep a HOLYX display in sync",
		Long: `Provision a HOLYX BLE display and push its provider's image to it on
the provider's daily schedule.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logCloser != nil {
				return opts.logCloser.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (default: ~/.config/holyx-sync/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewProvisionCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewSwitchProviderCommand(opts))
	cmd.AddCommand(NewInitConfigCommand(opts))

	return cmd
}

// setup loads the config and installs the default logger.
func (o *RootOptions) setup() error {
	path := o.ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	var (
		cfg *config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOrDefault(path)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "config", err)
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "config validation", err)
	}

	level := config.ParseLogLevel(cfg.LogLevel)
	if o.Verbose {
		level = slog.LevelDebug
	}
	logger, closer := logging.New(level, cfg.LogFile)
	slog.SetDefault(logger)

	o.cfg = cfg
	o.logCloser = closer
	return nil
}

func (o *RootOptions) openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, o.cfg.Store.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open state", err)
	}
	return st, nil
}

func (o *RootOptions) directory() *directory.Client {
	return directory.New(o.cfg.Directory.BaseURL, o.cfg.Directory.Timeout)
}

func (o *RootOptions) transport(interactive bool, onStage func(ble.Stage, error)) (*ble.Transport, error) {
	newAdapter := o.NewAdapter
	if newAdapter == nil {
		newAdapter = func(serviceUUID string) (ble.Adapter, error) {
			return ble.NewTinyGoAdapter(serviceUUID)
		}
	}
	adapter, err := newAdapter(o.cfg.BLE.ServiceUUID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "bluetooth adapter", err)
	}

	opts := o.cfg.TransportOptions(interactive)
	opts.OnStage = onStage
	t, err := ble.NewTransport(adapter, opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "bluetooth transport", err)
	}
	return t, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
