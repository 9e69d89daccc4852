package cli

import (
	"github.com/spf13/cobra"

	"github.com/holyx-app/holyx-sync/internal/ble"
	"github.com/holyx-app/holyx-sync/internal/syncer"
)

var stageLabels = map[ble.Stage]string{
	ble.StageScanning:   "Searching for the display...",
	ble.StageConnecting: "Connecting...",
	ble.StageSending:    "Sending image...",
	ble.StageSuccess:    "Display updated.",
}

// NewProvisionCommand creates the provision subcommand. The device id is the
// value encoded in the display's QR code.
func NewProvisionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "provision <device-id>",
		Short: "Pair with a display and send it its provider's image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			st, err := rootOpts.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			var p *syncer.Provisioner
			transport, err := rootOpts.transport(true, func(stage ble.Stage, err error) {
				p.SetStage(stage, err)
				if label, ok := stageLabels[stage]; ok {
					printf(out, "%s\n", label)
				}
			})
			if err != nil {
				return err
			}
			p = syncer.NewProvisioner(st, rootOpts.directory(), transport, syncer.NewGuard(st))

			if err := p.Provision(ctx, args[0]); err != nil {
				printf(cmd.ErrOrStderr(), "%s\n", syncer.Hint(err))
				return WrapExitError(ExitFailure, "provision", err)
			}
			printf(out, "Device %s provisioned.\n", args[0])
			return nil
		},
	}
}
