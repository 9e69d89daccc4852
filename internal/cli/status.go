package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/holyx-app/holyx-sync/internal/schedule"
	"github.com/holyx-app/holyx-sync/internal/store"
)

// NewStatusCommand creates the status subcommand.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the provisioned device, its schedule and sync times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := rootOpts.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			return printStatus(ctx, cmd.OutOrStdout(), st, time.Now())
		},
	}
}

func printStatus(ctx context.Context, w io.Writer, st *store.Store, now time.Time) error {
	values := make(map[string]string)
	for _, key := range []string{store.KeyDeviceID, store.KeySchedule, store.KeyLastUpdate} {
		v, _, err := st.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		values[key] = v
	}

	if values[store.KeyDeviceID] == "" {
		printf(w, "No device provisioned. Run: holyx-sync provision <device-id>\n")
		return nil
	}
	printf(w, "Device:      %s\n", values[store.KeyDeviceID])

	times := schedule.ParseList(values[store.KeySchedule])
	if len(times) == 0 {
		printf(w, "Schedule:    none\n")
	} else {
		printf(w, "Schedule:    %s\n", schedule.Join(times))
	}

	if last, err := time.Parse(time.RFC3339, values[store.KeyLastUpdate]); err == nil {
		printf(w, "Last update: %s\n", schedule.Describe(last, now))
	} else {
		printf(w, "Last update: never\n")
	}

	next, second, err := schedule.Occurrences(times, now)
	switch {
	case errors.Is(err, schedule.ErrEmptySchedule):
		printf(w, "Next sync:   not scheduled\n")
	case err != nil:
		printf(w, "Next sync:   invalid schedule (%v)\n", err)
	default:
		printf(w, "Next sync:   %s\n", schedule.Describe(next, now))
		printf(w, "Then:        %s\n", schedule.Describe(second, now))
	}
	return nil
}
