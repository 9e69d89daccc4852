package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holyx-app/holyx-sync/internal/directory"
	"github.com/holyx-app/holyx-sync/internal/schedule"
	"github.com/holyx-app/holyx-sync/internal/store"
)

// ErrNotProvisioned is returned when no device id is stored.
var ErrNotProvisioned = errors.New("syncer: no device provisioned")

// Refresher copies the provider schedule and image from the directory into
// the store.
type Refresher struct {
	store    Store
	dir      Directory
	interval time.Duration
}

// NewRefresher creates a Refresher. interval is used by Run; zero refreshes
// once and returns.
func NewRefresher(st Store, dir Directory, interval time.Duration) *Refresher {
	return &Refresher{store: st, dir: dir, interval: interval}
}

// Refresh fetches the stored device's entry and writes its schedule and
// image in one store transaction.
func (r *Refresher) Refresh(ctx context.Context) (*directory.Device, error) {
	deviceID, ok, err := r.store.Get(ctx, store.KeyDeviceID)
	if err != nil {
		return nil, fmt.Errorf("syncer: read device id: %w", err)
	}
	if !ok || deviceID == "" {
		return nil, ErrNotProvisioned
	}

	dev, err := r.dir.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.Provider == nil {
		return nil, fmt.Errorf("syncer: device %s has no provider", deviceID)
	}
	if err := schedule.Validate(dev.Provider.Schedule); err != nil && !errors.Is(err, schedule.ErrEmptySchedule) {
		return nil, fmt.Errorf("syncer: provider %s schedule: %w", dev.Provider.ID, err)
	}

	values := map[string]string{store.KeySchedule: schedule.Join(dev.Provider.Schedule)}
	if dev.Provider.Image != "" {
		values[store.KeyImage] = dev.Provider.Image
	}
	if err := r.store.SetMany(ctx, values); err != nil {
		return nil, fmt.Errorf("syncer: save provider data: %w", err)
	}

	slog.Info("[SYNC] provider data refreshed",
		"device", deviceID, "provider", dev.Provider.Name, "schedule", values[store.KeySchedule])
	return dev, nil
}

// Run refreshes immediately and then every interval until ctx is cancelled.
// Failures are logged; a missing device is not an error.
func (r *Refresher) Run(ctx context.Context) error {
	r.refreshLogged(ctx)
	if r.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.refreshLogged(ctx)
		}
	}
}

func (r *Refresher) refreshLogged(ctx context.Context) {
	if _, err := r.Refresh(ctx); err != nil {
		if errors.Is(err, ErrNotProvisioned) {
			slog.Debug("[SYNC] refresh skipped, no device provisioned")
			return
		}
		if ctx.Err() == nil {
			slog.Warn("[SYNC] provider refresh failed", "error", err)
		}
	}
}
