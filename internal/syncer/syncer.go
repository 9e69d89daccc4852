// Package syncer drives payload delivery to a HOLYX device: the unattended
// Orchestrator that syncs on the provider schedule, the interactive
// Provisioner used after a QR scan, and the Refresher that keeps the stored
// schedule and image in step with the device directory. All of them share
// one Guard so only a single transaction uses the radio at a time.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/holyx-app/holyx-sync/internal/ble"
	"github.com/holyx-app/holyx-sync/internal/directory"
	"github.com/holyx-app/holyx-sync/internal/store"
)

// ErrSyncInProgress is returned when the Guard is already held.
var ErrSyncInProgress = errors.New("syncer: sync already in progress")

// ErrNoImage is returned when neither the directory nor the local cache can
// supply an image.
var ErrNoImage = errors.New("syncer: no image available")

// Store is the key-value state the flows read and write.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetMany(ctx context.Context, values map[string]string) error
}

// Directory looks up a device's provider.
type Directory interface {
	GetDevice(ctx context.Context, id string) (*directory.Device, error)
}

// Deliverer runs one scan, connect, send, disconnect cycle.
type Deliverer interface {
	Deliver(ctx context.Context, build ble.FrameFunc) error
}

// newTxID returns a correlation id for the log lines of one transaction.
func newTxID() string {
	return uuid.NewString()[:8]
}

// fetchImage returns the provider image for deviceID. With fallback set, a
// failed lookup falls back to the last cached image.
func fetchImage(ctx context.Context, dir Directory, st Store, deviceID string, fallback bool) (string, error) {
	dev, err := dir.GetDevice(ctx, deviceID)
	if err == nil {
		if dev.Provider != nil && dev.Provider.Image != "" {
			return dev.Provider.Image, nil
		}
		err = fmt.Errorf("device %s: provider has no image", deviceID)
	}
	if !fallback {
		return "", fmt.Errorf("%w: %w", ErrNoImage, err)
	}

	cached, ok, cerr := st.Get(ctx, store.KeyImage)
	if cerr != nil || !ok || cached == "" {
		return "", fmt.Errorf("%w: %w", ErrNoImage, err)
	}
	slog.Warn("[SYNC] directory unavailable, using cached image", "device", deviceID, "error", err)
	return cached, nil
}
