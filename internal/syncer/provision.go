package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/holyx-app/holyx-sync/internal/ble"
	"github.com/holyx-app/holyx-sync/internal/ble/protocol"
	"github.com/holyx-app/holyx-sync/internal/schedule"
	"github.com/holyx-app/holyx-sync/internal/store"
)

// Provisioner is the interactive flow run after a QR scan. Unlike the
// Orchestrator it reports its stage as it goes and returns every error.
type Provisioner struct {
	store     Store
	dir       Directory
	transport Deliverer
	guard     *Guard
	now       func() time.Time

	mu    sync.Mutex
	stage ble.Stage
	err   error
}

// NewProvisioner creates a Provisioner. transport is normally a ble.Transport
// whose OnStage callback feeds SetStage.
func NewProvisioner(st Store, dir Directory, transport Deliverer, guard *Guard) *Provisioner {
	if guard == nil {
		guard = &Guard{}
	}
	return &Provisioner{
		store:     st,
		dir:       dir,
		transport: transport,
		guard:     guard,
		now:       time.Now,
	}
}

// SetStage records a transport stage change. It has the ble.TransportOptions
// OnStage signature.
func (p *Provisioner) SetStage(stage ble.Stage, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
	p.err = err
}

// Stage returns the last reported stage and, for ble.StageError, its cause.
func (p *Provisioner) Stage() (ble.Stage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage, p.err
}

// Provision delivers a first-contact payload to the peripheral for the
// scanned deviceID and, on success, stores the device id and the provider
// schedule.
func (p *Provisioner) Provision(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		err := errors.New("syncer: empty device id")
		p.SetStage(ble.StageError, err)
		return err
	}

	release, ok := p.guard.TryAcquire()
	if !ok {
		p.SetStage(ble.StageError, ErrSyncInProgress)
		return ErrSyncInProgress
	}
	defer release()

	txID := newTxID()
	log := slog.With("tx", txID, "device", deviceID)
	log.Info("[PROVISION] starting")

	var times []string
	build := func(ctx context.Context, adv ble.Advertisement) ([]string, error) {
		dev, err := p.dir.GetDevice(ctx, deviceID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoImage, err)
		}
		if dev.Provider == nil || dev.Provider.Image == "" {
			return nil, fmt.Errorf("%w: device %s has no provider image", ErrNoImage, deviceID)
		}
		times = dev.Provider.Schedule

		tx, err := protocol.NewProvisioning(deviceID, dev.Provider.Image, p.now())
		if err != nil {
			return nil, err
		}
		log.Debug("[PROVISION] payload built", "peripheral", adv.Name, "provider", dev.Provider.Name)
		return protocol.BuildFrame(tx)
	}

	if err := p.transport.Deliver(ctx, build); err != nil {
		if errors.Is(err, ble.ErrBusy) {
			err = fmt.Errorf("%w: %w", ErrSyncInProgress, err)
		}
		log.Warn("[PROVISION] failed", "error", err)
		return err
	}

	values := map[string]string{store.KeyDeviceID: deviceID}
	if len(times) > 0 {
		if err := schedule.Validate(times); err != nil {
			log.Warn("[PROVISION] provider schedule ignored", "error", err)
		} else {
			values[store.KeySchedule] = schedule.Join(times)
		}
	}
	if err := p.store.SetMany(ctx, values); err != nil {
		return fmt.Errorf("syncer: save device: %w", err)
	}

	log.Info("[PROVISION] complete")
	return nil
}
