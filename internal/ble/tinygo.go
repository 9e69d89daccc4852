package ble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"
)

const stopRetryInterval = 50 * time.Millisecond

// scanRadio is the part of *bluetooth.Adapter that Scan drives.
type scanRadio interface {
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth on
// macOS, WinRT on Windows). On macOS advertisement ids are CoreBluetooth
// UUIDs rather than MAC addresses.
type TinyGoAdapter struct {
	adapter     *bluetooth.Adapter
	radio       scanRadio
	serviceUUID bluetooth.UUID

	// mu protects seen.
	mu   sync.Mutex
	seen map[string]bluetooth.Address // keyed by Advertisement.ID
}

// NewTinyGoAdapter creates an adapter on the default host radio. serviceUUID
// is used to tag advertisements that list the HOLYX service.
func NewTinyGoAdapter(serviceUUID string) (*TinyGoAdapter, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		radio:       bluetooth.DefaultAdapter,
		serviceUUID: uuid,
		seen:        make(map[string]bluetooth.Address),
	}, nil
}

func (a *TinyGoAdapter) Enable() error {
	return a.adapter.Enable()
}

// MinChunkDelay reports the pacing the host's write path needs between
// chunks.
func (a *TinyGoAdapter) MinChunkDelay() time.Duration {
	return writePacing
}

// Scan runs one scan session. Only one scan may run on the host radio at a
// time.
func (a *TinyGoAdapter) Scan(ctx context.Context, match func(Advertisement) bool) (Advertisement, error) {
	if err := ctx.Err(); err != nil {
		return Advertisement{}, err
	}

	found := make(chan Advertisement, 1)
	scanErr := make(chan error, 1)
	started := make(chan struct{})
	var startOnce, matchOnce sync.Once
	var stopping atomic.Bool

	go func() {
		scanErr <- a.radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			startOnce.Do(func() { close(started) })
			if stopping.Load() {
				_ = a.radio.StopScan()
				return
			}
			adv := Advertisement{
				ID:   result.Address.String(),
				Name: result.LocalName(),
				RSSI: int(result.RSSI),
			}
			if result.HasServiceUUID(a.serviceUUID) {
				adv.ServiceUUID = a.serviceUUID.String()
			}
			if !match(adv) {
				return
			}
			matchOnce.Do(func() {
				a.mu.Lock()
				a.seen[adv.ID] = result.Address
				a.mu.Unlock()
				found <- adv
				_ = a.radio.StopScan()
			})
		})
	}()

	select {
	case adv := <-found:
		<-scanErr
		return adv, nil
	case err := <-scanErr:
		// StopScan from the callback makes Scan return nil after found is
		// filled; prefer the match in that case.
		select {
		case adv := <-found:
			return adv, nil
		default:
		}
		if err == nil {
			err = fmt.Errorf("scan stopped without a match")
		}
		return Advertisement{}, err
	case <-ctx.Done():
		stopping.Store(true)
		a.stopScan(started, scanErr)
		return Advertisement{}, ctx.Err()
	}
}

// stopScan ends a scan abandoned by its caller and waits for it to return.
// StopScan fails while the scan goroutine has not started scanning yet, so
// it is retried until Scan returns.
func (a *TinyGoAdapter) stopScan(started <-chan struct{}, scanErr <-chan error) {
	ticker := time.NewTicker(stopRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-scanErr:
			return
		case <-started:
			started = nil
			_ = a.radio.StopScan()
		case <-ticker.C:
			_ = a.radio.StopScan()
		}
	}
}

func (a *TinyGoAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	a.mu.Lock()
	addr, ok := a.seen[id]
	a.mu.Unlock()
	if !ok {
		addr.Set(id)
	}

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect may still succeed later; drop that link.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case result := <-ch:
		if result.err != nil {
			return nil, result.err
		}
		return &tinyGoConnection{device: result.device}, nil
	}
}

// Compile-time checks that TinyGoAdapter implements Adapter and ChunkPacer.
var (
	_ Adapter    = (*TinyGoAdapter)(nil)
	_ ChunkPacer = (*TinyGoAdapter)(nil)
)

type tinyGoConnection struct {
	device bluetooth.Device
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("characteristic %s not found", charUUID)
	}

	return &tinyGoCharacteristic{char: chars[0]}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}
