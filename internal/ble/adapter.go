// Package ble provides the BLE transport for delivering sync payloads to a
// HOLYX peripheral. It handles discovery by advertised name, connection
// management and chunked characteristic writes over Bluetooth Low Energy.
package ble

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// HOLYX BLE identifiers
const (
	ServiceUUID   = "00001234-0000-1000-8000-00805f9b34fb"
	ImageCharUUID = "00006679-0000-1000-8000-00805f9b34fb"
	NamePattern   = `^HOLYX-\d{6}$`
)

// Transaction failures. Radio errors returned by the Transport wrap exactly
// one of these.
var (
	ErrPermissionDenied = errors.New("ble: bluetooth permission denied")
	ErrScanTimeout      = errors.New("ble: no matching peripheral before scan timeout")
	ErrScanFailed       = errors.New("ble: scan failed")
	ErrConnectFailed    = errors.New("ble: connect failed")
	ErrWriteFailed      = errors.New("ble: write failed")
	ErrBusy             = errors.New("ble: transport already in use")
)

// Characteristic represents a writable BLE GATT characteristic.
type Characteristic interface {
	// Write sends one base64-encoded chunk. Implementations decode it and
	// write the raw bytes. Where the host acknowledges writes it returns once
	// the write completed; otherwise the adapter is a ChunkPacer.
	Write(encoded string) error
}

// Advertisement is a peripheral seen during one scan session.
type Advertisement struct {
	ID          string // platform address (MAC, or CoreBluetooth UUID on macOS)
	Name        string
	RSSI        int
	ServiceUUID string // set when the advertisement lists the HOLYX service
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the adapter. This is where the host grants or refuses
	// radio access; a failure here is reported as ErrPermissionDenied.
	Enable() error
	// Scan resolves with the first advertisement accepted by match and stops
	// the scan. It resolves at most once and returns ctx.Err() when ctx ends
	// first.
	Scan(ctx context.Context, match func(Advertisement) bool) (Advertisement, error)
	// Connect establishes a connection to the peripheral with the given id.
	Connect(ctx context.Context, id string) (Connection, error)
}

// ChunkPacer is implemented by adapters whose writes return before the
// peripheral has taken the chunk. A Transport never pauses less than
// MinChunkDelay between chunks on such an adapter.
type ChunkPacer interface {
	MinChunkDelay() time.Duration
}

// NameMatcher returns a scan filter accepting advertisements whose name
// matches pattern.
func NameMatcher(pattern string) (func(Advertisement) bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return func(adv Advertisement) bool {
		return adv.Name != "" && re.MatchString(adv.Name)
	}, nil
}
