package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/holyx-app/holyx-sync/internal/ble/protocol"
)

// Stage is the Transport's position in one delivery:
// idle -> scanning -> connecting -> sending -> success|error.
type Stage int

const (
	StageIdle Stage = iota
	StageScanning
	StageConnecting
	StageSending
	StageSuccess
	StageError
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageScanning:
		return "scanning"
	case StageConnecting:
		return "connecting"
	case StageSending:
		return "sending"
	case StageSuccess:
		return "success"
	case StageError:
		return "error"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Terminal reports whether s ends a delivery.
func (s Stage) Terminal() bool {
	return s == StageSuccess || s == StageError
}

// TransportOptions configures a Transport.
type TransportOptions struct {
	ServiceUUID string
	CharUUID    string
	NamePattern string

	// RequireService also requires the advertisement to list ServiceUUID.
	RequireService bool

	ScanTimeout     time.Duration // 0 scans until ctx ends
	InterChunkDelay time.Duration // pause between chunk writes, 0 for none

	// OnStage, if set, is called after every stage change. err is non-nil
	// only for StageError.
	OnStage func(stage Stage, err error)
}

// DefaultTransportOptions returns the interactive tuning.
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		ServiceUUID:     ServiceUUID,
		CharUUID:        ImageCharUUID,
		NamePattern:     NamePattern,
		ScanTimeout:     30 * time.Second,
		InterChunkDelay: 20 * time.Millisecond,
	}
}

// FrameFunc builds the frames to write once a peripheral is connected, so
// send-time fields reflect the moment of transmission.
type FrameFunc func(ctx context.Context, adv Advertisement) ([]string, error)

// Transport performs one scan, connect, send, disconnect cycle at a time.
// It never retries; retry policy belongs to the caller.
type Transport struct {
	adapter Adapter
	opts    TransportOptions
	match   func(Advertisement) bool

	mu      sync.Mutex
	stage   Stage
	lastErr error
	active  bool
}

// NewTransport creates a Transport. Empty UUID or pattern options fall back
// to the HOLYX defaults.
func NewTransport(adapter Adapter, opts TransportOptions) (*Transport, error) {
	if adapter == nil {
		return nil, errors.New("ble: nil adapter")
	}
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = ServiceUUID
	}
	if opts.CharUUID == "" {
		opts.CharUUID = ImageCharUUID
	}
	if opts.NamePattern == "" {
		opts.NamePattern = NamePattern
	}
	if opts.InterChunkDelay < 0 {
		opts.InterChunkDelay = 0
	}
	if p, ok := adapter.(ChunkPacer); ok {
		opts.InterChunkDelay = max(opts.InterChunkDelay, p.MinChunkDelay())
	}
	match, err := NameMatcher(opts.NamePattern)
	if err != nil {
		return nil, fmt.Errorf("ble: name pattern: %w", err)
	}
	if opts.RequireService {
		byName := match
		match = func(adv Advertisement) bool {
			return strings.EqualFold(adv.ServiceUUID, opts.ServiceUUID) && byName(adv)
		}
	}
	return &Transport{adapter: adapter, opts: opts, match: match}, nil
}

// Stage returns the current stage.
func (t *Transport) Stage() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

// Err returns the error that moved the Transport to StageError, if any.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

func (t *Transport) setStage(s Stage, err error) {
	t.mu.Lock()
	t.stage = s
	t.lastErr = err
	cb := t.opts.OnStage
	t.mu.Unlock()

	if cb != nil {
		cb(s, err)
	}
}

func (t *Transport) fail(err error) error {
	slog.Warn("[BLE] delivery failed", "error", err)
	t.setStage(StageError, err)
	return err
}

// Deliver discovers the first peripheral whose name matches the pattern,
// connects, writes the frames returned by build and disconnects. The
// connection is released on every exit path before Deliver returns.
// Calling Deliver while another call is in flight returns ErrBusy.
func (t *Transport) Deliver(ctx context.Context, build FrameFunc) error {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return ErrBusy
	}
	t.active = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.active = false
		t.mu.Unlock()
	}()

	t.setStage(StageIdle, nil)

	if err := t.adapter.Enable(); err != nil {
		return t.fail(fmt.Errorf("%w: %w", ErrPermissionDenied, err))
	}

	t.setStage(StageScanning, nil)
	adv, err := t.scan(ctx)
	if err != nil {
		return t.fail(err)
	}
	slog.Info("[BLE] found peripheral", "name", adv.Name, "id", adv.ID, "rssi", adv.RSSI)

	t.setStage(StageConnecting, nil)
	if err := t.session(ctx, adv, build); err != nil {
		return t.fail(err)
	}

	t.setStage(StageSuccess, nil)
	return nil
}

func (t *Transport) scan(ctx context.Context) (Advertisement, error) {
	scanCtx := ctx
	if t.opts.ScanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, t.opts.ScanTimeout)
		defer cancel()
	}

	adv, err := t.adapter.Scan(scanCtx, t.match)
	switch {
	case err == nil:
		return adv, nil
	case ctx.Err() != nil:
		return Advertisement{}, fmt.Errorf("%w: %w", ErrScanFailed, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return Advertisement{}, fmt.Errorf("%w (%s)", ErrScanTimeout, t.opts.ScanTimeout)
	default:
		return Advertisement{}, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}
}

// session owns the connection for one delivery.
func (t *Transport) session(ctx context.Context, adv Advertisement, build FrameFunc) error {
	conn, err := t.adapter.Connect(ctx, adv.ID)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, adv.ID, err)
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			slog.Warn("[BLE] disconnect failed", "id", adv.ID, "error", err)
		}
	}()

	char, err := conn.DiscoverCharacteristic(t.opts.ServiceUUID, t.opts.CharUUID)
	if err != nil {
		return fmt.Errorf("%w: discover %s: %w", ErrConnectFailed, t.opts.CharUUID, err)
	}

	frames, err := build(ctx, adv)
	if err != nil {
		return fmt.Errorf("ble: build payload: %w", err)
	}

	t.setStage(StageSending, nil)
	return t.writeFrames(ctx, char, frames)
}

// writeFrames writes each frame as base64 chunks, strictly in order. A chunk
// is issued only after the previous write returned.
func (t *Transport) writeFrames(ctx context.Context, char Characteristic, frames []string) error {
	for fi, frame := range frames {
		chunks := protocol.EncodeChunks(frame)
		for ci, chunk := range chunks {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %w", ErrWriteFailed, err)
			}
			if err := char.Write(chunk); err != nil {
				return fmt.Errorf("%w: frame %d chunk %d/%d: %w", ErrWriteFailed, fi+1, ci+1, len(chunks), err)
			}
			last := fi == len(frames)-1 && ci == len(chunks)-1
			if !last {
				if err := t.pause(ctx); err != nil {
					return fmt.Errorf("%w: %w", ErrWriteFailed, err)
				}
			}
		}
		slog.Debug("[BLE] frame written", "frame", fi+1, "of", len(frames), "bytes", len(frame), "chunks", len(chunks))
	}
	return nil
}

func (t *Transport) pause(ctx context.Context) error {
	if t.opts.InterChunkDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(t.opts.InterChunkDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
