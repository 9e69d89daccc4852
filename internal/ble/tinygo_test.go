package ble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tinygo.org/x/bluetooth"
)

// fakeScanRadio behaves like the host radio: StopScan fails until Scan has
// actually started scanning.
type fakeScanRadio struct {
	startDelay time.Duration

	mu       sync.Mutex
	scanning bool
	stop     chan struct{}
	scans    int
	stops    int
}

func (r *fakeScanRadio) Scan(func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	time.Sleep(r.startDelay)

	r.mu.Lock()
	r.scans++
	r.scanning = true
	stop := make(chan struct{})
	r.stop = stop
	r.mu.Unlock()

	<-stop
	return nil
}

func (r *fakeScanRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	if !r.scanning {
		return errors.New("not scanning")
	}
	r.scanning = false
	close(r.stop)
	return nil
}

func (r *fakeScanRadio) counts() (scans, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans, r.stops
}

func newRadioTestAdapter(radio scanRadio) *TinyGoAdapter {
	return &TinyGoAdapter{radio: radio, seen: make(map[string]bluetooth.Address)}
}

func scanWithin(t *testing.T, ctx context.Context, a *TinyGoAdapter) error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		_, err := a.Scan(ctx, func(Advertisement) bool { return true })
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Scan did not return after ctx ended")
		return nil
	}
}

func TestTinyGoScanCancelledBeforeStart(t *testing.T) {
	radio := &fakeScanRadio{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := scanWithin(t, ctx, newRadioTestAdapter(radio))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Scan() error = %v, want context.Canceled", err)
	}
	if scans, _ := radio.counts(); scans != 0 {
		t.Errorf("radio scanned %d times, want 0", scans)
	}
}

func TestTinyGoScanStopRetriedUntilScanning(t *testing.T) {
	radio := &fakeScanRadio{startDelay: 80 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := scanWithin(t, ctx, newRadioTestAdapter(radio))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Scan() error = %v, want context.DeadlineExceeded", err)
	}
	scans, stops := radio.counts()
	if scans != 1 {
		t.Errorf("radio scanned %d times, want 1", scans)
	}
	if stops < 2 {
		t.Errorf("StopScan called %d times, want a retry after the failed first call", stops)
	}
}

func TestTinyGoScanStopsRunningScan(t *testing.T) {
	radio := &fakeScanRadio{}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := scanWithin(t, ctx, newRadioTestAdapter(radio))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Scan() error = %v, want context.Canceled", err)
	}
	if scans, _ := radio.counts(); scans != 1 {
		t.Errorf("radio scanned %d times, want 1", scans)
	}
}
