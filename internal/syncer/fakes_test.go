package syncer

import (
	"context"
	"errors"
	"sync"

	"github.com/holyx-app/holyx-sync/internal/ble"
	"github.com/holyx-app/holyx-sync/internal/directory"
)

const testDevice = "HOLYX-000042"

// memStore is an in-memory Store.
type memStore struct {
	mu     sync.Mutex
	values map[string]string
	getErr error
}

func newMemStore(kv ...string) *memStore {
	s := &memStore{values: make(map[string]string)}
	for i := 0; i+1 < len(kv); i += 2 {
		s.values[kv[i]] = kv[i+1]
	}
	return s
}

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memStore) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

func (s *memStore) SetMany(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
	return nil
}

func (s *memStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// fakeDirectory serves devices from memory.
type fakeDirectory struct {
	mu      sync.Mutex
	devices map[string]*directory.Device
	err     error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{devices: map[string]*directory.Device{
		testDevice: {
			ID: testDevice,
			Provider: &directory.Provider{
				ID:       "p1",
				Name:     "St. Mary",
				Image:    "iVBORw0KGgoAAAANSUhEUg==",
				Schedule: []string{"18:00", "09:00"},
			},
		},
	}}
}

func (d *fakeDirectory) GetDevice(_ context.Context, id string) (*directory.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	dev, ok := d.devices[id]
	if !ok {
		return nil, &directory.StatusError{Method: "GET", URL: "/devices/" + id, Code: 404}
	}
	return dev, nil
}

// fakeDeliverer builds the frames the way a transport would once connected
// and records them instead of touching a radio.
type fakeDeliverer struct {
	mu      sync.Mutex
	err     error
	calls   int
	frames  [][]string
	started chan struct{} // receives once per call, if set
	release chan struct{} // blocks each call until closed, if set
	done    chan struct{} // receives after each call, if set
}

func (f *fakeDeliverer) Deliver(ctx context.Context, build ble.FrameFunc) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.done != nil {
		defer func() { f.done <- struct{}{} }()
	}
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return f.err
	}

	frames, err := build(ctx, ble.Advertisement{ID: "AA:BB:CC:DD:EE:42", Name: testDevice})
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, frames)
	f.mu.Unlock()
	return nil
}

func (f *fakeDeliverer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeDeliverer) lastFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

var errRadio = errors.New("radio exploded")
