package directory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDirectory serves /devices/{id} from memory.
type fakeDirectory struct {
	mu        sync.Mutex
	devices   map[string]Device
	providers map[string]Provider
	puts      []string
}

func newFakeDirectory() *fakeDirectory {
	church := Provider{ID: "p1", Name: "St. Mary", Image: "iVBORw0KGgo=", Schedule: []string{"18:30", "09:00"}, AllowProviderChange: true}
	locked := Provider{ID: "p2", Name: "Locked Co", Image: "AAAA", Schedule: []string{"12:00"}}
	return &fakeDirectory{
		devices: map[string]Device{
			"HOLYX-000042": {ID: "HOLYX-000042", Code: "K652", Provider: &church},
			"HOLYX-000043": {ID: "HOLYX-000043", Provider: &locked},
			"HOLYX-000044": {ID: "HOLYX-000044"},
		},
		providers: map[string]Provider{"p1": church, "p2": locked},
	}
}

func (f *fakeDirectory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := r.PathValue("id")
	dev, ok := f.devices[id]
	if !ok {
		http.Error(w, "no such device", http.StatusNotFound)
		return
	}

	if r.Method == http.MethodPut {
		var body struct {
			ProviderID string `json:"providerId"`
		}
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		p, ok := f.providers[body.ProviderID]
		if !ok {
			http.Error(w, "no such provider", http.StatusUnprocessableEntity)
			return
		}
		f.puts = append(f.puts, body.ProviderID)
		dev.Provider = &p
		f.devices[id] = dev
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(dev)
}

func newTestClient(t *testing.T, f *fakeDirectory) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/devices/{id}", f)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 2*time.Second)
}

func TestGetDevice(t *testing.T) {
	c := newTestClient(t, newFakeDirectory())

	dev, err := c.GetDevice(context.Background(), "HOLYX-000042")
	require.NoError(t, err)
	assert.Equal(t, "K652", dev.Code)
	require.NotNil(t, dev.Provider)
	assert.Equal(t, "St. Mary", dev.Provider.Name)
	assert.Equal(t, []string{"18:30", "09:00"}, dev.Provider.Schedule)
	assert.True(t, dev.Provider.AllowProviderChange)
}

func TestGetDevice_NotFound(t *testing.T) {
	c := newTestClient(t, newFakeDirectory())

	_, err := c.GetDevice(context.Background(), "HOLYX-999999")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, se.Error(), "no such device")
}

func TestGetDevice_NoProvider(t *testing.T) {
	c := newTestClient(t, newFakeDirectory())

	_, err := c.GetDevice(context.Background(), "HOLYX-000044")
	require.Error(t, err)
}

func TestGetDevice_EmptyID(t *testing.T) {
	c := New("http://127.0.0.1:1", time.Second)
	_, err := c.GetDevice(context.Background(), "")
	require.Error(t, err)
}

func TestSwitchProvider(t *testing.T) {
	f := newFakeDirectory()
	c := newTestClient(t, f)

	dev, err := c.SwitchProvider(context.Background(), "HOLYX-000042", "p2")
	require.NoError(t, err)
	assert.Equal(t, "p2", dev.Provider.ID)
	assert.Equal(t, []string{"p2"}, f.puts)
}

func TestSwitchProvider_Locked(t *testing.T) {
	f := newFakeDirectory()
	c := newTestClient(t, f)

	_, err := c.SwitchProvider(context.Background(), "HOLYX-000043", "p1")
	require.ErrorIs(t, err, ErrProviderLocked)
	assert.Empty(t, f.puts)
}

func TestSwitchProvider_UnknownProvider(t *testing.T) {
	c := newTestClient(t, newFakeDirectory())

	_, err := c.SwitchProvider(context.Background(), "HOLYX-000042", "nope")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.GetDevice(context.Background(), "HOLYX-000042")
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}

func TestContextCancelled(t *testing.T) {
	c := newTestClient(t, newFakeDirectory())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetDevice(ctx, "HOLYX-000042")
	require.ErrorIs(t, err, context.Canceled)
}
