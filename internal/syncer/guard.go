package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GuardState is the Run Guard's state.
type GuardState int

const (
	Idle GuardState = iota
	Running
)

func (s GuardState) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Radio lease tuning. A holder renews every leaseTTL/3, so a crashed process
// blocks the radio for at most leaseTTL.
const (
	leaseName    = "radio"
	leaseTTL     = 60 * time.Second
	leaseTimeout = 10 * time.Second
)

// Lease is a named lock shared between processes. *store.Store implements it.
type Lease interface {
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) error
}

// Guard allows at most one sync transaction at a time, scheduled or
// interactive. The zero value is Idle, ready to use and guards this process
// only; NewGuard extends it across every process sharing a Lease.
type Guard struct {
	mu    sync.Mutex
	state GuardState

	lease Lease
	owner string
	ttl   time.Duration
}

// NewGuard returns a Guard that also holds the radio lease in lease while
// Running.
func NewGuard(lease Lease) *Guard {
	return &Guard{
		lease: lease,
		owner: fmt.Sprintf("%d-%s", os.Getpid(), uuid.NewString()[:8]),
		ttl:   leaseTTL,
	}
}

// TryAcquire moves the guard to Running and returns its release func. It
// returns ok=false without blocking on the radio when the guard is already
// held, here or by another process. The release func is safe to call more
// than once.
func (g *Guard) TryAcquire() (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Running {
		return nil, false
	}

	var stopRenew func()
	if g.lease != nil {
		if !g.acquireLease() {
			return nil, false
		}
		stopRenew = g.renew()
	}
	g.state = Running

	var once sync.Once
	return func() {
		once.Do(func() {
			if stopRenew != nil {
				stopRenew()
				g.releaseLease()
			}
			g.mu.Lock()
			g.state = Idle
			g.mu.Unlock()
		})
	}, true
}

// State reports the current state of this process's guard.
func (g *Guard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guard) acquireLease() bool {
	ctx, cancel := context.WithTimeout(context.Background(), leaseTimeout)
	defer cancel()
	ok, err := g.lease.AcquireLease(ctx, leaseName, g.owner, g.ttl)
	if err != nil {
		slog.Warn("[SYNC] radio lease unavailable", "error", err)
		return false
	}
	if !ok {
		slog.Debug("[SYNC] radio lease held by another process")
	}
	return ok
}

func (g *Guard) releaseLease() {
	ctx, cancel := context.WithTimeout(context.Background(), leaseTimeout)
	defer cancel()
	if err := g.lease.ReleaseLease(ctx, leaseName, g.owner); err != nil {
		slog.Warn("[SYNC] radio lease release failed", "error", err)
	}
}

// renew extends the lease until the returned func is called.
func (g *Guard) renew() (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(g.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				g.acquireLease()
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
