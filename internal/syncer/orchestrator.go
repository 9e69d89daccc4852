package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holyx-app/holyx-sync/internal/ble"
	"github.com/holyx-app/holyx-sync/internal/ble/protocol"
	"github.com/holyx-app/holyx-sync/internal/schedule"
	"github.com/holyx-app/holyx-sync/internal/store"
)

// Config holds the Orchestrator's timing.
type Config struct {
	// Lookahead is how far ahead of a due slot a run arms its timer instead
	// of doing nothing.
	Lookahead time.Duration

	// SafetyMargin fires the timer this much before the slot.
	SafetyMargin time.Duration

	// Period is how often the Orchestrator re-evaluates when nothing is
	// due. It also bounds every wait, so a host suspend is noticed within
	// one Period.
	Period time.Duration
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		Lookahead:    100 * time.Second,
		SafetyMargin: 5 * time.Second,
		Period:       100 * time.Second,
	}
}

// Plan is the outcome of one evaluation.
type Plan struct {
	Due        bool
	Reason     string // why the run is a no-op when !Due
	DeviceID   string
	Times      []string
	Next       time.Time // slot being served
	SecondNext time.Time // slot after Next, sent as the device's next wake
	FireAt     time.Time // when to start the transaction
}

// Orchestrator is the unattended sync loop. Run evaluates the stored schedule
// every Period, arms a timer when a slot enters the lookahead window, fires
// one transaction for it, and evaluates again right away.
type Orchestrator struct {
	store     Store
	dir       Directory
	transport Deliverer
	guard     *Guard
	cfg       Config
	now       func() time.Time

	mu         sync.Mutex
	armed      time.Time
	lastServed time.Time // latest slot a transaction ran for
}

// NewOrchestrator creates an Orchestrator. guard may be shared with a
// Provisioner; a nil guard gets a private one.
func NewOrchestrator(st Store, dir Directory, transport Deliverer, guard *Guard, cfg Config) *Orchestrator {
	if guard == nil {
		guard = &Guard{}
	}
	def := DefaultConfig()
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = def.Lookahead
	}
	if cfg.SafetyMargin < 0 {
		cfg.SafetyMargin = 0
	}
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	return &Orchestrator{
		store:     st,
		dir:       dir,
		transport: transport,
		guard:     guard,
		cfg:       cfg,
		now:       wallClock,
	}
}

// wallClock strips the monotonic reading so that waits are measured against
// wall time, which keeps moving while the host is suspended.
func wallClock() time.Time {
	return time.Now().Round(0)
}

// Scheduled reports the fire time of the armed timer, if any.
func (o *Orchestrator) Scheduled() (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.armed, !o.armed.IsZero()
}

func (o *Orchestrator) setArmed(t time.Time) {
	o.mu.Lock()
	o.armed = t
	o.mu.Unlock()
}

// markServed records that slot has been handled, successfully or not.
func (o *Orchestrator) markServed(slot time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if slot.After(o.lastServed) {
		o.lastServed = slot
	}
}

// Evaluate decides whether a slot is due within the lookahead window. A
// missing device id or schedule gives a non-due Plan, not an error.
func (o *Orchestrator) Evaluate(ctx context.Context) (Plan, error) {
	deviceID, ok, err := o.store.Get(ctx, store.KeyDeviceID)
	if err != nil {
		return Plan{}, fmt.Errorf("syncer: read device id: %w", err)
	}
	if !ok || deviceID == "" {
		return Plan{Reason: "no device id"}, nil
	}

	stored, ok, err := o.store.Get(ctx, store.KeySchedule)
	if err != nil {
		return Plan{}, fmt.Errorf("syncer: read schedule: %w", err)
	}
	times := schedule.ParseList(stored)
	if !ok || len(times) == 0 {
		return Plan{DeviceID: deviceID, Reason: "no schedule"}, nil
	}

	now := o.now()
	ref := now
	o.mu.Lock()
	if o.lastServed.After(ref) {
		// The timer fires SafetyMargin early; never serve the same slot twice.
		ref = o.lastServed
	}
	o.mu.Unlock()

	next, second, err := schedule.Occurrences(times, ref)
	if err != nil {
		if errors.Is(err, schedule.ErrEmptySchedule) {
			return Plan{DeviceID: deviceID, Reason: "no schedule"}, nil
		}
		return Plan{DeviceID: deviceID, Reason: fmt.Sprintf("invalid schedule %q: %v", stored, err)}, nil
	}

	plan := Plan{DeviceID: deviceID, Times: times, Next: next, SecondNext: second}
	if now.Add(o.cfg.Lookahead).Before(next) {
		plan.Reason = "next sync not within lookahead"
		return plan, nil
	}

	plan.Due = true
	plan.FireAt = next.Add(-o.cfg.SafetyMargin)
	if plan.FireAt.Before(now) {
		plan.FireAt = now
	}
	return plan, nil
}

// Fire runs one scheduled transaction for plan. It returns ErrSyncInProgress
// without touching the radio when the guard is held. Either way the slot
// counts as served and the next evaluation moves on to the following one.
func (o *Orchestrator) Fire(ctx context.Context, plan Plan) error {
	o.markServed(plan.Next)

	release, ok := o.guard.TryAcquire()
	if !ok {
		slog.Info("[SYNC] skipped, another sync is running", "slot", plan.Next)
		return ErrSyncInProgress
	}
	defer release()

	txID := newTxID()
	log := slog.With("tx", txID, "device", plan.DeviceID)
	log.Info("[SYNC] starting scheduled sync", "slot", plan.Next, "next", plan.SecondNext)

	build := func(ctx context.Context, adv ble.Advertisement) ([]string, error) {
		image, err := fetchImage(ctx, o.dir, o.store, plan.DeviceID, true)
		if err != nil {
			return nil, err
		}
		tx, err := protocol.NewScheduled(plan.DeviceID, image, o.now(), plan.SecondNext, plan.Times)
		if err != nil {
			return nil, err
		}
		log.Debug("[SYNC] payload built", "peripheral", adv.Name, "schedule", tx.Schedule, "image_bytes", len(image))
		return protocol.BuildFrame(tx)
	}

	if err := o.transport.Deliver(ctx, build); err != nil {
		log.Warn("[SYNC] scheduled sync failed", "error", err)
		return err
	}

	if err := o.store.Set(ctx, store.KeyLastUpdate, o.now().Format(time.RFC3339)); err != nil {
		log.Warn("[SYNC] could not record last update", "error", err)
	}
	log.Info("[SYNC] scheduled sync complete")
	return nil
}

// Run loops until ctx is cancelled. Transaction failures are logged and
// retried only by the schedule itself.
func (o *Orchestrator) Run(ctx context.Context) error {
	slog.Info("[SYNC] orchestrator started",
		"lookahead", o.cfg.Lookahead, "margin", o.cfg.SafetyMargin, "period", o.cfg.Period)
	defer slog.Info("[SYNC] orchestrator stopped")

	for {
		plan, err := o.Evaluate(ctx)
		switch {
		case err != nil:
			slog.Warn("[SYNC] evaluation failed", "error", err)
		case !plan.Due:
			slog.Info("[SYNC] no run", "reason", plan.Reason, "next", plan.Next)
		default:
			if !o.serve(ctx, plan) {
				return nil
			}
			continue
		}

		if err := o.sleepUntil(ctx, o.now().Add(o.cfg.Period)); err != nil {
			return nil
		}
	}
}

// serve waits for plan.FireAt and fires. It returns false when ctx ended.
func (o *Orchestrator) serve(ctx context.Context, plan Plan) bool {
	slog.Info("[SYNC] armed", "fire_at", plan.FireAt, "in", plan.FireAt.Sub(o.now()).Round(time.Second))
	o.setArmed(plan.FireAt)
	err := o.sleepUntil(ctx, plan.FireAt)
	o.setArmed(time.Time{})
	if err != nil {
		return false
	}

	if late := o.now().Sub(plan.Next); late > o.cfg.Lookahead {
		// Woke long after the slot, most likely from a suspend.
		slog.Warn("[SYNC] slot missed", "slot", plan.Next, "late", late.Round(time.Second))
		o.markServed(plan.Next)
		return true
	}

	_ = o.Fire(ctx, plan)
	return ctx.Err() == nil
}

// sleepUntil waits until the wall clock reaches t. Each wait is at most one
// Period long and the remainder is recomputed from the clock afterwards.
func (o *Orchestrator) sleepUntil(ctx context.Context, t time.Time) error {
	for {
		d := t.Sub(o.now())
		if d <= 0 {
			return nil
		}
		if d > o.cfg.Period {
			d = o.cfg.Period
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
