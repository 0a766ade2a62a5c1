package engine

import (
	"context"
	"log"
	"sort"
	"time"

	"poly-gomm/internal/detector"
	"poly-gomm/internal/jsonl"
)

// Dispatcher enforces the per-asset invariant: at most one live position per
// asset, at most one pending market per asset (last writer wins). It is the
// single owner of both maps, so no lock exists to deadlock on.
type Dispatcher struct {
	venue    Venue
	cfg      Config
	events   <-chan detector.Market
	tradeLog *jsonl.Writer
	notifier Notifier

	active    map[string]struct{}
	pending   map[string]detector.Market
	done      chan doneEvent
	snapshots chan chan Snapshot

	now func() time.Time
}

// Snapshot is a point-in-time view of the dispatcher's books, delivered by
// message so observers never touch the owner's maps.
type Snapshot struct {
	Active  []string
	Pending []string
}

type doneEvent struct {
	asset  string
	status Status
}

func NewDispatcher(venue Venue, cfg Config, events <-chan detector.Market, tradeLog *jsonl.Writer, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		venue:     venue,
		cfg:       cfg.withDefaults(),
		events:    events,
		tradeLog:  tradeLog,
		notifier:  notifier,
		active:    make(map[string]struct{}),
		pending:   make(map[string]detector.Market),
		done:      make(chan doneEvent, 8),
		snapshots: make(chan chan Snapshot),
	}
}

// Run consumes detector events until ctx is cancelled or the event channel
// closes. Position-task failures never propagate; a failed task just frees
// its asset slot.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.now == nil {
		d.now = time.Now
	}
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-d.events:
			if !ok {
				return
			}
			d.handleMarket(ctx, m)
		case ev := <-d.done:
			d.handleDone(ctx, ev)
		case reply := <-d.snapshots:
			reply <- d.snapshot()
		}
	}
}

func (d *Dispatcher) snapshot() Snapshot {
	var snap Snapshot
	for asset := range d.active {
		snap.Active = append(snap.Active, asset)
	}
	for asset, m := range d.pending {
		snap.Pending = append(snap.Pending, asset+":"+m.Slug)
	}
	sort.Strings(snap.Active)
	sort.Strings(snap.Pending)
	return snap
}

// Snapshot requests the dispatcher's current view.
func (d *Dispatcher) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case d.snapshots <- reply:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (d *Dispatcher) handleMarket(ctx context.Context, m detector.Market) {
	if _, busy := d.active[m.Asset]; busy {
		// Replace any prior pending entry; it is materialized (or discarded)
		// when the live position terminates.
		d.pending[m.Asset] = m
		log.Printf("[mm] %s busy; queued %s", m.Asset, m.Slug)
		return
	}
	d.start(ctx, m)
}

func (d *Dispatcher) handleDone(ctx context.Context, ev doneEvent) {
	delete(d.active, ev.asset)
	log.Printf("[mm] %s position finished status=%s", ev.asset, ev.status)

	queued, ok := d.pending[ev.asset]
	if !ok {
		return
	}
	delete(d.pending, ev.asset)

	if queued.Lifetime(d.now()) <= d.cfg.CutLossTime {
		log.Printf("[mm] %s queued market %s too close to expiry; discarded", ev.asset, queued.Slug)
		return
	}
	d.start(ctx, queued)
}

func (d *Dispatcher) start(ctx context.Context, m detector.Market) {
	d.active[m.Asset] = struct{}{}
	task := newPositionTask(d.venue, d.cfg, m, d.tradeLog, d.notifier)
	go func() {
		status := task.run(ctx)
		select {
		case d.done <- doneEvent{asset: m.Asset, status: status}:
		case <-ctx.Done():
		}
	}()
}

// activeCount is exposed for tests.
func (d *Dispatcher) activeCount() int { return len(d.active) }
