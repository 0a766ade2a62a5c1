package engine

import (
	"context"
	"testing"
	"time"

	"poly-gomm/internal/detector"
)

func newTestDispatcher(venue Venue, now time.Time) *Dispatcher {
	d := NewDispatcher(venue, testConfig(), nil, nil, nil)
	d.now = func() time.Time { return now }
	return d
}

// A second market for a busy asset replaces the pending entry instead of
// starting a second position.
func TestDispatcherPerAssetExclusion(t *testing.T) {
	open := time.Unix(1_765_792_200, 0)
	clock := &fakeClock{t: open}
	venue := newFakeVenue(clock)

	d := newTestDispatcher(venue, open)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m1 := testMarket(open)
	d.handleMarket(ctx, m1)
	if d.activeCount() != 1 {
		t.Fatalf("active: %d", d.activeCount())
	}

	m2 := testMarket(open.Add(300 * time.Second))
	m2.Slug = "btc-updown-5m-200"
	d.handleMarket(ctx, m2)
	if d.activeCount() != 1 {
		t.Fatalf("second market must not start a task: active=%d", d.activeCount())
	}
	if got := d.pending["btc"].Slug; got != m2.Slug {
		t.Fatalf("pending: %q", got)
	}

	m3 := testMarket(open.Add(600 * time.Second))
	m3.Slug = "btc-updown-5m-300"
	d.handleMarket(ctx, m3)
	if got := d.pending["btc"].Slug; got != m3.Slug {
		t.Fatalf("pending replace is last-writer-wins: %q", got)
	}
}

// On termination a queued market starts only when its remaining lifetime
// exceeds the cut-loss horizon.
func TestDispatcherQueuedLifetimeGate(t *testing.T) {
	open := time.Unix(1_765_792_200, 0)
	clock := &fakeClock{t: open}
	venue := newFakeVenue(clock)

	// Queued market with only 30s of life left at termination: discarded.
	now := open.Add(270 * time.Second)
	d := newTestDispatcher(venue, now)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.pending["btc"] = testMarket(open) // ends at open+300 => 30s remaining
	d.handleDone(ctx, doneEvent{asset: "btc", status: StatusDone})
	if d.activeCount() != 0 {
		t.Fatalf("short-lived queued market must be discarded")
	}
	if _, ok := d.pending["btc"]; ok {
		t.Fatalf("pending entry must be consumed")
	}

	// Queued market with 300s of life: started.
	fresh := testMarket(now)
	d.pending["btc"] = fresh
	d.handleDone(ctx, doneEvent{asset: "btc", status: StatusDone})
	if d.activeCount() != 1 {
		t.Fatalf("long-lived queued market must start")
	}
}

func TestDispatcherSnapshot(t *testing.T) {
	open := time.Unix(1_765_792_200, 0)
	clock := &fakeClock{t: open}
	venue := newFakeVenue(clock)

	d := newTestDispatcher(venue, open)
	d.active["btc"] = struct{}{}
	d.pending["eth"] = detector.Market{Slug: "eth-updown-5m-100"}

	snap := d.snapshot()
	if len(snap.Active) != 1 || snap.Active[0] != "btc" {
		t.Fatalf("active: %#v", snap.Active)
	}
	if len(snap.Pending) != 1 || snap.Pending[0] != "eth:eth-updown-5m-100" {
		t.Fatalf("pending: %#v", snap.Pending)
	}
}
