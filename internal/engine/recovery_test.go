package engine

import (
	"context"
	"testing"
	"time"
)

func TestPickRecoveryCandidate(t *testing.T) {
	threshold := int64(800_000)

	// Rising above threshold qualifies.
	token, last := pickRecoveryCandidate("y", []int64{700_000, 850_000}, "n", []int64{300_000, 200_000}, threshold)
	if token != "y" || last != 850_000 {
		t.Fatalf("got %q %d", token, last)
	}

	// Above threshold but declining does not.
	token, _ = pickRecoveryCandidate("y", []int64{900_000, 850_000}, "n", []int64{100_000, 120_000}, threshold)
	if token != "" {
		t.Fatalf("declining side qualified: %q", token)
	}

	// Both qualify: the stronger last print wins.
	token, _ = pickRecoveryCandidate("y", []int64{800_000, 820_000}, "n", []int64{800_000, 900_000}, threshold)
	if token != "n" {
		t.Fatalf("got %q", token)
	}

	// Nothing qualifies below threshold.
	token, _ = pickRecoveryCandidate("y", []int64{500_000, 600_000}, "n", []int64{400_000, 450_000}, threshold)
	if token != "" {
		t.Fatalf("got %q", token)
	}
}

// Neither-filled cut with recovery enabled: buy the trending side, then
// unwind when the midpoint slips under the fill.
func TestRecoveryBuyUnwindsOnDrop(t *testing.T) {
	open := time.Unix(1_765_792_200, 0)
	clock := &fakeClock{t: open}
	venue := newFakeVenue(clock)
	venue.marketBuyPrice[noToken] = 850_000
	venue.marketSellPrice[noToken] = 700_000
	venue.midpointFn = func(tokenID string, now time.Time) int64 {
		if tokenID != noToken {
			return 150_000
		}
		// Trending up through the sampling window, then collapsing during
		// the hold.
		if now.Sub(open) < 252*time.Second {
			return 820_000 + now.Sub(open).Milliseconds()/1000
		}
		return 600_000
	}

	cfg := testConfig()
	cfg.RecoveryBuy = true
	cfg.RecoveryThresholdMicros = 800_000
	cfg.RecoverySizeMicros = 3_000_000

	task := newTestTask(venue, clock, cfg, testMarket(open))
	status := task.run(context.Background())

	if status != StatusDone {
		t.Fatalf("status: %s", status)
	}
	if len(venue.merges) != 1 {
		t.Fatalf("merge expected before recovery: %v", venue.merges)
	}
	if len(venue.buys) != 1 || venue.buys[0].tokenID != noToken || venue.buys[0].amountMicros != 3_000_000 {
		t.Fatalf("buys: %+v", venue.buys)
	}
	if venue.buys[0].worstMicros != 990_000 {
		t.Fatalf("buy worst price: %d", venue.buys[0].worstMicros)
	}
	if len(venue.sells) != 1 || venue.sells[0].tokenID != noToken {
		t.Fatalf("sells: %+v", venue.sells)
	}
	if venue.sells[0].worstMicros != 10_000 {
		t.Fatalf("sell worst price: %d", venue.sells[0].worstMicros)
	}
}

// Recovery with no qualifying side exits without trading.
func TestRecoveryBuyNoCandidate(t *testing.T) {
	open := time.Unix(1_765_792_200, 0)
	clock := &fakeClock{t: open}
	venue := newFakeVenue(clock)
	venue.midpointFn = func(string, time.Time) int64 { return 500_000 }

	cfg := testConfig()
	cfg.RecoveryBuy = true
	cfg.RecoveryThresholdMicros = 800_000

	task := newTestTask(venue, clock, cfg, testMarket(open))
	status := task.run(context.Background())

	if status != StatusDone {
		t.Fatalf("status: %s", status)
	}
	if len(venue.buys) != 0 {
		t.Fatalf("no buy expected: %+v", venue.buys)
	}
}
