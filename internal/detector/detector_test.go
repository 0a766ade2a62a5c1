package detector

import (
	"context"
	"testing"
	"time"

	"poly-gomm/internal/gamma"
)

type fakeMeta struct {
	markets map[string]gamma.Market
	calls   []string
}

func (f *fakeMeta) MarketBySlug(_ context.Context, slug string) (gamma.Market, error) {
	f.calls = append(f.calls, slug)
	m, ok := f.markets[slug]
	if !ok {
		return gamma.Market{}, gamma.ErrNotFound
	}
	return m, nil
}

func TestNextSlotStart(t *testing.T) {
	now := time.Unix(1765791923, 0) // mid-slot
	got := NextSlotStart(now, 300)
	if got.Unix() != 1765792200 {
		t.Fatalf("next 5m slot: got %d want %d", got.Unix(), 1765792200)
	}

	got = NextSlotStart(now, 900)
	if got.Unix() != 1765792800 {
		t.Fatalf("next 15m slot: got %d want %d", got.Unix(), 1765792800)
	}

	// Exactly on a boundary still targets the following slot.
	got = NextSlotStart(time.Unix(1765792200, 0), 300)
	if got.Unix() != 1765792500 {
		t.Fatalf("boundary slot: got %d want %d", got.Unix(), 1765792500)
	}
}

func TestSlugFor(t *testing.T) {
	slot := time.Unix(1765792200, 0)
	if got, want := SlugFor("BTC", "5m", slot), "btc-updown-5m-1765792200"; got != want {
		t.Fatalf("slug: got %q want %q", got, want)
	}
}

func newTestDetector(t *testing.T, meta *fakeMeta, now time.Time) *Detector {
	t.Helper()
	d, err := New(meta, Options{
		Assets:       []string{"btc"},
		SlotSeconds:  300,
		DurationTag:  "5m",
		PollInterval: 10 * time.Second,
		Now:          func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestPollEmitsFreshMarket(t *testing.T) {
	now := time.Unix(1765792190, 0)
	slot := time.Unix(1765792200, 0)
	meta := &fakeMeta{markets: map[string]gamma.Market{
		"btc-updown-5m-1765792200": {
			ConditionID: "0x1234",
			TokenIDs:    []string{"11", "22"},
			OpenTime:    slot,
			EndTime:     slot.Add(5 * time.Minute),
			TickSize:    "0.01",
		},
	}}

	d := newTestDetector(t, meta, now)
	d.poll(context.Background())

	select {
	case m := <-d.Events():
		if m.Asset != "btc" {
			t.Fatalf("asset: %q", m.Asset)
		}
		if m.YesTokenID != "11" || m.NoTokenID != "22" {
			t.Fatalf("token ids: %q %q", m.YesTokenID, m.NoTokenID)
		}
		if m.TickMicros != 10_000 {
			t.Fatalf("tick: %d", m.TickMicros)
		}
		if !m.EndTime.Equal(slot.Add(5 * time.Minute)) {
			t.Fatalf("end time: %s", m.EndTime)
		}
	default:
		t.Fatalf("expected market event")
	}

	// The same slot is never emitted twice.
	d.poll(context.Background())
	select {
	case m := <-d.Events():
		t.Fatalf("unexpected duplicate event: %+v", m)
	default:
	}
}

func TestPollDropsStaleSlot(t *testing.T) {
	// Discovered 20s after open: outside the freshness window.
	slot := time.Unix(1765792200, 0)
	now := slot.Add(20 * time.Second)
	nextSlot := NextSlotStart(now, 300)
	meta := &fakeMeta{markets: map[string]gamma.Market{
		SlugFor("btc", "5m", nextSlot): {
			ConditionID: "0x1234",
			TokenIDs:    []string{"11", "22"},
			// Metadata claims the slot opened well before discovery.
			OpenTime: now.Add(-30 * time.Second),
		},
	}}

	d := newTestDetector(t, meta, now)
	d.poll(context.Background())

	select {
	case m := <-d.Events():
		t.Fatalf("stale slot emitted: %+v", m)
	default:
	}
}

func TestPollDiscardsMissingTokenIDs(t *testing.T) {
	now := time.Unix(1765792190, 0)
	slug := "btc-updown-5m-1765792200"
	meta := &fakeMeta{markets: map[string]gamma.Market{
		slug: {ConditionID: "0x1234", TokenIDs: []string{"11"}},
	}}

	d := newTestDetector(t, meta, now)
	d.poll(context.Background())

	select {
	case m := <-d.Events():
		t.Fatalf("unexpected event: %+v", m)
	default:
	}

	// Marked seen: no re-query on the next tick.
	calls := len(meta.calls)
	d.poll(context.Background())
	if len(meta.calls) != calls {
		t.Fatalf("slot re-queried after discard")
	}
}

func TestPollRetriesUnlistedSlot(t *testing.T) {
	now := time.Unix(1765792190, 0)
	meta := &fakeMeta{markets: map[string]gamma.Market{}}

	d := newTestDetector(t, meta, now)
	d.poll(context.Background())
	d.poll(context.Background())

	// Not-yet-listed slots are retried, not marked seen.
	if len(meta.calls) != 2 {
		t.Fatalf("expected 2 lookups, got %d", len(meta.calls))
	}
}
