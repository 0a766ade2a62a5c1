// Package detector discovers upcoming time-windowed markets without a feed.
// Each asset trades in fixed-duration slots aligned to the Unix epoch; the
// metadata slug for a slot is fully determined by (asset, duration, slot
// start), so discovery is a deterministic poll, not a subscription.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"poly-gomm/internal/clob"
	"poly-gomm/internal/gamma"
)

// FreshnessWindow rejects slots discovered more than this long after open;
// entering late leaves too little lifetime for the sell-and-cut cycle.
const FreshnessWindow = 15 * time.Second

const defaultTickMicros = 10_000 // 0.01

// Market is the immutable event handed to the dispatcher. Consumed once,
// never mutated.
type Market struct {
	Asset       string
	Slug        string
	ConditionID common.Hash
	Question    string
	OpenTime    time.Time
	EndTime     time.Time
	YesTokenID  string
	NoTokenID   string
	TickMicros  int64
	NegRisk     bool
}

// Lifetime is the time remaining until market end.
func (m Market) Lifetime(now time.Time) time.Duration {
	return m.EndTime.Sub(now)
}

// Metadata is the exchange metadata lookup the detector polls.
type Metadata interface {
	MarketBySlug(ctx context.Context, slug string) (gamma.Market, error)
}

type Options struct {
	Assets       []string
	SlotSeconds  int64 // 300 or 900
	DurationTag  string
	PollInterval time.Duration

	// Now is overridable for tests.
	Now func() time.Time
}

type Detector struct {
	meta Metadata
	opts Options
	out  chan Market
	seen map[string]time.Time
}

func New(meta Metadata, opts Options) (*Detector, error) {
	if meta == nil {
		return nil, fmt.Errorf("metadata client required")
	}
	if len(opts.Assets) == 0 {
		return nil, fmt.Errorf("at least one asset required")
	}
	if opts.SlotSeconds != 300 && opts.SlotSeconds != 900 {
		return nil, fmt.Errorf("slot seconds must be 300 or 900, got %d", opts.SlotSeconds)
	}
	if opts.DurationTag == "" {
		return nil, fmt.Errorf("duration tag required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Detector{
		meta: meta,
		opts: opts,
		out:  make(chan Market, 8),
		seen: make(map[string]time.Time),
	}, nil
}

// Events delivers discovered markets in arrival order.
func (d *Detector) Events() <-chan Market { return d.out }

// NextSlotStart returns the start of the slot after the one containing now.
// The detector always targets the next slot so entry happens at or before
// open; the in-flight slot is never emitted.
func NextSlotStart(now time.Time, slotSeconds int64) time.Time {
	cur := now.Unix() / slotSeconds * slotSeconds
	return time.Unix(cur+slotSeconds, 0).UTC()
}

// SlugFor builds the deterministic metadata slug for a slot.
func SlugFor(asset, durationTag string, slotStart time.Time) string {
	return strings.ToLower(strings.TrimSpace(asset)) + "-updown-" + durationTag + "-" + strconv.FormatInt(slotStart.Unix(), 10)
}

// Run polls until ctx is cancelled. Poll failures are logged and retried on
// the next tick; the loop never exits on error.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	defer close(d.out)

	d.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Detector) poll(ctx context.Context) {
	now := d.opts.Now()
	d.prune(now)

	for _, asset := range d.opts.Assets {
		slotStart := NextSlotStart(now, d.opts.SlotSeconds)
		key := asset + "-" + strconv.FormatInt(slotStart.Unix(), 10)
		if _, ok := d.seen[key]; ok {
			continue
		}

		slug := SlugFor(asset, d.opts.DurationTag, slotStart)
		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		meta, err := d.meta.MarketBySlug(reqCtx, slug)
		cancel()
		if err != nil {
			if errors.Is(err, gamma.ErrNotFound) {
				// Not listed yet; retry on the next tick.
				continue
			}
			if ctx.Err() == nil {
				log.Printf("[warn] detector %s: %v", slug, err)
			}
			continue
		}

		m, ok := d.materialize(asset, slug, slotStart, meta, now)
		d.seen[key] = slotStart
		if !ok {
			continue
		}

		select {
		case d.out <- m:
			log.Printf("[detector] market %s condition=%s open=%s end=%s", slug, m.ConditionID.Hex(), m.OpenTime.Format(time.RFC3339), m.EndTime.Format(time.RFC3339))
		case <-ctx.Done():
			return
		}
	}
}

func (d *Detector) materialize(asset, slug string, slotStart time.Time, meta gamma.Market, now time.Time) (Market, bool) {
	if len(meta.TokenIDs) < 2 || meta.TokenIDs[0] == "" || meta.TokenIDs[1] == "" {
		log.Printf("[warn] detector %s: missing token ids; discarding slot", slug)
		return Market{}, false
	}

	open := meta.OpenTime
	if open.IsZero() {
		open = slotStart
	}
	end := meta.EndTime
	if end.IsZero() {
		end = slotStart.Add(time.Duration(d.opts.SlotSeconds) * time.Second)
	}

	if now.Sub(open) > FreshnessWindow {
		log.Printf("[warn] detector %s: slot opened %s ago; too stale", slug, now.Sub(open).Truncate(time.Second))
		return Market{}, false
	}

	tick := int64(defaultTickMicros)
	if strings.TrimSpace(meta.TickSize) != "" {
		if v, err := clob.ParseUnits(meta.TickSize); err == nil && v > 0 {
			tick = v
		}
	}

	return Market{
		Asset:       asset,
		Slug:        slug,
		ConditionID: common.HexToHash(meta.ConditionID),
		Question:    meta.Question,
		OpenTime:    open,
		EndTime:     end,
		YesTokenID:  meta.TokenIDs[0],
		NoTokenID:   meta.TokenIDs[1],
		TickMicros:  tick,
		NegRisk:     meta.NegRisk,
	}, true
}

func (d *Detector) prune(now time.Time) {
	horizon := 2 * time.Duration(d.opts.SlotSeconds) * time.Second
	for key, slotStart := range d.seen {
		if now.Sub(slotStart) > horizon {
			delete(d.seen, key)
		}
	}
}
