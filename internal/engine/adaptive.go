package engine

import (
	"context"
	"fmt"
	"log"

	"poly-gomm/internal/clob"
)

// Adaptive re-post/cancel thresholds: a resting limit is abandoned when the
// midpoint drops 5% below it and chased when the midpoint improves 2% above.
const (
	adaptiveDropRatio  = 0.95
	adaptiveChaseRatio = 1.02
)

// adaptiveCut runs when exactly one leg filled at p_f. Instead of dumping the
// unfilled side immediately, it trails the midpoint with a limit, but never
// below the profit floor max(0, minCombined - p_f): selling under the floor
// would drag the combined two-leg price below the configured minimum.
func (t *positionTask) adaptiveCut(ctx context.Context) error {
	m := t.pos.Market
	t.pos.Status = StatusCutting

	filled, unfilled := &t.pos.Yes, &t.pos.No
	if !t.pos.Yes.Filled {
		filled, unfilled = &t.pos.No, &t.pos.Yes
	}
	pf := filled.FillPriceMicros

	floor := t.cfg.AdaptiveMinCombinedMicros - pf
	if floor < 0 {
		floor = 0
	}
	log.Printf("[mm] %s adaptive: filled leg at %s, floor %s", m.Slug, clob.FormatUnits(pf), clob.FormatUnits(floor))

	if unfilled.OrderID != "" {
		if err := t.venue.Cancel(ctx, unfilled.OrderID); err != nil {
			log.Printf("[warn] mm %s cancel %s: %v", m.Slug, unfilled.OrderID, err)
		}
		unfilled.OrderID = ""
	}

	shares, err := t.venue.TokenBalance(ctx, unfilled.TokenID)
	if err != nil {
		return fmt.Errorf("reconcile balance: %w", err)
	}
	if shares < dustMicros {
		// The leg was consumed on-chain while we were cancelling.
		unfilled.Filled = true
		unfilled.FillPriceMicros = clob.FloorToTick(t.cfg.SellPriceMicros, m.TickMicros)
		t.pos.Status = StatusDone
		return nil
	}
	unfilled.SharesMicros = shares
	unfilled.EntryCostMicros = clob.MulUnits(unfilled.EntryPriceMicros, shares)

	var activeID string
	var activePrice int64

	for {
		now := t.now()
		if m.Lifetime(now) <= t.cfg.CutLossTime {
			return t.adaptiveDeadline(ctx, unfilled, activeID, pf)
		}

		if activeID != "" {
			check, err := t.venue.CheckLimitFill(ctx, m, LimitRef{
				OrderID:     activeID,
				TokenID:     unfilled.TokenID,
				PriceMicros: activePrice,
				SizeMicros:  unfilled.SharesMicros,
			})
			if err != nil {
				log.Printf("[warn] mm %s adaptive fill check: %v", m.Slug, err)
			} else if check.Filled {
				unfilled.Filled = true
				unfilled.FillPriceMicros = check.FillPriceMicros
				combined := pf + check.FillPriceMicros
				log.Printf("[mm] %s adaptive filled at %s, combined %s", m.Slug, clob.FormatUnits(check.FillPriceMicros), clob.FormatUnits(combined))
				t.pos.Status = StatusDone
				return nil
			}
		}

		mid, err := t.venue.Midpoint(ctx, unfilled.TokenID)
		if err != nil {
			log.Printf("[warn] mm %s adaptive midpoint: %v", m.Slug, err)
		} else if activeID != "" {
			switch {
			case mid < floor || float64(mid) < adaptiveDropRatio*float64(activePrice):
				// Below the profit floor, or the book dropped hard away from
				// the resting price: pull the order and wait.
				if err := t.venue.Cancel(ctx, activeID); err != nil {
					log.Printf("[warn] mm %s adaptive cancel: %v", m.Slug, err)
				} else {
					activeID, activePrice = "", 0
				}
			case float64(min64(mid, t.cfg.SellPriceMicros)) > adaptiveChaseRatio*float64(activePrice):
				// Midpoint improved enough to chase.
				if err := t.venue.Cancel(ctx, activeID); err != nil {
					log.Printf("[warn] mm %s adaptive cancel: %v", m.Slug, err)
				} else {
					activeID, activePrice = t.adaptivePost(ctx, unfilled, mid, floor)
				}
			}
		} else if mid >= floor {
			activeID, activePrice = t.adaptivePost(ctx, unfilled, mid, floor)
		}
		// mid < floor with no active limit: deliberately wait rather than
		// sell below the profit floor.

		if err := t.sleep(ctx, t.cfg.AdaptiveMonitorInterval); err != nil {
			return err
		}
	}
}

// adaptivePost rests a sell at min(midpoint, configured sell price),
// tick-floored, never below the floor.
func (t *positionTask) adaptivePost(ctx context.Context, leg *Leg, mid, floor int64) (string, int64) {
	m := t.pos.Market
	target := min64(mid, t.cfg.SellPriceMicros)
	target = clob.FloorToTick(target, m.TickMicros)
	if target < floor {
		return "", 0
	}
	orderID, err := t.venue.PostLimitSell(ctx, m, leg.TokenID, target, leg.SharesMicros)
	if err != nil {
		log.Printf("[warn] mm %s adaptive post: %v", m.Slug, err)
		return "", 0
	}
	log.Printf("[mm] %s adaptive resting sell at %s", m.Slug, clob.FormatUnits(target))
	return orderID, target
}

// adaptiveDeadline fires at the cut-loss horizon: cancel any resting limit
// and take whatever the book gives, bounded only by the venue minimum.
func (t *positionTask) adaptiveDeadline(ctx context.Context, leg *Leg, activeID string, pf int64) error {
	m := t.pos.Market
	if activeID != "" {
		if err := t.venue.Cancel(ctx, activeID); err != nil {
			log.Printf("[warn] mm %s deadline cancel: %v", m.Slug, err)
		}
	}

	bal, err := t.venue.TokenBalance(ctx, leg.TokenID)
	if err != nil {
		return fmt.Errorf("deadline balance: %w", err)
	}
	if bal < dustMicros {
		leg.Filled = true
		leg.FillPriceMicros = clob.FloorToTick(t.cfg.SellPriceMicros, m.TickMicros)
		t.pos.Status = StatusDone
		return nil
	}
	leg.SharesMicros = bal
	leg.EntryCostMicros = clob.MulUnits(leg.EntryPriceMicros, bal)

	fill, err := t.venue.MarketSell(ctx, m, leg.TokenID, bal, minSellWorstPrice)
	if err != nil {
		return fmt.Errorf("deadline market sell: %w", err)
	}
	if fill.Filled {
		leg.Filled = true
		leg.FillPriceMicros = fill.FillPriceMicros
		log.Printf("[mm] %s deadline sold at %s (filled leg was %s)", m.Slug, clob.FormatUnits(fill.FillPriceMicros), clob.FormatUnits(pf))
	} else {
		log.Printf("[warn] mm %s deadline sell found no liquidity", m.Slug)
	}
	t.pos.Status = StatusDone
	return nil
}
