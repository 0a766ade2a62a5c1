package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"poly-gomm/internal/clob"
	"poly-gomm/internal/detector"
	"poly-gomm/internal/jsonl"
)

// dustMicros is the threshold below which an on-chain token balance is
// considered fully consumed by fills (0.001 shares).
const dustMicros = 1_000

type positionTask struct {
	venue    Venue
	cfg      Config
	pos      Position
	tradeLog *jsonl.Writer
	notifier Notifier

	// now and sleep are overridable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newPositionTask(venue Venue, cfg Config, m detector.Market, tradeLog *jsonl.Writer, notifier Notifier) *positionTask {
	return &positionTask{
		venue: venue,
		cfg:   cfg,
		pos: Position{
			Market: m,
			Status: StatusEntering,
		},
		tradeLog: tradeLog,
		notifier: notifier,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run executes the full life cycle and returns the terminal status. Errors
// end this task only; they never reach the dispatcher.
func (t *positionTask) run(ctx context.Context) Status {
	if err := t.enter(ctx); err != nil {
		log.Printf("[warn] mm %s enter: %v", t.pos.Market.Slug, err)
		t.logEvent("enter_failed", err.Error())
		return t.pos.Status
	}

	if err := t.monitor(ctx); err != nil {
		if ctx.Err() == nil {
			log.Printf("[warn] mm %s monitor: %v", t.pos.Market.Slug, err)
			t.logEvent("monitor_failed", err.Error())
		}
		return t.pos.Status
	}

	t.finish()
	return t.pos.Status
}

// enter splits collateral and rests both limit sells. The split mints equal
// amounts on both legs, so entry price is exactly 0.5 per share.
func (t *positionTask) enter(ctx context.Context) error {
	m := t.pos.Market
	need := 2 * t.cfg.TradeSizeMicros

	bal, err := t.venue.CollateralBalance(ctx)
	if err != nil {
		return fmt.Errorf("collateral balance: %w", err)
	}
	if bal < need {
		return fmt.Errorf("collateral %s below required %s", clob.FormatUnits(bal), clob.FormatUnits(need))
	}

	if err := t.venue.Split(ctx, m, need); err != nil {
		return err
	}

	shares := t.cfg.TradeSizeMicros
	entry := int64(clob.UnitScale / 2)
	t.pos.Yes = Leg{
		TokenID:          m.YesTokenID,
		SharesMicros:     shares,
		EntryPriceMicros: entry,
		EntryCostMicros:  clob.MulUnits(entry, shares),
	}
	t.pos.No = Leg{
		TokenID:          m.NoTokenID,
		SharesMicros:     shares,
		EntryPriceMicros: entry,
		EntryCostMicros:  clob.MulUnits(entry, shares),
	}
	t.pos.EnteredAt = t.now()

	sellPrice := clob.FloorToTick(t.cfg.SellPriceMicros, m.TickMicros)
	for _, leg := range []*Leg{&t.pos.Yes, &t.pos.No} {
		orderID, err := t.venue.PostLimitSell(ctx, m, leg.TokenID, sellPrice, leg.SharesMicros)
		if err != nil {
			return fmt.Errorf("post limit sell %s: %w", leg.TokenID, err)
		}
		leg.OrderID = orderID
	}

	t.pos.Status = StatusMonitoring
	log.Printf("[mm] %s entered: %s shares/leg, sells at %s", m.Slug, clob.FormatUnits(shares), clob.FormatUnits(sellPrice))
	t.logEvent("entered", "")
	return nil
}

// monitor polls both legs until a terminal condition fires.
func (t *positionTask) monitor(ctx context.Context) error {
	for {
		if err := t.checkFills(ctx); err != nil {
			log.Printf("[warn] mm %s fill check: %v", t.pos.Market.Slug, err)
		}

		now := t.now()
		remaining := t.pos.Market.Lifetime(now)
		yesFilled, noFilled := t.pos.Yes.Filled, t.pos.No.Filled

		switch {
		case yesFilled && noFilled:
			t.pos.Status = StatusDone
			return nil

		case remaining <= 0:
			t.pos.Status = StatusExpired
			log.Printf("[mm] %s expired with yes_filled=%v no_filled=%v", t.pos.Market.Slug, yesFilled, noFilled)
			t.logEvent("expired", "")
			return nil

		case (yesFilled != noFilled) && t.cfg.AdaptiveCL:
			return t.adaptiveCut(ctx)

		case remaining <= t.cfg.CutLossTime && !yesFilled && !noFilled:
			t.pos.Status = StatusCutting
			return t.neitherFilledCut(ctx)

		case remaining <= t.cfg.CutLossTime && (yesFilled != noFilled):
			t.pos.Status = StatusCutting
			return t.immediateCut(ctx)
		}

		if err := t.sleep(ctx, t.cfg.MonitorInterval); err != nil {
			return err
		}
	}
}

func (t *positionTask) checkFills(ctx context.Context) error {
	var firstErr error
	for _, leg := range []*Leg{&t.pos.Yes, &t.pos.No} {
		if leg.Filled || leg.OrderID == "" {
			continue
		}
		check, err := t.venue.CheckLimitFill(ctx, t.pos.Market, LimitRef{
			OrderID:     leg.OrderID,
			TokenID:     leg.TokenID,
			PriceMicros: clob.FloorToTick(t.cfg.SellPriceMicros, t.pos.Market.TickMicros),
			SizeMicros:  leg.SharesMicros,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if check.Filled {
			leg.Filled = true
			leg.FillPriceMicros = check.FillPriceMicros
			log.Printf("[mm] %s leg %s filled at %s", t.pos.Market.Slug, leg.TokenID, clob.FormatUnits(check.FillPriceMicros))
			t.logEvent("leg_filled", "")
		}
	}
	return firstErr
}

// neitherFilledCut cancels both resting sells and merges the pair back to
// collateral, recovering entry cost with zero venue slippage.
func (t *positionTask) neitherFilledCut(ctx context.Context) error {
	m := t.pos.Market
	for _, leg := range []*Leg{&t.pos.Yes, &t.pos.No} {
		if leg.OrderID == "" {
			continue
		}
		if err := t.venue.Cancel(ctx, leg.OrderID); err != nil {
			log.Printf("[warn] mm %s cancel %s: %v", m.Slug, leg.OrderID, err)
		}
	}

	yesBal, err := t.venue.TokenBalance(ctx, t.pos.Yes.TokenID)
	if err != nil {
		return fmt.Errorf("yes balance: %w", err)
	}
	noBal, err := t.venue.TokenBalance(ctx, t.pos.No.TokenID)
	if err != nil {
		return fmt.Errorf("no balance: %w", err)
	}

	mergeable := min64(yesBal, noBal)
	if mergeable >= dustMicros {
		if err := t.venue.Merge(ctx, m, mergeable); err != nil {
			return err
		}
		log.Printf("[mm] %s merged %s shares back to collateral", m.Slug, clob.FormatUnits(mergeable))
		t.logEvent("merged", "")
	}
	// A partial fill while the window was open leaves one side long. The
	// residual is left for the redeemer to sweep after resolution; whether it
	// should be force-sold here is ambiguous in the source behavior.
	if diff := yesBal - noBal; diff > dustMicros || diff < -dustMicros {
		log.Printf("[warn] mm %s asymmetric leftover after merge: yes=%s no=%s", m.Slug, clob.FormatUnits(yesBal), clob.FormatUnits(noBal))
	}

	if t.cfg.RecoveryBuy {
		if err := t.recoveryBuy(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[warn] mm %s recovery buy: %v", m.Slug, err)
		}
	}

	t.pos.Status = StatusDone
	return nil
}

// immediateCut is the legacy one-leg-filled branch used when the adaptive
// controller is disabled: dump the unfilled side at market before expiry.
func (t *positionTask) immediateCut(ctx context.Context) error {
	m := t.pos.Market
	leg := &t.pos.No
	if !t.pos.Yes.Filled {
		leg = &t.pos.Yes
	}

	if leg.OrderID != "" {
		if err := t.venue.Cancel(ctx, leg.OrderID); err != nil {
			log.Printf("[warn] mm %s cancel %s: %v", m.Slug, leg.OrderID, err)
		}
	}

	// Partial fills may have consumed shares during the monitor window; the
	// on-chain balance is authoritative.
	bal, err := t.venue.TokenBalance(ctx, leg.TokenID)
	if err != nil {
		return fmt.Errorf("token balance: %w", err)
	}
	if bal < dustMicros {
		leg.Filled = true
		leg.FillPriceMicros = clob.FloorToTick(t.cfg.SellPriceMicros, m.TickMicros)
		t.pos.Status = StatusDone
		return nil
	}

	fill, err := t.venue.MarketSell(ctx, m, leg.TokenID, bal, minSellWorstPrice)
	if err != nil {
		return fmt.Errorf("market sell: %w", err)
	}
	if fill.Filled {
		leg.Filled = true
		leg.SharesMicros = bal
		leg.FillPriceMicros = fill.FillPriceMicros
		leg.EntryCostMicros = clob.MulUnits(leg.EntryPriceMicros, bal)
	} else {
		log.Printf("[warn] mm %s market sell found no liquidity", m.Slug)
	}
	t.pos.Status = StatusDone
	return nil
}

func (t *positionTask) finish() {
	pnl := t.pos.Yes.PnLMicros() + t.pos.No.PnLMicros()
	log.Printf("[mm] %s closed status=%s pnl=%s", t.pos.Market.Slug, t.pos.Status, clob.FormatUnits(pnl))
	t.logEvent("closed", "")
	if t.notifier != nil {
		t.notifier.PositionClosed(&t.pos, pnl)
	}
}

type mmLogEvent struct {
	TsMs   int64  `json:"ts_ms"`
	Event  string `json:"event"`
	Asset  string `json:"asset,omitempty"`
	Slug   string `json:"slug,omitempty"`
	Status string `json:"status,omitempty"`

	YesFilled bool   `json:"yes_filled,omitempty"`
	NoFilled  bool   `json:"no_filled,omitempty"`
	YesFill   string `json:"yes_fill,omitempty"`
	NoFill    string `json:"no_fill,omitempty"`
	PnL       string `json:"pnl,omitempty"`

	Err string `json:"err,omitempty"`
}

func (t *positionTask) logEvent(event, errMsg string) {
	if t.tradeLog == nil {
		return
	}
	ev := mmLogEvent{
		TsMs:      t.now().UnixMilli(),
		Event:     event,
		Asset:     t.pos.Market.Asset,
		Slug:      t.pos.Market.Slug,
		Status:    string(t.pos.Status),
		YesFilled: t.pos.Yes.Filled,
		NoFilled:  t.pos.No.Filled,
		Err:       errMsg,
	}
	if t.pos.Yes.Filled {
		ev.YesFill = clob.FormatUnits(t.pos.Yes.FillPriceMicros)
	}
	if t.pos.No.Filled {
		ev.NoFill = clob.FormatUnits(t.pos.No.FillPriceMicros)
	}
	if event == "closed" {
		ev.PnL = clob.FormatUnits(t.pos.Yes.PnLMicros() + t.pos.No.PnLMicros())
	}
	if err := t.tradeLog.Write(ev); err != nil {
		log.Printf("[warn] trade log write failed: %v", err)
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
