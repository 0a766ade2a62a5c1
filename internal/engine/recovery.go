package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"poly-gomm/internal/clob"
)

const (
	recoverySampleCount    = 10
	recoverySampleInterval = time.Second
	recoveryHold           = 30 * time.Second
	recoveryMinLifetime    = 5 * time.Second
)

// recoveryBuy optionally chases momentum after a neither-filled merge: if one
// side's midpoint is trending up and already above the configured threshold,
// buy it and hold into resolution unless it turns back down.
func (t *positionTask) recoveryBuy(ctx context.Context) error {
	m := t.pos.Market

	var yesSamples, noSamples []int64
	for i := 0; i < recoverySampleCount; i++ {
		if yes, err := t.venue.Midpoint(ctx, m.YesTokenID); err == nil {
			yesSamples = append(yesSamples, yes)
		}
		if no, err := t.venue.Midpoint(ctx, m.NoTokenID); err == nil {
			noSamples = append(noSamples, no)
		}
		if i < recoverySampleCount-1 {
			if err := t.sleep(ctx, recoverySampleInterval); err != nil {
				return err
			}
		}
	}

	tokenID, lastMid := pickRecoveryCandidate(m.YesTokenID, yesSamples, m.NoTokenID, noSamples, t.cfg.RecoveryThresholdMicros)
	if tokenID == "" {
		log.Printf("[mm] %s recovery: no qualifying side", m.Slug)
		return nil
	}

	size := t.cfg.RecoverySizeMicros
	if size <= 0 {
		size = t.cfg.TradeSizeMicros
	}

	bal, err := t.venue.CollateralBalance(ctx)
	if err != nil {
		return fmt.Errorf("collateral balance: %w", err)
	}
	if bal < size {
		return fmt.Errorf("collateral %s below recovery size %s", clob.FormatUnits(bal), clob.FormatUnits(size))
	}

	fill, err := t.venue.MarketBuy(ctx, m, tokenID, size, maxBuyWorstPrice)
	if err != nil {
		return err
	}
	if !fill.Filled {
		log.Printf("[mm] %s recovery: buy found no liquidity", m.Slug)
		return nil
	}
	log.Printf("[mm] %s recovery: bought %s at %s (mid was %s)", m.Slug, tokenID, clob.FormatUnits(fill.FillPriceMicros), clob.FormatUnits(lastMid))
	t.logEvent("recovery_buy", "")

	if err := t.sleep(ctx, recoveryHold); err != nil {
		return err
	}

	if m.Lifetime(t.now()) < recoveryMinLifetime {
		// Too close to expiry to unwind; resolution settles it.
		return nil
	}

	mid, err := t.venue.Midpoint(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("recovery midpoint: %w", err)
	}
	if mid >= fill.FillPriceMicros {
		log.Printf("[mm] %s recovery: holding (mid %s >= fill %s)", m.Slug, clob.FormatUnits(mid), clob.FormatUnits(fill.FillPriceMicros))
		return nil
	}

	shares, err := t.venue.TokenBalance(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("recovery balance: %w", err)
	}
	if shares < dustMicros {
		return nil
	}
	sell, err := t.venue.MarketSell(ctx, m, tokenID, shares, minSellWorstPrice)
	if err != nil {
		return err
	}
	if sell.Filled {
		log.Printf("[mm] %s recovery: unwound at %s", m.Slug, clob.FormatUnits(sell.FillPriceMicros))
		t.logEvent("recovery_sell", "")
	}
	return nil
}

// pickRecoveryCandidate selects the side whose last midpoint sample is at or
// above the threshold and non-declining over the window. When both qualify,
// the stronger last print wins.
func pickRecoveryCandidate(yesToken string, yesSamples []int64, noToken string, noSamples []int64, thresholdMicros int64) (string, int64) {
	qualifies := func(samples []int64) (int64, bool) {
		if len(samples) == 0 {
			return 0, false
		}
		first, last := samples[0], samples[len(samples)-1]
		return last, last >= thresholdMicros && last >= first
	}

	yesLast, yesOK := qualifies(yesSamples)
	noLast, noOK := qualifies(noSamples)
	switch {
	case yesOK && noOK:
		if yesLast >= noLast {
			return yesToken, yesLast
		}
		return noToken, noLast
	case yesOK:
		return yesToken, yesLast
	case noOK:
		return noToken, noLast
	default:
		return "", 0
	}
}
