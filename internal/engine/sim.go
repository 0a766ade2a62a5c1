package engine

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	"poly-gomm/internal/clob"
	"poly-gomm/internal/detector"
)

// MidpointSource is the only live read the simulator keeps: real midpoints
// drive simulated fills.
type MidpointSource interface {
	GetMidpoint(ctx context.Context, tokenID string) (int64, error)
}

// SimStats is the dry-run session tally, persisted across restarts.
type SimStats struct {
	Positions       int   `json:"positions"`
	Splits          int   `json:"splits"`
	Merges          int   `json:"merges"`
	LimitFills      int   `json:"limit_fills"`
	MarketSells     int   `json:"market_sells"`
	MarketBuys      int   `json:"market_buys"`
	RealizedPnL     int64 `json:"realized_pnl_micros"`
	CollateralSpent int64 `json:"collateral_spent_micros"`
}

// SimVenue is the dry-run venue: no on-chain writes and no CLOB orders.
// Holdings are tracked in memory and fills are detected by comparing live
// midpoints against resting targets.
type SimVenue struct {
	mids MidpointSource

	mu         sync.Mutex
	collateral int64
	balances   map[string]int64
	orders     map[string]simOrder
	nextID     int
	stats      SimStats
}

type simOrder struct {
	tokenID     string
	priceMicros int64
	sizeMicros  int64
}

func NewSimVenue(mids MidpointSource, startingCollateralMicros int64) *SimVenue {
	return &SimVenue{
		mids:       mids,
		collateral: startingCollateralMicros,
		balances:   make(map[string]int64),
		orders:     make(map[string]simOrder),
	}
}

func (v *SimVenue) Stats() SimStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

func (v *SimVenue) CollateralBalance(context.Context) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.collateral, nil
}

func (v *SimVenue) Split(_ context.Context, m detector.Market, collateralMicros int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.collateral < collateralMicros {
		return fmt.Errorf("sim: collateral %s below split amount %s", clob.FormatUnits(v.collateral), clob.FormatUnits(collateralMicros))
	}
	shares := collateralMicros / 2
	v.collateral -= collateralMicros
	v.balances[m.YesTokenID] += shares
	v.balances[m.NoTokenID] += shares
	v.stats.Splits++
	v.stats.Positions++
	v.stats.CollateralSpent += collateralMicros
	log.Printf("[sim] split %s for %s", clob.FormatUnits(collateralMicros), m.ConditionID.Hex())
	return nil
}

func (v *SimVenue) Merge(_ context.Context, m detector.Market, sharesMicros int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[m.YesTokenID] -= sharesMicros
	v.balances[m.NoTokenID] -= sharesMicros
	v.collateral += sharesMicros
	v.stats.Merges++
	log.Printf("[sim] merge %s for %s", clob.FormatUnits(sharesMicros), m.ConditionID.Hex())
	return nil
}

func (v *SimVenue) TokenBalance(_ context.Context, tokenID string) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[tokenID], nil
}

func (v *SimVenue) PostLimitSell(_ context.Context, _ detector.Market, tokenID string, priceMicros, sizeMicros int64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	id := "sim-" + strconv.Itoa(v.nextID)
	v.orders[id] = simOrder{tokenID: tokenID, priceMicros: priceMicros, sizeMicros: sizeMicros}
	return id, nil
}

func (v *SimVenue) Cancel(_ context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.orders, orderID)
	return nil
}

// CheckLimitFill simulates a fill once the live midpoint reaches the resting
// price.
func (v *SimVenue) CheckLimitFill(ctx context.Context, _ detector.Market, ref LimitRef) (FillCheck, error) {
	mid, err := v.mids.GetMidpoint(ctx, ref.TokenID)
	if err != nil {
		return FillCheck{}, err
	}
	if mid < ref.PriceMicros {
		return FillCheck{}, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, live := v.orders[ref.OrderID]; !live {
		return FillCheck{}, nil
	}
	delete(v.orders, ref.OrderID)
	v.balances[ref.TokenID] -= ref.SizeMicros
	proceeds := clob.MulUnits(ref.PriceMicros, ref.SizeMicros)
	v.collateral += proceeds
	v.stats.LimitFills++
	v.stats.RealizedPnL += proceeds - clob.MulUnits(clob.UnitScale/2, ref.SizeMicros)
	return FillCheck{Filled: true, FillPriceMicros: ref.PriceMicros}, nil
}

func (v *SimVenue) MarketSell(ctx context.Context, _ detector.Market, tokenID string, sharesMicros, worstPriceMicros int64) (MarketFill, error) {
	mid, err := v.mids.GetMidpoint(ctx, tokenID)
	if err != nil {
		return MarketFill{}, err
	}
	if mid < worstPriceMicros {
		return MarketFill{}, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	proceeds := clob.MulUnits(mid, sharesMicros)
	v.balances[tokenID] -= sharesMicros
	v.collateral += proceeds
	v.stats.MarketSells++
	v.stats.RealizedPnL += proceeds - clob.MulUnits(clob.UnitScale/2, sharesMicros)
	return MarketFill{Filled: true, FillPriceMicros: mid, TakingMicros: proceeds, MakingMicros: sharesMicros}, nil
}

func (v *SimVenue) MarketBuy(ctx context.Context, _ detector.Market, tokenID string, collateralMicros, worstPriceMicros int64) (MarketFill, error) {
	mid, err := v.mids.GetMidpoint(ctx, tokenID)
	if err != nil {
		return MarketFill{}, err
	}
	if mid > worstPriceMicros || mid <= 0 {
		return MarketFill{}, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.collateral < collateralMicros {
		return MarketFill{}, fmt.Errorf("sim: collateral %s below buy amount %s", clob.FormatUnits(v.collateral), clob.FormatUnits(collateralMicros))
	}
	shares := clob.DivUnits(collateralMicros, mid)
	v.balances[tokenID] += shares
	v.collateral -= collateralMicros
	v.stats.MarketBuys++
	return MarketFill{Filled: true, FillPriceMicros: mid, TakingMicros: shares, MakingMicros: collateralMicros}, nil
}

func (v *SimVenue) Midpoint(ctx context.Context, tokenID string) (int64, error) {
	return v.mids.GetMidpoint(ctx, tokenID)
}
