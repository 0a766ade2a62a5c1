package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"poly-gomm/internal/clob"
	"poly-gomm/internal/ctf"
	"poly-gomm/internal/detector"
)

// fillTolerance treats a limit as filled once 99% of its size has matched.
// The 1% slack mirrors the observed source behavior; no stronger
// justification for the exact figure is known.
const fillTolerance = 0.99

// LiveVenue routes reads to the CLOB/chain and writes through the wallet-tx
// serializer (via the CTF client) and the CLOB order gateway.
type LiveVenue struct {
	clob    *clob.Client
	ctf     *ctf.Client
	funder  common.Address
	saltGen func() int64
}

func NewLiveVenue(clobClient *clob.Client, ctfClient *ctf.Client, funder common.Address, saltGen func() int64) *LiveVenue {
	return &LiveVenue{
		clob:    clobClient,
		ctf:     ctfClient,
		funder:  funder,
		saltGen: saltGen,
	}
}

func (v *LiveVenue) CollateralBalance(ctx context.Context) (int64, error) {
	return v.ctf.CollateralBalance(ctx, v.funder)
}

func (v *LiveVenue) Split(ctx context.Context, m detector.Market, collateralMicros int64) error {
	return v.ctf.Split(ctx, m.ConditionID, collateralMicros)
}

func (v *LiveVenue) Merge(ctx context.Context, m detector.Market, sharesMicros int64) error {
	return v.ctf.Merge(ctx, m.ConditionID, sharesMicros)
}

func (v *LiveVenue) TokenBalance(ctx context.Context, tokenID string) (int64, error) {
	return v.ctf.BalanceOf(ctx, v.funder, tokenID)
}

func (v *LiveVenue) PostLimitSell(ctx context.Context, m detector.Market, tokenID string, priceMicros, sizeMicros int64) (string, error) {
	resp, err := v.clob.PostLimitOrder(ctx, tokenID, clob.SideSell, priceMicros, sizeMicros, v.meta(m), v.saltGen)
	if err != nil {
		return "", err
	}
	if !resp.Success || resp.OrderID == "" {
		return "", fmt.Errorf("limit sell rejected: %s", resp.ErrorMsg)
	}
	return resp.OrderID, nil
}

func (v *LiveVenue) MarketSell(ctx context.Context, m detector.Market, tokenID string, sharesMicros, worstPriceMicros int64) (MarketFill, error) {
	resp, err := v.clob.PostMarketOrder(ctx, tokenID, clob.SideSell, sharesMicros, worstPriceMicros, v.meta(m), clob.OrderTypeFOK, v.saltGen)
	if err != nil {
		return MarketFill{}, err
	}
	return sellFill(resp), nil
}

func (v *LiveVenue) MarketBuy(ctx context.Context, m detector.Market, tokenID string, collateralMicros, worstPriceMicros int64) (MarketFill, error) {
	resp, err := v.clob.PostMarketOrder(ctx, tokenID, clob.SideBuy, collateralMicros, worstPriceMicros, v.meta(m), clob.OrderTypeFOK, v.saltGen)
	if err != nil {
		return MarketFill{}, err
	}
	return buyFill(resp), nil
}

func (v *LiveVenue) Cancel(ctx context.Context, orderID string) error {
	return v.clob.CancelOrder(ctx, orderID)
}

func (v *LiveVenue) CheckLimitFill(ctx context.Context, _ detector.Market, ref LimitRef) (FillCheck, error) {
	info, err := v.clob.GetOrder(ctx, ref.OrderID)
	if err != nil {
		return FillCheck{}, err
	}
	matched := info.SizeMatchedMicros()
	if info.Status == clob.OrderStatusMatched || float64(matched) >= fillTolerance*float64(ref.SizeMicros) {
		return FillCheck{Filled: true, FillPriceMicros: ref.PriceMicros}, nil
	}
	return FillCheck{}, nil
}

func (v *LiveVenue) Midpoint(ctx context.Context, tokenID string) (int64, error) {
	return v.clob.GetMidpoint(ctx, tokenID)
}

func (v *LiveVenue) meta(m detector.Market) clob.MarketMeta {
	return clob.MarketMeta{TickMicros: m.TickMicros, NegRisk: m.NegRisk}
}

// sellFill interprets a SELL response: making = shares given, taking =
// collateral received, so price = taking/making.
func sellFill(resp *clob.PostOrderResult) MarketFill {
	if resp == nil || !resp.Filled() {
		return MarketFill{}
	}
	taking, _ := clob.ParseUnits(string(resp.TakingAmount))
	making, _ := clob.ParseUnits(string(resp.MakingAmount))
	fill := MarketFill{Filled: true, TakingMicros: taking, MakingMicros: making}
	if making > 0 {
		fill.FillPriceMicros = clob.DivUnits(taking, making)
	}
	return fill
}

// buyFill interprets a BUY response: making = collateral spent, taking =
// shares received, so price = making/taking.
func buyFill(resp *clob.PostOrderResult) MarketFill {
	if resp == nil || !resp.Filled() {
		return MarketFill{}
	}
	taking, _ := clob.ParseUnits(string(resp.TakingAmount))
	making, _ := clob.ParseUnits(string(resp.MakingAmount))
	fill := MarketFill{Filled: true, TakingMicros: taking, MakingMicros: making}
	if taking > 0 {
		fill.FillPriceMicros = clob.DivUnits(making, taking)
	}
	return fill
}
