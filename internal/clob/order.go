package clob

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	orderbuilder "github.com/polymarket/go-order-utils/pkg/builder"
	ordermodel "github.com/polymarket/go-order-utils/pkg/model"
)

const zeroAddressHex = "0x0000000000000000000000000000000000000000"

// MarketMeta carries the per-market parameters an order needs. Callers that
// already hold market metadata pass it through so no extra lookups happen on
// the order path.
type MarketMeta struct {
	TickMicros int64
	NegRisk    bool
}

type signedOrderPayload struct {
	DeferExec bool      `json:"deferExec"`
	Order     orderJSON `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

type orderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          Side   `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// PostOrderResult mirrors the POST /order response.
type PostOrderResult struct {
	Success      bool          `json:"success"`
	ErrorMsg     string        `json:"errorMsg"`
	OrderID      string        `json:"orderID"`
	Status       string        `json:"status"`
	TakingAmount decimalString `json:"takingAmount"`
	MakingAmount decimalString `json:"makingAmount"`
}

// Filled reports whether a taker order actually took liquidity.
// The API returns success=true even for killed FOK/FAK orders, so an empty
// errorMsg is also required.
func (r PostOrderResult) Filled() bool {
	return r.Success && r.ErrorMsg == ""
}

// limitOrderAmounts derives on-chain maker/taker amounts for a GTC limit
// order. Price is tick-aligned by the caller; sizes ride the venue's
// 2-decimal size rail, so price*size is exact in micro-units.
func limitOrderAmounts(side Side, priceMicros, sizeMicros int64) (maker, taker int64, err error) {
	if priceMicros <= 0 || priceMicros >= UnitScale {
		return 0, 0, fmt.Errorf("limit price %s out of (0,1)", FormatUnits(priceMicros))
	}
	size := RoundDownUnits(sizeMicros, sizeMaxDecimals)
	if size <= 0 {
		return 0, 0, fmt.Errorf("size rounds to 0 at %d decimals", sizeMaxDecimals)
	}
	notional := MulUnits(priceMicros, size)
	if notional <= 0 {
		return 0, 0, fmt.Errorf("notional rounds to 0")
	}
	switch side {
	case SideBuy:
		// BUY: maker = collateral spent, taker = shares received.
		return notional, size, nil
	case SideSell:
		// SELL: maker = shares sold, taker = collateral received.
		return size, notional, nil
	default:
		return 0, 0, fmt.Errorf("invalid side %q", side)
	}
}

// marketOrderAmounts derives amounts for a FOK/FAK taker order bounded by a
// protective worst price. For BUY, amount is collateral to spend; for SELL,
// amount is shares to sell. The implied limit equals the worst price, so the
// venue fills at book prices no worse than it.
func marketOrderAmounts(side Side, amountMicros, worstPriceMicros int64) (maker, taker int64, err error) {
	if worstPriceMicros <= 0 || worstPriceMicros >= UnitScale {
		return 0, 0, fmt.Errorf("worst price %s out of (0,1)", FormatUnits(worstPriceMicros))
	}
	maker = RoundDownUnits(amountMicros, sizeMaxDecimals)
	if maker <= 0 {
		return 0, 0, fmt.Errorf("amount rounds to 0 at %d decimals", sizeMaxDecimals)
	}
	switch side {
	case SideBuy:
		// BUY: taker = shares = collateral / worstPrice, rounded down to the
		// amount rail; the rounding can leave the implied price marginally
		// above the bound (5 / 5.0505 = 0.990001 at a 0.99 bound).
		taker = RoundDownUnits(DivUnits(maker, worstPriceMicros), amountMaxDecimals)
	case SideSell:
		// SELL: taker = collateral = shares * worstPrice, rounded down so the
		// implied floor never exceeds the bound.
		taker = RoundDownUnits(MulUnits(maker, worstPriceMicros), amountMaxDecimals)
	default:
		return 0, 0, fmt.Errorf("invalid side %q", side)
	}
	if taker <= 0 {
		return 0, 0, fmt.Errorf("taker amount rounds to 0")
	}
	return maker, taker, nil
}

func (c *Client) buildAndSign(tokenID string, side Side, makerMicros, takerMicros int64, feeBps int, negRisk bool, saltGen func() int64) (*ordermodel.SignedOrder, error) {
	var sideEnum ordermodel.Side
	switch side {
	case SideBuy:
		sideEnum = ordermodel.BUY
	case SideSell:
		sideEnum = ordermodel.SELL
	default:
		return nil, fmt.Errorf("invalid side %q", side)
	}

	contract := ordermodel.CTFExchange
	if negRisk {
		contract = ordermodel.NegRiskCTFExchange
	}

	od := &ordermodel.OrderData{
		Maker:         c.funder.Hex(),
		Taker:         zeroAddressHex,
		TokenId:       tokenID,
		MakerAmount:   strconv.FormatInt(makerMicros, 10),
		TakerAmount:   strconv.FormatInt(takerMicros, 10),
		FeeRateBps:    strconv.Itoa(feeBps),
		Nonce:         "0",
		Signer:        c.signer.Hex(),
		Expiration:    "0",
		Side:          sideEnum,
		SignatureType: ordermodel.SignatureType(c.signatureTy),
	}
	return signOrder(c.chainID, c.privateKey, od, contract, saltGen)
}

// PostLimitOrder signs and posts a GTC limit order. The price is tick-aligned
// before signing: floor for sells, ceil for buys, so the resting order is
// never less aggressive than requested.
func (c *Client) PostLimitOrder(ctx context.Context, tokenID string, side Side, priceMicros, sizeMicros int64, meta MarketMeta, saltGen func() int64) (*PostOrderResult, error) {
	price := priceMicros
	switch side {
	case SideSell:
		price = FloorToTick(price, meta.TickMicros)
	case SideBuy:
		price = CeilToTick(price, meta.TickMicros)
	}

	maker, taker, err := limitOrderAmounts(side, price, sizeMicros)
	if err != nil {
		return nil, err
	}

	feeBps, err := c.GetFeeRateBps(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	signed, err := c.buildAndSign(tokenID, side, maker, taker, feeBps, meta.NegRisk, saltGen)
	if err != nil {
		return nil, err
	}
	return c.postSignedOrder(ctx, signed, OrderTypeGTC)
}

// PostMarketOrder signs and posts a FOK/FAK taker order with a protective
// worst price. amountMicros is collateral for BUY and shares for SELL.
func (c *Client) PostMarketOrder(ctx context.Context, tokenID string, side Side, amountMicros, worstPriceMicros int64, meta MarketMeta, orderType OrderType, saltGen func() int64) (*PostOrderResult, error) {
	if orderType != OrderTypeFOK && orderType != OrderTypeFAK {
		return nil, fmt.Errorf("market orders must be FOK or FAK, got %q", orderType)
	}
	worst := worstPriceMicros
	switch side {
	case SideSell:
		worst = FloorToTick(worst, meta.TickMicros)
	case SideBuy:
		worst = CeilToTick(worst, meta.TickMicros)
	}

	maker, taker, err := marketOrderAmounts(side, amountMicros, worst)
	if err != nil {
		return nil, err
	}

	feeBps, err := c.GetFeeRateBps(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	signed, err := c.buildAndSign(tokenID, side, maker, taker, feeBps, meta.NegRisk, saltGen)
	if err != nil {
		return nil, err
	}
	return c.postSignedOrder(ctx, signed, orderType)
}

func (c *Client) postSignedOrder(ctx context.Context, order *ordermodel.SignedOrder, orderType OrderType) (*PostOrderResult, error) {
	if order == nil {
		return nil, fmt.Errorf("order required")
	}

	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()
	owner := ""
	if creds != nil {
		owner = creds.Key
	}

	payload := signedOrderPayload{
		Owner:     owner,
		OrderType: orderType,
		Order: orderJSON{
			Salt:          order.Salt.Int64(),
			Maker:         order.Maker.Hex(),
			Signer:        order.Signer.Hex(),
			Taker:         order.Taker.Hex(),
			TokenID:       order.TokenId.String(),
			MakerAmount:   order.MakerAmount.String(),
			TakerAmount:   order.TakerAmount.String(),
			Expiration:    order.Expiration.String(),
			Nonce:         order.Nonce.String(),
			FeeRateBps:    order.FeeRateBps.String(),
			Side:          sideToString(order.Side),
			SignatureType: int(order.SignatureType.Int64()),
			Signature:     "0x" + fmt.Sprintf("%x", order.Signature),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	ts, err := c.timestampForAuth(ctx, false)
	if err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(ts, http.MethodPost, "/order", body)
	if err != nil {
		return nil, err
	}

	var resp PostOrderResult
	if err := c.doJSONBody(ctx, http.MethodPost, "/order", nil, headers, body, &resp); err != nil {
		return &resp, err
	}
	return &resp, nil
}

func signOrder(chainID int64, pk *ecdsa.PrivateKey, od *ordermodel.OrderData, contract ordermodel.VerifyingContract, saltGen func() int64) (*ordermodel.SignedOrder, error) {
	b := orderbuilder.NewExchangeOrderBuilderImpl(big.NewInt(chainID), saltGen)
	return b.BuildSignedOrder(pk, od, contract)
}

func sideToString(v *big.Int) Side {
	if v == nil {
		return SideBuy
	}
	if v.Int64() == int64(ordermodel.SELL) {
		return SideSell
	}
	return SideBuy
}
