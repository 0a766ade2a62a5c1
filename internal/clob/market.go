package clob

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strings"
)

// All collateral, share and price quantities in this package are carried as
// int64 micro-units (6 fraction digits), the on-chain USDC precision.
const (
	UnitScale               = 1_000_000
	collateralTokenDecimals = 6
)

// The CLOB API enforces coarser precision rails than the 1e6 on-chain units:
// prices follow the market tick size, sizes allow 2 decimals, derived amounts 4.
const (
	sizeMaxDecimals   = 2
	amountMaxDecimals = 4
)

var pow10 = [collateralTokenDecimals + 1]int64{1, 10, 100, 1_000, 10_000, 100_000, 1_000_000}

// ParseUnits converts a decimal string into micro-units. Extra fractional
// precision is truncated; under-estimating is safer than over-estimating.
func ParseUnits(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty decimal string")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	parts := strings.SplitN(s, ".", 3)
	if len(parts) > 2 {
		return 0, fmt.Errorf("invalid decimal: %q", s)
	}
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > collateralTokenDecimals {
		frac = frac[:collateralTokenDecimals]
	}
	for len(frac) < collateralTokenDecimals {
		frac += "0"
	}

	var out int64
	for _, c := range whole {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid decimal: %q", s)
		}
		d := int64(c - '0')
		if out > (math.MaxInt64-d)/10 {
			return 0, fmt.Errorf("decimal overflows: %q", s)
		}
		out = out*10 + d
	}
	if out > math.MaxInt64/UnitScale {
		return 0, fmt.Errorf("decimal overflows: %q", s)
	}
	out *= UnitScale
	for _, c := range frac {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid decimal: %q", s)
		}
	}
	var f int64
	for _, c := range frac {
		f = f*10 + int64(c-'0')
	}
	out += f
	if neg {
		out = -out
	}
	return out, nil
}

// FormatUnits renders micro-units as a trimmed decimal string.
func FormatUnits(units int64) string {
	neg := units < 0
	if neg {
		units = -units
	}
	whole := units / UnitScale
	frac := units % UnitScale
	out := fmt.Sprintf("%d", whole)
	if frac != 0 {
		f := fmt.Sprintf("%06d", frac)
		f = strings.TrimRight(f, "0")
		out += "." + f
	}
	if neg {
		out = "-" + out
	}
	return out
}

// RoundDownUnits truncates micro-units to keepDecimals fraction digits.
func RoundDownUnits(units int64, keepDecimals int) int64 {
	if keepDecimals >= collateralTokenDecimals {
		return units
	}
	if keepDecimals < 0 {
		keepDecimals = 0
	}
	step := pow10[collateralTokenDecimals-keepDecimals]
	return units / step * step
}

// RoundUpUnits rounds micro-units up to keepDecimals fraction digits.
func RoundUpUnits(units int64, keepDecimals int) int64 {
	if keepDecimals >= collateralTokenDecimals {
		return units
	}
	if keepDecimals < 0 {
		keepDecimals = 0
	}
	step := pow10[collateralTokenDecimals-keepDecimals]
	return (units + step - 1) / step * step
}

// FloorToTick aligns a price down to the market tick.
func FloorToTick(priceMicros, tickMicros int64) int64 {
	if tickMicros <= 0 {
		return priceMicros
	}
	return priceMicros / tickMicros * tickMicros
}

// CeilToTick aligns a price up to the market tick.
func CeilToTick(priceMicros, tickMicros int64) int64 {
	if tickMicros <= 0 {
		return priceMicros
	}
	return (priceMicros + tickMicros - 1) / tickMicros * tickMicros
}

// MulUnits multiplies two micro-valued quantities (e.g. price times shares).
func MulUnits(a, b int64) int64 {
	p := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	p.Quo(p, big.NewInt(UnitScale))
	return p.Int64()
}

// DivUnits divides two micro-valued quantities (e.g. collateral by price).
func DivUnits(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	p := new(big.Int).Mul(big.NewInt(a), big.NewInt(UnitScale))
	p.Quo(p, big.NewInt(b))
	return p.Int64()
}

type midpointResp struct {
	Mid decimalString `json:"mid"`
}

// GetMidpoint returns the book midpoint for a token in price micro-units.
func (c *Client) GetMidpoint(ctx context.Context, tokenID string) (int64, error) {
	params := url.Values{"token_id": []string{tokenID}}
	var resp midpointResp
	if err := c.doJSON(ctx, http.MethodGet, "/midpoint", params, nil, &resp); err != nil {
		return 0, err
	}
	if strings.TrimSpace(string(resp.Mid)) == "" {
		return 0, fmt.Errorf("midpoint missing in response")
	}
	mid, err := ParseUnits(string(resp.Mid))
	if err != nil {
		return 0, fmt.Errorf("parse midpoint %q: %w", string(resp.Mid), err)
	}
	return mid, nil
}
