// Package polygonutil holds small read-only Polygon helpers for the
// diagnostic CLIs; the trading path reads balances through the ctf client.
package polygonutil

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	erc20BalanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	erc20AllowanceSelector = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
)

// RPCURLFromEnv resolves the Polygon RPC endpoint from the environment.
func RPCURLFromEnv() (string, error) {
	rpcURL := strings.TrimSpace(firstNonEmpty(os.Getenv("RPC_URL"), os.Getenv("POLYGON_RPC_URL")))
	if rpcURL == "" {
		return "", fmt.Errorf("RPC_URL required (set RPC_URL in .env)")
	}
	if !strings.HasPrefix(rpcURL, "wss") && !strings.HasPrefix(rpcURL, "http") {
		return "", fmt.Errorf("polygon RPC URL must be wss://... or http(s)://..., got %q", rpcURL)
	}
	return rpcURL, nil
}

// TokenBalanceMicros reads an ERC20 balance (6-decimal token assumed).
func TokenBalanceMicros(ctx context.Context, client *ethclient.Client, token, owner common.Address) (int64, error) {
	if (owner == common.Address{}) {
		return 0, fmt.Errorf("owner address missing")
	}

	data := make([]byte, 0, 4+32)
	data = append(data, erc20BalanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("balanceOf(%s): %w", owner.Hex(), err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("balanceOf returned empty result")
	}

	bal := new(big.Int).SetBytes(out)
	if !bal.IsInt64() {
		return 0, fmt.Errorf("balance overflows int64")
	}
	return bal.Int64(), nil
}

// TokenAllowancesMicros reads allowances for each spender, saturating at
// MaxInt64 since allowances are commonly set to max(uint256).
func TokenAllowancesMicros(ctx context.Context, client *ethclient.Client, token, owner common.Address, spenders []common.Address) (map[common.Address]int64, error) {
	out := make(map[common.Address]int64, len(spenders))
	seen := make(map[common.Address]struct{}, len(spenders))
	for _, spender := range spenders {
		if (spender == common.Address{}) {
			continue
		}
		if _, ok := seen[spender]; ok {
			continue
		}
		seen[spender] = struct{}{}

		data := make([]byte, 0, 4+32+32)
		data = append(data, erc20AllowanceSelector...)
		data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
		data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)

		raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return nil, fmt.Errorf("allowance(%s,%s): %w", owner.Hex(), spender.Hex(), err)
		}
		out[spender] = int64FromUint256Saturating(new(big.Int).SetBytes(raw))
	}
	return out, nil
}

func int64FromUint256Saturating(x *big.Int) int64 {
	if x == nil || x.Sign() <= 0 {
		return 0
	}
	if x.IsInt64() {
		return x.Int64()
	}
	return math.MaxInt64
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
