// Package ctf wraps the conditional-token framework: split collateral into
// complementary outcome tokens, merge them back, redeem after resolution, and
// the read-only balance/payout views the engine reconciles against.
package ctf

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// MinSharesPerSideMicros is the venue minimum per leg (2.5 shares).
const MinSharesPerSideMicros = 2_500_000

const ctfABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"collateralToken","type":"address"},
    {"internalType":"bytes32","name":"parentCollectionId","type":"bytes32"},
    {"internalType":"bytes32","name":"conditionId","type":"bytes32"},
    {"internalType":"uint256[]","name":"partition","type":"uint256[]"},
    {"internalType":"uint256","name":"amount","type":"uint256"}
  ],"name":"splitPosition","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"collateralToken","type":"address"},
    {"internalType":"bytes32","name":"parentCollectionId","type":"bytes32"},
    {"internalType":"bytes32","name":"conditionId","type":"bytes32"},
    {"internalType":"uint256[]","name":"partition","type":"uint256[]"},
    {"internalType":"uint256","name":"amount","type":"uint256"}
  ],"name":"mergePositions","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"collateralToken","type":"address"},
    {"internalType":"bytes32","name":"parentCollectionId","type":"bytes32"},
    {"internalType":"bytes32","name":"conditionId","type":"bytes32"},
    {"internalType":"uint256[]","name":"indexSets","type":"uint256[]"}
  ],"name":"redeemPositions","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"owner","type":"address"},
    {"internalType":"uint256","name":"id","type":"uint256"}
  ],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"bytes32","name":"conditionId","type":"bytes32"}
  ],"name":"payoutDenominator","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"bytes32","name":"conditionId","type":"bytes32"},
    {"internalType":"uint256","name":"index","type":"uint256"}
  ],"name":"payoutNumerators","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"operator","type":"address"},
    {"internalType":"bool","name":"approved","type":"bool"}
  ],"name":"setApprovalForAll","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"owner","type":"address"},
    {"internalType":"address","name":"operator","type":"address"}
  ],"name":"isApprovedForAll","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`

const erc20ABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"spender","type":"address"},
    {"internalType":"uint256","name":"amount","type":"uint256"}
  ],"name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"owner","type":"address"},
    {"internalType":"address","name":"spender","type":"address"}
  ],"name":"allowance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"owner","type":"address"}
  ],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// binaryPartition covers both outcome slots of a binary condition.
var binaryPartition = []*big.Int{big.NewInt(1), big.NewInt(2)}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Executor funnels on-chain writes through the wallet-tx serializer.
type Executor interface {
	Exec(ctx context.Context, target common.Address, calldata []byte, label string) (*types.Receipt, error)
	WalletAddress() common.Address
}

type Client struct {
	eth      *ethclient.Client
	exec     Executor
	addrs    Addresses
	ctfABI   abi.ABI
	erc20ABI abi.ABI
}

func NewClient(eth *ethclient.Client, exec Executor, addrs Addresses) (*Client, error) {
	if eth == nil {
		return nil, fmt.Errorf("eth client required")
	}
	ctfParsed, err := abi.JSON(strings.NewReader(ctfABIJSON))
	if err != nil {
		return nil, fmt.Errorf("ctf abi parse: %w", err)
	}
	erc20Parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("erc20 abi parse: %w", err)
	}
	return &Client{
		eth:      eth,
		exec:     exec,
		addrs:    addrs,
		ctfABI:   ctfParsed,
		erc20ABI: erc20Parsed,
	}, nil
}

func (c *Client) Addresses() Addresses { return c.addrs }

// Split burns collateral and mints equal amounts of both outcome tokens.
// collateralMicros covers both legs, so each leg receives collateralMicros/2
// shares at an effective entry price of exactly 0.5.
func (c *Client) Split(ctx context.Context, conditionID common.Hash, collateralMicros int64) error {
	if collateralMicros < 2*MinSharesPerSideMicros {
		return fmt.Errorf("MM_TRADE_SIZE below minimum: split amount %d < %d", collateralMicros, 2*MinSharesPerSideMicros)
	}
	data, err := c.ctfABI.Pack("splitPosition",
		c.addrs.Collateral,
		[32]byte{},
		conditionID,
		binaryPartition,
		big.NewInt(collateralMicros),
	)
	if err != nil {
		return fmt.Errorf("pack splitPosition: %w", err)
	}
	if c.exec == nil {
		return fmt.Errorf("executor required for split")
	}
	_, err = c.exec.Exec(ctx, c.addrs.Conditional, data, "split "+conditionID.Hex())
	return err
}

// Merge converts equal amounts of both outcome tokens back into collateral.
func (c *Client) Merge(ctx context.Context, conditionID common.Hash, sharesMicros int64) error {
	if sharesMicros <= 0 {
		return fmt.Errorf("merge amount must be > 0")
	}
	data, err := c.ctfABI.Pack("mergePositions",
		c.addrs.Collateral,
		[32]byte{},
		conditionID,
		binaryPartition,
		big.NewInt(sharesMicros),
	)
	if err != nil {
		return fmt.Errorf("pack mergePositions: %w", err)
	}
	if c.exec == nil {
		return fmt.Errorf("executor required for merge")
	}
	_, err = c.exec.Exec(ctx, c.addrs.Conditional, data, "merge "+conditionID.Hex())
	return err
}

// Redeem converts all held outcome tokens of a resolved condition to
// collateral; winners and losers are settled by the on-chain payout vector.
func (c *Client) Redeem(ctx context.Context, conditionID common.Hash) error {
	data, err := c.ctfABI.Pack("redeemPositions",
		c.addrs.Collateral,
		[32]byte{},
		conditionID,
		binaryPartition,
	)
	if err != nil {
		return fmt.Errorf("pack redeemPositions: %w", err)
	}
	if c.exec == nil {
		return fmt.Errorf("executor required for redeem")
	}
	_, err = c.exec.Exec(ctx, c.addrs.Conditional, data, "redeem "+conditionID.Hex())
	return err
}

// BalanceOf reads the wallet's ERC1155 balance of one outcome token, in
// micro-shares. This is the authoritative quantity before any
// quantity-sensitive sell.
func (c *Client) BalanceOf(ctx context.Context, owner common.Address, tokenID string) (int64, error) {
	id, err := parseTokenID(tokenID)
	if err != nil {
		return 0, err
	}
	out, err := c.callCTF(ctx, "balanceOf", owner, id)
	if err != nil {
		return 0, fmt.Errorf("balanceOf(%s): %w", tokenID, err)
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("balanceOf: unexpected type %T", out[0])
	}
	if !bal.IsInt64() {
		return 0, fmt.Errorf("balanceOf overflows int64")
	}
	return bal.Int64(), nil
}

// PayoutDenominator is zero iff the condition is unresolved.
func (c *Client) PayoutDenominator(ctx context.Context, conditionID common.Hash) (int64, error) {
	out, err := c.callCTF(ctx, "payoutDenominator", conditionID)
	if err != nil {
		return 0, fmt.Errorf("payoutDenominator: %w", err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("payoutDenominator: unexpected type %T", out[0])
	}
	return v.Int64(), nil
}

func (c *Client) PayoutNumerator(ctx context.Context, conditionID common.Hash, outcomeIdx int) (int64, error) {
	out, err := c.callCTF(ctx, "payoutNumerators", conditionID, big.NewInt(int64(outcomeIdx)))
	if err != nil {
		return 0, fmt.Errorf("payoutNumerators(%d): %w", outcomeIdx, err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("payoutNumerators: unexpected type %T", out[0])
	}
	return v.Int64(), nil
}

// EnsureApprovals makes the collateral allowances and ERC1155 operator
// approvals current, idempotently: existing sufficient approvals are never
// re-sent.
func (c *Client) EnsureApprovals(ctx context.Context, owner common.Address, requiredMicros int64) error {
	spenders := []common.Address{c.addrs.Conditional, c.addrs.Exchange, c.addrs.NegRiskExchange}
	for _, spender := range spenders {
		if (spender == common.Address{}) {
			continue
		}
		allowance, err := c.allowance(ctx, owner, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(big.NewInt(requiredMicros)) >= 0 {
			continue
		}
		data, err := c.erc20ABI.Pack("approve", spender, maxUint256)
		if err != nil {
			return fmt.Errorf("pack approve: %w", err)
		}
		if c.exec == nil {
			return fmt.Errorf("executor required for approve")
		}
		if _, err := c.exec.Exec(ctx, c.addrs.Collateral, data, "approve "+spender.Hex()); err != nil {
			return err
		}
		log.Printf("[ctf] collateral approval set spender=%s", spender.Hex())
	}

	operators := []common.Address{c.addrs.Exchange, c.addrs.NegRiskExchange}
	for _, operator := range operators {
		if (operator == common.Address{}) {
			continue
		}
		approved, err := c.isApprovedForAll(ctx, owner, operator)
		if err != nil {
			return err
		}
		if approved {
			continue
		}
		data, err := c.ctfABI.Pack("setApprovalForAll", operator, true)
		if err != nil {
			return fmt.Errorf("pack setApprovalForAll: %w", err)
		}
		if c.exec == nil {
			return fmt.Errorf("executor required for setApprovalForAll")
		}
		if _, err := c.exec.Exec(ctx, c.addrs.Conditional, data, "setApprovalForAll "+operator.Hex()); err != nil {
			return err
		}
		log.Printf("[ctf] operator approval set operator=%s", operator.Hex())
	}
	return nil
}

// CollateralBalance reads the wallet's USDC balance in micro-units.
func (c *Client) CollateralBalance(ctx context.Context, owner common.Address) (int64, error) {
	data, err := c.erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return 0, err
	}
	out, err := c.call(ctx, c.addrs.Collateral, data)
	if err != nil {
		return 0, fmt.Errorf("collateral balanceOf(%s): %w", owner.Hex(), err)
	}
	vals, err := c.erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return 0, err
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("collateral balanceOf: unexpected type %T", vals[0])
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("collateral balance overflows int64")
	}
	return v.Int64(), nil
}

func (c *Client) allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	data, err := c.erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, c.addrs.Collateral, data)
	if err != nil {
		return nil, fmt.Errorf("allowance(%s,%s): %w", owner.Hex(), spender.Hex(), err)
	}
	vals, err := c.erc20ABI.Unpack("allowance", out)
	if err != nil {
		return nil, err
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("allowance: unexpected type %T", vals[0])
	}
	return v, nil
}

func (c *Client) isApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	out, err := c.callCTF(ctx, "isApprovedForAll", owner, operator)
	if err != nil {
		return false, fmt.Errorf("isApprovedForAll(%s,%s): %w", owner.Hex(), operator.Hex(), err)
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("isApprovedForAll: unexpected type %T", out[0])
	}
	return v, nil
}

func (c *Client) callCTF(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.ctfABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, c.addrs.Conditional, data)
	if err != nil {
		return nil, err
	}
	vals, err := c.ctfABI.Unpack(method, out)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("%s: unexpected result len %d", method, len(vals))
	}
	return vals, nil
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	return c.eth.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func parseTokenID(tokenID string) (*big.Int, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil, fmt.Errorf("token id required")
	}
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}
	return id, nil
}
