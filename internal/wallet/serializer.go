// Package wallet executes contract calls through a smart-contract proxy
// wallet. Every on-chain write in the process funnels through one Serializer,
// whose single worker goroutine reads the wallet nonce, signs and submits.
// Serializing at the application layer keeps the sequential wallet nonces
// collision-free without any bookkeeping.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const safeABIJSON = `[
  {"inputs":[],"name":"nonce","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"to","type":"address"},
    {"internalType":"uint256","name":"value","type":"uint256"},
    {"internalType":"bytes","name":"data","type":"bytes"},
    {"internalType":"uint8","name":"operation","type":"uint8"},
    {"internalType":"uint256","name":"safeTxGas","type":"uint256"},
    {"internalType":"uint256","name":"baseGas","type":"uint256"},
    {"internalType":"uint256","name":"gasPrice","type":"uint256"},
    {"internalType":"address","name":"gasToken","type":"address"},
    {"internalType":"address","name":"refundReceiver","type":"address"},
    {"internalType":"uint256","name":"nonce","type":"uint256"}
  ],"name":"getTransactionHash","outputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"to","type":"address"},
    {"internalType":"uint256","name":"value","type":"uint256"},
    {"internalType":"bytes","name":"data","type":"bytes"},
    {"internalType":"uint8","name":"operation","type":"uint8"},
    {"internalType":"uint256","name":"safeTxGas","type":"uint256"},
    {"internalType":"uint256","name":"baseGas","type":"uint256"},
    {"internalType":"uint256","name":"gasPrice","type":"uint256"},
    {"internalType":"address","name":"gasToken","type":"address"},
    {"internalType":"address","name":"refundReceiver","type":"address"},
    {"internalType":"bytes","name":"signatures","type":"bytes"}
  ],"name":"execTransaction","outputs":[{"internalType":"bool","name":"success","type":"bool"}],"stateMutability":"payable","type":"function"}
]`

const (
	// opCall is the Safe CALL operation discriminator.
	opCall uint8 = 0

	maxAttempts  = 3
	retryBackoff = 3 * time.Second

	waitMinedTimeout = 3 * time.Minute
)

var (
	// Polygon priority fees below ~25 gwei are routinely ignored by
	// validators; the floor keeps short-lived market entries from missing
	// their window. The cap bounds worst-case spend during gas spikes.
	priorityFeeFloorWei = big.NewInt(30_000_000_000)  // 30 gwei
	feeCapWei           = big.NewInt(500_000_000_000) // 500 gwei
)

type request struct {
	ctx      context.Context
	target   common.Address
	calldata []byte
	label    string
	reply    chan result
}

type result struct {
	receipt *types.Receipt
	err     error
}

// Serializer is the single-writer on-chain executor.
type Serializer struct {
	client  *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	signer  common.Address
	wallet  common.Address
	safeABI abi.ABI

	requests chan request
}

func NewSerializer(client *ethclient.Client, chainID *big.Int, key *ecdsa.PrivateKey, walletAddr common.Address) (*Serializer, error) {
	if client == nil {
		return nil, fmt.Errorf("eth client required")
	}
	if key == nil {
		return nil, fmt.Errorf("signing key required")
	}
	if (walletAddr == common.Address{}) {
		return nil, fmt.Errorf("wallet address required")
	}
	parsed, err := abi.JSON(strings.NewReader(safeABIJSON))
	if err != nil {
		return nil, fmt.Errorf("safe abi parse: %w", err)
	}
	return &Serializer{
		client:   client,
		chainID:  chainID,
		key:      key,
		signer:   crypto.PubkeyToAddress(key.PublicKey),
		wallet:   walletAddr,
		safeABI:  parsed,
		requests: make(chan request, 64),
	}, nil
}

func (s *Serializer) SignerAddress() common.Address { return s.signer }
func (s *Serializer) WalletAddress() common.Address { return s.wallet }

// Run consumes the queue until ctx is cancelled. Operation N+1 does not read
// the wallet nonce before operation N has fully resolved; a failed operation
// replies its error and the queue moves on.
func (s *Serializer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			receipt, err := s.execOne(req)
			select {
			case req.reply <- result{receipt: receipt, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Exec submits one contract call through the proxy wallet and blocks until it
// is mined or terminally fails.
func (s *Serializer) Exec(ctx context.Context, target common.Address, calldata []byte, label string) (*types.Receipt, error) {
	req := request{
		ctx:      ctx,
		target:   target,
		calldata: calldata,
		label:    label,
		reply:    make(chan result, 1),
	}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.receipt, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Serializer) execOne(req request) (*types.Receipt, error) {
	ctx := req.ctx
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		receipt, err := s.attempt(ctx, req.target, req.calldata)
		if err == nil {
			log.Printf("[wallet] %s mined tx=%s gas=%d", req.label, receipt.TxHash.Hex(), receipt.GasUsed)
			return receipt, nil
		}

		lastErr = err
		if !isTransient(err) {
			return nil, fmt.Errorf("%s: %s", req.label, Reason(err))
		}
		log.Printf("[warn] wallet %s attempt %d/%d: %v", req.label, attempt, maxAttempts, err)
		if attempt < maxAttempts {
			if err := sleepCtx(ctx, retryBackoff); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%s: %s", req.label, Reason(lastErr))
}

func (s *Serializer) attempt(ctx context.Context, target common.Address, calldata []byte) (*types.Receipt, error) {
	nonce, err := s.walletNonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("wallet nonce: %w", err)
	}

	txHash, err := s.transactionHash(ctx, target, calldata, nonce)
	if err != nil {
		return nil, fmt.Errorf("wallet tx hash: %w", err)
	}

	// The wallet verifies a raw ECDSA signature of its own transaction hash;
	// no EIP-191 message prefix is applied.
	sig, err := crypto.Sign(txHash[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig[64] += 27

	execData, err := s.safeABI.Pack("execTransaction",
		target,
		big.NewInt(0),
		calldata,
		opCall,
		big.NewInt(0),
		big.NewInt(0),
		big.NewInt(0),
		common.Address{},
		common.Address{},
		sig,
	)
	if err != nil {
		return nil, fmt.Errorf("pack execTransaction: %w", err)
	}

	tip, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("fee oracle: %w", err)
	}
	tip = clampTip(tip)

	gas, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: s.signer,
		To:   &s.wallet,
		Data: execData,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	eoaNonce, err := s.client.PendingNonceAt(ctx, s.signer)
	if err != nil {
		return nil, fmt.Errorf("signer nonce: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     eoaNonce,
		GasTipCap: tip,
		GasFeeCap: new(big.Int).Set(feeCapWei),
		Gas:       gas + gas/5,
		To:        &s.wallet,
		Data:      execData,
	})
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, waitMinedTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, s.client, signedTx)
	if err != nil {
		return nil, fmt.Errorf("wait mined %s: %w", signedTx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("execution reverted (tx=%s)", signedTx.Hash().Hex())
	}
	return receipt, nil
}

func (s *Serializer) walletNonce(ctx context.Context) (*big.Int, error) {
	out, err := s.callView(ctx, "nonce")
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("nonce: unexpected result len %d", len(out))
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("nonce: unexpected type %T", out[0])
	}
	return n, nil
}

func (s *Serializer) transactionHash(ctx context.Context, target common.Address, calldata []byte, nonce *big.Int) ([32]byte, error) {
	out, err := s.callView(ctx, "getTransactionHash",
		target,
		big.NewInt(0),
		calldata,
		opCall,
		big.NewInt(0),
		big.NewInt(0),
		big.NewInt(0),
		common.Address{},
		common.Address{},
		nonce,
	)
	if err != nil {
		return [32]byte{}, err
	}
	if len(out) != 1 {
		return [32]byte{}, fmt.Errorf("getTransactionHash: unexpected result len %d", len(out))
	}
	switch v := out[0].(type) {
	case [32]byte:
		return v, nil
	case common.Hash:
		return v, nil
	default:
		return [32]byte{}, fmt.Errorf("getTransactionHash: unexpected type %T", out[0])
	}
}

func (s *Serializer) callView(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := s.safeABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	out, err := s.client.CallContract(callCtx, ethereum.CallMsg{To: &s.wallet, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return s.safeABI.Unpack(method, out)
}

func clampTip(tip *big.Int) *big.Int {
	if tip == nil || tip.Cmp(priorityFeeFloorWei) < 0 {
		return new(big.Int).Set(priorityFeeFloorWei)
	}
	if tip.Cmp(feeCapWei) > 0 {
		return new(big.Int).Set(feeCapWei)
	}
	return tip
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
