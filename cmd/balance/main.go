// Command balance prints the proxy wallet's USDC balance and the exchange
// allowances the trading terminal depends on.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"poly-gomm/internal/clob"
	"poly-gomm/internal/ctf"
	"poly-gomm/internal/dotenv"
	"poly-gomm/internal/polygonutil"
)

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	funder, err := funderFromEnv()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	rpcURL, err := polygonutil.RPCURLFromEnv()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		log.Fatalf("[fatal] dial polygon rpc: %v", err)
	}
	defer eth.Close()

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		log.Fatalf("[fatal] fetch chain id: %v", err)
	}

	addrs, err := ctf.ResolveAddresses(chainID.Int64())
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	balance, err := polygonutil.TokenBalanceMicros(ctx, eth, addrs.Collateral, funder)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	spenders := []common.Address{addrs.Conditional, addrs.Exchange, addrs.NegRiskExchange}
	allowances, err := polygonutil.TokenAllowancesMicros(ctx, eth, addrs.Collateral, funder, spenders)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	log.Printf("wallet   %s", funder.Hex())
	log.Printf("usdc     %s", clob.FormatUnits(balance))
	for _, spender := range spenders {
		log.Printf("allow    %s = %s", spender.Hex(), clob.FormatUnits(allowances[spender]))
	}
}

func funderFromEnv() (common.Address, error) {
	if raw := strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_FUNDER"), os.Getenv("FUNDER"))); raw != "" {
		if !common.IsHexAddress(raw) {
			return common.Address{}, fmt.Errorf("invalid FUNDER %q", raw)
		}
		return common.HexToAddress(raw), nil
	}
	if pkHex := strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_PRIVATE_KEY"), os.Getenv("PRIVATE_KEY"))); pkHex != "" {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(pkHex, "0x"))
		if err != nil {
			return common.Address{}, fmt.Errorf("invalid PRIVATE_KEY: %w", err)
		}
		return crypto.PubkeyToAddress(pk.PublicKey), nil
	}
	return common.Address{}, fmt.Errorf("funder required: set FUNDER/CLOB_FUNDER or PRIVATE_KEY")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
