// Command claim redeems resolved positions held by the proxy wallet, either
// once or on an interval, without running the trading terminal.
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"poly-gomm/internal/cleanup"
	"poly-gomm/internal/ctf"
	"poly-gomm/internal/dataapi"
	"poly-gomm/internal/dotenv"
	"poly-gomm/internal/polygonutil"
	"poly-gomm/internal/wallet"
)

type claimConfig struct {
	dataURL      string
	interval     time.Duration
	enableClaims bool

	privateKey *ecdsa.PrivateKey
	funder     common.Address
}

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	cfg, err := loadClaimConfig()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
}

func loadClaimConfig() (claimConfig, error) {
	var cfg claimConfig

	var intervalFlag string
	var enableClaimsFlag bool
	flag.StringVar(&intervalFlag, "every", "", "Claim interval (e.g. 30m). Empty = run once (default).")
	flag.BoolVar(&enableClaimsFlag, "enable-claims", false, "Send claim transactions (default false; set ENABLE_CLAIMS).")
	flag.Parse()

	cfg.dataURL = strings.TrimSpace(os.Getenv("DATA_API_URL"))

	if raw := strings.TrimSpace(firstNonEmpty(intervalFlag, os.Getenv("CLAIM_EVERY"))); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid claim interval %q: %w", raw, err)
		}
		cfg.interval = parsed
	}

	cfg.enableClaims = enableClaimsFlag
	if !cfg.enableClaims {
		if env := strings.TrimSpace(os.Getenv("ENABLE_CLAIMS")); env != "" {
			v, err := strconv.ParseBool(env)
			if err != nil {
				return cfg, fmt.Errorf("invalid ENABLE_CLAIMS %q: %w", env, err)
			}
			cfg.enableClaims = v
		}
	}

	var signer common.Address
	if pkHex := strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_PRIVATE_KEY"), os.Getenv("PRIVATE_KEY"))); pkHex != "" {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(pkHex, "0x"))
		if err != nil {
			return cfg, fmt.Errorf("invalid PRIVATE_KEY: %w", err)
		}
		cfg.privateKey = pk
		signer = crypto.PubkeyToAddress(pk.PublicKey)
	}

	if raw := strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_FUNDER"), os.Getenv("FUNDER"))); raw != "" {
		if !common.IsHexAddress(raw) {
			return cfg, fmt.Errorf("invalid FUNDER %q", raw)
		}
		cfg.funder = common.HexToAddress(raw)
	} else {
		cfg.funder = signer
	}

	if cfg.funder == (common.Address{}) {
		return cfg, fmt.Errorf("funder required: set FUNDER/CLOB_FUNDER or PRIVATE_KEY")
	}
	if cfg.enableClaims && cfg.privateKey == nil {
		return cfg, fmt.Errorf("private key required to execute claims (set PRIVATE_KEY/CLOB_PRIVATE_KEY)")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg claimConfig) error {
	dataClient, err := dataapi.NewClient(cfg.dataURL)
	if err != nil {
		return err
	}

	if !cfg.enableClaims {
		log.Printf("[claim] dry-run: set ENABLE_CLAIMS=true (or --enable-claims) to submit transactions")
	}

	var cleaner *cleanup.Cleaner
	if cfg.enableClaims {
		rpcURL, err := polygonutil.RPCURLFromEnv()
		if err != nil {
			return err
		}
		eth, err := ethclient.DialContext(ctx, rpcURL)
		if err != nil {
			return fmt.Errorf("dial polygon rpc: %w", err)
		}
		defer eth.Close()

		chainID, err := eth.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("fetch chain id: %w", err)
		}

		serializer, err := wallet.NewSerializer(eth, new(big.Int).Set(chainID), cfg.privateKey, cfg.funder)
		if err != nil {
			return err
		}
		serializerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go serializer.Run(serializerCtx)

		addrs, err := ctf.ResolveAddresses(chainID.Int64())
		if err != nil {
			return err
		}
		ctfClient, err := ctf.NewClient(eth, serializer, addrs)
		if err != nil {
			return err
		}
		cleaner = cleanup.New(dataClient, ctfClient, nil, cfg.funder, cfg.interval, false)
	}

	runOnce := func() error {
		if cleaner == nil {
			return listOnly(ctx, dataClient, cfg.funder)
		}
		return cleaner.RedeemOnce(ctx)
	}

	if cfg.interval <= 0 {
		return runOnce()
	}

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()
	for {
		if err := runOnce(); err != nil {
			log.Printf("[warn] claim run failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// listOnly prints what would be redeemed without touching the chain.
func listOnly(ctx context.Context, dataClient *dataapi.Client, funder common.Address) error {
	redeemable := true
	positions, err := dataClient.GetPositions(ctx, dataapi.PositionsParams{
		User:       funder.Hex(),
		Redeemable: &redeemable,
		Limit:      500,
	})
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		log.Printf("[claim] user=%s redeemable=0", funder.Hex())
		return nil
	}
	for _, pos := range positions {
		log.Printf("[claim] ready condition=%s title=%q outcome=%q size=%.6f", pos.ConditionID, pos.Title, pos.Outcome, pos.Size)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
