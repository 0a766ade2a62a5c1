package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"

	"poly-gomm/internal/cleanup"
	"poly-gomm/internal/clob"
	"poly-gomm/internal/config"
	"poly-gomm/internal/copytrade"
	"poly-gomm/internal/ctf"
	"poly-gomm/internal/dataapi"
	"poly-gomm/internal/detector"
	"poly-gomm/internal/dotenv"
	"poly-gomm/internal/engine"
	"poly-gomm/internal/gamma"
	"poly-gomm/internal/jsonl"
	"poly-gomm/internal/notify"
	"poly-gomm/internal/rtds"
	"poly-gomm/internal/state"
	"poly-gomm/internal/wallet"
)

// simStartingCollateralMicros seeds the dry-run venue ($1000).
const simStartingCollateralMicros = 1_000_000_000

const statusInterval = 30 * time.Second

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("[fatal] %v", err)
	}
	log.Printf("Shutting down…")
}

func run(ctx context.Context, cfg *config.Config) error {
	tradeLog := jsonl.New(cfg.TradesOutFile)
	if tradeLog != nil {
		log.Printf("Trade log: %s (JSONL)", cfg.TradesOutFile)
		defer func() {
			if err := tradeLog.Close(); err != nil {
				log.Printf("[warn] trade log close: %v", err)
			}
		}()
	}

	store, err := state.Load(cfg.StateFile)
	if err != nil {
		return err
	}

	key := cfg.PrivateKey
	if key == nil {
		// Dry-run without a key still needs a signer for CLOB auth.
		key, err = crypto.GenerateKey()
		if err != nil {
			return err
		}
		log.Printf("[info] no private key provided; using ephemeral key for dry-run")
	}
	funder := cfg.Funder
	if (funder == common.Address{}) {
		funder = crypto.PubkeyToAddress(key.PublicKey)
	}

	clobClient, err := clob.NewClient(cfg.CLOBHost, cfg.ChainID, key, funder, cfg.SignatureType)
	if err != nil {
		return err
	}
	if !cfg.DryRun {
		if cfg.APIKey != "" && cfg.APISecret != "" && cfg.APIPassphrase != "" {
			clobClient.SetApiCreds(clob.ApiKeyCreds{Key: cfg.APIKey, Secret: cfg.APISecret, Passphrase: cfg.APIPassphrase})
		} else {
			creds, err := clobClient.CreateOrDeriveApiKey(ctx, 0, false)
			if err != nil {
				return err
			}
			clobClient.SetApiCreds(creds)
			log.Printf("CLOB API creds ready")
		}
	}

	gammaClient, err := gamma.NewClient(cfg.GammaURL)
	if err != nil {
		return err
	}
	dataClient, err := dataapi.NewClient(cfg.DataAPIURL)
	if err != nil {
		return err
	}

	var notifier engine.Notifier
	var telegram *notify.Telegram
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		telegram, err = notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			return err
		}
		notifier = &telegramNotifier{tg: telegram}
	}

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(time.Now().UnixNano()>>1)))
	var rngMu sync.Mutex
	saltGen := func() int64 {
		rngMu.Lock()
		defer rngMu.Unlock()
		return int64(rng.Uint64() & 0x7fffffffffffffff)
	}

	group, ctx := errgroup.WithContext(ctx)

	var venue engine.Venue
	var simVenue *engine.SimVenue
	if cfg.DryRun {
		simVenue = engine.NewSimVenue(clobClient, simStartingCollateralMicros)
		var prior engine.SimStats
		if ok, err := store.LoadSimStats(&prior); err == nil && ok {
			log.Printf("[sim] prior session stats: %+v", prior)
		}
		venue = simVenue
		defer func() {
			if err := store.SaveSimStats(simVenue.Stats()); err != nil {
				log.Printf("[warn] save sim stats: %v", err)
			}
		}()
		log.Printf("Dry-run: on-chain writes and CLOB orders disabled")
	} else {
		eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return err
		}
		defer eth.Close()

		serializer, err := wallet.NewSerializer(eth, big.NewInt(cfg.ChainID), cfg.PrivateKey, cfg.Funder)
		if err != nil {
			return err
		}
		group.Go(func() error {
			serializer.Run(ctx)
			return nil
		})

		addrs, err := ctf.ResolveAddresses(cfg.ChainID)
		if err != nil {
			return err
		}
		ctfClient, err := ctf.NewClient(eth, serializer, addrs)
		if err != nil {
			return err
		}

		if err := ctfClient.EnsureApprovals(ctx, cfg.Funder, 2*cfg.TradeSizeMicros); err != nil {
			return err
		}

		cleaner := cleanup.New(dataClient, ctfClient, clobClient, cfg.Funder, cfg.RedeemInterval, false)
		if err := cleaner.Startup(ctx); err != nil {
			log.Printf("[warn] startup cleanup: %v", err)
		}
		group.Go(func() error {
			cleaner.RunRedeemer(ctx)
			return nil
		})

		venue = engine.NewLiveVenue(clobClient, ctfClient, cfg.Funder, saltGen)
	}

	if cfg.MMEnabled() {
		det, err := detector.New(gammaClient, detector.Options{
			Assets:       cfg.Assets,
			SlotSeconds:  cfg.SlotSeconds,
			DurationTag:  cfg.Duration,
			PollInterval: cfg.PollInterval,
		})
		if err != nil {
			return err
		}

		dispatcher := engine.NewDispatcher(venue, engine.Config{
			TradeSizeMicros:           cfg.TradeSizeMicros,
			SellPriceMicros:           cfg.SellPriceMicros,
			CutLossTime:               cfg.CutLossTime,
			AdaptiveCL:                cfg.AdaptiveCL,
			AdaptiveMinCombinedMicros: cfg.AdaptiveMinCombinedMicros,
			AdaptiveMonitorInterval:   cfg.AdaptiveMonitorInterval,
			RecoveryBuy:               cfg.RecoveryBuy,
			RecoveryThresholdMicros:   cfg.RecoveryThresholdMicros,
			RecoverySizeMicros:        cfg.RecoverySizeMicros,
		}, det.Events(), tradeLog, notifier)

		group.Go(func() error {
			det.Run(ctx)
			return nil
		})
		group.Go(func() error {
			dispatcher.Run(ctx)
			return nil
		})
		group.Go(func() error {
			dispatcher.RunStatus(ctx, statusInterval)
			return nil
		})
		log.Printf("MM engine: assets=%v duration=%s sell=%s cut_loss=%s",
			cfg.Assets, cfg.Duration, clob.FormatUnits(cfg.SellPriceMicros), cfg.CutLossTime)
	}

	if cfg.CopyTradeEnabled {
		watcher, err := copytrade.NewWatcher(copytrade.Config{
			Leader:                cfg.CopyLeader,
			Mode:                  copytrade.SizeMode(cfg.CopySizeMode),
			SizePercent:           cfg.CopySizePercent,
			MaxPositionSizeMicros: cfg.CopyMaxPositionSizeMicros,
		}, clobClient, store, func(ctx context.Context) (int64, error) {
			return venue.CollateralBalance(ctx)
		}, saltGen, cfg.DryRun)
		if err != nil {
			return err
		}

		msgs, errs := rtds.Start(ctx, cfg.RTDSURL, []rtds.Subscription{
			rtds.ActivitySubscription(cfg.CopyLeader),
		}, rtds.Options{})
		group.Go(func() error {
			watcher.Run(ctx, msgs)
			return nil
		})
		group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case err, ok := <-errs:
					if !ok {
						return nil
					}
					log.Printf("[warn] rtds: %v", err)
				}
			}
		})
		log.Printf("Copy trade: leader=%s mode=%s", cfg.CopyLeader, cfg.CopySizeMode)
	}

	log.Printf("Listening…")
	err = group.Wait()
	if telegram != nil && err != nil && !errors.Is(err, context.Canceled) {
		telegram.Fatal("terminal", err)
	}
	return err
}

// telegramNotifier adapts the Telegram client to the engine's notifier.
type telegramNotifier struct {
	tg *notify.Telegram
}

func (n *telegramNotifier) PositionClosed(p *engine.Position, pnlMicros int64) {
	n.tg.PositionClosed(p.Market.Slug, string(p.Status), clob.FormatUnits(pnlMicros))
}
