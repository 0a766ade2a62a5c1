package copytrade

import (
	"context"
	"log"

	"poly-gomm/internal/clob"
	"poly-gomm/internal/rtds"
	"poly-gomm/internal/state"
)

// Protective bounds for mirror taker orders.
const (
	buyWorstPriceMicros  = 990_000 // 0.99
	sellWorstPriceMicros = 10_000  // 0.01
)

// BalanceSource reads the local collateral balance (balance sizing mode).
type BalanceSource func(ctx context.Context) (int64, error)

// Watcher consumes leader activity and places mirror orders.
type Watcher struct {
	cfg     Config
	clob    *clob.Client
	store   *state.Store
	balance BalanceSource
	saltGen func() int64
	dryRun  bool
}

func NewWatcher(cfg Config, clobClient *clob.Client, store *state.Store, balance BalanceSource, saltGen func() int64, dryRun bool) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:     cfg,
		clob:    clobClient,
		store:   store,
		balance: balance,
		saltGen: saltGen,
		dryRun:  dryRun,
	}, nil
}

// Run mirrors activity until the message channel closes or ctx is cancelled.
// Per-event failures are logged and skipped; the feed keeps flowing.
func (w *Watcher) Run(ctx context.Context, msgs <-chan rtds.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg.Topic != "activity" {
				continue
			}
			w.handle(ctx, msg)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, msg rtds.Message) {
	activity, err := rtds.DecodeActivity(msg)
	if err != nil {
		log.Printf("[warn] copytrade decode: %v", err)
		return
	}

	var balanceMicros int64
	if w.cfg.Mode == SizeModeBalance && w.balance != nil {
		balanceMicros, err = w.balance(ctx)
		if err != nil {
			log.Printf("[warn] copytrade balance: %v", err)
			return
		}
	}

	trade, err := ComputeMirrorTrade(activity, w.cfg, balanceMicros)
	if err != nil {
		log.Printf("[warn] copytrade compute: %v", err)
		return
	}
	if trade == nil {
		return
	}

	fresh, err := w.store.MarkProcessed(DedupKey(activity))
	if err != nil {
		log.Printf("[warn] copytrade state save: %v", err)
	}
	if !fresh {
		return
	}

	if w.dryRun {
		log.Printf("[copy] dry-run %s %s amount=%s (leader %s %v @ %v)",
			trade.Side, trade.TokenID, clob.FormatUnits(trade.AmountMicros), activity.Side, activity.Size, activity.Price)
		return
	}

	worst := int64(buyWorstPriceMicros)
	if trade.Side == clob.SideSell {
		worst = sellWorstPriceMicros
	}

	meta, err := w.marketMeta(ctx, trade.TokenID)
	if err != nil {
		log.Printf("[warn] copytrade meta %s: %v", trade.TokenID, err)
		return
	}

	resp, err := w.clob.PostMarketOrder(ctx, trade.TokenID, trade.Side, trade.AmountMicros, worst, meta, clob.OrderTypeFAK, w.saltGen)
	if err != nil {
		log.Printf("[warn] copytrade order: %v", err)
		return
	}
	if !resp.Filled() {
		log.Printf("[copy] %s %s: no liquidity (%s)", trade.Side, trade.TokenID, resp.ErrorMsg)
		return
	}
	log.Printf("[copy] mirrored %s %s amount=%s", trade.Side, trade.TokenID, clob.FormatUnits(trade.AmountMicros))
}

func (w *Watcher) marketMeta(ctx context.Context, tokenID string) (clob.MarketMeta, error) {
	tickStr, err := w.clob.GetTickSize(ctx, tokenID)
	if err != nil {
		return clob.MarketMeta{}, err
	}
	tick, err := clob.ParseUnits(tickStr)
	if err != nil {
		return clob.MarketMeta{}, err
	}
	negRisk, err := w.clob.GetNegRisk(ctx, tokenID)
	if err != nil {
		return clob.MarketMeta{}, err
	}
	return clob.MarketMeta{TickMicros: tick, NegRisk: negRisk}, nil
}
