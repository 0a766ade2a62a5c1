package copytrade

import (
	"testing"

	"poly-gomm/internal/clob"
	"poly-gomm/internal/rtds"
)

const leader = "0x1111111111111111111111111111111111111111"

func validConfig() Config {
	return Config{
		Leader:                leader,
		Mode:                  SizeModePercent,
		SizePercent:           0.1,
		MaxPositionSizeMicros: 100_000_000, // $100
	}
}

func TestComputeMirrorTrade_PercentModeBuy(t *testing.T) {
	a := rtds.Activity{
		ProxyWallet: leader,
		Side:        "BUY",
		Asset:       "12345",
		Price:       0.61,
		Size:        400, // leader size deliberately ignored in percent mode
	}

	trade, err := ComputeMirrorTrade(a, validConfig(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade == nil {
		t.Fatalf("expected trade")
	}
	if trade.Side != clob.SideBuy || trade.TokenID != "12345" {
		t.Fatalf("unexpected trade: %+v", trade)
	}
	if trade.AmountMicros != 10_000_000 { // $100 * 10%
		t.Fatalf("amount: got %d want 10000000", trade.AmountMicros)
	}
}

func TestComputeMirrorTrade_BalanceModeBuy(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = SizeModeBalance
	cfg.MaxPositionSizeMicros = 0

	a := rtds.Activity{ProxyWallet: leader, Side: "BUY", Asset: "12345", Size: 1}

	trade, err := ComputeMirrorTrade(a, cfg, 50_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade == nil || trade.AmountMicros != 5_000_000 { // $50 * 10%
		t.Fatalf("unexpected trade: %+v", trade)
	}
}

func TestComputeMirrorTrade_SellScalesLeaderShares(t *testing.T) {
	a := rtds.Activity{ProxyWallet: leader, Side: "SELL", Asset: "999", Size: 40}

	trade, err := ComputeMirrorTrade(a, validConfig(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade == nil || trade.Side != clob.SideSell {
		t.Fatalf("unexpected trade: %+v", trade)
	}
	if trade.AmountMicros != 4_000_000 { // 40 shares * 10%
		t.Fatalf("amount: got %d want 4000000", trade.AmountMicros)
	}
}

func TestComputeMirrorTrade_IgnoresOtherWallets(t *testing.T) {
	a := rtds.Activity{
		ProxyWallet: "0x2222222222222222222222222222222222222222",
		Side:        "BUY",
		Asset:       "12345",
		Size:        10,
	}
	trade, err := ComputeMirrorTrade(a, validConfig(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade != nil {
		t.Fatalf("expected nil trade for foreign wallet")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := cfg
	bad.SizePercent = 1.5
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for size percent > 1")
	}

	bad = cfg
	bad.Mode = "weird"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for unknown mode")
	}

	bad = cfg
	bad.MaxPositionSizeMicros = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for missing max position size in percent mode")
	}
}

func TestDedupKey(t *testing.T) {
	a := rtds.Activity{TransactionHash: "0xdead", Asset: "1", Side: "buy"}
	b := rtds.Activity{TransactionHash: "0xdead", Asset: "2", Side: "BUY"}
	if DedupKey(a) == DedupKey(b) {
		t.Fatalf("different assets must not collide")
	}
	c := rtds.Activity{TransactionHash: "0xdead", Asset: "1", Side: "BUY"}
	if DedupKey(a) != DedupKey(c) {
		t.Fatalf("case of side must not matter")
	}
}
