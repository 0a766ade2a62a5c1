package config

import (
	"strings"
	"testing"
	"time"
)

// clearMMEnv resets every recognized option so tests are hermetic.
func clearMMEnv(t *testing.T) {
	t.Helper()
	for key := range knownMMKeys {
		t.Setenv(key, "")
	}
	for _, key := range []string{
		"REDEEM_INTERVAL", "DRY_RUN", "PRIVATE_KEY", "CLOB_PRIVATE_KEY",
		"FUNDER", "CLOB_FUNDER", "SIGNATURE_TYPE", "CLOB_SIGNATURE_TYPE",
		"RPC_URL", "COPY_TRADE_ENABLED", "COPY_LEADER",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultsDryRun(t *testing.T) {
	clearMMEnv(t)
	t.Setenv("MM_ASSETS", "BTC, eth")
	t.Setenv("DRY_RUN", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Assets) != 2 || cfg.Assets[0] != "btc" || cfg.Assets[1] != "eth" {
		t.Fatalf("assets: %#v", cfg.Assets)
	}
	if cfg.SlotSeconds != 300 {
		t.Fatalf("slot seconds: %d", cfg.SlotSeconds)
	}
	if cfg.TradeSizeMicros != 5_000_000 {
		t.Fatalf("trade size: %d", cfg.TradeSizeMicros)
	}
	if cfg.CutLossTime != 60*time.Second {
		t.Fatalf("cut loss: %s", cfg.CutLossTime)
	}
	if !cfg.MMEnabled() {
		t.Fatalf("expected MM enabled")
	}
}

func TestLoadRejectsUnknownMMKey(t *testing.T) {
	clearMMEnv(t)
	t.Setenv("DRY_RUN", "true")
	t.Setenv("MM_SELL_PRCIE", "0.6") // typo must be fatal, not ignored

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "MM_SELL_PRCIE") {
		t.Fatalf("expected unknown-option error, got %v", err)
	}
}

func TestLoadRejectsSmallTradeSize(t *testing.T) {
	clearMMEnv(t)
	t.Setenv("DRY_RUN", "true")
	t.Setenv("MM_ASSETS", "btc")
	t.Setenv("MM_TRADE_SIZE", "2.0")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "MM_TRADE_SIZE") {
		t.Fatalf("expected trade-size error, got %v", err)
	}
}

func TestLoadRejectsBadSellPrice(t *testing.T) {
	clearMMEnv(t)
	t.Setenv("DRY_RUN", "true")
	t.Setenv("MM_ASSETS", "btc")
	t.Setenv("MM_SELL_PRICE", "1.2")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "MM_SELL_PRICE") {
		t.Fatalf("expected sell-price error, got %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	clearMMEnv(t)
	t.Setenv("DRY_RUN", "true")
	t.Setenv("MM_DURATION", "1h")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "MM_DURATION") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestLoadRequiresKeyWhenLive(t *testing.T) {
	clearMMEnv(t)
	t.Setenv("MM_ASSETS", "btc")
	t.Setenv("RPC_URL", "https://polygon-rpc.example")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "PRIVATE_KEY") {
		t.Fatalf("expected private-key error, got %v", err)
	}
}

func TestLoadLiveConfig(t *testing.T) {
	clearMMEnv(t)
	t.Setenv("MM_ASSETS", "btc")
	t.Setenv("MM_DURATION", "15m")
	t.Setenv("MM_SELL_PRICE", "0.60")
	t.Setenv("MM_ADAPTIVE_CL", "true")
	t.Setenv("MM_ADAPTIVE_MIN_COMBINED", "1.20")
	t.Setenv("RPC_URL", "https://polygon-rpc.example")
	t.Setenv("PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("FUNDER", "0x3333333333333333333333333333333333333333")
	t.Setenv("SIGNATURE_TYPE", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SlotSeconds != 900 {
		t.Fatalf("slot seconds: %d", cfg.SlotSeconds)
	}
	if cfg.SellPriceMicros != 600_000 {
		t.Fatalf("sell price: %d", cfg.SellPriceMicros)
	}
	if cfg.AdaptiveMinCombinedMicros != 1_200_000 {
		t.Fatalf("min combined: %d", cfg.AdaptiveMinCombinedMicros)
	}
	if cfg.SignatureType != 2 {
		t.Fatalf("signature type: %d", cfg.SignatureType)
	}
	if cfg.Funder.Hex() != "0x3333333333333333333333333333333333333333" {
		t.Fatalf("funder: %s", cfg.Funder.Hex())
	}
	if cfg.PrivateKey == nil || cfg.Signer == (cfg.Funder) {
		t.Fatalf("signer not derived from key")
	}
}

func TestLoadCopyTradeRequiresLeader(t *testing.T) {
	clearMMEnv(t)
	t.Setenv("DRY_RUN", "true")
	t.Setenv("COPY_TRADE_ENABLED", "true")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "COPY_LEADER") {
		t.Fatalf("expected copy-leader error, got %v", err)
	}
}
