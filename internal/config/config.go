// Package config builds the strongly-typed runtime configuration from the
// environment at startup. Every recognized option maps to one field with
// parse-time bounds; unknown MM_* keys are errors, not silently ignored.
package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"poly-gomm/internal/clob"
	"poly-gomm/internal/ctf"
)

// knownMMKeys is the closed set of MM_* environment options.
var knownMMKeys = map[string]struct{}{
	"MM_ASSETS":                {},
	"MM_DURATION":              {},
	"MM_TRADE_SIZE":            {},
	"MM_SELL_PRICE":            {},
	"MM_CUT_LOSS_TIME":         {},
	"MM_POLL_INTERVAL":         {},
	"MM_ADAPTIVE_CL":           {},
	"MM_ADAPTIVE_MIN_COMBINED": {},
	"MM_ADAPTIVE_MONITOR_SEC":  {},
	"MM_RECOVERY_BUY":          {},
	"MM_RECOVERY_THRESHOLD":    {},
	"MM_RECOVERY_SIZE":         {},
}

type Config struct {
	// Market-maker engine.
	Assets                    []string
	Duration                  string
	SlotSeconds               int64
	TradeSizeMicros           int64
	SellPriceMicros           int64
	CutLossTime               time.Duration
	PollInterval              time.Duration
	AdaptiveCL                bool
	AdaptiveMinCombinedMicros int64
	AdaptiveMonitorInterval   time.Duration
	RecoveryBuy               bool
	RecoveryThresholdMicros   int64
	RecoverySizeMicros        int64

	// Shared.
	RedeemInterval time.Duration
	DryRun         bool
	TradesOutFile  string
	StateFile      string

	// Venue endpoints.
	CLOBHost   string
	GammaURL   string
	DataAPIURL string
	RPCURL     string
	ChainID    int64

	// Signing / auth.
	PrivateKey    *ecdsa.PrivateKey
	Signer        common.Address
	Funder        common.Address
	SignatureType int
	APIKey        string
	APISecret     string
	APIPassphrase string

	// Notifications.
	TelegramBotToken string
	TelegramChatID   string

	// Copy trade.
	CopyTradeEnabled          bool
	CopyLeader                string
	CopySizeMode              string
	CopySizePercent           float64
	CopyMaxPositionSizeMicros int64
	RTDSURL                   string
}

// MMEnabled reports whether the market-maker engine runs at all.
func (c *Config) MMEnabled() bool { return len(c.Assets) > 0 }

// Load reads and validates the configuration from the environment.
func Load() (*Config, error) {
	if err := rejectUnknownMMKeys(os.Environ()); err != nil {
		return nil, err
	}

	cfg := &Config{
		Duration:         strings.TrimSpace(envOr("MM_DURATION", "5m")),
		CLOBHost:         strings.TrimSpace(os.Getenv("CLOB_HOST")),
		GammaURL:         strings.TrimSpace(os.Getenv("GAMMA_URL")),
		DataAPIURL:       strings.TrimSpace(os.Getenv("DATA_API_URL")),
		RPCURL:           strings.TrimSpace(os.Getenv("RPC_URL")),
		ChainID:          137,
		TradesOutFile:    strings.TrimSpace(envOr("TRADES_OUT_FILE", "./out/trades.jsonl")),
		StateFile:        strings.TrimSpace(envOr("STATE_FILE", "./out/state.json")),
		APIKey:           strings.TrimSpace(os.Getenv("CLOB_API_KEY")),
		APISecret:        strings.TrimSpace(os.Getenv("CLOB_SECRET")),
		APIPassphrase:    strings.TrimSpace(os.Getenv("CLOB_PASSPHRASE")),
		TelegramBotToken: strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		TelegramChatID:   strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")),
		RTDSURL:          strings.TrimSpace(os.Getenv("RTDS_URL")),
	}

	for _, asset := range strings.Split(os.Getenv("MM_ASSETS"), ",") {
		asset = strings.ToLower(strings.TrimSpace(asset))
		if asset != "" {
			cfg.Assets = append(cfg.Assets, asset)
		}
	}

	switch cfg.Duration {
	case "5m":
		cfg.SlotSeconds = 300
	case "15m":
		cfg.SlotSeconds = 900
	default:
		return nil, fmt.Errorf("MM_DURATION must be 5m or 15m, got %q", cfg.Duration)
	}

	var err error
	if cfg.TradeSizeMicros, err = envMicros("MM_TRADE_SIZE", "5"); err != nil {
		return nil, err
	}
	if cfg.SellPriceMicros, err = envMicros("MM_SELL_PRICE", "0.55"); err != nil {
		return nil, err
	}
	if cfg.CutLossTime, err = envSeconds("MM_CUT_LOSS_TIME", 60); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = envSeconds("MM_POLL_INTERVAL", 10); err != nil {
		return nil, err
	}
	if cfg.AdaptiveCL, err = envBool("MM_ADAPTIVE_CL", false); err != nil {
		return nil, err
	}
	if cfg.AdaptiveMinCombinedMicros, err = envMicros("MM_ADAPTIVE_MIN_COMBINED", "1.0"); err != nil {
		return nil, err
	}
	if cfg.AdaptiveMonitorInterval, err = envSeconds("MM_ADAPTIVE_MONITOR_SEC", 5); err != nil {
		return nil, err
	}
	if cfg.RecoveryBuy, err = envBool("MM_RECOVERY_BUY", false); err != nil {
		return nil, err
	}
	if cfg.RecoveryThresholdMicros, err = envMicros("MM_RECOVERY_THRESHOLD", "0.8"); err != nil {
		return nil, err
	}
	if cfg.RecoverySizeMicros, err = envMicros("MM_RECOVERY_SIZE", "0"); err != nil {
		return nil, err
	}
	if cfg.RedeemInterval, err = envSeconds("REDEEM_INTERVAL", 60); err != nil {
		return nil, err
	}
	if cfg.DryRun, err = envBool("DRY_RUN", false); err != nil {
		return nil, err
	}

	if err := cfg.loadSigning(); err != nil {
		return nil, err
	}
	if err := cfg.loadCopyTrade(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadSigning() error {
	pkHex := strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_PRIVATE_KEY"), os.Getenv("PRIVATE_KEY")))
	if pkHex != "" {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(pkHex, "0x"))
		if err != nil {
			return fmt.Errorf("invalid PRIVATE_KEY: %w", err)
		}
		c.PrivateKey = pk
		c.Signer = crypto.PubkeyToAddress(pk.PublicKey)
	}

	if raw := strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_FUNDER"), os.Getenv("FUNDER"))); raw != "" {
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("invalid FUNDER %q", raw)
		}
		c.Funder = common.HexToAddress(raw)
	} else {
		c.Funder = c.Signer
	}

	if raw := strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_SIGNATURE_TYPE"), os.Getenv("SIGNATURE_TYPE"))); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid SIGNATURE_TYPE %q: %w", raw, err)
		}
		c.SignatureType = v
	}
	return nil
}

func (c *Config) loadCopyTrade() error {
	var err error
	if c.CopyTradeEnabled, err = envBool("COPY_TRADE_ENABLED", false); err != nil {
		return err
	}
	c.CopyLeader = strings.TrimSpace(os.Getenv("COPY_LEADER"))
	c.CopySizeMode = strings.TrimSpace(envOr("COPY_SIZE_MODE", "percent"))
	if raw := strings.TrimSpace(envOr("COPY_SIZE_PERCENT", "0.1")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid COPY_SIZE_PERCENT %q: %w", raw, err)
		}
		c.CopySizePercent = v
	}
	if c.CopyMaxPositionSizeMicros, err = envMicros("COPY_MAX_POSITION_SIZE", "0"); err != nil {
		return err
	}
	return nil
}

func (c *Config) validate() error {
	if c.MMEnabled() {
		if c.TradeSizeMicros < ctf.MinSharesPerSideMicros {
			return fmt.Errorf("MM_TRADE_SIZE must be >= 2.5, got %s", clob.FormatUnits(c.TradeSizeMicros))
		}
		if c.SellPriceMicros <= 0 || c.SellPriceMicros >= clob.UnitScale {
			return fmt.Errorf("MM_SELL_PRICE must be in (0, 1), got %s", clob.FormatUnits(c.SellPriceMicros))
		}
		if c.CutLossTime <= 0 {
			return fmt.Errorf("MM_CUT_LOSS_TIME must be > 0")
		}
		if c.PollInterval <= 0 {
			return fmt.Errorf("MM_POLL_INTERVAL must be > 0")
		}
		if c.AdaptiveCL {
			if c.AdaptiveMinCombinedMicros <= 0 || c.AdaptiveMinCombinedMicros >= 2*clob.UnitScale {
				return fmt.Errorf("MM_ADAPTIVE_MIN_COMBINED must be in (0, 2), got %s", clob.FormatUnits(c.AdaptiveMinCombinedMicros))
			}
			if c.AdaptiveMonitorInterval <= 0 {
				return fmt.Errorf("MM_ADAPTIVE_MONITOR_SEC must be > 0")
			}
		}
		if c.RecoveryBuy {
			if c.RecoveryThresholdMicros <= 0 || c.RecoveryThresholdMicros >= clob.UnitScale {
				return fmt.Errorf("MM_RECOVERY_THRESHOLD must be in (0, 1), got %s", clob.FormatUnits(c.RecoveryThresholdMicros))
			}
		}
	}
	if c.RedeemInterval <= 0 {
		return fmt.Errorf("REDEEM_INTERVAL must be > 0")
	}
	if !c.DryRun {
		if c.PrivateKey == nil {
			return fmt.Errorf("PRIVATE_KEY required unless DRY_RUN=true")
		}
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL required unless DRY_RUN=true")
		}
		if c.Funder == (common.Address{}) {
			return fmt.Errorf("FUNDER required: set FUNDER/CLOB_FUNDER or PRIVATE_KEY")
		}
	}
	if c.CopyTradeEnabled && c.CopyLeader == "" {
		return fmt.Errorf("COPY_LEADER required when COPY_TRADE_ENABLED=true")
	}
	return nil
}

// rejectUnknownMMKeys fails fast on misspelled engine options.
func rejectUnknownMMKeys(environ []string) error {
	for _, kv := range environ {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if !strings.HasPrefix(key, "MM_") {
			continue
		}
		if _, known := knownMMKeys[key]; !known {
			return fmt.Errorf("unknown option %s (check spelling against the documented MM_* options)", key)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func envMicros(key, fallback string) (int64, error) {
	raw := strings.TrimSpace(envOr(key, fallback))
	v, err := clob.ParseUnits(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envSeconds(key string, fallback int64) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return time.Duration(fallback) * time.Second, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return time.Duration(v) * time.Second, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
