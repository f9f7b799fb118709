// Package config loads the clearinghouse's configuration from a YAML file
// with CLEARINGHOUSE_-prefixed environment overrides.
//
// Grounded on 0xtitan6-polymarket-mm's internal/config: a mapstructure-
// tagged Config struct loaded through viper, with env vars layered over
// the file for anything operational.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, mapping directly onto config.yaml.
type Config struct {
	Market  MarketConfig  `mapstructure:"market"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Rating  RatingConfig  `mapstructure:"rating"`
	Oracle  OracleConfig  `mapstructure:"oracle"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// MarketConfig sets the defaults new markets inherit and the matching
// engine's housekeeping intervals.
type MarketConfig struct {
	DefaultFeeRate       float64       `mapstructure:"default_fee_rate"`
	DefaultMinOrderSize  int64         `mapstructure:"default_min_order_size"`
	DefaultMaxPosition   int64         `mapstructure:"default_max_position"`
	ExpirySweepInterval  time.Duration `mapstructure:"expiry_sweep_interval"`
	CommandChannelBuffer int           `mapstructure:"command_channel_buffer"`
}

// LedgerConfig tunes the escrow ledger's bookkeeping.
type LedgerConfig struct {
	FeeWalletID string `mapstructure:"fee_wallet_id"`
}

// RatingConfig holds the composite-score thresholds spec.md §4.7 names as
// constants; exposed here so an operator can retune them without a rebuild.
type RatingConfig struct {
	MinRated                int     `mapstructure:"min_rated"`
	CertifyMinTrades        int     `mapstructure:"certify_min_trades"`
	CertificateValidityDays int     `mapstructure:"certificate_validity_days"`
	ConsistencyHistoryFloor int     `mapstructure:"consistency_history_floor"`
	SharpeFallback          float64 `mapstructure:"sharpe_fallback"`
}

// OracleConfig sets the resolver's default HTTP and retry policy, overridden
// per-market by that market's ResolutionSchema when present.
type OracleConfig struct {
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	DefaultRetryCount int           `mapstructure:"default_retry_count"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	BackoffJitter     float64       `mapstructure:"backoff_jitter"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const envPrefix = "CLEARINGHOUSE"

// Load reads config from a YAML file at path, applying
// CLEARINGHOUSE_-prefixed environment overrides (e.g. market.default_fee_rate
// is overridden by CLEARINGHOUSE_MARKET_DEFAULT_FEE_RATE).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: unmarshal: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("market.default_fee_rate", 0.02)
	v.SetDefault("market.default_min_order_size", 1)
	v.SetDefault("market.default_max_position", 1_000_000)
	v.SetDefault("market.expiry_sweep_interval", time.Second)
	v.SetDefault("market.command_channel_buffer", 256)

	v.SetDefault("ledger.fee_wallet_id", "platform-fees")

	v.SetDefault("rating.min_rated", 20)
	v.SetDefault("rating.certify_min_trades", 50)
	v.SetDefault("rating.certificate_validity_days", 90)
	v.SetDefault("rating.consistency_history_floor", 5)
	v.SetDefault("rating.sharpe_fallback", 3.0)

	v.SetDefault("oracle.default_timeout", 30*time.Second)
	v.SetDefault("oracle.default_retry_count", 3)
	v.SetDefault("oracle.backoff_initial", 100*time.Millisecond)
	v.SetDefault("oracle.backoff_multiplier", 2.0)
	v.SetDefault("oracle.backoff_max", 10*time.Second)
	v.SetDefault("oracle.backoff_jitter", 0.1)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Market.DefaultFeeRate < 0 || c.Market.DefaultFeeRate >= 1 {
		return fmt.Errorf("market.default_fee_rate must be in [0, 1)")
	}
	if c.Market.DefaultMinOrderSize <= 0 {
		return fmt.Errorf("market.default_min_order_size must be > 0")
	}
	if c.Ledger.FeeWalletID == "" {
		return fmt.Errorf("ledger.fee_wallet_id is required")
	}
	if c.Rating.MinRated <= 0 {
		return fmt.Errorf("rating.min_rated must be > 0")
	}
	if c.Rating.CertifyMinTrades < c.Rating.MinRated {
		return fmt.Errorf("rating.certify_min_trades must be >= rating.min_rated")
	}
	if c.Oracle.DefaultRetryCount <= 0 {
		return fmt.Errorf("oracle.default_retry_count must be > 0")
	}
	if c.Oracle.BackoffMultiplier <= 1 {
		return fmt.Errorf("oracle.backoff_multiplier must be > 1")
	}
	return nil
}
