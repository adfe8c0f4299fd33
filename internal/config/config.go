// Package config defines all configuration for the trading core. Config is
// loaded from a YAML file (default: configs/config.yaml) with sensitive
// fields overridable via TRADECORE_* environment variables; a local .env
// file is loaded first when present.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tradecore/pkg/decimal"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Backtest   BacktestConfig   `mapstructure:"backtest"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
	Store      StoreConfig      `mapstructure:"store"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ExchangeConfig holds venue endpoints and credentials. Empty credentials
// restrict the connector to public (market data) endpoints.
type ExchangeConfig struct {
	Name       string `mapstructure:"name"`
	BaseURL    string `mapstructure:"base_url"`
	WSUserURL  string `mapstructure:"ws_user_url"`
	APIKey     string `mapstructure:"api_key"`
	Secret     string `mapstructure:"secret"`
	Passphrase string `mapstructure:"passphrase"`
}

// BacktestConfig holds run parameters for the backtest CLI. Decimal
// fields are YAML strings so money never round-trips through float64.
type BacktestConfig struct {
	InitialCapital     string  `mapstructure:"initial_capital"`
	CommissionRate     string  `mapstructure:"commission_rate"`
	SlippageRate       string  `mapstructure:"slippage_rate"`
	MaxPositions       int     `mapstructure:"max_positions"`
	MaxPositionSizePct string  `mapstructure:"max_position_size_pct"`
	RiskFreeRate       float64 `mapstructure:"risk_free_rate"`
	AllowShort         bool    `mapstructure:"allow_short"`
	AllowMargin        bool    `mapstructure:"allow_margin"`
}

// RiskConfig holds the pre-trade gate limits.
type RiskConfig struct {
	MaxPositionSize        string `mapstructure:"max_position_size"`
	MaxConcurrentPositions int    `mapstructure:"max_concurrent_positions"`
	MaxDailyLoss           string `mapstructure:"max_daily_loss"`
	MaxPositionPct         string `mapstructure:"max_position_pct"`
	DefaultStopLossPct     string `mapstructure:"default_stop_loss_pct"`
	DefaultTakeProfitPct   string `mapstructure:"default_take_profit_pct"`
}

// BreakerConfig tunes the per-venue circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
	// Preset selects category thresholds: "default", "conservative" or
	// "aggressive". Empty disables category tracking.
	Preset string `mapstructure:"preset"`
}

// ExecutorConfig tunes signal conversion.
type ExecutorConfig struct {
	MinStrength     string `mapstructure:"min_strength"`
	UseMarketOrders bool   `mapstructure:"use_market_orders"`
	Slippage        string `mapstructure:"slippage"`
	AutoStopLoss    bool   `mapstructure:"auto_stop_loss"`
	AutoTakeProfit  bool   `mapstructure:"auto_take_profit"`
}

// StrategyConfig selects and parameterizes one strategy instance. Params
// is passed verbatim to Strategy.Initialize.
type StrategyConfig struct {
	ID     string         `mapstructure:"id"`
	Params map[string]any `mapstructure:"params"`
}

// ParamsJSON renders Params for Strategy.Initialize.
func (s StrategyConfig) ParamsJSON() (json.RawMessage, error) {
	if len(s.Params) == 0 {
		return nil, nil
	}
	return json.Marshal(s.Params)
}

// StoreConfig sets where the local snapshot database lives.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig points at the equity-snapshot repository.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. Sensitive
// fields use env vars: TRADECORE_API_KEY, TRADECORE_API_SECRET,
// TRADECORE_PASSPHRASE, TRADECORE_DB_DSN.
func Load(path string) (*Config, error) {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("TRADECORE_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("TRADECORE_API_SECRET"); secret != "" {
		cfg.Exchange.Secret = secret
	}
	if pass := os.Getenv("TRADECORE_PASSPHRASE"); pass != "" {
		cfg.Exchange.Passphrase = pass
	}
	if dsn := os.Getenv("TRADECORE_DB_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if os.Getenv("TRADECORE_DRY_RUN") == "true" || os.Getenv("TRADECORE_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Exchange.Name == "" {
		return fmt.Errorf("exchange.name is required")
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	for i, s := range c.Strategies {
		if s.ID == "" {
			return fmt.Errorf("strategies[%d].id is required", i)
		}
	}
	if c.Backtest.InitialCapital != "" {
		capital, err := decimal.NewFromString(c.Backtest.InitialCapital)
		if err != nil {
			return fmt.Errorf("backtest.initial_capital: %w", err)
		}
		if !capital.IsPositive() {
			return fmt.Errorf("backtest.initial_capital must be > 0")
		}
	}
	switch c.Breaker.Preset {
	case "", "default", "conservative", "aggressive":
	default:
		return fmt.Errorf("breaker.preset must be default, conservative or aggressive")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}

// DecimalField parses a decimal-as-string config field, returning the
// fallback when empty.
func DecimalField(raw string, fallback decimal.Decimal) (decimal.Decimal, error) {
	if raw == "" {
		return fallback, nil
	}
	return decimal.NewFromString(raw)
}
