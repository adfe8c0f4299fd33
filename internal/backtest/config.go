package backtest

import (
	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// Config parameterizes one backtest run.
type Config struct {
	InitialCapital     decimal.Decimal `json:"initial_capital"`
	CommissionRate     decimal.Decimal `json:"commission_rate"`
	SlippageRate       decimal.Decimal `json:"slippage_rate"`
	MaxPositions       int             `json:"max_positions"`
	MaxPositionSizePct decimal.Decimal `json:"max_position_size_pct"`
	RiskFreeRate       float64         `json:"risk_free_rate"`
	ExchangeName       string          `json:"exchange_name"`
	AllowShort         bool            `json:"allow_short"`
	AllowMargin        bool            `json:"allow_margin"`
}

// DefaultConfig is a conservative starting point: $100k, 10 bps
// commission, long-only.
func DefaultConfig() Config {
	return Config{
		InitialCapital:     decimal.NewFromInt(100_000),
		CommissionRate:     decimal.MustFromString("0.001"),
		SlippageRate:       decimal.Zero,
		MaxPositions:       10,
		MaxPositionSizePct: decimal.One,
		RiskFreeRate:       0.05,
		ExchangeName:       "backtest",
	}
}

// Validate checks the run preconditions.
func (c Config) Validate() error {
	if !c.InitialCapital.IsPositive() {
		return coreerr.New(coreerr.ClassConfig, "backtest: initial_capital must be > 0")
	}
	if c.CommissionRate.IsNegative() {
		return coreerr.New(coreerr.ClassConfig, "backtest: commission_rate must be >= 0")
	}
	if c.SlippageRate.IsNegative() {
		return coreerr.New(coreerr.ClassConfig, "backtest: slippage_rate must be >= 0")
	}
	if c.MaxPositionSizePct.IsNegative() || c.MaxPositionSizePct.GreaterThan(decimal.One) {
		return coreerr.New(coreerr.ClassConfig, "backtest: max_position_size_pct must be in [0, 1]")
	}
	return nil
}

// validateKlines checks the data preconditions: non-empty and
// monotone-non-decreasing open_time.
func validateKlines(klines []types.Kline) error {
	if len(klines) == 0 {
		return coreerr.New(coreerr.ClassData, "backtest: no klines")
	}
	for i := 1; i < len(klines); i++ {
		if klines[i].OpenTime.Before(klines[i-1].OpenTime) {
			return coreerr.Newf(coreerr.ClassData,
				"backtest: klines unsorted at index %d (%s before %s)",
				i, klines[i].OpenTime, klines[i-1].OpenTime)
		}
	}
	return nil
}
