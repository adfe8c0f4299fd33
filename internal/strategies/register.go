package strategies

import (
	"tradecore/internal/strategyrt"
	"tradecore/pkg/types"
)

// Registrations happen at package init, making every core available from
// the process-wide registry once this package is imported.
func init() {
	strategyrt.Register(strategyrt.Registration{
		ID:          "haa",
		Aliases:     []string{"hybrid-asset-allocation"},
		Name:        "HAA",
		Description: "Hybrid Asset Allocation with canary-driven defense",
		Timeframe:   "1d",
		Symbols:     DefaultHAAConfig().OffensiveAssets,
		Category:    strategyrt.CategoryMonthly,
		Markets:     []types.Market{types.MarketStock},
		Factory:     func() strategyrt.Strategy { return NewHAA() },
	})
	strategyrt.Register(strategyrt.Registration{
		ID:          "simple-power",
		Aliases:     []string{"sp"},
		Name:        "Simple Power",
		Description: "Monthly four-asset allocation with MA momentum cuts",
		Timeframe:   "1d",
		Symbols:     []string{"TQQQ", "SCHD", "PFIX", "TMF"},
		Category:    strategyrt.CategoryMonthly,
		Markets:     []types.Market{types.MarketStock},
		Factory:     func() strategyrt.Strategy { return NewSimplePower() },
	})
	strategyrt.Register(strategyrt.Registration{
		ID:          "stock-rotation",
		Aliases:     []string{"rotation"},
		Name:        "Stock Rotation",
		Description: "Monthly top-N momentum rotation",
		Timeframe:   "1d",
		Symbols:     DefaultStockRotationConfig().Universe,
		Category:    strategyrt.CategoryMonthly,
		Markets:     []types.Market{types.MarketStock},
		Factory:     func() strategyrt.Strategy { return NewStockRotation() },
	})
	strategyrt.Register(strategyrt.Registration{
		ID:          "candle-pattern",
		Aliases:     []string{"candles"},
		Name:        "Candle Pattern",
		Description: "Candlestick pattern detection and trading",
		Timeframe:   "1h",
		Category:    strategyrt.CategoryDaily,
		Markets:     []types.Market{types.MarketCrypto, types.MarketStock},
		Factory:     func() strategyrt.Strategy { return NewCandlePattern() },
	})
	strategyrt.Register(strategyrt.Registration{
		ID:          "rsi-mean-reversion",
		Aliases:     []string{"rsi"},
		Name:        "RSI Mean Reversion",
		Description: "RSI mean reversion with neutral-cross exits",
		Timeframe:   "1h",
		Category:    strategyrt.CategoryDaily,
		Markets:     []types.Market{types.MarketCrypto, types.MarketStock},
		Factory:     func() strategyrt.Strategy { return NewRSI() },
	})
	strategyrt.Register(strategyrt.Registration{
		ID:          "kospi-bothside",
		Aliases:     []string{"bothside"},
		Name:        "KOSPI BothSide",
		Description: "Dual leverage/inverse KOSPI ETF strategy",
		Timeframe:   "5m",
		Symbols:     []string{"122630", "252670"},
		Category:    strategyrt.CategoryIntraday,
		Markets:     []types.Market{types.MarketStock},
		Factory:     func() strategyrt.Strategy { return NewKOSPIBothSide() },
	})
}
