package backtest

import (
	"encoding/json"
	"sort"
	"time"

	"tradecore/internal/perf"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// Report is the JSON-serializable run summary.
type Report struct {
	Config              Config                              `json:"config"`
	Metrics             types.PerformanceMetrics            `json:"metrics"`
	Trades              []types.RoundTrip                   `json:"trades"`
	EquityCurve         []types.EquityPoint                 `json:"equity_curve"`
	TotalOrders         int                                 `json:"total_orders"`
	TotalCommission     decimal.Decimal                     `json:"total_commission"`
	TotalSlippage       decimal.Decimal                     `json:"total_slippage"`
	StartTime           time.Time                           `json:"start_time"`
	EndTime             time.Time                           `json:"end_time"`
	DataPoints          int                                 `json:"data_points"`
	FinalEquity         decimal.Decimal                     `json:"final_equity"`
	PerformanceBySymbol map[string]types.PerformanceMetrics `json:"performance_by_symbol"`
}

func (e *Engine) buildReport(klines []types.Kline) *Report {
	trades := e.tracker.RoundTrips()

	bySymbol := make(map[string][]types.RoundTrip)
	for _, rt := range trades {
		key := rt.Symbol.String()
		bySymbol[key] = append(bySymbol[key], rt)
	}
	perSymbol := make(map[string]types.PerformanceMetrics, len(bySymbol))
	for sym, rts := range bySymbol {
		perSymbol[sym] = perf.ComputeMetrics(rts, e.cfg.InitialCapital, e.cfg.RiskFreeRate)
	}

	return &Report{
		Config:              e.cfg,
		Metrics:             e.tracker.Metrics(),
		Trades:              trades,
		EquityCurve:         e.tracker.EquityCurve(),
		TotalOrders:         e.totalOrders,
		TotalCommission:     e.totalCommission,
		TotalSlippage:       e.totalSlippage,
		StartTime:           klines[0].OpenTime,
		EndTime:             klines[len(klines)-1].CloseTime,
		DataPoints:          len(klines),
		FinalEquity:         e.tracker.CurrentEquity(),
		PerformanceBySymbol: perSymbol,
	}
}

// MarshalIndent renders the report as pretty JSON with symbol keys in
// stable order (map marshaling in encoding/json already sorts keys, so
// repeated runs produce identical bytes).
func (r *Report) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Symbols lists the symbols with at least one round trip, sorted.
func (r *Report) Symbols() []string {
	out := make([]string, 0, len(r.PerformanceBySymbol))
	for sym := range r.PerformanceBySymbol {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
