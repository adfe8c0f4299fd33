package perf

import (
	"time"

	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// TradingDaysPerYear anchors the annualization factor used throughout this
// package, matching original_source's TRADING_DAYS_PER_YEAR constant.
const TradingDaysPerYear = 252

// DefaultRiskFreeRate is the annualized risk-free rate used when none is
// configured, matching original_source's DEFAULT_RISK_FREE_RATE.
const DefaultRiskFreeRate = 0.05

// sortinoSentinel is returned when there are zero negative returns and a
// positive excess return — "very large" per spec.md §4.B.
var sortinoSentinel = decimal.NewFromInt(999_999)

// ComputeMetrics derives spec.md §4.B's PerformanceMetrics snapshot from a
// completed set of RoundTrips plus the initial capital. riskFreeRate is
// annualized (e.g. 0.05 == 5%).
func ComputeMetrics(trades []types.RoundTrip, initialCapital decimal.Decimal, riskFreeRate float64) types.PerformanceMetrics {
	var m types.PerformanceMetrics
	m.TotalTrades = len(trades)
	if len(trades) == 0 {
		return m
	}

	netProfit := decimal.Zero
	var wins, losses []decimal.Decimal
	for _, rt := range trades {
		netProfit = netProfit.Add(rt.PnL)
		if rt.PnL.IsPositive() {
			wins = append(wins, rt.PnL)
			m.WinningTrades++
		} else if rt.PnL.IsNegative() {
			losses = append(losses, rt.PnL)
			m.LosingTrades++
		}
	}
	m.NetProfit = netProfit
	m.TotalReturnPct = netProfit.Div(initialCapital).Mul(decimal.Hundred)

	first, last := firstEntryLastExit(trades)
	m.TradingDays = tradingDays(first, last)
	m.AnnualizedReturnPct = m.TotalReturnPct.Mul(decimal.NewFromInt(TradingDaysPerYear)).Div(decimal.NewFromInt(m.TradingDays))

	m.MaxDrawdownPct = maxDrawdownFromTrades(trades, initialCapital)

	m.SharpeRatio = sharpeRatio(trades, initialCapital, riskFreeRate, m.TradingDays)
	m.SortinoRatio = sortinoRatio(trades, initialCapital, riskFreeRate, m.TradingDays)

	if m.MaxDrawdownPct.IsZero() {
		m.CalmarRatio = decimal.Zero
	} else {
		m.CalmarRatio = m.AnnualizedReturnPct.Div(m.MaxDrawdownPct)
	}

	m.ProfitFactor = profitFactor(wins, losses)
	m.WinRate = decimal.NewFromInt(int64(m.WinningTrades)).Div(decimal.NewFromInt(int64(m.TotalTrades)))

	if len(wins) > 0 {
		m.AvgWin = sumDecimals(wins).Div(decimal.NewFromInt(int64(len(wins))))
	}
	if len(losses) > 0 {
		m.AvgLoss = sumDecimals(losses).Div(decimal.NewFromInt(int64(len(losses))))
	}

	lossRate := decimal.One.Sub(m.WinRate)
	m.Expectancy = m.WinRate.Mul(m.AvgWin).Sub(lossRate.Mul(m.AvgLoss.Abs()))

	return m
}

func sumDecimals(ds []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d)
	}
	return total
}

func firstEntryLastExit(trades []types.RoundTrip) (time.Time, time.Time) {
	first, last := trades[0].EntryTime, trades[0].ExitTime
	for _, rt := range trades[1:] {
		if rt.EntryTime.Before(first) {
			first = rt.EntryTime
		}
		if rt.ExitTime.After(last) {
			last = rt.ExitTime
		}
	}
	return first, last
}

// tradingDays implements spec.md §4.B: "max(1, last_exit - first_entry in days)".
func tradingDays(first, last time.Time) int64 {
	days := int64(last.Sub(first).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// maxDrawdownFromTrades builds the sequential equity curve by applying each
// RoundTrip's pnl in exit-time order, and returns the peak-to-trough
// drawdown percentage over that curve (spec.md §4.B).
func maxDrawdownFromTrades(trades []types.RoundTrip, initialCapital decimal.Decimal) decimal.Decimal {
	ordered := make([]types.RoundTrip, len(trades))
	copy(ordered, trades)
	sortByExitTime(ordered)

	equity := initialCapital
	peak := initialCapital
	maxDD := decimal.Zero
	for _, rt := range ordered {
		equity = equity.Add(rt.PnL)
		peak = decimal.Max(peak, equity)
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(equity).Div(peak).Mul(decimal.Hundred)
		maxDD = decimal.Max(maxDD, dd)
	}
	return maxDD
}

func sortByExitTime(trades []types.RoundTrip) {
	// Simple insertion sort: round-trip batches are small enough (bounded by
	// a single run's trade count) that O(n^2) never matters in practice, and
	// it keeps the sort stable without pulling in sort.Slice's reflection.
	for i := 1; i < len(trades); i++ {
		j := i
		for j > 0 && trades[j-1].ExitTime.After(trades[j].ExitTime) {
			trades[j-1], trades[j] = trades[j], trades[j-1]
			j--
		}
	}
}

// sharpeRatio implements spec.md §4.B:
// per-trade returns as ratios (pct/100); (mean - daily_rf) / sample stddev
// (n-1); annualized by sqrt(min(trading_days, 252)); zero when fewer than
// two samples or sigma == 0.
func sharpeRatio(trades []types.RoundTrip, initialCapital decimal.Decimal, riskFreeRate float64, tradingDays int64) decimal.Decimal {
	returns := tradeReturns(trades)
	if len(returns) < 2 {
		return decimal.Zero
	}
	w := newRollingWindow(len(returns))
	for _, r := range returns {
		w.push(r)
	}
	sigma := w.sampleStdDev()
	if sigma.IsZero() {
		return decimal.Zero
	}

	dailyRF := decimal.NewFromFloat(riskFreeRate).Div(decimal.NewFromInt(TradingDaysPerYear))
	excess := w.mean().Sub(dailyRF)
	annualizer := decimal.NewFromInt(minInt64(tradingDays, TradingDaysPerYear)).Sqrt()
	return excess.Div(sigma).Mul(annualizer)
}

// sortinoRatio implements spec.md §4.B: same as Sharpe but the denominator
// is the root-mean-square of only the negative returns; when there are zero
// negatives and excess return > 0, returns the "very large" sentinel.
func sortinoRatio(trades []types.RoundTrip, initialCapital decimal.Decimal, riskFreeRate float64, tradingDays int64) decimal.Decimal {
	returns := tradeReturns(trades)
	if len(returns) < 2 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, r := range returns {
		sum = sum.Add(r)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(returns))))

	dailyRF := decimal.NewFromFloat(riskFreeRate).Div(decimal.NewFromInt(TradingDaysPerYear))
	excess := mean.Sub(dailyRF)

	sumSqNeg := decimal.Zero
	negCount := 0
	for _, r := range returns {
		if r.IsNegative() {
			sumSqNeg = sumSqNeg.Add(r.Mul(r))
			negCount++
		}
	}

	if negCount == 0 {
		if excess.IsPositive() {
			return sortinoSentinel
		}
		return decimal.Zero
	}

	downsideDev := sumSqNeg.Div(decimal.NewFromInt(int64(negCount))).Sqrt()
	if downsideDev.IsZero() {
		return decimal.Zero
	}

	annualizer := decimal.NewFromInt(minInt64(tradingDays, TradingDaysPerYear)).Sqrt()
	return excess.Div(downsideDev).Mul(annualizer)
}

// tradeReturns converts each RoundTrip's ReturnPct into a ratio (pct/100),
// per spec.md §4.B "compute per-trade returns as ratios (pct/100)".
func tradeReturns(trades []types.RoundTrip) []decimal.Decimal {
	returns := make([]decimal.Decimal, len(trades))
	for i, rt := range trades {
		returns[i] = rt.ReturnPct.Div(decimal.Hundred)
	}
	return returns
}

func profitFactor(wins, losses []decimal.Decimal) decimal.Decimal {
	grossWins := sumDecimals(wins)
	grossLosses := sumDecimals(losses).Abs()
	if grossLosses.IsZero() {
		return decimal.Zero
	}
	return grossWins.Div(grossLosses)
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
