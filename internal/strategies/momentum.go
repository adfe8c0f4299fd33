// Package strategies implements the strategy cores: the momentum-rotation
// family (HAA, Simple Power, stock rotation), the rebalance calculator they
// share, the candle-pattern engine, RSI mean reversion, and the intraday
// KOSPI both-side ETF strategy. Every strategy implements
// strategyrt.Strategy and registers itself with the runtime registry.
package strategies

import (
	"tradecore/pkg/decimal"
)

// Momentum lookback offsets in trading days: 1, 3, 6 and 12 months. The
// 12-month offset is 239 because histories index the current day at 0.
const (
	offset1M  = 20
	offset3M  = 60
	offset6M  = 120
	offset12M = 239

	// minMomentumHistory is the minimum history length for a momentum
	// score: a full 12 months of trading days.
	minMomentumHistory = 240

	// maxHistoryLen bounds the per-symbol price history.
	maxHistoryLen = 300
)

// priceHistory is a most-recent-first series of closes for one symbol.
type priceHistory []decimal.Decimal

// push prepends a price, trimming the history to maxHistoryLen.
func (h priceHistory) push(price decimal.Decimal) priceHistory {
	h = append(h, decimal.Zero)
	copy(h[1:], h)
	h[0] = price
	if len(h) > maxHistoryLen {
		h = h[:maxHistoryLen]
	}
	return h
}

// momentumScore computes the 12-point momentum score used by HAA and its
// siblings: r_1m + r_3m + r_6m + r_12m, where r_k = (P_0 - P_k) / P_k.
// The score is undefined (ok == false) with under 240 days of history or a
// zero divisor.
func momentumScore(prices priceHistory) (decimal.Decimal, bool) {
	if len(prices) < minMomentumHistory {
		return decimal.Zero, false
	}
	now := prices[0]
	refs := [4]decimal.Decimal{prices[offset1M], prices[offset3M], prices[offset6M], prices[offset12M]}

	score := decimal.Zero
	for _, ref := range refs {
		if ref.IsZero() {
			return decimal.Zero, false
		}
		score = score.Add(now.Sub(ref).Div(ref))
	}
	return score, true
}

// meanMomentum is the stock-rotation variant: the mean of the four period
// returns rather than their sum.
func meanMomentum(prices priceHistory) (decimal.Decimal, bool) {
	score, ok := momentumScore(prices)
	if !ok {
		return decimal.Zero, false
	}
	return score.Div(decimal.NewFromInt(4)), true
}

// sma computes the simple moving average over prices[offset : offset+period].
func sma(prices priceHistory, period, offset int) (decimal.Decimal, bool) {
	if len(prices) < offset+period {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, p := range prices[offset : offset+period] {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}
