package types

import "tradecore/pkg/decimal"

// UnrealizedPnL implements spec.md §4.A:
//
//	unrealized_pnl(entry, current, qty, Buy)  = (current - entry) * qty
//	unrealized_pnl(entry, current, qty, Sell) = (entry - current) * qty
func UnrealizedPnL(entry, current, qty decimal.Decimal, side Side) decimal.Decimal {
	if side == Buy {
		return current.Sub(entry).Mul(qty)
	}
	return entry.Sub(current).Mul(qty)
}

// RealizedPnL has the identical shape to UnrealizedPnL (spec.md §4.A) —
// "current" is replaced by the exit price.
func RealizedPnL(entry, exit, qty decimal.Decimal, side Side) decimal.Decimal {
	return UnrealizedPnL(entry, exit, qty, side)
}

// NetPnL is gross - fees (spec.md §4.A).
func NetPnL(gross, fees decimal.Decimal) decimal.Decimal {
	return gross.Sub(fees)
}

// ReturnPct computes a gross-of-fees percentage return on the given cost
// basis. spec.md §9's Open Question pins return_pct as gross (it excludes
// fees) while pnl is net — this function is the one place that decision is
// encoded, so every caller (RoundTrip construction, backtest metrics) stays
// consistent.
func ReturnPct(grossPnL, costBasis decimal.Decimal) decimal.Decimal {
	if costBasis.IsZero() {
		return decimal.Zero
	}
	return grossPnL.Div(costBasis).Mul(decimal.Hundred)
}
