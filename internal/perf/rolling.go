package perf

import "tradecore/pkg/decimal"

// rollingWindow is a fixed-size deque of the most recent N trade returns
// (as ratios: 0.05 is 5%), maintaining a running sum and sum-of-squares for O(1)
// mean/variance, plus win/loss counters — spec.md §4.B "Rolling window".
type rollingWindow struct {
	size   int
	values []decimal.Decimal
	sum    decimal.Decimal
	sumSq  decimal.Decimal
	wins   int
	losses int
}

func newRollingWindow(size int) *rollingWindow {
	if size < 1 {
		size = 1
	}
	return &rollingWindow{
		size:   size,
		values: make([]decimal.Decimal, 0, size),
		sum:    decimal.Zero,
		sumSq:  decimal.Zero,
	}
}

// push adds a new return ratio, evicting the oldest when the deque
// exceeds its configured size.
func (w *rollingWindow) push(returnPct decimal.Decimal) {
	w.values = append(w.values, returnPct)
	w.sum = w.sum.Add(returnPct)
	w.sumSq = w.sumSq.Add(returnPct.Mul(returnPct))
	if returnPct.IsPositive() {
		w.wins++
	} else if returnPct.IsNegative() {
		w.losses++
	}

	if len(w.values) > w.size {
		evicted := w.values[0]
		w.values = w.values[1:]
		w.sum = w.sum.Sub(evicted)
		w.sumSq = w.sumSq.Sub(evicted.Mul(evicted))
		if evicted.IsPositive() {
			w.wins--
		} else if evicted.IsNegative() {
			w.losses--
		}
	}
}

func (w *rollingWindow) count() int { return len(w.values) }

func (w *rollingWindow) mean() decimal.Decimal {
	if len(w.values) == 0 {
		return decimal.Zero
	}
	return w.sum.Div(decimal.NewFromInt(int64(len(w.values))))
}

// sampleStdDev is the n-1 (Bessel-corrected) sample standard deviation,
// matching spec.md §4.B's Sharpe definition ("sample standard deviation
// (n−1)").
func (w *rollingWindow) sampleStdDev() decimal.Decimal {
	n := len(w.values)
	if n < 2 {
		return decimal.Zero
	}
	nDec := decimal.NewFromInt(int64(n))
	mean := w.mean()
	// variance = (sumSq - n*mean^2) / (n-1)
	variance := w.sumSq.Sub(nDec.Mul(mean).Mul(mean)).Div(decimal.NewFromInt(int64(n - 1)))
	if variance.IsNegative() {
		variance = decimal.Zero
	}
	return variance.Sqrt()
}

func (w *rollingWindow) winRate() decimal.Decimal {
	n := w.count()
	if n == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(w.wins)).Div(decimal.NewFromInt(int64(n)))
}
