// Package perf implements spec.md §4.B, the Performance Tracker: FIFO
// entry/exit matching into RoundTrips, rolling trade statistics, the equity
// curve, and threshold-crossing event emission. It is grounded on
// original_source's trader-analytics/src/performance/tracker.rs, translated
// into the teacher's single-writer-lock-per-subsystem idiom (see
// internal/ordermanager and internal/position for the sibling subsystems).
package perf

import (
	"fmt"
	"sync"
	"time"

	"tradecore/internal/events"
	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// Thresholds configures the Tracker's alerting behavior. A nil pointer
// disables that threshold entirely. Defaults mirror original_source's
// PerformanceThresholds::default(): a 15% drawdown alert and a 5-loss
// consecutive-loss alert, everything else off.
type Thresholds struct {
	DailyLossLimit       *decimal.Decimal
	MaxDrawdownAlertPct  *decimal.Decimal
	ConsecutiveLossAlert *int
	ProfitTargetPct      *decimal.Decimal
}

// DefaultThresholds returns the baseline alerting configuration.
func DefaultThresholds() Thresholds {
	mdd := decimal.NewFromInt(15)
	losses := 5
	return Thresholds{
		MaxDrawdownAlertPct:  &mdd,
		ConsecutiveLossAlert: &losses,
	}
}

// openLot is one unmatched entry fill awaiting a FIFO exit match.
type openLot struct {
	quantity   decimal.Decimal
	price      decimal.Decimal
	fees       decimal.Decimal
	strategyID string
	enteredAt  time.Time
}

// Tracker accounts for realized PnL, drawdown and rolling statistics across
// the life of a single run (spec.md §4.B). It is safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	initialCapital decimal.Decimal
	currentEquity  decimal.Decimal
	peakEquity     decimal.Decimal

	openLots   map[string][]openLot // key: symbol + ":" + entry side
	roundTrips []types.RoundTrip
	// roundTripSeq numbers round trips within this tracker; a counter
	// rather than a random id keeps backtest reports reproducible
	// byte-for-byte.
	roundTripSeq int
	equityCurve  []types.EquityPoint

	rolling *rollingWindow

	dailyPnL       decimal.Decimal
	dailyResetDate time.Time

	consecutiveWins   int
	consecutiveLosses int

	thresholds   Thresholds
	riskFreeRate float64

	// maxEquityHistoryDays disables equity-curve retention trimming when nil,
	// which the backtest engine relies on to keep the full curve for a final
	// report (spec.md §4.B "Retention policy").
	maxEquityHistoryDays *int

	bus *events.Broadcaster[Event]
}

const defaultRollingWindowSize = 100

// NewTracker constructs a Tracker. initialCapital must be positive; a
// non-positive value is a configuration error, never a panic (spec.md §7).
func NewTracker(initialCapital decimal.Decimal, thresholds Thresholds) (*Tracker, error) {
	if !initialCapital.IsPositive() {
		return nil, coreerr.New(coreerr.ClassConfig, "performance tracker: initial_capital must be > 0")
	}
	return &Tracker{
		initialCapital: initialCapital,
		currentEquity:  initialCapital,
		peakEquity:     initialCapital,
		openLots:       make(map[string][]openLot),
		rolling:        newRollingWindow(defaultRollingWindowSize),
		thresholds:     thresholds,
		riskFreeRate:   DefaultRiskFreeRate,
		bus:            events.New[Event](32),
	}, nil
}

// Subscribe returns a handle receiving every Event this Tracker publishes.
func (t *Tracker) Subscribe() *events.Subscription[Event] {
	return t.bus.Subscribe()
}

func lotKey(symbol types.Symbol, entrySide types.Side) string {
	return symbol.String() + ":" + string(entrySide)
}

// RecordEntry opens (or adds to) a FIFO lot. It does not touch the equity
// curve — see RecordEquity.
func (t *Tracker) RecordEntry(symbol types.Symbol, side types.Side, quantity, price, fees decimal.Decimal, strategyID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := lotKey(symbol, side)
	t.openLots[key] = append(t.openLots[key], openLot{
		quantity:   quantity,
		price:      price,
		fees:       fees,
		strategyID: strategyID,
		enteredAt:  now,
	})
}

// RecordExit matches an exit fill against open FIFO lots for
// (symbol, entrySide), producing one RoundTrip per consumed lot (a single
// exit spanning several lots yields several round trips, each keeping its
// own entry price and time). currentEquity is updated by the sum of their
// net PnL; the equity curve itself is untouched until RecordEquity is
// called, keeping bar-level mark-to-market separate from trade-level
// realization (spec.md §4.B, §4.I).
func (t *Tracker) RecordExit(symbol types.Symbol, entrySide types.Side, quantity, price, fees decimal.Decimal, strategyID string, now time.Time) []types.RoundTrip {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := lotKey(symbol, entrySide)
	lots := t.openLots[key]

	remaining := quantity
	var completed []types.RoundTrip

	i := 0
	for i < len(lots) && remaining.IsPositive() {
		lot := lots[i]
		matchQty := decimal.Min(lot.quantity, remaining)

		lotFeeShare := proportional(lot.fees, matchQty, lot.quantity)
		exitFeeShare := proportional(fees, matchQty, quantity)
		totalFees := lotFeeShare.Add(exitFeeShare)

		gross := types.RealizedPnL(lot.price, price, matchQty, entrySide)
		net := types.NetPnL(gross, totalFees)
		costBasis := lot.price.Mul(matchQty)

		t.roundTripSeq++
		rt := types.RoundTrip{
			ID:         fmt.Sprintf("rt-%d", t.roundTripSeq),
			Symbol:     symbol,
			Side:       entrySide,
			EntryPrice: lot.price,
			ExitPrice:  price,
			Quantity:   matchQty,
			Fees:       totalFees,
			PnL:        net,
			ReturnPct:  types.ReturnPct(gross, costBasis),
			EntryTime:  lot.enteredAt,
			ExitTime:   now,
			StrategyID: strategyID,
		}
		completed = append(completed, rt)
		t.applyRoundTrip(rt, now)

		lot.quantity = lot.quantity.Sub(matchQty)
		remaining = remaining.Sub(matchQty)
		if lot.quantity.IsZero() {
			i++
		} else {
			lots[i] = lot
			break
		}
	}
	t.openLots[key] = lots[i:]

	return completed
}

// proportional returns fee * (part/whole), or zero when whole is zero.
func proportional(fee, part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return fee.Mul(part).Div(whole)
}

func (t *Tracker) applyRoundTrip(rt types.RoundTrip, now time.Time) {
	t.roundTrips = append(t.roundTrips, rt)
	t.currentEquity = t.currentEquity.Add(rt.PnL)

	t.rolling.push(rt.ReturnPct.Div(decimal.Hundred))

	t.resetDailyIfNeeded(now)
	t.dailyPnL = t.dailyPnL.Add(rt.PnL)

	if rt.PnL.IsPositive() {
		t.consecutiveWins++
		t.consecutiveLosses = 0
	} else if rt.PnL.IsNegative() {
		t.consecutiveLosses++
		t.consecutiveWins = 0
	}

	t.bus.Publish(Event{Kind: EventRoundTripCompleted, Timestamp: now, RoundTrip: &rt})

	if t.thresholds.ConsecutiveLossAlert != nil && t.consecutiveLosses >= *t.thresholds.ConsecutiveLossAlert {
		t.bus.Publish(Event{Kind: EventConsecutiveLoss, Timestamp: now, ConsecutiveLosses: t.consecutiveLosses})
	}
	if t.thresholds.DailyLossLimit != nil && t.dailyPnL.LessThan(t.thresholds.DailyLossLimit.Neg()) {
		t.bus.Publish(Event{Kind: EventDailyLossLimit, Timestamp: now, DailyPnL: t.dailyPnL})
	}
	if t.thresholds.ProfitTargetPct != nil {
		totalReturn := t.currentEquity.Sub(t.initialCapital).Div(t.initialCapital).Mul(decimal.Hundred)
		if totalReturn.GreaterThanOrEqual(*t.thresholds.ProfitTargetPct) {
			t.bus.Publish(Event{Kind: EventProfitTargetReached, Timestamp: now, TotalReturnPct: totalReturn})
		}
	}
}

func (t *Tracker) resetDailyIfNeeded(now time.Time) {
	y1, m1, d1 := t.dailyResetDate.Date()
	y2, m2, d2 := now.Date()
	if y1 != y2 || m1 != m2 || d1 != d2 {
		t.dailyPnL = decimal.Zero
		t.dailyResetDate = now
	}
}

// RecordEquity is the sole place that advances the equity curve: it is
// called once per bar by the Backtest Engine (spec.md §4.I step 5) with a
// mark-to-market equity figure (cash + open position value). It updates the
// peak, computes drawdown, and appends the point.
func (t *Tracker) RecordEquity(now time.Time, equity decimal.Decimal) types.EquityPoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.currentEquity = equity
	if equity.GreaterThan(t.peakEquity) {
		t.peakEquity = equity
		t.bus.Publish(Event{Kind: EventNewEquityHigh, Timestamp: now, Equity: equity})
	}

	drawdown := decimal.Zero
	if t.peakEquity.IsPositive() {
		drawdown = t.peakEquity.Sub(equity).Div(t.peakEquity).Mul(decimal.Hundred)
	}

	point := types.EquityPoint{Timestamp: now, Equity: equity, DrawdownPct: drawdown}
	t.equityCurve = append(t.equityCurve, point)
	t.trimEquityHistory(now)

	if t.thresholds.MaxDrawdownAlertPct != nil && drawdown.GreaterThanOrEqual(*t.thresholds.MaxDrawdownAlertPct) {
		t.bus.Publish(Event{Kind: EventDrawdownAlert, Timestamp: now, Equity: equity, DrawdownPct: drawdown})
	}

	return point
}

func (t *Tracker) trimEquityHistory(now time.Time) {
	if t.maxEquityHistoryDays == nil {
		return
	}
	cutoff := now.AddDate(0, 0, -*t.maxEquityHistoryDays)
	i := 0
	for i < len(t.equityCurve) && t.equityCurve[i].Timestamp.Before(cutoff) {
		i++
	}
	t.equityCurve = t.equityCurve[i:]
}

// SetEquityRetention configures the bar-equity retention window in days. A
// nil value (the default) disables retention entirely, which the backtest
// engine relies on so its final report can see the whole run.
func (t *Tracker) SetEquityRetention(days *int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxEquityHistoryDays = days
}

// SetRiskFreeRate overrides the annualized risk-free rate used by Metrics.
func (t *Tracker) SetRiskFreeRate(rate float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.riskFreeRate = rate
}

// RoundTrips returns a copy of every completed round trip so far.
func (t *Tracker) RoundTrips() []types.RoundTrip {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.RoundTrip, len(t.roundTrips))
	copy(out, t.roundTrips)
	return out
}

// EquityCurve returns a copy of the recorded equity curve.
func (t *Tracker) EquityCurve() []types.EquityPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.EquityPoint, len(t.equityCurve))
	copy(out, t.equityCurve)
	return out
}

// CurrentEquity returns the tracker's latest equity figure.
func (t *Tracker) CurrentEquity() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentEquity
}

// Metrics computes the full PerformanceMetrics snapshot from the round trips
// recorded so far (spec.md §4.B).
func (t *Tracker) Metrics() types.PerformanceMetrics {
	t.mu.Lock()
	trades := make([]types.RoundTrip, len(t.roundTrips))
	copy(trades, t.roundTrips)
	initialCapital := t.initialCapital
	riskFreeRate := t.riskFreeRate
	t.mu.Unlock()

	return ComputeMetrics(trades, initialCapital, riskFreeRate)
}

// RollingWinRate reports the rolling window's win rate, distinct from Metrics'
// all-time WinRate (spec.md §4.B "rolling window ... win rate").
func (t *Tracker) RollingWinRate() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rolling.winRate()
}
