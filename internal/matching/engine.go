// Package matching simulates fills against OHLCV bars for backtests and
// paper trading: market orders fill at the bar close, limit orders when the
// bar range crosses the limit price, stop orders activate inside the bar
// range and then fill as their underlying type. Slippage is applied adverse
// to the order side; commission is a flat rate on fill notional.
package matching

import (
	"sync"
	"time"

	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// OrderMatch is one simulated fill.
type OrderMatch struct {
	OrderID      string
	Symbol       types.Symbol
	Side         types.Side
	Quantity     decimal.Decimal
	FillPrice    decimal.Decimal // slippage-adjusted
	Commission   decimal.Decimal
	SlippageCost decimal.Decimal // |fill - reference| * quantity
	Timestamp    time.Time
}

// restingOrder is an order waiting on the book for a triggering bar.
type restingOrder struct {
	order     types.Order
	activated bool // stop orders flip this once the stop price trades
}

// Engine matches resting orders against incoming bars. One Engine serves
// one run; all state sits behind a single mutex.
type Engine struct {
	mu             sync.Mutex
	resting        map[string][]*restingOrder // key: symbol string
	commissionRate decimal.Decimal
	slippageRate   decimal.Decimal
}

// NewEngine creates an Engine with the given commission and slippage rates
// (both fractions, e.g. 0.001 == 0.1%).
func NewEngine(commissionRate, slippageRate decimal.Decimal) *Engine {
	return &Engine{
		resting:        make(map[string][]*restingOrder),
		commissionRate: commissionRate,
		slippageRate:   slippageRate,
	}
}

// SubmitMarket fills a market order immediately at the reference price
// (typically the close of the bar that triggered it), slippage-adjusted
// adverse to side.
func (e *Engine) SubmitMarket(order types.Order, referencePrice decimal.Decimal, now time.Time) OrderMatch {
	fillPrice := e.adjustForSlippage(referencePrice, order.Side())
	return e.buildMatch(order, order.RemainingQuantity(), fillPrice, referencePrice, now)
}

// SubmitResting places a limit or stop order on the book; it will be
// evaluated against each subsequent bar by MatchBar.
func (e *Engine) SubmitResting(order types.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := order.Symbol().String()
	e.resting[key] = append(e.resting[key], &restingOrder{order: order})
}

// Cancel removes a resting order from the book.
func (e *Engine) Cancel(orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, orders := range e.resting {
		for i, ro := range orders {
			if ro.order.ID == orderID {
				e.resting[key] = append(orders[:i], orders[i+1:]...)
				return true
			}
		}
	}
	return false
}

// RestingCount returns the number of orders on the book for the symbol.
func (e *Engine) RestingCount(symbol types.Symbol) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.resting[symbol.String()])
}

// MatchBar evaluates every resting order for the bar's symbol against its
// range and returns the fills, removing filled orders from the book.
// Evaluation order is submission order, which keeps replays deterministic.
func (e *Engine) MatchBar(kline types.Kline) []OrderMatch {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := kline.Symbol.String()
	orders := e.resting[key]
	if len(orders) == 0 {
		return nil
	}

	var matches []OrderMatch
	var remaining []*restingOrder
	for _, ro := range orders {
		if match, ok := e.tryFill(ro, kline); ok {
			matches = append(matches, match)
		} else {
			remaining = append(remaining, ro)
		}
	}
	e.resting[key] = remaining
	return matches
}

func (e *Engine) tryFill(ro *restingOrder, kline types.Kline) (OrderMatch, bool) {
	order := &ro.order
	req := order.Request

	switch req.Type {
	case types.OrderMarket:
		fill := e.adjustForSlippage(kline.Close, req.Side)
		return e.buildMatch(*order, order.RemainingQuantity(), fill, kline.Close, kline.CloseTime), true

	case types.OrderLimit:
		return e.tryFillLimit(*order, *req.Price, kline)

	case types.OrderStopLoss, types.OrderTakeProfit:
		if !ro.activated {
			if !stopTouched(*req.StopPrice, kline) {
				return OrderMatch{}, false
			}
			ro.activated = true
		}
		// Activated: fill as market at the stop price (the bar traded
		// through it), slippage-adjusted.
		fill := e.adjustForSlippage(*req.StopPrice, req.Side)
		return e.buildMatch(*order, order.RemainingQuantity(), fill, *req.StopPrice, kline.CloseTime), true

	case types.OrderStopLossLimit, types.OrderTakeProfitLimit:
		if !ro.activated {
			if !stopTouched(*req.StopPrice, kline) {
				return OrderMatch{}, false
			}
			ro.activated = true
		}
		return e.tryFillLimit(*order, *req.Price, kline)

	default:
		return OrderMatch{}, false
	}
}

// tryFillLimit fills a limit order when the bar range crosses the limit:
// a buy fills when low <= limit, at min(limit, high); a sell fills when
// high >= limit, at max(limit, low).
func (e *Engine) tryFillLimit(order types.Order, limit decimal.Decimal, kline types.Kline) (OrderMatch, bool) {
	switch order.Side() {
	case types.Buy:
		if kline.Low.GreaterThan(limit) {
			return OrderMatch{}, false
		}
		price := decimal.Min(limit, kline.High)
		return e.buildMatch(order, order.RemainingQuantity(), price, price, kline.CloseTime), true
	default:
		if kline.High.LessThan(limit) {
			return OrderMatch{}, false
		}
		price := decimal.Max(limit, kline.Low)
		return e.buildMatch(order, order.RemainingQuantity(), price, price, kline.CloseTime), true
	}
}

// stopTouched reports whether the bar traded through the stop price:
// low <= stop <= high.
func stopTouched(stop decimal.Decimal, kline types.Kline) bool {
	return !kline.Low.GreaterThan(stop) && !kline.High.LessThan(stop)
}

// adjustForSlippage moves price adverse to side by the slippage fraction.
func (e *Engine) adjustForSlippage(price decimal.Decimal, side types.Side) decimal.Decimal {
	if e.slippageRate.IsZero() {
		return price
	}
	slip := price.Mul(e.slippageRate)
	if side == types.Buy {
		return price.Add(slip)
	}
	return price.Sub(slip)
}

func (e *Engine) buildMatch(order types.Order, qty, fillPrice, referencePrice decimal.Decimal, now time.Time) OrderMatch {
	notional := fillPrice.Mul(qty)
	return OrderMatch{
		OrderID:      order.ID,
		Symbol:       order.Symbol(),
		Side:         order.Side(),
		Quantity:     qty,
		FillPrice:    fillPrice,
		Commission:   notional.Mul(e.commissionRate),
		SlippageCost: fillPrice.Sub(referencePrice).Abs().Mul(qty),
		Timestamp:    now,
	}
}
