// Package types defines the shared domain vocabulary used across every
// tradecore subsystem: symbols, sides, klines, orders, fills, positions,
// round-trips, and the Signal/MarketData contract between a Strategy and the
// Order Executor. It has no dependency on any internal package, so it can be
// imported by any layer.
package types

import (
	"time"

	"tradecore/pkg/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Market tags the venue class a Symbol trades on.
type Market string

const (
	MarketCrypto Market = "CRYPTO"
	MarketStock  Market = "STOCK"
)

// Side represents the direction of an order or position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the supported order lifecycles (spec.md §3).
type OrderType string

const (
	OrderMarket          OrderType = "MARKET"
	OrderLimit           OrderType = "LIMIT"
	OrderStopLoss        OrderType = "STOP_LOSS"
	OrderStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	OrderTakeProfit      OrderType = "TAKE_PROFIT"
	OrderTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
)

// IsStopType reports whether the order type activates off a stop price.
func (t OrderType) IsStopType() bool {
	switch t {
	case OrderStopLoss, OrderStopLossLimit, OrderTakeProfit, OrderTakeProfitLimit:
		return true
	default:
		return false
	}
}

// TimeInForce controls how long an order rests on the book.
type TimeInForce string

const (
	TIFGoodTilCancel     TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFFillOrKill        TimeInForce = "FOK"
)

// OrderStatus is the lifecycle state of an Order (spec.md §3).
//
//	created → Pending → [Submit] → Open → (PartiallyFilled)* → Filled | Cancelled | Rejected | Expired
//
// Filled, Cancelled, Rejected and Expired are terminal: no transition leaves
// a terminal state (spec.md Testable Property 4).
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status is one of the terminal states.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// ————————————————————————————————————————————————————————————————————————
// Symbol
// ————————————————————————————————————————————————————————————————————————

// Symbol is a (base, quote) trading pair on a given market.
type Symbol struct {
	Base   string
	Quote  string
	Market Market
}

// NewSymbol builds a Symbol.
func NewSymbol(base, quote string, market Market) Symbol {
	return Symbol{Base: base, Quote: quote, Market: market}
}

// String is the canonical "BASE/QUOTE" form (spec.md §3).
func (s Symbol) String() string {
	return s.Base + "/" + s.Quote
}

// ————————————————————————————————————————————————————————————————————————
// Kline
// ————————————————————————————————————————————————————————————————————————

// Kline is one OHLCV bar. Invariant (spec.md §3):
// low <= min(open,close) <= max(open,close) <= high; open_time < close_time.
type Kline struct {
	Symbol     Symbol
	Timeframe  string
	OpenTime   time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
	CloseTime  time.Time
	TradeCount *int64
}

// Validate checks the OHLC and time-ordering invariants from spec.md §3.
func (k Kline) Validate() error {
	hi := decimal.Max(k.Open, k.Close)
	lo := decimal.Min(k.Open, k.Close)
	if k.Low.GreaterThan(lo) {
		return newDataError("kline: low exceeds min(open,close)")
	}
	if hi.GreaterThan(k.High) {
		return newDataError("kline: max(open,close) exceeds high")
	}
	if !k.OpenTime.Before(k.CloseTime) {
		return newDataError("kline: open_time must be before close_time")
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is an immutable order instruction, as produced by the Order
// Executor from a Signal.
type OrderRequest struct {
	Symbol        Symbol
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	Price         *decimal.Decimal // required for Limit
	StopPrice     *decimal.Decimal // required for Stop* types
	TIF           TimeInForce
	ClientOrderID string
	StrategyID    string
}

// Validate checks OrderRequest's structural invariants from spec.md §3.
func (r OrderRequest) Validate() error {
	if !r.Quantity.IsPositive() {
		return newDataError("order request: quantity must be > 0")
	}
	if r.Type == OrderLimit && r.Price == nil {
		return newDataError("order request: limit order requires a price")
	}
	if r.Type.IsStopType() && r.StopPrice == nil {
		return newDataError("order request: stop order requires a stop price")
	}
	return nil
}

// Order is the stateful, locally-unique record of a submitted order.
type Order struct {
	ID               string
	Exchange         string
	ExchangeOrderID  string
	Request          OrderRequest
	Status           OrderStatus
	FilledQuantity   decimal.Decimal
	AverageFillPrice decimal.Decimal
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (o Order) Symbol() Symbol     { return o.Request.Symbol }
func (o Order) Side() Side         { return o.Request.Side }
func (o Order) StrategyID() string { return o.Request.StrategyID }

// RemainingQuantity is Quantity - FilledQuantity, clamped at zero.
func (o Order) RemainingQuantity() decimal.Decimal {
	rem := o.Request.Quantity.Sub(o.FilledQuantity)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// OrderFill is a single execution against an order.
type OrderFill struct {
	OrderID         string
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
	Timestamp       time.Time
}

// Validate checks OrderFill's structural invariants from spec.md §3.
func (f OrderFill) Validate() error {
	if !f.Quantity.IsPositive() {
		return newDataError("order fill: quantity must be > 0")
	}
	if !f.Price.IsPositive() {
		return newDataError("order fill: price must be > 0")
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Positions & round trips
// ————————————————————————————————————————————————————————————————————————

// Position is the current open exposure in one symbol for one strategy
// namespace. Created on first fill; closed (quantity -> 0) finalizes
// realized PnL (spec.md §3).
type Position struct {
	Symbol        Symbol
	Side          Side
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	CurrentPrice  decimal.Decimal
	StrategyID    string
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

// IsOpen reports whether the position still carries quantity.
func (p Position) IsOpen() bool { return p.Quantity.IsPositive() }

// RoundTrip is a completed entry-then-exit sequence that realizes PnL
// (spec.md §3, Glossary).
type RoundTrip struct {
	ID         string
	Symbol     Symbol
	Side       Side // the side of the ENTRY leg
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal
	Fees       decimal.Decimal
	PnL        decimal.Decimal // realized(side,entry,exit,qty) - fees
	ReturnPct  decimal.Decimal // gross-of-fees, per spec.md §9 Open Question
	EntryTime  time.Time
	ExitTime   time.Time
	StrategyID string
}

// EquityPoint is one sample of the equity curve (spec.md §3). Curves are
// monotone-time-ordered within a single run.
type EquityPoint struct {
	Timestamp   time.Time
	Equity      decimal.Decimal
	DrawdownPct decimal.Decimal
}

// PerformanceMetrics is the derived performance snapshot defined in
// spec.md §4.B.
type PerformanceMetrics struct {
	TotalReturnPct      decimal.Decimal
	AnnualizedReturnPct decimal.Decimal
	MaxDrawdownPct      decimal.Decimal
	SharpeRatio         decimal.Decimal
	SortinoRatio        decimal.Decimal
	CalmarRatio         decimal.Decimal
	ProfitFactor        decimal.Decimal
	Expectancy          decimal.Decimal
	TotalTrades         int
	WinningTrades       int
	LosingTrades        int
	WinRate             decimal.Decimal
	AvgWin              decimal.Decimal
	AvgLoss             decimal.Decimal
	NetProfit           decimal.Decimal
	TradingDays         int64
}

// ————————————————————————————————————————————————————————————————————————
// Strategy <-> Executor contract (spec.md §4.J / §4.K)
// ————————————————————————————————————————————————————————————————————————

// SignalType enumerates the kinds of instructions a Strategy can emit.
type SignalType string

const (
	SignalEntry          SignalType = "ENTRY"
	SignalAddToPosition  SignalType = "ADD_TO_POSITION"
	SignalExit           SignalType = "EXIT"
	SignalReducePosition SignalType = "REDUCE_POSITION"
	SignalScale          SignalType = "SCALE"
)

// Signal is what a Strategy emits in response to MarketData; the Order
// Executor converts it into an OrderRequest.
type Signal struct {
	StrategyID     string
	Symbol         Symbol
	Side           Side
	Type           SignalType
	Strength       decimal.Decimal // in [0, 1]
	SuggestedPrice *decimal.Decimal
	StopLoss       *decimal.Decimal
	TakeProfit     *decimal.Decimal
	Metadata       map[string]string
}

// MarketDataKind discriminates the payload carried by MarketData.
type MarketDataKind string

const (
	MarketDataKline MarketDataKind = "KLINE"
	MarketDataTick  MarketDataKind = "TICK"
)

// MarketData is the event fed to Strategy.OnMarketData. In backtests and
// the reference live connector, only the Kline kind is populated.
type MarketData struct {
	Kind  MarketDataKind
	Kline Kline
}

// RouteState is an external per-ticker gating label a StrategyContext
// exposes (spec.md §4.J, Glossary).
type RouteState string

const (
	RouteNeutral  RouteState = "NEUTRAL"
	RouteWait     RouteState = "WAIT"
	RouteArmed    RouteState = "ARMED"
	RouteAttack   RouteState = "ATTACK"
	RouteOverheat RouteState = "OVERHEAT"
)

// GlobalScore is an external per-ticker 0-100 rating (spec.md §4.J, Glossary).
type GlobalScore struct {
	Ticker  string
	Overall decimal.Decimal // 0-100
}
