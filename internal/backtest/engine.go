// Package backtest replays historical bars through a strategy with
// deterministic, single-threaded execution: same config, same klines, same
// strategy seed — bitwise identical report. The engine owns its
// performance tracker, order manager, position tracker and matching
// engine; time only ever comes from the input bars, never from the wall
// clock.
package backtest

import (
	"log/slog"
	"sort"
	"time"

	"tradecore/internal/matching"
	"tradecore/internal/ordermanager"
	"tradecore/internal/perf"
	"tradecore/internal/position"
	"tradecore/internal/strategyrt"
	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// Engine replays one run. Create per run with NewEngine.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	tracker   *perf.Tracker
	orders    *ordermanager.Manager
	positions *position.Tracker
	matcher   *matching.Engine

	cash            decimal.Decimal
	prices          map[string]decimal.Decimal
	currentTime     time.Time
	totalCommission decimal.Decimal
	totalSlippage   decimal.Decimal
	totalOrders     int
}

// NewEngine validates the config and assembles a run.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tracker, err := perf.NewTracker(cfg.InitialCapital, perf.DefaultThresholds())
	if err != nil {
		return nil, err
	}
	tracker.SetRiskFreeRate(cfg.RiskFreeRate)

	return &Engine{
		cfg:             cfg,
		logger:          logger.With("component", "backtest"),
		tracker:         tracker,
		orders:          ordermanager.New(logger),
		positions:       position.NewTracker(),
		matcher:         matching.NewEngine(cfg.CommissionRate, cfg.SlippageRate),
		cash:            cfg.InitialCapital,
		prices:          make(map[string]decimal.Decimal),
		totalCommission: decimal.Zero,
		totalSlippage:   decimal.Zero,
	}, nil
}

// Run replays klines through strategy and returns the report. The kline
// slice must be chronologically sorted; strategies see bars strictly in
// order, and every decision at bar t uses only data with close_time <= t.
func (e *Engine) Run(strategy strategyrt.Strategy, klines []types.Kline) (*Report, error) {
	if err := validateKlines(klines); err != nil {
		return nil, err
	}

	for _, kline := range klines {
		// close_time, not open_time: decisions may only use a completed
		// bar, so the clock advances to the moment the bar closed.
		e.currentTime = kline.CloseTime
		e.prices[kline.Symbol.String()] = kline.Close
		e.positions.UpdatePrices(e.prices, e.currentTime)

		signals, err := strategy.OnMarketData(types.MarketData{Kind: types.MarketDataKline, Kline: kline})
		if err != nil {
			// A strategy failure drops the batch; the run continues.
			e.logger.Warn("strategy error, dropping signal batch",
				"time", e.currentTime,
				"error", err,
			)
			signals = nil
		}

		for _, sig := range signals {
			if err := e.processSignal(strategy, sig, kline); err != nil {
				if coreerr.Is(err, coreerr.ClassInsufficientFunds) {
					e.logger.Debug("signal skipped", "reason", err)
					continue
				}
				return nil, err
			}
		}

		e.tracker.RecordEquity(e.currentTime, e.equity())
	}

	e.forceCloseAll(strategy, klines[len(klines)-1])

	return e.buildReport(klines), nil
}

// processSignal applies the gates and executes one signal at bar prices.
func (e *Engine) processSignal(strategy strategyrt.Strategy, sig types.Signal, kline types.Kline) error {
	if !sig.Strength.IsPositive() {
		return nil
	}

	open, hasOpen := e.positions.Get(sig.Symbol)

	switch sig.Type {
	case types.SignalEntry, types.SignalAddToPosition:
		return e.executeOpen(strategy, sig, kline, open, hasOpen)
	case types.SignalExit:
		if !hasOpen {
			return nil
		}
		return e.executeClose(strategy, sig, kline, open, open.Quantity)
	case types.SignalReducePosition:
		if !hasOpen {
			return nil
		}
		qty := open.Quantity.Mul(sig.Strength)
		return e.executeClose(strategy, sig, kline, open, qty)
	case types.SignalScale:
		// Scale signals carry the caller's chosen side: toward the open
		// position's side adds, against it reduces.
		if hasOpen && sig.Side != open.Side {
			qty := e.scaleQuantity(sig, kline)
			return e.executeClose(strategy, sig, kline, open, decimal.Min(qty, open.Quantity))
		}
		return e.executeOpen(strategy, sig, kline, open, hasOpen)
	default:
		return nil
	}
}

// executionPrice is suggested_price | cached price | bar close.
func (e *Engine) executionPrice(sig types.Signal, kline types.Kline) decimal.Decimal {
	if sig.SuggestedPrice != nil && sig.SuggestedPrice.IsPositive() {
		return *sig.SuggestedPrice
	}
	if cached, ok := e.prices[sig.Symbol.String()]; ok && cached.IsPositive() {
		return cached
	}
	return kline.Close
}

// scaleQuantity honors an explicit quantity in the signal metadata (the
// rebalance strategies size their own orders), falling back to the
// strength-based formula.
func (e *Engine) scaleQuantity(sig types.Signal, kline types.Kline) decimal.Decimal {
	if raw, ok := sig.Metadata["quantity"]; ok {
		if qty, err := decimal.NewFromString(raw); err == nil && qty.IsPositive() {
			return qty
		}
	}
	price := e.executionPrice(sig, kline)
	if !price.IsPositive() {
		return decimal.Zero
	}
	return e.cash.Mul(e.cfg.MaxPositionSizePct).Mul(sig.Strength).Div(price)
}

func (e *Engine) executeOpen(strategy strategyrt.Strategy, sig types.Signal, kline types.Kline, open types.Position, hasOpen bool) error {
	if sig.Side == types.Sell && !e.cfg.AllowShort && !hasOpen {
		return nil
	}
	if !hasOpen && e.cfg.MaxPositions > 0 && e.positions.OpenCount() >= e.cfg.MaxPositions {
		return nil
	}
	if hasOpen && sig.Side != open.Side {
		// Opening against an open position without an exit is a flip;
		// the position tracker would reject it, so skip up front.
		return nil
	}

	refPrice := e.executionPrice(sig, kline)
	if !refPrice.IsPositive() {
		return nil
	}
	qty := e.scaleQuantity(sig, kline)
	if !qty.IsPositive() {
		return nil
	}

	match, err := e.fill(sig, qty, refPrice)
	if err != nil {
		return err
	}

	notional := match.FillPrice.Mul(match.Quantity)
	cost := match.Commission
	if sig.Side == types.Buy {
		cost = cost.Add(notional)
	}
	if cost.GreaterThan(e.cash) {
		return coreerr.Newf(coreerr.ClassInsufficientFunds,
			"need %s, have %s for %s", cost, e.cash, sig.Symbol)
	}
	e.cash = e.cash.Sub(cost)
	e.totalCommission = e.totalCommission.Add(match.Commission)
	e.totalSlippage = e.totalSlippage.Add(match.SlippageCost)

	if _, err := e.positions.ApplyFill(sig.Symbol, sig.Side, match.Quantity, match.FillPrice, sig.StrategyID, e.currentTime); err != nil {
		return err
	}
	e.tracker.RecordEntry(sig.Symbol, sig.Side, match.Quantity, match.FillPrice, match.Commission, sig.StrategyID, e.currentTime)
	e.notify(strategy, sig.Symbol)
	return nil
}

func (e *Engine) executeClose(strategy strategyrt.Strategy, sig types.Signal, kline types.Kline, open types.Position, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return nil
	}
	qty = decimal.Min(qty, open.Quantity)

	refPrice := e.executionPrice(sig, kline)
	closeSide := open.Side.Opposite()
	closeSig := sig
	closeSig.Side = closeSide

	match, err := e.fill(closeSig, qty, refPrice)
	if err != nil {
		return err
	}

	notional := match.FillPrice.Mul(match.Quantity)
	if open.Side == types.Buy {
		e.cash = e.cash.Add(notional).Sub(match.Commission)
	} else {
		realized := types.RealizedPnL(open.EntryPrice, match.FillPrice, match.Quantity, open.Side)
		e.cash = e.cash.Add(realized).Sub(match.Commission)
	}
	e.totalCommission = e.totalCommission.Add(match.Commission)
	e.totalSlippage = e.totalSlippage.Add(match.SlippageCost)

	if _, err := e.positions.ApplyFill(open.Symbol, closeSide, match.Quantity, match.FillPrice, sig.StrategyID, e.currentTime); err != nil {
		return err
	}
	e.tracker.RecordExit(open.Symbol, open.Side, match.Quantity, match.FillPrice, match.Commission, sig.StrategyID, e.currentTime)
	e.notify(strategy, open.Symbol)
	return nil
}

// fill routes the synthetic market order through the order manager and the
// matching engine, so order accounting matches live execution.
func (e *Engine) fill(sig types.Signal, qty, refPrice decimal.Decimal) (matching.OrderMatch, error) {
	req := types.OrderRequest{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Type:       types.OrderMarket,
		Quantity:   qty,
		TIF:        types.TIFGoodTilCancel,
		StrategyID: sig.StrategyID,
	}
	order, err := e.orders.CreateOrder(req, e.cfg.ExchangeName, e.currentTime)
	if err != nil {
		return matching.OrderMatch{}, err
	}
	if err := e.orders.UpdateStatus(order.ID, ordermanager.StatusUpdate{
		Status:    types.StatusOpen,
		Timestamp: e.currentTime,
	}); err != nil {
		return matching.OrderMatch{}, err
	}

	match := e.matcher.SubmitMarket(*order, refPrice, e.currentTime)
	if err := e.orders.RecordFill(types.OrderFill{
		OrderID:    order.ID,
		Quantity:   match.Quantity,
		Price:      match.FillPrice,
		Commission: match.Commission,
		Timestamp:  e.currentTime,
	}); err != nil {
		return matching.OrderMatch{}, err
	}
	e.totalOrders++
	return match, nil
}

// notify pushes the post-fill position state back to the strategy.
func (e *Engine) notify(strategy strategyrt.Strategy, symbol types.Symbol) {
	if pos, ok := e.positions.Get(symbol); ok {
		strategy.OnPositionUpdate(pos)
	} else {
		strategy.OnPositionUpdate(types.Position{Symbol: symbol})
	}
}

// equity is cash plus the value of every open position at cached prices.
func (e *Engine) equity() decimal.Decimal {
	total := e.cash
	for _, pos := range e.positions.All() {
		current, ok := e.prices[pos.Symbol.String()]
		if !ok {
			current = pos.EntryPrice
		}
		total = total.Add(positionValue(pos, current))
	}
	return total
}

// positionValue is the position's contribution to equity under this
// engine's cash model: longs consumed cash at entry, so they are worth
// quantity * current; shorts consumed none, so they are worth only their
// unrealized PnL.
func positionValue(pos types.Position, current decimal.Decimal) decimal.Decimal {
	if pos.Side == types.Buy {
		return pos.Quantity.Mul(current)
	}
	return types.UnrealizedPnL(pos.EntryPrice, current, pos.Quantity, pos.Side)
}

// forceCloseAll unwinds every open position at the final bar's close.
// Positions close in symbol order so replays stay deterministic.
func (e *Engine) forceCloseAll(strategy strategyrt.Strategy, last types.Kline) {
	open := e.positions.All()
	sort.Slice(open, func(i, j int) bool {
		return open[i].Symbol.String() < open[j].Symbol.String()
	})
	for _, pos := range open {
		sig := types.Signal{
			StrategyID: pos.StrategyID,
			Symbol:     pos.Symbol,
			Side:       pos.Side.Opposite(),
			Type:       types.SignalExit,
			Strength:   decimal.One,
			Metadata:   map[string]string{"reason": "force_close"},
		}
		if err := e.executeClose(strategy, sig, last, pos, pos.Quantity); err != nil {
			e.logger.Error("force close failed", "symbol", pos.Symbol.String(), "error", err)
		}
	}
	e.tracker.RecordEquity(e.currentTime, e.equity())
}
