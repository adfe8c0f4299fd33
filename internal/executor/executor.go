// Package executor turns strategy Signals into managed orders: it converts
// a Signal to an OrderRequest, runs the pre-trade risk gate, registers the
// order with the order manager, and routes later submissions, fills, and
// cancellations to the order manager and position tracker.
//
// Lock discipline follows the system-wide order Risk -> OM -> PT: the
// executor never holds two subsystem locks at once — each call below is a
// sequence of independent, internally-locked operations.
package executor

import (
	"log/slog"
	"time"

	"tradecore/internal/ordermanager"
	"tradecore/internal/position"
	"tradecore/internal/riskmgr"
	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// Config parameterizes signal conversion.
type Config struct {
	// MinStrength rejects signals below this strength outright.
	MinStrength decimal.Decimal
	// UseMarketOrders selects Market conversion for entries; when false,
	// entries become Limit orders at a slippage-adjusted price.
	UseMarketOrders bool
	// Slippage is the fraction applied to limit prices (buy up, sell down).
	Slippage decimal.Decimal
	// AutoStopLoss / AutoTakeProfit generate sibling bracket requests for
	// entry signals.
	AutoStopLoss   bool
	AutoTakeProfit bool
	// Exchange names the venue orders are registered under.
	Exchange string
}

// Result is the outcome of ExecuteSignal.
type Result struct {
	Accepted bool
	Order    *types.Order
	// StopLoss / TakeProfit are generated bracket requests; the caller is
	// responsible for submitting them atomically alongside the main order.
	StopLoss   *types.OrderRequest
	TakeProfit *types.OrderRequest
	// Messages explains a rejection.
	Messages []string
	// ModifiedOrder is the risk manager's shrunk-to-fit suggestion, when
	// one exists.
	ModifiedOrder *types.OrderRequest
}

// Executor wires the risk manager, order manager and position tracker.
type Executor struct {
	cfg       Config
	risk      *riskmgr.Manager
	orders    *ordermanager.Manager
	positions *position.Tracker
	logger    *slog.Logger
}

// New creates an Executor.
func New(cfg Config, risk *riskmgr.Manager, orders *ordermanager.Manager, positions *position.Tracker, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:       cfg,
		risk:      risk,
		orders:    orders,
		positions: positions,
		logger:    logger.With("component", "executor"),
	}
}

// ExecuteSignal runs the full pipeline for one Signal: strength gate,
// conversion, risk validation, registration. currentPrice is the reference
// price for conversion and risk notional checks.
func (e *Executor) ExecuteSignal(sig types.Signal, currentPrice decimal.Decimal, quantity decimal.Decimal, now time.Time) (Result, error) {
	if sig.Strength.LessThan(e.cfg.MinStrength) || !sig.Strength.IsPositive() {
		return Result{Messages: []string{"signal strength below minimum"}}, nil
	}

	req, err := e.convert(sig, currentPrice, quantity)
	if err != nil {
		return Result{}, err
	}

	snapshot := e.positions.All()
	validation := e.risk.ValidateOrder(req, snapshot, currentPrice)
	if !validation.IsValid {
		e.logger.Info("signal rejected by risk gate",
			"strategy", sig.StrategyID,
			"symbol", sig.Symbol.String(),
			"messages", validation.Messages,
		)
		return Result{
			Messages:      validation.Messages,
			ModifiedOrder: validation.ModifiedOrder,
		}, coreerr.New(coreerr.ClassRiskRejection, "order rejected by risk rules")
	}

	order, err := e.orders.CreateOrder(req, e.cfg.Exchange, now)
	if err != nil {
		return Result{}, err
	}

	result := Result{Accepted: true, Order: order}
	if sig.Type == types.SignalEntry {
		e.attachBrackets(&result, sig, req, currentPrice)
	}
	return result, nil
}

// convert applies the SignalConverter rules: entries and adds become Market
// orders (or Limit at a slippage-adjusted price when market orders are
// disabled); exits and reductions are always Market; Scale is Market with
// the side the strategy chose.
func (e *Executor) convert(sig types.Signal, currentPrice, quantity decimal.Decimal) (types.OrderRequest, error) {
	req := types.OrderRequest{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Type:       types.OrderMarket,
		Quantity:   quantity,
		TIF:        types.TIFGoodTilCancel,
		StrategyID: sig.StrategyID,
	}

	switch sig.Type {
	case types.SignalEntry, types.SignalAddToPosition:
		if !e.cfg.UseMarketOrders {
			price := currentPrice
			if sig.SuggestedPrice != nil {
				price = *sig.SuggestedPrice
			}
			limit := e.slippageAdjusted(price, sig.Side)
			req.Type = types.OrderLimit
			req.Price = &limit
		}
	case types.SignalExit, types.SignalReducePosition, types.SignalScale:
		// Always market: getting flat (or resized) beats price improvement.
	default:
		return types.OrderRequest{}, coreerr.Newf(coreerr.ClassData, "unknown signal type %q", sig.Type)
	}

	if err := req.Validate(); err != nil {
		return types.OrderRequest{}, err
	}
	return req, nil
}

// slippageAdjusted implements buy = price * (1 + s), sell = price * (1 - s).
func (e *Executor) slippageAdjusted(price decimal.Decimal, side types.Side) decimal.Decimal {
	slip := price.Mul(e.cfg.Slippage)
	if side == types.Buy {
		return price.Add(slip)
	}
	return price.Sub(slip)
}

// attachBrackets generates stop-loss / take-profit siblings for an entry.
// The signal's explicit levels win; otherwise the risk manager's configured
// percentages apply, measured from the would-be entry price.
func (e *Executor) attachBrackets(result *Result, sig types.Signal, req types.OrderRequest, currentPrice decimal.Decimal) {
	entryPrice := currentPrice
	if req.Price != nil {
		entryPrice = *req.Price
	}
	provisional := types.Position{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		EntryPrice: entryPrice,
		StrategyID: req.StrategyID,
	}

	if e.cfg.AutoStopLoss || sig.StopLoss != nil {
		sl := e.risk.GenerateStopLoss(provisional, nil)
		if sig.StopLoss != nil {
			sl.StopPrice = sig.StopLoss
		}
		result.StopLoss = &sl
	}
	if e.cfg.AutoTakeProfit || sig.TakeProfit != nil {
		tp := e.risk.GenerateTakeProfit(provisional, nil)
		if sig.TakeProfit != nil {
			tp.StopPrice = sig.TakeProfit
		}
		result.TakeProfit = &tp
	}
}

// SubmitOrder marks a registered order as accepted by the exchange,
// binding its exchange id and transitioning Pending -> Open.
func (e *Executor) SubmitOrder(localID, exchangeID string, now time.Time) error {
	return e.orders.UpdateStatus(localID, ordermanager.StatusUpdate{
		Status:          types.StatusOpen,
		ExchangeOrderID: exchangeID,
		Timestamp:       now,
	})
}

// HandleFill records the fill with the order manager and applies it to the
// position tracker. The ClosedPosition is non-nil when this fill closed the
// symbol's position.
func (e *Executor) HandleFill(localID string, fill types.OrderFill) (*position.ClosedPosition, error) {
	order, ok := e.orders.GetOrder(localID)
	if !ok {
		return nil, coreerr.WithID(coreerr.ClassExecution, localID, "order not found")
	}
	if err := e.orders.RecordFill(fill); err != nil {
		return nil, err
	}
	closed, err := e.positions.ApplyFill(order.Symbol(), order.Side(), fill.Quantity, fill.Price, order.StrategyID(), fill.Timestamp)
	if err != nil {
		e.logger.Error("position update failed after fill",
			"order_id", localID,
			"error", err,
		)
		return closed, err
	}
	return closed, nil
}

// CancelOrder terminally cancels a non-terminal order.
func (e *Executor) CancelOrder(localID, reason string, now time.Time) error {
	return e.orders.CancelOrder(localID, reason, now)
}
