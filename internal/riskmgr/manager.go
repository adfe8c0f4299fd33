// Package riskmgr is the pre-trade gate: every OrderRequest the executor
// builds passes through ValidateOrder before it reaches the order manager.
// It also generates bracket orders (stop-loss / take-profit) sized to an
// open position.
package riskmgr

import (
	"fmt"
	"log/slog"
	"sync"

	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// Limits configures the rule set. Zero values disable the rule.
type Limits struct {
	// MaxPositionSize caps the quantity of any single order.
	MaxPositionSize decimal.Decimal
	// MaxConcurrentPositions caps the number of simultaneously open positions.
	MaxConcurrentPositions int
	// MaxDailyLoss stops new entries once the day's realized loss exceeds it.
	MaxDailyLoss decimal.Decimal
	// MaxPositionPct caps a single order's notional as a fraction of balance
	// (0.25 == 25%).
	MaxPositionPct decimal.Decimal
	// DefaultStopLossPct / DefaultTakeProfitPct size generated bracket
	// orders when no override is given (4.0 == 4%).
	DefaultStopLossPct   decimal.Decimal
	DefaultTakeProfitPct decimal.Decimal
}

// ValidationResult is the outcome of a pre-trade check.
type ValidationResult struct {
	IsValid  bool
	Messages []string
	// ModifiedOrder carries a shrunk-to-fit suggestion when the original
	// breached a sizing limit but a smaller order would pass.
	ModifiedOrder *types.OrderRequest
}

// Manager evaluates the rule set. Balance and daily PnL are pushed in by
// the owner (backtest engine or live account) rather than pulled, keeping
// the locking order Risk -> OM -> PT intact.
type Manager struct {
	mu       sync.RWMutex
	limits   Limits
	balance  decimal.Decimal
	dailyPnL decimal.Decimal
	logger   *slog.Logger
}

// New creates a Manager with the given limits.
func New(limits Limits, logger *slog.Logger) *Manager {
	return &Manager{
		limits: limits,
		logger: logger.With("component", "riskmgr"),
	}
}

// SetBalance updates the cash balance used by the fraction-of-balance rule.
func (m *Manager) SetBalance(balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = balance
}

// SetDailyPnL updates the day's realized PnL used by the daily-loss rule.
func (m *Manager) SetDailyPnL(pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = pnl
}

// ValidateOrder runs every enabled rule against the request. positions is a
// snapshot of currently open positions; currentPrice is the reference price
// used for notional checks when the request has no limit price.
func (m *Manager) ValidateOrder(req types.OrderRequest, positions []types.Position, currentPrice decimal.Decimal) ValidationResult {
	m.mu.RLock()
	limits := m.limits
	balance := m.balance
	dailyPnL := m.dailyPnL
	m.mu.RUnlock()

	result := ValidationResult{IsValid: true}

	if err := req.Validate(); err != nil {
		result.IsValid = false
		result.Messages = append(result.Messages, err.Error())
		return result
	}

	if !limits.MaxPositionSize.IsZero() && req.Quantity.GreaterThan(limits.MaxPositionSize) {
		result.IsValid = false
		result.Messages = append(result.Messages,
			fmt.Sprintf("quantity %s exceeds max position size %s", req.Quantity, limits.MaxPositionSize))
		mod := req
		mod.Quantity = limits.MaxPositionSize
		result.ModifiedOrder = &mod
	}

	if limits.MaxConcurrentPositions > 0 && isOpening(req, positions) {
		if countOpen(positions) >= limits.MaxConcurrentPositions {
			result.IsValid = false
			result.Messages = append(result.Messages,
				fmt.Sprintf("open positions at limit (%d)", limits.MaxConcurrentPositions))
		}
	}

	if !limits.MaxDailyLoss.IsZero() && dailyPnL.LessThan(limits.MaxDailyLoss.Neg()) && isOpening(req, positions) {
		result.IsValid = false
		result.Messages = append(result.Messages,
			fmt.Sprintf("daily loss %s past limit %s, entries suspended", dailyPnL, limits.MaxDailyLoss))
	}

	if !limits.MaxPositionPct.IsZero() && balance.IsPositive() {
		price := currentPrice
		if req.Price != nil {
			price = *req.Price
		}
		if price.IsPositive() {
			notional := req.Quantity.Mul(price)
			maxNotional := balance.Mul(limits.MaxPositionPct)
			if notional.GreaterThan(maxNotional) {
				result.IsValid = false
				result.Messages = append(result.Messages,
					fmt.Sprintf("notional %s exceeds %s of balance (%s)", notional, limits.MaxPositionPct, maxNotional))
				if result.ModifiedOrder == nil {
					mod := req
					mod.Quantity = maxNotional.Div(price)
					result.ModifiedOrder = &mod
				}
			}
		}
	}

	if !result.IsValid {
		m.logger.Debug("order rejected by risk rules",
			"symbol", req.Symbol.String(),
			"side", req.Side,
			"messages", result.Messages,
		)
	}
	return result
}

// isOpening reports whether the request grows exposure rather than reducing
// an existing position.
func isOpening(req types.OrderRequest, positions []types.Position) bool {
	for _, pos := range positions {
		if pos.Symbol == req.Symbol && pos.IsOpen() {
			return pos.Side == req.Side
		}
	}
	return true
}

func countOpen(positions []types.Position) int {
	n := 0
	for _, pos := range positions {
		if pos.IsOpen() {
			n++
		}
	}
	return n
}

// GenerateStopLoss builds a stop-loss OrderRequest covering the full
// position quantity on the opposite side. overridePct, when non-nil,
// replaces the configured default (4.0 == 4%).
func (m *Manager) GenerateStopLoss(pos types.Position, overridePct *decimal.Decimal) types.OrderRequest {
	pct := m.bracketPct(overridePct, func(l Limits) decimal.Decimal { return l.DefaultStopLossPct })
	stop := bracketPrice(pos, pct, true)
	return types.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       pos.Side.Opposite(),
		Type:       types.OrderStopLoss,
		Quantity:   pos.Quantity,
		StopPrice:  &stop,
		TIF:        types.TIFGoodTilCancel,
		StrategyID: pos.StrategyID,
	}
}

// GenerateTakeProfit builds a take-profit OrderRequest covering the full
// position quantity on the opposite side.
func (m *Manager) GenerateTakeProfit(pos types.Position, overridePct *decimal.Decimal) types.OrderRequest {
	pct := m.bracketPct(overridePct, func(l Limits) decimal.Decimal { return l.DefaultTakeProfitPct })
	stop := bracketPrice(pos, pct, false)
	return types.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       pos.Side.Opposite(),
		Type:       types.OrderTakeProfit,
		Quantity:   pos.Quantity,
		StopPrice:  &stop,
		TIF:        types.TIFGoodTilCancel,
		StrategyID: pos.StrategyID,
	}
}

func (m *Manager) bracketPct(override *decimal.Decimal, pick func(Limits) decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return pick(m.limits)
}

// bracketPrice places the trigger pct% adverse (stop-loss) or favorable
// (take-profit) to the entry, relative to the position side.
func bracketPrice(pos types.Position, pct decimal.Decimal, adverse bool) decimal.Decimal {
	offset := pos.EntryPrice.Mul(pct).Div(decimal.Hundred)
	lossSide := pos.Side == types.Buy
	if !adverse {
		lossSide = !lossSide
	}
	if lossSide {
		return pos.EntryPrice.Sub(offset)
	}
	return pos.EntryPrice.Add(offset)
}
