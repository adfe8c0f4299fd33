// Package position tracks open exposure per symbol from the fill stream:
// same-side fills grow a position at a weighted average entry price,
// opposite-side fills reduce it and realize PnL. At most one open position
// exists per symbol at a time; flipping direction in a single fill is
// rejected — the position must pass through a fully-closed state first.
package position

import (
	"sync"
	"time"

	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// ClosedPosition is emitted when a reduction takes quantity to zero; the
// caller (executor / performance tracker) turns it into a RoundTrip.
type ClosedPosition struct {
	Symbol      types.Symbol
	Side        types.Side
	Quantity    decimal.Decimal
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	RealizedPnL decimal.Decimal
	StrategyID  string
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// Tracker holds every open position behind a single RWMutex.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*types.Position // key: symbol string
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{positions: make(map[string]*types.Position)}
}

// ApplyFill applies one fill. The returned ClosedPosition is non-nil only
// when the fill reduced the open position to zero quantity.
//
// A reducing fill larger than the open quantity closes the position for the
// open quantity and rejects the excess with a PositionFlip error — the
// caller must split the fill if a flip is intended (spec.md §4.D).
func (t *Tracker) ApplyFill(symbol types.Symbol, side types.Side, quantity, price decimal.Decimal, strategyID string, now time.Time) (*ClosedPosition, error) {
	if !quantity.IsPositive() {
		return nil, coreerr.New(coreerr.ClassData, "position: fill quantity must be > 0")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := symbol.String()
	pos, ok := t.positions[key]
	if !ok {
		t.positions[key] = &types.Position{
			Symbol:       symbol,
			Side:         side,
			Quantity:     quantity,
			EntryPrice:   price,
			CurrentPrice: price,
			StrategyID:   strategyID,
			OpenedAt:     now,
			UpdatedAt:    now,
		}
		return nil, nil
	}

	if side == pos.Side {
		// Same-side add: weighted average entry.
		newQty := pos.Quantity.Add(quantity)
		totalCost := pos.EntryPrice.Mul(pos.Quantity).Add(price.Mul(quantity))
		pos.EntryPrice = totalCost.Div(newQty)
		pos.Quantity = newQty
		pos.CurrentPrice = price
		pos.UpdatedAt = now
		return nil, nil
	}

	// Opposite side: reduce.
	if quantity.GreaterThan(pos.Quantity) {
		closed := t.closeLocked(pos, price, now)
		return closed, coreerr.WithID(coreerr.ClassExecution, key,
			"fill would flip position direction without a closed intermediate state")
	}

	realized := types.RealizedPnL(pos.EntryPrice, price, quantity, pos.Side)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.Quantity = pos.Quantity.Sub(quantity)
	pos.CurrentPrice = price
	pos.UpdatedAt = now

	if pos.Quantity.IsZero() {
		return t.closeLocked(pos, price, now), nil
	}
	return nil, nil
}

// closeLocked finalizes pos at exitPrice, removes it from the index, and
// returns the closed record. Caller holds t.mu.
func (t *Tracker) closeLocked(pos *types.Position, exitPrice decimal.Decimal, now time.Time) *ClosedPosition {
	remaining := pos.Quantity
	realized := pos.RealizedPnL
	if remaining.IsPositive() {
		realized = realized.Add(types.RealizedPnL(pos.EntryPrice, exitPrice, remaining, pos.Side))
	}
	closed := &ClosedPosition{
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Quantity:    remaining,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		RealizedPnL: realized,
		StrategyID:  pos.StrategyID,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    now,
	}
	delete(t.positions, pos.Symbol.String())
	return closed
}

// UpdatePrices marks every open position to market and recomputes its
// unrealized PnL.
func (t *Tracker) UpdatePrices(prices map[string]decimal.Decimal, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, pos := range t.positions {
		price, ok := prices[key]
		if !ok {
			continue
		}
		pos.CurrentPrice = price
		pos.UnrealizedPnL = types.UnrealizedPnL(pos.EntryPrice, price, pos.Quantity, pos.Side)
		pos.UpdatedAt = now
	}
}

// Get returns a copy of the open position for the symbol.
func (t *Tracker) Get(symbol types.Symbol) (types.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[symbol.String()]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// All returns copies of every open position.
func (t *Tracker) All() []types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		out = append(out, *pos)
	}
	return out
}

// OpenCount returns the number of open positions.
func (t *Tracker) OpenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

// TotalUnrealizedPnL sums unrealized PnL across open positions.
func (t *Tracker) TotalUnrealizedPnL() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := decimal.Zero
	for _, pos := range t.positions {
		total = total.Add(pos.UnrealizedPnL)
	}
	return total
}
