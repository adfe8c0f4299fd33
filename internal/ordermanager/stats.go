package ordermanager

import (
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// Stats aggregates counts, fill rate and traded volume over a set of orders.
type Stats struct {
	TotalOrders     int
	FilledOrders    int
	CancelledOrders int
	RejectedOrders  int
	ExpiredOrders   int
	ActiveOrders    int
	FillRate        decimal.Decimal // filled / total
	TotalVolume     decimal.Decimal // sum of filled quantity
	TotalNotional   decimal.Decimal // sum of filled quantity * avg fill price
}

func computeStats(orders []types.Order) Stats {
	var s Stats
	s.TotalVolume = decimal.Zero
	s.TotalNotional = decimal.Zero
	for _, o := range orders {
		s.TotalOrders++
		switch o.Status {
		case types.StatusFilled:
			s.FilledOrders++
		case types.StatusCancelled:
			s.CancelledOrders++
		case types.StatusRejected:
			s.RejectedOrders++
		case types.StatusExpired:
			s.ExpiredOrders++
		default:
			s.ActiveOrders++
		}
		s.TotalVolume = s.TotalVolume.Add(o.FilledQuantity)
		s.TotalNotional = s.TotalNotional.Add(o.FilledQuantity.Mul(o.AverageFillPrice))
	}
	if s.TotalOrders > 0 {
		s.FillRate = decimal.NewFromInt(int64(s.FilledOrders)).Div(decimal.NewFromInt(int64(s.TotalOrders)))
	} else {
		s.FillRate = decimal.Zero
	}
	return s
}

// SymbolStats aggregates over every order for the symbol.
func (m *Manager) SymbolStats(symbol types.Symbol) Stats {
	return computeStats(m.OrdersForSymbol(symbol))
}

// StrategyStats aggregates over every order tagged with the strategy.
func (m *Manager) StrategyStats(strategyID string) Stats {
	return computeStats(m.OrdersForStrategy(strategyID))
}

// OverallStats aggregates over every managed order.
func (m *Manager) OverallStats() Stats {
	m.mu.RLock()
	orders := make([]types.Order, 0, len(m.orders))
	for _, o := range m.orders {
		orders = append(orders, *o)
	}
	m.mu.RUnlock()
	return computeStats(orders)
}
