package strategies

import (
	"sort"

	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// PortfolioPosition is one current holding fed to the rebalance calculator.
type PortfolioPosition struct {
	Symbol       string
	Quantity     decimal.Decimal
	CurrentPrice decimal.Decimal
}

// TargetAllocation is one target weight (fraction of total value).
type TargetAllocation struct {
	Symbol string
	Weight decimal.Decimal
}

// RebalanceOrder is one order needed to move the portfolio toward its
// targets.
type RebalanceOrder struct {
	Symbol   string
	Side     types.Side
	Amount   decimal.Decimal // notional
	Quantity decimal.Decimal
}

// MarketProfile controls quantity rounding: Korean equities trade whole
// shares, crypto allows fractional quantities.
type MarketProfile struct {
	WholeShares bool
}

// USMarketProfile and CryptoProfile are fractional. Only the Korean equity
// market (KRMarketProfile) forces whole shares here, matching the venue's
// lot rules.
var (
	USMarketProfile = MarketProfile{WholeShares: false}
	KRMarketProfile = MarketProfile{WholeShares: true}
	CryptoProfile   = MarketProfile{WholeShares: false}
)

// RebalanceCalculator turns target weights into orders.
type RebalanceCalculator struct {
	// Threshold is the minimum |drift| / total_value to act on (0.03 == 3%).
	Threshold decimal.Decimal
	Profile   MarketProfile
}

// NewRebalanceCalculator creates a calculator with the given drift
// threshold and market profile.
func NewRebalanceCalculator(threshold decimal.Decimal, profile MarketProfile) *RebalanceCalculator {
	return &RebalanceCalculator{Threshold: threshold, Profile: profile}
}

// CalculateOrders compares current notionals against target weights and
// emits one order per symbol whose drift meets the threshold. Orders are
// sorted Sells first, then by symbol, for deterministic output.
func (c *RebalanceCalculator) CalculateOrders(positions []PortfolioPosition, cash decimal.Decimal, targets []TargetAllocation) []RebalanceOrder {
	total := cash
	current := make(map[string]decimal.Decimal, len(positions))
	prices := make(map[string]decimal.Decimal, len(positions))
	for _, pos := range positions {
		notional := pos.Quantity.Mul(pos.CurrentPrice)
		current[pos.Symbol] = notional
		prices[pos.Symbol] = pos.CurrentPrice
		total = total.Add(notional)
	}
	if !total.IsPositive() {
		return nil
	}

	targeted := make(map[string]struct{}, len(targets))
	var orders []RebalanceOrder

	consider := func(symbol string, targetNotional decimal.Decimal) {
		diff := targetNotional.Sub(current[symbol])
		if diff.Abs().Div(total).LessThan(c.Threshold) {
			return
		}
		price, ok := prices[symbol]
		if !ok || !price.IsPositive() {
			// A target with no live price cannot be sized; skip rather
			// than guess.
			return
		}
		side := types.Buy
		if diff.IsNegative() {
			side = types.Sell
		}
		qty := c.roundQuantity(diff.Abs().Div(price))
		if !qty.IsPositive() {
			return
		}
		orders = append(orders, RebalanceOrder{
			Symbol:   symbol,
			Side:     side,
			Amount:   qty.Mul(price),
			Quantity: qty,
		})
	}

	for _, target := range targets {
		targeted[target.Symbol] = struct{}{}
		consider(target.Symbol, total.Mul(target.Weight))
	}
	// Holdings with no target are sold down to zero.
	for _, pos := range positions {
		if _, ok := targeted[pos.Symbol]; !ok {
			consider(pos.Symbol, decimal.Zero)
		}
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].Side != orders[j].Side {
			return orders[i].Side == types.Sell
		}
		return orders[i].Symbol < orders[j].Symbol
	})
	return orders
}

// CalculateOrdersWithCashConstraint sequences Sells before Buys and trims
// buy orders so the running cash balance never goes negative: sale proceeds
// fund the purchases.
func (c *RebalanceCalculator) CalculateOrdersWithCashConstraint(positions []PortfolioPosition, cash decimal.Decimal, targets []TargetAllocation) []RebalanceOrder {
	orders := c.CalculateOrders(positions, cash, targets)

	available := cash
	out := make([]RebalanceOrder, 0, len(orders))
	for _, order := range orders {
		if order.Side == types.Sell {
			available = available.Add(order.Amount)
			out = append(out, order)
			continue
		}
		if order.Amount.LessThanOrEqual(available) {
			available = available.Sub(order.Amount)
			out = append(out, order)
			continue
		}
		// Shrink the buy to what cash allows.
		price := order.Amount.Div(order.Quantity)
		qty := c.roundQuantity(available.Div(price))
		if !qty.IsPositive() {
			continue
		}
		amount := qty.Mul(price)
		available = available.Sub(amount)
		out = append(out, RebalanceOrder{
			Symbol:   order.Symbol,
			Side:     types.Buy,
			Amount:   amount,
			Quantity: qty,
		})
	}
	return out
}

func (c *RebalanceCalculator) roundQuantity(qty decimal.Decimal) decimal.Decimal {
	if !c.Profile.WholeShares {
		return qty
	}
	return qty.Floor()
}
