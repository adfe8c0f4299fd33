package strategies

import (
	"encoding/json"
	"fmt"
	"time"

	"tradecore/internal/strategyrt"
	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// HAAConfig configures the Hybrid Asset Allocation strategy.
type HAAConfig struct {
	CanaryAssets    []string `json:"canary_assets"`
	OffensiveAssets []string `json:"offensive_assets"`
	DefensiveAssets []string `json:"defensive_assets"`
	// CashSymbol is the defensive asset treated as "hold cash instead"
	// when it ranks top (the cash proxy, e.g. BIL).
	CashSymbol         string          `json:"cash_symbol"`
	OffensiveTopN      int             `json:"offensive_top_n"`
	RebalanceThreshold decimal.Decimal `json:"rebalance_threshold"`
	Market             types.Market    `json:"market"`
	InitialCapital     decimal.Decimal `json:"initial_capital"`
	Quote              string          `json:"quote"`
}

// DefaultHAAConfig is the classic US-market HAA universe.
func DefaultHAAConfig() HAAConfig {
	return HAAConfig{
		CanaryAssets:       []string{"TIP"},
		OffensiveAssets:    []string{"SPY", "IWM", "VEA", "VWO", "VNQ", "DBC", "IEF", "TLT"},
		DefensiveAssets:    []string{"BIL", "IEF"},
		CashSymbol:         "BIL",
		OffensiveTopN:      4,
		RebalanceThreshold: decimal.MustFromString("0.03"),
		Market:             types.MarketStock,
		Quote:              "USD",
	}
}

type haaMode string

const (
	haaOffensive haaMode = "OFFENSIVE"
	haaDefensive haaMode = "DEFENSIVE"
)

// HAA is the monthly Hybrid Asset Allocation rotation: canary momentum
// selects offensive or defensive mode, and a rebalance pass moves the
// portfolio to equal-weight top-N (offensive) or top-1 defensive.
type HAA struct {
	cfg       HAAConfig
	calc      *RebalanceCalculator
	history   map[string]priceHistory
	positions map[string]decimal.Decimal
	cash      decimal.Decimal
	lastYM    string
	mode      haaMode
}

// NewHAA creates an uninitialized HAA strategy.
func NewHAA() *HAA {
	return &HAA{
		cfg:       DefaultHAAConfig(),
		history:   make(map[string]priceHistory),
		positions: make(map[string]decimal.Decimal),
		mode:      haaOffensive,
	}
}

func (s *HAA) Name() string        { return "haa" }
func (s *HAA) Version() string     { return "1.0.0" }
func (s *HAA) Description() string { return "Hybrid Asset Allocation with canary-driven defense" }

// Initialize applies the JSON config over the defaults.
func (s *HAA) Initialize(raw json.RawMessage) error {
	if err := strategyrt.DecodeConfig(raw, &s.cfg); err != nil {
		return coreerr.Wrap(coreerr.ClassConfig, s.Name(), err)
	}
	if s.cfg.OffensiveTopN <= 0 {
		return coreerr.New(coreerr.ClassConfig, "haa: offensive_top_n must be > 0")
	}
	profile := USMarketProfile
	if s.cfg.Market == types.MarketStock && s.cfg.Quote == "KRW" {
		profile = KRMarketProfile
	}
	s.calc = NewRebalanceCalculator(s.cfg.RebalanceThreshold, profile)
	s.cash = s.cfg.InitialCapital
	return nil
}

// OnMarketData records the close and, on a new calendar month, emits the
// rebalance signals.
func (s *HAA) OnMarketData(data types.MarketData) ([]types.Signal, error) {
	if data.Kind != types.MarketDataKline {
		return nil, nil
	}
	k := data.Kline
	s.history[k.Symbol.Base] = s.history[k.Symbol.Base].push(k.Close)

	if !s.shouldRebalance(k.CloseTime) {
		return nil, nil
	}
	targets := s.targetWeights()
	signals := s.rebalanceSignals(targets, k.CloseTime)
	if len(signals) > 0 {
		s.lastYM = yearMonth(k.CloseTime)
	}
	return signals, nil
}

func (s *HAA) shouldRebalance(now time.Time) bool {
	return s.lastYM != yearMonth(now)
}

func yearMonth(t time.Time) string {
	return fmt.Sprintf("%d_%02d", t.Year(), int(t.Month()))
}

// targetWeights runs the canary check and builds the allocation set.
func (s *HAA) targetWeights() []TargetAllocation {
	s.mode = s.checkCanary()

	var allocations []TargetAllocation
	switch s.mode {
	case haaOffensive:
		ranked := s.rank(s.cfg.OffensiveAssets)
		topN := s.cfg.OffensiveTopN
		if topN > len(ranked) {
			topN = len(ranked)
		}
		if topN == 0 {
			return allocations
		}
		base := decimal.One.Div(decimal.NewFromInt(int64(topN)))
		overflow := decimal.Zero
		for _, asset := range ranked[:topN] {
			if asset.score.IsPositive() {
				allocations = append(allocations, TargetAllocation{Symbol: asset.symbol, Weight: base})
			} else {
				// Non-positive momentum donates its slice to the
				// defensive top-1.
				overflow = overflow.Add(base)
			}
		}
		if overflow.IsPositive() {
			allocations = s.addDefensive(allocations, overflow)
		}
	case haaDefensive:
		allocations = s.addDefensive(allocations, decimal.One)
	}
	return allocations
}

// checkCanary returns Defensive when any canary momentum is negative or
// unavailable.
func (s *HAA) checkCanary() haaMode {
	for _, canary := range s.cfg.CanaryAssets {
		score, ok := momentumScore(s.history[canary])
		if !ok || score.IsNegative() {
			return haaDefensive
		}
	}
	return haaOffensive
}

type rankedAsset struct {
	symbol string
	score  decimal.Decimal
}

// rank returns assets with a defined momentum score, best first.
func (s *HAA) rank(symbols []string) []rankedAsset {
	var ranked []rankedAsset
	for _, sym := range symbols {
		if score, ok := momentumScore(s.history[sym]); ok {
			ranked = append(ranked, rankedAsset{symbol: sym, score: score})
		}
	}
	// Insertion sort keeps ties in universe order, which keeps replays
	// deterministic.
	for i := 1; i < len(ranked); i++ {
		j := i
		for j > 0 && ranked[j].score.GreaterThan(ranked[j-1].score) {
			ranked[j-1], ranked[j] = ranked[j], ranked[j-1]
			j--
		}
	}
	return ranked
}

// addDefensive routes weight to the top-ranked defensive asset; the cash
// proxy means "hold cash" and gets no allocation.
func (s *HAA) addDefensive(allocations []TargetAllocation, weight decimal.Decimal) []TargetAllocation {
	ranked := s.rank(s.cfg.DefensiveAssets)
	if len(ranked) == 0 {
		return allocations
	}
	top := ranked[0]
	if top.symbol == s.cfg.CashSymbol {
		return allocations
	}
	for i := range allocations {
		if allocations[i].Symbol == top.symbol {
			allocations[i].Weight = allocations[i].Weight.Add(weight)
			return allocations
		}
	}
	return append(allocations, TargetAllocation{Symbol: top.symbol, Weight: weight})
}

func (s *HAA) rebalanceSignals(targets []TargetAllocation, now time.Time) []types.Signal {
	var portfolio []PortfolioPosition
	for sym, qty := range s.positions {
		history := s.history[sym]
		if len(history) == 0 || !qty.IsPositive() {
			continue
		}
		portfolio = append(portfolio, PortfolioPosition{
			Symbol:       sym,
			Quantity:     qty,
			CurrentPrice: history[0],
		})
	}

	orders := s.calc.CalculateOrdersWithCashConstraint(portfolio, s.cash, targets)
	signals := make([]types.Signal, 0, len(orders))
	for _, order := range orders {
		signals = append(signals, types.Signal{
			StrategyID: s.Name(),
			Symbol:     types.NewSymbol(order.Symbol, s.cfg.Quote, s.cfg.Market),
			Side:       order.Side,
			Type:       types.SignalScale,
			Strength:   decimal.One,
			Metadata: map[string]string{
				"amount":   order.Amount.String(),
				"quantity": order.Quantity.String(),
				"mode":     string(s.mode),
				"reason":   "monthly_rebalance",
			},
		})
	}
	return signals
}

// OnOrderFilled adjusts the cash balance by the filled notional.
func (s *HAA) OnOrderFilled(order types.Order) {
	notional := order.FilledQuantity.Mul(order.AverageFillPrice)
	if order.Side() == types.Buy {
		s.cash = s.cash.Sub(notional)
	} else {
		s.cash = s.cash.Add(notional)
	}
}

// OnPositionUpdate mirrors the tracker's quantity into the local holdings.
func (s *HAA) OnPositionUpdate(pos types.Position) {
	if pos.Quantity.IsPositive() {
		s.positions[pos.Symbol.Base] = pos.Quantity
	} else {
		delete(s.positions, pos.Symbol.Base)
	}
}

func (s *HAA) Shutdown() error { return nil }

// State reports the mode, cash and last rebalance month.
func (s *HAA) State() map[string]any {
	return map[string]any{
		"mode":              string(s.mode),
		"cash_balance":      s.cash.String(),
		"last_rebalance_ym": s.lastYM,
	}
}
