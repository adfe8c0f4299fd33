package strategies

import (
	"encoding/json"
	"time"

	"tradecore/internal/strategyrt"
	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// SimplePowerConfig configures the four-asset monthly allocation.
type SimplePowerConfig struct {
	AggressiveAsset   string `json:"aggressive_asset"`
	DividendAsset     string `json:"dividend_asset"`
	RateHedgeAsset    string `json:"rate_hedge_asset"`
	BondLeverageAsset string `json:"bond_leverage_asset"`

	AggressiveWeight   decimal.Decimal `json:"aggressive_weight"`
	DividendWeight     decimal.Decimal `json:"dividend_weight"`
	RateHedgeWeight    decimal.Decimal `json:"rate_hedge_weight"`
	BondLeverageWeight decimal.Decimal `json:"bond_leverage_weight"`

	MAPeriod           int             `json:"ma_period"`
	RebalanceThreshold decimal.Decimal `json:"rebalance_threshold"`
	InitialCapital     decimal.Decimal `json:"initial_capital"`
	Quote              string          `json:"quote"`
}

// DefaultSimplePowerConfig is the TQQQ/SCHD/PFIX/TMF layout with base
// weights 50/20/15/15 and a 130-day MA filter.
func DefaultSimplePowerConfig() SimplePowerConfig {
	return SimplePowerConfig{
		AggressiveAsset:    "TQQQ",
		DividendAsset:      "SCHD",
		RateHedgeAsset:     "PFIX",
		BondLeverageAsset:  "TMF",
		AggressiveWeight:   decimal.MustFromString("0.5"),
		DividendWeight:     decimal.MustFromString("0.2"),
		RateHedgeWeight:    decimal.MustFromString("0.15"),
		BondLeverageWeight: decimal.MustFromString("0.15"),
		MAPeriod:           130,
		RebalanceThreshold: decimal.MustFromString("0.03"),
		Quote:              "USD",
	}
}

// momentumState is the per-asset MA filter outcome.
type momentumState struct {
	cutCount int
	rate     decimal.Decimal // weight multiplier: 1, 0.5, 0.25 or 0
	out      bool            // hedge asset fully zeroed
}

// SimplePower halves an asset's weight when the previous close is under
// its MA, halves again when the MA itself is declining, and zeroes the
// rate-hedge pair (PFIX/TMF) entirely on a double cut — doubling the
// surviving hedge when exactly one is out.
type SimplePower struct {
	cfg     SimplePowerConfig
	calc    *RebalanceCalculator
	history map[string]priceHistory
	states  map[string]momentumState

	positions map[string]decimal.Decimal
	cash      decimal.Decimal
	lastYM    string
}

// NewSimplePower creates an uninitialized SimplePower strategy.
func NewSimplePower() *SimplePower {
	return &SimplePower{
		cfg:       DefaultSimplePowerConfig(),
		history:   make(map[string]priceHistory),
		states:    make(map[string]momentumState),
		positions: make(map[string]decimal.Decimal),
	}
}

func (s *SimplePower) Name() string    { return "simple-power" }
func (s *SimplePower) Version() string { return "1.0.0" }
func (s *SimplePower) Description() string {
	return "Monthly four-asset allocation with MA momentum cuts"
}

func (s *SimplePower) Initialize(raw json.RawMessage) error {
	if err := strategyrt.DecodeConfig(raw, &s.cfg); err != nil {
		return coreerr.Wrap(coreerr.ClassConfig, s.Name(), err)
	}
	if s.cfg.MAPeriod <= 0 {
		return coreerr.New(coreerr.ClassConfig, "simple-power: ma_period must be > 0")
	}
	s.calc = NewRebalanceCalculator(s.cfg.RebalanceThreshold, USMarketProfile)
	s.cash = s.cfg.InitialCapital
	return nil
}

func (s *SimplePower) assets() []string {
	return []string{s.cfg.AggressiveAsset, s.cfg.DividendAsset, s.cfg.RateHedgeAsset, s.cfg.BondLeverageAsset}
}

func (s *SimplePower) baseWeights() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		s.cfg.AggressiveAsset:   s.cfg.AggressiveWeight,
		s.cfg.DividendAsset:     s.cfg.DividendWeight,
		s.cfg.RateHedgeAsset:    s.cfg.RateHedgeWeight,
		s.cfg.BondLeverageAsset: s.cfg.BondLeverageWeight,
	}
}

func (s *SimplePower) OnMarketData(data types.MarketData) ([]types.Signal, error) {
	if data.Kind != types.MarketDataKline {
		return nil, nil
	}
	k := data.Kline
	s.history[k.Symbol.Base] = s.history[k.Symbol.Base].push(k.Close)

	if s.lastYM == yearMonth(k.CloseTime) {
		return nil, nil
	}
	targets := s.adjustedWeights()
	signals := s.rebalanceSignals(targets, k.CloseTime)
	if len(signals) > 0 {
		s.lastYM = yearMonth(k.CloseTime)
	}
	return signals, nil
}

// assetState applies the two cuts: (a) previous close below the MA halves
// the weight; (b) a declining MA halves it again. Hedge assets with both
// cuts go fully to zero.
func (s *SimplePower) assetState(symbol string) momentumState {
	state := momentumState{rate: decimal.One}
	prices := s.history[symbol]
	if len(prices) < s.cfg.MAPeriod+3 {
		return state
	}

	prevClose := prices[1]
	maCurrent, ok1 := sma(prices, s.cfg.MAPeriod, 1)
	maPrevious, ok2 := sma(prices, s.cfg.MAPeriod, 2)
	if !ok1 || !ok2 {
		return state
	}

	half := decimal.MustFromString("0.5")
	if maCurrent.GreaterThan(prevClose) {
		state.rate = state.rate.Mul(half)
		state.cutCount++
	}
	if maPrevious.GreaterThan(maCurrent) {
		state.rate = state.rate.Mul(half)
		state.cutCount++
	}

	isHedge := symbol == s.cfg.RateHedgeAsset || symbol == s.cfg.BondLeverageAsset
	if isHedge && state.cutCount == 2 {
		state.rate = decimal.Zero
		state.out = true
	}
	return state
}

func (s *SimplePower) adjustedWeights() []TargetAllocation {
	base := s.baseWeights()
	adjusted := make(map[string]decimal.Decimal, len(base))
	for _, asset := range s.assets() {
		state := s.assetState(asset)
		s.states[asset] = state
		adjusted[asset] = base[asset].Mul(state.rate)
	}

	// When exactly one of the hedge pair is zeroed, the survivor doubles.
	pfixOut := s.states[s.cfg.RateHedgeAsset].out
	tmfOut := s.states[s.cfg.BondLeverageAsset].out
	two := decimal.NewFromInt(2)
	if pfixOut && !tmfOut {
		adjusted[s.cfg.BondLeverageAsset] = adjusted[s.cfg.BondLeverageAsset].Mul(two)
	} else if tmfOut && !pfixOut {
		adjusted[s.cfg.RateHedgeAsset] = adjusted[s.cfg.RateHedgeAsset].Mul(two)
	}

	targets := make([]TargetAllocation, 0, len(adjusted))
	for _, asset := range s.assets() {
		if adjusted[asset].IsPositive() {
			targets = append(targets, TargetAllocation{Symbol: asset, Weight: adjusted[asset]})
		}
	}
	return targets
}

func (s *SimplePower) rebalanceSignals(targets []TargetAllocation, now time.Time) []types.Signal {
	var portfolio []PortfolioPosition
	for sym, qty := range s.positions {
		history := s.history[sym]
		if len(history) == 0 || !qty.IsPositive() {
			continue
		}
		portfolio = append(portfolio, PortfolioPosition{Symbol: sym, Quantity: qty, CurrentPrice: history[0]})
	}

	orders := s.calc.CalculateOrdersWithCashConstraint(portfolio, s.cash, targets)
	signals := make([]types.Signal, 0, len(orders))
	for _, order := range orders {
		signals = append(signals, types.Signal{
			StrategyID: s.Name(),
			Symbol:     types.NewSymbol(order.Symbol, s.cfg.Quote, types.MarketStock),
			Side:       order.Side,
			Type:       types.SignalScale,
			Strength:   decimal.One,
			Metadata: map[string]string{
				"amount":   order.Amount.String(),
				"quantity": order.Quantity.String(),
				"reason":   "monthly_rebalance",
			},
		})
	}
	return signals
}

func (s *SimplePower) OnOrderFilled(order types.Order) {
	notional := order.FilledQuantity.Mul(order.AverageFillPrice)
	if order.Side() == types.Buy {
		s.cash = s.cash.Sub(notional)
	} else {
		s.cash = s.cash.Add(notional)
	}
}

func (s *SimplePower) OnPositionUpdate(pos types.Position) {
	if pos.Quantity.IsPositive() {
		s.positions[pos.Symbol.Base] = pos.Quantity
	} else {
		delete(s.positions, pos.Symbol.Base)
	}
}

func (s *SimplePower) Shutdown() error { return nil }

func (s *SimplePower) State() map[string]any {
	cuts := make(map[string]int, len(s.states))
	for asset, st := range s.states {
		cuts[asset] = st.cutCount
	}
	return map[string]any{
		"cash_balance":      s.cash.String(),
		"last_rebalance_ym": s.lastYM,
		"cut_counts":        cuts,
	}
}
