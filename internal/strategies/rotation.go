package strategies

import (
	"encoding/json"
	"sort"
	"time"

	"tradecore/internal/strategyrt"
	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// StockRotationConfig configures the monthly top-N momentum rotation.
type StockRotationConfig struct {
	Universe           []string         `json:"universe"`
	TopN               int              `json:"top_n"`
	MinMomentum        *decimal.Decimal `json:"min_momentum"`
	RebalanceThreshold decimal.Decimal  `json:"rebalance_threshold"`
	Market             types.Market     `json:"market"`
	Quote              string           `json:"quote"`
	InitialCapital     decimal.Decimal  `json:"initial_capital"`
	// InvestableRate is the portfolio fraction deployed across the top-N
	// (the rest stays cash).
	InvestableRate decimal.Decimal `json:"investable_rate"`
}

// DefaultStockRotationConfig is the US default: top 5 of a large-cap
// universe, fully invested.
func DefaultStockRotationConfig() StockRotationConfig {
	return StockRotationConfig{
		Universe:           []string{"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA", "AVGO", "BRK.B", "JPM"},
		TopN:               5,
		RebalanceThreshold: decimal.MustFromString("0.03"),
		Market:             types.MarketStock,
		Quote:              "USD",
		InvestableRate:     decimal.One,
	}
}

// StockRotation ranks a universe by 4-period mean momentum and holds the
// top N equally weighted, selling drop-outs and buying entrants each
// month. New buys respect the shared context's entry gate.
type StockRotation struct {
	cfg     StockRotationConfig
	calc    *RebalanceCalculator
	ctx     *strategyrt.Context
	history map[string]priceHistory

	holdings map[string]decimal.Decimal
	cash     decimal.Decimal
	lastYM   string
}

// NewStockRotation creates an uninitialized StockRotation strategy.
func NewStockRotation() *StockRotation {
	return &StockRotation{
		cfg:      DefaultStockRotationConfig(),
		history:  make(map[string]priceHistory),
		holdings: make(map[string]decimal.Decimal),
	}
}

func (s *StockRotation) Name() string        { return "stock-rotation" }
func (s *StockRotation) Version() string     { return "1.0.0" }
func (s *StockRotation) Description() string { return "Monthly top-N momentum rotation" }

// SetContext wires the shared gating context.
func (s *StockRotation) SetContext(ctx *strategyrt.Context) { s.ctx = ctx }

func (s *StockRotation) Initialize(raw json.RawMessage) error {
	if err := strategyrt.DecodeConfig(raw, &s.cfg); err != nil {
		return coreerr.Wrap(coreerr.ClassConfig, s.Name(), err)
	}
	if s.cfg.TopN <= 0 {
		return coreerr.New(coreerr.ClassConfig, "stock-rotation: top_n must be > 0")
	}
	if s.cfg.InvestableRate.IsZero() {
		s.cfg.InvestableRate = decimal.One
	}
	profile := USMarketProfile
	if s.cfg.Quote == "KRW" {
		profile = KRMarketProfile
	}
	s.calc = NewRebalanceCalculator(s.cfg.RebalanceThreshold, profile)
	s.cash = s.cfg.InitialCapital
	return nil
}

func (s *StockRotation) OnMarketData(data types.MarketData) ([]types.Signal, error) {
	if data.Kind != types.MarketDataKline {
		return nil, nil
	}
	k := data.Kline
	s.history[k.Symbol.Base] = s.history[k.Symbol.Base].push(k.Close)

	if s.lastYM == yearMonth(k.CloseTime) {
		return nil, nil
	}
	signals := s.rotate(k.CloseTime)
	if len(signals) > 0 {
		s.lastYM = yearMonth(k.CloseTime)
	}
	return signals, nil
}

// rankUniverse returns universe symbols with a defined mean momentum,
// best first, filtered by min_momentum when configured.
func (s *StockRotation) rankUniverse() []rankedAsset {
	var ranked []rankedAsset
	for _, sym := range s.cfg.Universe {
		score, ok := meanMomentum(s.history[sym])
		if !ok {
			continue
		}
		if s.cfg.MinMomentum != nil && score.LessThan(*s.cfg.MinMomentum) {
			continue
		}
		ranked = append(ranked, rankedAsset{symbol: sym, score: score})
	}
	for i := 1; i < len(ranked); i++ {
		j := i
		for j > 0 && ranked[j].score.GreaterThan(ranked[j-1].score) {
			ranked[j-1], ranked[j] = ranked[j], ranked[j-1]
			j--
		}
	}
	return ranked
}

func (s *StockRotation) rotate(now time.Time) []types.Signal {
	ranked := s.rankUniverse()
	topN := s.cfg.TopN
	if topN > len(ranked) {
		topN = len(ranked)
	}
	if topN == 0 {
		return nil
	}

	weight := s.cfg.InvestableRate.Div(decimal.NewFromInt(int64(topN)))
	var targets []TargetAllocation
	for _, asset := range ranked[:topN] {
		// A new entrant must pass the entry gate; current holdings may
		// stay regardless.
		_, held := s.holdings[asset.symbol]
		if !held && s.ctx != nil && !s.ctx.CanEnter(asset.symbol) {
			continue
		}
		targets = append(targets, TargetAllocation{Symbol: asset.symbol, Weight: weight})
	}

	var portfolio []PortfolioPosition
	for sym, qty := range s.holdings {
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
			Symbol:     types.NewSymbol(order.Symbol, s.cfg.Quote, s.cfg.Market),
			Side:       order.Side,
			Type:       types.SignalScale,
			Strength:   decimal.One,
			Metadata: map[string]string{
				"amount":   order.Amount.String(),
				"quantity": order.Quantity.String(),
				"reason":   "monthly_rotation",
			},
		})
	}
	return signals
}

func (s *StockRotation) OnOrderFilled(order types.Order) {
	notional := order.FilledQuantity.Mul(order.AverageFillPrice)
	if order.Side() == types.Buy {
		s.cash = s.cash.Sub(notional)
	} else {
		s.cash = s.cash.Add(notional)
	}
}

func (s *StockRotation) OnPositionUpdate(pos types.Position) {
	if pos.Quantity.IsPositive() {
		s.holdings[pos.Symbol.Base] = pos.Quantity
	} else {
		delete(s.holdings, pos.Symbol.Base)
	}
}

func (s *StockRotation) Shutdown() error { return nil }

func (s *StockRotation) State() map[string]any {
	held := make([]string, 0, len(s.holdings))
	for sym := range s.holdings {
		held = append(held, sym)
	}
	sort.Strings(held)
	return map[string]any{
		"cash_balance":      s.cash.String(),
		"last_rebalance_ym": s.lastYM,
		"holdings":          held,
	}
}
