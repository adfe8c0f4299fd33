package strategies

import (
	"encoding/json"

	"tradecore/internal/strategyrt"
	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// KOSPIBothSideConfig configures the dual-ETF intraday strategy: a
// leveraged long ETF plus an inverse ETF, each with its own indicator bank
// and position cap.
type KOSPIBothSideConfig struct {
	LeverageTicker string          `json:"leverage_ticker"`
	InverseTicker  string          `json:"inverse_ticker"`
	LeverageRatio  decimal.Decimal `json:"leverage_ratio"`
	InverseRatio   decimal.Decimal `json:"inverse_ratio"`

	MA3Period  int `json:"ma3_period"`
	MA6Period  int `json:"ma6_period"`
	MA19Period int `json:"ma19_period"`
	MA60Period int `json:"ma60_period"`

	DisparityUpper decimal.Decimal `json:"disparity_upper"`
	DisparityLower decimal.Decimal `json:"disparity_lower"`

	RSIPeriod     int             `json:"rsi_period"`
	RSIOversold   decimal.Decimal `json:"rsi_oversold"`
	RSIOverbought decimal.Decimal `json:"rsi_overbought"`

	StopLossPct decimal.Decimal `json:"stop_loss_pct"`
}

// DefaultKOSPIBothSideConfig is the KODEX leverage/inverse-2X pairing.
func DefaultKOSPIBothSideConfig() KOSPIBothSideConfig {
	return KOSPIBothSideConfig{
		LeverageTicker: "122630",
		InverseTicker:  "252670",
		LeverageRatio:  decimal.MustFromString("0.7"),
		InverseRatio:   decimal.MustFromString("0.3"),
		MA3Period:      3,
		MA6Period:      6,
		MA19Period:     19,
		MA60Period:     60,
		DisparityUpper: decimal.NewFromInt(106),
		DisparityLower: decimal.NewFromInt(94),
		RSIPeriod:      14,
		RSIOversold:    decimal.NewFromInt(30),
		RSIOverbought:  decimal.NewFromInt(70),
		StopLossPct:    decimal.NewFromInt(5),
	}
}

// indicatorBank keeps the rolling closes plus gain/loss series one ETF
// needs for its MA, RSI and disparity reads. All decisions use the just
// completed bar — nothing here looks at the bar in progress.
type indicatorBank struct {
	prices priceHistory
	gains  []decimal.Decimal
	losses []decimal.Decimal
	maxLen int
}

func newIndicatorBank(maxLen int) *indicatorBank {
	return &indicatorBank{maxLen: maxLen}
}

func (b *indicatorBank) update(price decimal.Decimal) {
	if len(b.prices) > 0 {
		change := price.Sub(b.prices[0])
		gain, loss := decimal.Zero, decimal.Zero
		if change.IsPositive() {
			gain = change
		} else {
			loss = change.Abs()
		}
		b.gains = prependBounded(b.gains, gain, b.maxLen)
		b.losses = prependBounded(b.losses, loss, b.maxLen)
	}
	b.prices = prependBounded(b.prices, price, b.maxLen)
}

func prependBounded(s []decimal.Decimal, v decimal.Decimal, maxLen int) []decimal.Decimal {
	s = append(s, decimal.Zero)
	copy(s[1:], s)
	s[0] = v
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

func (b *indicatorBank) ma(period int) (decimal.Decimal, bool) {
	return sma(b.prices, period, 0)
}

func (b *indicatorBank) rsi(period int) (decimal.Decimal, bool) {
	if len(b.gains) < period {
		return decimal.Zero, false
	}
	n := decimal.NewFromInt(int64(period))
	avgGain := sumDecimalSlice(b.gains[:period]).Div(n)
	avgLoss := sumDecimalSlice(b.losses[:period]).Div(n)
	if avgLoss.IsZero() {
		return decimal.Hundred, true
	}
	rs := avgGain.Div(avgLoss)
	return decimal.Hundred.Sub(decimal.Hundred.Div(decimal.One.Add(rs))), true
}

// disparity is price / MA(period) * 100.
func (b *indicatorBank) disparity(period int) (decimal.Decimal, bool) {
	ma, ok := b.ma(period)
	if !ok || ma.IsZero() || len(b.prices) == 0 {
		return decimal.Zero, false
	}
	return b.prices[0].Div(ma).Mul(decimal.Hundred), true
}

// etfLeg is the held state for one side of the pair.
type etfLeg struct {
	holding    bool
	entryPrice decimal.Decimal
}

// KOSPIBothSide trades a leveraged ETF on trend breakouts and the paired
// inverse ETF on dead crosses, with per-leg stop-losses and position caps
// via signal strength.
type KOSPIBothSide struct {
	cfg KOSPIBothSideConfig
	ctx *strategyrt.Context

	leverageBank *indicatorBank
	inverseBank  *indicatorBank
	leverage     etfLeg
	inverse      etfLeg
}

// NewKOSPIBothSide creates an uninitialized KOSPIBothSide strategy.
func NewKOSPIBothSide() *KOSPIBothSide {
	return &KOSPIBothSide{
		cfg:          DefaultKOSPIBothSideConfig(),
		leverageBank: newIndicatorBank(70),
		inverseBank:  newIndicatorBank(70),
	}
}

func (s *KOSPIBothSide) Name() string    { return "kospi-bothside" }
func (s *KOSPIBothSide) Version() string { return "1.0.0" }
func (s *KOSPIBothSide) Description() string {
	return "Dual leverage/inverse KOSPI ETF strategy with MA, RSI and disparity banks"
}

// SetContext wires the shared gating context.
func (s *KOSPIBothSide) SetContext(ctx *strategyrt.Context) { s.ctx = ctx }

func (s *KOSPIBothSide) Initialize(raw json.RawMessage) error {
	if err := strategyrt.DecodeConfig(raw, &s.cfg); err != nil {
		return coreerr.Wrap(coreerr.ClassConfig, s.Name(), err)
	}
	if s.cfg.LeverageTicker == "" || s.cfg.InverseTicker == "" {
		return coreerr.New(coreerr.ClassConfig, "kospi-bothside: both tickers are required")
	}
	return nil
}

func (s *KOSPIBothSide) OnMarketData(data types.MarketData) ([]types.Signal, error) {
	if data.Kind != types.MarketDataKline {
		return nil, nil
	}
	k := data.Kline

	switch k.Symbol.Base {
	case s.cfg.LeverageTicker:
		s.leverageBank.update(k.Close)
	case s.cfg.InverseTicker:
		s.inverseBank.update(k.Close)
	default:
		return nil, nil
	}

	var signals []types.Signal
	signals = append(signals, s.leverageSignals()...)
	signals = append(signals, s.inverseSignals()...)
	return signals, nil
}

func (s *KOSPIBothSide) canEnter() bool {
	if s.ctx == nil {
		return true
	}
	return s.ctx.CanEnter(s.cfg.LeverageTicker)
}

func (s *KOSPIBothSide) leverageSignals() []types.Signal {
	if len(s.leverageBank.prices) == 0 {
		return nil
	}
	price := s.leverageBank.prices[0]
	sym := types.NewSymbol(s.cfg.LeverageTicker, "KRW", types.MarketStock)

	if !s.leverage.holding && s.shouldBuyLeverage() {
		if !s.canEnter() {
			return nil
		}
		s.leverage = etfLeg{holding: true, entryPrice: price}
		return []types.Signal{{
			StrategyID:     s.Name(),
			Symbol:         sym,
			Side:           types.Buy,
			Type:           types.SignalEntry,
			Strength:       s.cfg.LeverageRatio,
			SuggestedPrice: &price,
			Metadata:       map[string]string{"etf": "leverage"},
		}}
	}
	if s.leverage.holding && s.shouldSellLeverage() {
		s.leverage = etfLeg{}
		return []types.Signal{{
			StrategyID:     s.Name(),
			Symbol:         sym,
			Side:           types.Sell,
			Type:           types.SignalExit,
			Strength:       decimal.One,
			SuggestedPrice: &price,
			Metadata:       map[string]string{"etf": "leverage"},
		}}
	}
	return nil
}

func (s *KOSPIBothSide) inverseSignals() []types.Signal {
	if len(s.inverseBank.prices) == 0 {
		return nil
	}
	price := s.inverseBank.prices[0]
	sym := types.NewSymbol(s.cfg.InverseTicker, "KRW", types.MarketStock)

	if !s.inverse.holding && s.shouldBuyInverse() {
		if !s.canEnter() {
			return nil
		}
		s.inverse = etfLeg{holding: true, entryPrice: price}
		return []types.Signal{{
			StrategyID:     s.Name(),
			Symbol:         sym,
			Side:           types.Buy,
			Type:           types.SignalEntry,
			Strength:       s.cfg.InverseRatio,
			SuggestedPrice: &price,
			Metadata:       map[string]string{"etf": "inverse"},
		}}
	}
	if s.inverse.holding && s.shouldSellInverse() {
		s.inverse = etfLeg{}
		return []types.Signal{{
			StrategyID:     s.Name(),
			Symbol:         sym,
			Side:           types.Sell,
			Type:           types.SignalExit,
			Strength:       decimal.One,
			SuggestedPrice: &price,
			Metadata:       map[string]string{"etf": "inverse"},
		}}
	}
	return nil
}

// shouldBuyLeverage: an MA60 upward breakout with disparity below the
// upper band and RSI under the overbought line.
func (s *KOSPIBothSide) shouldBuyLeverage() bool {
	bank := s.leverageBank
	ma60, ok := bank.ma(s.cfg.MA60Period)
	if !ok {
		return false
	}
	ma60Prev, ok := sma(bank.prices, s.cfg.MA60Period, 1)
	if !ok || len(bank.prices) < 2 {
		return false
	}
	current, prevClose := bank.prices[0], bank.prices[1]
	breakout := ma60Prev.GreaterThan(prevClose) && ma60.LessThanOrEqual(current)

	disparity, ok := bank.disparity(11)
	if !ok {
		return false
	}
	rsi, ok := bank.rsi(s.cfg.RSIPeriod)
	if !ok {
		return false
	}
	return breakout && disparity.LessThan(s.cfg.DisparityUpper) && rsi.LessThan(s.cfg.RSIOverbought)
}

// shouldSellLeverage: stop-loss, a full dead cross (MA3 < MA6 < MA19), or
// disparity under the lower band.
func (s *KOSPIBothSide) shouldSellLeverage() bool {
	bank := s.leverageBank
	if s.stopLossHit(s.leverage, bank) {
		return true
	}
	ma3, ok1 := bank.ma(s.cfg.MA3Period)
	ma6, ok2 := bank.ma(s.cfg.MA6Period)
	ma19, ok3 := bank.ma(s.cfg.MA19Period)
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	deadCross := ma3.LessThan(ma6) && ma6.LessThan(ma19)

	disparity, ok := bank.disparity(20)
	if !ok {
		return deadCross
	}
	return deadCross || disparity.LessThan(s.cfg.DisparityLower)
}

// shouldBuyInverse: the leverage side's dead cross or overbought RSI.
func (s *KOSPIBothSide) shouldBuyInverse() bool {
	bank := s.leverageBank
	ma3, ok1 := bank.ma(s.cfg.MA3Period)
	ma6, ok2 := bank.ma(s.cfg.MA6Period)
	ma19, ok3 := bank.ma(s.cfg.MA19Period)
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	deadCross := ma3.LessThan(ma6) && ma6.LessThan(ma19)

	rsi, ok := bank.rsi(s.cfg.RSIPeriod)
	if !ok {
		return false
	}
	return rsi.GreaterThan(s.cfg.RSIOverbought) || deadCross
}

// shouldSellInverse: stop-loss, the leverage side's golden cross, or its
// RSI dropping back to oversold.
func (s *KOSPIBothSide) shouldSellInverse() bool {
	if s.stopLossHit(s.inverse, s.inverseBank) {
		return true
	}
	bank := s.leverageBank
	ma3, ok1 := bank.ma(s.cfg.MA3Period)
	ma6, ok2 := bank.ma(s.cfg.MA6Period)
	ma19, ok3 := bank.ma(s.cfg.MA19Period)
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	goldenCross := ma3.GreaterThan(ma6) && ma6.GreaterThan(ma19)

	rsi, ok := bank.rsi(s.cfg.RSIPeriod)
	if !ok {
		return goldenCross
	}
	return goldenCross || rsi.LessThan(s.cfg.RSIOversold)
}

func (s *KOSPIBothSide) stopLossHit(leg etfLeg, bank *indicatorBank) bool {
	if !leg.holding || !leg.entryPrice.IsPositive() || len(bank.prices) == 0 {
		return false
	}
	pnlPct := bank.prices[0].Sub(leg.entryPrice).Div(leg.entryPrice).Mul(decimal.Hundred)
	return pnlPct.LessThanOrEqual(s.cfg.StopLossPct.Neg())
}

func (s *KOSPIBothSide) OnOrderFilled(types.Order) {}

// OnPositionUpdate re-syncs leg state with the tracker, so an externally
// closed position (bracket fill) is observed.
func (s *KOSPIBothSide) OnPositionUpdate(pos types.Position) {
	switch pos.Symbol.Base {
	case s.cfg.LeverageTicker:
		if !pos.IsOpen() {
			s.leverage = etfLeg{}
		}
	case s.cfg.InverseTicker:
		if !pos.IsOpen() {
			s.inverse = etfLeg{}
		}
	}
}

func (s *KOSPIBothSide) Shutdown() error { return nil }

func (s *KOSPIBothSide) State() map[string]any {
	return map[string]any{
		"leverage_holding": s.leverage.holding,
		"inverse_holding":  s.inverse.holding,
	}
}
