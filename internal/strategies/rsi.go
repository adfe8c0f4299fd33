package strategies

import (
	"encoding/json"

	"tradecore/internal/strategyrt"
	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// RSIConfig configures the mean-reversion strategy.
type RSIConfig struct {
	Period              int             `json:"period"`
	OversoldThreshold   decimal.Decimal `json:"oversold_threshold"`
	OverboughtThreshold decimal.Decimal `json:"overbought_threshold"`
	// ConfirmationCandles requires the RSI to sit in the zone for this
	// many consecutive bars before a signal fires (0 disables).
	ConfirmationCandles int `json:"confirmation_candles"`
	// ExitOnNeutral exits when the RSI re-crosses 50 instead of waiting
	// for the opposite extreme.
	ExitOnNeutral   bool             `json:"exit_on_neutral"`
	StopLossPct     *decimal.Decimal `json:"stop_loss_pct"`
	TakeProfitPct   *decimal.Decimal `json:"take_profit_pct"`
	CooldownCandles int              `json:"cooldown_candles"`
	AllowShort      bool             `json:"allow_short"`
}

// DefaultRSIConfig is the standard 14-period 30/70 tuning.
func DefaultRSIConfig() RSIConfig {
	return RSIConfig{
		Period:              14,
		OversoldThreshold:   decimal.NewFromInt(30),
		OverboughtThreshold: decimal.NewFromInt(70),
		CooldownCandles:     5,
	}
}

// RSI is the mean-reversion strategy: buy an oversold upward cross, exit
// on the neutral (50) re-cross or the overbought zone, with optional
// stop-loss/take-profit brackets and a post-exit cooldown.
//
// The RSI itself uses Wilder smoothing: an initial simple average over the
// first period, then avg = (prev*(n-1) + current) / n.
type RSI struct {
	cfg    RSIConfig
	symbol types.Symbol

	lastClose  *decimal.Decimal
	avgGain    *decimal.Decimal
	avgLoss    *decimal.Decimal
	seedGains  []decimal.Decimal
	seedLosses []decimal.Decimal

	current    *decimal.Decimal
	previous   *decimal.Decimal
	rsiHistory []decimal.Decimal // newest first, bounded

	state      posState
	entryPrice decimal.Decimal
	cooldown   int
}

// NewRSI creates an uninitialized RSI strategy.
func NewRSI() *RSI {
	return &RSI{cfg: DefaultRSIConfig()}
}

func (s *RSI) Name() string        { return "rsi-mean-reversion" }
func (s *RSI) Version() string     { return "1.0.0" }
func (s *RSI) Description() string { return "RSI mean reversion with neutral-cross exits" }

func (s *RSI) Initialize(raw json.RawMessage) error {
	if err := strategyrt.DecodeConfig(raw, &s.cfg); err != nil {
		return coreerr.Wrap(coreerr.ClassConfig, s.Name(), err)
	}
	if s.cfg.Period < 2 {
		return coreerr.New(coreerr.ClassConfig, "rsi: period must be >= 2")
	}
	return nil
}

func (s *RSI) OnMarketData(data types.MarketData) ([]types.Signal, error) {
	if data.Kind != types.MarketDataKline {
		return nil, nil
	}
	k := data.Kline
	s.symbol = k.Symbol
	s.updateRSI(k.Close)
	return s.generateSignals(k.Close), nil
}

// updateRSI advances the Wilder-smoothed RSI with one close.
func (s *RSI) updateRSI(close decimal.Decimal) {
	if s.lastClose == nil {
		s.lastClose = &close
		return
	}
	change := close.Sub(*s.lastClose)
	s.lastClose = &close

	gain, loss := decimal.Zero, decimal.Zero
	if change.IsPositive() {
		gain = change
	} else {
		loss = change.Abs()
	}

	n := decimal.NewFromInt(int64(s.cfg.Period))
	if s.avgGain == nil {
		s.seedGains = append(s.seedGains, gain)
		s.seedLosses = append(s.seedLosses, loss)
		if len(s.seedGains) < s.cfg.Period {
			return
		}
		ag := sumDecimalSlice(s.seedGains).Div(n)
		al := sumDecimalSlice(s.seedLosses).Div(n)
		s.avgGain, s.avgLoss = &ag, &al
		s.seedGains, s.seedLosses = nil, nil
	} else {
		nMinus1 := n.Sub(decimal.One)
		ag := s.avgGain.Mul(nMinus1).Add(gain).Div(n)
		al := s.avgLoss.Mul(nMinus1).Add(loss).Div(n)
		s.avgGain, s.avgLoss = &ag, &al
	}

	var rsi decimal.Decimal
	if s.avgLoss.IsZero() {
		rsi = decimal.Hundred
	} else {
		rs := s.avgGain.Div(*s.avgLoss)
		rsi = decimal.Hundred.Sub(decimal.Hundred.Div(decimal.One.Add(rs)))
	}

	s.previous = s.current
	s.current = &rsi

	s.rsiHistory = append(s.rsiHistory, decimal.Zero)
	copy(s.rsiHistory[1:], s.rsiHistory)
	s.rsiHistory[0] = rsi
	if len(s.rsiHistory) > 20 {
		s.rsiHistory = s.rsiHistory[:20]
	}
}

func sumDecimalSlice(ds []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d)
	}
	return total
}

// confirmed reports whether the RSI has held the zone for the configured
// number of bars.
func (s *RSI) confirmed(threshold decimal.Decimal, below bool) bool {
	if s.cfg.ConfirmationCandles == 0 {
		return true
	}
	if len(s.rsiHistory) < s.cfg.ConfirmationCandles {
		return false
	}
	for _, rsi := range s.rsiHistory[:s.cfg.ConfirmationCandles] {
		if below && rsi.GreaterThanOrEqual(threshold) {
			return false
		}
		if !below && rsi.LessThanOrEqual(threshold) {
			return false
		}
	}
	return true
}

func (s *RSI) generateSignals(price decimal.Decimal) []types.Signal {
	if s.current == nil {
		return nil
	}
	rsi := *s.current

	if s.cooldown > 0 {
		s.cooldown--
		return nil
	}

	switch s.state {
	case flat:
		return s.entrySignals(rsi, price)
	case long:
		return s.longExitSignals(rsi, price)
	case short:
		return s.shortExitSignals(rsi)
	}
	return nil
}

func (s *RSI) entrySignals(rsi, price decimal.Decimal) []types.Signal {
	if rsi.LessThan(s.cfg.OversoldThreshold) && s.confirmed(s.cfg.OversoldThreshold, true) {
		crossingUp := true
		if s.previous != nil {
			crossingUp = s.previous.LessThan(s.cfg.OversoldThreshold) && rsi.GreaterThan(*s.previous)
		}
		if crossingUp {
			sig := types.Signal{
				StrategyID: s.Name(),
				Symbol:     s.symbol,
				Side:       types.Buy,
				Type:       types.SignalEntry,
				Strength:   s.cfg.OversoldThreshold.Sub(rsi).Div(s.cfg.OversoldThreshold),
				Metadata:   map[string]string{"rsi": rsi.String(), "reason": "oversold"},
			}
			s.attachBrackets(&sig, price)
			s.state = long
			s.entryPrice = price
			return []types.Signal{sig}
		}
	}

	if s.cfg.AllowShort && rsi.GreaterThan(s.cfg.OverboughtThreshold) && s.confirmed(s.cfg.OverboughtThreshold, false) {
		crossingDown := true
		if s.previous != nil {
			crossingDown = s.previous.GreaterThan(s.cfg.OverboughtThreshold) && rsi.LessThan(*s.previous)
		}
		if crossingDown {
			sig := types.Signal{
				StrategyID: s.Name(),
				Symbol:     s.symbol,
				Side:       types.Sell,
				Type:       types.SignalEntry,
				Strength:   rsi.Sub(s.cfg.OverboughtThreshold).Div(decimal.Hundred.Sub(s.cfg.OverboughtThreshold)),
				Metadata:   map[string]string{"rsi": rsi.String(), "reason": "overbought"},
			}
			s.state = short
			s.entryPrice = price
			return []types.Signal{sig}
		}
	}
	return nil
}

func (s *RSI) attachBrackets(sig *types.Signal, price decimal.Decimal) {
	if s.cfg.StopLossPct != nil {
		sl := price.Mul(decimal.One.Sub(s.cfg.StopLossPct.Div(decimal.Hundred)))
		sig.StopLoss = &sl
	}
	if s.cfg.TakeProfitPct != nil {
		tp := price.Mul(decimal.One.Add(s.cfg.TakeProfitPct.Div(decimal.Hundred)))
		sig.TakeProfit = &tp
	}
}

func (s *RSI) longExitSignals(rsi, price decimal.Decimal) []types.Signal {
	fifty := decimal.NewFromInt(50)

	var shouldExit bool
	if s.cfg.ExitOnNeutral {
		shouldExit = rsi.GreaterThanOrEqual(fifty) && s.previous != nil && s.previous.LessThan(fifty)
	} else {
		shouldExit = rsi.GreaterThanOrEqual(s.cfg.OverboughtThreshold)
	}

	stopHit := false
	if s.cfg.StopLossPct != nil && s.entryPrice.IsPositive() {
		slPrice := s.entryPrice.Mul(decimal.One.Sub(s.cfg.StopLossPct.Div(decimal.Hundred)))
		stopHit = price.LessThanOrEqual(slPrice)
	}
	targetHit := false
	if s.cfg.TakeProfitPct != nil && s.entryPrice.IsPositive() {
		tpPrice := s.entryPrice.Mul(decimal.One.Add(s.cfg.TakeProfitPct.Div(decimal.Hundred)))
		targetHit = price.GreaterThanOrEqual(tpPrice)
	}

	if !shouldExit && !stopHit && !targetHit {
		return nil
	}
	reason := "rsi_exit"
	if stopHit {
		reason = "stop_loss"
	} else if targetHit {
		reason = "take_profit"
	}
	s.state = flat
	s.entryPrice = decimal.Zero
	s.cooldown = s.cfg.CooldownCandles

	return []types.Signal{{
		StrategyID: s.Name(),
		Symbol:     s.symbol,
		Side:       types.Sell,
		Type:       types.SignalExit,
		Strength:   decimal.One,
		Metadata:   map[string]string{"rsi": rsi.String(), "reason": reason},
	}}
}

func (s *RSI) shortExitSignals(rsi decimal.Decimal) []types.Signal {
	fifty := decimal.NewFromInt(50)

	var shouldExit bool
	if s.cfg.ExitOnNeutral {
		shouldExit = rsi.LessThanOrEqual(fifty) && s.previous != nil && s.previous.GreaterThan(fifty)
	} else {
		shouldExit = rsi.LessThanOrEqual(s.cfg.OversoldThreshold)
	}
	if !shouldExit {
		return nil
	}
	s.state = flat
	s.entryPrice = decimal.Zero
	s.cooldown = s.cfg.CooldownCandles

	return []types.Signal{{
		StrategyID: s.Name(),
		Symbol:     s.symbol,
		Side:       types.Buy,
		Type:       types.SignalExit,
		Strength:   decimal.One,
		Metadata:   map[string]string{"rsi": rsi.String(), "reason": "rsi_exit"},
	}}
}

func (s *RSI) OnOrderFilled(types.Order)       {}
func (s *RSI) OnPositionUpdate(types.Position) {}
func (s *RSI) Shutdown() error                 { return nil }

func (s *RSI) State() map[string]any {
	state := map[string]any{
		"position": s.state,
		"cooldown": s.cooldown,
	}
	if s.current != nil {
		state["rsi"] = s.current.String()
	}
	return state
}
