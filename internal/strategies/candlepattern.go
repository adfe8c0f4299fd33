package strategies

import (
	"encoding/json"

	"tradecore/internal/strategyrt"
	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// PatternType names a detected candlestick pattern.
type PatternType string

const (
	PatternDoji             PatternType = "DOJI"
	PatternLongLeggedDoji   PatternType = "LONG_LEGGED_DOJI"
	PatternDragonflyDoji    PatternType = "DRAGONFLY_DOJI"
	PatternGravestoneDoji   PatternType = "GRAVESTONE_DOJI"
	PatternHammer           PatternType = "HAMMER"
	PatternInvertedHammer   PatternType = "INVERTED_HAMMER"
	PatternHangingMan       PatternType = "HANGING_MAN"
	PatternShootingStar     PatternType = "SHOOTING_STAR"
	PatternMarubozu         PatternType = "MARUBOZU"
	PatternBullishEngulfing PatternType = "BULLISH_ENGULFING"
	PatternBearishEngulfing PatternType = "BEARISH_ENGULFING"
	PatternBullishHarami    PatternType = "BULLISH_HARAMI"
	PatternBearishHarami    PatternType = "BEARISH_HARAMI"
	PatternMorningStar      PatternType = "MORNING_STAR"
	PatternEveningStar      PatternType = "EVENING_STAR"
	PatternThreeSoldiers    PatternType = "THREE_WHITE_SOLDIERS"
	PatternThreeCrows       PatternType = "THREE_BLACK_CROWS"
)

// PatternDirection is the bias a pattern implies.
type PatternDirection string

const (
	DirectionBullish PatternDirection = "BULLISH"
	DirectionBearish PatternDirection = "BEARISH"
	DirectionNeutral PatternDirection = "NEUTRAL"
)

// DetectedPattern is one detector result.
type DetectedPattern struct {
	Type         PatternType
	Direction    PatternDirection
	Strength     decimal.Decimal // [0, 1]
	Confirmation bool
}

// CandlePatternConfig configures the pattern engine.
type CandlePatternConfig struct {
	// EnabledPatterns restricts detection; empty enables everything.
	EnabledPatterns    []PatternType   `json:"enabled_patterns"`
	MinPatternStrength decimal.Decimal `json:"min_pattern_strength"`
	UseVolumeConfirm   bool            `json:"use_volume_confirmation"`
	TrendPeriod        int             `json:"trend_period"`
	StopLossPct        decimal.Decimal `json:"stop_loss_pct"`
	TakeProfitPct      decimal.Decimal `json:"take_profit_pct"`
}

// DefaultCandlePatternConfig is the baseline tuning.
func DefaultCandlePatternConfig() CandlePatternConfig {
	return CandlePatternConfig{
		MinPatternStrength: decimal.MustFromString("0.6"),
		UseVolumeConfirm:   true,
		TrendPeriod:        10,
		StopLossPct:        decimal.NewFromInt(2),
		TakeProfitPct:      decimal.NewFromInt(4),
	}
}

// candleWindowSize bounds the rolling window of recent bars.
const candleWindowSize = 50

type posState int

const (
	flat posState = iota
	long
	short
)

// CandlePattern streams bars through the detector set and trades the
// strongest enabled pattern while flat, managing the exit with fixed
// stop-loss / take-profit percentages from the entry price.
type CandlePattern struct {
	cfg    CandlePatternConfig
	symbol types.Symbol

	// candles holds the most recent bars, newest first.
	candles []types.Kline

	state      posState
	entryPrice decimal.Decimal
	direction  PatternDirection
}

// NewCandlePattern creates an uninitialized CandlePattern strategy.
func NewCandlePattern() *CandlePattern {
	return &CandlePattern{cfg: DefaultCandlePatternConfig()}
}

func (s *CandlePattern) Name() string        { return "candle-pattern" }
func (s *CandlePattern) Version() string     { return "1.0.0" }
func (s *CandlePattern) Description() string { return "Candlestick pattern detection and trading" }

func (s *CandlePattern) Initialize(raw json.RawMessage) error {
	if err := strategyrt.DecodeConfig(raw, &s.cfg); err != nil {
		return coreerr.Wrap(coreerr.ClassConfig, s.Name(), err)
	}
	if s.cfg.TrendPeriod <= 0 {
		s.cfg.TrendPeriod = 10
	}
	return nil
}

func (s *CandlePattern) OnMarketData(data types.MarketData) ([]types.Signal, error) {
	if data.Kind != types.MarketDataKline {
		return nil, nil
	}
	k := data.Kline
	s.symbol = k.Symbol
	s.pushCandle(k)

	price := k.Close

	// Exits first: fixed-percentage brackets from the entry.
	if s.state != flat {
		if sig := s.checkExit(price); sig != nil {
			return []types.Signal{*sig}, nil
		}
		return nil, nil
	}

	pattern, ok := s.bestPattern(k)
	if !ok {
		return nil, nil
	}
	if s.cfg.UseVolumeConfirm && !s.volumeConfirmed() {
		return nil, nil
	}

	var side types.Side
	switch pattern.Direction {
	case DirectionBullish:
		side = types.Buy
		s.state = long
	case DirectionBearish:
		side = types.Sell
		s.state = short
	default:
		return nil, nil
	}
	s.entryPrice = price
	s.direction = pattern.Direction

	sl, tp := s.bracketPrices(price, side)
	return []types.Signal{{
		StrategyID: s.Name(),
		Symbol:     s.symbol,
		Side:       side,
		Type:       types.SignalEntry,
		Strength:   pattern.Strength,
		StopLoss:   &sl,
		TakeProfit: &tp,
		Metadata: map[string]string{
			"pattern":      string(pattern.Type),
			"confirmation": boolString(pattern.Confirmation),
		},
	}}, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (s *CandlePattern) pushCandle(k types.Kline) {
	s.candles = append(s.candles, types.Kline{})
	copy(s.candles[1:], s.candles)
	s.candles[0] = k
	if len(s.candles) > candleWindowSize {
		s.candles = s.candles[:candleWindowSize]
	}
}

func (s *CandlePattern) bracketPrices(price decimal.Decimal, side types.Side) (sl, tp decimal.Decimal) {
	slOff := price.Mul(s.cfg.StopLossPct).Div(decimal.Hundred)
	tpOff := price.Mul(s.cfg.TakeProfitPct).Div(decimal.Hundred)
	if side == types.Buy {
		return price.Sub(slOff), price.Add(tpOff)
	}
	return price.Add(slOff), price.Sub(tpOff)
}

func (s *CandlePattern) checkExit(price decimal.Decimal) *types.Signal {
	if s.entryPrice.IsZero() {
		return nil
	}
	change := price.Sub(s.entryPrice).Div(s.entryPrice).Mul(decimal.Hundred)
	if s.state == short {
		change = change.Neg()
	}

	hitStop := change.LessThanOrEqual(s.cfg.StopLossPct.Neg())
	hitTarget := change.GreaterThanOrEqual(s.cfg.TakeProfitPct)
	if !hitStop && !hitTarget {
		return nil
	}

	side := types.Sell
	if s.state == short {
		side = types.Buy
	}
	reason := "take_profit"
	if hitStop {
		reason = "stop_loss"
	}
	s.state = flat
	s.entryPrice = decimal.Zero

	return &types.Signal{
		StrategyID: s.Name(),
		Symbol:     s.symbol,
		Side:       side,
		Type:       types.SignalExit,
		Strength:   decimal.One,
		Metadata:   map[string]string{"reason": reason},
	}
}

// bestPattern runs every enabled detector and returns the strongest result
// at or above the strength floor.
func (s *CandlePattern) bestPattern(k types.Kline) (DetectedPattern, bool) {
	detectors := []func() (DetectedPattern, bool){
		func() (DetectedPattern, bool) { return s.detectDoji(k) },
		func() (DetectedPattern, bool) { return s.detectHammer(k) },
		func() (DetectedPattern, bool) { return s.detectMarubozu(k) },
		s.detectEngulfing,
		s.detectHarami,
		s.detectStar,
		s.detectThreeSoldiersCrows,
	}

	best := DetectedPattern{Strength: decimal.Zero}
	found := false
	for _, detect := range detectors {
		p, ok := detect()
		if !ok || !s.enabled(p.Type) {
			continue
		}
		if p.Strength.LessThan(s.cfg.MinPatternStrength) {
			continue
		}
		if !found || p.Strength.GreaterThan(best.Strength) {
			best = p
			found = true
		}
	}
	return best, found
}

func (s *CandlePattern) enabled(p PatternType) bool {
	if len(s.cfg.EnabledPatterns) == 0 {
		return true
	}
	for _, e := range s.cfg.EnabledPatterns {
		if e == p {
			return true
		}
	}
	return false
}

// volumeConfirmed requires the current volume above 1.2x the 10-bar mean.
func (s *CandlePattern) volumeConfirmed() bool {
	if len(s.candles) < 10 {
		return true
	}
	sum := decimal.Zero
	for _, c := range s.candles[:10] {
		sum = sum.Add(c.Volume)
	}
	avg := sum.Div(decimal.NewFromInt(10))
	return s.candles[0].Volume.GreaterThan(avg.Mul(decimal.MustFromString("1.2")))
}

// Candle geometry helpers.

func bodySize(k types.Kline) decimal.Decimal  { return k.Close.Sub(k.Open).Abs() }
func totalSize(k types.Kline) decimal.Decimal { return k.High.Sub(k.Low) }
func upperShadow(k types.Kline) decimal.Decimal {
	return k.High.Sub(decimal.Max(k.Open, k.Close))
}
func lowerShadow(k types.Kline) decimal.Decimal {
	return decimal.Min(k.Open, k.Close).Sub(k.Low)
}
func isBullishCandle(k types.Kline) bool { return k.Close.GreaterThan(k.Open) }
func isBearishCandle(k types.Kline) bool { return k.Close.LessThan(k.Open) }

// trend looks at the close drift over the configured trend period.
func (s *CandlePattern) trend() PatternDirection {
	if len(s.candles) < s.cfg.TrendPeriod {
		return DirectionNeutral
	}
	oldest := s.candles[s.cfg.TrendPeriod-1].Close
	newest := s.candles[0].Close
	switch {
	case newest.GreaterThan(oldest):
		return DirectionBullish
	case newest.LessThan(oldest):
		return DirectionBearish
	default:
		return DirectionNeutral
	}
}

// detectDoji: body under 10% of range; sub-type from the shadow split.
func (s *CandlePattern) detectDoji(k types.Kline) (DetectedPattern, bool) {
	body := bodySize(k)
	total := totalSize(k)
	if total.IsZero() {
		return DetectedPattern{}, false
	}
	ratio := body.Div(total)
	if !ratio.LessThan(decimal.MustFromString("0.1")) {
		return DetectedPattern{}, false
	}

	upper := upperShadow(k)
	lower := lowerShadow(k)
	two := decimal.NewFromInt(2)
	var pt PatternType
	switch {
	case lower.GreaterThan(upper.Mul(two)):
		pt = PatternDragonflyDoji
	case upper.GreaterThan(lower.Mul(two)):
		pt = PatternGravestoneDoji
	case upper.Add(lower).GreaterThan(total.Mul(decimal.MustFromString("0.8"))):
		pt = PatternLongLeggedDoji
	default:
		pt = PatternDoji
	}
	return DetectedPattern{
		Type:      pt,
		Direction: DirectionNeutral,
		Strength:  decimal.One.Sub(ratio),
	}, true
}

// detectHammer: a long lower shadow in a downtrend is a bullish Hammer (in
// an uptrend, a bearish Hanging Man); the mirrored long upper shadow is an
// Inverted Hammer or Shooting Star.
func (s *CandlePattern) detectHammer(k types.Kline) (DetectedPattern, bool) {
	body := bodySize(k)
	total := totalSize(k)
	if total.IsZero() || body.IsZero() {
		return DetectedPattern{}, false
	}
	lower := lowerShadow(k)
	upper := upperShadow(k)
	two := decimal.NewFromInt(2)
	half := decimal.MustFromString("0.5")

	if lower.GreaterThanOrEqual(body.Mul(two)) && upper.LessThan(body.Mul(half)) {
		pt, dir := PatternHammer, DirectionNeutral
		switch s.trend() {
		case DirectionBearish:
			pt, dir = PatternHammer, DirectionBullish
		case DirectionBullish:
			pt, dir = PatternHangingMan, DirectionBearish
		}
		return DetectedPattern{
			Type:      pt,
			Direction: dir,
			Strength:  decimal.Min(lower.Div(body).Div(two), decimal.One),
		}, true
	}

	if upper.GreaterThanOrEqual(body.Mul(two)) && lower.LessThan(body.Mul(half)) {
		pt, dir := PatternInvertedHammer, DirectionNeutral
		switch s.trend() {
		case DirectionBearish:
			pt, dir = PatternInvertedHammer, DirectionBullish
		case DirectionBullish:
			pt, dir = PatternShootingStar, DirectionBearish
		}
		return DetectedPattern{
			Type:      pt,
			Direction: dir,
			Strength:  decimal.Min(upper.Div(body).Div(two), decimal.One),
		}, true
	}
	return DetectedPattern{}, false
}

// detectMarubozu: shadows under 5% of the range on both ends.
func (s *CandlePattern) detectMarubozu(k types.Kline) (DetectedPattern, bool) {
	total := totalSize(k)
	if total.IsZero() {
		return DetectedPattern{}, false
	}
	limit := total.Mul(decimal.MustFromString("0.05"))
	if !upperShadow(k).LessThan(limit) || !lowerShadow(k).LessThan(limit) {
		return DetectedPattern{}, false
	}
	dir := DirectionBearish
	if isBullishCandle(k) {
		dir = DirectionBullish
	}
	return DetectedPattern{
		Type:         PatternMarubozu,
		Direction:    dir,
		Strength:     bodySize(k).Div(total),
		Confirmation: true,
	}, true
}

// detectEngulfing: the current body swallows the previous opposite body.
func (s *CandlePattern) detectEngulfing() (DetectedPattern, bool) {
	if len(s.candles) < 2 {
		return DetectedPattern{}, false
	}
	curr, prev := s.candles[0], s.candles[1]
	currBody, prevBody := bodySize(curr), bodySize(prev)
	if prevBody.IsZero() {
		return DetectedPattern{}, false
	}

	if isBearishCandle(prev) && isBullishCandle(curr) &&
		curr.Open.LessThan(prev.Close) && curr.Close.GreaterThan(prev.Open) &&
		currBody.GreaterThan(prevBody) {
		return DetectedPattern{
			Type:         PatternBullishEngulfing,
			Direction:    DirectionBullish,
			Strength:     decimal.Min(currBody.Div(prevBody), decimal.One),
			Confirmation: true,
		}, true
	}
	if isBullishCandle(prev) && isBearishCandle(curr) &&
		curr.Open.GreaterThan(prev.Close) && curr.Close.LessThan(prev.Open) &&
		currBody.GreaterThan(prevBody) {
		return DetectedPattern{
			Type:         PatternBearishEngulfing,
			Direction:    DirectionBearish,
			Strength:     decimal.Min(currBody.Div(prevBody), decimal.One),
			Confirmation: true,
		}, true
	}
	return DetectedPattern{}, false
}

// detectHarami: the current body sits inside the previous opposite body.
func (s *CandlePattern) detectHarami() (DetectedPattern, bool) {
	if len(s.candles) < 2 {
		return DetectedPattern{}, false
	}
	curr, prev := s.candles[0], s.candles[1]
	strength := decimal.MustFromString("0.7")

	if isBearishCandle(prev) && isBullishCandle(curr) &&
		curr.Open.GreaterThan(prev.Close) && curr.Close.LessThan(prev.Open) {
		return DetectedPattern{Type: PatternBullishHarami, Direction: DirectionBullish, Strength: strength}, true
	}
	if isBullishCandle(prev) && isBearishCandle(curr) &&
		curr.Open.LessThan(prev.Close) && curr.Close.GreaterThan(prev.Open) {
		return DetectedPattern{Type: PatternBearishHarami, Direction: DirectionBearish, Strength: strength}, true
	}
	return DetectedPattern{}, false
}

// detectStar: three bars — a full body, a small gap body, then a reversal
// closing past the first body's midpoint.
func (s *CandlePattern) detectStar() (DetectedPattern, bool) {
	if len(s.candles) < 3 {
		return DetectedPattern{}, false
	}
	curr, mid, first := s.candles[0], s.candles[1], s.candles[2]
	firstBody := bodySize(first)
	midBody := bodySize(mid)
	midpoint := first.Open.Add(first.Close).Div(decimal.NewFromInt(2))
	smallMid := midBody.LessThan(firstBody.Mul(decimal.MustFromString("0.3")))
	strength := decimal.MustFromString("0.85")

	if isBearishCandle(first) && smallMid && isBullishCandle(curr) && curr.Close.GreaterThan(midpoint) {
		return DetectedPattern{Type: PatternMorningStar, Direction: DirectionBullish, Strength: strength, Confirmation: true}, true
	}
	if isBullishCandle(first) && smallMid && isBearishCandle(curr) && curr.Close.LessThan(midpoint) {
		return DetectedPattern{Type: PatternEveningStar, Direction: DirectionBearish, Strength: strength, Confirmation: true}, true
	}
	return DetectedPattern{}, false
}

// detectThreeSoldiersCrows: three consecutive same-direction closes, each
// beyond the last.
func (s *CandlePattern) detectThreeSoldiersCrows() (DetectedPattern, bool) {
	if len(s.candles) < 3 {
		return DetectedPattern{}, false
	}
	c3, c2, c1 := s.candles[0], s.candles[1], s.candles[2]
	strength := decimal.MustFromString("0.9")
	point8 := decimal.MustFromString("0.8")

	if isBullishCandle(c1) && isBullishCandle(c2) && isBullishCandle(c3) &&
		c2.Close.GreaterThan(c1.Close) && c3.Close.GreaterThan(c2.Close) {
		b1, b2, b3 := bodySize(c1), bodySize(c2), bodySize(c3)
		if b2.GreaterThan(b1.Mul(point8)) && b3.GreaterThan(b2.Mul(point8)) {
			return DetectedPattern{Type: PatternThreeSoldiers, Direction: DirectionBullish, Strength: strength, Confirmation: true}, true
		}
	}
	if isBearishCandle(c1) && isBearishCandle(c2) && isBearishCandle(c3) &&
		c2.Close.LessThan(c1.Close) && c3.Close.LessThan(c2.Close) {
		return DetectedPattern{Type: PatternThreeCrows, Direction: DirectionBearish, Strength: strength, Confirmation: true}, true
	}
	return DetectedPattern{}, false
}

func (s *CandlePattern) OnOrderFilled(types.Order)       {}
func (s *CandlePattern) OnPositionUpdate(types.Position) {}
func (s *CandlePattern) Shutdown() error                 { return nil }

func (s *CandlePattern) State() map[string]any {
	stateName := "flat"
	switch s.state {
	case long:
		stateName = "long"
	case short:
		stateName = "short"
	}
	return map[string]any{
		"position":    stateName,
		"entry_price": s.entryPrice.String(),
		"window_size": len(s.candles),
	}
}
