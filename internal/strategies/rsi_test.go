package strategies

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

func rsiKline(close float64, i int) types.Kline {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour)
	c := decimal.NewFromFloat(close)
	return types.Kline{
		Symbol:    types.NewSymbol("ETH", "USDT", types.MarketCrypto),
		Timeframe: "1h",
		OpenTime:  base,
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromInt(100),
		CloseTime: base.Add(time.Hour),
	}
}

func newTestRSI(t *testing.T, cfg string) *RSI {
	t.Helper()
	s := NewRSI()
	if err := s.Initialize(json.RawMessage(cfg)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s
}

// Scenario S2: descending closes produce exactly one oversold Buy; the
// neutral re-cross exits.
func TestOversoldBuyThenNeutralExit(t *testing.T) {
	t.Parallel()
	s := newTestRSI(t, `{
		"period": 3,
		"oversold_threshold": "30",
		"overbought_threshold": "70",
		"exit_on_neutral": true,
		"cooldown_candles": 0
	}`)

	closes := []float64{100, 98, 96, 94, 92, 90, 88, 86, 84, 82, 80, 78, 76, 74, 72, 70}
	var buys, exits int
	for i, c := range closes {
		signals, err := s.OnMarketData(types.MarketData{Kind: types.MarketDataKline, Kline: rsiKline(c, i)})
		if err != nil {
			t.Fatalf("bar %d: %v", i, err)
		}
		for _, sig := range signals {
			switch sig.Type {
			case types.SignalEntry:
				if sig.Side != types.Buy {
					t.Errorf("bar %d: entry side = %s, want BUY", i, sig.Side)
				}
				buys++
			case types.SignalExit:
				exits++
			}
		}
	}
	if buys != 1 {
		t.Fatalf("buys = %d, want exactly 1", buys)
	}
	if exits != 0 {
		t.Fatalf("exits = %d during the decline, want 0", exits)
	}

	// Recover: rising closes push the RSI through 50 and trigger the exit.
	for i := 0; i < 10; i++ {
		signals, _ := s.OnMarketData(types.MarketData{
			Kind:  types.MarketDataKline,
			Kline: rsiKline(72+float64(i)*4, len(closes)+i),
		})
		for _, sig := range signals {
			if sig.Type == types.SignalExit {
				if sig.Side != types.Sell {
					t.Errorf("exit side = %s, want SELL", sig.Side)
				}
				exits++
			}
		}
	}
	if exits != 1 {
		t.Errorf("exits = %d after recovery, want 1", exits)
	}
}

func TestRSIWilderSmoothing(t *testing.T) {
	t.Parallel()
	s := newTestRSI(t, `{"period": 3}`)

	// Alternating moves keep both averages positive so the RSI lands
	// strictly between 0 and 100.
	closes := []float64{100, 102, 101, 103, 102, 104}
	for i, c := range closes {
		s.OnMarketData(types.MarketData{Kind: types.MarketDataKline, Kline: rsiKline(c, i)})
	}
	if s.current == nil {
		t.Fatal("RSI undefined after seed period")
	}
	if !s.current.IsPositive() || !s.current.LessThan(decimal.Hundred) {
		t.Errorf("rsi = %s, want strictly inside (0, 100)", s.current)
	}
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	t.Parallel()
	s := newTestRSI(t, `{"period": 3}`)

	for i := 0; i < 6; i++ {
		s.OnMarketData(types.MarketData{Kind: types.MarketDataKline, Kline: rsiKline(100+float64(i)*2, i)})
	}
	if s.current == nil || !s.current.Equal(decimal.Hundred) {
		t.Errorf("rsi = %v, want 100 with zero losses", s.current)
	}
}

func TestRSICooldownBlocksReentry(t *testing.T) {
	t.Parallel()
	s := newTestRSI(t, fmt.Sprintf(`{
		"period": 3,
		"oversold_threshold": "30",
		"exit_on_neutral": true,
		"cooldown_candles": %d
	}`, 100))

	// Drive oversold entry, then recovery exit, then a second dip: the
	// large cooldown must suppress the re-entry.
	closes := []float64{100, 95, 90, 85, 80, 75, 85, 95, 105, 115, 100, 85, 70, 55, 40, 30}
	var entries int
	for i, c := range closes {
		signals, _ := s.OnMarketData(types.MarketData{Kind: types.MarketDataKline, Kline: rsiKline(c, i)})
		for _, sig := range signals {
			if sig.Type == types.SignalEntry {
				entries++
			}
		}
	}
	if entries != 1 {
		t.Errorf("entries = %d, want 1 (cooldown blocks the second)", entries)
	}
}

func TestRSIBracketLevels(t *testing.T) {
	t.Parallel()
	s := newTestRSI(t, `{
		"period": 3,
		"oversold_threshold": "30",
		"stop_loss_pct": "2",
		"take_profit_pct": "5"
	}`)

	closes := []float64{100, 95, 90, 85, 80}
	var entry *types.Signal
	for i, c := range closes {
		signals, _ := s.OnMarketData(types.MarketData{Kind: types.MarketDataKline, Kline: rsiKline(c, i)})
		for j := range signals {
			if signals[j].Type == types.SignalEntry {
				entry = &signals[j]
			}
		}
	}
	if entry == nil {
		t.Fatal("no entry signal")
	}
	if entry.StopLoss == nil || entry.TakeProfit == nil {
		t.Fatal("brackets missing")
	}
	// The RSI seeds after three deltas, so the entry lands on the 85
	// close: SL = 85 * 0.98, TP = 85 * 1.05.
	if !entry.StopLoss.Equal(decimal.MustFromString("83.3")) {
		t.Errorf("stop loss = %s, want 83.3", *entry.StopLoss)
	}
	if !entry.TakeProfit.Equal(decimal.MustFromString("89.25")) {
		t.Errorf("take profit = %s, want 89.25", *entry.TakeProfit)
	}
}
