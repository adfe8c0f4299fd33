package strategies

import (
	"encoding/json"
	"testing"
	"time"

	"tradecore/internal/strategyrt"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

func kospiKline(ticker string, close float64, i int) types.Kline {
	base := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC).Add(time.Duration(i) * 5 * time.Minute)
	c := decimal.NewFromFloat(close)
	return types.Kline{
		Symbol:    types.NewSymbol(ticker, "KRW", types.MarketStock),
		Timeframe: "5m",
		OpenTime:  base,
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromInt(1000),
		CloseTime: base.Add(5 * time.Minute),
	}
}

func newTestKOSPI(t *testing.T, cfg string) *KOSPIBothSide {
	t.Helper()
	s := NewKOSPIBothSide()
	if err := s.Initialize(json.RawMessage(cfg)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s
}

func TestIndicatorBankMARSIDisparity(t *testing.T) {
	t.Parallel()
	bank := newIndicatorBank(70)
	for _, p := range []float64{100, 102, 104, 106, 108} {
		bank.update(decimal.NewFromFloat(p))
	}

	ma, ok := bank.ma(3)
	if !ok || !ma.Equal(decimal.NewFromInt(106)) {
		t.Errorf("ma(3) = %s/%v, want 106", ma, ok)
	}

	// All gains: RSI pegs at 100.
	rsi, ok := bank.rsi(3)
	if !ok || !rsi.Equal(decimal.Hundred) {
		t.Errorf("rsi(3) = %s/%v, want 100", rsi, ok)
	}

	disparity, ok := bank.disparity(3)
	if !ok {
		t.Fatal("disparity undefined")
	}
	// 108 / 106 * 100 > 100
	if !disparity.GreaterThan(decimal.Hundred) {
		t.Errorf("disparity = %s, want > 100 above the MA", disparity)
	}
}

func TestKOSPIStopLossExitsLeverage(t *testing.T) {
	t.Parallel()
	s := newTestKOSPI(t, `{"stop_loss_pct": "5"}`)

	// Hand the strategy a held leverage leg, then mark the price 6% down.
	s.leverage = etfLeg{holding: true, entryPrice: decimal.NewFromInt(10000)}
	for _, p := range []float64{10000, 9400} {
		s.leverageBank.update(decimal.NewFromFloat(p))
	}

	if !s.shouldSellLeverage() {
		t.Error("stop loss at -6% did not trigger the sell")
	}

	signals, err := s.OnMarketData(types.MarketData{
		Kind:  types.MarketDataKline,
		Kline: kospiKline("122630", 9400, 2),
	})
	if err != nil {
		t.Fatalf("OnMarketData: %v", err)
	}
	if len(signals) != 1 || signals[0].Type != types.SignalExit || signals[0].Side != types.Sell {
		t.Fatalf("signals = %+v, want one Sell exit", signals)
	}
	if s.leverage.holding {
		t.Error("leg still marked held after the exit signal")
	}
}

func TestKOSPIEntryGatedByContext(t *testing.T) {
	t.Parallel()
	s := newTestKOSPI(t, `{}`)

	ctx := strategyrt.NewContext(decimal.NewFromInt(60))
	ctx.SetRouteState("122630", types.RouteWait)
	s.SetContext(ctx)

	if s.canEnter() {
		t.Error("entry allowed with the route in WAIT")
	}
}

func TestKOSPIIgnoresForeignSymbols(t *testing.T) {
	t.Parallel()
	s := newTestKOSPI(t, `{}`)

	signals, err := s.OnMarketData(types.MarketData{
		Kind:  types.MarketDataKline,
		Kline: kospiKline("999999", 100, 0),
	})
	if err != nil {
		t.Fatalf("OnMarketData: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("signals = %d for an untracked ticker, want 0", len(signals))
	}
}
