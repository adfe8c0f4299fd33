package matching

import (
	"testing"
	"time"

	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

var barTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func btcusdt() types.Symbol {
	return types.NewSymbol("BTC", "USDT", types.MarketCrypto)
}

func bar(low, high, close string) types.Kline {
	return types.Kline{
		Symbol:    btcusdt(),
		Timeframe: "1m",
		OpenTime:  barTime,
		Open:      decimal.MustFromString(close),
		High:      decimal.MustFromString(high),
		Low:       decimal.MustFromString(low),
		Close:     decimal.MustFromString(close),
		Volume:    decimal.NewFromInt(100),
		CloseTime: barTime.Add(time.Minute),
	}
}

func limitOrder(side types.Side, qty, price string) types.Order {
	p := decimal.MustFromString(price)
	return types.Order{
		ID: "o-" + string(side) + price,
		Request: types.OrderRequest{
			Symbol:   btcusdt(),
			Side:     side,
			Type:     types.OrderLimit,
			Quantity: decimal.MustFromString(qty),
			Price:    &p,
			TIF:      types.TIFGoodTilCancel,
		},
		Status: types.StatusOpen,
	}
}

func stopOrder(side types.Side, qty, stop string) types.Order {
	s := decimal.MustFromString(stop)
	return types.Order{
		ID: "stop-" + string(side) + stop,
		Request: types.OrderRequest{
			Symbol:    btcusdt(),
			Side:      side,
			Type:      types.OrderStopLoss,
			Quantity:  decimal.MustFromString(qty),
			StopPrice: &s,
			TIF:       types.TIFGoodTilCancel,
		},
		Status: types.StatusOpen,
	}
}

func TestMarketFillWithSlippageAndCommission(t *testing.T) {
	t.Parallel()
	e := NewEngine(decimal.MustFromString("0.001"), decimal.MustFromString("0.01"))

	order := types.Order{
		ID: "m1",
		Request: types.OrderRequest{
			Symbol:   btcusdt(),
			Side:     types.Buy,
			Type:     types.OrderMarket,
			Quantity: decimal.NewFromInt(2),
			TIF:      types.TIFGoodTilCancel,
		},
		Status: types.StatusOpen,
	}
	match := e.SubmitMarket(order, decimal.NewFromInt(100), barTime)

	// Buy slips up: 100 * 1.01 = 101
	if !match.FillPrice.Equal(decimal.NewFromInt(101)) {
		t.Errorf("fill price = %s, want 101", match.FillPrice)
	}
	// Commission on notional: 101 * 2 * 0.001 = 0.202
	if !match.Commission.Equal(decimal.MustFromString("0.202")) {
		t.Errorf("commission = %s, want 0.202", match.Commission)
	}
	// Slippage cost: (101 - 100) * 2 = 2
	if !match.SlippageCost.Equal(decimal.NewFromInt(2)) {
		t.Errorf("slippage cost = %s, want 2", match.SlippageCost)
	}

	// Sell slips down.
	order.Request.Side = types.Sell
	match = e.SubmitMarket(order, decimal.NewFromInt(100), barTime)
	if !match.FillPrice.Equal(decimal.NewFromInt(99)) {
		t.Errorf("sell fill price = %s, want 99", match.FillPrice)
	}
}

func TestLimitBuyFills(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		limit     string
		bar       types.Kline
		wantFill  bool
		wantPrice string
	}{
		{"bar trades through limit", "100", bar("95", "105", "102"), true, "100"},
		{"bar entirely below limit fills at high", "110", bar("95", "105", "102"), true, "105"},
		{"bar above limit rests", "90", bar("95", "105", "102"), false, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := NewEngine(decimal.Zero, decimal.Zero)
			e.SubmitResting(limitOrder(types.Buy, "1", tt.limit))

			matches := e.MatchBar(tt.bar)
			if tt.wantFill {
				if len(matches) != 1 {
					t.Fatalf("matches = %d, want 1", len(matches))
				}
				if !matches[0].FillPrice.Equal(decimal.MustFromString(tt.wantPrice)) {
					t.Errorf("fill price = %s, want %s", matches[0].FillPrice, tt.wantPrice)
				}
				if e.RestingCount(btcusdt()) != 0 {
					t.Error("filled order still resting")
				}
			} else {
				if len(matches) != 0 {
					t.Fatalf("matches = %d, want 0", len(matches))
				}
				if e.RestingCount(btcusdt()) != 1 {
					t.Error("unfilled order dropped from book")
				}
			}
		})
	}
}

func TestLimitSellFills(t *testing.T) {
	t.Parallel()
	e := NewEngine(decimal.Zero, decimal.Zero)
	e.SubmitResting(limitOrder(types.Sell, "1", "104"))

	matches := e.MatchBar(bar("95", "105", "102"))
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	if !matches[0].FillPrice.Equal(decimal.MustFromString("104")) {
		t.Errorf("fill price = %s, want 104", matches[0].FillPrice)
	}

	// Sell above the bar range rests.
	e.SubmitResting(limitOrder(types.Sell, "1", "120"))
	if got := e.MatchBar(bar("95", "105", "102")); len(got) != 0 {
		t.Errorf("matches = %d, want 0", len(got))
	}
}

func TestStopActivatesInsideBarRange(t *testing.T) {
	t.Parallel()
	e := NewEngine(decimal.Zero, decimal.Zero)
	e.SubmitResting(stopOrder(types.Sell, "1", "98"))

	// Bar does not reach the stop: order keeps resting.
	if got := e.MatchBar(bar("99", "105", "102")); len(got) != 0 {
		t.Fatalf("matches = %d, want 0 before stop touched", len(got))
	}

	// Bar trades through 98: stop activates and fills.
	matches := e.MatchBar(bar("96", "100", "97"))
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	if !matches[0].FillPrice.Equal(decimal.MustFromString("98")) {
		t.Errorf("fill price = %s, want 98 (stop price)", matches[0].FillPrice)
	}
}

func TestCancelRemovesRestingOrder(t *testing.T) {
	t.Parallel()
	e := NewEngine(decimal.Zero, decimal.Zero)
	order := limitOrder(types.Buy, "1", "90")
	e.SubmitResting(order)

	if !e.Cancel(order.ID) {
		t.Fatal("Cancel returned false for a resting order")
	}
	if e.Cancel(order.ID) {
		t.Error("Cancel returned true twice")
	}
	if e.RestingCount(btcusdt()) != 0 {
		t.Error("cancelled order still resting")
	}
}

func TestMatchBarDeterministicOrder(t *testing.T) {
	t.Parallel()
	e := NewEngine(decimal.Zero, decimal.Zero)
	a := limitOrder(types.Buy, "1", "100")
	a.ID = "first"
	b := limitOrder(types.Buy, "1", "101")
	b.ID = "second"
	e.SubmitResting(a)
	e.SubmitResting(b)

	matches := e.MatchBar(bar("95", "105", "102"))
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].OrderID != "first" || matches[1].OrderID != "second" {
		t.Errorf("fill order = [%s, %s], want submission order", matches[0].OrderID, matches[1].OrderID)
	}
}
