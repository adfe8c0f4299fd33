package riskmgr

import (
	"io"
	"log/slog"
	"testing"

	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

func newTestManager(limits Limits) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(limits, logger)
}

func ethusdt() types.Symbol {
	return types.NewSymbol("ETH", "USDT", types.MarketCrypto)
}

func marketBuy(qty string) types.OrderRequest {
	return types.OrderRequest{
		Symbol:   ethusdt(),
		Side:     types.Buy,
		Type:     types.OrderMarket,
		Quantity: decimal.MustFromString(qty),
		TIF:      types.TIFGoodTilCancel,
	}
}

func TestValidateOrderPasses(t *testing.T) {
	t.Parallel()
	m := newTestManager(Limits{MaxPositionSize: decimal.NewFromInt(10)})

	res := m.ValidateOrder(marketBuy("1"), nil, decimal.NewFromInt(2000))
	if !res.IsValid {
		t.Errorf("valid order rejected: %v", res.Messages)
	}
}

func TestMaxPositionSizeSuggestsModifiedOrder(t *testing.T) {
	t.Parallel()
	m := newTestManager(Limits{MaxPositionSize: decimal.NewFromInt(5)})

	res := m.ValidateOrder(marketBuy("8"), nil, decimal.NewFromInt(2000))
	if res.IsValid {
		t.Fatal("oversized order passed")
	}
	if res.ModifiedOrder == nil {
		t.Fatal("no modified order suggested")
	}
	if !res.ModifiedOrder.Quantity.Equal(decimal.NewFromInt(5)) {
		t.Errorf("modified qty = %s, want 5", res.ModifiedOrder.Quantity)
	}
}

func TestMaxConcurrentPositions(t *testing.T) {
	t.Parallel()
	m := newTestManager(Limits{MaxConcurrentPositions: 1})

	open := []types.Position{{
		Symbol:   types.NewSymbol("BTC", "USDT", types.MarketCrypto),
		Side:     types.Buy,
		Quantity: decimal.NewFromInt(1),
	}}
	res := m.ValidateOrder(marketBuy("1"), open, decimal.NewFromInt(2000))
	if res.IsValid {
		t.Error("entry passed with positions at the concurrency limit")
	}

	// Reducing an existing position is always allowed.
	reduce := types.OrderRequest{
		Symbol:   open[0].Symbol,
		Side:     types.Sell,
		Type:     types.OrderMarket,
		Quantity: decimal.NewFromInt(1),
		TIF:      types.TIFGoodTilCancel,
	}
	res = m.ValidateOrder(reduce, open, decimal.NewFromInt(50000))
	if !res.IsValid {
		t.Errorf("reduce rejected: %v", res.Messages)
	}
}

func TestDailyLossSuspendsEntries(t *testing.T) {
	t.Parallel()
	m := newTestManager(Limits{MaxDailyLoss: decimal.NewFromInt(100)})
	m.SetDailyPnL(decimal.NewFromInt(-150))

	res := m.ValidateOrder(marketBuy("1"), nil, decimal.NewFromInt(2000))
	if res.IsValid {
		t.Error("entry passed past the daily loss limit")
	}
}

func TestMaxPositionPctOfBalance(t *testing.T) {
	t.Parallel()
	m := newTestManager(Limits{MaxPositionPct: decimal.MustFromString("0.25")})
	m.SetBalance(decimal.NewFromInt(10000))

	// 2 * 2000 = 4000 notional > 2500 cap
	res := m.ValidateOrder(marketBuy("2"), nil, decimal.NewFromInt(2000))
	if res.IsValid {
		t.Fatal("oversized notional passed")
	}
	if res.ModifiedOrder == nil {
		t.Fatal("no modified order suggested")
	}
	// 2500 / 2000 = 1.25
	if !res.ModifiedOrder.Quantity.Equal(decimal.MustFromString("1.25")) {
		t.Errorf("modified qty = %s, want 1.25", res.ModifiedOrder.Quantity)
	}
}

func TestGenerateBrackets(t *testing.T) {
	t.Parallel()
	m := newTestManager(Limits{
		DefaultStopLossPct:   decimal.NewFromInt(4),
		DefaultTakeProfitPct: decimal.NewFromInt(8),
	})

	pos := types.Position{
		Symbol:     ethusdt(),
		Side:       types.Buy,
		Quantity:   decimal.NewFromInt(3),
		EntryPrice: decimal.NewFromInt(1000),
		StrategyID: "s1",
	}

	sl := m.GenerateStopLoss(pos, nil)
	if sl.Side != types.Sell || sl.Type != types.OrderStopLoss {
		t.Errorf("stop loss = %+v", sl)
	}
	if !sl.Quantity.Equal(pos.Quantity) {
		t.Errorf("stop loss qty = %s, want %s", sl.Quantity, pos.Quantity)
	}
	if !sl.StopPrice.Equal(decimal.NewFromInt(960)) {
		t.Errorf("stop price = %s, want 960", *sl.StopPrice)
	}

	tp := m.GenerateTakeProfit(pos, nil)
	if !tp.StopPrice.Equal(decimal.NewFromInt(1080)) {
		t.Errorf("take profit price = %s, want 1080", *tp.StopPrice)
	}

	override := decimal.NewFromInt(10)
	sl = m.GenerateStopLoss(pos, &override)
	if !sl.StopPrice.Equal(decimal.NewFromInt(900)) {
		t.Errorf("override stop price = %s, want 900", *sl.StopPrice)
	}

	// Short position brackets mirror.
	pos.Side = types.Sell
	sl = m.GenerateStopLoss(pos, nil)
	if sl.Side != types.Buy || !sl.StopPrice.Equal(decimal.NewFromInt(1040)) {
		t.Errorf("short stop = %+v, want Buy @ 1040", sl)
	}
}
