package executor

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"tradecore/internal/ordermanager"
	"tradecore/internal/position"
	"tradecore/internal/riskmgr"
	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

var testTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func btcusdt() types.Symbol {
	return types.NewSymbol("BTC", "USDT", types.MarketCrypto)
}

type fixture struct {
	exec      *Executor
	orders    *ordermanager.Manager
	positions *position.Tracker
	risk      *riskmgr.Manager
}

func newFixture(cfg Config, limits riskmgr.Limits) fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orders := ordermanager.New(logger)
	positions := position.NewTracker()
	risk := riskmgr.New(limits, logger)
	if cfg.Exchange == "" {
		cfg.Exchange = "sim"
	}
	return fixture{
		exec:      New(cfg, risk, orders, positions, logger),
		orders:    orders,
		positions: positions,
		risk:      risk,
	}
}

func entrySignal(strength string) types.Signal {
	return types.Signal{
		StrategyID: "s1",
		Symbol:     btcusdt(),
		Side:       types.Buy,
		Type:       types.SignalEntry,
		Strength:   decimal.MustFromString(strength),
	}
}

func TestWeakSignalRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{MinStrength: decimal.MustFromString("0.3"), UseMarketOrders: true}, riskmgr.Limits{})

	res, err := f.exec.ExecuteSignal(entrySignal("0.2"), decimal.NewFromInt(100), decimal.NewFromInt(1), testTime)
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if res.Accepted {
		t.Error("weak signal accepted")
	}
	if f.orders.TotalOrders() != 0 {
		t.Error("order registered for rejected signal")
	}
}

func TestEntryRegistersPendingOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{UseMarketOrders: true}, riskmgr.Limits{})

	res, err := f.exec.ExecuteSignal(entrySignal("0.8"), decimal.NewFromInt(100), decimal.NewFromInt(2), testTime)
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if !res.Accepted || res.Order == nil {
		t.Fatalf("result = %+v, want accepted with order", res)
	}
	if res.Order.Status != types.StatusPending {
		t.Errorf("status = %s, want PENDING", res.Order.Status)
	}
	if res.Order.Request.Type != types.OrderMarket {
		t.Errorf("type = %s, want MARKET", res.Order.Request.Type)
	}
}

func TestLimitConversionAppliesSlippage(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{
		UseMarketOrders: false,
		Slippage:        decimal.MustFromString("0.01"),
	}, riskmgr.Limits{})

	res, err := f.exec.ExecuteSignal(entrySignal("0.8"), decimal.NewFromInt(100), decimal.NewFromInt(1), testTime)
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	req := res.Order.Request
	if req.Type != types.OrderLimit {
		t.Fatalf("type = %s, want LIMIT", req.Type)
	}
	// Buy: 100 * 1.01
	if !req.Price.Equal(decimal.NewFromInt(101)) {
		t.Errorf("limit price = %s, want 101", *req.Price)
	}

	sell := entrySignal("0.8")
	sell.Side = types.Sell
	res, _ = f.exec.ExecuteSignal(sell, decimal.NewFromInt(100), decimal.NewFromInt(1), testTime)
	if !res.Order.Request.Price.Equal(decimal.NewFromInt(99)) {
		t.Errorf("sell limit price = %s, want 99", *res.Order.Request.Price)
	}
}

func TestRiskRejectionPropagatesSuggestion(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{UseMarketOrders: true}, riskmgr.Limits{MaxPositionSize: decimal.NewFromInt(1)})

	res, err := f.exec.ExecuteSignal(entrySignal("0.9"), decimal.NewFromInt(100), decimal.NewFromInt(5), testTime)
	if !coreerr.Is(err, coreerr.ClassRiskRejection) {
		t.Fatalf("err = %v, want risk rejection", err)
	}
	if res.ModifiedOrder == nil {
		t.Fatal("no modified order propagated")
	}
	if !res.ModifiedOrder.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("suggested qty = %s, want 1", res.ModifiedOrder.Quantity)
	}
	if f.orders.TotalOrders() != 0 {
		t.Error("rejected order was registered")
	}
}

func TestSubmitFillAndClose(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{UseMarketOrders: true}, riskmgr.Limits{})

	res, _ := f.exec.ExecuteSignal(entrySignal("0.8"), decimal.NewFromInt(100), decimal.NewFromInt(1), testTime)
	id := res.Order.ID

	if err := f.exec.SubmitOrder(id, "ex-1", testTime); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	got, _ := f.orders.GetOrder(id)
	if got.Status != types.StatusOpen || got.ExchangeOrderID != "ex-1" {
		t.Errorf("after submit: %+v", got)
	}

	closed, err := f.exec.HandleFill(id, types.OrderFill{
		OrderID:   id,
		Quantity:  decimal.NewFromInt(1),
		Price:     decimal.NewFromInt(100),
		Timestamp: testTime.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("HandleFill: %v", err)
	}
	if closed != nil {
		t.Error("entry fill reported a closed position")
	}
	if _, ok := f.positions.Get(btcusdt()); !ok {
		t.Fatal("position not opened by fill")
	}

	// Exit: sell the position flat through a second order.
	exit := types.Signal{
		StrategyID: "s1",
		Symbol:     btcusdt(),
		Side:       types.Sell,
		Type:       types.SignalExit,
		Strength:   decimal.One,
	}
	res, _ = f.exec.ExecuteSignal(exit, decimal.NewFromInt(110), decimal.NewFromInt(1), testTime.Add(time.Minute))
	f.exec.SubmitOrder(res.Order.ID, "ex-2", testTime.Add(time.Minute))
	closed, err = f.exec.HandleFill(res.Order.ID, types.OrderFill{
		OrderID:   res.Order.ID,
		Quantity:  decimal.NewFromInt(1),
		Price:     decimal.NewFromInt(110),
		Timestamp: testTime.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("HandleFill(exit): %v", err)
	}
	if closed == nil {
		t.Fatal("exit fill did not close the position")
	}
	if !closed.RealizedPnL.Equal(decimal.NewFromInt(10)) {
		t.Errorf("realized = %s, want 10", closed.RealizedPnL)
	}
}

func TestBracketGeneration(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{
		UseMarketOrders: true,
		AutoStopLoss:    true,
		AutoTakeProfit:  true,
	}, riskmgr.Limits{
		DefaultStopLossPct:   decimal.NewFromInt(5),
		DefaultTakeProfitPct: decimal.NewFromInt(10),
	})

	res, err := f.exec.ExecuteSignal(entrySignal("0.8"), decimal.NewFromInt(200), decimal.NewFromInt(1), testTime)
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if res.StopLoss == nil || res.TakeProfit == nil {
		t.Fatalf("brackets missing: %+v", res)
	}
	if res.StopLoss.Side != types.Sell || !res.StopLoss.StopPrice.Equal(decimal.NewFromInt(190)) {
		t.Errorf("stop loss = %+v, want Sell @ 190", res.StopLoss)
	}
	if !res.TakeProfit.StopPrice.Equal(decimal.NewFromInt(220)) {
		t.Errorf("take profit = %+v, want 220", res.TakeProfit)
	}

	// An explicit signal level overrides the generated price.
	sig := entrySignal("0.8")
	sl := decimal.NewFromInt(195)
	sig.StopLoss = &sl
	res, _ = f.exec.ExecuteSignal(sig, decimal.NewFromInt(200), decimal.NewFromInt(1), testTime)
	if !res.StopLoss.StopPrice.Equal(decimal.NewFromInt(195)) {
		t.Errorf("override stop = %s, want 195", *res.StopLoss.StopPrice)
	}
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{UseMarketOrders: true}, riskmgr.Limits{})

	res, _ := f.exec.ExecuteSignal(entrySignal("0.8"), decimal.NewFromInt(100), decimal.NewFromInt(1), testTime)
	if err := f.exec.CancelOrder(res.Order.ID, "shutdown", testTime); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	got, _ := f.orders.GetOrder(res.Order.ID)
	if got.Status != types.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}
}
