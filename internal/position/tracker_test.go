package position

import (
	"testing"
	"time"

	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

var testTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func btcusdt() types.Symbol {
	return types.NewSymbol("BTC", "USDT", types.MarketCrypto)
}

func TestOpenOnFirstFill(t *testing.T) {
	t.Parallel()
	tr := NewTracker()

	closed, err := tr.ApplyFill(btcusdt(), types.Buy, decimal.NewFromInt(2), decimal.NewFromInt(100), "s1", testTime)
	if err != nil || closed != nil {
		t.Fatalf("first fill: closed=%v err=%v", closed, err)
	}

	pos, ok := tr.Get(btcusdt())
	if !ok {
		t.Fatal("position not opened")
	}
	if pos.Side != types.Buy || !pos.Quantity.Equal(decimal.NewFromInt(2)) || !pos.EntryPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("position = %+v", pos)
	}
}

func TestSameSideWeightedAverage(t *testing.T) {
	t.Parallel()
	tr := NewTracker()

	tr.ApplyFill(btcusdt(), types.Buy, decimal.NewFromInt(1), decimal.NewFromInt(100), "s1", testTime)
	tr.ApplyFill(btcusdt(), types.Buy, decimal.NewFromInt(3), decimal.NewFromInt(120), "s1", testTime)

	pos, _ := tr.Get(btcusdt())
	// (1*100 + 3*120) / 4 = 115
	if !pos.EntryPrice.Equal(decimal.NewFromInt(115)) {
		t.Errorf("entry = %s, want 115", pos.EntryPrice)
	}
	if !pos.Quantity.Equal(decimal.NewFromInt(4)) {
		t.Errorf("qty = %s, want 4", pos.Quantity)
	}
}

func TestPartialReduceRealizesPnL(t *testing.T) {
	t.Parallel()
	tr := NewTracker()

	tr.ApplyFill(btcusdt(), types.Buy, decimal.NewFromInt(4), decimal.NewFromInt(100), "s1", testTime)
	closed, err := tr.ApplyFill(btcusdt(), types.Sell, decimal.NewFromInt(1), decimal.NewFromInt(110), "s1", testTime)
	if err != nil || closed != nil {
		t.Fatalf("partial reduce: closed=%v err=%v", closed, err)
	}

	pos, _ := tr.Get(btcusdt())
	if !pos.Quantity.Equal(decimal.NewFromInt(3)) {
		t.Errorf("qty = %s, want 3", pos.Quantity)
	}
	// (110 - 100) * 1 = 10
	if !pos.RealizedPnL.Equal(decimal.NewFromInt(10)) {
		t.Errorf("realized = %s, want 10", pos.RealizedPnL)
	}
}

func TestFullCloseEmitsClosedPosition(t *testing.T) {
	t.Parallel()
	tr := NewTracker()

	tr.ApplyFill(btcusdt(), types.Buy, decimal.NewFromInt(2), decimal.NewFromInt(100), "s1", testTime)
	closed, err := tr.ApplyFill(btcusdt(), types.Sell, decimal.NewFromInt(2), decimal.NewFromInt(90), "s1", testTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed == nil {
		t.Fatal("expected a closed position")
	}
	// (90 - 100) * 2 = -20
	if !closed.RealizedPnL.Equal(decimal.NewFromInt(-20)) {
		t.Errorf("realized = %s, want -20", closed.RealizedPnL)
	}
	if tr.OpenCount() != 0 {
		t.Errorf("open count = %d, want 0", tr.OpenCount())
	}
}

func TestFlipRejected(t *testing.T) {
	t.Parallel()
	tr := NewTracker()

	tr.ApplyFill(btcusdt(), types.Buy, decimal.NewFromInt(1), decimal.NewFromInt(100), "s1", testTime)
	closed, err := tr.ApplyFill(btcusdt(), types.Sell, decimal.NewFromInt(3), decimal.NewFromInt(110), "s1", testTime)
	if !coreerr.Is(err, coreerr.ClassExecution) {
		t.Fatalf("flip err = %v, want execution (PositionFlip) error", err)
	}
	// The open quantity is still closed out; only the excess is rejected.
	if closed == nil {
		t.Fatal("expected the open quantity to be closed")
	}
	if !closed.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("closed qty = %s, want 1", closed.Quantity)
	}
	if tr.OpenCount() != 0 {
		t.Errorf("open count = %d, want 0 after flip rejection", tr.OpenCount())
	}
}

func TestUpdatePricesMarkToMarket(t *testing.T) {
	t.Parallel()
	tr := NewTracker()

	tr.ApplyFill(btcusdt(), types.Sell, decimal.NewFromInt(2), decimal.NewFromInt(100), "s1", testTime)
	tr.UpdatePrices(map[string]decimal.Decimal{"BTC/USDT": decimal.NewFromInt(95)}, testTime)

	pos, _ := tr.Get(btcusdt())
	// Short: (100 - 95) * 2 = 10
	if !pos.UnrealizedPnL.Equal(decimal.NewFromInt(10)) {
		t.Errorf("unrealized = %s, want 10", pos.UnrealizedPnL)
	}
	if !tr.TotalUnrealizedPnL().Equal(decimal.NewFromInt(10)) {
		t.Errorf("total unrealized = %s, want 10", tr.TotalUnrealizedPnL())
	}
}
