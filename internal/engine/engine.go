// Package engine wires the live trading loop: strategies consume klines
// polled from the exchange connector, their signals flow through the
// executor into the order manager and position tracker, fills stream back
// over the WebSocket user feed, and the performance tracker accounts for
// every completed round trip. State snapshots persist after every fill so
// a restart resumes where the process died.
package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tradecore/internal/breaker"
	"tradecore/internal/config"
	"tradecore/internal/exchange"
	"tradecore/internal/executor"
	"tradecore/internal/ordermanager"
	"tradecore/internal/perf"
	"tradecore/internal/persistence"
	"tradecore/internal/position"
	"tradecore/internal/riskmgr"
	"tradecore/internal/strategyrt"
	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

const (
	klinePollInterval   = time.Minute
	equityFlushInterval = time.Minute
	snapshotKey         = "engine_state"
)

// Engine is the live orchestrator.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	cb        *breaker.Breaker
	connector exchange.Connector
	feed      *exchange.FillFeed
	exec      *executor.Executor
	orders    *ordermanager.Manager
	positions *position.Tracker
	tracker   *perf.Tracker
	store     *persistence.Store
	equities  *persistence.EquityRepository // nil when no DSN configured

	strategies []strategyrt.Strategy
	context    *strategyrt.Context

	symbols []types.Symbol
	cash    decimal.Decimal
}

// engineSnapshot is what persists across restarts.
type engineSnapshot struct {
	Cash      decimal.Decimal  `json:"cash"`
	Positions []types.Position `json:"positions"`
}

// New assembles an engine from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cb := breaker.New(cfg.Exchange.Name, breakerConfig(cfg.Breaker), logger)
	auth := exchange.NewAuth(exchange.Credentials{
		APIKey:     cfg.Exchange.APIKey,
		Secret:     cfg.Exchange.Secret,
		Passphrase: cfg.Exchange.Passphrase,
	})
	connector := exchange.NewRestConnector(exchange.ClientConfig{
		Name:    cfg.Exchange.Name,
		BaseURL: cfg.Exchange.BaseURL,
		DryRun:  cfg.DryRun,
	}, auth, cb, logger)

	limits, err := riskLimits(cfg.Risk)
	if err != nil {
		return nil, err
	}
	orders := ordermanager.New(logger)
	positions := position.NewTracker()
	risk := riskmgr.New(limits, logger)

	execCfg, err := executorConfig(cfg)
	if err != nil {
		return nil, err
	}
	exec := executor.New(execCfg, risk, orders, positions, logger)

	capital, err := config.DecimalField(cfg.Backtest.InitialCapital, decimal.NewFromInt(100_000))
	if err != nil {
		return nil, err
	}
	tracker, err := perf.NewTracker(capital, perf.DefaultThresholds())
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
		cb:        cb,
		connector: connector,
		exec:      exec,
		orders:    orders,
		positions: positions,
		tracker:   tracker,
		context:   strategyrt.NewContext(decimal.NewFromInt(60)),
		cash:      capital,
	}

	if cfg.Exchange.WSUserURL != "" {
		e.feed = exchange.NewFillFeed(cfg.Exchange.WSUserURL, auth, logger)
	}
	if cfg.Store.Path != "" {
		store, err := persistence.OpenStore(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		e.store = store
	}
	if cfg.Database.DSN != "" {
		repo, err := persistence.NewEquityRepository(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		e.equities = repo
	}

	if err := e.buildStrategies(); err != nil {
		return nil, err
	}
	e.restore()
	return e, nil
}

func breakerConfig(cfg config.BreakerConfig) breaker.Config {
	out := breaker.DefaultConfig()
	if cfg.FailureThreshold > 0 {
		out.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.ResetTimeout > 0 {
		out.ResetTimeout = cfg.ResetTimeout
	}
	if cfg.SuccessThreshold > 0 {
		out.SuccessThreshold = cfg.SuccessThreshold
	}
	switch cfg.Preset {
	case "default":
		t := breaker.DefaultCategoryThresholds()
		out.CategoryThresholds = &t
	case "conservative":
		t := breaker.ConservativeThresholds()
		out.CategoryThresholds = &t
	case "aggressive":
		t := breaker.AggressiveThresholds()
		out.CategoryThresholds = &t
	}
	return out
}

func riskLimits(cfg config.RiskConfig) (riskmgr.Limits, error) {
	var limits riskmgr.Limits
	var err error
	if limits.MaxPositionSize, err = config.DecimalField(cfg.MaxPositionSize, decimal.Zero); err != nil {
		return limits, err
	}
	if limits.MaxDailyLoss, err = config.DecimalField(cfg.MaxDailyLoss, decimal.Zero); err != nil {
		return limits, err
	}
	if limits.MaxPositionPct, err = config.DecimalField(cfg.MaxPositionPct, decimal.Zero); err != nil {
		return limits, err
	}
	if limits.DefaultStopLossPct, err = config.DecimalField(cfg.DefaultStopLossPct, decimal.NewFromInt(4)); err != nil {
		return limits, err
	}
	if limits.DefaultTakeProfitPct, err = config.DecimalField(cfg.DefaultTakeProfitPct, decimal.NewFromInt(8)); err != nil {
		return limits, err
	}
	limits.MaxConcurrentPositions = cfg.MaxConcurrentPositions
	return limits, nil
}

func executorConfig(cfg *config.Config) (executor.Config, error) {
	minStrength, err := config.DecimalField(cfg.Executor.MinStrength, decimal.MustFromString("0.1"))
	if err != nil {
		return executor.Config{}, err
	}
	slippage, err := config.DecimalField(cfg.Executor.Slippage, decimal.Zero)
	if err != nil {
		return executor.Config{}, err
	}
	return executor.Config{
		MinStrength:     minStrength,
		UseMarketOrders: cfg.Executor.UseMarketOrders,
		Slippage:        slippage,
		AutoStopLoss:    cfg.Executor.AutoStopLoss,
		AutoTakeProfit:  cfg.Executor.AutoTakeProfit,
		Exchange:        cfg.Exchange.Name,
	}, nil
}

// buildStrategies resolves configured strategy ids against the
// process-wide registry and initializes each instance.
func (e *Engine) buildStrategies() error {
	registry := strategyrt.Default()
	for _, sc := range e.cfg.Strategies {
		strategy, err := registry.New(sc.ID)
		if err != nil {
			return err
		}
		params, err := sc.ParamsJSON()
		if err != nil {
			return coreerr.Wrap(coreerr.ClassConfig, sc.ID, err)
		}
		if err := strategy.Initialize(params); err != nil {
			return err
		}
		if aware, ok := strategy.(strategyrt.ContextAware); ok {
			aware.SetContext(e.context)
		}
		e.strategies = append(e.strategies, strategy)

		if reg, ok := registry.Resolve(sc.ID); ok {
			for _, ticker := range reg.Symbols {
				e.symbols = append(e.symbols, types.NewSymbol(ticker, "USD", types.MarketStock))
			}
		}
	}
	return nil
}

// restore reloads persisted state from the local store.
func (e *Engine) restore() {
	if e.store == nil {
		return
	}
	var snap engineSnapshot
	found, err := e.store.Load(snapshotKey, &snap)
	if err != nil {
		e.logger.Error("snapshot restore failed", "error", err)
		return
	}
	if !found {
		return
	}
	e.cash = snap.Cash
	for _, pos := range snap.Positions {
		if _, err := e.positions.ApplyFill(pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, pos.StrategyID, pos.OpenedAt); err != nil {
			e.logger.Error("snapshot position restore failed", "symbol", pos.Symbol.String(), "error", err)
		}
	}
	e.logger.Info("state restored", "positions", len(snap.Positions), "cash", e.cash)
}

// snapshot saves the current state; called after every applied fill.
func (e *Engine) snapshot() {
	if e.store == nil {
		return
	}
	snap := engineSnapshot{Cash: e.cash, Positions: e.positions.All()}
	if err := e.store.Save(snapshotKey, snap); err != nil {
		e.logger.Error("snapshot save failed", "error", err)
	}
}

// Run starts the live loops and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if e.feed != nil {
		g.Go(func() error { return e.feed.Run(ctx) })
		g.Go(func() error { return e.consumeFills(ctx) })
		for _, sym := range e.symbols {
			if err := e.feed.Subscribe(sym); err != nil {
				e.logger.Warn("subscribe failed", "symbol", sym.String(), "error", err)
			}
		}
	}
	g.Go(func() error { return e.pollKlines(ctx) })
	if e.equities != nil {
		g.Go(func() error { return e.flushEquity(ctx) })
	}

	err := g.Wait()
	e.shutdown()
	if err == context.Canceled {
		return nil
	}
	return err
}

// consumeFills applies user-stream updates to the executor.
func (e *Engine) consumeFills(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-e.feed.Updates():
			e.applyUpdate(update)
		}
	}
}

func (e *Engine) applyUpdate(update exchange.OrderUpdate) {
	order, ok := e.orders.GetOrderByExchangeID(update.ExchangeOrderID)
	if !ok {
		e.logger.Warn("update for unknown exchange order", "exchange_order_id", update.ExchangeOrderID)
		return
	}

	if update.Fill != nil {
		fill := *update.Fill
		fill.OrderID = order.ID
		closed, err := e.exec.HandleFill(order.ID, fill)
		if err != nil {
			e.logger.Error("fill application failed", "order_id", order.ID, "error", err)
			return
		}
		notional := fill.Price.Mul(fill.Quantity)
		if order.Side() == types.Buy {
			e.cash = e.cash.Sub(notional).Sub(fill.Commission)
		} else {
			e.cash = e.cash.Add(notional).Sub(fill.Commission)
		}
		if closed != nil {
			e.tracker.RecordExit(closed.Symbol, closed.Side, closed.Quantity, closed.ExitPrice, fill.Commission, closed.StrategyID, fill.Timestamp)
		} else {
			e.tracker.RecordEntry(order.Symbol(), order.Side(), fill.Quantity, fill.Price, fill.Commission, order.StrategyID(), fill.Timestamp)
		}
		for _, strategy := range e.strategies {
			if updated, ok := e.positions.Get(order.Symbol()); ok {
				strategy.OnPositionUpdate(updated)
			}
			strategy.OnOrderFilled(order)
		}
		e.snapshot()
		return
	}

	if update.Status != "" {
		if err := e.orders.UpdateStatus(order.ID, ordermanager.StatusUpdate{
			Status:    update.Status,
			Timestamp: time.Now(),
		}); err != nil {
			e.logger.Error("status update failed", "order_id", order.ID, "error", err)
		}
	}
}

// pollKlines fetches the latest bar per symbol and feeds the strategies.
func (e *Engine) pollKlines(ctx context.Context) error {
	ticker := time.NewTicker(klinePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context) {
	for _, sym := range e.symbols {
		klines, err := e.connector.FetchKlines(ctx, sym, "1m", 1)
		if err != nil {
			if coreerr.Is(err, coreerr.ClassCircuitOpen) {
				e.logger.Warn("kline poll skipped, circuit open")
				return
			}
			e.logger.Warn("kline fetch failed", "symbol", sym.String(), "error", err)
			continue
		}
		for _, k := range klines {
			e.dispatch(ctx, k)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, k types.Kline) {
	e.positions.UpdatePrices(map[string]decimal.Decimal{k.Symbol.String(): k.Close}, k.CloseTime)

	for _, strategy := range e.strategies {
		signals, err := strategy.OnMarketData(types.MarketData{Kind: types.MarketDataKline, Kline: k})
		if err != nil {
			e.logger.Warn("strategy error, dropping batch", "strategy", strategy.Name(), "error", err)
			continue
		}
		for _, sig := range signals {
			e.execute(ctx, sig, k)
		}
	}
}

func (e *Engine) execute(ctx context.Context, sig types.Signal, k types.Kline) {
	if !k.Close.IsPositive() {
		return
	}
	qty := e.cash.Mul(sig.Strength).Div(k.Close)
	result, err := e.exec.ExecuteSignal(sig, k.Close, qty, k.CloseTime)
	if err != nil || !result.Accepted {
		if err != nil && !coreerr.Is(err, coreerr.ClassRiskRejection) {
			e.logger.Error("signal execution failed", "error", err)
		}
		return
	}

	exchangeID, err := e.connector.SubmitOrder(ctx, result.Order.Request)
	if err != nil {
		e.logger.Error("order submission failed", "order_id", result.Order.ID, "error", err)
		if rejErr := e.orders.RejectOrder(result.Order.ID, err.Error(), time.Now()); rejErr != nil {
			e.logger.Error("reject bookkeeping failed", "order_id", result.Order.ID, "error", rejErr)
		}
		return
	}
	if err := e.exec.SubmitOrder(result.Order.ID, exchangeID, time.Now()); err != nil {
		e.logger.Error("submit bookkeeping failed", "order_id", result.Order.ID, "error", err)
	}
}

// flushEquity upserts an equity snapshot every minute.
func (e *Engine) flushEquity(ctx context.Context) error {
	ticker := time.NewTicker(equityFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			securities := decimal.Zero
			for _, pos := range e.positions.All() {
				securities = securities.Add(pos.Quantity.Mul(pos.CurrentPrice))
			}
			total := e.cash.Add(securities)
			e.tracker.RecordEquity(now, total)

			snap := persistence.EquitySnapshot{
				CredentialID:    e.cfg.Exchange.Name,
				SnapshotTime:    now,
				TotalEquity:     total,
				CashBalance:     e.cash,
				SecuritiesValue: securities,
				TotalPnL:        e.tracker.Metrics().NetProfit,
				Currency:        "USD",
				Market:          string(types.MarketStock),
			}
			if err := e.equities.Upsert(snap); err != nil {
				e.logger.Error("equity upsert failed", "error", err)
			}
		}
	}
}

// shutdown notifies strategies and closes resources. Submitted in-flight
// orders remain on the venue; the operator cancels them externally.
func (e *Engine) shutdown() {
	for _, strategy := range e.strategies {
		if err := strategy.Shutdown(); err != nil {
			e.logger.Error("strategy shutdown failed", "strategy", strategy.Name(), "error", err)
		}
	}
	e.snapshot()
	if e.store != nil {
		e.store.Close()
	}
	e.logger.Info("engine stopped")
}
