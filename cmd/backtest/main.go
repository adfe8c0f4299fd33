// Command backtest replays an OHLCV CSV through a registered strategy and
// prints the JSON report to stdout.
//
// Exit codes: 0 on a successfully produced report (even with zero
// trades), 1 on bad input (config or data), 2 on an unexpected internal
// error.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"tradecore/internal/backtest"
	"tradecore/internal/config"
	_ "tradecore/internal/strategies" // register strategy cores
	"tradecore/internal/strategyrt"
	"tradecore/pkg/coreerr"
	"tradecore/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		csvPath    = flag.String("csv", "", "OHLCV CSV file (open_time,open,high,low,close,volume[,close_time])")
		strategyID = flag.String("strategy", "", "strategy id or alias (see -list)")
		params     = flag.String("params", "", "strategy params as JSON")
		symbolArg  = flag.String("symbol", "BTC/USDT", "symbol in BASE/QUOTE form")
		market     = flag.String("market", "CRYPTO", "market tag: CRYPTO or STOCK")
		timeframe  = flag.String("timeframe", "1m", "bar timeframe label")
		configPath = flag.String("config", "", "optional YAML config for run parameters")
		list       = flag.Bool("list", false, "list registered strategies and exit")
		logLevel   = flag.String("log-level", "warn", "log level: debug, info, warn, error")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevel),
	}))

	if *list {
		for _, reg := range strategyrt.Default().List() {
			fmt.Printf("%-20s %s (%s)\n", reg.ID, reg.Name, reg.Category)
		}
		return 0
	}

	if *csvPath == "" || *strategyID == "" {
		fmt.Fprintln(os.Stderr, "usage: backtest -csv <file> -strategy <id> [flags]")
		flag.PrintDefaults()
		return 1
	}

	runCfg := backtest.DefaultConfig()
	if *configPath != "" {
		fileCfg, err := config.Load(*configPath)
		if err != nil {
			logger.Error("config load failed", "error", err)
			return 1
		}
		if runCfg, err = applyFileConfig(runCfg, fileCfg); err != nil {
			logger.Error("invalid config", "error", err)
			return 1
		}
	}

	symbol, err := parseSymbol(*symbolArg, *market)
	if err != nil {
		logger.Error("bad symbol", "error", err)
		return 1
	}

	file, err := os.Open(*csvPath)
	if err != nil {
		logger.Error("open csv", "error", err)
		return 1
	}
	defer file.Close()

	klines, err := backtest.LoadCSV(file, symbol, *timeframe)
	if err != nil {
		logger.Error("parse csv", "error", err)
		return 1
	}

	strategy, err := strategyrt.Default().New(*strategyID)
	if err != nil {
		logger.Error("unknown strategy", "error", err)
		return 1
	}
	if err := strategy.Initialize(json.RawMessage(*params)); err != nil {
		logger.Error("strategy init failed", "error", err)
		return 1
	}

	engine, err := backtest.NewEngine(runCfg, logger)
	if err != nil {
		logger.Error("engine setup failed", "error", err)
		return 1
	}

	report, err := engine.Run(strategy, klines)
	if err != nil {
		if coreerr.Is(err, coreerr.ClassData) || coreerr.Is(err, coreerr.ClassConfig) {
			logger.Error("run rejected", "error", err)
			return 1
		}
		logger.Error("run failed", "error", err)
		return 2
	}

	out, err := report.MarshalIndent()
	if err != nil {
		logger.Error("marshal report", "error", err)
		return 2
	}
	fmt.Println(string(out))
	return 0
}

func applyFileConfig(runCfg backtest.Config, fileCfg *config.Config) (backtest.Config, error) {
	bc := fileCfg.Backtest
	var err error
	if runCfg.InitialCapital, err = config.DecimalField(bc.InitialCapital, runCfg.InitialCapital); err != nil {
		return runCfg, err
	}
	if runCfg.CommissionRate, err = config.DecimalField(bc.CommissionRate, runCfg.CommissionRate); err != nil {
		return runCfg, err
	}
	if runCfg.SlippageRate, err = config.DecimalField(bc.SlippageRate, runCfg.SlippageRate); err != nil {
		return runCfg, err
	}
	if runCfg.MaxPositionSizePct, err = config.DecimalField(bc.MaxPositionSizePct, runCfg.MaxPositionSizePct); err != nil {
		return runCfg, err
	}
	if bc.MaxPositions > 0 {
		runCfg.MaxPositions = bc.MaxPositions
	}
	if bc.RiskFreeRate > 0 {
		runCfg.RiskFreeRate = bc.RiskFreeRate
	}
	runCfg.AllowShort = bc.AllowShort
	runCfg.AllowMargin = bc.AllowMargin
	runCfg.ExchangeName = fileCfg.Exchange.Name
	return runCfg, nil
}

func parseSymbol(arg, market string) (types.Symbol, error) {
	parts := strings.SplitN(arg, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return types.Symbol{}, fmt.Errorf("symbol %q not in BASE/QUOTE form", arg)
	}
	m := types.Market(strings.ToUpper(market))
	if m != types.MarketCrypto && m != types.MarketStock {
		return types.Symbol{}, fmt.Errorf("market %q must be CRYPTO or STOCK", market)
	}
	return types.NewSymbol(parts[0], parts[1], m), nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
