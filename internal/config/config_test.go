package config

import (
	"os"
	"path/filepath"
	"testing"

	"tradecore/pkg/decimal"
)

const sampleYAML = `
dry_run: false
exchange:
  name: paper
  base_url: https://api.example.test
backtest:
  initial_capital: "100000"
  commission_rate: "0.001"
  max_positions: 5
  max_position_size_pct: "0.5"
  risk_free_rate: 0.05
risk:
  max_concurrent_positions: 3
  max_position_pct: "0.25"
breaker:
  failure_threshold: 5
  reset_timeout: 60s
  success_threshold: 2
  preset: default
executor:
  min_strength: "0.3"
  use_market_orders: true
strategies:
  - id: rsi-mean-reversion
    params:
      period: 3
      oversold_threshold: "30"
logging:
  level: info
  format: text
`

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Exchange.Name != "paper" {
		t.Errorf("exchange name = %q", cfg.Exchange.Name)
	}
	if cfg.Breaker.ResetTimeout.Seconds() != 60 {
		t.Errorf("reset timeout = %s, want 60s", cfg.Breaker.ResetTimeout)
	}
	if len(cfg.Strategies) != 1 || cfg.Strategies[0].ID != "rsi-mean-reversion" {
		t.Errorf("strategies = %+v", cfg.Strategies)
	}

	raw, err := cfg.Strategies[0].ParamsJSON()
	if err != nil {
		t.Fatalf("ParamsJSON: %v", err)
	}
	if len(raw) == 0 {
		t.Error("params empty")
	}
}

func TestEnvOverridesSensitiveFields(t *testing.T) {
	t.Setenv("TRADECORE_API_KEY", "env-key")
	t.Setenv("TRADECORE_API_SECRET", "env-secret")
	t.Setenv("TRADECORE_DRY_RUN", "1")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Exchange.APIKey != "env-key" || cfg.Exchange.Secret != "env-secret" {
		t.Errorf("env credentials not applied: %+v", cfg.Exchange)
	}
	if !cfg.DryRun {
		t.Error("TRADECORE_DRY_RUN=1 not applied")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing exchange name", func(c *Config) { c.Exchange.Name = "" }},
		{"no strategies", func(c *Config) { c.Strategies = nil }},
		{"strategy without id", func(c *Config) { c.Strategies = []StrategyConfig{{}} }},
		{"zero capital", func(c *Config) { c.Backtest.InitialCapital = "0" }},
		{"bad preset", func(c *Config) { c.Breaker.Preset = "reckless" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sampleYAML))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate passed")
			}
		})
	}
}

func TestDecimalField(t *testing.T) {
	t.Parallel()
	got, err := DecimalField("", decimal.NewFromInt(7))
	if err != nil || !got.Equal(decimal.NewFromInt(7)) {
		t.Errorf("empty field = %s/%v, want fallback 7", got, err)
	}
	got, err = DecimalField("0.25", decimal.Zero)
	if err != nil || !got.Equal(decimal.MustFromString("0.25")) {
		t.Errorf("parsed field = %s/%v, want 0.25", got, err)
	}
	if _, err := DecimalField("abc", decimal.Zero); err == nil {
		t.Error("malformed decimal accepted")
	}
}
