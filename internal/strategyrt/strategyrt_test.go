package strategyrt

import (
	"encoding/json"
	"testing"

	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

func TestCanEnterRouteGating(t *testing.T) {
	t.Parallel()
	ctx := NewContext(decimal.NewFromInt(60))

	tests := []struct {
		route types.RouteState
		want  bool
	}{
		{types.RouteArmed, true},
		{types.RouteAttack, true},
		{types.RouteNeutral, false},
		{types.RouteWait, false},
		{types.RouteOverheat, false},
	}
	for _, tt := range tests {
		ctx.SetRouteState("TQQQ", tt.route)
		if got := ctx.CanEnter("TQQQ"); got != tt.want {
			t.Errorf("CanEnter with route %s = %v, want %v", tt.route, got, tt.want)
		}
	}
}

func TestCanEnterScoreFloor(t *testing.T) {
	t.Parallel()
	ctx := NewContext(decimal.NewFromInt(60))
	ctx.SetRouteState("TQQQ", types.RouteArmed)

	ctx.SetGlobalScore(types.GlobalScore{Ticker: "TQQQ", Overall: decimal.NewFromInt(59)})
	if ctx.CanEnter("TQQQ") {
		t.Error("entry allowed below the score floor")
	}
	ctx.SetGlobalScore(types.GlobalScore{Ticker: "TQQQ", Overall: decimal.NewFromInt(60)})
	if !ctx.CanEnter("TQQQ") {
		t.Error("entry denied at the score floor")
	}
}

func TestCanEnterUnknownTickerAllowed(t *testing.T) {
	t.Parallel()
	ctx := NewContext(decimal.NewFromInt(60))
	if !ctx.CanEnter("UNKNOWN") {
		t.Error("ticker with no context data should not be blocked")
	}
}

type stubStrategy struct{}

func (stubStrategy) Name() string        { return "stub" }
func (stubStrategy) Version() string     { return "1.0.0" }
func (stubStrategy) Description() string { return "test stub" }
func (stubStrategy) Initialize(json.RawMessage) error {
	return nil
}
func (stubStrategy) OnMarketData(types.MarketData) ([]types.Signal, error) { return nil, nil }
func (stubStrategy) OnOrderFilled(types.Order)                             {}
func (stubStrategy) OnPositionUpdate(types.Position)                       {}
func (stubStrategy) Shutdown() error                                       { return nil }
func (stubStrategy) State() map[string]any                                 { return nil }

func TestRegistryResolveAndAliases(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	err := r.Register(Registration{
		ID:       "stub-strategy",
		Aliases:  []string{"stub"},
		Name:     "Stub",
		Category: CategoryDaily,
		Factory:  func() Strategy { return stubStrategy{} },
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, ok := r.Resolve("stub-strategy"); !ok {
		t.Error("id not resolvable")
	}
	if _, ok := r.Resolve("stub"); !ok {
		t.Error("alias not resolvable")
	}
	if _, err := r.New("stub"); err != nil {
		t.Errorf("New(alias): %v", err)
	}
	if _, err := r.New("missing"); err == nil {
		t.Error("New(missing) succeeded")
	}

	// Duplicate id rejected.
	err = r.Register(Registration{ID: "stub-strategy", Factory: func() Strategy { return stubStrategy{} }})
	if err == nil {
		t.Error("duplicate id registered")
	}
}

func TestDecodeConfigRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	var cfg struct {
		Period int `json:"period"`
	}
	if err := DecodeConfig(json.RawMessage(`{"period": 14}`), &cfg); err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Period != 14 {
		t.Errorf("period = %d, want 14", cfg.Period)
	}
	if err := DecodeConfig(json.RawMessage(`{"perid": 14}`), &cfg); err == nil {
		t.Error("unknown field accepted")
	}
}
