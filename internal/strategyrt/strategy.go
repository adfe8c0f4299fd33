// Package strategyrt defines the strategy runtime: the Strategy capability
// set every trading strategy implements, the shared read-only Context that
// gates entries through RouteState/GlobalScore, and the registry that maps
// strategy ids to factories.
package strategyrt

import (
	"bytes"
	"encoding/json"

	"tradecore/pkg/types"
)

// Strategy is the capability set implemented by every strategy. Strategies
// are plain objects — no inheritance; multi-step plans are encoded as
// explicit state in the strategy struct so State stays meaningful.
type Strategy interface {
	// Name, Version and Description are static identity.
	Name() string
	Version() string
	Description() string

	// Initialize applies the JSON configuration. Unknown fields are
	// rejected. A Registration carries no config schema.
	Initialize(config json.RawMessage) error

	// OnMarketData consumes one event and returns zero or more Signals.
	OnMarketData(data types.MarketData) ([]types.Signal, error)

	// OnOrderFilled and OnPositionUpdate notify the strategy of execution
	// progress.
	OnOrderFilled(order types.Order)
	OnPositionUpdate(pos types.Position)

	// Shutdown is called on cancellation or run end.
	Shutdown() error

	// State returns an introspectable snapshot of internal state.
	State() map[string]any
}

// ContextAware is implemented by strategies that gate decisions through
// the shared Context.
type ContextAware interface {
	SetContext(ctx *Context)
}

// StatePersister is implemented by strategies that can round-trip their
// state as opaque bytes across restarts.
type StatePersister interface {
	SaveState() ([]byte, error)
	LoadState(data []byte) error
}

// DecodeConfig unmarshals a strategy configuration, rejecting unknown
// fields. A nil/empty payload leaves dst untouched so defaults survive.
func DecodeConfig(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
