// Package exchange implements the live exchange connector layer: a
// venue-agnostic Connector contract, a REST reference implementation with
// rate limiting, retry and HMAC auth, and a reconnecting WebSocket fill
// feed. Every call is routed through a circuit breaker; failures are
// classified into the retryable categories the breaker tracks, and
// non-retryable errors (insufficient balance, invalid quantity) surface
// immediately without touching it.
package exchange

import (
	"context"

	"tradecore/pkg/types"
)

// Connector is the minimal contract the executor needs from a venue.
// Implementations return *coreerr.ExchangeError for classified failures.
type Connector interface {
	// Name identifies the venue.
	Name() string
	// SubmitOrder places an order and returns the exchange-assigned id.
	SubmitOrder(ctx context.Context, req types.OrderRequest) (string, error)
	// CancelOrder cancels by exchange order id.
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	// FetchKlines returns up to limit most recent bars for the symbol.
	FetchKlines(ctx context.Context, symbol types.Symbol, timeframe string, limit int) ([]types.Kline, error)
}

// OrderUpdate is one user-stream event: a fill or an order state change.
type OrderUpdate struct {
	ExchangeOrderID string
	Status          types.OrderStatus
	Fill            *types.OrderFill
}
