package perf

import (
	"time"

	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// EventKind discriminates the PerformanceEvent variants published by the
// Tracker, per spec.md §4.B "Threshold-crossing events".
type EventKind string

const (
	EventRoundTripCompleted  EventKind = "ROUND_TRIP_COMPLETED"
	EventNewEquityHigh       EventKind = "NEW_EQUITY_HIGH"
	EventDrawdownAlert       EventKind = "DRAWDOWN_ALERT"
	EventConsecutiveLoss     EventKind = "CONSECUTIVE_LOSS_ALERT"
	EventDailyLossLimit      EventKind = "DAILY_LOSS_LIMIT_REACHED"
	EventProfitTargetReached EventKind = "PROFIT_TARGET_REACHED"
)

// Event is published on the Tracker's Broadcaster whenever a trade closes or
// a configured threshold is crossed. Only the field matching Kind is set.
type Event struct {
	Kind      EventKind
	Timestamp time.Time

	RoundTrip *types.RoundTrip // EventRoundTripCompleted

	Equity decimal.Decimal // EventNewEquityHigh, EventDrawdownAlert

	DrawdownPct decimal.Decimal // EventDrawdownAlert

	ConsecutiveLosses int // EventConsecutiveLoss

	DailyPnL decimal.Decimal // EventDailyLossLimit

	TotalReturnPct decimal.Decimal // EventProfitTargetReached
}
