// Package ordermanager owns the order lifecycle: creation, status
// transitions, fill accumulation, and the indexes that let the rest of the
// system find orders by symbol, strategy, exchange id, or status.
//
// All state lives behind a single RWMutex (single-writer rule from the
// concurrency model): order events for one order id are serialized through
// this lock, which gives every subscriber in-order observation.
package ordermanager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"tradecore/internal/events"
	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// EventKind discriminates order lifecycle events.
type EventKind string

const (
	EventCreated     EventKind = "CREATED"
	EventSubmitted   EventKind = "SUBMITTED"
	EventPartialFill EventKind = "PARTIAL_FILL"
	EventFilled      EventKind = "FILLED"
	EventCancelled   EventKind = "CANCELLED"
	EventRejected    EventKind = "REJECTED"
	EventExpired     EventKind = "EXPIRED"
)

// Event is one entry in the bounded event log, also fanned out to
// subscribers.
type Event struct {
	Kind      EventKind
	OrderID   string
	Status    types.OrderStatus
	Reason    string
	Timestamp time.Time
}

// defaultHistorySize bounds the event and fill logs; the oldest entries are
// trimmed ring-buffer style once the bound is exceeded.
const defaultHistorySize = 10_000

// Manager is the order lifecycle manager (single writer behind mu).
type Manager struct {
	mu sync.RWMutex

	orders       map[string]*types.Order
	active       map[string]struct{}
	bySymbol     map[string][]string
	byStrategy   map[string][]string
	byExchangeID map[string]string

	eventLog    []Event
	fillLog     []types.OrderFill
	fillsByID   map[string][]types.OrderFill
	historySize int

	bus    *events.Broadcaster[Event]
	logger *slog.Logger

	ordersCreated prometheus.Counter
	fillsRecorded prometheus.Counter
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistorySize bounds the event and fill logs.
func WithHistorySize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historySize = n
		}
	}
}

// WithRegistry registers the manager's throughput counters on the given
// Prometheus registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		reg.MustRegister(m.ordersCreated, m.fillsRecorded)
	}
}

// New creates a Manager.
func New(logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		orders:       make(map[string]*types.Order),
		active:       make(map[string]struct{}),
		bySymbol:     make(map[string][]string),
		byStrategy:   make(map[string][]string),
		byExchangeID: make(map[string]string),
		fillsByID:    make(map[string][]types.OrderFill),
		historySize:  defaultHistorySize,
		bus:          events.New[Event](64),
		logger:       logger.With("component", "ordermanager"),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradecore_orders_created_total",
			Help: "Orders registered with the order manager.",
		}),
		fillsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradecore_fills_recorded_total",
			Help: "Fills recorded against managed orders.",
		}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe returns a handle receiving every lifecycle Event.
func (m *Manager) Subscribe() *events.Subscription[Event] {
	return m.bus.Subscribe()
}

// CreateOrder builds an Order in Pending state from the request, registers
// it under a fresh local id, and emits Created. A duplicate id is a
// programmer error (only reachable through AddOrder).
func (m *Manager) CreateOrder(req types.OrderRequest, exchange string, now time.Time) (*types.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	order := &types.Order{
		ID:        uuid.NewString(),
		Exchange:  exchange,
		Request:   req,
		Status:    types.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.AddOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}

// AddOrder registers a pre-built order. Duplicate ids are rejected with a
// ClassExecution "duplicate order id" error carrying the id.
func (m *Manager) AddOrder(order *types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.ID]; exists {
		m.logger.Error("duplicate order id", "order_id", order.ID)
		return coreerr.WithID(coreerr.ClassExecution, order.ID, "duplicate order id")
	}

	cp := *order
	m.orders[order.ID] = &cp
	if !cp.Status.IsTerminal() {
		m.active[order.ID] = struct{}{}
	}
	sym := cp.Symbol().String()
	m.bySymbol[sym] = append(m.bySymbol[sym], order.ID)
	if sid := cp.StrategyID(); sid != "" {
		m.byStrategy[sid] = append(m.byStrategy[sid], order.ID)
	}
	if cp.ExchangeOrderID != "" {
		m.byExchangeID[cp.ExchangeOrderID] = order.ID
	}

	m.ordersCreated.Inc()
	m.appendEvent(Event{Kind: EventCreated, OrderID: order.ID, Status: cp.Status, Timestamp: cp.CreatedAt})
	return nil
}

// StatusUpdate carries the fields applied by UpdateStatus.
type StatusUpdate struct {
	Status           types.OrderStatus
	FilledQuantity   *decimal.Decimal
	AverageFillPrice *decimal.Decimal
	ExchangeOrderID  string
	Reason           string
	Timestamp        time.Time
}

// UpdateStatus applies a status transition. Transitions out of a terminal
// state and unknown ids are rejected with ClassExecution errors carrying
// the id ("order already in a terminal state", "order not found"). The
// exchange order id is bound on first sighting.
func (m *Manager) UpdateStatus(id string, upd StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		m.logger.Error("update for unknown order", "order_id", id)
		return coreerr.WithID(coreerr.ClassExecution, id, "order not found")
	}
	if order.Status.IsTerminal() {
		m.logger.Error("update on finalized order", "order_id", id, "status", order.Status)
		return coreerr.WithID(coreerr.ClassExecution, id, "order already in a terminal state")
	}

	order.Status = upd.Status
	if upd.FilledQuantity != nil {
		order.FilledQuantity = *upd.FilledQuantity
	}
	if upd.AverageFillPrice != nil {
		order.AverageFillPrice = *upd.AverageFillPrice
	}
	if upd.ExchangeOrderID != "" && order.ExchangeOrderID == "" {
		order.ExchangeOrderID = upd.ExchangeOrderID
		m.byExchangeID[upd.ExchangeOrderID] = id
	}
	order.UpdatedAt = upd.Timestamp

	if upd.Status.IsTerminal() {
		delete(m.active, id)
	}

	m.appendEvent(Event{
		Kind:      eventKindFor(upd.Status),
		OrderID:   id,
		Status:    upd.Status,
		Reason:    upd.Reason,
		Timestamp: upd.Timestamp,
	})
	return nil
}

func eventKindFor(next types.OrderStatus) EventKind {
	switch next {
	case types.StatusOpen:
		return EventSubmitted
	case types.StatusPartiallyFilled:
		return EventPartialFill
	case types.StatusFilled:
		return EventFilled
	case types.StatusCancelled:
		return EventCancelled
	case types.StatusRejected:
		return EventRejected
	case types.StatusExpired:
		return EventExpired
	default:
		return EventCreated
	}
}

// RecordFill accumulates a fill against the order: filled quantity grows,
// the average fill price is the quantity-weighted mean over all fills, and
// the status advances to PartiallyFilled or Filled. A fill that would push
// filled quantity past the order quantity is an overfill — a programmer
// error, rejected with a ClassExecution error carrying the order id and
// the order left untouched.
func (m *Manager) RecordFill(fill types.OrderFill) error {
	if err := fill.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[fill.OrderID]
	if !ok {
		m.logger.Error("fill for unknown order", "order_id", fill.OrderID)
		return coreerr.WithID(coreerr.ClassExecution, fill.OrderID, "order not found")
	}
	if order.Status.IsTerminal() {
		m.logger.Error("fill on finalized order", "order_id", fill.OrderID, "status", order.Status)
		return coreerr.WithID(coreerr.ClassExecution, fill.OrderID, "order already in a terminal state")
	}

	newFilled := order.FilledQuantity.Add(fill.Quantity)
	if newFilled.GreaterThan(order.Request.Quantity) {
		m.logger.Error("overfill rejected",
			"order_id", fill.OrderID,
			"order_qty", order.Request.Quantity,
			"would_fill", newFilled,
		)
		return coreerr.WithID(coreerr.ClassExecution, fill.OrderID, "fill exceeds order quantity")
	}

	prevNotional := order.AverageFillPrice.Mul(order.FilledQuantity)
	order.AverageFillPrice = prevNotional.Add(fill.Price.Mul(fill.Quantity)).Div(newFilled)
	order.FilledQuantity = newFilled
	order.UpdatedAt = fill.Timestamp

	var kind EventKind
	if newFilled.GreaterThanOrEqual(order.Request.Quantity) {
		order.Status = types.StatusFilled
		delete(m.active, order.ID)
		kind = EventFilled
	} else {
		order.Status = types.StatusPartiallyFilled
		kind = EventPartialFill
	}

	m.fillsByID[fill.OrderID] = append(m.fillsByID[fill.OrderID], fill)
	m.fillLog = append(m.fillLog, fill)
	if len(m.fillLog) > m.historySize {
		m.fillLog = m.fillLog[len(m.fillLog)-m.historySize:]
	}

	m.fillsRecorded.Inc()
	m.appendEvent(Event{Kind: kind, OrderID: order.ID, Status: order.Status, Timestamp: fill.Timestamp})
	return nil
}

// CancelOrder transitions a non-terminal order to Cancelled.
func (m *Manager) CancelOrder(id, reason string, now time.Time) error {
	return m.UpdateStatus(id, StatusUpdate{Status: types.StatusCancelled, Reason: reason, Timestamp: now})
}

// RejectOrder transitions a non-terminal order to Rejected.
func (m *Manager) RejectOrder(id, reason string, now time.Time) error {
	return m.UpdateStatus(id, StatusUpdate{Status: types.StatusRejected, Reason: reason, Timestamp: now})
}

// GetOrder returns a copy of the order, or false.
func (m *Manager) GetOrder(id string) (types.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return types.Order{}, false
	}
	return *order, true
}

// GetOrderByExchangeID resolves an exchange-assigned id to the local order.
func (m *Manager) GetOrderByExchangeID(exchangeID string) (types.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byExchangeID[exchangeID]
	if !ok {
		return types.Order{}, false
	}
	order, ok := m.orders[id]
	if !ok {
		return types.Order{}, false
	}
	return *order, true
}

// ActiveOrders returns copies of every non-terminal order.
func (m *Manager) ActiveOrders() []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Order, 0, len(m.active))
	for id := range m.active {
		out = append(out, *m.orders[id])
	}
	return out
}

// OrdersForSymbol returns copies of every order for the symbol.
func (m *Manager) OrdersForSymbol(symbol types.Symbol) []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.bySymbol[symbol.String()]
	out := make([]types.Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := m.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out
}

// ActiveOrdersForSymbol returns copies of non-terminal orders for the symbol.
func (m *Manager) ActiveOrdersForSymbol(symbol types.Symbol) []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.bySymbol[symbol.String()]
	out := make([]types.Order, 0, len(ids))
	for _, id := range ids {
		if _, isActive := m.active[id]; !isActive {
			continue
		}
		if o, ok := m.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out
}

// OrdersForStrategy returns copies of every order tagged with the strategy.
func (m *Manager) OrdersForStrategy(strategyID string) []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byStrategy[strategyID]
	out := make([]types.Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := m.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out
}

// OrdersByStatus returns copies of every order currently in the status.
func (m *Manager) OrdersByStatus(status types.OrderStatus) []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Order
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, *o)
		}
	}
	return out
}

// FillsForOrder returns the recorded fills for one order.
func (m *Manager) FillsForOrder(id string) []types.OrderFill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fills := m.fillsByID[id]
	out := make([]types.OrderFill, len(fills))
	copy(out, fills)
	return out
}

// Events returns a copy of the bounded event log.
func (m *Manager) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.eventLog))
	copy(out, m.eventLog)
	return out
}

// TotalOrders returns the number of orders in the primary map.
func (m *Manager) TotalOrders() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

// ActiveOrderCount returns the number of non-terminal orders.
func (m *Manager) ActiveOrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CleanupOldOrders drops terminal orders whose last update is before cutoff
// from every index. Active orders are never dropped.
func (m *Manager) CleanupOldOrders(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, order := range m.orders {
		if !order.Status.IsTerminal() || !order.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(m.orders, id)
		delete(m.fillsByID, id)
		if order.ExchangeOrderID != "" {
			delete(m.byExchangeID, order.ExchangeOrderID)
		}
		sym := order.Symbol().String()
		m.bySymbol[sym] = removeID(m.bySymbol[sym], id)
		if len(m.bySymbol[sym]) == 0 {
			delete(m.bySymbol, sym)
		}
		if sid := order.StrategyID(); sid != "" {
			m.byStrategy[sid] = removeID(m.byStrategy[sid], id)
			if len(m.byStrategy[sid]) == 0 {
				delete(m.byStrategy, sid)
			}
		}
		removed++
	}
	return removed
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func (m *Manager) appendEvent(ev Event) {
	m.eventLog = append(m.eventLog, ev)
	if len(m.eventLog) > m.historySize {
		m.eventLog = m.eventLog[len(m.eventLog)-m.historySize:]
	}
	m.bus.Publish(ev)
}
