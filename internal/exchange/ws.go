// ws.go implements the reconnecting WebSocket user feed: fills and order
// lifecycle events stream in from the venue and are delivered to the
// executor through buffered channels. The connection auto-reconnects with
// exponential backoff (1s -> 30s max) and re-subscribes to all tracked
// symbols; a read deadline detects silent server failures within ~2
// missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	updateBufferSize = 256
)

// FillFeed maintains the authenticated user-stream connection.
type FillFeed struct {
	url    string
	auth   *Auth
	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool // symbol strings, re-subscribed on reconnect

	updates chan OrderUpdate
	logger  *slog.Logger
}

// NewFillFeed creates a feed for the given user-stream URL.
func NewFillFeed(wsURL string, auth *Auth, logger *slog.Logger) *FillFeed {
	return &FillFeed{
		url:        wsURL,
		auth:       auth,
		subscribed: make(map[string]bool),
		updates:    make(chan OrderUpdate, updateBufferSize),
		logger:     logger.With("component", "ws_fills"),
	}
}

// Updates returns the read-only channel of order updates.
func (f *FillFeed) Updates() <-chan OrderUpdate { return f.updates }

// Subscribe tracks a symbol; takes effect immediately when connected and
// re-applies after every reconnect.
func (f *FillFeed) Subscribe(symbol types.Symbol) error {
	key := symbol.String()
	f.subscribedMu.Lock()
	f.subscribed[key] = true
	f.subscribedMu.Unlock()

	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return nil
	}
	return f.writeSubscribe([]string{key})
}

// Run connects and maintains the connection with auto-reconnect; blocks
// until ctx is cancelled.
func (f *FillFeed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *FillFeed) connectAndRead(ctx context.Context) error {
	headers, err := f.auth.Headers("GET", "/ws/user", "", time.Now())
	if err != nil {
		return fmt.Errorf("auth headers: %w", err)
	}
	httpHeaders := make(map[string][]string, len(headers))
	for k, v := range headers {
		httpHeaders[k] = []string{v}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, httpHeaders)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		f.conn = nil
		f.connMu.Unlock()
		conn.Close()
	}()

	f.logger.Info("websocket connected")
	if err := f.resubscribe(); err != nil {
		return err
	}

	go f.pingLoop(ctx, conn)

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.handleMessage(message)
	}
}

func (f *FillFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != conn {
				f.connMu.Unlock()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			f.connMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (f *FillFeed) resubscribe() error {
	f.subscribedMu.RLock()
	symbols := make([]string, 0, len(f.subscribed))
	for s := range f.subscribed {
		symbols = append(symbols, s)
	}
	f.subscribedMu.RUnlock()
	if len(symbols) == 0 {
		return nil
	}

	f.connMu.Lock()
	defer f.connMu.Unlock()
	return f.writeSubscribe(symbols)
}

// writeSubscribe sends one subscription frame. Caller holds connMu.
func (f *FillFeed) writeSubscribe(symbols []string) error {
	if f.conn == nil {
		return nil
	}
	payload := map[string]any{"op": "subscribe", "channel": "user", "symbols": symbols}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(payload)
}

// wsOrderEvent is the wire form of a user-stream message.
type wsOrderEvent struct {
	Type       string    `json:"type"` // "fill" or "order"
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	Quantity   string    `json:"quantity"`
	Price      string    `json:"price"`
	Commission string    `json:"commission"`
	Timestamp  time.Time `json:"timestamp"`
}

func (f *FillFeed) handleMessage(message []byte) {
	var event wsOrderEvent
	if err := json.Unmarshal(message, &event); err != nil {
		f.logger.Warn("unparseable message", "error", err)
		return
	}

	update := OrderUpdate{
		ExchangeOrderID: event.OrderID,
		Status:          types.OrderStatus(event.Status),
	}
	if event.Type == "fill" {
		qty, err1 := decimal.NewFromString(event.Quantity)
		price, err2 := decimal.NewFromString(event.Price)
		if err1 != nil || err2 != nil {
			f.logger.Warn("unparseable fill", "order_id", event.OrderID)
			return
		}
		commission := decimal.Zero
		if event.Commission != "" {
			if c, err := decimal.NewFromString(event.Commission); err == nil {
				commission = c
			}
		}
		update.Fill = &types.OrderFill{
			Quantity:   qty,
			Price:      price,
			Commission: commission,
			Timestamp:  event.Timestamp,
		}
	}

	// Lossy by contract: a slow consumer drops updates rather than
	// blocking the read loop.
	select {
	case f.updates <- update:
	default:
		f.logger.Warn("update channel full, dropping", "order_id", event.OrderID)
	}
}
