package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"tradecore/internal/breaker"
	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// ClientConfig parameterizes the REST connector.
type ClientConfig struct {
	Name    string
	BaseURL string
	Timeout time.Duration
	// DryRun makes mutating calls return fake success without HTTP.
	DryRun bool
}

// RestConnector is the reference Connector implementation: resty with
// retry-on-5xx, per-category token buckets, HMAC auth, and a circuit
// breaker around every call.
type RestConnector struct {
	cfg    ClientConfig
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	cb     *breaker.Breaker
	logger *slog.Logger
}

// NewRestConnector assembles the connector. cb may be shared with other
// components watching the same venue.
func NewRestConnector(cfg ClientConfig, auth *Auth, cb *breaker.Breaker, logger *slog.Logger) *RestConnector {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &RestConnector{
		cfg:    cfg,
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		cb:     cb,
		logger: logger.With("component", "exchange", "venue", cfg.Name),
	}
}

// Name identifies the venue.
func (c *RestConnector) Name() string { return c.cfg.Name }

// orderPayload is the wire form of an order submission.
type orderPayload struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SubmitOrder places an order, routed through the circuit breaker.
func (c *RestConnector) SubmitOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if c.cfg.DryRun {
		c.logger.Info("DRY-RUN: would submit order",
			"symbol", req.Symbol.String(),
			"side", req.Side,
			"qty", req.Quantity,
		)
		return fmt.Sprintf("dry-run-%d", time.Now().UnixNano()), nil
	}
	if !c.cb.IsAllowed() {
		return "", breaker.ErrCircuitOpen
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", err
	}

	payload := orderPayload{
		Symbol:      req.Symbol.String(),
		Side:        string(req.Side),
		Type:        string(req.Type),
		Quantity:    req.Quantity.String(),
		TimeInForce: string(req.TIF),
	}
	if req.Price != nil {
		payload.Price = req.Price.String()
	}
	if req.StopPrice != nil {
		payload.StopPrice = req.StopPrice.String()
	}
	payload.ClientOrderID = req.ClientOrderID

	body, err := json.Marshal(payload)
	if err != nil {
		return "", coreerr.Wrap(coreerr.ClassExchange, "", err)
	}
	headers, err := c.auth.Headers(http.MethodPost, "/orders", string(body), time.Now())
	if err != nil {
		return "", coreerr.Wrap(coreerr.ClassExchange, "", err)
	}

	var result orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		ForceContentType("application/json").
		Post("/orders")

	exErr := classifyHTTP(err, resp)
	c.cb.RecordResult(exErr)
	if exErr != nil {
		return "", exErr
	}
	return result.OrderID, nil
}

// CancelOrder cancels by exchange order id, routed through the breaker.
func (c *RestConnector) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	if c.cfg.DryRun {
		c.logger.Info("DRY-RUN: would cancel order", "exchange_order_id", exchangeOrderID)
		return nil
	}
	if !c.cb.IsAllowed() {
		return breaker.ErrCircuitOpen
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body := fmt.Sprintf(`{"order_id":%q}`, exchangeOrderID)
	headers, err := c.auth.Headers(http.MethodDelete, "/orders", body, time.Now())
	if err != nil {
		return coreerr.Wrap(coreerr.ClassExchange, exchangeOrderID, err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		Delete("/orders")

	exErr := classifyHTTP(err, resp)
	c.cb.RecordResult(exErr)
	if exErr != nil {
		return exErr
	}
	return nil
}

// klineRow is the wire form of one bar.
type klineRow struct {
	OpenTime  time.Time       `json:"open_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	CloseTime time.Time       `json:"close_time"`
}

// FetchKlines reads recent bars, routed through the breaker.
func (c *RestConnector) FetchKlines(ctx context.Context, symbol types.Symbol, timeframe string, limit int) ([]types.Kline, error) {
	if !c.cb.IsAllowed() {
		return nil, breaker.ErrCircuitOpen
	}
	if err := c.rl.MarketData.Wait(ctx); err != nil {
		return nil, err
	}

	var rows []klineRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":    symbol.String(),
			"timeframe": timeframe,
			"limit":     fmt.Sprintf("%d", limit),
		}).
		SetResult(&rows).
		ForceContentType("application/json").
		Get("/klines")

	exErr := classifyHTTP(err, resp)
	c.cb.RecordResult(exErr)
	if exErr != nil {
		return nil, exErr
	}

	klines := make([]types.Kline, 0, len(rows))
	for _, row := range rows {
		klines = append(klines, types.Kline{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  row.OpenTime,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
			CloseTime: row.CloseTime,
		})
	}
	return klines, nil
}

// classifyHTTP folds a transport error or HTTP status into the exchange
// error taxonomy. nil means success.
func classifyHTTP(err error, resp *resty.Response) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return coreerr.WrapExchangeError(coreerr.ExchangeTimeout, err)
		}
		return coreerr.WrapExchangeError(coreerr.ExchangeConnectionFailed, err)
	}
	if resp == nil {
		return nil
	}
	switch {
	case resp.StatusCode() < 400:
		return nil
	case resp.StatusCode() == http.StatusTooManyRequests:
		return coreerr.NewExchangeError(coreerr.ExchangeRateLimited, resp.String())
	case resp.StatusCode() >= 500:
		return coreerr.NewExchangeError(coreerr.ExchangeServiceUnavailable,
			fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.String()))
	default:
		// 4xx: the venue rejected the request itself — non-retryable.
		return classifyRejection(resp)
	}
}

// classifyRejection maps a 4xx body onto the non-retryable kinds.
func classifyRejection(resp *resty.Response) error {
	body := resp.String()
	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(resp.Body(), &parsed)

	switch parsed.Code {
	case "INSUFFICIENT_BALANCE":
		return coreerr.NewExchangeError(coreerr.ExchangeInsufficientBalance, parsed.Message)
	case "INVALID_QUANTITY":
		return coreerr.NewExchangeError(coreerr.ExchangeInvalidQuantity, parsed.Message)
	case "ORDER_NOT_FOUND":
		return coreerr.NewExchangeError(coreerr.ExchangeOrderNotFound, parsed.Message)
	default:
		return coreerr.NewExchangeError(coreerr.ExchangeInvalidOrder,
			fmt.Sprintf("status %d: %s", resp.StatusCode(), body))
	}
}
