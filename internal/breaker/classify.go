package breaker

import (
	"errors"

	"tradecore/pkg/coreerr"
)

// ClassifyError maps an exchange error onto a breaker failure category.
// The second return is false for nil, non-exchange, and non-retryable
// errors — none of which may influence the breaker.
func ClassifyError(err error) (Category, bool) {
	var exErr *coreerr.ExchangeError
	if !errors.As(err, &exErr) {
		return "", false
	}
	switch exErr.Kind {
	case coreerr.ExchangeConnectionFailed, coreerr.ExchangeWebSocket:
		return CategoryNetwork, true
	case coreerr.ExchangeRateLimited:
		return CategoryRateLimit, true
	case coreerr.ExchangeTimeout:
		return CategoryTimeout, true
	case coreerr.ExchangeServiceUnavailable:
		return CategoryService, true
	default:
		return "", false
	}
}
