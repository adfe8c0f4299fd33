package strategyrt

import (
	"sync"

	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// Context is the shared, read-only (from the strategies' side) gating
// handle. One Context serves every strategy in a run; the route states and
// global scores it exposes are written by an external feed.
type Context struct {
	mu             sync.RWMutex
	routes         map[string]types.RouteState
	scores         map[string]types.GlobalScore
	minGlobalScore decimal.Decimal
}

// NewContext creates a Context. minGlobalScore is the entry floor applied
// by CanEnter (0 disables the score check).
func NewContext(minGlobalScore decimal.Decimal) *Context {
	return &Context{
		routes:         make(map[string]types.RouteState),
		scores:         make(map[string]types.GlobalScore),
		minGlobalScore: minGlobalScore,
	}
}

// RouteState returns the gating label for a ticker.
func (c *Context) RouteState(ticker string) (types.RouteState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rs, ok := c.routes[ticker]
	return rs, ok
}

// GlobalScore returns the 0-100 rating for a ticker.
func (c *Context) GlobalScore(ticker string) (types.GlobalScore, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	gs, ok := c.scores[ticker]
	return gs, ok
}

// CanEnter gates Buy entries: denied on Overheat, Wait and Neutral routes
// and on a global score below the configured floor; allowed on Armed and
// Attack. A ticker with no route state or score is not blocked.
func (c *Context) CanEnter(ticker string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if rs, ok := c.routes[ticker]; ok {
		switch rs {
		case types.RouteOverheat, types.RouteWait, types.RouteNeutral:
			return false
		}
	}
	if gs, ok := c.scores[ticker]; ok {
		if gs.Overall.LessThan(c.minGlobalScore) {
			return false
		}
	}
	return true
}

// SetRouteState updates a ticker's gating label (feed side).
func (c *Context) SetRouteState(ticker string, rs types.RouteState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[ticker] = rs
}

// SetGlobalScore updates a ticker's rating (feed side).
func (c *Context) SetGlobalScore(gs types.GlobalScore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scores[gs.Ticker] = gs
}
