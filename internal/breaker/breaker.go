// Package breaker protects exchange calls with a per-service circuit
// breaker: failures are tracked per error category, the Closed/Open/HalfOpen
// state machine trips when a category crosses its threshold, and an Open
// circuit fast-fails every request until the reset timeout admits a probe.
//
// Counters that only feed metrics are lock-free atomics; the state machine
// itself sits behind a single RWMutex.
package breaker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tradecore/pkg/coreerr"
)

// State is the circuit state.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// Category classifies retryable exchange errors. Non-retryable errors
// (insufficient balance, invalid quantity) never reach the breaker.
type Category string

const (
	CategoryNetwork   Category = "NETWORK"
	CategoryRateLimit Category = "RATE_LIMIT"
	CategoryTimeout   Category = "TIMEOUT"
	CategoryService   Category = "SERVICE"
)

// Categories lists every category in a stable order.
func Categories() [4]Category {
	return [4]Category{CategoryNetwork, CategoryRateLimit, CategoryTimeout, CategoryService}
}

// CategoryThresholds holds per-category failure thresholds. RateLimit
// defaults higher: rate limiting is often transient and self-clearing.
type CategoryThresholds struct {
	Network   uint32
	RateLimit uint32
	Timeout   uint32
	Service   uint32
}

// DefaultCategoryThresholds mirrors the standard per-category defaults.
func DefaultCategoryThresholds() CategoryThresholds {
	return CategoryThresholds{Network: 5, RateLimit: 10, Timeout: 5, Service: 5}
}

// ConservativeThresholds trips early.
func ConservativeThresholds() CategoryThresholds {
	return CategoryThresholds{Network: 3, RateLimit: 5, Timeout: 3, Service: 3}
}

// AggressiveThresholds tolerates more failures before tripping.
func AggressiveThresholds() CategoryThresholds {
	return CategoryThresholds{Network: 10, RateLimit: 20, Timeout: 10, Service: 10}
}

func (t CategoryThresholds) get(c Category) uint32 {
	switch c {
	case CategoryNetwork:
		return t.Network
	case CategoryRateLimit:
		return t.RateLimit
	case CategoryTimeout:
		return t.Timeout
	default:
		return t.Service
	}
}

// Config parameterizes one breaker instance.
type Config struct {
	// FailureThreshold is the total-failure trip point used when no
	// category thresholds are configured.
	FailureThreshold uint32
	// ResetTimeout is how long an Open circuit waits before admitting a
	// HalfOpen probe.
	ResetTimeout time.Duration
	// SuccessThreshold is the consecutive successes needed to close from
	// HalfOpen.
	SuccessThreshold uint32
	// CategoryThresholds, when non-nil, takes precedence over
	// FailureThreshold for categorized failures.
	CategoryThresholds *CategoryThresholds
}

// DefaultConfig matches the standard breaker tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		SuccessThreshold: 2,
	}
}

func (c Config) thresholdFor(cat Category) uint32 {
	if c.CategoryThresholds != nil {
		return c.CategoryThresholds.get(cat)
	}
	return c.FailureThreshold
}

// Metrics is a point-in-time snapshot of one breaker.
type Metrics struct {
	Name             string
	State            State
	FailureCount     uint32
	SuccessCount     uint32
	CategoryFailures map[Category]uint32
	TotalSuccesses   uint64
	TotalFailures    uint64
	TimesOpened      uint64
	TimeInState      time.Duration
	TrippedBy        Category
	LastStateChange  time.Time
}

// Breaker is one per-service circuit breaker instance.
type Breaker struct {
	name   string
	config Config
	logger *slog.Logger

	// now is injectable so tests can drive the reset-timeout window
	// without sleeping.
	now func() time.Time

	mu               sync.RWMutex
	state            State
	failureCount     uint32
	successCount     uint32
	categoryFailures map[Category]uint32
	trippedBy        Category
	lastStateChange  time.Time

	totalSuccesses atomic.Uint64
	totalFailures  atomic.Uint64
	timesOpened    atomic.Uint64

	stateGauge prometheus.Gauge
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithRegistry registers the breaker's state gauge on the given registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(b *Breaker) {
		b.stateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "tradecore_circuit_breaker_state",
			Help:        "Circuit breaker state (0=closed, 1=half-open, 2=open).",
			ConstLabels: prometheus.Labels{"service": b.name},
		})
		reg.MustRegister(b.stateGauge)
	}
}

// New creates a breaker for the named service.
func New(name string, config Config, logger *slog.Logger, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		config:           config,
		logger:           logger.With("component", "breaker", "service", name),
		now:              time.Now,
		state:            Closed,
		categoryFailures: make(map[Category]uint32),
	}
	b.lastStateChange = b.now()
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the service name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, applying the Open -> HalfOpen timeout
// transition if due.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

// IsAllowed reports whether a request may proceed. Open denies everything
// until ResetTimeout has elapsed since the last state change, at which
// point the circuit moves to HalfOpen and admits probes.
func (b *Breaker) IsAllowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state != Open
}

// maybeHalfOpenLocked performs the timeout-driven Open -> HalfOpen
// transition. Caller holds b.mu.
func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == Open && b.now().Sub(b.lastStateChange) >= b.config.ResetTimeout {
		b.transitionLocked(HalfOpen)
		b.logger.Info("reset timeout elapsed, probing", "state", b.state)
	}
}

// RecordSuccess records a successful call. In HalfOpen, SuccessThreshold
// consecutive successes close the circuit; in Closed, all failure counters
// reset.
func (b *Breaker) RecordSuccess() {
	b.totalSuccesses.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.transitionLocked(Closed)
			b.logger.Info("recovered", "state", b.state)
		}
	case Closed:
		b.failureCount = 0
		clear(b.categoryFailures)
	}
}

// RecordFailure records an uncategorized failure, judged against the base
// FailureThreshold.
func (b *Breaker) RecordFailure() {
	b.recordFailure(nil)
}

// RecordFailureWithCategory records a categorized failure, judged against
// that category's threshold.
func (b *Breaker) RecordFailureWithCategory(cat Category) {
	b.recordFailure(&cat)
}

func (b *Breaker) recordFailure(cat *Category) {
	b.totalFailures.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount++

		tripped := false
		if cat != nil {
			b.categoryFailures[*cat]++
			if b.categoryFailures[*cat] >= b.config.thresholdFor(*cat) {
				b.trippedBy = *cat
				tripped = true
			}
		} else if b.failureCount >= b.config.FailureThreshold {
			tripped = true
		}

		if tripped {
			b.transitionLocked(Open)
			b.timesOpened.Add(1)
			b.logger.Warn("tripped",
				"failure_count", b.failureCount,
				"tripped_by", b.trippedBy,
			)
		}
	case HalfOpen:
		// Probe failed: straight back to Open.
		if cat != nil {
			b.trippedBy = *cat
		}
		b.transitionLocked(Open)
		b.timesOpened.Add(1)
		b.logger.Warn("probe failed, reopening", "tripped_by", b.trippedBy)
	case Open:
	}
}

// RecordResult classifies err (via ClassifyError) and records it. A nil err
// is a success; a non-retryable error leaves the breaker untouched.
func (b *Breaker) RecordResult(err error) {
	if err == nil {
		b.RecordSuccess()
		return
	}
	if cat, retryable := ClassifyError(err); retryable {
		b.RecordFailureWithCategory(cat)
	}
}

// Reset manually closes the circuit and clears every counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(Closed)
	b.logger.Info("manually reset")
}

func (b *Breaker) transitionLocked(next State) {
	b.state = next
	b.lastStateChange = b.now()
	switch next {
	case Closed:
		b.failureCount = 0
		b.successCount = 0
		clear(b.categoryFailures)
		b.trippedBy = ""
		b.setGauge(0)
	case HalfOpen:
		b.successCount = 0
		b.setGauge(1)
	case Open:
		b.setGauge(2)
	}
}

func (b *Breaker) setGauge(v float64) {
	if b.stateGauge != nil {
		b.stateGauge.Set(v)
	}
}

// Metrics returns a snapshot for dashboards and logs.
func (b *Breaker) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cats := make(map[Category]uint32, len(b.categoryFailures))
	for c, n := range b.categoryFailures {
		cats[c] = n
	}
	return Metrics{
		Name:             b.name,
		State:            b.state,
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		CategoryFailures: cats,
		TotalSuccesses:   b.totalSuccesses.Load(),
		TotalFailures:    b.totalFailures.Load(),
		TimesOpened:      b.timesOpened.Load(),
		TimeInState:      b.now().Sub(b.lastStateChange),
		TrippedBy:        b.trippedBy,
		LastStateChange:  b.lastStateChange,
	}
}

// ErrCircuitOpen is returned by Call when the circuit denies the request.
var ErrCircuitOpen = coreerr.New(coreerr.ClassCircuitOpen, "circuit breaker open")

// Call runs fn through the breaker: fast-fails with ErrCircuitOpen when the
// circuit denies the request, otherwise records the classified result.
func (b *Breaker) Call(fn func() error) error {
	if !b.IsAllowed() {
		return ErrCircuitOpen
	}
	err := fn()
	b.RecordResult(err)
	return err
}
