// Package coreerr implements the error taxonomy from spec.md §7.
//
// The core never panics in normal paths. Programmer-error invariants
// (duplicate order id, terminal-state mutation, overfill) are hard errors,
// not panics, carrying the offending id so the caller can log it. Errors
// that tradecore packages build themselves are a *Error wrapping one of
// the Class values below, so callers can branch on class with errors.As
// without string matching. The exceptions are exchange call failures
// (*ExchangeError, exchange.go) and decimal.ErrDivisionByZero.
package coreerr

import (
	"errors"
	"fmt"
)

// Class is the error taxonomy from spec.md §7.
type Class string

const (
	// ClassConfig: invalid configuration; fatal at startup.
	ClassConfig Class = "CONFIG"
	// ClassData: malformed input (unsorted klines, missing fields); fatal
	// for the current run.
	ClassData Class = "DATA"
	// ClassStrategy: strategy threw; the signal batch is dropped, the run
	// continues (configurable).
	ClassStrategy Class = "STRATEGY"
	// ClassExecution: internal state violation (missing order, terminal
	// transition); fatal for the order but not the run.
	ClassExecution Class = "EXECUTION"
	// ClassInsufficientFunds: soft; the signal is skipped with a note.
	ClassInsufficientFunds Class = "INSUFFICIENT_FUNDS"
	// ClassRiskRejection: soft; the signal is skipped; a suggested
	// modified order may be propagated alongside it.
	ClassRiskRejection Class = "RISK_REJECTION"
	// ClassExchange: retryable, categorized errors that pass through the
	// Circuit Breaker.
	ClassExchange Class = "EXCHANGE"
	// ClassCircuitOpen: returned by is_allowed() == false; callers treat
	// this as a fast-fail and do not retry within the open window.
	ClassCircuitOpen Class = "CIRCUIT_OPEN"
)

// Error is the concrete error type returned across tradecore package
// boundaries.
type Error struct {
	Class   Class
	Message string
	// ID is the offending identifier (order id, symbol, etc.) when the
	// error is a programmer-error invariant violation — spec.md §7 requires
	// these be "logged with the offending id".
	ID  string
	Err error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %s [id=%s]", e.Class, e.Message, e.ID)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classed error with no offending id.
func New(class Class, message string) error {
	return &Error{Class: class, Message: message}
}

// Newf builds a classed error with a formatted message.
func Newf(class Class, format string, args ...any) error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...)}
}

// WithID builds a classed error carrying the offending identifier, for the
// programmer-error invariants spec.md §7 calls out explicitly (duplicate
// order id, terminal-state mutation, overfill).
func WithID(class Class, id, message string) error {
	return &Error{Class: class, Message: message, ID: id}
}

// Wrap builds a classed error wrapping an underlying cause.
func Wrap(class Class, id string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Message: err.Error(), ID: id, Err: err}
}

// Is reports whether err is a *Error of the given class.
func Is(err error, class Class) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// ErrOrderNotFound, ErrOrderFinalized, ErrOverfill, ErrPositionFlip and
// ErrDuplicateOrderID are the named sentinel invariant violations referenced
// by spec.md §4.C/§4.D/§6 S6 ("Any further update_status fails with
// OrderFinalized").
//
// The Order Manager and Position Tracker do not return these values: they
// build their own ClassExecution errors with WithID, so errors.Is against a
// sentinel does not match them; Is(err, ClassExecution) does.
var (
	ErrOrderNotFound    = New(ClassExecution, "order not found")
	ErrOrderFinalized   = New(ClassExecution, "order already in a terminal state")
	ErrOverfill         = New(ClassExecution, "fill exceeds order quantity")
	ErrPositionFlip     = New(ClassExecution, "fill would flip position direction without a closed intermediate state")
	ErrDuplicateOrderID = New(ClassExecution, "duplicate order id")
)
