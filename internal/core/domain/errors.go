package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidTransition is returned when an event cannot be applied to the
	// current phase of a trade.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrInvalidState is returned when a local operation is attempted in a
	// phase that does not allow it. It is always raised before any backend
	// call.
	ErrInvalidState = errors.New("operation not allowed in the current trade phase")
	// ErrStaleReference marks events referring to a trade that is no longer
	// the active one of the channel.
	ErrStaleReference = errors.New("event refers to a trade that is not active")
	// ErrNoActiveTransaction is returned when the backend reports no active
	// transaction for the user. The in-progress operation must be aborted and
	// the local state cleared.
	ErrNoActiveTransaction = errors.New("no active transaction found, nothing to do")
	// ErrBackendTimeout means that the state of the backend is unknown after
	// both the primary and the fallback queries failed.
	ErrBackendTimeout = errors.New("backend did not answer in time, trade state is unknown")
	// ErrMissingTradeData is returned when an operation needs trade data that
	// has not been exchanged yet.
	ErrMissingTradeData = errors.New("trade data is missing")
	// ErrNotParticipant is returned when the local party holds the wrong role
	// for the requested operation.
	ErrNotParticipant = errors.New("local party does not hold the required role for this trade")
)

// InsufficientFundsError is returned verbatim by the backend when the buyer
// cannot cover the offer. It is recoverable by funding and retrying.
type InsufficientFundsError struct {
	Shortfall decimal.Decimal
	Currency  string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf(
		"insufficient funds: missing %s %s", e.Shortfall.String(), e.Currency,
	)
}

// ParseError wraps failures decoding a Signal Message payload.
type ParseError struct {
	Kind string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s payload: %s", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func newInvalidTransition(p Phase, ev EventType) error {
	return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, p)
}
